// Package audit buffers engine events and fans them out to sinks on a
// background goroutine so that notification delivery never blocks a request.
//
// The package decides nothing about which events exist; the engine owns event
// names. Delivery (mail, message bus, logs) lives in caller-supplied sinks.
package audit
