// Package internal holds helpers private to stampauth: security stamp
// generation here, and asynchronous event dispatch in audit.
package internal
