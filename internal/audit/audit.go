package audit

import (
	"context"
	"strconv"
	"time"
)

// LinkKey is the metadata key carrying a one-time recovery or verification
// URL. Only delivery sinks may read it; [Event.Redacted] strips it.
const LinkKey = "link"

// Event is one security-relevant occurrence emitted by the engine.
type Event struct {
	Timestamp time.Time         `json:"timestamp"`
	Name      string            `json:"event"`
	TenantID  string            `json:"tenant_id,omitempty"`
	UserID    string            `json:"user_id,omitempty"`
	ActorID   string            `json:"actor_id,omitempty"`
	IP        string            `json:"ip,omitempty"`
	Success   bool              `json:"success"`
	Error     string            `json:"error,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Redacted returns a copy of e without the one-time link.
func (e Event) Redacted() Event {
	if _, ok := e.Metadata[LinkKey]; !ok {
		return e
	}
	md := make(map[string]string, len(e.Metadata))
	for k, v := range e.Metadata {
		if k == LinkKey {
			continue
		}
		md[k] = v
	}
	e.Metadata = md
	return e
}

// Payload flattens the event into the string map handed to notifiers.
func (e Event) Payload() map[string]string {
	out := make(map[string]string, len(e.Metadata)+6)
	for k, v := range e.Metadata {
		out[k] = v
	}
	out["timestamp"] = e.Timestamp.UTC().Format(time.RFC3339)
	out["success"] = strconv.FormatBool(e.Success)
	if e.TenantID != "" {
		out["tenant_id"] = e.TenantID
	}
	if e.UserID != "" {
		out["user_id"] = e.UserID
	}
	if e.ActorID != "" {
		out["actor_id"] = e.ActorID
	}
	if e.IP != "" {
		out["ip"] = e.IP
	}
	if e.Error != "" {
		out["error"] = e.Error
	}
	return out
}

// Sink receives emitted audit events.
type Sink interface {
	Emit(ctx context.Context, event Event)
}

// SinkFunc adapts a function to [Sink].
type SinkFunc func(ctx context.Context, event Event)

func (f SinkFunc) Emit(ctx context.Context, event Event) { f(ctx, event) }
