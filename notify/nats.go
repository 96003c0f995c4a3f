package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

// DefaultSubjectPrefix namespaces published events.
const DefaultSubjectPrefix = "stampauth.events."

// Publisher is the part of *nats.Conn the publisher uses.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// NATSPublisher publishes each event as JSON on prefix+event, without the
// one-time link.
type NATSPublisher struct {
	pub    Publisher
	prefix string
	logger *slog.Logger
}

type natsMessage struct {
	Event   string            `json:"event"`
	Payload map[string]string `json:"payload"`
}

// NewNATSPublisher returns a publisher on pub. An empty prefix selects
// DefaultSubjectPrefix.
func NewNATSPublisher(pub Publisher, prefix string, logger *slog.Logger) *NATSPublisher {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &NATSPublisher{pub: pub, prefix: prefix, logger: logger}
}

// ConnectNATS dials url with reconnects enabled.
func ConnectNATS(url string) (*nats.Conn, error) {
	nc, err := nats.Connect(url,
		nats.Name("stampauth"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(10),
		nats.ReconnectWait(time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return nc, nil
}

func (p *NATSPublisher) Emit(ctx context.Context, event string, payload map[string]string) {
	data, err := json.Marshal(natsMessage{Event: event, Payload: redact(payload)})
	if err == nil {
		err = p.pub.Publish(p.prefix+event, data)
	}
	if err != nil {
		p.logger.LogAttrs(ctx, slog.LevelError, "nats publish failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}
