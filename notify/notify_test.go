package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ses"

	"github.com/MrEthical07/stampauth"
)

const testLink = "https://app.example.com/reset?token=secret-token"

func resetPayload() map[string]string {
	return map[string]string{
		"email":           "user@x.com",
		"user_id":         "u1",
		stampauth.LinkKey: testLink,
	}
}

func TestLogSinkRedactsLink(t *testing.T) {
	var buf bytes.Buffer
	sink := NewLogSink(slog.New(slog.NewJSONHandler(&buf, nil)))

	sink.Emit(context.Background(), stampauth.EventPasswordResetRequested, resetPayload())

	out := buf.String()
	if strings.Contains(out, "secret-token") {
		t.Fatalf("link leaked into log: %s", out)
	}
	if !strings.Contains(out, `"event":"password_reset_requested"`) || !strings.Contains(out, `"user_id":"u1"`) {
		t.Fatalf("missing fields: %s", out)
	}
}

type fakeSES struct {
	inputs []*ses.SendEmailInput
	err    error
}

func (f *fakeSES) SendEmail(_ context.Context, in *ses.SendEmailInput, _ ...func(*ses.Options)) (*ses.SendEmailOutput, error) {
	f.inputs = append(f.inputs, in)
	return &ses.SendEmailOutput{}, f.err
}

func TestSESMailerSendsLink(t *testing.T) {
	client := &fakeSES{}
	m := NewSESMailer(client, "no-reply@example.com", nil, slog.New(slog.DiscardHandler))

	m.Emit(context.Background(), stampauth.EventPasswordResetRequested, resetPayload())

	if len(client.inputs) != 1 {
		t.Fatalf("expected one email, got %d", len(client.inputs))
	}
	in := client.inputs[0]
	if aws.ToString(in.Source) != "no-reply@example.com" || in.Destination.ToAddresses[0] != "user@x.com" {
		t.Fatalf("unexpected envelope %+v", in)
	}
	if !strings.Contains(aws.ToString(in.Message.Body.Text.Data), testLink) {
		t.Fatal("email body misses the link")
	}
}

func TestSESMailerIgnoresOtherEvents(t *testing.T) {
	client := &fakeSES{}
	m := NewSESMailer(client, "no-reply@example.com", nil, nil)

	m.Emit(context.Background(), stampauth.EventLoginSuccess, map[string]string{"user_id": "u1"})
	m.Emit(context.Background(), stampauth.EventPasswordResetRequested, map[string]string{"email": "user@x.com"})

	if len(client.inputs) != 0 {
		t.Fatalf("expected no email, got %d", len(client.inputs))
	}
}

func TestSESMailerLogsFailures(t *testing.T) {
	var buf bytes.Buffer
	client := &fakeSES{err: errors.New("throttled")}
	m := NewSESMailer(client, "no-reply@example.com", nil, slog.New(slog.NewTextHandler(&buf, nil)))

	m.Emit(context.Background(), stampauth.EventPasswordResetRequested, resetPayload())

	if !strings.Contains(buf.String(), "throttled") || strings.Contains(buf.String(), "secret-token") {
		t.Fatalf("unexpected log: %s", buf.String())
	}
}

type fakePublisher struct {
	subjects []string
	data     [][]byte
}

func (f *fakePublisher) Publish(subject string, data []byte) error {
	f.subjects = append(f.subjects, subject)
	f.data = append(f.data, data)
	return nil
}

func TestNATSPublisherPublishesRedactedJSON(t *testing.T) {
	pub := &fakePublisher{}
	p := NewNATSPublisher(pub, "", nil)

	p.Emit(context.Background(), stampauth.EventPasswordResetRequested, resetPayload())

	if len(pub.subjects) != 1 || pub.subjects[0] != "stampauth.events.password_reset_requested" {
		t.Fatalf("unexpected subjects %v", pub.subjects)
	}
	var msg natsMessage
	if err := json.Unmarshal(pub.data[0], &msg); err != nil {
		t.Fatal(err)
	}
	if msg.Event != stampauth.EventPasswordResetRequested || msg.Payload["user_id"] != "u1" {
		t.Fatalf("unexpected message %+v", msg)
	}
	if _, ok := msg.Payload[stampauth.LinkKey]; ok {
		t.Fatal("link must not be published")
	}
}

func TestOnlyFiltersEvents(t *testing.T) {
	var got []string
	n := Only(stampauth.NotifierFunc(func(_ context.Context, event string, _ map[string]string) {
		got = append(got, event)
	}), stampauth.EventLogout)

	n.Emit(context.Background(), stampauth.EventLoginSuccess, nil)
	n.Emit(context.Background(), stampauth.EventLogout, nil)

	if len(got) != 1 || got[0] != stampauth.EventLogout {
		t.Fatalf("unexpected events %v", got)
	}
}
