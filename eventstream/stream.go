// Package eventstream appends Entitle billing events to a Redis stream,
// where a billing collaborator consumes them.
//
// Each entry carries the event type, the event id and the JSON payload.
// Event ids are stable across redelivery, so consumers deduplicate on
// them.
package eventstream

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/entitle/plugin"
)

// DefaultStream is the stream key used when none is configured.
const DefaultStream = "entitle:billing"

// Event types.
const (
	TypeOverageDue = "overage_due"
	TypeRenewalDue = "renewal_due"
)

// Compile-time interface checks.
var (
	_ plugin.Plugin       = (*Sink)(nil)
	_ plugin.OnOverageDue = (*Sink)(nil)
	_ plugin.OnRenewalDue = (*Sink)(nil)
)

// Sink is a plugin that appends billing events to a Redis stream.
type Sink struct {
	client goredis.UniversalClient
	stream string
	maxLen int64
	logger *slog.Logger
}

// Option configures a Sink.
type Option func(*Sink)

// WithStream sets the stream key.
func WithStream(stream string) Option {
	return func(s *Sink) { s.stream = stream }
}

// WithMaxLen caps the stream at roughly n entries. Zero keeps everything.
func WithMaxLen(n int64) Option {
	return func(s *Sink) { s.maxLen = n }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Sink) { s.logger = logger }
}

// New returns a Sink writing through client.
func New(client goredis.UniversalClient, opts ...Option) *Sink {
	s := &Sink{
		client: client,
		stream: DefaultStream,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Name implements plugin.Plugin.
func (s *Sink) Name() string { return "eventstream" }

// OnOverageDue implements plugin.OnOverageDue.
func (s *Sink) OnOverageDue(ctx context.Context, evt plugin.OverageDue) error {
	return s.append(ctx, TypeOverageDue, evt.ID.String(), evt)
}

// OnRenewalDue implements plugin.OnRenewalDue.
func (s *Sink) OnRenewalDue(ctx context.Context, evt plugin.RenewalDue) error {
	return s.append(ctx, TypeRenewalDue, evt.ID.String(), evt)
}

func (s *Sink) append(ctx context.Context, typ, eventID string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("eventstream: marshal %s: %w", typ, err)
	}

	args := &goredis.XAddArgs{
		Stream: s.stream,
		Values: map[string]any{
			"type":    typ,
			"id":      eventID,
			"payload": string(data),
		},
	}
	if s.maxLen > 0 {
		args.MaxLen = s.maxLen
		args.Approx = true
	}

	streamID, err := s.client.XAdd(ctx, args).Result()
	if err != nil {
		return fmt.Errorf("eventstream: append %s: %w", typ, err)
	}
	s.logger.Debug("billing event appended",
		"stream", s.stream,
		"stream_id", streamID,
		"type", typ,
		"event_id", eventID,
	)
	return nil
}

// ──────────────────────────────────────────────────
// Reading
// ──────────────────────────────────────────────────

// Message is one stream entry.
type Message struct {
	StreamID string
	Type     string
	EventID  string
	Payload  json.RawMessage
}

// Decode unmarshals the payload into v.
func (m Message) Decode(v any) error {
	if err := json.Unmarshal(m.Payload, v); err != nil {
		return fmt.Errorf("eventstream: decode %s %s: %w", m.Type, m.StreamID, err)
	}
	return nil
}

// Read returns up to count entries after the stream id after. Pass "" to
// read from the beginning. Consumers store the last StreamID they
// processed and pass it back.
func (s *Sink) Read(ctx context.Context, after string, count int64) ([]Message, error) {
	start, limit := "-", count
	if after != "" {
		start = after
		limit++
	}
	entries, err := s.client.XRangeN(ctx, s.stream, start, "+", limit).Result()
	if err != nil {
		return nil, fmt.Errorf("eventstream: read: %w", err)
	}

	out := make([]Message, 0, len(entries))
	for _, e := range entries {
		if e.ID == after || int64(len(out)) == count {
			continue
		}
		out = append(out, Message{
			StreamID: e.ID,
			Type:     str(e.Values["type"]),
			EventID:  str(e.Values["id"]),
			Payload:  json.RawMessage(str(e.Values["payload"])),
		})
	}
	return out, nil
}

func str(v any) string {
	s, _ := v.(string)
	return s
}
