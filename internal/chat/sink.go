package chat

import (
	"context"
	"errors"

	"github.com/ashureev/wardline/internal/domain"
)

// Sink receives inbound messages that passed the department filter.
type Sink interface {
	Deliver(ctx context.Context, m *domain.Message) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, m *domain.Message) error

// Deliver calls f(ctx, m).
func (f SinkFunc) Deliver(ctx context.Context, m *domain.Message) error { return f(ctx, m) }

// Poster issues the outbound send-message call.
type Poster interface {
	PostMessage(ctx context.Context, m *domain.Message) error
}

// RepostSink hands every inbound message to the outbound send-message
// call instead of adding it to the visible list. This mirrors the
// reference console; received messages only show up after a refetch.
type RepostSink struct {
	Poster Poster
}

// Deliver implements Sink.
func (s RepostSink) Deliver(ctx context.Context, m *domain.Message) error {
	if s.Poster == nil {
		return errors.New("repost sink: no poster configured")
	}
	return s.Poster.PostMessage(ctx, m)
}

// Appender is the part of the message store StoreSink needs.
type Appender interface {
	Append(m *domain.Message) bool
}

// StoreSink appends inbound messages to the local message list.
type StoreSink struct {
	Store Appender
}

// Deliver implements Sink.
func (s StoreSink) Deliver(_ context.Context, m *domain.Message) error {
	if s.Store == nil {
		return errors.New("store sink: no store configured")
	}
	s.Store.Append(m)
	return nil
}
