package chat

import (
	"context"
	"testing"
	"time"

	"github.com/ashureev/wardline/internal/domain"
	"github.com/ashureev/wardline/internal/presenter"
	"github.com/stretchr/testify/require"
)

type posterFunc func(ctx context.Context, m *domain.Message) error

func (f posterFunc) PostMessage(ctx context.Context, m *domain.Message) error { return f(ctx, m) }

func TestRepostSinkPostsInbound(t *testing.T) {
	var posted []*domain.Message
	sink := RepostSink{Poster: posterFunc(func(_ context.Context, m *domain.Message) error {
		posted = append(posted, m)
		return nil
	})}

	m := &domain.Message{ID: "1", ReceiverDepartmentID: "icu"}
	require.NoError(t, sink.Deliver(context.Background(), m))
	require.Equal(t, []*domain.Message{m}, posted)

	require.Error(t, RepostSink{}.Deliver(context.Background(), m))
}

func TestStoreSinkAppends(t *testing.T) {
	store := presenter.NewStore(time.UTC)
	store.Reset("icu")

	sink := StoreSink{Store: store}
	require.NoError(t, sink.Deliver(context.Background(), &domain.Message{ID: "1", ReceiverDepartmentID: "icu"}))
	require.Len(t, store.Snapshot(), 1)

	require.Error(t, StoreSink{}.Deliver(context.Background(), &domain.Message{}))
}

func TestDeliveryQueueKeepsOrder(t *testing.T) {
	got := make(chan domain.ID, 10)
	q := newDeliveryQueue(SinkFunc(func(_ context.Context, m *domain.Message) error {
		got <- m.ID
		return nil
	}), testLogger())
	defer q.close()

	for _, id := range []domain.ID{"a", "b", "c"} {
		q.enqueue(&domain.Message{ID: id})
	}
	for _, want := range []domain.ID{"a", "b", "c"} {
		select {
		case id := <-got:
			require.Equal(t, want, id)
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for %s", want)
		}
	}
}
