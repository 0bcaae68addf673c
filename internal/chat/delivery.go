package chat

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ashureev/wardline/internal/domain"
)

const (
	deliveryQueueSize  = 100
	slowDeliveryWarn   = 100 * time.Millisecond
	deliveryDrainLimit = 5 * time.Second
)

// deliveryQueue hands inbound messages to a Sink on its own goroutine, in
// arrival order, so a slow sink never stalls the socket reader. When the
// queue is full the oldest message is dropped.
type deliveryQueue struct {
	sink   Sink
	queue  chan *domain.Message
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	logger *slog.Logger
}

func newDeliveryQueue(sink Sink, logger *slog.Logger) *deliveryQueue {
	ctx, cancel := context.WithCancel(context.Background())
	q := &deliveryQueue{
		sink:   sink,
		queue:  make(chan *domain.Message, deliveryQueueSize),
		ctx:    ctx,
		cancel: cancel,
		logger: logger,
	}
	q.wg.Add(1)
	go q.run()
	return q
}

func (q *deliveryQueue) enqueue(m *domain.Message) {
	select {
	case q.queue <- m:
		return
	case <-q.ctx.Done():
		return
	default:
	}

	q.logger.Warn("Inbound delivery queue full, dropping oldest", "queue_len", len(q.queue))
	select {
	case <-q.queue:
	default:
	}
	select {
	case q.queue <- m:
	case <-q.ctx.Done():
	default:
		q.logger.Warn("Failed to queue inbound message", "message_id", m.ID.String())
	}
}

func (q *deliveryQueue) run() {
	defer q.wg.Done()
	for {
		select {
		case <-q.ctx.Done():
			return
		case m := <-q.queue:
			start := time.Now()
			if err := q.sink.Deliver(q.ctx, m); err != nil {
				q.logger.Warn("Inbound delivery failed",
					"message_id", m.ID.String(),
					"department_id", m.ReceiverDepartmentID.String(),
					"error", err,
				)
			}
			if d := time.Since(start); d > slowDeliveryWarn {
				q.logger.Warn("Slow inbound delivery", "duration_ms", d.Milliseconds())
			}
		}
	}
}

func (q *deliveryQueue) close() {
	q.cancel()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(deliveryDrainLimit):
		q.logger.Warn("Inbound delivery shutdown timeout")
	}

	if n := len(q.queue); n > 0 {
		q.logger.Warn("Discarded undelivered inbound messages", "count", n)
	}
}
