package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/omni-assistant/backend/internal/ingress"
)

// Queue decouples webhook acknowledgement from message processing. Handlers
// enqueue and return 200 immediately; a fixed worker pool drains the queue,
// each message under its own deadline.
type Queue struct {
	Pipeline *Pipeline
	Logger   zerolog.Logger

	Workers int
	Timeout time.Duration

	ch   chan ingress.InboundMessage
	wg   sync.WaitGroup
	once sync.Once
}

func NewQueue(p *Pipeline, logger zerolog.Logger, size, workers int, timeout time.Duration) *Queue {
	if size <= 0 {
		size = 256
	}
	if workers <= 0 {
		workers = 4
	}
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &Queue{
		Pipeline: p,
		Logger:   logger,
		Workers:  workers,
		Timeout:  timeout,
		ch:       make(chan ingress.InboundMessage, size),
	}
}

// Enqueue never blocks the webhook handler. A full queue drops the message
// with a warning; the platform will redeliver and dedup handles the replay.
func (q *Queue) Enqueue(msg ingress.InboundMessage) bool {
	select {
	case q.ch <- msg:
		return true
	default:
		q.Logger.Warn().
			Str("business_id", msg.BusinessID).
			Str("channel", string(msg.Channel)).
			Msg("queue full, inbound message dropped")
		return false
	}
}

// Start launches the worker pool. On cancellation each worker drains what is
// still buffered before exiting; Close waits for them.
func (q *Queue) Start(ctx context.Context) {
	q.once.Do(func() {
		for i := 0; i < q.Workers; i++ {
			q.wg.Add(1)
			go q.worker(ctx)
		}
	})
}

func (q *Queue) worker(ctx context.Context) {
	defer q.wg.Done()
	for {
		select {
		case <-ctx.Done():
			q.drain()
			return
		case msg := <-q.ch:
			q.handle(ctx, msg)
		}
	}
}

// drain processes messages buffered at shutdown. Their webhooks were already
// acked with 200, so the platform will not redeliver; each message gets a
// fresh deadline detached from the cancelled worker context.
func (q *Queue) drain() {
	for {
		select {
		case msg := <-q.ch:
			q.handle(context.Background(), msg)
		default:
			return
		}
	}
}

func (q *Queue) handle(ctx context.Context, msg ingress.InboundMessage) {
	msgCtx, cancel := context.WithTimeout(ctx, q.Timeout)
	defer cancel()

	err := q.Pipeline.Handle(msgCtx, msg)
	switch {
	case err == nil:
	case errors.Is(err, ErrDuplicate):
	default:
		q.Logger.Error().Err(err).
			Str("business_id", msg.BusinessID).
			Str("channel", string(msg.Channel)).
			Msg("pipeline processing failed")
	}
}

// Close waits for in-flight workers to finish. Call after cancelling the
// context passed to Start.
func (q *Queue) Close() {
	q.wg.Wait()
}
