package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/omni-assistant/backend/internal/ai"
	"github.com/omni-assistant/backend/internal/ingress"
	"github.com/omni-assistant/backend/internal/models"
)

func TestQueueProcessesEnqueuedMessages(t *testing.T) {
	store := newMemStore()
	store.addBusiness(testBusiness())
	sender := &recordingSender{}
	mock := &ai.MockClient{Steps: []ai.MockStep{
		{Response: ai.Response{Content: "hello"}},
	}}
	p := newTestPipeline(store, mock, sender)

	q := NewQueue(p, zerolog.Nop(), 16, 2, time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	q.Start(ctx)

	ok := q.Enqueue(ingress.InboundMessage{
		BusinessID:        "biz-1",
		Channel:           models.ChannelWhatsApp,
		SenderID:          "15551234567",
		Text:              "Hi",
		PlatformMessageID: "wamid.q1",
	})
	require.True(t, ok)

	deadline := time.After(2 * time.Second)
	for len(sender.messages()) == 0 {
		select {
		case <-deadline:
			t.Fatal("message was not processed in time")
		case <-time.After(10 * time.Millisecond):
		}
	}

	cancel()
	q.Close()
	require.Len(t, store.activeConversations("biz-1"), 1)
}

func TestQueueDrainsBacklogOnShutdown(t *testing.T) {
	store := newMemStore()
	store.addBusiness(testBusiness())
	sender := &recordingSender{}
	mock := &ai.MockClient{Steps: []ai.MockStep{
		{Response: ai.Response{Content: "hello"}},
	}}
	p := newTestPipeline(store, mock, sender)

	q := NewQueue(p, zerolog.Nop(), 16, 2, time.Second)
	for i := 0; i < 3; i++ {
		require.True(t, q.Enqueue(ingress.InboundMessage{
			BusinessID:        "biz-1",
			Channel:           models.ChannelWhatsApp,
			SenderID:          "15551234567",
			Text:              "Hi",
			PlatformMessageID: fmt.Sprintf("wamid.drain%d", i),
		}))
	}

	// Workers start on an already-cancelled context: everything buffered must
	// still be processed, because the webhooks were acked with 200.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	q.Start(ctx)
	q.Close()

	require.Len(t, sender.messages(), 3)
}

func TestQueueDropsWhenFull(t *testing.T) {
	store := newMemStore()
	p := newTestPipeline(store, &ai.MockClient{}, nil)

	// size 1, workers never started: the second enqueue finds the buffer full
	q := NewQueue(p, zerolog.Nop(), 1, 1, time.Second)
	require.True(t, q.Enqueue(ingress.InboundMessage{BusinessID: "biz-1"}))
	require.False(t, q.Enqueue(ingress.InboundMessage{BusinessID: "biz-1"}))
}
