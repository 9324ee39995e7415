package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishSubscribe(t *testing.T) {
	h := NewHub(8)
	ch, cancel := h.Subscribe()
	defer cancel()

	h.Publish(TypeSpawned, map[string]any{"instance_id": "clock_1"})

	ev := <-ch
	assert.Equal(t, TypeSpawned, ev.Type)
	assert.Contains(t, string(ev.Data), "clock_1")
	assert.Equal(t, int64(1), ev.ID)
}

func TestSinceReturnsTail(t *testing.T) {
	h := NewHub(4)
	for i := 0; i < 6; i++ {
		h.Publish(TypeDispatched, nil)
	}

	// Ring holds the last 4 events: ids 3..6.
	all := h.Since(0)
	require.Len(t, all, 4)
	assert.Equal(t, int64(3), all[0].ID)
	assert.Equal(t, int64(6), all[3].ID)

	newer := h.Since(5)
	require.Len(t, newer, 1)
	assert.Equal(t, int64(6), newer[0].ID)
}

func TestSlowSubscriberDoesNotBlock(t *testing.T) {
	h := NewHub(8)
	_, cancel := h.Subscribe()
	defer cancel()

	// Overflow the subscriber buffer; Publish must not block.
	for i := 0; i < 200; i++ {
		h.Publish(TypeDispatched, nil)
	}
}

func TestCancelClosesChannel(t *testing.T) {
	h := NewHub(8)
	ch, cancel := h.Subscribe()
	cancel()

	_, open := <-ch
	assert.False(t, open)

	// Publishing after cancel must not panic.
	h.Publish(TypeTerminated, nil)
}
