package stream

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	audit "warden/pkg/platform/audit"
)

func ev(i int) audit.Event { return audit.Event{Action: fmt.Sprint(i)} }

func TestRingBufferFIFO(t *testing.T) {
	b := NewRingBuffer(4)
	for i := range 3 {
		b.Enqueue(ev(i))
	}
	got := b.DequeueBatch(2)
	assert.Equal(t, "0", got[0].Action)
	assert.Equal(t, "1", got[1].Action)
	assert.Equal(t, 1, b.Len())
}

func TestRingBufferDropsOldestWhenFull(t *testing.T) {
	b := NewRingBuffer(2)
	drops := 0
	b.OnDrop(func() { drops++ })

	b.Enqueue(ev(1))
	b.Enqueue(ev(2))
	b.Enqueue(ev(3))

	assert.Equal(t, int64(1), b.Dropped())
	assert.Equal(t, 1, drops)
	got := b.DequeueBatch(10)
	assert.Equal(t, []string{"2", "3"}, []string{got[0].Action, got[1].Action})
}

func TestRingBufferRequeueKeepsOrder(t *testing.T) {
	b := NewRingBuffer(5)
	for i := range 4 {
		b.Enqueue(ev(i))
	}
	batch := b.DequeueBatch(2)
	b.Requeue(batch)

	got := b.DequeueBatch(10)
	assert.Len(t, got, 4)
	for i, e := range got {
		assert.Equal(t, fmt.Sprint(i), e.Action)
	}
}

func TestRingBufferRequeueOverflowDrops(t *testing.T) {
	b := NewRingBuffer(2)
	b.Enqueue(ev(9))
	b.Enqueue(ev(10))
	b.Requeue([]audit.Event{ev(1), ev(2)})

	assert.Equal(t, int64(2), b.Dropped())
	assert.Equal(t, 2, b.Len())
}

func TestDequeueEmpty(t *testing.T) {
	assert.Nil(t, NewRingBuffer(1).DequeueBatch(5))
}
