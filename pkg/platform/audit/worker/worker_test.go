package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	audit "warden/pkg/platform/audit"
	"warden/pkg/platform/audit/publishers/stream"
)

type fakeSink struct {
	mu       sync.Mutex
	failures int
	got      []audit.Event
}

func (f *fakeSink) Publish(_ context.Context, events []audit.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failures > 0 {
		f.failures--
		return errors.New("broker down")
	}
	f.got = append(f.got, events...)
	return nil
}

func (f *fakeSink) Close() error { return nil }

func (f *fakeSink) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.got)
}

func TestFlushDeliversInBatches(t *testing.T) {
	buf := stream.NewRingBuffer(100)
	for range 7 {
		buf.Enqueue(audit.Event{Action: "x"})
	}
	sink := &fakeSink{}
	m := NewMetrics(prometheus.NewRegistry())
	w := NewWorker(buf, sink, WithBatchSize(3), WithMetrics(m))

	w.Flush(context.Background())

	assert.Equal(t, 7, sink.count())
	assert.Equal(t, 0, buf.Len())
	assert.Equal(t, 7.0, testutil.ToFloat64(m.Published))
}

func TestFlushRequeuesOnFailure(t *testing.T) {
	buf := stream.NewRingBuffer(100)
	buf.Enqueue(audit.Event{Action: "a"})
	buf.Enqueue(audit.Event{Action: "b"})
	sink := &fakeSink{failures: 1}
	w := NewWorker(buf, sink)

	w.Flush(context.Background())
	assert.Equal(t, 2, buf.Len(), "failed batch goes back to the buffer")

	w.Flush(context.Background())
	require.Equal(t, 2, sink.count())
	assert.Equal(t, "a", sink.got[0].Action)
}

func TestRunDrainsOnCancel(t *testing.T) {
	buf := stream.NewRingBuffer(10)
	sink := &fakeSink{}
	w := NewWorker(buf, sink, WithPeriod(time.Hour))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	buf.Enqueue(audit.Event{Action: "late"})
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop")
	}
	assert.Equal(t, 1, sink.count())
}
