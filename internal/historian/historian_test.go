// internal/historian/historian_test.go
package historian

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jason-s-yu/sequence/internal/models"
)

type chanQueue chan models.CommandRecord

func (q chanQueue) Pop(ctx context.Context, timeout time.Duration) (*models.CommandRecord, error) {
	select {
	case rec := <-q:
		return &rec, nil
	case <-time.After(timeout):
		return nil, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

type memSink struct {
	mu      sync.Mutex
	batches [][]models.CommandRecord
	fail    bool
}

func (s *memSink) InsertEvents(ctx context.Context, records []models.CommandRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return errors.New("db down")
	}
	s.batches = append(s.batches, append([]models.CommandRecord(nil), records...))
	return nil
}

func (s *memSink) total() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, b := range s.batches {
		n += len(b)
	}
	return n
}

func quiet() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func record(i int) models.CommandRecord {
	return models.CommandRecord{RoomID: "r1", UID: "host", RequestID: string(rune('a' + i)), Command: "start", Outcome: models.OutcomeApplied}
}

func TestFlushesFullBatch(t *testing.T) {
	q := make(chanQueue, 10)
	sink := &memSink{}
	h := New(q, sink, Options{BatchSize: 3, FlushDelay: time.Hour, PopTimeout: 10 * time.Millisecond}, quiet())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		h.Run(ctx)
		close(done)
	}()

	for i := 0; i < 3; i++ {
		q <- record(i)
	}
	require.Eventually(t, func() bool { return sink.total() == 3 }, 2*time.Second, 10*time.Millisecond)

	q <- record(3)
	require.Eventually(t, func() bool { return h.Pending() == 1 }, 2*time.Second, 10*time.Millisecond)

	cancel()
	<-done
	assert.Equal(t, 4, sink.total(), "shutdown flushes the remainder")
}

func TestFlushesOnTimer(t *testing.T) {
	q := make(chanQueue, 10)
	sink := &memSink{}
	h := New(q, sink, Options{BatchSize: 100, FlushDelay: 20 * time.Millisecond, PopTimeout: 5 * time.Millisecond}, quiet())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.Run(ctx)

	q <- record(0)
	require.Eventually(t, func() bool { return sink.total() == 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestFailedFlushKeepsRecords(t *testing.T) {
	sink := &memSink{fail: true}
	h := New(make(chanQueue), sink, Options{BatchSize: 10}, quiet())
	ctx := context.Background()

	h.append(ctx, record(0))
	h.Flush(ctx)
	assert.Equal(t, 1, h.Pending())

	sink.mu.Lock()
	sink.fail = false
	sink.mu.Unlock()
	h.Flush(ctx)
	assert.Equal(t, 0, h.Pending())
	assert.Equal(t, 1, sink.total())
}
