// Package historian drains the command audit queue into durable storage.
package historian

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/jason-s-yu/sequence/internal/models"
)

// Queue yields audit records. Pop returns nil, nil when nothing arrived within timeout.
type Queue interface {
	Pop(ctx context.Context, timeout time.Duration) (*models.CommandRecord, error)
}

// Sink persists a batch of records atomically.
type Sink interface {
	InsertEvents(ctx context.Context, records []models.CommandRecord) error
}

// Options tune batching.
type Options struct {
	BatchSize  int
	FlushDelay time.Duration
	// PopTimeout bounds each blocking read so shutdown and timed flushes are noticed.
	PopTimeout time.Duration
}

// Service accumulates records from the queue and flushes them to the sink when the batch
// fills up or the flush delay passes.
type Service struct {
	queue Queue
	sink  Sink
	opts  Options
	log   logrus.FieldLogger

	batchMu sync.Mutex
	batch   []models.CommandRecord
}

// New builds a historian.
func New(queue Queue, sink Sink, opts Options, log logrus.FieldLogger) *Service {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 20
	}
	if opts.FlushDelay <= 0 {
		opts.FlushDelay = 500 * time.Millisecond
	}
	if opts.PopTimeout <= 0 {
		opts.PopTimeout = time.Second
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Service{
		queue: queue,
		sink:  sink,
		opts:  opts,
		log:   log,
		batch: make([]models.CommandRecord, 0, opts.BatchSize),
	}
}

// Run reads until ctx is done, then flushes whatever is left.
func (s *Service) Run(ctx context.Context) {
	ticker := time.NewTicker(s.opts.FlushDelay)
	defer ticker.Stop()

	s.log.Info("historian started")
	defer func() {
		// final flush must not be cut short by the cancelled ctx
		s.Flush(context.WithoutCancel(ctx))
		s.log.Info("historian stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Flush(ctx)
		default:
			rec, err := s.queue.Pop(ctx, s.opts.PopTimeout)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				s.log.WithError(err).Error("failed to pop audit record")
				continue
			}
			if rec == nil {
				continue
			}
			s.append(ctx, *rec)
		}
	}
}

// append adds a record and flushes once the batch is full.
func (s *Service) append(ctx context.Context, rec models.CommandRecord) {
	s.batchMu.Lock()
	s.batch = append(s.batch, rec)
	full := len(s.batch) >= s.opts.BatchSize
	s.batchMu.Unlock()
	if full {
		s.Flush(ctx)
	}
}

// Flush writes the pending batch. On failure the records are kept for the next flush.
func (s *Service) Flush(ctx context.Context) {
	s.batchMu.Lock()
	defer s.batchMu.Unlock()

	if len(s.batch) == 0 {
		return
	}
	pending := make([]models.CommandRecord, len(s.batch))
	copy(pending, s.batch)

	if err := s.sink.InsertEvents(ctx, pending); err != nil {
		s.log.WithError(err).WithField("records", len(pending)).Error("failed to flush audit records")
		return
	}
	s.batch = s.batch[:0]
	s.log.WithField("records", len(pending)).Debug("flushed audit records")
}

// Pending returns the number of records waiting to be flushed.
func (s *Service) Pending() int {
	s.batchMu.Lock()
	defer s.batchMu.Unlock()
	return len(s.batch)
}
