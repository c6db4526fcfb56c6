// Package ingest validates raw metric samples and hands them to the window
// aggregator through a bounded queue drained by a worker pool. Validation is
// pure; a full queue applies backpressure to the caller instead of dropping.
package ingest

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/vibhukrishnas/sams-sub010/internal/models"
	"github.com/vibhukrishnas/sams-sub010/internal/pkg/metrics"
)

// Validation failures. Each rejected sample maps to exactly one of these.
var (
	ErrInvalidValue      = errors.New("metric value must be finite")
	ErrMissingMetricName = errors.New("metric name is required")
	ErrMissingServerID   = errors.New("server id is required")
	ErrMissingOrgID      = errors.New("org id is required")
	ErrMissingTimestamp  = errors.New("timestamp is required")
	ErrStaleSample       = errors.New("sample is older than every open window")
)

// Sink consumes validated samples; wired to the aggregator.
type Sink func(sample *models.MetricSample)

// Ingestor is the validation front door of the pipeline.
type Ingestor struct {
	sink     Sink
	queue    chan *models.MetricSample
	workers  int
	maxAge   time.Duration // largest window plus grace; older samples cannot land anywhere

	processed atomic.Uint64
	rejected  atomic.Uint64

	now func() time.Time
}

// New builds an ingestor. maxAge should be the largest window size plus the
// late-arrival grace; zero disables the staleness check.
func New(sink Sink, workers, queueSize int, maxAge time.Duration) *Ingestor {
	if workers <= 0 {
		workers = 4
	}
	if queueSize <= 0 {
		queueSize = 4096
	}
	return &Ingestor{
		sink:    sink,
		queue:   make(chan *models.MetricSample, queueSize),
		workers: workers,
		maxAge:  maxAge,
		now:     time.Now,
	}
}

// Validate checks one sample without side effects beyond counters.
func (in *Ingestor) Validate(sample *models.MetricSample) error {
	switch {
	case sample == nil:
		return ErrInvalidValue
	case !models.ValidValue(sample.Value):
		return ErrInvalidValue
	case sample.MetricName == "":
		return ErrMissingMetricName
	case sample.ServerID == "":
		return ErrMissingServerID
	case sample.OrgID == "":
		return ErrMissingOrgID
	case sample.Timestamp.IsZero():
		return ErrMissingTimestamp
	}
	if in.maxAge > 0 && in.now().Sub(sample.Timestamp) > in.maxAge {
		return ErrStaleSample
	}
	return nil
}

// Ingest validates the sample and enqueues it for aggregation. Blocks only
// when the queue is full, which is the backpressure signal upstream.
func (in *Ingestor) Ingest(ctx context.Context, sample *models.MetricSample) error {
	if err := in.Validate(sample); err != nil {
		in.rejected.Add(1)
		metrics.SamplesIngestedTotal.WithLabelValues("rejected").Inc()
		return err
	}

	select {
	case in.queue <- sample:
	case <-ctx.Done():
		return ctx.Err()
	}
	in.processed.Add(1)
	metrics.SamplesIngestedTotal.WithLabelValues("accepted").Inc()
	return nil
}

// Run drains the queue with the worker pool until ctx is cancelled, then
// finishes whatever is already queued.
func (in *Ingestor) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < in.workers; i++ {
		g.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					// Drain without blocking so queued samples are not lost.
					for {
						select {
						case s := <-in.queue:
							in.sink(s)
						default:
							return nil
						}
					}
				case s := <-in.queue:
					in.sink(s)
				}
			}
		})
	}
	return g.Wait()
}

// Processed reports the count of accepted samples.
func (in *Ingestor) Processed() uint64 { return in.processed.Load() }

// Rejected reports the count of rejected samples.
func (in *Ingestor) Rejected() uint64 { return in.rejected.Load() }
