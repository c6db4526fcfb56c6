package ingest

import (
	"context"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vibhukrishnas/sams-sub010/internal/models"
)

func validSample() *models.MetricSample {
	return &models.MetricSample{
		OrgID:      "org-1",
		ServerID:   "srv-1",
		MetricName: "cpu_usage",
		Value:      42.5,
		Timestamp:  time.Now(),
	}
}

func TestValidate_Rejections(t *testing.T) {
	in := New(func(*models.MetricSample) {}, 1, 16, time.Hour)

	tests := []struct {
		name    string
		mutate  func(*models.MetricSample)
		wantErr error
	}{
		{"nan value", func(s *models.MetricSample) { s.Value = math.NaN() }, ErrInvalidValue},
		{"positive infinity", func(s *models.MetricSample) { s.Value = math.Inf(1) }, ErrInvalidValue},
		{"negative infinity", func(s *models.MetricSample) { s.Value = math.Inf(-1) }, ErrInvalidValue},
		{"empty metric name", func(s *models.MetricSample) { s.MetricName = "" }, ErrMissingMetricName},
		{"empty server id", func(s *models.MetricSample) { s.ServerID = "" }, ErrMissingServerID},
		{"empty org id", func(s *models.MetricSample) { s.OrgID = "" }, ErrMissingOrgID},
		{"zero timestamp", func(s *models.MetricSample) { s.Timestamp = time.Time{} }, ErrMissingTimestamp},
		{"stale timestamp", func(s *models.MetricSample) { s.Timestamp = time.Now().Add(-2 * time.Hour) }, ErrStaleSample},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := validSample()
			tt.mutate(s)
			assert.ErrorIs(t, in.Validate(s), tt.wantErr)
		})
	}

	assert.NoError(t, in.Validate(validSample()))
}

func TestIngest_RejectedSamplesAreCountedNotQueued(t *testing.T) {
	var delivered int
	in := New(func(*models.MetricSample) { delivered++ }, 1, 16, 0)

	s := validSample()
	s.Value = math.NaN()
	err := in.Ingest(context.Background(), s)
	require.Error(t, err)

	assert.Equal(t, uint64(1), in.Rejected())
	assert.Equal(t, uint64(0), in.Processed())
	assert.Zero(t, delivered)
}

func TestIngest_DeliversToSink(t *testing.T) {
	var mu sync.Mutex
	var got []*models.MetricSample
	in := New(func(s *models.MetricSample) {
		mu.Lock()
		got = append(got, s)
		mu.Unlock()
	}, 2, 16, 0)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- in.Run(ctx) }()

	for i := 0; i < 10; i++ {
		require.NoError(t, in.Ingest(ctx, validSample()))
	}

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 10
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
	assert.Equal(t, uint64(10), in.Processed())
}

func TestRun_DrainsQueueOnShutdown(t *testing.T) {
	var mu sync.Mutex
	var delivered int
	in := New(func(*models.MetricSample) {
		mu.Lock()
		delivered++
		mu.Unlock()
	}, 1, 64, 0)

	// Queue samples before any worker runs.
	for i := 0; i < 20; i++ {
		require.NoError(t, in.Ingest(context.Background(), validSample()))
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel() // workers start already cancelled and must still drain
	require.NoError(t, in.Run(ctx))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 20, delivered)
}

func TestIngest_ContextCancelledWhileBlocked(t *testing.T) {
	in := New(func(*models.MetricSample) {}, 1, 1, 0)

	// Fill the queue; no worker is draining.
	require.NoError(t, in.Ingest(context.Background(), validSample()))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := in.Ingest(ctx, validSample())
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
