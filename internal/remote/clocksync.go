// internal/remote/clocksync.go

package remote

import (
	"cmp"
	"context"
	"errors"
	"slices"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/petervdpas/tuneroom/internal/util"
)

// ErrNoSamples means every clock probe failed.
var ErrNoSamples = errors.New("no clock samples")

// TimeSource reads the server clock.
type TimeSource interface {
	ServerTime(ctx context.Context) (int64, error)
}

type offsetSample struct {
	offsetMs int64
	rttMs    int64
}

// OffsetTracker estimates serverNow - localNow from round trips to the
// server. Each probe assumes the server read its clock halfway through the
// round trip. The estimate is the median over a sliding window, counting only
// samples whose round trip was at most twice the fastest one.
type OffsetTracker struct {
	src     TimeSource
	clock   clock.Clock
	samples *util.RingBuffer[offsetSample]
}

func NewOffsetTracker(src TimeSource, window int, clk clock.Clock) *OffsetTracker {
	if window <= 0 {
		window = 5
	}
	if clk == nil {
		clk = clock.New()
	}
	return &OffsetTracker{src: src, clock: clk, samples: util.NewRingBuffer[offsetSample](window)}
}

// Probe takes one sample.
func (t *OffsetTracker) Probe(ctx context.Context) error {
	t0 := t.clock.Now().UnixMilli()
	serverMs, err := t.src.ServerTime(ctx)
	if err != nil {
		return err
	}
	t1 := t.clock.Now().UnixMilli()
	t.samples.Push(offsetSample{offsetMs: serverMs - (t0+t1)/2, rttMs: t1 - t0})
	return nil
}

// Estimate returns the median offset of the window.
func (t *OffsetTracker) Estimate() (int64, error) {
	all := t.samples.Snapshot()
	if len(all) == 0 {
		return 0, ErrNoSamples
	}
	fastest := slices.MinFunc(all, func(a, b offsetSample) int { return cmp.Compare(a.rttMs, b.rttMs) }).rttMs
	snap := t.samples.Select(func(s offsetSample) bool { return s.rttMs <= 2*fastest })
	if len(snap) == 0 {
		// a concurrent probe evicted the fastest sample
		snap = all
	}
	offs := make([]int64, len(snap))
	for i, s := range snap {
		offs[i] = s.offsetMs
	}
	slices.Sort(offs)
	return offs[len(offs)/2], nil
}

// Calibrate takes n samples back to back and returns the estimate. Failed
// probes are skipped as long as one succeeds.
func (t *OffsetTracker) Calibrate(ctx context.Context, n int) (int64, error) {
	var lastErr error
	for range n {
		if err := t.Probe(ctx); err != nil {
			lastErr = err
		}
	}
	est, err := t.Estimate()
	if err != nil && lastErr != nil {
		return 0, errors.Join(err, lastErr)
	}
	return est, err
}

// Run probes every interval and reports each new estimate until ctx ends.
func (t *OffsetTracker) Run(ctx context.Context, interval time.Duration, onEstimate func(int64)) {
	ticker := t.clock.Ticker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := t.Probe(ctx); err != nil {
				continue
			}
			if est, err := t.Estimate(); err == nil && onEstimate != nil {
				onEstimate(est)
			}
		}
	}
}
