// Package window slides fixed-length, fixed-stride analysis windows across
// a segment, invokes the signal processor per window, and gates each
// window's usability.
package window

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/physio-data/physio.report/internal/params"
	"github.com/physio-data/physio.report/internal/physio"
	"github.com/physio-data/physio.report/internal/sigproc"
	"github.com/physio-data/physio.report/internal/timeutil"
	"github.com/physio-data/physio.report/internal/units"
)

// Extractor produces the ordered WindowResult sequence for one segment.
// Windows are independent of each other and may be processed concurrently;
// results are assembled index-addressed so the output order and content
// are identical regardless of scheduling.
type Extractor struct {
	Set       *params.Set
	Processor sigproc.Processor
	Clock     timeutil.Clock

	// Workers bounds concurrent window processing. Values below 2 mean
	// sequential extraction.
	Workers int
}

// Count returns the number of full windows of length l at stride s that
// fit a span of duration d: floor((d-l)/s)+1 when d >= l, else 0. A final
// partial window is discarded, never truncated and kept.
func Count(d, l, s float64) int {
	if d < l || l <= 0 || s <= 0 {
		return 0
	}
	// The epsilon absorbs float error when (d-l) is an exact multiple
	// of s, e.g. d=120 l=30 s=15.
	return int(math.Floor((d-l)/s+1e-9)) + 1
}

// Extract runs the processor and quality gate over every window of the
// segment. An invalid (empty) segment yields no windows. The output is
// ordered by window index.
func (e *Extractor) Extract(ctx context.Context, seg physio.Segment) []physio.WindowResult {
	if seg.Invalid {
		return nil
	}
	l := e.Set.GetWindowLengthS()
	s := e.Set.GetWindowStrideS()
	n := Count(seg.Duration(), l, s)
	if n == 0 {
		return nil
	}

	gate := NewGate(e.Set)
	results := make([]physio.WindowResult, n)

	workers := e.Workers
	if workers < 1 {
		workers = 1
	}
	sem := make(chan struct{}, workers)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		sem <- struct{}{}
		go func(idx int) {
			defer wg.Done()
			defer func() { <-sem }()
			start := seg.Onset + float64(idx)*s
			results[idx] = e.extractOne(ctx, seg, gate, idx, start, start+l)
		}(i)
	}
	wg.Wait()
	return results
}

// extractOne processes a single window. Processor failures and budget
// overruns are reported as signal_processing_failure without affecting
// sibling windows.
func (e *Extractor) extractOne(ctx context.Context, seg physio.Segment, gate *Gate, idx int, start, end float64) physio.WindowResult {
	res := physio.WindowResult{
		SubjectID:   seg.SubjectID,
		SegmentName: seg.Name(),
		WindowIndex: idx,
		Start:       start,
		End:         end,
	}

	raw := rawValues(seg.Samples, start, end, e.Set.GetSignalChannel())
	rate := e.Set.GetSamplingRateHz()
	expected := units.SamplesFor(end-start, rate)
	res.MissingRatio = missingRatio(raw, expected)

	fiducials, features, err := e.process(ctx, raw, rate)
	res.FiducialsN = len(fiducials)
	if err == nil {
		res.Features = features
	}

	res.Usable, res.Reason = gate.Evaluate(Stats{
		Failure:       err,
		FiducialCount: len(fiducials),
		MissingRatio:  res.MissingRatio,
		Features:      features,
	})
	return res
}

// process runs the three processor operations under the soft per-window
// compute budget. The guard bounds how long extraction waits, not the
// processor goroutine itself; it exists to keep one pathological window
// from stalling the whole run.
func (e *Extractor) process(ctx context.Context, raw []float64, rate float64) ([]float64, map[string]float64, error) {
	type outcome struct {
		fiducials []float64
		features  map[string]float64
		err       error
	}
	done := make(chan outcome, 1)
	go func() {
		clean, err := e.Processor.Clean(raw, rate)
		if err != nil {
			done <- outcome{err: fmt.Errorf("clean: %w", err)}
			return
		}
		fiducials, err := e.Processor.DetectFiducials(clean, rate)
		if err != nil {
			done <- outcome{err: fmt.Errorf("detect fiducials: %w", err)}
			return
		}
		features, err := e.Processor.ComputePointFeatures(clean, fiducials, rate)
		if err != nil {
			done <- outcome{fiducials: fiducials, err: fmt.Errorf("point features: %w", err)}
			return
		}
		done <- outcome{fiducials: fiducials, features: features}
	}()

	budget := e.Set.GetWindowBudget()
	var timeout <-chan time.Time
	if budget > 0 {
		timeout = e.clock().After(budget)
	}

	select {
	case out := <-done:
		return out.fiducials, out.features, out.err
	case <-timeout:
		return nil, nil, fmt.Errorf("window compute budget %s exceeded", budget)
	case <-ctx.Done():
		return nil, nil, ctx.Err()
	}
}

func (e *Extractor) clock() timeutil.Clock {
	if e.Clock != nil {
		return e.Clock
	}
	return timeutil.RealClock{}
}

// rawValues extracts the channel values of samples with start <= T < end.
// The half-open interval keeps adjacent overlapping windows from sharing
// boundary samples.
func rawValues(samples []physio.Sample, start, end float64, channel string) []float64 {
	lo := sort.Search(len(samples), func(i int) bool { return samples[i].T >= start })
	hi := sort.Search(len(samples), func(i int) bool { return samples[i].T >= end })
	values := make([]float64, 0, hi-lo)
	for _, s := range samples[lo:hi] {
		values = append(values, s.Value(channel))
	}
	return values
}

// missingRatio counts absent and NaN samples against the expected count
// for the window span at the sampling rate.
func missingRatio(raw []float64, expected int) float64 {
	if expected <= 0 {
		return 0
	}
	finite := 0
	for _, v := range raw {
		if !math.IsNaN(v) {
			finite++
		}
	}
	if finite >= expected {
		return 0
	}
	return float64(expected-finite) / float64(expected)
}
