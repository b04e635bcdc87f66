// Package pipeline runs the full per-subject analysis: event alignment,
// segmentation, windowed extraction, aggregation and baseline correction.
// Subjects share no mutable state, so the batch runs them in parallel.
package pipeline

import (
	"context"
	"log"
	"sync"

	"github.com/physio-data/physio.report/internal/aggregate"
	"github.com/physio-data/physio.report/internal/align"
	"github.com/physio-data/physio.report/internal/params"
	"github.com/physio-data/physio.report/internal/physio"
	"github.com/physio-data/physio.report/internal/segment"
	"github.com/physio-data/physio.report/internal/sigproc"
	"github.com/physio-data/physio.report/internal/timeutil"
	"github.com/physio-data/physio.report/internal/window"
)

// Subject is one recording: a sample stream plus its event log.
type Subject struct {
	ID      string
	Samples []physio.Sample
	Events  []physio.Event
}

// SubjectResult is the durable output of one subject's run.
type SubjectResult struct {
	SubjectID  string
	Aggregates []physio.SegmentAggregate
	Corrected  []physio.CorrectedMetric
	Warnings   []physio.AlignmentWarning

	// Windows holds the (outlier-gated) per-window results in segment,
	// then window order, kept for QA export.
	Windows []physio.WindowResult
}

// Runner executes subjects against a shared read-only parameter set.
type Runner struct {
	Defaults  *params.Set
	Processor sigproc.Processor
	Clock     timeutil.Clock

	// SubjectWorkers bounds concurrent subjects in RunBatch;
	// WindowWorkers bounds concurrent windows within one segment.
	// Values below 2 mean sequential processing.
	SubjectWorkers int
	WindowWorkers  int
}

// RunSubject processes one subject end to end. Failures inside are scoped
// to the smallest unit (window or segment) and surface as unusable windows
// or alignment warnings, never as a subject abort.
func (r *Runner) RunSubject(ctx context.Context, sub Subject) SubjectResult {
	set := r.Defaults.ForSubject(sub.ID)
	res := SubjectResult{SubjectID: sub.ID}

	aligned := align.Align(sub.ID, sub.Samples, sub.Events, &set)
	res.Warnings = aligned.Warnings

	segments := segment.Cut(sub.ID, aligned.Samples, aligned.Boundaries)

	// Segments are independent after cutting; process them concurrently
	// and assemble by index so output order is deterministic.
	extractor := &window.Extractor{
		Set:       &set,
		Processor: r.processor(),
		Clock:     r.Clock,
		Workers:   r.WindowWorkers,
	}
	perSegment := make([][]physio.WindowResult, len(segments))
	aggs := make([]physio.SegmentAggregate, len(segments))

	var wg sync.WaitGroup
	for i := range segments {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			results := extractor.Extract(ctx, segments[idx])
			gated := aggregate.ApplyOutlierGate(&set, results)
			perSegment[idx] = gated
			aggs[idx] = aggregate.Reduce(&set, segments[idx], gated)
		}(i)
	}
	wg.Wait()

	for _, results := range perSegment {
		res.Windows = append(res.Windows, results...)
	}
	res.Aggregates = aggs
	res.Corrected = aggregate.Correct(&set, aggs)
	return res
}

// RunBatch processes subjects with a bounded worker pool. A subject's
// problems never block the others; results are returned in input order.
func (r *Runner) RunBatch(ctx context.Context, subjects []Subject) []SubjectResult {
	workers := r.SubjectWorkers
	if workers < 1 {
		workers = 1
	}

	results := make([]SubjectResult, len(subjects))
	sem := make(chan struct{}, workers)
	var wg sync.WaitGroup
	for i := range subjects {
		wg.Add(1)
		sem <- struct{}{}
		go func(idx int) {
			defer wg.Done()
			defer func() { <-sem }()
			results[idx] = r.RunSubject(ctx, subjects[idx])
			log.Printf("subject %s: %d segments, %d warnings",
				subjects[idx].ID, len(results[idx].Aggregates), len(results[idx].Warnings))
		}(i)
	}
	wg.Wait()
	return results
}

func (r *Runner) processor() sigproc.Processor {
	if r.Processor != nil {
		return r.Processor
	}
	return sigproc.NewPeakProcessor()
}
