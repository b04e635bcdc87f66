// Package aggregate reduces per-window feature vectors into one summary
// row per segment and derives baseline-relative metrics per subject.
package aggregate

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/physio-data/physio.report/internal/params"
	"github.com/physio-data/physio.report/internal/physio"
)

// ApplyOutlierGate re-flags usable windows whose designated feature lies
// more than the configured z-score threshold from the mean of the
// segment's usable windows. Input results are not mutated; a gated copy is
// returned. Disabled (input returned as a plain copy) when no outlier
// feature is configured.
func ApplyOutlierGate(set *params.Set, results []physio.WindowResult) []physio.WindowResult {
	gated := make([]physio.WindowResult, len(results))
	copy(gated, results)

	feature, z := set.GetOutlierGate()
	if feature == "" || z <= 0 {
		return gated
	}

	var values []float64
	for _, r := range gated {
		if !r.Usable {
			continue
		}
		if v, ok := r.Features[feature]; ok {
			values = append(values, v)
		}
	}
	if len(values) < 2 {
		return gated
	}
	mean := stat.Mean(values, nil)
	sd := popStdDev(values, mean)
	if sd == 0 {
		return gated
	}

	for i := range gated {
		if !gated[i].Usable {
			continue
		}
		v, ok := gated[i].Features[feature]
		if !ok {
			continue
		}
		if math.Abs(v-mean)/sd > z {
			gated[i].Usable = false
			gated[i].Reason = physio.ReasonImplausible
		}
	}
	return gated
}

// Reduce collapses the window results of one segment into a
// SegmentAggregate. Only usable windows contribute; the statistic per
// feature comes from the parameter set's feature policy. With zero usable
// windows every feature carries the explicit undefined marker, never a
// value computed from nothing.
func Reduce(set *params.Set, seg physio.Segment, results []physio.WindowResult) physio.SegmentAggregate {
	agg := physio.SegmentAggregate{
		SubjectID:    seg.SubjectID,
		Label:        seg.Label,
		Instance:     seg.Instance,
		SegmentName:  seg.Name(),
		Duration:     seg.Duration(),
		Features:     make(map[string]physio.Value),
		TotalWindows: len(results),
	}

	var usable []physio.WindowResult
	for _, r := range results {
		if r.Usable {
			usable = append(usable, r)
		}
	}
	agg.UsableWindows = len(usable)

	for _, name := range featureNames(set, usable) {
		agg.Features[name] = reduceFeature(set, name, usable, agg.Duration)
	}
	return agg
}

// featureNames returns the union of configured features and features
// observed in usable windows, sorted for stable output.
func featureNames(set *params.Set, usable []physio.WindowResult) []string {
	seen := make(map[string]bool)
	for name := range set.Features {
		seen[name] = true
	}
	for _, r := range usable {
		for name := range r.Features {
			seen[name] = true
		}
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func reduceFeature(set *params.Set, name string, usable []physio.WindowResult, duration float64) physio.Value {
	var values []float64
	for _, r := range usable {
		if v, ok := r.Features[name]; ok && !math.IsNaN(v) {
			values = append(values, v)
		}
	}
	if len(values) == 0 {
		return physio.Undefined
	}

	switch set.AggregationFor(name) {
	case params.AggSum:
		return physio.Some(sum(values))
	case params.AggRate:
		if duration <= 0 {
			return physio.Undefined
		}
		return physio.Some(sum(values) / duration)
	default: // params.AggMean
		return physio.Some(stat.Mean(values, nil))
	}
}

func sum(values []float64) float64 {
	var total float64
	for _, v := range values {
		total += v
	}
	return total
}

// popStdDev is the population standard deviation, matching the z-score
// convention of the upstream QA tooling.
func popStdDev(values []float64, mean float64) float64 {
	var sumSq float64
	for _, v := range values {
		d := v - mean
		sumSq += d * d
	}
	return math.Sqrt(sumSq / float64(len(values)))
}
