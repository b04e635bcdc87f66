package aggregate

import (
	"sort"

	"github.com/physio-data/physio.report/internal/params"
	"github.com/physio-data/physio.report/internal/physio"
)

// Correct derives one CorrectedMetric per (non-baseline segment instance,
// feature) for a single subject. The designated baseline is the first
// instance of the configured baseline label; later instances of that label
// are corrected like any other segment.
//
// A missing baseline aggregate, or one with zero usable windows, marks
// every corrected value for the subject undefined — correction never
// substitutes a default.
func Correct(set *params.Set, aggs []physio.SegmentAggregate) []physio.CorrectedMetric {
	baselineLabel := set.GetBaselineSegmentLabel()

	var baseline *physio.SegmentAggregate
	for i := range aggs {
		if aggs[i].Label == baselineLabel && aggs[i].Instance == 0 {
			baseline = &aggs[i]
			break
		}
	}
	baselineUsable := baseline != nil && baseline.UsableWindows > 0

	var metrics []physio.CorrectedMetric
	for i := range aggs {
		agg := &aggs[i]
		if baseline != nil && agg == baseline {
			continue
		}
		for _, feature := range sortedFeatures(agg) {
			m := physio.CorrectedMetric{
				SubjectID:   agg.SubjectID,
				SegmentName: agg.SegmentName,
				Feature:     feature,
				Raw:         agg.Features[feature],
			}
			if baselineUsable {
				m.Baseline = baseline.Features[feature]
			}
			m.Corrected = correct(set.CorrectionFor(feature), m.Raw, m.Baseline)
			metrics = append(metrics, m)
		}
	}
	return metrics
}

func correct(mode string, raw, baseline physio.Value) physio.Value {
	if !raw.Defined || !baseline.Defined {
		return physio.Undefined
	}
	switch mode {
	case params.CorrSubtractive:
		return physio.Some(raw.V - baseline.V)
	case params.CorrRatio:
		if baseline.V == 0 {
			return physio.Undefined
		}
		return physio.Some(raw.V / baseline.V)
	default: // params.CorrNone
		return physio.Undefined
	}
}

func sortedFeatures(agg *physio.SegmentAggregate) []string {
	names := make([]string, 0, len(agg.Features))
	for name := range agg.Features {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
