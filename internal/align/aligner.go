// Package align merges an event log into a sample stream and resolves
// segment boundaries from onset/offset event pairs.
package align

import (
	"fmt"
	"sort"

	"github.com/physio-data/physio.report/internal/params"
	"github.com/physio-data/physio.report/internal/physio"
)

// Result is the output of one subject's alignment pass.
type Result struct {
	// Samples is an annotated copy of the input stream; the input is
	// never mutated.
	Samples []physio.Sample

	// Boundaries are the resolved segments, ordered by onset then label.
	Boundaries []physio.Boundary

	// Warnings lists dropped or ambiguous events and boundary-extension
	// fallbacks. Recoverable; the run continues.
	Warnings []physio.AlignmentWarning
}

// matched is an event that found a sample within tolerance.
type matched struct {
	event  physio.Event
	sample int // index into the annotated sample slice
	edge   physio.Edge
}

// Align attaches each event to the nearest sample within the configured
// tolerance and derives segment boundaries. Events with no sample within
// tolerance are dropped with a warning, never fatally.
func Align(subjectID string, samples []physio.Sample, events []physio.Event, set *params.Set) Result {
	res := Result{Samples: make([]physio.Sample, len(samples))}
	copy(res.Samples, samples)
	if len(samples) == 0 {
		for _, e := range events {
			res.warn(subjectID, e.Label, e.T, "no samples to align against")
		}
		return res
	}

	ts := make([]float64, len(samples))
	for i, s := range samples {
		ts[i] = s.T
	}
	tolerance := set.GetToleranceS()

	// Occurrence parity per label decides the edge: first occurrence is
	// an onset, second an offset, third a new onset, and so on.
	occurrences := make(map[string]int)
	var matches []matched

	for _, e := range events {
		idx, ambiguous := nearestSample(ts, e.T)
		if diff := abs(ts[idx] - e.T); diff > tolerance {
			res.warn(subjectID, e.Label, e.T,
				fmt.Sprintf("no sample within tolerance (nearest %.4fs away, tolerance %.4fs)", diff, tolerance))
			continue
		}
		if ambiguous {
			res.warn(subjectID, e.Label, e.T, "ambiguous match: two samples equidistant, using the earlier one")
		}
		if res.Samples[idx].EventLabel != "" {
			res.warn(subjectID, e.Label, e.T,
				fmt.Sprintf("sample at %.4fs already tagged with %q, event dropped", ts[idx], res.Samples[idx].EventLabel))
			continue
		}

		edge := physio.EdgeOnset
		if occurrences[e.Label]%2 == 1 {
			edge = physio.EdgeOffset
		}
		occurrences[e.Label]++

		res.Samples[idx].EventLabel = e.Label
		res.Samples[idx].EventEdge = edge
		matches = append(matches, matched{event: e, sample: idx, edge: edge})
	}

	res.Boundaries = res.resolveBoundaries(subjectID, matches, ts, set)
	return res
}

// resolveBoundaries pairs onsets with offsets per label and applies the
// missing-offset policy to a trailing onset. When a segment plan is
// configured, only planned event names produce boundaries; stray markers
// stay annotated on the samples but are not segmented.
func (r *Result) resolveBoundaries(subjectID string, matches []matched, ts []float64, set *params.Set) []physio.Boundary {
	recordingEnd := ts[len(ts)-1]
	planned := func(name string) bool {
		if len(set.Segments) == 0 {
			return true
		}
		for _, spec := range set.Segments {
			if spec.EventName == name {
				return true
			}
		}
		return false
	}

	var boundaries []physio.Boundary
	open := make(map[string]*physio.Boundary)
	var openOrder []string // deterministic iteration over trailing onsets

	for _, m := range matches {
		if !planned(m.event.Label) {
			continue
		}
		label := set.LabelForEvent(m.event.Label)
		at := ts[m.sample]

		switch m.edge {
		case physio.EdgeOnset:
			if b, ok := open[label]; ok {
				// Should not happen with parity-derived edges, but guard
				// against it: close the earlier onset at this one.
				b.Offset = at
				boundaries = append(boundaries, *b)
				delete(open, label)
				r.warn(subjectID, label, at, "onset while previous onset still open, closing previous segment here")
			}
			open[label] = &physio.Boundary{Label: label, Onset: at, Offset: -1}
			openOrder = append(openOrder, label)
		case physio.EdgeOffset:
			b, ok := open[label]
			if !ok {
				r.warn(subjectID, label, at, "offset without matching onset, event ignored")
				continue
			}
			b.Offset = at
			boundaries = append(boundaries, *b)
			delete(open, label)
		}
	}

	// Trailing onsets: resolve per the explicit missing-offset policy.
	for _, label := range openOrder {
		b, ok := open[label]
		if !ok {
			continue
		}
		delete(open, label)

		offset := recordingEnd
		policy := set.GetMissingOffsetPolicy()
		switch policy {
		case params.PolicyNextOnset:
			offset = nextOnsetAfter(boundaries, open, b.Onset, recordingEnd)
		case params.PolicyDefaultDuration:
			if d := set.DefaultDurationFor(label); d > 0 {
				offset = min(b.Onset+d, recordingEnd)
			} else {
				r.warn(subjectID, label, b.Onset,
					"missing offset and no default_duration_s configured, extending to recording end")
			}
		case params.PolicyRecordingEnd:
			// offset already set
		}
		r.warn(subjectID, label, b.Onset,
			fmt.Sprintf("missing offset, segment extended to %.3fs per %s policy", offset, policy))
		b.Offset = offset
		boundaries = append(boundaries, *b)
	}

	sort.Slice(boundaries, func(i, j int) bool {
		if boundaries[i].Onset != boundaries[j].Onset {
			return boundaries[i].Onset < boundaries[j].Onset
		}
		return boundaries[i].Label < boundaries[j].Label
	})

	// Instance indices per label, in temporal order.
	counts := make(map[string]int)
	for i := range boundaries {
		boundaries[i].Instance = counts[boundaries[i].Label]
		counts[boundaries[i].Label]++
	}
	return boundaries
}

// nextOnsetAfter finds the earliest other onset after t, else recordingEnd.
func nextOnsetAfter(closed []physio.Boundary, open map[string]*physio.Boundary, t, recordingEnd float64) float64 {
	next := recordingEnd
	for _, b := range closed {
		if b.Onset > t && b.Onset < next {
			next = b.Onset
		}
	}
	for _, b := range open {
		if b.Onset > t && b.Onset < next {
			next = b.Onset
		}
	}
	return next
}

// nearestSample returns the index of the sample closest to t. The second
// return is true when two samples are exactly equidistant; the earlier one
// is chosen.
func nearestSample(ts []float64, t float64) (int, bool) {
	i := sort.SearchFloat64s(ts, t)
	if i == 0 {
		return 0, false
	}
	if i == len(ts) {
		return len(ts) - 1, false
	}
	before, after := t-ts[i-1], ts[i]-t
	switch {
	case before < after:
		return i - 1, false
	case after < before:
		return i, false
	default:
		return i - 1, true
	}
}

func (r *Result) warn(subjectID, label string, t float64, reason string) {
	r.Warnings = append(r.Warnings, physio.AlignmentWarning{
		SubjectID: subjectID,
		Label:     label,
		T:         t,
		Reason:    reason,
	})
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
