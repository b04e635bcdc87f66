// Package physio defines the core data model shared by the alignment,
// segmentation, extraction and aggregation stages.
package physio

import (
	"fmt"
	"math"
	"sort"
)

// Edge marks whether a sample carries an event onset or offset.
type Edge int

const (
	EdgeNone Edge = iota
	EdgeOnset
	EdgeOffset
)

func (e Edge) String() string {
	switch e {
	case EdgeOnset:
		return "onset"
	case EdgeOffset:
		return "offset"
	default:
		return "none"
	}
}

// Sample is one row of the sample table: a timestamp in seconds from the
// start of the recording plus one or more named channel values. EventLabel
// and EventEdge are empty until the aligner attaches an event.
type Sample struct {
	T          float64
	Channels   map[string]float64
	EventLabel string
	EventEdge  Edge
}

// Value returns the named channel value, or NaN if the channel is absent.
func (s Sample) Value(channel string) float64 {
	if v, ok := s.Channels[channel]; ok {
		return v
	}
	return math.NaN()
}

// Event is one row of the event table. Events are ordered by timestamp and
// immutable once loaded.
type Event struct {
	Type  string
	Label string
	T     float64
}

// Boundary is a resolved (onset, offset, label) triple. Instance counts
// repeated occurrences of the same label within one recording, starting
// at zero in temporal order.
type Boundary struct {
	Label    string
	Instance int
	Onset    float64
	Offset   float64
}

// Duration returns the boundary span in seconds.
func (b Boundary) Duration() float64 { return b.Offset - b.Onset }

// Segment is the sample sequence of one boundary. Invalid is set when the
// boundary resolved to zero samples; such segments still flow downstream
// and aggregate to zero usable windows rather than being dropped.
type Segment struct {
	SubjectID string
	Label     string
	Instance  int
	Onset     float64
	Offset    float64
	Samples   []Sample
	Invalid   bool
}

// Name returns the label disambiguated by instance, e.g. "Story 1" for the
// first occurrence and "Story 1#2" for the second.
func (s Segment) Name() string {
	if s.Instance == 0 {
		return s.Label
	}
	return fmt.Sprintf("%s#%d", s.Label, s.Instance+1)
}

// Duration returns the segment span in seconds, taken from the resolved
// boundary rather than the first/last sample so that windowing is not
// skewed by trailing gaps.
func (s Segment) Duration() float64 { return s.Offset - s.Onset }

// UnusableReason is the closed taxonomy of reasons a window is excluded
// from aggregation.
type UnusableReason string

const (
	ReasonNone                  UnusableReason = ""
	ReasonInsufficientFiducials UnusableReason = "insufficient_fiducials"
	ReasonExcessiveMissingData  UnusableReason = "excessive_missing_data"
	ReasonImplausible           UnusableReason = "physiologically_implausible"
	ReasonProcessingFailure     UnusableReason = "signal_processing_failure"
)

// WindowResult holds the feature vector extracted from one analysis
// window. Immutable after creation.
type WindowResult struct {
	SubjectID    string
	SegmentName  string
	WindowIndex  int
	Start        float64 // seconds, absolute recording time
	End          float64
	Features     map[string]float64
	FiducialsN   int
	MissingRatio float64
	Usable       bool
	Reason       UnusableReason
}

// Value is a float that can be explicitly undefined. An undefined Value is
// distinguishable from a genuine zero and is exported as NULL / empty.
type Value struct {
	V       float64
	Defined bool
}

// Some returns a defined Value.
func Some(v float64) Value { return Value{V: v, Defined: true} }

// Undefined is the explicit missing marker.
var Undefined = Value{}

// SegmentAggregate is the one-row summary of a segment instance.
type SegmentAggregate struct {
	SubjectID     string
	Label         string
	Instance      int
	SegmentName   string
	Duration      float64
	Features      map[string]Value
	UsableWindows int
	TotalWindows  int
}

// CorrectedMetric is one baseline-relative value for a (subject, segment
// instance, feature) triple. Corrected is defined only when both Raw and
// Baseline are defined and the correction mode permits it.
type CorrectedMetric struct {
	SubjectID   string
	SegmentName string
	Feature     string
	Baseline    Value
	Raw         Value
	Corrected   Value
}

// AlignmentWarning records a recoverable event-alignment problem. The run
// continues; warnings are collected for QA reporting.
type AlignmentWarning struct {
	SubjectID string
	Label     string
	T         float64
	Reason    string
}

func (w AlignmentWarning) String() string {
	return fmt.Sprintf("subject=%s label=%q t=%.3f: %s", w.SubjectID, w.Label, w.T, w.Reason)
}

// SortedFeatureNames returns the union of feature names across aggregates
// in lexical order. Export paths use this to keep column order stable
// between runs.
func SortedFeatureNames(aggs []SegmentAggregate) []string {
	seen := make(map[string]bool)
	for _, a := range aggs {
		for name := range a.Features {
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
