// Package segment partitions an aligned sample stream into analysis
// segments from resolved boundaries.
package segment

import (
	"sort"

	"github.com/physio-data/physio.report/internal/physio"
)

// Cut returns one Segment per boundary. Boundaries may overlap; each
// produces an independent Segment so nested analysis intervals are
// allowed. A boundary that resolves to zero samples produces a Segment
// marked Invalid rather than being dropped, so downstream aggregation
// reports it with zero usable windows.
func Cut(subjectID string, samples []physio.Sample, boundaries []physio.Boundary) []physio.Segment {
	segments := make([]physio.Segment, 0, len(boundaries))
	for _, b := range boundaries {
		seg := physio.Segment{
			SubjectID: subjectID,
			Label:     b.Label,
			Instance:  b.Instance,
			Onset:     b.Onset,
			Offset:    b.Offset,
		}
		seg.Samples = slice(samples, b.Onset, b.Offset)
		seg.Invalid = len(seg.Samples) == 0
		segments = append(segments, seg)
	}
	return segments
}

// slice returns the samples with onset <= T <= offset. The input is
// ordered by timestamp, so two binary searches bound the range; the
// returned slice aliases the input and is consumed read-only downstream.
func slice(samples []physio.Sample, onset, offset float64) []physio.Sample {
	if offset < onset {
		return nil
	}
	lo := sort.Search(len(samples), func(i int) bool { return samples[i].T >= onset })
	hi := sort.Search(len(samples), func(i int) bool { return samples[i].T > offset })
	if lo >= hi {
		return nil
	}
	return samples[lo:hi]
}
