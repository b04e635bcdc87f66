// Package testutil provides shared test utilities and fixtures.
//
// This package centralises common test helpers to reduce code duplication
// across test files and improve test maintainability.
package testutil

import (
	"math"
	"testing"

	"github.com/physio-data/physio.report/internal/physio"
)

// AssertNoError fails the test if err is not nil.
func AssertNoError(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// AssertError fails the test if err is nil.
func AssertError(t *testing.T, err error) {
	t.Helper()
	if err == nil {
		t.Fatal("expected error, got nil")
	}
}

// AssertInDelta checks that got is within delta of want.
func AssertInDelta(t *testing.T, got, want, delta float64) {
	t.Helper()
	if math.IsNaN(got) || math.Abs(got-want) > delta {
		t.Errorf("value = %v, want %v (±%v)", got, want, delta)
	}
}

// PulseSignal synthesizes a recording on the given channel with a sharp
// pulse every periodS seconds. Peak detection on this signal finds one
// fiducial per period, which makes interval features predictable.
func PulseSignal(channel string, durationS, periodS float64, rateHz int) []physio.Sample {
	n := int(durationS * float64(rateHz))
	samples := make([]physio.Sample, n)
	period := int(periodS * float64(rateHz))
	for i := range samples {
		v := 0.0
		if period > 0 && i%period == 0 {
			v = 1.0
		}
		samples[i] = physio.Sample{
			T:        float64(i) / float64(rateHz),
			Channels: map[string]float64{channel: v},
		}
	}
	return samples
}

// FlatSignal synthesizes a constant-valued recording on the given channel.
func FlatSignal(channel string, durationS, value float64, rateHz int) []physio.Sample {
	n := int(durationS * float64(rateHz))
	samples := make([]physio.Sample, n)
	for i := range samples {
		samples[i] = physio.Sample{
			T:        float64(i) / float64(rateHz),
			Channels: map[string]float64{channel: value},
		}
	}
	return samples
}

// OnOffEvents builds the two event rows that bound a segment: the first
// occurrence of the label marks the onset, the second the offset.
func OnOffEvents(label string, onsetS, offsetS float64) []physio.Event {
	return []physio.Event{
		{Type: "marker", Label: label, T: onsetS},
		{Type: "marker", Label: label, T: offsetS},
	}
}
