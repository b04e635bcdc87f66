// Package sigproc defines the signal-processing capability consumed by the
// window extractor: cleaning, fiducial detection and point-feature
// computation. The core engine never assumes a specific algorithm; it only
// requires the three operations and their failure signaling, so alternative
// implementations can be substituted without touching the engine.
package sigproc

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/physio-data/physio.report/internal/units"
)

// Feature names emitted by the built-in processor.
const (
	FeatureMeanValue    = "mean_value"
	FeatureHeartRateBPM = "heart_rate_bpm"
	FeaturePeakCount    = "peak_count"
	FeatureSDNNMS       = "sdnn_ms"
	FeatureRMSSDMS      = "rmssd_ms"
)

// ErrNoSignal is returned when a window carries no usable samples.
var ErrNoSignal = errors.New("sigproc: window contains no signal")

// Processor is the pluggable signal-processing capability.
//
// Inputs are the raw channel values of one analysis window in sample
// order; missing samples are NaN. Fiducial positions are expressed in
// seconds from the window start. Any returned error invalidates the one
// window it was computed for, never the extraction of sibling windows.
type Processor interface {
	Clean(raw []float64, rateHz float64) ([]float64, error)
	DetectFiducials(clean []float64, rateHz float64) ([]float64, error)
	ComputePointFeatures(clean []float64, fiducials []float64, rateHz float64) (map[string]float64, error)
}

// PeakProcessor is the built-in deterministic Processor: moving-average
// detrending, threshold-crossing peak detection, and rate/interval
// features. It is intentionally simple; production deployments can swap in
// a richer implementation behind the same interface.
type PeakProcessor struct {
	// DetrendSpanS is the moving-average span used for detrending.
	DetrendSpanS float64
	// ThresholdSigma is the peak threshold in standard deviations above
	// the detrended mean.
	ThresholdSigma float64
	// RefractoryS is the minimum spacing between detected peaks.
	RefractoryS float64
}

// NewPeakProcessor returns a PeakProcessor with defaults suited to
// ECG-like signals.
func NewPeakProcessor() *PeakProcessor {
	return &PeakProcessor{
		DetrendSpanS:   0.75,
		ThresholdSigma: 1.5,
		RefractoryS:    0.25,
	}
}

// Clean subtracts a centered moving average from the raw signal. NaN
// samples stay NaN so the quality gate can account for them.
func (p *PeakProcessor) Clean(raw []float64, rateHz float64) ([]float64, error) {
	if len(raw) == 0 {
		return nil, ErrNoSignal
	}
	if rateHz <= 0 {
		return nil, fmt.Errorf("sigproc: invalid sampling rate %f", rateHz)
	}
	if countFinite(raw) == 0 {
		return nil, ErrNoSignal
	}

	half := units.SamplesFor(p.DetrendSpanS, rateHz) / 2
	if half < 1 {
		half = 1
	}

	clean := make([]float64, len(raw))
	for i, v := range raw {
		if math.IsNaN(v) {
			clean[i] = math.NaN()
			continue
		}
		lo, hi := i-half, i+half
		if lo < 0 {
			lo = 0
		}
		if hi >= len(raw) {
			hi = len(raw) - 1
		}
		var sum float64
		var n int
		for j := lo; j <= hi; j++ {
			if !math.IsNaN(raw[j]) {
				sum += raw[j]
				n++
			}
		}
		clean[i] = v - sum/float64(n)
	}
	return clean, nil
}

// DetectFiducials finds local maxima above a sigma threshold, spaced by at
// least the refractory interval. Positions are seconds from window start.
func (p *PeakProcessor) DetectFiducials(clean []float64, rateHz float64) ([]float64, error) {
	if len(clean) == 0 {
		return nil, ErrNoSignal
	}
	if rateHz <= 0 {
		return nil, fmt.Errorf("sigproc: invalid sampling rate %f", rateHz)
	}

	finite := finiteValues(clean)
	if len(finite) == 0 {
		return nil, ErrNoSignal
	}
	mean := stat.Mean(finite, nil)
	sd := stat.StdDev(finite, nil)
	threshold := mean + p.ThresholdSigma*sd

	refractory := units.SamplesFor(p.RefractoryS, rateHz)
	var fiducials []float64
	lastPeak := -refractory - 1
	for i := 1; i < len(clean)-1; i++ {
		v := clean[i]
		if math.IsNaN(v) || v < threshold {
			continue
		}
		if !(v >= clean[i-1] && v > clean[i+1]) {
			continue
		}
		if i-lastPeak <= refractory {
			continue
		}
		fiducials = append(fiducials, units.Seconds(i, rateHz))
		lastPeak = i
	}
	return fiducials, nil
}

// ComputePointFeatures derives the per-window feature vector from the
// cleaned signal and its fiducials. Interval features requiring more
// fiducials than available are omitted rather than reported as NaN.
func (p *PeakProcessor) ComputePointFeatures(clean []float64, fiducials []float64, rateHz float64) (map[string]float64, error) {
	if len(clean) == 0 {
		return nil, ErrNoSignal
	}
	finite := finiteValues(clean)
	if len(finite) == 0 {
		return nil, ErrNoSignal
	}

	span := units.Seconds(len(clean), rateHz)
	features := map[string]float64{
		FeatureMeanValue:    stat.Mean(finite, nil),
		FeaturePeakCount:    float64(len(fiducials)),
		FeatureHeartRateBPM: units.BPM(len(fiducials), span),
	}

	intervals := make([]float64, 0, len(fiducials))
	for i := 1; i < len(fiducials); i++ {
		intervals = append(intervals, units.MS(fiducials[i]-fiducials[i-1]))
	}
	if len(intervals) >= 2 {
		features[FeatureSDNNMS] = stat.StdDev(intervals, nil)
	}
	if len(intervals) >= 2 {
		var sumSq float64
		for i := 1; i < len(intervals); i++ {
			d := intervals[i] - intervals[i-1]
			sumSq += d * d
		}
		features[FeatureRMSSDMS] = math.Sqrt(sumSq / float64(len(intervals)-1))
	}
	return features, nil
}

func countFinite(values []float64) int {
	n := 0
	for _, v := range values {
		if !math.IsNaN(v) {
			n++
		}
	}
	return n
}

func finiteValues(values []float64) []float64 {
	out := make([]float64, 0, len(values))
	for _, v := range values {
		if !math.IsNaN(v) {
			out = append(out, v)
		}
	}
	return out
}
