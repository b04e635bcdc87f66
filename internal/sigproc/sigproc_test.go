package sigproc

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// pulseTrain returns n samples at rateHz with a unit pulse every periodS
// seconds, zero elsewhere.
func pulseTrain(n int, periodS, rateHz float64) []float64 {
	raw := make([]float64, n)
	period := int(periodS * rateHz)
	for i := range raw {
		if period > 0 && i%period == 0 {
			raw[i] = 1
		}
	}
	return raw
}

func TestCleanRejectsBadInput(t *testing.T) {
	t.Parallel()
	p := NewPeakProcessor()

	_, err := p.Clean(nil, 100)
	assert.ErrorIs(t, err, ErrNoSignal)

	_, err = p.Clean([]float64{1, 2, 3}, 0)
	assert.Error(t, err)

	_, err = p.Clean([]float64{math.NaN(), math.NaN()}, 100)
	assert.ErrorIs(t, err, ErrNoSignal)
}

func TestCleanRemovesOffsetAndKeepsNaN(t *testing.T) {
	t.Parallel()
	p := NewPeakProcessor()

	raw := make([]float64, 500)
	for i := range raw {
		raw[i] = 10 // constant offset
	}
	raw[100] = math.NaN()

	clean, err := p.Clean(raw, 100)
	require.NoError(t, err)
	require.Len(t, clean, len(raw))

	assert.True(t, math.IsNaN(clean[100]), "NaN samples stay NaN")
	for i, v := range clean {
		if i == 100 || i < 50 || i > 450 {
			continue // skip the NaN and edge effects near the NaN gap
		}
		assert.InDelta(t, 0, v, 1e-9, "constant signal detrends to zero at %d", i)
	}
}

func TestDetectFiducials(t *testing.T) {
	t.Parallel()
	p := NewPeakProcessor()
	rate := 100.0

	t.Run("finds every pulse", func(t *testing.T) {
		t.Parallel()
		raw := pulseTrain(1000, 1.0, rate) // pulses at 0s, 1s, ..., 9s
		clean, err := p.Clean(raw, rate)
		require.NoError(t, err)

		fiducials, err := p.DetectFiducials(clean, rate)
		require.NoError(t, err)

		// The pulse at index 0 has no left neighbor and is skipped.
		require.Len(t, fiducials, 9)
		for i, f := range fiducials {
			assert.InDelta(t, float64(i+1), f, 1e-9)
		}
	})

	t.Run("refractory interval suppresses doubles", func(t *testing.T) {
		t.Parallel()
		raw := pulseTrain(1000, 1.0, rate)
		// A trailing shoulder one sample after each pulse must not count as
		// a second peak.
		for i := range raw {
			if raw[i] == 1 && i+1 < len(raw) {
				raw[i+1] = 0.9
			}
		}
		clean, err := p.Clean(raw, rate)
		require.NoError(t, err)

		fiducials, err := p.DetectFiducials(clean, rate)
		require.NoError(t, err)
		assert.Len(t, fiducials, 9)
	})

	t.Run("empty input", func(t *testing.T) {
		t.Parallel()
		_, err := p.DetectFiducials(nil, rate)
		assert.ErrorIs(t, err, ErrNoSignal)
	})
}

func TestComputePointFeatures(t *testing.T) {
	t.Parallel()
	p := NewPeakProcessor()
	rate := 100.0

	t.Run("regular pulses", func(t *testing.T) {
		t.Parallel()
		clean := pulseTrain(3000, 1.0, rate) // 30s window
		fiducials := make([]float64, 29)
		for i := range fiducials {
			fiducials[i] = float64(i + 1)
		}

		features, err := p.ComputePointFeatures(clean, fiducials, rate)
		require.NoError(t, err)

		assert.Equal(t, 29.0, features[FeaturePeakCount])
		assert.InDelta(t, 58.0, features[FeatureHeartRateBPM], 1e-9, "29 beats over 30s")
		assert.InDelta(t, 0, features[FeatureSDNNMS], 1e-6, "perfectly regular intervals")
		assert.InDelta(t, 0, features[FeatureRMSSDMS], 1e-6)
	})

	t.Run("interval features omitted with too few fiducials", func(t *testing.T) {
		t.Parallel()
		clean := pulseTrain(300, 1.0, rate)

		features, err := p.ComputePointFeatures(clean, []float64{1.0, 2.0}, rate)
		require.NoError(t, err)

		assert.Contains(t, features, FeatureMeanValue)
		assert.Contains(t, features, FeatureHeartRateBPM)
		_, ok := features[FeatureSDNNMS]
		assert.False(t, ok, "sdnn needs at least two intervals")
		_, ok = features[FeatureRMSSDMS]
		assert.False(t, ok)
	})

	t.Run("no signal", func(t *testing.T) {
		t.Parallel()
		_, err := p.ComputePointFeatures(nil, nil, rate)
		assert.ErrorIs(t, err, ErrNoSignal)
	})
}
