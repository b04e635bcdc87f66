package params

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "params.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, `{}`)

	set, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 500.0, set.GetSamplingRateHz())
	assert.Equal(t, "ecg", set.GetSignalChannel())
	assert.Equal(t, 30.0, set.GetWindowLengthS())
	assert.Equal(t, 30.0, set.GetWindowStrideS(), "stride defaults to window length")
	assert.Equal(t, 0.05, set.GetToleranceS())
	assert.Equal(t, "Baseline", set.GetBaselineSegmentLabel())
	assert.Equal(t, PolicyNextOnset, set.GetMissingOffsetPolicy())
	assert.Equal(t, 5*time.Second, set.GetWindowBudget())
	assert.Equal(t, 20, set.GetMinFiducials())
	assert.Equal(t, 0.2, set.GetMaxMissingRatio())
	assert.Equal(t, AggMean, set.AggregationFor("anything"))
	assert.Equal(t, CorrNone, set.CorrectionFor("anything"))
}

func TestLoadFullConfig(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, `{
		"sampling_rate_hz": 250,
		"window_length_s": 20,
		"window_stride_s": 10,
		"tolerance_s": 0.1,
		"window_budget": "250ms",
		"quality": {
			"min_fiducials": 5,
			"max_missing_ratio": 0.5,
			"plausible_bounds": {"heart_rate_bpm": {"min": 30, "max": 220}},
			"outlier_feature": "sdnn_ms",
			"outlier_z_threshold": 3
		},
		"features": {
			"peak_count": {"aggregation": "sum"},
			"heart_rate_bpm": {"correction": "subtractive"}
		},
		"segments": [
			{"label": "Baseline", "event_name": "baseline_start", "default_duration_s": 300},
			{"label": "Story 1", "event_name": "story1"}
		]
	}`)

	set, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 250.0, set.GetSamplingRateHz())
	assert.Equal(t, 10.0, set.GetWindowStrideS())
	assert.Equal(t, 250*time.Millisecond, set.GetWindowBudget())
	assert.Equal(t, 5, set.GetMinFiducials())

	b, ok := set.GetPlausibleBounds("heart_rate_bpm")
	require.True(t, ok)
	assert.Equal(t, 30.0, *b.Min)
	assert.Equal(t, 220.0, *b.Max)

	feature, z := set.GetOutlierGate()
	assert.Equal(t, "sdnn_ms", feature)
	assert.Equal(t, 3.0, z)

	assert.Equal(t, AggSum, set.AggregationFor("peak_count"))
	assert.Equal(t, CorrSubtractive, set.CorrectionFor("heart_rate_bpm"))

	assert.Equal(t, 300.0, set.DefaultDurationFor("Baseline"))
	assert.Equal(t, 0.0, set.DefaultDurationFor("Story 1"))
	assert.Equal(t, "Baseline", set.LabelForEvent("baseline_start"))
	assert.Equal(t, "baseline_start", set.EventNameFor("Baseline"))
}

func TestLoadRejectsBadFiles(t *testing.T) {
	t.Parallel()

	t.Run("wrong extension", func(t *testing.T) {
		t.Parallel()
		path := filepath.Join(t.TempDir(), "params.yaml")
		require.NoError(t, os.WriteFile(path, []byte(`{}`), 0o644))
		_, err := Load(path)
		assert.Error(t, err)
	})

	t.Run("missing file", func(t *testing.T) {
		t.Parallel()
		_, err := Load(filepath.Join(t.TempDir(), "nope.json"))
		assert.Error(t, err)
	})

	t.Run("malformed JSON", func(t *testing.T) {
		t.Parallel()
		_, err := Load(writeConfig(t, `{not json`))
		assert.Error(t, err)
	})
}

func TestValidate(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		config string
	}{
		{"negative sampling rate", `{"sampling_rate_hz": -1}`},
		{"zero window length", `{"window_length_s": 0}`},
		{"zero stride", `{"window_stride_s": 0}`},
		{"negative tolerance", `{"tolerance_s": -0.1}`},
		{"unknown offset policy", `{"missing_offset_policy": "guess"}`},
		{"bad budget", `{"window_budget": "fast"}`},
		{"missing ratio above one", `{"quality": {"max_missing_ratio": 1.5}}`},
		{"inverted bounds", `{"quality": {"plausible_bounds": {"x": {"min": 10, "max": 1}}}}`},
		{"unknown aggregation", `{"features": {"x": {"aggregation": "median"}}}`},
		{"unknown correction", `{"features": {"x": {"correction": "log"}}}`},
		{"segment without label", `{"segments": [{"label": "", "event_name": "e"}]}`},
		{"segment without event", `{"segments": [{"label": "Baseline", "event_name": ""}]}`},
		{"invalid subject override", `{"subject_overrides": {"s01": {"window_length_s": -5}}}`},
	}
	for _, c := range cases {
		c := c
		t.Run(c.name, func(t *testing.T) {
			t.Parallel()
			_, err := Load(writeConfig(t, c.config))
			assert.Error(t, err)
		})
	}
}

func TestForSubject(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, `{
		"window_length_s": 30,
		"quality": {"min_fiducials": 20},
		"features": {"peak_count": {"aggregation": "sum"}},
		"subject_overrides": {
			"s02": {
				"window_length_s": 10,
				"quality": {"min_fiducials": 5},
				"features": {"heart_rate_bpm": {"correction": "ratio"}}
			}
		}
	}`)
	set, err := Load(path)
	require.NoError(t, err)

	t.Run("override applies", func(t *testing.T) {
		merged := set.ForSubject("s02")
		assert.Equal(t, 10.0, merged.GetWindowLengthS())
		assert.Equal(t, 5, merged.GetMinFiducials())
		assert.Equal(t, CorrRatio, merged.CorrectionFor("heart_rate_bpm"))
		assert.Equal(t, AggSum, merged.AggregationFor("peak_count"), "unspecified keys keep defaults")
	})

	t.Run("unknown subject gets defaults", func(t *testing.T) {
		merged := set.ForSubject("s99")
		assert.Equal(t, 30.0, merged.GetWindowLengthS())
		assert.Equal(t, 20, merged.GetMinFiducials())
	})

	t.Run("defaults never mutated", func(t *testing.T) {
		_ = set.ForSubject("s02")
		assert.Equal(t, 30.0, set.GetWindowLengthS())
		assert.Equal(t, 20, set.GetMinFiducials())
		assert.Equal(t, CorrNone, set.CorrectionFor("heart_rate_bpm"))
	})
}
