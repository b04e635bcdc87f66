// Package params holds the run configuration for the feature-extraction
// pipeline. A Set is loaded once per run from JSON and is read-only
// thereafter; per-subject overrides are merged by value before a subject's
// pipeline starts, never by mutating the shared defaults.
package params

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Aggregation modes for per-feature reduction.
const (
	AggMean = "mean"
	AggSum  = "sum"
	AggRate = "rate_per_second"
)

// Correction modes for baseline-relative metrics.
const (
	CorrSubtractive = "subtractive"
	CorrRatio       = "ratio"
	CorrNone        = "none"
)

// Missing-offset policies for a trailing onset with no matching offset.
const (
	PolicyNextOnset       = "next_onset"
	PolicyDefaultDuration = "default_duration"
	PolicyRecordingEnd    = "recording_end"
)

// FeaturePolicy describes how one feature is reduced and corrected.
// Tagged data interpreted by a generic reducer; the aggregator has no
// per-feature branches.
type FeaturePolicy struct {
	Aggregation *string `json:"aggregation,omitempty"`
	Correction  *string `json:"correction,omitempty"`
}

// Bounds is a closed plausibility interval for a feature value.
type Bounds struct {
	Min *float64 `json:"min,omitempty"`
	Max *float64 `json:"max,omitempty"`
}

// Quality holds the QualityGate thresholds. All thresholds are evaluated
// independently per window.
type Quality struct {
	MinFiducials    *int              `json:"min_fiducials,omitempty"`
	MaxMissingRatio *float64          `json:"max_missing_ratio,omitempty"`
	PlausibleBounds map[string]Bounds `json:"plausible_bounds,omitempty"`

	// Optional z-score outlier pass applied over a segment's usable
	// windows before aggregation. Disabled when the feature is empty or
	// the threshold is zero.
	OutlierFeature    *string  `json:"outlier_feature,omitempty"`
	OutlierZThreshold *float64 `json:"outlier_z_threshold,omitempty"`
}

// SegmentSpec names one expected analysis segment and the event label that
// bounds it. DefaultDurationS backs the default_duration missing-offset
// policy for this segment.
type SegmentSpec struct {
	Label            string   `json:"label"`
	EventName        string   `json:"event_name"`
	DefaultDurationS *float64 `json:"default_duration_s,omitempty"`
}

// Set is the root parameter set. Fields omitted from the JSON file retain
// defaults via the Get* accessors, so partial configs are safe.
type Set struct {
	SamplingRateHz       *float64 `json:"sampling_rate_hz,omitempty"`
	SignalChannel        *string  `json:"signal_channel,omitempty"`
	WindowLengthS        *float64 `json:"window_length_s,omitempty"`
	WindowStrideS        *float64 `json:"window_stride_s,omitempty"`
	ToleranceS           *float64 `json:"tolerance_s,omitempty"`
	BaselineSegmentLabel *string  `json:"baseline_segment_label,omitempty"`
	MissingOffsetPolicy  *string  `json:"missing_offset_policy,omitempty"`
	WindowBudget         *string  `json:"window_budget,omitempty"` // duration string like "5s"

	Quality  *Quality                 `json:"quality,omitempty"`
	Features map[string]FeaturePolicy `json:"features,omitempty"`
	Segments []SegmentSpec            `json:"segments,omitempty"`

	// SubjectOverrides maps subject id to a partial Set replacing any
	// subset of the defaults. Only honored on the top-level Set.
	SubjectOverrides map[string]*Set `json:"subject_overrides,omitempty"`
}

// Load reads and validates a Set from a JSON file. A load failure is the
// only batch-fatal condition in the pipeline.
func Load(path string) (*Set, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	set := &Set{}
	if err := json.Unmarshal(data, set); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := set.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	for id, ov := range set.SubjectOverrides {
		if ov == nil {
			continue
		}
		if err := ov.Validate(); err != nil {
			return nil, fmt.Errorf("invalid override for subject %q: %w", id, err)
		}
	}

	return set, nil
}

// Validate checks that the configured values are usable.
func (s *Set) Validate() error {
	if s.SamplingRateHz != nil && *s.SamplingRateHz <= 0 {
		return fmt.Errorf("sampling_rate_hz must be positive, got %f", *s.SamplingRateHz)
	}
	if s.WindowLengthS != nil && *s.WindowLengthS <= 0 {
		return fmt.Errorf("window_length_s must be positive, got %f", *s.WindowLengthS)
	}
	if s.WindowStrideS != nil && *s.WindowStrideS <= 0 {
		return fmt.Errorf("window_stride_s must be positive, got %f", *s.WindowStrideS)
	}
	if s.ToleranceS != nil && *s.ToleranceS < 0 {
		return fmt.Errorf("tolerance_s must be non-negative, got %f", *s.ToleranceS)
	}
	if s.MissingOffsetPolicy != nil {
		switch *s.MissingOffsetPolicy {
		case PolicyNextOnset, PolicyDefaultDuration, PolicyRecordingEnd:
		default:
			return fmt.Errorf("unknown missing_offset_policy %q", *s.MissingOffsetPolicy)
		}
	}
	if s.WindowBudget != nil && *s.WindowBudget != "" {
		if _, err := time.ParseDuration(*s.WindowBudget); err != nil {
			return fmt.Errorf("invalid window_budget %q: %w", *s.WindowBudget, err)
		}
	}
	if s.Quality != nil {
		if s.Quality.MinFiducials != nil && *s.Quality.MinFiducials < 0 {
			return fmt.Errorf("min_fiducials must be non-negative, got %d", *s.Quality.MinFiducials)
		}
		if s.Quality.MaxMissingRatio != nil && (*s.Quality.MaxMissingRatio < 0 || *s.Quality.MaxMissingRatio > 1) {
			return fmt.Errorf("max_missing_ratio must be between 0 and 1, got %f", *s.Quality.MaxMissingRatio)
		}
		for name, b := range s.Quality.PlausibleBounds {
			if b.Min != nil && b.Max != nil && *b.Min > *b.Max {
				return fmt.Errorf("plausible_bounds for %q: min %f > max %f", name, *b.Min, *b.Max)
			}
		}
	}
	for name, p := range s.Features {
		if p.Aggregation != nil {
			switch *p.Aggregation {
			case AggMean, AggSum, AggRate:
			default:
				return fmt.Errorf("feature %q: unknown aggregation %q", name, *p.Aggregation)
			}
		}
		if p.Correction != nil {
			switch *p.Correction {
			case CorrSubtractive, CorrRatio, CorrNone:
			default:
				return fmt.Errorf("feature %q: unknown correction %q", name, *p.Correction)
			}
		}
	}
	for i, spec := range s.Segments {
		if spec.Label == "" {
			return fmt.Errorf("segments[%d]: label must not be empty", i)
		}
		if spec.EventName == "" {
			return fmt.Errorf("segments[%d] (%s): event_name must not be empty", i, spec.Label)
		}
		if spec.DefaultDurationS != nil && *spec.DefaultDurationS <= 0 {
			return fmt.Errorf("segments[%d] (%s): default_duration_s must be positive", i, spec.Label)
		}
	}
	return nil
}

// ForSubject returns a copy of the Set with the subject's override record
// applied. The receiver is never mutated.
func (s *Set) ForSubject(subjectID string) Set {
	merged := *s
	merged.SubjectOverrides = nil

	// Maps and slices are copied so the merged Set shares nothing mutable
	// with the defaults.
	merged.Features = copyFeatures(s.Features)
	merged.Segments = append([]SegmentSpec(nil), s.Segments...)
	if s.Quality != nil {
		q := *s.Quality
		q.PlausibleBounds = copyBounds(s.Quality.PlausibleBounds)
		merged.Quality = &q
	}

	ov, ok := s.SubjectOverrides[subjectID]
	if !ok || ov == nil {
		return merged
	}

	if ov.SamplingRateHz != nil {
		merged.SamplingRateHz = ov.SamplingRateHz
	}
	if ov.SignalChannel != nil {
		merged.SignalChannel = ov.SignalChannel
	}
	if ov.WindowLengthS != nil {
		merged.WindowLengthS = ov.WindowLengthS
	}
	if ov.WindowStrideS != nil {
		merged.WindowStrideS = ov.WindowStrideS
	}
	if ov.ToleranceS != nil {
		merged.ToleranceS = ov.ToleranceS
	}
	if ov.BaselineSegmentLabel != nil {
		merged.BaselineSegmentLabel = ov.BaselineSegmentLabel
	}
	if ov.MissingOffsetPolicy != nil {
		merged.MissingOffsetPolicy = ov.MissingOffsetPolicy
	}
	if ov.WindowBudget != nil {
		merged.WindowBudget = ov.WindowBudget
	}
	if ov.Quality != nil {
		if merged.Quality == nil {
			merged.Quality = &Quality{}
		}
		if ov.Quality.MinFiducials != nil {
			merged.Quality.MinFiducials = ov.Quality.MinFiducials
		}
		if ov.Quality.MaxMissingRatio != nil {
			merged.Quality.MaxMissingRatio = ov.Quality.MaxMissingRatio
		}
		if ov.Quality.OutlierFeature != nil {
			merged.Quality.OutlierFeature = ov.Quality.OutlierFeature
		}
		if ov.Quality.OutlierZThreshold != nil {
			merged.Quality.OutlierZThreshold = ov.Quality.OutlierZThreshold
		}
		if len(ov.Quality.PlausibleBounds) > 0 {
			if merged.Quality.PlausibleBounds == nil {
				merged.Quality.PlausibleBounds = make(map[string]Bounds)
			}
			for name, b := range ov.Quality.PlausibleBounds {
				merged.Quality.PlausibleBounds[name] = b
			}
		}
	}
	if len(ov.Features) > 0 {
		if merged.Features == nil {
			merged.Features = make(map[string]FeaturePolicy)
		}
		for name, p := range ov.Features {
			merged.Features[name] = p
		}
	}
	if len(ov.Segments) > 0 {
		merged.Segments = append([]SegmentSpec(nil), ov.Segments...)
	}

	return merged
}

func copyFeatures(in map[string]FeaturePolicy) map[string]FeaturePolicy {
	if in == nil {
		return nil
	}
	out := make(map[string]FeaturePolicy, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func copyBounds(in map[string]Bounds) map[string]Bounds {
	if in == nil {
		return nil
	}
	out := make(map[string]Bounds, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// GetSamplingRateHz returns the sampling rate or the default.
func (s *Set) GetSamplingRateHz() float64 {
	if s.SamplingRateHz == nil {
		return 500 // default
	}
	return *s.SamplingRateHz
}

// GetSignalChannel returns the analyzed channel name or the default.
func (s *Set) GetSignalChannel() string {
	if s.SignalChannel == nil {
		return "ecg"
	}
	return *s.SignalChannel
}

// GetWindowLengthS returns the analysis window length or the default.
func (s *Set) GetWindowLengthS() float64 {
	if s.WindowLengthS == nil {
		return 30
	}
	return *s.WindowLengthS
}

// GetWindowStrideS returns the window stride. The default equals the
// window length, i.e. non-overlapping windows.
func (s *Set) GetWindowStrideS() float64 {
	if s.WindowStrideS == nil {
		return s.GetWindowLengthS()
	}
	return *s.WindowStrideS
}

// GetToleranceS returns the event-alignment tolerance or the default.
func (s *Set) GetToleranceS() float64 {
	if s.ToleranceS == nil {
		return 0.05
	}
	return *s.ToleranceS
}

// GetBaselineSegmentLabel returns the designated baseline label.
func (s *Set) GetBaselineSegmentLabel() string {
	if s.BaselineSegmentLabel == nil {
		return "Baseline"
	}
	return *s.BaselineSegmentLabel
}

// GetMissingOffsetPolicy returns the policy for a trailing onset with no
// offset event.
func (s *Set) GetMissingOffsetPolicy() string {
	if s.MissingOffsetPolicy == nil {
		return PolicyNextOnset
	}
	return *s.MissingOffsetPolicy
}

// GetWindowBudget parses and returns the per-window compute budget. Zero
// disables the guard.
func (s *Set) GetWindowBudget() time.Duration {
	if s.WindowBudget == nil || *s.WindowBudget == "" {
		return 5 * time.Second // default
	}
	d, err := time.ParseDuration(*s.WindowBudget)
	if err != nil {
		return 5 * time.Second // default on parse error
	}
	return d
}

// GetMinFiducials returns the minimum fiducial count for a usable window.
func (s *Set) GetMinFiducials() int {
	if s.Quality == nil || s.Quality.MinFiducials == nil {
		return 20
	}
	return *s.Quality.MinFiducials
}

// GetMaxMissingRatio returns the maximum tolerated missing-sample ratio.
func (s *Set) GetMaxMissingRatio() float64 {
	if s.Quality == nil || s.Quality.MaxMissingRatio == nil {
		return 0.2
	}
	return *s.Quality.MaxMissingRatio
}

// GetPlausibleBounds returns the plausibility interval for a feature and
// whether one is configured.
func (s *Set) GetPlausibleBounds(feature string) (Bounds, bool) {
	if s.Quality == nil {
		return Bounds{}, false
	}
	b, ok := s.Quality.PlausibleBounds[feature]
	return b, ok
}

// GetOutlierGate returns the z-score outlier gate settings. An empty
// feature name or zero threshold disables the pass.
func (s *Set) GetOutlierGate() (feature string, z float64) {
	if s.Quality == nil {
		return "", 0
	}
	if s.Quality.OutlierFeature != nil {
		feature = *s.Quality.OutlierFeature
	}
	if s.Quality.OutlierZThreshold != nil {
		z = *s.Quality.OutlierZThreshold
	}
	return feature, z
}

// AggregationFor returns the aggregation mode for a feature, defaulting
// to mean.
func (s *Set) AggregationFor(feature string) string {
	if p, ok := s.Features[feature]; ok && p.Aggregation != nil {
		return *p.Aggregation
	}
	return AggMean
}

// CorrectionFor returns the correction mode for a feature, defaulting
// to none.
func (s *Set) CorrectionFor(feature string) string {
	if p, ok := s.Features[feature]; ok && p.Correction != nil {
		return *p.Correction
	}
	return CorrNone
}

// DefaultDurationFor returns the configured default duration for a segment
// label, or zero when none is configured.
func (s *Set) DefaultDurationFor(label string) float64 {
	for _, spec := range s.Segments {
		if spec.Label == label && spec.DefaultDurationS != nil {
			return *spec.DefaultDurationS
		}
	}
	return 0
}

// EventNameFor returns the event name bounding a segment label, falling
// back to the label itself when no segment plan entry exists.
func (s *Set) EventNameFor(label string) string {
	for _, spec := range s.Segments {
		if spec.Label == label {
			return spec.EventName
		}
	}
	return label
}

// LabelForEvent returns the segment label for an event name, falling back
// to the event name itself. Events not named by any segment plan entry are
// still segmented under their own label.
func (s *Set) LabelForEvent(eventName string) string {
	for _, spec := range s.Segments {
		if spec.EventName == eventName {
			return spec.Label
		}
	}
	return eventName
}
