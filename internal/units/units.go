// Package units provides shared conversions between sample counts,
// seconds and physiological rates.
package units

// SecondsPerMinute is used for beat-rate conversions.
const SecondsPerMinute = 60.0

// SamplesFor returns the number of samples spanning d seconds at the given
// sampling rate, truncated toward zero.
func SamplesFor(d, rateHz float64) int {
	if d <= 0 || rateHz <= 0 {
		return 0
	}
	return int(d * rateHz)
}

// Seconds returns the duration in seconds of n samples at the given rate.
func Seconds(n int, rateHz float64) float64 {
	if rateHz <= 0 {
		return 0
	}
	return float64(n) / rateHz
}

// BPM converts an event count over a span in seconds to a per-minute rate.
func BPM(count int, spanSeconds float64) float64 {
	if spanSeconds <= 0 {
		return 0
	}
	return SecondsPerMinute * float64(count) / spanSeconds
}

// MS converts seconds to milliseconds.
func MS(seconds float64) float64 { return seconds * 1000 }
