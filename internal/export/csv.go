// Package export writes the run's output tables as CSV, optionally
// gzip-compressed. Column and row order are deterministic so identical
// inputs produce byte-identical files.
package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/klauspost/compress/gzip"

	"github.com/physio-data/physio.report/internal/fsutil"
	"github.com/physio-data/physio.report/internal/physio"
	"github.com/physio-data/physio.report/internal/pipeline"
)

// Writer exports subject results into a directory.
type Writer struct {
	Dir  string
	Gzip bool
	FS   fsutil.FileSystem
}

// WriteAll writes the aggregate, corrected-metric, window and warning
// tables for the batch.
func (w *Writer) WriteAll(results []pipeline.SubjectResult) error {
	fs := w.fs()
	if err := fs.MkdirAll(w.Dir, 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	var aggs []physio.SegmentAggregate
	var metrics []physio.CorrectedMetric
	var windows []physio.WindowResult
	var warnings []physio.AlignmentWarning
	for _, r := range results {
		aggs = append(aggs, r.Aggregates...)
		metrics = append(metrics, r.Corrected...)
		windows = append(windows, r.Windows...)
		warnings = append(warnings, r.Warnings...)
	}

	tables := []struct {
		name  string
		write func(io.Writer) error
	}{
		{"segment_aggregates.csv", func(out io.Writer) error { return WriteAggregates(out, aggs) }},
		{"corrected_metrics.csv", func(out io.Writer) error { return WriteCorrected(out, metrics) }},
		{"window_results.csv", func(out io.Writer) error { return WriteWindows(out, windows) }},
		{"alignment_warnings.csv", func(out io.Writer) error { return WriteWarnings(out, warnings) }},
	}
	for _, t := range tables {
		if err := w.writeFile(t.name, t.write); err != nil {
			return err
		}
	}
	return nil
}

func (w *Writer) writeFile(name string, write func(io.Writer) error) error {
	if w.Gzip {
		name += ".gz"
	}
	f, err := w.fs().Create(filepath.Join(w.Dir, name))
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", name, err)
	}

	var out io.Writer = f
	var gz *gzip.Writer
	if w.Gzip {
		gz = gzip.NewWriter(f)
		out = gz
	}
	if err := write(out); err != nil {
		f.Close()
		return fmt.Errorf("failed to write %s: %w", name, err)
	}
	// Close errors surface truncated output, e.g. a full disk at the
	// final gzip flush, so they must not be swallowed.
	if gz != nil {
		if err := gz.Close(); err != nil {
			f.Close()
			return fmt.Errorf("failed to flush %s: %w", name, err)
		}
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", name, err)
	}
	return nil
}

func (w *Writer) fs() fsutil.FileSystem {
	if w.FS != nil {
		return w.FS
	}
	return fsutil.OSFileSystem{}
}

// WriteAggregates writes one row per (subject, segment instance) with one
// column per feature. Undefined feature values export as empty cells.
func WriteAggregates(out io.Writer, aggs []physio.SegmentAggregate) error {
	features := physio.SortedFeatureNames(aggs)

	sorted := make([]physio.SegmentAggregate, len(aggs))
	copy(sorted, aggs)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].SubjectID != sorted[j].SubjectID {
			return sorted[i].SubjectID < sorted[j].SubjectID
		}
		return sorted[i].SegmentName < sorted[j].SegmentName
	})

	cw := csv.NewWriter(out)
	header := append([]string{
		"subject_id", "segment_label", "segment_instance", "segment_name",
		"duration_s", "usable_window_count", "total_window_count",
	}, features...)
	if err := cw.Write(header); err != nil {
		return err
	}
	for _, a := range sorted {
		row := []string{
			a.SubjectID, a.Label, strconv.Itoa(a.Instance), a.SegmentName,
			formatFloat(a.Duration), strconv.Itoa(a.UsableWindows), strconv.Itoa(a.TotalWindows),
		}
		for _, name := range features {
			row = append(row, formatValue(a.Features[name]))
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteCorrected writes one row per (subject, segment, feature).
func WriteCorrected(out io.Writer, metrics []physio.CorrectedMetric) error {
	sorted := make([]physio.CorrectedMetric, len(metrics))
	copy(sorted, metrics)
	sort.Slice(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if a.SubjectID != b.SubjectID {
			return a.SubjectID < b.SubjectID
		}
		if a.SegmentName != b.SegmentName {
			return a.SegmentName < b.SegmentName
		}
		return a.Feature < b.Feature
	})

	cw := csv.NewWriter(out)
	if err := cw.Write([]string{
		"subject_id", "segment_name", "feature",
		"raw_value", "baseline_value", "corrected_value",
	}); err != nil {
		return err
	}
	for _, m := range sorted {
		if err := cw.Write([]string{
			m.SubjectID, m.SegmentName, m.Feature,
			formatValue(m.Raw), formatValue(m.Baseline), formatValue(m.Corrected),
		}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteWindows writes the per-window QA table.
func WriteWindows(out io.Writer, windows []physio.WindowResult) error {
	features := windowFeatureNames(windows)

	sorted := make([]physio.WindowResult, len(windows))
	copy(sorted, windows)
	sort.Slice(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if a.SubjectID != b.SubjectID {
			return a.SubjectID < b.SubjectID
		}
		if a.SegmentName != b.SegmentName {
			return a.SegmentName < b.SegmentName
		}
		return a.WindowIndex < b.WindowIndex
	})

	cw := csv.NewWriter(out)
	header := append([]string{
		"subject_id", "segment_name", "window_index", "start_s", "end_s",
		"fiducial_count", "missing_ratio", "usable", "unusable_reason",
	}, features...)
	if err := cw.Write(header); err != nil {
		return err
	}
	for _, r := range sorted {
		row := []string{
			r.SubjectID, r.SegmentName, strconv.Itoa(r.WindowIndex),
			formatFloat(r.Start), formatFloat(r.End),
			strconv.Itoa(r.FiducialsN), formatFloat(r.MissingRatio),
			strconv.FormatBool(r.Usable), string(r.Reason),
		}
		for _, name := range features {
			if v, ok := r.Features[name]; ok {
				row = append(row, formatFloat(v))
			} else {
				row = append(row, "")
			}
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteWarnings writes the alignment warning QA table.
func WriteWarnings(out io.Writer, warnings []physio.AlignmentWarning) error {
	sorted := make([]physio.AlignmentWarning, len(warnings))
	copy(sorted, warnings)
	sort.Slice(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if a.SubjectID != b.SubjectID {
			return a.SubjectID < b.SubjectID
		}
		if a.T != b.T {
			return a.T < b.T
		}
		return a.Reason < b.Reason
	})

	cw := csv.NewWriter(out)
	if err := cw.Write([]string{"subject_id", "event_label", "event_t", "reason"}); err != nil {
		return err
	}
	for _, w := range sorted {
		if err := cw.Write([]string{w.SubjectID, w.Label, formatFloat(w.T), w.Reason}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func windowFeatureNames(windows []physio.WindowResult) []string {
	seen := make(map[string]bool)
	for _, r := range windows {
		for name := range r.Features {
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

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

func formatValue(v physio.Value) string {
	if !v.Defined {
		return ""
	}
	return formatFloat(v.V)
}
