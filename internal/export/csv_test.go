package export

import (
	"bytes"
	"errors"
	"io"
	"path/filepath"
	"strings"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/physio-data/physio.report/internal/fsutil"
	"github.com/physio-data/physio.report/internal/physio"
	"github.com/physio-data/physio.report/internal/pipeline"
)

func sampleResults() []pipeline.SubjectResult {
	return []pipeline.SubjectResult{
		{
			SubjectID: "s02",
			Aggregates: []physio.SegmentAggregate{
				{
					SubjectID: "s02", Label: "Story 1", SegmentName: "Story 1",
					Duration: 120,
					Features: map[string]physio.Value{
						"heart_rate_bpm": physio.Some(75),
						"sdnn_ms":        physio.Undefined,
					},
					UsableWindows: 6, TotalWindows: 7,
				},
			},
			Corrected: []physio.CorrectedMetric{
				{
					SubjectID: "s02", SegmentName: "Story 1", Feature: "heart_rate_bpm",
					Baseline: physio.Some(62), Raw: physio.Some(75), Corrected: physio.Some(13),
				},
			},
			Windows: []physio.WindowResult{
				{
					SubjectID: "s02", SegmentName: "Story 1", WindowIndex: 0,
					Start: 0, End: 30,
					Features:   map[string]float64{"heart_rate_bpm": 75},
					FiducialsN: 37, Usable: true,
				},
			},
			Warnings: []physio.AlignmentWarning{
				{SubjectID: "s02", Label: "Story 2", T: 500, Reason: "no sample within tolerance"},
			},
		},
		{
			SubjectID: "s01",
			Aggregates: []physio.SegmentAggregate{
				{
					SubjectID: "s01", Label: "Baseline", SegmentName: "Baseline",
					Duration: 120,
					Features: map[string]physio.Value{
						"heart_rate_bpm": physio.Some(62),
					},
					UsableWindows: 7, TotalWindows: 7,
				},
			},
		},
	}
}

func TestWriteAll(t *testing.T) {
	t.Parallel()
	fs := fsutil.NewMemoryFileSystem()
	w := &Writer{Dir: "out", FS: fs}

	require.NoError(t, w.WriteAll(sampleResults()))

	for _, name := range []string{
		"segment_aggregates.csv", "corrected_metrics.csv",
		"window_results.csv", "alignment_warnings.csv",
	} {
		_, err := fs.ReadFile(filepath.Join("out", name))
		assert.NoError(t, err, name)
	}
}

func TestWriteAllDeterministic(t *testing.T) {
	t.Parallel()

	render := func() map[string][]byte {
		fs := fsutil.NewMemoryFileSystem()
		w := &Writer{Dir: "out", FS: fs}
		require.NoError(t, w.WriteAll(sampleResults()))
		out := make(map[string][]byte)
		for _, name := range fs.Files() {
			data, err := fs.ReadFile(name)
			require.NoError(t, err)
			out[name] = data
		}
		return out
	}

	first := render()
	second := render()
	require.Equal(t, len(first), len(second))
	for name, data := range first {
		assert.True(t, bytes.Equal(data, second[name]), "%s differs between runs", name)
	}
}

func TestWriteAggregates(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	var aggs []physio.SegmentAggregate
	for _, r := range sampleResults() {
		aggs = append(aggs, r.Aggregates...)
	}
	require.NoError(t, WriteAggregates(&buf, aggs))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)

	assert.Equal(t,
		"subject_id,segment_label,segment_instance,segment_name,duration_s,usable_window_count,total_window_count,heart_rate_bpm,sdnn_ms",
		lines[0], "feature columns sorted lexically")

	// Rows ordered by subject then segment name; undefined exports as an
	// empty cell, not a zero.
	assert.Equal(t, "s01,Baseline,0,Baseline,120,7,7,62,", lines[1])
	assert.Equal(t, "s02,Story 1,0,Story 1,120,6,7,75,", lines[2])
}

func TestWriteCorrected(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	metrics := []physio.CorrectedMetric{
		{
			SubjectID: "s01", SegmentName: "Story 1", Feature: "sdnn_ms",
			Raw: physio.Some(40),
		},
		{
			SubjectID: "s01", SegmentName: "Story 1", Feature: "heart_rate_bpm",
			Baseline: physio.Some(62), Raw: physio.Some(75), Corrected: physio.Some(13),
		},
	}
	require.NoError(t, WriteCorrected(&buf, metrics))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "subject_id,segment_name,feature,raw_value,baseline_value,corrected_value", lines[0])
	assert.Equal(t, "s01,Story 1,heart_rate_bpm,75,62,13", lines[1], "rows sorted by feature")
	assert.Equal(t, "s01,Story 1,sdnn_ms,40,,", lines[2])
}

func TestWriteWindows(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	windows := []physio.WindowResult{
		{
			SubjectID: "s01", SegmentName: "Baseline", WindowIndex: 1,
			Start: 15, End: 45, FiducialsN: 2, MissingRatio: 0.5,
			Usable: false, Reason: physio.ReasonExcessiveMissingData,
		},
		{
			SubjectID: "s01", SegmentName: "Baseline", WindowIndex: 0,
			Start: 0, End: 30, FiducialsN: 30,
			Features: map[string]float64{"heart_rate_bpm": 60},
			Usable:   true,
		},
	}
	require.NoError(t, WriteWindows(&buf, windows))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "s01,Baseline,0,0,30,30,0,true,,60", lines[1], "windows ordered by index")
	assert.Equal(t, "s01,Baseline,1,15,45,2,0.5,false,excessive_missing_data,", lines[2])
}

func TestWriterGzip(t *testing.T) {
	t.Parallel()
	fs := fsutil.NewMemoryFileSystem()
	w := &Writer{Dir: "out", Gzip: true, FS: fs}
	require.NoError(t, w.WriteAll(sampleResults()))

	data, err := fs.ReadFile(filepath.Join("out", "segment_aggregates.csv.gz"))
	require.NoError(t, err)

	gz, err := gzip.NewReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer gz.Close()
	plain, err := io.ReadAll(gz)
	require.NoError(t, err)
	assert.Contains(t, string(plain), "subject_id,segment_label")
}

// closeFailFS hands out files whose Close always fails, standing in for a
// full disk at flush time.
type closeFailFS struct {
	*fsutil.MemoryFileSystem
}

func (fs closeFailFS) Create(name string) (io.WriteCloser, error) {
	f, err := fs.MemoryFileSystem.Create(name)
	if err != nil {
		return nil, err
	}
	return closeFailFile{f}, nil
}

type closeFailFile struct {
	io.WriteCloser
}

func (closeFailFile) Close() error { return errors.New("synthetic close failure") }

func TestWriteAllPropagatesCloseError(t *testing.T) {
	t.Parallel()
	fs := closeFailFS{fsutil.NewMemoryFileSystem()}

	w := &Writer{Dir: "out", FS: fs}
	err := w.WriteAll(sampleResults())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to close")

	gzw := &Writer{Dir: "out", Gzip: true, FS: fs}
	err = gzw.WriteAll(sampleResults())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "synthetic close failure")
}
