// Package ingest loads the uniform sample and event tables the pipeline
// consumes. Vendor-specific raw formats are converted upstream; this
// package only reads the already-uniform CSV shape.
package ingest

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/physio-data/physio.report/internal/physio"
	"github.com/physio-data/physio.report/internal/pipeline"
)

// SampleFileName and EventFileName are the expected files inside each
// subject's directory.
const (
	SampleFileName = "samples.csv"
	EventFileName  = "events.csv"
)

// ReadSampleTable parses a sample table: a header row starting with
// "timestamp" followed by one column per channel, then one row per sample.
// Timestamps must be monotonically non-decreasing. Decimal commas are
// accepted for values exported by European vendor tooling.
func ReadSampleTable(r io.Reader) ([]physio.Sample, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read sample header: %w", err)
	}
	if len(header) < 2 || strings.ToLower(strings.TrimSpace(header[0])) != "timestamp" {
		return nil, fmt.Errorf("sample header must be timestamp,<channel>...; got %v", header)
	}
	channels := make([]string, len(header)-1)
	for i, name := range header[1:] {
		channels[i] = strings.TrimSpace(name)
	}

	var samples []physio.Sample
	prev := 0.0
	line := 1
	for {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read sample row %d: %w", line+1, err)
		}
		line++
		if len(record) != len(header) {
			return nil, fmt.Errorf("sample row %d has %d fields, want %d", line, len(record), len(header))
		}

		t, err := parseFloat(record[0])
		if err != nil {
			return nil, fmt.Errorf("sample row %d: bad timestamp %q: %w", line, record[0], err)
		}
		if len(samples) > 0 && t < prev {
			return nil, fmt.Errorf("sample row %d: timestamp %f before previous %f", line, t, prev)
		}
		prev = t

		s := physio.Sample{T: t, Channels: make(map[string]float64, len(channels))}
		for i, name := range channels {
			v, err := parseFloat(record[i+1])
			if err != nil {
				return nil, fmt.Errorf("sample row %d: bad %s value %q: %w", line, name, record[i+1], err)
			}
			s.Channels[name] = v
		}
		samples = append(samples, s)
	}
	return samples, nil
}

// ReadEventTable parses an event table with header type,label,timestamp.
// Rows are returned sorted by timestamp; the slice is immutable once
// loaded.
func ReadEventTable(r io.Reader) ([]physio.Event, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read event header: %w", err)
	}
	if len(header) != 3 {
		return nil, fmt.Errorf("event header must be type,label,timestamp; got %v", header)
	}

	var events []physio.Event
	line := 1
	for {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read event row %d: %w", line+1, err)
		}
		line++
		if len(record) != 3 {
			return nil, fmt.Errorf("event row %d has %d fields, want 3", line, len(record))
		}
		t, err := parseFloat(record[2])
		if err != nil {
			return nil, fmt.Errorf("event row %d: bad timestamp %q: %w", line, record[2], err)
		}
		events = append(events, physio.Event{
			Type:  strings.TrimSpace(record[0]),
			Label: strings.TrimSpace(record[1]),
			T:     t,
		})
	}

	sort.SliceStable(events, func(i, j int) bool { return events[i].T < events[j].T })
	return events, nil
}

// LoadSubjectDir reads one subject's samples.csv and events.csv from dir.
// The directory's base name is the subject id.
func LoadSubjectDir(dir string) (pipeline.Subject, error) {
	sub := pipeline.Subject{ID: filepath.Base(filepath.Clean(dir))}

	sf, err := os.Open(filepath.Join(dir, SampleFileName))
	if err != nil {
		return sub, fmt.Errorf("subject %s: %w", sub.ID, err)
	}
	defer sf.Close()
	sub.Samples, err = ReadSampleTable(sf)
	if err != nil {
		return sub, fmt.Errorf("subject %s: %w", sub.ID, err)
	}

	ef, err := os.Open(filepath.Join(dir, EventFileName))
	if err != nil {
		return sub, fmt.Errorf("subject %s: %w", sub.ID, err)
	}
	defer ef.Close()
	sub.Events, err = ReadEventTable(ef)
	if err != nil {
		return sub, fmt.Errorf("subject %s: %w", sub.ID, err)
	}
	return sub, nil
}

// DiscoverSubjects lists the subject directories under root (any
// subdirectory containing a samples.csv), sorted by name.
func DiscoverSubjects(root string) ([]string, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("failed to read data directory: %w", err)
	}
	var dirs []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		dir := filepath.Join(root, e.Name())
		if _, err := os.Stat(filepath.Join(dir, SampleFileName)); err == nil {
			dirs = append(dirs, dir)
		}
	}
	sort.Strings(dirs)
	return dirs, nil
}

// parseFloat accepts both dot and comma decimal separators.
func parseFloat(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if strings.Contains(s, ",") && !strings.Contains(s, ".") {
		s = strings.Replace(s, ",", ".", 1)
	}
	return strconv.ParseFloat(s, 64)
}
