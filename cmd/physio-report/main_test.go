package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeSubject(t *testing.T, root, id string) {
	t.Helper()
	dir := filepath.Join(root, id)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "samples.csv"),
		[]byte("timestamp,ecg\n0.0,0.1\n0.002,0.2\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "events.csv"),
		[]byte("type,label,timestamp\nmarker,Baseline,0.0\n"), 0o644))
}

func TestLoadSubjects(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	writeSubject(t, root, "s01")
	writeSubject(t, root, "s02")

	t.Run("loads all", func(t *testing.T) {
		t.Parallel()
		subjects, err := loadSubjects(root, "")
		require.NoError(t, err)
		require.Len(t, subjects, 2)
		assert.Equal(t, "s01", subjects[0].ID)
		assert.Equal(t, "s02", subjects[1].ID)
	})

	t.Run("filters to one subject", func(t *testing.T) {
		t.Parallel()
		subjects, err := loadSubjects(root, "s02")
		require.NoError(t, err)
		require.Len(t, subjects, 1)
		assert.Equal(t, "s02", subjects[0].ID)
	})

	t.Run("unknown subject yields none", func(t *testing.T) {
		t.Parallel()
		subjects, err := loadSubjects(root, "s99")
		require.NoError(t, err)
		assert.Empty(t, subjects)
	})
}

func TestLoadSubjectsSkipsMalformedRecording(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	writeSubject(t, root, "s01")
	bad := filepath.Join(root, "s02")
	require.NoError(t, os.MkdirAll(bad, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(bad, "samples.csv"),
		[]byte("timestamp,ecg\n0.0,not-a-number\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(bad, "events.csv"),
		[]byte("type,label,timestamp\n"), 0o644))

	subjects, err := loadSubjects(root, "")
	require.NoError(t, err)
	require.Len(t, subjects, 1)
	assert.Equal(t, "s01", subjects[0].ID)
}
