package segment

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/physio-data/physio.report/internal/physio"
	"github.com/physio-data/physio.report/internal/testutil"
)

func TestCut(t *testing.T) {
	t.Parallel()
	samples := testutil.FlatSignal("ecg", 10, 1.0, 10) // 100 samples, 0.0 .. 9.9

	t.Run("boundary samples are inclusive", func(t *testing.T) {
		t.Parallel()
		segs := Cut("s01", samples, []physio.Boundary{
			{Label: "Baseline", Onset: 2.0, Offset: 4.0},
		})
		require.Len(t, segs, 1)
		seg := segs[0]
		assert.False(t, seg.Invalid)
		require.Len(t, seg.Samples, 21)
		assert.Equal(t, 2.0, seg.Samples[0].T)
		assert.Equal(t, 4.0, seg.Samples[len(seg.Samples)-1].T)
		assert.Equal(t, 2.0, seg.Duration(), "duration comes from the boundary, not the samples")
	})

	t.Run("overlapping boundaries produce independent segments", func(t *testing.T) {
		t.Parallel()
		segs := Cut("s01", samples, []physio.Boundary{
			{Label: "Story 1", Onset: 1.0, Offset: 5.0},
			{Label: "Story 2", Onset: 3.0, Offset: 7.0},
		})
		require.Len(t, segs, 2)
		assert.Len(t, segs[0].Samples, 41)
		assert.Len(t, segs[1].Samples, 41)
	})

	t.Run("empty boundary kept as invalid segment", func(t *testing.T) {
		t.Parallel()
		segs := Cut("s01", samples, []physio.Boundary{
			{Label: "Story 1", Onset: 50.0, Offset: 60.0},
		})
		require.Len(t, segs, 1)
		assert.True(t, segs[0].Invalid)
		assert.Empty(t, segs[0].Samples)
	})

	t.Run("instance carried into segment name", func(t *testing.T) {
		t.Parallel()
		segs := Cut("s01", samples, []physio.Boundary{
			{Label: "Story 1", Instance: 0, Onset: 1.0, Offset: 2.0},
			{Label: "Story 1", Instance: 1, Onset: 5.0, Offset: 6.0},
		})
		require.Len(t, segs, 2)
		assert.Equal(t, "Story 1", segs[0].Name())
		assert.Equal(t, "Story 1#2", segs[1].Name())
	})

	t.Run("no boundaries", func(t *testing.T) {
		t.Parallel()
		assert.Empty(t, Cut("s01", samples, nil))
	})
}
