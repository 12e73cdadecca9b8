package evidence

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dj-oyu/parking-fusion/internal/zone"
	"github.com/dj-oyu/parking-fusion/pkg/types"
)

var fixedNow = time.Date(2026, 5, 17, 8, 30, 15, 0, time.Local)

func testFrame(w, h int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 4), G: uint8(y * 4), B: 128, A: 255})
		}
	}
	return img
}

type memIndex struct {
	records []Record
	err     error
}

func (m *memIndex) RecordTransition(_ context.Context, rec Record) error {
	if m.err != nil {
		return m.err
	}
	m.records = append(m.records, rec)
	return nil
}

func newWriter(t *testing.T, journal *bytes.Buffer, idx Index) *Writer {
	t.Helper()
	opts := Options{
		Dir: filepath.Join(t.TempDir(), "events"),
		Now: func() time.Time { return fixedNow },
	}
	if journal != nil {
		opts.Journal = journal
	}
	if idx != nil {
		opts.Index = idx
	}
	return New(opts)
}

func listFiles(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names
}

func TestLogTransition_WritesArtifacts(t *testing.T) {
	var journal bytes.Buffer
	idx := &memIndex{}
	w := newWriter(t, &journal, idx)

	roi := types.Box{X1: 10, Y1: 5, X2: 30, Y2: 25}
	rec, err := w.LogTransition(context.Background(), "cam1", "A1", true, false, testFrame(64, 48), roi)
	require.NoError(t, err)

	wantDir := filepath.Join(w.Dir(), "A1", "2026-05-17_08-30-15")
	assert.Equal(t, wantDir, rec.Dir)
	assert.Equal(t, []string{FrameFile, MetaFile, ROIFile}, listFiles(t, wantDir))

	meta, err := ReadRecord(filepath.Join(wantDir, MetaFile))
	require.NoError(t, err)
	assert.Equal(t, "2026-05-17_08-30-15", meta.Timestamp)
	assert.Equal(t, "A1", meta.SlotID)
	assert.Equal(t, "cam1", meta.CameraID)
	assert.Equal(t, "Free", meta.OldStatus)
	assert.Equal(t, "Occupied", meta.NewStatus)
	assert.Equal(t, filepath.Join(wantDir, FrameFile), meta.FramePath)
	assert.Equal(t, filepath.Join(wantDir, ROIFile), meta.ROIPath)
	assert.Equal(t, [4]int{10, 5, 30, 25}, meta.ROICoords)
	assert.Equal(t, [2]int{48, 64}, meta.ImageSize)

	roiImg, err := imaging.Open(meta.ROIPath)
	require.NoError(t, err)
	assert.Equal(t, 20, roiImg.Bounds().Dx())
	assert.Equal(t, 20, roiImg.Bounds().Dy())

	frameImg, err := imaging.Open(meta.FramePath)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 64, 48), frameImg.Bounds())

	assert.True(t, strings.Contains(journal.String(), "[cam1] A1 status changed: Free -> Occupied — saved to "+wantDir), journal.String())
	require.Len(t, idx.records, 1)
	assert.Equal(t, "A1", idx.records[0].SlotID)
}

func TestLogTransition_MetaOnlyHasDocumentedFields(t *testing.T) {
	w := newWriter(t, nil, nil)
	rec, err := w.LogTransition(context.Background(), "cam2", "B7", false, true, testFrame(16, 16), types.Box{X2: 8, Y2: 8})
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(rec.Dir, MetaFile))
	require.NoError(t, err)
	for _, key := range []string{"timestamp", "slot_id", "camera_id", "old_status", "new_status", "frame_path", "roi_path", "roi_coords", "image_size"} {
		assert.Contains(t, string(data), `"`+key+`"`)
	}
	assert.NotContains(t, string(data), "Dir")
	assert.NotContains(t, string(data), `"Time"`)
}

func TestLogTransition_TruncatesROI(t *testing.T) {
	w := newWriter(t, nil, nil)
	roi := types.Box{X1: 50, Y1: -10, X2: 90, Y2: 20}
	rec, err := w.LogTransition(context.Background(), "cam1", "A2", true, false, testFrame(64, 48), roi)
	require.NoError(t, err)

	// the stored coords are the caller's, the crop is the in-frame part
	assert.Equal(t, [4]int{50, -10, 90, 20}, rec.ROICoords)
	roiImg, err := imaging.Open(rec.ROIPath)
	require.NoError(t, err)
	assert.Equal(t, 14, roiImg.Bounds().Dx())
	assert.Equal(t, 20, roiImg.Bounds().Dy())
}

func TestLogTransition_EmptyROI(t *testing.T) {
	w := newWriter(t, nil, nil)
	_, err := w.LogTransition(context.Background(), "cam1", "A3", true, false, testFrame(64, 48), types.Box{X1: 100, Y1: 100, X2: 120, Y2: 120})

	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrEmptyROI))
	_, statErr := os.Stat(filepath.Join(w.Dir(), "A3"))
	assert.True(t, os.IsNotExist(statErr), "nothing should be written for an empty roi")
}

func TestLogTransition_RejectsPathSlotIDs(t *testing.T) {
	for _, slot := range []string{"../../outside", "..", ".", "a/b", `a\b`, ""} {
		t.Run(slot, func(t *testing.T) {
			w := newWriter(t, nil, nil)
			_, err := w.LogTransition(context.Background(), "cam1", slot, true, false, testFrame(8, 8), types.Box{X2: 4, Y2: 4})

			require.Error(t, err)
			assert.True(t, errors.Is(err, zone.ErrInvalidID))
			_, statErr := os.Stat(filepath.Join(w.Dir(), "..", "..", "outside"))
			assert.True(t, os.IsNotExist(statErr), "nothing may be written outside the evidence dir")
			_, statErr = os.Stat(w.Dir())
			assert.True(t, os.IsNotExist(statErr), "evidence dir should stay untouched")
		})
	}
}

func TestLogTransition_WriteFailure(t *testing.T) {
	base := t.TempDir()
	blocker := filepath.Join(base, "events")
	require.NoError(t, os.WriteFile(blocker, []byte("not a dir"), 0644))

	w := New(Options{Dir: blocker, Now: func() time.Time { return fixedNow }})
	_, err := w.LogTransition(context.Background(), "cam1", "A1", true, false, testFrame(8, 8), types.Box{X2: 4, Y2: 4})
	require.Error(t, err)
}

func TestLogTransition_IndexFailureIsReported(t *testing.T) {
	idx := &memIndex{err: errors.New("db locked")}
	w := newWriter(t, nil, idx)

	rec, err := w.LogTransition(context.Background(), "cam1", "A1", false, true, testFrame(8, 8), types.Box{X2: 4, Y2: 4})
	require.Error(t, err)
	require.NotNil(t, rec, "files were written before the index failed")
	_, statErr := os.Stat(filepath.Join(rec.Dir, MetaFile))
	assert.NoError(t, statErr)
}

func TestLogTransition_CancelledContext(t *testing.T) {
	w := newWriter(t, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := w.LogTransition(ctx, "cam1", "A1", true, false, testFrame(8, 8), types.Box{X2: 4, Y2: 4})
	assert.ErrorIs(t, err, context.Canceled)
}
