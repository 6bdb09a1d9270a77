package capture

import (
	"context"
	"errors"
	"image/color"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/MeKo-Tech/platewatch/internal/imgsrc"
	"github.com/MeKo-Tech/platewatch/internal/pipeline"
	"github.com/MeKo-Tech/platewatch/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// alternatingSubmitter accepts every other frame and releases all of them.
type alternatingSubmitter struct {
	ids []uint64
}

func (s *alternatingSubmitter) Submit(task pipeline.FrameTask) bool {
	s.ids = append(s.ids, task.ID)
	_ = task.Frame.Release()
	return len(s.ids)%2 == 1
}

type sliceSource struct {
	frames [][]byte
	err    error
}

func (s *sliceSource) Next(context.Context) ([]byte, error) {
	if len(s.frames) == 0 {
		if s.err != nil {
			return nil, s.err
		}
		return nil, io.EOF
	}
	f := s.frames[0]
	s.frames = s.frames[1:]
	return f, nil
}

func TestDirectorySource(t *testing.T) {
	dir := t.TempDir()
	paths := testutil.WriteFrameSequence(t, dir, 3, testutil.ImageSize{Width: 16, Height: 8})
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub.png"), 0o755))

	src, err := NewDirectorySource(dir, false)
	require.NoError(t, err)
	assert.Equal(t, 3, src.Len())

	first, err := os.ReadFile(paths[0])
	require.NoError(t, err)
	got, err := src.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, first, got, "files are replayed in name order")

	for range 2 {
		_, err = src.Next(context.Background())
		require.NoError(t, err)
	}
	_, err = src.Next(context.Background())
	assert.ErrorIs(t, err, io.EOF)
}

func TestDirectorySource_Loop(t *testing.T) {
	dir := t.TempDir()
	testutil.WriteFrameSequence(t, dir, 2, testutil.ImageSize{Width: 8, Height: 8})

	src, err := NewDirectorySource(dir, true)
	require.NoError(t, err)
	for range 5 {
		_, err := src.Next(context.Background())
		require.NoError(t, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = src.Next(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDirectorySource_Empty(t *testing.T) {
	_, err := NewDirectorySource(t.TempDir(), false)
	require.Error(t, err)

	_, err = NewDirectorySource(filepath.Join(t.TempDir(), "missing"), false)
	require.Error(t, err)
}

func TestLoop_Run(t *testing.T) {
	png := testutil.EncodePNG(t, testutil.CreateTestImage(32, 16, color.White))
	src := &sliceSource{frames: [][]byte{png, []byte("not an image"), png, png}}
	lib := imgsrc.NewRasterLibrary()
	sub := &alternatingSubmitter{}

	loop := &Loop{Source: src, Library: lib, Manager: sub}
	stats, err := loop.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int64(4), stats.Read)
	assert.Equal(t, int64(1), stats.DecodeErrors)
	assert.Equal(t, int64(2), stats.Accepted)
	assert.Equal(t, int64(1), stats.Dropped)
	assert.Equal(t, uint64(3), stats.LastFrameID)
	assert.Equal(t, []uint64{1, 2, 3}, sub.ids, "ids only advance for decoded frames")
	assert.Equal(t, int64(0), lib.Live())
}

func TestLoop_MaxFrames(t *testing.T) {
	dir := t.TempDir()
	testutil.WriteFrameSequence(t, dir, 2, testutil.ImageSize{Width: 8, Height: 8})
	src, err := NewDirectorySource(dir, true)
	require.NoError(t, err)

	loop := &Loop{Source: src, Library: imgsrc.NewRasterLibrary(), Manager: &alternatingSubmitter{}, MaxFrames: 5}
	stats, err := loop.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(5), stats.Read)
}

func TestLoop_SourceError(t *testing.T) {
	boom := errors.New("camera unplugged")
	loop := &Loop{Source: &sliceSource{err: boom}, Library: imgsrc.NewRasterLibrary(), Manager: &alternatingSubmitter{}}
	_, err := loop.Run(context.Background())
	require.ErrorIs(t, err, boom)
}

func TestLoop_PacerCancel(t *testing.T) {
	png := testutil.EncodePNG(t, testutil.CreateTestImage(8, 8, color.White))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	loop := &Loop{
		Source:  &sliceSource{frames: [][]byte{png, png}},
		Library: imgsrc.NewRasterLibrary(),
		Manager: &alternatingSubmitter{},
		Pacer:   pipeline.NewPacer(1),
	}
	// The first slot is free; the second wait sees the cancelled context.
	stats, err := loop.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, int64(1), stats.Read)
}

func TestLoop_RequiresWiring(t *testing.T) {
	_, err := (&Loop{}).Run(context.Background())
	require.Error(t, err)
}
