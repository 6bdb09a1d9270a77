// Package capture feeds encoded frames from a source into the pipeline
// manager at a paced rate.
package capture

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"github.com/MeKo-Tech/platewatch/internal/imgsrc"
)

// FrameSource yields encoded frames. Next returns io.EOF when exhausted.
type FrameSource interface {
	Next(ctx context.Context) ([]byte, error)
}

// DirectorySource replays the images of a directory in name order.
type DirectorySource struct {
	files []string
	loop  bool

	mu  sync.Mutex
	pos int
}

// NewDirectorySource lists the supported images in dir. With loop the
// sequence restarts after the last file.
func NewDirectorySource(dir string, loop bool) (*DirectorySource, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read frame directory: %w", err)
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() || !imgsrc.IsSupportedImage(e.Name()) {
			continue
		}
		files = append(files, filepath.Join(dir, e.Name()))
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no images found in %s", dir)
	}
	slices.Sort(files)
	return &DirectorySource{files: files, loop: loop}, nil
}

// Len returns the number of files in one pass.
func (s *DirectorySource) Len() int { return len(s.files) }

// Next reads the next file.
func (s *DirectorySource) Next(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	if s.pos >= len(s.files) {
		if !s.loop {
			s.mu.Unlock()
			return nil, io.EOF
		}
		s.pos = 0
	}
	path := s.files[s.pos]
	s.pos++
	s.mu.Unlock()

	data, err := imgsrc.ReadImageFile(path)
	if err != nil {
		return nil, fmt.Errorf("frame %s: %w", filepath.Base(path), err)
	}
	return data, nil
}
