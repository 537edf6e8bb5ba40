package lane

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/banshee-data/greenlight/internal/fsutil"
)

var frameExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
}

// DirSource replays the image files of a directory in name order.
type DirSource struct {
	fs    fsutil.FileSystem
	dir   string
	files []string

	mu     sync.Mutex
	pos    int
	closed bool
}

// NewDirSource lists dir once; files added later are not picked up.
func NewDirSource(fsys fsutil.FileSystem, dir string) (*DirSource, error) {
	entries, err := fsys.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list frame directory: %w", err)
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() || !frameExtensions[strings.ToLower(filepath.Ext(e.Name()))] {
			continue
		}
		files = append(files, filepath.Join(dir, e.Name()))
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no frames (%s) in %s", "jpg/jpeg/png", dir)
	}
	return &DirSource{fs: fsys, dir: dir, files: files}, nil
}

// Read returns the next file's bytes.
func (s *DirSource) Read(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	if s.pos >= len(s.files) {
		s.mu.Unlock()
		return nil, ErrEndOfStream
	}
	name := s.files[s.pos]
	s.pos++
	s.mu.Unlock()

	data, err := s.fs.ReadFile(name)
	if err != nil {
		return nil, fmt.Errorf("failed to read frame %s: %w", filepath.Base(name), err)
	}
	return data, nil
}

// SeekToStart rewinds to the first file.
func (s *DirSource) SeekToStart() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.pos = 0
	return nil
}

// Close marks the source closed.
func (s *DirSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Len returns the number of frames in one pass.
func (s *DirSource) Len() int {
	return len(s.files)
}

func (s *DirSource) String() string {
	return fmt.Sprintf("dir:%s (%d frames)", s.dir, len(s.files))
}
