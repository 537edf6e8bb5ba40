package lane

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/banshee-data/greenlight/internal/fsutil"
	"github.com/banshee-data/greenlight/internal/httputil"
	"github.com/banshee-data/greenlight/internal/security"
)

// OpenOptions carries the dependencies used to construct sources.
type OpenOptions struct {
	// FS reads frame directories. Defaults to the OS filesystem.
	FS fsutil.FileSystem
	// Root, when set, confines directory sources to this tree. Relative
	// directory locators are resolved against it.
	Root string
	// Client fetches camera snapshots. Defaults to http.DefaultClient.
	Client httputil.HTTPClient
}

// Open builds a Source from a locator:
//
//	http://host/snapshot.jpg   camera still-image URL
//	dir:frames/north           directory of frames, replayed in name order
//	frames/north               same as dir:
func Open(locator string, opts OpenOptions) (Source, error) {
	switch {
	case strings.HasPrefix(locator, "http://"), strings.HasPrefix(locator, "https://"):
		client := opts.Client
		if client == nil {
			client = httputil.NewStandardClient(nil)
		}
		return NewSnapshotSource(client, locator), nil
	}

	dir := strings.TrimPrefix(locator, "dir:")
	if dir == "" {
		return nil, fmt.Errorf("empty source locator %q", locator)
	}
	if opts.Root != "" {
		if !filepath.IsAbs(dir) {
			dir = filepath.Join(opts.Root, dir)
		}
		if err := security.ValidatePathWithinDirectory(dir, opts.Root); err != nil {
			return nil, fmt.Errorf("source %q rejected: %w", locator, err)
		}
	}
	fsys := opts.FS
	if fsys == nil {
		fsys = fsutil.OSFileSystem{}
	}
	return NewDirSource(fsys, dir)
}

// Spec is a lane name and its source locator, in configuration order.
type Spec struct {
	Name    string
	Locator string
}

// OpenAll opens a source for every spec. If any source fails, the ones
// already opened are closed and any close failure is joined to the error.
func OpenAll(specs []Spec, opts OpenOptions) ([]Lane, error) {
	return openAll(specs, func(locator string) (Source, error) {
		return Open(locator, opts)
	})
}

func openAll(specs []Spec, open func(locator string) (Source, error)) ([]Lane, error) {
	lanes := make([]Lane, 0, len(specs))
	for _, s := range specs {
		src, err := open(s.Locator)
		if err != nil {
			err = fmt.Errorf("lane %q: %w", s.Name, err)
			return nil, errors.Join(err, CloseAll(lanes))
		}
		lanes = append(lanes, Lane{Name: s.Name, Source: src})
	}
	return lanes, nil
}
