// Package lane defines the lanes of an intersection and the frame sources
// that feed them.
//
// A Source is an opaque, loopable stream of encoded frames. The engine
// never interprets frame bytes; they are passed as-is to the detection
// backend.
package lane

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrEndOfStream is returned by Source.Read when the stream is exhausted.
	// Callers rewind with SeekToStart to loop the source.
	ErrEndOfStream = errors.New("lane: end of stream")

	// ErrClosed is returned by reads on a closed source.
	ErrClosed = errors.New("lane: source closed")
)

// Source is a seekable stream of encoded frames for one lane.
type Source interface {
	// Read blocks until the next frame is available and returns its encoded
	// bytes, or ErrEndOfStream once the stream is exhausted.
	Read(ctx context.Context) ([]byte, error)
	// SeekToStart rewinds the stream to its first frame.
	SeekToStart() error
	// Close releases the source.
	Close() error
}

// Lane is one named approach of the intersection.
type Lane struct {
	Name   string
	Source Source
}

// CloseAll closes the source of every lane and returns the combined error.
func CloseAll(lanes []Lane) error {
	var errs []error
	for _, l := range lanes {
		if l.Source == nil {
			continue
		}
		if err := l.Source.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close lane %q: %w", l.Name, err))
		}
	}
	return errors.Join(errs...)
}
