package lane

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"

	"github.com/banshee-data/greenlight/internal/httputil"
)

// maxSnapshotBytes bounds a single camera snapshot.
const maxSnapshotBytes = 16 << 20

// SnapshotSource polls a camera's still-image URL. A live camera never ends,
// so SeekToStart is a no-op.
type SnapshotSource struct {
	client httputil.HTTPClient
	url    string
	closed atomic.Bool
}

// NewSnapshotSource creates a source that GETs url on every Read.
func NewSnapshotSource(client httputil.HTTPClient, url string) *SnapshotSource {
	return &SnapshotSource{client: client, url: url}
}

// Read fetches one snapshot.
func (s *SnapshotSource) Read(ctx context.Context) ([]byte, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build snapshot request: %w", err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("snapshot request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("snapshot %s returned status %d", s.url, resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxSnapshotBytes+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot body: %w", err)
	}
	if len(data) > maxSnapshotBytes {
		return nil, fmt.Errorf("snapshot exceeds %d bytes", maxSnapshotBytes)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("snapshot %s was empty", s.url)
	}
	return data, nil
}

// SeekToStart does nothing for a live camera.
func (s *SnapshotSource) SeekToStart() error { return nil }

// Close stops further reads.
func (s *SnapshotSource) Close() error {
	s.closed.Store(true)
	return nil
}

func (s *SnapshotSource) String() string {
	return "snapshot:" + s.url
}
