package sampler

import (
	"context"
	"errors"
	"os"
	"runtime"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/greenlight/internal/lane"
	"github.com/banshee-data/greenlight/internal/monitoring"
)

const testWindow = 40 * time.Millisecond

func TestMain(m *testing.M) {
	monitoring.SetLogger(nil)
	os.Exit(m.Run())
}

// counterSource returns "1", "2", ... so the stored frame reveals which read
// it came from.
type counterSource struct {
	mu sync.Mutex
	n  int
}

func (c *counterSource) Read(ctx context.Context) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.n++
	time.Sleep(time.Millisecond)
	return []byte(strconv.Itoa(c.n)), nil
}
func (c *counterSource) SeekToStart() error { return nil }
func (c *counterSource) Close() error       { return nil }

func TestNew(t *testing.T) {
	_, err := New(nil, time.Second, nil)
	assert.ErrorIs(t, err, ErrNoLanes)

	_, err = New([]lane.Lane{{Name: "N"}}, time.Second, nil)
	assert.Error(t, err, "lane without source")

	_, err = New([]lane.Lane{{Name: "N", Source: lane.NewMockSource()}}, -time.Second, nil)
	assert.Error(t, err)

	s, err := New([]lane.Lane{{Name: "N", Source: lane.NewMockSource()}, {Name: "S", Source: lane.NewMockSource()}}, 0, nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultWindow, s.Window())
	assert.Equal(t, []string{"N", "S"}, s.Lanes())
}

func TestSample_KeepsMostRecentFrame(t *testing.T) {
	src := &counterSource{}
	s, err := New([]lane.Lane{{Name: "North", Source: src}}, testWindow, nil)
	require.NoError(t, err)

	sample, err := s.Sample(context.Background())
	require.NoError(t, err)
	require.Len(t, sample.Lanes, 1)

	got := sample.Lanes[0]
	require.NotNil(t, got.Frame)
	assert.Greater(t, got.Frame.Seq, 1, "several reads fit in the window")
	assert.Equal(t, strconv.Itoa(got.Frame.Seq), string(got.Frame.Data), "stored frame is the last one read")
	assert.False(t, got.Frame.ReadAt.Before(sample.Started))
	assert.False(t, got.Frame.ReadAt.After(sample.Started.Add(testWindow)))
}

func TestSample_RewindUpdatesFrame(t *testing.T) {
	src := lane.NewMockSource([]byte("only"))
	src.ReadLatency = time.Millisecond
	s, err := New([]lane.Lane{{Name: "North", Source: src}}, testWindow, nil)
	require.NoError(t, err)

	sample, err := s.Sample(context.Background())
	require.NoError(t, err)

	got := sample.Lanes[0]
	require.NotNil(t, got.Frame)
	assert.Equal(t, "only", string(got.Frame.Data))
	assert.Greater(t, got.Rewinds, 0)
	assert.Greater(t, got.Frame.Seq, 1, "reads after a rewind still update the frame")

	// a seek counted just before the deadline may still be running
	require.Eventually(t, func() bool {
		reads, seeks := src.Stats()
		return seeks == got.Rewinds && reads == got.Attempts+got.Rewinds
	}, time.Second, time.Millisecond, "every read and seek is counted in the window that started it")
}

func TestSample_InstantSourcesShareOneProcessor(t *testing.T) {
	prev := runtime.GOMAXPROCS(1)
	defer runtime.GOMAXPROCS(prev)

	names := []string{"North", "South", "East", "West"}
	var lanes []lane.Lane
	for _, name := range names {
		lanes = append(lanes, lane.Lane{Name: name, Source: lane.NewMockSource([]byte(name))})
	}
	s, err := New(lanes, 200*time.Millisecond, nil)
	require.NoError(t, err)

	for round := 0; round < 5; round++ {
		sample, err := s.Sample(context.Background())
		require.NoError(t, err)
		for i, l := range sample.Lanes {
			require.NotNil(t, l.Frame, "round %d: lane %s starved", round, l.Lane)
			assert.Equal(t, names[i], string(l.Frame.Data))
		}
	}
}

func TestSample_AbsentLanes(t *testing.T) {
	failing := lane.NewMockSource()
	failing.ReadError = errors.New("camera offline")
	empty := lane.NewMockSource()
	badSeek := lane.NewMockSource()
	badSeek.SeekError = errors.New("not seekable")
	good := lane.NewMockSource([]byte("g"))
	good.ReadLatency = time.Millisecond

	s, err := New([]lane.Lane{
		{Name: "Failing", Source: failing},
		{Name: "Empty", Source: empty},
		{Name: "BadSeek", Source: badSeek},
		{Name: "Good", Source: good},
	}, testWindow, nil)
	require.NoError(t, err)

	sample, err := s.Sample(context.Background())
	require.NoError(t, err)

	byName := map[string]LaneSample{}
	for _, l := range sample.Lanes {
		byName[l.Lane] = l
	}
	assert.Nil(t, byName["Failing"].Frame)
	assert.EqualError(t, byName["Failing"].Err, "camera offline")
	assert.Equal(t, 1, byName["Failing"].Attempts, "hard errors end polling for the window")

	assert.Nil(t, byName["Empty"].Frame)
	assert.NoError(t, byName["Empty"].Err)

	assert.Nil(t, byName["BadSeek"].Frame)
	assert.ErrorContains(t, byName["BadSeek"].Err, "rewind failed")

	require.NotNil(t, byName["Good"].Frame)

	present := sample.Present()
	require.Len(t, present, 1)
	assert.Equal(t, "Good", present[0].Lane)
}

func TestSample_StuckSourceDoesNotExtendWindow(t *testing.T) {
	stuck := lane.NewMockSource([]byte("s"))
	stuck.Block = make(chan struct{})
	good := lane.NewMockSource([]byte("g"))
	good.ReadLatency = time.Millisecond

	s, err := New([]lane.Lane{{Name: "Stuck", Source: stuck}, {Name: "Good", Source: good}}, testWindow, nil)
	require.NoError(t, err)

	begin := time.Now()
	sample, err := s.Sample(context.Background())
	require.NoError(t, err)
	assert.Less(t, time.Since(begin), time.Second)
	assert.Nil(t, sample.Lanes[0].Frame)
	assert.NotNil(t, sample.Lanes[1].Frame)

	// the first read is still blocked, so the lane is skipped
	sample, err = s.Sample(context.Background())
	require.NoError(t, err)
	assert.True(t, sample.Lanes[0].Busy)
	assert.Nil(t, sample.Lanes[0].Frame)
	reads, _ := stuck.Stats()
	assert.Equal(t, 1, reads, "a busy source is never read concurrently")

	close(stuck.Block)
	require.Eventually(t, func() bool {
		sample, err := s.Sample(context.Background())
		return err == nil && sample.Lanes[0].Frame != nil
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSample_ContextCancelled(t *testing.T) {
	s, err := New([]lane.Lane{{Name: "N", Source: lane.NewMockSource([]byte("n"))}}, time.Hour, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = s.Sample(ctx)
	assert.ErrorIs(t, err, context.Canceled)

	ctx, cancel = context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	begin := time.Now()
	_, err = s.Sample(ctx)
	require.NoError(t, err)
	assert.Less(t, time.Since(begin), 30*time.Second, "cancellation ends an hour-long window")
}

func TestClose_ReleasesSources(t *testing.T) {
	a := lane.NewMockSource()
	b := lane.NewMockSource()
	s, err := New([]lane.Lane{{Name: "A", Source: a}, {Name: "B", Source: b}}, testWindow, nil)
	require.NoError(t, err)
	require.NoError(t, s.Close())
	assert.True(t, a.IsClosed())
	assert.True(t, b.IsClosed())
}
