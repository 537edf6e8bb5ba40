package detection

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/greenlight/internal/monitoring"
	"github.com/banshee-data/greenlight/internal/sampler"
)

func TestMain(m *testing.M) {
	monitoring.SetLogger(nil)
	os.Exit(m.Run())
}

func laneSample(name, frame string) sampler.LaneSample {
	ls := sampler.LaneSample{Lane: name, Attempts: 1}
	if frame != "" {
		ls.Frame = &sampler.Frame{Data: []byte(frame), Seq: 1, ReadAt: time.Unix(0, 0)}
	}
	return ls
}

func TestAggregate_OneCallPerPresentLane(t *testing.T) {
	oracle := NewMockOracle().
		On("n", Detection{Count: 3, Image: []byte("N")}).
		On("s", Detection{Count: 0, Image: []byte("S")}).
		On("e", Detection{Count: 7, Emergency: true, Image: []byte("E")})

	sample := &sampler.Sample{Lanes: []sampler.LaneSample{
		laneSample("North", "n"),
		laneSample("South", "s"),
		laneSample("East", "e"),
		laneSample("West", ""),
	}}

	results, drops := NewAggregator(oracle, 0).Aggregate(context.Background(), sample)

	want := []Result{
		{Lane: "North", Count: 3, Image: []byte("N")},
		{Lane: "South", Count: 0, Image: []byte("S")},
		{Lane: "East", Count: 7, Emergency: true, Image: []byte("E")},
	}
	if diff := cmp.Diff(want, results); diff != "" {
		t.Errorf("Aggregate() mismatch (-want +got):\n%s", diff)
	}
	require.Len(t, drops, 1)
	assert.Equal(t, "West", drops[0].Lane)
	assert.Equal(t, "no frame in window", drops[0].Reason)

	assert.Equal(t, 3, oracle.Calls(""))
	assert.Equal(t, 1, oracle.Calls("n"))
	assert.Equal(t, 1, oracle.Calls("s"))
	assert.Equal(t, 1, oracle.Calls("e"))
}

func TestAggregate_FailureDropsOnlyThatLane(t *testing.T) {
	oracle := NewMockOracle().
		On("n", Detection{Count: 2}).
		Fail("s", errors.New("model crashed"))

	sample := &sampler.Sample{Lanes: []sampler.LaneSample{
		laneSample("North", "n"),
		laneSample("South", "s"),
	}}
	results, drops := NewAggregator(oracle, 0).Aggregate(context.Background(), sample)

	require.Len(t, results, 1)
	assert.Equal(t, "North", results[0].Lane)
	require.Len(t, drops, 1)
	assert.Equal(t, "South", drops[0].Lane)
	assert.Contains(t, drops[0].Reason, "model crashed")
}

func TestAggregate_CapsCounts(t *testing.T) {
	oracle := NewMockOracle().
		On("busy", Detection{Count: 120}).
		On("odd", Detection{Count: -4})

	sample := &sampler.Sample{Lanes: []sampler.LaneSample{
		laneSample("A", "busy"),
		laneSample("B", "odd"),
	}}
	results, _ := NewAggregator(oracle, 50).Aggregate(context.Background(), sample)

	require.Len(t, results, 2)
	assert.Equal(t, 50, results[0].Count)
	assert.Equal(t, 0, results[1].Count)
}

func TestAggregate_AbsentReasons(t *testing.T) {
	busy := laneSample("Busy", "")
	busy.Busy = true
	broken := laneSample("Broken", "")
	broken.Err = errors.New("camera offline")

	sample := &sampler.Sample{Lanes: []sampler.LaneSample{busy, broken}}
	results, drops := NewAggregator(NewMockOracle(), 0).Aggregate(context.Background(), sample)

	assert.Empty(t, results)
	want := []Drop{
		{Lane: "Busy", Reason: "source busy"},
		{Lane: "Broken", Reason: "source unavailable: camera offline"},
	}
	if diff := cmp.Diff(want, drops); diff != "" {
		t.Errorf("drops mismatch (-want +got):\n%s", diff)
	}
}

func TestAggregate_PreservesOrderUnderConcurrency(t *testing.T) {
	slow := OracleFunc(func(ctx context.Context, frame []byte) (Detection, error) {
		// Earlier lanes finish last.
		time.Sleep(time.Duration(10-len(frame)) * time.Millisecond)
		return Detection{Count: len(frame)}, nil
	})
	var lanes []sampler.LaneSample
	names := []string{"a", "b", "c", "d", "e", "f"}
	for i, n := range names {
		frame := make([]byte, i+1)
		for j := range frame {
			frame[j] = 'x'
		}
		lanes = append(lanes, laneSample(n, string(frame)))
	}

	results, drops := NewAggregator(slow, 0).Aggregate(context.Background(), &sampler.Sample{Lanes: lanes})
	assert.Empty(t, drops)
	require.Len(t, results, len(names))
	for i, r := range results {
		assert.Equal(t, names[i], r.Lane)
		assert.Equal(t, i+1, r.Count)
	}
}

func TestDetectFrame(t *testing.T) {
	agg := NewAggregator(NewMockOracle().On("f", Detection{Count: 80, Emergency: true, Image: []byte("img")}), 10)

	_, err := agg.DetectFrame(context.Background(), nil)
	assert.ErrorIs(t, err, ErrEmptyFrame)

	r, err := agg.DetectFrame(context.Background(), []byte("f"))
	require.NoError(t, err)
	assert.Equal(t, Result{Count: 10, Emergency: true, Image: []byte("img")}, r)
	assert.Equal(t, 10, agg.MaxCount())
}
