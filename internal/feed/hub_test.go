package feed

import (
	"bufio"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stringEncoder(s string) ([]byte, error) { return []byte(s), nil }

func TestHub_PublishFanOut(t *testing.T) {
	h := NewHub[string](0)
	id1, c1 := h.Subscribe()
	_, c2 := h.Subscribe()
	assert.NotEqual(t, "", id1)
	assert.Equal(t, 2, h.Subscribers())

	_, ok := h.Latest()
	assert.False(t, ok)

	require.NoError(t, h.Publish("a"))
	assert.Equal(t, "a", <-c1)
	assert.Equal(t, "a", <-c2)

	latest, ok := h.Latest()
	assert.True(t, ok)
	assert.Equal(t, "a", latest)

	h.Unsubscribe(id1)
	_, open := <-c1
	assert.False(t, open, "unsubscribed channel is closed")
	assert.Equal(t, 1, h.Subscribers())

	h.Unsubscribe(id1) // second call is a no-op
}

func TestHub_SlowSubscriberDoesNotBlock(t *testing.T) {
	h := NewHub[int](2)
	_, slow := h.Subscribe()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			_ = h.Publish(i)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a full subscriber")
	}
	assert.Equal(t, 0, <-slow)
	assert.Equal(t, 1, <-slow)
	latest, _ := h.Latest()
	assert.Equal(t, 9, latest)
}

func TestHub_Close(t *testing.T) {
	h := NewHub[string](1)
	_, c := h.Subscribe()
	h.Close()

	_, open := <-c
	assert.False(t, open)
	assert.Zero(t, h.Subscribers())
	assert.ErrorIs(t, h.Publish("late"), ErrClosed)

	_, after := h.Subscribe()
	_, open = <-after
	assert.False(t, open, "subscribing to a closed hub yields a closed channel")
}

func TestHandler_StreamsLatestThenUpdates(t *testing.T) {
	h := NewHub[string](0)
	require.NoError(t, h.Publish("first"))

	ts := httptest.NewServer(h.Handler(stringEncoder))
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL, nil)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/event-stream")

	scanner := bufio.NewScanner(resp.Body)
	require.True(t, scanner.Scan())
	assert.True(t, strings.HasPrefix(scanner.Text(), ": ping"))

	next := func() string {
		for scanner.Scan() {
			if line := scanner.Text(); strings.HasPrefix(line, "data: ") {
				return strings.TrimPrefix(line, "data: ")
			}
		}
		return ""
	}
	assert.Equal(t, "first", next())

	require.Eventually(t, func() bool { return h.Subscribers() == 1 }, time.Second, 5*time.Millisecond)
	require.NoError(t, h.Publish("second"))
	assert.Equal(t, "second", next())

	cancel()
	require.Eventually(t, func() bool { return h.Subscribers() == 0 }, time.Second, 5*time.Millisecond,
		"handler unsubscribes when the client goes away")
}

func TestHandler_SkipsUnencodableValues(t *testing.T) {
	h := NewHub[string](0)
	encode := func(s string) ([]byte, error) {
		if s == "bad" {
			return nil, errors.New("boom")
		}
		return []byte(s), nil
	}
	ts := httptest.NewServer(h.Handler(encode))
	defer ts.Close()

	resp, err := http.Get(ts.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Eventually(t, func() bool { return h.Subscribers() == 1 }, time.Second, 5*time.Millisecond)
	require.NoError(t, h.Publish("bad"))
	require.NoError(t, h.Publish("good"))
	h.Close()

	scanner := bufio.NewScanner(resp.Body)
	var data []string
	for scanner.Scan() {
		if line := scanner.Text(); strings.HasPrefix(line, "data: ") {
			data = append(data, strings.TrimPrefix(line, "data: "))
		}
	}
	assert.Equal(t, []string{"good"}, data)
}

func TestHandler_RejectsNonGet(t *testing.T) {
	h := NewHub[string](0)
	rec := httptest.NewRecorder()
	h.Handler(stringEncoder)(rec, httptest.NewRequest(http.MethodPost, "/", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
