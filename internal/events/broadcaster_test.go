package events

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/phrazzld/compliance-tasks/internal/task"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBroadcaster(buffer int) *Broadcaster {
	return NewBroadcaster(buffer, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func finishedTask(id, principal int64) *task.AgentTask {
	msg := "tool unavailable"
	return &task.AgentTask{
		ID:           id,
		Type:         task.TypeReportGeneration,
		Status:       task.StatusFailed,
		ErrorMessage: &msg,
		Progress:     40,
		CreatedBy:    principal,
	}
}

func receive(t *testing.T, sub *Subscription) TaskUpdate {
	t.Helper()
	select {
	case u, ok := <-sub.C:
		require.True(t, ok, "subscription closed")
		return u
	case <-time.After(time.Second):
		t.Fatal("no update received")
		return TaskUpdate{}
	}
}

func assertClosed(t *testing.T, sub *Subscription) {
	t.Helper()
	select {
	case _, ok := <-sub.C:
		assert.False(t, ok, "expected closed channel")
	case <-time.After(time.Second):
		t.Fatal("channel not closed")
	}
}

func TestBroadcaster_RoutesByCreator(t *testing.T) {
	t.Parallel()
	b := newTestBroadcaster(4)

	alice := b.Subscribe(1)
	bob := b.Subscribe(2)
	assert.Equal(t, 2, b.SubscriberCount())

	b.Publish(finishedTask(10, 1))

	u := receive(t, alice)
	assert.Equal(t, int64(10), u.TaskID)
	assert.Equal(t, task.StatusFailed, u.Status)
	require.NotNil(t, u.ErrorMessage)
	assert.Equal(t, "tool unavailable", *u.ErrorMessage)
	assert.Equal(t, 40, u.Progress)

	select {
	case <-bob.C:
		t.Fatal("update delivered to the wrong principal")
	default:
	}
	assert.Equal(t, int64(1), b.Stats().Delivered)
}

func TestBroadcaster_DropsWithoutSubscriber(t *testing.T) {
	t.Parallel()
	b := newTestBroadcaster(4)

	b.Publish(finishedTask(1, 99))
	b.Publish(nil)

	stats := b.Stats()
	assert.Equal(t, int64(0), stats.Delivered)
	assert.Equal(t, int64(1), stats.Dropped)
}

func TestBroadcaster_DropsWhenBufferFull(t *testing.T) {
	t.Parallel()
	b := newTestBroadcaster(2)
	sub := b.Subscribe(7)

	for i := int64(1); i <= 5; i++ {
		b.Publish(finishedTask(i, 7))
	}

	assert.Equal(t, int64(1), receive(t, sub).TaskID)
	assert.Equal(t, int64(2), receive(t, sub).TaskID)
	stats := b.Stats()
	assert.Equal(t, int64(2), stats.Delivered)
	assert.Equal(t, int64(3), stats.Dropped)
}

func TestBroadcaster_SubscribeReplacesPrevious(t *testing.T) {
	t.Parallel()
	b := newTestBroadcaster(4)

	first := b.Subscribe(5)
	second := b.Subscribe(5)
	assert.NotEqual(t, first.ID, second.ID)
	assertClosed(t, first)
	assert.Equal(t, 1, b.SubscriberCount())

	// the stale subscription must not remove its replacement
	b.Unsubscribe(first)
	assert.Equal(t, 1, b.SubscriberCount())

	b.Publish(finishedTask(3, 5))
	assert.Equal(t, int64(3), receive(t, second).TaskID)

	b.Unsubscribe(second)
	assert.Equal(t, 0, b.SubscriberCount())
	assertClosed(t, second)

	// unsubscribing twice is harmless
	b.Unsubscribe(second)
	b.Unsubscribe(nil)
}

func TestBroadcaster_Close(t *testing.T) {
	t.Parallel()
	b := newTestBroadcaster(4)
	sub := b.Subscribe(1)

	b.Close()
	assertClosed(t, sub)
	assert.Equal(t, 0, b.SubscriberCount())

	late := b.Subscribe(1)
	assertClosed(t, late)
	b.Publish(finishedTask(1, 1))
	assert.Equal(t, int64(1), b.Stats().Dropped)
}

func TestBroadcaster_ConcurrentPublish(t *testing.T) {
	t.Parallel()
	b := newTestBroadcaster(1000)
	sub := b.Subscribe(1)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(base int64) {
			defer wg.Done()
			for j := int64(0); j < 50; j++ {
				b.Publish(finishedTask(base*100+j, 1))
			}
		}(int64(i))
	}
	// churn subscriptions of another principal while publishing
	for i := 0; i < 20; i++ {
		b.Unsubscribe(b.Subscribe(2))
	}
	wg.Wait()

	assert.Len(t, sub.C, 500)
}

func TestStream(t *testing.T) {
	t.Parallel()
	b := newTestBroadcaster(4)
	sub := b.Subscribe(3)

	var buf syncBuffer
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- Stream(ctx, &buf, nil, sub, 20*time.Millisecond)
	}()

	b.Publish(finishedTask(8, 3))
	require.Eventually(t, func() bool {
		return strings.Contains(buf.String(), "event: keepalive")
	}, 2*time.Second, 10*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	events := parseEvents(t, buf.String())
	require.GreaterOrEqual(t, len(events), 3)
	assert.Equal(t, EventConnected, events[0].name)
	assert.Equal(t, sub.ID.String(), events[0].data["subscription_id"])

	var sawUpdate bool
	for _, e := range events {
		if e.name == EventTaskUpdate {
			sawUpdate = true
			assert.Equal(t, float64(8), e.data["task_id"])
			assert.Equal(t, "report_generation", e.data["task_type"])
			assert.Equal(t, "failed", e.data["status"])
			assert.Equal(t, "tool unavailable", e.data["error_message"])
		}
	}
	assert.True(t, sawUpdate)
}

func TestStream_EndsWhenSubscriptionCloses(t *testing.T) {
	t.Parallel()
	b := newTestBroadcaster(4)
	sub := b.Subscribe(3)
	b.Subscribe(3)

	var buf bytes.Buffer
	err := Stream(context.Background(), &buf, nil, sub, time.Hour)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "event: connected")
}

type sseEvent struct {
	name string
	data map[string]any
}

func parseEvents(t *testing.T, raw string) []sseEvent {
	t.Helper()
	var (
		out     []sseEvent
		current sseEvent
	)
	scanner := bufio.NewScanner(strings.NewReader(raw))
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			current.name = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &current.data))
		case line == "":
			out = append(out, current)
			current = sseEvent{}
		}
	}
	return out
}

// syncBuffer is a bytes.Buffer safe for one writer and concurrent readers.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (s *syncBuffer) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.Write(p)
}

func (s *syncBuffer) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.String()
}
