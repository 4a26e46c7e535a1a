package relay

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iamthamanic/multiagentultra/internal/common/logger"
	"github.com/iamthamanic/multiagentultra/internal/events/bus"
	gateway "github.com/iamthamanic/multiagentultra/internal/gateway/websocket"
	"github.com/iamthamanic/multiagentultra/internal/stream"
	v1 "github.com/iamthamanic/multiagentultra/pkg/api/v1"
	ws "github.com/iamthamanic/multiagentultra/pkg/websocket"
)

type fakeArchive struct {
	mu    sync.Mutex
	saved []stream.Message
}

func (f *fakeArchive) Save(ctx context.Context, msg stream.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saved = append(f.saved, msg)
	return nil
}

type fakeHub struct {
	mu        sync.Mutex
	broadcast []*ws.Message
	projects  []*int64
	toProject []*ws.Message
}

func (f *fakeHub) Broadcast(msg *ws.Message) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.broadcast = append(f.broadcast, msg)
}

func (f *fakeHub) BroadcastToProject(projectID *int64, msg *ws.Message) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.projects = append(f.projects, projectID)
	f.toProject = append(f.toProject, msg)
}

func newTestLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "console", OutputPath: "stderr"})
	require.NoError(t, err)
	return log
}

func testMessage(projectID int64) stream.Message {
	return stream.Message{
		Kind:      stream.KindAction,
		ProjectID: &projectID,
		Content:   "running tests",
		Timestamp: v1.NewTimestamp(time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)),
	}
}

func (f *fakeArchive) messages() []stream.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]stream.Message(nil), f.saved...)
}

func (f *fakeHub) projectNotes() ([]*int64, []*ws.Message) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*int64(nil), f.projects...), append([]*ws.Message(nil), f.toProject...)
}

func (f *fakeHub) broadcasts() []*ws.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*ws.Message(nil), f.broadcast...)
}

func TestRelay_OnMessagePublishesProjectLog(t *testing.T) {
	log := newTestLogger(t)
	b := bus.NewMemoryEventBus(log)
	defer b.Close()

	events := make(chan *bus.Event, 1)
	_, err := b.Subscribe("mc.project.4.log", func(ctx context.Context, e *bus.Event) error {
		events <- e
		return nil
	})
	require.NoError(t, err)

	r := New(log, WithBus(b, "mc"))
	r.OnMessage(testMessage(4))

	select {
	case e := <-events:
		assert.Equal(t, bus.EventTypeStreamMessage, e.Type)
		assert.Equal(t, eventSource, e.Source)
		var got stream.Message
		require.NoError(t, e.DecodeData(&got))
		assert.Equal(t, "running tests", got.Content)
		assert.Equal(t, stream.KindAction, got.Kind)
	case <-time.After(time.Second):
		t.Fatal("no bus event")
	}
}

func TestRelay_OnStatus(t *testing.T) {
	log := newTestLogger(t)
	b := bus.NewMemoryEventBus(log)
	defer b.Close()

	events := make(chan *bus.Event, 1)
	_, err := b.Subscribe("mc.stream.status", func(ctx context.Context, e *bus.Event) error {
		events <- e
		return nil
	})
	require.NoError(t, err)

	r := New(log, WithBus(b, "mc"))
	r.OnStatus(stream.Status{State: stream.ClosedExhausted, RetryCount: 5, MaxRetries: 5})

	select {
	case e := <-events:
		var got gateway.StatusPayload
		require.NoError(t, e.DecodeData(&got))
		assert.Equal(t, stream.ClosedExhausted, got.State)
		assert.Equal(t, 5, got.RetryCount)
		assert.Equal(t, "Maximum retry attempts reached. Connection failed.", got.Description)
	case <-time.After(time.Second):
		t.Fatal("no bus event")
	}
}

func TestRelay_PublishFailureIsIsolated(t *testing.T) {
	log := newTestLogger(t)
	b := bus.NewMemoryEventBus(log)
	b.Close()

	r := New(log, WithBus(b, "mc"), WithTimeout(time.Second))
	assert.NotPanics(t, func() {
		r.OnMessage(testMessage(1))
		r.OnStatus(stream.Status{State: stream.Open})
	})
}

func TestRelay_NoBus(t *testing.T) {
	r := New(newTestLogger(t))
	assert.NotPanics(t, func() {
		r.OnMessage(testMessage(1))
		r.OnStatus(stream.Status{State: stream.Open})
	})
}

func TestSubscribeBroadcaster(t *testing.T) {
	log := newTestLogger(t)
	b := bus.NewMemoryEventBus(log)
	defer b.Close()

	hub := &fakeHub{}
	sub, err := SubscribeBroadcaster(b, "mc", hub, log)
	require.NoError(t, err)
	defer func() { _ = sub.Unsubscribe() }()

	r := New(log, WithBus(b, "mc"))
	r.OnStatus(stream.Status{State: stream.Open, Target: "ws://svc/ws?project_id=4"})
	r.OnMessage(testMessage(4))
	r.OnMessage(stream.Message{Kind: stream.KindMilestone, Content: "no project"})

	require.Eventually(t, func() bool {
		_, notes := hub.projectNotes()
		return len(notes) == 2 && len(hub.broadcasts()) == 1
	}, time.Second, 5*time.Millisecond)

	status := hub.broadcasts()[0]
	assert.Equal(t, ws.ActionStreamStatus, status.Action)
	assert.Equal(t, ws.MessageTypeNotification, status.Type)
	var payload gateway.StatusPayload
	require.NoError(t, status.ParsePayload(&payload))
	assert.Equal(t, stream.Open, payload.State)
	assert.Equal(t, "Connected", payload.Description)

	projects, notes := hub.projectNotes()
	assert.Equal(t, ws.ActionStreamMessage, notes[0].Action)
	require.NotNil(t, projects[0])
	assert.Equal(t, int64(4), *projects[0])
	var msg stream.Message
	require.NoError(t, notes[0].ParsePayload(&msg))
	assert.Equal(t, "running tests", msg.Content)
	assert.Nil(t, projects[1])
}

func TestSubscribeBroadcaster_IgnoresOtherPrefixes(t *testing.T) {
	log := newTestLogger(t)
	b := bus.NewMemoryEventBus(log)
	defer b.Close()

	hub := &fakeHub{}
	_, err := SubscribeBroadcaster(b, "mc", hub, log)
	require.NoError(t, err)

	New(log, WithBus(b, "other")).OnMessage(testMessage(4))
	New(log, WithBus(b, "mc")).OnStatus(stream.Status{State: stream.Connecting})

	require.Eventually(t, func() bool { return len(hub.broadcasts()) == 1 }, time.Second, 5*time.Millisecond)
	_, notes := hub.projectNotes()
	assert.Empty(t, notes)
}

func TestSubscribeArchive(t *testing.T) {
	log := newTestLogger(t)
	b := bus.NewMemoryEventBus(log)
	defer b.Close()

	first, second := &fakeArchive{}, &fakeArchive{}
	_, err := SubscribeArchive(b, "mc", first, 0)
	require.NoError(t, err)
	_, err = SubscribeArchive(b, "mc", second, time.Second)
	require.NoError(t, err)

	r := New(log, WithBus(b, "mc"))
	r.OnStatus(stream.Status{State: stream.Open})
	for i := int64(1); i <= 4; i++ {
		r.OnMessage(testMessage(i))
	}

	// The queue group stores each message exactly once.
	require.Eventually(t, func() bool {
		return len(first.messages())+len(second.messages()) == 4
	}, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Len(t, append(first.messages(), second.messages()...), 4)
}

// failFirstArchive rejects the first message it is given.
type failFirstArchive struct {
	fakeArchive
	calls int
}

func (f *failFirstArchive) Save(ctx context.Context, msg stream.Message) error {
	f.mu.Lock()
	f.calls++
	first := f.calls == 1
	f.mu.Unlock()
	if first {
		return errors.New("disk full")
	}
	return f.fakeArchive.Save(ctx, msg)
}

func TestSubscribeArchive_SaveFailureKeepsSubscription(t *testing.T) {
	log := newTestLogger(t)
	b := bus.NewMemoryEventBus(log)
	defer b.Close()

	archive := &failFirstArchive{}
	sub, err := SubscribeArchive(b, "mc", archive, time.Second)
	require.NoError(t, err)

	r := New(log, WithBus(b, "mc"))
	r.OnMessage(testMessage(1))
	r.OnMessage(testMessage(2))

	require.Eventually(t, func() bool { return len(archive.messages()) == 1 }, time.Second, 5*time.Millisecond)
	assert.True(t, sub.IsValid())
	saved := archive.messages()[0]
	require.NotNil(t, saved.ProjectID)
	assert.Equal(t, int64(2), *saved.ProjectID)
}
