package messaging

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// collectHandler appends received events under a lock and signals each
// delivery.
type collectHandler struct {
	mu     sync.Mutex
	events []EventEnvelope
	seen   chan struct{}
	fail   bool
}

func newCollectHandler() *collectHandler {
	return &collectHandler{seen: make(chan struct{}, 64)}
}

func (h *collectHandler) handle(ctx context.Context, evt EventEnvelope) error {
	h.mu.Lock()
	h.events = append(h.events, evt)
	fail := h.fail
	h.mu.Unlock()
	h.seen <- struct{}{}
	if fail {
		return errors.New("handler rejected event")
	}
	return nil
}

func (h *collectHandler) wait(t *testing.T, n int) []EventEnvelope {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-h.seen:
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for event %d of %d", i+1, n)
		}
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]EventEnvelope(nil), h.events...)
}

func TestInMemoryBusPublishSubscribe(t *testing.T) {
	bus := NewInMemoryBus(nil)
	defer bus.Close()

	h := newCollectHandler()
	unsub, err := bus.Subscribe(TopicEvents, h.handle)
	require.NoError(t, err)
	defer unsub()

	evt := NewPlanGenerated("c1", "plan_1", "generated", 2, 0.75)
	require.NoError(t, bus.Publish(context.Background(), TopicEvents, evt))

	got := h.wait(t, 1)
	require.Len(t, got, 1)
	assert.Equal(t, EventPlanGenerated, got[0].Type)
	assert.Equal(t, "c1", got[0].CorrelationID)
}

func TestInMemoryBusTopicIsolation(t *testing.T) {
	bus := NewInMemoryBus(nil)
	defer bus.Close()

	events := newCollectHandler()
	tasks := newCollectHandler()
	_, err := bus.Subscribe(TopicEvents, events.handle)
	require.NoError(t, err)
	_, err = bus.Subscribe(TopicTasks, tasks.handle)
	require.NoError(t, err)

	require.NoError(t, bus.Publish(context.Background(), TopicTasks,
		NewTaskExecuted("c1", "t1", "success", "http_fetch", time.Second)))

	got := tasks.wait(t, 1)
	assert.Equal(t, EventTaskExecuted, got[0].Type)

	events.mu.Lock()
	defer events.mu.Unlock()
	assert.Empty(t, events.events)
}

func TestInMemoryBusPreservesOrderPerSubscriber(t *testing.T) {
	bus := NewInMemoryBus(nil)
	defer bus.Close()

	h := newCollectHandler()
	_, err := bus.Subscribe(TopicEvents, h.handle)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		evt := NewEpisodeRecorded("c1", string(rune('a'+i)), "success")
		require.NoError(t, bus.Publish(context.Background(), TopicEvents, evt))
	}

	got := h.wait(t, 5)
	require.Len(t, got, 5)
	for i := 0; i < 5; i++ {
		assert.Equal(t, string(rune('a'+i)), got[i].Data["episode_id"])
	}
}

func TestInMemoryBusHandlerErrorDoesNotStopDispatch(t *testing.T) {
	bus := NewInMemoryBus(nil)
	defer bus.Close()

	h := newCollectHandler()
	h.fail = true
	_, err := bus.Subscribe(TopicEvents, h.handle)
	require.NoError(t, err)

	require.NoError(t, bus.Publish(context.Background(), TopicEvents, NewSystemError("c1", "test", "first")))
	require.NoError(t, bus.Publish(context.Background(), TopicEvents, NewSystemError("c1", "test", "second")))

	got := h.wait(t, 2)
	assert.Len(t, got, 2)
}

func TestInMemoryBusUnsubscribe(t *testing.T) {
	bus := NewInMemoryBus(nil)
	defer bus.Close()

	h := newCollectHandler()
	unsub, err := bus.Subscribe(TopicEvents, h.handle)
	require.NoError(t, err)

	require.NoError(t, bus.Publish(context.Background(), TopicEvents, NewSystemError("c1", "test", "before")))
	h.wait(t, 1)

	unsub()
	unsub() // idempotent

	require.NoError(t, bus.Publish(context.Background(), TopicEvents, NewSystemError("c1", "test", "after")))
	time.Sleep(50 * time.Millisecond)

	h.mu.Lock()
	defer h.mu.Unlock()
	assert.Len(t, h.events, 1)
}

func TestInMemoryBusClosedRejectsOperations(t *testing.T) {
	bus := NewInMemoryBus(nil)
	require.NoError(t, bus.Close())
	require.NoError(t, bus.Close())

	err := bus.Publish(context.Background(), TopicEvents, EventEnvelope{})
	assert.Error(t, err)

	_, err = bus.Subscribe(TopicEvents, func(context.Context, EventEnvelope) error { return nil })
	assert.Error(t, err)
}

func TestEnvelopeConstructors(t *testing.T) {
	evt := NewTaskExecuted("c1", "t1", "failure", "http_fetch", time.Second)
	assert.Equal(t, SeverityWarning, evt.Severity)
	assert.Equal(t, "execution", evt.OriginModule)
	assert.False(t, evt.Timestamp.IsZero())

	evt = NewTaskExecuted("c1", "t1", "success", "http_fetch", time.Second)
	assert.Equal(t, SeverityInfo, evt.Severity)

	evt = NewSystemError("c1", "memory", "disk full")
	assert.Equal(t, SeverityError, evt.Severity)
	assert.Equal(t, "disk full", evt.Data["message"])

	evt = NewPerformanceAlert("c1", "orchestrator", "slow task", map[string]interface{}{"task_id": "t1"})
	assert.Equal(t, SeverityWarning, evt.Severity)
	assert.Equal(t, "slow task", evt.Data["message"])
	assert.Equal(t, "t1", evt.Data["task_id"])
}
