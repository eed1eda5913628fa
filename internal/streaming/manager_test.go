package streaming

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRingReplaySince(t *testing.T) {
	r := newRing(3)
	for i := 0; i < 4; i++ {
		r.push(Event{Seq: uint64(i + 1)})
	}
	// Ring holds seq 2,3,4 after the overwrite.
	evs := r.since(0)
	require.Len(t, evs, 3)
	assert.Equal(t, uint64(2), evs[0].Seq)
	assert.Equal(t, uint64(4), evs[2].Seq)

	evs = r.since(2)
	require.Len(t, evs, 2)
	assert.Equal(t, uint64(3), evs[0].Seq)
	assert.Equal(t, uint64(4), evs[1].Seq)
}

func TestPublishDeliversToSubscriber(t *testing.T) {
	m := NewManager(16)
	ch := m.Subscribe("run-1", 4)
	defer m.Unsubscribe("run-1", ch)

	m.Publish("run-1", Event{Type: TypeProgress, Message: "working"})

	evt := <-ch
	assert.Equal(t, "run-1", evt.RunID)
	assert.Equal(t, TypeProgress, evt.Type)
	assert.Equal(t, "working", evt.Message)
	assert.Equal(t, uint64(1), evt.Seq)
	assert.False(t, evt.Timestamp.IsZero())
}

func TestPublishDoesNotBlockOnSlowSubscriber(t *testing.T) {
	m := NewManager(16)
	ch := m.Subscribe("run-1", 1)
	defer m.Unsubscribe("run-1", ch)

	// Second publish would block a naive implementation; it must drop.
	m.Publish("run-1", Event{Type: TypeProgress, Message: "a"})
	m.Publish("run-1", Event{Type: TypeProgress, Message: "b"})

	evt := <-ch
	assert.Equal(t, "a", evt.Message)

	// The dropped event is still replayable from history.
	evs := m.ReplaySince("run-1", evt.Seq)
	require.Len(t, evs, 1)
	assert.Equal(t, "b", evs[0].Message)
}

func TestReplaySinceUnknownRun(t *testing.T) {
	m := NewManager(8)
	assert.Nil(t, m.ReplaySince("nope", 0))
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	m := NewManager(8)
	ch := m.Subscribe("run-1", 1)
	assert.Equal(t, 1, m.SubscriberCount("run-1"))
	m.Unsubscribe("run-1", ch)
	_, open := <-ch
	assert.False(t, open)
	assert.Equal(t, 0, m.SubscriberCount("run-1"))
}

func TestPublishConcurrentWithUnsubscribe(t *testing.T) {
	// Subscriber churn (SSE clients disconnecting) must never race with the
	// poll loop publishing progress. Run under -race.
	m := NewManager(16)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			m.Publish("run-1", Event{Type: TypeProgress, Message: "tick"})
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			ch := m.Subscribe("run-1", 1)
			m.Unsubscribe("run-1", ch)
		}
	}()
	wg.Wait()

	assert.Equal(t, 0, m.SubscriberCount("run-1"))
	assert.Len(t, m.ReplaySince("run-1", 184), 16)
}

func TestForgetDropsHistory(t *testing.T) {
	m := NewManager(8)
	m.Publish("run-1", Event{Type: TypeStatus, Message: "completed"})
	require.NotEmpty(t, m.ReplaySince("run-1", 0))
	m.Forget("run-1")
	assert.Nil(t, m.ReplaySince("run-1", 0))
}
