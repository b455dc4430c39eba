package progress

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func drain(t *testing.T, tr *Tracker) Event {
	t.Helper()
	select {
	case e := <-tr.Events():
		event, ok := e.(Event)
		require.True(t, ok)
		return event
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func TestTracker_EmitClampsProgress(t *testing.T) {
	tr := newTracker("search-1", 1, false, nil, nil)

	tr.Emit(context.Background(), "test", -50, "below zero", nil)
	assert.Equal(t, 0, drain(t, tr).Progress)

	tr.Emit(context.Background(), "test", 150, "above hundred", nil)
	assert.Equal(t, 100, drain(t, tr).Progress)
}

func TestTracker_EmitUFComplete(t *testing.T) {
	tr := newTracker("search-1", 5, false, nil, nil)

	tr.EmitUFComplete(context.Background(), "SP", 150)
	event := drain(t, tr)

	assert.Equal(t, "fetching", event.Stage)
	assert.Equal(t, 10+int((1.0/5.0)*45), event.Progress)
	assert.Contains(t, event.Message, "1/5")
	assert.Equal(t, "SP", event.Detail["uf"])
	assert.Equal(t, 1, event.Detail["uf_index"])
	assert.Equal(t, 5, event.Detail["uf_total"])
	assert.Equal(t, 150, event.Detail["items_found"])
}

func TestTracker_EmitUFCompleteWithZeroUFs(t *testing.T) {
	tr := newTracker("search-1", 0, false, nil, nil)

	tr.EmitUFComplete(context.Background(), "SP", 100)
	event := drain(t, tr)

	assert.Equal(t, "fetching", event.Stage)
	assert.GreaterOrEqual(t, event.Progress, 10)
}

func TestTracker_EmitCompleteMarksTerminal(t *testing.T) {
	tr := newTracker("search-1", 2, false, nil, nil)

	tr.EmitComplete(context.Background())
	event := drain(t, tr)

	assert.True(t, tr.IsComplete())
	assert.Equal(t, "complete", event.Stage)
	assert.Equal(t, 100, event.Progress)
}

func TestTracker_EmitErrorMarksTerminalWithNegativeProgress(t *testing.T) {
	tr := newTracker("search-1", 2, false, nil, nil)

	tr.EmitError(context.Background(), "API connection failed")
	event := drain(t, tr)

	assert.True(t, tr.IsComplete())
	assert.Equal(t, "error", event.Stage)
	assert.Equal(t, -1, event.Progress)
	assert.Equal(t, "API connection failed", event.Detail["error"])
}

func TestTracker_EmitFullQueueDropsEventInsteadOfBlocking(t *testing.T) {
	tr := newTracker("search-1", 1, false, nil, nil)
	for i := 0; i < queueCapacity+10; i++ {
		tr.Emit(context.Background(), "test", i%100, "event", nil)
	}
	assert.Len(t, tr.events, queueCapacity)
}

func TestRegistry_CreateGetRemove(t *testing.T) {
	reg := NewRegistry(nil, nil)
	defer reg.Stop()

	tr := reg.Create(context.Background(), "search-001", 3, false)
	assert.Equal(t, "search-001", tr.SearchID)

	got := reg.Get(context.Background(), "search-001")
	assert.Same(t, tr, got)

	reg.Remove(context.Background(), "search-001")
	assert.Nil(t, reg.Get(context.Background(), "search-001"))
}

func TestRegistry_GetMissingReturnsNilWithoutRedis(t *testing.T) {
	reg := NewRegistry(nil, nil)
	defer reg.Stop()

	assert.Nil(t, reg.Get(context.Background(), "never-existed"))
}

func TestRegistry_CleanupStaleRemovesOldTrackers(t *testing.T) {
	reg := NewRegistry(nil, nil)
	defer reg.Stop()
	reg.ttl = time.Millisecond

	tr := reg.Create(context.Background(), "old-search", 1, false)
	tr.CreatedAt = time.Now().Add(-time.Hour)

	fresh := reg.Create(context.Background(), "recent-search", 1, false)

	reg.cleanupStale()

	assert.Nil(t, reg.Get(context.Background(), "old-search"))
	assert.Same(t, fresh, reg.Get(context.Background(), "recent-search"))
}

func TestRegistry_ConcurrentSearchesAreIndependent(t *testing.T) {
	reg := NewRegistry(nil, nil)
	defer reg.Stop()

	tr1 := reg.Create(context.Background(), "search-A", 2, false)
	tr2 := reg.Create(context.Background(), "search-B", 3, false)

	tr1.Emit(context.Background(), "fetching", 20, "Search A fetching", nil)
	tr2.Emit(context.Background(), "filtering", 50, "Search B filtering", nil)

	assert.Equal(t, "fetching", drain(t, tr1).Stage)
	assert.Equal(t, "filtering", drain(t, tr2).Stage)
}
