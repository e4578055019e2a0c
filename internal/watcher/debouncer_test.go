package watcher

import (
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDebouncer_CoalescesBurst(t *testing.T) {
	d := NewDebouncer(20 * time.Millisecond)
	defer d.Stop()

	for i := 0; i < 10; i++ {
		d.Add("internal/server/handler.go")
	}
	d.Add("internal/store/types.go")

	select {
	case batch := <-d.Output():
		sort.Strings(batch)
		assert.Equal(t, []string{"internal/server/handler.go", "internal/store/types.go"}, batch)
	case <-time.After(time.Second):
		t.Fatal("expected a batch within the window")
	}

	// No second batch for the same burst.
	select {
	case batch := <-d.Output():
		t.Fatalf("unexpected extra batch: %v", batch)
	case <-time.After(60 * time.Millisecond):
	}
}

func TestDebouncer_WindowResetOnNewEvents(t *testing.T) {
	d := NewDebouncer(40 * time.Millisecond)
	defer d.Stop()

	d.Add("a.go")
	time.Sleep(20 * time.Millisecond)
	d.Add("b.go")

	// The first add alone must not have flushed yet.
	select {
	case <-d.Output():
		t.Fatal("flushed before window elapsed")
	case <-time.After(10 * time.Millisecond):
	}

	select {
	case batch := <-d.Output():
		require.Len(t, batch, 2)
	case <-time.After(time.Second):
		t.Fatal("expected the combined batch")
	}
}

func TestDebouncer_StopClosesOutput(t *testing.T) {
	d := NewDebouncer(time.Hour)
	d.Add("a.go")
	d.Stop()
	d.Stop() // idempotent

	_, ok := <-d.Output()
	assert.False(t, ok, "output channel closed after Stop")

	// Adds after Stop are ignored, not panics.
	d.Add("b.go")
}
