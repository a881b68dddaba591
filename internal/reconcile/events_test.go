package reconcile

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDebouncerCoalesces(t *testing.T) {
	input := make(chan Event, 10)
	debouncer := NewDebouncer(input, 50*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	output := debouncer.Run(ctx)

	// Send multiple rapid events
	for i := 0; i < 5; i++ {
		input <- Event{Type: EventConfigChanged, Path: "/etc/probemesh/modules.yaml"}
	}

	// Wait for debounce period
	time.Sleep(100 * time.Millisecond)

	// Should receive only one coalesced event
	select {
	case event := <-output:
		assert.Equal(t, EventConfigChanged, event.Type)
	case <-time.After(200 * time.Millisecond):
		t.Fatal("expected to receive an event")
	}

	// Should not receive more events immediately
	select {
	case <-output:
		t.Fatal("should not receive another event")
	case <-time.After(50 * time.Millisecond):
		// Expected
	}
}

func TestDebouncerKeepsLatestEvent(t *testing.T) {
	input := make(chan Event, 10)
	debouncer := NewDebouncer(input, 50*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	output := debouncer.Run(ctx)

	input <- Event{Type: EventTick}
	input <- Event{Type: EventProbesChanged, Path: "/etc/probemesh/probes.yaml"}

	select {
	case event := <-output:
		assert.Equal(t, EventProbesChanged, event.Type, "latest event wins")
	case <-time.After(500 * time.Millisecond):
		t.Fatal("expected to receive an event")
	}
}

func TestDebouncerFlushesOnInputClose(t *testing.T) {
	input := make(chan Event, 10)
	debouncer := NewDebouncer(input, time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	output := debouncer.Run(ctx)

	input <- Event{Type: EventTick}
	close(input)

	select {
	case event, ok := <-output:
		assert.True(t, ok)
		assert.Equal(t, EventTick, event.Type)
	case <-time.After(time.Second):
		t.Fatal("expected pending event to be flushed")
	}
}

func TestEventTypeString(t *testing.T) {
	assert.Equal(t, "tick", EventTick.String())
	assert.Equal(t, "config-changed", EventConfigChanged.String())
	assert.Equal(t, "probes-changed", EventProbesChanged.String())
}
