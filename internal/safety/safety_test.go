package safety

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllowsReflectsMode(t *testing.T) {
	g := NewGate(ModeLive)
	assert.True(t, g.Allows())

	g.SetMode(context.Background(), ModeSimulation, "test")
	assert.True(t, g.Allows())

	g.SetMode(context.Background(), ModePaused, "test")
	assert.False(t, g.Allows())
}

func TestSetModePublishesEventOnlyOnChange(t *testing.T) {
	g := NewGate(ModeLive)
	ch := g.Subscribe()

	g.SetMode(context.Background(), ModeLive, "no-op transition")
	select {
	case <-ch:
		t.Fatal("no event expected for a same-mode transition")
	case <-time.After(20 * time.Millisecond):
	}

	g.SetMode(context.Background(), ModePaused, "operator pause")
	select {
	case evt := <-ch:
		assert.Equal(t, "mode_changed", evt.Kind)
		assert.Equal(t, ModeLive, evt.Previous)
		assert.Equal(t, ModePaused, evt.Current)
	case <-time.After(time.Second):
		t.Fatal("expected a mode_changed event")
	}
}

func TestEmergencyStopEmitsBothEvents(t *testing.T) {
	g := NewGate(ModeLive)
	ch := g.Subscribe()

	g.EmergencyStop(context.Background(), "mev detected")

	kinds := map[string]bool{}
	for i := 0; i < 2; i++ {
		select {
		case evt := <-ch:
			kinds[evt.Kind] = true
			assert.Equal(t, ModePaused, evt.Current)
		case <-time.After(time.Second):
			t.Fatalf("expected 2 events, got %d", i)
		}
	}
	assert.True(t, kinds["emergency_stop"])
	assert.True(t, kinds["mode_changed"])
	assert.Equal(t, ModePaused, g.Mode())
}

func TestEmergencyStopFromAlreadyPausedSkipsModeChanged(t *testing.T) {
	g := NewGate(ModePaused)
	ch := g.Subscribe()

	g.EmergencyStop(context.Background(), "repeat stop")

	select {
	case evt := <-ch:
		assert.Equal(t, "emergency_stop", evt.Kind)
	case <-time.After(time.Second):
		t.Fatal("expected an emergency_stop event")
	}

	select {
	case evt := <-ch:
		t.Fatalf("unexpected second event %+v", evt)
	case <-time.After(20 * time.Millisecond):
	}
}

func TestSlowSubscriberNeverBlocksPublish(t *testing.T) {
	g := NewGate(ModeLive)
	_ = g.Subscribe() // never drained

	done := make(chan struct{})
	go func() {
		for i := 0; i < 32; i++ {
			g.SetMode(context.Background(), ModePaused, "x")
			g.SetMode(context.Background(), ModeLive, "y")
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a full subscriber channel")
	}
}

func TestSubscribeMultipleListeners(t *testing.T) {
	g := NewGate(ModeLive)
	chA := g.Subscribe()
	chB := g.Subscribe()

	g.SetMode(context.Background(), ModePaused, "test")

	for _, ch := range []<-chan Event{chA, chB} {
		select {
		case evt := <-ch:
			require.Equal(t, ModePaused, evt.Current)
		case <-time.After(time.Second):
			t.Fatal("expected event on every subscriber")
		}
	}
}
