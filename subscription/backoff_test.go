package subscription_test

import (
	"testing"
	"time"

	"github.com/terraskye/eventsourcing-engine/subscription"
)

func TestJitterBackOff(t *testing.T) {
	b := subscription.NewJitterBackOff()
	for i := 0; i < 1000; i++ {
		d := b.NextBackOff()
		if d < time.Second || d >= 2*time.Second {
			t.Fatalf("expected a wait in [1s, 2s), got %s", d)
		}
	}
}

func TestJitterBackOff_NoJitter(t *testing.T) {
	b := subscription.JitterBackOff{Delay: 5 * time.Millisecond}
	if d := b.NextBackOff(); d != 5*time.Millisecond {
		t.Errorf("expected 5ms, got %s", d)
	}
}

func TestState_String(t *testing.T) {
	tests := map[subscription.State]string{
		subscription.StateStarting:      "starting",
		subscription.StateSubscribed:    "subscribed",
		subscription.StateDelivering:    "delivering",
		subscription.StateDropped:       "dropped",
		subscription.StateResubscribing: "resubscribing",
		subscription.StateTerminated:    "terminated",
		subscription.State(42):          "unknown",
	}
	for state, want := range tests {
		if got := state.String(); got != want {
			t.Errorf("expected %q, got %q", want, got)
		}
	}
}
