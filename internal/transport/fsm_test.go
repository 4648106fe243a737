package transport_test

import (
	"testing"

	"github.com/zenoh-pico-go/zenohpico/internal/transport"
)

func TestFSMClientHandshakeHappyPath(t *testing.T) {
	t.Parallel()

	steps := []struct {
		event        transport.Event
		wantState    transport.State
		wantActions  []transport.Action
	}{
		{transport.EventSendInit, transport.StateInitSent, []transport.Action{transport.ActionSendInit}},
		{transport.EventRecvInitAck, transport.StateOpenSent, []transport.Action{transport.ActionSendOpen}},
		{transport.EventRecvOpenAck, transport.StateEstablished, []transport.Action{
			transport.ActionStartKeepalive, transport.ActionNotifyEstablished,
		}},
	}

	state := transport.StateInit
	for i, step := range steps {
		res := transport.ApplyEvent(state, step.event)
		if res.NewState != step.wantState {
			t.Fatalf("step %d: state = %s, want %s", i, res.NewState, step.wantState)
		}
		if len(res.Actions) != len(step.wantActions) {
			t.Fatalf("step %d: actions = %v, want %v", i, res.Actions, step.wantActions)
		}
		for j, a := range res.Actions {
			if a != step.wantActions[j] {
				t.Fatalf("step %d action %d: got %s, want %s", i, j, a, step.wantActions[j])
			}
		}
		state = res.NewState
	}
}

func TestFSMListenerHandshakeHappyPath(t *testing.T) {
	t.Parallel()

	state := transport.StateInit
	res := transport.ApplyEvent(state, transport.EventRecvInit)
	if res.NewState != transport.StateInitAcked {
		t.Fatalf("state = %s, want InitAcked", res.NewState)
	}
	state = res.NewState

	res = transport.ApplyEvent(state, transport.EventRecvOpen)
	if res.NewState != transport.StateEstablished {
		t.Fatalf("state = %s, want Established", res.NewState)
	}
	if !res.Changed {
		t.Fatal("want Changed = true")
	}
}

func TestFSMUnknownTransitionIsNoop(t *testing.T) {
	t.Parallel()

	res := transport.ApplyEvent(transport.StateEstablished, transport.EventSendInit)
	if res.Changed {
		t.Fatalf("unexpected transition: %+v", res)
	}
	if res.NewState != transport.StateEstablished {
		t.Fatalf("state = %s, want unchanged Established", res.NewState)
	}
	if len(res.Actions) != 0 {
		t.Fatalf("want no actions, got %v", res.Actions)
	}
}

func TestFSMHandshakeErrorAbortsToClose(t *testing.T) {
	t.Parallel()

	for _, s := range []transport.State{transport.StateInitSent, transport.StateInitAcked, transport.StateOpenSent} {
		res := transport.ApplyEvent(s, transport.EventHandshakeError)
		if res.NewState != transport.StateClosed {
			t.Errorf("from %s: state = %s, want Closed", s, res.NewState)
		}
		found := false
		for _, a := range res.Actions {
			if a == transport.ActionSendClose {
				found = true
			}
		}
		if !found {
			t.Errorf("from %s: want ActionSendClose among %v", s, res.Actions)
		}
	}
}

func TestFSMEstablishedCloseSequence(t *testing.T) {
	t.Parallel()

	res := transport.ApplyEvent(transport.StateEstablished, transport.EventLocalClose)
	if res.NewState != transport.StateClosing {
		t.Fatalf("state = %s, want Closing", res.NewState)
	}

	res = transport.ApplyEvent(res.NewState, transport.EventCloseComplete)
	if res.NewState != transport.StateClosed {
		t.Fatalf("state = %s, want Closed", res.NewState)
	}
}

func TestFSMLeaseExpiredFromEstablished(t *testing.T) {
	t.Parallel()

	res := transport.ApplyEvent(transport.StateEstablished, transport.EventLeaseExpired)
	if res.NewState != transport.StateClosed {
		t.Fatalf("state = %s, want Closed", res.NewState)
	}
}
