package crash

import (
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestNewHub(t *testing.T) {
	hub := NewHub(zap.NewNop())

	if hub.clients == nil {
		t.Error("clients map not initialized")
	}
	if hub.broadcast == nil {
		t.Error("broadcast channel not initialized")
	}
	if hub.register == nil {
		t.Error("register channel not initialized")
	}
	if hub.unregister == nil {
		t.Error("unregister channel not initialized")
	}
	if hub.ClientCount() != 0 {
		t.Errorf("client count = %d, want 0", hub.ClientCount())
	}
}

func TestHub_PublishNeverBlocks(t *testing.T) {
	hub := NewHub(zap.NewNop())

	// Nothing drains the broadcast queue here. Publishing past its
	// capacity must drop events instead of stalling the caller.
	done := make(chan struct{})
	go func() {
		for i := 0; i < 500; i++ {
			hub.Publish(Event{Type: EventRoundTick})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked with a full queue")
	}
}

func TestHub_SendToPlayerNoClients(t *testing.T) {
	hub := NewHub(zap.NewNop())

	// No connections registered: must be a silent no-op.
	hub.SendToPlayer("alice", Event{Type: EventPlayerCashout})
}

func TestClient_SendInitialStateNilSnapshot(t *testing.T) {
	client := &Client{playerID: "alice"}

	// No round yet: nothing to push, and no nil deref.
	client.SendInitialState(nil, zap.NewNop())
}
