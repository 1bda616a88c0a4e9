package relay

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func newTestSession(interval float64) *ClientSession {
	return &ClientSession{frameInterval: interval}
}

func TestClientRegistryInsertRemove(t *testing.T) {
	r := NewClientRegistry(0)
	if r.Len() != 0 {
		t.Fatalf("got Len() = %d, want 0", r.Len())
	}

	a, b := newTestSession(0.1), newTestSession(0.2)
	r.Insert(a)
	r.Insert(b)
	if r.Len() != 2 {
		t.Fatalf("got Len() = %d, want 2", r.Len())
	}

	r.Remove(a)
	if r.Len() != 1 {
		t.Fatalf("got Len() = %d, want 1", r.Len())
	}
	snap := r.Snapshot()
	if len(snap) != 1 || snap[0] != b {
		t.Fatalf("got snapshot %v, want [b]", snap)
	}

	// Removing an absent session is a no-op.
	r.Remove(a)
	if r.Len() != 1 {
		t.Fatalf("got Len() = %d after removing absent session, want 1", r.Len())
	}
}

func TestClientRegistryHasRoom(t *testing.T) {
	r := NewClientRegistry(2)
	if !r.HasRoom() {
		t.Fatal("expected room with 0/2 registered")
	}
	r.Insert(newTestSession(0))
	r.Insert(newTestSession(0))
	if r.HasRoom() {
		t.Fatal("expected no room with 2/2 registered")
	}

	unlimited := NewClientRegistry(0)
	for i := 0; i < 100; i++ {
		unlimited.Insert(newTestSession(0))
	}
	if !unlimited.HasRoom() {
		t.Fatal("max == 0 should mean unlimited room")
	}
}

func TestClientRegistryMinInterval(t *testing.T) {
	r := NewClientRegistry(0)
	if got := r.MinInterval(); got != 0 {
		t.Fatalf("got MinInterval() = %v on empty registry, want 0", got)
	}

	r.Insert(newTestSession(0.5))
	r.Insert(newTestSession(0.1))
	r.Insert(newTestSession(0.3))
	if got := r.MinInterval(); got != 0.1 {
		t.Fatalf("got MinInterval() = %v, want 0.1", got)
	}

	intervals := make([]float64, 0, len(r.Snapshot()))
	for _, s := range r.Snapshot() {
		intervals = append(intervals, s.FrameInterval())
	}
	want := []float64{0.5, 0.1, 0.3}
	if diff := cmp.Diff(want, intervals); diff != "" {
		t.Fatalf("snapshot interval mismatch (-want +got):\n%s", diff)
	}
}
