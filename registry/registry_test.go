package registry

import (
	"errors"
	"sync"
	"testing"

	"sizero-service/apperror"
)

// fakeEmitter records emitted events in place of a live socket.
type fakeEmitter struct {
	mu     sync.Mutex
	events []string
}

func (f *fakeEmitter) Emit(event string, args ...any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
	return nil
}

func (f *fakeEmitter) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.events)
}

// allowList authorizes reads for the conversations it contains.
type allowList map[uint]bool

func (a allowList) CanRead(userID, conversationID uint) (bool, error) {
	return a[conversationID], nil
}

func TestAttachSubscribes(t *testing.T) {
	r := New(allowList{1: true, 2: true})
	sess := NewSession("s1", 10, &fakeEmitter{})

	r.Attach(sess, []uint{1, 2})

	if !r.InRoom(1, "s1") || !r.InRoom(2, "s1") {
		t.Fatal("session not subscribed to snapshot rooms")
	}
	if !r.IsOnline(10) {
		t.Fatal("user not online after attach")
	}
}

func TestJoinChat(t *testing.T) {
	r := New(allowList{1: true})
	sess := NewSession("s1", 10, &fakeEmitter{})
	r.Attach(sess, nil)

	if err := r.JoinChat(sess, 1); err != nil {
		t.Fatalf("join: %v", err)
	}
	if !r.InRoom(1, "s1") {
		t.Fatal("not in room after join")
	}

	// Joining twice is a no-op.
	if err := r.JoinChat(sess, 1); err != nil {
		t.Fatalf("repeat join: %v", err)
	}
	if got := len(r.Snapshot(1)); got != 1 {
		t.Fatalf("room size = %d after repeat join, want 1", got)
	}
}

func TestJoinChatForbidden(t *testing.T) {
	r := New(allowList{})
	sess := NewSession("s1", 10, &fakeEmitter{})
	r.Attach(sess, nil)

	err := r.JoinChat(sess, 99)
	if !errors.Is(err, apperror.ErrForbidden) {
		t.Fatalf("err = %v, want forbidden", err)
	}
	if r.InRoom(99, "s1") {
		t.Fatal("forbidden join mutated room state")
	}
}

func TestJoinChatUnattached(t *testing.T) {
	r := New(allowList{1: true})
	sess := NewSession("ghost", 10, &fakeEmitter{})

	if err := r.JoinChat(sess, 1); !errors.Is(err, apperror.ErrNotFound) {
		t.Fatalf("err = %v, want not found", err)
	}
}

func TestDetach(t *testing.T) {
	r := New(allowList{1: true, 2: true})
	sess := NewSession("s1", 10, &fakeEmitter{})
	r.Attach(sess, []uint{1, 2})

	userID, vacated, ok := r.Detach("s1")
	if !ok {
		t.Fatal("detach reported unknown session")
	}
	if userID != 10 {
		t.Fatalf("userID = %d, want 10", userID)
	}
	if len(vacated) != 2 {
		t.Fatalf("vacated = %v, want both rooms", vacated)
	}
	if r.InRoom(1, "s1") || r.InRoom(2, "s1") {
		t.Fatal("room state survived detach")
	}
	if r.IsOnline(10) {
		t.Fatal("user still online after last session detached")
	}

	if _, _, ok := r.Detach("s1"); ok {
		t.Fatal("second detach should report unknown session")
	}
}

func TestIsOnlineMultipleSessions(t *testing.T) {
	r := New(allowList{})
	r.Attach(NewSession("s1", 10, &fakeEmitter{}), nil)
	r.Attach(NewSession("s2", 10, &fakeEmitter{}), nil)

	r.Detach("s1")
	if !r.IsOnline(10) {
		t.Fatal("user went offline with a session still attached")
	}
	r.Detach("s2")
	if r.IsOnline(10) {
		t.Fatal("user online with no sessions")
	}
}

func TestBroadcastExcludes(t *testing.T) {
	r := New(allowList{1: true})
	a, b := &fakeEmitter{}, &fakeEmitter{}
	r.Attach(NewSession("s1", 10, a), []uint{1})
	r.Attach(NewSession("s2", 11, b), []uint{1})

	delivered := r.Broadcast(1, "ping", nil, "s1")
	if delivered != 1 {
		t.Fatalf("delivered = %d, want 1", delivered)
	}
	if a.count() != 0 {
		t.Fatal("excluded session received the event")
	}
	if b.count() != 1 {
		t.Fatal("peer session missed the event")
	}
}

func TestSnapshotIsolated(t *testing.T) {
	r := New(allowList{1: true})
	sess := NewSession("s1", 10, &fakeEmitter{})
	r.Attach(sess, []uint{1})

	snap := r.Snapshot(1)
	r.Detach("s1")

	// The snapshot taken before the detach still holds the session.
	if len(snap) != 1 {
		t.Fatalf("snapshot mutated by detach: %d sessions", len(snap))
	}
	if len(r.Snapshot(1)) != 0 {
		t.Fatal("live room still populated after detach")
	}
}
