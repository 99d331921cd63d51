package registry

import (
	"net"
	"testing"

	"github.com/bktiel/rpchat/internal/connrec"
)

func newTestRecord(t *testing.T, id uint64) *connrec.Record {
	t.Helper()
	client, server := net.Pipe()
	t.Cleanup(func() { _ = client.Close(); _ = server.Close() })
	return connrec.New(server, id)
}

func TestInsertRemoveCount(t *testing.T) {
	r := New()
	a := newTestRecord(t, 1)
	b := newTestRecord(t, 2)
	r.Insert(a)
	r.Insert(b)
	if r.Count() != 2 {
		t.Fatalf("count = %d, want 2", r.Count())
	}
	r.Remove(a)
	if r.Count() != 1 {
		t.Fatalf("count = %d, want 1", r.Count())
	}
	r.Remove(a) // idempotent
	if r.Count() != 1 {
		t.Fatalf("count after double remove = %d, want 1", r.Count())
	}
}

func TestFindByUsernameIsByteExact(t *testing.T) {
	r := New()
	a := newTestRecord(t, 1)
	a.Username = "alice"
	r.Insert(a)

	if r.FindByUsername("Alice", nil) != nil {
		t.Fatal("expected case-sensitive miss")
	}
	if r.FindByUsername("alice", nil) != a {
		t.Fatal("expected exact match to find the record")
	}
}

func TestFindByUsernameSkipsClosingAndErr(t *testing.T) {
	r := New()
	a := newTestRecord(t, 1)
	a.Username = "bob"
	a.State = connrec.Closing
	r.Insert(a)
	if r.FindByUsername("bob", nil) != nil {
		t.Fatal("CLOSING records must not be returned")
	}

	b := newTestRecord(t, 2)
	b.Username = "carol"
	b.State = connrec.Err
	r.Insert(b)
	if r.FindByUsername("carol", nil) != nil {
		t.Fatal("ERR records must not be returned")
	}
}

func TestListUsernamesOmitsUnregistered(t *testing.T) {
	r := New()
	a := newTestRecord(t, 1)
	a.Username = "alice"
	b := newTestRecord(t, 2) // still PRE_REGISTER, empty username
	r.Insert(a)
	r.Insert(b)
	if got := r.ListUsernames(nil); got != "alice" {
		t.Fatalf("ListUsernames() = %q, want %q", got, "alice")
	}
}

func TestFindByUsernameExcludesCallerRecordWithoutLockingIt(t *testing.T) {
	r := New()
	a := newTestRecord(t, 1)
	a.Username = "alice"
	r.Insert(a)

	// Simulate the engine's call pattern: the caller already holds a's
	// mutex (as handleRegisterAttempt does via try-lock in process()).
	// FindByUsername must not try to lock a again on its way past it.
	a.Lock()
	defer a.Unlock()
	if r.FindByUsername("alice", a) != nil {
		t.Fatal("expected exclude to skip the caller's own record")
	}
}

func TestListUsernamesExcludesCallerRecordWithoutLockingIt(t *testing.T) {
	r := New()
	a := newTestRecord(t, 1)
	a.Username = "alice"
	b := newTestRecord(t, 2)
	b.Username = "bob"
	r.Insert(a)
	r.Insert(b)

	a.Lock()
	defer a.Unlock()
	if got := r.ListUsernames(a); got != "bob" {
		t.Fatalf("ListUsernames(a) = %q, want %q", got, "bob")
	}
}

func TestSnapshotIsPointInTimeCopy(t *testing.T) {
	r := New()
	a := newTestRecord(t, 1)
	r.Insert(a)
	snap := r.Snapshot()
	r.Remove(a)
	if len(snap) != 1 {
		t.Fatalf("snapshot mutated after Remove: len=%d", len(snap))
	}
}
