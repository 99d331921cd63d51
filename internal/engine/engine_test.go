package engine

import (
	"bufio"
	"net"
	"testing"
	"time"

	"github.com/bktiel/rpchat/internal/bcp"
	"github.com/bktiel/rpchat/internal/connrec"
	"github.com/bktiel/rpchat/internal/pool"
	"github.com/bktiel/rpchat/internal/registry"
)

// testHarness wires a real Engine to a real Registry and Pool, with each
// connrec.Record backed by a net.Pipe so frames travel through the actual
// codec. It drives the read-pump side itself (connect starts a goroutine
// that reads one opcode byte per resume token) since these tests exercise
// the engine in isolation from the reactor.
type testHarness struct {
	t   *testing.T
	reg *registry.Registry
	eng *Engine
}

func newHarness(t *testing.T) *testHarness {
	t.Helper()
	reg := registry.New()
	p := pool.New(64)
	p.Start(4)
	t.Cleanup(func() { p.Shutdown(false) })
	eng := New(Config{ConnTimeout: time.Hour}, reg, p, nil)
	return &testHarness{t: t, reg: reg, eng: eng}
}

// connect creates a connected pair, registers the server side in the
// registry, and starts a goroutine pump mimicking the reactor's read-pump.
func (h *testHarness) connect(connID uint64) (*connrec.Record, net.Conn) {
	h.t.Helper()
	client, server := net.Pipe()
	rec := connrec.New(server, connID)
	h.reg.Insert(rec)
	go func() {
		for {
			if _, ok := <-rec.Resume; !ok {
				return
			}
			op, err := bcp.PeekOpcode(rec.R)
			h.eng.ScheduleInbound(rec, op, err)
			if err != nil {
				return
			}
		}
	}()
	return rec, client
}

func mustWrite(t *testing.T, conn net.Conn, b []byte) {
	t.Helper()
	if _, err := conn.Write(b); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func readDeliver(t *testing.T, r *bufio.Reader) bcp.Deliver {
	t.Helper()
	op, err := bcp.PeekOpcode(r)
	if err != nil {
		t.Fatalf("peek opcode: %v", err)
	}
	if op != bcp.OpDeliver {
		t.Fatalf("opcode = %v, want DELIVER", op)
	}
	d, err := bcp.ReadDeliver(r)
	if err != nil {
		t.Fatalf("read deliver: %v", err)
	}
	return d
}

func readStatus(t *testing.T, r *bufio.Reader) bcp.Status {
	t.Helper()
	op, err := bcp.PeekOpcode(r)
	if err != nil {
		t.Fatalf("peek opcode: %v", err)
	}
	if op != bcp.OpStatus {
		t.Fatalf("opcode = %v, want STATUS", op)
	}
	s, err := bcp.ReadStatus(r)
	if err != nil {
		t.Fatalf("read status: %v", err)
	}
	return s
}

func withDeadline(t *testing.T, conn net.Conn) {
	t.Helper()
	_ = conn.SetDeadline(time.Now().Add(2 * time.Second))
}

func TestRegisterSuccessWritesStatusThenDeliver(t *testing.T) {
	h := newHarness(t)
	rec, client := h.connect(1)
	defer client.Close()
	withDeadline(t, client)
	cr := bufio.NewReader(client)

	mustWrite(t, client, registerFrame("alice"))

	st := readStatus(t, cr)
	if st.Code != bcp.StatusOK {
		t.Fatalf("status code = %d, want OK", st.Code)
	}
	d := readDeliver(t, cr)
	if d.From != registry.ServerName {
		t.Fatalf("deliver from = %q, want %q", d.From, registry.ServerName)
	}
	if rec.Username != "alice" {
		t.Fatalf("rec.Username = %q, want alice", rec.Username)
	}
}

func TestDuplicateUsernameRejected(t *testing.T) {
	h := newHarness(t)
	rec1, client1 := h.connect(1)
	defer client1.Close()
	withDeadline(t, client1)
	cr1 := bufio.NewReader(client1)
	mustWrite(t, client1, registerFrame("eve"))
	_ = readStatus(t, cr1)
	_ = readDeliver(t, cr1)
	if rec1.Username != "eve" {
		t.Fatalf("first registration failed: %q", rec1.Username)
	}

	_, client2 := h.connect(2)
	defer client2.Close()
	withDeadline(t, client2)
	cr2 := bufio.NewReader(client2)
	mustWrite(t, client2, registerFrame("eve"))

	st := readStatus(t, cr2)
	if st.Code != bcp.StatusError {
		t.Fatalf("status code = %d, want ERROR for duplicate username", st.Code)
	}
}

func TestUnsanitizedUsernameRejected(t *testing.T) {
	h := newHarness(t)
	_, client := h.connect(1)
	defer client.Close()
	withDeadline(t, client)
	cr := bufio.NewReader(client)

	mustWrite(t, client, registerFrame("\x01\x02\x03\x04"))

	st := readStatus(t, cr)
	if st.Code != bcp.StatusError {
		t.Fatalf("status code = %d, want ERROR for all-forbidden username", st.Code)
	}
}

func TestProtocolViolationAfterRegisterClosesConnection(t *testing.T) {
	h := newHarness(t)
	rec, client := h.connect(1)
	defer client.Close()
	withDeadline(t, client)
	cr := bufio.NewReader(client)

	mustWrite(t, client, registerFrame("carol"))
	_ = readStatus(t, cr)
	_ = readDeliver(t, cr)
	// Ack the login DELIVER to return to AVAILABLE; this is required
	// interlock behavior, not yet a violation.
	mustWrite(t, client, statusFrame(bcp.StatusOK, ""))

	// A second, unsolicited STATUS while AVAILABLE is the protocol violation.
	mustWrite(t, client, statusFrame(bcp.StatusOK, ""))

	st := readStatus(t, cr)
	if st.Code != bcp.StatusError {
		t.Fatalf("expected ERR status on protocol violation, got %d", st.Code)
	}
	deadline := time.Now().Add(time.Second)
	for recState(rec) != connrec.Closing && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if got := recState(rec); got != connrec.Closing {
		t.Fatalf("state = %v, want CLOSING", got)
	}
}

func recState(rec *connrec.Record) connrec.State {
	rec.Lock()
	defer rec.Unlock()
	return rec.State
}

func TestBroadcastReachesOtherRegisteredClient(t *testing.T) {
	h := newHarness(t)
	_, clientA := h.connect(1)
	defer clientA.Close()
	withDeadline(t, clientA)
	crA := bufio.NewReader(clientA)
	mustWrite(t, clientA, registerFrame("alice"))
	_ = readStatus(t, crA)
	_ = readDeliver(t, crA)                              // login banner
	mustWrite(t, clientA, statusFrame(bcp.StatusOK, "")) // ack the login banner, back to AVAILABLE

	_, clientB := h.connect(2)
	defer clientB.Close()
	withDeadline(t, clientB)
	crB := bufio.NewReader(clientB)
	mustWrite(t, clientB, registerFrame("bob"))
	_ = readStatus(t, crB)
	_ = readDeliver(t, crB) // bob's own login banner
	mustWrite(t, clientB, statusFrame(bcp.StatusOK, ""))

	joinNotice := readDeliver(t, crA)
	if joinNotice.From != registry.ServerName {
		t.Fatalf("join notice from = %q", joinNotice.From)
	}
	mustWrite(t, clientA, statusFrame(bcp.StatusOK, "")) // ack the join notice

	mustWrite(t, clientB, sendFrame("hello"))
	_ = readStatus(t, crB) // bob's own SEND ack

	d := readDeliver(t, crA)
	if d.From != "bob" || d.Message != "hello" {
		t.Fatalf("alice received %+v, want from=bob message=hello", d)
	}
}

// --- frame builders mirroring codec_test.go's style, local to this package
// to avoid exporting test-only helpers from bcp. ---

func registerFrame(username string) []byte {
	return frame(bcp.OpRegister, func() []byte { return strField(username) })
}

func sendFrame(message string) []byte {
	return frame(bcp.OpSend, func() []byte { return strField(message) })
}

func statusFrame(code byte, message string) []byte {
	return frame(bcp.OpStatus, func() []byte { return append([]byte{code}, strField(message)...) })
}

func frame(op bcp.Opcode, payload func() []byte) []byte {
	return append([]byte{byte(op)}, payload()...)
}

func strField(s string) []byte {
	n := len(s)
	return append([]byte{byte(n >> 8), byte(n)}, []byte(s)...)
}
