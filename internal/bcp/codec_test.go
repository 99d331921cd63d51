package bcp

import (
	"bytes"
	"errors"
	"testing"
)

func TestRegisterRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteRegister(&buf, Register{Username: "alice"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	op, err := PeekOpcode(&buf)
	if err != nil {
		t.Fatalf("peek opcode: %v", err)
	}
	if op != OpRegister {
		t.Fatalf("opcode = %v, want REGISTER", op)
	}
	got, err := ReadRegister(&buf)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got.Username != "alice" {
		t.Fatalf("username = %q, want alice", got.Username)
	}
}

func TestSendRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	_ = WriteSend(&buf, Send{Message: "hello there"})
	if op, _ := PeekOpcode(&buf); op != OpSend {
		t.Fatalf("expected SEND opcode")
	}
	got, err := ReadSend(&buf)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got.Message != "hello there" {
		t.Fatalf("message = %q", got.Message)
	}
}

func TestDeliverRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	_ = WriteDeliver(&buf, Deliver{From: "[Server]", Message: "bob has joined the server."})
	if op, _ := PeekOpcode(&buf); op != OpDeliver {
		t.Fatalf("expected DELIVER opcode")
	}
	got, err := ReadDeliver(&buf)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got.From != "[Server]" || got.Message != "bob has joined the server." {
		t.Fatalf("unexpected deliver: %+v", got)
	}
}

func TestStatusRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	_ = WriteStatus(&buf, Status{Code: StatusError, Message: "bad username"})
	if op, _ := PeekOpcode(&buf); op != OpStatus {
		t.Fatalf("expected STATUS opcode")
	}
	got, err := ReadStatus(&buf)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got.Code != StatusError || got.Message != "bad username" {
		t.Fatalf("unexpected status: %+v", got)
	}
}

func TestReadStringRejectsOversizeLength(t *testing.T) {
	var buf bytes.Buffer
	_ = WriteRegister(&buf, Register{Username: "x"})
	wire := buf.Bytes()
	// Corrupt the length prefix to exceed MaxStr.
	wire[1] = 0xff
	wire[2] = 0xff
	r := bytes.NewReader(wire[1:]) // opcode already stripped
	if _, err := ReadRegister(r); !errors.Is(err, ErrStringTooLong) {
		t.Fatalf("err = %v, want ErrStringTooLong", err)
	}
}

func TestPeekOpcodeRejectsUnknown(t *testing.T) {
	r := bytes.NewReader([]byte{0x7f})
	if _, err := PeekOpcode(r); !errors.Is(err, ErrUnknownOpcode) {
		t.Fatalf("err = %v, want ErrUnknownOpcode", err)
	}
}

func TestEmptyStringRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	_ = WriteSend(&buf, Send{Message: ""})
	_, _ = PeekOpcode(&buf)
	got, err := ReadSend(&buf)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got.Message != "" {
		t.Fatalf("message = %q, want empty", got.Message)
	}
}

func FuzzReadRegister(f *testing.F) {
	f.Add([]byte{0x00, 0x03, 'a', 'b', 'c'})
	f.Add([]byte{0xff, 0xff})
	f.Add([]byte{})
	f.Fuzz(func(t *testing.T, data []byte) {
		_, _ = ReadRegister(bytes.NewReader(data))
	})
}
