package bcp

import (
	"encoding/binary"
	"fmt"
	"io"
)

// readString reads a 16-bit big-endian length followed by that many bytes.
// Mirrors the cannelloni codec's io.ReadFull-based incremental reader: every
// field read must return the requested count or the connection is fatally
// broken (spec §4.1, §4.6 "inbound read discipline").
func readString(r io.Reader) (string, error) {
	var lb [2]byte
	if _, err := io.ReadFull(r, lb[:]); err != nil {
		return "", fmt.Errorf("bcp: read length: %w", err)
	}
	n := int(binary.BigEndian.Uint16(lb[:]))
	if n > MaxStr {
		return "", fmt.Errorf("bcp: read length %d: %w", n, ErrStringTooLong)
	}
	if n == 0 {
		return "", nil
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", fmt.Errorf("bcp: read payload: %w", err)
	}
	return string(buf), nil
}

func writeString(w io.Writer, s string) error {
	if len(s) > MaxStr {
		return fmt.Errorf("bcp: write length %d: %w", len(s), ErrStringTooLong)
	}
	var lb [2]byte
	binary.BigEndian.PutUint16(lb[:], uint16(len(s)))
	if _, err := w.Write(lb[:]); err != nil {
		return fmt.Errorf("bcp: write length: %w", err)
	}
	if len(s) > 0 {
		if _, err := io.WriteString(w, s); err != nil {
			return fmt.Errorf("bcp: write payload: %w", err)
		}
	}
	return nil
}

// PeekOpcode reads and classifies the single leading opcode byte.
func PeekOpcode(r io.Reader) (Opcode, error) {
	var ob [1]byte
	if _, err := io.ReadFull(r, ob[:]); err != nil {
		return 0, fmt.Errorf("bcp: read opcode: %w", err)
	}
	op := Opcode(ob[0])
	switch op {
	case OpRegister, OpSend, OpDeliver, OpStatus:
		return op, nil
	default:
		return 0, fmt.Errorf("bcp: opcode %d: %w", ob[0], ErrUnknownOpcode)
	}
}

// ReadRegister reads the payload of a REGISTER frame (opcode already consumed).
func ReadRegister(r io.Reader) (Register, error) {
	u, err := readString(r)
	if err != nil {
		return Register{}, err
	}
	return Register{Username: u}, nil
}

// ReadSend reads the payload of a SEND frame (opcode already consumed).
func ReadSend(r io.Reader) (Send, error) {
	m, err := readString(r)
	if err != nil {
		return Send{}, err
	}
	return Send{Message: m}, nil
}

// ReadDeliver reads the payload of a DELIVER frame (opcode already consumed).
func ReadDeliver(r io.Reader) (Deliver, error) {
	from, err := readString(r)
	if err != nil {
		return Deliver{}, err
	}
	msg, err := readString(r)
	if err != nil {
		return Deliver{}, err
	}
	return Deliver{From: from, Message: msg}, nil
}

// ReadStatus reads the payload of a STATUS frame (opcode already consumed).
func ReadStatus(r io.Reader) (Status, error) {
	var cb [1]byte
	if _, err := io.ReadFull(r, cb[:]); err != nil {
		return Status{}, fmt.Errorf("bcp: read status code: %w", err)
	}
	msg, err := readString(r)
	if err != nil {
		return Status{}, err
	}
	return Status{Code: cb[0], Message: msg}, nil
}

// WriteRegister serializes a REGISTER frame into w.
func WriteRegister(w io.Writer, f Register) error {
	if _, err := w.Write([]byte{byte(OpRegister)}); err != nil {
		return err
	}
	return writeString(w, f.Username)
}

// WriteSend serializes a SEND frame into w.
func WriteSend(w io.Writer, f Send) error {
	if _, err := w.Write([]byte{byte(OpSend)}); err != nil {
		return err
	}
	return writeString(w, f.Message)
}

// WriteDeliver serializes a DELIVER frame into w.
func WriteDeliver(w io.Writer, f Deliver) error {
	if _, err := w.Write([]byte{byte(OpDeliver)}); err != nil {
		return err
	}
	if err := writeString(w, f.From); err != nil {
		return err
	}
	return writeString(w, f.Message)
}

// WriteStatus serializes a STATUS frame into w.
func WriteStatus(w io.Writer, f Status) error {
	if _, err := w.Write([]byte{byte(OpStatus)}); err != nil {
		return err
	}
	if _, err := w.Write([]byte{f.Code}); err != nil {
		return err
	}
	return writeString(w, f.Message)
}
