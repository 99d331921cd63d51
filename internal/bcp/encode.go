package bcp

import "bytes"

// EncodeDeliver renders a DELIVER frame to an owned byte buffer, the shape
// an OUTBOUND task carries (spec §3 "Task").
func EncodeDeliver(f Deliver) []byte {
	var buf bytes.Buffer
	buf.Grow(1 + 2 + len(f.From) + 2 + len(f.Message))
	_ = WriteDeliver(&buf, f)
	return buf.Bytes()
}

// EncodeStatus renders a STATUS frame to an owned byte buffer.
func EncodeStatus(f Status) []byte {
	var buf bytes.Buffer
	buf.Grow(1 + 1 + 2 + len(f.Message))
	_ = WriteStatus(&buf, f)
	return buf.Bytes()
}
