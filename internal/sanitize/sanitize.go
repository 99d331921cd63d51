// Package sanitize filters raw BCP string payloads down to a safe byte set
// before they are relayed or used as identifiers (spec §4.1, §8).
package sanitize

// Username keeps printable ASCII excluding space. Any forbidden byte is
// dropped, not escaped; an all-forbidden input yields the empty string,
// which callers must treat as a failed registration.
func Username(raw string) string {
	out := make([]byte, 0, len(raw))
	for i := 0; i < len(raw); i++ {
		b := raw[i]
		if b > 0x20 && b < 0x7f {
			out = append(out, b)
		}
	}
	return string(out)
}

// Message keeps printable ASCII plus tab, newline, and space.
func Message(raw string) string {
	out := make([]byte, 0, len(raw))
	for i := 0; i < len(raw); i++ {
		b := raw[i]
		if (b >= 0x20 && b < 0x7f) || b == '\t' || b == '\n' {
			out = append(out, b)
		}
	}
	return string(out)
}
