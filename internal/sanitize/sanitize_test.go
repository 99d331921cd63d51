package sanitize

import "testing"

func TestUsernameDropsSpaceAndControls(t *testing.T) {
	got := Username("al ice\x00\x7f\x01bob")
	if got != "alicebob" {
		t.Fatalf("got %q", got)
	}
}

func TestUsernameAllForbiddenYieldsEmpty(t *testing.T) {
	if got := Username("   \x00\x01"); got != "" {
		t.Fatalf("got %q, want empty", got)
	}
}

func TestUsernamePassesPrintableAscii(t *testing.T) {
	in := "Alice-42!"
	if got := Username(in); got != in {
		t.Fatalf("got %q, want %q", got, in)
	}
}

func TestMessageKeepsSpaceTabNewline(t *testing.T) {
	in := "hi\tthere\nworld \x01"
	want := "hi\tthere\nworld "
	if got := Message(in); got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestMessageDropsControlBytes(t *testing.T) {
	got := Message("a\x00b\x7fc")
	if got != "abc" {
		t.Fatalf("got %q", got)
	}
}
