package mmjp

import "testing"

func TestBuildOffsetsMonotonic(t *testing.T) {
	for _, s := range []string{
		"",
		"hello",
		"あいう", // hiragana
		"aé中\U0001F600",
	} {
		offsets, err := BuildOffsets([]byte(s))
		if err != nil {
			t.Fatalf("case %q: unexpected error: %v", s, err)
		}
		if len(offsets) == 0 {
			t.Fatalf("case %q: expected at least one offset", s)
		}
		if offsets[0] != 0 {
			t.Errorf("case %q: offsets[0] = %d, want 0", s, offsets[0])
		}
		if offsets[len(offsets)-1] != len(s) {
			t.Errorf("case %q: last offset = %d, want %d", s, offsets[len(offsets)-1], len(s))
		}
		for i := 1; i < len(offsets); i++ {
			if offsets[i] <= offsets[i-1] {
				t.Errorf("case %q: offsets not strictly increasing at %d: %v", s, i, offsets)
			}
		}
		if got := NumCodepoints(offsets); got != len(offsets)-1 {
			t.Errorf("case %q: NumCodepoints = %d, want %d", s, got, len(offsets)-1)
		}
	}
}

func TestDecodeRuneRejectsMalformed(t *testing.T) {
	for _, i := range []struct {
		name string
		b    []byte
	}{
		{"overlong two-byte", []byte{0xC0, 0x80}},
		{"surrogate", []byte{0xED, 0xA0, 0x80}},
		{"beyond max codepoint", []byte{0xF4, 0x90, 0x80, 0x80}},
		{"truncated", []byte{0xE4, 0xB8}},
		{"bad continuation", []byte{0xC2, 0x20}},
		{"stray continuation byte", []byte{0x80}},
	} {
		if _, _, err := DecodeRune(i.b, 0); err == nil {
			t.Errorf("%s: expected error, got none", i.name)
		}
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	for _, r := range []int32{0x41, 0x7F, 0x80, 0x7FF, 0x800, 0xFFFF, 0x10000, 0x10FFFF} {
		buf := EncodeRune(nil, r)
		got, size, err := DecodeRune(buf, 0)
		if err != nil {
			t.Fatalf("codepoint %#x: unexpected error: %v", r, err)
		}
		if got != r {
			t.Errorf("codepoint %#x: round trip gave %#x", r, got)
		}
		if size != len(buf) {
			t.Errorf("codepoint %#x: size %d != len(buf) %d", r, size, len(buf))
		}
	}
}

func TestBuildOffsetsInvalidUTF8(t *testing.T) {
	b := []byte{'a', 'b', 0xFF, 'c'}
	if _, err := BuildOffsets(b); err == nil {
		t.Fatalf("expected error for malformed byte 0xFF")
	}
}
