package mmjp

import "testing"

func TestLosslessRoundTrip(t *testing.T) {
	for _, i := range []struct {
		name            string
		s               string
		includeNewlines bool
	}{
		{"plain", "hello world", false},
		{"leading/trailing space", "  hi  ", false},
		{"tabs", "a\tb\tc", false},
		{"newlines included", "a\nb\r\nc", true},
		{"newlines excluded", "a\nb\r\nc", false},
		{"already meta-looking text", "▀▁▂▃▄", false},
		{"unicode", "日本語 テスト", false},
		{"empty", "", false},
	} {
		enc := LosslessEncode([]byte(i.s), i.includeNewlines)
		dec := LosslessDecode(enc)
		if string(dec) != i.s {
			t.Errorf("%s: round trip mismatch: got %q, want %q", i.name, dec, i.s)
		}
	}
}

func TestLosslessEncodeSingleSpace(t *testing.T) {
	got := LosslessEncode([]byte(" "), false)
	want := string(EncodeRune(nil, metaSpace))
	if string(got) != want {
		t.Errorf("encode(space) = %q, want %q", got, want)
	}
}

func TestLosslessEscapesMetaCodepoint(t *testing.T) {
	raw := string(EncodeRune(nil, metaSpace))
	enc := LosslessEncode([]byte(raw), false)
	wantPrefix := string(EncodeRune(nil, metaEscape))
	if len(enc) < len(wantPrefix) || string(enc[:len(wantPrefix)]) != wantPrefix {
		t.Errorf("encode(literal meta codepoint) = %q, want escape prefix %q", enc, wantPrefix)
	}
	if dec := LosslessDecode(enc); string(dec) != raw {
		t.Errorf("decode(escaped meta codepoint) = %q, want %q", dec, raw)
	}
}

func TestLosslessDecodeTrailingLoneEscape(t *testing.T) {
	lone := EncodeRune(nil, metaEscape)
	got := LosslessDecode(lone)
	if string(got) != string(lone) {
		t.Errorf("decode(trailing lone escape) = %q, want unchanged %q", got, lone)
	}
}

func TestLosslessInvalidBytesPassThrough(t *testing.T) {
	b := []byte{'a', 0xFF, 'b'}
	enc := LosslessEncode(b, false)
	dec := LosslessDecode(enc)
	if string(dec) != string(b) {
		t.Errorf("round trip through invalid bytes: got %q, want %q", dec, b)
	}
}
