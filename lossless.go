package mmjp

// A bijective re-encoding of whitespace so that tokenization round
// trips even through a model that can't represent raw spaces/tabs as
// dictionary pieces. Operates on decoded codepoints, not bytes —
// bytes that don't form valid UTF-8 pass through unchanged so
// imperfect corpora still round-trip.

const (
	metaEscape int32 = 0x2580 // ▀ escape prefix
	metaSpace  int32 = 0x2581 // ▁
	metaTab    int32 = 0x2582 // ▂
	metaLF     int32 = 0x2583 // ▃
	metaCR     int32 = 0x2584 // ▄
)

func isMeta(r int32) bool {
	return r >= metaEscape && r <= metaCR
}

// LosslessEncode maps spaces/tabs (and, when includeNewlines, CR/LF)
// to their meta codepoints, escapes codepoints that are themselves
// meta codepoints with a leading ▀, and copies everything else
// through unchanged. Invalid byte sequences in s are copied through
// byte-by-byte.
func LosslessEncode(s []byte, includeNewlines bool) []byte {
	out := make([]byte, 0, len(s)+len(s)/8)
	pos := 0
	for pos < len(s) {
		r, size, err := DecodeRune(s, pos)
		if err != nil {
			out = append(out, s[pos])
			pos++
			continue
		}
		switch {
		case r == ' ':
			out = EncodeRune(out, metaSpace)
		case r == '\t':
			out = EncodeRune(out, metaTab)
		case includeNewlines && r == '\n':
			out = EncodeRune(out, metaLF)
		case includeNewlines && r == '\r':
			out = EncodeRune(out, metaCR)
		case isMeta(r):
			out = EncodeRune(out, metaEscape)
			out = EncodeRune(out, r)
		default:
			out = append(out, s[pos:pos+size]...)
		}
		pos += size
	}
	return out
}

// LosslessDecode is the inverse of LosslessEncode: meta codepoints map
// back to their raw whitespace, a ▀ consumes and emits the following
// codepoint literally (a trailing lone ▀ with no successor is emitted
// unchanged), and everything else copies through. Invalid byte
// sequences copy through byte-by-byte, the same leniency as Encode.
func LosslessDecode(s []byte) []byte {
	out := make([]byte, 0, len(s))
	pos := 0
	for pos < len(s) {
		r, size, err := DecodeRune(s, pos)
		if err != nil {
			out = append(out, s[pos])
			pos++
			continue
		}
		switch r {
		case metaSpace:
			out = append(out, ' ')
		case metaTab:
			out = append(out, '\t')
		case metaLF:
			out = append(out, '\n')
		case metaCR:
			out = append(out, '\r')
		case metaEscape:
			if pos+size >= len(s) {
				// Trailing lone escape: emit unchanged.
				out = EncodeRune(out, metaEscape)
				pos += size
				continue
			}
			r2, size2, err2 := DecodeRune(s, pos+size)
			if err2 != nil {
				out = EncodeRune(out, metaEscape)
				pos += size
				continue
			}
			out = EncodeRune(out, r2)
			pos += size + size2
			continue
		default:
			out = append(out, s[pos:pos+size]...)
		}
		pos += size
	}
	return out
}
