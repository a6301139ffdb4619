package mmjp

import (
	"strings"
	"testing"
)

func TestClassifyASCIIFixedRule(t *testing.T) {
	cc := &CharClassConfig{Mode: CCAscii}
	for _, i := range []struct {
		r    int32
		want uint8
	}{
		{' ', ClassSpace},
		{'\t', ClassSpace},
		{'\r', ClassSpace},
		{'\n', ClassSpace},
		{'5', ClassDigit},
		{'a', ClassAlpha},
		{'Z', ClassAlpha},
		{'!', ClassSymbol},
	} {
		if got := cc.Classify(i.r); got != i.want {
			t.Errorf("Classify(%q) = %d, want %d", i.r, got, i.want)
		}
	}
}

func TestClassifyAboveASCIIPerMode(t *testing.T) {
	hiragana := int32(0x3042) // あ
	for _, i := range []struct {
		mode CCMode
		want uint8
	}{
		{CCAscii, ClassOther},
		{CCUtf8Len, ClassUTF8_3B},
		{CCCompat, ClassHiragana},
	} {
		cc := &CharClassConfig{Mode: i.mode}
		if got := cc.Classify(hiragana); got != i.want {
			t.Errorf("mode %v: Classify(hiragana) = %d, want %d", i.mode, got, i.want)
		}
	}
}

func TestClassifyMetaCodepointsAlwaysSpace(t *testing.T) {
	cc := &CharClassConfig{Mode: CCCompat}
	for r := metaEscape; r <= metaCR; r++ {
		if got := cc.Classify(r); got != ClassSpace {
			t.Errorf("Classify(meta %#x) = %d, want ClassSpace", r, got)
		}
	}
}

func TestClassifyRangesWithFallback(t *testing.T) {
	cc := &CharClassConfig{
		Mode:     CCRanges,
		Fallback: CCUtf8Len,
		Ranges: []CCRange{
			{Lo: 0x3040, Hi: 0x309F, Class: ClassHiragana},
			{Lo: 0x4E00, Hi: 0x9FFF, Class: ClassKanji},
		},
	}
	if got := cc.Classify(0x3042); got != ClassHiragana {
		t.Errorf("in-range codepoint misclassified: got %d", got)
	}
	// Not covered by any range: falls back to UTF8LEN.
	if got := cc.Classify(0x10000); got != ClassUTF8_4B {
		t.Errorf("out-of-range codepoint did not use fallback: got %d", got)
	}
}

func TestParseCCRangesValid(t *testing.T) {
	data := "0x3040 0x309F 4 # hiragana\n0x4E00 0x9FFF 6\n\n# comment only\n"
	ranges, err := ParseCCRanges(strings.NewReader(data))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ranges) != 2 {
		t.Fatalf("len(ranges) = %d, want 2", len(ranges))
	}
	if ranges[0].Lo != 0x3040 || ranges[0].Hi != 0x309F || ranges[0].Class != 4 {
		t.Errorf("ranges[0] = %+v, unexpected", ranges[0])
	}
}

func TestParseCCRangesRejectsOverlap(t *testing.T) {
	data := "0 10 1\n5 20 2\n"
	if _, err := ParseCCRanges(strings.NewReader(data)); err == nil {
		t.Errorf("expected error for overlapping ranges")
	}
}

func TestParseCCRangesRejectsBadFields(t *testing.T) {
	for _, data := range []string{
		"0 10\n",         // too few fields
		"10 0 1\n",        // start > end
		"0 10 9999\n",     // class_id too large
		"0 0x110000 1\n",  // beyond U+10FFFF
	} {
		if _, err := ParseCCRanges(strings.NewReader(data)); err == nil {
			t.Errorf("case %q: expected error, got none", data)
		}
	}
}
