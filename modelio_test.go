package mmjp

import (
	"bytes"
	"testing"
)

func sampleModelForIO() *Model {
	tr := NewTrie()
	tr.AddBytes([]byte("a"), 0)
	tr.AddBytes([]byte("b"), 1)
	tr.AddBytes([]byte("ab"), 2)
	crf := &CRFModel{
		Trans00: ToQ88(0.1), Trans01: ToQ88(-0.2), Trans10: ToQ88(0.3), Trans11: ToQ88(-0.4),
		BosTo1: ToQ88(0.5),
		FeatKeys:    []uint32{featureKey(TemplateCur, 0, ClassAlpha, 0), featureKey(TemplateCur, 1, ClassDigit, 0)},
		FeatWeights: []int16{ToQ88(1.5), ToQ88(-2.5)},
	}
	return &Model{
		Trie: tr.Freeze(),
		Uni:  &UnigramLM{LogP: []int16{ToQ88(-1), ToQ88(-2), ToQ88(-0.5)}},
		Bi: &BigramLM{Entries: []BigramEntry{
			{Key: BigramKey(0, 1), LogP: ToQ88(-3)},
		}},
		CRF:        crf,
		Unk:        UnkPenalty{Base: ToQ88(-10), PerCP: ToQ88(-1)},
		CC:         &CharClassConfig{Mode: CCRanges, Fallback: CCUtf8Len, Ranges: []CCRange{{Lo: 0x3040, Hi: 0x309F, Class: ClassHiragana}}},
		MaxWordLen: 4,
		Lambda0:    ToQ88(0.25),
		LosslessWS: true,
	}
}

func TestModelWriteReadRoundTripV2(t *testing.T) {
	m := sampleModelForIO()
	var buf bytes.Buffer
	if err := WriteModel(&buf, m); err != nil {
		t.Fatalf("WriteModel: %v", err)
	}
	got, err := ReadModel(&buf)
	if err != nil {
		t.Fatalf("ReadModel: %v", err)
	}

	if !got.Trie.ContainsBytes([]byte("ab")) {
		t.Errorf("round-tripped trie missing \"ab\"")
	}
	if len(got.Uni.LogP) != len(m.Uni.LogP) {
		t.Fatalf("Uni.LogP len = %d, want %d", len(got.Uni.LogP), len(m.Uni.LogP))
	}
	for i := range m.Uni.LogP {
		if got.Uni.LogP[i] != m.Uni.LogP[i] {
			t.Errorf("Uni.LogP[%d] = %d, want %d", i, got.Uni.LogP[i], m.Uni.LogP[i])
		}
	}
	if got.Bi == nil || len(got.Bi.Entries) != 1 || got.Bi.Entries[0].Key != m.Bi.Entries[0].Key {
		t.Errorf("bigram table did not round-trip: got %+v", got.Bi)
	}
	if got.CRF.Trans00 != m.CRF.Trans00 || got.CRF.BosTo1 != m.CRF.BosTo1 {
		t.Errorf("CRF transitions did not round-trip: got %+v", got.CRF)
	}
	if len(got.CRF.FeatKeys) != len(m.CRF.FeatKeys) {
		t.Fatalf("FeatKeys len = %d, want %d", len(got.CRF.FeatKeys), len(m.CRF.FeatKeys))
	}
	for i := range m.CRF.FeatKeys {
		if got.CRF.FeatKeys[i] != m.CRF.FeatKeys[i] || got.CRF.FeatWeights[i] != m.CRF.FeatWeights[i] {
			t.Errorf("feature %d mismatch: got (%d,%d), want (%d,%d)", i, got.CRF.FeatKeys[i], got.CRF.FeatWeights[i], m.CRF.FeatKeys[i], m.CRF.FeatWeights[i])
		}
	}
	if got.Unk != m.Unk {
		t.Errorf("Unk penalty mismatch: got %+v, want %+v", got.Unk, m.Unk)
	}
	if got.MaxWordLen != m.MaxWordLen || got.Lambda0 != m.Lambda0 {
		t.Errorf("MaxWordLen/Lambda0 mismatch: got (%d,%d), want (%d,%d)", got.MaxWordLen, got.Lambda0, m.MaxWordLen, m.Lambda0)
	}
	if got.LosslessWS != m.LosslessWS {
		t.Errorf("LosslessWS = %v, want %v", got.LosslessWS, m.LosslessWS)
	}
	if got.CC.Mode != m.CC.Mode || got.CC.Fallback != m.CC.Fallback {
		t.Errorf("CC mode/fallback mismatch: got %+v, want %+v", got.CC, m.CC)
	}
	if len(got.CC.Ranges) != 1 || got.CC.Ranges[0] != m.CC.Ranges[0] {
		t.Errorf("CC ranges mismatch: got %+v, want %+v", got.CC.Ranges, m.CC.Ranges)
	}
}

func TestModelReadRejectsUnknownMagic(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteString("NOTMMJP\x00")
	if _, err := ReadModel(&buf); err == nil {
		t.Errorf("expected error for unrecognized magic")
	}
}

func TestModelReadV1DefaultsClassifier(t *testing.T) {
	m := sampleModelForIO()
	m.LosslessWS = false
	m.CC = &CharClassConfig{Mode: CCAscii}
	m.Bi = nil

	var buf bytes.Buffer
	if err := WriteModel(&buf, m); err != nil {
		t.Fatalf("WriteModel: %v", err)
	}
	raw := buf.Bytes()
	// Rewrite the magic to v1 and drop the v2-only 12 bytes (flags,
	// cc_mode/cc_fallback/padding, cc_range_count) between the common
	// header and the array data, matching the legacy layout ReadModel
	// expects when isV1 is true.
	v1 := append([]byte(nil), magicV1[:]...)
	v1 = append(v1, raw[8:52]...)  // version .. bigram_size (same layout as v2)
	v1 = append(v1, raw[64:]...)   // array data: base/check/logp/... (skips the 12 v2-only bytes)
	got, err := ReadModel(bytes.NewReader(v1))
	if err != nil {
		t.Fatalf("ReadModel(v1): %v", err)
	}
	if got.LosslessWS {
		t.Errorf("v1 model should always report LosslessWS=false")
	}
	if got.CC.Mode != CCAscii {
		t.Errorf("v1 model CC.Mode = %v, want CCAscii", got.CC.Mode)
	}
	if !got.Trie.ContainsBytes([]byte("ab")) {
		t.Errorf("v1 model trie missing \"ab\"")
	}
}
