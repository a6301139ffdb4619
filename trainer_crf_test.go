package mmjp

import (
	"math"
	"testing"
)

func simpleCRFExample() *CRFExample {
	// "ab": BOS, a, b, EOS -> classes padded per classesAt's convention.
	classes := []uint8{ClassBOS, ClassAlpha, ClassAlpha, ClassEOS}
	// labels[i] is the label of codepoint i (classes[i+1]): "a" starts a
	// word (1), "b" is word-internal (0), and the EOS slot is 1.
	labels := []uint8{1, 0, 1}
	return &CRFExample{classes: classes, labels: labels}
}

func totalLogLikelihood(b *CRFBuilder, examples []*CRFExample) float64 {
	total := 0.0
	for _, ex := range examples {
		fb := b.forwardBackward(ex)
		transGrad := map[[2]uint8]float64{}
		emitGrad := map[uint32]float64{}
		total += b.gradient(ex, fb, transGrad, emitGrad)
	}
	return total
}

func TestCRFForwardBackwardMarginalsNormalized(t *testing.T) {
	b := NewCRFBuilder(0)
	b.trans00, b.trans01, b.trans10, b.trans11 = 0.3, -0.2, 0.1, 0.5
	b.bosTo1 = 0.1
	b.weights[featureKey(TemplateCur, 0, ClassAlpha, 0)] = 0.4
	b.weights[featureKey(TemplateCur, 1, ClassAlpha, 0)] = -0.1
	ex := simpleCRFExample()
	fb := b.forwardBackward(ex)
	n := len(ex.classes)
	for i := 1; i < n; i++ {
		p0 := math.Exp(fb.alpha0[i] + fb.beta0[i] - fb.logZ)
		p1 := math.Exp(fb.alpha1[i] + fb.beta1[i] - fb.logZ)
		if math.Abs(p0+p1-1) > 1e-6 {
			t.Errorf("position %d: p0+p1 = %v, want 1 (got p0=%v p1=%v)", i, p0+p1, p0, p1)
		}
	}
}

func TestCRFTrainSGDImprovesLikelihood(t *testing.T) {
	examples := []*CRFExample{simpleCRFExample(), simpleCRFExample()}
	b := NewCRFBuilder(1e-4)
	before := totalLogLikelihood(b, examples)
	b.TrainSGD(examples, 20, 0.5)
	after := totalLogLikelihood(b, examples)
	if after <= before {
		t.Errorf("TrainSGD did not improve log-likelihood: before=%v after=%v", before, after)
	}
}

func TestCRFTrainLBFGSImprovesLikelihood(t *testing.T) {
	examples := []*CRFExample{simpleCRFExample(), simpleCRFExample()}
	b := NewCRFBuilder(1e-4)
	before := totalLogLikelihood(b, examples)
	b.TrainLBFGS(examples, 5, 30)
	after := totalLogLikelihood(b, examples)
	if after <= before {
		t.Errorf("TrainLBFGS did not improve log-likelihood: before=%v after=%v", before, after)
	}
}

func TestCRFDumpSkipsZeroWeights(t *testing.T) {
	b := NewCRFBuilder(0)
	b.weights[featureKey(TemplateCur, 0, ClassAlpha, 0)] = 0
	b.weights[featureKey(TemplateCur, 1, ClassDigit, 0)] = 0.5
	cm := b.Dump()
	for i, k := range cm.FeatKeys {
		if cm.FeatWeights[i] == 0 {
			t.Errorf("Dump retained a zero-weight feature key %#x", k)
		}
	}
	if len(cm.FeatKeys) != 1 {
		t.Errorf("Dump: got %d feature keys, want 1", len(cm.FeatKeys))
	}
}

func TestCRFDumpFeaturesSorted(t *testing.T) {
	b := NewCRFBuilder(0)
	b.weights[featureKey(TemplateCurNext, 1, ClassDigit, ClassAlpha)] = 1
	b.weights[featureKey(TemplateCur, 0, ClassAlpha, 0)] = 1
	b.weights[featureKey(TemplatePrev, 1, ClassSpace, 0)] = 1
	cm := b.Dump()
	for i := 1; i < len(cm.FeatKeys); i++ {
		if cm.FeatKeys[i] <= cm.FeatKeys[i-1] {
			t.Errorf("FeatKeys not strictly sorted at %d: %v", i, cm.FeatKeys)
		}
	}
}

func TestPseudoLabelFallbackOnDecodeFailure(t *testing.T) {
	tr := NewTrie()
	tr.AddBytes([]byte("a"), 0)
	m := &Model{
		Trie:       tr.Freeze(),
		Uni:        &UnigramLM{LogP: []int16{0}},
		CRF:        &CRFModel{},
		Unk:        UnkPenalty{},
		CC:         &CharClassConfig{Mode: CCAscii},
		MaxWordLen: 0, // forces NoCover for any non-empty input
	}
	wa := NewWorkArea(16, 1, 4)
	ex, err := PseudoLabel(m, wa, []byte("ab"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ex.labels) != 3 {
		t.Fatalf("labels len = %d, want 3", len(ex.labels))
	}
	for i, l := range ex.labels {
		if l != 1 {
			t.Errorf("fallback label %d = %d, want 1 (all-boundaries fallback)", i, l)
		}
	}
}

func TestPseudoLabelMarksDecodedBoundaries(t *testing.T) {
	m, wa := newDecoderTestModel(t)
	ex, err := PseudoLabel(m, wa, []byte("ab"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// "ab" decodes as one piece: codepoint 0 ('a') starts it (label 1),
	// codepoint 1 ('b') is interior (label 0), and the EOS slot at
	// labels[2] is always 1.
	if ex.labels[0] != 1 {
		t.Errorf("labels[0] = %d, want 1 (start of \"ab\")", ex.labels[0])
	}
	if ex.labels[1] != 0 {
		t.Errorf("labels[1] = %d, want 0 (interior of \"ab\")", ex.labels[1])
	}
	if ex.labels[2] != 1 {
		t.Errorf("labels[2] = %d, want 1 (EOS slot)", ex.labels[2])
	}
}

func TestGoldLabelMarksTokenStarts(t *testing.T) {
	cc := &CharClassConfig{Mode: CCAscii}
	ex, err := GoldLabel(cc, []byte("foo bar baz"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// Training sentence is the concatenation "foobarbaz" (9 codepoints,
	// so labels has 10 entries: one per codepoint plus the EOS slot at
	// the last index). Token starts are codepoints 0 ("foo"), 3 ("bar")
	// and 6 ("baz"), so labels[0], labels[3] and labels[6] are 1;
	// labels[9] is the EOS slot, always 1.
	want := []uint8{1, 0, 0, 1, 0, 0, 1, 0, 0, 1}
	if len(ex.labels) != len(want) {
		t.Fatalf("len(labels) = %d, want %d", len(ex.labels), len(want))
	}
	for i := range want {
		if ex.labels[i] != want[i] {
			t.Errorf("labels[%d] = %d, want %d (full: %v)", i, ex.labels[i], want[i], ex.labels)
		}
	}
}

func TestGoldLabelSingleTokenOneStart(t *testing.T) {
	cc := &CharClassConfig{Mode: CCAscii}
	ex, err := GoldLabel(cc, []byte("hello"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ex.labels[0] != 1 {
		t.Errorf("labels[0] = %d, want 1 (the token's first codepoint)", ex.labels[0])
	}
	for i := 1; i < len(ex.labels)-1; i++ {
		if ex.labels[i] != 0 {
			t.Errorf("labels[%d] = %d, want 0 (single token has no internal boundary)", i, ex.labels[i])
		}
	}
	if ex.labels[len(ex.labels)-1] != 1 {
		t.Errorf("final label = %d, want 1 (sentence-final boundary)", ex.labels[len(ex.labels)-1])
	}
}

func TestGoldLabelIgnoresSeparatorWhitespace(t *testing.T) {
	cc := &CharClassConfig{Mode: CCAscii}
	ex, err := GoldLabel(cc, []byte("a  b"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// Separator whitespace is dropped; the training sentence is "ab".
	if len(ex.classes) != 4 {
		t.Fatalf("len(classes) = %d, want 4 (BOS, a, b, EOS)", len(ex.classes))
	}
	if ex.classes[1] == ClassSpace || ex.classes[2] == ClassSpace {
		t.Errorf("separator whitespace leaked into the training sentence: classes=%v", ex.classes)
	}
}

func TestLBFGSSmallHistoryImprovesLikelihood(t *testing.T) {
	b := NewCRFBuilder(0)
	// The history is a local of TrainLBFGS and cannot be observed or
	// seeded from here, so whether the non-descent reset branch runs is
	// not checked; this runs TrainLBFGS end-to-end with a small history
	// size and checks that it still ends with improved likelihood.
	examples := []*CRFExample{simpleCRFExample(), simpleCRFExample()}
	before := totalLogLikelihood(b, examples)
	b.TrainLBFGS(examples, 3, 50)
	after := totalLogLikelihood(b, examples)
	if after <= before {
		t.Errorf("TrainLBFGS did not improve likelihood after a small history size (more likely to hit non-descent directions): before=%v after=%v", before, after)
	}
}
