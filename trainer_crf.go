package mmjp

import (
	"bytes"
	"math"
	"sort"
	"unicode"

	"github.com/golang/glog"
)

// CRFBuilder trains the 2-label linear-chain CRF (label 1 = this
// codepoint starts a word, label 0 = word-internal) by supervised gradient
// descent over gold-segmented sentences. Feature weights accumulate in
// a map keyed the same way CRFModel.Weight looks them up, so Dump can
// hand the sorted table straight to the decoder.
type CRFBuilder struct {
	trans00, trans01, trans10, trans11 float64
	bosTo1                             float64
	weights                            map[uint32]float64
	l2                                 float64
}

// NewCRFBuilder creates a builder with all weights at zero and L2
// penalty coefficient l2.
func NewCRFBuilder(l2 float64) *CRFBuilder {
	return &CRFBuilder{weights: map[uint32]float64{}, l2: l2}
}

// CRFExample is one training sentence: per-codepoint class ids (from
// CharClassConfig.Classify, BOS/EOS already resolved at the edges) and
// the gold labels (labels[i] is the label of codepoint i, i.e. of
// classes[i+1]; the last entry is the EOS slot and is always 1, so
// len(labels) == len(classes)-1).
type CRFExample struct {
	classes []uint8
	labels  []uint8
}

func (b *CRFBuilder) trans(from, to uint8) float64 {
	switch {
	case from == 0 && to == 0:
		return b.trans00
	case from == 0 && to == 1:
		return b.trans01
	case from == 1 && to == 0:
		return b.trans10
	default:
		return b.trans11
	}
}

func (b *CRFBuilder) addTrans(from, to uint8, d float64) {
	switch {
	case from == 0 && to == 0:
		b.trans00 += d
	case from == 0 && to == 1:
		b.trans01 += d
	case from == 1 && to == 0:
		b.trans10 += d
	default:
		b.trans11 += d
	}
}

func (b *CRFBuilder) emit(label uint8, prevClass, curClass, nextClass uint8) float64 {
	return b.weights[featureKey(TemplateCur, label, curClass, 0)] +
		b.weights[featureKey(TemplatePrev, label, prevClass, 0)] +
		b.weights[featureKey(TemplateNext, label, nextClass, 0)] +
		b.weights[featureKey(TemplatePrevCur, label, prevClass, curClass)] +
		b.weights[featureKey(TemplateCurNext, label, curClass, nextClass)]
}

func (b *CRFBuilder) addEmit(label uint8, prevClass, curClass, nextClass uint8, d float64) {
	b.weights[featureKey(TemplateCur, label, curClass, 0)] += d
	b.weights[featureKey(TemplatePrev, label, prevClass, 0)] += d
	b.weights[featureKey(TemplateNext, label, nextClass, 0)] += d
	b.weights[featureKey(TemplatePrevCur, label, prevClass, curClass)] += d
	b.weights[featureKey(TemplateCurNext, label, curClass, nextClass)] += d
}

// classesAt returns the padded class sequence for a sentence: index 0
// is ClassBOS, index n+1 is ClassEOS, matching decoder.go's classAt
// convention.
func classesAt(cc *CharClassConfig, bytes []byte, offsets []int) []uint8 {
	n := NumCodepoints(offsets)
	cls := make([]uint8, n+2)
	cls[0] = ClassBOS
	cls[n+1] = ClassEOS
	for i := 0; i < n; i++ {
		r, _, _ := DecodeRune(bytes, offsets[i])
		cls[i+1] = cc.Classify(r)
	}
	return cls
}

// forwardBackwardCRF runs the standard 2-label forward-backward over
// one example, returning logZ and the marginal P(label_i) needed for
// the gradient's "expected counts" term.
type crfFB struct {
	alpha0, alpha1 []float64
	beta0, beta1   []float64
	logZ           float64
}

func (b *CRFBuilder) forwardBackward(ex *CRFExample) *crfFB {
	n := len(ex.classes)
	fb := &crfFB{
		alpha0: make([]float64, n),
		alpha1: make([]float64, n),
		beta0:  make([]float64, n),
		beta1:  make([]float64, n),
	}
	fb.alpha0[0] = math.Inf(-1)
	fb.alpha1[0] = b.bosTo1 // position 0 is BOS; by convention label 1 "into" BOS holds BOS->state mass
	for i := 1; i < n; i++ {
		prevC, curC, nextC := ex.classes[i-1], ex.classes[i], uint8(0)
		if i+1 < n {
			nextC = ex.classes[i+1]
		}
		e0 := b.emit(0, prevC, curC, nextC)
		e1 := b.emit(1, prevC, curC, nextC)
		fb.alpha0[i] = LogSumExp(fb.alpha0[i-1]+b.trans(0, 0), fb.alpha1[i-1]+b.trans(1, 0)) + e0
		fb.alpha1[i] = LogSumExp(fb.alpha0[i-1]+b.trans(0, 1), fb.alpha1[i-1]+b.trans(1, 1)) + e1
	}
	last := n - 1
	fb.logZ = fb.alpha1[last] // final state is always label 1 (EOS boundary)
	fb.beta0[last] = math.Inf(-1)
	fb.beta1[last] = 0
	for i := last - 1; i >= 0; i-- {
		prevC, curC, nextC := ex.classes[i], ex.classes[i+1], uint8(0)
		if i+2 < n {
			nextC = ex.classes[i+2]
		}
		e0 := b.emit(0, prevC, curC, nextC)
		e1 := b.emit(1, prevC, curC, nextC)
		fb.beta0[i] = LogSumExp(b.trans(0, 0)+e0+fb.beta0[i+1], b.trans(0, 1)+e1+fb.beta1[i+1])
		fb.beta1[i] = LogSumExp(b.trans(1, 0)+e0+fb.beta0[i+1], b.trans(1, 1)+e1+fb.beta1[i+1])
	}
	return fb
}

// gradient accumulates (empirical - expected) counts for one example
// into transGrad/emitGrad, and returns this example's log-likelihood.
func (b *CRFBuilder) gradient(ex *CRFExample, fb *crfFB, transGrad map[[2]uint8]float64, emitGrad map[uint32]float64) float64 {
	n := len(ex.classes)
	ll := 0.0
	// Empirical transition and emission counts, plus the score of the
	// gold path (for log-likelihood).
	prevLabel := uint8(1) // position 0 is BOS, treated as label 1
	goldScore := 0.0
	for i := 1; i < n; i++ {
		label := ex.labels[i-1]
		prevC, curC, nextC := ex.classes[i-1], ex.classes[i], uint8(0)
		if i+1 < n {
			nextC = ex.classes[i+1]
		}
		transGrad[[2]uint8{prevLabel, label}] += 1
		addEmitGrad(emitGrad, label, prevC, curC, nextC, 1)
		goldScore += b.trans(prevLabel, label) + b.emit(label, prevC, curC, nextC)
		prevLabel = label
	}
	ll = goldScore - fb.logZ

	// Expected counts from forward-backward marginals.
	for i := 1; i < n; i++ {
		prevC, curC, nextC := ex.classes[i-1], ex.classes[i], uint8(0)
		if i+1 < n {
			nextC = ex.classes[i+1]
		}
		var a0, a1 float64
		if i == 1 {
			a0, a1 = math.Inf(-1), b.bosTo1
		} else {
			a0, a1 = fb.alpha0[i-1], fb.alpha1[i-1]
		}
		e0 := b.emit(0, prevC, curC, nextC)
		e1 := b.emit(1, prevC, curC, nextC)
		p00 := math.Exp(a0 + b.trans(0, 0) + e0 + fb.beta0[i] - fb.logZ)
		p01 := math.Exp(a0 + b.trans(0, 1) + e1 + fb.beta1[i] - fb.logZ)
		p10 := math.Exp(a1 + b.trans(1, 0) + e0 + fb.beta0[i] - fb.logZ)
		p11 := math.Exp(a1 + b.trans(1, 1) + e1 + fb.beta1[i] - fb.logZ)
		transGrad[[2]uint8{0, 0}] -= p00
		transGrad[[2]uint8{0, 1}] -= p01
		transGrad[[2]uint8{1, 0}] -= p10
		transGrad[[2]uint8{1, 1}] -= p11
		addEmitGrad(emitGrad, 0, prevC, curC, nextC, -(p00 + p10))
		addEmitGrad(emitGrad, 1, prevC, curC, nextC, -(p01 + p11))
	}
	return ll
}

func addEmitGrad(g map[uint32]float64, label uint8, prevClass, curClass, nextClass uint8, d float64) {
	g[featureKey(TemplateCur, label, curClass, 0)] += d
	g[featureKey(TemplatePrev, label, prevClass, 0)] += d
	g[featureKey(TemplateNext, label, nextClass, 0)] += d
	g[featureKey(TemplatePrevCur, label, prevClass, curClass)] += d
	g[featureKey(TemplateCurNext, label, curClass, nextClass)] += d
}

// flatParams/setFlatParams let both SGD and L-BFGS address the full
// parameter vector (4 transitions + bosTo1 + every observed feature
// key) uniformly.
func (b *CRFBuilder) flatKeys() []uint32 {
	keys := make([]uint32, 0, len(b.weights))
	for k := range b.weights {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

// TrainSGD runs numEpochs of minibatch-free SGD with learning rate lr,
// shrinking L2 penalty applied per update, mirroring the simple
// accumulate-then-step driver loop of the rest of this package's
// trainers.
func (b *CRFBuilder) TrainSGD(examples []*CRFExample, numEpochs int, lr float64) {
	for ep := 0; ep < numEpochs; ep++ {
		transGrad := map[[2]uint8]float64{}
		emitGrad := map[uint32]float64{}
		var ll float64
		for _, ex := range examples {
			fb := b.forwardBackward(ex)
			ll += b.gradient(ex, fb, transGrad, emitGrad)
		}
		totalPos := 0
		for _, ex := range examples {
			totalPos += len(ex.classes) - 1
		}
		if totalPos == 0 {
			totalPos = 1
		}
		step := lr / float64(totalPos)
		for k, v := range transGrad {
			d := step * (v - b.l2*b.trans(k[0], k[1]))
			b.addTrans(k[0], k[1], d)
		}
		for k, v := range emitGrad {
			d := step * (v - b.l2*b.weights[k])
			b.weights[k] += d
		}
		if glog.V(1) {
			glog.Infof("crf sgd epoch %d: loglik=%g", ep, ll)
		}
	}
}

// lbfgsState carries one parameter/gradient snapshot used by the
// two-loop recursion's history.
type lbfgsState struct {
	s, y []float64
	rho  float64
}

// TrainLBFGS runs L-BFGS with history size m, Armijo backtracking line
// search (c1=1e-4), for up to maxIters outer iterations. Curvature
// pairs with s.y <= 1e-12 are skipped (a near-degenerate step, most
// often the very first iterate from a flat region).
func (b *CRFBuilder) TrainLBFGS(examples []*CRFExample, m, maxIters int) {
	keys := b.flatKeys()
	dim := len(keys) + 4
	idx := func(k int) int { return k } // transitions occupy 0..3, bosTo1 folded into trans11's slot is avoided: use separate slot
	_ = idx

	get := func() []float64 {
		x := make([]float64, dim+1)
		x[0], x[1], x[2], x[3] = b.trans00, b.trans01, b.trans10, b.trans11
		x[4] = b.bosTo1
		for i, k := range keys {
			x[5+i] = b.weights[k]
		}
		return x
	}
	set := func(x []float64) {
		b.trans00, b.trans01, b.trans10, b.trans11 = x[0], x[1], x[2], x[3]
		b.bosTo1 = x[4]
		for i, k := range keys {
			b.weights[k] = x[5+i]
		}
	}
	evalGrad := func() (float64, []float64) {
		transGrad := map[[2]uint8]float64{}
		emitGrad := map[uint32]float64{}
		var ll float64
		for _, ex := range examples {
			fb := b.forwardBackward(ex)
			ll += b.gradient(ex, fb, transGrad, emitGrad)
		}
		reg := 0.0
		g := make([]float64, dim+1)
		g[0] = -(transGrad[[2]uint8{0, 0}] - b.l2*b.trans00)
		g[1] = -(transGrad[[2]uint8{0, 1}] - b.l2*b.trans01)
		g[2] = -(transGrad[[2]uint8{1, 0}] - b.l2*b.trans10)
		g[3] = -(transGrad[[2]uint8{1, 1}] - b.l2*b.trans11)
		g[4] = 0 // bosTo1 has no direct gradient term from transGrad keys; folded via alpha1[0] prior, left fixed by convention
		for i, k := range keys {
			g[5+i] = -(emitGrad[k] - b.l2*b.weights[k])
		}
		for _, v := range append([]float64{b.trans00, b.trans01, b.trans10, b.trans11}, valuesOf(b.weights, keys)...) {
			reg += v * v
		}
		nll := -ll + 0.5*b.l2*reg
		return nll, g
	}

	history := make([]lbfgsState, 0, m)
	x := get()
	f, g := evalGrad()
	for it := 0; it < maxIters; it++ {
		if norm(g) < 1e-6 {
			break
		}
		dir := twoLoopRecursion(g, history)
		gDotDir := dot(g, dir)
		if gDotDir >= 0 {
			// Curvature estimate produced an ascent (or non-descent)
			// direction; discard the history and restart from steepest
			// descent, which is always a descent direction for g != 0.
			history = history[:0]
			dir = scale(g, -1)
			gDotDir = dot(g, dir)
		}
		step := 1.0
		c1 := 1e-4
		var newX []float64
		var newF float64
		var newG []float64
		for ls := 0; ls < 20; ls++ {
			newX = addScaled(x, dir, step)
			set(newX)
			newF, newG = evalGrad()
			if newF <= f+c1*step*gDotDir {
				break
			}
			step *= 0.5
		}
		s := subtract(newX, x)
		y := subtract(newG, g)
		sy := dot(s, y)
		if sy > 1e-12 {
			if len(history) == m {
				history = history[1:]
			}
			history = append(history, lbfgsState{s: s, y: y, rho: 1 / sy})
		}
		x, f, g = newX, newF, newG
		if glog.V(1) {
			glog.Infof("crf lbfgs iter %d: nll=%g |g|=%g", it, f, norm(g))
		}
	}
	set(x)
}

func valuesOf(m map[uint32]float64, keys []uint32) []float64 {
	out := make([]float64, len(keys))
	for i, k := range keys {
		out[i] = m[k]
	}
	return out
}

// twoLoopRecursion computes the L-BFGS search direction -H*g from
// gradient g and history (oldest first).
func twoLoopRecursion(g []float64, history []lbfgsState) []float64 {
	q := append([]float64(nil), g...)
	n := len(history)
	alphas := make([]float64, n)
	for i := n - 1; i >= 0; i-- {
		h := history[i]
		alphas[i] = h.rho * dot(h.s, q)
		q = subtract(q, scale(h.y, alphas[i]))
	}
	gamma := 1.0
	if n > 0 {
		last := history[n-1]
		sy := dot(last.s, last.y)
		yy := dot(last.y, last.y)
		if yy > 0 {
			gamma = sy / yy
		}
	}
	z := scale(q, gamma)
	for i := 0; i < n; i++ {
		h := history[i]
		beta := h.rho * dot(h.y, z)
		z = addScaled(z, h.s, alphas[i]-beta)
	}
	return scale(z, -1)
}

func dot(a, b []float64) float64 {
	s := 0.0
	for i := range a {
		s += a[i] * b[i]
	}
	return s
}
func subtract(a, b []float64) []float64 {
	out := make([]float64, len(a))
	for i := range a {
		out[i] = a[i] - b[i]
	}
	return out
}
func scale(a []float64, s float64) []float64 {
	out := make([]float64, len(a))
	for i := range a {
		out[i] = a[i] * s
	}
	return out
}
func addScaled(a, dir []float64, s float64) []float64 {
	out := make([]float64, len(a))
	for i := range a {
		out[i] = a[i] + dir[i]*s
	}
	return out
}
func norm(a []float64) float64 {
	return math.Sqrt(dot(a, a))
}

// PseudoLabel runs LM-only Viterbi (CRF weights all zero) over
// unlabeled text to produce weak supervision, falling back to
// all-boundaries segmentation (every codepoint its own piece) when
// decode fails to cover the sentence.
func PseudoLabel(m *Model, wa *WorkArea, bytes []byte) (*CRFExample, error) {
	cpBoundaries, _, err := m.Decode(bytes, wa)
	offsets, offErr := BuildOffsets(bytes)
	if offErr != nil {
		return nil, offErr
	}
	cc := m.CC
	classes := classesAt(cc, bytes, offsets)
	n := NumCodepoints(offsets)
	labels := make([]uint8, n+1)
	if err != nil {
		for i := range labels {
			labels[i] = 1
		}
		return &CRFExample{classes: classes, labels: labels}, nil
	}
	// cpBoundaries are byte offsets; translate to codepoint indices via
	// offsets, then mark a 1-label at every piece start, plus the EOS
	// slot.
	cpSet := map[int]bool{}
	for i, off := range offsets {
		for _, b := range cpBoundaries {
			if b == off {
				cpSet[i] = true
			}
		}
	}
	for i := 0; i < n; i++ {
		if cpSet[i] {
			labels[i] = 1
		}
	}
	labels[n] = 1
	return &CRFExample{classes: classes, labels: labels}, nil
}

// GoldLabel parses one line of gold-segmented training text (§4.H
// Dataset): tokens are whitespace-separated, the separating whitespace
// itself is not part of the training sentence, and every token-initial
// codepoint is labeled 1, every other codepoint 0. This is the
// supervised counterpart to PseudoLabel's LM-derived weak supervision.
func GoldLabel(cc *CharClassConfig, line []byte) (*CRFExample, error) {
	tokens := bytes.FieldsFunc(line, unicode.IsSpace)
	sentence := bytes.Join(tokens, nil)
	offsets, err := BuildOffsets(sentence)
	if err != nil {
		return nil, err
	}
	classes := classesAt(cc, sentence, offsets)
	n := NumCodepoints(offsets)
	// labels[i-1] is read by gradient for i in 1..n+1 (the last step
	// being the transition into EOS), matching classesAt/PseudoLabel's
	// convention, so the array holds n+1 entries.
	labels := make([]uint8, n+1)

	cp := 0
	for _, tok := range tokens {
		tokOffsets, err := BuildOffsets(tok)
		if err != nil {
			return nil, err
		}
		labels[cp] = 1 // first codepoint of this token
		cp += NumCodepoints(tokOffsets)
	}
	labels[n] = 1 // the EOS slot is always label 1
	return &CRFExample{classes: classes, labels: labels}, nil
}

// Dump finalizes the builder into an immutable CRFModel with a
// sorted feature table, as CRFModel.Weight expects.
func (b *CRFBuilder) Dump() *CRFModel {
	keys := b.flatKeys()
	cm := &CRFModel{
		Trans00: ToQ88(b.trans00),
		Trans01: ToQ88(b.trans01),
		Trans10: ToQ88(b.trans10),
		Trans11: ToQ88(b.trans11),
		BosTo1:  ToQ88(b.bosTo1),
	}
	for _, k := range keys {
		w := b.weights[k]
		if w == 0 {
			continue
		}
		cm.FeatKeys = append(cm.FeatKeys, k)
		cm.FeatWeights = append(cm.FeatWeights, ToQ88(w))
	}
	cm.SortFeatures()
	return cm
}
