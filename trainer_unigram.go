package mmjp

import (
	"container/heap"
	"fmt"
	"math"
	"sort"

	"github.com/golang/glog"
)

// UnigramBuilder trains a unigram LM by EM over a set of candidate
// pieces (mined by the candidate extractor, §4.I), then prunes the
// vocabulary MDL-style down to a target size while preserving the
// single-codepoint coverage invariant. It follows the same
// three-phase shape as kho-fslm's Builder: accumulate, finalize
// (here: EM iterate), then Dump to an immutable Model.
type UnigramBuilder struct {
	Pieces *PieceTable
	trie   *Trie
	logP   []float64 // per-piece natural-log probability, same indexing as Pieces

	maxPieceLenCP int
	minProb       float64
}

// NewUnigramBuilder creates a builder over an already-populated piece
// table (mandatory single-codepoint pieces plus mined candidates).
// maxPieceLenCP bounds forward-backward's trie walk; minProb floors
// probabilities during the M-step.
func NewUnigramBuilder(pieces *PieceTable, maxPieceLenCP int, minProb float64) *UnigramBuilder {
	b := &UnigramBuilder{Pieces: pieces, maxPieceLenCP: maxPieceLenCP, minProb: minProb}
	b.rebuildTrie()
	b.logP = make([]float64, pieces.Len())
	return b
}

func (b *UnigramBuilder) rebuildTrie() {
	t := NewTrie()
	// Dictionary-order insertion (lexicographic byte sort, tie-break
	// by id) gives the smaller base arrays the double-array trie
	// favors, mirroring the rebuild kho-fslm's Builder does after
	// pruning states.
	type idx struct {
		id PieceId
	}
	order := make([]idx, len(b.Pieces.Pieces))
	for i := range order {
		order[i] = idx{PieceId(i)}
	}
	sort.Slice(order, func(i, j int) bool {
		a, bb := b.Pieces.Pieces[order[i].id], b.Pieces.Pieces[order[j].id]
		c := compareBytes(a.Bytes, bb.Bytes)
		if c != 0 {
			return c < 0
		}
		return order[i].id < order[j].id
	})
	for _, o := range order {
		t.AddBytes(b.Pieces.Pieces[o.id].Bytes, int(o.id))
	}
	b.trie = t
}

// Normalize renormalizes logP to sum to 1 (in probability space).
func (b *UnigramBuilder) Normalize() {
	if allZero(b.logP) {
		// Initialize uniformly, per the driver-loop spec.
		u := 1.0 / float64(len(b.logP))
		for i := range b.logP {
			b.logP[i] = math.Log(u)
		}
		return
	}
	logZ := LogSumExpSlice(b.logP)
	for i := range b.logP {
		b.logP[i] -= logZ
	}
}

func allZero(xs []float64) bool {
	for _, x := range xs {
		if x != 0 {
			return false
		}
	}
	return true
}

// EStepResult carries fractional counts and diagnostics out of one
// E-step pass.
type EStepResult struct {
	Counts         []float64
	NumSentences   int
	LogLikelihood  float64
	ExpectedTokens float64
}

// forwardBackward runs the E-step for one sentence (its codepoint
// bytes and offsets), accumulating fractional piece counts into
// res.Counts. Matches with the trie are limited to maxPieceLenCP
// codepoints.
func (b *UnigramBuilder) forwardBackward(bytes []byte, offsets []int, res *EStepResult) error {
	n := NumCodepoints(offsets)
	alpha := make([]float64, n+1)
	beta := make([]float64, n+1)
	for i := range alpha {
		alpha[i] = math.Inf(-1)
	}
	for i := range beta {
		beta[i] = math.Inf(-1)
	}
	alpha[0] = 0

	// matches[pos] lists (len, pieceID) reachable by walking the trie
	// from codepoint pos, used by both the alpha and beta passes.
	type match struct {
		k  int
		id PieceId
	}
	matches := make([][]match, n)
	for pos := 0; pos < n; pos++ {
		cur := int32(trieRoot)
		maxK := b.maxPieceLenCP
		if n-pos < maxK {
			maxK = n - pos
		}
		for k := 1; k <= maxK; k++ {
			cpStart, cpEnd := offsets[pos+k-1], offsets[pos+k]
			ok := true
			for bi := cpStart; bi < cpEnd; bi++ {
				next, stepOK := b.trie.walk(cur, bytes[bi:bi+1])
				if !stepOK {
					ok = false
					break
				}
				cur = next
			}
			if !ok {
				break
			}
			if id, isTerm := b.trie.LookupBytes(bytes[offsets[pos]:cpEnd]); isTerm {
				matches[pos] = append(matches[pos], match{k, PieceId(id)})
			}
		}
	}

	for t := 1; t <= n; t++ {
		var terms []float64
		for s := 0; s < t; s++ {
			k := t - s
			for _, mtc := range matches[s] {
				if mtc.k != k {
					continue
				}
				if alpha[s] == math.Inf(-1) {
					continue
				}
				w := alpha[s] + b.logP[mtc.id]
				terms = append(terms, w)
			}
		}
		alpha[t] = LogSumExpSlice(terms)
	}
	logZ := alpha[n]
	if math.IsInf(logZ, -1) {
		detail := "no single-codepoint piece is missing; coverage fails on a longer span"
		for pos := 0; pos < n; pos++ {
			hasSingle := false
			for _, mtc := range matches[pos] {
				if mtc.k == 1 {
					hasSingle = true
					break
				}
			}
			if !hasSingle {
				r, _, err := DecodeRune(bytes, offsets[pos])
				if err == nil {
					detail = fmt.Sprintf("first missing single-codepoint piece is %q at codepoint %d", string(r), pos)
				} else {
					detail = fmt.Sprintf("first missing single-codepoint piece is at codepoint %d", pos)
				}
				break
			}
		}
		return newErr(NoCover, fmt.Sprintf("sentence has zero forward mass: %s", detail))
	}

	beta[n] = 0
	for s := n - 1; s >= 0; s-- {
		var terms []float64
		for _, mtc := range matches[s] {
			t := s + mtc.k
			if beta[t] == math.Inf(-1) {
				continue
			}
			w := b.logP[mtc.id] + beta[t]
			terms = append(terms, w)
		}
		beta[s] = LogSumExpSlice(terms)
	}

	for s := 0; s < n; s++ {
		for _, mtc := range matches[s] {
			t := s + mtc.k
			if alpha[s] == math.Inf(-1) || beta[t] == math.Inf(-1) {
				continue
			}
			w := alpha[s] + b.logP[mtc.id] + beta[t] - logZ
			if w < -80 {
				continue
			}
			p := math.Exp(w)
			res.Counts[mtc.id] += p
			res.ExpectedTokens += p
		}
	}
	res.LogLikelihood += logZ
	res.NumSentences++
	return nil
}

// EStep runs forward-backward over an entire corpus (already
// UTF-8-validated byte sentences) and returns fractional counts.
func (b *UnigramBuilder) EStep(sentences [][]byte) (*EStepResult, error) {
	res := &EStepResult{Counts: make([]float64, b.Pieces.Len())}
	for _, s := range sentences {
		offsets, err := BuildOffsets(s)
		if err != nil {
			return nil, err
		}
		if err := b.forwardBackward(s, offsets, res); err != nil {
			return nil, err
		}
	}
	return res, nil
}

// MStep adds smoothing pseudocounts, normalizes, floors by minProb,
// and renormalizes (two passes, so both the floor and sum-to-one
// hold).
func (b *UnigramBuilder) MStep(res *EStepResult, pseudoCount float64) {
	total := 0.0
	smoothed := make([]float64, len(res.Counts))
	for i, c := range res.Counts {
		smoothed[i] = c + pseudoCount
		total += smoothed[i]
	}
	for i, c := range smoothed {
		p := c / total
		if p < b.minProb {
			p = b.minProb
		}
		b.logP[i] = math.Log(p)
	}
	// Second pass: renormalize after flooring.
	logZ := LogSumExpSlice(b.logP)
	for i := range b.logP {
		b.logP[i] -= logZ
	}
}

// pruneScore is one candidate's MDL score, heap-ordered.
type pruneScore struct {
	id    PieceId
	score float64
}

type pruneHeap []pruneScore

func (h pruneHeap) Len() int            { return len(h) }
func (h pruneHeap) Less(i, j int) bool  { return h[i].score < h[j].score } // min-heap
func (h pruneHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *pruneHeap) Push(x interface{}) { *h = append(*h, x.(pruneScore)) }
func (h *pruneHeap) Pop() interface{} {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// charCost returns the sum of -log p over the codepoint pieces making
// up piece id, or +Inf if any codepoint piece is missing.
func (b *UnigramBuilder) charCost(id PieceId, codepointPieceOf map[rune]PieceId, piece []byte) float64 {
	offsets, err := BuildOffsets(piece)
	if err != nil {
		return math.Inf(1)
	}
	total := 0.0
	for i := 0; i < NumCodepoints(offsets); i++ {
		r, _, _ := DecodeRune(piece, offsets[i])
		cpID, ok := codepointPieceOf[rune(r)]
		if !ok {
			return math.Inf(1)
		}
		total += -b.logP[cpID]
	}
	return total
}

// MDLPrune scores each non-mandatory piece by
// (charCost-selfCost)*count - (lambda0+lambdaLen*lenCP) and keeps
// either the top (targetSize minus the number of mandatory pieces)
// scorers, so the table ends up with targetSize pieces unless the
// mandatory ones alone exceed it (targetSize > 0), or every piece
// scoring > 0 (targetSize <= 0, threshold mode). Mandatory pieces
// (explicitly flagged, and every single-codepoint piece) always
// survive. Returns the old->new PieceId remap and rebuilds the trie.
func (b *UnigramBuilder) MDLPrune(counts []float64, targetSize int, lambda0, lambdaLen float64) []PieceId {
	codepointPieceOf := map[rune]PieceId{}
	for id, p := range b.Pieces.Pieces {
		if p.CPLen == 1 {
			r, _, _ := DecodeRune(p.Bytes, 0)
			codepointPieceOf[rune(r)] = PieceId(id)
		}
	}

	keep := map[PieceId]bool{}
	for id, p := range b.Pieces.Pieces {
		if p.Mandatory || p.CPLen == 1 {
			keep[PieceId(id)] = true
		}
	}

	var scored []pruneScore
	for id, p := range b.Pieces.Pieces {
		pid := PieceId(id)
		if keep[pid] {
			continue
		}
		selfCost := -b.logP[id]
		cc := b.charCost(pid, codepointPieceOf, p.Bytes)
		saved := (cc - selfCost) * counts[id]
		cost := lambda0 + lambdaLen*float64(p.CPLen)
		scored = append(scored, pruneScore{id: pid, score: saved - cost})
	}

	if targetSize > 0 {
		budget := targetSize - len(keep)
		if budget < 0 {
			budget = 0
		}
		h := &pruneHeap{}
		heap.Init(h)
		for _, s := range scored {
			if h.Len() < budget {
				heap.Push(h, s)
			} else if budget > 0 && s.score > (*h)[0].score {
				heap.Pop(h)
				heap.Push(h, s)
			}
		}
		for _, s := range *h {
			keep[s.id] = true
		}
		glog.V(1).Infof("mdl prune: target=%d kept=%d (mandatory+selected)", targetSize, len(keep))
	} else {
		for _, s := range scored {
			if s.score > 0 {
				keep[s.id] = true
			}
		}
		glog.V(1).Infof("mdl prune: threshold mode kept=%d", len(keep))
	}

	oldToNew := b.Pieces.Compact(keep)
	newLogP := make([]float64, b.Pieces.Len())
	for old, nw := range oldToNew {
		if nw != PieceNone {
			newLogP[nw] = b.logP[old]
		}
	}
	b.logP = newLogP
	b.rebuildTrie()
	b.Normalize()
	return oldToNew
}

// Run drives numIters EM iterations over sentences, optionally
// pruning to targetVocab every prunePeriod iterations (0 disables
// pruning).
func (b *UnigramBuilder) Run(sentences [][]byte, numIters int, pseudoCount float64, targetVocab int, lambda0, lambdaLen float64, prunePeriod int) error {
	b.Normalize()
	for it := 0; it < numIters; it++ {
		res, err := b.EStep(sentences)
		if err != nil {
			return err
		}
		b.MStep(res, pseudoCount)
		if glog.V(1) {
			glog.Infof("unigram EM iter %d: sentences=%d loglik=%g", it, res.NumSentences, res.LogLikelihood)
		}
		if prunePeriod > 0 && (it+1)%prunePeriod == 0 {
			b.MDLPrune(res.Counts, targetVocab, lambda0, lambdaLen)
		}
	}
	return nil
}

// Dump finalizes the builder into an immutable UnigramLM (Q8.8) plus
// the trie it was trained against. Invalidates the builder's internal
// doubles for GC.
func (b *UnigramBuilder) Dump() (*UnigramLM, *TrieView) {
	logp := make([]int16, len(b.logP))
	for i, lp := range b.logP {
		logp[i] = ToQ88(lp)
	}
	view := b.trie.Freeze()
	b.logP = nil
	return &UnigramLM{LogP: logp}, view
}
