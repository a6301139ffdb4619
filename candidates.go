package mmjp

import (
	"container/heap"
	"sort"

	"github.com/golang/glog"
	"github.com/kho/word"
)

// Candidate extractor (§4.I, summarized): a UTF-8-aware suffix array
// over a corpus sample mines the top-K most frequent n-grams for each
// length in [2, maxPieceLenCP], which become unigram-LM training
// candidates alongside the mandatory single-codepoint pieces.
//
// Mined spans are interned through github.com/kho/word's Vocab
// (IdOrAdd), the same incremental-interning entry point builder.go
// uses for corpus words, so each distinct span gets one id and one
// count slot; every occurrence is still converted to a string for the
// IdOrAdd lookup.

// suffixStart is one suffix-array entry: the codepoint index at which
// a candidate n-gram may start.
type suffixStart struct {
	cpIndex int
}

// badByte reports whether b is a structural byte that must never
// appear inside a mined candidate (§4.I).
func badByte(b byte) bool {
	switch b {
	case 0x00, '\n', '\r', '\t', ' ':
		return true
	}
	return false
}

// skippableStart reports whether codepoint r should never begin a
// mined n-gram (ASCII punctuation or space).
func skippableStart(r int32) bool {
	if r == ' ' || r == '\t' || r == '\n' || r == '\r' {
		return true
	}
	if r < 0x80 && !((r >= '0' && r <= '9') || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')) {
		return true
	}
	return false
}

// candCount is one n-gram's mined frequency, keyed by its vocabulary
// id in the mining-time word.Vocab.
type candCount struct {
	id    word.Id
	bytes []byte
	count int
}

type candHeap []candCount

func (h candHeap) Len() int            { return len(h) }
func (h candHeap) Less(i, j int) bool  { return h[i].count < h[j].count } // min-heap: evict smallest
func (h candHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *candHeap) Push(x interface{}) { *h = append(*h, x.(candCount)) }
func (h *candHeap) Pop() interface{} {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// ExtractCandidates mines up to candTotal multi-codepoint piece
// candidates from corpus (a slice of already UTF-8-validated
// sentences), for n-gram lengths 2..maxPieceLenCP, and returns their
// bytes sorted by descending count (the counts themselves are not
// returned). fallbackCP, when
// >= 0, marks a codepoint whose presence disqualifies a candidate
// (e.g. the lossless-whitespace escape codepoint).
func ExtractCandidates(corpus [][]byte, maxPieceLenCP, candTotal int, fallbackCP int32) ([][]byte, error) {
	if maxPieceLenCP < 2 {
		return nil, nil
	}
	vocab := word.NewVocab(nil)
	perLenBudget := candTotal / (maxPieceLenCP - 1)
	if perLenBudget < 1 {
		perLenBudget = 1
	}

	var allCandidates []candCount
	for n := 2; n <= maxPieceLenCP; n++ {
		counts := map[word.Id]*candCount{}
		for _, sentence := range corpus {
			offsets, err := BuildOffsets(sentence)
			if err != nil {
				return nil, err
			}
			numCP := NumCodepoints(offsets)
			for pos := 0; pos+n <= numCP; pos++ {
				startR, _, err := DecodeRune(sentence, offsets[pos])
				if err != nil {
					return nil, err
				}
				if skippableStart(startR) {
					continue
				}
				spanStart, spanEnd := offsets[pos], offsets[pos+n]
				span := sentence[spanStart:spanEnd]
				if containsBadOrFallback(span, fallbackCP) {
					continue
				}
				id := vocab.IdOrAdd(string(span))
				cc, ok := counts[id]
				if !ok {
					b := make([]byte, len(span))
					copy(b, span)
					cc = &candCount{id: id, bytes: b}
					counts[id] = cc
				}
				cc.count++
			}
		}

		h := &candHeap{}
		heap.Init(h)
		for _, cc := range counts {
			if h.Len() < perLenBudget {
				heap.Push(h, *cc)
			} else if cc.count > (*h)[0].count {
				heap.Pop(h)
				heap.Push(h, *cc)
			}
		}
		allCandidates = append(allCandidates, *h...)
		glog.V(1).Infof("candidate extractor: length %d mined %d/%d distinct spans", n, h.Len(), len(counts))
	}

	sort.Slice(allCandidates, func(i, j int) bool {
		if allCandidates[i].count != allCandidates[j].count {
			return allCandidates[i].count > allCandidates[j].count
		}
		return compareBytes(allCandidates[i].bytes, allCandidates[j].bytes) < 0
	})
	if len(allCandidates) > candTotal {
		allCandidates = allCandidates[:candTotal]
	}

	out := make([][]byte, len(allCandidates))
	for i, cc := range allCandidates {
		out[i] = cc.bytes
	}
	return out, nil
}

func containsBadOrFallback(span []byte, fallbackCP int32) bool {
	for _, b := range span {
		if badByte(b) {
			return true
		}
	}
	if fallbackCP < 0 {
		return false
	}
	offsets, err := BuildOffsets(span)
	if err != nil {
		return true
	}
	for i := 0; i < NumCodepoints(offsets); i++ {
		r, _, err := DecodeRune(span, offsets[i])
		if err != nil {
			return true
		}
		if r == fallbackCP {
			return true
		}
	}
	return false
}

// BuildMandatoryPieces adds every distinct codepoint observed in
// corpus to pieces as a mandatory single-codepoint piece, satisfying
// the unigram LM's coverage invariant before any candidates are
// mined.
func BuildMandatoryPieces(pieces *PieceTable, corpus [][]byte) error {
	for _, sentence := range corpus {
		offsets, err := BuildOffsets(sentence)
		if err != nil {
			return err
		}
		n := NumCodepoints(offsets)
		for i := 0; i < n; i++ {
			b := sentence[offsets[i]:offsets[i+1]]
			pieces.Add(b, 1, true)
		}
	}
	return nil
}
