package mmjp

// Semi-Markov joint lattice decoder (§4.F): Viterbi best-path, FFBS
// sampling, and k-best enumeration over the CRF+LM joint score. The
// state space is (pos, k): pos is a codepoint position in [0,N], k is
// the length in codepoints of the word ending at pos.

// Model bundles everything inference needs: the export form of the
// trie, unigram/bigram LMs, CRF weights, the unknown-word penalty and
// the character classifier. It is immutable once built and safely
// shareable by reference across goroutines (§5); only WorkArea is
// per-call state.
type Model struct {
	Trie       *TrieView
	Uni        *UnigramLM
	Bi         *BigramLM // optional, nil backs off to unigram everywhere
	CRF        *CRFModel
	Unk        UnkPenalty
	CC         *CharClassConfig
	MaxWordLen int // L, in codepoints
	Lambda0    int16
	LosslessWS bool
}

// Boundaries is a codepoint-index boundary array: b[0]=0, b[m]=N,
// strictly increasing. Token i spans codepoints [b[i], b[i+1]).
type Boundaries []int

// ToByteBoundaries maps a codepoint Boundaries array to byte offsets
// using the offsets table from BuildOffsets.
func (b Boundaries) ToByteBoundaries(offsets []int) []int {
	out := make([]int, len(b))
	for i, cp := range b {
		out[i] = offsets[cp]
	}
	return out
}

// classAt returns the character class of the codepoint at index i,
// resolving sentence-boundary positions to BOS/EOS.
func (m *Model) classAt(bytes []byte, offsets []int, n, i int) uint8 {
	if i < 0 {
		return ClassBOS
	}
	if i >= n {
		return ClassEOS
	}
	r, _, err := DecodeRune(bytes, offsets[i])
	if err != nil {
		return ClassOther
	}
	return m.CC.Classify(r)
}

// precompute fills wa's emission, prefix-sum and span tables for
// bytes, per the four precomputation steps in §4.F. Returns the
// codepoint count N.
func (m *Model) precompute(bytes []byte, wa *WorkArea) (offsets []int, n int, err error) {
	offsets, err = BuildOffsets(bytes)
	if err != nil {
		return nil, 0, err
	}
	n = NumCodepoints(offsets)
	if !wa.Fits(n) {
		return offsets, n, newErr(Range, "work area too small for input")
	}
	copy(wa.offsets, offsets)

	for i := 0; i < n; i++ {
		prev := m.classAt(bytes, offsets, n, i-1)
		cur := m.classAt(bytes, offsets, n, i)
		next := m.classAt(bytes, offsets, n, i+1)
		wa.emit0[i] = m.CRF.Emit(0, prev, cur, next)
		wa.emit1[i] = m.CRF.Emit(1, prev, cur, next)
	}
	wa.prefEmit0[0] = 0
	for i := 0; i < n; i++ {
		wa.prefEmit0[i+1] = AddSat(wa.prefEmit0[i], int32(wa.emit0[i]))
	}

	maxL := m.MaxWordLen
	for idx := range wa.spanID {
		wa.spanID[idx] = PieceNone
	}
	for pos := 0; pos < n; pos++ {
		node := m.Trie.Root()
		maxK := maxL
		if n-pos < maxK {
			maxK = n - pos
		}
		broken := false
		for k := 1; k <= maxK; k++ {
			if !broken {
				cpStart, cpEnd := offsets[pos+k-1], offsets[pos+k]
				for bi := cpStart; bi < cpEnd; bi++ {
					next, ok := m.Trie.Step(node, bytes[bi])
					if !ok {
						broken = true
						break
					}
					node = next
				}
			}
			idx := wa.spanIdx(pos, k)
			if !broken {
				if term, ok := m.Trie.Step(node, 0); ok {
					if id, ok2 := m.Trie.TerminalID(term); ok2 {
						wa.spanID[idx] = PieceId(id)
						wa.spanLUni[idx] = m.Uni.LogProb(PieceId(id))
						continue
					}
				}
			}
			wa.spanID[idx] = PieceNone
			wa.spanLUni[idx] = m.Unk.Score(k)
		}
	}
	return offsets, n, nil
}

func (wa *WorkArea) spanIDAt(pos, k int) PieceId { return wa.spanID[wa.spanIdx(pos, k)] }
func (wa *WorkArea) spanLUniAt(pos, k int) int16 { return wa.spanLUni[wa.spanIdx(pos, k)] }

// segScore computes the CRF segment contribution for span [s,t) of
// length k=t-s, per §4.F.
func (m *Model) segScore(wa *WorkArea, s, t, k int) int32 {
	e1 := int32(wa.emit1[s])
	if k == 1 {
		return AddSat(e1, int32(m.CRF.Trans11))
	}
	internal := AddSat(wa.prefEmit0[t], -wa.prefEmit0[s+1])
	score := AddSat(e1, int32(m.CRF.Trans10))
	score = AddSat(score, internal)
	score = AddSat(score, int32(k-2)*int32(m.CRF.Trans00))
	score = AddSat(score, int32(m.CRF.Trans01))
	return score
}

// edgeScore computes the full edge weight from predecessor state
// (s,j) to (t,k), including the bigram term, per §4.F.
func (m *Model) edgeScore(wa *WorkArea, s, j, t, k int) int32 {
	seg := m.segScore(wa, s, t, k)
	currID := wa.spanIDAt(s, k)
	currLUni := wa.spanLUniAt(s, k)
	var prevID PieceId
	if j == 0 {
		prevID = PieceBOS
	} else {
		prevID = wa.spanIDAt(s-j, j)
	}
	bi := m.Bi.Lookup(prevID, currID, currLUni)
	lambdaTerm := MulQ88(int32(m.Lambda0), int32(bi))
	return AddSat(seg, lambdaTerm)
}

// Decode runs best-path Viterbi over bytes and returns byte-offset
// boundaries and the total Q8.8 score. wa must be large enough to
// hold bytes' codepoint count; on Range, Decode Grows it (doubling
// each time) and retries until the sentence fits or the §7 cap is
// reached.
func (m *Model) Decode(bytes []byte, wa *WorkArea) (boundaries []int, score int32, err error) {
	cp, sc, offsets, derr := m.decodeRetry(bytes, wa)
	if derr != nil {
		return nil, 0, derr
	}
	return cp.ToByteBoundaries(offsets), sc, nil
}

func (m *Model) decodeRetry(bytes []byte, wa *WorkArea) (Boundaries, int32, []int, error) {
	for {
		b, sc, offsets, err := m.viterbiCP(bytes, wa)
		if err == nil {
			return b, sc, offsets, nil
		}
		e, ok := err.(*Error)
		if !ok || e.Kind != Range {
			return nil, 0, nil, err
		}
		if wa.maxCP >= maxWorkAreaCP {
			return nil, 0, nil, err
		}
		if gerr := wa.Grow(); gerr != nil {
			return nil, 0, nil, err
		}
	}
}

// viterbiCP runs Viterbi and returns codepoint boundaries.
func (m *Model) viterbiCP(bytes []byte, wa *WorkArea) (Boundaries, int32, []int, error) {
	offsets, n, err := m.precompute(bytes, wa)
	if err != nil {
		return nil, 0, nil, err
	}
	if n == 0 {
		return Boundaries{0, 0}, int32(m.CRF.BosTo1), offsets, nil
	}
	maxL := m.MaxWordLen
	ring := maxL + 1

	for i := range wa.dp {
		wa.dp[i] = NegInf
	}
	for i := range wa.bpPrevLen {
		wa.bpPrevLen[i] = -1
	}
	wa.dp[wa.dpIdx(0, 0)] = int32(m.CRF.BosTo1)

	for pos := 1; pos <= n; pos++ {
		row := pos % ring
		// Clear this row before writing (it may hold stale data from
		// ring positions more than ring-1 steps ago).
		for k := 0; k <= maxL; k++ {
			wa.dp[wa.dpIdx(row, k)] = NegInf
		}
		maxK := maxL
		if pos < maxK {
			maxK = pos
		}
		for k := 1; k <= maxK; k++ {
			s := pos - k
			sRow := s % ring
			maxJ := maxL
			if s < maxJ {
				maxJ = s
			}
			best := NegInf
			bestJ := -1
			if s == 0 {
				if wa.dp[wa.dpIdx(sRow, 0)] != NegInf {
					edge := m.edgeScore(wa, s, 0, pos, k)
					cand := AddSat(wa.dp[wa.dpIdx(sRow, 0)], edge)
					if cand > best {
						best, bestJ = cand, 0
					}
				}
			} else {
				for j := 1; j <= maxJ; j++ {
					prev := wa.dp[wa.dpIdx(sRow, j)]
					if prev == NegInf {
						continue
					}
					edge := m.edgeScore(wa, s, j, pos, k)
					cand := AddSat(prev, edge)
					if cand > best {
						best, bestJ = cand, j
					}
				}
			}
			if bestJ >= 0 {
				wa.dp[wa.dpIdx(row, k)] = best
				wa.bpPrevLen[pos*(maxL+1)+k] = int16(bestJ)
			}
		}
	}

	finalRow := n % ring
	maxK := maxL
	if n < maxK {
		maxK = n
	}
	best := NegInf
	bestK := -1
	for k := 1; k <= maxK; k++ {
		cand := wa.dp[wa.dpIdx(finalRow, k)]
		if cand > best {
			best, bestK = cand, k
		}
	}
	if bestK < 0 {
		return nil, 0, nil, newErr(NoCover, "no path covers the input under the max word length")
	}

	// Backtrack.
	var rev []int
	pos, k := n, bestK
	for pos > 0 {
		rev = append(rev, pos)
		j := int(wa.bpPrevLen[pos*(maxL+1)+k])
		pos, k = pos-k, j
	}
	rev = append(rev, 0)
	bnd := make(Boundaries, len(rev))
	for i, v := range rev {
		bnd[len(rev)-1-i] = v
	}
	return bnd, best, offsets, nil
}
