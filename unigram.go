package mmjp

import "sort"

// UnigramLM maps PieceId -> Q8.8 log-probability. Probabilities are
// maintained normalized (sum to 1 after any floor/prune) by the
// trainer; this type is the frozen, read-only view consumed at
// inference, mirroring the split between kho-fslm's Builder and its
// exported Hashed/Sorted models.
type UnigramLM struct {
	LogP []int16 // indexed by PieceId
}

// LogProb returns the Q8.8 log-probability of id, or 0 if id is out
// of range (callers are expected to check bounds against the piece
// table; this only guards against a corrupt model file).
func (u *UnigramLM) LogProb(id PieceId) int16 {
	if int(id) >= len(u.LogP) {
		return 0
	}
	return u.LogP[id]
}

// BigramEntry is one sorted (prev,curr) -> logp record.
type BigramEntry struct {
	Key  uint32 // (prev_id<<16)|curr_id
	LogP int16
}

func BigramKey(prev, curr PieceId) uint32 {
	return uint32(prev)<<16 | uint32(curr)
}

// BigramLM is optional; absent entries back off to the unigram value
// of curr via the backoff parameter passed to Lookup.
type BigramLM struct {
	Entries []BigramEntry // sorted by Key
}

// Lookup returns the bigram log-prob for (prev,curr), or backoff if
// no such bigram exists (or bm is nil).
func (bm *BigramLM) Lookup(prev, curr PieceId, backoff int16) int16 {
	if bm == nil || len(bm.Entries) == 0 {
		return backoff
	}
	key := BigramKey(prev, curr)
	es := bm.Entries
	i := sort.Search(len(es), func(i int) bool { return es[i].Key >= key })
	if i < len(es) && es[i].Key == key {
		return es[i].LogP
	}
	return backoff
}

// UnkPenalty holds the two Q8.8 scalars used to score an
// unrecognized span of L codepoints: logp = unk_base + unk_per_cp*L,
// saturated to int16.
type UnkPenalty struct {
	Base  int16
	PerCP int16
}

// Score computes the unknown-word penalty for a span of cpLen
// codepoints.
func (u UnkPenalty) Score(cpLen int) int16 {
	acc := int32(u.Base) + int32(u.PerCP)*int32(cpLen)
	return SaturateI16(acc)
}
