package mmjp

// Byte-keyed double-array trie with BASE/CHECK arrays (§4.B). Root is
// index 1; index 0 is never occupied (it doubles as the "no
// transition" sentinel returned by SearchPrefixBytes on a miss).
//
// Transition from node n by byte c: next = base[n] + c, valid iff
// base[n] > 0, next != n, next < len(check), and check[next] == n.
// Key termination is a transition by byte 0 into a node whose base
// holds -(id+1); sign discriminates terminal vs. internal.

const trieRoot = 1

// Trie is the mutable, insertion-capable form used during training.
type Trie struct {
	base  []int32
	check []int32
}

// NewTrie creates an empty trie with the root node allocated.
func NewTrie() *Trie {
	t := &Trie{
		base:  make([]int32, trieRoot+1, 64),
		check: make([]int32, trieRoot+1, 64),
	}
	t.check[trieRoot] = trieRoot
	return t
}

func (t *Trie) ensureCapacity(n int) {
	if n < len(t.check) {
		return
	}
	newBase := make([]int32, n+1)
	newCheck := make([]int32, n+1)
	copy(newBase, t.base)
	copy(newCheck, t.check)
	// All-or-nothing swap: both arrays are fully built before either
	// replaces the live one.
	t.base, t.check = newBase, newCheck
}

func (t *Trie) occupied(i int) bool {
	return i < len(t.check) && t.check[i] != 0
}

// findFreeBase finds a base b >= 1 such that, for every byte c in
// children (plus newByte), slot b+c is either unoccupied or already
// owned by node n itself, and b+c != n.
func (t *Trie) findFreeBase(n int32, children []byte, newByte byte) int32 {
	all := make([]byte, 0, len(children)+1)
	all = append(all, children...)
	all = append(all, newByte)
	for b := int32(1); ; b++ {
		ok := true
		for _, c := range all {
			idx := int(b) + int(c)
			if idx == int(n) {
				ok = false
				break
			}
			if t.occupied(idx) && t.check[idx] != n {
				ok = false
				break
			}
		}
		if ok {
			return b
		}
	}
}

func (t *Trie) childrenOf(n int32) []byte {
	var cs []byte
	if t.base[n] <= 0 {
		return cs
	}
	for c := 0; c < 256; c++ {
		idx := int(t.base[n]) + c
		if idx != int(n) && idx >= 0 && idx < len(t.check) && t.check[idx] == n {
			cs = append(cs, byte(c))
		}
	}
	return cs
}

// ensureTransition makes sure node n has a transition on byte c,
// relocating n's children if necessary, and returns the resulting
// child node index.
func (t *Trie) ensureTransition(n int32, c byte) int32 {
	if t.base[n] <= 0 {
		b := t.findFreeBase(n, nil, c)
		t.base[n] = b
	}
	idx := int(t.base[n]) + int(c)
	t.ensureCapacity(idx + 256) // headroom so relocation has room to work
	if t.check[idx] == n {
		return int32(idx)
	}
	if t.check[idx] == 0 {
		t.check[idx] = n
		t.base[idx] = 0
		return int32(idx)
	}
	// Collision: relocate n's existing children (plus the new byte) to
	// a fresh base.
	children := t.childrenOf(n)
	newBase := t.findFreeBase(n, children, c)
	t.relocate(n, children, newBase)
	t.base[n] = newBase
	idx = int(newBase) + int(c)
	t.ensureCapacity(idx + 256)
	t.check[idx] = n
	t.base[idx] = 0
	return int32(idx)
}

// relocate moves every existing child of n (identified by byte value
// in children) to live under newBase instead of t.base[n], safely
// repointing grandchildren even when the destination range overlaps
// the source range.
//
// Two passes, per §4.B:
//  1. For each moved child, rewrite every grandchild's check entry
//     from the old child index to the NEGATED new child index.
//  2. After all old-child references are marked, flip the negated
//     values back to positive.
//
// This prevents an in-flight move from chain-updating a grandchild
// that was itself already relocated in this same operation.
func (t *Trie) relocate(n int32, children []byte, newBase int32) {
	type move struct {
		oldIdx, newIdx int32
		c              byte
	}
	moves := make([]move, 0, len(children))
	oldBase := t.base[n]
	for _, c := range children {
		oldIdx := oldBase + int32(c)
		newIdx := newBase + int32(c)
		t.ensureCapacity(int(newIdx) + 256)
		moves = append(moves, move{oldIdx, newIdx, c})
	}

	// Pass 1: read every child's base and mark each grandchild's check
	// as -(newIdx), then free all old slots, and only then write the
	// children into their new slots. Reading all bases before writing
	// any keeps a new slot that coincides with another child's old slot
	// from overwriting that child's base before it is read.
	childBases := make([]int32, len(moves))
	for i, mv := range moves {
		childBase := t.base[mv.oldIdx]
		childBases[i] = childBase
		if childBase > 0 {
			for gc := 0; gc < 256; gc++ {
				gIdx := int(childBase) + gc
				if gIdx >= 0 && gIdx < len(t.check) && t.check[gIdx] == mv.oldIdx {
					t.check[gIdx] = -mv.newIdx
				}
			}
		}
	}
	for _, mv := range moves {
		t.check[mv.oldIdx] = 0
		t.base[mv.oldIdx] = 0
	}
	for i, mv := range moves {
		t.base[mv.newIdx] = childBases[i]
		t.check[mv.newIdx] = n
	}

	// Pass 2: flip negated grandchild markers back to positive.
	for _, mv := range moves {
		childBase := t.base[mv.newIdx]
		if childBase > 0 {
			for gc := 0; gc < 256; gc++ {
				gIdx := int(childBase) + gc
				if gIdx >= 0 && gIdx < len(t.check) && t.check[gIdx] == -mv.newIdx {
					t.check[gIdx] = mv.newIdx
				}
			}
		}
	}
}

// AddBytes inserts key into the trie, associating it with the
// terminal value id (a non-negative id, typically a PieceId).
// Insertion is idempotent: re-adding the same key with the same id is
// a no-op; re-adding with a different id updates the terminal value.
func (t *Trie) AddBytes(key []byte, id int) error {
	if len(key) == 0 {
		return newErr(BadArg, "empty key")
	}
	n := int32(trieRoot)
	for _, c := range key {
		n = t.ensureTransition(n, c)
	}
	term := t.ensureTransition(n, 0)
	t.base[term] = -(int32(id) + 1)
	return nil
}

// ContainsBytes reports whether key was previously added.
func (t *Trie) ContainsBytes(key []byte) bool {
	_, ok := t.LookupBytes(key)
	return ok
}

// LookupBytes reports the terminal id for key, if present.
func (t *Trie) LookupBytes(key []byte) (id int, ok bool) {
	n, ok := t.walk(int32(trieRoot), key)
	if !ok {
		return 0, false
	}
	term, ok := t.transition(n, 0)
	if !ok || t.base[term] >= 0 {
		return 0, false
	}
	return int(-t.base[term] - 1), true
}

// SearchPrefixBytes returns the trie node reached after consuming
// key, or 0 if no such path exists.
func (t *Trie) SearchPrefixBytes(key []byte) int32 {
	n, ok := t.walk(int32(trieRoot), key)
	if !ok {
		return 0
	}
	return n
}

func (t *Trie) transition(n int32, c byte) (int32, bool) {
	if n <= 0 || int(n) >= len(t.base) || t.base[n] <= 0 {
		return 0, false
	}
	next := t.base[n] + int32(c)
	if next == n || int(next) < 0 || int(next) >= len(t.check) {
		return 0, false
	}
	if t.check[next] != n {
		return 0, false
	}
	return next, true
}

func (t *Trie) walk(n int32, key []byte) (int32, bool) {
	for _, c := range key {
		next, ok := t.transition(n, c)
		if !ok {
			return 0, false
		}
		n = next
	}
	return n, true
}

// Freeze produces an immutable read-only view suitable for export and
// inference.
func (t *Trie) Freeze() *TrieView {
	base := make([]int32, len(t.base))
	check := make([]int32, len(t.check))
	copy(base, t.base)
	copy(check, t.check)
	return &TrieView{base: base, check: check}
}

// TrieView is the read-only, allocation-free counterpart of Trie used
// at inference and for Model I/O.
type TrieView struct {
	base, check []int32
}

// NewTrieView wraps already-decoded base/check arrays (e.g. read from
// a model file) without copying.
func NewTrieView(base, check []int32) *TrieView {
	return &TrieView{base: base, check: check}
}

func (v *TrieView) Base() []int32  { return v.base }
func (v *TrieView) Check() []int32 { return v.check }

func (v *TrieView) transition(n int32, c byte) (int32, bool) {
	if n <= 0 || int(n) >= len(v.base) || v.base[n] <= 0 {
		return 0, false
	}
	next := v.base[n] + int32(c)
	if next == n || int(next) < 0 || int(next) >= len(v.check) {
		return 0, false
	}
	if v.check[next] != n {
		return 0, false
	}
	return next, true
}

// Root returns the trie's root node index.
func (v *TrieView) Root() int32 { return trieRoot }

// Step performs one byte transition from node n, returning (next,
// true) on success.
func (v *TrieView) Step(n int32, c byte) (int32, bool) {
	return v.transition(n, c)
}

// TerminalID reports the terminal value stored at node n, if n is a
// terminal (i.e. base[n] < 0).
func (v *TrieView) TerminalID(n int32) (id int, ok bool) {
	if n <= 0 || int(n) >= len(v.base) || v.base[n] >= 0 {
		return 0, false
	}
	return int(-v.base[n] - 1), true
}

func (v *TrieView) ContainsBytes(key []byte) bool {
	_, ok := v.LookupBytes(key)
	return ok
}

func (v *TrieView) LookupBytes(key []byte) (int, bool) {
	n := int32(trieRoot)
	for _, c := range key {
		next, ok := v.transition(n, c)
		if !ok {
			return 0, false
		}
		n = next
	}
	term, ok := v.transition(n, 0)
	if !ok {
		return 0, false
	}
	return v.TerminalID(term)
}

func (v *TrieView) SearchPrefixBytes(key []byte) int32 {
	n := int32(trieRoot)
	for _, c := range key {
		next, ok := v.transition(n, c)
		if !ok {
			return 0
		}
		n = next
	}
	return n
}
