package mmjp

import "sort"

// Piece is a dictionary entry. Pieces are identified by PieceId;
// storage is a flat table in which each Piece owns its own copy of
// its bytes, and pruning (§4.G) builds a new, compacted table.
type PieceId uint16

const (
	// PieceNone marks "no piece" (e.g. an unfilled span table cell).
	PieceNone PieceId = 0xFFFF
	// PieceBOS is the virtual beginning-of-sentence piece id.
	PieceBOS PieceId = 0xFFFE
)

// Piece describes one vocabulary entry.
type Piece struct {
	Bytes     []byte
	ByteLen   int
	CPLen     int
	Mandatory bool
}

// PieceTable owns the mutable piece storage used during training. A
// piece's index in Pieces is its PieceId.
type PieceTable struct {
	Pieces []Piece
	byKey  map[string]PieceId
}

// NewPieceTable creates an empty table.
func NewPieceTable() *PieceTable {
	return &PieceTable{byKey: map[string]PieceId{}}
}

// IdOf returns the id of an existing piece, or (PieceNone, false).
func (pt *PieceTable) IdOf(b []byte) (PieceId, bool) {
	id, ok := pt.byKey[string(b)]
	if !ok {
		return PieceNone, false
	}
	return id, true
}

// Add inserts a new piece (single-codepoint pieces should pass
// mandatory=true per the coverage invariant) and returns its id. If b
// is already present, its Mandatory flag is OR'd with mandatory and
// the existing id is returned.
func (pt *PieceTable) Add(b []byte, cpLen int, mandatory bool) PieceId {
	if id, ok := pt.byKey[string(b)]; ok {
		if mandatory {
			pt.Pieces[id].Mandatory = true
		}
		return id
	}
	id := PieceId(len(pt.Pieces))
	cp := make([]byte, len(b))
	copy(cp, b)
	pt.Pieces = append(pt.Pieces, Piece{Bytes: cp, ByteLen: len(cp), CPLen: cpLen, Mandatory: mandatory})
	pt.byKey[string(cp)] = id
	return id
}

// Len returns the number of pieces.
func (pt *PieceTable) Len() int { return len(pt.Pieces) }

// Compact rebuilds the table keeping only the pieces whose id is in
// keep (a set of old ids), in lexicographic byte order (ties broken
// by old id, per §4.G's MDL-prune rebuild rule), and returns the
// old-id -> new-id mapping (PieceNone for dropped pieces).
type keptPiece struct {
	oldID PieceId
	piece Piece
}

func (pt *PieceTable) Compact(keep map[PieceId]bool) (oldToNew []PieceId) {
	var ks []keptPiece
	for id, p := range pt.Pieces {
		if keep[PieceId(id)] {
			ks = append(ks, keptPiece{PieceId(id), p})
		}
	}
	sort.Slice(ks, func(a, b int) bool {
		c := compareBytes(ks[a].piece.Bytes, ks[b].piece.Bytes)
		if c != 0 {
			return c < 0
		}
		return ks[a].oldID < ks[b].oldID
	})
	oldToNew = make([]PieceId, len(pt.Pieces))
	for i := range oldToNew {
		oldToNew[i] = PieceNone
	}
	newPieces := make([]Piece, len(ks))
	newByKey := map[string]PieceId{}
	for newID, k := range ks {
		newPieces[newID] = k.piece
		newByKey[string(k.piece.Bytes)] = PieceId(newID)
		oldToNew[k.oldID] = PieceId(newID)
	}
	pt.Pieces = newPieces
	pt.byKey = newByKey
	return oldToNew
}

func compareBytes(a, b []byte) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
	}
	switch {
	case len(a) < len(b):
		return -1
	case len(a) > len(b):
		return 1
	default:
		return 0
	}
}
