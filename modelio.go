package mmjp

import (
	"bufio"
	"encoding/binary"
	"io"
)

// Model file format (§6.1): a fixed little-endian header followed by
// the trie, unigram table, and optional bigram/feature/range arrays.
// Kept hand-rolled field-by-field the way hashed.go/sorted.go hand-roll
// their own entry arrays, since the layout is an external wire
// contract rather than an in-process value to gob-encode.

var magicV2 = [8]byte{'M', 'M', 'J', 'P', 'v', '2', 0, 0}
var magicV1 = [8]byte{'M', 'M', 'J', 'P', 'v', '1', 0, 0}

const (
	flagLosslessWS = 1 << 0
	flagCCAscii    = 1 << 8
	flagCCUtf8Len  = 1 << 9
	flagCCRanges   = 1 << 10
	flagCCCompat   = 1 << 11
)

func ccModeToFlag(m CCMode) uint32 {
	switch m {
	case CCAscii:
		return flagCCAscii
	case CCUtf8Len:
		return flagCCUtf8Len
	case CCRanges:
		return flagCCRanges
	case CCCompat:
		return flagCCCompat
	default:
		return flagCCAscii
	}
}

// WriteModel serializes m to w in the v2 format.
func WriteModel(w io.Writer, m *Model) error {
	bw := bufio.NewWriter(w)
	base, check := m.Trie.Base(), m.Trie.Check()
	nDa := len(base)
	vocab := len(m.Uni.LogP)
	var bigramSize int
	if m.Bi != nil {
		bigramSize = len(m.Bi.Entries)
	}
	featCount := len(m.CRF.FeatKeys)
	rangeCount := 0
	var ranges []CCRange
	if m.CC.Mode == CCRanges {
		ranges = m.CC.Ranges
		rangeCount = len(ranges)
	}

	flags := uint32(0)
	if m.LosslessWS {
		flags |= flagLosslessWS
	}
	flags |= ccModeToFlag(m.CC.Mode)

	if err := writeAll(bw,
		magicV2[:],
		le32(2),
		le32(4),
		le32(uint32(nDa)),
		le32(uint32(vocab)),
		le32(uint32(m.MaxWordLen)),
		le16(uint16(m.Unk.Base)),
		le16(uint16(m.Unk.PerCP)),
		le16(uint16(m.Lambda0)),
		le16(uint16(m.CRF.Trans00)),
		le16(uint16(m.CRF.Trans01)),
		le16(uint16(m.CRF.Trans10)),
		le16(uint16(m.CRF.Trans11)),
		le16(uint16(m.CRF.BosTo1)),
		le32(uint32(featCount)),
		le32(uint32(bigramSize)),
		le32(flags),
	); err != nil {
		return wrapErr(Io, "writing model header", err)
	}
	if _, err := bw.Write([]byte{byte(m.CC.Mode), byte(m.CC.Fallback), 0, 0}); err != nil {
		return wrapErr(Io, "writing cc_mode/cc_fallback", err)
	}
	if err := writeAll(bw, le32(uint32(rangeCount))); err != nil {
		return wrapErr(Io, "writing cc_range_count", err)
	}

	for _, v := range base {
		if err := writeAll(bw, le32(uint32(v))); err != nil {
			return wrapErr(Io, "writing base array", err)
		}
	}
	for _, v := range check {
		if err := writeAll(bw, le32(uint32(v))); err != nil {
			return wrapErr(Io, "writing check array", err)
		}
	}
	for _, v := range m.Uni.LogP {
		if err := writeAll(bw, le16(uint16(v))); err != nil {
			return wrapErr(Io, "writing logp_uni", err)
		}
	}
	if bigramSize > 0 {
		for _, e := range m.Bi.Entries {
			if err := writeAll(bw, le32(e.Key)); err != nil {
				return wrapErr(Io, "writing bigram_key", err)
			}
		}
		for _, e := range m.Bi.Entries {
			if err := writeAll(bw, le16(uint16(e.LogP))); err != nil {
				return wrapErr(Io, "writing logp_bi", err)
			}
		}
	}
	if featCount > 0 {
		for _, k := range m.CRF.FeatKeys {
			if err := writeAll(bw, le32(k)); err != nil {
				return wrapErr(Io, "writing feat_key", err)
			}
		}
		for _, w16 := range m.CRF.FeatWeights {
			if err := writeAll(bw, le16(uint16(w16))); err != nil {
				return wrapErr(Io, "writing feat_w", err)
			}
		}
	}
	for _, r := range ranges {
		if err := writeAll(bw, le32(uint32(r.Lo)), le32(uint32(r.Hi)), []byte{r.Class, 0, 0, 0}); err != nil {
			return wrapErr(Io, "writing cc_ranges", err)
		}
	}
	if err := bw.Flush(); err != nil {
		return wrapErr(Io, "flushing model file", err)
	}
	return nil
}

// ReadModel deserializes a model, accepting both the v2 format and the
// legacy v1 format (which lacks flags/cc_mode/cc_fallback/padding/
// cc_range_count and any range records; such a model always classifies
// in ASCII mode with LosslessWS disabled).
func ReadModel(r io.Reader) (*Model, error) {
	br := bufio.NewReader(r)
	var magic [8]byte
	if _, err := io.ReadFull(br, magic[:]); err != nil {
		return nil, wrapErr(Io, "reading magic", err)
	}
	isV1 := magic == magicV1
	if !isV1 && magic != magicV2 {
		return nil, newErr(BadArg, "unrecognized model file magic")
	}

	var version, daIndexBytes, nDa, vocab, maxWordLen, featCount, bigramSize, flags uint32
	var unkBase, unkPerCP, lambda0, t00, t01, t10, t11, bos int16
	if err := readAll(br,
		p32(&version), p32(&daIndexBytes), p32(&nDa), p32(&vocab), p32(&maxWordLen),
		p16s(&unkBase), p16s(&unkPerCP), p16s(&lambda0),
		p16s(&t00), p16s(&t01), p16s(&t10), p16s(&t11), p16s(&bos),
		p32(&featCount), p32(&bigramSize),
	); err != nil {
		return nil, wrapErr(Io, "reading model header", err)
	}
	var ccMode, ccFallback byte
	var rangeCount uint32
	if !isV1 {
		if err := readAll(br, p32(&flags)); err != nil {
			return nil, wrapErr(Io, "reading flags", err)
		}
		var pad [4]byte
		if _, err := io.ReadFull(br, pad[:]); err != nil {
			return nil, wrapErr(Io, "reading cc_mode/cc_fallback/padding", err)
		}
		ccMode, ccFallback = pad[0], pad[1]
		if err := readAll(br, p32(&rangeCount)); err != nil {
			return nil, wrapErr(Io, "reading cc_range_count", err)
		}
	}
	if daIndexBytes != 4 {
		return nil, newErr(BadArg, "unsupported da_index_bytes")
	}

	base := make([]int32, nDa)
	check := make([]int32, nDa)
	for i := range base {
		var v uint32
		if err := readAll(br, p32(&v)); err != nil {
			return nil, wrapErr(Io, "reading base array", err)
		}
		base[i] = int32(v)
	}
	for i := range check {
		var v uint32
		if err := readAll(br, p32(&v)); err != nil {
			return nil, wrapErr(Io, "reading check array", err)
		}
		check[i] = int32(v)
	}
	logp := make([]int16, vocab)
	for i := range logp {
		var v uint16
		if err := readAll(br, p16u(&v)); err != nil {
			return nil, wrapErr(Io, "reading logp_uni", err)
		}
		logp[i] = int16(v)
	}

	var bi *BigramLM
	if bigramSize > 0 {
		entries := make([]BigramEntry, bigramSize)
		for i := range entries {
			var k uint32
			if err := readAll(br, p32(&k)); err != nil {
				return nil, wrapErr(Io, "reading bigram_key", err)
			}
			entries[i].Key = k
		}
		for i := range entries {
			var v uint16
			if err := readAll(br, p16u(&v)); err != nil {
				return nil, wrapErr(Io, "reading logp_bi", err)
			}
			entries[i].LogP = int16(v)
		}
		bi = &BigramLM{Entries: entries}
	}

	crf := &CRFModel{Trans00: t00, Trans01: t01, Trans10: t10, Trans11: t11, BosTo1: bos}
	if featCount > 0 {
		keys := make([]uint32, featCount)
		weights := make([]int16, featCount)
		for i := range keys {
			var k uint32
			if err := readAll(br, p32(&k)); err != nil {
				return nil, wrapErr(Io, "reading feat_key", err)
			}
			keys[i] = k
		}
		for i := range weights {
			var v uint16
			if err := readAll(br, p16u(&v)); err != nil {
				return nil, wrapErr(Io, "reading feat_w", err)
			}
			weights[i] = int16(v)
		}
		crf.FeatKeys, crf.FeatWeights = keys, weights
	}

	cc := &CharClassConfig{Mode: CCAscii}
	if !isV1 {
		cc.Mode = CCMode(ccMode)
		cc.Fallback = CCMode(ccFallback)
		if rangeCount > 0 {
			ranges := make([]CCRange, rangeCount)
			for i := range ranges {
				var lo, hi uint32
				if err := readAll(br, p32(&lo), p32(&hi)); err != nil {
					return nil, wrapErr(Io, "reading cc_ranges", err)
				}
				var rec [4]byte
				if _, err := io.ReadFull(br, rec[:]); err != nil {
					return nil, wrapErr(Io, "reading cc_ranges class/pad", err)
				}
				ranges[i] = CCRange{Lo: int32(lo), Hi: int32(hi), Class: rec[0]}
			}
			cc.Ranges = ranges
		}
	}

	m := &Model{
		Trie:       NewTrieView(base, check),
		Uni:        &UnigramLM{LogP: logp},
		Bi:         bi,
		CRF:        crf,
		Unk:        UnkPenalty{Base: unkBase, PerCP: unkPerCP},
		CC:         cc,
		MaxWordLen: int(maxWordLen),
		Lambda0:    lambda0,
		LosslessWS: !isV1 && flags&flagLosslessWS != 0,
	}
	return m, nil
}

func writeAll(w io.Writer, chunks ...[]byte) error {
	for _, c := range chunks {
		if _, err := w.Write(c); err != nil {
			return err
		}
	}
	return nil
}

func le32(v uint32) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, v)
	return b
}
func le16(v uint16) []byte {
	b := make([]byte, 2)
	binary.LittleEndian.PutUint16(b, v)
	return b
}

type fieldReader func(r io.Reader) error

func p32(dst *uint32) fieldReader {
	return func(r io.Reader) error {
		var b [4]byte
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return err
		}
		*dst = binary.LittleEndian.Uint32(b[:])
		return nil
	}
}
func p16u(dst *uint16) fieldReader {
	return func(r io.Reader) error {
		var b [2]byte
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return err
		}
		*dst = binary.LittleEndian.Uint16(b[:])
		return nil
	}
}
func p16s(dst *int16) fieldReader {
	return func(r io.Reader) error {
		var b [2]byte
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return err
		}
		*dst = int16(binary.LittleEndian.Uint16(b[:]))
		return nil
	}
}

func readAll(r io.Reader, fields ...fieldReader) error {
	for _, f := range fields {
		if err := f(r); err != nil {
			return err
		}
	}
	return nil
}
