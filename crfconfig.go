package mmjp

// CRF config file parsing (§6.2), using the same iteratee combinators
// arpa.go uses for ARPA files: a top-level iteratee matches "zero or
// more recognized lines" against EOF, line by line, rather than
// hand-rolling a loop with an index.

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"github.com/golang/glog"
	"github.com/kho/stream"
)

// CRFConfig is the parsed, not-yet-sorted form of a CRF config file;
// ToModel folds it into a CRFModel (sorting the feature table).
type CRFConfig struct {
	Trans00, Trans01, Trans10, Trans11, BosTo1 float64
	Feats                                      []crfConfigFeat
}

type crfConfigFeat struct {
	key    uint32
	weight float64
}

// ToModel builds a sorted CRFModel from the parsed config.
func (c *CRFConfig) ToModel() *CRFModel {
	m := &CRFModel{
		Trans00: ToQ88(c.Trans00),
		Trans01: ToQ88(c.Trans01),
		Trans10: ToQ88(c.Trans10),
		Trans11: ToQ88(c.Trans11),
		BosTo1:  ToQ88(c.BosTo1),
	}
	for _, f := range c.Feats {
		m.FeatKeys = append(m.FeatKeys, f.key)
		m.FeatWeights = append(m.FeatWeights, ToQ88(f.weight))
	}
	m.SortFeatures()
	return m
}

// crfConfigTop is the top-level iteratee: any number of recognized
// lines, then EOF. Blank lines and #/; comments are filtered out by
// crfLineSplit before reaching it.
type crfConfigTop struct {
	cfg *CRFConfig
}

func (it crfConfigTop) Final() error { return nil }
func (it crfConfigTop) Next(line []byte) (stream.Iteratee, bool, error) {
	return stream.Seq{
		stream.Star{crfConfigLine{it.cfg}},
		stream.EOF,
	}, false, nil
}

// crfConfigLine parses and applies a single recognized config line.
type crfConfigLine struct {
	cfg *CRFConfig
}

func (it crfConfigLine) Final() error { return nil }
func (it crfConfigLine) Next(line []byte) (stream.Iteratee, bool, error) {
	if err := it.cfg.applyLine(string(line)); err != nil {
		return nil, false, err
	}
	return it, true, nil
}

// applyLine parses one already-comment-stripped, non-blank line.
func (c *CRFConfig) applyLine(line string) error {
	line = strings.TrimSpace(line)
	fields := strings.Fields(strings.ReplaceAll(line, "=", " = "))
	// Drop a lone "=" token, if present, so both "trans00 = 0.5" and
	// "trans00 0.5" parse the same way.
	out := fields[:0]
	for _, f := range fields {
		if f != "=" {
			out = append(out, f)
		}
	}
	fields = out
	if len(fields) == 0 {
		return nil
	}

	switch fields[0] {
	case "trans00", "trans01", "trans10", "trans11", "bos_to1":
		if len(fields) != 2 {
			return newErr(BadArg, fmt.Sprintf("%s: expected one value", fields[0]))
		}
		v, err := strconv.ParseFloat(fields[1], 64)
		if err != nil {
			return wrapErr(BadArg, fields[0]+": bad float", err)
		}
		switch fields[0] {
		case "trans00":
			c.Trans00 = v
		case "trans01":
			c.Trans01 = v
		case "trans10":
			c.Trans10 = v
		case "trans11":
			c.Trans11 = v
		case "bos_to1":
			c.BosTo1 = v
		}
	case "feat":
		if len(fields) != 6 {
			return newErr(BadArg, "feat: expected \"feat <tid> <label> <v1> <v2> <weight>\"")
		}
		tid, err := strconv.ParseUint(fields[1], 10, 32)
		if err != nil || tid > TemplateCurNext {
			glog.Warningf("crf config: unknown feature template %q, ignoring line", fields[1])
			return nil
		}
		label, err1 := strconv.ParseUint(fields[2], 10, 8)
		v1, err2 := strconv.ParseUint(fields[3], 10, 8)
		v2, err3 := strconv.ParseUint(fields[4], 10, 8)
		w, err4 := strconv.ParseFloat(fields[5], 64)
		if err1 != nil || err2 != nil || err3 != nil || err4 != nil {
			return newErr(BadArg, "feat: malformed label/v1/v2/weight")
		}
		c.Feats = append(c.Feats, crfConfigFeat{
			key:    featureKey(uint32(tid), uint8(label), uint8(v1), uint8(v2)),
			weight: w,
		})
	default:
		glog.Warningf("crf config: unrecognized directive %q, ignoring line", fields[0])
	}
	return nil
}

// crfLineSplit is a bufio.SplitFunc-compatible line splitter that
// strips #/; comments and blank lines before EnumRead ever hands a
// line to the iteratee chain, mirroring arpa.go's lineSplit but with
// this format's comment syntax instead of ARPA's none.
func crfLineSplit(data []byte, atEOF bool) (advance int, token []byte, err error) {
	for {
		i := bytes.IndexByte(data, '\n')
		var line []byte
		if i < 0 {
			if !atEOF {
				return 0, nil, nil
			}
			if len(data) == 0 {
				return 0, nil, nil
			}
			line, advance = data, len(data)
			data = nil
		} else {
			line, advance = data[:i], i+1
			data = data[advance:]
		}
		if c := bytes.IndexByte(line, '#'); c >= 0 {
			line = line[:c]
		}
		if c := bytes.IndexByte(line, ';'); c >= 0 {
			line = line[:c]
		}
		line = bytes.TrimSpace(line)
		if len(line) > 0 {
			return advance, line, nil
		}
		if i < 0 {
			return advance, nil, nil
		}
	}
}

// ParseCRFConfig parses a §6.2 CRF config file held in data.
func ParseCRFConfig(data []byte) (*CRFConfig, error) {
	cfg := &CRFConfig{}
	r := bytes.NewReader(data)
	if err := stream.Run(stream.EnumRead(r, crfLineSplit), crfConfigTop{cfg}); err != nil {
		return nil, wrapErr(BadArg, "parsing crf config", err)
	}
	return cfg, nil
}
