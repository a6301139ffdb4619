package main

import (
	"bufio"
	"flag"
	"io"
	"os"

	"github.com/golang/glog"
	"github.com/kho/easy"

	"github.com/shin1985-go/mmjp"
)

func main() {
	var args struct {
		Model string `name:"model" usage:"path to a model file (§6.1)"`
	}
	maxLineBytes := flag.Int("max_line_bytes", 1 << 20, "lines longer than this are discarded whole")
	maxWordLen := flag.Int("max_word_len", 0, "override the model's max word length (0 keeps the model's own)")
	nbest := flag.Int("nbest", 0, "if > 0, print this many k-best segmentations per line instead of the 1-best")
	easy.ParseFlagsAndArgs(&args)

	f, err := os.Open(args.Model)
	if err != nil {
		glog.Fatal("opening model: ", err)
	}
	m, err := mmjp.ReadModel(f)
	f.Close()
	if err != nil {
		glog.Fatal("reading model: ", err)
	}
	if *maxWordLen > 0 {
		m.MaxWordLen = *maxWordLen
	}

	nbestCap := 64
	if *nbest > nbestCap {
		nbestCap = *nbest
	}
	wa := mmjp.NewWorkArea(4096, m.MaxWordLen, nbestCap)

	out := bufio.NewWriter(os.Stdout)
	defer out.Flush()

	var numLines, numDiscarded int
	elapsed := easy.Timed(func() {
		numLines, numDiscarded = tokenizeStream(os.Stdin, out, m, wa, *maxLineBytes, *nbest)
	})
	glog.Infof("tokenized %d lines (%d discarded) in %v", numLines, numDiscarded, elapsed)
}

func tokenizeStream(r io.Reader, w *bufio.Writer, m *mmjp.Model, wa *mmjp.WorkArea, maxLineBytes, nbest int) (numLines, numDiscarded int) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineBytes+1)
	for sc.Scan() {
		numLines++
		line := sc.Bytes()
		if len(line) > maxLineBytes {
			numDiscarded++
			continue
		}
		encoded := line
		if m.LosslessWS {
			encoded = mmjp.LosslessEncode(line, false)
		}
		if nbest > 1 {
			results, err := m.KBest(encoded, wa, nbest)
			if err != nil {
				glog.Warningf("tokenize: %v", err)
				numDiscarded++
				continue
			}
			for _, res := range results {
				writeTokens(w, encoded, res.Boundaries)
				w.WriteByte('\n')
			}
			continue
		}
		boundaries, _, err := m.Decode(encoded, wa)
		if err != nil {
			glog.Warningf("tokenize: %v", err)
			numDiscarded++
			continue
		}
		writeTokens(w, encoded, boundaries)
		w.WriteByte('\n')
	}
	if err := sc.Err(); err != nil {
		glog.Fatal("reading stdin: ", err)
	}
	return
}

func writeTokens(w *bufio.Writer, encoded []byte, boundaries []int) {
	for i := 0; i+1 < len(boundaries); i++ {
		if i > 0 {
			w.WriteByte(' ')
		}
		w.Write(encoded[boundaries[i]:boundaries[i+1]])
	}
}
