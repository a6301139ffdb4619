package main

import (
	"bufio"
	"bytes"
	"os"

	"github.com/golang/glog"
	"github.com/kho/easy"

	"github.com/shin1985-go/mmjp"
)

func main() {
	var args struct {
		LosslessWS bool `name:"lossless_ws" usage:"reverse the lossless whitespace codec after joining tokens"`
	}
	easy.ParseFlagsAndArgs(&args)

	out := bufio.NewWriter(os.Stdout)
	defer out.Flush()

	var numLines int
	elapsed := easy.Timed(func() {
		numLines = detokenizeStream(os.Stdin, out, args.LosslessWS)
	})
	glog.Infof("detokenized %d lines in %v", numLines, elapsed)
}

func detokenizeStream(r *os.File, w *bufio.Writer, lossless bool) (numLines int) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for sc.Scan() {
		numLines++
		line := sc.Bytes()
		joined := bytes.ReplaceAll(line, []byte(" "), nil)
		if lossless {
			joined = mmjp.LosslessDecode(joined)
		}
		w.Write(joined)
		if len(joined) == 0 || joined[len(joined)-1] != '\n' {
			w.WriteByte('\n')
		}
	}
	if err := sc.Err(); err != nil {
		glog.Fatal("reading stdin: ", err)
	}
	return
}
