package main

import (
	"bufio"
	"flag"
	"os"

	"github.com/golang/glog"
	"github.com/kho/easy"

	"github.com/shin1985-go/mmjp"
)

func main() {
	var args struct {
		Corpus     string `name:"corpus" usage:"one sentence per line, UTF-8"`
		GoldCorpus string `name:"gold_corpus" usage:"optional gold-segmented corpus (tokens space-separated) for supervised CRF training; empty uses LM-only pseudo-labels"`
		Out        string `name:"out" usage:"output model file path (§6.1)"`
	}
	maxWordLen := flag.Int("max_word_len", 8, "maximum piece length in codepoints")
	candTotal := flag.Int("cand_total", 20000, "total mined multi-codepoint candidates")
	vocabSize := flag.Int("vocab_size", 8000, "target vocabulary size after MDL pruning")
	emIters := flag.Int("em_iters", 5, "EM iterations before pruning")
	lambda0 := flag.Float64("lambda0", 1.0, "weight of the LM term (bigram, backing off to unigram) in the decoder's edge score")
	l2 := flag.Float64("l2", 1e-4, "CRF L2 penalty")
	sgdEpochs := flag.Int("sgd_epochs", 10, "SGD epochs before the L-BFGS refinement pass")
	sgdLR := flag.Float64("sgd_lr", 0.1, "SGD learning rate")
	lbfgsIters := flag.Int("lbfgs_iters", 50, "L-BFGS outer iterations")
	lbfgsHistory := flag.Int("lbfgs_history", 10, "L-BFGS history size")
	easy.ParseFlagsAndArgs(&args)

	var corpus [][]byte
	glog.Info("loading corpus took ", easy.Timed(func() {
		corpus = loadLines(args.Corpus)
	}))
	glog.Infof("loaded %d sentences", len(corpus))

	pieces := mmjp.NewPieceTable()
	if err := mmjp.BuildMandatoryPieces(pieces, corpus); err != nil {
		glog.Fatal("mandatory piece coverage: ", err)
	}
	glog.Infof("mandatory single-codepoint pieces: %d", pieces.Len())

	var mined [][]byte
	glog.Info("candidate extraction took ", easy.Timed(func() {
		var err error
		mined, err = mmjp.ExtractCandidates(corpus, *maxWordLen, *candTotal, -1)
		if err != nil {
			glog.Fatal("candidate extraction: ", err)
		}
	}))
	for _, b := range mined {
		cp, err := mmjp.BuildOffsets(b)
		if err != nil {
			continue
		}
		pieces.Add(b, mmjp.NumCodepoints(cp), false)
	}
	glog.Infof("piece table after mining: %d pieces", pieces.Len())

	ub := mmjp.NewUnigramBuilder(pieces, *maxWordLen, 1e-8)
	var lastCounts []float64
	glog.Info("unigram EM training took ", easy.Timed(func() {
		if err := ub.Run(corpus, *emIters, 1.0, 0, 0, 0, 0); err != nil {
			glog.Fatal("unigram EM: ", err)
		}
		res, err := ub.EStep(corpus)
		if err != nil {
			glog.Fatal("final E-step before pruning: ", err)
		}
		lastCounts = res.Counts
		ub.MDLPrune(lastCounts, *vocabSize, 1.0, 0.1)
	}))
	uni, trieView := ub.Dump()
	glog.Infof("final vocabulary size: %d", pieces.Len())

	cc := &mmjp.CharClassConfig{Mode: mmjp.CCUtf8Len}
	lmModel := &mmjp.Model{
		Trie:       trieView,
		Uni:        uni,
		CRF:        &mmjp.CRFModel{},
		Unk:        mmjp.UnkPenalty{Base: mmjp.ToQ88(-10), PerCP: mmjp.ToQ88(-2)},
		CC:         cc,
		MaxWordLen: *maxWordLen,
		Lambda0:    mmjp.ToQ88(*lambda0),
	}

	var examples []*mmjp.CRFExample
	if args.GoldCorpus != "" {
		gold := loadLines(args.GoldCorpus)
		glog.Info("gold-label parsing took ", easy.Timed(func() {
			for _, line := range gold {
				ex, err := mmjp.GoldLabel(cc, line)
				if err != nil {
					glog.Warningf("gold-label: %v", err)
					continue
				}
				examples = append(examples, ex)
			}
		}))
		glog.Infof("gold-labeled %d/%d sentences", len(examples), len(gold))
	} else {
		wa := mmjp.NewWorkArea(4096, *maxWordLen, 1)
		glog.Info("pseudo-labeling took ", easy.Timed(func() {
			for _, sentence := range corpus {
				ex, err := mmjp.PseudoLabel(lmModel, wa, sentence)
				if err != nil {
					glog.Warningf("pseudo-label: %v", err)
					continue
				}
				examples = append(examples, ex)
			}
		}))
		glog.Infof("pseudo-labeled %d/%d sentences", len(examples), len(corpus))
	}

	cb := mmjp.NewCRFBuilder(*l2)
	glog.Info("crf sgd took ", easy.Timed(func() {
		cb.TrainSGD(examples, *sgdEpochs, *sgdLR)
	}))
	glog.Info("crf lbfgs refinement took ", easy.Timed(func() {
		cb.TrainLBFGS(examples, *lbfgsHistory, *lbfgsIters)
	}))
	lmModel.CRF = cb.Dump()

	out, err := os.Create(args.Out)
	if err != nil {
		glog.Fatal("creating output model file: ", err)
	}
	defer out.Close()
	if err := mmjp.WriteModel(out, lmModel); err != nil {
		glog.Fatal("writing model: ", err)
	}
	glog.Infof("model written to %s", args.Out)
}

func loadLines(path string) [][]byte {
	f, err := os.Open(path)
	if err != nil {
		glog.Fatal("opening corpus: ", err)
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	var lines [][]byte
	for sc.Scan() {
		line := make([]byte, len(sc.Bytes()))
		copy(line, sc.Bytes())
		lines = append(lines, line)
	}
	if err := sc.Err(); err != nil {
		glog.Fatal("reading corpus: ", err)
	}
	return lines
}
