package mmjp

// FFBS: Forward-Filtering Backward-Sampling. Scores are lifted to
// float64 log-probability units (rawQ88/256) and scaled by 1/tau
// before any log-sum-exp, so tau->0 concentrates mass on the
// max-scoring path (recovering Viterbi) and tau->infinity flattens
// the distribution over admissible edges, per §4.F / §8 scenario 5.

func (m *Model) edgeScoreF64(wa *WorkArea, s, j, t, k int, invTau float64) float64 {
	return float64(m.edgeScore(wa, s, j, t, k)) / Q8Scale * invTau
}

// Sample runs FFBS over bytes at temperature tau (>0) using rng, and
// returns byte-offset boundaries.
func (m *Model) Sample(bytes []byte, wa *WorkArea, rng *RNG, tau float64) ([]int, error) {
	if tau <= 0 {
		return nil, newErr(BadArg, "temperature must be > 0")
	}
	cp, offsets, err := m.sampleCP(bytes, wa, rng, tau)
	if err != nil {
		return nil, err
	}
	return cp.ToByteBoundaries(offsets), nil
}

func (m *Model) sampleCP(bytes []byte, wa *WorkArea, rng *RNG, tau float64) (Boundaries, []int, error) {
	offsets, n, err := m.precompute(bytes, wa)
	if err != nil {
		return nil, nil, err
	}
	if n == 0 {
		return Boundaries{0, 0}, offsets, nil
	}
	maxL := m.MaxWordLen
	invTau := 1.0 / tau

	negInfF := negInfFloat
	for i := range wa.alpha {
		wa.alpha[i] = negInfF
	}
	wa.alpha[wa.dpIdxFull(0, 0)] = float64(m.CRF.BosTo1) / Q8Scale * invTau

	for pos := 1; pos <= n; pos++ {
		maxK := maxL
		if pos < maxK {
			maxK = pos
		}
		for k := 1; k <= maxK; k++ {
			s := pos - k
			maxJ := maxL
			if s < maxJ {
				maxJ = s
			}
			var terms []float64
			if s == 0 {
				if a := wa.alpha[wa.dpIdxFull(0, 0)]; a != negInfF {
					terms = append(terms, a+m.edgeScoreF64(wa, s, 0, pos, k, invTau))
				}
			} else {
				for j := 1; j <= maxJ; j++ {
					a := wa.alpha[wa.dpIdxFull(s, j)]
					if a == negInfF {
						continue
					}
					terms = append(terms, a+m.edgeScoreF64(wa, s, j, pos, k, invTau))
				}
			}
			wa.alpha[wa.dpIdxFull(pos, k)] = LogSumExpSlice(terms)
		}
	}

	maxK := maxL
	if n < maxK {
		maxK = n
	}
	var terminal []float64
	var terminalK []int
	for k := 1; k <= maxK; k++ {
		a := wa.alpha[wa.dpIdxFull(n, k)]
		if a != negInfF {
			terminal = append(terminal, a)
			terminalK = append(terminalK, k)
		}
	}
	if len(terminal) == 0 {
		return nil, nil, newErr(NoCover, "no path covers the input under the max word length")
	}
	k := sampleIndex(terminal, terminalK, rng)

	var rev []int
	pos := n
	for pos > 0 {
		rev = append(rev, pos)
		s := pos - k
		if s == 0 {
			pos, k = 0, 0
			continue
		}
		maxJ := maxL
		if s < maxJ {
			maxJ = s
		}
		var cand []float64
		var candJ []int
		for j := 1; j <= maxJ; j++ {
			a := wa.alpha[wa.dpIdxFull(s, j)]
			if a == negInfF {
				continue
			}
			w := a + m.edgeScoreF64(wa, s, j, pos, k, invTau) - wa.alpha[wa.dpIdxFull(pos, k)]
			cand = append(cand, w)
			candJ = append(candJ, j)
		}
		nextJ := sampleIndex(cand, candJ, rng)
		pos, k = s, nextJ
	}
	rev = append(rev, 0)
	bnd := make(Boundaries, len(rev))
	for i, v := range rev {
		bnd[len(rev)-1-i] = v
	}
	return bnd, offsets, nil
}

// sampleIndex draws one of vals' indices (mapped through labels, so
// callers can sample directly into a "k" or "j" value) proportional
// to exp(vals[i] - max(vals)).
func sampleIndex(vals []float64, labels []int, rng *RNG) int {
	if len(vals) == 0 {
		return 0
	}
	if len(vals) == 1 {
		return labels[0]
	}
	maxV := vals[0]
	for _, v := range vals[1:] {
		if v > maxV {
			maxV = v
		}
	}
	weights := make([]float64, len(vals))
	var sum float64
	for i, v := range vals {
		weights[i] = expClamped(v - maxV)
		sum += weights[i]
	}
	target := rng.Float64() * sum
	var acc float64
	for i, w := range weights {
		acc += w
		if target <= acc {
			return labels[i]
		}
	}
	return labels[len(labels)-1]
}
