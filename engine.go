// Project: Bayesian Estimation of SVARs under Zero, Sign, and Narrative Restrictions
// Method: Arias, Rubio-Ramirez & Waggoner (2018) importance sampler, extended with
// the narrative restrictions of Antolin-Diaz & Rubio-Ramirez (2018)

package main

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"runtime"
	"sort"

	"golang.org/x/sync/errgroup"
)

// splitmix64 is the finalizer of the SplitMix64 generator; one round is
// enough to decorrelate consecutive stream indices.
func splitmix64(x uint64) uint64 {
	x += 0x9E3779B97F4A7C15
	x = (x ^ (x >> 30)) * 0xBF58476D1CE4E5B9
	x = (x ^ (x >> 27)) * 0x94D049BB133111EB
	return x ^ (x >> 31)
}

// attemptRNG derives the substream for one candidate draw. The stream depends
// only on (seed, attempt index), never on worker count or scheduling, which
// makes parallel runs bit-identical to sequential ones.
func attemptRNG(seed int64, attempt int) *rand.Rand {
	s := splitmix64(uint64(seed) ^ splitmix64(uint64(attempt)*2))
	return rand.New(rand.NewSource(int64(s)))
}

// auxRNG derives substreams for the resampling and narrative stages, on the
// odd stream indices so they can never collide with attempt streams.
func auxRNG(seed int64, tag int) *rand.Rand {
	s := splitmix64(uint64(seed) ^ splitmix64(uint64(tag)*2+1))
	return rand.New(rand.NewSource(int64(s)))
}

// resampleIndices draws size indices with replacement, with probability
// proportional to exp(logW - max(logW)). Returns an error when every weight
// is zero.
func resampleIndices(logW []float64, size int, rng *rand.Rand) ([]int, error) {
	n := len(logW)
	if n == 0 {
		return nil, fmt.Errorf("no draws to resample from")
	}

	maxW := math.Inf(-1)
	for _, w := range logW {
		if w > maxW {
			maxW = w
		}
	}
	if math.IsInf(maxW, -1) {
		return nil, fmt.Errorf("all resampling weights are zero")
	}

	cum := make([]float64, n)
	total := 0.0
	for i, w := range logW {
		total += math.Exp(w - maxW)
		cum[i] = total
	}

	idx := make([]int, size)
	for s := 0; s < size; s++ {
		u := rng.Float64() * total
		idx[s] = sort.SearchFloat64s(cum, u)
		if idx[s] >= n {
			idx[s] = n - 1
		}
	}
	return idx, nil
}

// attemptOne runs steps draw -> Q -> sign filter -> weight for a single
// attempt index. A nil result with a nil error is an ordinary rejection; only
// an over-identified restriction set aborts the whole run.
func attemptOne(rfs *reducedFormSampler, eval *drawEvaluator, seed int64, attempt int) (*WeightedDraw, error) {
	rng := attemptRNG(seed, attempt)

	d, err := rfs.Draw(rng)
	if err != nil {
		// Degenerate covariance draw; reject locally
		return nil, nil
	}

	cholSigmaL, err := cholLower(d.Sigma)
	if err != nil {
		return nil, nil
	}

	Q, err := drawRestrictedQ(cholSigmaL, eval.ident.ZeroIRF, rng)
	if err != nil {
		var infeasible *InfeasibleRestriction
		if errors.As(err, &infeasible) {
			// Structural: the same spec fails every draw, so surface it
			return nil, err
		}
		return nil, nil
	}

	wd, ok, err := eval.evaluate(d, Q, cholSigmaL)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return &wd, nil
}

// Sample runs the full importance-sampling pipeline: accumulate NKeep
// accepted draws, resample by the zero/sign weights, optionally reweight by
// the narrative restrictions, and resample again to the final size.
func (m *BSVAR) Sample(opts SamplerOptions) (*PosteriorSample, error) {
	if opts.NKeep <= 0 {
		opts.NKeep = 1000
	}
	if opts.FinalSize <= 0 {
		opts.FinalSize = opts.NKeep
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 200 * opts.NKeep
	}
	if opts.Workers <= 0 {
		opts.Workers = runtime.NumCPU()
	}
	if opts.NarrativeSims <= 0 {
		opts.NarrativeSims = 10000
	}
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = opts.Workers * 64
		if opts.ChunkSize < 256 {
			opts.ChunkSize = 256
		}
	}

	rfs, err := newReducedFormSampler(m.Post)
	if err != nil {
		return nil, err
	}
	eval := newDrawEvaluator(m, opts.Differentiator)

	// Accumulation: attempts are indexed globally and evaluated in chunks.
	// Each chunk is an arena of pre-sized slots written exactly once, then
	// scanned in attempt order, so the accepted sequence is independent of
	// scheduling.
	pool := make([]WeightedDraw, 0, opts.NKeep)
	attempts := 0

	for attempts < opts.MaxAttempts && len(pool) < opts.NKeep {
		chunk := opts.ChunkSize
		if rem := opts.MaxAttempts - attempts; chunk > rem {
			chunk = rem
		}

		slots := make([]*WeightedDraw, chunk)
		var g errgroup.Group
		g.SetLimit(opts.Workers)
		for i := 0; i < chunk; i++ {
			attempt := attempts + i
			slot := i
			g.Go(func() error {
				wd, err := attemptOne(rfs, eval, opts.Seed, attempt)
				if err != nil {
					return err
				}
				slots[slot] = wd
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}

		consumed := chunk
		for i, wd := range slots {
			if wd == nil {
				continue
			}
			pool = append(pool, *wd)
			if len(pool) == opts.NKeep {
				consumed = i + 1
				break
			}
		}
		attempts += consumed
	}

	if len(pool) < opts.NKeep {
		return nil, &ConvergenceError{Attempts: attempts, Accepted: len(pool), Target: opts.NKeep}
	}

	diag := Diagnostics{
		Attempts:       attempts,
		Accepted:       len(pool),
		AcceptanceRate: float64(len(pool)) / float64(attempts),
	}

	// First resampling: zero/sign weights down to the final size
	poolLogW := make([]float64, len(pool))
	for i := range pool {
		poolLogW[i] = pool[i].LogWeight
	}
	stageIdx, err := resampleIndices(poolLogW, opts.FinalSize, auxRNG(opts.Seed, 0))
	if err != nil {
		return nil, fmt.Errorf("zero/sign resampling: %w", err)
	}

	stage := make([]WeightedDraw, opts.FinalSize)
	for s, i := range stageIdx {
		stage[s] = pool[i]
	}

	finalIdx := stageIdx
	if len(m.Ident.Narrative) > 0 {
		// The stage set already represents the zero/sign-weighted posterior,
		// so the second resampling must weigh by the narrative increment
		// alone; carrying the zero/sign weight into it would count it twice.
		origLogW := make([]float64, len(stage))
		for s := range stage {
			origLogW[s] = stage[s].LogWeight
			stage[s].LogWeight = 0
		}

		// Narrative reweighting, one independent substream per draw. The
		// Monte-Carlo loops are independent across draws, so they run on the
		// same worker pool.
		var g errgroup.Group
		g.SetLimit(opts.Workers)
		for s := range stage {
			s := s
			g.Go(func() error {
				return applyNarrative(m, &stage[s], opts.NarrativeSims, auxRNG(opts.Seed, 2+s))
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}

		for s := range stage {
			if stage[s].NarrativeLowConfidence {
				diag.LowConfidenceNarrative = append(diag.LowConfidenceNarrative, s)
			}
		}

		stageLogW := make([]float64, len(stage))
		for s := range stage {
			stageLogW[s] = stage[s].LogWeight
		}
		narrIdx, err := resampleIndices(stageLogW, opts.FinalSize, auxRNG(opts.Seed, 1))
		if err != nil {
			return nil, fmt.Errorf("narrative resampling: %w", err)
		}

		final := make([]WeightedDraw, opts.FinalSize)
		finalIdx = make([]int, opts.FinalSize)
		for s, i := range narrIdx {
			final[s] = stage[i]
			// Surviving draws report the combined product weight
			final[s].LogWeight = origLogW[i] + stage[i].LogWeight
			finalIdx[s] = stageIdx[i]
		}
		stage = final
	}

	return &PosteriorSample{
		Draws:   stage,
		Indices: finalIdx,
		Pool:    pool,
		Diag:    diag,
	}, nil
}
