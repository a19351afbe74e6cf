// Project: Bayesian Estimation of SVARs under Zero, Sign, and Narrative Restrictions
// Method: Arias, Rubio-Ramirez & Waggoner (2018) importance sampler, extended with
// the narrative restrictions of Antolin-Diaz & Rubio-Ramirez (2018)

package main

import (
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

// Regularizer for narrative weights when no Monte-Carlo path satisfies the
// restriction by chance
const narrativeEpsilon = 1e-15

// historicalShocks recovers the structural shock paths implied by a draw:
// U = Y - X B, then eps = U A0, a (T x N) matrix with one column per shock.
func historicalShocks(Y, X *mat.Dense, d WeightedDraw) *mat.Dense {
	var fitted, U, eps mat.Dense
	fitted.Mul(X, d.Reduced.B)
	U.Sub(Y, &fitted)
	eps.Mul(&U, d.Structural.A0)
	return &eps
}

// shockContributions decomposes the unexpected change of variable dataCol over
// the window into per-shock pieces: C_n = sum_t Theta_{end-t}(dataCol, n) *
// eps(t, n). theta must reach horizon end-start.
func shockContributions(eps func(t, n int) float64, theta []*mat.Dense, nr NarrativeRestriction, N int) []float64 {
	contrib := make([]float64, N)
	for n := 0; n < N; n++ {
		for t := nr.PeriodStart; t <= nr.PeriodEnd; t++ {
			contrib[n] += theta[nr.PeriodEnd-t].At(nr.DataColumn, n) * eps(t, n)
		}
	}
	return contrib
}

// narrativeSatisfied checks one restriction against a set of shock paths.
// eps addresses shocks by (effective-sample period, shock index).
func narrativeSatisfied(nr NarrativeRestriction, eps func(t, n int) float64, theta []*mat.Dense, N int) bool {
	switch nr.Kind {
	case NarrativeSignOfShock:
		for t := nr.PeriodStart; t <= nr.PeriodEnd; t++ {
			if nr.RequiredSign*eps(t, nr.ShockIndex) <= 0 {
				return false
			}
		}
		return true

	case NarrativeContribution:
		contrib := shockContributions(eps, theta, nr, N)
		own := math.Abs(contrib[nr.ShockIndex])
		if nr.RequiredSign > 0 {
			// Overwhelming contributor: larger than all others combined
			rest := 0.0
			for n := 0; n < N; n++ {
				if n != nr.ShockIndex {
					rest += math.Abs(contrib[n])
				}
			}
			return own > rest
		}
		// Negligible contributor: smaller than every other shock's piece
		for n := 0; n < N; n++ {
			if n != nr.ShockIndex && own >= math.Abs(contrib[n]) {
				return false
			}
		}
		return true
	}
	return false
}

// allNarrativeSatisfied applies every restriction jointly.
func allNarrativeSatisfied(restrs []NarrativeRestriction, eps func(t, n int) float64, theta []*mat.Dense, N int) bool {
	for _, nr := range restrs {
		if !narrativeSatisfied(nr, eps, theta, N) {
			return false
		}
	}
	return true
}

// narrativeTheta builds the IRF recursion deep enough for the longest
// contribution window.
func narrativeTheta(d WeightedDraw, restrs []NarrativeRestriction, p int) ([]*mat.Dense, error) {
	maxH := 0
	for _, nr := range restrs {
		if h := nr.PeriodEnd - nr.PeriodStart; h > maxH {
			maxH = h
		}
	}

	var A0inv mat.Dense
	if err := A0inv.Inverse(d.Structural.A0); err != nil {
		return nil, &NumericalError{Op: "A0 inversion", Err: err}
	}
	var impact mat.Dense
	impact.CloneFrom(A0inv.T())
	return irfTheta(d.Reduced.B, &impact, p, maxH), nil
}

// narrativeLogWeight estimates the importance weight of a draw under the
// narrative restrictions. The restrictions' joint probability is approximated
// by simulating sims independent standard-normal shock paths over the
// restricted windows and counting the fraction that satisfies every
// restriction; the weight is sims / (successes + epsilon).
//
// The second return value reports zero Monte-Carlo successes: the weight then
// leans entirely on the epsilon and should be treated as low confidence.
func narrativeLogWeight(restrs []NarrativeRestriction, theta []*mat.Dense, N int, sims int, rng *rand.Rand) (float64, bool) {
	if len(restrs) == 0 {
		return 0, false
	}

	// The simulated paths only need the union of the restricted windows
	minT, maxT := restrs[0].PeriodStart, restrs[0].PeriodEnd
	for _, nr := range restrs[1:] {
		if nr.PeriodStart < minT {
			minT = nr.PeriodStart
		}
		if nr.PeriodEnd > maxT {
			maxT = nr.PeriodEnd
		}
	}
	span := maxT - minT + 1

	simEps := make([]float64, span*N)
	successes := 0
	for s := 0; s < sims; s++ {
		for k := range simEps {
			simEps[k] = rng.NormFloat64()
		}
		eps := func(t, n int) float64 { return simEps[(t-minT)*N+n] }
		if allNarrativeSatisfied(restrs, eps, theta, N) {
			successes++
		}
	}

	logW := math.Log(float64(sims)) - math.Log(float64(successes)+narrativeEpsilon)
	return logW, successes == 0
}

// applyNarrative checks a draw's implied historical shocks against the
// restrictions and, when they hold, adds the Monte-Carlo importance weight to
// the draw's log weight. Draws whose observed shock paths violate a
// restriction get a zero weight (-Inf in logs) and drop out at the final
// resampling.
//
// The caller combines this weight multiplicatively with the zero/sign weight;
// that product rule comes from the source derivation, which flags it as
// unverified, and is preserved here as-is rather than corrected.
func applyNarrative(m *BSVAR, d *WeightedDraw, sims int, rng *rand.Rand) error {
	restrs := m.Ident.Narrative
	if len(restrs) == 0 {
		return nil
	}

	theta, err := narrativeTheta(*d, restrs, m.P)
	if err != nil {
		return err
	}

	observed := historicalShocks(m.Y, m.X, *d)
	obsEps := func(t, n int) float64 { return observed.At(t, n) }
	if !allNarrativeSatisfied(restrs, obsEps, theta, m.N) {
		d.LogWeight = math.Inf(-1)
		return nil
	}

	logW, lowConf := narrativeLogWeight(restrs, theta, m.N, sims, rng)
	d.LogWeight += logW
	d.NarrativeLowConfidence = lowConf
	return nil
}
