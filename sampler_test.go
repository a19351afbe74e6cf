// Project: Bayesian Estimation of SVARs under Zero, Sign, and Narrative Restrictions
// Method: Arias, Rubio-Ramirez & Waggoner (2018) importance sampler, extended with
// the narrative restrictions of Antolin-Diaz & Rubio-Ramirez (2018)

package main

import (
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func testPosterior(t *testing.T) *PosteriorHyper {
	t.Helper()
	ts, _ := randomWalkPanel(t, 150, 21)
	Y, X, err := buildDesign(ts, 1)
	require.NoError(t, err)
	_, N := Y.Dims()
	_, K := X.Dims()
	post, err := ComputePosterior(Y, X, flatPrior(K, N))
	require.NoError(t, err)
	return post
}

// ============================================================================
// REDUCED-FORM SAMPLER TESTS
// ============================================================================

func TestDrawSigmaSPD(t *testing.T) {
	post := testPosterior(t)
	rfs, err := newReducedFormSampler(post)
	require.NoError(t, err)

	rng := rand.New(rand.NewSource(99))
	for rep := 0; rep < 200; rep++ {
		sigma, err := rfs.drawSigma(rng)
		if err != nil {
			t.Fatalf("drawSigma failed at rep %d: %v", rep, err)
		}
		N := sigma.SymmetricDim()
		for i := 0; i < N; i++ {
			if sigma.At(i, i) <= 0 {
				t.Fatalf("rep %d: non-positive diagonal %v", rep, sigma.At(i, i))
			}
		}
		var chol mat.Cholesky
		if !chol.Factorize(sigma) {
			t.Fatalf("rep %d: drawn Sigma not SPD", rep)
		}
	}
}

func TestDrawBMeanConvergence(t *testing.T) {
	post := testPosterior(t)
	rfs, err := newReducedFormSampler(post)
	require.NoError(t, err)

	rng := rand.New(rand.NewSource(7))
	K, N := post.B.Dims()
	sum := mat.NewDense(K, N, nil)
	nDraws := 4000
	for rep := 0; rep < nDraws; rep++ {
		d, err := rfs.Draw(rng)
		require.NoError(t, err)
		sum.Add(sum, d.B)
	}
	sum.Scale(1.0/float64(nDraws), sum)

	// Monte-Carlo mean of B must approach the posterior mean Bbar
	for i := 0; i < K; i++ {
		for j := 0; j < N; j++ {
			if !almostEqual(sum.At(i, j), post.B.At(i, j), 0.05*(1+math.Abs(post.B.At(i, j)))) {
				t.Errorf("mean B[%d][%d] = %v, posterior mean %v", i, j, sum.At(i, j), post.B.At(i, j))
			}
		}
	}
}

// ============================================================================
// NULL SPACE AND ROTATION TESTS
// ============================================================================

func TestNullSpaceBasis(t *testing.T) {
	// One constraint row in R^3 leaves a 2-dimensional null space
	C := mat.NewDense(1, 3, []float64{1, 0, 0})
	basis, err := nullSpaceBasis(C, 3)
	require.NoError(t, err)
	require.NotNil(t, basis)

	r, c := basis.Dims()
	if r != 3 || c != 2 {
		t.Fatalf("basis dims = %d x %d, want 3 x 2", r, c)
	}
	// Every basis column must be orthogonal to the constraint
	for j := 0; j < c; j++ {
		if !almostEqual(basis.At(0, j), 0, 1e-10) {
			t.Errorf("basis column %d not in null space: %v", j, basis.At(0, j))
		}
	}
}

func TestNullSpaceBasisFullRank(t *testing.T) {
	C := mat.NewDense(2, 2, []float64{1, 0, 0, 1})
	basis, err := nullSpaceBasis(C, 2)
	require.NoError(t, err)
	if basis != nil {
		t.Error("expected nil basis for full-rank constraints")
	}
}

func TestDrawRestrictedQOrthogonal(t *testing.T) {
	rng := rand.New(rand.NewSource(13))
	for rep := 0; rep < 100; rep++ {
		sigma := randomSPD(3, rng)
		L, err := cholLower(sigma)
		require.NoError(t, err)

		Q, err := drawRestrictedQ(L, nil, rng)
		require.NoError(t, err)

		var qtq mat.Dense
		qtq.Mul(Q.T(), Q)
		for i := 0; i < 3; i++ {
			for j := 0; j < 3; j++ {
				want := 0.0
				if i == j {
					want = 1.0
				}
				if !almostEqual(qtq.At(i, j), want, 1e-8) {
					t.Fatalf("rep %d: Q'Q (%d,%d) = %v, want %v", rep, i, j, qtq.At(i, j), want)
				}
			}
		}
	}
}

func TestDrawRestrictedQExactZeros(t *testing.T) {
	rng := rand.New(rand.NewSource(31))
	// Variable 1 has zero impact response to shock 0
	zero := mat.NewDense(3, 3, []float64{
		0, 0, 0,
		1, 0, 0,
		0, 0, 0,
	})

	for rep := 0; rep < 100; rep++ {
		sigma := randomSPD(3, rng)
		L, err := cholLower(sigma)
		require.NoError(t, err)

		Q, err := drawRestrictedQ(L, zero, rng)
		require.NoError(t, err)

		impact := impactMatrix(L, Q)
		if math.Abs(impact.At(1, 0)) > 1e-8 {
			t.Fatalf("rep %d: restricted impact entry not zero: %v", rep, impact.At(1, 0))
		}

		var qtq mat.Dense
		qtq.Mul(Q.T(), Q)
		for i := 0; i < 3; i++ {
			if !almostEqual(qtq.At(i, i), 1, 1e-8) {
				t.Fatalf("rep %d: Q column %d not unit length", rep, i)
			}
		}
	}
}

func TestDrawRestrictedQInfeasible(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	sigma := randomSPD(2, rng)
	L, err := cholLower(sigma)
	require.NoError(t, err)

	// Both variables forced to zero response to shock 0: no unit vector in an
	// empty null space
	zero := mat.NewDense(2, 2, []float64{
		1, 0,
		1, 0,
	})
	_, err = drawRestrictedQ(L, zero, rng)
	var infeasible *InfeasibleRestriction
	if !errors.As(err, &infeasible) {
		t.Fatalf("expected InfeasibleRestriction, got %v", err)
	}
	if infeasible.Shock != 0 {
		t.Errorf("Shock = %d, want 0", infeasible.Shock)
	}
}

// ============================================================================
// STRUCTURAL MAPPING TESTS
// ============================================================================

func TestStructuralMappingRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(17))
	N, K := 3, 7

	for rep := 0; rep < 50; rep++ {
		B := mat.NewDense(K, N, nil)
		for i := 0; i < K; i++ {
			for j := 0; j < N; j++ {
				B.Set(i, j, rng.NormFloat64())
			}
		}
		sigma := randomSPD(N, rng)
		Q := randomOrthogonal(N, rng)

		d := ReducedFormDraw{B: B, Sigma: sigma}
		s, err := structuralFromReduced(d, Q)
		require.NoError(t, err)

		back, backQ, err := reducedFromStructural(s)
		require.NoError(t, err)

		for i := 0; i < K; i++ {
			for j := 0; j < N; j++ {
				if !almostEqual(back.B.At(i, j), B.At(i, j), 1e-8) {
					t.Fatalf("rep %d: B round trip (%d,%d): %v vs %v", rep, i, j, back.B.At(i, j), B.At(i, j))
				}
			}
		}
		for i := 0; i < N; i++ {
			for j := 0; j < N; j++ {
				if !almostEqual(back.Sigma.At(i, j), sigma.At(i, j), 1e-8) {
					t.Fatalf("rep %d: Sigma round trip (%d,%d): %v vs %v", rep, i, j, back.Sigma.At(i, j), sigma.At(i, j))
				}
				if !almostEqual(backQ.At(i, j), Q.At(i, j), 1e-8) {
					t.Fatalf("rep %d: Q round trip (%d,%d): %v vs %v", rep, i, j, backQ.At(i, j), Q.At(i, j))
				}
			}
		}
	}
}

func TestImpactMatrixEqualsInverseTranspose(t *testing.T) {
	rng := rand.New(rand.NewSource(23))
	sigma := randomSPD(3, rng)
	Q := randomOrthogonal(3, rng)
	L, err := cholLower(sigma)
	require.NoError(t, err)

	// chol(Sigma) Q must equal (A0^-1)' for A0 = (chol(Sigma)')^-1 Q
	s, err := structuralFromReduced(ReducedFormDraw{B: mat.NewDense(7, 3, nil), Sigma: sigma}, Q)
	require.NoError(t, err)

	var A0inv mat.Dense
	require.NoError(t, A0inv.Inverse(s.A0))

	impact := impactMatrix(L, Q)
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			if !almostEqual(impact.At(i, j), A0inv.At(j, i), 1e-10) {
				t.Errorf("impact (%d,%d) = %v, (A0^-1)' gives %v", i, j, impact.At(i, j), A0inv.At(j, i))
			}
		}
	}
}
