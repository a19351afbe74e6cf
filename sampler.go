// Project: Bayesian Estimation of SVARs under Zero, Sign, and Narrative Restrictions
// Method: Arias, Rubio-Ramirez & Waggoner (2018) importance sampler, extended with
// the narrative restrictions of Antolin-Diaz & Rubio-Ramirez (2018)

package main

import (
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"
)

// reducedFormSampler draws (Sigma, B) from the NIW posterior. The Cholesky
// factors that do not change across draws are computed once up front; each
// Draw call touches nothing but its own RNG stream.
type reducedFormSampler struct {
	post *PosteriorHyper
	// Lower Cholesky factor of the posterior row covariance Vbar
	cholVL *mat.TriDense
	// Lower Cholesky factor of Sbar^-1, for the Bartlett construction
	cholSinvL *mat.TriDense
	K, N      int
}

func newReducedFormSampler(post *PosteriorHyper) (*reducedFormSampler, error) {
	K := post.V.SymmetricDim()
	N := post.S.SymmetricDim()

	var cholV mat.Cholesky
	if ok := cholV.Factorize(post.V); !ok {
		return nil, &NumericalError{Op: "posterior row covariance", Err: fmt.Errorf("matrix is not positive definite")}
	}
	cholVL := mat.NewTriDense(K, mat.Lower, nil)
	cholV.LTo(cholVL)

	sInv, _, err := spdInverse(post.S, "posterior scale matrix")
	if err != nil {
		return nil, err
	}
	var cholSinv mat.Cholesky
	if ok := cholSinv.Factorize(sInv); !ok {
		return nil, &NumericalError{Op: "inverse posterior scale", Err: fmt.Errorf("matrix is not positive definite")}
	}
	cholSinvL := mat.NewTriDense(N, mat.Lower, nil)
	cholSinv.LTo(cholSinvL)

	return &reducedFormSampler{
		post:      post,
		cholVL:    cholVL,
		cholSinvL: cholSinvL,
		K:         K,
		N:         N,
	}, nil
}

// drawSigma samples Sigma ~ InverseWishart(Sbar, Nubar) through the Bartlett
// decomposition: W = (L A)(L A)' ~ Wishart(Sbar^-1, Nubar) with L the lower
// factor of Sbar^-1, so Sigma = W^-1 is SPD by construction.
func (s *reducedFormSampler) drawSigma(rng *rand.Rand) (*mat.SymDense, error) {
	N := s.N

	A := mat.NewDense(N, N, nil)
	for i := 0; i < N; i++ {
		chi := distuv.ChiSquared{K: s.post.Nu - float64(i), Src: rng}
		A.Set(i, i, math.Sqrt(chi.Rand()))
		for j := 0; j < i; j++ {
			A.Set(i, j, rng.NormFloat64())
		}
	}

	var M mat.Dense
	M.Mul(s.cholSinvL, A)

	// Sigma = (M M')^-1 = Minv' Minv
	var Minv mat.Dense
	if err := Minv.Inverse(&M); err != nil {
		return nil, &NumericalError{Op: "Bartlett factor inversion", Err: err}
	}
	var sigmaDense mat.Dense
	sigmaDense.Mul(Minv.T(), &Minv)
	return symmetrize(&sigmaDense), nil
}

// Draw samples Sigma from its inverse-Wishart marginal and then
// B | Sigma = Bbar + chol(Vbar) Z chol(Sigma)' with Z an iid standard-normal
// K x N matrix, so vec(B) has covariance Sigma kron Vbar.
func (s *reducedFormSampler) Draw(rng *rand.Rand) (ReducedFormDraw, error) {
	sigma, err := s.drawSigma(rng)
	if err != nil {
		return ReducedFormDraw{}, err
	}

	var cholS mat.Cholesky
	if ok := cholS.Factorize(sigma); !ok {
		return ReducedFormDraw{}, &NumericalError{Op: "drawn covariance", Err: fmt.Errorf("matrix is not positive definite")}
	}
	cholSL := mat.NewTriDense(s.N, mat.Lower, nil)
	cholS.LTo(cholSL)

	Z := mat.NewDense(s.K, s.N, nil)
	for i := 0; i < s.K; i++ {
		for j := 0; j < s.N; j++ {
			Z.Set(i, j, rng.NormFloat64())
		}
	}

	var scaled, B mat.Dense
	scaled.Mul(s.cholVL, Z)
	B.Mul(&scaled, cholSL.T())
	B.Add(&B, s.post.B)

	return ReducedFormDraw{B: &B, Sigma: sigma}, nil
}

// cholLower returns the lower Cholesky factor of an SPD matrix.
func cholLower(S *mat.SymDense) (*mat.TriDense, error) {
	var chol mat.Cholesky
	if ok := chol.Factorize(S); !ok {
		return nil, &NumericalError{Op: "Cholesky factorization", Err: fmt.Errorf("matrix is not positive definite")}
	}
	L := mat.NewTriDense(S.SymmetricDim(), mat.Lower, nil)
	chol.LTo(L)
	return L, nil
}

// nullSpaceBasis returns an orthonormal basis (columns) of the null space of
// C, or nil when the null space is empty. C has full-width rows of length n.
func nullSpaceBasis(C *mat.Dense, n int) (*mat.Dense, error) {
	r, _ := C.Dims()
	if r == 0 {
		// Unconstrained: the whole space
		basis := mat.NewDense(n, n, nil)
		for i := 0; i < n; i++ {
			basis.Set(i, i, 1.0)
		}
		return basis, nil
	}

	var svd mat.SVD
	if ok := svd.Factorize(C, mat.SVDFullV); !ok {
		return nil, fmt.Errorf("SVD factorization failed")
	}

	values := svd.Values(nil)
	maxSV := 0.0
	for _, v := range values {
		if v > maxSV {
			maxSV = v
		}
	}
	tol := 1e-10
	if maxSV > 0 {
		tol = maxSV * 1e-10
	}
	rank := 0
	for _, v := range values {
		if v > tol {
			rank++
		}
	}
	if rank >= n {
		return nil, nil
	}

	var V mat.Dense
	svd.VTo(&V)
	basis := mat.NewDense(n, n-rank, nil)
	for i := 0; i < n; i++ {
		for j := rank; j < n; j++ {
			basis.Set(i, j-rank, V.At(i, j))
		}
	}
	return basis, nil
}

// drawRestrictedQ builds the orthogonal rotation column by column. For shock j
// the constraint matrix stacks (a) the rows of chol(Sigma) picked out by the
// zero restrictions on shock j, because the impact matrix is chol(Sigma) Q,
// and (b) the previously fixed columns of Q. Column j is then a uniformly
// random unit vector in the null space of that matrix, which satisfies every
// zero restriction exactly, with no rejection step.
func drawRestrictedQ(cholSigmaL *mat.TriDense, zero *mat.Dense, rng *rand.Rand) (*mat.Dense, error) {
	N, _ := cholSigmaL.Dims()
	Q := mat.NewDense(N, N, nil)

	for j := 0; j < N; j++ {
		// Count constraint rows for this shock
		nZero := 0
		if zero != nil {
			for i := 0; i < N; i++ {
				if zero.At(i, j) == 1 {
					nZero++
				}
			}
		}

		// gonum's NewDense rejects zero-row matrices; the unconstrained case
		// goes through nullSpaceBasis's r == 0 branch with an empty matrix.
		C := &mat.Dense{}
		if nZero+j > 0 {
			C = mat.NewDense(nZero+j, N, nil)
		}
		row := 0
		if zero != nil {
			for i := 0; i < N; i++ {
				if zero.At(i, j) != 1 {
					continue
				}
				for k := 0; k < N; k++ {
					C.Set(row, k, cholSigmaL.At(i, k))
				}
				row++
			}
		}
		for prev := 0; prev < j; prev++ {
			for k := 0; k < N; k++ {
				C.Set(row, k, Q.At(k, prev))
			}
			row++
		}

		basis, err := nullSpaceBasis(C, N)
		if err != nil {
			return nil, &NumericalError{Op: fmt.Sprintf("null space for shock %d", j), Err: err}
		}
		if basis == nil {
			return nil, &InfeasibleRestriction{Shock: j}
		}

		_, d := basis.Dims()
		w := mat.NewVecDense(d, nil)
		for k := 0; k < d; k++ {
			w.SetVec(k, rng.NormFloat64())
		}

		var v mat.VecDense
		v.MulVec(basis, w)
		norm := mat.Norm(&v, 2)
		if norm < 1e-12 {
			return nil, &NumericalError{Op: fmt.Sprintf("unit vector for shock %d", j), Err: fmt.Errorf("degenerate direction")}
		}
		for k := 0; k < N; k++ {
			Q.Set(k, j, v.AtVec(k)/norm)
		}
	}

	return Q, nil
}

// impactMatrix is the contemporaneous impulse response chol(Sigma) Q; entry
// (i, j) is the impact of structural shock j on variable i.
func impactMatrix(cholSigmaL *mat.TriDense, Q *mat.Dense) *mat.Dense {
	var impact mat.Dense
	impact.Mul(cholSigmaL, Q)
	return &impact
}

// structuralFromReduced maps (B, Sigma, Q) to (A0, A+) using the upper
// Cholesky decomposition h(Sigma) = chol(Sigma)': A0 = h(Sigma)^-1 Q and
// A+ = B h(Sigma)^-1 Q = B A0.
func structuralFromReduced(d ReducedFormDraw, Q *mat.Dense) (StructuralDraw, error) {
	L, err := cholLower(d.Sigma)
	if err != nil {
		return StructuralDraw{}, err
	}

	var A0 mat.Dense
	if err := A0.Solve(L.T(), Q); err != nil {
		return StructuralDraw{}, &NumericalError{Op: "structural mapping", Err: err}
	}

	var APlus mat.Dense
	APlus.Mul(d.B, &A0)

	return StructuralDraw{A0: &A0, APlus: &APlus}, nil
}

// reducedFromStructural inverts the mapping: B = A+ A0^-1,
// Sigma = (A0 A0')^-1 and Q = h(Sigma) A0. A0 must be invertible; violated
// draws are numerically degenerate and get rejected by the caller.
func reducedFromStructural(s StructuralDraw) (ReducedFormDraw, *mat.Dense, error) {
	var A0inv mat.Dense
	if err := A0inv.Inverse(s.A0); err != nil {
		return ReducedFormDraw{}, nil, &NumericalError{Op: "A0 inversion", Err: err}
	}

	var B mat.Dense
	B.Mul(s.APlus, &A0inv)

	// Sigma = (A0 A0')^-1 = A0inv' A0inv
	var sigmaDense mat.Dense
	sigmaDense.Mul(A0inv.T(), &A0inv)
	sigma := symmetrize(&sigmaDense)

	L, err := cholLower(sigma)
	if err != nil {
		return ReducedFormDraw{}, nil, err
	}
	var Q mat.Dense
	Q.Mul(L.T(), s.A0)

	return ReducedFormDraw{B: &B, Sigma: sigma}, &Q, nil
}
