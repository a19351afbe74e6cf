// Project: Bayesian Estimation of SVARs under Zero, Sign, and Narrative Restrictions
// Method: Arias, Rubio-Ramirez & Waggoner (2018) importance sampler, extended with
// the narrative restrictions of Antolin-Diaz & Rubio-Ramirez (2018)

package main

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/mat"
)

// CentralDifference is the default Differentiator: central finite differences
// through gonum's fd package.
type CentralDifference struct {
	// Step size; 0 means 1e-6
	Step float64
}

func (c CentralDifference) Jacobian(f func(out, x []float64), x []float64, outDim int) *mat.Dense {
	step := c.Step
	if step == 0 {
		step = 1e-6
	}
	dst := mat.NewDense(outDim, len(x), nil)
	fd.Jacobian(dst, f, x, &fd.JacobianSettings{
		Formula: fd.Central,
		Step:    step,
	})
	return dst
}

// irfTheta runs the structural IRF recursion up to horizon H:
//
//	Theta_0 = impact
//	Theta_h = sum_{l=1}^{min(h,p)} B_l' Theta_{h-l}
//
// where B_l is the l-th N x N lag block of the reduced-form coefficients.
// Theta[h].At(i, j) is the response of variable i to shock j at horizon h.
func irfTheta(B *mat.Dense, impact *mat.Dense, p, H int) []*mat.Dense {
	N, _ := impact.Dims()

	theta := make([]*mat.Dense, H+1)
	theta[0] = mat.DenseCopyOf(impact)

	for h := 1; h <= H; h++ {
		M := mat.NewDense(N, N, nil)
		maxLag := p
		if h < p {
			maxLag = h
		}
		for l := 1; l <= maxLag; l++ {
			block := B.Slice((l-1)*N, l*N, 0, N)
			var tmp mat.Dense
			tmp.Mul(block.T(), theta[h-l])
			M.Add(M, &tmp)
		}
		theta[h] = M
	}

	return theta
}

// maxSignHorizon is the deepest horizon any sign restriction touches.
func maxSignHorizon(sign []*mat.Dense) int {
	maxH := 0
	for h, S := range sign {
		if S == nil {
			continue
		}
		r, c := S.Dims()
		for i := 0; i < r; i++ {
			for j := 0; j < c; j++ {
				if S.At(i, j) != 0 && h > maxH {
					maxH = h
				}
			}
		}
	}
	return maxH
}

// checkSigns returns false as soon as any restricted entry disagrees with its
// required sign. An exact zero counts as a disagreement.
func checkSigns(theta []*mat.Dense, sign []*mat.Dense) bool {
	for h, S := range sign {
		if S == nil || h >= len(theta) {
			continue
		}
		r, c := S.Dims()
		for i := 0; i < r; i++ {
			for j := 0; j < c; j++ {
				s := S.At(i, j)
				if s == 0 {
					continue
				}
				if s*theta[h].At(i, j) <= 0 {
					return false
				}
			}
		}
	}
	return true
}

// zeroPositions lists the (variable, shock) pairs forced to zero, in a fixed
// row-major order so the Jacobian rows line up deterministically.
func zeroPositions(zero *mat.Dense) [][2]int {
	if zero == nil {
		return nil
	}
	var pos [][2]int
	r, c := zero.Dims()
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			if zero.At(i, j) == 1 {
				pos = append(pos, [2]int{i, j})
			}
		}
	}
	return pos
}

// structToVec flattens (A0, A+) row-major into a single parameter vector.
func structToVec(s StructuralDraw) []float64 {
	N, _ := s.A0.Dims()
	K, _ := s.APlus.Dims()
	x := make([]float64, N*N+K*N)
	idx := 0
	for i := 0; i < N; i++ {
		for j := 0; j < N; j++ {
			x[idx] = s.A0.At(i, j)
			idx++
		}
	}
	for i := 0; i < K; i++ {
		for j := 0; j < N; j++ {
			x[idx] = s.APlus.At(i, j)
			idx++
		}
	}
	return x
}

// vecToStruct is the inverse of structToVec.
func vecToStruct(x []float64, N, K int) StructuralDraw {
	A0 := mat.NewDense(N, N, nil)
	APlus := mat.NewDense(K, N, nil)
	idx := 0
	for i := 0; i < N; i++ {
		for j := 0; j < N; j++ {
			A0.Set(i, j, x[idx])
			idx++
		}
	}
	for i := 0; i < K; i++ {
		for j := 0; j < N; j++ {
			APlus.Set(i, j, x[idx])
			idx++
		}
	}
	return StructuralDraw{A0: A0, APlus: APlus}
}

// gfMapDim sizes the output of the gf change-of-variables map; the zero map's
// output length is just the number of restricted positions.
func gfMapDim(N, K int) int { return K*N + N*(N+1)/2 + N*N }

// evalZeroMap writes the restricted entries of the contemporaneous impact
// matrix (A0^-1)' for the structural parameters in x. On the zero-restriction
// manifold every output is zero; its Jacobian spans the directions that leave
// the manifold.
func evalZeroMap(out, x []float64, N, K int, positions [][2]int) {
	s := vecToStruct(x, N, K)
	var A0inv mat.Dense
	if err := A0inv.Inverse(s.A0); err != nil {
		// Singular perturbation point: poison the outputs so any Jacobian
		// built across it fails loudly downstream instead of looking valid
		for k := range out {
			out[k] = math.NaN()
		}
		return
	}
	for k, p := range positions {
		out[k] = A0inv.At(p[1], p[0]) // (A0^-1)' entry (i,j) = A0^-1 entry (j,i)
	}
}

// evalGFMap writes [vec(B); vech(Sigma); vec(Q)] for the structural
// parameters in x: the reduced-form-to-structural change of variables whose
// Jacobian enters the volume element.
func evalGFMap(out, x []float64, N, K int) {
	s := vecToStruct(x, N, K)
	d, Q, err := reducedFromStructural(s)
	if err != nil {
		for k := range out {
			out[k] = math.NaN()
		}
		return
	}

	idx := 0
	for i := 0; i < K; i++ {
		for j := 0; j < N; j++ {
			out[idx] = d.B.At(i, j)
			idx++
		}
	}
	for i := 0; i < N; i++ {
		for j := i; j < N; j++ {
			out[idx] = d.Sigma.At(i, j)
			idx++
		}
	}
	for i := 0; i < N; i++ {
		for j := 0; j < N; j++ {
			out[idx] = Q.At(i, j)
			idx++
		}
	}
}

// logVolumeElement computes 0.5 * logdet(DN' DN) with DN = Dgf * basis(null(Dz)):
// the Jacobian volume correction for the change of variables restricted to the
// zero-restriction null space. The null-space basis comes from an SVD, not an
// analytic inverse.
func logVolumeElement(s StructuralDraw, positions [][2]int, diff Differentiator) (float64, error) {
	N, _ := s.A0.Dims()
	K, _ := s.APlus.Dims()
	m := N*N + K*N
	x := structToVec(s)

	var basis *mat.Dense
	if len(positions) > 0 {
		Dz := diff.Jacobian(func(out, x []float64) {
			evalZeroMap(out, x, N, K, positions)
		}, x, len(positions))

		var err error
		basis, err = nullSpaceBasis(Dz, m)
		if err != nil {
			return 0, &NumericalError{Op: "zero-restriction Jacobian null space", Err: err}
		}
		if basis == nil {
			return 0, &NumericalError{Op: "zero-restriction Jacobian null space", Err: fmt.Errorf("empty null space")}
		}
	}

	Dgf := diff.Jacobian(func(out, x []float64) {
		evalGFMap(out, x, N, K)
	}, x, gfMapDim(N, K))

	var DN mat.Dense
	if basis != nil {
		DN.Mul(Dgf, basis)
	} else {
		DN.CloneFrom(Dgf)
	}

	var gram mat.Dense
	gram.Mul(DN.T(), &DN)

	var chol mat.Cholesky
	if ok := chol.Factorize(symmetrize(&gram)); !ok {
		return 0, &NumericalError{Op: "volume element Gram matrix", Err: fmt.Errorf("matrix is not positive definite")}
	}
	return 0.5 * chol.LogDet(), nil
}

// logImportanceWeight is the zero/sign importance weight in log scale:
//
//	logWeight = -(2N+K+1) * log|det(A0)| - logVolumeElement
//
// Kept in logs until final normalization to avoid overflow for large N.
func logImportanceWeight(s StructuralDraw, positions [][2]int, diff Differentiator) (float64, error) {
	N, _ := s.A0.Dims()
	K, _ := s.APlus.Dims()

	var lu mat.LU
	lu.Factorize(s.A0)
	logDetA0, _ := lu.LogDet()
	vol, err := logVolumeElement(s, positions, diff)
	if err != nil {
		return 0, err
	}
	return -float64(2*N+K+1)*logDetA0 - vol, nil
}

// drawEvaluator applies the sign filter and computes the zero/sign importance
// weight for one candidate draw. It is shared read-only across workers.
type drawEvaluator struct {
	N, K, P  int
	ident    IdentificationSpec
	zeroPos  [][2]int
	maxSignH int
	diff     Differentiator
}

func newDrawEvaluator(m *BSVAR, diff Differentiator) *drawEvaluator {
	if diff == nil {
		diff = CentralDifference{}
	}
	return &drawEvaluator{
		N:        m.N,
		K:        m.K,
		P:        m.P,
		ident:    m.Ident,
		zeroPos:  zeroPositions(m.Ident.ZeroIRF),
		maxSignH: maxSignHorizon(m.Ident.SignIRF),
		diff:     diff,
	}
}

// evaluate returns (draw, accepted, fatalErr). A sign mismatch or a locally
// degenerate matrix rejects the single draw; only specification-level failures
// propagate as errors.
func (e *drawEvaluator) evaluate(d ReducedFormDraw, Q *mat.Dense, cholSigmaL *mat.TriDense) (WeightedDraw, bool, error) {
	impact := impactMatrix(cholSigmaL, Q)
	theta := irfTheta(d.B, impact, e.P, e.maxSignH)
	if !checkSigns(theta, e.ident.SignIRF) {
		return WeightedDraw{}, false, nil
	}

	structural, err := structuralFromReduced(d, Q)
	if err != nil {
		// Degenerate draw, reject locally
		return WeightedDraw{}, false, nil
	}

	logW, err := logImportanceWeight(structural, e.zeroPos, e.diff)
	if err != nil {
		return WeightedDraw{}, false, nil
	}

	return WeightedDraw{
		Structural: structural,
		Reduced:    d,
		Q:          Q,
		LogWeight:  logW,
	}, true, nil
}
