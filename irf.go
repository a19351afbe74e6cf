// Project: Bayesian Estimation of SVARs under Zero, Sign, and Narrative Restrictions
// Method: Arias, Rubio-Ramirez & Waggoner (2018) importance sampler, extended with
// the narrative restrictions of Antolin-Diaz & Rubio-Ramirez (2018)

package main

import (
	"fmt"
	"math"
	"math/rand"
	"sort"

	"gonum.org/v1/gonum/mat"
)

// ComputeIRF maps one structural draw into its impulse-response cube for
// horizons 0..H. Theta[h].At(i, j) is the response of variable i to a unit
// structural shock j.
func ComputeIRF(s StructuralDraw, p, H int) (*IRFCube, error) {
	if H < 0 {
		return nil, fmt.Errorf("horizon must be >= 0")
	}

	var A0inv mat.Dense
	if err := A0inv.Inverse(s.A0); err != nil {
		return nil, &NumericalError{Op: "A0 inversion", Err: err}
	}

	// Theta_0 = (A0^-1)'
	var impact mat.Dense
	impact.CloneFrom(A0inv.T())

	// The recursion runs on the reduced-form lag blocks B = A+ A0^-1
	var B mat.Dense
	B.Mul(s.APlus, &A0inv)

	return &IRFCube{H: H, Theta: irfTheta(&B, &impact, p, H)}, nil
}

// ComputeFEVD turns an IRF cube into forecast-error variance shares for
// horizons 1..H. For every variable i and horizon h the shares across shocks
// sum to one.
func ComputeFEVD(cube *IRFCube, H int) (*FEVDCube, error) {
	if H < 1 || H > cube.H+1 {
		return nil, fmt.Errorf("FEVD horizon must be in [1, %d], got %d", cube.H+1, H)
	}
	N, _ := cube.Theta[0].Dims()

	share := make([]*mat.Dense, H)
	// Running sums of squared responses up to horizon h-1
	msfe := mat.NewDense(N, N, nil)

	for h := 1; h <= H; h++ {
		th := cube.Theta[h-1]
		for i := 0; i < N; i++ {
			for j := 0; j < N; j++ {
				v := th.At(i, j)
				msfe.Set(i, j, msfe.At(i, j)+v*v)
			}
		}

		S := mat.NewDense(N, N, nil)
		for i := 0; i < N; i++ {
			total := 0.0
			for j := 0; j < N; j++ {
				total += msfe.At(i, j)
			}
			if total <= 0 {
				return nil, &NumericalError{Op: "FEVD normalization", Err: fmt.Errorf("zero forecast-error variance for variable %d", i)}
			}
			for j := 0; j < N; j++ {
				S.Set(i, j, msfe.At(i, j)/total)
			}
		}
		share[h-1] = S
	}

	return &FEVDCube{H: H, Share: share}, nil
}

// empiricalQuantile returns the q-quantile of samples using linear
// interpolation between order statistics.
func empiricalQuantile(samples []float64, q float64) float64 {
	n := len(samples)
	if n == 0 {
		return math.NaN()
	}

	tmp := make([]float64, n)
	copy(tmp, samples)
	sort.Float64s(tmp)

	if q <= 0 {
		return tmp[0]
	}
	if q >= 1 {
		return tmp[n-1]
	}

	pos := q * float64(n-1)
	below := int(math.Floor(pos))
	above := int(math.Ceil(pos))
	if below == above {
		return tmp[below]
	}
	weight := pos - float64(below)
	return tmp[below]*(1.0-weight) + tmp[above]*weight
}

// BandSet holds pointwise posterior bands over a stack of matrices, one
// matrix per horizon (or per period, for shock paths).
type BandSet struct {
	Median []*mat.Dense
	Lower  []*mat.Dense
	Upper  []*mat.Dense
	Alpha  float64
}

// bandsFromStack computes pointwise quantile bands across draws.
// stack[d][h] is the h-th matrix of draw d; all draws share dimensions.
func bandsFromStack(stack [][]*mat.Dense, alpha float64) *BandSet {
	nDraws := len(stack)
	H := len(stack[0])
	r, c := stack[0][0].Dims()

	out := &BandSet{
		Median: make([]*mat.Dense, H),
		Lower:  make([]*mat.Dense, H),
		Upper:  make([]*mat.Dense, H),
		Alpha:  alpha,
	}

	samples := make([]float64, nDraws)
	for h := 0; h < H; h++ {
		med := mat.NewDense(r, c, nil)
		lo := mat.NewDense(r, c, nil)
		hi := mat.NewDense(r, c, nil)
		for i := 0; i < r; i++ {
			for j := 0; j < c; j++ {
				for d := 0; d < nDraws; d++ {
					samples[d] = stack[d][h].At(i, j)
				}
				med.Set(i, j, empiricalQuantile(samples, 0.5))
				lo.Set(i, j, empiricalQuantile(samples, alpha/2))
				hi.Set(i, j, empiricalQuantile(samples, 1-alpha/2))
			}
		}
		out.Median[h] = med
		out.Lower[h] = lo
		out.Upper[h] = hi
	}
	return out
}

// IRFBands stacks the IRF cubes of every final draw and returns pointwise
// posterior bands.
func IRFBands(sample *PosteriorSample, p, H int, alpha float64) (*BandSet, error) {
	if len(sample.Draws) == 0 {
		return nil, fmt.Errorf("empty posterior sample")
	}
	stack := make([][]*mat.Dense, len(sample.Draws))
	for d, wd := range sample.Draws {
		cube, err := ComputeIRF(wd.Structural, p, H)
		if err != nil {
			return nil, fmt.Errorf("IRF for draw %d: %w", d, err)
		}
		stack[d] = cube.Theta
	}
	return bandsFromStack(stack, alpha), nil
}

// FEVDBands does the same for variance-decomposition shares.
func FEVDBands(sample *PosteriorSample, p, H int, alpha float64) (*BandSet, error) {
	if len(sample.Draws) == 0 {
		return nil, fmt.Errorf("empty posterior sample")
	}
	stack := make([][]*mat.Dense, len(sample.Draws))
	for d, wd := range sample.Draws {
		cube, err := ComputeIRF(wd.Structural, p, H)
		if err != nil {
			return nil, fmt.Errorf("IRF for draw %d: %w", d, err)
		}
		fevd, err := ComputeFEVD(cube, H)
		if err != nil {
			return nil, fmt.Errorf("FEVD for draw %d: %w", d, err)
		}
		stack[d] = fevd.Share
	}
	return bandsFromStack(stack, alpha), nil
}

// ShockPathBands computes pointwise bands over the historical structural
// shock paths of the final draws. The per-period matrices are 1 x N rows so
// the band machinery can be shared with the IRF and FEVD stacks.
func ShockPathBands(m *BSVAR, sample *PosteriorSample, alpha float64) (*BandSet, error) {
	if len(sample.Draws) == 0 {
		return nil, fmt.Errorf("empty posterior sample")
	}
	stack := make([][]*mat.Dense, len(sample.Draws))
	for d, wd := range sample.Draws {
		eps := historicalShocks(m.Y, m.X, wd)
		rows := make([]*mat.Dense, m.T)
		for t := 0; t < m.T; t++ {
			row := mat.NewDense(1, m.N, nil)
			for n := 0; n < m.N; n++ {
				row.Set(0, n, eps.At(t, n))
			}
			rows[t] = row
		}
		stack[d] = rows
	}
	return bandsFromStack(stack, alpha), nil
}

// SimulateSVAR generates a synthetic panel from known structural parameters:
// y_t = sum_l y_{t-l} B_l + c + eps_t A0^-1 with eps_t iid standard normal.
// Used by the demo driver and the end-to-end tests.
func SimulateSVAR(s StructuralDraw, p, T int, seed int64, varNames []string) (*TimeSeries, error) {
	N, _ := s.A0.Dims()
	K, _ := s.APlus.Dims()
	if K != N*p+1 {
		return nil, fmt.Errorf("A+ must have %d rows for p = %d, got %d", N*p+1, p, K)
	}

	var A0inv mat.Dense
	if err := A0inv.Inverse(s.A0); err != nil {
		return nil, &NumericalError{Op: "A0 inversion", Err: err}
	}
	var B mat.Dense
	B.Mul(s.APlus, &A0inv)

	rng := rand.New(rand.NewSource(seed))

	// Burn in from zero initial conditions so the start point does not matter
	burn := 50
	total := burn + T
	Y := mat.NewDense(total+p, N, nil)

	eps := make([]float64, N)
	for t := p; t < total+p; t++ {
		for n := 0; n < N; n++ {
			eps[n] = rng.NormFloat64()
		}
		for n := 0; n < N; n++ {
			val := B.At(K-1, n) // constant, last row
			for l := 1; l <= p; l++ {
				for k := 0; k < N; k++ {
					val += Y.At(t-l, k) * B.At((l-1)*N+k, n)
				}
			}
			for k := 0; k < N; k++ {
				val += eps[k] * A0inv.At(k, n)
			}
			Y.Set(t, n, val)
		}
	}

	out := mat.DenseCopyOf(Y.Slice(burn, total+p, 0, N))
	times := make([]float64, T+p)
	for i := range times {
		times[i] = float64(i)
	}
	if len(varNames) != N {
		varNames = make([]string, N)
		for n := 0; n < N; n++ {
			varNames[n] = fmt.Sprintf("Var%d", n+1)
		}
	}
	return &TimeSeries{Y: out, Time: times, VarNames: varNames}, nil
}
