// Project: Bayesian Estimation of SVARs under Zero, Sign, and Narrative Restrictions
// Method: Arias, Rubio-Ramirez & Waggoner (2018) importance sampler, extended with
// the narrative restrictions of Antolin-Diaz & Rubio-Ramirez (2018)

package main

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// buildDesign turns the raw panel into the effective sample: the response
// matrix Y (rows t = p,...,Tfull-1) and the lag design X with row
// [y_{t-1}, ..., y_{t-p}, 1]. So X is (Tfull-p) x (N*p + 1).
func buildDesign(ts *TimeSeries, p int) (*mat.Dense, *mat.Dense, error) {
	if ts == nil || ts.Y == nil {
		return nil, nil, fmt.Errorf("time series data not provided")
	}
	if p <= 0 {
		return nil, nil, fmt.Errorf("lags must be > 0")
	}

	Tfull, N := ts.Y.Dims()
	if Tfull <= p {
		return nil, nil, fmt.Errorf("need at least p+1 observations: p = %d, T = %d", p, Tfull)
	}

	T := Tfull - p
	K := N*p + 1

	Y := mat.NewDense(T, N, nil)
	X := mat.NewDense(T, K, nil)

	for t := 0; t < T; t++ {
		for n := 0; n < N; n++ {
			Y.Set(t, n, ts.Y.At(t+p, n))
		}

		col := 0
		// Lagged blocks: [ y_{t+p-1}, y_{t+p-2}, ..., y_{t+p-p} ]
		for j := 1; j <= p; j++ {
			srcRow := t + p - j
			for n := 0; n < N; n++ {
				X.Set(t, col, ts.Y.At(srcRow, n))
				col++
			}
		}
		// Constant goes last
		X.Set(t, col, 1.0)
	}

	return Y, X, nil
}

// DefaultPrior builds a loose conjugate prior in the Minnesota spirit: zero
// coefficient mean, a diffuse diagonal row covariance, and an error scale set
// from per-equation AR(p) residual variances fitted by OLS.
func DefaultPrior(ts *TimeSeries, p int) (PriorSpec, error) {
	var prior PriorSpec

	Yeff, X, err := buildDesign(ts, p)
	if err != nil {
		return prior, err
	}
	T, N := Yeff.Dims()
	_, K := X.Dims()

	// Per-equation AR(p) residual variances for the scale matrix. Each
	// regression uses only the variable's own lags plus a constant.
	sData := make([]float64, N*N)
	for n := 0; n < N; n++ {
		Xn := mat.NewDense(T, p+1, nil)
		yn := mat.NewDense(T, 1, nil)
		for t := 0; t < T; t++ {
			for j := 0; j < p; j++ {
				// Own lags sit at column j*N + n of the full design
				Xn.Set(t, j, X.At(t, j*N+n))
			}
			Xn.Set(t, p, 1.0)
			yn.Set(t, 0, Yeff.At(t, n))
		}

		// Normal equations first, SVD least squares as the fallback
		var beta mat.Dense
		var xtx, xtxInv mat.Dense
		xtx.Mul(Xn.T(), Xn)
		if errInv := xtxInv.Inverse(&xtx); errInv == nil {
			var xty mat.Dense
			xty.Mul(Xn.T(), yn)
			beta.Mul(&xtxInv, &xty)
		} else {
			var svd mat.SVD
			if ok := svd.Factorize(Xn, mat.SVDFullU|mat.SVDFullV); !ok {
				return prior, fmt.Errorf("AR(%d) regression for variable %d: %v", p, n, errInv)
			}
			rank := svd.Rank(1e-12)
			if rank == 0 {
				beta = *mat.NewDense(p+1, 1, nil)
			} else {
				svd.SolveTo(&beta, yn, rank)
			}
		}

		var fitted, resid mat.Dense
		fitted.Mul(Xn, &beta)
		resid.Sub(yn, &fitted)

		rss := 0.0
		for t := 0; t < T; t++ {
			rss += resid.At(t, 0) * resid.At(t, 0)
		}
		df := float64(T - p - 1)
		if df <= 0 {
			df = float64(T)
		}
		s2 := rss / df
		if s2 <= 0 {
			s2 = 1e-8
		}
		sData[n*N+n] = s2
	}

	// Diffuse row covariance: variance 100 on every regressor
	vData := make([]float64, K*K)
	for i := 0; i < K; i++ {
		vData[i*K+i] = 100.0
	}

	prior = PriorSpec{
		B0:  mat.NewDense(K, N, nil),
		V0:  mat.NewSymDense(K, vData),
		S0:  mat.NewSymDense(N, sData),
		Nu0: float64(N) + 2,
	}
	return prior, nil
}

// symmetrize copies 0.5*(M + M') into a SymDense. Keeps tiny floating
// asymmetries from products like B'V B out of the posterior scale.
func symmetrize(M *mat.Dense) *mat.SymDense {
	n, _ := M.Dims()
	out := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			out.SetSym(i, j, 0.5*(M.At(i, j)+M.At(j, i)))
		}
	}
	return out
}

// spdInverse inverts an SPD matrix through its Cholesky factorization and
// propagates failure instead of regularizing.
func spdInverse(S *mat.SymDense, op string) (*mat.SymDense, *mat.Cholesky, error) {
	var chol mat.Cholesky
	if ok := chol.Factorize(S); !ok {
		return nil, nil, &NumericalError{Op: op, Err: fmt.Errorf("matrix is not positive definite")}
	}
	n := S.SymmetricDim()
	inv := mat.NewSymDense(n, nil)
	if err := chol.InverseTo(inv); err != nil {
		return nil, nil, &NumericalError{Op: op, Err: err}
	}
	return inv, &chol, nil
}

// ComputePosterior runs the analytic NIW update:
//
//	Vbar^-1 = V0^-1 + X'X
//	Vbar    = inverse(Vbar^-1)
//	Bbar    = Vbar (X'Y + V0^-1 B0)
//	Sbar    = sym(S0 + Y'Y + B0'V0^-1 B0 - Bbar'Vbar^-1 Bbar)
//	Nubar   = Nu0 + T
//
// Fails with NumericalError if Vbar^-1 or Sbar is not numerically SPD.
func ComputePosterior(Y, X *mat.Dense, prior PriorSpec) (*PosteriorHyper, error) {
	T, N := Y.Dims()
	_, K := X.Dims()

	if r, c := prior.B0.Dims(); r != K || c != N {
		return nil, fmt.Errorf("prior mean must be %d x %d, got %d x %d", K, N, r, c)
	}
	if prior.V0.SymmetricDim() != K {
		return nil, fmt.Errorf("prior row covariance must be %d x %d", K, K)
	}
	if prior.S0.SymmetricDim() != N {
		return nil, fmt.Errorf("prior scale must be %d x %d", N, N)
	}
	if prior.Nu0 <= float64(N)-1 {
		return nil, fmt.Errorf("prior degrees of freedom must exceed N-1 = %d", N-1)
	}

	v0inv, _, err := spdInverse(prior.V0, "prior row covariance")
	if err != nil {
		return nil, err
	}

	var xtx mat.Dense
	xtx.Mul(X.T(), X)

	vbarInvDense := mat.NewDense(K, K, nil)
	vbarInvDense.Add(v0inv, &xtx)
	vbarInv := symmetrize(vbarInvDense)

	vbar, _, err := spdInverse(vbarInv, "posterior row precision")
	if err != nil {
		return nil, err
	}

	// Bbar = Vbar (X'Y + V0^-1 B0)
	var xty, v0invB0, rhs, bbar mat.Dense
	xty.Mul(X.T(), Y)
	v0invB0.Mul(v0inv, prior.B0)
	rhs.Add(&xty, &v0invB0)
	bbar.Mul(vbar, &rhs)

	// Sbar = S0 + Y'Y + B0'V0^-1 B0 - Bbar'Vbar^-1 Bbar
	var yty, b0tv0invB0, bbartVinvBbar, tmp mat.Dense
	yty.Mul(Y.T(), Y)
	b0tv0invB0.Mul(prior.B0.T(), &v0invB0)
	tmp.Mul(vbarInv, &bbar)
	bbartVinvBbar.Mul(bbar.T(), &tmp)

	sbarDense := mat.NewDense(N, N, nil)
	sbarDense.Add(prior.S0, &yty)
	sbarDense.Add(sbarDense, &b0tv0invB0)
	sbarDense.Sub(sbarDense, &bbartVinvBbar)
	sbar := symmetrize(sbarDense)

	// Attempt Cholesky now so a bad scale matrix aborts before sampling
	var sbarChol mat.Cholesky
	if ok := sbarChol.Factorize(sbar); !ok {
		return nil, &NumericalError{Op: "posterior scale matrix", Err: fmt.Errorf("matrix is not positive definite")}
	}

	return &PosteriorHyper{
		B:    &bbar,
		V:    vbar,
		Vinv: vbarInv,
		S:    sbar,
		Nu:   prior.Nu0 + float64(T),
	}, nil
}

// validateIdentification rejects contradictory or out-of-range restriction
// specifications before any draws are attempted.
func validateIdentification(ident IdentificationSpec, N, T int) error {
	if ident.ZeroIRF != nil {
		r, c := ident.ZeroIRF.Dims()
		if r != N || c != N {
			return &ValidationError{Msg: fmt.Sprintf("zero restriction matrix must be %d x %d, got %d x %d", N, N, r, c)}
		}
		for i := 0; i < N; i++ {
			for j := 0; j < N; j++ {
				v := ident.ZeroIRF.At(i, j)
				if v != 0 && v != 1 {
					return &ValidationError{Msg: fmt.Sprintf("zero restriction entry (%d,%d) must be 0 or 1, got %v", i, j, v)}
				}
			}
		}
	}

	for h, S := range ident.SignIRF {
		if S == nil {
			continue
		}
		r, c := S.Dims()
		if r != N || c != N {
			return &ValidationError{Msg: fmt.Sprintf("sign restriction matrix at horizon %d must be %d x %d", h, N, N)}
		}
		for i := 0; i < N; i++ {
			for j := 0; j < N; j++ {
				v := S.At(i, j)
				if v != -1 && v != 0 && v != 1 {
					return &ValidationError{Msg: fmt.Sprintf("sign restriction entry (%d,%d,h=%d) must be in {-1,0,+1}, got %v", i, j, h, v)}
				}
				// A forced zero and a forced sign on the same entry contradict
				if h == 0 && v != 0 && ident.ZeroIRF != nil && ident.ZeroIRF.At(i, j) == 1 {
					return &ValidationError{Msg: fmt.Sprintf("entry (%d,%d) carries both a zero and a sign restriction at horizon 0", i, j)}
				}
			}
		}
	}

	for k, nr := range ident.Narrative {
		if nr.ShockIndex < 0 || nr.ShockIndex >= N {
			return &ValidationError{Msg: fmt.Sprintf("narrative restriction %d: shock index %d out of range", k, nr.ShockIndex)}
		}
		if nr.RequiredSign != 1 && nr.RequiredSign != -1 {
			return &ValidationError{Msg: fmt.Sprintf("narrative restriction %d: required sign must be +1 or -1", k)}
		}
		if nr.PeriodStart < 0 || nr.PeriodEnd < nr.PeriodStart || nr.PeriodEnd >= T {
			return &ValidationError{Msg: fmt.Sprintf("narrative restriction %d: window [%d,%d] outside the effective sample of %d periods", k, nr.PeriodStart, nr.PeriodEnd, T)}
		}
		if nr.Kind == NarrativeContribution && (nr.DataColumn < 0 || nr.DataColumn >= N) {
			return &ValidationError{Msg: fmt.Sprintf("narrative restriction %d: data column %d out of range", k, nr.DataColumn)}
		}
	}

	return nil
}

// NewBSVAR builds the effective sample, validates the identification, and runs
// the posterior update. The returned model is ready to sample from.
func NewBSVAR(ts *TimeSeries, p int, prior PriorSpec, ident IdentificationSpec) (*BSVAR, error) {
	Y, X, err := buildDesign(ts, p)
	if err != nil {
		return nil, err
	}
	T, N := Y.Dims()
	_, K := X.Dims()

	if err := validateIdentification(ident, N, T); err != nil {
		return nil, err
	}

	post, err := ComputePosterior(Y, X, prior)
	if err != nil {
		return nil, err
	}

	names := ts.VarNames
	if len(names) != N {
		names = make([]string, N)
		for n := 0; n < N; n++ {
			names[n] = fmt.Sprintf("Var%d", n+1)
		}
	}

	return &BSVAR{
		Y:        Y,
		X:        X,
		P:        p,
		T:        T,
		N:        N,
		K:        K,
		Prior:    prior,
		Post:     post,
		Ident:    ident,
		VarNames: names,
	}, nil
}
