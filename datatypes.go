// Project: Bayesian Estimation of SVARs under Zero, Sign, and Narrative Restrictions
// Method: Arias, Rubio-Ramirez & Waggoner (2018) importance sampler, extended with
// the narrative restrictions of Antolin-Diaz & Rubio-Ramirez (2018)

package main

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// Simple struct for time series data
type TimeSeries struct {
	// Matrix for data, T rows and N variables
	Y *mat.Dense
	// Tracks number of time points, basically rows
	Time []float64
	// List of variable Names
	VarNames []string
}

// PriorSpec is the conjugate Normal-Inverse-Wishart prior on (B, Sigma).
// vec(B) | Sigma ~ N(vec(B0), Sigma kron V0) and Sigma ~ IW(S0, Nu0).
type PriorSpec struct {
	// Prior mean of the reduced-form coefficients (K x N)
	B0 *mat.Dense
	// Prior row covariance of the coefficients (K x K, SPD)
	V0 *mat.SymDense
	// Prior scale of the error covariance (N x N, SPD)
	S0 *mat.SymDense
	// Prior degrees of freedom, must exceed N-1
	Nu0 float64
}

// PosteriorHyper holds the NIW posterior hyperparameters. Computed once per
// estimation and read-only afterwards; every sampling worker shares it.
type PosteriorHyper struct {
	// Posterior coefficient mean (K x N)
	B *mat.Dense
	// Posterior row covariance (K x K)
	V *mat.SymDense
	// Its inverse, kept because the posterior scale update needs it
	Vinv *mat.SymDense
	// Posterior scale matrix (N x N)
	S *mat.SymDense
	// Posterior degrees of freedom
	Nu float64
}

// ReducedFormDraw is one sample from the NIW posterior.
type ReducedFormDraw struct {
	// Coefficients (K x N): lag blocks stacked, constant in the last row
	B *mat.Dense
	// Error covariance (N x N), SPD by construction of the sampler
	Sigma *mat.SymDense
}

// StructuralDraw is the structural parameterization (A0, A+) of a draw.
// The model is y_t A0 = x_t A+ + eps_t with eps_t ~ N(0, I).
type StructuralDraw struct {
	// Contemporaneous structural matrix (N x N, invertible)
	A0 *mat.Dense
	// Lagged structural coefficients (K x N)
	APlus *mat.Dense
}

// WeightedDraw couples a structural draw with everything the resampler and
// the reporting side need. Each instance owns its matrices outright.
type WeightedDraw struct {
	Structural StructuralDraw
	Reduced    ReducedFormDraw
	// The orthogonal rotation that produced the draw (N x N)
	Q *mat.Dense
	// Importance weight in log scale; only exponentiated at resampling time
	LogWeight float64
	// Set when a narrative restriction had zero Monte-Carlo successes and the
	// weight had to fall back on the regularizing epsilon
	NarrativeLowConfidence bool
}

// What kind of narrative restriction a row imposes
type NarrativeKind int

const (
	// The structural shock itself must have the required sign over the window
	NarrativeSignOfShock NarrativeKind = iota
	// The shock must be the overwhelming (RequiredSign > 0) or a negligible
	// (RequiredSign < 0) contributor to the unexpected change in DataColumn
	NarrativeContribution
)

// NarrativeRestriction pins down one structural shock over a historical window.
// Periods index rows of the effective sample (the first usable row after the
// p initial lags is period 0); the window is inclusive on both ends.
type NarrativeRestriction struct {
	Kind         NarrativeKind
	ShockIndex   int
	RequiredSign float64
	PeriodStart  int
	PeriodEnd    int
	// Observed variable the contribution kind refers to; ignored for the
	// sign-of-shock kind
	DataColumn int
}

// IdentificationSpec bundles all restriction inputs for one estimation.
type IdentificationSpec struct {
	// N x N 0/1 matrix; entry (i,j) = 1 forces the contemporaneous response of
	// variable i to shock j to zero
	ZeroIRF *mat.Dense
	// One N x N matrix per horizon, entries in {-1, 0, +1}; SignIRF[h] entry
	// (i,j) constrains the response of variable i to shock j at horizon h
	SignIRF []*mat.Dense
	// Narrative restrictions, applied after zero/sign acceptance
	Narrative []NarrativeRestriction
}

// SamplerOptions controls the importance-sampling run.
type SamplerOptions struct {
	// Number of accepted draws to accumulate before resampling
	NKeep int
	// Size of the final resampled posterior set; defaults to NKeep
	FinalSize int
	// Cap on candidate draws; guards against restriction sets with near-zero
	// acceptance probability
	MaxAttempts int
	// Worker goroutines; 0 means GOMAXPROCS
	Workers int
	// Top-level seed; every attempt derives its own substream from it
	Seed int64
	// Monte-Carlo paths per narrative restriction per accepted draw
	NarrativeSims int
	// Attempts evaluated per parallel batch; 0 picks a default
	ChunkSize int
	// Jacobian implementation for the volume element; nil means central
	// finite differences
	Differentiator Differentiator
}

// Diagnostics reports how the rejection loop went.
type Diagnostics struct {
	Attempts       int
	Accepted       int
	AcceptanceRate float64
	// Indices (into the accepted pool) of draws whose narrative weight was
	// computed with zero Monte-Carlo successes
	LowConfidenceNarrative []int
}

// PosteriorSample is the final output of the engine: the resampled draw set.
type PosteriorSample struct {
	// Resampled draws, FinalSize of them, with replacement
	Draws []WeightedDraw
	// Index into the accepted pool each final draw was taken from
	Indices []int
	// The accepted pool before resampling, kept for diagnostics and reweighting
	Pool []WeightedDraw
	Diag Diagnostics
}

// IRFCube holds Theta_0 ... Theta_H for one draw.
// Theta[h].At(i, j) is the response of variable i to structural shock j.
type IRFCube struct {
	H     int
	Theta []*mat.Dense
}

// FEVDCube holds variance-decomposition shares for horizons 1..H.
// Share[h-1].At(i, j) is the share of variable i's h-step forecast-error
// variance attributed to shock j; every row sums to one.
type FEVDCube struct {
	H     int
	Share []*mat.Dense
}

// BSVAR ties the data, prior, posterior and identification together.
type BSVAR struct {
	// Effective sample: Y is (T x N), X is (T x K) with K = N*p + 1
	Y *mat.Dense
	X *mat.Dense
	// Lag order
	P int
	// Dimensions of the effective sample
	T, N, K int
	Prior   PriorSpec
	Post    *PosteriorHyper
	Ident   IdentificationSpec
	// Names carried through to the CSV outputs
	VarNames []string
}

// Differentiator computes the Jacobian of a vector-valued map at x. The weight
// computation is agnostic to how derivatives are obtained; swap in an analytic
// implementation where one is available.
type Differentiator interface {
	// f writes its outDim outputs into out; the returned Jacobian is
	// outDim x len(x)
	Jacobian(f func(out, x []float64), x []float64, outDim int) *mat.Dense
}

// --- Fatal error types ---

// NumericalError: a matrix that must be SPD or invertible is not.
type NumericalError struct {
	Op  string
	Err error
}

func (e *NumericalError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("numerical error in %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("numerical error in %s", e.Op)
}

func (e *NumericalError) Unwrap() error { return e.Err }

// ValidationError: the restriction specification is internally contradictory.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string {
	return "invalid restriction specification: " + e.Msg
}

// InfeasibleRestriction: the null space for a shock's Q column is empty, so
// the zero restrictions over-identify that shock.
type InfeasibleRestriction struct {
	Shock int
}

func (e *InfeasibleRestriction) Error() string {
	return fmt.Sprintf("zero restrictions over-identify shock %d: empty null space", e.Shock)
}

// ConvergenceError: the attempt cap was hit before NKeep draws were accepted.
type ConvergenceError struct {
	Attempts int
	Accepted int
	Target   int
}

func (e *ConvergenceError) Error() string {
	rate := 0.0
	if e.Attempts > 0 {
		rate = float64(e.Accepted) / float64(e.Attempts)
	}
	return fmt.Sprintf("rejection sampling exhausted: %d accepted of %d attempts (acceptance rate %.2e, target %d)",
		e.Accepted, e.Attempts, rate, e.Target)
}
