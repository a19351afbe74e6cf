// Project: Bayesian Estimation of SVARs under Zero, Sign, and Narrative Restrictions
// Method: Arias, Rubio-Ramirez & Waggoner (2018) importance sampler, extended with
// the narrative restrictions of Antolin-Diaz & Rubio-Ramirez (2018)

package main

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

// ============================================================================
// CSV LOADER TESTS
// ============================================================================

func TestLoadCSVToTimeSeries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.csv")
	content := "gdp,rate\n1.5,0.25\n1.7,0.50\n1.9,0.75\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	ts, err := LoadCSVToTimeSeries(path)
	require.NoError(t, err)

	r, c := ts.Y.Dims()
	if r != 3 || c != 2 {
		t.Fatalf("dims = %d x %d, want 3 x 2", r, c)
	}
	require.Equal(t, []string{"gdp", "rate"}, ts.VarNames)
	if ts.Y.At(1, 1) != 0.50 {
		t.Errorf("Y(1,1) = %v, want 0.50", ts.Y.At(1, 1))
	}
}

func TestLoadCSVToTimeSeriesErrors(t *testing.T) {
	dir := t.TempDir()

	if _, err := LoadCSVToTimeSeries(filepath.Join(dir, "missing.csv")); err == nil {
		t.Error("expected error for missing file")
	}

	bad := filepath.Join(dir, "bad.csv")
	require.NoError(t, os.WriteFile(bad, []byte("a,b\n1.0,not_a_number\n"), 0644))
	if _, err := LoadCSVToTimeSeries(bad); err == nil {
		t.Error("expected error for non-numeric cell")
	}

	empty := filepath.Join(dir, "empty.csv")
	require.NoError(t, os.WriteFile(empty, []byte("a,b\n"), 0644))
	if _, err := LoadCSVToTimeSeries(empty); err == nil {
		t.Error("expected error for a header-only file")
	}
}

// ============================================================================
// YAML IDENTIFICATION LOADER TESTS
// ============================================================================

func TestLoadIdentificationFromYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ident.yaml")
	content := `
zero_irf:
  - [1, 0]
  - [0, 0]
sign_irf:
  - horizon: 0
    signs:
      - [0, 1]
      - [1, 1]
  - horizon: 2
    signs:
      - [0, 0]
      - [0, 1]
narrative:
  - kind: sign_of_shock
    shock: 0
    sign: -1
    period_start: 10
    period_end: 12
  - kind: contribution
    shock: 1
    sign: 1
    period_start: 20
    period_end: 20
    data_column: 1
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	spec, err := LoadIdentificationFromYAML(path)
	require.NoError(t, err)

	require.NotNil(t, spec.ZeroIRF)
	if spec.ZeroIRF.At(0, 0) != 1 || spec.ZeroIRF.At(1, 1) != 0 {
		t.Error("zero_irf entries did not survive parsing")
	}

	require.Len(t, spec.SignIRF, 3)
	require.NotNil(t, spec.SignIRF[0])
	if spec.SignIRF[1] != nil {
		t.Error("unlisted horizon 1 should stay nil")
	}
	require.NotNil(t, spec.SignIRF[2])
	if spec.SignIRF[0].At(1, 0) != 1 || spec.SignIRF[2].At(1, 1) != 1 {
		t.Error("sign_irf entries did not survive parsing")
	}

	require.Len(t, spec.Narrative, 2)
	first := spec.Narrative[0]
	if first.Kind != NarrativeSignOfShock || first.ShockIndex != 0 || first.RequiredSign != -1 ||
		first.PeriodStart != 10 || first.PeriodEnd != 12 {
		t.Errorf("first narrative restriction parsed wrong: %+v", first)
	}
	second := spec.Narrative[1]
	if second.Kind != NarrativeContribution || second.DataColumn != 1 {
		t.Errorf("second narrative restriction parsed wrong: %+v", second)
	}
}

func TestLoadIdentificationBadKind(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ident.yaml")
	content := "narrative:\n  - kind: unknown_kind\n    shock: 0\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	if _, err := LoadIdentificationFromYAML(path); err == nil {
		t.Error("expected error for unknown narrative kind")
	}
}

func TestLoadIdentificationRaggedRows(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ident.yaml")
	content := "zero_irf:\n  - [1, 0]\n  - [0]\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	if _, err := LoadIdentificationFromYAML(path); err == nil {
		t.Error("expected error for ragged zero_irf rows")
	}
}

// ============================================================================
// OUTPUT WRITER TESTS
// ============================================================================

func testBandSet() *BandSet {
	mk := func(v float64) *mat.Dense {
		return mat.NewDense(2, 2, []float64{v, v + 1, v + 2, v + 3})
	}
	return &BandSet{
		Median: []*mat.Dense{mk(0), mk(10)},
		Lower:  []*mat.Dense{mk(-1), mk(9)},
		Upper:  []*mat.Dense{mk(1), mk(11)},
		Alpha:  0.05,
	}
}

func readCSV(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	return rows
}

func TestOutputIRFBandsToCSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "irf.csv")
	require.NoError(t, OutputIRFBandsToCSV(path, testBandSet(), []string{"y1", "y2"}))

	rows := readCSV(t, path)
	// Header plus 2 horizons x 2 shocks x 2 responses
	require.Len(t, rows, 9)
	require.Equal(t, []string{"ShockVar", "ResponseVar", "Horizon", "Median", "Lower", "Upper"}, rows[0])

	// First data row: shock y1, response y1, horizon 0, median 0
	require.Equal(t, "y1", rows[1][0])
	require.Equal(t, "y1", rows[1][1])
	require.Equal(t, "0", rows[1][2])
	require.Equal(t, "0.000000", rows[1][3])
}

func TestOutputFEVDBandsToCSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fevd.csv")
	require.NoError(t, OutputFEVDBandsToCSV(path, testBandSet(), []string{"y1", "y2"}))

	rows := readCSV(t, path)
	require.Len(t, rows, 9)
	// FEVD horizons start at 1
	require.Equal(t, "1", rows[1][2])
	require.Equal(t, "2", rows[5][2])
}

func TestOutputShockPathsToCSV(t *testing.T) {
	mk := func(v float64) *mat.Dense { return mat.NewDense(1, 2, []float64{v, v + 1}) }
	bands := &BandSet{
		Median: []*mat.Dense{mk(0), mk(10), mk(20)},
		Lower:  []*mat.Dense{mk(-1), mk(9), mk(19)},
		Upper:  []*mat.Dense{mk(1), mk(11), mk(21)},
		Alpha:  0.05,
	}

	path := filepath.Join(t.TempDir(), "shocks.csv")
	require.NoError(t, OutputShockPathsToCSV(path, bands, []string{"y1", "y2"}))

	rows := readCSV(t, path)
	// Header plus 3 periods x 2 shocks
	require.Len(t, rows, 7)
	require.Equal(t, []string{"Shock", "Period", "Median", "Lower", "Upper"}, rows[0])
	require.Equal(t, "Shock_y1", rows[1][0])
	require.Equal(t, "Shock_y2", rows[2][0])
	require.Equal(t, "2", rows[5][1])
}
