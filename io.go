// Project: Bayesian Estimation of SVARs under Zero, Sign, and Narrative Restrictions
// Method: Arias, Rubio-Ramirez & Waggoner (2018) importance sampler, extended with
// the narrative restrictions of Antolin-Diaz & Rubio-Ramirez (2018)

package main

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"

	"gonum.org/v1/gonum/mat"
	"gopkg.in/yaml.v3"
)

// LoadCSVToTimeSeries loads a CSV file (header row of variable names, one
// observation per row) into a TimeSeries struct.
func LoadCSVToTimeSeries(path string) (*TimeSeries, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.TrimLeadingSpace = true

	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	if len(header) == 0 {
		return nil, fmt.Errorf("empty header in %s", path)
	}
	N := len(header)

	var (
		data  []float64
		times []float64
		row   int
	)

	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read row %d: %w", row+2, err)
		}
		if len(record) == 1 && record[0] == "" {
			continue
		}
		if len(record) != N {
			return nil, fmt.Errorf("row %d: expected %d columns, got %d", row+2, N, len(record))
		}

		for j, s := range record {
			v, err := strconv.ParseFloat(s, 64)
			if err != nil {
				return nil, fmt.Errorf("parse float at row %d col %d (%q): %w", row+2, j+1, s, err)
			}
			data = append(data, v)
		}
		times = append(times, float64(row))
		row++
	}

	if row == 0 {
		return nil, fmt.Errorf("no data rows in %s", path)
	}

	return &TimeSeries{
		Y:        mat.NewDense(row, N, data),
		Time:     times,
		VarNames: header,
	}, nil
}

// YAML shape of an identification file
type identFile struct {
	ZeroIRF [][]float64 `yaml:"zero_irf"`
	SignIRF []struct {
		Horizon int         `yaml:"horizon"`
		Signs   [][]float64 `yaml:"signs"`
	} `yaml:"sign_irf"`
	Narrative []struct {
		Kind        string  `yaml:"kind"`
		Shock       int     `yaml:"shock"`
		Sign        float64 `yaml:"sign"`
		PeriodStart int     `yaml:"period_start"`
		PeriodEnd   int     `yaml:"period_end"`
		DataColumn  int     `yaml:"data_column"`
	} `yaml:"narrative"`
}

func matrixFromRows(rows [][]float64, what string) (*mat.Dense, error) {
	if len(rows) == 0 {
		return nil, nil
	}
	r := len(rows)
	c := len(rows[0])
	M := mat.NewDense(r, c, nil)
	for i, row := range rows {
		if len(row) != c {
			return nil, fmt.Errorf("%s: row %d has %d entries, expected %d", what, i, len(row), c)
		}
		for j, v := range row {
			M.Set(i, j, v)
		}
	}
	return M, nil
}

// LoadIdentificationFromYAML reads zero, sign, and narrative restrictions
// from a YAML file. Dimensional and consistency checks happen later, in
// NewBSVAR, where N and T are known.
func LoadIdentificationFromYAML(path string) (IdentificationSpec, error) {
	var spec IdentificationSpec

	raw, err := os.ReadFile(path)
	if err != nil {
		return spec, fmt.Errorf("open %s: %w", path, err)
	}

	var file identFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return spec, fmt.Errorf("parse %s: %w", path, err)
	}

	spec.ZeroIRF, err = matrixFromRows(file.ZeroIRF, "zero_irf")
	if err != nil {
		return spec, err
	}

	maxH := -1
	for _, s := range file.SignIRF {
		if s.Horizon > maxH {
			maxH = s.Horizon
		}
	}
	if maxH >= 0 {
		spec.SignIRF = make([]*mat.Dense, maxH+1)
		for _, s := range file.SignIRF {
			if s.Horizon < 0 {
				return spec, fmt.Errorf("sign_irf: horizon must be >= 0, got %d", s.Horizon)
			}
			M, err := matrixFromRows(s.Signs, fmt.Sprintf("sign_irf horizon %d", s.Horizon))
			if err != nil {
				return spec, err
			}
			spec.SignIRF[s.Horizon] = M
		}
	}

	for i, n := range file.Narrative {
		var kind NarrativeKind
		switch n.Kind {
		case "", "sign_of_shock":
			kind = NarrativeSignOfShock
		case "contribution":
			kind = NarrativeContribution
		default:
			return spec, fmt.Errorf("narrative %d: unknown kind %q", i, n.Kind)
		}
		spec.Narrative = append(spec.Narrative, NarrativeRestriction{
			Kind:         kind,
			ShockIndex:   n.Shock,
			RequiredSign: n.Sign,
			PeriodStart:  n.PeriodStart,
			PeriodEnd:    n.PeriodEnd,
			DataColumn:   n.DataColumn,
		})
	}

	return spec, nil
}

// OutputIRFBandsToCSV writes posterior IRF bands to CSV in long format.
// Columns: ShockVar, ResponseVar, Horizon, Median, Lower, Upper
func OutputIRFBandsToCSV(path string, bands *BandSet, varNames []string) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{"ShockVar", "ResponseVar", "Horizon", "Median", "Lower", "Upper"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for h := range bands.Median {
		r, c := bands.Median[h].Dims()
		for j := 0; j < c; j++ {
			for i := 0; i < r; i++ {
				record := []string{
					varNames[j],
					varNames[i],
					fmt.Sprintf("%d", h),
					fmt.Sprintf("%f", bands.Median[h].At(i, j)),
					fmt.Sprintf("%f", bands.Lower[h].At(i, j)),
					fmt.Sprintf("%f", bands.Upper[h].At(i, j)),
				}
				if err := writer.Write(record); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// OutputFEVDBandsToCSV writes variance-decomposition bands to CSV.
// Columns: ShockVar, ResponseVar, Horizon, Median, Lower, Upper; horizons
// start at 1.
func OutputFEVDBandsToCSV(path string, bands *BandSet, varNames []string) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{"ShockVar", "ResponseVar", "Horizon", "Median", "Lower", "Upper"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for h := range bands.Median {
		r, c := bands.Median[h].Dims()
		for j := 0; j < c; j++ {
			for i := 0; i < r; i++ {
				record := []string{
					varNames[j],
					varNames[i],
					fmt.Sprintf("%d", h+1),
					fmt.Sprintf("%f", bands.Median[h].At(i, j)),
					fmt.Sprintf("%f", bands.Lower[h].At(i, j)),
					fmt.Sprintf("%f", bands.Upper[h].At(i, j)),
				}
				if err := writer.Write(record); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// OutputShockPathsToCSV writes historical structural shock bands to CSV.
// Columns: Shock, Period, Median, Lower, Upper
func OutputShockPathsToCSV(path string, bands *BandSet, varNames []string) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{"Shock", "Period", "Median", "Lower", "Upper"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for t := range bands.Median {
		_, N := bands.Median[t].Dims()
		for n := 0; n < N; n++ {
			record := []string{
				fmt.Sprintf("Shock_%s", varNames[n]),
				fmt.Sprintf("%d", t),
				fmt.Sprintf("%f", bands.Median[t].At(0, n)),
				fmt.Sprintf("%f", bands.Lower[t].At(0, n)),
				fmt.Sprintf("%f", bands.Upper[t].At(0, n)),
			}
			if err := writer.Write(record); err != nil {
				return err
			}
		}
	}
	return nil
}

// PrintPosteriorSummary produces a summary table of the estimation and the
// sampling run.
func (m *BSVAR) PrintPosteriorSummary(sample *PosteriorSample) {
	fmt.Println("      Bayesian SVAR Posterior Summary      ")
	fmt.Printf("Number of variables (N): %d\n", m.N)
	fmt.Printf("Lag order (p):           %d\n", m.P)
	fmt.Printf("Effective sample (T):    %d\n", m.T)
	fmt.Printf("Regressors (K):          %d\n", m.K)
	fmt.Println()

	fmt.Println("Identification:")
	nZero := len(zeroPositions(m.Ident.ZeroIRF))
	nSign := 0
	for _, S := range m.Ident.SignIRF {
		if S == nil {
			continue
		}
		r, c := S.Dims()
		for i := 0; i < r; i++ {
			for j := 0; j < c; j++ {
				if S.At(i, j) != 0 {
					nSign++
				}
			}
		}
	}
	fmt.Printf("  Zero restrictions:      %d\n", nZero)
	fmt.Printf("  Sign restrictions:      %d\n", nSign)
	fmt.Printf("  Narrative restrictions: %d\n", len(m.Ident.Narrative))
	fmt.Println()

	fmt.Println("Sampling:")
	fmt.Printf("  Attempts:        %d\n", sample.Diag.Attempts)
	fmt.Printf("  Accepted:        %d\n", sample.Diag.Accepted)
	fmt.Printf("  Acceptance rate: %.4f\n", sample.Diag.AcceptanceRate)
	if n := len(sample.Diag.LowConfidenceNarrative); n > 0 {
		fmt.Printf("  WARNING: %d draws carry low-confidence narrative weights\n", n)
	}
	fmt.Println()

	fmt.Println("Posterior coefficient mean Bbar:")
	fmt.Printf("%v\n", mat.Formatted(m.Post.B, mat.Prefix("  ")))
	fmt.Println()
	fmt.Println("Posterior scale matrix Sbar:")
	fmt.Printf("%v\n", mat.Formatted(m.Post.S, mat.Prefix("  ")))
	fmt.Println("===========================================")
}

// PrintIRFBands prints the median IRF of one shock: one row per horizon,
// one column per responding variable.
func PrintIRFBands(bands *BandSet, varNames []string, shockIndex int) {
	fmt.Printf("\n=== Posterior IRF: shock to %s ===\n", varNames[shockIndex])
	fmt.Printf("h\t")
	for _, name := range varNames {
		fmt.Printf("%12s", name)
	}
	fmt.Println()

	for h := range bands.Median {
		fmt.Printf("%d\t", h)
		r, _ := bands.Median[h].Dims()
		for i := 0; i < r; i++ {
			fmt.Printf("%12.6f", bands.Median[h].At(i, shockIndex))
		}
		fmt.Println()
	}
}
