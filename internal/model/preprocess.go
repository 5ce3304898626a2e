package model

import (
	"math"
	"sort"

	"github.com/pkg/errors"

	"github.com/blindrisk/fhecredit/internal/common"
)

// Preprocessor one-hot encodes the categorical columns (categories sorted, unknown
// values map to an all-zero block) and standardizes the numeric columns after
// clipping them to the training range. Output order is every one-hot block in
// CatCols order, then NumCols.
type Preprocessor struct {
	CatCols    []string   `json:"cat_cols"`
	Categories [][]string `json:"categories"`
	NumCols    []string   `json:"num_cols"`
	Mean       []float64  `json:"mean"`
	Scale      []float64  `json:"scale"`
	Min        []float64  `json:"min"`
	Max        []float64  `json:"max"`
}

// FitPreprocessor learns categories and scaler statistics from training rows.
func FitPreprocessor(s Schema, rows []Record) (*Preprocessor, error) {
	if len(rows) == 0 {
		return nil, errors.New("cannot fit preprocessor on zero rows")
	}

	p := &Preprocessor{
		CatCols:    append([]string(nil), s.CatCols...),
		Categories: make([][]string, len(s.CatCols)),
		NumCols:    append([]string(nil), s.NumCols...),
		Mean:       make([]float64, len(s.NumCols)),
		Scale:      make([]float64, len(s.NumCols)),
		Min:        make([]float64, len(s.NumCols)),
		Max:        make([]float64, len(s.NumCols)),
	}

	for j, col := range s.CatCols {
		seen := make(map[string]struct{})
		for i, r := range rows {
			v, err := r.String(col)
			if err != nil {
				return nil, errors.WithMessagef(err, "row %d", i)
			}
			seen[v] = struct{}{}
		}
		cats := make([]string, 0, len(seen))
		for v := range seen {
			cats = append(cats, v)
		}
		sort.Strings(cats)
		p.Categories[j] = cats
	}

	n := float64(len(rows))
	for j, col := range s.NumCols {
		var sum, sumSq float64
		lo, hi := math.Inf(1), math.Inf(-1)
		for i, r := range rows {
			v, err := r.Float(col)
			if err != nil {
				return nil, errors.WithMessagef(err, "row %d", i)
			}
			sum += v
			sumSq += v * v
			lo, hi = math.Min(lo, v), math.Max(hi, v)
		}
		mean := sum / n
		variance := sumSq/n - mean*mean
		scale := math.Sqrt(math.Max(variance, 0))
		if scale < 1e-12 {
			scale = 1
		}
		p.Mean[j] = mean
		p.Scale[j] = scale
		p.Min[j] = lo
		p.Max[j] = hi
	}

	return p, nil
}

func (p *Preprocessor) NumFeatures() int {
	n := len(p.NumCols)
	for _, cats := range p.Categories {
		n += len(cats)
	}
	return n
}

// FeatureNames names the output columns, e.g. "checking_status_<0" or "duration".
func (p *Preprocessor) FeatureNames() []string {
	names := make([]string, 0, p.NumFeatures())
	for j, col := range p.CatCols {
		for _, c := range p.Categories[j] {
			names = append(names, col+"_"+c)
		}
	}
	return append(names, p.NumCols...)
}

// Transform maps one raw record to its feature vector. It is a pure function of
// the record and the fitted state.
func (p *Preprocessor) Transform(r Record) ([]float64, error) {
	out := make([]float64, 0, p.NumFeatures())

	for j, col := range p.CatCols {
		v, err := r.String(col)
		if err != nil {
			return nil, err
		}
		for _, c := range p.Categories[j] {
			if c == v {
				out = append(out, 1)
			} else {
				out = append(out, 0)
			}
		}
	}

	for j, col := range p.NumCols {
		v, err := r.Float(col)
		if err != nil {
			return nil, err
		}
		v = math.Max(p.Min[j], math.Min(p.Max[j], v))
		out = append(out, (v-p.Mean[j])/p.Scale[j])
	}

	return out, nil
}

// LogitBound returns the largest |w·x + b| the model can produce on any output
// of Transform. A one-hot block contributes its largest weight, a numeric
// column its weight times the farthest clipped value.
func (p *Preprocessor) LogitBound(m LogisticRegression) float64 {
	bound := math.Abs(m.Bias)
	i := 0
	for _, cats := range p.Categories {
		var block float64
		for range cats {
			block = math.Max(block, math.Abs(m.Weights[i]))
			i++
		}
		bound += block
	}
	for j := range p.NumCols {
		reach := math.Max(math.Abs(p.Min[j]-p.Mean[j]), math.Abs(p.Max[j]-p.Mean[j])) / p.Scale[j]
		bound += math.Abs(m.Weights[i]) * reach
		i++
	}
	return bound
}

func (p *Preprocessor) TransformAll(rows []Record) ([][]float64, error) {
	X := make([][]float64, len(rows))
	for i, r := range rows {
		x, err := p.Transform(r)
		if err != nil {
			return nil, errors.WithMessagef(err, "row %d", i)
		}
		X[i] = x
	}
	return X, nil
}

func (p *Preprocessor) validate() error {
	if len(p.Categories) != len(p.CatCols) {
		return errors.WithMessagef(common.ErrInvalidArtifact,
			"%d category lists for %d categorical columns", len(p.Categories), len(p.CatCols))
	}
	for _, stat := range [][]float64{p.Mean, p.Scale, p.Min, p.Max} {
		if len(stat) != len(p.NumCols) {
			return errors.WithMessage(common.ErrInvalidArtifact, "scaler statistics do not match numeric columns")
		}
	}
	for j, s := range p.Scale {
		if s == 0 || math.IsNaN(s) {
			return errors.WithMessagef(common.ErrInvalidArtifact, "scale of %q is %v", p.NumCols[j], s)
		}
		if !(p.Min[j] <= p.Max[j]) {
			return errors.WithMessagef(common.ErrInvalidArtifact, "range of %q is [%v, %v]", p.NumCols[j], p.Min[j], p.Max[j])
		}
	}
	return nil
}
