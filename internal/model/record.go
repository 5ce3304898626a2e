package model

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/blindrisk/fhecredit/internal/common"
)

// Record is one raw applicant row keyed by column name. Numeric columns hold
// float64 (or a string/json.Number that parses as one), categorical columns hold strings.
type Record map[string]any

// Float returns a finite numeric field. NaN and ±Inf are rejected whatever
// their encoding.
func (r Record) Float(col string) (float64, error) {
	f, err := r.rawFloat(col)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, errors.WithMessagef(common.ErrInvalidInput, "field %q is not finite: %v", col, f)
	}
	return f, nil
}

func (r Record) rawFloat(col string) (float64, error) {
	v, ok := r[col]
	if !ok || v == nil {
		return 0, errors.WithMessagef(common.ErrInvalidInput, "missing numeric field %q", col)
	}

	switch t := v.(type) {
	case float64:
		return t, nil
	case float32:
		return float64(t), nil
	case int:
		return float64(t), nil
	case int64:
		return float64(t), nil
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return 0, errors.WithMessagef(common.ErrInvalidInput, "field %q: %v", col, err)
		}
		return f, nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return 0, errors.WithMessagef(common.ErrInvalidInput, "field %q is not a number: %q", col, t)
		}
		return f, nil
	default:
		return 0, errors.WithMessagef(common.ErrInvalidInput, "field %q has type %T, want number", col, v)
	}
}

func (r Record) String(col string) (string, error) {
	v, ok := r[col]
	if !ok || v == nil {
		return "", errors.WithMessagef(common.ErrInvalidInput, "missing categorical field %q", col)
	}
	s, ok := v.(string)
	if !ok {
		return "", errors.WithMessagef(common.ErrInvalidInput, "field %q has type %T, want string", col, v)
	}
	return s, nil
}

// Validate checks every schema column is present with the right kind of value.
func (r Record) Validate(s Schema) error {
	for _, col := range s.CatCols {
		if _, err := r.String(col); err != nil {
			return err
		}
	}
	for _, col := range s.NumCols {
		if _, err := r.Float(col); err != nil {
			return err
		}
	}
	return nil
}
