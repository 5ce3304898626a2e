// Package fhe wraps the CKKS primitives used on both sides of the trust boundary:
// parameter presets, key generation, encryption/decryption on the front, and the
// homomorphic logistic-regression circuit run by the blind server.
package fhe

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/tuneinsight/lattigo/v6/schemes/ckks"

	"github.com/blindrisk/fhecredit/internal/common"
)

const (
	DefaultLogN     = 14
	DefaultLogScale = 40

	// linear layer (1) + degree-7 sigmoid (4)
	RequiredLevels = LinearDepth + SigmoidDepth
	LinearDepth    = 1
)

// Preset selects a CKKS parameter set. It is part of the public model artifact.
type Preset struct {
	LogN     int `json:"log_n" cbor:"1,keyasint"`
	LogScale int `json:"log_scale" cbor:"2,keyasint"`
}

func DefaultPreset() Preset {
	return Preset{LogN: DefaultLogN, LogScale: DefaultLogScale}
}

func (p Preset) String() string {
	return fmt.Sprintf("logN=%d logScale=%d", p.LogN, p.LogScale)
}

// Params returns CKKS parameters for the preset. Every rescaling modulus has the
// bit size of the default scale so that scales stay stable across rescales.
func (p Preset) Params() (ckks.Parameters, error) {
	var params ckks.Parameters

	if p.LogScale < 30 || p.LogScale > 50 {
		return params, errors.WithMessagef(common.ErrUnsupportedParams, "logScale %d outside [30, 50]", p.LogScale)
	}

	var (
		logQ0  int
		levels int
		logP   []int
	)
	switch p.LogN {
	case 14:
		logQ0, levels, logP = 55, 6, []int{45, 45}
	case 15:
		logQ0, levels, logP = 60, 8, []int{50, 50}
	default:
		return params, errors.WithMessagef(common.ErrUnsupportedParams, "unsupported logN: %d (use 14 or 15)", p.LogN)
	}

	logQ := make([]int, 0, levels+1)
	logQ = append(logQ, logQ0)
	for i := 0; i < levels; i++ {
		logQ = append(logQ, p.LogScale)
	}

	params, err := ckks.NewParametersFromLiteral(ckks.ParametersLiteral{
		LogN:            p.LogN,
		LogQ:            logQ,
		LogP:            logP,
		LogDefaultScale: p.LogScale,
	})
	if err != nil {
		return params, errors.WithMessagef(common.ErrUnsupportedParams, "failed to create parameters: %v", err)
	}

	if params.MaxLevel() < RequiredLevels {
		return params, errors.WithMessagef(common.ErrUnsupportedParams,
			"preset %s has %d levels, circuit needs %d", p, params.MaxLevel(), RequiredLevels)
	}

	return params, nil
}

// CheckFeatures reports whether numFeatures slots fit in one ciphertext.
func CheckFeatures(params ckks.Parameters, numFeatures int) error {
	if numFeatures <= 0 {
		return errors.WithMessage(common.ErrInvalidArtifact, "model has no features")
	}
	if numFeatures > params.MaxSlots() {
		return errors.WithMessagef(common.ErrUnsupportedParams,
			"%d features exceed %d slots", numFeatures, params.MaxSlots())
	}
	return nil
}
