package fhe

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/tuneinsight/lattigo/v6/core/rlwe"
	"github.com/tuneinsight/lattigo/v6/schemes/ckks"

	"github.com/blindrisk/fhecredit/internal/common"
)

// Encrypt packs the feature vector into slots [0, d) of one ciphertext and serializes it.
func (k *KeyChain) Encrypt(features []float64) ([]byte, error) {
	if len(features) != k.numFeatures {
		return nil, errors.WithMessagef(common.ErrInvalidInput,
			"expected %d features, got %d", k.numFeatures, len(features))
	}

	k.mu.Lock()
	defer k.mu.Unlock()

	pt := ckks.NewPlaintext(k.params, k.params.MaxLevel())
	if err := k.encoder.Encode(features, pt); err != nil {
		return nil, fmt.Errorf("failed to encode features: %v", err)
	}

	ct, err := k.encryptor.EncryptNew(pt)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt features: %v", err)
	}

	ctBytes, err := ct.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("failed to serialize ciphertext: %v", err)
	}
	return ctBytes, nil
}

// Decrypt returns slot 0 of a serialized result ciphertext.
func (k *KeyChain) Decrypt(ctBytes []byte) (float64, error) {
	ct, err := UnmarshalCiphertext(k.params, ctBytes)
	if err != nil {
		return 0, err
	}

	k.mu.Lock()
	defer k.mu.Unlock()

	pt := k.decryptor.DecryptNew(ct)
	values := make([]float64, k.params.MaxSlots())
	if err := k.encoder.Decode(pt, values); err != nil {
		return 0, fmt.Errorf("failed to decode result: %v", err)
	}
	return values[0], nil
}

// UnmarshalCiphertext decodes a degree-1 ciphertext and checks it belongs to params.
// The level is restored from the serialized form.
func UnmarshalCiphertext(params ckks.Parameters, b []byte) (*rlwe.Ciphertext, error) {
	ct := new(rlwe.Ciphertext)
	if err := unmarshalBinary("ciphertext", ct.UnmarshalBinary, b); err != nil {
		return nil, err
	}

	if ct.Degree() != 1 {
		return nil, errors.WithMessagef(common.ErrMalformedPayload, "ciphertext degree %d, want 1", ct.Degree())
	}
	for _, poly := range ct.Value {
		if n := poly.N(); n != params.N() {
			return nil, errors.WithMessagef(common.ErrMalformedPayload, "ciphertext ring degree %d, want %d", n, params.N())
		}
		if poly.Level() != ct.Value[0].Level() {
			return nil, errors.WithMessagef(common.ErrMalformedPayload, "ciphertext polynomials at mixed levels")
		}
	}
	if ct.Level() < 0 || ct.Level() > params.MaxLevel() {
		return nil, errors.WithMessagef(common.ErrMalformedPayload, "invalid ciphertext level %d (max: %d)", ct.Level(), params.MaxLevel())
	}

	return ct, nil
}

// unmarshalBinary calls a lattigo decoder and reports both its errors and its
// panics on arbitrary input as common.ErrMalformedPayload.
func unmarshalBinary(what string, decode func([]byte) error, b []byte) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.WithMessagef(common.ErrMalformedPayload, "failed to deserialize %s: %v", what, r)
		}
	}()
	if err := decode(b); err != nil {
		return errors.WithMessagef(common.ErrMalformedPayload, "failed to deserialize %s: %v", what, err)
	}
	return nil
}
