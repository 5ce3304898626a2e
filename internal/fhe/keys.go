package fhe

import (
	"encoding/hex"
	"fmt"
	"sync"

	"github.com/pkg/errors"
	"github.com/tuneinsight/lattigo/v6/core/rlwe"
	"github.com/tuneinsight/lattigo/v6/schemes/ckks"
	"github.com/zeebo/blake3"

	"github.com/blindrisk/fhecredit/internal/common"
)

const fingerprintDomain = "fhecredit-evk-v1"

// KeyChain is the front's key material. The secret key never leaves this type
// except through SecretKeyBytes, which only the keystore calls.
type KeyChain struct {
	params      ckks.Parameters
	numFeatures int
	sk          *rlwe.SecretKey
	evk         *rlwe.MemEvaluationKeySet

	// mu guards the encoder, encryptor and decryptor buffers
	mu        sync.Mutex
	encoder   *ckks.Encoder
	encryptor *rlwe.Encryptor
	decryptor *rlwe.Decryptor
}

// GaloisElements returns the rotations InnerSum needs to fold numFeatures slots into slot 0.
func GaloisElements(params ckks.Parameters, numFeatures int) []uint64 {
	return params.GaloisElementsForInnerSum(1, numFeatures)
}

// GenerateKeyChain creates a fresh secret key with the relinearization key and
// the Galois keys the logistic circuit needs for numFeatures inputs.
func GenerateKeyChain(params ckks.Parameters, numFeatures int) (*KeyChain, error) {
	if err := CheckFeatures(params, numFeatures); err != nil {
		return nil, err
	}

	kgen := rlwe.NewKeyGenerator(params)
	sk := kgen.GenSecretKeyNew()
	rlk := kgen.GenRelinearizationKeyNew(sk)
	gks := kgen.GenGaloisKeysNew(GaloisElements(params, numFeatures), sk)

	return newKeyChain(params, numFeatures, sk, rlwe.NewMemEvaluationKeySet(rlk, gks...)), nil
}

// LoadKeyChain restores a key chain from its serialized secret key and evaluation keys.
func LoadKeyChain(params ckks.Parameters, numFeatures int, skBytes, evkBytes []byte) (*KeyChain, error) {
	if err := CheckFeatures(params, numFeatures); err != nil {
		return nil, err
	}

	sk := rlwe.NewSecretKey(params)
	if err := unmarshalBinary("secret key", sk.UnmarshalBinary, skBytes); err != nil {
		return nil, err
	}
	if n := sk.Value.Q.N(); n != params.N() {
		return nil, errors.WithMessagef(common.ErrMalformedPayload, "secret key ring degree %d, want %d", n, params.N())
	}

	evk, err := UnmarshalEvaluationKeys(params, numFeatures, evkBytes)
	if err != nil {
		return nil, err
	}

	return newKeyChain(params, numFeatures, sk, evk), nil
}

func newKeyChain(params ckks.Parameters, numFeatures int, sk *rlwe.SecretKey, evk *rlwe.MemEvaluationKeySet) *KeyChain {
	return &KeyChain{
		params:      params,
		numFeatures: numFeatures,
		sk:          sk,
		evk:         evk,
		encoder:     ckks.NewEncoder(params),
		encryptor:   rlwe.NewEncryptor(params, sk),
		decryptor:   rlwe.NewDecryptor(params, sk),
	}
}

func (k *KeyChain) Params() ckks.Parameters {
	return k.params
}

func (k *KeyChain) NumFeatures() int {
	return k.numFeatures
}

func (k *KeyChain) SecretKeyBytes() ([]byte, error) {
	b, err := k.sk.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("failed to serialize secret key: %v", err)
	}
	return b, nil
}

// EvaluationKeyBytes serializes the public evaluation material sent with every request.
func (k *KeyChain) EvaluationKeyBytes() ([]byte, error) {
	b, err := k.evk.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("failed to serialize evaluation keys: %v", err)
	}
	return b, nil
}

// UnmarshalEvaluationKeys decodes an evaluation key set and checks it carries
// everything the circuit needs for numFeatures inputs.
func UnmarshalEvaluationKeys(params ckks.Parameters, numFeatures int, b []byte) (*rlwe.MemEvaluationKeySet, error) {
	evk := rlwe.NewMemEvaluationKeySet(nil)
	if err := unmarshalBinary("evaluation keys", evk.UnmarshalBinary, b); err != nil {
		return nil, err
	}

	if _, err := evk.GetRelinearizationKey(); err != nil {
		return nil, errors.WithMessage(common.ErrMalformedPayload, "evaluation keys lack a relinearization key")
	}
	for _, galEl := range GaloisElements(params, numFeatures) {
		if _, err := evk.GetGaloisKey(galEl); err != nil {
			return nil, errors.WithMessagef(common.ErrMalformedPayload, "evaluation keys lack galois key %d", galEl)
		}
	}

	return evk, nil
}

// Fingerprint identifies serialized evaluation keys without revealing them.
func Fingerprint(evkBytes []byte) string {
	h := blake3.New()
	_, _ = h.WriteString(fingerprintDomain)
	_, _ = h.Write(evkBytes)
	return hex.EncodeToString(h.Sum(nil)[:16])
}
