package fhe

import (
	"math"
	"math/rand"
	"sync"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tuneinsight/lattigo/v6/core/rlwe"

	"github.com/blindrisk/fhecredit/internal/common"
)

const testFeatures = 12

var (
	testKeysOnce sync.Once
	testKeys     *KeyChain
	testKeysErr  error
)

// sharedKeyChain generates the Galois keys once for the whole package.
func sharedKeyChain(t *testing.T) *KeyChain {
	t.Helper()
	testKeysOnce.Do(func() {
		params, err := DefaultPreset().Params()
		if err != nil {
			testKeysErr = err
			return
		}
		testKeys, testKeysErr = GenerateKeyChain(params, testFeatures)
	})
	require.NoError(t, testKeysErr)
	return testKeys
}

func runCircuit(t *testing.T, keys *KeyChain, weights []float64, bias float64, x []float64) float64 {
	t.Helper()
	circuit, err := NewLogisticCircuit(keys.Params(), weights, bias, SigmoidBound)
	require.NoError(t, err)
	return runWith(t, keys, circuit, x)
}

func runWith(t *testing.T, keys *KeyChain, circuit *LogisticCircuit, x []float64) float64 {
	t.Helper()

	ct, err := keys.Encrypt(x)
	require.NoError(t, err)
	evk, err := keys.EvaluationKeyBytes()
	require.NoError(t, err)

	out, err := circuit.Run(ct, evk)
	require.NoError(t, err)

	p, err := keys.Decrypt(out)
	require.NoError(t, err)
	return p
}

func TestPresetParams(t *testing.T) {
	params, err := DefaultPreset().Params()
	require.NoError(t, err)
	assert.Equal(t, 1<<DefaultLogN, params.N())
	assert.GreaterOrEqual(t, params.MaxLevel(), RequiredLevels)

	params, err = Preset{LogN: 15, LogScale: 45}.Params()
	require.NoError(t, err)
	assert.GreaterOrEqual(t, params.MaxLevel(), RequiredLevels)
}

func TestPresetRejectsUnsupported(t *testing.T) {
	for _, p := range []Preset{{LogN: 12, LogScale: 40}, {LogN: 14, LogScale: 20}, {LogN: 14, LogScale: 60}} {
		_, err := p.Params()
		require.Error(t, err, p.String())
		assert.True(t, errors.Is(err, common.ErrUnsupportedParams), p.String())
	}
}

// TestSigmoidPolynomialAccuracy validates the hardcoded coefficients against the
// true sigmoid on 1000 points in [-8, 8].
func TestSigmoidPolynomialAccuracy(t *testing.T) {
	maxErr := MaxSigmoidError(SigmoidCoefficients(), 1000)
	t.Logf("sigmoid polynomial max error on [-8,8]: %e", maxErr)
	assert.Less(t, maxErr, 0.02)
}

func TestScaledSigmoidCoefficients(t *testing.T) {
	for _, tc := range []struct {
		bound  float64
		maxErr float64
	}{
		{bound: 8, maxErr: 0.04},
		{bound: 20, maxErr: 0.15},
		{bound: 40, maxErr: 0.3},
	} {
		coeffs := ScaledSigmoidCoefficients(tc.bound)
		require.Len(t, coeffs, 8)
		assert.Equal(t, 0.5, EvalPolynomialClear(coeffs, 0))

		for i := 0; i <= 1000; i++ {
			x := -tc.bound + 2*tc.bound*float64(i)/1000
			want := Sigmoid(x)
			got := math.Max(0, math.Min(1, EvalPolynomialClear(coeffs, x/tc.bound)))
			assert.InDelta(t, want, got, tc.maxErr, "bound %v x %v", tc.bound, x)
			if math.Abs(want-0.5) >= 0.3 {
				assert.Equal(t, want > 0.5, got > 0.5, "bound %v x %v flips the label", tc.bound, x)
			}
		}
	}
}

func TestNewLogisticCircuitRejectsBadBound(t *testing.T) {
	keys := sharedKeyChain(t)
	for _, b := range []float64{-1, math.NaN(), math.Inf(1)} {
		_, err := NewLogisticCircuit(keys.Params(), make([]float64, testFeatures), 0, b)
		assert.True(t, errors.Is(err, common.ErrInvalidArtifact), "bound %v", b)
	}
}

func TestEvalPolynomialClear(t *testing.T) {
	// 1 + 2x + 3x²
	assert.Equal(t, 17.0, EvalPolynomialClear([]float64{1, 2, 3}, 2))
	assert.Equal(t, 0.5, EvalPolynomialClear(SigmoidCoefficients(), 0))
}

func TestEncryptDecryptSlotZero(t *testing.T) {
	keys := sharedKeyChain(t)
	x := make([]float64, testFeatures)
	x[0] = 0.375

	ct, err := keys.Encrypt(x)
	require.NoError(t, err)

	v, err := keys.Decrypt(ct)
	require.NoError(t, err)
	assert.InDelta(t, 0.375, v, 1e-4)
}

func TestEncryptRejectsWrongLength(t *testing.T) {
	keys := sharedKeyChain(t)
	_, err := keys.Encrypt(make([]float64, testFeatures+1))
	require.Error(t, err)
	assert.True(t, errors.Is(err, common.ErrInvalidInput))
}

func TestLogisticCircuitMatchesClear(t *testing.T) {
	keys := sharedKeyChain(t)
	rng := rand.New(rand.NewSource(42))

	for trial := 0; trial < 3; trial++ {
		weights := make([]float64, testFeatures)
		x := make([]float64, testFeatures)
		for i := range weights {
			weights[i] = rng.Float64() - 0.5
			x[i] = 2*rng.Float64() - 1
		}
		bias := rng.Float64() - 0.5

		want := ClearProbability(weights, bias, x)
		got := runCircuit(t, keys, weights, bias, x)
		t.Logf("trial %d: clear=%.5f fhe=%.5f", trial, want, got)
		assert.InDelta(t, want, got, 0.05)
	}
}

func TestLogisticCircuitAllZeroFeatures(t *testing.T) {
	keys := sharedKeyChain(t)
	weights := make([]float64, testFeatures)
	for i := range weights {
		weights[i] = 0.1 * float64(i+1)
	}
	bias := -1.2

	got := runCircuit(t, keys, weights, bias, make([]float64, testFeatures))
	assert.InDelta(t, Sigmoid(bias), got, 0.05)
}

// A logit of 25 lies far outside [-8, 8], where the fixed polynomial diverges
// and reports a good applicant as bad. The scaled circuit keeps the label.
func TestLogisticCircuitWideLogit(t *testing.T) {
	keys := sharedKeyChain(t)
	weights := make([]float64, testFeatures)
	weights[0], weights[1] = 20, 10
	x := make([]float64, testFeatures)

	for _, tc := range []struct {
		x0, x1 float64
		bad    bool
	}{
		{x0: 1, x1: 0.5, bad: true},
		{x0: -1, x1: -0.5, bad: false},
		{x0: 0.5, x1: 0.5, bad: true},
	} {
		x[0], x[1] = tc.x0, tc.x1
		z := 20*tc.x0 + 10*tc.x1

		unscaled := EvalPolynomialClear(SigmoidCoefficients(), z)
		assert.NotEqual(t, tc.bad, unscaled > 0.5, "fixed polynomial at logit %v", z)

		circuit, err := NewLogisticCircuit(keys.Params(), weights, 0, 30)
		require.NoError(t, err)

		got := runWith(t, keys, circuit, x)
		t.Logf("logit %v: clear=%.5f fhe=%.5f", z, Sigmoid(z), got)
		assert.Equal(t, tc.bad, got > 0.5, "logit %v", z)
		assert.InDelta(t, circuit.Approximate(x), got, 0.01)
	}
}

func TestLogisticCircuitRejectsMalformed(t *testing.T) {
	keys := sharedKeyChain(t)
	circuit, err := NewLogisticCircuit(keys.Params(), make([]float64, testFeatures), 0, SigmoidBound)
	require.NoError(t, err)

	evk, err := keys.EvaluationKeyBytes()
	require.NoError(t, err)

	_, err = circuit.Run([]byte("not a ciphertext"), evk)
	assert.True(t, errors.Is(err, common.ErrMalformedPayload))

	ct, err := keys.Encrypt(make([]float64, testFeatures))
	require.NoError(t, err)

	_, err = circuit.Run(ct, []byte("not keys"))
	assert.True(t, errors.Is(err, common.ErrMalformedPayload))

	// keys for a different feature count lack the InnerSum rotations
	kgen := rlwe.NewKeyGenerator(keys.Params())
	rlkOnly := rlwe.NewMemEvaluationKeySet(kgen.GenRelinearizationKeyNew(keys.sk))
	rlkBytes, err := rlkOnly.MarshalBinary()
	require.NoError(t, err)

	_, err = circuit.Run(ct, rlkBytes)
	assert.True(t, errors.Is(err, common.ErrMalformedPayload))
}

func TestDecodersRejectGarbage(t *testing.T) {
	keys := sharedKeyChain(t)
	ct, err := keys.Encrypt(make([]float64, testFeatures))
	require.NoError(t, err)
	skBytes, err := keys.SecretKeyBytes()
	require.NoError(t, err)
	evkBytes, err := keys.EvaluationKeyBytes()
	require.NoError(t, err)

	for name, b := range map[string][]byte{
		"empty":     nil,
		"text":      []byte("not a ciphertext"),
		"truncated": ct[:len(ct)/2],
		"header":    ct[:16],
	} {
		_, err := keys.Decrypt(b)
		assert.True(t, errors.Is(err, common.ErrMalformedPayload), "decrypt %s: %v", name, err)

		_, err = UnmarshalEvaluationKeys(keys.Params(), testFeatures, b)
		assert.True(t, errors.Is(err, common.ErrMalformedPayload), "evaluation keys %s: %v", name, err)

		_, err = LoadKeyChain(keys.Params(), testFeatures, b, evkBytes)
		assert.True(t, errors.Is(err, common.ErrMalformedPayload), "secret key %s: %v", name, err)
	}

	_, err = LoadKeyChain(keys.Params(), testFeatures, skBytes[:len(skBytes)/3], evkBytes)
	assert.True(t, errors.Is(err, common.ErrMalformedPayload))
}

func TestLoadKeyChainRoundTrip(t *testing.T) {
	keys := sharedKeyChain(t)

	skBytes, err := keys.SecretKeyBytes()
	require.NoError(t, err)
	evkBytes, err := keys.EvaluationKeyBytes()
	require.NoError(t, err)

	loaded, err := LoadKeyChain(keys.Params(), testFeatures, skBytes, evkBytes)
	require.NoError(t, err)

	x := make([]float64, testFeatures)
	x[0] = -0.25
	ct, err := keys.Encrypt(x)
	require.NoError(t, err)

	v, err := loaded.Decrypt(ct)
	require.NoError(t, err)
	assert.InDelta(t, -0.25, v, 1e-4)

	reloaded, err := loaded.EvaluationKeyBytes()
	require.NoError(t, err)
	assert.Equal(t, Fingerprint(evkBytes), Fingerprint(reloaded))
}

func TestFingerprint(t *testing.T) {
	a := Fingerprint([]byte("keys"))
	assert.Len(t, a, 32)
	assert.Equal(t, a, Fingerprint([]byte("keys")))
	assert.NotEqual(t, a, Fingerprint([]byte("other")))
}

func TestCheckFeatures(t *testing.T) {
	params, err := DefaultPreset().Params()
	require.NoError(t, err)

	assert.NoError(t, CheckFeatures(params, 61))
	assert.True(t, errors.Is(CheckFeatures(params, 0), common.ErrInvalidArtifact))
	assert.True(t, errors.Is(CheckFeatures(params, params.MaxSlots()+1), common.ErrUnsupportedParams))
}
