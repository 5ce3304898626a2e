package fhe

import (
	"math"

	"github.com/pkg/errors"
	"github.com/tuneinsight/lattigo/v6/core/rlwe"
	"github.com/tuneinsight/lattigo/v6/schemes/ckks"

	"github.com/blindrisk/fhecredit/internal/common"
)

// LogisticCircuit computes σ(w·x + b) on an encrypted feature vector. It holds
// only public model parameters.
type LogisticCircuit struct {
	params       ckks.Parameters
	weights      []float64
	bias         float64
	coefficients []float64
}

// NewLogisticCircuit builds the circuit for a model whose logit never exceeds
// logitBound in absolute value. Up to SigmoidBound the logit feeds the fixed
// sigmoid polynomial directly. Above it, weights and bias are divided by
// logitBound and the polynomial is fitted to σ(logitBound·t) on [-1, 1].
func NewLogisticCircuit(params ckks.Parameters, weights []float64, bias, logitBound float64) (*LogisticCircuit, error) {
	if err := CheckFeatures(params, len(weights)); err != nil {
		return nil, err
	}
	if math.IsNaN(logitBound) || math.IsInf(logitBound, 0) || logitBound < 0 {
		return nil, errors.WithMessagef(common.ErrInvalidArtifact, "invalid logit bound %v", logitBound)
	}

	c := &LogisticCircuit{
		params:       params,
		weights:      append([]float64(nil), weights...),
		bias:         bias,
		coefficients: SigmoidCoefficients(),
	}
	if logitBound > SigmoidBound {
		for i := range c.weights {
			c.weights[i] /= logitBound
		}
		c.bias /= logitBound
		c.coefficients = ScaledSigmoidCoefficients(logitBound)
	}
	return c, nil
}

// Approximate evaluates in the clear what the circuit computes homomorphically.
func (c *LogisticCircuit) Approximate(x []float64) float64 {
	z := c.bias
	for i, w := range c.weights {
		z += w * x[i]
	}
	return EvalPolynomialClear(c.coefficients, z)
}

func (c *LogisticCircuit) Params() ckks.Parameters {
	return c.params
}

func (c *LogisticCircuit) NumFeatures() int {
	return len(c.weights)
}

// Run deserializes the payload and evaluation keys, evaluates the circuit and
// returns the serialized result. Decoding errors wrap common.ErrMalformedPayload.
func (c *LogisticCircuit) Run(encryptedData, evaluationKeys []byte) (result []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			result, err = nil, errors.Errorf("evaluation panicked: %v", r)
		}
	}()

	ct, err := UnmarshalCiphertext(c.params, encryptedData)
	if err != nil {
		return nil, err
	}
	if ct.Level() < RequiredLevels {
		return nil, errors.WithMessagef(common.ErrMalformedPayload,
			"ciphertext at level %d, circuit needs %d", ct.Level(), RequiredLevels)
	}

	evk, err := UnmarshalEvaluationKeys(c.params, c.NumFeatures(), evaluationKeys)
	if err != nil {
		return nil, err
	}

	out, err := c.Evaluate(ckks.NewEvaluator(c.params, evk), ct)
	if err != nil {
		return nil, err
	}

	b, err := out.MarshalBinary()
	if err != nil {
		return nil, errors.Wrap(err, "failed to serialize result")
	}
	return b, nil
}

// Evaluate runs the circuit with an evaluator built from the client's keys.
// Slot 0 of the result holds the approximate probability.
func (c *LogisticCircuit) Evaluate(eval *ckks.Evaluator, ct *rlwe.Ciphertext) (*rlwe.Ciphertext, error) {
	logit, err := c.linear(eval, ct)
	if err != nil {
		return nil, err
	}

	out, err := EvalPolynomial(c.params, eval, logit, c.coefficients)
	if err != nil {
		return nil, errors.WithMessage(err, "sigmoid evaluation failed")
	}
	return out, nil
}

// linear computes w·x + b into slot 0: Hadamard product with the weights,
// InnerSum over the feature slots, then the bias.
func (c *LogisticCircuit) linear(eval *ckks.Evaluator, ct *rlwe.Ciphertext) (*rlwe.Ciphertext, error) {
	level := ct.Level()

	ptW := ckks.NewPlaintext(c.params, level)
	ptW.Scale = rlwe.NewScale(c.params.Q()[level])
	if err := ckks.NewEncoder(c.params).Encode(c.weights, ptW); err != nil {
		return nil, errors.Wrap(err, "failed to encode weights")
	}

	weighted, err := eval.MulNew(ct, ptW)
	if err != nil {
		return nil, errors.Wrap(err, "failed to multiply weights")
	}
	if err := eval.Rescale(weighted, weighted); err != nil {
		return nil, errors.Wrap(err, "failed to rescale weighted features")
	}

	logit := rlwe.NewCiphertext(c.params, weighted.Degree(), weighted.Level())
	if err := eval.InnerSum(weighted, 1, len(c.weights), logit); err != nil {
		return nil, errors.Wrap(err, "failed InnerSum over features")
	}

	if err := eval.Add(logit, c.bias, logit); err != nil {
		return nil, errors.Wrap(err, "failed to add bias")
	}
	return logit, nil
}

// ClearProbability is the exact plaintext model the circuit approximates.
func ClearProbability(weights []float64, bias float64, x []float64) float64 {
	z := bias
	for i, w := range weights {
		z += w * x[i]
	}
	return Sigmoid(z)
}
