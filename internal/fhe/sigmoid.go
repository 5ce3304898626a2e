package fhe

import (
	"math"

	"github.com/pkg/errors"
	"github.com/tuneinsight/lattigo/v6/core/rlwe"
	"github.com/tuneinsight/lattigo/v6/schemes/ckks"

	"github.com/blindrisk/fhecredit/internal/common"
)

const (
	// SigmoidDepth is the number of levels EvalPolynomial consumes for degree <= 7.
	SigmoidDepth = 4

	// SigmoidBound is the interval [-SigmoidBound, SigmoidBound] the approximation is fitted on.
	SigmoidBound = 8.0
)

// SigmoidCoefficients returns the degree-7 monomial-basis coefficients of the
// sigmoid approximation on [-8, 8]: p(x) = c[0] + c[1]*x + ... + c[7]*x^7.
// σ(x) = 1 - σ(-x), so every even coefficient except c[0] is zero.
// Max error against σ on [-8, 8] is below 0.02.
func SigmoidCoefficients() []float64 {
	return []float64{
		0.5,
		2.205572459845886e-01,
		0.0,
		-8.555529945829476e-03,
		0.0,
		1.743706748783766e-04,
		0.0,
		-1.247898376981334e-06,
	}
}

// ScaledSigmoidCoefficients interpolates t -> σ(bound·t) on [-1, 1] at the
// eight Chebyshev nodes and returns the degree-7 polynomial in monomial basis.
// The circuit uses it when the model's logit can leave [-SigmoidBound, SigmoidBound]:
// the logit is divided by bound before the polynomial, so every reachable input
// stays inside the fitted interval.
func ScaledSigmoidCoefficients(bound float64) []float64 {
	const n = 8

	// Chebyshev coefficients a_j of the interpolant
	a := make([]float64, n)
	for j := 0; j < n; j++ {
		var sum float64
		for k := 0; k < n; k++ {
			theta := math.Pi * (float64(k) + 0.5) / n
			sum += Sigmoid(bound*math.Cos(theta)) * math.Cos(float64(j)*theta)
		}
		a[j] = 2 * sum / n
	}
	a[0] /= 2

	// T_0 = 1, T_1 = t, T_j = 2t·T_{j-1} - T_{j-2}
	coeffs := make([]float64, n)
	prev2 := []float64{1}
	prev1 := []float64{0, 1}
	coeffs[0] += a[0]
	coeffs[1] += a[1]
	for j := 2; j < n; j++ {
		tj := make([]float64, j+1)
		for i, c := range prev1 {
			tj[i+1] += 2 * c
		}
		for i, c := range prev2 {
			tj[i] -= c
		}
		for i, c := range tj {
			coeffs[i] += a[j] * c
		}
		prev2, prev1 = prev1, tj
	}

	// σ(x) - 1/2 is odd
	coeffs[0] = 0.5
	for i := 2; i < n; i += 2 {
		coeffs[i] = 0
	}
	return coeffs
}

// Sigmoid is the exact logistic function.
func Sigmoid(x float64) float64 {
	return 1.0 / (1.0 + math.Exp(-x))
}

// EvalPolynomialClear evaluates coeffs at x in the clear (Horner).
func EvalPolynomialClear(coeffs []float64, x float64) float64 {
	y := 0.0
	for i := len(coeffs) - 1; i >= 0; i-- {
		y = y*x + coeffs[i]
	}
	return y
}

// MaxSigmoidError samples n points on [-8, 8] and returns the largest gap
// between the polynomial and the exact sigmoid.
func MaxSigmoidError(coeffs []float64, n int) float64 {
	maxErr := 0.0
	for i := 0; i < n; i++ {
		x := -SigmoidBound + 2*SigmoidBound*float64(i)/float64(n-1)
		if e := math.Abs(EvalPolynomialClear(coeffs, x) - Sigmoid(x)); e > maxErr {
			maxErr = e
		}
	}
	return maxErr
}

type polyEvaluator struct {
	params  ckks.Parameters
	eval    *ckks.Evaluator
	encoder *ckks.Encoder
}

// mulConst multiplies every slot by c. The constant is encoded at the scale of
// the current modulus so the rescale brings the ciphertext back to its input scale.
func (p *polyEvaluator) mulConst(ct *rlwe.Ciphertext, c float64) (*rlwe.Ciphertext, error) {
	level := ct.Level()
	vals := make([]float64, p.params.MaxSlots())
	for i := range vals {
		vals[i] = c
	}

	pt := ckks.NewPlaintext(p.params, level)
	pt.Scale = rlwe.NewScale(p.params.Q()[level])
	if err := p.encoder.Encode(vals, pt); err != nil {
		return nil, errors.Wrap(err, "failed to encode constant")
	}

	out, err := p.eval.MulNew(ct, pt)
	if err != nil {
		return nil, errors.Wrap(err, "failed to multiply by constant")
	}
	if err := p.eval.Rescale(out, out); err != nil {
		return nil, errors.Wrap(err, "failed to rescale constant product")
	}
	return out, nil
}

func (p *polyEvaluator) mulRelin(a, b *rlwe.Ciphertext) (*rlwe.Ciphertext, error) {
	a, b = p.align(a, b)
	out, err := p.eval.MulRelinNew(a, b)
	if err != nil {
		return nil, errors.Wrap(err, "failed to multiply ciphertexts")
	}
	if err := p.eval.Rescale(out, out); err != nil {
		return nil, errors.Wrap(err, "failed to rescale product")
	}
	return out, nil
}

func (p *polyEvaluator) add(a, b *rlwe.Ciphertext) (*rlwe.Ciphertext, error) {
	a, b = p.align(a, b)
	out, err := p.eval.AddNew(a, b)
	if err != nil {
		return nil, errors.Wrap(err, "failed to add ciphertexts")
	}
	return out, nil
}

// align returns copies of a and b dropped to their common level.
func (p *polyEvaluator) align(a, b *rlwe.Ciphertext) (*rlwe.Ciphertext, *rlwe.Ciphertext) {
	if a.Level() > b.Level() {
		a = a.CopyNew()
		p.eval.DropLevel(a, a.Level()-b.Level())
	} else if b.Level() > a.Level() {
		b = b.CopyNew()
		p.eval.DropLevel(b, b.Level()-a.Level())
	}
	return a, b
}

// linear returns c0 + c1*x2 for a ciphertext x2.
func (p *polyEvaluator) linear(x2 *rlwe.Ciphertext, c0, c1 float64) (*rlwe.Ciphertext, error) {
	out, err := p.mulConst(x2, c1)
	if err != nil {
		return nil, err
	}
	if err := p.eval.Add(out, c0, out); err != nil {
		return nil, errors.Wrap(err, "failed to add constant")
	}
	return out, nil
}

// EvalPolynomial evaluates a polynomial of degree <= 7 on ct with the
// baby-step/giant-step split
//
//	p(x) = (c0 + c2 x²) + x (c1 + c3 x²) + x⁴ [(c4 + c6 x²) + x (c5 + c7 x²)]
//
// consuming SigmoidDepth levels. eval must hold a relinearization key.
func EvalPolynomial(params ckks.Parameters, eval *ckks.Evaluator, ct *rlwe.Ciphertext, coeffs []float64) (*rlwe.Ciphertext, error) {
	if len(coeffs) < 2 {
		return nil, errors.New("polynomial must have at least 2 coefficients")
	}
	if len(coeffs) > 8 {
		return nil, errors.Errorf("polynomial degree > 7 not supported (got %d coefficients)", len(coeffs))
	}
	if ct.Level() < SigmoidDepth {
		return nil, errors.WithMessagef(common.ErrInsufficientLevels,
			"degree-7 polynomial needs %d levels, have %d", SigmoidDepth, ct.Level())
	}

	c := make([]float64, 8)
	copy(c, coeffs)

	p := &polyEvaluator{params: params, eval: eval, encoder: ckks.NewEncoder(params)}

	x2, err := p.mulRelin(ct, ct)
	if err != nil {
		return nil, errors.WithMessage(err, "x²")
	}
	x4, err := p.mulRelin(x2, x2)
	if err != nil {
		return nil, errors.WithMessage(err, "x⁴")
	}

	half := func(e0, e1, o0, o1 float64) (*rlwe.Ciphertext, error) {
		even, err := p.linear(x2, e0, e1)
		if err != nil {
			return nil, err
		}
		odd, err := p.linear(x2, o0, o1)
		if err != nil {
			return nil, err
		}
		xOdd, err := p.mulRelin(ct, odd)
		if err != nil {
			return nil, err
		}
		return p.add(even, xOdd)
	}

	low, err := half(c[0], c[2], c[1], c[3])
	if err != nil {
		return nil, errors.WithMessage(err, "low half")
	}
	high, err := half(c[4], c[6], c[5], c[7])
	if err != nil {
		return nil, errors.WithMessage(err, "high half")
	}

	x4High, err := p.mulRelin(x4, high)
	if err != nil {
		return nil, errors.WithMessage(err, "x⁴ * high half")
	}

	return p.add(low, x4High)
}
