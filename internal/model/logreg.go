package model

import (
	"math"

	"github.com/pkg/errors"
)

// LogisticRegression is a binary linear classifier; Weights align with the
// preprocessor's FeatureNames.
type LogisticRegression struct {
	Weights []float64 `json:"weights"`
	Bias    float64   `json:"bias"`
}

type FitOptions struct {
	// C is the inverse L2 regularization strength, as in the usual
	// C·Σ logloss + ½‖w‖² objective.
	C            float64
	MaxIter      int
	LearningRate float64
	Tolerance    float64
}

func DefaultFitOptions() FitOptions {
	return FitOptions{C: 1.0, MaxIter: 5000, LearningRate: 0.5, Tolerance: 1e-7}
}

// FitLogisticRegression runs full-batch gradient descent on the mean
// regularized log-loss. The bias is not regularized.
func FitLogisticRegression(X [][]float64, y []int, opts FitOptions) (*LogisticRegression, error) {
	n := len(X)
	if n == 0 || n != len(y) {
		return nil, errors.Errorf("need matching non-empty X and y, got %d and %d", len(X), len(y))
	}
	if opts.C <= 0 {
		return nil, errors.Errorf("C must be positive, got %v", opts.C)
	}
	d := len(X[0])
	lambda := 1.0 / (opts.C * float64(n))

	w := make([]float64, d)
	var b float64
	grad := make([]float64, d)

	for iter := 0; iter < opts.MaxIter; iter++ {
		for j := range grad {
			grad[j] = 0
		}
		var gradB float64

		for i, x := range X {
			r := sigmoid(dot(w, x)+b) - float64(y[i])
			for j, v := range x {
				grad[j] += r * v
			}
			gradB += r
		}

		var norm float64
		for j := range grad {
			grad[j] = grad[j]/float64(n) + lambda*w[j]
			norm += grad[j] * grad[j]
		}
		gradB /= float64(n)
		norm += gradB * gradB

		if math.Sqrt(norm) < opts.Tolerance {
			break
		}

		for j := range w {
			w[j] -= opts.LearningRate * grad[j]
		}
		b -= opts.LearningRate * gradB
	}

	return &LogisticRegression{Weights: w, Bias: b}, nil
}

func (m *LogisticRegression) Logit(x []float64) float64 {
	return dot(m.Weights, x) + m.Bias
}

// PredictProba returns P(bad | x).
func (m *LogisticRegression) PredictProba(x []float64) float64 {
	return sigmoid(m.Logit(x))
}

func dot(a, b []float64) float64 {
	var s float64
	for i := range a {
		s += a[i] * b[i]
	}
	return s
}

func sigmoid(z float64) float64 {
	return 1.0 / (1.0 + math.Exp(-z))
}
