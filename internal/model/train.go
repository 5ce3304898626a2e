package model

import (
	"time"

	"github.com/pkg/errors"

	"github.com/blindrisk/fhecredit/internal/common"
	"github.com/blindrisk/fhecredit/internal/fhe"
)

type TrainOptions struct {
	Target   string
	TestSize float64
	Seed     int64
	Fit      FitOptions
	Preset   fhe.Preset
}

func DefaultTrainOptions() TrainOptions {
	return TrainOptions{
		TestSize: 0.2,
		Seed:     42,
		Fit:      DefaultFitOptions(),
		Preset:   fhe.DefaultPreset(),
	}
}

// TrainResult keeps the held-out split so callers can evaluate the encrypted path on it.
type TrainResult struct {
	Artifact *Artifact
	Train    *Dataset
	Test     *Dataset
}

// Train fits the preprocessor and the logistic regression on a stratified split
// of the frame and measures clear metrics on the held-out part.
func Train(f *Frame, s Schema, opts TrainOptions, logger *common.Logger) (*TrainResult, error) {
	if _, err := opts.Preset.Params(); err != nil {
		return nil, err
	}

	ds, err := ToXY(f, s, opts.Target)
	if err != nil {
		return nil, err
	}
	train, test, err := StratifiedSplit(ds, opts.TestSize, opts.Seed)
	if err != nil {
		return nil, err
	}
	logger.Info("train class ratio (mean y): %.3f", meanInt(train.Y))
	logger.Info("test class ratio (mean y): %.3f", meanInt(test.Y))

	pre, err := FitPreprocessor(s, train.Rows)
	if err != nil {
		return nil, errors.WithMessage(err, "failed to fit preprocessor")
	}
	XTrain, err := pre.TransformAll(train.Rows)
	if err != nil {
		return nil, err
	}
	XTest, err := pre.TransformAll(test.Rows)
	if err != nil {
		return nil, err
	}

	logger.Info("training clear model on %d rows, %d features", len(XTrain), pre.NumFeatures())
	t0 := time.Now()
	lr, err := FitLogisticRegression(XTrain, train.Y, opts.Fit)
	if err != nil {
		return nil, err
	}
	trainTime := time.Since(t0)

	t1 := time.Now()
	proba := make([]float64, len(XTest))
	for i, x := range XTest {
		proba[i] = lr.PredictProba(x)
	}
	inferTime := time.Since(t1)

	metrics := Metrics{AUC: ROCAUC(test.Y, proba), Accuracy: Accuracy(test.Y, proba)}
	logger.Info("clear metrics: roc_auc=%.3f accuracy=%.3f", metrics.AUC, metrics.Accuracy)
	logger.Info("train time=%.3fs clear inference time=%.3fs", trainTime.Seconds(), inferTime.Seconds())

	bound := pre.LogitBound(*lr)
	if bound > fhe.SigmoidBound {
		logger.Warn("logit bound %.2f exceeds %.0f, the circuit evaluates σ(%.2f·t) on the scaled logit",
			bound, fhe.SigmoidBound, bound)
	} else {
		logger.Info("logit bound %.2f", bound)
	}

	s.Target = ds.Target
	a := &Artifact{
		ServerArtifact: ServerArtifact{
			Version:    ArtifactVersion,
			Preset:     opts.Preset,
			Model:      *lr,
			LogitBound: bound,
		},
		Schema:       s,
		Preprocessor: *pre,
		Features:     pre.FeatureNames(),
		MetricsClear: metrics,
		Timings: Timings{
			TrainSeconds:      trainTime.Seconds(),
			InferClearSeconds: inferTime.Seconds(),
		},
		CreatedAt: time.Now().UTC(),
	}
	if err := a.Validate(); err != nil {
		return nil, err
	}

	return &TrainResult{Artifact: a, Train: train, Test: test}, nil
}

func meanInt(v []int) float64 {
	if len(v) == 0 {
		return 0
	}
	s := 0
	for _, x := range v {
		s += x
	}
	return float64(s) / float64(len(v))
}
