// Package front is the client side of the system. It owns the secret key: it
// preprocesses a raw applicant record, encrypts it, sends it to a blind server
// and decrypts the score that comes back.
package front

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/blindrisk/fhecredit/internal/common"
	"github.com/blindrisk/fhecredit/internal/keystore"
	"github.com/blindrisk/fhecredit/internal/model"
)

const Threshold = 0.5

type Timings struct {
	Encrypt float64 `json:"encrypt_s"`
	Server  float64 `json:"server_fhe_s"`
	Decrypt float64 `json:"decrypt_s"`
}

type Prediction struct {
	ProbabilityBad float64 `json:"p_bad"`
	Label          string  `json:"label"`
	Timings        Timings `json:"timings"`
}

type Front struct {
	artifact *model.Artifact
	keys     *keystore.Keys
	runner   Runner
	logger   *common.Logger
}

// New checks the key chain was generated for the artifact's preset and feature count.
func New(artifact *model.Artifact, keys *keystore.Keys, runner Runner, logger *common.Logger) (*Front, error) {
	if keys.Preset != artifact.Preset || keys.Chain.NumFeatures() != artifact.NumFeatures() {
		return nil, errors.WithMessagef(common.ErrKeyMismatch,
			"keys are for %s with %d features, artifact needs %s with %d",
			keys.Preset, keys.Chain.NumFeatures(), artifact.Preset, artifact.NumFeatures())
	}
	return &Front{
		artifact: artifact,
		keys:     keys,
		runner:   runner,
		logger:   common.GetLogger("front", logger),
	}, nil
}

func (f *Front) Artifact() *model.Artifact {
	return f.artifact
}

// Preprocess validates a raw record against the schema and maps it to the
// model's feature vector.
func (f *Front) Preprocess(raw model.Record) ([]float64, error) {
	if err := raw.Validate(f.artifact.Schema); err != nil {
		return nil, err
	}
	return f.artifact.Preprocessor.Transform(raw)
}

func (f *Front) Predict(ctx context.Context, raw model.Record) (*Prediction, error) {
	return f.PredictWith(ctx, f.runner, raw)
}

// PredictWith runs one prediction against the given runner instead of the default one.
func (f *Front) PredictWith(ctx context.Context, runner Runner, raw model.Record) (*Prediction, error) {
	x, err := f.Preprocess(raw)
	if err != nil {
		return nil, err
	}

	t0 := time.Now()
	ct, err := f.keys.Chain.Encrypt(x)
	if err != nil {
		return nil, err
	}
	encTime := time.Since(t0)

	t1 := time.Now()
	result, err := runner.RunFHE(ctx, ct, f.keys.EvalKeys)
	if err != nil {
		return nil, err
	}
	serverTime := time.Since(t1)

	t2 := time.Now()
	p, err := f.keys.Chain.Decrypt(result)
	if err != nil {
		return nil, errors.WithMessagef(common.ErrServerRejected, "failed to decrypt server result: %v", err)
	}
	decTime := time.Since(t2)

	p = clamp(p)
	pred := &Prediction{
		ProbabilityBad: p,
		Label:          Label(p),
		Timings: Timings{
			Encrypt: encTime.Seconds(),
			Server:  serverTime.Seconds(),
			Decrypt: decTime.Seconds(),
		},
	}
	f.logger.Debug("p_bad=%.4f encrypt=%.3fs server=%.3fs decrypt=%.3fs",
		p, pred.Timings.Encrypt, pred.Timings.Server, pred.Timings.Decrypt)
	return pred, nil
}

func Label(p float64) string {
	if p >= Threshold {
		return model.LabelBad
	}
	return model.LabelGood
}

func clamp(p float64) float64 {
	switch {
	case p < 0:
		return 0
	case p > 1:
		return 1
	}
	return p
}
