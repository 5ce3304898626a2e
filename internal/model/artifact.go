package model

import (
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"

	"github.com/blindrisk/fhecredit/internal/common"
	"github.com/blindrisk/fhecredit/internal/fhe"
)

const ArtifactVersion = 2

type Metrics struct {
	AUC      float64 `json:"auc"`
	Accuracy float64 `json:"acc"`
}

type Timings struct {
	TrainSeconds      float64 `json:"train_s"`
	InferClearSeconds float64 `json:"infer_clear_s"`
}

// ServerArtifact is the public part of the model the blind server loads.
// LogitBound caps |w·x + b| over every preprocessed input and picks the
// sigmoid approximation the circuit uses.
type ServerArtifact struct {
	Version    int                `json:"version"`
	Preset     fhe.Preset         `json:"preset"`
	Model      LogisticRegression `json:"model"`
	LogitBound float64            `json:"logit_bound"`
}

// Artifact is the front's copy: the server part plus the schema and the fitted
// preprocessor, which stay on the client side.
type Artifact struct {
	ServerArtifact
	Schema       Schema       `json:"schema"`
	Preprocessor Preprocessor `json:"preprocessor"`
	Features     []string     `json:"features"`
	MetricsClear Metrics      `json:"metrics_clear"`
	Timings      Timings      `json:"timings"`
	CreatedAt    time.Time    `json:"created_at"`
}

func (a *Artifact) NumFeatures() int {
	return a.Preprocessor.NumFeatures()
}

// Server strips everything the blind server does not need.
func (a *Artifact) Server() *ServerArtifact {
	s := a.ServerArtifact
	s.Model.Weights = append([]float64(nil), a.Model.Weights...)
	return &s
}

// Circuit builds the homomorphic evaluator for the server part.
func (s *ServerArtifact) Circuit() (*fhe.LogisticCircuit, error) {
	params, err := s.Preset.Params()
	if err != nil {
		return nil, err
	}
	return fhe.NewLogisticCircuit(params, s.Model.Weights, s.Model.Bias, s.LogitBound)
}

func (s *ServerArtifact) Validate() error {
	if s.Version != ArtifactVersion {
		return errors.WithMessagef(common.ErrInvalidArtifact, "version %d, want %d", s.Version, ArtifactVersion)
	}
	if len(s.Model.Weights) == 0 {
		return errors.WithMessage(common.ErrInvalidArtifact, "model has no weights")
	}
	if !(s.LogitBound >= 0) || math.IsInf(s.LogitBound, 0) {
		return errors.WithMessagef(common.ErrInvalidArtifact, "invalid logit bound %v", s.LogitBound)
	}
	params, err := s.Preset.Params()
	if err != nil {
		return err
	}
	return fhe.CheckFeatures(params, len(s.Model.Weights))
}

func (a *Artifact) Validate() error {
	if err := a.ServerArtifact.Validate(); err != nil {
		return err
	}
	if err := a.Preprocessor.validate(); err != nil {
		return err
	}
	if n := a.Preprocessor.NumFeatures(); n != len(a.Model.Weights) {
		return errors.WithMessagef(common.ErrInvalidArtifact,
			"preprocessor yields %d features, model has %d weights", n, len(a.Model.Weights))
	}
	if len(a.Features) != len(a.Model.Weights) {
		return errors.WithMessagef(common.ErrInvalidArtifact,
			"%d feature names for %d weights", len(a.Features), len(a.Model.Weights))
	}
	if bound := a.Preprocessor.LogitBound(a.Model); bound > a.LogitBound*(1+1e-9) {
		return errors.WithMessagef(common.ErrInvalidArtifact,
			"logit bound %v below the model's reach %v", a.LogitBound, bound)
	}
	return nil
}

// ClearProbability runs preprocessing and the exact model, no encryption.
func (a *Artifact) ClearProbability(r Record) (float64, error) {
	x, err := a.Preprocessor.Transform(r)
	if err != nil {
		return 0, err
	}
	return a.Model.PredictProba(x), nil
}

func writeJSON(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrap(err, "failed to create artifact dir")
	}
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errors.Wrap(err, "failed to encode artifact")
	}
	return errors.Wrap(os.WriteFile(path, b, 0o644), "failed to write artifact")
}

func readJSON(path string, v any) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrap(err, "failed to read artifact")
	}
	if err := json.Unmarshal(b, v); err != nil {
		return errors.WithMessagef(common.ErrInvalidArtifact, "failed to parse %s: %v", path, err)
	}
	return nil
}

func (a *Artifact) Save(path string) error {
	return writeJSON(path, a)
}

func (s *ServerArtifact) Save(path string) error {
	return writeJSON(path, s)
}

func LoadArtifact(path string) (*Artifact, error) {
	var a Artifact
	if err := readJSON(path, &a); err != nil {
		return nil, err
	}
	if err := a.Validate(); err != nil {
		return nil, err
	}
	return &a, nil
}

// LoadServerArtifact accepts either a server artifact or a full artifact.
func LoadServerArtifact(path string) (*ServerArtifact, error) {
	var s ServerArtifact
	if err := readJSON(path, &s); err != nil {
		return nil, err
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}
