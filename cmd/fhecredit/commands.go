package main

import (
	"context"
	"encoding/json"
	"flag"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/pkg/errors"

	"github.com/blindrisk/fhecredit/internal/blind"
	"github.com/blindrisk/fhecredit/internal/common"
	"github.com/blindrisk/fhecredit/internal/fhe"
	"github.com/blindrisk/fhecredit/internal/front"
	"github.com/blindrisk/fhecredit/internal/keystore"
	"github.com/blindrisk/fhecredit/internal/model"
	"github.com/blindrisk/fhecredit/internal/wire"
)

// baseFlags are shared by every command.
type baseFlags struct {
	config   string
	logLevel string
}

func (b *baseFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&b.config, "config", "", "YAML config file")
	fs.StringVar(&b.logLevel, "log-level", "", "log level (overrides config)")
}

func (b *baseFlags) load() (*common.Config, *common.Logger, error) {
	cfg, err := common.LoadConfig(b.config)
	if err != nil {
		return nil, nil, err
	}
	if b.logLevel != "" {
		cfg.Log.Level = b.logLevel
	}
	logger, err := common.NewLogger(cfg.Log.Level, cfg.Log.File)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func handleServe(args []string) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	var base baseFlags
	base.register(fs)
	addr := fs.String("addr", "", "listen address")
	artifact := fs.String("artifact", "", "server artifact (server.json or model.json)")
	fs.Parse(args)

	cfg, logger, err := base.load()
	if err != nil {
		return err
	}
	if *addr != "" {
		cfg.Server.Addr = *addr
	}
	if *artifact != "" {
		cfg.Server.ArtifactPath = *artifact
	}

	evaluator, err := blind.LoadEvaluator(cfg.Server.ArtifactPath)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()
	return blind.NewServer(cfg.Server, evaluator, logger).Run(ctx, cfg.Server.Addr)
}

// frontFlags are shared by the commands that need the front's key chain.
type frontFlags struct {
	artifact string
	keyDir   string
	server   string
	local    string
	force    bool
}

func (f *frontFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&f.artifact, "artifact", "", "front artifact (model.json)")
	fs.StringVar(&f.keyDir, "keys", "", "key bundle directory")
	fs.StringVar(&f.server, "server", "", "blind server URL")
	fs.StringVar(&f.local, "local", "", "evaluate in-process with this server artifact instead of calling a server")
	fs.BoolVar(&f.force, "force", false, "regenerate keys even when a bundle exists")
}

func (f *frontFlags) apply(cfg *common.Config) {
	if f.artifact != "" {
		cfg.Front.ArtifactPath = f.artifact
	}
	if f.keyDir != "" {
		cfg.Front.KeyDir = f.keyDir
	}
	if f.server != "" {
		cfg.Front.ServerURL = f.server
	}
}

func (f *frontFlags) open(cfg *common.Config, logger *common.Logger) (*front.Front, error) {
	f.apply(cfg)

	art, err := model.LoadArtifact(cfg.Front.ArtifactPath)
	if err != nil {
		return nil, err
	}
	keys, err := keystore.LoadOrCreate(cfg.Front.KeyDir, art.Preset, art.NumFeatures(),
		keystore.Options{Passphrase: cfg.Front.Passphrase(), Force: f.force}, logger)
	if err != nil {
		return nil, err
	}

	var runner front.Runner = front.NewRemoteServer(cfg.Front.ServerURL, cfg.Front.RequestTimeout, logger)
	if f.local != "" {
		evaluator, err := blind.LoadEvaluator(f.local)
		if err != nil {
			return nil, err
		}
		runner = &blind.Local{Evaluator: evaluator}
	}
	return front.New(art, keys, runner, logger)
}

func handleFront(args []string) error {
	fs := flag.NewFlagSet("front", flag.ExitOnError)
	var base baseFlags
	var ff frontFlags
	base.register(fs)
	ff.register(fs)
	addr := fs.String("addr", "", "listen address")
	fs.Parse(args)

	cfg, logger, err := base.load()
	if err != nil {
		return err
	}
	if *addr != "" {
		cfg.Front.Addr = *addr
	}

	f, err := ff.open(cfg, logger)
	if err != nil {
		return err
	}
	ui, err := front.NewWebUI(f, cfg.Front, logger)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()
	return ui.Run(ctx, cfg.Front.Addr)
}

func handlePredict(args []string) error {
	fs := flag.NewFlagSet("predict", flag.ExitOnError)
	var base baseFlags
	var ff frontFlags
	base.register(fs)
	ff.register(fs)
	fs.Parse(args)

	cfg, logger, err := base.load()
	if err != nil {
		return err
	}

	var record model.Record
	dec := json.NewDecoder(os.Stdin)
	dec.UseNumber()
	if err := dec.Decode(&record); err != nil {
		return errors.Wrap(err, "failed to parse input record")
	}

	f, err := ff.open(cfg, logger)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()
	pred, err := f.Predict(ctx, record)
	if err != nil {
		return err
	}
	outputJSON(pred)
	return nil
}

type KeygenOutput struct {
	Path        string `json:"path"`
	Fingerprint string `json:"fingerprint"`
	Preset      string `json:"preset"`
	NumFeatures int    `json:"num_features"`
	Sealed      bool   `json:"sealed"`
	Generated   bool   `json:"generated"`
}

func handleKeygen(args []string) error {
	fs := flag.NewFlagSet("keygen", flag.ExitOnError)
	var base baseFlags
	var ff frontFlags
	base.register(fs)
	ff.register(fs)
	fs.Parse(args)

	cfg, logger, err := base.load()
	if err != nil {
		return err
	}
	ff.apply(cfg)

	art, err := model.LoadArtifact(cfg.Front.ArtifactPath)
	if err != nil {
		return err
	}
	store := keystore.NewStore(cfg.Front.KeyDir, logger)
	keys, err := store.LoadOrCreate(art.Preset, art.NumFeatures(),
		keystore.Options{Passphrase: cfg.Front.Passphrase(), Force: ff.force})
	if err != nil {
		return err
	}

	outputJSON(KeygenOutput{
		Path:        store.Path(),
		Fingerprint: keys.Fingerprint,
		Preset:      keys.Preset.String(),
		NumFeatures: keys.Chain.NumFeatures(),
		Sealed:      keys.Sealed,
		Generated:   keys.Generated,
	})
	return nil
}

type TrainOutput struct {
	Model       string        `json:"model"`
	Server      string        `json:"server"`
	NumFeatures int           `json:"num_features"`
	LogitBound  float64       `json:"logit_bound"`
	TrainRows   int           `json:"train_rows"`
	TestRows    int           `json:"test_rows"`
	Metrics     model.Metrics `json:"metrics_clear"`
	Timings     model.Timings `json:"timings"`
}

func handleTrain(args []string) error {
	fs := flag.NewFlagSet("train", flag.ExitOnError)
	var base baseFlags
	base.register(fs)
	data := fs.String("data", "", "ARFF dataset (required)")
	out := fs.String("out", filepath.Dir(common.DefaultArtifactPath), "output directory")
	target := fs.String("target", "", "target column (default: class, or inferred)")
	logN := fs.Int("log-n", fhe.DefaultLogN, "CKKS ring degree log2 (14 or 15)")
	logScale := fs.Int("log-scale", fhe.DefaultLogScale, "CKKS scale log2")
	c := fs.Float64("c", model.DefaultFitOptions().C, "inverse L2 regularization strength")
	testSize := fs.Float64("test-size", 0.2, "held-out fraction")
	seed := fs.Int64("seed", 42, "split seed")
	fs.Parse(args)

	if *data == "" {
		return errors.New("train: -data is required")
	}
	_, logger, err := base.load()
	if err != nil {
		return err
	}

	frame, err := model.LoadARFFFile(*data)
	if err != nil {
		return err
	}

	opts := model.DefaultTrainOptions()
	opts.Target = resolveTarget(frame, *target)
	opts.Preset = fhe.Preset{LogN: *logN, LogScale: *logScale}
	opts.Fit.C = *c
	opts.TestSize = *testSize
	opts.Seed = *seed

	res, err := model.Train(frame, model.CreditSchema(), opts, common.GetLogger("train", logger))
	if err != nil {
		return err
	}

	modelPath := filepath.Join(*out, filepath.Base(common.DefaultArtifactPath))
	serverPath := filepath.Join(*out, filepath.Base(common.DefaultServerArtifact))
	if err := res.Artifact.Save(modelPath); err != nil {
		return err
	}
	if err := res.Artifact.Server().Save(serverPath); err != nil {
		return err
	}
	logger.Info("wrote %s and %s", modelPath, serverPath)

	outputJSON(TrainOutput{
		Model:       modelPath,
		Server:      serverPath,
		NumFeatures: res.Artifact.NumFeatures(),
		LogitBound:  res.Artifact.LogitBound,
		TrainRows:   len(res.Train.Rows),
		TestRows:    len(res.Test.Rows),
		Metrics:     res.Artifact.MetricsClear,
		Timings:     res.Artifact.Timings,
	})
	return nil
}

func resolveTarget(frame *model.Frame, target string) string {
	if target != "" {
		return target
	}
	for _, c := range frame.Columns {
		if c == model.DefaultTarget {
			return c
		}
	}
	return model.InferTargetColumn(frame.Columns)
}

func handleEvaluate(args []string) error {
	fs := flag.NewFlagSet("evaluate", flag.ExitOnError)
	var base baseFlags
	var ff frontFlags
	base.register(fs)
	ff.register(fs)
	data := fs.String("data", "", "ARFF dataset the model was trained on (required)")
	target := fs.String("target", "", "target column (default: class, or inferred)")
	testSize := fs.Float64("test-size", 0.2, "held-out fraction used at training")
	seed := fs.Int64("seed", 42, "split seed used at training")
	limit := fs.Int("limit", 0, "evaluate at most this many held-out rows (0 = all)")
	concurrency := fs.Int("concurrency", 0, "requests in flight (default from config)")
	fs.Parse(args)

	if *data == "" {
		return errors.New("evaluate: -data is required")
	}
	cfg, logger, err := base.load()
	if err != nil {
		return err
	}
	if *concurrency > 0 {
		cfg.Front.EvalConcurrency = *concurrency
	}

	f, err := ff.open(cfg, logger)
	if err != nil {
		return err
	}

	frame, err := model.LoadARFFFile(*data)
	if err != nil {
		return err
	}
	ds, err := model.ToXY(frame, f.Artifact().Schema, resolveTarget(frame, *target))
	if err != nil {
		return err
	}
	_, test, err := model.StratifiedSplit(ds, *testSize, *seed)
	if err != nil {
		return err
	}
	rows, y := test.Rows, test.Y
	if *limit > 0 && *limit < len(rows) {
		rows, y = rows[:*limit], y[:*limit]
	}

	ctx, cancel := signalContext()
	defer cancel()
	report, err := f.Evaluate(ctx, rows, y, cfg.Front.EvalConcurrency)
	if err != nil {
		return err
	}
	outputJSON(report)
	return nil
}

func handleHealth(args []string) error {
	fs := flag.NewFlagSet("health", flag.ExitOnError)
	var base baseFlags
	base.register(fs)
	server := fs.String("server", "", "blind server URL")
	fs.Parse(args)

	cfg, logger, err := base.load()
	if err != nil {
		return err
	}
	if *server != "" {
		cfg.Front.ServerURL = *server
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Front.RequestTimeout)
	defer cancel()
	status, err := front.NewRemoteServer(cfg.Front.ServerURL, cfg.Front.RequestTimeout, logger).Health(ctx)
	if err != nil {
		return err
	}
	outputJSON(wire.HealthResponse{Status: status})
	return nil
}
