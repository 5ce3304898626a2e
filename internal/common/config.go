package common

import (
	"os"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

const (
	DefaultServerAddr     = "127.0.0.1:8000"
	DefaultFrontAddr      = "127.0.0.1:8500"
	DefaultServerURL      = "http://127.0.0.1:8000"
	DefaultArtifactPath   = "artifacts/model.json"
	DefaultServerArtifact = "artifacts/server.json"
	DefaultKeyDir         = "artifacts/client_keys"
	DefaultRequestTimeout = 600 * time.Second
	DefaultMaxBodyBytes   = 256 << 20
	DefaultLogLevel       = "info"
	DefaultPassphraseEnv  = "FHECREDIT_KEY_PASSPHRASE"
)

type ServerConfig struct {
	Addr         string `yaml:"addr"`
	ArtifactPath string `yaml:"artifact_path"`
	MaxBodyBytes int64  `yaml:"max_body_bytes"`
}

type FrontConfig struct {
	Addr           string        `yaml:"addr"`
	ArtifactPath   string        `yaml:"artifact_path"`
	KeyDir         string        `yaml:"key_dir"`
	ServerURL      string        `yaml:"server_url"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	// PassphraseEnv names the environment variable holding the passphrase used to
	// seal the secret key at rest. An unset or empty variable stores it unsealed.
	PassphraseEnv string `yaml:"passphrase_env"`
	// EvalConcurrency bounds in-flight requests during batch evaluation.
	EvalConcurrency int `yaml:"eval_concurrency"`
}

type LogConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

type Config struct {
	Server ServerConfig `yaml:"server"`
	Front  FrontConfig  `yaml:"front"`
	Log    LogConfig    `yaml:"log"`
}

func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:         DefaultServerAddr,
			ArtifactPath: DefaultServerArtifact,
			MaxBodyBytes: DefaultMaxBodyBytes,
		},
		Front: FrontConfig{
			Addr:            DefaultFrontAddr,
			ArtifactPath:    DefaultArtifactPath,
			KeyDir:          DefaultKeyDir,
			ServerURL:       DefaultServerURL,
			RequestTimeout:  DefaultRequestTimeout,
			PassphraseEnv:   DefaultPassphraseEnv,
			EvalConcurrency: 1,
		},
		Log: LogConfig{
			Level: DefaultLogLevel,
		},
	}
}

// LoadConfig reads a YAML config on top of the defaults. An empty path returns the defaults.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read config")
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrapf(err, "failed to parse config %s", path)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Server.MaxBodyBytes <= 0 {
		return errors.Errorf("server.max_body_bytes must be positive, got %d", c.Server.MaxBodyBytes)
	}
	if c.Front.RequestTimeout <= 0 {
		return errors.Errorf("front.request_timeout must be positive, got %s", c.Front.RequestTimeout)
	}
	if c.Front.EvalConcurrency < 1 {
		return errors.Errorf("front.eval_concurrency must be at least 1, got %d", c.Front.EvalConcurrency)
	}
	return nil
}

// Passphrase resolves the key sealing passphrase from the environment.
func (c FrontConfig) Passphrase() []byte {
	if c.PassphraseEnv == "" {
		return nil
	}
	if v := os.Getenv(c.PassphraseEnv); v != "" {
		return []byte(v)
	}
	return nil
}
