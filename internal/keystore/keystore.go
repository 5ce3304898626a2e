// Package keystore persists the front's CKKS key chain between restarts. The
// bundle is a single CBOR file; the secret key inside it can be sealed under a
// passphrase.
package keystore

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/pkg/errors"

	"github.com/blindrisk/fhecredit/internal/common"
	"github.com/blindrisk/fhecredit/internal/fhe"
)

const (
	BundleFile    = "keys.cbor"
	bundleVersion = 1
)

var ErrPassphraseRequired = errors.New("keystore: secret key is sealed, passphrase required")

type bundle struct {
	Version     int        `cbor:"1,keyasint"`
	Preset      fhe.Preset `cbor:"2,keyasint"`
	NumFeatures int        `cbor:"3,keyasint"`
	SecretKey   []byte     `cbor:"4,keyasint,omitempty"`
	Sealed      *sealedKey `cbor:"5,keyasint,omitempty"`
	EvalKeys    []byte     `cbor:"6,keyasint"`
	Fingerprint string     `cbor:"7,keyasint"`
	CreatedAt   int64      `cbor:"8,keyasint"`
}

// header is the authenticated data of a sealed secret key.
func (b *bundle) header() []byte {
	return []byte(fmt.Sprintf("%d|%s|%d|%s", b.Version, b.Preset, b.NumFeatures, b.Fingerprint))
}

type Options struct {
	// Passphrase seals the secret key when non-empty.
	Passphrase []byte
	// Force regenerates keys even when a matching bundle exists.
	Force bool
}

// Keys is a loaded or freshly generated key chain.
type Keys struct {
	Chain  *fhe.KeyChain
	Preset fhe.Preset
	// EvalKeys is the serialized evaluation key set sent with every request.
	EvalKeys    []byte
	Fingerprint string
	CreatedAt   time.Time
	// Sealed reports whether the bundle stores the secret key under a passphrase.
	Sealed bool
	// Generated is set when the keys were created by this call.
	Generated bool
}

type Store struct {
	dir    string
	logger *common.Logger
}

func NewStore(dir string, logger *common.Logger) *Store {
	return &Store{dir: dir, logger: common.GetLogger("keystore", logger)}
}

// LoadOrCreate opens the store at dir and calls Store.LoadOrCreate.
func LoadOrCreate(dir string, preset fhe.Preset, numFeatures int, opts Options, logger *common.Logger) (*Keys, error) {
	return NewStore(dir, logger).LoadOrCreate(preset, numFeatures, opts)
}

func (s *Store) Path() string {
	return filepath.Join(s.dir, BundleFile)
}

func (s *Store) Exists() bool {
	_, err := os.Stat(s.Path())
	return err == nil
}

// LoadOrCreate returns the stored keys when they match preset and numFeatures.
// A mismatching bundle fails with common.ErrKeyMismatch unless opts.Force is set.
func (s *Store) LoadOrCreate(preset fhe.Preset, numFeatures int, opts Options) (*Keys, error) {
	if !opts.Force && s.Exists() {
		keys, err := s.Load(opts.Passphrase)
		if err != nil {
			return nil, err
		}
		if keys.Preset != preset || keys.Chain.NumFeatures() != numFeatures {
			return nil, errors.WithMessagef(common.ErrKeyMismatch,
				"bundle has preset %s with %d features, model needs %s with %d (regenerate with -force)",
				keys.Preset, keys.Chain.NumFeatures(), preset, numFeatures)
		}
		if len(opts.Passphrase) > 0 && !keys.Sealed {
			s.logger.Warn("passphrase given but %s stores the secret key unsealed (regenerate with -force to seal it)", s.Path())
		}
		s.logger.Info("loaded keys from %s (evk %s)", s.Path(), keys.Fingerprint)
		return keys, nil
	}

	return s.Generate(preset, numFeatures, opts.Passphrase)
}

// Generate creates a new key chain and overwrites the bundle.
func (s *Store) Generate(preset fhe.Preset, numFeatures int, passphrase []byte) (*Keys, error) {
	params, err := preset.Params()
	if err != nil {
		return nil, err
	}

	s.logger.Info("generating keys for preset %s, %d features", preset, numFeatures)
	start := time.Now()
	chain, err := fhe.GenerateKeyChain(params, numFeatures)
	if err != nil {
		return nil, err
	}

	skBytes, err := chain.SecretKeyBytes()
	if err != nil {
		return nil, err
	}
	evkBytes, err := chain.EvaluationKeyBytes()
	if err != nil {
		return nil, err
	}

	b := &bundle{
		Version:     bundleVersion,
		Preset:      preset,
		NumFeatures: numFeatures,
		EvalKeys:    evkBytes,
		Fingerprint: fhe.Fingerprint(evkBytes),
		CreatedAt:   time.Now().Unix(),
	}
	if len(passphrase) > 0 {
		if b.Sealed, err = seal(passphrase, skBytes, b.header()); err != nil {
			return nil, err
		}
	} else {
		b.SecretKey = skBytes
	}

	if err := s.write(b); err != nil {
		return nil, err
	}
	s.logger.Info("keys written to %s in %s (evk %s, %d bytes)",
		s.Path(), time.Since(start).Round(time.Millisecond), b.Fingerprint, len(evkBytes))

	return &Keys{
		Chain:       chain,
		Preset:      preset,
		EvalKeys:    evkBytes,
		Fingerprint: b.Fingerprint,
		CreatedAt:   time.Unix(b.CreatedAt, 0),
		Sealed:      b.Sealed != nil,
		Generated:   true,
	}, nil
}

func (s *Store) Load(passphrase []byte) (*Keys, error) {
	raw, err := os.ReadFile(s.Path())
	if err != nil {
		return nil, errors.Wrap(err, "failed to read key bundle")
	}

	var b bundle
	if err := cbor.Unmarshal(raw, &b); err != nil {
		return nil, errors.Wrap(err, "failed to decode key bundle")
	}
	if b.Version != bundleVersion {
		return nil, errors.Errorf("unsupported key bundle version %d", b.Version)
	}
	if fp := fhe.Fingerprint(b.EvalKeys); fp != b.Fingerprint {
		return nil, errors.Errorf("key bundle is corrupt: evaluation keys hash to %s, header says %s", fp, b.Fingerprint)
	}

	skBytes := b.SecretKey
	if b.Sealed != nil {
		if len(passphrase) == 0 {
			return nil, ErrPassphraseRequired
		}
		if skBytes, err = b.Sealed.open(passphrase, b.header()); err != nil {
			return nil, err
		}
	}

	params, err := b.Preset.Params()
	if err != nil {
		return nil, err
	}
	chain, err := fhe.LoadKeyChain(params, b.NumFeatures, skBytes, b.EvalKeys)
	if err != nil {
		return nil, err
	}

	return &Keys{
		Chain:       chain,
		Preset:      b.Preset,
		EvalKeys:    b.EvalKeys,
		Fingerprint: b.Fingerprint,
		CreatedAt:   time.Unix(b.CreatedAt, 0),
		Sealed:      b.Sealed != nil,
	}, nil
}

func (s *Store) write(b *bundle) error {
	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return errors.Wrap(err, "failed to create key dir")
	}
	raw, err := cbor.Marshal(b)
	if err != nil {
		return errors.Wrap(err, "failed to encode key bundle")
	}

	tmp, err := os.CreateTemp(s.dir, BundleFile+".*")
	if err != nil {
		return errors.Wrap(err, "failed to create key bundle")
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return errors.Wrap(err, "failed to write key bundle")
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, "failed to write key bundle")
	}
	return errors.Wrap(os.Rename(tmp.Name(), s.Path()), "failed to install key bundle")
}
