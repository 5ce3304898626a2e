package keystore

import (
	"bytes"
	"os"
	"testing"

	"github.com/fxamacker/cbor/v2"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blindrisk/fhecredit/internal/common"
	"github.com/blindrisk/fhecredit/internal/fhe"
)

const testFeatures = 4

func TestLoadOrCreateIsIdempotent(t *testing.T) {
	store := NewStore(t.TempDir(), common.GetDiscardLogger())
	preset := fhe.DefaultPreset()

	first, err := store.LoadOrCreate(preset, testFeatures, Options{})
	require.NoError(t, err)
	assert.True(t, first.Generated)
	assert.True(t, store.Exists())
	assert.Equal(t, fhe.Fingerprint(first.EvalKeys), first.Fingerprint)

	second, err := store.LoadOrCreate(preset, testFeatures, Options{})
	require.NoError(t, err)
	assert.False(t, second.Generated)
	assert.Equal(t, first.Fingerprint, second.Fingerprint)
	assert.Equal(t, testFeatures, second.Chain.NumFeatures())

	// a ciphertext from the first chain decrypts with the reloaded one
	ct, err := first.Chain.Encrypt([]float64{0.25, 0, 0, 0})
	require.NoError(t, err)
	v, err := second.Chain.Decrypt(ct)
	require.NoError(t, err)
	assert.InDelta(t, 0.25, v, 1e-4)
}

func TestLoadOrCreateMismatch(t *testing.T) {
	dir := t.TempDir()
	logger := common.GetDiscardLogger()
	preset := fhe.DefaultPreset()

	orig, err := LoadOrCreate(dir, preset, testFeatures, Options{}, logger)
	require.NoError(t, err)

	_, err = LoadOrCreate(dir, preset, testFeatures+1, Options{}, logger)
	assert.True(t, errors.Is(err, common.ErrKeyMismatch))

	other := preset
	other.LogScale = 35
	_, err = LoadOrCreate(dir, other, testFeatures, Options{}, logger)
	assert.True(t, errors.Is(err, common.ErrKeyMismatch))

	forced, err := LoadOrCreate(dir, preset, testFeatures+1, Options{Force: true}, logger)
	require.NoError(t, err)
	assert.True(t, forced.Generated)
	assert.NotEqual(t, orig.Fingerprint, forced.Fingerprint)
	assert.Equal(t, testFeatures+1, forced.Chain.NumFeatures())
}

func TestSealedSecretKey(t *testing.T) {
	store := NewStore(t.TempDir(), common.GetDiscardLogger())
	pass := []byte("correct horse battery staple")

	created, err := store.Generate(fhe.DefaultPreset(), testFeatures, pass)
	require.NoError(t, err)

	raw, err := os.ReadFile(store.Path())
	require.NoError(t, err)
	sk, err := created.Chain.SecretKeyBytes()
	require.NoError(t, err)
	assert.NotContains(t, string(raw), string(sk))

	loaded, err := store.Load(pass)
	require.NoError(t, err)
	assert.Equal(t, created.Fingerprint, loaded.Fingerprint)

	_, err = store.Load([]byte("wrong"))
	assert.True(t, errors.Is(err, ErrWrongPassphrase))

	_, err = store.Load(nil)
	assert.True(t, errors.Is(err, ErrPassphraseRequired))
}

func TestPassphraseOnUnsealedBundle(t *testing.T) {
	dir := t.TempDir()
	var buf bytes.Buffer
	logger, err := common.NewWriterLogger("info", &buf)
	require.NoError(t, err)
	preset := fhe.DefaultPreset()
	pass := []byte("pw")

	plain, err := LoadOrCreate(dir, preset, testFeatures, Options{}, logger)
	require.NoError(t, err)
	assert.False(t, plain.Sealed)

	buf.Reset()
	loaded, err := LoadOrCreate(dir, preset, testFeatures, Options{Passphrase: pass}, logger)
	require.NoError(t, err)
	assert.False(t, loaded.Sealed)
	assert.False(t, loaded.Generated)
	assert.Equal(t, plain.Fingerprint, loaded.Fingerprint)
	assert.Contains(t, buf.String(), "unsealed")

	sealed, err := LoadOrCreate(dir, preset, testFeatures, Options{Passphrase: pass, Force: true}, logger)
	require.NoError(t, err)
	assert.True(t, sealed.Sealed)
	assert.True(t, sealed.Generated)

	_, err = NewStore(dir, logger).Load(nil)
	assert.True(t, errors.Is(err, ErrPassphraseRequired))

	buf.Reset()
	again, err := LoadOrCreate(dir, preset, testFeatures, Options{Passphrase: pass}, logger)
	require.NoError(t, err)
	assert.True(t, again.Sealed)
	assert.NotContains(t, buf.String(), "unsealed")
}

func TestLoadRejectsTamperedSecretKey(t *testing.T) {
	store := NewStore(t.TempDir(), common.GetDiscardLogger())
	_, err := store.Generate(fhe.DefaultPreset(), testFeatures, nil)
	require.NoError(t, err)

	raw, err := os.ReadFile(store.Path())
	require.NoError(t, err)
	var b bundle
	require.NoError(t, cbor.Unmarshal(raw, &b))
	b.SecretKey = b.SecretKey[:len(b.SecretKey)/2]
	require.NoError(t, store.write(&b))

	_, err = store.Load(nil)
	assert.True(t, errors.Is(err, common.ErrMalformedPayload))
}

func TestLoadRejectsCorruptBundle(t *testing.T) {
	store := NewStore(t.TempDir(), common.GetDiscardLogger())
	_, err := store.Load(nil)
	assert.Error(t, err)

	require.NoError(t, os.MkdirAll(store.dir, 0o700))
	require.NoError(t, os.WriteFile(store.Path(), []byte("not cbor"), 0o600))
	_, err = store.Load(nil)
	assert.Error(t, err)
}

func TestSealRoundTrip(t *testing.T) {
	secret := []byte("secret key bytes")
	aad := []byte("header")

	s, err := seal([]byte("pw"), secret, aad)
	require.NoError(t, err)
	assert.NotEqual(t, secret, s.Ciphertext)

	out, err := s.open([]byte("pw"), aad)
	require.NoError(t, err)
	assert.Equal(t, secret, out)

	_, err = s.open([]byte("pw"), []byte("other header"))
	assert.Equal(t, ErrWrongPassphrase, err)
}
