package common

import "github.com/pkg/errors"

var (
	// ErrInvalidInput is returned when a raw applicant record is missing fields or has ill-typed values.
	ErrInvalidInput = errors.New("invalid input record")

	// ErrMalformedPayload is returned when a request body, base64 field, ciphertext or key set cannot be decoded.
	ErrMalformedPayload = errors.New("malformed payload")

	ErrServerUnavailable = errors.New("blind server unavailable")
	ErrServerRejected    = errors.New("blind server rejected the request")

	// ErrKeyMismatch is returned when persisted key material does not match the model artifact.
	ErrKeyMismatch = errors.New("key material does not match artifact")

	ErrInsufficientLevels = errors.New("insufficient ciphertext levels")
	ErrUnsupportedParams  = errors.New("unsupported CKKS parameters")
	ErrInvalidArtifact    = errors.New("invalid model artifact")
)
