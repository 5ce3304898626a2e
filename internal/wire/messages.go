// Package wire holds the JSON messages exchanged between the front and the blind server.
package wire

import (
	"encoding/base64"

	"github.com/pkg/errors"

	"github.com/blindrisk/fhecredit/internal/common"
)

const (
	RunPath    = "/run_fhe"
	HealthPath = "/health"

	StatusOK        = "ok"
	RequestIDHeader = common.RequestIDHeader
)

// RunRequest carries one encrypted feature vector and the public evaluation keys.
type RunRequest struct {
	EncryptedData  string `json:"encrypted_data_b64"`  // Base64 encoded ciphertext
	EvaluationKeys string `json:"evaluation_keys_b64"` // Base64 encoded MemEvaluationKeySet
}

type RunResponse struct {
	EncryptedResult string `json:"encrypted_result_b64"` // Base64 encoded ciphertext
}

type HealthResponse struct {
	Status string `json:"status"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

func NewRunRequest(encryptedData, evaluationKeys []byte) RunRequest {
	return RunRequest{
		EncryptedData:  base64.StdEncoding.EncodeToString(encryptedData),
		EvaluationKeys: base64.StdEncoding.EncodeToString(evaluationKeys),
	}
}

// Decode base64-decodes both fields. Any failure wraps common.ErrMalformedPayload.
func (r RunRequest) Decode() (encryptedData, evaluationKeys []byte, err error) {
	if r.EncryptedData == "" {
		return nil, nil, errors.WithMessage(common.ErrMalformedPayload, "encrypted_data_b64 is required")
	}
	if r.EvaluationKeys == "" {
		return nil, nil, errors.WithMessage(common.ErrMalformedPayload, "evaluation_keys_b64 is required")
	}

	encryptedData, err = base64.StdEncoding.DecodeString(r.EncryptedData)
	if err != nil {
		return nil, nil, errors.WithMessagef(common.ErrMalformedPayload, "failed to decode encrypted_data_b64: %v", err)
	}
	evaluationKeys, err = base64.StdEncoding.DecodeString(r.EvaluationKeys)
	if err != nil {
		return nil, nil, errors.WithMessagef(common.ErrMalformedPayload, "failed to decode evaluation_keys_b64: %v", err)
	}
	return encryptedData, evaluationKeys, nil
}

func NewRunResponse(encryptedResult []byte) RunResponse {
	return RunResponse{EncryptedResult: base64.StdEncoding.EncodeToString(encryptedResult)}
}

func (r RunResponse) Decode() ([]byte, error) {
	if r.EncryptedResult == "" {
		return nil, errors.WithMessage(common.ErrMalformedPayload, "encrypted_result_b64 is missing")
	}
	b, err := base64.StdEncoding.DecodeString(r.EncryptedResult)
	if err != nil {
		return nil, errors.WithMessagef(common.ErrMalformedPayload, "failed to decode encrypted_result_b64: %v", err)
	}
	return b, nil
}
