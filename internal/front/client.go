package front

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/blindrisk/fhecredit/internal/common"
	"github.com/blindrisk/fhecredit/internal/wire"
)

// Runner sends one encrypted record and its evaluation keys to a blind
// evaluator and returns the encrypted score.
type Runner interface {
	RunFHE(ctx context.Context, encryptedData, evaluationKeys []byte) ([]byte, error)
}

// RemoteServer talks to a blind server over HTTP.
type RemoteServer struct {
	BaseURL string
	client  *http.Client
	logger  *common.Logger
}

func NewRemoteServer(baseURL string, timeout time.Duration, logger *common.Logger) *RemoteServer {
	return &RemoteServer{
		BaseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
		logger:  common.GetLogger("remote", logger),
	}
}

// RunFHE posts to /run_fhe. Transport failures wrap common.ErrServerUnavailable,
// non-2xx answers wrap common.ErrServerRejected.
func (r *RemoteServer) RunFHE(ctx context.Context, encryptedData, evaluationKeys []byte) ([]byte, error) {
	body, err := json.Marshal(wire.NewRunRequest(encryptedData, evaluationKeys))
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode request")
	}

	r.logger.Info("POST %s%s (%d bytes)", r.BaseURL, wire.RunPath, len(body))
	status, respBody, reqID, err := r.do(ctx, http.MethodPost, wire.RunPath, body)
	if err != nil {
		return nil, err
	}
	r.logger.Info("POST %s%s -> %d (request %s)", r.BaseURL, wire.RunPath, status, reqID)
	if err := checkStatus(status, respBody); err != nil {
		return nil, err
	}

	var out wire.RunResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return nil, errors.WithMessagef(common.ErrServerRejected, "undecodable response: %v", err)
	}
	result, err := out.Decode()
	if err != nil {
		return nil, errors.WithMessage(common.ErrServerRejected, err.Error())
	}
	return result, nil
}

// Health calls GET /health and returns the reported status.
func (r *RemoteServer) Health(ctx context.Context) (string, error) {
	status, respBody, _, err := r.do(ctx, http.MethodGet, wire.HealthPath, nil)
	if err != nil {
		return "", err
	}
	if err := checkStatus(status, respBody); err != nil {
		return "", err
	}
	var out wire.HealthResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return "", errors.WithMessagef(common.ErrServerRejected, "undecodable health response: %v", err)
	}
	return out.Status, nil
}

func (r *RemoteServer) do(ctx context.Context, method, path string, body []byte) (int, []byte, string, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, r.BaseURL+path, reader)
	if err != nil {
		return 0, nil, "", errors.WithMessagef(common.ErrServerUnavailable, "invalid server url %q: %v", r.BaseURL, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := r.client.Do(req)
	if err != nil {
		r.logger.Error("error during sending request to %s: %s", r.BaseURL, err)
		return 0, nil, "", errors.WithMessage(common.ErrServerUnavailable, err.Error())
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, "", errors.WithMessagef(common.ErrServerUnavailable, "error during reading response: %v", err)
	}
	return resp.StatusCode, respBody, resp.Header.Get(wire.RequestIDHeader), nil
}

func checkStatus(status int, body []byte) error {
	if status >= 200 && status < 300 {
		return nil
	}
	var e wire.ErrorResponse
	if err := json.Unmarshal(body, &e); err == nil && e.Error != "" {
		return errors.WithMessagef(common.ErrServerRejected, "status %d: %s", status, e.Error)
	}
	return errors.WithMessagef(common.ErrServerRejected, "status %d", status)
}
