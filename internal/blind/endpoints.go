package blind

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"

	"github.com/blindrisk/fhecredit/internal/common"
	"github.com/blindrisk/fhecredit/internal/fhe"
	"github.com/blindrisk/fhecredit/internal/wire"
)

// endpoint: [GET] /health
func (server *Server) healthEndpoint(c *gin.Context) (common.ResponseType, int, any) {
	return common.JSONResponse, http.StatusOK, wire.HealthResponse{Status: wire.StatusOK}
}

// runEndpoint evaluates the circuit on one encrypted record. Undecodable input is
// rejected with 400 before any homomorphic work.
//
// endpoint: [POST] /run_fhe
func (server *Server) runEndpoint(c *gin.Context) (common.ResponseType, int, any) {
	reqID := common.RequestID(c)

	var body wire.RunRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return common.ErrorResponse, http.StatusRequestEntityTooLarge,
				errors.Errorf("request body exceeds %d bytes", tooLarge.Limit)
		}
		return common.ErrorResponse, http.StatusBadRequest,
			errors.WithMessagef(common.ErrMalformedPayload, "invalid JSON body: %v", err)
	}

	encryptedData, evaluationKeys, err := body.Decode()
	if err != nil {
		return common.ErrorResponse, http.StatusBadRequest, err
	}
	server.logger.Info("%s ciphertext %d bytes, evk %s (%d bytes)",
		reqID, len(encryptedData), fhe.Fingerprint(evaluationKeys), len(evaluationKeys))

	start := time.Now()
	result, err := server.evaluator.Run(encryptedData, evaluationKeys)
	if err != nil {
		if errors.Is(err, common.ErrMalformedPayload) {
			return common.ErrorResponse, http.StatusBadRequest, err
		}
		return common.ErrorResponse, http.StatusInternalServerError,
			errors.WithMessage(err, "homomorphic evaluation failed")
	}
	server.logger.Info("%s evaluated in %s", reqID, time.Since(start).Round(time.Millisecond))

	return common.JSONResponse, http.StatusOK, wire.NewRunResponse(result)
}
