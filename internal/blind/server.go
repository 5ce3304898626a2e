// Package blind is the server side of the system. It holds the model weights in
// clear, receives ciphertexts and evaluation keys, and returns an encrypted
// score. It never sees a secret key.
package blind

import (
	"context"
	"net/http"

	"github.com/blindrisk/fhecredit/internal/common"
	"github.com/blindrisk/fhecredit/internal/fhe"
	"github.com/blindrisk/fhecredit/internal/model"
	"github.com/blindrisk/fhecredit/internal/wire"
)

// Evaluator runs the homomorphic circuit on serialized inputs.
type Evaluator interface {
	Run(encryptedData, evaluationKeys []byte) ([]byte, error)
	NumFeatures() int
}

type Server struct {
	*common.HttpServer
	evaluator Evaluator
	logger    *common.Logger
}

// LoadEvaluator reads the server artifact and builds its logistic circuit.
func LoadEvaluator(path string) (*fhe.LogisticCircuit, error) {
	art, err := model.LoadServerArtifact(path)
	if err != nil {
		return nil, err
	}
	return art.Circuit()
}

func NewServer(cfg common.ServerConfig, evaluator Evaluator, logger *common.Logger) *Server {
	server := &Server{
		evaluator: evaluator,
		logger:    common.GetLogger("blind", logger),
	}

	endpoints := []common.Endpoint{
		{Method: http.MethodGet, Path: wire.HealthPath, Handler: server.healthEndpoint},
		{Method: http.MethodPost, Path: wire.RunPath, Handler: server.runEndpoint},
	}
	server.HttpServer = common.InitHttpServer(logger, endpoints, cfg.MaxBodyBytes)
	return server
}

func (server *Server) Run(ctx context.Context, addr string) error {
	server.logger.Info("serving a %d-feature model", server.evaluator.NumFeatures())
	return server.HttpServer.Run(ctx, addr)
}
