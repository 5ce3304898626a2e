package common

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

const RequestIDHeader = "X-Request-ID"

type ResponseType int

const (
	JSONResponse ResponseType = iota
	HTMLResponse
	ErrorResponse
)

// Page is the body of an HTMLResponse.
type Page struct {
	Template string
	Data     any
}

type Endpoint struct {
	Method  string
	Path    string
	Handler func(c *gin.Context) (ResponseType, int, any)
}

type HttpServer struct {
	HttpLogger   *Logger
	endpoints    []Endpoint
	maxBodyBytes int64
	router       *gin.Engine
}

// InitHttpServer registers the endpoints on a fresh gin engine. A maxBodyBytes of
// zero leaves request bodies uncapped.
func InitHttpServer(logger *Logger, endpoints []Endpoint, maxBodyBytes int64) *HttpServer {
	gin.SetMode(gin.ReleaseMode)

	host := &HttpServer{
		HttpLogger:   GetLogger("http server", logger),
		endpoints:    endpoints,
		maxBodyBytes: maxBodyBytes,
		router:       gin.New(),
	}
	host.router.Use(gin.RecoveryWithWriter(host.HttpLogger.Writer()))

	for _, endpoint := range host.endpoints {
		host.router.Handle(endpoint.Method, endpoint.Path, host.addLogging(endpoint.Handler))
	}
	return host
}

func (host *HttpServer) Router() *gin.Engine {
	return host.router
}

func (host *HttpServer) addLogging(fnToCall func(c *gin.Context) (ResponseType, int, any)) gin.HandlerFunc {
	return func(c *gin.Context) {
		reqID := uuid.NewString()
		c.Header(RequestIDHeader, reqID)
		c.Set(RequestIDHeader, reqID)
		if host.maxBodyBytes > 0 {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, host.maxBodyBytes)
		}

		start := time.Now()
		host.HttpLogger.Info("%s %s -->   %-6s   %s", reqID, c.RemoteIP(), c.Request.Method, c.Request.URL.Path)
		responseType, code, body := fnToCall(c)

		switch responseType {
		case JSONResponse:
			c.JSON(code, body)
		case HTMLResponse:
			page := body.(Page)
			c.HTML(code, page.Template, page.Data)
		case ErrorResponse:
			var msg string
			switch b := body.(type) {
			case error:
				msg = b.Error()
			case string:
				msg = b
			default:
				panic("unknown error body type")
			}
			host.HttpLogger.Error("%s %d %s", reqID, code, msg)
			c.JSON(code, gin.H{"error": msg})
		}

		host.HttpLogger.Info("%s <--   %d   %s", reqID, code, time.Since(start).Round(time.Millisecond))
	}
}

// RequestID returns the id addLogging assigned to the request.
func RequestID(c *gin.Context) string {
	return c.GetString(RequestIDHeader)
}

// Run serves until ctx is cancelled, then drains in-flight requests.
func (host *HttpServer) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           host.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		host.HttpLogger.Info("listening on %s", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		host.HttpLogger.Err(err)
		return errors.Wrap(err, "http server stopped")
	case <-ctx.Done():
	}

	host.HttpLogger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, "http server shutdown")
	}
	return nil
}
