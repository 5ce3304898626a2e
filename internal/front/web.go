package front

import (
	"embed"
	"encoding/json"
	"html/template"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"

	"github.com/blindrisk/fhecredit/internal/common"
	"github.com/blindrisk/fhecredit/internal/model"
)

//go:embed templates/*.html
var templateFS embed.FS

const serverURLField = "server_url"

type field struct {
	Name    string
	Options []string
}

type indexData struct {
	CatFields     []field
	NumFields     []string
	DefaultServer string
}

type resultData struct {
	ServerURL  string
	Prediction *Prediction
	Row        model.Record
	Columns    []string
	Error      string
}

// WebUI serves the HTML form and the JSON prediction API.
type WebUI struct {
	*common.HttpServer
	front     *Front
	serverURL string
	timeout   time.Duration
	logger    *common.Logger
}

func NewWebUI(front *Front, cfg common.FrontConfig, logger *common.Logger) (*WebUI, error) {
	tmpl, err := template.New("").Funcs(template.FuncMap{
		"pct":  func(p float64) string { return strconv.FormatFloat(100*p, 'f', 2, 64) + " %" },
		"secs": func(s float64) string { return strconv.FormatFloat(s, 'f', 3, 64) + " s" },
	}).ParseFS(templateFS, "templates/*.html")
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse templates")
	}

	ui := &WebUI{
		front:     front,
		serverURL: cfg.ServerURL,
		timeout:   cfg.RequestTimeout,
		logger:    common.GetLogger("web", logger),
	}
	endpoints := []common.Endpoint{
		{Method: http.MethodGet, Path: "/", Handler: ui.indexEndpoint},
		{Method: http.MethodPost, Path: "/predict", Handler: ui.predictFormEndpoint},
		{Method: http.MethodPost, Path: "/api/predict", Handler: ui.predictAPIEndpoint},
	}
	ui.HttpServer = common.InitHttpServer(logger, endpoints, 1<<20)
	ui.Router().SetHTMLTemplate(tmpl)
	return ui, nil
}

// endpoint: [GET] /
func (ui *WebUI) indexEndpoint(c *gin.Context) (common.ResponseType, int, any) {
	art := ui.front.Artifact()
	data := indexData{
		NumFields:     art.Preprocessor.NumCols,
		DefaultServer: ui.serverURL,
	}
	for j, col := range art.Preprocessor.CatCols {
		data.CatFields = append(data.CatFields, field{
			Name:    col,
			Options: art.Schema.Domain(col, art.Preprocessor.Categories[j]),
		})
	}
	return common.HTMLResponse, http.StatusOK, common.Page{Template: "index.html", Data: data}
}

// endpoint: [POST] /predict
func (ui *WebUI) predictFormEndpoint(c *gin.Context) (common.ResponseType, int, any) {
	art := ui.front.Artifact()
	row := make(model.Record, len(art.Schema.Features))
	for _, col := range art.Schema.Features {
		if v := strings.TrimSpace(c.PostForm(col)); v != "" {
			row[col] = v
		}
	}
	serverURL := ui.resolveServer(c.PostForm(serverURLField))

	data := resultData{ServerURL: serverURL, Row: row, Columns: art.Schema.Features}
	pred, err := ui.predict(c, serverURL, row)
	if err != nil {
		data.Error = err.Error()
		return common.HTMLResponse, statusFor(err), common.Page{Template: "result.html", Data: data}
	}
	data.Prediction = pred
	return common.HTMLResponse, http.StatusOK, common.Page{Template: "result.html", Data: data}
}

// predictAPIEndpoint takes a raw record as a JSON object. The server can be
// overridden with the server_url query parameter.
//
// endpoint: [POST] /api/predict
func (ui *WebUI) predictAPIEndpoint(c *gin.Context) (common.ResponseType, int, any) {
	var row model.Record
	dec := json.NewDecoder(c.Request.Body)
	dec.UseNumber()
	if err := dec.Decode(&row); err != nil {
		return common.ErrorResponse, http.StatusBadRequest,
			errors.WithMessagef(common.ErrInvalidInput, "invalid JSON record: %v", err)
	}

	pred, err := ui.predict(c, ui.resolveServer(c.Query(serverURLField)), row)
	if err != nil {
		return common.ErrorResponse, statusFor(err), err
	}
	return common.JSONResponse, http.StatusOK, pred
}

func (ui *WebUI) predict(c *gin.Context, serverURL string, row model.Record) (*Prediction, error) {
	ui.logger.Info("%s predicting via %s", common.RequestID(c), serverURL)
	runner := ui.front.runner
	if serverURL != ui.serverURL {
		runner = NewRemoteServer(serverURL, ui.timeout, ui.logger)
	}
	return ui.front.PredictWith(c.Request.Context(), runner, row)
}

func (ui *WebUI) resolveServer(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ui.serverURL
	}
	return strings.TrimRight(s, "/")
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, common.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, common.ErrServerUnavailable), errors.Is(err, common.ErrServerRejected):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
