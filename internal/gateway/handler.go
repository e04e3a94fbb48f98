// Package gateway exposes the inference endpoint over HTTP: the serverless
// handler contract, a local development server, and the deployer that installs
// the handler behind the managed HTTP gateway.
package gateway

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/machinist-ai/machinist/internal/dataset"
	"github.com/machinist-ai/machinist/internal/serving"
)

// Invoker is the slice of the serving layer the handler forwards to.
type Invoker interface {
	Invoke(ctx context.Context, endpoint, payload string) (serving.Score, error)
}

// Handler implements the gateway's HTTP contract:
//
//	OPTIONS        -> 200, empty body, CORS headers
//	POST           -> forward the body to the inference endpoint, answer
//	                  {"score": <float>}
//	other methods  -> 405 with an Allow header
//
// A malformed record is the caller's fault (400); a failing endpoint is not
// (502), and the platform's error chain never leaks to the client.
type Handler struct {
	endpoint string
	invoker  Invoker
	syslog   *logrus.Entry
}

// NewHandler builds a handler forwarding to the named inference endpoint.
func NewHandler(endpoint string, invoker Invoker) *Handler {
	return &Handler{
		endpoint: endpoint,
		invoker:  invoker,
		syslog:   logrus.WithField("component", "gateway"),
	}
}

type scoreResponse struct {
	Score float64 `json:"score"`
}

type errorResponse struct {
	Message string `json:"message"`
}

// ServeHTTP implements the http.Handler interface.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	writeCORS(w)
	switch r.Method {
	case http.MethodOptions:
		w.WriteHeader(http.StatusOK)
	case http.MethodPost:
		h.predict(w, r)
	default:
		w.Header().Set("Allow", "OPTIONS, POST")
		writeJSON(w, http.StatusMethodNotAllowed,
			errorResponse{Message: "method " + r.Method + " is not allowed"})
	}
}

func (h *Handler) predict(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Message: "cannot read request body"})
		return
	}
	if _, err := dataset.ParseInference(string(body)); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Message: err.Error()})
		return
	}

	score, err := h.invoker.Invoke(r.Context(), h.endpoint, string(body))
	if err != nil {
		h.syslog.WithError(err).Errorf("invocation of %s failed", h.endpoint)
		writeJSON(w, http.StatusBadGateway,
			errorResponse{Message: "inference endpoint is unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, scoreResponse{Score: score.Value})
}

func writeCORS(w http.ResponseWriter) {
	header := w.Header()
	header.Set("Access-Control-Allow-Origin", "*")
	header.Set("Access-Control-Allow-Methods", "OPTIONS, POST")
	header.Set("Access-Control-Allow-Headers", "Content-Type")
}

func writeJSON(w http.ResponseWriter, code int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}
