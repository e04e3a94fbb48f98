package gateway

import (
	"bytes"
	"context"
	"encoding/base64"
	"net/http"
	"strings"

	"github.com/aws/aws-lambda-go/events"
)

// responseCapture records what the handler writes so it can be folded into a
// serverless response.
type responseCapture struct {
	status int
	header http.Header
	body   bytes.Buffer
}

func newResponseCapture() *responseCapture {
	return &responseCapture{status: http.StatusOK, header: http.Header{}}
}

func (c *responseCapture) Header() http.Header         { return c.header }
func (c *responseCapture) Write(p []byte) (int, error) { return c.body.Write(p) }
func (c *responseCapture) WriteHeader(code int)        { c.status = code }

// LambdaHandler adapts the HTTP handler to the serverless runtime's HTTP API
// event shape. The gateway delivers binary-unsafe bodies base64-encoded.
func LambdaHandler(
	h *Handler,
) func(context.Context, events.APIGatewayV2HTTPRequest) (events.APIGatewayV2HTTPResponse, error) {
	return func(
		ctx context.Context, event events.APIGatewayV2HTTPRequest,
	) (events.APIGatewayV2HTTPResponse, error) {
		body := event.Body
		if event.IsBase64Encoded {
			decoded, err := base64.StdEncoding.DecodeString(event.Body)
			if err != nil {
				return events.APIGatewayV2HTTPResponse{
					StatusCode: http.StatusBadRequest,
					Headers:    map[string]string{"Content-Type": "application/json"},
					Body:       `{"message": "cannot decode request body"}`,
				}, nil
			}
			body = string(decoded)
		}

		path := event.RawPath
		if path == "" {
			path = "/predict"
		}
		req, err := http.NewRequestWithContext(ctx,
			event.RequestContext.HTTP.Method, path, strings.NewReader(body))
		if err != nil {
			return events.APIGatewayV2HTTPResponse{}, err
		}
		for name, value := range event.Headers {
			req.Header.Set(name, value)
		}

		capture := newResponseCapture()
		h.ServeHTTP(capture, req)

		headers := make(map[string]string, len(capture.header))
		for name := range capture.header {
			headers[name] = capture.header.Get(name)
		}
		return events.APIGatewayV2HTTPResponse{
			StatusCode: capture.status,
			Headers:    headers,
			Body:       capture.body.String(),
		}, nil
	}
}
