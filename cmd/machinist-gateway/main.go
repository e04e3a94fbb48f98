// Command machinist-gateway is the prediction gateway function: it answers
// the public /predict route by forwarding telemetry records to the inference
// endpoint. It normally runs on the serverless runtime; --listen serves the
// same handler locally.
package main

import (
	"net/http"
	"os"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/pflag"

	"github.com/machinist-ai/machinist/internal/cloud"
	"github.com/machinist-ai/machinist/internal/gateway"
	"github.com/machinist-ai/machinist/internal/serving"
)

func newHandler() (*gateway.Handler, error) {
	endpoint := os.Getenv(gateway.EndpointEnvVar)
	if endpoint == "" {
		return nil, errors.Errorf("%s must name the inference endpoint", gateway.EndpointEnvVar)
	}
	cfg := cloud.DefaultConfig()
	if region := os.Getenv("AWS_REGION"); region != "" {
		cfg.Region = region
	}
	sess, err := cloud.NewSession(cfg)
	if err != nil {
		return nil, err
	}
	return gateway.NewHandler(endpoint, serving.NewInvoker(sess)), nil
}

func main() {
	listen := pflag.String("listen", "",
		"serve on this address instead of the serverless runtime")
	pflag.Parse()

	handler, err := newHandler()
	if err != nil {
		log.Fatalf("%+v", err)
	}

	if *listen == "" {
		lambda.Start(gateway.LambdaHandler(handler))
		return
	}
	e := gateway.NewServer(handler)
	if err := e.Start(*listen); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("%+v", err)
	}
}
