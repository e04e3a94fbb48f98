package serving

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/sagemakerruntime"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/machinist-ai/machinist/internal/dataset"
)

// RuntimeAPI is the subset of the inference runtime the invoker calls.
type RuntimeAPI interface {
	InvokeEndpointWithContext(
		aws.Context, *sagemakerruntime.InvokeEndpointInput, ...request.Option,
	) (*sagemakerruntime.InvokeEndpointOutput, error)
}

// Score is one prediction from the endpoint: the parsed value and the raw
// response body it came from.
type Score struct {
	Value float64
	Raw   string
}

// Invoker sends records to a deployed endpoint. Invocations are never
// retried here; the real-time path stays a single round trip and callers own
// any retry policy.
type Invoker struct {
	api    RuntimeAPI
	syslog *logrus.Entry
}

// NewInvoker builds an invoker on the given session.
func NewInvoker(sess *session.Session) *Invoker {
	return NewInvokerWithAPI(sagemakerruntime.New(sess))
}

// NewInvokerWithAPI builds an invoker on an explicit client, used by tests.
func NewInvokerWithAPI(api RuntimeAPI) *Invoker {
	return &Invoker{
		api:    api,
		syslog: logrus.WithField("component", "serving"),
	}
}

// Invoke parses the 6-field plaintext record and sends it to the endpoint as
// text/csv with the training-time feature encoding applied: the model was
// trained on numerically encoded variants, so the letter form never crosses
// the wire.
func (i *Invoker) Invoke(ctx context.Context, endpoint, payload string) (Score, error) {
	record, err := dataset.ParseInference(payload)
	if err != nil {
		return Score{}, err
	}
	out, err := i.api.InvokeEndpointWithContext(ctx, &sagemakerruntime.InvokeEndpointInput{
		EndpointName: aws.String(endpoint),
		ContentType:  aws.String("text/csv"),
		Body:         []byte(record.EncodedFeatures()),
	})
	if err != nil {
		return Score{}, errors.Wrapf(err, "cannot invoke endpoint %s", endpoint)
	}
	return ParseScore(string(out.Body))
}

// ParseScore reads the endpoint's response body. Model containers answer with
// a bare float, a one-row CSV, or a JSON array of floats; the score is the
// first value in all three shapes.
func ParseScore(body string) (Score, error) {
	raw := body
	body = strings.TrimSpace(body)
	if body == "" {
		return Score{}, errors.New("endpoint returned an empty body")
	}

	if value, err := strconv.ParseFloat(body, 64); err == nil {
		return Score{Value: value, Raw: raw}, nil
	}

	if strings.HasPrefix(body, "[") {
		var values []float64
		if err := json.Unmarshal([]byte(body), &values); err == nil && len(values) > 0 {
			return Score{Value: values[0], Raw: raw}, nil
		}
		return Score{}, errors.Errorf("endpoint returned unparseable JSON body %q", body)
	}

	first := body
	if idx := strings.IndexAny(body, ",\n"); idx >= 0 {
		first = body[:idx]
	}
	value, err := strconv.ParseFloat(strings.TrimSpace(first), 64)
	if err != nil {
		return Score{}, errors.Errorf("endpoint returned unparseable body %q", body)
	}
	return Score{Value: value, Raw: raw}, nil
}
