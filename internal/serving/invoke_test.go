package serving

import (
	"context"
	"strconv"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/sagemakerruntime"
	"gotest.tools/assert"
)

type runtimeMock struct {
	endpoint    string
	contentType string
	body        string

	response string
	err      error
}

func (m *runtimeMock) InvokeEndpointWithContext(
	_ aws.Context, in *sagemakerruntime.InvokeEndpointInput, _ ...request.Option,
) (*sagemakerruntime.InvokeEndpointOutput, error) {
	m.endpoint = aws.StringValue(in.EndpointName)
	m.contentType = aws.StringValue(in.ContentType)
	m.body = string(in.Body)
	if m.err != nil {
		return nil, m.err
	}
	return &sagemakerruntime.InvokeEndpointOutput{Body: []byte(m.response)}, nil
}

func TestInvokeSendsEncodedRecord(t *testing.T) {
	mock := &runtimeMock{response: "0.87"}
	score, err := NewInvokerWithAPI(mock).Invoke(context.Background(),
		"telemetry", " L , 298.4 ,308.2, 1582, 70.7 ,216 ")
	assert.NilError(t, err)
	assert.Equal(t, mock.endpoint, "telemetry")
	assert.Equal(t, mock.contentType, "text/csv")
	// The variant goes over the wire in its training-time numeric encoding.
	assert.Equal(t, mock.body, "0,298.4,308.2,1582,70.7,216")
	assert.Equal(t, score.Value, 0.87)
}

func TestInvokeBodyIsNumericOnly(t *testing.T) {
	for record, want := range map[string]string{
		"L,298.4,308.2,1582,70.7,216": "0,298.4,308.2,1582,70.7,216",
		"M,298.4,308.2,1582,70.7,216": "1,298.4,308.2,1582,70.7,216",
		"H,298.4,308.2,1582,70.7,216": "2,298.4,308.2,1582,70.7,216",
	} {
		mock := &runtimeMock{response: "0.5"}
		_, err := NewInvokerWithAPI(mock).Invoke(context.Background(), "telemetry", record)
		assert.NilError(t, err)
		assert.Equal(t, mock.body, want)
		for _, field := range strings.Split(mock.body, ",") {
			_, err := strconv.ParseFloat(field, 64)
			assert.NilError(t, err, "field %q of %q must be numeric", field, mock.body)
		}
	}
}

func TestInvokeRejectsMalformedRecord(t *testing.T) {
	mock := &runtimeMock{response: "0.87"}
	_, err := NewInvokerWithAPI(mock).Invoke(context.Background(), "telemetry", "L,298.4")
	assert.ErrorContains(t, err, "expected 6 comma-separated fields")
	assert.Equal(t, mock.body, "", "malformed records must never reach the endpoint")
}

func TestInvokeWrapsEndpointFailure(t *testing.T) {
	mock := &runtimeMock{err: awserr.New("ModelError", "container crashed", nil)}
	_, err := NewInvokerWithAPI(mock).Invoke(context.Background(),
		"telemetry", "L,298.4,308.2,1582,70.7,216")
	assert.ErrorContains(t, err, "cannot invoke endpoint telemetry")
}

func TestParseScore(t *testing.T) {
	cases := []struct {
		name string
		body string
		want float64
	}{
		{"bare float", "0.8731\n", 0.8731},
		{"csv row", "0.91,0.09", 0.91},
		{"multi line csv", "0.42\n0.58\n", 0.42},
		{"json array", "[0.13, 0.87]", 0.13},
		{"integer", "1", 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			score, err := ParseScore(tc.body)
			assert.NilError(t, err)
			assert.Equal(t, score.Value, tc.want)
			assert.Equal(t, score.Raw, tc.body)
		})
	}
}

func TestParseScoreRejectsGarbage(t *testing.T) {
	for _, body := range []string{"", "   ", "not-a-score", "[]", "[\"a\"]"} {
		_, err := ParseScore(body)
		assert.Assert(t, err != nil, "body %q should not parse", body)
	}
}
