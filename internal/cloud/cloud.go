// Package cloud owns the shared platform session and the conventions every
// service client builds on: region selection, account discovery, artifact
// bucket naming, and the built-in algorithm image registry.
package cloud

import (
	"fmt"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	cleanhttp "github.com/hashicorp/go-cleanhttp"
	"github.com/pkg/errors"

	"github.com/machinist-ai/machinist/pkg/check"
)

// Config selects the platform target. Credentials are never configured here;
// the ambient provider chain (environment, shared credentials file, instance
// role) is the only supported source.
type Config struct {
	Region      string `json:"region"`
	Profile     string `json:"profile"`
	EndpointURL string `json:"endpoint_url"`
	MaxRetries  int    `json:"max_retries"`
}

// DefaultConfig returns the default cloud configuration.
func DefaultConfig() Config {
	return Config{
		Region:     "us-east-1",
		MaxRetries: 6,
	}
}

// Validate implements the check.Validatable interface.
func (c Config) Validate() []error {
	return []error{
		check.NotEmpty(c.Region, "must configure a region"),
		check.GreaterThanOrEqualTo(int64(c.MaxRetries), 0, "max retries must not be negative"),
	}
}

// NewSession builds the session shared by every service client. The endpoint
// override points all clients at a single URL, which is how local platform
// emulators are targeted.
func NewSession(cfg Config) (*session.Session, error) {
	awsConfig := aws.Config{
		Region:     aws.String(cfg.Region),
		MaxRetries: aws.Int(cfg.MaxRetries),
		// A pooled client of our own keeps connection reuse independent of the
		// SDK's shared default transport.
		HTTPClient: cleanhttp.DefaultPooledClient(),
	}
	if cfg.EndpointURL != "" {
		awsConfig.Endpoint = aws.String(cfg.EndpointURL)
		awsConfig.S3ForcePathStyle = aws.Bool(true)
	}
	sess, err := session.NewSessionWithOptions(session.Options{
		Config:            awsConfig,
		Profile:           cfg.Profile,
		SharedConfigState: session.SharedConfigEnable,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to create platform session")
	}
	return sess, nil
}

// DefaultBucket is the conventional artifact bucket name for an account in a
// region.
func DefaultBucket(region, account string) string {
	return fmt.Sprintf("machinist-%s-%s", region, account)
}
