// Package serving deploys and invokes the real-time inference endpoint: model
// and endpoint-config construction, the create-or-update endpoint rollout,
// invocation with the canonical record wire format, and teardown.
package serving

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/sagemaker"
	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/machinist-ai/machinist/internal/await"
	"github.com/machinist-ai/machinist/internal/cloud"
	"github.com/machinist-ai/machinist/pkg/check"
	"github.com/machinist-ai/machinist/pkg/ptrs"
)

// API is the subset of the ML platform the deployer calls.
type API interface {
	CreateModelWithContext(
		aws.Context, *sagemaker.CreateModelInput, ...request.Option,
	) (*sagemaker.CreateModelOutput, error)
	DeleteModelWithContext(
		aws.Context, *sagemaker.DeleteModelInput, ...request.Option,
	) (*sagemaker.DeleteModelOutput, error)
	CreateEndpointConfigWithContext(
		aws.Context, *sagemaker.CreateEndpointConfigInput, ...request.Option,
	) (*sagemaker.CreateEndpointConfigOutput, error)
	DescribeEndpointConfigWithContext(
		aws.Context, *sagemaker.DescribeEndpointConfigInput, ...request.Option,
	) (*sagemaker.DescribeEndpointConfigOutput, error)
	DeleteEndpointConfigWithContext(
		aws.Context, *sagemaker.DeleteEndpointConfigInput, ...request.Option,
	) (*sagemaker.DeleteEndpointConfigOutput, error)
	CreateEndpointWithContext(
		aws.Context, *sagemaker.CreateEndpointInput, ...request.Option,
	) (*sagemaker.CreateEndpointOutput, error)
	UpdateEndpointWithContext(
		aws.Context, *sagemaker.UpdateEndpointInput, ...request.Option,
	) (*sagemaker.UpdateEndpointOutput, error)
	DescribeEndpointWithContext(
		aws.Context, *sagemaker.DescribeEndpointInput, ...request.Option,
	) (*sagemaker.DescribeEndpointOutput, error)
	DeleteEndpointWithContext(
		aws.Context, *sagemaker.DeleteEndpointInput, ...request.Option,
	) (*sagemaker.DeleteEndpointOutput, error)
}

const variantName = "AllTraffic"

var endpointNamePattern = regexp.MustCompile(`^[a-zA-Z0-9](-*[a-zA-Z0-9]){0,62}$`)

// Deployment describes one endpoint rollout. The model comes either from an
// approved registry package or from an explicit artifact and image pair, never
// both.
type Deployment struct {
	EndpointName  string `json:"endpoint_name"`
	InstanceType  string `json:"instance_type"`
	InstanceCount int    `json:"instance_count"`
	RoleARN       string `json:"role_arn"`

	ModelPackageARN string `json:"model_package_arn,omitempty"`
	ArtifactURI     string `json:"artifact_uri,omitempty"`
	Image           string `json:"image,omitempty"`
}

// Validate implements the check.Validatable interface.
func (d Deployment) Validate() []error {
	fromPackage := d.ModelPackageARN != ""
	fromArtifact := d.ArtifactURI != "" || d.Image != ""
	errs := []error{
		check.Match(d.EndpointName, endpointNamePattern,
			"endpoint name must be 1-63 alphanumeric-or-hyphen characters"),
		check.NotEmpty(d.InstanceType, "instance type must be set"),
		check.GreaterThan(int64(d.InstanceCount), 0, "instance count"),
		check.NotEmpty(d.RoleARN, "execution role must be set"),
		check.True(fromPackage != fromArtifact,
			"exactly one model source required: a model package, or an artifact with an image"),
	}
	if fromArtifact && !fromPackage {
		errs = append(errs,
			check.NotEmpty(d.ArtifactURI, "model artifact location must be set"),
			check.NotEmpty(d.Image, "inference image must be set"),
		)
	}
	return errs
}

func (d Deployment) container() *sagemaker.ContainerDefinition {
	if d.ModelPackageARN != "" {
		return &sagemaker.ContainerDefinition{
			ModelPackageName: aws.String(d.ModelPackageARN),
		}
	}
	return &sagemaker.ContainerDefinition{
		Image:        aws.String(d.Image),
		ModelDataUrl: aws.String(d.ArtifactURI),
	}
}

const (
	defaultPollInterval = 30 * time.Second
	defaultSettleWindow = 30 * time.Minute
)

// Deployer drives endpoint lifecycles through the ML platform.
type Deployer struct {
	api    API
	poll   time.Duration
	window time.Duration
	syslog *logrus.Entry
}

// New builds a deployer on the given session.
func New(sess *session.Session) *Deployer {
	return NewWithAPI(sagemaker.New(sess))
}

// NewWithAPI builds a deployer on an explicit client, used by tests.
func NewWithAPI(api API) *Deployer {
	return &Deployer{
		api:    api,
		poll:   defaultPollInterval,
		window: defaultSettleWindow,
		syslog: logrus.WithField("component", "serving"),
	}
}

// Deploy creates the model and endpoint config, then creates the endpoint or
// rolls the new config onto the existing one. It blocks until the endpoint is
// in service. Model and config names carry a fresh suffix so repeated deploys
// never collide; once an update settles, the superseded config and its models
// are removed.
func (d *Deployer) Deploy(ctx context.Context, dep Deployment) error {
	if err := check.Validate(dep); err != nil {
		return err
	}

	suffix := uuid.New().String()[:8]
	modelName := fmt.Sprintf("%s-model-%s", dep.EndpointName, suffix)
	configName := fmt.Sprintf("%s-config-%s", dep.EndpointName, suffix)

	err := cloud.Retry(ctx, func() error {
		_, err := d.api.CreateModelWithContext(ctx, &sagemaker.CreateModelInput{
			ModelName:        aws.String(modelName),
			ExecutionRoleArn: aws.String(dep.RoleARN),
			PrimaryContainer: dep.container(),
		})
		return err
	})
	if err != nil {
		return errors.Wrapf(err, "cannot create model %s", modelName)
	}
	d.syslog.Infof("created model %s", modelName)

	err = cloud.Retry(ctx, func() error {
		_, err := d.api.CreateEndpointConfigWithContext(ctx, &sagemaker.CreateEndpointConfigInput{
			EndpointConfigName: aws.String(configName),
			ProductionVariants: []*sagemaker.ProductionVariant{
				{
					VariantName:          aws.String(variantName),
					ModelName:            aws.String(modelName),
					InstanceType:         aws.String(dep.InstanceType),
					InitialInstanceCount: ptrs.Ptr(int64(dep.InstanceCount)),
					InitialVariantWeight: ptrs.Ptr(1.0),
				},
			},
		})
		return err
	})
	if err != nil {
		return errors.Wrapf(err, "cannot create endpoint config %s", configName)
	}
	d.syslog.Infof("created endpoint config %s", configName)

	previous, err := d.rollout(ctx, dep.EndpointName, configName)
	if err != nil {
		return err
	}
	if err := d.awaitInService(ctx, dep.EndpointName); err != nil {
		return err
	}
	d.reapSuperseded(ctx, previous)
	return nil
}

// rollout creates the endpoint or rolls the new config onto the existing one.
// It returns the config name the endpoint was serving before an update, empty
// for a fresh create.
func (d *Deployer) rollout(ctx context.Context, endpoint, configName string) (string, error) {
	out, err := d.api.DescribeEndpointWithContext(ctx, &sagemaker.DescribeEndpointInput{
		EndpointName: aws.String(endpoint),
	})
	switch {
	case cloud.IsNotFound(err):
		d.syslog.Infof("creating endpoint %s", endpoint)
		_, err = d.api.CreateEndpointWithContext(ctx, &sagemaker.CreateEndpointInput{
			EndpointName:       aws.String(endpoint),
			EndpointConfigName: aws.String(configName),
		})
		return "", errors.Wrapf(err, "cannot create endpoint %s", endpoint)
	case err != nil:
		return "", errors.Wrapf(err, "cannot describe endpoint %s", endpoint)
	default:
		d.syslog.Infof("endpoint %s exists, rolling config %s onto it", endpoint, configName)
		_, err = d.api.UpdateEndpointWithContext(ctx, &sagemaker.UpdateEndpointInput{
			EndpointName:       aws.String(endpoint),
			EndpointConfigName: aws.String(configName),
		})
		return aws.StringValue(out.EndpointConfigName), errors.Wrapf(err, "cannot update endpoint %s", endpoint)
	}
}

// reapSuperseded removes the config and models an update replaced, so
// repeated deploys do not accumulate orphans. The endpoint is already serving
// the new config, so failures here only warn.
func (d *Deployer) reapSuperseded(ctx context.Context, configName string) {
	if configName == "" {
		return
	}
	configOut, err := d.api.DescribeEndpointConfigWithContext(ctx,
		&sagemaker.DescribeEndpointConfigInput{EndpointConfigName: aws.String(configName)})
	if cloud.IsNotFound(err) {
		return
	}
	if err != nil {
		d.syslog.WithError(err).Warnf("cannot describe superseded endpoint config %s", configName)
		return
	}

	if _, err := d.api.DeleteEndpointConfigWithContext(ctx, &sagemaker.DeleteEndpointConfigInput{
		EndpointConfigName: aws.String(configName),
	}); err != nil && !cloud.IsNotFound(err) {
		d.syslog.WithError(err).Warnf("cannot delete superseded endpoint config %s", configName)
	} else if err == nil {
		d.syslog.Infof("deleted superseded endpoint config %s", configName)
	}
	for _, variant := range configOut.ProductionVariants {
		modelName := aws.StringValue(variant.ModelName)
		if _, err := d.api.DeleteModelWithContext(ctx, &sagemaker.DeleteModelInput{
			ModelName: aws.String(modelName),
		}); err != nil && !cloud.IsNotFound(err) {
			d.syslog.WithError(err).Warnf("cannot delete superseded model %s", modelName)
		} else if err == nil {
			d.syslog.Infof("deleted superseded model %s", modelName)
		}
	}
}

func (d *Deployer) awaitInService(ctx context.Context, endpoint string) error {
	return await.Wait(ctx, await.Config{
		Interval: d.poll,
		Timeout:  d.window,
		Log:      d.syslog.WithField("endpoint", endpoint),
	}, func(ctx context.Context) (string, bool, error) {
		out, err := d.api.DescribeEndpointWithContext(ctx, &sagemaker.DescribeEndpointInput{
			EndpointName: aws.String(endpoint),
		})
		if err != nil {
			return "", false, errors.Wrapf(err, "cannot describe endpoint %s", endpoint)
		}
		state, err := ParseState(aws.StringValue(out.EndpointStatus))
		if err != nil {
			return "", false, err
		}
		switch state {
		case InService:
			return string(state), true, nil
		case Failed:
			return "", false, errors.Errorf("endpoint %s reached %s: %s",
				endpoint, state, aws.StringValue(out.FailureReason))
		default:
			return string(state), false, nil
		}
	})
}

// Describe fetches the endpoint's current state.
func (d *Deployer) Describe(ctx context.Context, endpoint string) (State, error) {
	out, err := d.api.DescribeEndpointWithContext(ctx, &sagemaker.DescribeEndpointInput{
		EndpointName: aws.String(endpoint),
	})
	if err != nil {
		return "", errors.Wrapf(err, "cannot describe endpoint %s", endpoint)
	}
	return ParseState(aws.StringValue(out.EndpointStatus))
}

// Delete tears down the endpoint, its config, and the models behind the
// config. Missing resources are tolerated; every failure is collected so a
// partial teardown reports everything that is left behind.
func (d *Deployer) Delete(ctx context.Context, endpoint string) error {
	var merr *multierror.Error

	configName, modelNames, err := d.resolveTeardown(ctx, endpoint)
	if err != nil {
		return err
	}

	if _, err := d.api.DeleteEndpointWithContext(ctx, &sagemaker.DeleteEndpointInput{
		EndpointName: aws.String(endpoint),
	}); err != nil && !cloud.IsNotFound(err) {
		merr = multierror.Append(merr, errors.Wrapf(err, "cannot delete endpoint %s", endpoint))
	} else if err == nil {
		d.syslog.Infof("deleted endpoint %s", endpoint)
	}

	if configName != "" {
		if _, err := d.api.DeleteEndpointConfigWithContext(ctx, &sagemaker.DeleteEndpointConfigInput{
			EndpointConfigName: aws.String(configName),
		}); err != nil && !cloud.IsNotFound(err) {
			merr = multierror.Append(merr,
				errors.Wrapf(err, "cannot delete endpoint config %s", configName))
		}
	}
	for _, modelName := range modelNames {
		if _, err := d.api.DeleteModelWithContext(ctx, &sagemaker.DeleteModelInput{
			ModelName: aws.String(modelName),
		}); err != nil && !cloud.IsNotFound(err) {
			merr = multierror.Append(merr, errors.Wrapf(err, "cannot delete model %s", modelName))
		}
	}
	return merr.ErrorOrNil()
}

// resolveTeardown walks endpoint → config → models before anything is deleted,
// since the names are unrecoverable afterwards.
func (d *Deployer) resolveTeardown(
	ctx context.Context, endpoint string,
) (configName string, modelNames []string, err error) {
	endpointOut, err := d.api.DescribeEndpointWithContext(ctx, &sagemaker.DescribeEndpointInput{
		EndpointName: aws.String(endpoint),
	})
	if cloud.IsNotFound(err) {
		return "", nil, nil
	}
	if err != nil {
		return "", nil, errors.Wrapf(err, "cannot describe endpoint %s", endpoint)
	}
	configName = aws.StringValue(endpointOut.EndpointConfigName)

	configOut, err := d.api.DescribeEndpointConfigWithContext(ctx,
		&sagemaker.DescribeEndpointConfigInput{EndpointConfigName: aws.String(configName)})
	if cloud.IsNotFound(err) {
		return configName, nil, nil
	}
	if err != nil {
		return "", nil, errors.Wrapf(err, "cannot describe endpoint config %s", configName)
	}
	for _, variant := range configOut.ProductionVariants {
		modelNames = append(modelNames, aws.StringValue(variant.ModelName))
	}
	return configName, modelNames, nil
}
