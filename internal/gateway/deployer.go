package gateway

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"os"
	"regexp"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/apigatewayv2"
	"github.com/aws/aws-sdk-go/service/lambda"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/machinist-ai/machinist/internal/await"
	"github.com/machinist-ai/machinist/internal/cloud"
	"github.com/machinist-ai/machinist/pkg/check"
	"github.com/machinist-ai/machinist/pkg/model"
)

// EndpointEnvVar names the inference endpoint the deployed function invokes.
// The endpoint is configuration, never a literal in the function.
const EndpointEnvVar = "MACHINIST_ENDPOINT_NAME"

const (
	routeKeyPost    = "POST /predict"
	routeKeyOptions = "OPTIONS /predict"
	defaultStage    = "$default"
)

// FunctionAPI is the subset of the serverless compute service the deployer
// calls.
type FunctionAPI interface {
	GetFunctionWithContext(
		aws.Context, *lambda.GetFunctionInput, ...request.Option,
	) (*lambda.GetFunctionOutput, error)
	CreateFunctionWithContext(
		aws.Context, *lambda.CreateFunctionInput, ...request.Option,
	) (*lambda.FunctionConfiguration, error)
	UpdateFunctionCodeWithContext(
		aws.Context, *lambda.UpdateFunctionCodeInput, ...request.Option,
	) (*lambda.FunctionConfiguration, error)
	UpdateFunctionConfigurationWithContext(
		aws.Context, *lambda.UpdateFunctionConfigurationInput, ...request.Option,
	) (*lambda.FunctionConfiguration, error)
	GetFunctionConfigurationWithContext(
		aws.Context, *lambda.GetFunctionConfigurationInput, ...request.Option,
	) (*lambda.FunctionConfiguration, error)
	AddPermissionWithContext(
		aws.Context, *lambda.AddPermissionInput, ...request.Option,
	) (*lambda.AddPermissionOutput, error)
}

// HTTPApiAPI is the subset of the managed HTTP gateway service the deployer
// calls.
type HTTPApiAPI interface {
	GetApisWithContext(
		aws.Context, *apigatewayv2.GetApisInput, ...request.Option,
	) (*apigatewayv2.GetApisOutput, error)
	CreateApiWithContext(
		aws.Context, *apigatewayv2.CreateApiInput, ...request.Option,
	) (*apigatewayv2.CreateApiOutput, error)
	GetIntegrationsWithContext(
		aws.Context, *apigatewayv2.GetIntegrationsInput, ...request.Option,
	) (*apigatewayv2.GetIntegrationsOutput, error)
	CreateIntegrationWithContext(
		aws.Context, *apigatewayv2.CreateIntegrationInput, ...request.Option,
	) (*apigatewayv2.CreateIntegrationOutput, error)
	GetRoutesWithContext(
		aws.Context, *apigatewayv2.GetRoutesInput, ...request.Option,
	) (*apigatewayv2.GetRoutesOutput, error)
	CreateRouteWithContext(
		aws.Context, *apigatewayv2.CreateRouteInput, ...request.Option,
	) (*apigatewayv2.CreateRouteOutput, error)
	GetStagesWithContext(
		aws.Context, *apigatewayv2.GetStagesInput, ...request.Option,
	) (*apigatewayv2.GetStagesOutput, error)
	CreateStageWithContext(
		aws.Context, *apigatewayv2.CreateStageInput, ...request.Option,
	) (*apigatewayv2.CreateStageOutput, error)
}

var functionNamePattern = regexp.MustCompile(`^[a-zA-Z0-9-_]{1,64}$`)

// Spec describes one gateway deployment: the function and the HTTP API in
// front of it.
type Spec struct {
	FunctionName string         `json:"function_name"`
	APIName      string         `json:"api_name"`
	RoleARN      string         `json:"role_arn"`
	EndpointName string         `json:"endpoint_name"`
	BinaryPath   string         `json:"binary_path"`
	MemoryMB     int            `json:"memory_mb"`
	Timeout      model.Duration `json:"timeout"`
}

// DefaultSpec returns a spec with the workshop defaults filled in.
func DefaultSpec() Spec {
	return Spec{
		FunctionName: "machinist-predict",
		APIName:      "machinist",
		MemoryMB:     128,
		Timeout:      model.Duration(30 * time.Second),
	}
}

// Validate implements the check.Validatable interface.
func (s Spec) Validate() []error {
	return []error{
		check.Match(s.FunctionName, functionNamePattern, "function name"),
		check.NotEmpty(s.APIName, "api name must be set"),
		check.NotEmpty(s.RoleARN, "function execution role must be set"),
		check.NotEmpty(s.EndpointName, "inference endpoint name must be set"),
		check.NotEmpty(s.BinaryPath, "function binary path must be set"),
		check.GreaterThanOrEqualTo(int64(s.MemoryMB), 128, "function memory"),
		check.GreaterThan(s.Timeout.Seconds(), 0, "function timeout"),
	}
}

// Package zips the function binary into the layout the custom runtime
// expects: a single executable named bootstrap at the archive root.
func Package(binary []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	header := &zip.FileHeader{Name: "bootstrap", Method: zip.Deflate}
	header.SetMode(0o755)
	w, err := zw.CreateHeader(header)
	if err != nil {
		return nil, errors.Wrap(err, "cannot start function archive")
	}
	if _, err := w.Write(binary); err != nil {
		return nil, errors.Wrap(err, "cannot write function binary")
	}
	if err := zw.Close(); err != nil {
		return nil, errors.Wrap(err, "cannot finish function archive")
	}
	return buf.Bytes(), nil
}

const (
	defaultPollInterval = 3 * time.Second
	defaultSettleWindow = 5 * time.Minute
)

// Deployer installs the function and the HTTP API in front of it.
type Deployer struct {
	functions FunctionAPI
	apis      HTTPApiAPI
	region    string
	account   string
	poll      time.Duration
	window    time.Duration
	syslog    *logrus.Entry
}

// New builds a deployer on the given session. The account scopes the API's
// permission to invoke the function.
func New(sess *session.Session, region, account string) *Deployer {
	return NewWithAPIs(lambda.New(sess), apigatewayv2.New(sess), region, account)
}

// NewWithAPIs builds a deployer on explicit clients, used by tests.
func NewWithAPIs(functions FunctionAPI, apis HTTPApiAPI, region, account string) *Deployer {
	return &Deployer{
		functions: functions,
		apis:      apis,
		region:    region,
		account:   account,
		poll:      defaultPollInterval,
		window:    defaultSettleWindow,
		syslog:    logrus.WithField("component", "gateway"),
	}
}

// Deploy creates or updates the function and its HTTP API and returns the
// public prediction URL.
func (d *Deployer) Deploy(ctx context.Context, spec Spec) (string, error) {
	if err := check.Validate(spec); err != nil {
		return "", err
	}
	binary, err := os.ReadFile(spec.BinaryPath)
	if err != nil {
		return "", errors.Wrapf(err, "cannot read function binary %s", spec.BinaryPath)
	}
	archive, err := Package(binary)
	if err != nil {
		return "", err
	}

	functionARN, err := d.ensureFunction(ctx, spec, archive)
	if err != nil {
		return "", err
	}

	apiID, apiEndpoint, err := d.ensureAPI(ctx, spec.APIName)
	if err != nil {
		return "", err
	}
	if err := d.ensureRoutes(ctx, apiID, functionARN); err != nil {
		return "", err
	}
	if err := d.ensureStage(ctx, apiID); err != nil {
		return "", err
	}
	if err := d.permitAPI(ctx, spec.FunctionName, apiID); err != nil {
		return "", err
	}

	url := apiEndpoint + "/predict"
	d.syslog.Infof("gateway is up at %s", url)
	return url, nil
}

func (d *Deployer) ensureFunction(ctx context.Context, spec Spec, archive []byte) (string, error) {
	environment := &lambda.Environment{
		Variables: map[string]*string{EndpointEnvVar: aws.String(spec.EndpointName)},
	}

	out, err := d.functions.GetFunctionWithContext(ctx, &lambda.GetFunctionInput{
		FunctionName: aws.String(spec.FunctionName),
	})
	switch {
	case cloud.IsNotFound(err):
		d.syslog.Infof("creating function %s", spec.FunctionName)
		created, err := d.functions.CreateFunctionWithContext(ctx, &lambda.CreateFunctionInput{
			FunctionName: aws.String(spec.FunctionName),
			Role:         aws.String(spec.RoleARN),
			Runtime:      aws.String(lambda.RuntimeProvidedAl2),
			Handler:      aws.String("bootstrap"),
			Code:         &lambda.FunctionCode{ZipFile: archive},
			Environment:  environment,
			MemorySize:   aws.Int64(int64(spec.MemoryMB)),
			Timeout:      aws.Int64(spec.Timeout.Seconds()),
		})
		if err != nil {
			return "", errors.Wrapf(err, "cannot create function %s", spec.FunctionName)
		}
		if err := d.awaitFunctionReady(ctx, spec.FunctionName); err != nil {
			return "", err
		}
		return aws.StringValue(created.FunctionArn), nil
	case err != nil:
		return "", errors.Wrapf(err, "cannot describe function %s", spec.FunctionName)
	}

	d.syslog.Infof("function %s exists, updating", spec.FunctionName)
	if _, err := d.functions.UpdateFunctionCodeWithContext(ctx, &lambda.UpdateFunctionCodeInput{
		FunctionName: aws.String(spec.FunctionName),
		ZipFile:      archive,
	}); err != nil {
		return "", errors.Wrapf(err, "cannot update code of function %s", spec.FunctionName)
	}
	if err := d.awaitFunctionReady(ctx, spec.FunctionName); err != nil {
		return "", err
	}
	if _, err := d.functions.UpdateFunctionConfigurationWithContext(ctx,
		&lambda.UpdateFunctionConfigurationInput{
			FunctionName: aws.String(spec.FunctionName),
			Role:         aws.String(spec.RoleARN),
			Environment:  environment,
			MemorySize:   aws.Int64(int64(spec.MemoryMB)),
			Timeout:      aws.Int64(spec.Timeout.Seconds()),
		}); err != nil {
		return "", errors.Wrapf(err, "cannot update configuration of function %s", spec.FunctionName)
	}
	if err := d.awaitFunctionReady(ctx, spec.FunctionName); err != nil {
		return "", err
	}
	return aws.StringValue(out.Configuration.FunctionArn), nil
}

func (d *Deployer) awaitFunctionReady(ctx context.Context, name string) error {
	return await.Wait(ctx, await.Config{
		Interval: d.poll,
		Timeout:  d.window,
		Log:      d.syslog.WithField("function", name),
	}, func(ctx context.Context) (string, bool, error) {
		cfg, err := d.functions.GetFunctionConfigurationWithContext(ctx,
			&lambda.GetFunctionConfigurationInput{FunctionName: aws.String(name)})
		if err != nil {
			return "", false, errors.Wrapf(err, "cannot describe function %s", name)
		}
		state := aws.StringValue(cfg.State)
		update := aws.StringValue(cfg.LastUpdateStatus)
		switch {
		case state == lambda.StateFailed:
			return "", false, errors.Errorf("function %s reached %s: %s",
				name, state, aws.StringValue(cfg.StateReason))
		case update == lambda.LastUpdateStatusFailed:
			return "", false, errors.Errorf("function %s update failed: %s",
				name, aws.StringValue(cfg.LastUpdateStatusReason))
		case state == lambda.StateActive && update != lambda.LastUpdateStatusInProgress:
			return state, true, nil
		default:
			return fmt.Sprintf("%s/%s", state, update), false, nil
		}
	})
}

func (d *Deployer) ensureAPI(ctx context.Context, name string) (id, endpoint string, err error) {
	var token *string
	for {
		out, err := d.apis.GetApisWithContext(ctx, &apigatewayv2.GetApisInput{
			MaxResults: aws.String("100"),
			NextToken:  token,
		})
		if err != nil {
			return "", "", errors.Wrap(err, "cannot list http apis")
		}
		for _, api := range out.Items {
			if aws.StringValue(api.Name) == name {
				return aws.StringValue(api.ApiId), aws.StringValue(api.ApiEndpoint), nil
			}
		}
		if out.NextToken == nil {
			break
		}
		token = out.NextToken
	}

	d.syslog.Infof("creating http api %s", name)
	created, err := d.apis.CreateApiWithContext(ctx, &apigatewayv2.CreateApiInput{
		Name:         aws.String(name),
		ProtocolType: aws.String(apigatewayv2.ProtocolTypeHttp),
	})
	if err != nil {
		return "", "", errors.Wrapf(err, "cannot create http api %s", name)
	}
	return aws.StringValue(created.ApiId), aws.StringValue(created.ApiEndpoint), nil
}

func (d *Deployer) ensureRoutes(ctx context.Context, apiID, functionARN string) error {
	integrationID, err := d.ensureIntegration(ctx, apiID, functionARN)
	if err != nil {
		return err
	}

	routes, err := d.apis.GetRoutesWithContext(ctx, &apigatewayv2.GetRoutesInput{
		ApiId:      aws.String(apiID),
		MaxResults: aws.String("100"),
	})
	if err != nil {
		return errors.Wrapf(err, "cannot list routes of api %s", apiID)
	}
	existing := map[string]bool{}
	for _, route := range routes.Items {
		existing[aws.StringValue(route.RouteKey)] = true
	}

	for _, key := range []string{routeKeyPost, routeKeyOptions} {
		if existing[key] {
			continue
		}
		if _, err := d.apis.CreateRouteWithContext(ctx, &apigatewayv2.CreateRouteInput{
			ApiId:    aws.String(apiID),
			RouteKey: aws.String(key),
			Target:   aws.String("integrations/" + integrationID),
		}); err != nil {
			return errors.Wrapf(err, "cannot create route %q", key)
		}
		d.syslog.Infof("created route %q", key)
	}
	return nil
}

func (d *Deployer) ensureIntegration(ctx context.Context, apiID, functionARN string) (string, error) {
	integrations, err := d.apis.GetIntegrationsWithContext(ctx, &apigatewayv2.GetIntegrationsInput{
		ApiId:      aws.String(apiID),
		MaxResults: aws.String("100"),
	})
	if err != nil {
		return "", errors.Wrapf(err, "cannot list integrations of api %s", apiID)
	}
	for _, integration := range integrations.Items {
		if aws.StringValue(integration.IntegrationUri) == functionARN {
			return aws.StringValue(integration.IntegrationId), nil
		}
	}

	created, err := d.apis.CreateIntegrationWithContext(ctx, &apigatewayv2.CreateIntegrationInput{
		ApiId:                aws.String(apiID),
		IntegrationType:      aws.String(apigatewayv2.IntegrationTypeAwsProxy),
		IntegrationUri:       aws.String(functionARN),
		PayloadFormatVersion: aws.String("2.0"),
	})
	if err != nil {
		return "", errors.Wrapf(err, "cannot create integration for api %s", apiID)
	}
	return aws.StringValue(created.IntegrationId), nil
}

func (d *Deployer) ensureStage(ctx context.Context, apiID string) error {
	stages, err := d.apis.GetStagesWithContext(ctx, &apigatewayv2.GetStagesInput{
		ApiId: aws.String(apiID),
	})
	if err != nil {
		return errors.Wrapf(err, "cannot list stages of api %s", apiID)
	}
	for _, stage := range stages.Items {
		if aws.StringValue(stage.StageName) == defaultStage {
			return nil
		}
	}
	_, err = d.apis.CreateStageWithContext(ctx, &apigatewayv2.CreateStageInput{
		ApiId:      aws.String(apiID),
		StageName:  aws.String(defaultStage),
		AutoDeploy: aws.Bool(true),
	})
	return errors.Wrapf(err, "cannot create %s stage of api %s", defaultStage, apiID)
}

// permitAPI lets the HTTP API invoke the function. The statement id is stable
// so repeated deploys hit the already-exists conflict, which counts as done.
func (d *Deployer) permitAPI(ctx context.Context, functionName, apiID string) error {
	sourceARN := fmt.Sprintf("arn:aws:execute-api:%s:%s:%s/*/*/predict",
		d.region, d.account, apiID)
	_, err := d.functions.AddPermissionWithContext(ctx, &lambda.AddPermissionInput{
		FunctionName: aws.String(functionName),
		StatementId:  aws.String("machinist-gateway-invoke"),
		Action:       aws.String("lambda:InvokeFunction"),
		Principal:    aws.String("apigateway.amazonaws.com"),
		SourceArn:    aws.String(sourceARN),
	})
	if err != nil && !cloud.IsCode(err, lambda.ErrCodeResourceConflictException) {
		return errors.Wrapf(err, "cannot permit api %s to invoke %s", apiID, functionName)
	}
	return nil
}
