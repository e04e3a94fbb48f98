package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/sagemaker"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/machinist-ai/machinist/internal/await"
	"github.com/machinist-ai/machinist/internal/cloud"
)

// API is the subset of the platform's orchestrator the client calls.
type API interface {
	CreatePipelineWithContext(
		aws.Context, *sagemaker.CreatePipelineInput, ...request.Option,
	) (*sagemaker.CreatePipelineOutput, error)
	UpdatePipelineWithContext(
		aws.Context, *sagemaker.UpdatePipelineInput, ...request.Option,
	) (*sagemaker.UpdatePipelineOutput, error)
	StartPipelineExecutionWithContext(
		aws.Context, *sagemaker.StartPipelineExecutionInput, ...request.Option,
	) (*sagemaker.StartPipelineExecutionOutput, error)
	DescribePipelineExecutionWithContext(
		aws.Context, *sagemaker.DescribePipelineExecutionInput, ...request.Option,
	) (*sagemaker.DescribePipelineExecutionOutput, error)
	ListPipelineExecutionStepsWithContext(
		aws.Context, *sagemaker.ListPipelineExecutionStepsInput, ...request.Option,
	) (*sagemaker.ListPipelineExecutionStepsOutput, error)
}

// StepStatus is one step's state inside an execution.
type StepStatus struct {
	Name          string
	Status        string
	FailureReason string
}

// ExecutionStatus is one observation of a pipeline execution.
type ExecutionStatus struct {
	ARN    string
	Status string
	Steps  []StepStatus
}

var executionTerminal = map[string]bool{
	sagemaker.PipelineExecutionStatusSucceeded: true,
	sagemaker.PipelineExecutionStatusFailed:    true,
	sagemaker.PipelineExecutionStatusStopped:   true,
}

const defaultPollInterval = 30 * time.Second

// Client installs and executes pipelines on the platform's orchestrator.
type Client struct {
	api    API
	poll   time.Duration
	syslog *logrus.Entry
}

// New builds a client on the given session.
func New(sess *session.Session) *Client {
	return NewWithAPI(sagemaker.New(sess))
}

// NewWithAPI builds a client on an explicit client, used by tests.
func NewWithAPI(api API) *Client {
	return &Client{
		api:    api,
		poll:   defaultPollInterval,
		syslog: logrus.WithField("component", "pipeline"),
	}
}

// Upsert installs the pipeline definition, creating the pipeline or updating
// it in place, and returns its ARN.
func (c *Client) Upsert(ctx context.Context, p Pipeline) (string, error) {
	definition, err := p.Definition()
	if err != nil {
		return "", err
	}

	var created *sagemaker.CreatePipelineOutput
	err = cloud.Retry(ctx, func() error {
		var err error
		created, err = c.api.CreatePipelineWithContext(ctx, &sagemaker.CreatePipelineInput{
			PipelineName:        aws.String(p.Name),
			PipelineDefinition:  aws.String(definition),
			RoleArn:             aws.String(p.RoleARN),
			ClientRequestToken:  aws.String(uuid.New().String()),
			PipelineDescription: aws.String("machinist workshop pipeline"),
		})
		return err
	})
	switch {
	case err == nil:
		c.syslog.Infof("created pipeline %s", p.Name)
		return aws.StringValue(created.PipelineArn), nil
	case !isAlreadyExists(err):
		return "", errors.Wrapf(err, "cannot create pipeline %s", p.Name)
	}

	c.syslog.Infof("pipeline %s exists, updating", p.Name)
	updated, err := c.api.UpdatePipelineWithContext(ctx, &sagemaker.UpdatePipelineInput{
		PipelineName:       aws.String(p.Name),
		PipelineDefinition: aws.String(definition),
		RoleArn:            aws.String(p.RoleARN),
	})
	if err != nil {
		return "", errors.Wrapf(err, "cannot update pipeline %s", p.Name)
	}
	return aws.StringValue(updated.PipelineArn), nil
}

func isAlreadyExists(err error) bool {
	if cloud.IsCode(err, sagemaker.ErrCodeResourceInUse) {
		return true
	}
	var aerr awserr.Error
	return errors.As(err, &aerr) && strings.Contains(aerr.Message(), "already exist")
}

// Start kicks off one execution with the given parameter overrides and
// returns its ARN. The client request token makes retried starts idempotent.
func (c *Client) Start(
	ctx context.Context, name string, overrides map[string]string,
) (string, error) {
	token := uuid.New().String()
	in := &sagemaker.StartPipelineExecutionInput{
		PipelineName:                 aws.String(name),
		ClientRequestToken:           aws.String(token),
		PipelineExecutionDisplayName: aws.String(fmt.Sprintf("%s-%s", name, token[:8])),
	}
	for param, value := range overrides {
		in.PipelineParameters = append(in.PipelineParameters, &sagemaker.Parameter{
			Name:  aws.String(param),
			Value: aws.String(value),
		})
	}

	var out *sagemaker.StartPipelineExecutionOutput
	err := cloud.Retry(ctx, func() error {
		var err error
		out, err = c.api.StartPipelineExecutionWithContext(ctx, in)
		return err
	})
	if err != nil {
		return "", errors.Wrapf(err, "cannot start pipeline %s", name)
	}
	arn := aws.StringValue(out.PipelineExecutionArn)
	c.syslog.Infof("started execution %s", arn)
	return arn, nil
}

// Describe fetches the execution's current status with its per-step states.
func (c *Client) Describe(ctx context.Context, executionARN string) (ExecutionStatus, error) {
	out, err := c.api.DescribePipelineExecutionWithContext(ctx,
		&sagemaker.DescribePipelineExecutionInput{
			PipelineExecutionArn: aws.String(executionARN),
		})
	if err != nil {
		return ExecutionStatus{}, errors.Wrapf(err, "cannot describe execution %s", executionARN)
	}
	status := ExecutionStatus{
		ARN:    executionARN,
		Status: aws.StringValue(out.PipelineExecutionStatus),
	}

	steps, err := c.api.ListPipelineExecutionStepsWithContext(ctx,
		&sagemaker.ListPipelineExecutionStepsInput{
			PipelineExecutionArn: aws.String(executionARN),
		})
	if err != nil {
		return ExecutionStatus{}, errors.Wrapf(err, "cannot list steps of execution %s", executionARN)
	}
	for _, step := range steps.PipelineExecutionSteps {
		status.Steps = append(status.Steps, StepStatus{
			Name:          aws.StringValue(step.StepName),
			Status:        aws.StringValue(step.StepStatus),
			FailureReason: aws.StringValue(step.FailureReason),
		})
	}
	return status, nil
}

// WaitExecution blocks until the execution reaches a terminal status. A
// failed or stopped execution returns an error carrying the first failing
// step's failure reason.
func (c *Client) WaitExecution(ctx context.Context, executionARN string) (ExecutionStatus, error) {
	var last ExecutionStatus
	err := await.Wait(ctx, await.Config{
		Interval: c.poll,
		Log:      c.syslog.WithField("execution", executionARN),
	}, func(ctx context.Context) (string, bool, error) {
		status, err := c.Describe(ctx, executionARN)
		if err != nil {
			return "", false, err
		}
		last = status
		if !executionTerminal[status.Status] {
			return progressLine(status), false, nil
		}
		if status.Status != sagemaker.PipelineExecutionStatusSucceeded {
			return "", false, executionError(status)
		}
		return status.Status, true, nil
	})
	return last, err
}

func progressLine(status ExecutionStatus) string {
	done := 0
	running := []string{}
	for _, step := range status.Steps {
		switch step.Status {
		case sagemaker.StepStatusSucceeded:
			done++
		case sagemaker.StepStatusExecuting, sagemaker.StepStatusStarting:
			running = append(running, step.Name)
		}
	}
	line := fmt.Sprintf("%s (%d/%d steps done)", status.Status, done, len(status.Steps))
	if len(running) > 0 {
		line += ", running " + strings.Join(running, ", ")
	}
	return line
}

func executionError(status ExecutionStatus) error {
	for _, step := range status.Steps {
		if step.Status == sagemaker.StepStatusFailed {
			return errors.Errorf("execution %s reached %s: step %s failed: %s",
				status.ARN, status.Status, step.Name, step.FailureReason)
		}
	}
	return errors.Errorf("execution %s reached %s", status.ARN, status.Status)
}
