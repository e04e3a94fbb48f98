// Package jobs submits and tracks the workshop's processing and training
// jobs: request construction from validated specs, state classification, and
// lifecycle waiting.
package jobs

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/sagemaker"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/machinist-ai/machinist/internal/await"
	"github.com/machinist-ai/machinist/internal/cloud"
	"github.com/machinist-ai/machinist/pkg/check"
)

// API is the subset of the ML platform the manager calls.
type API interface {
	CreateProcessingJobWithContext(
		aws.Context, *sagemaker.CreateProcessingJobInput, ...request.Option,
	) (*sagemaker.CreateProcessingJobOutput, error)
	DescribeProcessingJobWithContext(
		aws.Context, *sagemaker.DescribeProcessingJobInput, ...request.Option,
	) (*sagemaker.DescribeProcessingJobOutput, error)
	StopProcessingJobWithContext(
		aws.Context, *sagemaker.StopProcessingJobInput, ...request.Option,
	) (*sagemaker.StopProcessingJobOutput, error)
	CreateTrainingJobWithContext(
		aws.Context, *sagemaker.CreateTrainingJobInput, ...request.Option,
	) (*sagemaker.CreateTrainingJobOutput, error)
	DescribeTrainingJobWithContext(
		aws.Context, *sagemaker.DescribeTrainingJobInput, ...request.Option,
	) (*sagemaker.DescribeTrainingJobOutput, error)
	StopTrainingJobWithContext(
		aws.Context, *sagemaker.StopTrainingJobInput, ...request.Option,
	) (*sagemaker.StopTrainingJobOutput, error)
}

// Kind discriminates the two job flavors sharing the lifecycle machinery.
type Kind string

const (
	// KindProcessing marks a data preprocessing job.
	KindProcessing Kind = "processing"
	// KindTraining marks a model training job.
	KindTraining Kind = "training"
)

// Handle names a submitted job.
type Handle struct {
	Name string
	Kind Kind
}

// Status is one observation of a job's lifecycle.
type Status struct {
	State         State
	FailureReason string
	ArtifactURI   string
}

const defaultPollInterval = 30 * time.Second

// Manager drives jobs through the ML platform.
type Manager struct {
	api    API
	poll   time.Duration
	syslog *logrus.Entry
}

// New builds a manager on the given session.
func New(sess *session.Session) *Manager {
	return NewWithAPI(sagemaker.New(sess))
}

// NewWithAPI builds a manager on an explicit client, used by tests.
func NewWithAPI(api API) *Manager {
	return &Manager{
		api:    api,
		poll:   defaultPollInterval,
		syslog: logrus.WithField("component", "jobs"),
	}
}

// RunProcessing validates the spec and submits the processing job.
func (m *Manager) RunProcessing(ctx context.Context, spec ProcessingSpec) (Handle, error) {
	if err := check.Validate(spec); err != nil {
		return Handle{}, err
	}
	in := spec.request()
	err := cloud.Retry(ctx, func() error {
		_, err := m.api.CreateProcessingJobWithContext(ctx, in)
		return err
	})
	if err != nil {
		return Handle{}, errors.Wrapf(err, "cannot create processing job %s", spec.Name)
	}
	m.syslog.Infof("submitted processing job %s", spec.Name)
	return Handle{Name: spec.Name, Kind: KindProcessing}, nil
}

// RunTraining validates the spec and submits the training job.
func (m *Manager) RunTraining(ctx context.Context, spec TrainingSpec) (Handle, error) {
	if err := check.Validate(spec); err != nil {
		return Handle{}, err
	}
	in := spec.request()
	err := cloud.Retry(ctx, func() error {
		_, err := m.api.CreateTrainingJobWithContext(ctx, in)
		return err
	})
	if err != nil {
		return Handle{}, errors.Wrapf(err, "cannot create training job %s", spec.Name)
	}
	m.syslog.Infof("submitted training job %s", spec.Name)
	return Handle{Name: spec.Name, Kind: KindTraining}, nil
}

// Describe fetches the job's current status.
func (m *Manager) Describe(ctx context.Context, handle Handle) (Status, error) {
	switch handle.Kind {
	case KindProcessing:
		out, err := m.api.DescribeProcessingJobWithContext(ctx,
			&sagemaker.DescribeProcessingJobInput{ProcessingJobName: aws.String(handle.Name)})
		if err != nil {
			return Status{}, errors.Wrapf(err, "cannot describe processing job %s", handle.Name)
		}
		state, err := ParseState(aws.StringValue(out.ProcessingJobStatus))
		if err != nil {
			return Status{}, err
		}
		return Status{
			State:         state,
			FailureReason: aws.StringValue(out.FailureReason),
		}, nil
	case KindTraining:
		out, err := m.api.DescribeTrainingJobWithContext(ctx,
			&sagemaker.DescribeTrainingJobInput{TrainingJobName: aws.String(handle.Name)})
		if err != nil {
			return Status{}, errors.Wrapf(err, "cannot describe training job %s", handle.Name)
		}
		state, err := ParseState(aws.StringValue(out.TrainingJobStatus))
		if err != nil {
			return Status{}, err
		}
		status := Status{
			State:         state,
			FailureReason: aws.StringValue(out.FailureReason),
		}
		if out.ModelArtifacts != nil {
			status.ArtifactURI = aws.StringValue(out.ModelArtifacts.S3ModelArtifacts)
		}
		return status, nil
	default:
		return Status{}, errors.Errorf("unknown job kind %q", handle.Kind)
	}
}

// Wait blocks until the job reaches a terminal state. Completed returns the
// final status; Failed and Stopped return an error carrying the platform's
// failure reason.
func (m *Manager) Wait(ctx context.Context, handle Handle) (Status, error) {
	var last Status
	err := await.Wait(ctx, await.Config{
		Interval: m.poll,
		Log:      m.syslog.WithField(string(handle.Kind), handle.Name),
	}, func(ctx context.Context) (string, bool, error) {
		status, err := m.Describe(ctx, handle)
		if err != nil {
			return "", false, err
		}
		last = status
		if !status.State.Terminal() {
			return string(status.State), false, nil
		}
		if status.State != Completed {
			return "", false, errors.Errorf("%s job %s reached %s: %s",
				handle.Kind, handle.Name, status.State, status.FailureReason)
		}
		return string(status.State), true, nil
	})
	if err != nil {
		return last, err
	}
	return last, nil
}

// Stop requests an early stop; Wait observes the resulting terminal state.
func (m *Manager) Stop(ctx context.Context, handle Handle) error {
	var err error
	switch handle.Kind {
	case KindProcessing:
		_, err = m.api.StopProcessingJobWithContext(ctx,
			&sagemaker.StopProcessingJobInput{ProcessingJobName: aws.String(handle.Name)})
	case KindTraining:
		_, err = m.api.StopTrainingJobWithContext(ctx,
			&sagemaker.StopTrainingJobInput{TrainingJobName: aws.String(handle.Name)})
	default:
		return errors.Errorf("unknown job kind %q", handle.Kind)
	}
	return errors.Wrapf(err, "cannot stop %s job %s", handle.Kind, handle.Name)
}

// Artifacts returns the completed training job's model artifact location.
func (m *Manager) Artifacts(ctx context.Context, trainingJob string) (string, error) {
	status, err := m.Describe(ctx, Handle{Name: trainingJob, Kind: KindTraining})
	if err != nil {
		return "", err
	}
	if status.State != Completed {
		return "", errors.Errorf("training job %s is %s, artifacts require Completed",
			trainingJob, status.State)
	}
	if status.ArtifactURI == "" {
		return "", errors.Errorf("training job %s reports no artifacts", trainingJob)
	}
	return status.ArtifactURI, nil
}
