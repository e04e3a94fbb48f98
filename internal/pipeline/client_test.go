package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/sagemaker"
	"gotest.tools/assert"
)

type executionAnswer struct {
	status string
	steps  []StepStatus
}

type pipelineMock struct {
	created   []*sagemaker.CreatePipelineInput
	createErr error
	updated   []*sagemaker.UpdatePipelineInput
	started   []*sagemaker.StartPipelineExecutionInput

	answers  []executionAnswer
	answered int
}

func (m *pipelineMock) next() executionAnswer {
	answer := m.answers[len(m.answers)-1]
	if m.answered < len(m.answers) {
		answer = m.answers[m.answered]
		m.answered++
	}
	return answer
}

func (m *pipelineMock) CreatePipelineWithContext(
	_ aws.Context, in *sagemaker.CreatePipelineInput, _ ...request.Option,
) (*sagemaker.CreatePipelineOutput, error) {
	m.created = append(m.created, in)
	if m.createErr != nil {
		return nil, m.createErr
	}
	return &sagemaker.CreatePipelineOutput{
		PipelineArn: aws.String("arn:aws:sagemaker:us-east-1:123456789012:pipeline/machinist-workshop"),
	}, nil
}

func (m *pipelineMock) UpdatePipelineWithContext(
	_ aws.Context, in *sagemaker.UpdatePipelineInput, _ ...request.Option,
) (*sagemaker.UpdatePipelineOutput, error) {
	m.updated = append(m.updated, in)
	return &sagemaker.UpdatePipelineOutput{
		PipelineArn: aws.String("arn:aws:sagemaker:us-east-1:123456789012:pipeline/machinist-workshop"),
	}, nil
}

func (m *pipelineMock) StartPipelineExecutionWithContext(
	_ aws.Context, in *sagemaker.StartPipelineExecutionInput, _ ...request.Option,
) (*sagemaker.StartPipelineExecutionOutput, error) {
	m.started = append(m.started, in)
	return &sagemaker.StartPipelineExecutionOutput{
		PipelineExecutionArn: aws.String(
			"arn:aws:sagemaker:us-east-1:123456789012:pipeline/machinist-workshop/execution/abc"),
	}, nil
}

func (m *pipelineMock) DescribePipelineExecutionWithContext(
	_ aws.Context, _ *sagemaker.DescribePipelineExecutionInput, _ ...request.Option,
) (*sagemaker.DescribePipelineExecutionOutput, error) {
	return &sagemaker.DescribePipelineExecutionOutput{
		PipelineExecutionStatus: aws.String(m.next().status),
	}, nil
}

func (m *pipelineMock) ListPipelineExecutionStepsWithContext(
	_ aws.Context, _ *sagemaker.ListPipelineExecutionStepsInput, _ ...request.Option,
) (*sagemaker.ListPipelineExecutionStepsOutput, error) {
	answer := m.answers[m.answered-1]
	out := &sagemaker.ListPipelineExecutionStepsOutput{}
	for _, step := range answer.steps {
		out.PipelineExecutionSteps = append(out.PipelineExecutionSteps,
			&sagemaker.PipelineExecutionStep{
				StepName:      aws.String(step.Name),
				StepStatus:    aws.String(step.Status),
				FailureReason: aws.String(step.FailureReason),
			})
	}
	return out, nil
}

func newTestClient(mock *pipelineMock) *Client {
	c := NewWithAPI(mock)
	c.poll = time.Millisecond
	return c
}

func TestUpsertCreates(t *testing.T) {
	mock := &pipelineMock{}
	arn, err := newTestClient(mock).Upsert(context.Background(), testPipeline())
	assert.NilError(t, err)
	assert.Assert(t, arn != "")
	assert.Equal(t, len(mock.created), 1)
	assert.Equal(t, len(mock.updated), 0)
	assert.Assert(t, aws.StringValue(mock.created[0].PipelineDefinition) != "")
}

func TestUpsertFallsBackToUpdate(t *testing.T) {
	mock := &pipelineMock{
		createErr: awserr.New(sagemaker.ErrCodeResourceInUse, "pipeline already exists", nil),
	}
	arn, err := newTestClient(mock).Upsert(context.Background(), testPipeline())
	assert.NilError(t, err)
	assert.Assert(t, arn != "")
	assert.Equal(t, len(mock.updated), 1)
}

func TestUpsertRefusesInvalidPipeline(t *testing.T) {
	mock := &pipelineMock{}
	p := testPipeline()
	p.Steps = nil
	_, err := newTestClient(mock).Upsert(context.Background(), p)
	assert.ErrorContains(t, err, "no steps")
	assert.Equal(t, len(mock.created), 0)
}

func TestStartPassesOverridesAndToken(t *testing.T) {
	mock := &pipelineMock{}
	_, err := newTestClient(mock).Start(context.Background(), "machinist-workshop",
		map[string]string{ParamTrainRatio: "0.9"})
	assert.NilError(t, err)
	in := mock.started[0]
	assert.Assert(t, aws.StringValue(in.ClientRequestToken) != "")
	assert.Equal(t, len(in.PipelineParameters), 1)
	assert.Equal(t, aws.StringValue(in.PipelineParameters[0].Name), "TrainRatio")
	assert.Equal(t, aws.StringValue(in.PipelineParameters[0].Value), "0.9")
}

func TestWaitExecutionSucceeds(t *testing.T) {
	mock := &pipelineMock{answers: []executionAnswer{
		{status: "Executing", steps: []StepStatus{
			{Name: "preprocess", Status: "Executing"},
		}},
		{status: "Succeeded", steps: []StepStatus{
			{Name: "preprocess", Status: "Succeeded"},
			{Name: "train", Status: "Succeeded"},
			{Name: "register", Status: "Succeeded"},
		}},
	}}
	status, err := newTestClient(mock).WaitExecution(context.Background(), "arn:execution")
	assert.NilError(t, err)
	assert.Equal(t, status.Status, "Succeeded")
	assert.Equal(t, len(status.Steps), 3)
}

func TestWaitExecutionSurfacesFailingStep(t *testing.T) {
	mock := &pipelineMock{answers: []executionAnswer{
		{status: "Failed", steps: []StepStatus{
			{Name: "preprocess", Status: "Succeeded"},
			{Name: "train", Status: "Failed", FailureReason: "AlgorithmError: bad label column"},
		}},
	}}
	_, err := newTestClient(mock).WaitExecution(context.Background(), "arn:execution")
	assert.ErrorContains(t, err, "step train failed")
	assert.ErrorContains(t, err, "bad label column")
}
