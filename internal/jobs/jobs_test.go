package jobs

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/aws/aws-sdk-go/service/sagemaker"
	"gotest.tools/assert"
)

type jobAnswer struct {
	status   string
	reason   string
	artifact string
	err      error
}

type sagemakerMock struct {
	created   []string
	createErr error

	answers  []jobAnswer
	answered int

	stopped []string
}

func (m *sagemakerMock) next() jobAnswer {
	answer := m.answers[len(m.answers)-1]
	if m.answered < len(m.answers) {
		answer = m.answers[m.answered]
		m.answered++
	}
	return answer
}

func (m *sagemakerMock) CreateProcessingJobWithContext(
	_ aws.Context, in *sagemaker.CreateProcessingJobInput, _ ...request.Option,
) (*sagemaker.CreateProcessingJobOutput, error) {
	m.created = append(m.created, aws.StringValue(in.ProcessingJobName))
	if m.createErr != nil {
		return nil, m.createErr
	}
	return &sagemaker.CreateProcessingJobOutput{}, nil
}

func (m *sagemakerMock) DescribeProcessingJobWithContext(
	_ aws.Context, _ *sagemaker.DescribeProcessingJobInput, _ ...request.Option,
) (*sagemaker.DescribeProcessingJobOutput, error) {
	answer := m.next()
	if answer.err != nil {
		return nil, answer.err
	}
	return &sagemaker.DescribeProcessingJobOutput{
		ProcessingJobStatus: aws.String(answer.status),
		FailureReason:       aws.String(answer.reason),
	}, nil
}

func (m *sagemakerMock) StopProcessingJobWithContext(
	_ aws.Context, in *sagemaker.StopProcessingJobInput, _ ...request.Option,
) (*sagemaker.StopProcessingJobOutput, error) {
	m.stopped = append(m.stopped, aws.StringValue(in.ProcessingJobName))
	return &sagemaker.StopProcessingJobOutput{}, nil
}

func (m *sagemakerMock) CreateTrainingJobWithContext(
	_ aws.Context, in *sagemaker.CreateTrainingJobInput, _ ...request.Option,
) (*sagemaker.CreateTrainingJobOutput, error) {
	m.created = append(m.created, aws.StringValue(in.TrainingJobName))
	if m.createErr != nil {
		return nil, m.createErr
	}
	return &sagemaker.CreateTrainingJobOutput{}, nil
}

func (m *sagemakerMock) DescribeTrainingJobWithContext(
	_ aws.Context, _ *sagemaker.DescribeTrainingJobInput, _ ...request.Option,
) (*sagemaker.DescribeTrainingJobOutput, error) {
	answer := m.next()
	if answer.err != nil {
		return nil, answer.err
	}
	out := &sagemaker.DescribeTrainingJobOutput{
		TrainingJobStatus: aws.String(answer.status),
		FailureReason:     aws.String(answer.reason),
	}
	if answer.artifact != "" {
		out.ModelArtifacts = &sagemaker.ModelArtifacts{
			S3ModelArtifacts: aws.String(answer.artifact),
		}
	}
	return out, nil
}

func (m *sagemakerMock) StopTrainingJobWithContext(
	_ aws.Context, in *sagemaker.StopTrainingJobInput, _ ...request.Option,
) (*sagemaker.StopTrainingJobOutput, error) {
	m.stopped = append(m.stopped, aws.StringValue(in.TrainingJobName))
	return &sagemaker.StopTrainingJobOutput{}, nil
}

func newTestManager(mock *sagemakerMock) *Manager {
	m := NewWithAPI(mock)
	m.poll = time.Millisecond
	return m
}

func TestRunProcessingSubmits(t *testing.T) {
	mock := &sagemakerMock{}
	handle, err := newTestManager(mock).RunProcessing(context.Background(), validProcessingSpec())
	assert.NilError(t, err)
	assert.Equal(t, handle.Name, "machinist-prep-test")
	assert.Equal(t, handle.Kind, KindProcessing)
	assert.DeepEqual(t, mock.created, []string{"machinist-prep-test"})
}

func TestRunProcessingRejectsInvalidSpec(t *testing.T) {
	mock := &sagemakerMock{}
	spec := validProcessingSpec()
	spec.RoleARN = ""
	_, err := newTestManager(mock).RunProcessing(context.Background(), spec)
	assert.ErrorContains(t, err, "execution role")
	assert.Equal(t, len(mock.created), 0)
}

func TestRunTrainingSubmitFailureIsNotRetried(t *testing.T) {
	mock := &sagemakerMock{
		createErr: awserr.New("ValidationException", "role is inaccessible", nil),
	}
	_, err := newTestManager(mock).RunTraining(context.Background(), validTrainingSpec())
	assert.ErrorContains(t, err, "cannot create training job")
	assert.ErrorContains(t, err, "role is inaccessible")
	assert.Equal(t, len(mock.created), 1)
}

func TestWaitUntilCompleted(t *testing.T) {
	mock := &sagemakerMock{answers: []jobAnswer{
		{status: "InProgress"},
		{status: "InProgress"},
		{status: "Completed", artifact: "s3://bucket/models/model.tar.gz"},
	}}
	status, err := newTestManager(mock).Wait(context.Background(),
		Handle{Name: "machinist-train-test", Kind: KindTraining})
	assert.NilError(t, err)
	assert.Equal(t, status.State, Completed)
	assert.Equal(t, status.ArtifactURI, "s3://bucket/models/model.tar.gz")
}

func TestWaitSurfacesFailureReason(t *testing.T) {
	mock := &sagemakerMock{answers: []jobAnswer{
		{status: "InProgress"},
		{status: "Failed", reason: "AlgorithmError: label column contains NaN"},
	}}
	_, err := newTestManager(mock).Wait(context.Background(),
		Handle{Name: "machinist-train-test", Kind: KindTraining})
	assert.ErrorContains(t, err, "reached Failed")
	assert.ErrorContains(t, err, "label column contains NaN")
}

func TestWaitToleratesThrottledDescribe(t *testing.T) {
	mock := &sagemakerMock{answers: []jobAnswer{
		{err: awserr.New("ThrottlingException", "rate exceeded", nil)},
		{status: "Completed"},
	}}
	status, err := newTestManager(mock).Wait(context.Background(),
		Handle{Name: "machinist-prep-test", Kind: KindProcessing})
	assert.NilError(t, err)
	assert.Equal(t, status.State, Completed)
}

func TestWaitHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	mock := &sagemakerMock{answers: []jobAnswer{{status: "InProgress"}}}
	_, err := newTestManager(mock).Wait(ctx,
		Handle{Name: "machinist-prep-test", Kind: KindProcessing})
	assert.ErrorContains(t, err, "context canceled")
}

func TestDescribeRejectsUnknownStatus(t *testing.T) {
	mock := &sagemakerMock{answers: []jobAnswer{{status: "Transcended"}}}
	_, err := newTestManager(mock).Describe(context.Background(),
		Handle{Name: "x", Kind: KindProcessing})
	assert.ErrorContains(t, err, "unknown job status")
}

func TestArtifacts(t *testing.T) {
	mock := &sagemakerMock{answers: []jobAnswer{
		{status: "Completed", artifact: "s3://bucket/models/model.tar.gz"},
	}}
	uri, err := newTestManager(mock).Artifacts(context.Background(), "machinist-train-test")
	assert.NilError(t, err)
	assert.Equal(t, uri, "s3://bucket/models/model.tar.gz")
}

func TestArtifactsRequireCompletion(t *testing.T) {
	mock := &sagemakerMock{answers: []jobAnswer{{status: "InProgress"}}}
	_, err := newTestManager(mock).Artifacts(context.Background(), "machinist-train-test")
	assert.ErrorContains(t, err, "artifacts require Completed")
}

func TestStop(t *testing.T) {
	mock := &sagemakerMock{}
	err := newTestManager(mock).Stop(context.Background(),
		Handle{Name: "machinist-train-test", Kind: KindTraining})
	assert.NilError(t, err)
	assert.DeepEqual(t, mock.stopped, []string{"machinist-train-test"})
}

func TestStageScript(t *testing.T) {
	up := &scriptUploaderMock{}
	uri, err := StageScript(context.Background(), up, "bucket", "workshop")
	assert.NilError(t, err)
	assert.Equal(t, uri, "s3://bucket/workshop/code/preprocess.py")
	assert.Equal(t, up.key, "workshop/code/preprocess.py")
	assert.Assert(t, strings.Contains(string(up.body), "train_test_split"))
}

type scriptUploaderMock struct {
	key  string
	body []byte
}

func (m *scriptUploaderMock) UploadWithContext(
	_ aws.Context, in *s3manager.UploadInput, _ ...func(*s3manager.Uploader),
) (*s3manager.UploadOutput, error) {
	m.key = aws.StringValue(in.Key)
	body, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	m.body = body
	return &s3manager.UploadOutput{}, nil
}
