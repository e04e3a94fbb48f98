package registry

import (
	"context"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/sagemaker"
	"github.com/pkg/errors"
	"gotest.tools/assert"
)

type registryMock struct {
	groups    []string
	groupErr  error
	packages  []*sagemaker.CreateModelPackageInput
	updates   []*sagemaker.UpdateModelPackageInput
	summaries []*sagemaker.ModelPackageSummary
	listed    []*sagemaker.ListModelPackagesInput
	described map[string]*sagemaker.DescribeModelPackageOutput
}

func (m *registryMock) CreateModelPackageGroupWithContext(
	_ aws.Context, in *sagemaker.CreateModelPackageGroupInput, _ ...request.Option,
) (*sagemaker.CreateModelPackageGroupOutput, error) {
	m.groups = append(m.groups, aws.StringValue(in.ModelPackageGroupName))
	if m.groupErr != nil {
		return nil, m.groupErr
	}
	return &sagemaker.CreateModelPackageGroupOutput{}, nil
}

func (m *registryMock) CreateModelPackageWithContext(
	_ aws.Context, in *sagemaker.CreateModelPackageInput, _ ...request.Option,
) (*sagemaker.CreateModelPackageOutput, error) {
	m.packages = append(m.packages, in)
	return &sagemaker.CreateModelPackageOutput{
		ModelPackageArn: aws.String("arn:aws:sagemaker:us-east-1:123456789012:model-package/failures/1"),
	}, nil
}

func (m *registryMock) UpdateModelPackageWithContext(
	_ aws.Context, in *sagemaker.UpdateModelPackageInput, _ ...request.Option,
) (*sagemaker.UpdateModelPackageOutput, error) {
	m.updates = append(m.updates, in)
	return &sagemaker.UpdateModelPackageOutput{}, nil
}

func (m *registryMock) ListModelPackagesWithContext(
	_ aws.Context, in *sagemaker.ListModelPackagesInput, _ ...request.Option,
) (*sagemaker.ListModelPackagesOutput, error) {
	m.listed = append(m.listed, in)
	matching := []*sagemaker.ModelPackageSummary{}
	for _, summary := range m.summaries {
		if in.ModelApprovalStatus == nil ||
			aws.StringValue(summary.ModelApprovalStatus) == aws.StringValue(in.ModelApprovalStatus) {
			matching = append(matching, summary)
		}
	}
	return &sagemaker.ListModelPackagesOutput{ModelPackageSummaryList: matching}, nil
}

func (m *registryMock) DescribeModelPackageWithContext(
	_ aws.Context, in *sagemaker.DescribeModelPackageInput, _ ...request.Option,
) (*sagemaker.DescribeModelPackageOutput, error) {
	out, ok := m.described[aws.StringValue(in.ModelPackageName)]
	if !ok {
		return nil, awserr.New("ValidationException", "Could not find model package", nil)
	}
	return out, nil
}

func summary(arn string, version int64, approval Approval, age time.Duration) *sagemaker.ModelPackageSummary {
	return &sagemaker.ModelPackageSummary{
		ModelPackageArn:       aws.String(arn),
		ModelPackageGroupName: aws.String("failures"),
		ModelPackageVersion:   aws.Int64(version),
		ModelApprovalStatus:   aws.String(string(approval)),
		CreationTime:          aws.Time(time.Now().Add(-age)),
	}
}

func validRegisterInput() RegisterInput {
	return RegisterInput{
		Group:       "failures",
		ArtifactURI: "s3://bucket/models/model.tar.gz",
		Image:       "683313688378.dkr.ecr.us-east-1.amazonaws.com/sagemaker-xgboost:1.5-1",
		Approval:    ApprovalPending,
	}
}

func TestEnsureGroupCreates(t *testing.T) {
	mock := &registryMock{}
	err := NewWithAPI(mock).EnsureGroup(context.Background(), "failures", "workshop models")
	assert.NilError(t, err)
	assert.DeepEqual(t, mock.groups, []string{"failures"})
}

func TestEnsureGroupToleratesExisting(t *testing.T) {
	mock := &registryMock{
		groupErr: awserr.New(sagemaker.ErrCodeResourceInUse, "group already exists", nil),
	}
	err := NewWithAPI(mock).EnsureGroup(context.Background(), "failures", "")
	assert.NilError(t, err)
}

func TestRegister(t *testing.T) {
	mock := &registryMock{}
	arn, err := NewWithAPI(mock).Register(context.Background(), validRegisterInput())
	assert.NilError(t, err)
	assert.Assert(t, arn != "")
	assert.Equal(t, len(mock.packages), 1)
	in := mock.packages[0]
	assert.Equal(t, aws.StringValue(in.ModelApprovalStatus), "PendingManualApproval")
	assert.Equal(t,
		aws.StringValue(in.InferenceSpecification.Containers[0].ModelDataUrl),
		"s3://bucket/models/model.tar.gz")
}

func TestRegisterValidation(t *testing.T) {
	in := validRegisterInput()
	in.ArtifactURI = "https://bucket/models/model.tar.gz"
	_, err := NewWithAPI(&registryMock{}).Register(context.Background(), in)
	assert.ErrorContains(t, err, "model artifact location")

	in = validRegisterInput()
	in.Approval = "Shipped"
	_, err = NewWithAPI(&registryMock{}).Register(context.Background(), in)
	assert.ErrorContains(t, err, "approval status")
}

func TestSetApproval(t *testing.T) {
	mock := &registryMock{}
	err := NewWithAPI(mock).SetApproval(context.Background(),
		"arn:aws:sagemaker:us-east-1:123456789012:model-package/failures/1",
		ApprovalApproved, "validated on holdout set")
	assert.NilError(t, err)
	assert.Equal(t, len(mock.updates), 1)
	assert.Equal(t, aws.StringValue(mock.updates[0].ModelApprovalStatus), "Approved")
}

func TestLatestApproved(t *testing.T) {
	approvedARN := "arn:aws:sagemaker:us-east-1:123456789012:model-package/failures/2"
	mock := &registryMock{
		summaries: []*sagemaker.ModelPackageSummary{
			summary("arn:3", 3, ApprovalPending, time.Hour),
			summary(approvedARN, 2, ApprovalApproved, 2*time.Hour),
			summary("arn:1", 1, ApprovalApproved, 3*time.Hour),
		},
		described: map[string]*sagemaker.DescribeModelPackageOutput{
			approvedARN: {
				ModelPackageArn:       aws.String(approvedARN),
				ModelPackageGroupName: aws.String("failures"),
				ModelPackageVersion:   aws.Int64(2),
				ModelApprovalStatus:   aws.String("Approved"),
				InferenceSpecification: &sagemaker.InferenceSpecification{
					Containers: []*sagemaker.ModelPackageContainerDefinition{
						{
							Image:        aws.String("image:tag"),
							ModelDataUrl: aws.String("s3://bucket/models/model.tar.gz"),
						},
					},
				},
			},
		},
	}
	pkg, err := NewWithAPI(mock).LatestApproved(context.Background(), "failures")
	assert.NilError(t, err)
	assert.Equal(t, pkg.ARN, approvedARN)
	assert.Equal(t, pkg.ArtifactURI, "s3://bucket/models/model.tar.gz")
	assert.Equal(t, pkg.Image, "image:tag")
	// The approval filter is pushed down to the platform query.
	assert.Equal(t, aws.StringValue(mock.listed[0].ModelApprovalStatus), "Approved")
}

func TestLatestApprovedEmptyGroup(t *testing.T) {
	mock := &registryMock{
		summaries: []*sagemaker.ModelPackageSummary{
			summary("arn:1", 1, ApprovalPending, time.Hour),
		},
	}
	_, err := NewWithAPI(mock).LatestApproved(context.Background(), "failures")
	assert.Assert(t, errors.Is(err, ErrNoApprovedPackage))
}

func TestParseApprovalRoundTrips(t *testing.T) {
	for _, approval := range []Approval{ApprovalPending, ApprovalApproved, ApprovalRejected} {
		parsed, err := ParseApproval(string(approval))
		assert.NilError(t, err)
		assert.Equal(t, parsed, approval)
	}
	_, err := ParseApproval("Maybe")
	assert.ErrorContains(t, err, "unknown approval status")
}
