// Package registry manages the model catalog: versioned model packages in a
// group, each carrying an approval status that gates deployment.
package registry

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/sagemaker"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/machinist-ai/machinist/internal/cloud"
	"github.com/machinist-ai/machinist/pkg/check"
	"github.com/machinist-ai/machinist/pkg/ptrs"
)

// API is the subset of the ML platform the registry calls.
type API interface {
	CreateModelPackageGroupWithContext(
		aws.Context, *sagemaker.CreateModelPackageGroupInput, ...request.Option,
	) (*sagemaker.CreateModelPackageGroupOutput, error)
	CreateModelPackageWithContext(
		aws.Context, *sagemaker.CreateModelPackageInput, ...request.Option,
	) (*sagemaker.CreateModelPackageOutput, error)
	UpdateModelPackageWithContext(
		aws.Context, *sagemaker.UpdateModelPackageInput, ...request.Option,
	) (*sagemaker.UpdateModelPackageOutput, error)
	ListModelPackagesWithContext(
		aws.Context, *sagemaker.ListModelPackagesInput, ...request.Option,
	) (*sagemaker.ListModelPackagesOutput, error)
	DescribeModelPackageWithContext(
		aws.Context, *sagemaker.DescribeModelPackageInput, ...request.Option,
	) (*sagemaker.DescribeModelPackageOutput, error)
}

// Approval is the approval status gating deployment of a model package.
type Approval string

const (
	// ApprovalPending marks a package awaiting a manual decision.
	ApprovalPending Approval = "PendingManualApproval"
	// ApprovalApproved marks a package cleared for deployment.
	ApprovalApproved Approval = "Approved"
	// ApprovalRejected marks a package that must not be deployed.
	ApprovalRejected Approval = "Rejected"
)

var approvals = map[Approval]bool{
	ApprovalPending:  true,
	ApprovalApproved: true,
	ApprovalRejected: true,
}

// ParseApproval maps a platform approval string onto an Approval.
func ParseApproval(status string) (Approval, error) {
	approval := Approval(status)
	if !approvals[approval] {
		return "", errors.Errorf("unknown approval status %q", status)
	}
	return approval, nil
}

// Package is one versioned entry of the model catalog.
type Package struct {
	ARN         string
	Group       string
	Version     int64
	Approval    Approval
	ArtifactURI string
	Image       string
	Description string
	CreatedAt   time.Time
}

// ErrNoApprovedPackage is returned when a group holds no approved package.
var ErrNoApprovedPackage = errors.New("no approved model package")

var s3URIPattern = regexp.MustCompile(`^s3://[a-z0-9][a-z0-9.-]{1,61}[a-z0-9](/.*)?$`)

// RegisterInput describes a model package to be added to a group.
type RegisterInput struct {
	Group       string
	ArtifactURI string
	Image       string
	Description string
	Approval    Approval
}

// Validate implements the check.Validatable interface.
func (in RegisterInput) Validate() []error {
	return []error{
		check.NotEmpty(in.Group, "model package group must be set"),
		check.Match(in.ArtifactURI, s3URIPattern, "model artifact location"),
		check.NotEmpty(in.Image, "inference image must be set"),
		check.True(approvals[in.Approval], "approval status %q is not valid", in.Approval),
	}
}

// Registry drives the model catalog through the ML platform.
type Registry struct {
	api    API
	syslog *logrus.Entry
}

// New builds a registry on the given session.
func New(sess *session.Session) *Registry {
	return NewWithAPI(sagemaker.New(sess))
}

// NewWithAPI builds a registry on an explicit client, used by tests.
func NewWithAPI(api API) *Registry {
	return &Registry{
		api:    api,
		syslog: logrus.WithField("component", "registry"),
	}
}

// EnsureGroup creates the model package group if it does not already exist.
func (r *Registry) EnsureGroup(ctx context.Context, group, description string) error {
	err := cloud.Retry(ctx, func() error {
		_, err := r.api.CreateModelPackageGroupWithContext(ctx,
			&sagemaker.CreateModelPackageGroupInput{
				ModelPackageGroupName:        aws.String(group),
				ModelPackageGroupDescription: aws.String(description),
			})
		return err
	})
	switch {
	case err == nil:
		r.syslog.Infof("created model package group %s", group)
		return nil
	case isAlreadyExists(err):
		r.syslog.Debugf("model package group %s already exists", group)
		return nil
	default:
		return errors.Wrapf(err, "cannot create model package group %s", group)
	}
}

func isAlreadyExists(err error) bool {
	if cloud.IsCode(err, sagemaker.ErrCodeResourceInUse) {
		return true
	}
	var aerr awserr.Error
	return errors.As(err, &aerr) && strings.Contains(aerr.Message(), "already exists")
}

// Register adds a model package to the group and returns its ARN.
func (r *Registry) Register(ctx context.Context, in RegisterInput) (string, error) {
	if err := check.Validate(in); err != nil {
		return "", err
	}
	var out *sagemaker.CreateModelPackageOutput
	err := cloud.Retry(ctx, func() error {
		var err error
		out, err = r.api.CreateModelPackageWithContext(ctx, &sagemaker.CreateModelPackageInput{
			ModelPackageGroupName:   aws.String(in.Group),
			ModelPackageDescription: aws.String(in.Description),
			ModelApprovalStatus:     aws.String(string(in.Approval)),
			InferenceSpecification: &sagemaker.InferenceSpecification{
				Containers: []*sagemaker.ModelPackageContainerDefinition{
					{
						Image:        aws.String(in.Image),
						ModelDataUrl: aws.String(in.ArtifactURI),
					},
				},
				SupportedContentTypes:      aws.StringSlice([]string{"text/csv"}),
				SupportedResponseMIMETypes: aws.StringSlice([]string{"text/csv"}),
			},
		})
		return err
	})
	if err != nil {
		return "", errors.Wrapf(err, "cannot register model in group %s", in.Group)
	}
	arn := aws.StringValue(out.ModelPackageArn)
	r.syslog.Infof("registered model package %s (%s)", arn, in.Approval)
	return arn, nil
}

// SetApproval moves a package to the given approval status.
func (r *Registry) SetApproval(ctx context.Context, arn string, approval Approval, note string) error {
	if !approvals[approval] {
		return errors.Errorf("approval status %q is not valid", approval)
	}
	_, err := r.api.UpdateModelPackageWithContext(ctx, &sagemaker.UpdateModelPackageInput{
		ModelPackageArn:     aws.String(arn),
		ModelApprovalStatus: aws.String(string(approval)),
		ApprovalDescription: aws.String(note),
	})
	if err != nil {
		return errors.Wrapf(err, "cannot set %s to %s", arn, approval)
	}
	r.syslog.Infof("model package %s is now %s", arn, approval)
	return nil
}

// List returns the group's packages, newest first.
func (r *Registry) List(ctx context.Context, group string) ([]Package, error) {
	return r.list(ctx, group, "")
}

func (r *Registry) list(ctx context.Context, group string, approval Approval) ([]Package, error) {
	var packages []Package
	var token *string
	for {
		in := &sagemaker.ListModelPackagesInput{
			ModelPackageGroupName: aws.String(group),
			SortBy:                aws.String(sagemaker.ModelPackageSortByCreationTime),
			SortOrder:             aws.String(sagemaker.SortOrderDescending),
			MaxResults:            ptrs.Ptr(int64(50)),
			NextToken:             token,
		}
		if approval != "" {
			in.ModelApprovalStatus = aws.String(string(approval))
		}
		out, err := r.api.ListModelPackagesWithContext(ctx, in)
		if err != nil {
			return nil, errors.Wrapf(err, "cannot list model packages of %s", group)
		}
		for _, summary := range out.ModelPackageSummaryList {
			pkg, err := packageFromSummary(summary)
			if err != nil {
				return nil, err
			}
			packages = append(packages, pkg)
		}
		if out.NextToken == nil {
			return packages, nil
		}
		token = out.NextToken
	}
}

func packageFromSummary(summary *sagemaker.ModelPackageSummary) (Package, error) {
	approval, err := ParseApproval(aws.StringValue(summary.ModelApprovalStatus))
	if err != nil {
		return Package{}, err
	}
	return Package{
		ARN:         aws.StringValue(summary.ModelPackageArn),
		Group:       aws.StringValue(summary.ModelPackageGroupName),
		Version:     aws.Int64Value(summary.ModelPackageVersion),
		Approval:    approval,
		Description: aws.StringValue(summary.ModelPackageDescription),
		CreatedAt:   aws.TimeValue(summary.CreationTime),
	}, nil
}

// LatestApproved returns the newest approved package with its artifact and
// image resolved, or ErrNoApprovedPackage.
func (r *Registry) LatestApproved(ctx context.Context, group string) (Package, error) {
	approved, err := r.list(ctx, group, ApprovalApproved)
	if err != nil {
		return Package{}, err
	}
	if len(approved) == 0 {
		return Package{}, errors.Wrapf(ErrNoApprovedPackage, "group %s", group)
	}
	return r.Describe(ctx, approved[0].ARN)
}

// Describe fetches one package with its artifact and image resolved.
func (r *Registry) Describe(ctx context.Context, arn string) (Package, error) {
	out, err := r.api.DescribeModelPackageWithContext(ctx, &sagemaker.DescribeModelPackageInput{
		ModelPackageName: aws.String(arn),
	})
	if err != nil {
		return Package{}, errors.Wrapf(err, "cannot describe model package %s", arn)
	}
	approval, err := ParseApproval(aws.StringValue(out.ModelApprovalStatus))
	if err != nil {
		return Package{}, err
	}
	pkg := Package{
		ARN:         aws.StringValue(out.ModelPackageArn),
		Group:       aws.StringValue(out.ModelPackageGroupName),
		Version:     aws.Int64Value(out.ModelPackageVersion),
		Approval:    approval,
		Description: aws.StringValue(out.ModelPackageDescription),
		CreatedAt:   aws.TimeValue(out.CreationTime),
	}
	if spec := out.InferenceSpecification; spec != nil && len(spec.Containers) > 0 {
		pkg.Image = aws.StringValue(spec.Containers[0].Image)
		pkg.ArtifactURI = aws.StringValue(spec.Containers[0].ModelDataUrl)
	}
	return pkg, nil
}
