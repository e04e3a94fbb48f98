// Package stack provisions the workshop's network infrastructure as a single
// declarative stack: a VPC with public and private subnets per zone, internet
// and NAT gateways, route tables, and a security group for workloads.
package stack

import (
	"context"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/cloudformation"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/machinist-ai/machinist/internal/await"
	"github.com/machinist-ai/machinist/internal/cloud"
)

// API is the subset of the infrastructure service the manager calls.
type API interface {
	CreateStackWithContext(
		aws.Context, *cloudformation.CreateStackInput, ...request.Option,
	) (*cloudformation.CreateStackOutput, error)
	UpdateStackWithContext(
		aws.Context, *cloudformation.UpdateStackInput, ...request.Option,
	) (*cloudformation.UpdateStackOutput, error)
	DeleteStackWithContext(
		aws.Context, *cloudformation.DeleteStackInput, ...request.Option,
	) (*cloudformation.DeleteStackOutput, error)
	DescribeStacksWithContext(
		aws.Context, *cloudformation.DescribeStacksInput, ...request.Option,
	) (*cloudformation.DescribeStacksOutput, error)
}

// Outputs are the stack's exported values, consumed by jobs and endpoints
// that attach to the private subnets.
type Outputs struct {
	VpcID            string
	PublicSubnetIDs  []string
	PrivateSubnetIDs []string
	SecurityGroupID  string
}

var settledStatuses = map[string]bool{
	cloudformation.StackStatusCreateComplete: true,
	cloudformation.StackStatusUpdateComplete: true,
}

var failedStatuses = map[string]bool{
	cloudformation.StackStatusCreateFailed:           true,
	cloudformation.StackStatusRollbackInProgress:     true,
	cloudformation.StackStatusRollbackComplete:       true,
	cloudformation.StackStatusRollbackFailed:         true,
	cloudformation.StackStatusUpdateRollbackComplete: true,
	cloudformation.StackStatusUpdateRollbackFailed:   true,
	cloudformation.StackStatusDeleteFailed:           true,
}

const (
	defaultPollInterval = 15 * time.Second
	defaultSettleWindow = 30 * time.Minute
)

// Manager drives the stack lifecycle through the infrastructure service.
type Manager struct {
	api    API
	poll   time.Duration
	window time.Duration
	syslog *logrus.Entry
}

// New builds a manager on the given session.
func New(sess *session.Session) *Manager {
	return NewWithAPI(cloudformation.New(sess))
}

// NewWithAPI builds a manager on an explicit client, used by tests.
func NewWithAPI(api API) *Manager {
	return &Manager{
		api:    api,
		poll:   defaultPollInterval,
		window: defaultSettleWindow,
		syslog: logrus.WithField("component", "stack"),
	}
}

// Up creates the stack for the plan, or updates it in place when it already
// exists. A no-change update counts as success. Up blocks until the stack
// settles and returns its outputs.
func (m *Manager) Up(ctx context.Context, plan Plan) (Outputs, error) {
	tpl, err := Render(plan)
	if err != nil {
		return Outputs{}, err
	}
	body, err := tpl.JSON()
	if err != nil {
		return Outputs{}, err
	}

	changed, err := m.submit(ctx, plan, body)
	if err != nil {
		return Outputs{}, err
	}
	if !changed {
		m.syslog.Infof("stack %s is already up to date", plan.Name)
		return m.Outputs(ctx, plan.Name)
	}

	if err := m.awaitSettled(ctx, plan.Name); err != nil {
		return Outputs{}, err
	}
	return m.Outputs(ctx, plan.Name)
}

// submit issues the create or update call. It reports changed=false when the
// service rejected the update because the template and parameters matched the
// deployed stack.
func (m *Manager) submit(ctx context.Context, plan Plan, body string) (bool, error) {
	tags := []*cloudformation.Tag{
		{Key: aws.String("machinist-stack"), Value: aws.String(plan.Name)},
	}
	for key, value := range plan.Tags {
		tags = append(tags, &cloudformation.Tag{
			Key: aws.String(key), Value: aws.String(value),
		})
	}

	m.syslog.Infof("creating stack %s", plan.Name)
	_, err := m.api.CreateStackWithContext(ctx, &cloudformation.CreateStackInput{
		StackName:    aws.String(plan.Name),
		TemplateBody: aws.String(body),
		Tags:         tags,
		OnFailure:    aws.String(cloudformation.OnFailureRollback),
	})
	if err == nil {
		return true, nil
	}
	if !cloud.IsCode(err, cloudformation.ErrCodeAlreadyExistsException) {
		return false, errors.Wrapf(err, "cannot create stack %s", plan.Name)
	}

	m.syslog.Infof("stack %s already exists, updating", plan.Name)
	_, err = m.api.UpdateStackWithContext(ctx, &cloudformation.UpdateStackInput{
		StackName:    aws.String(plan.Name),
		TemplateBody: aws.String(body),
		Tags:         tags,
	})
	if err == nil {
		return true, nil
	}
	if isNoChangeUpdate(err) {
		return false, nil
	}
	return false, errors.Wrapf(err, "cannot update stack %s", plan.Name)
}

func isNoChangeUpdate(err error) bool {
	var aerr awserr.Error
	if !errors.As(err, &aerr) {
		return false
	}
	return aerr.Code() == "ValidationError" &&
		strings.Contains(aerr.Message(), "No updates are to be performed")
}

func (m *Manager) awaitSettled(ctx context.Context, name string) error {
	return await.Wait(ctx, await.Config{
		Interval: m.poll,
		Timeout:  m.window,
		Log:      m.syslog.WithField("stack", name),
	}, func(ctx context.Context) (string, bool, error) {
		stack, err := m.describe(ctx, name)
		if err != nil {
			return "", false, err
		}
		status := aws.StringValue(stack.StackStatus)
		switch {
		case settledStatuses[status]:
			return status, true, nil
		case failedStatuses[status]:
			return "", false, errors.Errorf("stack %s reached %s: %s",
				name, status, aws.StringValue(stack.StackStatusReason))
		default:
			return status, false, nil
		}
	})
}

// Outputs fetches the deployed stack's exported values.
func (m *Manager) Outputs(ctx context.Context, name string) (Outputs, error) {
	stack, err := m.describe(ctx, name)
	if err != nil {
		return Outputs{}, err
	}
	var out Outputs
	for _, o := range stack.Outputs {
		value := aws.StringValue(o.OutputValue)
		switch aws.StringValue(o.OutputKey) {
		case "VpcId":
			out.VpcID = value
		case "PublicSubnetIds":
			out.PublicSubnetIDs = splitIDs(value)
		case "PrivateSubnetIds":
			out.PrivateSubnetIDs = splitIDs(value)
		case "SecurityGroupId":
			out.SecurityGroupID = value
		}
	}
	if out.VpcID == "" {
		return Outputs{}, errors.Errorf("stack %s has no VpcId output, is it settled?", name)
	}
	return out, nil
}

func splitIDs(joined string) []string {
	if joined == "" {
		return nil
	}
	return strings.Split(joined, ",")
}

func (m *Manager) describe(ctx context.Context, name string) (*cloudformation.Stack, error) {
	out, err := m.api.DescribeStacksWithContext(ctx, &cloudformation.DescribeStacksInput{
		StackName: aws.String(name),
	})
	if err != nil {
		return nil, errors.Wrapf(err, "cannot describe stack %s", name)
	}
	if len(out.Stacks) == 0 {
		return nil, errors.Errorf("stack %s not found", name)
	}
	return out.Stacks[0], nil
}

// Down deletes the stack and blocks until it is gone. Deleting a stack that
// does not exist succeeds.
func (m *Manager) Down(ctx context.Context, name string) error {
	m.syslog.Infof("deleting stack %s", name)
	if _, err := m.api.DeleteStackWithContext(ctx, &cloudformation.DeleteStackInput{
		StackName: aws.String(name),
	}); err != nil {
		if cloud.IsNotFound(err) {
			return nil
		}
		return errors.Wrapf(err, "cannot delete stack %s", name)
	}

	return await.Wait(ctx, await.Config{
		Interval: m.poll,
		Timeout:  m.window,
		Log:      m.syslog.WithField("stack", name),
	}, func(ctx context.Context) (string, bool, error) {
		out, err := m.api.DescribeStacksWithContext(ctx, &cloudformation.DescribeStacksInput{
			StackName: aws.String(name),
		})
		if err != nil {
			if cloud.IsNotFound(err) {
				return "deleted", true, nil
			}
			return "", false, errors.Wrapf(err, "cannot describe stack %s", name)
		}
		if len(out.Stacks) == 0 {
			return "deleted", true, nil
		}
		status := aws.StringValue(out.Stacks[0].StackStatus)
		switch status {
		case cloudformation.StackStatusDeleteComplete:
			return status, true, nil
		case cloudformation.StackStatusDeleteFailed:
			return "", false, errors.Errorf("stack %s reached %s: %s", name, status,
				aws.StringValue(out.Stacks[0].StackStatusReason))
		default:
			return status, false, nil
		}
	})
}
