// File: internal/cloud/client.go
// Brief: CloudFormation/S3 client wrapper with request throttling.

// Package cloud is the provider collaborator: it validates, prices, inspects and
// mutates CloudFormation stacks on behalf of the plan's action executors.
package cloud

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/cloudformation"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"golang.org/x/time/rate"
)

// Target identifies a deployed stack and the connection used to reach it.
type Target struct {
	StackName string `json:"stackName"`
	Region    string `json:"region,omitempty"`
	Profile   string `json:"profile,omitempty"`
	IAMRole   string `json:"iamRole,omitempty"`
}

func (t Target) connectionKey() string {
	return strings.TrimSpace(t.Profile) + "\n" + strings.TrimSpace(t.Region) + "\n" + strings.TrimSpace(t.IAMRole)
}

func (t Target) String() string {
	parts := []string{t.StackName}
	if t.Region != "" {
		parts = append(parts, "region="+t.Region)
	}
	if t.Profile != "" {
		parts = append(parts, "profile="+t.Profile)
	}
	return strings.Join(parts, " ")
}

// CloudFormationAPI is the subset of the CloudFormation client strata calls.
type CloudFormationAPI interface {
	ValidateTemplate(ctx context.Context, params *cloudformation.ValidateTemplateInput, optFns ...func(*cloudformation.Options)) (*cloudformation.ValidateTemplateOutput, error)
	EstimateTemplateCost(ctx context.Context, params *cloudformation.EstimateTemplateCostInput, optFns ...func(*cloudformation.Options)) (*cloudformation.EstimateTemplateCostOutput, error)
	DescribeStacks(ctx context.Context, params *cloudformation.DescribeStacksInput, optFns ...func(*cloudformation.Options)) (*cloudformation.DescribeStacksOutput, error)
	GetTemplate(ctx context.Context, params *cloudformation.GetTemplateInput, optFns ...func(*cloudformation.Options)) (*cloudformation.GetTemplateOutput, error)
	CreateStack(ctx context.Context, params *cloudformation.CreateStackInput, optFns ...func(*cloudformation.Options)) (*cloudformation.CreateStackOutput, error)
	UpdateStack(ctx context.Context, params *cloudformation.UpdateStackInput, optFns ...func(*cloudformation.Options)) (*cloudformation.UpdateStackOutput, error)
	DeleteStack(ctx context.Context, params *cloudformation.DeleteStackInput, optFns ...func(*cloudformation.Options)) (*cloudformation.DeleteStackOutput, error)
}

// ObjectAPI uploads templates that exceed the inline body limit.
type ObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Client talks to one account/region pair.
type Client struct {
	cfn     CloudFormationAPI
	objects ObjectAPI
	region  string
	limiter *rate.Limiter
}

// NewClient wraps already-configured service clients. objects may be nil when
// no stack uses a template bucket.
func NewClient(cfn CloudFormationAPI, objects ObjectAPI, region string, limiter *rate.Limiter) *Client {
	return &Client{cfn: cfn, objects: objects, region: region, limiter: limiter}
}

// Region returns the region the client was built for.
func (c *Client) Region() string {
	if c == nil {
		return ""
	}
	return c.region
}

func (c *Client) wait(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("throttle: %w", err)
	}
	return nil
}
