// File: internal/cloud/calls.go
// Brief: Provider calls used by the action executors.

package cloud

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudformation"
	"github.com/aws/aws-sdk-go-v2/service/cloudformation/types"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// MaxInlineTemplateBytes is the largest template body accepted inline.
const MaxInlineTemplateBytes = 51200

const defaultWaitTimeout = 30 * time.Minute

var capabilities = []types.Capability{
	types.CapabilityCapabilityIam,
	types.CapabilityCapabilityNamedIam,
	types.CapabilityCapabilityAutoExpand,
}

// Template is a rendered document plus the optional bucket used to stage it.
type Template struct {
	StackName string
	Body      string
	Bucket    string
	KeyPrefix string
}

// StackState is the deployed view of a stack.
type StackState struct {
	ID         string            `json:"id"`
	Name       string            `json:"name"`
	Status     string            `json:"status"`
	Outputs    map[string]string `json:"outputs,omitempty"`
	Parameters map[string]string `json:"parameters,omitempty"`
}

// LaunchInput describes a create-or-update.
type LaunchInput struct {
	Template   Template
	Parameters map[string]string
	Tags       map[string]string
	Timeout    time.Duration
}

// LaunchResult is the payload of a launch.
type LaunchResult struct {
	StackID   string `json:"stackId,omitempty"`
	Operation string `json:"operation"`
	Status    string `json:"status"`
}

// DeleteResult is the payload of a delete.
type DeleteResult struct {
	StackName string `json:"stackName"`
	Existed   bool   `json:"existed"`
	Status    string `json:"status"`
}

// Validate asks the provider to validate a template.
func (c *Client) Validate(ctx context.Context, tpl Template) (Response, error) {
	body, url, err := c.templateSource(ctx, tpl)
	if err != nil {
		return Response{}, err
	}
	if err := c.wait(ctx); err != nil {
		return Response{}, err
	}
	out, err := c.cfn.ValidateTemplate(ctx, &cloudformation.ValidateTemplateInput{
		TemplateBody: body,
		TemplateURL:  url,
	})
	if err != nil {
		return Response{}, fmt.Errorf("validate template: %w", err)
	}
	res := ValidateResult{
		Description:        aws.ToString(out.Description),
		CapabilitiesReason: aws.ToString(out.CapabilitiesReason),
		DeclaredTransforms: append([]string(nil), out.DeclaredTransforms...),
	}
	for _, p := range out.Parameters {
		res.Parameters = append(res.Parameters, TemplateParameter{
			Key:         aws.ToString(p.ParameterKey),
			Default:     aws.ToString(p.DefaultValue),
			Description: aws.ToString(p.Description),
			NoEcho:      aws.ToBool(p.NoEcho),
		})
	}
	for _, capability := range out.Capabilities {
		res.Capabilities = append(res.Capabilities, string(capability))
	}
	return newResponse(out.ResultMetadata, res), nil
}

// EstimateCost returns a calculator URL for the template and parameters.
func (c *Client) EstimateCost(ctx context.Context, tpl Template, params map[string]string) (Response, error) {
	body, url, err := c.templateSource(ctx, tpl)
	if err != nil {
		return Response{}, err
	}
	if err := c.wait(ctx); err != nil {
		return Response{}, err
	}
	out, err := c.cfn.EstimateTemplateCost(ctx, &cloudformation.EstimateTemplateCostInput{
		TemplateBody: body,
		TemplateURL:  url,
		Parameters:   toParameters(params),
	})
	if err != nil {
		return Response{}, fmt.Errorf("estimate template cost: %w", err)
	}
	return newResponse(out.ResultMetadata, EstimateResult{URL: aws.ToString(out.Url)}), nil
}

// Describe returns the deployed stack, or nil when it does not exist.
func (c *Client) Describe(ctx context.Context, stackName string) (*StackState, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	out, err := c.cfn.DescribeStacks(ctx, &cloudformation.DescribeStacksInput{StackName: aws.String(stackName)})
	if err != nil {
		if IsStackMissing(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("describe stack %s: %w", stackName, err)
	}
	if len(out.Stacks) == 0 {
		return nil, nil
	}
	s := out.Stacks[0]
	state := &StackState{
		ID:         aws.ToString(s.StackId),
		Name:       aws.ToString(s.StackName),
		Status:     string(s.StackStatus),
		Outputs:    map[string]string{},
		Parameters: map[string]string{},
	}
	for _, o := range s.Outputs {
		state.Outputs[aws.ToString(o.OutputKey)] = aws.ToString(o.OutputValue)
	}
	for _, p := range s.Parameters {
		state.Parameters[aws.ToString(p.ParameterKey)] = aws.ToString(p.ParameterValue)
	}
	return state, nil
}

// DeployedTemplate fetches the original template body of a deployed stack.
func (c *Client) DeployedTemplate(ctx context.Context, stackName string) (string, error) {
	if err := c.wait(ctx); err != nil {
		return "", err
	}
	out, err := c.cfn.GetTemplate(ctx, &cloudformation.GetTemplateInput{
		StackName:     aws.String(stackName),
		TemplateStage: types.TemplateStageOriginal,
	})
	if err != nil {
		return "", fmt.Errorf("get template %s: %w", stackName, err)
	}
	return aws.ToString(out.TemplateBody), nil
}

// Launch creates the stack when it is missing and updates it otherwise.
func (c *Client) Launch(ctx context.Context, in LaunchInput) (LaunchResult, error) {
	name := in.Template.StackName
	existing, err := c.Describe(ctx, name)
	if err != nil {
		return LaunchResult{}, err
	}
	body, url, err := c.templateSource(ctx, in.Template)
	if err != nil {
		return LaunchResult{}, err
	}
	timeout := in.Timeout
	if timeout <= 0 {
		timeout = defaultWaitTimeout
	}
	describe := &cloudformation.DescribeStacksInput{StackName: aws.String(name)}

	if existing == nil || existing.Status == string(types.StackStatusReviewInProgress) {
		if err := c.wait(ctx); err != nil {
			return LaunchResult{}, err
		}
		out, err := c.cfn.CreateStack(ctx, &cloudformation.CreateStackInput{
			StackName:        aws.String(name),
			TemplateBody:     body,
			TemplateURL:      url,
			Parameters:       toParameters(in.Parameters),
			Tags:             toTags(in.Tags),
			Capabilities:     capabilities,
			TimeoutInMinutes: timeoutMinutes(in.Timeout),
		})
		if err != nil {
			return LaunchResult{}, fmt.Errorf("create stack %s: %w", name, err)
		}
		waiter := cloudformation.NewStackCreateCompleteWaiter(c.cfn)
		if err := waiter.Wait(ctx, describe, timeout); err != nil {
			return LaunchResult{StackID: aws.ToString(out.StackId), Operation: "create", Status: "failed"}, fmt.Errorf("wait for create %s: %w", name, err)
		}
		return LaunchResult{StackID: aws.ToString(out.StackId), Operation: "create", Status: string(types.StackStatusCreateComplete)}, nil
	}

	if err := c.wait(ctx); err != nil {
		return LaunchResult{}, err
	}
	out, err := c.cfn.UpdateStack(ctx, &cloudformation.UpdateStackInput{
		StackName:    aws.String(name),
		TemplateBody: body,
		TemplateURL:  url,
		Parameters:   toParameters(in.Parameters),
		Tags:         toTags(in.Tags),
		Capabilities: capabilities,
	})
	if err != nil {
		if IsNoUpdates(err) {
			return LaunchResult{StackID: existing.ID, Operation: "none", Status: existing.Status}, nil
		}
		return LaunchResult{}, fmt.Errorf("update stack %s: %w", name, err)
	}
	waiter := cloudformation.NewStackUpdateCompleteWaiter(c.cfn)
	if err := waiter.Wait(ctx, describe, timeout); err != nil {
		return LaunchResult{StackID: aws.ToString(out.StackId), Operation: "update", Status: "failed"}, fmt.Errorf("wait for update %s: %w", name, err)
	}
	return LaunchResult{StackID: aws.ToString(out.StackId), Operation: "update", Status: string(types.StackStatusUpdateComplete)}, nil
}

// Delete removes the stack and waits for completion. Missing stacks are not an error.
func (c *Client) Delete(ctx context.Context, stackName string, timeout time.Duration) (DeleteResult, error) {
	existing, err := c.Describe(ctx, stackName)
	if err != nil {
		return DeleteResult{}, err
	}
	if existing == nil {
		return DeleteResult{StackName: stackName, Existed: false, Status: "absent"}, nil
	}
	if err := c.wait(ctx); err != nil {
		return DeleteResult{}, err
	}
	if _, err := c.cfn.DeleteStack(ctx, &cloudformation.DeleteStackInput{StackName: aws.String(stackName)}); err != nil {
		return DeleteResult{}, fmt.Errorf("delete stack %s: %w", stackName, err)
	}
	if timeout <= 0 {
		timeout = defaultWaitTimeout
	}
	waiter := cloudformation.NewStackDeleteCompleteWaiter(c.cfn)
	if err := waiter.Wait(ctx, &cloudformation.DescribeStacksInput{StackName: aws.String(existing.ID)}, timeout); err != nil {
		return DeleteResult{StackName: stackName, Existed: true, Status: "failed"}, fmt.Errorf("wait for delete %s: %w", stackName, err)
	}
	return DeleteResult{StackName: stackName, Existed: true, Status: string(types.StackStatusDeleteComplete)}, nil
}

// templateSource returns either an inline body or a staged object URL.
func (c *Client) templateSource(ctx context.Context, tpl Template) (*string, *string, error) {
	if len(tpl.Body) <= MaxInlineTemplateBytes && strings.TrimSpace(tpl.Bucket) == "" {
		return aws.String(tpl.Body), nil, nil
	}
	if strings.TrimSpace(tpl.Bucket) == "" {
		return nil, nil, fmt.Errorf("template for %s is %d bytes (limit %d); set template_bucket_name", tpl.StackName, len(tpl.Body), MaxInlineTemplateBytes)
	}
	if c.objects == nil {
		return nil, nil, fmt.Errorf("template bucket %s configured but no object client is available", tpl.Bucket)
	}
	sum := sha256.Sum256([]byte(tpl.Body))
	key := path.Join(strings.Trim(tpl.KeyPrefix, "/"), tpl.StackName, hex.EncodeToString(sum[:])[:16]+".template")
	if err := c.wait(ctx); err != nil {
		return nil, nil, err
	}
	_, err := c.objects.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(tpl.Bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader([]byte(tpl.Body)),
	})
	if err != nil {
		return nil, nil, fmt.Errorf("upload template to s3://%s/%s: %w", tpl.Bucket, key, err)
	}
	return nil, aws.String(c.objectURL(tpl.Bucket, key)), nil
}

func (c *Client) objectURL(bucket, key string) string {
	if c.region == "" || c.region == "us-east-1" {
		return fmt.Sprintf("https://%s.s3.amazonaws.com/%s", bucket, key)
	}
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", bucket, c.region, key)
}

func toParameters(params map[string]string) []types.Parameter {
	if len(params) == 0 {
		return nil
	}
	keys := sortedKeys(params)
	out := make([]types.Parameter, 0, len(keys))
	for _, k := range keys {
		out = append(out, types.Parameter{ParameterKey: aws.String(k), ParameterValue: aws.String(params[k])})
	}
	return out
}

func toTags(tags map[string]string) []types.Tag {
	if len(tags) == 0 {
		return nil
	}
	keys := sortedKeys(tags)
	out := make([]types.Tag, 0, len(keys))
	for _, k := range keys {
		out = append(out, types.Tag{Key: aws.String(k), Value: aws.String(tags[k])})
	}
	return out
}

func timeoutMinutes(d time.Duration) *int32 {
	if d <= 0 {
		return nil
	}
	m := int32(d / time.Minute)
	if d%time.Minute != 0 {
		m++
	}
	return aws.Int32(m)
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
