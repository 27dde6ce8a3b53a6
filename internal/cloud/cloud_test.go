package cloud

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsmiddleware "github.com/aws/aws-sdk-go-v2/aws/middleware"
	"github.com/aws/aws-sdk-go-v2/service/cloudformation"
	"github.com/aws/aws-sdk-go-v2/service/cloudformation/types"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	"github.com/aws/smithy-go/middleware"
	smithyhttp "github.com/aws/smithy-go/transport/http"
	"golang.org/x/time/rate"
)

type fakeCFN struct {
	mu        sync.Mutex
	stacks    map[string]types.Stack
	describes int32
	updateErr error
	created   []*cloudformation.CreateStackInput
	updated   []*cloudformation.UpdateStackInput
	validated []*cloudformation.ValidateTemplateInput
}

func newFakeCFN() *fakeCFN {
	return &fakeCFN{stacks: map[string]types.Stack{}}
}

func missing(name string) error {
	return &smithy.GenericAPIError{Code: "ValidationError", Message: fmt.Sprintf("Stack with id %s does not exist", name)}
}

func (f *fakeCFN) ValidateTemplate(_ context.Context, in *cloudformation.ValidateTemplateInput, _ ...func(*cloudformation.Options)) (*cloudformation.ValidateTemplateOutput, error) {
	f.mu.Lock()
	f.validated = append(f.validated, in)
	f.mu.Unlock()
	return &cloudformation.ValidateTemplateOutput{
		Description: aws.String("demo"),
		Parameters:  []types.TemplateParameter{{ParameterKey: aws.String("VpcId")}},
	}, nil
}

func (f *fakeCFN) EstimateTemplateCost(context.Context, *cloudformation.EstimateTemplateCostInput, ...func(*cloudformation.Options)) (*cloudformation.EstimateTemplateCostOutput, error) {
	return &cloudformation.EstimateTemplateCostOutput{Url: aws.String("https://calculator.example/estimate")}, nil
}

func (f *fakeCFN) DescribeStacks(_ context.Context, in *cloudformation.DescribeStacksInput, _ ...func(*cloudformation.Options)) (*cloudformation.DescribeStacksOutput, error) {
	atomic.AddInt32(&f.describes, 1)
	f.mu.Lock()
	defer f.mu.Unlock()
	name := aws.ToString(in.StackName)
	for key, s := range f.stacks {
		if key == name || aws.ToString(s.StackId) == name {
			return &cloudformation.DescribeStacksOutput{Stacks: []types.Stack{s}}, nil
		}
	}
	return nil, missing(name)
}

func (f *fakeCFN) GetTemplate(_ context.Context, in *cloudformation.GetTemplateInput, _ ...func(*cloudformation.Options)) (*cloudformation.GetTemplateOutput, error) {
	return &cloudformation.GetTemplateOutput{TemplateBody: aws.String("deployed:" + aws.ToString(in.StackName))}, nil
}

func (f *fakeCFN) CreateStack(_ context.Context, in *cloudformation.CreateStackInput, _ ...func(*cloudformation.Options)) (*cloudformation.CreateStackOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	name := aws.ToString(in.StackName)
	id := "arn:stack/" + name
	f.created = append(f.created, in)
	f.stacks[name] = types.Stack{StackId: aws.String(id), StackName: in.StackName, StackStatus: types.StackStatusCreateComplete}
	return &cloudformation.CreateStackOutput{StackId: aws.String(id)}, nil
}

func (f *fakeCFN) UpdateStack(_ context.Context, in *cloudformation.UpdateStackInput, _ ...func(*cloudformation.Options)) (*cloudformation.UpdateStackOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.updateErr != nil {
		return nil, f.updateErr
	}
	f.updated = append(f.updated, in)
	s := f.stacks[aws.ToString(in.StackName)]
	s.StackStatus = types.StackStatusUpdateComplete
	f.stacks[aws.ToString(in.StackName)] = s
	return &cloudformation.UpdateStackOutput{StackId: s.StackId}, nil
}

func (f *fakeCFN) DeleteStack(_ context.Context, in *cloudformation.DeleteStackInput, _ ...func(*cloudformation.Options)) (*cloudformation.DeleteStackOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	name := aws.ToString(in.StackName)
	s := f.stacks[name]
	s.StackStatus = types.StackStatusDeleteComplete
	f.stacks[name] = s
	return &cloudformation.DeleteStackOutput{}, nil
}

type fakeObjects struct {
	keys []string
}

func (f *fakeObjects) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.keys = append(f.keys, aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key))
	return &s3.PutObjectOutput{}, nil
}

func TestClassify(t *testing.T) {
	cases := map[string]error{
		ClassRateLimit:  &smithy.GenericAPIError{Code: "Throttling", Message: "Rate exceeded"},
		ClassAccess:     &smithy.GenericAPIError{Code: "AccessDenied", Message: "nope"},
		ClassNotFound:   missing("dev-vpc"),
		ClassValidation: &smithy.GenericAPIError{Code: "ValidationError", Message: "Template format error"},
		ClassTimeout:    fmt.Errorf("wait: %w", context.DeadlineExceeded),
		ClassOther:      errors.New("boom"),
	}
	for want, err := range cases {
		if got := Classify(err); got != want {
			t.Fatalf("Classify(%v)=%q want %q", err, got, want)
		}
	}
	if Classify(nil) != "" {
		t.Fatalf("expected empty class for nil")
	}
}

func TestValidateReturnsOKResponse(t *testing.T) {
	cfn := newFakeCFN()
	c := NewClient(cfn, nil, "eu-west-1", nil)
	resp, err := c.Validate(context.Background(), Template{StackName: "dev-vpc", Body: "Resources: {}"})
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if !resp.OK() {
		t.Fatalf("status=%d", resp.StatusCode)
	}
	res, ok := resp.Payload.(ValidateResult)
	if !ok || res.Description != "demo" || len(res.Parameters) != 1 {
		t.Fatalf("payload=%#v", resp.Payload)
	}
	if got := aws.ToString(cfn.validated[0].TemplateBody); got != "Resources: {}" {
		t.Fatalf("body=%q", got)
	}
}

func TestLaunchCreatesThenUpdates(t *testing.T) {
	cfn := newFakeCFN()
	c := NewClient(cfn, nil, "eu-west-1", nil)
	in := LaunchInput{
		Template:   Template{StackName: "dev-vpc", Body: "Resources: {}"},
		Parameters: map[string]string{"B": "2", "A": "1"},
		Tags:       map[string]string{"team": "net"},
	}
	res, err := c.Launch(context.Background(), in)
	if err != nil {
		t.Fatalf("launch: %v", err)
	}
	if res.Operation != "create" || len(cfn.created) != 1 {
		t.Fatalf("res=%+v created=%d", res, len(cfn.created))
	}
	params := cfn.created[0].Parameters
	if len(params) != 2 || aws.ToString(params[0].ParameterKey) != "A" {
		t.Fatalf("parameters not sorted: %+v", params)
	}

	res, err = c.Launch(context.Background(), in)
	if err != nil {
		t.Fatalf("second launch: %v", err)
	}
	if res.Operation != "update" || len(cfn.updated) != 1 {
		t.Fatalf("res=%+v updated=%d", res, len(cfn.updated))
	}
}

func TestLaunchTreatsNoUpdatesAsSuccess(t *testing.T) {
	cfn := newFakeCFN()
	cfn.stacks["dev-vpc"] = types.Stack{StackId: aws.String("arn:stack/dev-vpc"), StackName: aws.String("dev-vpc"), StackStatus: types.StackStatusCreateComplete}
	cfn.updateErr = &smithy.GenericAPIError{Code: "ValidationError", Message: "No updates are to be performed."}
	c := NewClient(cfn, nil, "eu-west-1", nil)
	res, err := c.Launch(context.Background(), LaunchInput{Template: Template{StackName: "dev-vpc", Body: "x"}})
	if err != nil {
		t.Fatalf("launch: %v", err)
	}
	if res.Operation != "none" || res.StackID != "arn:stack/dev-vpc" {
		t.Fatalf("res=%+v", res)
	}
}

func TestDeleteMissingStackIsNotAnError(t *testing.T) {
	c := NewClient(newFakeCFN(), nil, "eu-west-1", nil)
	res, err := c.Delete(context.Background(), "ghost", 0)
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if res.Existed {
		t.Fatalf("res=%+v", res)
	}
}

func TestLargeTemplateIsStagedInBucket(t *testing.T) {
	cfn := newFakeCFN()
	objects := &fakeObjects{}
	c := NewClient(cfn, objects, "eu-west-1", nil)
	body := strings.Repeat("#", MaxInlineTemplateBytes+1)
	if _, err := c.Validate(context.Background(), Template{StackName: "dev-vpc", Body: body, Bucket: "tpl-bucket", KeyPrefix: "proj"}); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if len(objects.keys) != 1 || !strings.HasPrefix(objects.keys[0], "tpl-bucket/proj/dev-vpc/") {
		t.Fatalf("keys=%v", objects.keys)
	}
	url := aws.ToString(cfn.validated[0].TemplateURL)
	if !strings.HasPrefix(url, "https://tpl-bucket.s3.eu-west-1.amazonaws.com/proj/dev-vpc/") {
		t.Fatalf("url=%q", url)
	}
	if cfn.validated[0].TemplateBody != nil {
		t.Fatalf("expected no inline body")
	}
}

func TestLargeTemplateWithoutBucketFails(t *testing.T) {
	c := NewClient(newFakeCFN(), nil, "eu-west-1", nil)
	body := strings.Repeat("#", MaxInlineTemplateBytes+1)
	_, err := c.Validate(context.Background(), Template{StackName: "dev-vpc", Body: body})
	if err == nil || !strings.Contains(err.Error(), "template_bucket_name") {
		t.Fatalf("expected bucket hint, got %v", err)
	}
}

func TestPoolStackOutputsCachesPerRun(t *testing.T) {
	cfn := newFakeCFN()
	cfn.stacks["dev-vpc"] = types.Stack{
		StackId:     aws.String("arn:stack/dev-vpc"),
		StackName:   aws.String("dev-vpc"),
		StackStatus: types.StackStatusCreateComplete,
		Outputs:     []types.Output{{OutputKey: aws.String("VpcId"), OutputValue: aws.String("vpc-123")}},
	}
	var built int32
	pool := NewPool(PoolOptions{Factory: func(_ context.Context, t Target, l *rate.Limiter) (*Client, error) {
		atomic.AddInt32(&built, 1)
		return NewClient(cfn, nil, t.Region, l), nil
	}})
	target := Target{StackName: "dev-vpc", Region: "eu-west-1"}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out, err := pool.StackOutputs(context.Background(), target)
			if err != nil || out["VpcId"] != "vpc-123" {
				t.Errorf("outputs=%v err=%v", out, err)
			}
		}()
	}
	wg.Wait()
	if n := atomic.LoadInt32(&cfn.describes); n < 1 || n > 8 {
		t.Fatalf("describes=%d", n)
	}
	before := atomic.LoadInt32(&cfn.describes)
	if _, err := pool.StackOutputs(context.Background(), target); err != nil {
		t.Fatalf("cached: %v", err)
	}
	if atomic.LoadInt32(&cfn.describes) != before {
		t.Fatalf("expected cached outputs")
	}
	if atomic.LoadInt32(&built) != 1 {
		t.Fatalf("built=%d", built)
	}

	pool.ForgetOutputs(target)
	if _, err := pool.StackOutputs(context.Background(), target); err != nil {
		t.Fatalf("refetch: %v", err)
	}
	if atomic.LoadInt32(&cfn.describes) != before+1 {
		t.Fatalf("expected refetch after forget")
	}
}

func TestPoolStackOutputsMissingStack(t *testing.T) {
	cfn := newFakeCFN()
	pool := NewPool(PoolOptions{Factory: func(_ context.Context, t Target, l *rate.Limiter) (*Client, error) {
		return NewClient(cfn, nil, t.Region, l), nil
	}})
	if _, err := pool.StackOutputs(context.Background(), Target{StackName: "ghost"}); err == nil {
		t.Fatalf("expected error")
	}
}

func TestNewResponseReadsRawStatusAndRequestID(t *testing.T) {
	next := middleware.DeserializeHandlerFunc(func(ctx context.Context, in middleware.DeserializeInput) (middleware.DeserializeOutput, middleware.Metadata, error) {
		var md middleware.Metadata
		awsmiddleware.SetRequestIDMetadata(&md, "req-123")
		raw := &smithyhttp.Response{Response: &http.Response{StatusCode: http.StatusAccepted}}
		return middleware.DeserializeOutput{RawResponse: raw}, md, nil
	})
	_, md, err := awsmiddleware.AddRawResponse{}.HandleDeserialize(context.Background(), middleware.DeserializeInput{}, next)
	if err != nil {
		t.Fatalf("deserialize: %v", err)
	}
	resp := newResponse(md, EstimateResult{URL: "https://calculator.example"})
	if resp.StatusCode != http.StatusAccepted || resp.RequestID != "req-123" {
		t.Fatalf("response=%+v", resp)
	}

	resp = newResponse(middleware.Metadata{}, nil)
	if resp.StatusCode != http.StatusOK || !resp.OK() {
		t.Fatalf("missing raw response should default to 200, got %d", resp.StatusCode)
	}
}

func TestPoolCreatesClientsForDifferentTargetsConcurrently(t *testing.T) {
	cfn := newFakeCFN()
	euStarted := make(chan struct{})
	var built int32
	pool := NewPool(PoolOptions{Factory: func(_ context.Context, t Target, l *rate.Limiter) (*Client, error) {
		atomic.AddInt32(&built, 1)
		switch t.Region {
		case "eu-west-1":
			close(euStarted)
		case "us-east-1":
			select {
			case <-euStarted:
			case <-time.After(2 * time.Second):
				return nil, errors.New("eu-west-1 client was not created while us-east-1 was connecting")
			}
		}
		return NewClient(cfn, nil, t.Region, l), nil
	}})

	var wg sync.WaitGroup
	errs := make(chan error, 2)
	for _, region := range []string{"us-east-1", "eu-west-1"} {
		wg.Add(1)
		go func(region string) {
			defer wg.Done()
			c, err := pool.Client(context.Background(), Target{Region: region})
			if err == nil && c.Region() != region {
				err = fmt.Errorf("region=%s want %s", c.Region(), region)
			}
			errs <- err
		}(region)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("client: %v", err)
		}
	}

	again, err := pool.Client(context.Background(), Target{Region: "eu-west-1"})
	if err != nil || again.Region() != "eu-west-1" {
		t.Fatalf("cached client=%v err=%v", again, err)
	}
	if n := atomic.LoadInt32(&built); n != 2 {
		t.Fatalf("built=%d want 2", n)
	}
}
