package actions

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudformation"
	"github.com/aws/aws-sdk-go-v2/service/cloudformation/types"
	"github.com/aws/smithy-go"
	"github.com/example/strata/internal/cloud"
	"github.com/example/strata/internal/resolver"
	"github.com/example/strata/internal/stack"
	"github.com/example/strata/internal/template"
	"github.com/google/go-cmp/cmp"
)

func writeFile(t *testing.T, path string, contents string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

type fakeCFN struct {
	mu        sync.Mutex
	stacks    map[string]types.Stack
	templates map[string]string
	created   []string
}

func newFakeCFN() *fakeCFN {
	return &fakeCFN{stacks: map[string]types.Stack{}, templates: map[string]string{}}
}

func (f *fakeCFN) ValidateTemplate(context.Context, *cloudformation.ValidateTemplateInput, ...func(*cloudformation.Options)) (*cloudformation.ValidateTemplateOutput, error) {
	return &cloudformation.ValidateTemplateOutput{Description: aws.String("ok")}, nil
}

func (f *fakeCFN) EstimateTemplateCost(context.Context, *cloudformation.EstimateTemplateCostInput, ...func(*cloudformation.Options)) (*cloudformation.EstimateTemplateCostOutput, error) {
	return &cloudformation.EstimateTemplateCostOutput{Url: aws.String("https://calculator.example/x")}, nil
}

func (f *fakeCFN) DescribeStacks(_ context.Context, in *cloudformation.DescribeStacksInput, _ ...func(*cloudformation.Options)) (*cloudformation.DescribeStacksOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	name := aws.ToString(in.StackName)
	for key, s := range f.stacks {
		if key == name || aws.ToString(s.StackId) == name {
			return &cloudformation.DescribeStacksOutput{Stacks: []types.Stack{s}}, nil
		}
	}
	return nil, &smithy.GenericAPIError{Code: "ValidationError", Message: fmt.Sprintf("Stack with id %s does not exist", name)}
}

func (f *fakeCFN) GetTemplate(_ context.Context, in *cloudformation.GetTemplateInput, _ ...func(*cloudformation.Options)) (*cloudformation.GetTemplateOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return &cloudformation.GetTemplateOutput{TemplateBody: aws.String(f.templates[aws.ToString(in.StackName)])}, nil
}

func (f *fakeCFN) CreateStack(_ context.Context, in *cloudformation.CreateStackInput, _ ...func(*cloudformation.Options)) (*cloudformation.CreateStackOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	name := aws.ToString(in.StackName)
	f.created = append(f.created, name)
	f.stacks[name] = types.Stack{StackId: aws.String("arn:" + name), StackName: in.StackName, StackStatus: types.StackStatusCreateComplete}
	return &cloudformation.CreateStackOutput{StackId: aws.String("arn:" + name)}, nil
}

func (f *fakeCFN) UpdateStack(context.Context, *cloudformation.UpdateStackInput, ...func(*cloudformation.Options)) (*cloudformation.UpdateStackOutput, error) {
	return nil, &smithy.GenericAPIError{Code: "ValidationError", Message: "No updates are to be performed."}
}

func (f *fakeCFN) DeleteStack(context.Context, *cloudformation.DeleteStackInput, ...func(*cloudformation.Options)) (*cloudformation.DeleteStackOutput, error) {
	return &cloudformation.DeleteStackOutput{}, nil
}

type staticClients struct {
	client *cloud.Client
}

func (s staticClients) Client(context.Context, cloud.Target) (*cloud.Client, error) {
	return s.client, nil
}

type forgetful struct {
	mu     sync.Mutex
	forgot []string
}

func (f *forgetful) ForgetOutputs(t cloud.Target) {
	f.mu.Lock()
	f.forgot = append(f.forgot, t.StackName)
	f.mu.Unlock()
}

func newPlan(t *testing.T, rc stack.RequestContext, deps Deps, stacks ...*stack.Stack) *stack.Plan {
	t.Helper()
	project, err := stack.NewProject(rc.ProjectPath, stacks...)
	if err != nil {
		t.Fatalf("project: %v", err)
	}
	p, err := stack.NewPlan(rc, stack.PlanOptions{
		Actions:   New(deps),
		Project:   project,
		LookupEnv: func(string) (string, bool) { return "", false },
	})
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	return p
}

func demoStacks(root string) []*stack.Stack {
	return []*stack.Stack{
		{Name: "dev/vpc", ExternalName: "proj-dev-vpc", TemplatePath: filepath.Join(root, "templates", "vpc.yaml")},
		{
			Name:         "dev/app",
			ExternalName: "proj-dev-app",
			TemplatePath: filepath.Join(root, "templates", "app.yaml.tmpl"),
			Parameters: map[string][]resolver.Resolver{
				"VpcId": {resolver.StackOutput{StackName: "dev/vpc", Output: "VpcId"}},
				"Cidr":  {resolver.Static{Value: "10.1.0.0/16"}},
			},
		},
	}
}

func writeTemplates(t *testing.T, root string) {
	t.Helper()
	writeFile(t, filepath.Join(root, "templates", "vpc.yaml"), "Resources:\n  Vpc:\n    Type: AWS::EC2::VPC\n")
	writeFile(t, filepath.Join(root, "templates", "app.yaml.tmpl"), `Description: app in {{ .Parameters.VpcId }}
Resources:
  Sg:
    Type: AWS::EC2::SecurityGroup
`)
}

func TestGenerateUsesExplicitPlaceholders(t *testing.T) {
	root := t.TempDir()
	writeTemplates(t, root)
	rc := stack.RequestContext{ProjectPath: root, CommandPath: "dev/app", IgnoreDependencies: true}
	p := newPlan(t, rc, Deps{Renderer: template.NewRenderer(root, nil)}, demoStacks(root)...)

	res, err := p.Generate(context.Background(), true)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if !res.OK() {
		t.Fatalf("failed: %v", res.Failed())
	}
	body, _ := res.Outcomes["dev/app"].Value.(string)
	if !strings.Contains(body, "Description: app in { !stack_output(dev/vpc::VpcId) }") {
		t.Fatalf("body=%q", body)
	}
}

func TestValidateReturnsProviderResponse(t *testing.T) {
	root := t.TempDir()
	writeTemplates(t, root)
	deps := Deps{
		Renderer: template.NewRenderer(root, nil),
		Clients:  staticClients{client: cloud.NewClient(newFakeCFN(), nil, "eu-west-1", nil)},
	}
	p := newPlan(t, stack.RequestContext{ProjectPath: root, CommandPath: "dev/vpc"}, deps, demoStacks(root)...)

	res, err := p.Validate(context.Background(), true)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	resp, ok := res.Outcomes["dev/vpc"].Value.(cloud.Response)
	if !ok || !resp.OK() {
		t.Fatalf("outcome=%+v", res.Outcomes["dev/vpc"])
	}
}

func TestEstimateCostReturnsURL(t *testing.T) {
	root := t.TempDir()
	writeTemplates(t, root)
	deps := Deps{
		Renderer: template.NewRenderer(root, nil),
		Clients:  staticClients{client: cloud.NewClient(newFakeCFN(), nil, "eu-west-1", nil)},
	}
	p := newPlan(t, stack.RequestContext{ProjectPath: root, CommandPath: "dev/vpc"}, deps, demoStacks(root)...)

	res, err := p.EstimateCost(context.Background(), true)
	if err != nil {
		t.Fatalf("estimate: %v", err)
	}
	resp, _ := res.Outcomes["dev/vpc"].Value.(cloud.Response)
	if est, ok := resp.Payload.(cloud.EstimateResult); !ok || est.URL != "https://calculator.example/x" {
		t.Fatalf("payload=%#v", resp.Payload)
	}
}

func TestDiffComparesDeployedState(t *testing.T) {
	root := t.TempDir()
	writeTemplates(t, root)
	cfn := newFakeCFN()
	cfn.stacks["proj-dev-app"] = types.Stack{
		StackId:     aws.String("arn:proj-dev-app"),
		StackName:   aws.String("proj-dev-app"),
		StackStatus: types.StackStatusCreateComplete,
		Parameters: []types.Parameter{
			{ParameterKey: aws.String("Cidr"), ParameterValue: aws.String("10.0.0.0/8")},
			{ParameterKey: aws.String("VpcId"), ParameterValue: aws.String("****")},
		},
	}
	cfn.templates["proj-dev-app"] = "Description: app in old\nResources:\n  Sg:\n    Type: AWS::EC2::SecurityGroup\n"

	deps := Deps{
		Renderer: template.NewRenderer(root, nil),
		Clients:  staticClients{client: cloud.NewClient(cfn, nil, "eu-west-1", nil)},
	}
	rc := stack.RequestContext{ProjectPath: root, CommandPath: "dev/app", IgnoreDependencies: true}
	p := newPlan(t, rc, deps, demoStacks(root)...)

	res, err := p.Diff(context.Background(), true)
	if err != nil {
		t.Fatalf("diff: %v", err)
	}
	out, ok := res.Outcomes["dev/app"].Value.(DiffResult)
	if !ok {
		t.Fatalf("outcome=%+v", res.Outcomes["dev/app"])
	}
	if !out.Deployed || !out.Changed {
		t.Fatalf("diff=%+v", out)
	}
	if !strings.Contains(out.Template, "-Description: app in old") {
		t.Fatalf("template diff=%q", out.Template)
	}
	if !strings.Contains(out.Parameters, "-Cidr=10.0.0.0/8") || !strings.Contains(out.Parameters, "+Cidr=10.1.0.0/16") {
		t.Fatalf("parameter diff=%q", out.Parameters)
	}
	if strings.Contains(out.Parameters, "VpcId") && strings.Contains(out.Parameters, "+VpcId") {
		t.Fatalf("masked parameter reported as changed: %q", out.Parameters)
	}
}

func TestDiffOfUndeployedStack(t *testing.T) {
	root := t.TempDir()
	writeTemplates(t, root)
	deps := Deps{
		Renderer: template.NewRenderer(root, nil),
		Clients:  staticClients{client: cloud.NewClient(newFakeCFN(), nil, "eu-west-1", nil)},
	}
	p := newPlan(t, stack.RequestContext{ProjectPath: root, CommandPath: "dev/vpc"}, deps, demoStacks(root)...)
	res, err := p.Diff(context.Background(), true)
	if err != nil {
		t.Fatalf("diff: %v", err)
	}
	out := res.Outcomes["dev/vpc"].Value.(DiffResult)
	if out.Deployed || !out.Changed || !strings.Contains(out.Template, "--- /dev/null") {
		t.Fatalf("diff=%+v", out)
	}
}

func TestLaunchCreatesAndForgetsOutputs(t *testing.T) {
	root := t.TempDir()
	writeTemplates(t, root)
	cfn := newFakeCFN()
	cache := &forgetful{}
	deps := Deps{
		Renderer: template.NewRenderer(root, nil),
		Clients:  staticClients{client: cloud.NewClient(cfn, nil, "eu-west-1", nil)},
		Outputs:  cache,
	}
	p := newPlan(t, stack.RequestContext{ProjectPath: root, CommandPath: "dev/vpc"}, deps, demoStacks(root)...)

	res, err := p.Launch(context.Background())
	if err != nil {
		t.Fatalf("launch: %v", err)
	}
	if !res.OK() {
		t.Fatalf("failed: %v", res.Failed())
	}
	if got := res.Outcomes["dev/vpc"].Value.(cloud.LaunchResult); got.Operation != "create" {
		t.Fatalf("launch=%+v", got)
	}
	if diff := cmp.Diff([]string{"proj-dev-vpc"}, cfn.created); diff != "" {
		t.Fatalf("created (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"proj-dev-vpc"}, cache.forgot); diff != "" {
		t.Fatalf("forgot (-want +got):\n%s", diff)
	}
}

func TestDeleteDoesNotResolveParameters(t *testing.T) {
	root := t.TempDir()
	writeTemplates(t, root)
	stacks := demoStacks(root)
	stacks[1].Parameters["Token"] = []resolver.Resolver{resolver.EnvironmentVariable{Name: "STRATA_UNSET_TOKEN"}}
	deps := Deps{Clients: staticClients{client: cloud.NewClient(newFakeCFN(), nil, "eu-west-1", nil)}}
	p := newPlan(t, stack.RequestContext{ProjectPath: root, CommandPath: "dev/app"}, deps, stacks...)

	res, err := p.Delete(context.Background())
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if !res.OK() {
		t.Fatalf("failed: %v", res.Failed())
	}
	if got := res.Outcomes["dev/app"].Value.(cloud.DeleteResult); got.Existed {
		t.Fatalf("delete=%+v", got)
	}
}
