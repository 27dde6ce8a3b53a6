// File: internal/stack/types.go
// Brief: Stack and project configuration types.

package stack

import (
	"sort"
	"time"

	"github.com/example/strata/internal/cloud"
	"github.com/example/strata/internal/resolver"
	"github.com/example/strata/internal/secretstore"
	"gopkg.in/yaml.v3"
)

// fileConfig is the on-disk shape shared by config.yaml and stack files.
type fileConfig struct {
	ProjectCode        string              `yaml:"project_code"`
	Region             string              `yaml:"region"`
	Profile            string              `yaml:"profile"`
	IAMRole            string              `yaml:"iam_role"`
	TemplateBucketName string              `yaml:"template_bucket_name"`
	StackTags          map[string]string   `yaml:"stack_tags"`
	Dependencies       []string            `yaml:"dependencies"`
	Secrets            *secretstore.Config `yaml:"secrets"`

	// Stack files only.
	TemplatePath string               `yaml:"template_path"`
	StackName    string               `yaml:"stack_name"`
	Parameters   map[string]yaml.Node `yaml:"parameters"`
	UserData     map[string]any       `yaml:"user_data"`
	Protected    *bool                `yaml:"protected"`
	Timeout      string               `yaml:"timeout"`
}

// Stack is one deployable unit. It is immutable once the project is loaded.
type Stack struct {
	// Name is the project-relative identity, e.g. "dev/vpc".
	Name string `json:"name"`
	// ExternalName is the provider-side stack name.
	ExternalName string `json:"externalName"`
	// Dependencies are declared dependencies plus those implied by
	// !stack_output parameters, sorted and de-duplicated.
	Dependencies      []string                       `json:"dependencies,omitempty"`
	TemplatePath      string                         `json:"templatePath"`
	TemplateBucket    string                         `json:"templateBucket,omitempty"`
	TemplateKeyPrefix string                         `json:"templateKeyPrefix,omitempty"`
	Parameters        map[string][]resolver.Resolver `json:"-"`
	UserData          map[string]any                 `json:"userData,omitempty"`
	Tags              map[string]string              `json:"tags,omitempty"`
	Target            cloud.Target                   `json:"target"`
	Protected         bool                           `json:"protected,omitempty"`
	Timeout           time.Duration                  `json:"timeout,omitempty"`
	SourcePath        string                         `json:"sourcePath,omitempty"`
}

// Supports reports whether the stack accepts the action. Protected stacks only
// accept read-only actions.
func (s *Stack) Supports(a Action) bool {
	return !(s.Protected && a.Mutating)
}

// ParameterNames returns the parameter names in sorted order.
func (s *Stack) ParameterNames() []string {
	names := make([]string, 0, len(s.Parameters))
	for name := range s.Parameters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Project is the loaded set of stacks.
type Project struct {
	Root    string             `json:"root"`
	Code    string             `json:"projectCode,omitempty"`
	Secrets secretstore.Config `json:"-"`
	Stacks  map[string]*Stack  `json:"stacks"`
}

// Names returns every stack name in sorted order.
func (p *Project) Names() []string {
	names := make([]string, 0, len(p.Stacks))
	for name := range p.Stacks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Stack returns the stack with the given (canonicalized) name.
func (p *Project) Stack(name string) (*Stack, bool) {
	s, ok := p.Stacks[resolver.CanonicalName(name)]
	return s, ok
}
