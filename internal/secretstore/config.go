package secretstore

import "strings"

// Config is the `secrets:` section of the project root config.yaml.
type Config struct {
	Default  string                   `yaml:"default,omitempty" json:"default,omitempty"`
	Backends map[string]BackendConfig `yaml:"backends,omitempty" json:"backends,omitempty"`
}

// BackendConfig captures backend-specific settings.
type BackendConfig struct {
	Type           string `yaml:"type,omitempty" json:"type,omitempty"`
	Path           string `yaml:"path,omitempty" json:"path,omitempty"`
	Address        string `yaml:"address,omitempty" json:"address,omitempty"`
	Token          string `yaml:"token,omitempty" json:"token,omitempty"`
	Namespace      string `yaml:"namespace,omitempty" json:"namespace,omitempty"`
	Mount          string `yaml:"mount,omitempty" json:"mount,omitempty"`
	KVVersion      int    `yaml:"kv_version,omitempty" json:"kvVersion,omitempty"`
	Key            string `yaml:"key,omitempty" json:"key,omitempty"`
	AuthMethod     string `yaml:"auth_method,omitempty" json:"authMethod,omitempty"`
	AuthMount      string `yaml:"auth_mount,omitempty" json:"authMount,omitempty"`
	RoleID         string `yaml:"role_id,omitempty" json:"roleId,omitempty"`
	SecretID       string `yaml:"secret_id,omitempty" json:"secretId,omitempty"`
	AWSRole        string `yaml:"aws_role,omitempty" json:"awsRole,omitempty"`
	AWSRegion      string `yaml:"aws_region,omitempty" json:"awsRegion,omitempty"`
	AWSHeaderValue string `yaml:"aws_header_value,omitempty" json:"awsHeaderValue,omitempty"`
}

// Empty reports whether the configuration declares any backends or defaults.
func (c Config) Empty() bool {
	return strings.TrimSpace(c.Default) == "" && len(c.Backends) == 0
}
