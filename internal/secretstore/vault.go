package secretstore

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	vault "github.com/hashicorp/vault/api"
)

const (
	vaultAuthToken   = "token"
	vaultAuthAppRole = "approle"
	vaultAuthAWS     = "aws"
)

type vaultBackend struct {
	client    *vault.Client
	mount     string
	kvVersion int
	key       string
	auth      vaultAuthConfig
	authOnce  sync.Once
	authErr   error
}

type vaultAuthConfig struct {
	method         string
	mount          string
	token          string
	roleID         string
	secretID       string
	awsRole        string
	awsRegion      string
	awsHeaderValue string
}

func newVaultBackend(cfg BackendConfig) (*vaultBackend, error) {
	address := strings.TrimSpace(cfg.Address)
	if address == "" {
		address = strings.TrimSpace(os.Getenv("VAULT_ADDR"))
	}
	if address == "" {
		return nil, fmt.Errorf("vault address is required")
	}
	authCfg, err := buildVaultAuthConfig(cfg)
	if err != nil {
		return nil, err
	}

	apiCfg := vault.DefaultConfig()
	apiCfg.Address = address
	client, err := vault.NewClient(apiCfg)
	if err != nil {
		return nil, err
	}
	if ns := strings.TrimSpace(cfg.Namespace); ns != "" {
		client.SetNamespace(ns)
	}
	if authCfg.method == vaultAuthToken {
		client.SetToken(authCfg.token)
	}

	mount := strings.Trim(strings.TrimSpace(cfg.Mount), "/")
	if mount == "" {
		mount = "secret"
	}
	kvVersion := cfg.KVVersion
	if kvVersion == 0 {
		kvVersion = 2
	}
	if kvVersion != 1 && kvVersion != 2 {
		return nil, fmt.Errorf("vault kv_version must be 1 or 2")
	}
	return &vaultBackend{
		client:    client,
		mount:     mount,
		kvVersion: kvVersion,
		key:       strings.TrimSpace(cfg.Key),
		auth:      authCfg,
	}, nil
}

func (b *vaultBackend) Lookup(ctx context.Context, secretPath string) (string, error) {
	path, key := splitSecretPath(secretPath)
	if path == "" {
		return "", fmt.Errorf("vault secret path is required")
	}
	if err := b.ensureAuth(ctx); err != nil {
		return "", err
	}
	data, err := b.read(ctx, path)
	if err != nil {
		return "", err
	}
	if key == "" {
		key = b.key
	}
	return selectSecretValue(data, key, "value")
}

func (b *vaultBackend) read(ctx context.Context, path string) (map[string]interface{}, error) {
	switch b.kvVersion {
	case 1:
		secret, err := b.client.Logical().ReadWithContext(ctx, fmt.Sprintf("%s/%s", b.mount, path))
		if err != nil {
			return nil, err
		}
		if secret == nil || secret.Data == nil {
			return nil, fmt.Errorf("vault secret %q not found", path)
		}
		return secret.Data, nil
	default:
		secret, err := b.client.KVv2(b.mount).Get(ctx, path)
		if err != nil {
			return nil, err
		}
		if secret == nil || secret.Data == nil {
			return nil, fmt.Errorf("vault secret %q not found", path)
		}
		return secret.Data, nil
	}
}

func buildVaultAuthConfig(cfg BackendConfig) (vaultAuthConfig, error) {
	method := strings.ToLower(strings.TrimSpace(cfg.AuthMethod))
	switch method {
	case "app-role", "app_role":
		method = vaultAuthAppRole
	case "aws-iam", "iam":
		method = vaultAuthAWS
	}
	out := vaultAuthConfig{
		token:          strings.TrimSpace(cfg.Token),
		roleID:         strings.TrimSpace(cfg.RoleID),
		secretID:       strings.TrimSpace(cfg.SecretID),
		awsRole:        strings.TrimSpace(cfg.AWSRole),
		awsRegion:      strings.TrimSpace(cfg.AWSRegion),
		awsHeaderValue: strings.TrimSpace(cfg.AWSHeaderValue),
	}
	if method == "" {
		switch {
		case out.token != "":
			method = vaultAuthToken
		case out.roleID != "" || out.secretID != "":
			method = vaultAuthAppRole
		case out.awsRole != "":
			method = vaultAuthAWS
		default:
			method = vaultAuthToken
			out.token = strings.TrimSpace(os.Getenv("VAULT_TOKEN"))
		}
	}
	out.method = method
	out.mount = strings.Trim(strings.TrimSpace(cfg.AuthMount), "/")
	if out.mount == "" && method != vaultAuthToken {
		out.mount = method
	}
	switch method {
	case vaultAuthToken:
		if out.token == "" {
			return vaultAuthConfig{}, fmt.Errorf("vault token is required (set token or VAULT_TOKEN)")
		}
	case vaultAuthAppRole:
		if out.roleID == "" || out.secretID == "" {
			return vaultAuthConfig{}, fmt.Errorf("vault approle auth requires role_id and secret_id")
		}
	case vaultAuthAWS:
		if out.awsRole == "" {
			return vaultAuthConfig{}, fmt.Errorf("vault aws auth requires aws_role")
		}
	default:
		return vaultAuthConfig{}, fmt.Errorf("vault auth method %q is not supported", cfg.AuthMethod)
	}
	return out, nil
}

func (b *vaultBackend) ensureAuth(ctx context.Context) error {
	if b.auth.method == vaultAuthToken {
		return nil
	}
	b.authOnce.Do(func() {
		b.authErr = b.login(ctx)
	})
	return b.authErr
}

func (b *vaultBackend) login(ctx context.Context) error {
	var data map[string]interface{}
	switch b.auth.method {
	case vaultAuthAppRole:
		data = map[string]interface{}{
			"role_id":   b.auth.roleID,
			"secret_id": b.auth.secretID,
		}
	case vaultAuthAWS:
		payload, err := buildAWSLoginPayload(ctx, b.auth)
		if err != nil {
			return err
		}
		data = payload
	default:
		return nil
	}
	path := fmt.Sprintf("auth/%s/login", b.auth.mount)
	secret, err := b.client.Logical().WriteWithContext(ctx, path, data)
	if err != nil {
		return err
	}
	if secret == nil || secret.Auth == nil || strings.TrimSpace(secret.Auth.ClientToken) == "" {
		return fmt.Errorf("vault auth %s did not return a client token", b.auth.method)
	}
	b.client.SetToken(secret.Auth.ClientToken)
	return nil
}

func buildAWSLoginPayload(ctx context.Context, cfg vaultAuthConfig) (map[string]interface{}, error) {
	region := cfg.awsRegion
	if region == "" {
		region = strings.TrimSpace(os.Getenv("AWS_REGION"))
	}
	if region == "" {
		return nil, fmt.Errorf("aws region is required for vault auth (set aws_region or AWS_REGION)")
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	creds, err := awsCfg.Credentials.Retrieve(ctx)
	if err != nil {
		return nil, fmt.Errorf("retrieve aws credentials: %w", err)
	}
	body := "Action=GetCallerIdentity&Version=2011-06-15"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "https://sts.amazonaws.com/", strings.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build sts request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded; charset=utf-8")
	if cfg.awsHeaderValue != "" {
		req.Header.Set("X-Vault-AWS-IAM-Server-ID", cfg.awsHeaderValue)
	}
	payloadHash := sha256.Sum256([]byte(body))
	if err := v4.NewSigner().SignHTTP(ctx, creds, req, hex.EncodeToString(payloadHash[:]), "sts", region, time.Now()); err != nil {
		return nil, fmt.Errorf("sign sts request: %w", err)
	}
	headers := map[string][]string{}
	for key, values := range req.Header {
		headers[key] = values
	}
	headers["Host"] = []string{req.URL.Host}
	headerJSON, err := json.Marshal(headers)
	if err != nil {
		return nil, fmt.Errorf("encode aws headers: %w", err)
	}
	return map[string]interface{}{
		"role":                    cfg.awsRole,
		"iam_http_request_method": req.Method,
		"iam_request_url":         base64.StdEncoding.EncodeToString([]byte(req.URL.String())),
		"iam_request_body":        base64.StdEncoding.EncodeToString([]byte(body)),
		"iam_request_headers":     base64.StdEncoding.EncodeToString(headerJSON),
	}, nil
}
