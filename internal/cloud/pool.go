// File: internal/cloud/pool.go
// Brief: Per-connection client pool and cached cross-stack output lookups.

package cloud

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials/stscreds"
	"github.com/aws/aws-sdk-go-v2/service/cloudformation"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/go-logr/logr"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"
)

// ClientFactory builds a client for the connection described by t.
type ClientFactory func(ctx context.Context, t Target, limiter *rate.Limiter) (*Client, error)

// PoolOptions tunes provider access.
type PoolOptions struct {
	// QPS bounds provider requests per connection. Zero disables throttling.
	QPS   float64
	Burst int
	// Factory replaces the SDK-backed client constructor (tests).
	Factory ClientFactory
	Logger  logr.Logger
}

// Pool hands out one Client per profile/region/role and caches stack outputs
// for the lifetime of a run.
type Pool struct {
	opts PoolOptions

	mu      sync.Mutex
	clients map[string]*Client
	connect singleflight.Group

	group   singleflight.Group
	outMu   sync.RWMutex
	outputs map[string]map[string]string
}

// NewPool returns an empty pool.
func NewPool(opts PoolOptions) *Pool {
	if opts.Factory == nil {
		opts.Factory = NewSDKClient
	}
	if opts.Burst <= 0 {
		opts.Burst = 1
	}
	return &Pool{
		opts:    opts,
		clients: map[string]*Client{},
		outputs: map[string]map[string]string{},
	}
}

// Client returns the shared client for t's connection, creating it once.
// Different connections are created concurrently.
func (p *Pool) Client(ctx context.Context, t Target) (*Client, error) {
	key := t.connectionKey()
	if c := p.cachedClient(key); c != nil {
		return c, nil
	}
	v, err, _ := p.connect.Do(key, func() (any, error) {
		if c := p.cachedClient(key); c != nil {
			return c, nil
		}
		var limiter *rate.Limiter
		if p.opts.QPS > 0 {
			limiter = rate.NewLimiter(rate.Limit(p.opts.QPS), p.opts.Burst)
		}
		c, err := p.opts.Factory(ctx, t, limiter)
		if err != nil {
			return nil, fmt.Errorf("connect (%s): %w", t, err)
		}
		p.opts.Logger.V(1).Info("provider client ready", "region", t.Region, "profile", t.Profile, "role", t.IAMRole)
		p.mu.Lock()
		p.clients[key] = c
		p.mu.Unlock()
		return c, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Client), nil
}

func (p *Pool) cachedClient(key string) *Client {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.clients[key]
}

// StackOutputs returns the outputs of the deployed stack t. Concurrent callers
// for the same stack share one provider call and the result is cached.
func (p *Pool) StackOutputs(ctx context.Context, t Target) (map[string]string, error) {
	key := t.connectionKey() + "\n" + t.StackName
	p.outMu.RLock()
	cached, ok := p.outputs[key]
	p.outMu.RUnlock()
	if ok {
		return cached, nil
	}
	v, err, _ := p.group.Do(key, func() (any, error) {
		c, err := p.Client(ctx, t)
		if err != nil {
			return nil, err
		}
		state, err := c.Describe(ctx, t.StackName)
		if err != nil {
			return nil, err
		}
		if state == nil {
			return nil, fmt.Errorf("stack %s does not exist", t.StackName)
		}
		p.outMu.Lock()
		p.outputs[key] = state.Outputs
		p.outMu.Unlock()
		return state.Outputs, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(map[string]string), nil
}

// ForgetOutputs drops cached outputs for t, typically after it was launched.
func (p *Pool) ForgetOutputs(t Target) {
	key := t.connectionKey() + "\n" + t.StackName
	p.outMu.Lock()
	delete(p.outputs, key)
	p.outMu.Unlock()
}

// NewSDKClient loads shared AWS configuration for t and optionally assumes t.IAMRole.
func NewSDKClient(ctx context.Context, t Target, limiter *rate.Limiter) (*Client, error) {
	var loadOpts []func(*config.LoadOptions) error
	if r := strings.TrimSpace(t.Region); r != "" {
		loadOpts = append(loadOpts, config.WithRegion(r))
	}
	if p := strings.TrimSpace(t.Profile); p != "" {
		loadOpts = append(loadOpts, config.WithSharedConfigProfile(p))
	}
	cfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	if role := strings.TrimSpace(t.IAMRole); role != "" {
		provider := stscreds.NewAssumeRoleProvider(sts.NewFromConfig(cfg), role, func(o *stscreds.AssumeRoleOptions) {
			o.RoleSessionName = "strata"
		})
		cfg.Credentials = aws.NewCredentialsCache(provider)
	}
	return NewClient(cloudformation.NewFromConfig(cfg), s3.NewFromConfig(cfg), cfg.Region, limiter), nil
}
