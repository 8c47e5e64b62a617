// Package secret provides an abstraction for retrieving service secrets
// (JWT signing key, OAuth client secret, origin-verify header) from SSM
// Parameter Store or, in development, from environment variables.
package secret

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
)

// ssmBatchSize is the most names GetParameters accepts per call.
const ssmBatchSize = 10

// SSMClient is the subset of *ssm.Client methods used by SSMResolver.
type SSMClient interface {
	GetParameter(ctx context.Context, params *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
	GetParameters(ctx context.Context, params *ssm.GetParametersInput, optFns ...func(*ssm.Options)) (*ssm.GetParametersOutput, error)
}

// Resolver retrieves secret values by name.
type Resolver interface {
	GetSecret(ctx context.Context, name string) (string, error)
}

// BatchResolver is implemented by resolvers that can fetch several secrets
// in one request. Unknown names are left out of the result.
type BatchResolver interface {
	GetSecrets(ctx context.Context, names []string) (map[string]string, error)
}

// SSMResolver fetches secrets from AWS Systems Manager Parameter Store.
type SSMResolver struct {
	client SSMClient
}

// NewSSMResolver returns a Resolver backed by SSM Parameter Store.
func NewSSMResolver(client SSMClient) Resolver {
	return &SSMResolver{client: client}
}

// GetSecret retrieves a SecureString parameter from SSM with decryption.
func (r *SSMResolver) GetSecret(ctx context.Context, name string) (string, error) {
	out, err := r.client.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(name),
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		return "", fmt.Errorf("ssm get parameter %q: %w", name, err)
	}
	if out.Parameter == nil || out.Parameter.Value == nil {
		return "", fmt.Errorf("ssm parameter %q has no value", name)
	}
	return *out.Parameter.Value, nil
}

// GetSecrets fetches decrypted parameters with as few GetParameters calls
// as possible.
func (r *SSMResolver) GetSecrets(ctx context.Context, names []string) (map[string]string, error) {
	values := make(map[string]string, len(names))
	for start := 0; start < len(names); start += ssmBatchSize {
		batch := names[start:min(start+ssmBatchSize, len(names))]
		out, err := r.client.GetParameters(ctx, &ssm.GetParametersInput{
			Names:          batch,
			WithDecryption: aws.Bool(true),
		})
		if err != nil {
			return nil, fmt.Errorf("ssm get parameters %v: %w", batch, err)
		}
		for _, p := range out.Parameters {
			if p.Name != nil && p.Value != nil {
				values[*p.Name] = *p.Value
			}
		}
		if len(out.InvalidParameters) > 0 {
			log.Printf("WARNING: ssm parameters not found: %v", out.InvalidParameters)
		}
	}
	return values, nil
}

// EnvResolver fetches secrets from environment variables.
// "/iub-recorder/jwt-secret" is read from JWT_SECRET.
type EnvResolver struct{}

// NewEnvResolver returns a Resolver that reads from environment variables.
func NewEnvResolver() Resolver {
	return &EnvResolver{}
}

// GetSecret reads from the environment variable derived from the parameter name.
func (r *EnvResolver) GetSecret(_ context.Context, name string) (string, error) {
	envName := paramNameToEnvVar(name)
	val := os.Getenv(envName)
	if val == "" {
		return "", fmt.Errorf("environment variable %q (from param %q) is not set", envName, name)
	}
	return val, nil
}

// paramNameToEnvVar takes the last path segment, uppercases it and swaps
// hyphens for underscores.
func paramNameToEnvVar(name string) string {
	parts := strings.Split(name, "/")
	last := parts[len(parts)-1]
	return strings.ToUpper(strings.ReplaceAll(last, "-", "_"))
}

// CachingResolver memoizes successful lookups for the life of the process
// (one Lambda container). Failures are not cached.
type CachingResolver struct {
	next Resolver

	mu    sync.Mutex
	cache map[string]string
}

// NewCachingResolver wraps next.
func NewCachingResolver(next Resolver) *CachingResolver {
	return &CachingResolver{next: next, cache: make(map[string]string)}
}

func (c *CachingResolver) GetSecret(ctx context.Context, name string) (string, error) {
	c.mu.Lock()
	if v, ok := c.cache[name]; ok {
		c.mu.Unlock()
		return v, nil
	}
	c.mu.Unlock()

	v, err := c.next.GetSecret(ctx, name)
	if err != nil {
		return "", err
	}

	c.mu.Lock()
	c.cache[name] = v
	c.mu.Unlock()
	return v, nil
}

// Preload fills the cache with names in bulk when next supports it. Names
// it could not fetch are resolved one by one on first use.
func (c *CachingResolver) Preload(ctx context.Context, names ...string) error {
	batch, ok := c.next.(BatchResolver)
	if !ok {
		return nil
	}
	values, err := batch.GetSecrets(ctx, names)
	if err != nil {
		return err
	}

	c.mu.Lock()
	for k, v := range values {
		c.cache[k] = v
	}
	c.mu.Unlock()
	return nil
}

// Lookup resolves name, logging and returning fallback when it cannot.
func Lookup(ctx context.Context, r Resolver, name, fallback string) string {
	v, err := r.GetSecret(ctx, name)
	if err != nil {
		log.Printf("WARNING: failed to resolve %s: %v", name, err)
		return fallback
	}
	return v
}
