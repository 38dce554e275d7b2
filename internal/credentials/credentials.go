package credentials

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
)

// Credentials holds live connection credentials for a backing resource.
type Credentials struct {
	Endpoint string
	Username string
	Secret   string
}

// Provider supplies current credentials for a named resource. Credentials
// may rotate at any time; callers must re-fetch on authentication failure
// rather than caching them indefinitely.
type Provider interface {
	Current(ctx context.Context, resource string) (Credentials, error)
}

// EnvProvider reads credentials from environment variables:
// RECALL_<RESOURCE>_ENDPOINT, RECALL_<RESOURCE>_USERNAME, RECALL_<RESOURCE>_SECRET.
type EnvProvider struct{}

// Current implements Provider.
func (EnvProvider) Current(_ context.Context, resource string) (Credentials, error) {
	prefix := "RECALL_" + strings.ToUpper(strings.ReplaceAll(resource, "-", "_"))
	endpoint := os.Getenv(prefix + "_ENDPOINT")
	if endpoint == "" {
		return Credentials{}, fmt.Errorf("no credentials configured for resource %q", resource)
	}
	return Credentials{
		Endpoint: endpoint,
		Username: os.Getenv(prefix + "_USERNAME"),
		Secret:   os.Getenv(prefix + "_SECRET"),
	}, nil
}

// StaticProvider serves fixed credentials, with Rotate support for tests
// and local setups.
type StaticProvider struct {
	mu    sync.RWMutex
	creds map[string]Credentials
}

// NewStaticProvider creates a provider from a resource->credentials map.
func NewStaticProvider(creds map[string]Credentials) *StaticProvider {
	copied := make(map[string]Credentials, len(creds))
	for k, v := range creds {
		copied[k] = v
	}
	return &StaticProvider{creds: copied}
}

// Current implements Provider.
func (p *StaticProvider) Current(_ context.Context, resource string) (Credentials, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	c, ok := p.creds[resource]
	if !ok {
		return Credentials{}, fmt.Errorf("no credentials configured for resource %q", resource)
	}
	return c, nil
}

// Rotate replaces the credentials for a resource.
func (p *StaticProvider) Rotate(resource string, c Credentials) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.creds[resource] = c
}
