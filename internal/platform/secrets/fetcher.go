// Package secrets resolves sm:// references (Google Secret Manager) used for
// the commerce API key and the card-capture credentials.
package secrets

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/googleapis/gax-go/v2"
)

const refPrefix = "sm://"

// ErrNotSecretRef indicates the value is a literal, not an sm:// reference.
var ErrNotSecretRef = errors.New("secrets: not a secret reference")

type secretManagerClient interface {
	AccessSecretVersion(ctx context.Context, req *secretmanagerpb.AccessSecretVersionRequest, opts ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error)
	Close() error
}

// Fetcher resolves sm://project/name[#version] references with an in-process
// cache. Literal values pass through untouched via Resolve.
type Fetcher struct {
	client     secretManagerClient
	ownsClient bool
	defaultPrj string

	mu    sync.RWMutex
	cache map[string]string
}

// Option customises Fetcher construction.
type Option func(*Fetcher)

// WithDefaultProject sets the project used when a reference omits one.
func WithDefaultProject(projectID string) Option {
	return func(f *Fetcher) {
		f.defaultPrj = strings.TrimSpace(projectID)
	}
}

// WithClient injects a preconfigured Secret Manager client (tests).
func WithClient(client secretManagerClient) Option {
	return func(f *Fetcher) {
		f.client = client
	}
}

// NewFetcher constructs a Fetcher, creating a Secret Manager client when none
// is injected.
func NewFetcher(ctx context.Context, opts ...Option) (*Fetcher, error) {
	fetcher := &Fetcher{cache: map[string]string{}}
	for _, opt := range opts {
		opt(fetcher)
	}
	if fetcher.client == nil {
		client, err := secretmanager.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("secrets: create client: %w", err)
		}
		fetcher.client = client
		fetcher.ownsClient = true
	}
	return fetcher, nil
}

// Close releases the underlying client when this fetcher created it.
func (f *Fetcher) Close() error {
	if f == nil || !f.ownsClient || f.client == nil {
		return nil
	}
	return f.client.Close()
}

// Resolve returns literal values as-is and resolves sm:// references through
// Secret Manager.
func (f *Fetcher) Resolve(ctx context.Context, value string) (string, error) {
	trimmed := strings.TrimSpace(value)
	if !strings.HasPrefix(trimmed, refPrefix) {
		return trimmed, nil
	}
	return f.Fetch(ctx, trimmed)
}

// Fetch resolves an sm:// reference, caching successful lookups for the
// process lifetime.
func (f *Fetcher) Fetch(ctx context.Context, ref string) (string, error) {
	trimmed := strings.TrimSpace(ref)
	if !strings.HasPrefix(trimmed, refPrefix) {
		return "", ErrNotSecretRef
	}

	f.mu.RLock()
	cached, ok := f.cache[trimmed]
	f.mu.RUnlock()
	if ok {
		return cached, nil
	}

	name, err := f.resourceName(trimmed)
	if err != nil {
		return "", err
	}

	resp, err := f.client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{Name: name})
	if err != nil {
		return "", fmt.Errorf("secrets: access %s: %w", name, err)
	}
	value := strings.TrimSpace(string(resp.GetPayload().GetData()))

	f.mu.Lock()
	f.cache[trimmed] = value
	f.mu.Unlock()
	return value, nil
}

// resourceName turns sm://[project/]name[#version] into the full Secret
// Manager version resource path.
func (f *Fetcher) resourceName(ref string) (string, error) {
	body := strings.TrimPrefix(ref, refPrefix)
	version := "latest"
	if idx := strings.Index(body, "#"); idx >= 0 {
		if v := strings.TrimSpace(body[idx+1:]); v != "" {
			version = v
		}
		body = body[:idx]
	}

	project := f.defaultPrj
	name := strings.TrimSpace(body)
	if idx := strings.Index(body, "/"); idx >= 0 {
		project = strings.TrimSpace(body[:idx])
		name = strings.TrimSpace(body[idx+1:])
	}
	if project == "" || name == "" {
		return "", fmt.Errorf("secrets: invalid reference %q", ref)
	}
	return fmt.Sprintf("projects/%s/secrets/%s/versions/%s", project, name, version), nil
}
