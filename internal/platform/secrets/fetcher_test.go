package secrets

import (
	"context"
	"errors"
	"testing"

	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/googleapis/gax-go/v2"
)

type stubSecretClient struct {
	requests []string
	values   map[string]string
	err      error
}

func (s *stubSecretClient) AccessSecretVersion(_ context.Context, req *secretmanagerpb.AccessSecretVersionRequest, _ ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error) {
	s.requests = append(s.requests, req.GetName())
	if s.err != nil {
		return nil, s.err
	}
	value, ok := s.values[req.GetName()]
	if !ok {
		return nil, errors.New("not found")
	}
	return &secretmanagerpb.AccessSecretVersionResponse{
		Payload: &secretmanagerpb.SecretPayload{Data: []byte(value)},
	}, nil
}

func (s *stubSecretClient) Close() error { return nil }

func TestFetcherResolvePassesLiteralsThrough(t *testing.T) {
	fetcher, err := NewFetcher(context.Background(), WithClient(&stubSecretClient{}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, err := fetcher.Resolve(context.Background(), "  literal-key  ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "literal-key" {
		t.Fatalf("expected trimmed literal, got %q", got)
	}
}

func TestFetcherFetchResolvesAndCaches(t *testing.T) {
	client := &stubSecretClient{values: map[string]string{
		"projects/proj-1/secrets/api-key/versions/latest": "sk_123",
	}}
	fetcher, err := NewFetcher(context.Background(), WithClient(client), WithDefaultProject("proj-1"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for i := 0; i < 2; i++ {
		got, err := fetcher.Resolve(context.Background(), "sm://api-key")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got != "sk_123" {
			t.Fatalf("expected resolved secret, got %q", got)
		}
	}
	if len(client.requests) != 1 {
		t.Fatalf("expected a single backend access, got %d", len(client.requests))
	}
}

func TestFetcherFetchExplicitProjectAndVersion(t *testing.T) {
	client := &stubSecretClient{values: map[string]string{
		"projects/other/secrets/stripe/versions/3": "sk_v3",
	}}
	fetcher, err := NewFetcher(context.Background(), WithClient(client), WithDefaultProject("proj-1"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, err := fetcher.Fetch(context.Background(), "sm://other/stripe#3")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "sk_v3" {
		t.Fatalf("expected pinned version value, got %q", got)
	}
}

func TestFetcherFetchRejectsNonReference(t *testing.T) {
	fetcher, err := NewFetcher(context.Background(), WithClient(&stubSecretClient{}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := fetcher.Fetch(context.Background(), "plain"); !errors.Is(err, ErrNotSecretRef) {
		t.Fatalf("expected ErrNotSecretRef, got %v", err)
	}
}
