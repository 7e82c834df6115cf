// Package config loads the runtime configuration for the checkout engine:
// the commerce API credentials, the page-level surface (page type, redirect
// targets, URL-encoded package fallback), and the optional GCP integrations.
package config

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	defaultEnvFile         = ".env"
	defaultPort            = "8080"
	defaultReadTimeout     = 15 * time.Second
	defaultWriteTimeout    = 30 * time.Second
	defaultIdleTimeout     = 120 * time.Second
	defaultAPIBaseURL      = "https://campaigns.apps.29next.com/api/v1/"
	defaultPageType        = "checkout"
	defaultConfirmationFmt = "/checkout/confirmation/?ref_id=%s"
)

// Page types the orchestrator distinguishes.
const (
	PageTypeCheckout = "checkout"
	PageTypeReceipt  = "receipt"
	PageTypeUpsell   = "upsell"
)

// Config captures all runtime configuration organised by concern.
type Config struct {
	Server    ServerConfig
	Commerce  CommerceConfig
	Page      PageConfig
	Payments  PaymentsConfig
	Firestore FirestoreConfig
	PubSub    PubSubConfig
	Session   SessionConfig
}

// ServerConfig configures the HTTP surface.
type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// CommerceConfig holds the commerce API endpoint and key.
type CommerceConfig struct {
	BaseURL string
	APIKey  string
}

// PageConfig is the page-level metadata surface the orchestrator reads but
// does not own.
type PageConfig struct {
	Type string
	// NextPageURL is the configured "next page" redirect target; the order
	// reference is appended on success.
	NextPageURL string
	// CurrentURL is the page the checkout runs on; failure markers are
	// appended to it.
	CurrentURL string
	// PackageID is the URL-encoded fallback used when a cart line carries no
	// resolvable package reference.
	PackageID int
	// TestMode skips field validation and submits synthetic test orders.
	TestMode bool
}

// PaymentsConfig holds card-capture bridge settings.
type PaymentsConfig struct {
	StripeAPIKey string
	// TokenizeTimeout bounds the wait for the bridge callback; zero keeps the
	// historical behaviour of waiting indefinitely.
	TokenizeTimeout time.Duration
}

// FirestoreConfig enables the durable snapshot store when a project is set.
type FirestoreConfig struct {
	ProjectID  string
	Collection string
}

// PubSubConfig enables remote analytics fan-out when a topic is set.
type PubSubConfig struct {
	ProjectID string
	Topic     string
}

// SessionConfig identifies the checkout session for snapshot scoping.
type SessionConfig struct {
	ID string
}

// SecretResolver resolves references to external secrets (sm:// URIs).
type SecretResolver interface {
	Resolve(ctx context.Context, ref string) (string, error)
}

// SecretResolverFunc adapts ordinary functions to SecretResolver.
type SecretResolverFunc func(context.Context, string) (string, error)

// Resolve resolves the secret using the wrapped function.
func (f SecretResolverFunc) Resolve(ctx context.Context, ref string) (string, error) {
	return f(ctx, ref)
}

// Option customises Load behaviour.
type Option func(*loaderOptions)

type loaderOptions struct {
	envFile      string
	envMap       map[string]string
	useSystemEnv bool
	secret       SecretResolver
}

// WithEnvFile overrides the .env file path used for local overrides.
func WithEnvFile(path string) Option {
	return func(o *loaderOptions) { o.envFile = path }
}

// WithEnvMap injects an explicit key/value map; values take precedence over
// system environment variables.
func WithEnvMap(values map[string]string) Option {
	return func(o *loaderOptions) { o.envMap = values }
}

// WithoutSystemEnv disables reading os.Getenv, relying only on provided maps
// and .env files.
func WithoutSystemEnv() Option {
	return func(o *loaderOptions) { o.useSystemEnv = false }
}

// WithSecretResolver sets the resolver used for sm:// references.
func WithSecretResolver(resolver SecretResolver) Option {
	return func(o *loaderOptions) { o.secret = resolver }
}

// Load assembles the configuration from defaults, .env overrides, environment
// variables, and optional secret resolution.
func Load(ctx context.Context, opts ...Option) (Config, error) {
	options := loaderOptions{
		envFile:      defaultEnvFile,
		useSystemEnv: true,
	}
	for _, opt := range opts {
		opt(&options)
	}

	dotEnvValues, err := loadDotEnv(options.envFile)
	if err != nil {
		return Config{}, err
	}

	lookup := func(key string) (string, bool) {
		if options.envMap != nil {
			if value, ok := options.envMap[key]; ok {
				return value, true
			}
		}
		if options.useSystemEnv {
			if value, ok := os.LookupEnv(key); ok {
				return value, true
			}
		}
		if dotEnvValues != nil {
			if value, ok := dotEnvValues[key]; ok {
				return value, true
			}
		}
		return "", false
	}

	cfg := Config{
		Server: ServerConfig{
			Port:         stringWithDefault(lookup, "CHECKOUT_SERVER_PORT", defaultPort),
			ReadTimeout:  durationWithDefault(lookup, "CHECKOUT_SERVER_READ_TIMEOUT", defaultReadTimeout),
			WriteTimeout: durationWithDefault(lookup, "CHECKOUT_SERVER_WRITE_TIMEOUT", defaultWriteTimeout),
			IdleTimeout:  durationWithDefault(lookup, "CHECKOUT_SERVER_IDLE_TIMEOUT", defaultIdleTimeout),
		},
		Commerce: CommerceConfig{
			BaseURL: stringWithDefault(lookup, "CHECKOUT_COMMERCE_BASE_URL", defaultAPIBaseURL),
			APIKey:  stringWithDefault(lookup, "CHECKOUT_COMMERCE_API_KEY", ""),
		},
		Page: PageConfig{
			Type:        strings.ToLower(stringWithDefault(lookup, "CHECKOUT_PAGE_TYPE", defaultPageType)),
			NextPageURL: stringWithDefault(lookup, "CHECKOUT_PAGE_NEXT_URL", ""),
			CurrentURL:  stringWithDefault(lookup, "CHECKOUT_PAGE_CURRENT_URL", ""),
			PackageID:   intWithDefault(lookup, "CHECKOUT_PAGE_PACKAGE_ID", 0),
			TestMode:    boolWithDefault(lookup, "CHECKOUT_PAGE_TEST_MODE", false),
		},
		Payments: PaymentsConfig{
			StripeAPIKey:    stringWithDefault(lookup, "CHECKOUT_PAYMENTS_STRIPE_API_KEY", ""),
			TokenizeTimeout: durationWithDefault(lookup, "CHECKOUT_PAYMENTS_TOKENIZE_TIMEOUT", 0),
		},
		Firestore: FirestoreConfig{
			ProjectID:  stringWithDefault(lookup, "CHECKOUT_FIRESTORE_PROJECT_ID", ""),
			Collection: stringWithDefault(lookup, "CHECKOUT_FIRESTORE_COLLECTION", ""),
		},
		PubSub: PubSubConfig{
			ProjectID: stringWithDefault(lookup, "CHECKOUT_PUBSUB_PROJECT_ID", ""),
			Topic:     stringWithDefault(lookup, "CHECKOUT_PUBSUB_TOPIC", ""),
		},
		Session: SessionConfig{
			ID: stringWithDefault(lookup, "CHECKOUT_SESSION_ID", ""),
		},
	}

	if err := resolveSecretField(ctx, options.secret, &cfg.Commerce.APIKey); err != nil {
		return Config{}, err
	}
	if err := resolveSecretField(ctx, options.secret, &cfg.Payments.StripeAPIKey); err != nil {
		return Config{}, err
	}

	if !validPageType(cfg.Page.Type) {
		return Config{}, fmt.Errorf("config: unknown page type %q", cfg.Page.Type)
	}

	return cfg, nil
}

// DefaultConfirmationPath builds the fallback confirmation redirect for an
// order reference.
func DefaultConfirmationPath(refID string) string {
	return fmt.Sprintf(defaultConfirmationFmt, refID)
}

func validPageType(pageType string) bool {
	switch pageType {
	case PageTypeCheckout, PageTypeReceipt, PageTypeUpsell:
		return true
	}
	return false
}

func resolveSecretField(ctx context.Context, resolver SecretResolver, field *string) error {
	value := strings.TrimSpace(*field)
	if !strings.HasPrefix(value, "sm://") {
		*field = value
		return nil
	}
	if resolver == nil {
		return fmt.Errorf("config: secret reference %q requires a resolver", value)
	}
	resolved, err := resolver.Resolve(ctx, value)
	if err != nil {
		return fmt.Errorf("config: resolve secret %q: %w", value, err)
	}
	*field = strings.TrimSpace(resolved)
	return nil
}

func loadDotEnv(path string) (map[string]string, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return nil, nil
	}
	file, err := os.Open(trimmed)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("config: open env file %s: %w", trimmed, err)
	}
	defer file.Close()

	values := map[string]string{}
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		if key == "" {
			continue
		}
		value := strings.TrimSpace(parts[1])
		value = strings.Trim(value, `"'`)
		values[key] = value
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("config: read env file %s: %w", trimmed, err)
	}
	return values, nil
}

type lookupFunc func(key string) (string, bool)

func stringWithDefault(lookup lookupFunc, key, fallback string) string {
	if value, ok := lookup(key); ok {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed
		}
	}
	return fallback
}

func intWithDefault(lookup lookupFunc, key string, fallback int) int {
	if value, ok := lookup(key); ok {
		if parsed, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
			return parsed
		}
	}
	return fallback
}

func boolWithDefault(lookup lookupFunc, key string, fallback bool) bool {
	if value, ok := lookup(key); ok {
		if parsed, err := strconv.ParseBool(strings.TrimSpace(value)); err == nil {
			return parsed
		}
	}
	return fallback
}

func durationWithDefault(lookup lookupFunc, key string, fallback time.Duration) time.Duration {
	if value, ok := lookup(key); ok {
		if parsed, err := time.ParseDuration(strings.TrimSpace(value)); err == nil {
			return parsed
		}
	}
	return fallback
}
