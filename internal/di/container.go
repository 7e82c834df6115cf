// Package di assembles the runtime dependency graph: platform clients first,
// then the cart engine and checkout orchestrator the handlers rely upon.
package di

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/pubsub"

	"github.com/campaignkit/checkout/internal/payments"
	"github.com/campaignkit/checkout/internal/platform/api"
	"github.com/campaignkit/checkout/internal/platform/config"
	"github.com/campaignkit/checkout/internal/platform/events"
	"github.com/campaignkit/checkout/internal/platform/storage"
	"github.com/campaignkit/checkout/internal/services"
)

// Services bundles the service-layer contracts that handlers rely upon.
type Services struct {
	Engine       services.CartEngine
	Orchestrator services.CheckoutOrchestrator
	Session      *payments.Session
}

// ContainerDeps carries the externally-built collaborators a page embeds.
// Everything is optional; absent deps fall back to local implementations.
type ContainerDeps struct {
	Validator services.FieldValidator
	Form      services.FormController
	Navigator services.Navigator
	Bridge    payments.CardBridge
	Logger    func(ctx context.Context, event string, fields map[string]any)
}

// Container wires platform clients, services, and event infrastructure for
// runtime use.
type Container struct {
	Config   config.Config
	API      *api.Client
	Bus      *events.Bus
	Services Services

	firestoreClient *firestore.Client
	pubsubClient    *pubsub.Client
}

// NewContainer constructs the runtime dependencies from configuration.
func NewContainer(ctx context.Context, cfg config.Config, deps ContainerDeps) (*Container, error) {
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	client, err := api.NewClient(api.ClientConfig{
		BaseURL: cfg.Commerce.BaseURL,
		APIKey:  cfg.Commerce.APIKey,
		Logger:  logger,
	})
	if err != nil {
		return nil, fmt.Errorf("build api client: %w", err)
	}

	container := &Container{Config: cfg, API: client}

	snapshots, err := container.buildSnapshotStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	bus, err := container.buildBus(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	container.Bus = bus

	campaign, err := client.GetCampaign(ctx)
	if err != nil {
		if closeErr := container.Close(ctx); closeErr != nil {
			logger(ctx, "di.close_failed", map[string]any{"error": closeErr.Error()})
		}
		return nil, fmt.Errorf("load campaign: %w", err)
	}

	engine, err := services.NewEngine(ctx, services.EngineDeps{
		API:               client,
		Bus:               bus,
		Snapshots:         snapshots,
		Campaign:          campaign,
		PackageIDFallback: cfg.Page.PackageID,
		Logger:            logger,
	})
	if err != nil {
		return nil, fmt.Errorf("build cart engine: %w", err)
	}

	ledger, err := services.NewPurchaseLedger(ctx, snapshots)
	if err != nil {
		return nil, fmt.Errorf("build purchase ledger: %w", err)
	}

	session, err := container.buildSession(cfg, deps, logger)
	if err != nil {
		return nil, err
	}

	var tokenizer services.Tokenizer
	if session != nil {
		tokenizer = session
	}

	orchestrator, err := services.NewOrchestrator(services.OrchestratorDeps{
		API:               client,
		Cart:              engine,
		Validator:         deps.Validator,
		Form:              deps.Form,
		Tokenizer:         tokenizer,
		Bus:               bus,
		Ledger:            ledger,
		Navigator:         deps.Navigator,
		NextPageURL:       cfg.Page.NextPageURL,
		CurrentURL:        cfg.Page.CurrentURL,
		PackageIDFallback: cfg.Page.PackageID,
		TestMode:          cfg.Page.TestMode,
		TokenizeTimeout:   cfg.Payments.TokenizeTimeout,
		Logger:            logger,
	})
	if err != nil {
		return nil, fmt.Errorf("build orchestrator: %w", err)
	}

	container.Services = Services{
		Engine:       engine,
		Orchestrator: orchestrator,
		Session:      session,
	}
	return container, nil
}

// Close releases platform clients.
func (c *Container) Close(ctx context.Context) error {
	if c == nil {
		return nil
	}
	var errs []error
	if c.firestoreClient != nil {
		if err := c.firestoreClient.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close firestore: %w", err))
		}
	}
	if c.pubsubClient != nil {
		if err := c.pubsubClient.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close pubsub: %w", err))
		}
	}
	return errors.Join(errs...)
}

func (c *Container) buildSnapshotStore(ctx context.Context, cfg config.Config) (storage.SnapshotStore, error) {
	if cfg.Firestore.ProjectID == "" {
		return storage.NewMemoryStore(), nil
	}
	client, err := firestore.NewClient(ctx, cfg.Firestore.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("build firestore client: %w", err)
	}
	c.firestoreClient = client

	sessionID := cfg.Session.ID
	if sessionID == "" {
		sessionID = "default"
	}
	store, err := storage.NewFirestoreStore(client, cfg.Firestore.Collection, sessionID)
	if err != nil {
		return nil, fmt.Errorf("build firestore store: %w", err)
	}
	return store, nil
}

func (c *Container) buildBus(ctx context.Context, cfg config.Config, logger func(ctx context.Context, event string, fields map[string]any)) (*events.Bus, error) {
	deps := events.BusDeps{Logger: logger}
	if cfg.PubSub.ProjectID != "" && cfg.PubSub.Topic != "" {
		client, err := pubsub.NewClient(ctx, cfg.PubSub.ProjectID)
		if err != nil {
			return nil, fmt.Errorf("build pubsub client: %w", err)
		}
		c.pubsubClient = client

		publisher, err := events.NewPubSubPublisher(client.Topic(cfg.PubSub.Topic))
		if err != nil {
			return nil, fmt.Errorf("build pubsub publisher: %w", err)
		}
		deps.Remote = publisher
	}
	return events.NewBus(deps), nil
}

func (c *Container) buildSession(cfg config.Config, deps ContainerDeps, logger func(ctx context.Context, event string, fields map[string]any)) (*payments.Session, error) {
	bridge := deps.Bridge
	if bridge == nil {
		if cfg.Payments.StripeAPIKey == "" {
			return nil, nil
		}
		stripeBridge, err := payments.NewStripeBridge(payments.StripeBridgeConfig{
			APIKey: cfg.Payments.StripeAPIKey,
			Logger: logger,
		})
		if err != nil {
			return nil, fmt.Errorf("build stripe bridge: %w", err)
		}
		bridge = stripeBridge
	}

	session, err := payments.NewSession(payments.SessionDeps{
		Bridge: bridge,
		Logger: logger,
	})
	if err != nil {
		return nil, fmt.Errorf("build tokenization session: %w", err)
	}
	return session, nil
}
