// Package di assembles the runtime object graph from configuration.
package di

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/pubsub"
	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/planvault/api/internal/payments"
	"github.com/planvault/api/internal/platform/config"
	pfirestore "github.com/planvault/api/internal/platform/firestore"
	"github.com/planvault/api/internal/platform/flags"
	"github.com/planvault/api/internal/platform/jobs"
	platformstorage "github.com/planvault/api/internal/platform/storage"
	"github.com/planvault/api/internal/repositories"
	firestoreRepo "github.com/planvault/api/internal/repositories/firestore"
	"github.com/planvault/api/internal/services"
)

// Repositories bundles the persistence contracts the service layer depends on.
type Repositories struct {
	Listings repositories.ListingRepository
	Orders   repositories.OrderRepository
	Payouts  repositories.PayoutRepository
	Health   repositories.HealthRepository
}

// Services bundles the service-layer contracts that handlers rely upon.
type Services struct {
	Listings      services.ListingService
	Checkout      services.CheckoutService
	Orders        services.OrderQueryService
	Downloads     services.DownloadService
	PaymentEvents services.PaymentEventService
}

// Container wires repositories, services, and supporting infrastructure for runtime use.
type Container struct {
	Config          config.Config
	Flags           *flags.Gate
	Repositories    Repositories
	Services        Services
	WebhookVerifier *payments.WebhookVerifier

	firestoreProvider *pfirestore.Provider
	pubsubClient      *pubsub.Client
}

type containerOptions struct {
	logger   *zap.Logger
	clock    func() time.Time
	notifier services.DeliveryNotifier
}

// Option customises container construction.
type Option func(*containerOptions)

// WithLogger attaches a structured logger used for service-level event hooks.
func WithLogger(logger *zap.Logger) Option {
	return func(o *containerOptions) {
		o.logger = logger
	}
}

// WithClock overrides the time source. Used by tests.
func WithClock(clock func() time.Time) Option {
	return func(o *containerOptions) {
		o.clock = clock
	}
}

// WithDeliveryNotifier injects a delivery notifier, bypassing the Pub/Sub
// publisher the container would otherwise build. Used by tests.
func WithDeliveryNotifier(notifier services.DeliveryNotifier) Option {
	return func(o *containerOptions) {
		o.notifier = notifier
	}
}

// NewContainer constructs the runtime dependencies from configuration.
func NewContainer(ctx context.Context, cfg config.Config, opts ...Option) (*Container, error) {
	options := containerOptions{
		logger: zap.NewNop(),
		clock:  time.Now,
	}
	for _, opt := range opts {
		opt(&options)
	}
	logger := options.logger
	clock := options.clock

	gate := flags.NewGate(cfg.Features)

	provider := pfirestore.NewProvider(cfg.Firestore)
	cleanup := func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = provider.Close(closeCtx)
	}

	listingRepo, err := firestoreRepo.NewListingRepository(provider)
	if err != nil {
		cleanup()
		return nil, fmt.Errorf("build listing repository: %w", err)
	}
	orderRepo, err := firestoreRepo.NewOrderRepository(provider)
	if err != nil {
		cleanup()
		return nil, fmt.Errorf("build order repository: %w", err)
	}
	payoutRepo, err := firestoreRepo.NewPayoutRepository(provider)
	if err != nil {
		cleanup()
		return nil, fmt.Errorf("build payout repository: %w", err)
	}
	healthRepo, err := newHealthRepository(provider)
	if err != nil {
		cleanup()
		return nil, fmt.Errorf("build health repository: %w", err)
	}

	linkSigner, err := newDownloadLinkSigner(cfg, clock)
	if err != nil {
		cleanup()
		return nil, err
	}

	notifier := options.notifier
	var pubsubClient *pubsub.Client
	if notifier == nil && gate.Enabled(ctx, flags.KeyDelivery) {
		client, publisher, err := newDeliveryPublisher(ctx, cfg, clock)
		if err != nil {
			cleanup()
			return nil, err
		}
		pubsubClient = client
		notifier = publisher
	}
	closePubSub := func() {
		if pubsubClient != nil {
			_ = pubsubClient.Close()
		}
	}

	stripeProvider, err := payments.NewStripeProvider(payments.StripeProviderConfig{
		APIKey: cfg.PSP.StripeAPIKey,
		Logger: zapEventLogger(logger.Named("payments")),
		Clock:  clock,
	})
	if err != nil {
		closePubSub()
		cleanup()
		return nil, fmt.Errorf("build stripe provider: %w", err)
	}
	paymentManager, err := payments.NewManager(map[string]payments.Provider{
		"stripe": stripeProvider,
	})
	if err != nil {
		closePubSub()
		cleanup()
		return nil, fmt.Errorf("build payment manager: %w", err)
	}
	webhookVerifier, err := payments.NewWebhookVerifier(cfg.PSP.StripeWebhookSecret)
	if err != nil {
		closePubSub()
		cleanup()
		return nil, fmt.Errorf("build webhook verifier: %w", err)
	}

	calculator := services.NewRoyaltyCalculator()

	listingSvc, err := services.NewListingService(services.ListingServiceDeps{
		Listings: listingRepo,
	})
	if err != nil {
		closePubSub()
		cleanup()
		return nil, fmt.Errorf("build listing service: %w", err)
	}

	checkoutSvc, err := services.NewCheckoutService(services.CheckoutServiceDeps{
		Flags:       gate,
		Listings:    listingRepo,
		Orders:      orderRepo,
		Calculator:  calculator,
		Payments:    paymentManager,
		Clock:       clock,
		IDGenerator: newULID,
		Logger:      zapEventLogger(logger.Named("checkout")),
	})
	if err != nil {
		closePubSub()
		cleanup()
		return nil, fmt.Errorf("build checkout service: %w", err)
	}

	downloadSvc, err := services.NewDownloadService(services.DownloadServiceDeps{
		Orders:         orderRepo,
		Listings:       listingRepo,
		Signer:         linkSigner,
		Notifier:       notifier,
		CredentialTTL:  cfg.Downloads.CredentialTTL,
		SignedURLTTL:   cfg.Downloads.SignedURLTTL,
		RenewRetryCap:  int64(cfg.Downloads.RenewRetryCap),
		Clock:          clock,
		TokenGenerator: newULID,
		Logger:         zapEventLogger(logger.Named("downloads")),
	})
	if err != nil {
		closePubSub()
		cleanup()
		return nil, fmt.Errorf("build download service: %w", err)
	}

	paymentEventSvc, err := services.NewPaymentEventService(services.PaymentEventServiceDeps{
		Orders:      orderRepo,
		Listings:    listingRepo,
		Payouts:     payoutRepo,
		Calculator:  calculator,
		Credentials: downloadSvc,
		Notifier:    notifier,
		Clock:       clock,
		IDGenerator: newULID,
		Logger:      zapEventLogger(logger.Named("payment_events")),
	})
	if err != nil {
		closePubSub()
		cleanup()
		return nil, fmt.Errorf("build payment event service: %w", err)
	}

	orderQuerySvc, err := services.NewOrderQueryService(services.OrderQueryServiceDeps{
		Orders:  orderRepo,
		Payouts: payoutRepo,
	})
	if err != nil {
		closePubSub()
		cleanup()
		return nil, fmt.Errorf("build order query service: %w", err)
	}

	return &Container{
		Config: cfg,
		Flags:  gate,
		Repositories: Repositories{
			Listings: listingRepo,
			Orders:   orderRepo,
			Payouts:  payoutRepo,
			Health:   healthRepo,
		},
		Services: Services{
			Listings:      listingSvc,
			Checkout:      checkoutSvc,
			Orders:        orderQuerySvc,
			Downloads:     downloadSvc,
			PaymentEvents: paymentEventSvc,
		},
		WebhookVerifier:   webhookVerifier,
		firestoreProvider: provider,
		pubsubClient:      pubsubClient,
	}, nil
}

// FirestoreClient exposes the shared Firestore client for infrastructure that
// sits outside the service layer, such as the idempotency store.
func (c *Container) FirestoreClient(ctx context.Context) (*firestore.Client, error) {
	if c == nil || c.firestoreProvider == nil {
		return nil, errors.New("firestore provider not configured")
	}
	return c.firestoreProvider.Client(ctx)
}

// Close releases resources such as database clients and the Pub/Sub connection.
func (c *Container) Close(ctx context.Context) error {
	if c == nil {
		return nil
	}
	var errs []error
	if c.pubsubClient != nil {
		if err := c.pubsubClient.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close pubsub client: %w", err))
		}
	}
	if c.firestoreProvider != nil {
		if err := c.firestoreProvider.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close firestore provider: %w", err))
		}
	}
	return errors.Join(errs...)
}

func newHealthRepository(provider *pfirestore.Provider) (repositories.HealthRepository, error) {
	check := repositories.DependencyCheck{
		Name:    "firestore",
		Timeout: 1500 * time.Millisecond,
		Check: func(ctx context.Context) error {
			client, err := provider.Client(ctx)
			if err != nil {
				return err
			}
			iter := client.Collections(ctx)
			_, err = iter.Next()
			if errors.Is(err, iterator.Done) {
				return nil
			}
			return err
		},
	}
	return repositories.NewDependencyHealthRepository([]repositories.DependencyCheck{check})
}

func newDownloadLinkSigner(cfg config.Config, clock func() time.Time) (*platformstorage.DownloadLinkSigner, error) {
	signerKey := strings.TrimSpace(cfg.Storage.SignerKey)
	if signerKey == "" {
		return nil, errors.New("storage signer key is required")
	}
	signer, err := platformstorage.NewServiceAccountSignerFromJSON([]byte(signerKey))
	if err != nil {
		return nil, fmt.Errorf("parse storage signer key: %w", err)
	}
	client, err := platformstorage.NewClient(signer, platformstorage.WithClock(clock))
	if err != nil {
		return nil, fmt.Errorf("build signed url client: %w", err)
	}
	linkSigner, err := platformstorage.NewDownloadLinkSigner(client, cfg.Storage.FilesBucket)
	if err != nil {
		return nil, fmt.Errorf("build download link signer: %w", err)
	}
	return linkSigner, nil
}

func newDeliveryPublisher(ctx context.Context, cfg config.Config, clock func() time.Time) (*pubsub.Client, *jobs.PubSubDeliveryPublisher, error) {
	projectID := strings.TrimSpace(cfg.Firestore.ProjectID)
	if projectID == "" {
		projectID = strings.TrimSpace(cfg.Firebase.ProjectID)
	}
	if projectID == "" {
		return nil, nil, errors.New("delivery publisher requires a project id")
	}

	var clientOpts []option.ClientOption
	if host := strings.TrimSpace(cfg.Delivery.EmulatorHost); host != "" {
		clientOpts = append(clientOpts,
			option.WithEndpoint(host),
			option.WithoutAuthentication(),
			option.WithGRPCDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
		)
	}

	client, err := pubsub.NewClient(ctx, projectID, clientOpts...)
	if err != nil {
		return nil, nil, fmt.Errorf("build pubsub client: %w", err)
	}

	publisher, err := jobs.NewPubSubDeliveryPublisher(jobs.PubSubDeliveryPublisherConfig{
		Topic:            client.Topic(cfg.Delivery.Topic),
		DefaultLocale:    cfg.Delivery.DefaultLocale,
		SupportedLocales: cfg.Delivery.SupportedLocales,
		Clock:            clock,
	})
	if err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("build delivery publisher: %w", err)
	}
	return client, publisher, nil
}

func newULID() string {
	return ulid.Make().String()
}

func zapEventLogger(logger *zap.Logger) func(ctx context.Context, event string, fields map[string]any) {
	return func(_ context.Context, event string, fields map[string]any) {
		zFields := make([]zap.Field, 0, len(fields)+1)
		zFields = append(zFields, zap.String("event", event))
		for k, v := range fields {
			zFields = append(zFields, zap.Any(k, v))
		}
		logger.Debug("service event", zFields...)
	}
}
