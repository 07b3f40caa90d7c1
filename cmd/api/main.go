package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/pubsub"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"

	"github.com/rise-n-smoke/ordering/internal/cart"
	"github.com/rise-n-smoke/ordering/internal/catalog"
	"github.com/rise-n-smoke/ordering/internal/clover"
	"github.com/rise-n-smoke/ordering/internal/handlers"
	"github.com/rise-n-smoke/ordering/internal/notify"
	"github.com/rise-n-smoke/ordering/internal/orders"
	"github.com/rise-n-smoke/ordering/internal/payments"
	"github.com/rise-n-smoke/ordering/internal/platform/auth"
	"github.com/rise-n-smoke/ordering/internal/platform/config"
	pfirestore "github.com/rise-n-smoke/ordering/internal/platform/firestore"
	"github.com/rise-n-smoke/ordering/internal/platform/idempotency"
	"github.com/rise-n-smoke/ordering/internal/platform/jobs"
	"github.com/rise-n-smoke/ordering/internal/platform/observability"
	ppostgres "github.com/rise-n-smoke/ordering/internal/platform/postgres"
	"github.com/rise-n-smoke/ordering/internal/platform/secrets"
	"github.com/rise-n-smoke/ordering/internal/repositories"
	fsrepo "github.com/rise-n-smoke/ordering/internal/repositories/firestore"
	"github.com/rise-n-smoke/ordering/internal/repositories/memory"
	mongorepo "github.com/rise-n-smoke/ordering/internal/repositories/mongo"
	pgrepo "github.com/rise-n-smoke/ordering/internal/repositories/postgres"
	"github.com/rise-n-smoke/ordering/internal/services"
	"github.com/rise-n-smoke/ordering/internal/shipping"
)

const (
	idempotencyCollection = "idempotency_keys"
	paymentAttemptLimit   = 5
	paymentAttemptWindow  = time.Minute
	maintenanceInterval   = 5 * time.Minute
	maintenanceBatchSize  = 100
	unpaidOrderMaxAge     = 2 * time.Hour
)

func main() {
	ctx := context.Background()
	startedAt := time.Now().UTC()

	bootLogger, err := observability.NewLogger(os.Getenv("RNS_LOG_LEVEL"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}

	secretsCfg, err := config.Bootstrap()
	if err != nil {
		bootLogger.Fatal("failed to read environment values", zap.Error(err))
	}
	fetcher := secrets.NewFetcher(ctx, secretsCfg.ProjectID, nil,
		secrets.WithLogger(bootLogger.Named("secrets")),
		secrets.WithFallbackFile(secretsCfg.FallbackFile),
	)
	defer func() {
		if err := fetcher.Close(); err != nil {
			bootLogger.Warn("secret fetcher close error", zap.Error(err))
		}
	}()

	cfg, err := config.Load(ctx, config.WithSecretResolver(fetcher))
	if err != nil {
		var invalid *config.ValidationError
		if errors.As(err, &invalid) {
			bootLogger.Fatal("invalid configuration", zap.Strings("fields", invalid.Fields()))
		}
		bootLogger.Fatal("failed to load configuration", zap.Error(err))
	}

	baseLogger, err := observability.NewLogger(cfg.Server.LogLevel)
	if err != nil {
		bootLogger.Fatal("failed to initialise logger", zap.Error(err))
	}
	defer func() {
		_ = baseLogger.Sync()
	}()
	logger := baseLogger.Named("api")

	menu, rates, err := loadCatalog(cfg.Store)
	if err != nil {
		logger.Fatal("failed to load menu", zap.Error(err))
	}

	pool, err := ppostgres.NewPool(ctx, cfg.Postgres)
	if err != nil {
		logger.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer pool.Close()
	if err := pgrepo.EnsureSchema(ctx, pool); err != nil {
		logger.Fatal("failed to apply order schema", zap.Error(err))
	}
	orderRepo, err := pgrepo.NewOrderRepository(pool)
	if err != nil {
		logger.Fatal("failed to initialise order repository", zap.Error(err))
	}

	probes := []repositories.Probe{{Name: "postgres", Check: pool.Ping}}

	var (
		cartRepo         repositories.CartRepository = memory.NewCartRepository()
		idempotencyStore idempotency.Store           = idempotency.NewMemoryStore()
	)
	firestoreClient, err := pfirestore.NewClient(ctx, cfg.Firestore)
	switch {
	case errors.Is(err, pfirestore.ErrNotConfigured):
		logger.Warn("firestore not configured, carts and idempotency keys are kept in memory")
	case err != nil:
		logger.Fatal("failed to initialise firestore client", zap.Error(err))
	default:
		defer func() {
			if err := firestoreClient.Close(); err != nil {
				logger.Warn("firestore close error", zap.Error(err))
			}
		}()
		fsCarts, err := fsrepo.NewCartRepository(firestoreClient, cfg.Firestore.CartCollection)
		if err != nil {
			logger.Fatal("failed to initialise cart repository", zap.Error(err))
		}
		cartRepo = fsCarts
		idempotencyStore = idempotency.NewFirestoreStore(firestoreClient, idempotencyCollection)
		probes = append(probes, repositories.Probe{
			Name:     "firestore",
			Optional: true,
			Check:    firestoreProbe(firestoreClient, cfg.Firestore.CartCollection),
		})
	}

	var webhookArchive repositories.WebhookEventRepository = memory.NewWebhookEventRepository()
	if cfg.Mongo.URI != "" {
		mongoClient, err := mongorepo.Connect(ctx, cfg.Mongo)
		if err != nil {
			logger.Fatal("failed to connect to mongo", zap.Error(err))
		}
		defer func() {
			closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := mongoClient.Disconnect(closeCtx); err != nil {
				logger.Warn("mongo disconnect error", zap.Error(err))
			}
		}()
		archive, err := mongorepo.NewWebhookEventRepository(mongoClient.Database(cfg.Mongo.Database).Collection(cfg.Mongo.Collection))
		if err != nil {
			logger.Fatal("failed to initialise webhook archive", zap.Error(err))
		}
		if err := archive.EnsureIndexes(ctx); err != nil {
			logger.Warn("webhook archive indexes not ensured", zap.Error(err))
		}
		webhookArchive = archive
		probes = append(probes, repositories.Probe{Name: "mongo", Optional: true, Check: mongoProbe(mongoClient)})
	} else {
		logger.Warn("mongo not configured, webhook deliveries are archived in memory")
	}

	var events services.OrderEventPublisher
	if cfg.PubSub.ProjectID != "" && cfg.PubSub.OrderTopic != "" {
		psClient, err := pubsub.NewClient(ctx, cfg.PubSub.ProjectID)
		if err != nil {
			logger.Fatal("failed to initialise pubsub client", zap.Error(err))
		}
		defer func() {
			if err := psClient.Close(); err != nil {
				logger.Warn("pubsub close error", zap.Error(err))
			}
		}()
		publisher, err := jobs.NewOrderEventPublisher(psClient.Topic(cfg.PubSub.OrderTopic))
		if err != nil {
			logger.Fatal("failed to initialise order event publisher", zap.Error(err))
		}
		defer publisher.Stop()
		events = publisher
	}

	notifier := buildNotifier(logger.Named("notify"), cfg)

	cloverClient, err := clover.New(cfg.Clover, clover.WithLogger(clover.Logger(observability.NewEventLogger(logger.Named("clover")))))
	if err != nil {
		logger.Fatal("failed to initialise clover client", zap.Error(err))
	}
	paymentManager, err := buildPaymentManager(logger.Named("payments"), cfg, cloverClient)
	if err != nil {
		logger.Fatal("failed to initialise payment manager", zap.Error(err))
	}

	pricing := cart.Pricing{TaxRateBasisPoints: cfg.Store.TaxRateBasisPoints, Shipping: rates}
	loc := cfg.Store.Location
	serviceLogger := func(name string) services.Logger {
		return services.Logger(observability.NewEventLogger(logger.Named(name)))
	}

	orderService, err := services.NewOrderService(services.OrderServiceDeps{
		Orders:   orderRepo,
		Pricing:  pricing,
		Numbers:  orders.NumberGenerator{Prefix: cfg.Store.OrderNumberPrefix},
		Location: loc,
		Clock:    time.Now,
		Events:   events,
		Logger:   serviceLogger("orders"),
	})
	if err != nil {
		logger.Fatal("failed to initialise order service", zap.Error(err))
	}
	cartService, err := services.NewCartService(services.CartServiceDeps{
		Carts:    cartRepo,
		Catalog:  menu,
		Pricing:  pricing,
		Location: loc,
		Clock:    time.Now,
		Logger:   serviceLogger("cart"),
	})
	if err != nil {
		logger.Fatal("failed to initialise cart service", zap.Error(err))
	}
	posService, err := services.NewPOSService(services.POSServiceDeps{
		Orders:   orderRepo,
		Clover:   cloverClient,
		Payments: paymentManager,
		Mapping:  menu,
		Location: loc,
		Clock:    time.Now,
		Events:   events,
		Notifier: notifier,
		Logger:   serviceLogger("pos"),
	})
	if err != nil {
		logger.Fatal("failed to initialise pos service", zap.Error(err))
	}
	checkoutService, err := services.NewCheckoutService(services.CheckoutServiceDeps{
		Carts:      cartService,
		Orders:     orderService,
		POS:        posService,
		Location:   loc,
		ClearDelay: cfg.Store.CartClearDelay,
		Logger:     serviceLogger("checkout"),
	})
	if err != nil {
		logger.Fatal("failed to initialise checkout service", zap.Error(err))
	}
	webhookService, err := services.NewWebhookService(services.WebhookServiceDeps{
		Orders:     orderRepo,
		Archive:    webhookArchive,
		Clover:     cloverClient,
		MerchantID: cloverClient.MerchantID(),
		Clock:      time.Now,
		Events:     events,
		Logger:     serviceLogger("webhooks"),
	})
	if err != nil {
		logger.Fatal("failed to initialise webhook service", zap.Error(err))
	}

	healthRepo, err := repositories.NewProbeHealthRepository(probes)
	if err != nil {
		logger.Fatal("failed to initialise health probes", zap.Error(err))
	}

	menuHandlers := handlers.NewMenuHandlers(menu, rates)
	verifier := auth.NewWebhookVerifier(cfg.Webhooks.CloverSigningSecret,
		auth.WithSignatureHeader(cfg.Webhooks.SignatureHeader),
		auth.WithVerifierLogger(logger.Named("webhooks")),
	)

	router := handlers.NewRouter(
		handlers.WithMiddlewares(
			observability.TraceMiddleware(),
			observability.InjectLoggerMiddleware(logger),
			observability.RequestLoggerMiddleware(),
			observability.RecoveryMiddleware(logger),
			handlers.CartSessionMiddleware(),
		),
		handlers.WithAPIMiddlewares(handlers.PostOnly(idempotency.Guard(idempotencyStore,
			idempotency.WithHeader(cfg.Idempotency.Header),
			idempotency.WithTTL(cfg.Idempotency.TTL),
		))),
		handlers.WithHealthHandlers(handlers.NewHealthHandlers(
			handlers.WithHealthBuildInfo(buildInfoFromEnv(startedAt)),
			handlers.WithHealthRepository(healthRepo),
		)),
		handlers.WithMenuRoutes(menuHandlers.Routes),
		handlers.WithShippingRoutes(menuHandlers.ShippingRoutes),
		handlers.WithCartRoutes(handlers.NewCartHandlers(cartService).Routes),
		handlers.WithOrderRoutes(handlers.NewOrderHandlers(orderService).Routes),
		handlers.WithCheckoutRoutes(handlers.NewCheckoutHandlers(checkoutService,
			handlers.WithCheckoutPaymentRateLimit(paymentAttemptLimit, paymentAttemptWindow)).Routes),
		handlers.WithCloverRoutes(handlers.NewCloverHandlers(posService,
			handlers.WithChargeRateLimit(paymentAttemptLimit, paymentAttemptWindow)).Routes),
		handlers.WithWebhookRoutes(handlers.NewWebhookHandlers(webhookService).Routes),
		handlers.WithWebhookMiddlewares(verifier.Middleware),
	)

	backgroundCtx, backgroundCancel := context.WithCancel(context.Background())
	var backgroundWG sync.WaitGroup
	backgroundWG.Add(2)
	go func() {
		defer backgroundWG.Done()
		idempotency.Sweep(backgroundCtx, idempotencyStore, cfg.Idempotency.CleanupInterval, cfg.Idempotency.CleanupBatchSize, logger.Named("idempotency"))
	}()
	go func() {
		defer backgroundWG.Done()
		runMaintenance(backgroundCtx, logger.Named("maintenance"), orderService, webhookService)
	}()

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		logger.Info("api server listening",
			zap.String("addr", server.Addr),
			zap.String("store", cfg.Store.Name),
			zap.String("paymentProvider", cfg.Payments.Provider),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	logger.Info("shutdown signal received")

	backgroundCancel()
	backgroundWG.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}

func loadCatalog(store config.StoreConfig) (*catalog.Catalog, *shipping.Table, error) {
	var (
		menu *catalog.Catalog
		err  error
	)
	if store.MenuFile != "" {
		menu, err = catalog.LoadFile(store.MenuFile)
	} else {
		menu, err = catalog.Default()
	}
	if err != nil {
		return nil, nil, err
	}
	if store.ShippingZonesFile == "" {
		return menu, shipping.MustDefaultTable(), nil
	}
	table, err := shipping.LoadTableFile(store.ShippingZonesFile)
	if err != nil {
		return nil, nil, err
	}
	return menu, table, nil
}

func buildNotifier(logger *zap.Logger, cfg config.Config) services.OrderNotifier {
	var channels notify.Multi
	n := cfg.Notifications
	if n.SendGridAPIKey != "" {
		email, err := notify.NewEmailNotifier(notify.EmailConfig{
			APIKey:    n.SendGridAPIKey,
			FromEmail: n.FromEmail,
			FromName:  n.FromName,
			StoreName: cfg.Store.Name,
			Location:  cfg.Store.Location,
		})
		if err != nil {
			logger.Warn("confirmation email disabled", zap.Error(err))
		} else {
			channels = append(channels, email)
		}
	}
	if n.TelegramBotToken != "" {
		if err := tgbotapi.SetLogger(observability.NewPrintfAdapter(logger.Named("telegram"))); err != nil {
			logger.Warn("telegram logger not installed", zap.Error(err))
		}
		kitchen, err := notify.NewKitchenNotifier(n.TelegramBotToken, n.TelegramChatID, cfg.Store.Location)
		if err != nil {
			logger.Warn("kitchen tickets disabled", zap.Error(err))
		} else {
			channels = append(channels, kitchen)
		}
	}
	if len(channels) == 0 {
		return notify.Nop{}
	}
	return channels
}

func buildPaymentManager(logger *zap.Logger, cfg config.Config, client *clover.Client) (*payments.Manager, error) {
	events := observability.NewEventLogger(logger)
	providers := map[string]payments.Provider{}
	if cfg.Clover.EcommerceKey != "" {
		cp, err := payments.NewCloverProvider(client, payments.CloverLogger(events))
		if err != nil {
			return nil, err
		}
		providers[payments.ProviderClover] = cp
	}
	if cfg.Payments.StripeAPIKey != "" {
		sp, err := payments.NewStripeProvider(payments.StripeProviderConfig{
			APIKey: cfg.Payments.StripeAPIKey,
			Logger: payments.StripeLogger(events),
			Clock:  time.Now,
		})
		if err != nil {
			return nil, err
		}
		providers[payments.ProviderStripe] = sp
	}
	return payments.NewManager(providers, payments.WithDefaultProvider(cfg.Payments.Provider))
}

// runMaintenance cancels abandoned unpaid orders and replays webhook deliveries
// that failed earlier.
func runMaintenance(ctx context.Context, logger *zap.Logger, orderSvc services.OrderService, webhookSvc services.WebhookService) {
	ticker := time.NewTicker(maintenanceInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			runCtx, cancel := context.WithTimeout(ctx, time.Minute)
			if expired, err := orderSvc.ExpireUnpaid(runCtx, unpaidOrderMaxAge, maintenanceBatchSize); err != nil {
				logger.Warn("unpaid order expiry failed", zap.Error(err))
			} else if expired > 0 {
				logger.Info("unpaid orders cancelled", zap.Int("count", expired))
			}
			if replayed, err := webhookSvc.ReplayUnprocessed(runCtx, maintenanceBatchSize); err != nil {
				logger.Warn("webhook replay failed", zap.Error(err))
			} else if replayed > 0 {
				logger.Info("webhook deliveries replayed", zap.Int("count", replayed))
			}
			cancel()
		}
	}
}

func firestoreProbe(client *firestore.Client, collection string) func(context.Context) error {
	return func(ctx context.Context) error {
		_, err := client.Collection(collection).Limit(1).Documents(ctx).GetAll()
		return err
	}
}

func mongoProbe(client *mongo.Client) func(context.Context) error {
	return func(ctx context.Context) error {
		return client.Ping(ctx, nil)
	}
}

func buildInfoFromEnv(startedAt time.Time) handlers.BuildInfo {
	lookup := func(keys ...string) string {
		for _, key := range keys {
			if value, ok := os.LookupEnv(key); ok && value != "" {
				return value
			}
		}
		return ""
	}
	info := handlers.BuildInfo{
		Version:     lookup("RNS_VERSION", "K_REVISION"),
		CommitSHA:   lookup("RNS_COMMIT_SHA", "COMMIT_SHA"),
		Environment: lookup("RNS_ENVIRONMENT"),
		StartedAt:   startedAt,
	}
	if info.Version == "" {
		info.Version = "dev"
	}
	if info.Environment == "" {
		info.Environment = "local"
	}
	return info
}
