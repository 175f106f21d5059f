package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/sgupta-algo/tickrunner/internal/auth"
	"github.com/sgupta-algo/tickrunner/internal/cache/redis"
	"github.com/sgupta-algo/tickrunner/internal/config"
	"github.com/sgupta-algo/tickrunner/internal/domain"
	"github.com/sgupta-algo/tickrunner/internal/engine"
	"github.com/sgupta-algo/tickrunner/internal/feed"
	"github.com/sgupta-algo/tickrunner/internal/notify"
	"github.com/sgupta-algo/tickrunner/internal/platform/sharekhan"
	"github.com/sgupta-algo/tickrunner/internal/sched"
	"github.com/sgupta-algo/tickrunner/internal/store/postgres"
)

// Dependencies bundles every constructed component the application needs to
// run. It is built by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	// Stores
	Entries   domain.PendingEntryStore
	Positions domain.PositionStore
	Tokens    domain.TokenStore

	// Cache
	PriceCache domain.PriceCache

	// Auth
	TokenStore *auth.SessionTokenStore
	Refresher  *auth.TokenRefresher

	// Broker
	Gateway    domain.BrokerGateway
	Credential domain.Credential

	// Engine
	Scheduler  *sched.Scheduler
	Lifecycle  *engine.LifecycleManager
	Reconciler *engine.Reconciler
	Closer     *engine.IntradayCloser
	EntrySync  *engine.EntrySync

	// Feed
	Feed *feed.MarketDataFeed

	// Notifications
	Notifier *notify.Notifier
}

// staticCredentials resolves the single configured credential. Credential
// administration lives outside the engine; the engine only ever sees ids.
type staticCredentials struct {
	creds map[string]domain.Credential
}

func (s staticCredentials) Credential(_ context.Context, id string) (domain.Credential, error) {
	cred, ok := s.creds[id]
	if !ok {
		return domain.Credential{}, fmt.Errorf("app: unknown credential %q: %w", id, domain.ErrNotFound)
	}
	return cred, nil
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- PostgreSQL trade store ---
	pgClient, err := postgres.New(ctx, postgres.ClientConfig{
		DSN:      cfg.Postgres.DSN,
		Host:     cfg.Postgres.Host,
		Port:     cfg.Postgres.Port,
		Database: cfg.Postgres.Database,
		User:     cfg.Postgres.User,
		Password: cfg.Postgres.Password,
		SSLMode:  cfg.Postgres.SSLMode,
		MaxConns: cfg.Postgres.PoolMaxConns,
		MinConns: cfg.Postgres.PoolMinConns,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: postgres: %w", err)
	}
	closers = append(closers, pgClient.Close)

	if cfg.Postgres.RunMigrations {
		if err := pgClient.RunMigrations(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
		}
	}

	deps.Entries = postgres.NewPendingEntryStore(pgClient)
	deps.Positions = postgres.NewPositionStore(pgClient)
	deps.Tokens = postgres.NewTokenStore(pgClient)

	// --- Redis price cache ---
	redisClient, err := redis.New(ctx, redis.ClientConfig{
		Addr:       cfg.Redis.Addr,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		PoolSize:   cfg.Redis.PoolSize,
		MaxRetries: cfg.Redis.MaxRetries,
		TLSEnabled: cfg.Redis.TLSEnabled,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: redis: %w", err)
	}
	closers = append(closers, func() { _ = redisClient.Close() })

	deps.PriceCache = redis.NewPriceCache(redisClient)

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	// --- Broker credential + session tokens ---
	deps.Credential = domain.Credential{
		ID:         cfg.Broker.CredentialID,
		Broker:     cfg.Broker.Name,
		CustomerID: cfg.Broker.CustomerID,
		APIKey:     cfg.Broker.APIKey,
		Secret:     cfg.Broker.Secret,
		ClientCode: cfg.Broker.ClientCode,
	}

	deps.TokenStore = auth.NewSessionTokenStore(cfg.Token.SafetyMargin.Duration, deps.Tokens, logger)
	deps.Gateway = sharekhan.NewClient(cfg.Broker.APIHost, cfg.Broker.APIKey, deps.TokenStore)

	login := auth.NewSessionLogin(deps.Gateway, func() string {
		return os.Getenv("TICKRUNNER_BROKER_REQUEST_TOKEN")
	})
	deps.Refresher = auth.NewTokenRefresher(
		deps.TokenStore, login,
		[]domain.Credential{deps.Credential},
		cfg.Token.RefreshInterval.Duration,
		logger,
	)

	creds := staticCredentials{creds: map[string]domain.Credential{
		deps.Credential.ID: deps.Credential,
	}}

	// --- Feed + engine ---
	window, err := feed.NewTradingWindow(cfg.Trading.HoursStart, cfg.Trading.HoursEnd, cfg.Trading.Timezone)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: trading window: %w", err)
	}

	deps.Scheduler = sched.New(logger)
	closers = append(closers, deps.Scheduler.Close)

	deps.Reconciler = engine.NewReconciler(
		deps.Positions, deps.Gateway, creds, deps.PriceCache, deps.Notifier,
		cfg.Trading.PollInterval.Duration, cfg.Trading.PollTimeout.Duration,
		logger,
	)

	stream := sharekhan.NewStream(cfg.Broker.StreamURL, cfg.Broker.APIKey)
	registry := feed.NewSubscriptionRegistry()

	// The feed and lifecycle reference each other: the feed forwards acks to
	// the lifecycle, the lifecycle manages subscriptions through the feed.
	// The feed is built last with the finished engine graph.
	deps.Lifecycle = engine.NewLifecycleManager(
		deps.Positions, deps.Gateway, creds, nil, deps.PriceCache,
		deps.Reconciler, deps.Notifier, logger,
	)

	trigger := engine.NewTriggerEvaluator(deps.Entries, deps.Lifecycle, logger)
	monitor := engine.NewPositionMonitor(deps.Positions, deps.Lifecycle, logger)
	dispatcher := engine.NewTickDispatcher(trigger, monitor)

	deps.Feed = feed.New(
		stream, deps.TokenStore, registry, deps.PriceCache, deps.Scheduler,
		dispatcher, deps.Lifecycle,
		feed.Config{
			Window:            window,
			ReconnectInterval: cfg.Trading.ReconnectInterval.Duration,
			ReconnectDelay:    cfg.Trading.ReconnectDelay.Duration,
			CredentialID:      deps.Credential.ID,
			CustomerID:        deps.Credential.CustomerID,
		},
		logger,
	)
	deps.Lifecycle.SetFeed(deps.Feed)

	// Entry rows are written by the external intake; the sync loop is what
	// gets newly created entries onto the feed and releases consumed ones.
	deps.EntrySync = engine.NewEntrySync(
		deps.Entries, deps.Feed,
		cfg.Trading.EntryScanInterval.Duration,
		logger,
	)

	closeAt, err := time.Parse("15:04", cfg.Trading.IntradayClose)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: parse intraday close %q: %w", cfg.Trading.IntradayClose, err)
	}
	deps.Closer = engine.NewIntradayCloser(
		deps.Positions, deps.Entries, deps.PriceCache, deps.Lifecycle,
		closeAt.Hour(), closeAt.Minute(), window.Location(),
		logger,
	)

	return deps, cleanup, nil
}
