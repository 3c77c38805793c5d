package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/HammerMeetNail/quizduel/internal/config"
	"github.com/HammerMeetNail/quizduel/internal/database"
	"github.com/HammerMeetNail/quizduel/internal/feed"
	"github.com/HammerMeetNail/quizduel/internal/handlers"
	"github.com/HammerMeetNail/quizduel/internal/logging"
	"github.com/HammerMeetNail/quizduel/internal/middleware"
	"github.com/HammerMeetNail/quizduel/internal/services"
	"github.com/HammerMeetNail/quizduel/internal/store"
	"github.com/HammerMeetNail/quizduel/migrations"
)

func main() {
	if err := run(); err != nil {
		logging.Error("Application error", map[string]interface{}{"error": err.Error()})
		os.Exit(1)
	}
}

// closers runs registered cleanup in reverse order.
type closers []func()

func (c *closers) add(fn func()) { *c = append(*c, fn) }

func (c closers) run() {
	for i := len(c) - 1; i >= 0; i-- {
		c[i]()
	}
}

func run() error {
	logger := logging.New()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	level, err := logging.ParseLevel(cfg.Server.LogLevel)
	if err != nil {
		logger.Warn("Invalid LOG_LEVEL; using info", map[string]interface{}{"value": cfg.Server.LogLevel})
	}
	if cfg.Server.Debug {
		level = logging.LevelDebug
	}
	logger.SetLevel(level)
	logging.SetDefaultLevel(level)

	logger.Info("Starting quizduel invite server...", map[string]interface{}{
		"env":   cfg.Server.Environment,
		"store": cfg.Store.Driver,
		"feed":  cfg.Feed.Driver,
	})

	for _, warning := range cfg.Warnings() {
		logger.Warn(warning)
	}

	var cleanup closers
	defer cleanup.run()

	var redisClient *redis.Client
	if cfg.NeedsRedis() {
		logger.Info("Connecting to Redis", map[string]interface{}{"addr": cfg.Redis.Addr()})
		redisDB, err := database.NewRedisDB(cfg.Redis.Addr(), cfg.Redis.Password, cfg.Redis.DB)
		switch {
		case err == nil:
			redisClient = redisDB.Client
			cleanup.add(func() { _ = redisDB.Close() })
			logger.Info("Connected to Redis")
		case cfg.Feed.Driver == config.FeedRedis:
			return fmt.Errorf("connecting to redis: %w", err)
		default:
			// Only the rate limiter wanted Redis, and it fails open.
			logger.Warn("Redis unavailable; invite rate limiting disabled", map[string]interface{}{"error": err.Error()})
		}
	}

	changes, err := openFeed(cfg, redisClient, logger, &cleanup)
	if err != nil {
		return err
	}

	backend, err := openBackend(cfg, logger, &cleanup)
	if err != nil {
		return err
	}

	docs := store.New(backend, changes, logger.WithField("component", "store"))

	// Services
	inviteService := services.NewInviteService(docs, logger.WithField("component", "invites"))
	lobbyService := services.NewLobbyService(docs)
	authService := services.NewAuthService(cfg.Auth.JWTSecret)
	sweeper := services.NewExpirySweeper(docs, cfg.Invites.SweepInterval, logger.WithField("component", "sweeper"))

	// Handlers
	healthHandler := handlers.NewHealthHandler(docs, changes)
	inviteHandler := handlers.NewInviteHandler(inviteService)
	streamHandler := handlers.NewStreamHandler(inviteService).WithHeartbeat(cfg.Invites.StreamHeartbeat)
	lobbyHandler := handlers.NewLobbyHandler(lobbyService)

	// Middleware
	authMiddleware := middleware.NewAuthMiddleware(authService)
	securityHeaders := middleware.NewSecurityHeaders(cfg.Server.Secure)
	requestLogger := middleware.NewRequestLogger(logger)
	apiLimiter := middleware.NewAPIRateLimiter(redisClient)
	inviteLimiter := middleware.NewInviteRateLimiter(redisClient, cfg.Invites.CreatePerMinute)

	// Authenticated API routes are throttled per caller.
	protected := func(h http.Handler) http.Handler {
		return authMiddleware.RequireAuth(apiLimiter.Middleware(h))
	}
	createInvite := http.Handler(http.HandlerFunc(inviteHandler.Create))
	if cfg.Invites.CreatePerMinute > 0 {
		createInvite = inviteLimiter.Middleware(createInvite)
	}

	mux := http.NewServeMux()

	// Health endpoints (no auth, no rate limit)
	mux.HandleFunc("GET /health", healthHandler.Health)
	mux.HandleFunc("GET /ready", healthHandler.Ready)
	mux.HandleFunc("GET /live", healthHandler.Live)

	// Invite endpoints
	mux.Handle("POST /api/invites", protected(createInvite))
	mux.Handle("GET /api/invites/incoming/events", protected(http.HandlerFunc(streamHandler.Incoming)))
	mux.Handle("GET /api/invites/{id}", protected(http.HandlerFunc(inviteHandler.Get)))
	mux.Handle("GET /api/invites/{id}/events", protected(http.HandlerFunc(streamHandler.Invite)))
	mux.Handle("POST /api/invites/{id}/accept", protected(http.HandlerFunc(inviteHandler.Accept)))
	mux.Handle("POST /api/invites/{id}/decline", protected(http.HandlerFunc(inviteHandler.Decline)))
	mux.Handle("POST /api/invites/{id}/expire", protected(http.HandlerFunc(inviteHandler.Expire)))
	mux.Handle("DELETE /api/invites/{id}", protected(http.HandlerFunc(inviteHandler.Cancel)))

	// Lobby endpoints
	mux.Handle("GET /api/lobbies/{id}", protected(http.HandlerFunc(lobbyHandler.Get)))

	// Build middleware chain (order matters: outermost first)
	var handler http.Handler = mux
	handler = authMiddleware.Authenticate(handler)
	handler = securityHeaders.Apply(handler)
	handler = requestLogger.Apply(handler)

	// Cancelled on SIGINT/SIGTERM; also ends open event streams.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:        addr,
		Handler:     handler,
		BaseContext: func(net.Listener) context.Context { return ctx },
		ReadTimeout: 15 * time.Second,
		// Event streams clear their own write deadline.
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		sweeper.Run(ctx)
	}()

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("Server listening", map[string]interface{}{"addr": addr})
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		stop()
		wg.Wait()
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("Server is shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	server.SetKeepAlivesEnabled(false)
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Could not gracefully shutdown the server", map[string]interface{}{
			"error": err.Error(),
		})
	}
	wg.Wait()

	logger.Info("Server stopped")
	return nil
}

func openFeed(cfg *config.Config, redisClient *redis.Client, logger *logging.Logger, cleanup *closers) (feed.Feed, error) {
	feedLogger := logger.WithField("component", "feed")

	switch cfg.Feed.Driver {
	case config.FeedRedis:
		return feed.NewRedisFeed(redisClient, feedLogger), nil

	case config.FeedNATS:
		logger.Info("Connecting to NATS", map[string]interface{}{"url": cfg.NATS.URL})
		natsDB, err := database.NewNATSDB(database.NATSOptions{
			URL:           cfg.NATS.URL,
			Name:          cfg.NATS.Name,
			MaxReconnects: cfg.NATS.MaxReconnects,
			ReconnectWait: cfg.NATS.ReconnectWait,
		})
		if err != nil {
			return nil, err
		}
		cleanup.add(natsDB.Close)
		logger.Info("Connected to NATS")
		return feed.NewNATSFeed(natsDB.Conn, feedLogger), nil

	default:
		f := feed.NewMemoryFeed()
		cleanup.add(func() { _ = f.Close() })
		return f, nil
	}
}

func openBackend(cfg *config.Config, logger *logging.Logger, cleanup *closers) (store.Backend, error) {
	switch cfg.Store.Driver {
	case config.StorePostgres:
		logger.Info("Connecting to PostgreSQL", map[string]interface{}{
			"host": cfg.Database.Host,
			"port": cfg.Database.Port,
		})
		db, err := database.NewPostgresDB(cfg.Database.DSN())
		if err != nil {
			return nil, fmt.Errorf("connecting to postgres: %w", err)
		}
		cleanup.add(db.Close)
		logger.Info("Connected to PostgreSQL")

		logger.Info("Running database migrations...")
		migrator, err := database.NewMigrator(cfg.Database.DSN(), migrations.FS)
		if err != nil {
			return nil, fmt.Errorf("creating migrator: %w", err)
		}
		if err := migrator.Up(); err != nil {
			_ = migrator.Close()
			return nil, fmt.Errorf("running migrations: %w", err)
		}
		_ = migrator.Close()
		logger.Info("Migrations completed")

		return store.NewPostgresBackend(store.NewPoolAdapter(db.Pool)), nil

	case config.StoreFirestore:
		logger.Info("Connecting to Firestore", map[string]interface{}{"project": cfg.Firestore.ProjectID})
		fsDB, err := database.NewFirestoreDB(cfg.Firestore.ProjectID, cfg.Firestore.CredentialsFile)
		if err != nil {
			return nil, fmt.Errorf("connecting to firestore: %w", err)
		}
		cleanup.add(func() { _ = fsDB.Close() })
		return store.NewFirestoreBackend(fsDB.Client), nil

	default:
		logger.Warn("Using in-memory document store; data is lost on restart")
		return store.NewMemoryBackend(), nil
	}
}
