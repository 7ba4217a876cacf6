package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/upb/transcriber-gateway/config"
	"github.com/upb/transcriber-gateway/gateway"
	"github.com/upb/transcriber-gateway/identity"
	"github.com/upb/transcriber-gateway/middleware"
	"github.com/upb/transcriber-gateway/repositories"
	"github.com/upb/transcriber-gateway/repositories/postgres"
	"go.uber.org/zap"
)

const (
	cacheCleanupInterval = time.Minute
	limiterPruneInterval = 5 * time.Minute
)

// Dependencies holds all application dependencies.
// This is the central wiring point for dependency injection; everything
// here is built once per process and shared by all requests.
type Dependencies struct {
	// Infrastructure
	Config *config.Config
	DB     *postgres.DB
	Logger *zap.Logger

	// Repository Factory
	RepoFactory *postgres.RepositoryFactory

	// Account store read by the gateway
	Accounts repositories.AccountStore

	// Identity verification
	Verifier      identity.Verifier
	IdentityCache identity.Cache

	// Gate
	Gateway           *gateway.Gateway
	GatewayMiddleware *middleware.GatewayMiddleware
	RateLimiter       *middleware.IPRateLimiter

	stopBackground context.CancelFunc
}

// NewDependencies creates and wires up all application dependencies
func NewDependencies(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Dependencies, error) {
	deps := &Dependencies{
		Config: cfg,
		Logger: logger,
	}

	// Initialize PostgreSQL
	if err := deps.initDatabase(ctx, cfg); err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	// Initialize repositories
	deps.initRepositories()

	// Initialize identity verification (Firebase ID tokens)
	if err := deps.initIdentity(cfg); err != nil {
		_ = deps.Close(ctx)
		return nil, fmt.Errorf("failed to initialize identity verification: %w", err)
	}

	deps.InitGateway()
	deps.startBackground()

	logger.Info("all dependencies initialized successfully")
	return deps, nil
}

// initDatabase initializes the PostgreSQL database connection and factory
func (d *Dependencies) initDatabase(ctx context.Context, cfg *config.Config) error {
	factory, err := postgres.NewRepositoryFactory(cfg, d.Logger)
	if err != nil {
		return fmt.Errorf("failed to create repository factory: %w", err)
	}

	d.RepoFactory = factory
	d.DB = factory.GetDB()

	if cfg.Accounts.InitSchema {
		if err := factory.InitSchema(ctx); err != nil {
			_ = factory.Close()
			return fmt.Errorf("failed to initialize account schema: %w", err)
		}
	}

	d.Logger.Info("database connection established",
		zap.String("connection", cfg.Database.LogString()),
		zap.Bool("schema_initialized", cfg.Accounts.InitSchema))

	return nil
}

// initRepositories initializes all repository instances
func (d *Dependencies) initRepositories() {
	repos := d.RepoFactory.NewRepositories()
	d.Accounts = repos.Accounts
	d.Logger.Info("repositories initialized")
}

// initIdentity builds the token verifier and, when enabled, its cache
func (d *Dependencies) initIdentity(cfg *config.Config) error {
	if cfg.Firebase.ProjectID == "" {
		d.Logger.Warn("firebase project not configured, every protected request will be denied")
		d.Verifier = rejectAllVerifier{}
		return nil
	}

	verifier, err := identity.NewFirebaseVerifier(identity.Config{
		ProjectID:   cfg.Firebase.ProjectID,
		JWKSURL:     cfg.Firebase.JWKSURL,
		KeySetTTL:   cfg.Firebase.KeySetTTL,
		HTTPTimeout: cfg.Firebase.HTTPTimeout,
		ClockSkew:   cfg.Firebase.ClockSkew,
	})
	if err != nil {
		return err
	}
	d.Verifier = verifier

	cache, err := newIdentityCache(cfg.IdentityCache)
	if err != nil {
		return err
	}
	if cache != nil {
		d.IdentityCache = cache
		d.Verifier = identity.NewCachingVerifier(verifier, cache, cfg.IdentityCache.TTL, d.Logger)
		d.Logger.Info("identity cache enabled",
			zap.String("backend", cfg.IdentityCache.Backend),
			zap.Duration("ttl", cfg.IdentityCache.TTL))
	}

	d.Logger.Info("identity verifier initialized",
		zap.String("project_id", cfg.Firebase.ProjectID),
		zap.String("issuer", verifier.Issuer()))
	return nil
}

// newIdentityCache returns nil when caching is disabled
func newIdentityCache(cfg config.IdentityCacheConfig) (identity.Cache, error) {
	if cfg.TTL <= 0 {
		return nil, nil
	}
	switch cfg.Backend {
	case "memory", "":
		return identity.NewMemoryCache(cfg.MaxEntries), nil
	case "redis":
		cache, err := identity.NewRedisCache(cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		return cache, nil
	case "none":
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown identity cache backend: %s", cfg.Backend)
	}
}

// InitGateway wires the gate from the current Verifier and Accounts.
// Tests may set those fields directly and call this instead of NewDependencies.
func (d *Dependencies) InitGateway() {
	cfg := d.Config
	d.Gateway = gateway.New(d.Verifier, d.Accounts, gateway.Options{
		Collection:          cfg.Accounts.Collection,
		VerifyTimeout:       cfg.Gateway.VerifyTimeout,
		LookupTimeout:       cfg.Gateway.LookupTimeout,
		EnforceSubjectMatch: cfg.Gateway.EnforceSubjectMatch,
	}, d.Logger)
	d.GatewayMiddleware = middleware.NewGatewayMiddleware(d.Gateway, d.Logger)

	if cfg.Gateway.RateLimitRPM > 0 {
		d.RateLimiter = middleware.NewIPRateLimiter(cfg.Gateway.RateLimitRPM)
	}

	d.Logger.Info("verification gateway initialized",
		zap.String("collection", cfg.Accounts.Collection),
		zap.Bool("enforce_subject_match", cfg.Gateway.EnforceSubjectMatch),
		zap.Float64("rate_limit_rpm", cfg.Gateway.RateLimitRPM))
}

// startBackground runs housekeeping for in-process caches until Close
func (d *Dependencies) startBackground() {
	ctx, cancel := context.WithCancel(context.Background())
	d.stopBackground = cancel

	if cache, ok := d.IdentityCache.(*identity.MemoryCache); ok {
		go cache.StartCleanupWorker(ctx, cacheCleanupInterval)
	}
	if d.RateLimiter != nil {
		go d.RateLimiter.Limiter().StartPruner(ctx, limiterPruneInterval, limiterPruneInterval)
	}
}

// rejectAllVerifier rejects all tokens (used when Firebase is not configured)
type rejectAllVerifier struct{}

func (rejectAllVerifier) Verify(context.Context, string) (*identity.VerifiedIdentity, error) {
	return nil, fmt.Errorf("%w: authentication not configured", identity.ErrInvalidToken)
}

// Close gracefully shuts down all dependencies
func (d *Dependencies) Close(ctx context.Context) error {
	d.Logger.Info("shutting down dependencies")

	var errs []error

	if d.stopBackground != nil {
		d.stopBackground()
	}

	if closer, ok := d.IdentityCache.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close identity cache: %w", err))
		}
	}

	// Close database connection
	if d.RepoFactory != nil {
		if err := d.RepoFactory.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close database: %w", err))
		} else {
			d.Logger.Info("database connection closed")
		}
	}

	// Sync logger
	if d.Logger != nil {
		_ = d.Logger.Sync()
	}

	if len(errs) > 0 {
		return fmt.Errorf("errors during shutdown: %w", errors.Join(errs...))
	}

	return nil
}
