package app

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/knowledgehub/knowledge-hub/config"
	"github.com/knowledgehub/knowledge-hub/handlers"
	"github.com/knowledgehub/knowledge-hub/middleware"
	"github.com/knowledgehub/knowledge-hub/repositories"
	"github.com/knowledgehub/knowledge-hub/repositories/postgres"
	"github.com/knowledgehub/knowledge-hub/services/audit"
	"github.com/knowledgehub/knowledge-hub/services/group"
	"github.com/knowledgehub/knowledge-hub/services/identity"
	"github.com/knowledgehub/knowledge-hub/services/knowledge"
	"github.com/knowledgehub/knowledge-hub/services/policy"
	"github.com/knowledgehub/knowledge-hub/services/token"
)

// Dependencies holds all application dependencies.
// This is the central wiring point for dependency injection.
type Dependencies struct {
	// Infrastructure
	Config *config.Config
	DB     *postgres.DB
	Logger *zap.Logger

	// Repository Factory
	RepoFactory *postgres.RepositoryFactory

	// Repositories
	Users     repositories.UserRepository
	Groups    repositories.GroupRepository
	Knowledge repositories.KnowledgeRepository
	AuditLogs repositories.AuditRepository
	TxManager repositories.TransactionManager

	// Services
	Tokens          *token.Service
	Resolver        *identity.Resolver
	ActivityTracker *identity.ActivityTracker
	MembershipCache *policy.MembershipCache
	PolicyEngine    *policy.Engine
	GroupService    *group.Service
	KnowledgeSvc    *knowledge.Service
	AuditService    *audit.Service

	// HTTP
	AuthMiddleware   *middleware.AuthMiddleware
	AuthHandler      *handlers.AuthHandler
	GroupHandler     *handlers.GroupHandler
	KnowledgeHandler *handlers.KnowledgeHandler
	UserHandler      *handlers.UserHandler
	AuditHandler     *handlers.AuditHandler
	HealthHandler    *handlers.HealthHandler
}

// NewDependencies creates and wires up all application dependencies
func NewDependencies(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Dependencies, error) {
	deps := &Dependencies{
		Config: cfg,
		Logger: logger,
	}

	if err := deps.initDatabase(ctx, cfg); err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	deps.initRepositories()
	deps.initServices(cfg)
	deps.initHTTP(cfg)

	logger.Info("all dependencies initialized successfully")
	return deps, nil
}

// initDatabase initializes the PostgreSQL connection and factory
func (d *Dependencies) initDatabase(ctx context.Context, cfg *config.Config) error {
	factory, err := postgres.NewRepositoryFactory(cfg, d.Logger)
	if err != nil {
		return fmt.Errorf("failed to create repository factory: %w", err)
	}

	d.RepoFactory = factory
	d.DB = factory.GetDB()

	if err := d.DB.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	if err := d.DB.InitSchema(ctx); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	d.Logger.Info("database connection established",
		zap.String("connection", cfg.Database.LogString()))

	return nil
}

// initRepositories initializes all repository instances
func (d *Dependencies) initRepositories() {
	repos := d.RepoFactory.NewRepositories()

	d.Users = repos.Users
	d.Groups = repos.Groups
	d.Knowledge = repos.Knowledge
	d.AuditLogs = repos.AuditLogs
	d.TxManager = d.RepoFactory.GetTransactionManager()

	d.Logger.Info("repositories initialized")
}

// initServices wires the domain services in dependency order: audit
// first (the policy engine records through it), then tokens and
// identity, then the policy engine and the services built on it.
func (d *Dependencies) initServices(cfg *config.Config) {
	d.AuditService = audit.NewService(d.AuditLogs, d.Logger, audit.Config{
		BufferSize:  cfg.Audit.BufferSize,
		WorkerCount: cfg.Audit.WorkerCount,
	})

	d.Tokens = token.NewService(token.Config{
		Secret:              cfg.Auth.SigningSecret,
		TrustedSignatureKey: cfg.Auth.TrustedSignatureKey,
	}, d.Logger)

	d.ActivityTracker = identity.NewActivityTracker(d.Users, d.Logger, identity.TrackerConfig{
		BufferSize:  cfg.Audit.BufferSize,
		WorkerCount: cfg.Audit.WorkerCount,
	})
	d.Resolver = identity.NewResolver(d.Tokens, d.Users, d.ActivityTracker, d.Logger)

	d.MembershipCache = policy.NewMembershipCache(
		cfg.Policy.MembershipCacheSize, cfg.Policy.MembershipCacheTTL)
	d.PolicyEngine = policy.NewEngine(d.Groups, d.AuditService, d.MembershipCache, policy.Config{
		LegacyAdminOverride: cfg.Policy.LegacyAdminOverride,
	}, d.Logger)

	d.GroupService = group.NewService(d.Groups, d.TxManager, d.MembershipCache, d.Logger)
	d.KnowledgeSvc = knowledge.NewService(d.Knowledge, d.PolicyEngine, d.Logger)

	d.Logger.Info("services initialized")
}

// initHTTP initializes the auth middleware and HTTP handlers
func (d *Dependencies) initHTTP(cfg *config.Config) {
	d.AuthMiddleware = middleware.NewAuthMiddleware(d.Resolver, cfg.Auth, d.Logger)

	d.AuthHandler = handlers.NewAuthHandler(d.Users, d.Tokens, d.AuditService, cfg.Auth, d.Logger)
	d.GroupHandler = handlers.NewGroupHandler(d.GroupService, d.Users, d.PolicyEngine, d.AuditService, d.Logger)
	d.KnowledgeHandler = handlers.NewKnowledgeHandler(d.KnowledgeSvc, d.Logger)
	d.UserHandler = handlers.NewUserHandler(d.Users, d.GroupService, d.AuditService, d.Logger)
	d.AuditHandler = handlers.NewAuditHandler(d.AuditLogs, d.Logger)
	d.HealthHandler = handlers.NewHealthHandler(d.DB, d.Logger)
}

// Start launches the background workers
func (d *Dependencies) Start() error {
	if err := d.AuditService.Start(); err != nil {
		return fmt.Errorf("failed to start audit service: %w", err)
	}
	d.ActivityTracker.Start()
	return nil
}

// Close gracefully shuts down all dependencies
func (d *Dependencies) Close(ctx context.Context) error {
	d.Logger.Info("shutting down dependencies")

	var errs []error

	if d.ActivityTracker != nil {
		d.ActivityTracker.Stop(5 * time.Second)
	}
	if d.AuditService != nil {
		if err := d.AuditService.Stop(5 * time.Second); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop audit service: %w", err))
		}
	}

	if d.RepoFactory != nil {
		if err := d.RepoFactory.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close database: %w", err))
		} else {
			d.Logger.Info("database connection closed")
		}
	}

	if d.Logger != nil {
		_ = d.Logger.Sync()
	}

	if len(errs) > 0 {
		return fmt.Errorf("errors during shutdown: %v", errs)
	}

	return nil
}
