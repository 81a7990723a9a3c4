package server

import (
	"context"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/npai/quota-engine/internal/behavior"
	"github.com/npai/quota-engine/internal/config"
	"github.com/npai/quota-engine/internal/gateway"
	"github.com/npai/quota-engine/internal/handler"
	"github.com/npai/quota-engine/internal/healthcheck"
	"github.com/npai/quota-engine/internal/middleware"
	"github.com/npai/quota-engine/internal/models"
	"github.com/npai/quota-engine/internal/penalty"
	"github.com/npai/quota-engine/internal/quota"
	"github.com/npai/quota-engine/internal/ratelimit"
	"github.com/npai/quota-engine/internal/registry"
	"github.com/npai/quota-engine/internal/repository"
	"github.com/npai/quota-engine/internal/service"
	"github.com/npai/quota-engine/internal/storage"
	"gorm.io/gorm/clause"
)

type Server struct {
	router   *gin.Engine
	config   *config.Config
	redis    *storage.RedisClient
	postgres *storage.Postgres

	counters  *ratelimit.FailoverStore
	memory    *ratelimit.MemoryStore
	penalties *penalty.Engine
	scorer    *behavior.Scorer
	registry  *registry.Registry
	gateway   *gateway.Gateway
	analytics *service.AnalyticsService
	checker   *healthcheck.Checker

	httpServer *http.Server
	bgCancel   context.CancelFunc
}

func New(cfg *config.Config, redis *storage.RedisClient, postgres *storage.Postgres) (*Server, error) {
	if cfg.Server.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	// Repositories
	keyRepo := repository.NewAPIKeyRepository(postgres)
	ledgerRepo := repository.NewLedgerRepository(postgres)
	violationRepo := repository.NewViolationRepository(postgres)
	incidentRepo := repository.NewIncidentRepository(postgres)
	userRepo := repository.NewUserRepository(postgres)

	// Counter store: redis with automatic in-memory failover
	memory := ratelimit.NewMemoryStore()
	counters := ratelimit.NewFailoverStore(ratelimit.NewRedisStore(redis), memory, ratelimit.FailoverConfig{
		Timeout:     cfg.Counter.Timeout(),
		MaxFailures: cfg.Counter.BreakerMaxFailures,
		OpenFor:     time.Duration(cfg.Counter.BreakerOpenSecs) * time.Second,
	})

	evaluator := ratelimit.NewEvaluator(counters, ratelimit.RulesFromConfig(cfg.Rules))

	penalties := penalty.NewEngine(penalty.Config{
		Base:   time.Duration(cfg.Penalty.BaseSeconds) * time.Second,
		Max:    time.Duration(cfg.Penalty.MaxSeconds) * time.Second,
		Window: time.Duration(cfg.Penalty.WindowSeconds) * time.Second,
	}, violationRepo)

	var scorer *behavior.Scorer
	if cfg.Behavior.Enabled {
		scorer = behavior.NewScorer(behavior.Config{
			MaxMultiplier: cfg.Behavior.MaxMultiplier,
			SampleSize:    cfg.Behavior.SampleSize,
		})
	}

	tiers := tiersFromConfig(cfg.Tiers)
	if err := seedTiers(postgres, tiers); err != nil {
		return nil, err
	}

	reg := registry.New(keyRepo, redis, tiers)
	accountant := quota.NewAccountant(ledgerRepo)
	gw := gateway.New(reg, accountant, penalties, scorer, evaluator, incidentRepo)

	analytics := service.NewAnalyticsService(keyRepo, ledgerRepo, incidentRepo)
	auth := service.NewAuthService(userRepo, cfg.Auth.JWTSecret, cfg.Auth.ExpiryHours)

	checker := healthcheck.NewChecker(nil)
	checker.Register("redis", redis.Ping)
	checker.Register("database", postgres.Ping)

	s := &Server{
		router:    router,
		config:    cfg,
		redis:     redis,
		postgres:  postgres,
		counters:  counters,
		memory:    memory,
		penalties: penalties,
		scorer:    scorer,
		registry:  reg,
		gateway:   gw,
		analytics: analytics,
		checker:   checker,
	}

	if err := penalties.Load(context.Background()); err != nil {
		log.Printf("Warning: failed to restore penalty state: %v", err)
	}

	s.seedAdminUser(auth)
	s.setupMiddleware()
	s.setupRoutes(auth)

	return s, nil
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.Recovery())
	s.router.Use(middleware.RequestID())
	s.router.Use(middleware.Logger())
}

func (s *Server) setupRoutes(auth *service.AuthService) {
	checkHandler := handler.NewCheckHandler(s.gateway)
	keyHandler := handler.NewAPIKeyHandler(s.registry)
	analyticsHandler := handler.NewAnalyticsHandler(s.analytics)
	systemHandler := handler.NewSystemHandler(s.checker, s.counters, s.penalties, s.analytics)
	authHandler := handler.NewAuthHandler(auth)

	s.router.POST("/v1/check", checkHandler.Check)
	s.router.GET("/health", systemHandler.Health)
	s.router.POST("/auth/login", authHandler.Login)

	admin := s.router.Group("/admin")
	admin.Use(middleware.RequireAuth(auth))
	{
		admin.GET("/status", systemHandler.Status)
		admin.POST("/keys", keyHandler.Create)
		admin.GET("/keys", keyHandler.List)
		admin.GET("/keys/:id", keyHandler.Get)
		admin.POST("/keys/:id/suspend", keyHandler.Suspend)
		admin.POST("/keys/:id/reactivate", keyHandler.Reactivate)
		admin.DELETE("/keys/:id", keyHandler.Revoke)
		admin.GET("/analytics/overview", analyticsHandler.GetOverview)
		admin.GET("/analytics/developers/:id", analyticsHandler.GetDeveloperSummary)
	}
}

// seedAdminUser bootstraps the first admin account from the
// environment so the CLI can log in on a fresh install.
func (s *Server) seedAdminUser(auth *service.AuthService) {
	email := os.Getenv("ADMIN_EMAIL")
	password := os.Getenv("ADMIN_PASSWORD")
	if email == "" || password == "" {
		return
	}

	if err := auth.Register(context.Background(), email, password, "admin"); err != nil {
		log.Printf("Admin user %s not seeded: %v", email, err)
	} else {
		log.Printf("Seeded admin user %s", email)
	}
}

func tiersFromConfig(configs []config.TierConfig) []models.Tier {
	tiers := make([]models.Tier, 0, len(configs))
	for _, tc := range configs {
		tiers = append(tiers, models.Tier{
			Name:                   tc.Name,
			RequestsPerDay:         tc.RequestsPerDay,
			RequestsPerMonth:       tc.RequestsPerMonth,
			BytesPerDay:            tc.BytesPerDay,
			BytesPerMonth:          tc.BytesPerMonth,
			ComputeSecondsPerDay:   tc.ComputeSecondsPerDay,
			ComputeSecondsPerMonth: tc.ComputeSecondsPerMonth,
		})
	}
	return tiers
}

// seedTiers upserts the configured tier table so ledger limits match
// the running config.
func seedTiers(postgres *storage.Postgres, tiers []models.Tier) error {
	for i := range tiers {
		err := postgres.DB.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "name"}},
			UpdateAll: true,
		}).Create(&tiers[i]).Error
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *Server) Run(addr string) error {
	ctx, cancel := context.WithCancel(context.Background())
	s.bgCancel = cancel

	// Background loops: counter janitor, redis recovery probe,
	// penalty decay, scorer eviction, incident retention.
	s.memory.StartJanitor(ctx, s.config.Counter.SweepInterval())
	s.counters.StartHealthLoop(ctx, s.config.Counter.HealthInterval())
	s.penalties.StartSweeper(ctx, s.config.Counter.SweepInterval())
	if s.scorer != nil {
		s.scorer.StartJanitor(ctx, s.config.Counter.SweepInterval())
	}
	s.analytics.StartRetentionLoop(ctx, time.Duration(s.config.Retention.CleanupHours)*time.Hour, s.config.Retention.IncidentDays)
	s.checker.Start()

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  15 * time.Second,
	}

	log.Printf("Starting quota engine on %s", addr)
	log.Printf("Environment: %s", s.config.Server.Environment)

	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	log.Println("Shutting down server...")

	if s.bgCancel != nil {
		s.bgCancel()
	}
	s.checker.Stop()

	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}

	return nil
}

func (s *Server) GetRouter() *gin.Engine {
	return s.router
}
