package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/dhawalhost/dirsync/internal/audit"
	"github.com/dhawalhost/dirsync/internal/config"
	"github.com/dhawalhost/dirsync/internal/connection"
	"github.com/dhawalhost/dirsync/internal/directory"
	"github.com/dhawalhost/dirsync/internal/dirsync"
	"github.com/dhawalhost/dirsync/internal/events"
	"github.com/dhawalhost/dirsync/internal/provider/providers"
	"github.com/dhawalhost/dirsync/internal/scheduler"
	"github.com/dhawalhost/dirsync/internal/webhooks"
	"github.com/dhawalhost/dirsync/pkg/database"
	"github.com/dhawalhost/dirsync/pkg/logger"
	"github.com/dhawalhost/dirsync/pkg/middleware"
	"github.com/dhawalhost/dirsync/pkg/observability"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.Logging.Level)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	if err := run(cfg, log); err != nil {
		log.Fatal("Service exited", zap.Error(err))
	}
}

func run(cfg *config.Config, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := observability.InitTracer(ctx, observability.TracerConfig{
		ServiceName:  cfg.Telemetry.ServiceName,
		OTLPEndpoint: cfg.Telemetry.OTLPEndpoint,
		SampleRatio:  cfg.Telemetry.SampleRatio,
	}, log)
	if err != nil {
		return fmt.Errorf("init tracer: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracer(shutdownCtx); err != nil {
			log.Warn("Tracer shutdown failed", zap.Error(err))
		}
	}()

	db, err := database.NewConnection(database.Config{
		Host:            cfg.Database.Host,
		Port:            cfg.Database.Port,
		User:            cfg.Database.User,
		Password:        cfg.Database.Password,
		DBName:          cfg.Database.Name,
		SSLMode:         cfg.Database.SSLMode,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	})
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer db.Close()

	metrics := observability.NewMetrics()
	registry := providers.NewRegistry()

	connStore := connection.NewStore(db)
	connSvc := connection.NewService(connStore, registry)
	dirStore := directory.NewStore(db)
	syncStore := dirsync.NewStore(db)

	auditSvc := audit.NewService(audit.NewStore(db), log)
	webhookSvc := webhooks.NewService(db)
	dispatcher := events.NewDispatcher(webhookSvc, log)

	syncSvc := dirsync.NewService(connStore, syncStore, dirStore, registry, metrics, auditSvc, dispatcher, log)

	router := newRouter(cfg, log, metrics, connSvc, syncSvc, auditSvc, webhookSvc, dispatcher)

	if cfg.Scheduler.Enabled {
		sched := scheduler.New(connStore, syncSvc, cfg.Scheduler.CheckInterval, log)
		go sched.Run(ctx)
	}

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("Directory sync service listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func newRouter(cfg *config.Config, log *zap.Logger, metrics *observability.Metrics,
	connSvc connection.Service, syncSvc dirsync.Service,
	auditSvc *audit.Service, webhookSvc webhooks.Service,
	dispatcher *events.Dispatcher) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(cfg.Telemetry.ServiceName))
	router.Use(observability.PrometheusMiddleware(metrics))

	corsCfg := cors.DefaultConfig()
	if len(cfg.CORS.AllowedOrigins) > 0 {
		corsCfg.AllowOrigins = cfg.CORS.AllowedOrigins
	} else {
		corsCfg.AllowAllOrigins = true
	}
	corsCfg.AllowHeaders = append(corsCfg.AllowHeaders, "Authorization", middleware.DefaultOrgHeader)
	router.Use(cors.New(corsCfg))

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(observability.PrometheusHandler()))

	limiter := middleware.NewIPRateLimiter(rate.Limit(cfg.RateLimit.RequestsPerSecond), cfg.RateLimit.Burst)

	api := router.Group("/api/v1")
	api.Use(middleware.RateLimit(limiter))
	if cfg.Auth.JWTSecret != "" {
		api.Use(middleware.ServiceAuth(middleware.ServiceAuthConfig{
			Secret:   []byte(cfg.Auth.JWTSecret),
			Audience: cfg.Auth.Audience,
		}))
	}
	api.Use(middleware.OrgExtractor(middleware.OrgConfig{}))

	connection.NewHTTPHandler(connSvc, auditSvc, dispatcher, log).RegisterRoutes(api)
	dirsync.NewHTTPHandler(syncSvc, log).RegisterRoutes(api)
	audit.NewHTTPHandler(auditSvc, log).RegisterRoutes(api)
	webhooks.NewHTTPHandler(webhookSvc, log).RegisterRoutes(api)

	return router
}
