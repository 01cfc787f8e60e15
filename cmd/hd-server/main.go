package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/smmrizwan/hemodialysis-sub001/internal/config"
	"github.com/smmrizwan/hemodialysis-sub001/internal/domain/calculator"
	"github.com/smmrizwan/hemodialysis-sub001/internal/domain/labs"
	"github.com/smmrizwan/hemodialysis-sub001/internal/domain/patient"
	"github.com/smmrizwan/hemodialysis-sub001/internal/platform/auth"
	"github.com/smmrizwan/hemodialysis-sub001/internal/platform/db"
	"github.com/smmrizwan/hemodialysis-sub001/internal/platform/hl7v2"
	"github.com/smmrizwan/hemodialysis-sub001/internal/platform/middleware"
	"github.com/smmrizwan/hemodialysis-sub001/internal/platform/openapi"
	"github.com/smmrizwan/hemodialysis-sub001/internal/platform/reporting"
	"github.com/smmrizwan/hemodialysis-sub001/internal/platform/telemetry"
	"github.com/smmrizwan/hemodialysis-sub001/internal/targets"
)

const version = "0.1.0"

func main() {
	// Values already in the environment win over .env.
	_ = godotenv.Load()

	rootCmd := &cobra.Command{
		Use:           "hd-server",
		Short:         "Hemodialysis records API server",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(recomputeCmd())
	rootCmd.AddCommand(calcCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newLogger(cfg *config.Config) zerolog.Logger {
	if cfg.IsDev() {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

// loadConfig loads and validates configuration. Commands that need the
// database pass requireDB.
func loadConfig(requireDB bool) (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if requireDB {
		if err := cfg.RequireDatabase(); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

func openPool(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*pgxpool.Pool, error) {
	return db.NewPool(ctx, db.Options{
		URL:      cfg.DatabaseURL,
		MaxConns: cfg.DBMaxConns,
		MinConns: cfg.DBMinConns,
	}, logger)
}

// loadTargets returns the built-in targets unless TARGETS_FILE is set.
func loadTargets(cfg *config.Config) (*targets.Store, error) {
	if cfg.TargetsFile == "" {
		return targets.NewStore(nil), nil
	}
	set, err := targets.Load(cfg.TargetsFile)
	if err != nil {
		return nil, err
	}
	return targets.NewStore(set), nil
}

// services bundles the domain services shared by the HTTP server and the
// maintenance commands.
type services struct {
	patients   *patient.Service
	labs       *labs.Service
	calculator *calculator.Service
	metrics    *telemetry.Provider
	targets    *targets.Store
}

func newServices(cfg *config.Config, pool *pgxpool.Pool, store *targets.Store, logger zerolog.Logger) *services {
	metrics := telemetry.New("hd")
	if pool != nil {
		metrics.GaugeFunc("db_pool_total_conns", "Open database connections.", func() float64 {
			return float64(pool.Stat().TotalConns())
		})
		metrics.GaugeFunc("db_pool_idle_conns", "Idle database connections.", func() float64 {
			return float64(pool.Stat().IdleConns())
		})
	}

	patientSvc := patient.NewService(patient.NewRepo(pool), cfg.MAP(), logger)
	labSvc := labs.NewService(labs.NewRepo(pool), patientSvc, store, logger,
		labs.WithKtVModel(cfg.KtV()),
		labs.WithObserver(metrics),
		labs.WithTx(func(ctx context.Context, fn func(ctx context.Context) error) error {
			return db.WithTx(ctx, pool, fn)
		}),
	)
	return &services{
		patients:   patientSvc,
		labs:       labSvc,
		calculator: calculator.NewService(cfg.MAP(), cfg.KtV(), store),
		metrics:    metrics,
		targets:    store,
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

// newServer builds the Echo instance with middleware and routes. pool may be
// nil in tests; the database health check and reports are then left out.
func newServer(cfg *config.Config, logger zerolog.Logger, pool *pgxpool.Pool, svcs *services) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Audit and metrics sit outside Logger so they see the final status code.
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.SecurityHeaders())
	e.Use(middleware.Audit(logger))
	e.Use(svcs.metrics.Middleware())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.BodyLimit(cfg.BodyLimit))
	e.Use(middleware.RequestTimeout(cfg.RequestTimeout))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", middleware.RequestIDHeader},
	}))

	if cfg.IsDev() {
		logger.Warn().Msg("development mode: requests are authenticated as dev-user with the admin role")
		e.Use(auth.DevAuthMiddleware(auth.AuthSkipper))
	} else {
		jwtCfg := auth.JWTConfig{
			Issuer:   cfg.AuthIssuer,
			Audience: cfg.AuthAudience,
			JWKSURL:  cfg.AuthJWKSURL,
			Skipper:  auth.AuthSkipper,
		}
		if cfg.AuthSigningKey != "" {
			jwtCfg.SigningKey = []byte(cfg.AuthSigningKey)
		}
		e.Use(auth.JWTMiddleware(jwtCfg))
	}

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": version,
		})
	})
	if pool != nil {
		e.GET("/health/db", db.HealthHandler(pool))
	}
	e.GET("/metrics", svcs.metrics.Handler())

	apiV1 := e.Group("/api/v1")
	rateLimitCfg := middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		Burst:             cfg.RateLimitBurst,
	}
	if rateLimitCfg.RequestsPerSecond <= 0 {
		rateLimitCfg = middleware.DefaultRateLimitConfig()
	}
	apiV1.Use(middleware.RateLimit(rateLimitCfg))

	patient.NewHandler(svcs.patients).RegisterRoutes(apiV1)
	labs.NewHandler(svcs.labs).RegisterRoutes(apiV1)
	calculator.NewHandler(svcs.calculator).RegisterRoutes(apiV1)
	if pool != nil {
		reporting.NewHandler(pool, svcs.targets).RegisterRoutes(apiV1)
	}

	openapi.NewGenerator("Hemodialysis Records API", version, e.Routes).RegisterRoutes(e)

	return e
}

func runServer() error {
	cfg, err := loadConfig(true)
	if err != nil {
		return err
	}
	logger := newLogger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := openPool(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	store, err := loadTargets(cfg)
	if err != nil {
		return err
	}
	if cfg.TargetsFile != "" {
		go func() {
			if err := targets.Watch(ctx, cfg.TargetsFile, store, logger); err != nil {
				logger.Error().Err(err).Str("file", cfg.TargetsFile).Msg("targets watcher stopped")
			}
		}()
	}

	svcs := newServices(cfg, pool, store, logger)
	e := newServer(cfg, logger, pool, svcs)

	errCh := make(chan error, 2)
	if cfg.MLLPAddr != "" {
		mllp := hl7v2.NewServer(cfg.MLLPAddr, svcs.labs.HandleHL7, logger)
		go func() {
			if err := mllp.Serve(ctx); err != nil {
				errCh <- err
			}
		}()
	}
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Bool("tls", cfg.TLSEnabled).
			Str("map_strategy", string(cfg.MAP())).Str("ktv_model", string(cfg.KtV())).
			Msg("starting server")
		var err error
		if cfg.TLSEnabled {
			err = e.StartTLS(addr, cfg.TLSCertFile, cfg.TLSKeyFile)
		} else {
			err = e.Start(addr)
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
	}

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	logger.Info().Msg("server stopped")
	return nil
}
