package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/carelink/carelink/internal/config"
	"github.com/carelink/carelink/internal/domain/beds"
	"github.com/carelink/carelink/internal/domain/calls"
	"github.com/carelink/carelink/internal/domain/clinic"
	"github.com/carelink/carelink/internal/domain/emergency"
	"github.com/carelink/carelink/internal/domain/hospital"
	"github.com/carelink/carelink/internal/domain/messaging"
	"github.com/carelink/carelink/internal/domain/notification"
	"github.com/carelink/carelink/internal/domain/queue"
	"github.com/carelink/carelink/internal/domain/users"
	"github.com/carelink/carelink/internal/domain/wellness"
	"github.com/carelink/carelink/internal/platform/ai"
	"github.com/carelink/carelink/internal/platform/auth"
	"github.com/carelink/carelink/internal/platform/blobstore"
	"github.com/carelink/carelink/internal/platform/db"
	"github.com/carelink/carelink/internal/platform/middleware"
	notify "github.com/carelink/carelink/internal/platform/notification"
	"github.com/carelink/carelink/internal/platform/places"
	"github.com/carelink/carelink/internal/platform/reporting"
	"github.com/carelink/carelink/internal/platform/scheduler"
	"github.com/carelink/carelink/internal/platform/telemetry"
	"github.com/carelink/carelink/internal/platform/websocket"
)

const version = "0.1.0"

func main() {
	rootCmd := &cobra.Command{
		Use:   "carelink-server",
		Short: "CareLink telehealth API server",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(seedCmd())
	rootCmd.AddCommand(importCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
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

// openPool loads config and connects; the caller closes the pool.
func openPool(ctx context.Context) (*config.Config, *pgxpool.Pool, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		return nil, nil, err
	}
	return cfg, pool, nil
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")
			ctx := context.Background()
			cfg, pool, err := openPool(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()
			if dir == "" {
				dir = cfg.MigrationsDir
			}

			count, err := db.NewMigrator(pool, dir).Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Printf("Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("dir", "", "Path to migrations directory (default MIGRATIONS_DIR)")
	cmd.AddCommand(upCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")
			ctx := context.Background()
			cfg, pool, err := openPool(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()
			if dir == "" {
				dir = cfg.MigrationsDir
			}

			statuses, err := db.NewMigrator(pool, dir).Status(ctx)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}
			printMigrationStatus(os.Stdout, statuses)
			return nil
		},
	}
	statusCmd.Flags().String("dir", "", "Path to migrations directory (default MIGRATIONS_DIR)")
	cmd.AddCommand(statusCmd)

	return cmd
}

func printMigrationStatus(w io.Writer, statuses []db.MigrationStatus) {
	fmt.Fprintf(w, "%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
	fmt.Fprintln(w, "---------- ---------------------------------------- ---------- --------------------")
	for _, s := range statuses {
		status := "pending"
		appliedAt := ""
		if s.Applied {
			status = "applied"
			if s.AppliedAt != nil {
				appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
			}
		}
		fmt.Fprintf(w, "%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
	}
}

// newLogger writes JSON to stdout (console output in development) and, when
// LOG_FILE is set, also to a size-rotated file.
func newLogger(cfg *config.Config) zerolog.Logger {
	var out io.Writer = os.Stdout
	if cfg.IsDev() {
		out = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	}
	if cfg.LogFile != "" {
		out = zerolog.MultiLevelWriter(out, &lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    cfg.LogMaxSizeMB,
			MaxBackups: cfg.LogMaxBackups,
			MaxAge:     cfg.LogMaxAgeDays,
			Compress:   true,
		})
	}
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	return zerolog.New(out).Level(level).With().Timestamp().Str("service", "carelink").Logger()
}

func newBlobStore(cfg *config.Config) (blobstore.BlobStore, error) {
	switch cfg.UploadBackend {
	case "cloudinary":
		return blobstore.NewCloudinaryStore(blobstore.CloudinaryConfig{
			CloudName:    cfg.CloudinaryCloudName,
			UploadPreset: cfg.CloudinaryUploadPreset,
		}), nil
	case "minio":
		return blobstore.NewMinioStore(blobstore.MinioConfig{
			Endpoint:   cfg.MinioEndpoint,
			AccessKey:  cfg.MinioAccessKey,
			SecretKey:  cfg.MinioSecretKey,
			Bucket:     cfg.MinioBucket,
			UseSSL:     cfg.MinioUseSSL,
			PublicBase: cfg.MinioPublicBase,
		})
	default:
		return blobstore.NewMemoryStore("http://localhost:" + cfg.Port + "/uploads"), nil
	}
}

func runServer() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	logger := newLogger(cfg)

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	// Database
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")
	tx := db.Transactor(pool)

	// Telemetry
	tp := telemetry.NewTelemetryProvider(telemetry.TelemetryConfig{
		Namespace:      "carelink",
		ServiceVersion: version,
		Environment:    cfg.Env,
	})

	// Redis is optional: it shares realtime events and idempotency keys
	// between instances.
	var rdb *redis.Client
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("REDIS_URL: %w", err)
		}
		rdb = redis.NewClient(opts)
		defer rdb.Close()
	}

	// Realtime hub
	hub := websocket.NewHub().WithAuthorizer(websocket.RoleAuthorizer).WithLogger(logger)
	hub.OnClientCount = tp.SetWebSocketClients
	if rdb != nil {
		hub.WithRelay(websocket.NewRedisRelay(rdb, logger))
		if err := hub.StartRelay(ctx); err != nil {
			return fmt.Errorf("start redis relay: %w", err)
		}
		logger.Info().Msg("redis relay started")
	}
	defer hub.Close()

	// Adapters
	placesClient := places.NewClient(places.Config{
		APIKey:   cfg.PlacesAPIKey,
		BaseURL:  cfg.PlacesBaseURL,
		CacheTTL: cfg.PlacesCacheTTL,
	})
	placesClient.Observe = tp.UpstreamRequest
	assistant := ai.NewAssistant(ai.Config{
		APIKey:  cfg.GeminiAPIKey,
		BaseURL: cfg.GeminiBaseURL,
		Model:   cfg.GeminiModel,
	})
	assistant.Observe = tp.UpstreamRequest
	store, err := newBlobStore(cfg)
	if err != nil {
		return fmt.Errorf("upload backend: %w", err)
	}

	// Domain services
	userSvc := users.NewService(users.NewUserRepoPG(pool))
	hospitalSvc := hospital.NewService(hospital.NewHospitalRepoPG(pool), cfg.DispatchRadiusKm)

	notifSvc := notification.NewService(notification.NewNotificationRepoPG(pool), notify.NewTemplateEngine(), hub, hospitalSvc, logger)
	notifSvc.OnDelivery = tp.NotificationDelivered

	alertSvc := emergency.NewService(emergency.NewAlertRepoPG(pool), hospitalSvc, notifSvc, hub, tx, emergency.Config{
		RadiusKm:       cfg.DispatchRadiusKm,
		TopN:           cfg.DispatchTopN,
		EmergencyPhone: cfg.EmergencyPhone,
	}, logger).WithGeocoder(placesClient)
	alertSvc.OnTriggered = tp.AlertTriggered
	alertSvc.OnTransition = tp.AlertTransitioned
	alertSvc.OnDispatch = tp.DispatchCompleted

	callSvc := calls.NewService(calls.NewCallRepoPG(pool), userSvc, notifSvc, hub, logger)
	callSvc.OnEnded = tp.CallEnded

	bedSvc := beds.NewService(beds.NewBedRepoPG(pool), beds.NewBookingRepoPG(pool), hospitalSvc, notifSvc, tx, logger)

	queueLoc, err := time.LoadLocation(cfg.QueueTimezone)
	if err != nil {
		return fmt.Errorf("QUEUE_TIMEZONE: %w", err)
	}
	queueSvc := queue.NewService(queue.NewQueueRepoPG(pool), hospitalSvc, notifSvc, hub, tx, queueLoc, logger)

	clinicSvc := clinic.NewService(
		clinic.NewAppointmentRepoPG(pool),
		clinic.NewPrescriptionRepoPG(pool),
		clinic.NewStaffRepoPG(pool),
		userSvc, hospitalSvc, notifSvc, tx, logger,
	)
	messageSvc := messaging.NewService(messaging.NewMessageRepoPG(pool), userSvc, hub, logger)
	moodSvc := wellness.NewService(wellness.NewMoodRepoPG(pool))
	reportSvc := reporting.NewService(reporting.NewPGSource(pool))

	// Echo server
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(tp.MetricsMiddleware())
	e.Use(middleware.SecurityHeaders(cfg.TLSEnabled))
	e.Use(middleware.Sanitize(logger))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID", "Idempotency-Key", "X-Idempotency-Key"},
	}))

	revocations := auth.NewTokenRevocationStore()
	if cfg.ResolvedAuthMode() == "development" {
		logger.Warn().Msg("development auth enabled: identities come from X-User-* headers")
		e.Use(auth.DevAuthMiddleware(auth.AuthSkipper))
	} else {
		e.Use(auth.JWTMiddleware(auth.JWTConfig{
			Issuer:      cfg.AuthIssuer,
			Audience:    cfg.AuthAudience,
			JWKSURL:     cfg.AuthJWKSURL,
			Skipper:     auth.AuthSkipper,
			Revocations: revocations,
		}))
	}

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": version,
		})
	})
	e.GET("/health/db", db.HealthHandler(pool))
	e.GET("/metrics", tp.PrometheusHandler())
	websocket.NewWebSocketHandler(hub, cfg.CORSOrigins).RegisterRoutes(e.Group(""))

	apiV1 := e.Group("/api/v1")
	rateLimitCfg := middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}
	if rateLimitCfg.RequestsPerSecond <= 0 {
		rateLimitCfg = middleware.DefaultRateLimitConfig()
	}
	rateLimitCfg.OnReject = func(echo.Context) { tp.RateLimited() }
	apiV1.Use(middleware.RateLimit(rateLimitCfg))
	apiV1.Use(middleware.RequestTimeout(30 * time.Second))
	apiV1.Use(middleware.BodyLimit("1M", "10M"))

	var idemStore middleware.IdempotencyStore = middleware.NewMemoryIdempotencyStore(cfg.IdempotencyCacheSize, cfg.IdempotencyTTL)
	if rdb != nil {
		idemStore = middleware.NewRedisIdempotencyStore(rdb, cfg.IdempotencyTTL)
	}
	apiV1.Use(middleware.Idempotency(middleware.IdempotencyConfig{
		Store:    idemStore,
		OnReplay: func(echo.Context) { tp.IdempotentReplay() },
	}))
	apiV1.Use(middleware.Audit(logger, "/api/v1", middleware.AuditRecorderFunc(func(entry middleware.AuditEntry) error {
		tp.RecordAccess(entry.Resource, entry.Action)
		return nil
	})))

	auth.RegisterRevocationRoutes(apiV1, revocations)

	users.NewHandler(userSvc).RegisterRoutes(apiV1)
	hospital.NewHandler(hospitalSvc, cfg.EmergencyPhone).RegisterRoutes(apiV1)
	emergency.NewHandler(alertSvc).RegisterRoutes(apiV1)
	notification.NewHandler(notifSvc).RegisterRoutes(apiV1)
	calls.NewHandler(callSvc).RegisterRoutes(apiV1)
	beds.NewHandler(bedSvc).RegisterRoutes(apiV1)
	queue.NewHandler(queueSvc).RegisterRoutes(apiV1)
	clinic.NewHandler(clinicSvc).RegisterRoutes(apiV1)
	messaging.NewHandler(messageSvc).RegisterRoutes(apiV1)
	wellness.NewHandler(moodSvc).RegisterRoutes(apiV1)
	ai.NewHandler(assistant).RegisterRoutes(apiV1)
	places.NewHandler(placesClient).RegisterRoutes(apiV1)
	blobstore.NewHandler(store, logger).RegisterRoutes(apiV1)
	reporting.NewHandler(reportSvc).RegisterRoutes(apiV1)

	// Background jobs
	sched := scheduler.New(time.UTC, logger)
	sched.OnRun = tp.JobRun
	if err := registerJobs(sched, jobDeps{
		calls:         callSvc,
		notifications: notifSvc,
		alerts:        alertSvc,
		ringTimeout:   cfg.CallRingTimeout,
		poolStats: func() {
			st := db.GetPoolStats(pool)
			hm := tp.HealthMetrics()
			hm.SetDBPoolActive(int64(st.AcquiredConns))
			hm.SetDBPoolIdle(int64(st.IdleConns))
			hm.SetDBPoolTotal(int64(st.TotalConns))
		},
	}); err != nil {
		return err
	}
	sched.Start()
	defer sched.Stop()

	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("auth_mode", cfg.ResolvedAuthMode()).Msg("starting server")
		var err error
		if cfg.TLSEnabled {
			err = e.StartTLS(addr, cfg.TLSCertFile, cfg.TLSKeyFile)
		} else {
			err = e.Start(addr)
		}
		if err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
	}
	stop()
	logger.Info().Msg("server stopped")
	return nil
}

type callSweeper interface {
	SweepMissed(ctx context.Context, timeout time.Duration) (int, error)
}

type notificationRetrier interface {
	Retry(ctx context.Context) (int, error)
}

type staleAlertWarner interface {
	WarnStale(ctx context.Context) (int, error)
}

type jobDeps struct {
	calls         callSweeper
	notifications notificationRetrier
	alerts        staleAlertWarner
	ringTimeout   time.Duration
	poolStats     func()
}

type job struct {
	name    string
	spec    string
	timeout time.Duration
	fn      scheduler.JobFunc
}

// registerJobs installs the periodic maintenance jobs.
func registerJobs(s *scheduler.Scheduler, d jobDeps) error {
	if d.ringTimeout <= 0 {
		d.ringTimeout = 45 * time.Second
	}
	jobs := []job{
		{"missed-calls", "@every 15s", 10 * time.Second, func(ctx context.Context) error {
			_, err := d.calls.SweepMissed(ctx, d.ringTimeout)
			return err
		}},
		{"notification-retry", "@every 1m", 45 * time.Second, func(ctx context.Context) error {
			_, err := d.notifications.Retry(ctx)
			return err
		}},
		{"stale-alerts", "@every 5m", time.Minute, func(ctx context.Context) error {
			_, err := d.alerts.WarnStale(ctx)
			return err
		}},
	}
	if d.poolStats != nil {
		jobs = append(jobs, job{"db-pool-stats", "@every 30s", 5 * time.Second, func(context.Context) error {
			d.poolStats()
			return nil
		}})
	}
	for _, j := range jobs {
		if err := s.Register(j.name, j.spec, j.timeout, j.fn); err != nil {
			return fmt.Errorf("register job %s: %w", j.name, err)
		}
	}
	return nil
}
