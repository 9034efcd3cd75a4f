package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ekaya-inc/ekaya-recorder/pkg/config"
	"github.com/ekaya-inc/ekaya-recorder/pkg/database"
	"github.com/ekaya-inc/ekaya-recorder/pkg/device"
	"github.com/ekaya-inc/ekaya-recorder/pkg/handlers"
	"github.com/ekaya-inc/ekaya-recorder/pkg/logging"
	"github.com/ekaya-inc/ekaya-recorder/pkg/mcp"
	"github.com/ekaya-inc/ekaya-recorder/pkg/mcp/tools"
	"github.com/ekaya-inc/ekaya-recorder/pkg/middleware"
	"github.com/ekaya-inc/ekaya-recorder/pkg/models"
	"github.com/ekaya-inc/ekaya-recorder/pkg/ocr"
	"github.com/ekaya-inc/ekaya-recorder/pkg/repositories"
	"github.com/ekaya-inc/ekaya-recorder/pkg/services"
	"github.com/ekaya-inc/ekaya-recorder/pkg/status"
	"github.com/ekaya-inc/ekaya-recorder/pkg/transform"
	"github.com/ekaya-inc/ekaya-recorder/pkg/upload"
)

// Version is set at build time via ldflags
var Version = "dev"

const shutdownTimeout = 30 * time.Second

func main() {
	cfg, err := config.Load(Version)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.NewLogger(cfg.Env, cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("Recorder stopped with error", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("Configuration loaded",
		zap.String("version", cfg.Version),
		zap.String("environment", cfg.Env),
		zap.String("db_driver", cfg.Database.Driver),
		zap.String("files_dir", cfg.FilesDir),
		zap.String("ocr_engine", cfg.OCR.Engine),
		zap.Bool("upload_enabled", cfg.Upload.BrokerURL != ""),
		zap.Bool("mcp_enabled", cfg.MCP.Enabled))

	loc, err := cfg.Location()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(cfg.FilesDir, 0o755); err != nil {
		return fmt.Errorf("failed to create files dir: %w", err)
	}

	// Database
	db, err := database.Open(ctx, &cfg.Database, logger)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := database.RunMigrations(db, logger); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	// Repositories
	screenshotRepo := repositories.NewScreenshotRepository(db)
	sessionRepo := repositories.NewSessionRepository(db)
	segmentRepo := repositories.NewAppSegmentRepository(db)
	eventRepo := repositories.NewAccessibilityEventRepository(db)
	manifestRepo := repositories.NewZipManifestRepository(db)
	logRepo := repositories.NewLogRepository(db)
	userRepo := repositories.NewUserRepository(db)
	settingsRepo := repositories.NewSettingsRepository(db)
	restrictedRepo := repositories.NewRestrictedAppRepository(db)
	statsRepo := repositories.NewUploadStatsRepository(db)

	if err := settingsRepo.SaveDefaults(ctx, &models.Settings{FPS: cfg.Capture.FPS}); err != nil {
		return fmt.Errorf("failed to seed settings: %w", err)
	}
	if cfg.RestrictedAppsFile != "" {
		apps, err := config.LoadRestrictedApps(cfg.RestrictedAppsFile)
		if err != nil {
			return err
		}
		added, err := restrictedRepo.Seed(ctx, apps)
		if err != nil {
			return err
		}
		logger.Info("Restricted apps seeded", zap.Int("added", added), zap.Int("listed", len(apps)))
	}

	// Status and the optional Redis mirror
	state := status.NewState()
	mirror, closeRedis, err := newStatusMirror(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeRedis()

	// Device boundary
	bridge := device.NewBridge()
	spoolDir := cfg.Device.SpoolDir
	if spoolDir == "" {
		spoolDir = filepath.Join(cfg.FilesDir, "spool")
	}
	frames, err := device.NewSpoolFrameSource(spoolDir, logger)
	if err != nil {
		return fmt.Errorf("failed to open frame spool: %w", err)
	}
	defer frames.Close()

	connectivity := device.NewHostConnectivity(cfg.ProbeAddr(), cfg.Device.ProbeTimeout)
	power := device.SysfsPowerSource{Dir: cfg.Device.PowerSupplyDir}

	// OCR engine and upload transport
	engine, err := ocr.New(&cfg.OCR, logger)
	if err != nil {
		return fmt.Errorf("failed to create OCR engine: %w", err)
	}
	defer engine.Shutdown()

	var transport upload.Transport = upload.DisabledTransport{}
	if cfg.Upload.BrokerURL != "" {
		transport = upload.NewHTTPTransport(cfg.Upload.BrokerURL, cfg.Upload.BrokerToken, cfg.Upload.Timeout, logger)
	} else {
		logger.Warn("No upload broker configured, archives will stay on disk")
	}

	// Services
	tracker := services.NewSessionTracker(sessionRepo, userRepo, settingsRepo, cfg.Capture.SessionRotateCaptures, loc, logger)
	captureSvc := services.NewCaptureService(services.CaptureDeps{
		Screenshots: screenshotRepo,
		Restricted:  restrictedRepo,
		Logs:        logRepo,
		Users:       userRepo,
		Settings:    settingsRepo,
		Device:      bridge,
		Frames:      frames,
		Storage:     device.HostStorageProbe{Path: cfg.FilesDir},
		Tracker:     tracker,
		State:       state,
	}, cfg.Capture, cfg.FilesDir, loc, logger)
	segmentSvc := services.NewSegmentService(db, screenshotRepo, segmentRepo, tracker, transform.SegmentOptions{
		MinDuration:         cfg.Segment.MinDurationMs,
		TrailingMinDuration: cfg.Segment.TrailingMinDurationMs,
	}, logger)
	ocrSvc := services.NewOcrService(screenshotRepo, userRepo, logRepo, engine, state, cfg.OCR, logger)
	duplicates := status.NewDuplicateTracker()
	zipSvc := services.NewZipService(services.ZipDeps{
		DB:          db,
		Screenshots: screenshotRepo,
		Sessions:    sessionRepo,
		Segments:    segmentRepo,
		Events:      eventRepo,
		Manifests:   manifestRepo,
		Logs:        logRepo,
		Users:       userRepo,
		SegmentSvc:  segmentSvc,
		Duplicates:  duplicates,
		State:       state,
	}, cfg.Zip, cfg.FilesDir, loc, logger)
	uploadSvc := services.NewUploadService(services.UploadDeps{
		Manifests:    manifestRepo,
		Users:        userRepo,
		Settings:     settingsRepo,
		Logs:         logRepo,
		Stats:        statsRepo,
		Transport:    transport,
		Connectivity: connectivity,
		Power:        power,
		State:        state,
	}, cfg.Upload, cfg.FilesDir, loc, logger)

	scheduler := services.NewPipelineScheduler(services.SchedulerDeps{
		DB:           db,
		Capture:      captureSvc,
		Tracker:      tracker,
		Segments:     segmentSvc,
		Ocr:          ocrSvc,
		Zip:          zipSvc,
		Upload:       uploadSvc,
		Screenshots:  screenshotRepo,
		Sessions:     sessionRepo,
		AppSegments:  segmentRepo,
		Events:       eventRepo,
		Manifests:    manifestRepo,
		Logs:         logRepo,
		Users:        userRepo,
		Stats:        statsRepo,
		Connectivity: connectivity,
		Power:        power,
		Duplicates:   duplicates,
		State:        state,
		Mirror:       mirror,
	}, cfg.Schedule, cfg.Zip.PageSize, cfg.FilesDir, logger)

	// HTTP
	mux := http.NewServeMux()
	handlers.NewHealthHandler(cfg, state, logger).RegisterRoutes(mux)
	handlers.NewDeviceHandler(bridge, scheduler, eventRepo, userRepo, logger).RegisterRoutes(mux)
	handlers.NewPipelineHandler(state, scheduler, captureSvc, screenshotRepo, manifestRepo, userRepo, statsRepo, loc, logger).
		RegisterRoutes(mux)
	handlers.NewSettingsHandler(userRepo, settingsRepo, restrictedRepo, logRepo, captureSvc, logger).RegisterRoutes(mux)

	var audit *mcp.AuditLogger
	if cfg.MCP.Enabled {
		audit = mcp.NewAuditLogger(logRepo, userRepo, logger)
		mcpServer := mcp.NewServer("ekaya-recorder", cfg.Version, logger, server.WithHooks(audit.Hooks()))
		tools.RegisterHealthTool(mcpServer.MCP(), cfg.Version, state)
		tools.RegisterPipelineTools(mcpServer.MCP(), &tools.PipelineToolDeps{
			State:           state,
			Segments:        segmentSvc,
			Ocr:             ocrSvc,
			Zip:             zipSvc,
			Upload:          uploadSvc,
			Screenshots:     screenshotRepo,
			Manifests:       manifestRepo,
			DefaultPageSize: cfg.Zip.PageSize,
			Logger:          logger,
		})
		handlers.NewMCPHandler(mcpServer, logger, cfg.MCP).RegisterRoutes(mux)
	}

	handler := middleware.Recoverer(logger)(middleware.RequestLogger(logger)(mux))
	srv := &http.Server{
		Addr:              net.JoinHostPort(cfg.BindAddr, cfg.Port),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return scheduler.Run(gctx)
	})
	g.Go(func() error {
		logger.Info("Starting ekaya-recorder",
			zap.String("addr", srv.Addr),
			zap.String("version", cfg.Version))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		err := srv.Shutdown(shutdownCtx)
		captureSvc.Stop()
		if werr := scheduler.Wait(shutdownCtx); werr != nil {
			logger.Warn("Pipeline passes did not finish before shutdown", zap.Error(werr))
		}
		if audit != nil {
			audit.Wait()
		}
		return err
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("Recorder stopped")
	return nil
}

// newStatusMirror connects the Redis status mirror when Redis is configured.
// The returned close func is always safe to call.
func newStatusMirror(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*status.RedisMirror, func(), error) {
	ttl := 2 * cfg.Schedule.StatusInterval
	client, err := database.NewRedisClient(ctx, &cfg.Redis)
	if err != nil {
		return nil, nil, err
	}
	if client == nil {
		return status.NewRedisMirror(nil, cfg.Redis.Channel, ttl, logger), func() {}, nil
	}
	logger.Info("Publishing status to Redis",
		zap.String("addr", cfg.Redis.Addr()),
		zap.String("channel", cfg.Redis.Channel))
	return status.NewRedisMirror(client, cfg.Redis.Channel, ttl, logger), func() { _ = client.Close() }, nil
}
