// Package internal provides the main application initialization and runtime logic.
package internal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/starford/notebox/internal/api"
	"github.com/starford/notebox/internal/blobstore"
	"github.com/starford/notebox/internal/dataapi"
	"github.com/starford/notebox/internal/mcpserver"
	"github.com/starford/notebox/internal/metrics"
	"github.com/starford/notebox/internal/session"
	"github.com/starford/notebox/internal/sse"
)

const (
	metricsNamespace = "notebox"
	sseHeartbeat     = 15 * time.Second
	shutdownTimeout  = 10 * time.Second
)

// backends holds the external collaborators of the session.
type backends struct {
	data  dataapi.API
	blobs blobstore.Store
	// fs is set when images live on local disk and must be served by us.
	fs      *blobstore.FS
	closers []func() error
}

func (b *backends) Close() error {
	var err error
	for i := len(b.closers) - 1; i >= 0; i-- {
		err = multierr.Append(err, b.closers[i]())
	}
	return err
}

func newApplication(opts []Option) (*application, error) {
	app := &application{logOutput: os.Stdout}
	for _, opt := range opts {
		opt(app)
	}
	if app.config == nil {
		return nil, fmt.Errorf("config is required")
	}
	return app, nil
}

func (a *application) newLogger() *slog.Logger {
	logger := slog.New(slog.NewJSONHandler(a.logOutput, &slog.HandlerOptions{
		Level: a.config.App.LogLevel,
	}))
	slog.SetDefault(logger)
	return logger
}

func (a *application) openBackends(ctx context.Context, logger *slog.Logger) (*backends, error) {
	cfg := a.config
	b := &backends{}

	switch cfg.DataAPI.Backend {
	case DataBackendGraphQL:
		b.data = dataapi.NewGraphQL(cfg.DataAPI.GraphQL.Endpoint,
			dataapi.WithAPIKey(cfg.DataAPI.GraphQL.APIKey),
			dataapi.WithHTTPClient(&http.Client{Timeout: 30 * time.Second}),
		)
		logger.Info("data api: graphql", slog.String("endpoint", cfg.DataAPI.GraphQL.Endpoint))
	default:
		db, err := dataapi.OpenSQLite(cfg.DataAPI.SQLite.Path)
		if err != nil {
			return nil, fmt.Errorf("init data api: %w", err)
		}
		b.data = db
		b.closers = append(b.closers, db.Close)
		logger.Info("data api: sqlite", slog.String("path", cfg.DataAPI.SQLite.Path))
	}

	switch cfg.Blob.Backend {
	case BlobBackendS3:
		s3cfg := cfg.Blob.S3
		store, err := blobstore.NewS3(ctx, blobstore.S3Options{
			Bucket:          s3cfg.Bucket,
			Region:          s3cfg.Region,
			Endpoint:        s3cfg.Endpoint,
			Prefix:          s3cfg.Prefix,
			URLExpiry:       s3cfg.URLExpiry,
			AccessKeyID:     s3cfg.AccessKeyID,
			SecretAccessKey: s3cfg.SecretAccessKey,
		})
		if err != nil {
			_ = b.Close()
			return nil, fmt.Errorf("init blob store: %w", err)
		}
		b.blobs = store
		logger.Info("blob store: s3", slog.String("bucket", s3cfg.Bucket), slog.String("region", s3cfg.Region))
	default:
		if err := os.MkdirAll(cfg.Blob.FS.Root, 0o755); err != nil {
			_ = b.Close()
			return nil, fmt.Errorf("create blob dir: %w", err)
		}
		baseURL := strings.TrimRight(cfg.App.PublicURL, "/") + "/blobs"
		store, err := blobstore.NewFS(cfg.Blob.FS.Root, baseURL)
		if err != nil {
			_ = b.Close()
			return nil, fmt.Errorf("init blob store: %w", err)
		}
		b.blobs = store
		b.fs = store
		logger.Info("blob store: fs", slog.String("root", store.Root()), slog.String("base_url", baseURL))
	}

	return b, nil
}

// initialRefresh loads the session once at startup. A failure leaves the
// session empty; clients can refresh later.
func initialRefresh(ctx context.Context, ctrl *session.Controller, logger *slog.Logger) {
	notes, err := ctrl.Refresh(ctx)
	if err != nil {
		logger.Warn("initial refresh failed", slog.String("error", err.Error()))
		return
	}
	logger.Info("initial refresh done", slog.Int("notes", len(notes)))
}

// Run starts the HTTP server with the given options.
func Run(ctx context.Context, opts ...Option) error {
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	cfg := app.config
	logger := app.newLogger()

	logger.Info("Configuration loaded",
		slog.String("http_address", cfg.App.HTTP.Address()),
		slog.String("public_url", cfg.App.PublicURL),
		slog.String("data_backend", cfg.DataAPI.Backend),
		slog.String("blob_backend", cfg.Blob.Backend),
		slog.String("log_level", cfg.App.LogLevel.String()))

	be, err := app.openBackends(ctx, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := be.Close(); err != nil {
			logger.Error("close backends", slog.String("error", err.Error()))
		}
	}()

	broker := sse.NewBroker(sseHeartbeat)
	defer broker.Close()

	reg := metrics.NewRegistry()
	mm := metrics.NewManager(metricsNamespace, reg)

	ctrl := session.New(be.data, be.blobs,
		session.WithLogger(logger),
		session.WithHydrationLimit(cfg.Hydration.Concurrency),
		session.WithNotifier(broker),
		session.WithRecorder(mm),
	)
	initialRefresh(ctx, ctrl, logger)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// Health check endpoints (unauthenticated).
	r.Get("/health/live", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/health/ready", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Handle("/metrics", metrics.Handler(reg))

	r.Mount("/api", api.NewRouter(ctrl, cfg.Auth.AuthEnabled(), cfg.Auth.Token, broker))
	if be.fs != nil {
		r.Mount("/blobs", api.NewBlobHandler(be.fs))
	}

	httpServer := &http.Server{
		Addr:              cfg.App.HTTP.Address(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gCtx := errgroup.WithContext(ctx)

	// Report out-of-band image changes to live clients.
	if be.fs != nil {
		g.Go(func() error {
			err := blobstore.Watch(gCtx, be.fs.Root(), logger, broker.PublishBlobChange)
			if err != nil {
				logger.Warn("blob watcher stopped", slog.String("error", err.Error()))
			}
			return nil
		})
	}

	g.Go(func() error {
		logger.Info("Starting HTTP server", slog.String("address", cfg.App.HTTP.Address()))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	// Handle shutdown signals.
	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(quit)

		select {
		case sig := <-quit:
			logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
		case <-gCtx.Done():
			logger.Info("Context cancelled, initiating shutdown")
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", slog.String("error", err.Error()))
		}
		return context.Canceled
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Server stopped successfully")
	return nil
}

// RunMCP serves the note tools over stdio. Logs go to stderr unless
// WithLogOutput says otherwise.
func RunMCP(ctx context.Context, opts ...Option) error {
	app, err := newApplication(append([]Option{WithLogOutput(os.Stderr)}, opts...))
	if err != nil {
		return err
	}
	logger := app.newLogger()

	be, err := app.openBackends(ctx, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := be.Close(); err != nil {
			logger.Error("close backends", slog.String("error", err.Error()))
		}
	}()

	ctrl := session.New(be.data, be.blobs,
		session.WithLogger(logger),
		session.WithHydrationLimit(app.config.Hydration.Concurrency),
	)
	initialRefresh(ctx, ctrl, logger)

	logger.Info("MCP server starting on stdio")
	if err := mcpserver.New(ctrl).ServeStdio(); err != nil {
		return fmt.Errorf("mcp server: %w", err)
	}
	return nil
}
