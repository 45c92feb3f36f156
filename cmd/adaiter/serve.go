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

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/copyleftdev/adaiter/internal/config"
	"github.com/copyleftdev/adaiter/internal/logging"
	"github.com/copyleftdev/adaiter/internal/metrics"
	"github.com/copyleftdev/adaiter/internal/optimization/adaptive"
	"github.com/copyleftdev/adaiter/internal/server"
	"github.com/copyleftdev/adaiter/internal/session"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the session server",
	Long: `Serve hosts one controller per training run behind a REST and JSON-RPC API,
and exposes Prometheus metrics on /metrics.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("load configuration: %w", err)
		}
		if cmd.Flags().Changed("port") {
			cfg.HTTP.Port = servePort
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return serve(ctx, cfg)
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 8080, "HTTP listen port (overrides HTTP_PORT)")
}

func serve(ctx context.Context, cfg *config.Config) error {
	logger, err := logging.NewLogger(&logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})
	if err != nil {
		return fmt.Errorf("initialize logger: %w", err)
	}

	serviceLogger := logger.WithFields(map[string]interface{}{
		"service": "adaiter",
		"version": version,
	})
	zapLogger := logging.NewZapLogger(serviceLogger).Named("controller")

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector, err := metrics.NewCollector(reg)
	if err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}

	sessions := session.NewRegistry(
		session.WithCapacity(cfg.Sessions.Max),
		session.WithObserver(collector),
		session.WithNotifierFactory(func(id string) adaptive.Notifier {
			return adaptive.NewZapNotifier(zapLogger.With(zap.String("session_id", id)))
		}),
	)
	srv := server.NewServer(cfg, serviceLogger, sessions)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(logging.Middleware(serviceLogger))
	r.Use(server.RecoveryMiddleware(serviceLogger))
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv.RegisterRoutes(r)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:      r,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		serviceLogger.Info("Starting server", map[string]interface{}{"address": httpServer.Addr})
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		serviceLogger.Info("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			serviceLogger.Error("Server forced to shutdown", map[string]interface{}{"error": err.Error()})
			return err
		}
		return nil
	})

	err = g.Wait()
	if cerr := srv.Close(); cerr != nil {
		serviceLogger.Error("error closing server resources", map[string]interface{}{"error": cerr.Error()})
	}
	_ = zapLogger.Sync()
	if err != nil {
		return err
	}
	serviceLogger.Info("server exited properly")
	return nil
}
