package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MeKo-Tech/epipolar/internal/config"
	"github.com/MeKo-Tech/epipolar/internal/server"
	"github.com/MeKo-Tech/epipolar/internal/version"
	"github.com/spf13/cobra"
)

// serveCmd represents the serve command.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start HTTP server for the estimation API",
	Long: `Start an HTTP server that estimates fundamental matrices on request.

The server provides the following endpoints:
  POST /v1/fundamental - Estimate F from a JSON list of correspondences
  GET  /ws/fundamental - WebSocket variant, one request per message
  GET  /health         - Health check endpoint
  GET  /metrics        - Prometheus metrics

Examples:
  epipolar serve
  epipolar serve --port 8080
  epipolar serve --host 0.0.0.0 --port 3000 --rate-limit-enabled`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := GetConfig()

		serverConfig, shutdownTimeout := serverConfigFromFlags(cmd, cfg)

		if serverConfig.Port < 1 || serverConfig.Port > 65535 {
			return fmt.Errorf("invalid port number: %d (must be between 1 and 65535)", serverConfig.Port)
		}

		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()

		estServer, err := server.NewServer(serverConfig)
		if err != nil {
			return fmt.Errorf("failed to initialize server: %w", err)
		}

		mux := http.NewServeMux()
		estServer.SetupRoutes(mux)

		timeout := time.Duration(serverConfig.TimeoutSec) * time.Second
		httpServer := &http.Server{
			Addr:              fmt.Sprintf("%s:%d", serverConfig.Host, serverConfig.Port),
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       timeout,
			// Leave room to write the timeout response itself.
			WriteTimeout: timeout + 5*time.Second,
		}

		go func() {
			slog.Info("Starting estimation server", "host", serverConfig.Host, "port", serverConfig.Port)
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("Server error", "error", err)
				cancel()
			}
		}()

		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)
		defer signal.Stop(sigChan)

		select {
		case sig := <-sigChan:
			slog.Info("Received shutdown signal", "signal", sig.String())
		case <-ctx.Done():
			slog.Info("Context cancelled, initiating shutdown")
		}

		slog.Info("Starting graceful shutdown", "timeout", fmt.Sprintf("%ds", shutdownTimeout))

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), time.Duration(shutdownTimeout)*time.Second)
		defer shutdownCancel()

		slog.Info("Shutting down HTTP server")
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("HTTP server shutdown error", "error", err)
		} else {
			slog.Info("HTTP server shutdown completed")
		}

		slog.Info("Cleaning up server resources")
		if err := estServer.Close(); err != nil {
			slog.Error("Server cleanup error", "error", err)
		}

		slog.Info("Graceful shutdown completed")
		return nil
	},
}

// serverConfigFromFlags maps the configuration and explicitly set flags to
// a server configuration. It also returns the shutdown timeout in seconds.
func serverConfigFromFlags(cmd *cobra.Command, cfg *config.Config) (server.Config, int) {
	sc := cfg.Server

	setStringWithFlag(cmd, "host", &sc.Host)
	setIntWithFlag(cmd, "port", &sc.Port)
	setStringWithFlag(cmd, "cors-origin", &sc.CORSOrigin)
	setIntWithFlag(cmd, "max-body-size", &sc.MaxBodyMB)
	setIntWithFlag(cmd, "max-iterations", &sc.MaxIterations)
	setIntWithFlag(cmd, "timeout", &sc.TimeoutSec)
	setIntWithFlag(cmd, "shutdown-timeout", &sc.ShutdownTimeout)

	setBoolWithFlag(cmd, "rate-limit-enabled", &sc.RateLimitEnabled)
	setIntWithFlag(cmd, "requests-per-minute", &sc.RequestsPerMinute)
	setIntWithFlag(cmd, "requests-per-hour", &sc.RequestsPerHour)
	setIntWithFlag(cmd, "max-requests-per-day", &sc.MaxRequestsPerDay)
	setIntWithFlag(cmd, "max-matches-per-day", &sc.MaxMatchesPerDay)

	return server.Config{
		Host:          sc.Host,
		Port:          sc.Port,
		CORSOrigin:    sc.CORSOrigin,
		MaxBodyMB:     int64(sc.MaxBodyMB),
		MaxIterations: sc.MaxIterations,
		TimeoutSec:    sc.TimeoutSec,
		Version:       version.Version,
		Estimator:     cfg.ToEstimatorConfig(),
		RateLimit: server.RateLimitConfig{
			Enabled:           sc.RateLimitEnabled,
			RequestsPerMinute: sc.RequestsPerMinute,
			RequestsPerHour:   sc.RequestsPerHour,
			MaxRequestsPerDay: sc.MaxRequestsPerDay,
			MaxMatchesPerDay:  sc.MaxMatchesPerDay,
		},
	}, sc.ShutdownTimeout
}

func init() {
	rootCmd.AddCommand(serveCmd)
	defaults := config.DefaultConfig().Server
	serveCmd.Flags().StringP("host", "H", defaults.Host, "server host")
	serveCmd.Flags().IntP("port", "p", defaults.Port, "server port")
	serveCmd.Flags().String("cors-origin", defaults.CORSOrigin, "CORS allowed origins")
	serveCmd.Flags().Int("max-body-size", defaults.MaxBodyMB, "maximum request body size in MB")
	serveCmd.Flags().Int("max-iterations", defaults.MaxIterations, "maximum RANSAC iterations a request may ask for")
	serveCmd.Flags().Int("timeout", defaults.TimeoutSec, "request timeout in seconds")
	serveCmd.Flags().Int("shutdown-timeout", defaults.ShutdownTimeout, "shutdown timeout in seconds")
	// Rate limiting flags
	serveCmd.Flags().Bool("rate-limit-enabled", defaults.RateLimitEnabled, "enable rate limiting")
	serveCmd.Flags().Int("requests-per-minute", defaults.RequestsPerMinute, "maximum requests per minute per client")
	serveCmd.Flags().Int("requests-per-hour", defaults.RequestsPerHour, "maximum requests per hour per client")
	serveCmd.Flags().Int("max-requests-per-day", defaults.MaxRequestsPerDay, "maximum requests per day per client")
	serveCmd.Flags().Int("max-matches-per-day", defaults.MaxMatchesPerDay,
		"maximum correspondences processed per day per client")
}
