package cmd

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/ftmatch/authgate/api"
	"github.com/ftmatch/authgate/config"
	"github.com/ftmatch/authgate/internal/util"
)

const sweepInterval = time.Minute

var (
	port    int
	dataDir string
	tlsCert string
	tlsKey  string
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the login gateway",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		applyServerFlags(cmd, &cfg)
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}

		logger := newLogger(cfg)
		slog.SetDefault(logger)

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		rt, err := newStack(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer rt.Close()

		handler, err := newHandler(cfg, rt, logger, prometheus.NewRegistry())
		if err != nil {
			return err
		}
		defer handler.Close()

		tlsConfig, err := serverTLSConfig(cfg, logger)
		if err != nil {
			return err
		}

		server := &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Port),
			Handler:           handler,
			TLSConfig:         tlsConfig,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
		}

		done := make(chan error, 1)
		go func() {
			var err error
			if tlsConfig != nil {
				err = server.ListenAndServeTLS("", "")
			} else {
				err = server.ListenAndServe()
			}
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				done <- fmt.Errorf("server failed: %w", err)
				return
			}
			done <- nil
		}()

		printBanner(cmd.OutOrStdout())
		logger.Info("server started",
			"port", cfg.Port,
			"storage", cfg.Storage,
			"sessions", cfg.SessionStore,
			"tls", tlsConfig != nil,
		)

		select {
		case <-ctx.Done():
			logger.Info("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("server shutdown failed: %w", err)
			}
			return nil
		case err := <-done:
			return err
		}
	},
}

func init() {
	rootCmd.AddCommand(serverCmd)
	serverCmd.Flags().IntVarP(&port, "port", "p", 8443, "Port to listen on")
	serverCmd.Flags().StringVar(&dataDir, "data-dir", "./data", "Directory for the bbolt database")
	serverCmd.Flags().StringVar(&tlsCert, "tls-cert", "", "Path to TLS certificate file")
	serverCmd.Flags().StringVar(&tlsKey, "tls-key", "", "Path to TLS key file")
}

// applyServerFlags lets explicitly set flags win over the environment.
func applyServerFlags(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("port") {
		cfg.Port = port
	}
	if flags.Changed("data-dir") {
		cfg.DataDir = dataDir
	}
	if flags.Changed("tls-cert") {
		cfg.TLSCert = tlsCert
	}
	if flags.Changed("tls-key") {
		cfg.TLSKey = tlsKey
	}
}

// serverHandler is the root HTTP handler plus the background work tied to
// its lifetime.
type serverHandler struct {
	http.Handler
	stop chan struct{}
	done chan struct{}
	hook *api.AlertWebhook
}

// Close stops the background sweeps and drains pending alerts.
func (h *serverHandler) Close() {
	close(h.stop)
	<-h.done
	if h.hook != nil {
		h.hook.Close()
	}
}

func newHandler(cfg config.Config, rt *stack, logger *slog.Logger, reg *prometheus.Registry) (*serverHandler, error) {
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	opts := []api.Option{
		api.WithLogger(logger),
		api.WithMatchProvider(rt.matches),
		api.WithMetrics(api.NewMetrics(reg)),
		api.WithLoginMaxFailures(cfg.LoginMaxFailures),
	}
	proxies, err := api.WithTrustedProxies(cfg.TrustedProxies)
	if err != nil {
		return nil, err
	}
	opts = append(opts, proxies)

	h := &serverHandler{stop: make(chan struct{}), done: make(chan struct{})}
	if cfg.AlertWebhookURL != "" {
		h.hook = api.NewAlertWebhook(cfg.AlertWebhookURL, cfg.AlertWebhookHeader, logger)
		opts = append(opts, api.WithAlertFunc(h.hook.Notify))
	}

	a := api.New(api.Services{
		Keys:      rt.keys,
		Verifier:  rt.verifier,
		Sessions:  rt.issuer,
		Passwords: rt.rotator,
	}, opts...)

	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("OK"))
	})
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	r.Mount("/api/v1", a.Router())
	h.Handler = r

	go func() {
		defer close(h.done)
		ticker := time.NewTicker(sweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-h.stop:
				return
			case <-ticker.C:
				a.Sweep()
				rt.Sweep()
			}
		}
	}()
	return h, nil
}

// serverTLSConfig returns nil when TLS is disabled (e.g. behind a
// terminating proxy).
func serverTLSConfig(cfg config.Config, logger *slog.Logger) (*tls.Config, error) {
	if cfg.TLSDisabled {
		logger.Warn("TLS disabled; serving plain HTTP")
		return nil, nil
	}
	var cert tls.Certificate
	var err error
	if cfg.TLSCert != "" && cfg.TLSKey != "" {
		cert, err = tls.LoadX509KeyPair(cfg.TLSCert, cfg.TLSKey)
		if err != nil {
			return nil, fmt.Errorf("failed to load TLS key pair: %w", err)
		}
	} else {
		cert, err = util.GenerateSelfSignedCert()
		if err != nil {
			return nil, fmt.Errorf("failed to generate self-signed certificate: %w", err)
		}
		logger.Warn("using self-signed runtime generated certificate for TLS")
	}
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}, nil
}
