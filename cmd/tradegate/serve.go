package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/viant/tradegate"
	"github.com/viant/tradegate/tracing"
)

const shutdownTimeout = 10 * time.Second

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "tradegate",
		Short: "Approval and execution gating engine for automated trading",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			initViper()
		},
	}
	root.PersistentFlags().StringP("config", "c", "", "config file URL (yaml or json)")
	_ = viper.BindPFlag("config", root.PersistentFlags().Lookup("config"))
	root.AddCommand(newServeCommand())
	return root
}

func initViper() {
	viper.SetEnvPrefix("TRADEGATE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
	viper.SetDefault("listen", ":8080")
	viper.SetDefault("log.level", "info")
}

func newServeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the engine with the Telegram webhook",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context())
		},
	}
	cmd.Flags().String("listen", ":8080", "HTTP listen address")
	_ = viper.BindPFlag("listen", cmd.Flags().Lookup("listen"))
	return cmd
}

func serve(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := newLogger(viper.GetString("log.level"))
	cfg, err := loadConfig(ctx)
	if err != nil {
		return err
	}
	srv, err := tradegate.New(tradegate.WithConfig(cfg), tradegate.WithLogger(logger))
	if err != nil {
		return err
	}
	if err = srv.Start(ctx); err != nil {
		_ = srv.Shutdown(ctx)
		return err
	}

	httpServer := &http.Server{
		Addr:              viper.GetString("listen"),
		Handler:           newRouter(srv),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("http listening", "addr", httpServer.Addr)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
	case err = <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	err = errors.Join(err, httpServer.Shutdown(shutdownCtx), srv.Shutdown(shutdownCtx))
	logger.Info("tradegate stopped")
	return err
}

// loadConfig reads the config file when given and applies TRADEGATE_*
// environment overrides on top.
func loadConfig(ctx context.Context) (*tradegate.Config, error) {
	cfg := tradegate.DefaultConfig()
	if location := viper.GetString("config"); location != "" {
		loaded, err := tradegate.LoadConfig(ctx, location)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	overrideString(&cfg.Telegram.WebhookSecret, "telegram.webhook_secret")
	overrideString(&cfg.Store.Driver, "store.driver")
	overrideString(&cfg.Store.DSN, "store.dsn")
	overrideString(&cfg.Audit.Driver, "audit.driver")
	overrideString(&cfg.Audit.BaseURL, "audit.base_url")
	overrideString(&cfg.Policy.Mode, "policy.mode")
	if viper.IsSet("policy.risk_threshold") {
		cfg.Policy.Threshold = viper.GetInt("policy.risk_threshold")
	}
	if viper.IsSet("tracing.enabled") {
		cfg.Tracing.Enabled = viper.GetBool("tracing.enabled")
	}
	overrideString(&cfg.Tracing.Output, "tracing.output")
	return cfg, cfg.Validate()
}

func overrideString(target *string, key string) {
	if viper.IsSet(key) {
		*target = viper.GetString(key)
	}
}

func newLogger(level string) *slog.Logger {
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		l = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: l}))
}

func newRouter(srv *tradegate.Service) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.With(traced("telegram.webhook")).Post("/telegram/webhook", srv.TelegramHandler().ServeHTTP)
	return r
}

func traced(name string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, span := tracing.StartSpan(r.Context(), name, "SERVER")
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r.WithContext(ctx))
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			span.WithAttributes(map[string]string{"http.method": r.Method, "http.route": r.URL.Path})
			span.SetStatusFromHTTPCode(status)
			span.End()
		})
	}
}
