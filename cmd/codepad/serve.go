package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/michaelbrown/codepad/internal/metrics"
	"github.com/michaelbrown/codepad/internal/server"
	"github.com/michaelbrown/codepad/internal/storage/sqlite"
)

var portFlag int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the codepad web server",
	Long: `Start the codepad HTTP server with REST API and WebSocket support.

The playground is available at the root URL. API endpoints are under /api,
rendered previews under /preview and Prometheus metrics at /metrics.

Examples:
  codepad serve
  codepad serve --port 9090`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().IntVar(&portFlag, "port", 0, "Port to listen on (overrides config)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	previews, err := openPreviewStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("opening preview store: %w", err)
	}
	defer previews.Close()

	store, err := sqlite.Open(cfg.Storage.DBPath)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer store.Close()

	rt, err := newRuntime(cfg, log, previews, metrics.New(prometheus.DefaultRegisterer))
	if err != nil {
		return err
	}

	if cfg.Languages.File != "" && cfg.Languages.Watch {
		if err := rt.langs.Watch(ctx, cfg.Languages.File, log); err != nil {
			return err
		}
	}

	port := cfg.Server.Port
	if portFlag > 0 {
		port = portFlag
	}

	srv := server.New(server.Deps{
		Config:     cfg,
		Logger:     log,
		Languages:  rt.langs,
		Dispatcher: rt.dispatcher,
		Previews:   previews,
		Store:      store,
	})

	go func() {
		<-ctx.Done()
		srv.Shutdown(context.Background())
	}()

	log.Info("judge0 executor", zap.String("base_url", cfg.Judge0.BaseURL),
		zap.Bool("api_key_set", cfg.Judge0.APIKey != ""))
	return srv.Start(port)
}
