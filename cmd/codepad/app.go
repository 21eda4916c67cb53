package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/michaelbrown/codepad/internal/config"
	"github.com/michaelbrown/codepad/internal/dispatch"
	"github.com/michaelbrown/codepad/internal/judge0"
	"github.com/michaelbrown/codepad/internal/language"
	"github.com/michaelbrown/codepad/internal/logger"
	"github.com/michaelbrown/codepad/internal/metrics"
	"github.com/michaelbrown/codepad/internal/preview"
	"github.com/michaelbrown/codepad/internal/storage"
	"github.com/michaelbrown/codepad/internal/storage/sqlite"
)

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configFlag)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	return logger.New(logger.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})
}

// loadLanguages returns the builtin table, merged with the configured
// language file when there is one.
func loadLanguages(cfg *config.Config) (*language.Registry, error) {
	if cfg.Languages.File == "" {
		return language.NewRegistry(language.Default()), nil
	}
	t, err := language.LoadOverlay(cfg.Languages.File)
	if err != nil {
		return nil, err
	}
	return language.NewRegistry(t), nil
}

// runtime is the set of collaborators shared by serve, run and shell.
type runtime struct {
	cfg        *config.Config
	log        *zap.Logger
	langs      *language.Registry
	client     *judge0.Client
	previews   preview.Store
	dispatcher *dispatch.Dispatcher
}

// newRuntime wires a dispatcher from cfg. previews may be nil.
func newRuntime(cfg *config.Config, log *zap.Logger, previews preview.Store, rec *metrics.Recorder) (*runtime, error) {
	langs, err := loadLanguages(cfg)
	if err != nil {
		return nil, err
	}
	client, err := judge0.NewClient(cfg.Judge0Config())
	if err != nil {
		return nil, fmt.Errorf("creating judge0 client: %w", err)
	}
	return &runtime{
		cfg:        cfg,
		log:        log,
		langs:      langs,
		client:     client,
		previews:   previews,
		dispatcher: dispatch.New(langs, client, previews, cfg.DispatchConfig(), log, rec),
	}, nil
}

// openPreviewStore returns the configured preview store.
func openPreviewStore(ctx context.Context, cfg *config.Config) (preview.Store, error) {
	if cfg.Preview.Store == "redis" {
		return preview.NewRedisStore(ctx, cfg.RedisPreviewConfig())
	}
	return preview.NewMemoryStore(cfg.Preview.TTL, cfg.Preview.MaxEntries), nil
}

func openStore() (storage.Store, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return sqlite.Open(cfg.Storage.DBPath)
}
