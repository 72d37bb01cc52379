package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/firebase/genkit/go/genkit"
	"github.com/firebase/genkit/go/plugins/googlegenai"

	"github.com/hoshi0/hoshi/internal/config"
	"github.com/hoshi0/hoshi/internal/conversation"
	"github.com/hoshi0/hoshi/internal/database"
	"github.com/hoshi0/hoshi/internal/drive"
	"github.com/hoshi0/hoshi/internal/fileindex"
	"github.com/hoshi0/hoshi/internal/log"
	"github.com/hoshi0/hoshi/internal/retrieval"
	"github.com/hoshi0/hoshi/internal/syncer"
)

// Setup creates and initializes the application. Call Close on the returned
// App to release resources.
func Setup(ctx context.Context, cfg *config.Config) (_ *App, retErr error) {
	if cfg == nil {
		return nil, config.ErrConfigNil
	}
	if cfg.GeminiAPIKey == "" {
		return nil, fmt.Errorf("%w: set HOSHI_GEMINI_API_KEY or GEMINI_API_KEY", config.ErrMissingAPIKey)
	}

	logger := log.New(log.Config{
		Level: log.ParseLevel(cfg.LogLevel),
		JSON:  cfg.LogJSON,
	})

	a := &App{Config: cfg, Logger: logger}

	defer func() {
		if retErr != nil {
			a.Close()
		}
	}()

	pool, err := database.Connect(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	a.Pool = pool

	g := genkit.Init(ctx, genkit.WithPlugins(&googlegenai.GoogleAI{APIKey: cfg.GeminiAPIKey}))
	if g == nil {
		return nil, errors.New("failed to initialize genkit")
	}
	a.Genkit = g

	if cfg.DriveEnabled {
		if cfg.DriveAccessToken == "" {
			return nil, errors.New("drive is enabled but HOSHI_DRIVE_ACCESS_TOKEN is not set")
		}
		a.Drive, err = drive.New(ctx, cfg.DriveAccessToken, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create drive client: %w", err)
		}
	}

	if cfg.IndexEnabled {
		a.Index, err = fileindex.New(cfg.GeminiAPIKey, cfg.IndexBaseURL, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create file-index client: %w", err)
		}
	}

	a.SyncStates, err = syncer.NewStore(pool, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create sync state store: %w", err)
	}

	// The sync engine needs both ends of the pipeline.
	if a.Drive != nil && a.Index != nil {
		a.Syncer, err = syncer.New(syncer.Config{
			Repository:   a.Drive,
			Index:        a.Index,
			States:       a.SyncStates,
			Logger:       logger,
			RootFolderID: cfg.DriveRootFolder,
			BatchWidth:   cfg.SyncBatchWidth,
		}.WithMaxDepth(cfg.SyncMaxDepth))
		if err != nil {
			return nil, fmt.Errorf("failed to create sync engine: %w", err)
		}
	}

	orchCfg := retrieval.Config{
		Generator:        retrieval.NewGenkitGenerator(g),
		Logger:           logger,
		ModelName:        cfg.ModelName,
		RewriteModelName: cfg.RewriteModelName,
	}
	if a.Drive != nil {
		orchCfg.Repository = a.Drive
	}
	if a.Index != nil {
		orchCfg.Index = a.Index
	}
	a.Orchestrator, err = retrieval.New(orchCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create orchestrator: %w", err)
	}

	a.Conversations, err = conversation.NewPostgresStore(pool, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create conversation store: %w", err)
	}

	a.Machine, err = conversation.NewMachine(conversation.Config{
		Answerer: a.Orchestrator,
		Store:    a.Conversations,
		Logger:   logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create conversation machine: %w", err)
	}

	logger.Debug("application initialized",
		"drive_enabled", a.Drive != nil,
		"index_enabled", a.Index != nil,
		"model", cfg.ModelName)

	return a, nil
}
