package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/ChamsBouzaiene/phidelta/internal/config"
	"github.com/ChamsBouzaiene/phidelta/internal/engine"
	"github.com/ChamsBouzaiene/phidelta/internal/orchestrator"
	"github.com/ChamsBouzaiene/phidelta/internal/providers"
	"github.com/ChamsBouzaiene/phidelta/internal/retrieval"
	"github.com/ChamsBouzaiene/phidelta/internal/sandbox"
	"github.com/ChamsBouzaiene/phidelta/internal/session"
)

// runtimeEnv bundles the long-lived collaborators every front end needs.
type runtimeEnv struct {
	Config   *config.Config
	LLM      engine.LLMClient
	Model    string
	Store    *retrieval.BleveStore
	Ingestor *retrieval.Ingestor
	Sessions *session.Store
	Pipeline orchestrator.Options

	watcher *retrieval.Watcher
}

func (r *runtimeEnv) Close() {
	if r.watcher != nil {
		if err := r.watcher.Stop(); err != nil {
			log.Printf("watcher stop failed: %v", err)
		}
	}
	if r.Store != nil {
		if err := r.Store.Close(); err != nil {
			log.Printf("index close failed: %v", err)
		}
	}
	if r.Sessions != nil {
		if err := r.Sessions.Close(); err != nil {
			log.Printf("session store close failed: %v", err)
		}
	}
}

func prepareRuntimeEnv(ctx context.Context) (*runtimeEnv, error) {
	manager, err := config.NewManager()
	if err != nil {
		return nil, err
	}
	cfg, err := manager.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	llm, model, err := providers.NewLLMClientFromEnv(ctx)
	if err != nil {
		return nil, err
	}
	if cfg.Model != "" {
		model = cfg.Model
	}

	if err := os.MkdirAll(cfg.DocsDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create docs dir: %w", err)
	}
	if err := os.MkdirAll(cfg.PaperDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create paper dir: %w", err)
	}

	store, err := retrieval.NewBleveStore(filepath.Join(manager.DataDir(), "index.bleve"))
	if err != nil {
		return nil, fmt.Errorf("failed to open document index: %w", err)
	}

	ingestor := retrieval.NewIngestor(cfg.DocsDir, store)
	if ingested, err := ingestor.IngestAll(); err != nil {
		log.Printf("initial ingestion failed: %v (retrieval may be stale)", err)
	} else if len(ingested) > 0 {
		log.Printf("ingested %d documents from %s", len(ingested), cfg.DocsDir)
	}

	env := &runtimeEnv{
		Config:   cfg,
		LLM:      llm,
		Model:    model,
		Store:    store,
		Ingestor: ingestor,
	}

	if cfg.WatchDocs {
		watcher, err := retrieval.NewWatcher(ingestor)
		if err != nil {
			log.Printf("document watcher unavailable: %v", err)
		} else if err := watcher.Start(); err != nil {
			log.Printf("document watcher failed to start: %v", err)
		} else {
			env.watcher = watcher
			log.Printf("watching %s for document changes", cfg.DocsDir)
		}
	}

	sessions, err := session.NewStore(ctx, filepath.Join(manager.DataDir(), "sessions.db"))
	if err != nil {
		env.Close()
		return nil, fmt.Errorf("failed to open session store: %w", err)
	}
	env.Sessions = sessions

	env.Pipeline = orchestrator.Options{
		Store:    store,
		Ingestor: ingestor,
		Runner:   sandbox.NewDefaultRunner(),
		DocsRoot: cfg.DocsDir,
		PaperDir: cfg.PaperDir,
		Loop: orchestrator.LoopConfig{
			MaxIterations: cfg.MaxIterations,
			MaxReplans:    cfg.MaxReplans,
		},
	}
	return env, nil
}
