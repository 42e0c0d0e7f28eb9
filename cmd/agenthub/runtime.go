package main

import (
	"fmt"
	"log/slog"

	"github.com/agenthub-io/agenthub/pkg/config"
	"github.com/agenthub-io/agenthub/pkg/embedders"
	"github.com/agenthub-io/agenthub/pkg/graph"
	"github.com/agenthub-io/agenthub/pkg/llms"
	"github.com/agenthub-io/agenthub/pkg/memory"
	"github.com/agenthub-io/agenthub/pkg/store"
)

// runtime bundles the wired backends behind one lifecycle.
type runtime struct {
	cfg      *config.Config
	graph    graph.Store
	log      *store.Store
	registry *llms.Registry
	factory  *memory.Factory
}

// buildRuntime wires the graph backend, relational store, provider
// registry, and memory factory from config.
func buildRuntime(cfg *config.Config) (*runtime, error) {
	graphStore, err := buildGraph(cfg.Graph)
	if err != nil {
		return nil, fmt.Errorf("graph backend: %w", err)
	}

	logStore, err := store.New(cfg.Store)
	if err != nil {
		graphStore.Close()
		return nil, fmt.Errorf("relational store: %w", err)
	}

	registry := llms.NewRegistry(cfg.LLMs)

	// Learning extraction and clustering prefer Gemini for cost; fall back
	// to whatever provider is available.
	var utility llms.Provider
	if p, err := registry.Get("gemini"); err == nil {
		utility = p
	} else if p, err := registry.Get("claude"); err == nil {
		utility = p
	} else {
		slog.Warn("No utility provider available; learning extraction disabled")
	}

	factory := memory.NewFactory(graphStore, logStore, utility, cfg.Memory, cfg.Optimizer)
	return &runtime{
		cfg:      cfg,
		graph:    graphStore,
		log:      logStore,
		registry: registry,
		factory:  factory,
	}, nil
}

func buildGraph(cfg config.GraphConfig) (graph.Store, error) {
	if cfg.Mode == config.GraphModeRemote {
		return graph.NewClient(cfg)
	}

	var opts []graph.LocalStoreOption
	if cfg.DataDir != "" {
		opts = append(opts, graph.WithDataDir(cfg.DataDir))
	}
	if cfg.Embedder.APIKey != "" {
		embedder, err := embedders.New(cfg.Embedder)
		if err != nil {
			return nil, err
		}
		opts = append(opts, graph.WithEmbedder(embedder))
	} else {
		slog.Info("No embedder configured; local store uses keyword search")
	}
	return graph.NewLocalStore(opts...)
}

func (r *runtime) close() {
	if err := r.registry.Close(); err != nil {
		slog.Warn("Provider registry close failed", "error", err)
	}
	if err := r.log.Close(); err != nil {
		slog.Warn("Relational store close failed", "error", err)
	}
	if err := r.graph.Close(); err != nil {
		slog.Warn("Graph store close failed", "error", err)
	}
}
