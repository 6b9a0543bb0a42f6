package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/dshills/rewindgraph/config"
	"github.com/dshills/rewindgraph/driver"
	"github.com/dshills/rewindgraph/graph"
	"github.com/dshills/rewindgraph/graph/emit"
	"github.com/dshills/rewindgraph/graph/model"
	"github.com/dshills/rewindgraph/graph/model/anthropic"
	"github.com/dshills/rewindgraph/graph/model/google"
	"github.com/dshills/rewindgraph/graph/model/openai"
	"github.com/dshills/rewindgraph/graph/store"
	"github.com/dshills/rewindgraph/research"
)

// app is the wiring shared by every command.
type app struct {
	cfg      config.Config
	logger   *slog.Logger
	store    store.CheckpointStore
	hub      *emit.Hub
	registry *prometheus.Registry
	costs    *model.CostTracker
	engine   *graph.Engine
	catalog  *driver.DirCatalog

	closers []func() error
}

// newApp builds the engine described by cfg. extra sinks receive every
// engine event next to the hub and the log.
func newApp(cfg config.Config, extra ...emit.Sink) (*app, error) {
	a := &app{
		cfg:      cfg,
		logger:   config.NewLogger(cfg.Log, os.Stderr),
		hub:      emit.NewHub(),
		registry: prometheus.NewRegistry(),
	}

	if err := a.openStore(); err != nil {
		return nil, err
	}

	chat, err := a.chatModel()
	if err != nil {
		_ = a.close()
		return nil, err
	}

	caps := graph.NewRegistry()
	err = research.Register(caps, research.Deps{
		Model:     chat,
		Search:    research.NewGitHubSearchTool(cfg.GitHub.Token),
		SearchURL: cfg.GitHub.SearchURL,
		Timeout:   cfg.StepTimeout,
		Logger:    a.logger.With("component", "research"),
	})
	if err != nil {
		_ = a.close()
		return nil, err
	}

	a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	sinks := append(emit.Multi{a.hub, emit.NewLogSink(a.logger.With("component", "events"))}, extra...)

	a.engine, err = graph.New(caps, a.store,
		graph.WithSink(sinks),
		graph.WithMergeTable(research.MergeTable()),
		graph.WithMetrics(graph.NewPrometheusMetrics(a.registry)),
		graph.WithLogger(a.logger.With("component", "engine")),
	)
	if err != nil {
		_ = a.close()
		return nil, err
	}

	a.catalog, err = driver.NewDirCatalog(cfg.WorkflowsDir, driver.MapCatalog(research.Workflows()))
	if err != nil {
		_ = a.close()
		return nil, err
	}
	a.logger.Debug("engine ready",
		"store", cfg.Store.Driver,
		"model", cfg.Model.Provider,
		"workflows", a.catalog.Names(),
	)
	return a, nil
}

func (a *app) openStore() error {
	sc := a.cfg.Store
	switch sc.Driver {
	case config.StoreMemory:
		a.store = store.NewMemStore()
	case config.StoreSQLite:
		st, err := store.NewSQLiteStore(sc.Path)
		if err != nil {
			return err
		}
		a.store, a.closers = st, append(a.closers, st.Close)
	case config.StoreMySQL:
		st, err := store.NewMySQLStore(sc.DSN)
		if err != nil {
			return err
		}
		a.store, a.closers = st, append(a.closers, st.Close)
	case config.StorePostgres:
		st, err := store.NewPostgresStore(sc.DSN)
		if err != nil {
			return err
		}
		a.store, a.closers = st, append(a.closers, st.Close)
	case config.StoreBadger:
		st, err := store.OpenBadgerStore(store.BadgerConfig{Path: sc.Path, SyncWrites: true})
		if err != nil {
			return err
		}
		a.store, a.closers = st, append(a.closers, st.Close)
	default:
		return fmt.Errorf("unsupported store driver %q", sc.Driver)
	}
	return nil
}

// chatModel builds the configured provider, wrapped in a cost tracker when
// cost tracking is on.
func (a *app) chatModel() (model.ChatModel, error) {
	mc := a.cfg.Model

	var (
		chat model.ChatModel
		name = mc.Name
	)
	switch mc.Provider {
	case config.ProviderOpenAI:
		if name == "" {
			name = openai.DefaultModel
		}
		chat = openai.NewChatModel(mc.OpenAIKey, name)
	case config.ProviderAnthropic:
		if name == "" {
			name = anthropic.DefaultModel
		}
		chat = anthropic.NewChatModel(mc.AnthropicKey, name)
	case config.ProviderGoogle:
		if name == "" {
			name = google.DefaultModel
		}
		chat = google.NewChatModel(mc.GoogleKey, name)
	case config.ProviderMock:
		a.logger.Warn("no model provider configured, using the offline model")
		return research.OfflineModel{}, nil
	default:
		return nil, fmt.Errorf("unsupported model provider %q", mc.Provider)
	}

	if mc.TrackCost {
		a.costs = model.NewCostTracker()
		chat = a.costs.Wrap(chat, name)
	}
	return chat, nil
}

// workflow resolves a catalog name, or loads a definition file when path is
// set.
func (a *app) workflow(name, path string) (graph.WorkflowGraph, error) {
	if path != "" {
		return loadWorkflowFile(path)
	}
	if name == "" {
		name = research.WorkflowName
	}
	return a.catalog.Lookup(name)
}

func (a *app) close() error {
	if a.costs != nil {
		in, out := a.costs.Tokens()
		a.logger.Info("model usage", "input_tokens", in, "output_tokens", out, "cost_usd", a.costs.TotalCost())
	}
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	return errors.Join(errs...)
}
