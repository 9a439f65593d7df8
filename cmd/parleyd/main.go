// Parleyd is the multi-agent conversation daemon: an HTTP/SSE server that
// turns a single user request into a governed multi-turn exchange among
// specialized agents, with classification, security/budget/approval gates,
// per-turn memory retrieval, and live event streaming.
//
// Configuration is loaded from defaults, an optional YAML file (-config),
// and PARLEY_-prefixed environment variables. The bare COST_SAFETY, HITL,
// RAG_IN_LOOP, and SPEAKER_POLICY variables toggle individual pipeline
// stages.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/parley-ai/parley/agent"
	"github.com/parley-ai/parley/approval"
	"github.com/parley-ai/parley/capability"
	"github.com/parley-ai/parley/config"
	"github.com/parley-ai/parley/core"
	"github.com/parley-ai/parley/ledger"
	"github.com/parley-ai/parley/logging"
	"github.com/parley-ai/parley/memory"
	"github.com/parley-ai/parley/model"
	modelanthropic "github.com/parley-ai/parley/model/anthropic"
	modelopenai "github.com/parley-ai/parley/model/openai"
	"github.com/parley-ai/parley/orchestrator"
	"github.com/parley-ai/parley/retrieval"
	"github.com/parley-ai/parley/selection"
	"github.com/parley-ai/parley/server"
	"github.com/parley-ai/parley/stream"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML configuration file")
	flag.Parse()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Printf("received signal %v, shutting down", sig)
		cancel()
	}()

	if err := run(ctx, *configPath); err != nil {
		log.Fatalf("parleyd: %v", err)
	}
}

func run(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	logger, err := logging.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	prices := ledger.NewPriceTable()
	if cfg.Budget.PricingPath != "" {
		if err := prices.LoadFile(cfg.Budget.PricingPath); err != nil {
			return fmt.Errorf("load pricing table: %w", err)
		}
	}
	ledgerMetrics := ledger.NewMetrics(registry)
	costLedger := ledger.New(prices, func(o *ledger.Options) {
		o.DailyCeilingUSD = cfg.Budget.DailyCeilingUSD
		o.Logger = logger.With("component", "ledger")
		o.Metrics = ledgerMetrics
	})

	memStore, err := buildMemoryStore(cfg, logger)
	if err != nil {
		return err
	}
	retriever := retrieval.New(memStore, func(o *retrieval.Options) {
		o.Limit = cfg.Retrieval.Limit
		o.Logger = logger.With("component", "retrieval")
	})

	agents, err := buildRegistry(cfg, memStore)
	if err != nil {
		return fmt.Errorf("load agent registry: %w", err)
	}
	logger.Info("registry.loaded", "agents", agents.Len())

	orch := orchestrator.New(agents, func(o *orchestrator.Options) {
		o.Features = cfg.Features
		o.Logger = logger.With("component", "orchestrator")
		o.Ledger = costLedger
		o.Approvals = approval.NewStore(logger.With("component", "approval"))
		o.Selection = selection.New(func(so *selection.Options) {
			so.Logger = logger.With("component", "selection")
			so.Metrics = registry
		})
		o.Retriever = retriever
	})

	sessions := stream.NewManager(func(o *stream.Options) {
		o.HeartbeatInterval = cfg.Stream.HeartbeatInterval
		o.IdleTimeout = cfg.Stream.IdleTimeout
		o.ReapInterval = cfg.Stream.ReapInterval
		o.EventBufferSize = cfg.Stream.EventBufferSize
		o.Logger = logger.With("component", "stream")
	})
	defer sessions.Shutdown()

	srv, err := server.New(orch, sessions, prices, logger.With("component", "http"), server.Config{
		Host: cfg.Server.Host,
		Port: cfg.Server.Port,
	}, registry)
	if err != nil {
		return fmt.Errorf("build server: %w", err)
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// buildMemoryStore picks the embedded vector store when an embedding backend
// is available, falling back to the process-local token-overlap store so the
// daemon runs without external credentials.
func buildMemoryStore(cfg *config.Config, logger logging.Logger) (core.MemoryStore, error) {
	if os.Getenv("OPENAI_API_KEY") == "" && cfg.Retrieval.MemoryPath == "" {
		logger.Info("memory.using_in_process_store")
		return memory.NewInMemoryStore(), nil
	}
	store, err := memory.NewChromemStore(func(o *memory.ChromemOptions) {
		o.Path = cfg.Retrieval.MemoryPath
		o.Logger = logger.With("component", "memory")
	})
	if err != nil {
		return nil, fmt.Errorf("create vector memory store: %w", err)
	}
	return store, nil
}

// buildRegistry loads participant definitions, or falls back to a built-in
// trio (lead, finance, security) backed by mock models when no definitions
// file is configured.
func buildRegistry(cfg *config.Config, memStore core.MemoryStore) (*agent.Registry, error) {
	datastore := capability.NewDatastore()
	known := map[string]capability.Capability{
		"query_records": capability.NewRecordQuery(datastore),
		"search_web":    capability.NewWebSearch(nil),
	}
	resolver := func(name string) (capability.Capability, bool) {
		if name == "search_memory" {
			return capability.NewMemorySearch(memStore, ""), true
		}
		c, ok := known[name]
		return c, ok
	}

	models := func(provider, name string) (model.Model, error) {
		switch provider {
		case "openai":
			return modelopenai.New(func(o *modelopenai.Options) {
				if name != "" {
					o.Model = name
				}
			}), nil
		case "anthropic":
			return modelanthropic.New(func(o *modelanthropic.Options) {
				if name != "" {
					o.Model = anthropicsdk.Model(name)
				}
			}), nil
		case "mock", "":
			return model.NewMockModel("mock"), nil
		default:
			return nil, fmt.Errorf("unknown model provider %q", provider)
		}
	}

	if cfg.Agents.DefinitionsPath != "" {
		return agent.LoadRegistry(cfg.Agents.DefinitionsPath, models, resolver)
	}

	build := func(name, role, instructions string, keywords []string) *agent.Participant {
		m, _ := models("mock", "mock")
		return agent.NewParticipant(
			core.ParticipantInfo{Name: name, Role: role, Keywords: keywords},
			instructions,
			m,
			nil,
		)
	}
	return agent.NewRegistry(
		build("lead", core.RoleLead, "You coordinate the discussion and summarize outcomes.", []string{"plan", "summary"}),
		build("cfo", core.RoleFinance, "You advise on budgets, costs, and forecasts.", []string{"budget", "cost"}),
		build("ciso", core.RoleSecurity, "You assess security and compliance risk.", []string{"security", "risk"}),
	)
}
