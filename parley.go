// Package parley provides a high-level façade over the conversation
// orchestrator and streaming transport, enabling rapid construction of
// governed multi-agent conversation systems. Most applications interact with
// this package by:
//  1. Building an agent registry (declarative YAML or code)
//  2. Creating a Parley via New() (optionally overriding the in-memory stores)
//  3. Invoking conversations synchronously (Invoke) or over a live session (OpenStream)
//
// The façade delegates control flow to orchestrator.Orchestrator while
// keeping setup concise. All defaults are safe for local development; server
// deployments typically supply a persistent memory store, a configured
// ledger, and a structured logger.
package parley

import (
	"context"
	"errors"
	"time"

	"github.com/parley-ai/parley/agent"
	"github.com/parley-ai/parley/approval"
	"github.com/parley-ai/parley/config"
	"github.com/parley-ai/parley/core"
	"github.com/parley-ai/parley/ledger"
	"github.com/parley-ai/parley/logging"
	"github.com/parley-ai/parley/orchestrator"
	"github.com/parley-ai/parley/retrieval"
	"github.com/parley-ai/parley/stream"
)

// Options configures the Parley instance. Any unset collaborator falls back
// to an in-memory default.
type Options struct {
	// Features toggles individual pipeline stages.
	Features config.Features

	// MemoryStore backs per-turn context retrieval and the search_memory
	// capability.
	MemoryStore core.MemoryStore

	// PriceTable resolves provider/model token prices for the ledger.
	PriceTable *ledger.PriceTable

	// DailyCeilingUSD bounds the budget gate.
	DailyCeilingUSD float64

	// RetrievalLimit caps memory entries injected per turn.
	RetrievalLimit int

	// HeartbeatInterval and IdleTimeout tune live sessions.
	HeartbeatInterval time.Duration
	IdleTimeout       time.Duration

	// Logger defaults to a no-op logger if nil.
	Logger logging.Logger
}

// Parley aggregates the orchestrator and the streaming session manager.
type Parley struct {
	registry *agent.Registry
	orch     *orchestrator.Orchestrator
	sessions *stream.Manager
}

// New creates a Parley instance over the given registry.
func New(registry *agent.Registry, optFns ...func(o *Options)) *Parley {
	opts := Options{
		Features:          config.Features{CostSafety: true, HITL: true, RAGInLoop: true, SpeakerPolicy: true},
		DailyCeilingUSD:   25.0,
		RetrievalLimit:    5,
		HeartbeatInterval: 15 * time.Second,
		IdleTimeout:       5 * time.Minute,
		Logger:            logging.NopLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	prices := opts.PriceTable
	if prices == nil {
		prices = ledger.NewPriceTable()
	}

	orch := orchestrator.New(registry, func(o *orchestrator.Options) {
		o.Features = opts.Features
		o.Logger = opts.Logger
		o.Ledger = ledger.New(prices, func(lo *ledger.Options) {
			lo.DailyCeilingUSD = opts.DailyCeilingUSD
			lo.Logger = opts.Logger
		})
		o.Approvals = approval.NewStore(opts.Logger)
		o.Retriever = retrieval.New(opts.MemoryStore, func(ro *retrieval.Options) {
			ro.Limit = opts.RetrievalLimit
			ro.Logger = opts.Logger
		})
	})
	sessions := stream.NewManager(func(o *stream.Options) {
		o.HeartbeatInterval = opts.HeartbeatInterval
		o.IdleTimeout = opts.IdleTimeout
		o.Logger = opts.Logger
	})

	return &Parley{registry: registry, orch: orch, sessions: sessions}
}

// Invoke runs one conversation request to completion.
func (p *Parley) Invoke(ctx context.Context, req orchestrator.Request) (*orchestrator.Result, error) {
	return p.orch.Invoke(ctx, req)
}

// OpenStream starts a live session mirroring the run's lifecycle events. The
// session closes itself when the run finishes; consume Events() until the
// channel closes.
func (p *Parley) OpenStream(ctx context.Context, req orchestrator.Request) *stream.Session {
	target := "auto"
	if req.Context != nil && req.Context.AgentName != "" {
		target = req.Context.AgentName
	}
	session := p.sessions.Open(req.UserID, target)
	go func() {
		if _, err := p.orch.Invoke(ctx, req, session.Observer()); err != nil {
			session.Fail(err.Error())
			return
		}
		if err := p.sessions.Close(session.ID); err != nil && !errors.Is(err, core.ErrSessionNotFound) {
			return
		}
	}()
	return session
}

// Orchestrator exposes the underlying state machine.
func (p *Parley) Orchestrator() *orchestrator.Orchestrator { return p.orch }

// Approvals exposes the human-approval store.
func (p *Parley) Approvals() *approval.Store { return p.orch.Approvals() }

// Sessions exposes the streaming session manager.
func (p *Parley) Sessions() *stream.Manager { return p.sessions }

// Close shuts down live sessions and background tasks.
func (p *Parley) Close() { p.sessions.Shutdown() }
