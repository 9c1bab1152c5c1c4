package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/fentz26/cortex/internal/audit"
	"github.com/fentz26/cortex/internal/config"
	"github.com/fentz26/cortex/internal/connectors"
	"github.com/fentz26/cortex/internal/connectors/localexec"
	"github.com/fentz26/cortex/internal/controlplane"
	"github.com/fentz26/cortex/internal/goals"
	"github.com/fentz26/cortex/internal/ledger"
	"github.com/fentz26/cortex/internal/llm"
	"github.com/fentz26/cortex/internal/logging"
	"github.com/fentz26/cortex/internal/memory"
	"github.com/fentz26/cortex/internal/metrics"
	"github.com/fentz26/cortex/internal/orchestrator"
	"github.com/fentz26/cortex/internal/router"
	"github.com/fentz26/cortex/internal/scheduler"
	"github.com/fentz26/cortex/internal/store"
	"github.com/fentz26/cortex/internal/think"
)

// runtime holds every component of a running cortex instance.
type runtime struct {
	cfg          *config.Config
	logger       *slog.Logger
	logCloser    io.Closer
	store        *store.Store
	router       *router.Router
	scheduler    *scheduler.Scheduler
	client       *llm.Client
	executors    *think.Executors
	memory       *memory.Index
	sessions     *think.Sessions
	goals        *goals.Manager
	orchestrator *orchestrator.Orchestrator
	metrics      *metrics.Metrics
	thinkOptions []think.Option
}

// buildRuntime wires the store, router, scheduler, LLM client, executors,
// memory, sessions and goals described by cfg. Goals persisted by a
// previous run are restored.
func buildRuntime(ctx context.Context, cfg *config.Config, logOut io.Writer) (rt *runtime, err error) {
	logger, logCloser, err := logging.New(cfg.Log, logOut)
	if err != nil {
		return nil, fmt.Errorf("configure logging: %w", err)
	}
	rt = &runtime{cfg: cfg, logger: logger, logCloser: logCloser}
	defer func() {
		if err != nil {
			rt.Close()
			rt = nil
		}
	}()

	rt.store, err = store.New(cfg.Store.Path)
	if err != nil {
		return rt, err
	}
	rt.metrics = metrics.New()

	provider, err := newProvider(cfg.LLM)
	if err != nil {
		return rt, err
	}
	rt.client = llm.NewClient(provider, cfg.LLM.Client, logger)
	rt.client.SetObserver(rt.metrics)

	embedder, err := newEmbedder(cfg.Memory)
	if err != nil {
		return rt, err
	}
	rt.memory = memory.NewIndex(rt.store, embedder, logger)
	rt.memory.MinSimilarity = cfg.Memory.MinSimilarity

	mirror := audit.NewContextLogWriter(rt.store)
	rt.sessions = think.NewSessions(func(sessionID string) *ledger.Ledger {
		return mirror.LedgerFor(sessionID, ledger.WithLogger(logger))
	})
	rt.sessions.SetMaxSessions(cfg.Think.MaxSessions)
	rt.thinkOptions = []think.Option{
		think.WithConfig(cfg.Think.Config),
		think.WithLogger(logger),
		think.WithListener(rt.metrics.ThinkListener()),
	}

	rt.router = router.New(logger)
	rt.router.AddListener(rt.metrics.RouterListener())
	connector := localexec.New(cfg.Exec)

	rt.executors = think.NewExecutors()
	rt.executors.Register(think.ActionFetch, think.NewFetchExecutor(cfg.Think.FetchTimeout))
	rt.executors.Register(think.ActionExec, connectors.ActionExecutor{Connector: connector})
	rt.executors.Register(think.ActionHandler, think.HandlerExecutor{Router: rt.router})
	rt.executors.Register(think.ActionRecall, memory.RecallExecutor{Memory: rt.memory})
	rt.executors.Register(think.ActionRemember, memory.RememberExecutor{Memory: rt.memory})
	if cfg.Think.AskHuman {
		rt.executors.Register(think.ActionAskHuman, think.AskHumanExecutor{Asker: think.NewPromptAsker(os.Stdin, os.Stderr)})
	}

	if err := registerBuiltins(rt.router, builtins{
		logger:    logger,
		connector: connector,
		memory:    rt.memory,
		think:     rt.runQuery,
	}); err != nil {
		return rt, err
	}
	if err := rt.router.ApplyRules(cfg.Rules); err != nil {
		return rt, err
	}

	rt.scheduler = scheduler.New(rt.store, rt.router, cfg.Scheduler, logger)
	rt.scheduler.SetObserver(rt.metrics)

	rt.goals = goals.NewManager(logger)
	rt.orchestrator, err = orchestrator.New(orchestrator.Config{
		Goals:         rt.goals,
		Sessions:      rt.sessions,
		Client:        rt.client,
		Executors:     rt.executors,
		Store:         rt.store,
		MaxIterations: cfg.Think.MaxIterations,
		Options:       rt.thinkOptions,
		Logger:        logger,
	})
	if err != nil {
		return rt, err
	}
	n, err := rt.orchestrator.Restore(ctx)
	if err != nil {
		return rt, fmt.Errorf("restore goals: %w", err)
	}
	if n > 0 {
		logger.Info("goals restored", "count", n)
	}
	return rt, nil
}

func newProvider(cfg config.LLMConfig) (llm.Provider, error) {
	switch cfg.Provider {
	case "openai":
		return llm.NewOpenAIProvider(cfg.OpenAI, nil), nil
	case "scripted":
		p := llm.NewScriptedProvider(cfg.Scripted...)
		p.Repeat = true
		return p, nil
	}
	return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
}

func newEmbedder(cfg config.MemoryConfig) (memory.Embedder, error) {
	var base memory.Embedder
	switch cfg.Embedder {
	case "openai":
		base = memory.NewOpenAIEmbedder(cfg.BaseURL, cfg.APIKey, cfg.Model, cfg.Dims)
	default:
		base = memory.NewHashEmbedder(cfg.Dims)
	}
	if cfg.CacheSize <= 0 {
		return base, nil
	}
	return memory.NewCachedEmbedder(base, cfg.CacheSize)
}

// runQuery runs one think session with the runtime's client and executors.
func (rt *runtime) runQuery(ctx context.Context, query string, maxIterations int) (*think.Session, error) {
	if maxIterations <= 0 {
		maxIterations = rt.cfg.Think.MaxIterations
	}
	return rt.sessions.Run(ctx, rt.client, rt.executors, query, maxIterations, nil, rt.thinkOptions...)
}

// service exposes the runtime through the control-plane service.
func (rt *runtime) service() *controlplane.Service {
	return controlplane.NewService(controlplane.Deps{
		Goals:         rt.goals,
		GoalStore:     rt.store,
		Scheduler:     rt.scheduler,
		Tasks:         rt.store,
		Router:        rt.router,
		Sessions:      rt.sessions,
		Client:        rt.client,
		Executors:     rt.executors,
		ThinkOptions:  rt.thinkOptions,
		MaxIterations: rt.cfg.Think.MaxIterations,
		Orchestrator:  rt.orchestrator,
		Memory:        rt.memory,
		ContextLog:    rt.store,
		Health:        rt.store,
	}, rt.logger)
}

// Close stops the scheduler and releases the store and log file.
func (rt *runtime) Close() error {
	var errs []error
	if rt.scheduler != nil {
		rt.scheduler.Stop()
	}
	if rt.store != nil {
		errs = append(errs, rt.store.Close())
	}
	if rt.logCloser != nil {
		errs = append(errs, rt.logCloser.Close())
	}
	return errors.Join(errs...)
}
