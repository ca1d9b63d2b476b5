// Command server boots the multi-agent orchestration runtime's HTTP/SSE
// transport: it wires the configured model provider, MongoDB history store,
// in-process event bus, and OpenTelemetry-backed logging/metrics/tracing
// into an httpapi.Server, recovers any run left running by a prior crash,
// and serves until SIGINT/SIGTERM.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"goa.design/clue/log"

	"github.com/agentrun/runtime/agent"
	"github.com/agentrun/runtime/agent/llm"
	"github.com/agentrun/runtime/config"
	"github.com/agentrun/runtime/history"
	historymongo "github.com/agentrun/runtime/history/mongo"
	"github.com/agentrun/runtime/hooks"
	"github.com/agentrun/runtime/httpapi"
	"github.com/agentrun/runtime/model"
	"github.com/agentrun/runtime/model/anthropic"
	"github.com/agentrun/runtime/model/middleware"
	"github.com/agentrun/runtime/model/openai"
	"github.com/agentrun/runtime/policy"
	"github.com/agentrun/runtime/telemetry"
)

func main() {
	format := log.FormatJSON
	if log.IsTerminal() {
		format = log.FormatTerminal
	}
	ctx := log.Context(context.Background(), log.WithFormat(format))
	if os.Getenv("DEBUG") != "" {
		ctx = log.Context(ctx, log.WithDebug())
	}

	cfg, err := config.LoadEnv()
	if err != nil {
		log.Fatal(ctx, fmt.Errorf("load config: %w", err))
	}

	modelClient, err := buildModelClient()
	if err != nil {
		log.Fatal(ctx, fmt.Errorf("build model client: %w", err))
	}

	historyStore, err := buildHistoryStore(ctx)
	if err != nil {
		log.Fatal(ctx, fmt.Errorf("build history store: %w", err))
	}

	if n, err := historyStore.RecoverRunningRuns(ctx); err != nil {
		log.Print(ctx, log.KV{K: "msg", V: "history recovery failed"}, log.KV{K: "err", V: err.Error()})
	} else if n > 0 {
		log.Print(ctx, log.KV{K: "msg", V: "recovered interrupted runs"}, log.KV{K: "count", V: n})
	}

	srv := &httpapi.Server{
		Config:         cfg,
		PolicyDefaults: policy.Defaults{MaxTotalToolUses: cfg.MaxToolUsesPerRun, DefaultPerToolLimit: cfg.MaxToolUsesPerTool},
		ModeBlocks:     httpapi.DefaultModeBlocks,
		History:        historyStore,
		Bus:            hooks.NewBus(),
		AgentFactory:   buildAgentFactory(modelClient),
		Logger:         telemetry.NewClueLogger(),
		Metrics:        telemetry.NewClueMetrics(),
		Tracer:         telemetry.NewClueTracer(),
	}

	addr := ":" + strconv.Itoa(cfg.Port)
	httpSrv := &http.Server{Addr: addr, Handler: srv.Mux()}

	errc := make(chan error, 1)
	go func() {
		c := make(chan os.Signal, 1)
		signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
		errc <- fmt.Errorf("%s", <-c)
	}()
	go func() {
		log.Print(ctx, log.KV{K: "msg", V: "listening"}, log.KV{K: "addr", V: addr})
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errc <- err
		}
	}()

	log.Printf(ctx, "exiting (%v)", <-errc)

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Print(ctx, log.KV{K: "msg", V: "graceful shutdown failed"}, log.KV{K: "err", V: err.Error()})
	}
}

// buildModelClient resolves a model.Client from whichever provider
// credential is present in the environment, preferring Anthropic, wrapping
// the result in the adaptive rate limiter every provider shares.
func buildModelClient() (model.Client, error) {
	var (
		client model.Client
		err    error
	)
	switch {
	case os.Getenv("ANTHROPIC_API_KEY") != "":
		client, err = anthropic.NewFromAPIKey(os.Getenv("ANTHROPIC_API_KEY"), envOr("ANTHROPIC_DEFAULT_MODEL", "claude-sonnet-4-20250514"))
	case os.Getenv("OPENAI_API_KEY") != "":
		client, err = openai.NewFromAPIKey(os.Getenv("OPENAI_API_KEY"), envOr("OPENAI_DEFAULT_MODEL", "gpt-4o"))
	default:
		return nil, fmt.Errorf("no model provider credentials found (set ANTHROPIC_API_KEY or OPENAI_API_KEY)")
	}
	if err != nil {
		return nil, err
	}
	limiter := middleware.NewAdaptiveRateLimiter(
		envOrFloat("MODEL_INITIAL_TPM", 40_000),
		envOrFloat("MODEL_MAX_TPM", 400_000),
	)
	return middleware.Wrap(client, limiter), nil
}

// buildHistoryStore connects to MongoDB using MONGODB_URI/MONGODB_DATABASE.
func buildHistoryStore(ctx context.Context) (history.Store, error) {
	uri := envOr("MONGODB_URI", "mongodb://localhost:27017")
	database := envOr("MONGODB_DATABASE", "agentrun")

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(connectCtx, nil); err != nil {
		return nil, fmt.Errorf("ping mongo: %w", err)
	}
	return historymongo.NewStoreFromOptions(historymongo.Options{Client: client, Database: database})
}

// buildAgentFactory returns the httpapi.AgentFactory that builds a
// llm.Agent per roster slot, backed by modelClient.
func buildAgentFactory(modelClient model.Client) httpapi.AgentFactory {
	return func(ctx context.Context, spec httpapi.AgentRequest, modelID string) (agent.Agent, error) {
		a := llm.New(spec.Name, modelClient, spec.SystemPrompt, modelID)
		for _, name := range spec.Tools {
			if err := a.AddTool(agent.ToolSpec{Name: name}, unimplementedTool(name)); err != nil {
				return nil, err
			}
		}
		return a, nil
	}
}

// unimplementedTool reports that the named tool was requested but no
// concrete implementation is wired in — tool implementations are external
// collaborators this runtime only invokes, never authors.
func unimplementedTool(name string) agent.ToolHandler {
	return func(ctx context.Context, input any) (any, error) {
		return nil, fmt.Errorf("tool %q has no registered implementation", name)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envOrFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}
