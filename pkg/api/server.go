package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/fleetmesh/fleetd/pkg/log"
	"github.com/fleetmesh/fleetd/pkg/metrics"
	"github.com/fleetmesh/fleetd/pkg/node"
	"github.com/fleetmesh/fleetd/pkg/types"
	"github.com/rs/zerolog"
)

// Server is the thin HTTP frontend a node's local clients (CLI, gateway,
// or an external planner) use to read and mutate tasks, agents and DHT
// entries. Task and agent mutation handlers call one pkg/gossip.Engine
// Originate* method, DHT handlers call pkg/dht.Engine, and list
// handlers read pkg/storage.Store; each encodes the resulting value —
// no scheduling or planning policy lives here.
type Server struct {
	node   *node.Node
	logger zerolog.Logger
	server *http.Server
}

// NewServer builds a Server bound to addr, wrapping n.
func NewServer(n *node.Node, addr string) *Server {
	s := &Server{
		node:   n,
		logger: log.WithComponent("api"),
	}

	mux := http.NewServeMux()
	s.routes(mux)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      withMetrics(mux),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 0, // /ws/events streams indefinitely
		IdleTimeout:  120 * time.Second,
	}
	return s
}

func (s *Server) routes(mux *http.ServeMux) {
	mux.HandleFunc("POST /tasks", s.handleTaskCreate)
	mux.HandleFunc("GET /tasks", s.handleTaskList)
	mux.HandleFunc("POST /tasks/{id}/claim", s.handleTaskClaim)
	mux.HandleFunc("POST /tasks/{id}/update", s.handleTaskUpdate)
	mux.HandleFunc("POST /tasks/{id}/complete", s.handleTaskComplete)
	mux.HandleFunc("POST /tasks/{id}/fail", s.handleTaskFail)
	mux.HandleFunc("POST /tasks/{id}/cancel", s.handleTaskCancel)
	mux.HandleFunc("POST /tasks/{id}/archive", s.handleTaskArchive)

	mux.HandleFunc("POST /agents", s.handleAgentRegister)
	mux.HandleFunc("GET /agents", s.handleAgentList)
	mux.HandleFunc("POST /agents/{id}/heartbeat", s.handleAgentHeartbeat)
	mux.HandleFunc("POST /agents/{id}/deregister", s.handleAgentDeregister)

	mux.HandleFunc("PUT /dht/{key...}", s.handleDHTPut)
	mux.HandleFunc("GET /dht/{key...}", s.handleDHTGet)
	mux.HandleFunc("DELETE /dht/{key...}", s.handleDHTDelete)
	mux.HandleFunc("POST /dht", s.handleDHTPutContentAddressed)

	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.HandleFunc("GET /ws/events", s.handleWSEvents)
	mux.Handle("GET /metrics", metrics.Handler())
}

// Handler returns the HTTP handler for embedding in other servers or
// for tests to drive directly without binding a socket.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return fmt.Errorf("api: listen %s: %w", s.server.Addr, err)
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", s.server.Addr).Msg("api listening")
		if err := s.server.Serve(listener); err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.server.Shutdown(shutdownCtx)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// --- task handlers ---

func (s *Server) handleTaskCreate(w http.ResponseWriter, r *http.Request) {
	var task types.Task
	if err := json.NewDecoder(r.Body).Decode(&task); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	created, err := s.node.Gossip().OriginateTaskCreate(task)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleTaskList(w http.ResponseWriter, r *http.Request) {
	var (
		tasks []*types.Task
		err   error
	)
	if status := r.URL.Query().Get("status"); status != "" {
		tasks, err = s.node.Store().ListTasksByStatus(types.TaskStatus(status))
	} else {
		tasks, err = s.node.Store().ListTasks()
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, tasks)
}

func (s *Server) handleTaskClaim(w http.ResponseWriter, r *http.Request) {
	var body struct {
		AgentID string `json:"agent_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	task, err := s.node.Gossip().OriginateTaskClaim(r.PathValue("id"), body.AgentID)
	if err != nil {
		writeError(w, http.StatusConflict, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (s *Server) handleTaskUpdate(w http.ResponseWriter, r *http.Request) {
	var patch struct {
		Status   *types.TaskStatus `json:"status"`
		Progress *string           `json:"progress"`
	}
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	task, err := s.node.Gossip().OriginateTaskUpdate(r.PathValue("id"), func(t *types.Task) {
		if patch.Status != nil {
			t.Status = *patch.Status
		}
		if patch.Progress != nil {
			t.Progress = *patch.Progress
		}
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (s *Server) handleTaskComplete(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Result string `json:"result"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	task, err := s.node.Gossip().OriginateTaskComplete(r.PathValue("id"), body.Result)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (s *Server) handleTaskFail(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Error string `json:"error"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	task, err := s.node.Gossip().OriginateTaskFail(r.PathValue("id"), body.Error)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (s *Server) handleTaskCancel(w http.ResponseWriter, r *http.Request) {
	task, err := s.node.Gossip().OriginateTaskCancel(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (s *Server) handleTaskArchive(w http.ResponseWriter, r *http.Request) {
	task, err := s.node.Gossip().OriginateTaskArchive(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

// --- agent handlers ---

func (s *Server) handleAgentRegister(w http.ResponseWriter, r *http.Request) {
	var agent types.Agent
	if err := json.NewDecoder(r.Body).Decode(&agent); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	created, err := s.node.Gossip().OriginateAgentRegister(agent)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleAgentList(w http.ResponseWriter, r *http.Request) {
	var (
		agents []*types.Agent
		err    error
	)
	if status := r.URL.Query().Get("status"); status != "" {
		agents, err = s.node.Store().ListAgentsByStatus(types.AgentStatus(status))
	} else {
		agents, err = s.node.Store().ListAgents()
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, agents)
}

func (s *Server) handleAgentHeartbeat(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Status        types.AgentStatus `json:"status"`
		CurrentTaskID string            `json:"current_task_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	agent, err := s.node.Gossip().OriginateAgentHeartbeat(r.PathValue("id"), body.Status, body.CurrentTaskID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, agent)
}

func (s *Server) handleAgentDeregister(w http.ResponseWriter, r *http.Request) {
	if err := s.node.Gossip().OriginateAgentDeregister(r.PathValue("id")); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
