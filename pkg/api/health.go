package api

import (
	"fmt"
	"net/http"
	"time"
)

// healthzResponse mirrors the old HealthServer's ReadyResponse shape,
// renamed from Warren's raft/storage checks to fleetd's election,
// storage, and transport subsystems.
type healthzResponse struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	NodeID    string            `json:"node_id"`
	Checks    map[string]string `json:"checks"`
	Message   string            `json:"message,omitempty"`
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string)
	ready := true
	var message string

	if s.node.IsLeader() {
		checks["election"] = "leader"
	} else if leader, ok := s.node.Registry().Leader(); ok {
		checks["election"] = fmt.Sprintf("follower (leader: %s)", leader.NodeID)
	} else {
		checks["election"] = "no leader elected"
		ready = false
		message = "waiting for leader election"
	}

	if _, err := s.node.Store().ListTasks(); err != nil {
		checks["storage"] = fmt.Sprintf("error: %v", err)
		ready = false
		if message == "" {
			message = "storage not accessible"
		}
	} else {
		checks["storage"] = "ok"
	}

	checks["transport"] = "ok"

	status := "ready"
	statusCode := http.StatusOK
	if !ready {
		status = "not ready"
		statusCode = http.StatusServiceUnavailable
	}

	writeJSON(w, statusCode, healthzResponse{
		Status:    status,
		Timestamp: time.Now(),
		NodeID:    s.node.NodeID(),
		Checks:    checks,
		Message:   message,
	})
}
