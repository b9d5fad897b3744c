package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/fleetmesh/fleetd/pkg/storage"
)

const defaultDHTReplicaCount = 3

func (s *Server) handleDHTPut(w http.ResponseWriter, r *http.Request) {
	value, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	replicaCount, ttl := dhtParamsFrom(r)
	entry, err := s.node.DHT().PutNamed(r.PathValue("key"), value, replicaCount, ttl)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (s *Server) handleDHTPutContentAddressed(w http.ResponseWriter, r *http.Request) {
	value, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	replicaCount, ttl := dhtParamsFrom(r)
	entry, err := s.node.DHT().PutContentAddressed(value, replicaCount, ttl)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusCreated, entry)
}

func (s *Server) handleDHTGet(w http.ResponseWriter, r *http.Request) {
	entry, err := s.node.DHT().Get(r.PathValue("key"))
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, err)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (s *Server) handleDHTDelete(w http.ResponseWriter, r *http.Request) {
	if err := s.node.DHT().Delete(r.PathValue("key")); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func dhtParamsFrom(r *http.Request) (replicaCount int, ttl time.Duration) {
	replicaCount = defaultDHTReplicaCount
	if n := r.URL.Query().Get("replicas"); n != "" {
		var parsed int
		if err := json.Unmarshal([]byte(n), &parsed); err == nil && parsed > 0 {
			replicaCount = parsed
		}
	}
	if s := r.URL.Query().Get("ttl"); s != "" {
		if d, err := time.ParseDuration(s); err == nil {
			ttl = d
		}
	}
	return replicaCount, ttl
}
