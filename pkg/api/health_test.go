package api

import (
	"encoding/json"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHealthzNotReadyWithoutLeader(t *testing.T) {
	n := testNode(t)
	s := NewServer(n, "127.0.0.1:0")

	req := httptest.NewRequest("GET", "/healthz", nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	require.Equal(t, 503, w.Code)

	var resp healthzResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	require.Equal(t, "not ready", resp.Status)
	require.Equal(t, "no leader elected", resp.Checks["election"])
	require.Equal(t, "ok", resp.Checks["storage"])
	require.NotEmpty(t, resp.Message)
}
