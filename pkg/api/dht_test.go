package api

import (
	"bytes"
	"encoding/json"
	"net/http/httptest"
	"testing"

	"github.com/fleetmesh/fleetd/pkg/types"
	"github.com/stretchr/testify/require"
)

func TestDHTPutGetDelete(t *testing.T) {
	n := testNode(t)
	s := NewServer(n, "127.0.0.1:0")

	req := httptest.NewRequest("PUT", "/dht/config/foo", bytes.NewReader([]byte("hello")))
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	require.Equal(t, 200, w.Code)

	var entry types.DHTEntry
	require.NoError(t, json.NewDecoder(w.Body).Decode(&entry))
	require.Equal(t, "config/foo", entry.Key)

	req = httptest.NewRequest("GET", "/dht/config/foo", nil)
	w = httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	require.Equal(t, 200, w.Code)

	req = httptest.NewRequest("DELETE", "/dht/config/foo", nil)
	w = httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	require.Equal(t, 204, w.Code)

	req = httptest.NewRequest("GET", "/dht/config/foo", nil)
	w = httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	require.Equal(t, 404, w.Code)
}
