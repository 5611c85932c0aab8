package admin

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/danmuck/ipcmux/internal/rpc"
	"github.com/danmuck/ipcmux/internal/shm"
	"github.com/danmuck/ipcmux/internal/testutil/testlog"
	"github.com/stretchr/testify/require"
)

type stubSource struct {
	ready atomic.Bool
}

func (s *stubSource) Ready() bool { return s.ready.Load() }

func (s *stubSource) Status() rpc.Status {
	return rpc.Status{Node: "core-app", Ready: s.ready.Load(), Groups: []string{"diag"}, Contexts: 8}
}

func get(t *testing.T, s *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	return rec
}

func TestReadyFollowsInstance(t *testing.T) {
	logger := testlog.Start(t)
	src := &stubSource{}
	s := New(Config{Node: "core-app", Addr: "127.0.0.1:0", Logger: logger}, src)

	rec := get(t, s, "/health")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = get(t, s, "/ready")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	src.ready.Store(true)
	rec = get(t, s, "/ready")
	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	if body["ready"] != true || body["node"] != "core-app" {
		t.Fatalf("unexpected ready body: %v", body)
	}
}

func TestStatusIncludesTransport(t *testing.T) {
	logger := testlog.Start(t)
	src := &stubSource{}
	src.ready.Store(true)
	s := New(Config{Node: "core-app", Logger: logger}, src)
	s.TransportStats = func() shm.Stats {
		return shm.Stats{Side: "a", BlockCount: 32, FreeBlocks: 32}
	}

	rec := get(t, s, "/status")
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Node      string     `json:"node"`
		RPC       rpc.Status `json:"rpc"`
		Transport shm.Stats  `json:"transport"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "core-app", body.Node)
	require.True(t, body.RPC.Ready)
	require.Equal(t, []string{"diag"}, body.RPC.Groups)
	require.Equal(t, "a", body.Transport.Side)
	require.Equal(t, 32, body.Transport.FreeBlocks)
}

func TestMetricsEndpoint(t *testing.T) {
	logger := testlog.Start(t)
	s := New(Config{Node: "core-app", Logger: logger}, nil)
	_ = get(t, s, "/health")

	rec := get(t, s, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, strings.Contains(rec.Body.String(), "ipcmux_"), "metrics output lacks ipcmux series")
}
