package api_test

import (
	"bytes"
	"encoding/json"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/Artfain/verity/api"
	"github.com/Artfain/verity/core"
)

type testServer struct {
	srv     *api.Server
	hub     *api.Hub
	state   *core.State
	clock   *core.ManualClock
	handler http.Handler
}

func newTestServer(t *testing.T, cfg api.Config) *testServer {
	t.Helper()
	store, err := core.NewMemLevelStore()
	require.NoError(t, err)

	reg := prometheus.NewRegistry()
	hub := api.NewHub(nil, zerolog.Nop())
	clock := core.NewManualClock(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
	coreCfg := core.DefaultConfig()
	coreCfg.Backend = core.BackendMemory
	state, err := core.NewState(coreCfg, core.StateOptions{
		Store:      store,
		Clock:      clock,
		RandSource: rand.NewSource(1),
		Registerer: reg,
		Observers:  []core.Observer{hub.Publish},
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		hub.Close()
		state.Close()
	})

	srv := api.NewServer(cfg, state, hub, reg, zerolog.Nop())
	return &testServer{srv: srv, hub: hub, state: state, clock: clock, handler: srv.Handler()}
}

func (s *testServer) do(t *testing.T, method, path, remote string, body any) (int, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case string:
		buf.WriteString(b)
	default:
		require.NoError(t, json.NewEncoder(&buf).Encode(b))
	}
	req := httptest.NewRequest(method, path, &buf)
	if remote != "" {
		req.RemoteAddr = remote
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)

	var out map[string]any
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	}
	return rec.Code, out
}

func noLimit() api.Config {
	cfg := api.DefaultConfig()
	cfg.RateLimit = 0
	return cfg
}

func TestRoundLifecycle(t *testing.T) {
	s := newTestServer(t, noLimit())

	for i, name := range []string{"A", "B", "C"} {
		code, body := s.do(t, http.MethodPost, "/register_node", "10.0.0."+string(rune('1'+i))+":4000", map[string]string{"node": name})
		require.Equal(t, http.StatusCreated, code)
		require.Equal(t, name+":10.0.0."+string(rune('1'+i)), body["node_id"])
	}
	code, body := s.do(t, http.MethodPost, "/register_node", "10.0.0.9:4000", map[string]string{"node": "A"})
	require.Equal(t, http.StatusConflict, code)
	require.Equal(t, "conflict", body["kind"])

	code, body = s.do(t, http.MethodGet, "/nodes", "", nil)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, 3.0, body["total"])

	code, body = s.do(t, http.MethodGet, "/pending_block", "", nil)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "No pending block", body["message"])
	require.Equal(t, 2.0, body["required_votes"])

	code, body = s.do(t, http.MethodPost, "/upload_video", "", map[string]string{
		"uploader":    "U",
		"prediction":  "REAL",
		"content_ref": "real-footage.mp4",
	})
	require.Equal(t, http.StatusAccepted, code)
	pending := body["pending_block"].(map[string]any)
	data := pending["data"].(map[string]any)
	require.Equal(t, "REAL", data["ai_verdict"])
	require.Equal(t, 96.2, data["ai_confidence"])
	require.Equal(t, 20.0, pending["fee_pool"])

	code, body = s.do(t, http.MethodPost, "/rounds", "", map[string]string{"uploader": "V", "prediction": "FAKE", "video_hash": "ff"})
	require.Equal(t, http.StatusConflict, code)
	require.Equal(t, "conflict", body["kind"])

	code, body = s.do(t, http.MethodGet, "/pending_block", "", nil)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, 120.0, body["remaining_time"])

	code, _ = s.do(t, http.MethodPost, "/vote", "", "{not json")
	require.Equal(t, http.StatusBadRequest, code)
	code, body = s.do(t, http.MethodPost, "/vote", "", map[string]string{"node": "Z:10.0.0.7", "vote": "REAL"})
	require.Equal(t, http.StatusForbidden, code)
	require.Equal(t, "unauthorized", body["kind"])
	code, _ = s.do(t, http.MethodPost, "/vote", "", map[string]string{"node": "A:10.0.0.1", "vote": "PERHAPS"})
	require.Equal(t, http.StatusBadRequest, code)

	code, body = s.do(t, http.MethodPost, "/vote", "", map[string]string{"node": "A:10.0.0.1", "vote": "REAL"})
	require.Equal(t, http.StatusOK, code)
	require.Contains(t, body, "status")
	code, _ = s.do(t, http.MethodPost, "/vote", "", map[string]string{"node": "A:10.0.0.1", "vote": "REAL"})
	require.Equal(t, http.StatusConflict, code)

	code, body = s.do(t, http.MethodPost, "/vote", "", map[string]string{"node": "B:10.0.0.2", "vote": "REAL"})
	require.Equal(t, http.StatusCreated, code)
	block := body["block"].(map[string]any)
	require.Equal(t, 1.0, block["index"])
	blockData := block["data"].(map[string]any)
	require.Contains(t, []any{"A:10.0.0.1", "B:10.0.0.2"}, blockData["block_creator"])
	require.Equal(t, "REAL", blockData["final_result"])

	code, body = s.do(t, http.MethodPost, "/vote", "", map[string]string{"node": "C:10.0.0.3", "vote": "REAL"})
	require.Equal(t, http.StatusNotFound, code)
	require.Equal(t, "not_found", body["kind"])

	code, body = s.do(t, http.MethodGet, "/validate", "", nil)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, true, body["valid"])
	require.Equal(t, 2.0, body["length"])

	code, body = s.do(t, http.MethodGet, "/accounts/U", "", nil)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "U", body["id"])
	require.Equal(t, 90.0, body["balance"])
	require.Equal(t, 5.0, body["reward"])
}

func TestChainSweepsExpiredRound(t *testing.T) {
	s := newTestServer(t, noLimit())
	code, _ := s.do(t, http.MethodPost, "/upload_video", "", map[string]any{"uploader": "U", "prediction": "FAKE", "video_hash": "ab"})
	require.Equal(t, http.StatusAccepted, code)

	s.clock.Advance(2 * time.Minute)
	req := httptest.NewRequest(http.MethodGet, "/chain", nil)
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	var chain []core.Block
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &chain))
	require.Len(t, chain, 1)

	code, body := s.do(t, http.MethodGet, "/pending_block", "", nil)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "No pending block", body["message"])
}

func TestUploadErrors(t *testing.T) {
	s := newTestServer(t, noLimit())

	code, body := s.do(t, http.MethodPost, "/upload_video", "", map[string]any{"uploader": "U", "prediction": "REAL", "video_hash": "ab", "fee": 500})
	require.Equal(t, http.StatusPaymentRequired, code)
	require.Equal(t, "insufficient_funds", body["kind"])

	code, body = s.do(t, http.MethodPost, "/upload_video", "", map[string]any{"uploader": "U", "prediction": "MAYBE", "video_hash": "ab"})
	require.Equal(t, http.StatusBadRequest, code)
	require.Equal(t, "invalid_argument", body["kind"])

	code, _ = s.do(t, http.MethodGet, "/upload_video", "", nil)
	require.Equal(t, http.StatusMethodNotAllowed, code)
}

func TestRateLimit(t *testing.T) {
	cfg := api.DefaultConfig()
	cfg.RateLimit = 1
	cfg.RateBurst = 1
	s := newTestServer(t, cfg)

	code, _ := s.do(t, http.MethodGet, "/", "", nil)
	require.Equal(t, http.StatusOK, code)
	code, _ = s.do(t, http.MethodGet, "/", "", nil)
	require.Equal(t, http.StatusTooManyRequests, code)
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t, noLimit())
	s.do(t, http.MethodPost, "/upload_video", "", map[string]any{"uploader": "U", "prediction": "REAL", "video_hash": "ab"})

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "verity_rounds_opened_total 1")
	require.Contains(t, rec.Body.String(), "verity_chain_height 1")
}

func TestWebsocketFeed(t *testing.T) {
	s := newTestServer(t, noLimit())
	ts := httptest.NewServer(s.handler)
	defer ts.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return s.hub.Clients() == 1 }, time.Second, 10*time.Millisecond)

	resp, err := http.Post(ts.URL+"/upload_video", "application/json", strings.NewReader(`{"uploader":"U","prediction":"FAKE","video_hash":"ab"}`))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var event core.Event
	require.NoError(t, conn.ReadJSON(&event))
	require.Equal(t, core.EventRoundOpened, event.Type)
	require.Equal(t, "U", event.Round.Submission.Uploader)

	s.hub.Close()
	require.Zero(t, s.hub.Clients())
}
