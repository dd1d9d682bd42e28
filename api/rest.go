package api

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/Artfain/verity/core"
)

// Config holds the HTTP surface settings.
type Config struct {
	ListenAddr     string   `yaml:"listen_addr"`
	RateLimit      float64  `yaml:"rate_limit"`
	RateBurst      int      `yaml:"rate_burst"`
	AllowedOrigins []string `yaml:"allowed_origins"`
	// SweepInterval enables a background sweep of expired rounds. Zero
	// leaves expiry to the next request.
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

// DefaultConfig returns a default configuration
func DefaultConfig() Config {
	return Config{
		ListenAddr:     ":5000",
		RateLimit:      100,
		RateBurst:      100,
		AllowedOrigins: []string{"*"},
	}
}

// Server exposes the round engine over HTTP.
type Server struct {
	cfg     Config
	state   *core.State
	hub     *Hub
	limiter *rate.Limiter
	metrics prometheus.Gatherer
	logger  zerolog.Logger
	router  *mux.Router
}

// NewServer builds the routes. metrics may be nil to disable /metrics.
func NewServer(cfg Config, state *core.State, hub *Hub, metrics prometheus.Gatherer, logger zerolog.Logger) *Server {
	s := &Server{
		cfg:     cfg,
		state:   state,
		hub:     hub,
		metrics: metrics,
		logger:  logger,
		router:  mux.NewRouter(),
	}
	if cfg.RateLimit > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), max(1, cfg.RateBurst))
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	r := s.router
	r.Use(s.rateLimit)
	r.HandleFunc("/", s.handleHome).Methods(http.MethodGet)
	r.HandleFunc("/upload_video", s.handleOpenRound).Methods(http.MethodPost)
	r.HandleFunc("/rounds", s.handleOpenRound).Methods(http.MethodPost)
	r.HandleFunc("/pending_block", s.handleStatus).Methods(http.MethodGet)
	r.HandleFunc("/vote", s.handleVote).Methods(http.MethodPost)
	r.HandleFunc("/chain", s.handleChain).Methods(http.MethodGet)
	r.HandleFunc("/validate", s.handleValidate).Methods(http.MethodGet)
	r.HandleFunc("/register_node", s.handleRegisterNode).Methods(http.MethodPost)
	r.HandleFunc("/nodes", s.handleNodes).Methods(http.MethodGet)
	r.HandleFunc("/accounts/{id}", s.handleAccount).Methods(http.MethodGet)
	if s.hub != nil {
		r.Handle("/ws", s.hub).Methods(http.MethodGet)
	}
	if s.metrics != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.metrics, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}
}

// Handler returns the router wrapped with CORS handling.
func (s *Server) Handler() http.Handler {
	return cors.New(cors.Options{
		AllowedOrigins: s.cfg.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost},
		AllowedHeaders: []string{"Content-Type"},
	}).Handler(s.router)
}

// ListenAndServe serves until ctx is done, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.ListenAddr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", s.cfg.ListenAddr).Msg("http server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if s.hub != nil {
		s.hub.Close()
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.limiter != nil && !s.limiter.Allow() {
			http.Error(w, "Rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHome(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "Video verification ledger",
		"endpoints": map[string]string{
			"POST /upload_video":  "Classify a video and open a voting round",
			"POST /vote":          "Vote REAL or FAKE on the pending round",
			"GET /pending_block":  "Pending round, remaining time and required votes",
			"GET /chain":          "View the verdict chain",
			"GET /validate":       "Check the chain hashes",
			"POST /register_node": "Register a voting node",
			"GET /nodes":          "List registered nodes",
			"GET /accounts/{id}":  "Account balance, reward and reputation",
			"GET /ws":             "Round event feed",
		},
	})
}

type openRoundRequest struct {
	Uploader   string `json:"uploader"`
	Prediction string `json:"prediction"`
	ContentRef string `json:"content_ref"`
	Content    []byte `json:"content"`
	VideoHash  string `json:"video_hash"`
	Fee        *int64 `json:"fee"`
}

func (s *Server) handleOpenRound(w http.ResponseWriter, r *http.Request) {
	var req openRoundRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	round, err := s.state.OpenRound(r.Context(), core.OpenRequest{
		Uploader:   req.Uploader,
		Prediction: req.Prediction,
		ContentRef: req.ContentRef,
		Content:    req.Content,
		VideoHash:  req.VideoHash,
		Fee:        req.Fee,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"message":       "Round opened, waiting for votes",
		"pending_block": round,
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.state.Consensus.Status()
	if err != nil {
		s.writeError(w, err)
		return
	}
	if st.Round == nil {
		writeJSON(w, http.StatusOK, map[string]any{
			"message":        "No pending block",
			"required_votes": st.RequiredVotes,
			"total_nodes":    st.TotalNodes,
		})
		return
	}
	writeJSON(w, http.StatusOK, st)
}

type voteRequest struct {
	Node string `json:"node"`
	Vote string `json:"vote"`
}

func (s *Server) handleVote(w http.ResponseWriter, r *http.Request) {
	var req voteRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	res, err := s.state.Consensus.CastVote(core.NodeID(req.Node), req.Vote)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if res.Outcome != nil {
		writeJSON(w, http.StatusCreated, map[string]any{
			"message": "Consensus reached, block added",
			"outcome": res.Outcome,
			"block":   res.Outcome.Block,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "Vote recorded, waiting for more votes",
		"status":  res.Status,
	})
}

func (s *Server) handleChain(w http.ResponseWriter, r *http.Request) {
	// a read is a sweep opportunity too
	if _, err := s.state.Consensus.Sweep(); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.state.Ledger.Blocks())
}

func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	err := s.state.Ledger.Validate()
	var bad *core.InvalidBlockError
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]any{"valid": true, "length": s.state.Ledger.Len()})
	case errors.As(err, &bad):
		writeJSON(w, http.StatusOK, map[string]any{"valid": false, "index": bad.Index, "reason": bad.Reason})
	default:
		s.writeError(w, err)
	}
}

type registerRequest struct {
	Node string `json:"node"`
}

func (s *Server) handleRegisterNode(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	id, err := s.state.Registry.Register(req.Node, remoteHost(r))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"message": "Node registered",
		"node_id": id,
		"nodes":   s.state.Registry.Nodes(),
	})
}

func (s *Server) handleNodes(w http.ResponseWriter, r *http.Request) {
	nodes := s.state.Registry.Nodes()
	writeJSON(w, http.StatusOK, map[string]any{"nodes": nodes, "total": len(nodes)})
}

type accountResponse struct {
	ID string `json:"id"`
	core.Account
}

func (s *Server) handleAccount(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	writeJSON(w, http.StatusOK, accountResponse{ID: id, Account: s.state.Accounts.Get(id)})
}

func remoteHost(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid JSON body: " + err.Error(), Kind: "invalid_argument"})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
