package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"proof-vault/models"
	"proof-vault/service"
)

const defaultFailureLimit = 10

// Engine is the verification surface the HTTP API exposes.
type Engine interface {
	VerifyVote(vote *models.Vote, proof *models.Proof) *models.VerificationResult
	GetMetrics() models.Metrics
	GetVaultHistory() []models.AuditEntry
	GetRecentFailures(n int) []models.AuditEntry
	ClearVaultHistory(ctx context.Context) error
	FallbackState() service.FallbackState
}

type VerifyRequest struct {
	Vote  *models.Vote  `json:"vote"`
	Proof *models.Proof `json:"proof"`
}

type HistoryResponse struct {
	Count   int                 `json:"count"`
	Entries []models.AuditEntry `json:"entries"`
}

type FallbackResponse struct {
	State     string  `json:"state"`
	Activated bool    `json:"activated"`
	Desync    float64 `json:"desync_rate"`
}

type Server struct {
	engine  Engine
	metrics http.Handler
	logger  *zap.Logger
}

// NewServer wires the engine to HTTP handlers. metrics may be nil.
func NewServer(engine Engine, metrics http.Handler, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{engine: engine, metrics: metrics, logger: logger}
}

// Routes returns the HTTP routes
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/verify", s.handleVerify)
	mux.HandleFunc("/api/metrics", s.handleGetMetrics)
	mux.HandleFunc("/api/history", s.handleGetHistory)
	mux.HandleFunc("/api/history/clear", s.handleClearHistory)
	mux.HandleFunc("/api/failures", s.handleGetFailures)
	mux.HandleFunc("/api/fallback", s.handleGetFallback)
	if s.metrics != nil {
		mux.Handle("/metrics", s.metrics)
	}
	return mux
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req VerifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	// Failed verifications are still a successful request; the result carries the reason
	result := s.engine.VerifyVote(req.Vote, req.Proof)
	if !result.Valid {
		s.logger.Debug("verification rejected",
			zap.String("proof_id", result.ProofID),
			zap.String("reason", result.Error))
	}
	s.writeJSON(w, result)
}

func (s *Server) handleGetMetrics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.writeJSON(w, s.engine.GetMetrics())
}

func (s *Server) handleGetHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	entries := s.engine.GetVaultHistory()
	s.writeJSON(w, HistoryResponse{Count: len(entries), Entries: entries})
}

func (s *Server) handleGetFailures(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	n := defaultFailureLimit
	if raw := r.URL.Query().Get("n"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			http.Error(w, "Invalid failure count", http.StatusBadRequest)
			return
		}
		n = parsed
	}

	entries := s.engine.GetRecentFailures(n)
	s.writeJSON(w, HistoryResponse{Count: len(entries), Entries: entries})
}

func (s *Server) handleClearHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()
	if err := s.engine.ClearVaultHistory(ctx); err != nil {
		http.Error(w, fmt.Sprintf("Failed to clear persisted history: %v", err), http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, map[string]bool{"success": true})
}

func (s *Server) handleGetFallback(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	m := s.engine.GetMetrics()
	s.writeJSON(w, FallbackResponse{
		State:     s.engine.FallbackState().String(),
		Activated: m.FallbackActivated,
		Desync:    m.DesyncRate,
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Debug("failed to write response", zap.Error(err))
	}
}
