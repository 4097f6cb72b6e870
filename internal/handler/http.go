package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/quizarena/internal/config"
	"github.com/quizarena/internal/domain"
	"github.com/quizarena/internal/engine"
	"github.com/quizarena/internal/postgres"
	"github.com/quizarena/internal/redis"
	"github.com/quizarena/internal/websocket"
)

// Handler provides the HTTP surface: the WebSocket upgrade, read-only
// rating and match-history lookups, and the question-bank admin import.
type Handler struct {
	ratings *redis.RatingStore
	repo    *postgres.Repository
	engine  *engine.Engine
	hub     *websocket.Hub
	history *config.HistoryConfig
	logger  *slog.Logger
}

// NewHandler creates a new HTTP handler
func NewHandler(
	ratings *redis.RatingStore,
	repo *postgres.Repository,
	eng *engine.Engine,
	hub *websocket.Hub,
	historyCfg *config.HistoryConfig,
	logger *slog.Logger,
) *Handler {
	return &Handler{
		ratings: ratings,
		repo:    repo,
		engine:  eng,
		hub:     hub,
		history: historyCfg,
		logger:  logger,
	}
}

// APIResponse represents a standard API response
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// Router creates and configures the HTTP router
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	r.Use(corsMiddleware)

	// Health check
	r.Get("/health", h.HealthCheck)
	r.Get("/ready", h.ReadyCheck)

	// WebSocket endpoint
	r.Get("/ws", h.HandleWebSocket)

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/ratings/{username}", h.GetRatings)
		r.Post("/ratings/{username}/topics/{topic}", h.InitTopicRating)
		r.Get("/matches/{username}", h.GetMatches)
		r.Post("/questions", h.ImportQuestions)
		r.Get("/questions/count", h.CountQuestions)
		r.Get("/engine/stats", h.GetEngineStats)
	})

	return r
}

// corsMiddleware adds CORS headers
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Accept, Authorization, Content-Type, X-Request-ID")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// writeJSON writes a JSON response
func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeSuccess writes a successful JSON response
func (h *Handler) writeSuccess(w http.ResponseWriter, data interface{}) {
	h.writeJSON(w, http.StatusOK, APIResponse{
		Success: true,
		Data:    data,
	})
}

// writeError writes an error JSON response
func (h *Handler) writeError(w http.ResponseWriter, status int, err error) {
	h.writeJSON(w, status, APIResponse{
		Success: false,
		Error:   err.Error(),
	})
}

// HandleWebSocket handles WebSocket upgrade requests
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	websocket.ServeWs(h.hub, h.logger, w, r)
}

// HealthCheck returns service health status
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	h.writeSuccess(w, map[string]string{"status": "healthy"})
}

// ReadyCheck returns service readiness status
func (h *Handler) ReadyCheck(w http.ResponseWriter, r *http.Request) {
	h.writeSuccess(w, map[string]string{"status": "ready"})
}

// GetEngineStats returns live queue and session counts
func (h *Handler) GetEngineStats(w http.ResponseWriter, r *http.Request) {
	h.writeSuccess(w, map[string]interface{}{
		"queued_tickets":    h.engine.QueueLen(),
		"active_sessions":   h.engine.ActiveSessions(),
		"total_connections": h.hub.TotalConnections(),
	})
}

// GetRatings returns a player's full rating record
func (h *Handler) GetRatings(w http.ResponseWriter, r *http.Request) {
	username := chi.URLParam(r, "username")
	if username == "" {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}

	record, err := h.ratings.GetRatings(r.Context(), username)
	if err != nil {
		if errors.Is(err, domain.ErrNoRatingRecord) {
			h.writeError(w, http.StatusNotFound, err)
			return
		}
		h.logger.Error("failed to get ratings", "username", username, "error", err)
		h.writeError(w, http.StatusInternalServerError, domain.ErrInternalError)
		return
	}

	h.writeSuccess(w, record)
}

// InitTopicRating bootstraps a zeroed rating entry for a player and
// topic. The battle engine itself never creates records, so this is how
// a player becomes eligible to queue for a new topic.
func (h *Handler) InitTopicRating(w http.ResponseWriter, r *http.Request) {
	username := chi.URLParam(r, "username")
	topic := chi.URLParam(r, "topic")
	if username == "" || topic == "" {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}

	created, err := h.ratings.InitRating(r.Context(), username, topic, domain.TopicStats{})
	if err != nil {
		h.logger.Error("failed to init rating", "username", username, "topic", topic, "error", err)
		h.writeError(w, http.StatusInternalServerError, domain.ErrInternalError)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	h.writeJSON(w, status, APIResponse{
		Success: true,
		Data:    map[string]interface{}{"created": created},
	})
}

// GetMatches returns a player's recent match history
func (h *Handler) GetMatches(w http.ResponseWriter, r *http.Request) {
	username := chi.URLParam(r, "username")
	if username == "" {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}

	limit := h.history.DefaultLimit
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 {
			limit = l
		}
	}
	if limit > h.history.MaxLimit {
		limit = h.history.MaxLimit
	}

	records, err := h.repo.ListMatches(r.Context(), username, limit)
	if err != nil {
		h.logger.Error("failed to list matches", "username", username, "error", err)
		h.writeError(w, http.StatusInternalServerError, domain.ErrInternalError)
		return
	}

	h.writeSuccess(w, records)
}

// ImportQuestions bulk-inserts questions into the bank
func (h *Handler) ImportQuestions(w http.ResponseWriter, r *http.Request) {
	var imports []domain.QuestionImport
	if err := json.NewDecoder(r.Body).Decode(&imports); err != nil {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}

	valid := imports[:0]
	for i := range imports {
		if imports[i].Valid() {
			valid = append(valid, imports[i])
		}
	}
	if len(valid) == 0 {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}

	if err := h.repo.ImportQuestions(r.Context(), valid); err != nil {
		h.logger.Error("failed to import questions", "error", err)
		h.writeError(w, http.StatusInternalServerError, domain.ErrInternalError)
		return
	}

	h.writeJSON(w, http.StatusCreated, APIResponse{
		Success: true,
		Data:    map[string]interface{}{"imported": len(valid)},
	})
}

// CountQuestions reports the size of one tier's question pool, used by
// content operators to check coverage before a topic goes live
func (h *Handler) CountQuestions(w http.ResponseWriter, r *http.Request) {
	topic := r.URL.Query().Get("topic")
	tierStr := r.URL.Query().Get("tier")
	tier, err := strconv.Atoi(tierStr)
	if topic == "" || err != nil || tier < 1 {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}

	count, err := h.repo.QuestionCount(r.Context(), topic, tier)
	if err != nil {
		h.logger.Error("failed to count questions", "topic", topic, "tier", tier, "error", err)
		h.writeError(w, http.StatusInternalServerError, domain.ErrInternalError)
		return
	}

	h.writeSuccess(w, map[string]interface{}{
		"topic": topic,
		"tier":  tier,
		"count": count,
	})
}
