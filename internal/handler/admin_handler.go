// Package handler provides HTTP handlers for the admin API.
package handler

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/taskhive/chatcache/internal/health"
	"github.com/taskhive/chatcache/internal/service"
	"go.uber.org/zap"
)

// AdminHandler exposes the chat history API, cache statistics, and cache
// invalidation over HTTP
type AdminHandler struct {
	chat          *service.ChatHistoryService
	conversations *service.ConversationCache
	batcher       *service.QueryBatcher
	prefetcher    *service.PredictivePrefetcher
	loader        *service.LazyHistoryLoader
	health        *health.HealthChecker
	logger        *zap.Logger
}

// NewAdminHandler creates a new admin handler
func NewAdminHandler(
	chat *service.ChatHistoryService,
	conversations *service.ConversationCache,
	batcher *service.QueryBatcher,
	prefetcher *service.PredictivePrefetcher,
	loader *service.LazyHistoryLoader,
	checker *health.HealthChecker,
	logger *zap.Logger,
) *AdminHandler {
	return &AdminHandler{
		chat:          chat,
		conversations: conversations,
		batcher:       batcher,
		prefetcher:    prefetcher,
		loader:        loader,
		health:        checker,
		logger:        logger,
	}
}

// RegisterRoutes attaches the admin endpoints to a router
func (h *AdminHandler) RegisterRoutes(router *mux.Router) {
	v1 := router.PathPrefix("/v1").Subrouter()
	v1.HandleFunc("/stats", h.GetStats).Methods(http.MethodGet)
	v1.HandleFunc("/cache/invalidate", h.InvalidateCache).Methods(http.MethodPost)
	v1.HandleFunc("/healthz", h.Healthz).Methods(http.MethodGet)

	v1.HandleFunc("/users/{user_id}/history", h.GetHistory).Methods(http.MethodGet)
	v1.HandleFunc("/users/{user_id}/history/page", h.LoadPage).Methods(http.MethodGet)
	v1.HandleFunc("/users/{user_id}/messages", h.PostMessage).Methods(http.MethodPost)
	v1.HandleFunc("/users/{user_id}/data", h.QueryData).Methods(http.MethodGet)
}

// GetHistory handles GET /v1/users/{user_id}/history requests
func (h *AdminHandler) GetHistory(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["user_id"]
	conversationID := r.URL.Query().Get("conversation_id")
	if conversationID == "" {
		conversationID = "default"
	}

	messages := h.chat.GetHistory(r.Context(), userID, conversationID)
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"user_id":  userID,
		"messages": messages,
	})
}

// LoadPage handles GET /v1/users/{user_id}/history/page requests, returning
// the next page of history for incremental rendering
func (h *AdminHandler) LoadPage(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["user_id"]

	messages := h.chat.LoadPage(r.Context(), userID)
	state, _ := h.loader.State(userID)

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"user_id":  userID,
		"messages": messages,
		"has_more": state.HasMore,
	})
}

// postMessageRequest carries a new user message
type postMessageRequest struct {
	ConversationID string `json:"conversation_id"`
	Content        string `json:"content"`
}

// PostMessage handles POST /v1/users/{user_id}/messages requests
func (h *AdminHandler) PostMessage(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["user_id"]

	var req postMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if req.Content == "" {
		h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "content is required"})
		return
	}
	if req.ConversationID == "" {
		req.ConversationID = "default"
	}

	msg, err := h.chat.SendUserMessage(r.Context(), userID, req.ConversationID, req.Content)
	if err != nil {
		h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	h.writeJSON(w, http.StatusCreated, msg)
}

// QueryData handles GET /v1/users/{user_id}/data requests, serving table
// queries through the predictive cache and the batcher
func (h *AdminHandler) QueryData(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["user_id"]
	table := r.URL.Query().Get("table")
	operation := r.URL.Query().Get("operation")
	if table == "" || operation == "" {
		h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "table and operation are required"})
		return
	}

	params := map[string]string{}
	for k, values := range r.URL.Query() {
		if k == "table" || k == "operation" || len(values) == 0 {
			continue
		}
		params[k] = values[0]
	}

	data, err := h.chat.QueryUserData(r.Context(), userID, table, operation, params)
	if err != nil {
		h.writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"user_id": userID,
		"table":   table,
		"data":    data,
	})
}

// statsResponse aggregates the per-component statistics
type statsResponse struct {
	Conversations service.ConversationCacheStats `json:"conversations"`
	Batcher       service.QueryBatcherStats      `json:"batcher"`
	Prefetcher    service.PrefetcherStats        `json:"prefetcher"`
}

// GetStats handles GET /v1/stats requests
func (h *AdminHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	resp := statsResponse{
		Conversations: h.conversations.Stats(),
		Batcher:       h.batcher.Stats(),
		Prefetcher:    h.prefetcher.Stats(),
	}

	h.writeJSON(w, http.StatusOK, resp)
}

// invalidateRequest selects what to drop from the caches. ConversationID
// narrows the drop to one conversation; Table flushes the query result cache
// for that table.
type invalidateRequest struct {
	UserID         string `json:"user_id"`
	ConversationID string `json:"conversation_id"`
	Table          string `json:"table"`
}

// InvalidateCache handles POST /v1/cache/invalidate requests
func (h *AdminHandler) InvalidateCache(w http.ResponseWriter, r *http.Request) {
	var req invalidateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	if req.UserID == "" && req.Table == "" {
		h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "user_id or table is required"})
		return
	}

	if req.UserID != "" {
		if req.ConversationID != "" {
			h.conversations.Invalidate(req.UserID, req.ConversationID)
		} else {
			h.conversations.InvalidateUser(req.UserID)
		}
		h.loader.Reset(req.UserID)
	}

	if req.Table != "" {
		h.batcher.InvalidateTable(req.Table)
	}

	h.logger.Info("Cache invalidated via admin API",
		zap.String("user_id", req.UserID),
		zap.String("conversation_id", req.ConversationID),
		zap.String("table", req.Table))

	h.writeJSON(w, http.StatusOK, map[string]string{"status": "invalidated"})
}

// Healthz handles GET /v1/healthz requests
func (h *AdminHandler) Healthz(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	ready := true
	if h.health != nil && !h.health.IsReady() {
		status = http.StatusServiceUnavailable
		ready = false
	}

	checks := map[string]string{}
	if h.health != nil {
		for name, result := range h.health.GetChecks() {
			checks[name] = result.Status
		}
	}

	h.writeJSON(w, status, map[string]interface{}{
		"ready":  ready,
		"checks": checks,
	})
}

// writeJSON writes a JSON response with the given status code
func (h *AdminHandler) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.Error("Failed to encode response", zap.Error(err))
	}
}
