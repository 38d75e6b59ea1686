package chat

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"github.com/smallnest/chatmemory/log"
	"github.com/smallnest/chatmemory/memory"
)

// Handler serves the chat and history endpoints.
// Parameters are read from the query string or a form body.
//
//	POST   /chat          user_id, session_id, user_input -> {"answer": ...}
//	POST   /chat/stream   same parameters, answer streamed as text/event-stream
//	GET    /history       user_id[, session_id] -> {"history": ...}
//	DELETE /history       user_id, session_id
//	POST   /sessions      -> {"session_id": ...}
//	GET    /stats         cache and store counters
type Handler struct {
	service *Service
	memory  *memory.SessionMemory
	logger  log.Logger
	mux     *http.ServeMux
}

// NewHandler creates the HTTP handler for service
func NewHandler(service *Service, logger log.Logger) *Handler {
	if logger == nil {
		logger = &log.NoOpLogger{}
	}
	h := &Handler{
		service: service,
		memory:  service.Memory(),
		logger:  logger,
		mux:     http.NewServeMux(),
	}
	h.mux.HandleFunc("/chat", h.handleChat)
	h.mux.HandleFunc("/chat/stream", h.handleChatStream)
	h.mux.HandleFunc("/history", h.handleHistory)
	h.mux.HandleFunc("/sessions", h.handleNewSession)
	h.mux.HandleFunc("/stats", h.handleStats)
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

type chatParams struct {
	userID    string
	sessionID string
	input     string
}

func (h *Handler) chatParams(w http.ResponseWriter, r *http.Request) (chatParams, bool) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return chatParams{}, false
	}
	p := chatParams{
		userID:    r.FormValue("user_id"),
		sessionID: r.FormValue("session_id"),
		input:     r.FormValue("user_input"),
	}
	if p.userID == "" || p.sessionID == "" || p.input == "" {
		http.Error(w, "user_id, session_id and user_input are required", http.StatusBadRequest)
		return chatParams{}, false
	}
	return p, true
}

// handleChat answers one question
func (h *Handler) handleChat(w http.ResponseWriter, r *http.Request) {
	p, ok := h.chatParams(w, r)
	if !ok {
		return
	}

	answer, err := h.service.Ask(r.Context(), p.userID, p.sessionID, p.input)
	if err != nil {
		h.logger.Error("chat failed for %s/%s: %v", p.userID, p.sessionID, err)
		http.Error(w, "Chat failed", http.StatusBadGateway)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"answer": answer})
}

// handleChatStream streams tokens as they are produced
func (h *Handler) handleChatStream(w http.ResponseWriter, r *http.Request) {
	p, ok := h.chatParams(w, r)
	if !ok {
		return
	}

	flusher, _ := w.(http.Flusher)
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")

	_, err := h.service.AskStream(r.Context(), p.userID, p.sessionID, p.input, func(token string) error {
		if _, err := w.Write([]byte(token)); err != nil {
			return err
		}
		if flusher != nil {
			flusher.Flush()
		}
		return nil
	})
	if err != nil {
		// Headers are already out; the client sees a truncated stream
		h.logger.Error("streaming chat failed for %s/%s: %v", p.userID, p.sessionID, err)
	}
}

// handleHistory reads or deletes history
func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	userID := r.FormValue("user_id")
	sessionID := r.FormValue("session_id")

	switch r.Method {
	case http.MethodGet:
		if userID == "" {
			http.Error(w, "user_id is required", http.StatusBadRequest)
			return
		}
		if sessionID != "" {
			writeJSON(w, http.StatusOK, map[string]any{
				"history": h.memory.Read(r.Context(), userID, sessionID),
			})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"history": h.memory.ReadAll(r.Context(), userID),
		})

	case http.MethodDelete:
		if userID == "" || sessionID == "" {
			http.Error(w, "user_id and session_id are required", http.StatusBadRequest)
			return
		}
		if !h.memory.Delete(r.Context(), userID, sessionID) {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "Failed to delete session history",
			})
			return
		}
		h.logger.Info("deleted history %s/%s", userID, sessionID)
		writeJSON(w, http.StatusOK, map[string]string{
			"message": "Session history deleted successfully",
		})

	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleNewSession hands out a fresh session ID
func (h *Handler) handleNewSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"session_id": uuid.New().String(),
	})
}

func (h *Handler) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	stats := h.memory.Stats()
	writeJSON(w, http.StatusOK, map[string]any{
		"cached_sessions": stats.CachedSessions,
		"ttl_seconds":     stats.TTL.Seconds(),
		"hits":            stats.Hits,
		"misses":          stats.Misses,
		"hit_rate":        stats.HitRate(),
		"evictions":       stats.Evictions,
		"store_errors":    stats.StoreErrors,
	})
}
