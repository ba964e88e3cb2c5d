package handlers

import (
	_ "embed"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net"
	"net/http"
	"strings"

	"coursebot/models"
	"coursebot/services/chat"

	"github.com/gorilla/mux"
)

//go:embed index.html
var chatWidgetHTML []byte

type ChatHandler struct {
	service  *chat.Service
	evalMode bool
}

func NewChatHandler(service *chat.Service, evalMode bool) *ChatHandler {
	return &ChatHandler{service: service, evalMode: evalMode}
}

func (h *ChatHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/chat", h.Chat).Methods("POST")
	router.HandleFunc("/", h.Widget).Methods("GET")
}

// Chat streams the assistant reply as plain text, flushing each increment as
// it arrives. Rate-limit rejections and decode failures are the only JSON
// responses; once streaming has begun the status code is already sent.
func (h *ChatHandler) Chat(w http.ResponseWriter, r *http.Request) {
	var req models.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Printf("[ERROR] Failed to decode chat request JSON: %v", err)
		h.writeErrorResponse(w, http.StatusBadRequest, "Invalid JSON payload")
		return
	}

	if req.ConversationID == "" {
		log.Printf("[ERROR] Chat request missing conversation_id")
		h.writeErrorResponse(w, http.StatusBadRequest, "conversation_id is required")
		return
	}

	log.Printf("[INFO] Received chat request for conversation %s", req.ConversationID)

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")

	flusher, _ := w.(http.Flusher)
	wrote := false
	sink := func(chunk string) error {
		if _, err := io.WriteString(w, chunk); err != nil {
			return err
		}
		wrote = true
		if flusher != nil {
			flusher.Flush()
		}
		return nil
	}

	err := h.service.Respond(r.Context(), req.ConversationID, req.UserMessage, clientIP(r), h.evalModeForRequest(r), sink)
	switch {
	case err == nil:
	case errors.Is(err, chat.ErrRateLimited):
		log.Printf("[INFO] Rate limited client %s", clientIP(r))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		json.NewEncoder(w).Encode(map[string]string{"detail": "Rate limit exceeded (RPM)."})
	default:
		log.Printf("[ERROR] Chat turn failed for conversation %s: %v", req.ConversationID, err)
		if !wrote {
			h.writeErrorResponse(w, http.StatusInternalServerError, err.Error())
		}
	}
}

func (h *ChatHandler) Widget(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(chatWidgetHTML)
}

// evalModeForRequest resolves the per-request override: an X-Eval-Mode header
// wins over the configured default.
func (h *ChatHandler) evalModeForRequest(r *http.Request) bool {
	header := r.Header.Get("X-Eval-Mode")
	if header == "" {
		return h.evalMode
	}
	switch strings.ToLower(strings.TrimSpace(header)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	}
	return h.evalMode
}

func (h *ChatHandler) writeErrorResponse(w http.ResponseWriter, statusCode int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	if r.RemoteAddr != "" {
		return r.RemoteAddr
	}
	return "unknown"
}
