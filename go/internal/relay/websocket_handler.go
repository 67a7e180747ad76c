package relay

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog/log"
)

// ChannelLister is implemented by retention backends that keep an inventory
// of channels.
type ChannelLister interface {
	Channels(ctx context.Context) ([]ChannelSummary, error)
}

// WebSocketHandler serves the relay's HTTP surface
type WebSocketHandler struct {
	connectionManager *ConnectionManager
	retention         Retention
}

// NewWebSocketHandler creates a new WebSocket handler
func NewWebSocketHandler(cm *ConnectionManager, retention Retention) *WebSocketHandler {
	return &WebSocketHandler{
		connectionManager: cm,
		retention:         retention,
	}
}

// HandleChannelConnection upgrades GET /ws?channel=<name>
func (h *WebSocketHandler) HandleChannelConnection(w http.ResponseWriter, r *http.Request) {
	channel := r.URL.Query().Get("channel")
	if channel == "" {
		http.Error(w, "channel is required", http.StatusBadRequest)
		return
	}
	if !ValidChannel(channel) {
		http.Error(w, ErrInvalidChannel.Error(), http.StatusBadRequest)
		return
	}

	// Upgrade writes its own error response on failure.
	if err := h.connectionManager.UpgradeConnection(w, r, channel); err != nil {
		log.Error().
			Err(err).
			Str("channel", channel).
			Msg("failed to upgrade WebSocket connection")
	}
}

// HandleConnectionStats returns statistics about active connections
func (h *WebSocketHandler) HandleConnectionStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.connectionManager.GetConnectionStats())
}

// HandleLastMessage handles GET /api/channels/{channel}/topics/{topic}/last
func (h *WebSocketHandler) HandleLastMessage(w http.ResponseWriter, r *http.Request) {
	channel, topic := r.PathValue("channel"), r.PathValue("topic")
	if !ValidChannel(channel) {
		http.Error(w, ErrInvalidChannel.Error(), http.StatusBadRequest)
		return
	}

	msg, found, err := h.connectionManager.Last(r.Context(), channel, topic)
	if err != nil {
		log.Error().Err(err).Str("channel", channel).Str("topic", topic).Msg("failed to get retained message")
		http.Error(w, "Failed to get retained message", http.StatusInternalServerError)
		return
	}
	if !found {
		http.Error(w, "no retained message", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, msg)
}

// HandleListChannels handles GET /api/channels when retention keeps an inventory
func (h *WebSocketHandler) HandleListChannels(w http.ResponseWriter, r *http.Request) {
	lister, ok := h.retention.(ChannelLister)
	if !ok {
		http.Error(w, "channel inventory requires durable retention", http.StatusNotImplemented)
		return
	}
	channels, err := lister.Channels(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("failed to list channels")
		http.Error(w, "Failed to list channels", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, channels)
}

// RegisterRoutes registers relay routes with an HTTP mux
func (h *WebSocketHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/ws", h.HandleChannelConnection)
	mux.HandleFunc("GET /ws/stats", h.HandleConnectionStats)
	mux.HandleFunc("GET /api/channels", h.HandleListChannels)
	mux.HandleFunc("GET /api/channels/{channel}/topics/{topic}/last", h.HandleLastMessage)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}
