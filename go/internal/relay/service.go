package relay

import (
	"context"
	"net/http"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// Service is the broadcast relay: WebSocket fan-out per channel plus
// last-message retention per topic.
type Service struct {
	connectionManager *ConnectionManager
	wsHandler         *WebSocketHandler
	retention         Retention
}

// Config holds configuration for the relay service
type Config struct {
	ConnectionConfig ConnectionConfig
	Clock            clockwork.Clock
}

// DefaultConfig returns default configuration for the relay
func DefaultConfig() Config {
	return Config{
		ConnectionConfig: DefaultConnectionConfig(),
		Clock:            clockwork.NewRealClock(),
	}
}

// NewService creates a relay service. A nil retention keeps messages in memory.
func NewService(config Config, retention Retention) *Service {
	if retention == nil {
		retention = NewMemoryRetention()
	}
	cm := NewConnectionManager(config.ConnectionConfig, retention, config.Clock)
	return &Service{
		connectionManager: cm,
		wsHandler:         NewWebSocketHandler(cm, retention),
		retention:         retention,
	}
}

// Start runs the broadcast loop until ctx is cancelled
func (s *Service) Start(ctx context.Context) error {
	log.Info().Msg("starting relay service")
	s.connectionManager.Start(ctx)
	log.Info().Msg("relay service stopped")
	return nil
}

// RegisterRoutes registers the relay HTTP routes
func (s *Service) RegisterRoutes(mux *http.ServeMux) {
	s.wsHandler.RegisterRoutes(mux)
	log.Info().Msg("relay routes registered")
}

// GetStats returns statistics about the relay
func (s *Service) GetStats() Stats {
	return s.connectionManager.GetConnectionStats()
}
