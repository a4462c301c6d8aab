package gateway

import (
	"context"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/afrintel/lms-realtime/internal/bus"
)

// Service composes the connection manager, the WebSocket handler, and the bus
// consumer that feeds broadcasts into this instance's connections.
type Service struct {
	manager  *ConnectionManager
	handler  *Handler
	consumer *bus.Consumer
}

// NewService wires the gateway. The consumer is created here so the
// manager-as-broadcaster coupling stays inside the package.
func NewService(config ConnectionConfig, auth *Authenticator, svc Coordinator, busCfg bus.Config) (*Service, error) {
	manager := NewConnectionManager(config)
	handler := NewHandler(manager, auth, svc)

	consumer, err := bus.NewConsumer(manager, busCfg)
	if err != nil {
		return nil, err
	}

	return &Service{
		manager:  manager,
		handler:  handler,
		consumer: consumer,
	}, nil
}

// Start runs the broadcast loop and the bus consumer until ctx is cancelled.
func (s *Service) Start(ctx context.Context) {
	go s.manager.Start(ctx)
	go func() {
		if err := s.consumer.Start(ctx); err != nil {
			log.Error().Err(err).Msg("event consumer failed")
		}
	}()
	log.Info().Msg("gateway service started")
}

// Stop releases the bus connection.
func (s *Service) Stop() {
	s.consumer.Close()
	log.Info().Msg("gateway service stopped")
}

// RegisterRoutes registers the gateway's HTTP routes.
func (s *Service) RegisterRoutes(mux *http.ServeMux) {
	s.handler.RegisterRoutes(mux)
}
