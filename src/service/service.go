package service

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog"

	"github.com/video2commons/relay/src/dispatch"
	"github.com/video2commons/relay/src/hub"
	"github.com/video2commons/relay/src/session"
	"github.com/video2commons/relay/src/types"
)

// Validator authenticates a socket's auth message. The session package
// provides the real implementation; tests fake it.
type Validator interface {
	Validate(ctx context.Context, iosession, csrfToken string) (*session.Auth, error)
}

// Feed produces change events for the dispatcher and has a lifecycle.
type Feed interface {
	Start() error
	Stop()
	Events() <-chan types.ChangeEvent
}

// Service wires the hub, session validator, change feed and dispatcher into
// one relay with explicit start/stop. It owns no persistent state: rooms die
// with connections, task data lives in the backend.
type Service struct {
	hub        *hub.Hub
	validator  Validator
	feed       Feed
	dispatcher *dispatch.Dispatcher
	logger     zerolog.Logger
}

// New assembles a relay service. fetcher resolves single-task refreshes for
// the dispatcher.
func New(h *hub.Hub, validator Validator, feed Feed, fetcher dispatch.Fetcher, logger zerolog.Logger) *Service {
	s := &Service{
		hub:        h,
		validator:  validator,
		feed:       feed,
		dispatcher: dispatch.New(h, fetcher, feed.Events(), logger),
		logger:     logger.With().Str("component", "service").Logger(),
	}
	h.RegisterHandler("auth", s.handleAuth)
	return s
}

// Hub returns the underlying hub.
func (s *Service) Hub() *hub.Hub { return s.hub }

// Start launches the hub loop, the feed subscriptions and the dispatcher.
func (s *Service) Start() error {
	go s.hub.Run()
	if err := s.feed.Start(); err != nil {
		s.hub.Stop()
		return err
	}
	go s.dispatcher.Run()
	s.logger.Info().Msg("relay service started")
	return nil
}

// Stop tears everything down in reverse order.
func (s *Service) Stop() {
	s.feed.Stop()
	s.dispatcher.Stop()
	s.hub.Stop()
	s.logger.Info().Msg("relay service stopped")
}

// handleAuth runs the authentication handshake for one connection. Success
// joins the backend-authorized rooms and pushes the initial snapshot; any
// failure disconnects the socket. No retry here: the client reconnects.
func (s *Service) handleAuth(clientID string, raw []byte) {
	var req types.AuthRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		s.logger.Debug().Str("client_id", clientID).Msg("malformed auth message")
		s.hub.Disconnect(clientID)
		return
	}

	auth, err := s.validator.Validate(context.Background(), req.IOSession, req.CSRFToken)
	if err != nil {
		s.logger.Info().Str("client_id", clientID).Msg("auth failed, disconnecting")
		s.hub.Disconnect(clientID)
		return
	}

	client := s.hub.Client(clientID)
	if client == nil {
		// Disconnected while the lookups were in flight.
		return
	}
	client.SetUser(auth.User)

	// Snapshot before any room join: once the client is a room member,
	// dispatched updates land in its send queue, and a latest-wins client
	// must never see the older snapshot after a fresher update.
	s.hub.SendToClient(clientID, types.Message{
		Event: types.EventStatus,
		Data:  auth.Snapshot,
	})

	s.hub.Join(types.AllTasksRoom, clientID)
	s.hub.Join(types.UserRoom(auth.User), clientID)
	for _, room := range auth.Snapshot.Rooms {
		s.hub.Join(room, clientID)
	}

	s.logger.Info().
		Str("client_id", clientID).
		Str("user", auth.User).
		Int("rooms", len(auth.Snapshot.Rooms)+2).
		Msg("client authenticated")
}
