package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/afrintel/lms-realtime/internal/events"
	"github.com/afrintel/lms-realtime/internal/models"
	"github.com/afrintel/lms-realtime/internal/store"
)

// Client event names. These mirror the channels in internal/events.
const (
	clientTeamJoin        = "team:join"
	clientChallengeStart  = "challenge:start"
	clientChallengeSubmit = "challenge:submit"
)

// dispatchTimeout bounds the service work a single client message may do.
const dispatchTimeout = 15 * time.Second

// Coordinator is the challenge service surface the handler drives.
type Coordinator interface {
	JoinTeam(ctx context.Context, user *models.User, teamID string) (*models.Team, error)
	StartChallenge(ctx context.Context, user *models.User, challengeID string) (*models.Challenge, time.Time, error)
	SubmitSolution(ctx context.Context, user *models.User, challengeID, teamID, solution string) (int, error)
}

// Handler owns the WebSocket endpoint: authenticates handshakes, upgrades
// connections, and dispatches client messages to the coordinator. Every
// failure inside a dispatch becomes a scoped `error` event; nothing escapes
// to crash the process.
type Handler struct {
	manager *ConnectionManager
	auth    *Authenticator
	svc     Coordinator
}

// ClientMessage is the envelope clients send.
type ClientMessage struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// NewHandler creates a handler and installs its dispatch on the manager.
func NewHandler(manager *ConnectionManager, auth *Authenticator, svc Coordinator) *Handler {
	h := &Handler{manager: manager, auth: auth, svc: svc}
	manager.SetMessageHandler(h.dispatch)
	return h
}

// HandleWS authenticates and upgrades a connection. An invalid or missing
// token rejects the handshake before any handler is registered.
func (h *Handler) HandleWS(w http.ResponseWriter, r *http.Request) {
	user, err := h.auth.Authenticate(r)
	if err != nil {
		log.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("rejected WebSocket handshake")
		http.Error(w, "authentication required", http.StatusUnauthorized)
		return
	}

	if _, err := h.manager.UpgradeConnection(w, r, user); err != nil {
		log.Error().Err(err).Str("user_id", user.ID).Msg("failed to upgrade WebSocket connection")
	}
}

// HandleStats reports live connection counts.
func (h *Handler) HandleStats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(h.manager.GetStats()); err != nil {
		log.Error().Err(err).Msg("failed to write stats response")
	}
}

// RegisterRoutes registers the gateway's HTTP routes.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/ws", h.HandleWS)
	mux.HandleFunc("/stats", h.HandleStats)
}

// dispatch routes one client message. Recovers panics into a scoped error so
// a bad message can only ever hurt its own connection.
func (h *Handler) dispatch(conn *Connection, raw []byte) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Interface("panic", r).
				Str("connection_id", conn.ID).
				Msg("recovered panic in message dispatch")
			h.sendError(conn, "internal error")
		}
	}()

	var msg ClientMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		h.sendError(conn, "malformed message")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), dispatchTimeout)
	defer cancel()

	switch msg.Event {
	case clientTeamJoin:
		h.handleTeamJoin(ctx, conn, msg.Data)
	case clientChallengeStart:
		h.handleChallengeStart(ctx, conn, msg.Data)
	case clientChallengeSubmit:
		h.handleChallengeSubmit(ctx, conn, msg.Data)
	default:
		h.sendError(conn, "unknown event: "+msg.Event)
	}
}

func (h *Handler) handleTeamJoin(ctx context.Context, conn *Connection, data json.RawMessage) {
	var req struct {
		TeamID string `json:"teamId"`
	}
	if err := json.Unmarshal(data, &req); err != nil || req.TeamID == "" {
		h.sendError(conn, "teamId is required")
		return
	}

	// Subscribe before the join so the member_joined broadcast reaches the
	// joiner too; roll back if the join fails.
	room := events.TeamRoom(req.TeamID)
	h.manager.JoinRoom(conn, room)

	if _, err := h.svc.JoinTeam(ctx, conn.User, req.TeamID); err != nil {
		h.manager.LeaveRoom(conn, room)
		h.sendFailure(conn, err, "failed to join team")
		return
	}
}

func (h *Handler) handleChallengeStart(ctx context.Context, conn *Connection, data json.RawMessage) {
	var req struct {
		ChallengeID string `json:"challengeId"`
	}
	if err := json.Unmarshal(data, &req); err != nil || req.ChallengeID == "" {
		h.sendError(conn, "challengeId is required")
		return
	}

	room := events.ChallengeRoom(req.ChallengeID)
	h.manager.JoinRoom(conn, room)

	if _, _, err := h.svc.StartChallenge(ctx, conn.User, req.ChallengeID); err != nil {
		h.manager.LeaveRoom(conn, room)
		h.sendFailure(conn, err, "failed to start challenge")
		return
	}
}

func (h *Handler) handleChallengeSubmit(ctx context.Context, conn *Connection, data json.RawMessage) {
	var req struct {
		ChallengeID string `json:"challengeId"`
		TeamID      string `json:"teamId"`
		Solution    string `json:"solution"`
	}
	if err := json.Unmarshal(data, &req); err != nil || req.ChallengeID == "" {
		h.sendError(conn, "challengeId is required")
		return
	}

	// Submitters get end-of-challenge results even if they never explicitly
	// started the challenge.
	h.manager.JoinRoom(conn, events.ChallengeRoom(req.ChallengeID))

	score, err := h.svc.SubmitSolution(ctx, conn.User, req.ChallengeID, req.TeamID, req.Solution)
	if err != nil {
		h.sendFailure(conn, err, "failed to submit solution")
		return
	}

	ack, err := events.MarshalServerMessage(events.ChannelChallengeUpdate, events.SolutionSubmittedPayload{
		Type:  events.UpdateSolutionSubmitted,
		Score: score,
	})
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal submission ack")
		return
	}
	h.manager.SendTo(conn, ack)
}

// sendFailure maps service errors onto client-visible messages. Not-found
// errors surface as-is; anything else is a generic internal error with the
// detail kept in the server log.
func (h *Handler) sendFailure(conn *Connection, err error, logMsg string) {
	switch {
	case errors.Is(err, store.ErrTeamNotFound):
		h.sendError(conn, "team not found")
	case errors.Is(err, store.ErrChallengeNotFound):
		h.sendError(conn, "challenge not found")
	default:
		log.Error().Err(err).Str("connection_id", conn.ID).Msg(logMsg)
		h.sendError(conn, "internal error")
	}
}

func (h *Handler) sendError(conn *Connection, message string) {
	data, err := events.MarshalServerMessage(events.ChannelError, events.ErrorPayload{Message: message})
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal error event")
		return
	}
	h.manager.SendTo(conn, data)
}
