package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Type identifies a coordinator event as it travels over the bus.
type Type string

const (
	TypeMemberJoined       Type = "MemberJoined"
	TypeChallengeStarted   Type = "ChallengeStarted"
	TypeLeaderboardUpdated Type = "LeaderboardUpdated"
	TypeChallengeEnded     Type = "ChallengeEnded"
)

// Client-facing channel names. These are the `event` field values the web and
// mobile clients switch on; they must not change without a client release.
const (
	ChannelTeamUpdate        = "team:update"
	ChannelChallengeUpdate   = "challenge:update"
	ChannelLeaderboardUpdate = "leaderboard:update"
	ChannelError             = "error"
)

// TeamRoom returns the broadcast room name for a team.
func TeamRoom(teamID string) string { return "team:" + teamID }

// ChallengeRoom returns the broadcast room name for a challenge.
func ChallengeRoom(challengeID string) string { return "challenge:" + challengeID }

// Envelope is the wire format published to JetStream and consumed by every
// coordinator instance. Room scopes delivery; an empty Room means every
// connected client receives the event.
type Envelope struct {
	ID        string          `json:"id"`
	Type      Type            `json:"type"`
	Room      string          `json:"room,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// NewEnvelope builds an envelope around a payload.
func NewEnvelope(t Type, room string, payload any) (Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s payload: %w", t, err)
	}
	return Envelope{
		ID:        uuid.New().String(),
		Type:      t,
		Room:      room,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}, nil
}

// Channel maps a bus event type to the client-facing channel it is delivered
// on. Unknown types map to the empty string and are dropped by the consumer.
func (e Envelope) Channel() string {
	switch e.Type {
	case TypeMemberJoined:
		return ChannelTeamUpdate
	case TypeChallengeStarted, TypeChallengeEnded:
		return ChannelChallengeUpdate
	case TypeLeaderboardUpdated:
		return ChannelLeaderboardUpdate
	default:
		return ""
	}
}

// ServerMessage is a single message sent to a connected client.
type ServerMessage struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// MarshalServerMessage encodes a client-bound message for a channel.
func MarshalServerMessage(channel string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", channel, err)
	}
	return json.Marshal(ServerMessage{Event: channel, Data: data})
}
