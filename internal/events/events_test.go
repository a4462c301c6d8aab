package events

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvelopeChannel(t *testing.T) {
	tests := []struct {
		eventType Type
		channel   string
	}{
		{TypeMemberJoined, ChannelTeamUpdate},
		{TypeChallengeStarted, ChannelChallengeUpdate},
		{TypeChallengeEnded, ChannelChallengeUpdate},
		{TypeLeaderboardUpdated, ChannelLeaderboardUpdate},
		{Type("SomethingNew"), ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.channel, Envelope{Type: tt.eventType}.Channel(), string(tt.eventType))
	}
}

func TestNewEnvelope(t *testing.T) {
	env, err := NewEnvelope(TypeMemberJoined, TeamRoom("T1"), MemberJoinedPayload{
		Type:   UpdateMemberJoined,
		UserID: "u1",
	})
	require.NoError(t, err)

	assert.NotEmpty(t, env.ID)
	assert.Equal(t, "team:T1", env.Room)
	assert.False(t, env.Timestamp.IsZero())

	var payload MemberJoinedPayload
	require.NoError(t, json.Unmarshal(env.Data, &payload))
	assert.Equal(t, "u1", payload.UserID)
}

func TestMarshalServerMessage(t *testing.T) {
	raw, err := MarshalServerMessage(ChannelError, ErrorPayload{Message: "team not found"})
	require.NoError(t, err)

	var msg ServerMessage
	require.NoError(t, json.Unmarshal(raw, &msg))
	assert.Equal(t, "error", msg.Event)

	var payload ErrorPayload
	require.NoError(t, json.Unmarshal(msg.Data, &payload))
	assert.Equal(t, "team not found", payload.Message)
}

func TestRoomNames(t *testing.T) {
	assert.Equal(t, "team:abc", TeamRoom("abc"))
	assert.Equal(t, "challenge:abc", ChallengeRoom("abc"))
}
