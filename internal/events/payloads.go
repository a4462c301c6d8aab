package events

import (
	"time"

	"github.com/afrintel/lms-realtime/internal/models"
)

// Payload types shared between the challenge service, the bus, and the
// gateway. The inner `type` field mirrors the update kind the legacy clients
// expect inside team:update / challenge:update messages.

const (
	UpdateMemberJoined      = "member_joined"
	UpdateStarted           = "started"
	UpdateSolutionSubmitted = "solution_submitted"
	UpdateEnded             = "ended"
)

// MemberJoinedPayload announces a new team member to the team room.
type MemberJoinedPayload struct {
	Type     string `json:"type"`
	UserID   string `json:"userId"`
	UserName string `json:"userName"`
}

// ChallengeStartedPayload announces an open scoring window to the challenge room.
type ChallengeStartedPayload struct {
	Type      string            `json:"type"`
	EndTime   time.Time         `json:"endTime"`
	Challenge *models.Challenge `json:"challenge"`
}

// SolutionSubmittedPayload acknowledges a scored submission to the caller only.
// It never travels over the bus.
type SolutionSubmittedPayload struct {
	Type  string `json:"type"`
	Score int    `json:"score"`
}

// LeaderboardUpdatedPayload carries a team's new cumulative total to every
// connected client.
type LeaderboardUpdatedPayload struct {
	ChallengeID string `json:"challengeId"`
	TeamID      string `json:"teamId"`
	TeamName    string `json:"teamName"`
	Score       int    `json:"score"`
}

// RankingEntry is one row of a final ranking, ordered by descending score.
type RankingEntry struct {
	TeamID string `json:"teamId"`
	Score  int    `json:"score"`
}

// ChallengeEndedPayload carries the final rankings to the challenge room.
type ChallengeEndedPayload struct {
	Type     string         `json:"type"`
	Rankings []RankingEntry `json:"rankings"`
}

// ErrorPayload is a scoped failure notice for a single connection.
type ErrorPayload struct {
	Message string `json:"message"`
}
