package challenge

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/afrintel/lms-realtime/internal/events"
	"github.com/afrintel/lms-realtime/internal/models"
	"github.com/afrintel/lms-realtime/internal/store"
)

// TeamStore is what the service needs from the team collection.
type TeamStore interface {
	GetTeam(ctx context.Context, teamID string) (*models.Team, error)
	AddMember(ctx context.Context, teamID, userID string) error
	FindTeamByMember(ctx context.Context, userID string) (*models.Team, error)
}

// ChallengeStore is what the service needs from the challenge collection.
type ChallengeStore interface {
	GetChallenge(ctx context.Context, challengeID string) (*models.Challenge, error)
}

// ScoreStore is the ephemeral per-challenge state: deadlines, participants,
// and cumulative team scores.
type ScoreStore interface {
	IncrementTeamScore(ctx context.Context, challengeID, teamID string, points int) (int, error)
	Rankings(ctx context.Context, challengeID string) ([]events.RankingEntry, error)
	SetDeadline(ctx context.Context, challengeID string, endTime time.Time) error
	Deadline(ctx context.Context, challengeID string) (time.Time, bool, error)
	ActiveChallenges(ctx context.Context) (map[string]time.Time, error)
	AddParticipant(ctx context.Context, challengeID, userID string) error
	ClearChallenge(ctx context.Context, challengeID string) error
}

// Scorer maps a submission to a numeric score.
type Scorer interface {
	Score(challenge *models.Challenge, solution string) int
}

// EventPublisher pushes broadcast events onto the bus. Scoped replies (acks,
// errors) never go through it.
type EventPublisher interface {
	Publish(ctx context.Context, env events.Envelope) error
}

// endTimeout bounds the database and Redis work done when a challenge's
// deadline fires outside any request context.
const endTimeout = 10 * time.Second

// Service coordinates team membership, challenge windows, scoring, and
// leaderboard accumulation. All broadcastable outcomes are published to the
// bus; every coordinator instance's gateway consumer fans them out to its own
// sockets.
type Service struct {
	teams      TeamStore
	challenges ChallengeStore
	scores     ScoreStore
	scorer     Scorer
	publisher  EventPublisher
	clock      clockwork.Clock
	timers     *TimerRegistry

	// baseCtx parents timer-fired work so shutdown stops it.
	baseCtx context.Context
}

// NewService wires a coordinator service. ctx should live as long as the
// process; cancelling it stops all pending end-of-challenge timers.
func NewService(ctx context.Context, teams TeamStore, challenges ChallengeStore, scores ScoreStore, scorer Scorer, publisher EventPublisher, clock clockwork.Clock) *Service {
	return &Service{
		teams:      teams,
		challenges: challenges,
		scores:     scores,
		scorer:     scorer,
		publisher:  publisher,
		clock:      clock,
		timers:     NewTimerRegistry(clock),
		baseCtx:    ctx,
	}
}

// JoinTeam adds the user to the team's member set and announces the join to
// the team room. The caller is responsible for having subscribed the
// connection to the room first, so the joiner sees their own announcement.
func (s *Service) JoinTeam(ctx context.Context, user *models.User, teamID string) (*models.Team, error) {
	team, err := s.teams.GetTeam(ctx, teamID)
	if err != nil {
		return nil, err
	}

	if err := s.teams.AddMember(ctx, teamID, user.ID); err != nil {
		return nil, err
	}

	s.publish(ctx, events.TypeMemberJoined, events.TeamRoom(teamID), events.MemberJoinedPayload{
		Type:     events.UpdateMemberJoined,
		UserID:   user.ID,
		UserName: user.Name,
	})

	log.Info().
		Str("team_id", teamID).
		Str("user_id", user.ID).
		Msg("user joined team")
	return team, nil
}

// StartChallenge opens a scoring window: records the deadline, seeds the
// participant set with the starter, announces the start to the challenge
// room, and arms the end-of-challenge timer. Starting an already-running
// challenge replaces its window and cancels the previous timer.
func (s *Service) StartChallenge(ctx context.Context, user *models.User, challengeID string) (*models.Challenge, time.Time, error) {
	challenge, err := s.challenges.GetChallenge(ctx, challengeID)
	if err != nil {
		return nil, time.Time{}, err
	}

	endTime := s.clock.Now().Add(challenge.Duration())
	if err := s.scores.SetDeadline(ctx, challengeID, endTime); err != nil {
		return nil, time.Time{}, err
	}
	if err := s.scores.AddParticipant(ctx, challengeID, user.ID); err != nil {
		return nil, time.Time{}, err
	}

	s.publish(ctx, events.TypeChallengeStarted, events.ChallengeRoom(challengeID), events.ChallengeStartedPayload{
		Type:      events.UpdateStarted,
		EndTime:   endTime,
		Challenge: challenge,
	})

	s.timers.Schedule(s.baseCtx, challengeID, endTime, s.onDeadline)

	log.Info().
		Str("challenge_id", challengeID).
		Str("user_id", user.ID).
		Time("end_time", endTime).
		Msg("challenge started")
	return challenge, endTime, nil
}

// SubmitSolution scores a submission and credits the submitter's team. The
// returned score is acknowledged to the caller only; the team's new
// cumulative total is broadcast to every connected client. Submissions are
// not idempotent: each one adds to the running total.
//
// teamID may be empty, in which case the first team containing the user gets
// the credit. A submission with no resolvable team still gets its ack.
func (s *Service) SubmitSolution(ctx context.Context, user *models.User, challengeID, teamID, solution string) (int, error) {
	challenge, err := s.challenges.GetChallenge(ctx, challengeID)
	if err != nil {
		return 0, err
	}

	points := s.scorer.Score(challenge, solution)

	team, err := s.resolveTeam(ctx, user, teamID)
	if err != nil {
		return 0, err
	}
	if team == nil {
		log.Debug().
			Str("challenge_id", challengeID).
			Str("user_id", user.ID).
			Msg("submission from user with no team - scored but not credited")
		return points, nil
	}

	if err := s.scores.AddParticipant(ctx, challengeID, user.ID); err != nil {
		return 0, err
	}
	total, err := s.scores.IncrementTeamScore(ctx, challengeID, team.ID, points)
	if err != nil {
		return 0, err
	}

	// Leaderboard totals go to every connected client, not just the rooms.
	s.publish(ctx, events.TypeLeaderboardUpdated, "", events.LeaderboardUpdatedPayload{
		ChallengeID: challengeID,
		TeamID:      team.ID,
		TeamName:    team.Name,
		Score:       total,
	})

	log.Info().
		Str("challenge_id", challengeID).
		Str("team_id", team.ID).
		Str("user_id", user.ID).
		Int("points", points).
		Int("total", total).
		Msg("solution scored")
	return points, nil
}

// resolveTeam picks the team to credit. An explicit team id that does not
// exist degrades to "no team" rather than failing the submission.
func (s *Service) resolveTeam(ctx context.Context, user *models.User, teamID string) (*models.Team, error) {
	var (
		team *models.Team
		err  error
	)
	if teamID != "" {
		team, err = s.teams.GetTeam(ctx, teamID)
	} else {
		team, err = s.teams.FindTeamByMember(ctx, user.ID)
	}
	if errors.Is(err, store.ErrTeamNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return team, nil
}

// EndChallenge closes a challenge's scoring window: broadcasts the final
// rankings to the challenge room and clears that challenge's state only. A
// challenge that already ended (or never started) is a no-op.
func (s *Service) EndChallenge(ctx context.Context, challengeID string) error {
	_, active, err := s.scores.Deadline(ctx, challengeID)
	if err != nil {
		return err
	}
	if !active {
		log.Debug().Str("challenge_id", challengeID).Msg("end requested for inactive challenge - ignoring")
		return nil
	}

	rankings, err := s.scores.Rankings(ctx, challengeID)
	if err != nil {
		return err
	}

	s.publish(ctx, events.TypeChallengeEnded, events.ChallengeRoom(challengeID), events.ChallengeEndedPayload{
		Type:     events.UpdateEnded,
		Rankings: rankings,
	})

	if err := s.scores.ClearChallenge(ctx, challengeID); err != nil {
		return err
	}
	s.timers.Cancel(challengeID)

	log.Info().
		Str("challenge_id", challengeID).
		Int("teams_ranked", len(rankings)).
		Msg("challenge ended")
	return nil
}

// ResumeActive re-arms end-of-challenge timers for deadlines found in the
// score store, so running challenges survive a coordinator restart. Deadlines
// that passed while the process was down end immediately.
func (s *Service) ResumeActive(ctx context.Context) error {
	active, err := s.scores.ActiveChallenges(ctx)
	if err != nil {
		return fmt.Errorf("failed to list active challenges: %w", err)
	}

	for challengeID, endTime := range active {
		s.timers.Schedule(s.baseCtx, challengeID, endTime, s.onDeadline)
		log.Info().
			Str("challenge_id", challengeID).
			Time("end_time", endTime).
			Msg("resumed challenge timer")
	}
	return nil
}

// onDeadline is the timer callback. It runs outside any request context, so
// failures are logged, never propagated.
func (s *Service) onDeadline(challengeID string) {
	ctx, cancel := context.WithTimeout(s.baseCtx, endTimeout)
	defer cancel()

	if err := s.EndChallenge(ctx, challengeID); err != nil {
		log.Error().Err(err).Str("challenge_id", challengeID).Msg("failed to end challenge")
	}
}

// publish pushes a broadcast event onto the bus. Publish failures degrade to
// a log line; the triggering operation has already succeeded and nothing in
// this path is allowed to crash the process.
func (s *Service) publish(ctx context.Context, t events.Type, room string, payload any) {
	env, err := events.NewEnvelope(t, room, payload)
	if err != nil {
		log.Error().Err(err).Str("event_type", string(t)).Msg("failed to build event envelope")
		return
	}
	if err := s.publisher.Publish(ctx, env); err != nil {
		log.Error().Err(err).Str("event_type", string(t)).Str("room", room).Msg("failed to publish event")
	}
}
