package score

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/afrintel/lms-realtime/internal/events"
)

// Key layout. Everything a challenge accumulates lives under its own id, so
// ending or clearing one challenge cannot touch another's scores.
const (
	scoresKeyFmt       = "challenge:%s:scores"
	deadlineKeyFmt     = "challenge:%s:deadline"
	participantsKeyFmt = "challenge:%s:participants"
)

// deadlineSlack keeps stale keys from lingering forever if a process dies
// between the deadline passing and the end-of-challenge sweep.
const deadlineSlack = 24 * time.Hour

// Store keeps ephemeral per-challenge state in Redis: the wall-clock deadline,
// the participant set, and the cumulative team scores. Score accumulation is a
// single ZINCRBY, so concurrent submissions for the same team cannot lose
// updates, and state survives a coordinator restart.
type Store struct {
	rdb *redis.Client
}

// NewStore creates a new score Store instance.
func NewStore(rdb *redis.Client) *Store {
	return &Store{rdb: rdb}
}

// IncrementTeamScore atomically adds points to a team's cumulative score for
// the given challenge and returns the new total.
func (s *Store) IncrementTeamScore(ctx context.Context, challengeID, teamID string, points int) (int, error) {
	key := fmt.Sprintf(scoresKeyFmt, challengeID)
	total, err := s.rdb.ZIncrBy(ctx, key, float64(points), teamID).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to increment score for team %s in challenge %s: %w", teamID, challengeID, err)
	}
	return int(total), nil
}

// TeamScore returns a team's current cumulative score, zero if absent.
func (s *Store) TeamScore(ctx context.Context, challengeID, teamID string) (int, error) {
	key := fmt.Sprintf(scoresKeyFmt, challengeID)
	total, err := s.rdb.ZScore(ctx, key, teamID).Result()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get score for team %s in challenge %s: %w", teamID, challengeID, err)
	}
	return int(total), nil
}

// Rankings returns the challenge's teams ordered by descending cumulative
// score.
func (s *Store) Rankings(ctx context.Context, challengeID string) ([]events.RankingEntry, error) {
	key := fmt.Sprintf(scoresKeyFmt, challengeID)
	entries, err := s.rdb.ZRevRangeWithScores(ctx, key, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read rankings for challenge %s: %w", challengeID, err)
	}

	rankings := make([]events.RankingEntry, 0, len(entries))
	for _, z := range entries {
		teamID, ok := z.Member.(string)
		if !ok {
			continue
		}
		rankings = append(rankings, events.RankingEntry{TeamID: teamID, Score: int(z.Score)})
	}
	return rankings, nil
}

// SetDeadline records the challenge's end time. Overwrites any previous
// deadline; restarting a challenge moves its window.
func (s *Store) SetDeadline(ctx context.Context, challengeID string, endTime time.Time) error {
	key := fmt.Sprintf(deadlineKeyFmt, challengeID)
	ttl := time.Until(endTime) + deadlineSlack
	if ttl <= 0 {
		ttl = 0
	}
	if err := s.rdb.Set(ctx, key, endTime.UTC().Format(time.RFC3339Nano), ttl).Err(); err != nil {
		return fmt.Errorf("failed to set deadline for challenge %s: %w", challengeID, err)
	}
	return nil
}

// Deadline returns the challenge's end time. The second return is false when
// the challenge is not active.
func (s *Store) Deadline(ctx context.Context, challengeID string) (time.Time, bool, error) {
	key := fmt.Sprintf(deadlineKeyFmt, challengeID)
	val, err := s.rdb.Get(ctx, key).Result()
	if err == redis.Nil {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("failed to get deadline for challenge %s: %w", challengeID, err)
	}
	endTime, err := time.Parse(time.RFC3339Nano, val)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("failed to parse deadline for challenge %s: %w", challengeID, err)
	}
	return endTime, true, nil
}

// ActiveChallenges scans for all recorded deadlines, keyed by challenge id.
// Used on boot to re-arm end-of-challenge timers after a restart.
func (s *Store) ActiveChallenges(ctx context.Context) (map[string]time.Time, error) {
	active := make(map[string]time.Time)
	pattern := fmt.Sprintf(deadlineKeyFmt, "*")

	iter := s.rdb.Scan(ctx, 0, pattern, 0).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		challengeID := strings.TrimSuffix(strings.TrimPrefix(key, "challenge:"), ":deadline")
		if challengeID == "" || challengeID == key {
			continue
		}

		val, err := s.rdb.Get(ctx, key).Result()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to get deadline key %s: %w", key, err)
		}
		endTime, err := time.Parse(time.RFC3339Nano, val)
		if err != nil {
			continue
		}
		active[challengeID] = endTime
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan active challenges: %w", err)
	}
	return active, nil
}

// AddParticipant records a user in the challenge's participant set.
func (s *Store) AddParticipant(ctx context.Context, challengeID, userID string) error {
	key := fmt.Sprintf(participantsKeyFmt, challengeID)
	if err := s.rdb.SAdd(ctx, key, userID).Err(); err != nil {
		return fmt.Errorf("failed to add participant %s to challenge %s: %w", userID, challengeID, err)
	}
	return nil
}

// Participants returns the challenge's participant set.
func (s *Store) Participants(ctx context.Context, challengeID string) ([]string, error) {
	key := fmt.Sprintf(participantsKeyFmt, challengeID)
	members, err := s.rdb.SMembers(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read participants for challenge %s: %w", challengeID, err)
	}
	return members, nil
}

// ClearChallenge removes the challenge's deadline, participants, and scores.
// Other challenges are untouched.
func (s *Store) ClearChallenge(ctx context.Context, challengeID string) error {
	keys := []string{
		fmt.Sprintf(scoresKeyFmt, challengeID),
		fmt.Sprintf(deadlineKeyFmt, challengeID),
		fmt.Sprintf(participantsKeyFmt, challengeID),
	}
	if err := s.rdb.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("failed to clear challenge %s: %w", challengeID, err)
	}
	return nil
}
