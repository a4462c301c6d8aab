package challenge

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/afrintel/lms-realtime/internal/events"
	"github.com/afrintel/lms-realtime/internal/models"
	"github.com/afrintel/lms-realtime/internal/score"
	"github.com/afrintel/lms-realtime/internal/store"
)

type fakeTeamStore struct {
	mu    sync.Mutex
	teams map[string]*models.Team
}

func newFakeTeamStore(teams ...*models.Team) *fakeTeamStore {
	f := &fakeTeamStore{teams: make(map[string]*models.Team)}
	for _, t := range teams {
		f.teams[t.ID] = t
	}
	return f
}

func (f *fakeTeamStore) GetTeam(ctx context.Context, teamID string) (*models.Team, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	team, ok := f.teams[teamID]
	if !ok {
		return nil, store.ErrTeamNotFound
	}
	return team, nil
}

// AddMember mimics the $addToSet semantics of the Mongo store.
func (f *fakeTeamStore) AddMember(ctx context.Context, teamID, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	team, ok := f.teams[teamID]
	if !ok {
		return store.ErrTeamNotFound
	}
	for _, m := range team.Members {
		if m == userID {
			return nil
		}
	}
	team.Members = append(team.Members, userID)
	return nil
}

func (f *fakeTeamStore) FindTeamByMember(ctx context.Context, userID string) (*models.Team, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, team := range f.teams {
		for _, m := range team.Members {
			if m == userID {
				return team, nil
			}
		}
	}
	return nil, store.ErrTeamNotFound
}

type fakeChallengeStore struct {
	challenges map[string]*models.Challenge
}

func (f *fakeChallengeStore) GetChallenge(ctx context.Context, challengeID string) (*models.Challenge, error) {
	ch, ok := f.challenges[challengeID]
	if !ok {
		return nil, store.ErrChallengeNotFound
	}
	return ch, nil
}

type fakePublisher struct {
	mu   sync.Mutex
	envs []events.Envelope
}

func (p *fakePublisher) Publish(ctx context.Context, env events.Envelope) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.envs = append(p.envs, env)
	return nil
}

func (p *fakePublisher) byType(t events.Type) []events.Envelope {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []events.Envelope
	for _, env := range p.envs {
		if env.Type == t {
			out = append(out, env)
		}
	}
	return out
}

// stubScorer returns a fixed sequence of scores.
type stubScorer struct {
	mu     sync.Mutex
	scores []int
	next   int
}

func (s *stubScorer) Score(challenge *models.Challenge, solution string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.next >= len(s.scores) {
		return 0
	}
	v := s.scores[s.next]
	s.next++
	return v
}

type fixture struct {
	svc    *Service
	teams  *fakeTeamStore
	pub    *fakePublisher
	scores *score.Store
	clock  *clockwork.FakeClock
}

func setupService(t *testing.T, scorer Scorer, teams *fakeTeamStore, challenges map[string]*models.Challenge) *fixture {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	fc := clockwork.NewFakeClockAt(time.Now().UTC())
	pub := &fakePublisher{}
	scores := score.NewStore(rdb)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	svc := NewService(ctx, teams, &fakeChallengeStore{challenges: challenges}, scores, scorer, pub, fc)
	return &fixture{svc: svc, teams: teams, pub: pub, scores: scores, clock: fc}
}

var testUser = &models.User{ID: "u1", Name: "Amina"}

func testChallenges() map[string]*models.Challenge {
	return map[string]*models.Challenge{
		"ch1": {ID: "ch1", Title: "Build an LLM tutor", Type: models.ChallengeTypeLLMIntegration, DurationMinutes: 30},
		"ch2": {ID: "ch2", Title: "Wire the grading API", Type: models.ChallengeTypeAPIHandling, DurationMinutes: 45},
	}
}

func TestJoinTeam_AddsMemberAndBroadcasts(t *testing.T) {
	f := setupService(t, &stubScorer{}, newFakeTeamStore(&models.Team{ID: "T1", Name: "Lions"}), testChallenges())

	team, err := f.svc.JoinTeam(context.Background(), testUser, "T1")
	require.NoError(t, err)
	assert.Equal(t, "Lions", team.Name)
	assert.Contains(t, f.teams.teams["T1"].Members, "u1")

	envs := f.pub.byType(events.TypeMemberJoined)
	require.Len(t, envs, 1)
	assert.Equal(t, events.TeamRoom("T1"), envs[0].Room)

	var payload events.MemberJoinedPayload
	require.NoError(t, json.Unmarshal(envs[0].Data, &payload))
	assert.Equal(t, events.UpdateMemberJoined, payload.Type)
	assert.Equal(t, "u1", payload.UserID)
	assert.Equal(t, "Amina", payload.UserName)
}

func TestJoinTeam_IsIdempotentOnMembership(t *testing.T) {
	f := setupService(t, &stubScorer{}, newFakeTeamStore(&models.Team{ID: "T1", Name: "Lions"}), testChallenges())

	_, err := f.svc.JoinTeam(context.Background(), testUser, "T1")
	require.NoError(t, err)
	_, err = f.svc.JoinTeam(context.Background(), testUser, "T1")
	require.NoError(t, err)

	count := 0
	for _, m := range f.teams.teams["T1"].Members {
		if m == "u1" {
			count++
		}
	}
	assert.Equal(t, 1, count, "member must appear exactly once")
}

func TestJoinTeam_UnknownTeam(t *testing.T) {
	f := setupService(t, &stubScorer{}, newFakeTeamStore(), testChallenges())

	_, err := f.svc.JoinTeam(context.Background(), testUser, "missing")
	assert.ErrorIs(t, err, store.ErrTeamNotFound)
	assert.Empty(t, f.pub.envs, "a failed join must not broadcast")
}

func TestStartChallenge_SetsDeadlineAndBroadcasts(t *testing.T) {
	f := setupService(t, &stubScorer{}, newFakeTeamStore(), testChallenges())
	ctx := context.Background()

	ch, endTime, err := f.svc.StartChallenge(ctx, testUser, "ch1")
	require.NoError(t, err)
	assert.Equal(t, "ch1", ch.ID)
	assert.WithinDuration(t, f.clock.Now().Add(30*time.Minute), endTime, 50*time.Millisecond)

	stored, active, err := f.scores.Deadline(ctx, "ch1")
	require.NoError(t, err)
	assert.True(t, active)
	assert.True(t, stored.Equal(endTime.UTC()))

	participants, err := f.scores.Participants(ctx, "ch1")
	require.NoError(t, err)
	assert.Contains(t, participants, "u1")

	envs := f.pub.byType(events.TypeChallengeStarted)
	require.Len(t, envs, 1)
	assert.Equal(t, events.ChallengeRoom("ch1"), envs[0].Room)

	var payload events.ChallengeStartedPayload
	require.NoError(t, json.Unmarshal(envs[0].Data, &payload))
	assert.Equal(t, events.UpdateStarted, payload.Type)
	assert.True(t, payload.EndTime.Equal(endTime))
	assert.Equal(t, "ch1", payload.Challenge.ID)
}

func TestStartChallenge_UnknownChallenge(t *testing.T) {
	f := setupService(t, &stubScorer{}, newFakeTeamStore(), testChallenges())

	_, _, err := f.svc.StartChallenge(context.Background(), testUser, "missing")
	assert.ErrorIs(t, err, store.ErrChallengeNotFound)
	assert.Empty(t, f.pub.envs)
}

func TestSubmitSolution_AccumulatesTeamScore(t *testing.T) {
	teams := newFakeTeamStore(&models.Team{ID: "T1", Name: "Lions", Members: []string{"u1"}})
	f := setupService(t, &stubScorer{scores: []int{42, 17}}, teams, testChallenges())
	ctx := context.Background()

	got, err := f.svc.SubmitSolution(ctx, testUser, "ch1", "T1", "first attempt")
	require.NoError(t, err)
	assert.Equal(t, 42, got)

	got, err = f.svc.SubmitSolution(ctx, testUser, "ch1", "T1", "second attempt")
	require.NoError(t, err)
	assert.Equal(t, 17, got)

	total, err := f.scores.TeamScore(ctx, "ch1", "T1")
	require.NoError(t, err)
	assert.Equal(t, 59, total, "sequential submissions accumulate without loss")

	envs := f.pub.byType(events.TypeLeaderboardUpdated)
	require.Len(t, envs, 2)
	assert.Empty(t, envs[0].Room, "leaderboard updates go to every client")

	var payload events.LeaderboardUpdatedPayload
	require.NoError(t, json.Unmarshal(envs[1].Data, &payload))
	assert.Equal(t, "T1", payload.TeamID)
	assert.Equal(t, "Lions", payload.TeamName)
	assert.Equal(t, 59, payload.Score)
}

func TestSubmitSolution_InfersTeamFromMembership(t *testing.T) {
	teams := newFakeTeamStore(&models.Team{ID: "T1", Name: "Lions", Members: []string{"u1"}})
	f := setupService(t, &stubScorer{scores: []int{10}}, teams, testChallenges())

	got, err := f.svc.SubmitSolution(context.Background(), testUser, "ch1", "", "attempt")
	require.NoError(t, err)
	assert.Equal(t, 10, got)

	total, err := f.scores.TeamScore(context.Background(), "ch1", "T1")
	require.NoError(t, err)
	assert.Equal(t, 10, total)
}

func TestSubmitSolution_NoTeamStillAcks(t *testing.T) {
	f := setupService(t, &stubScorer{scores: []int{10}}, newFakeTeamStore(), testChallenges())

	got, err := f.svc.SubmitSolution(context.Background(), testUser, "ch1", "", "attempt")
	require.NoError(t, err)
	assert.Equal(t, 10, got)
	assert.Empty(t, f.pub.byType(events.TypeLeaderboardUpdated))
}

func TestSubmitSolution_UnknownChallenge(t *testing.T) {
	f := setupService(t, &stubScorer{}, newFakeTeamStore(), testChallenges())

	_, err := f.svc.SubmitSolution(context.Background(), testUser, "missing", "", "attempt")
	assert.ErrorIs(t, err, store.ErrChallengeNotFound)
}

func TestChallengeLifecycle_EndBroadcastsRankingsAndClearsOwnStateOnly(t *testing.T) {
	teams := newFakeTeamStore(
		&models.Team{ID: "T1", Name: "Lions", Members: []string{"u1"}},
		&models.Team{ID: "T2", Name: "Eagles", Members: []string{"u2"}},
	)
	f := setupService(t, &stubScorer{scores: []int{42, 17, 30}}, teams, testChallenges())
	ctx := context.Background()
	user2 := &models.User{ID: "u2", Name: "Kofi"}

	_, endTime, err := f.svc.StartChallenge(ctx, testUser, "ch1")
	require.NoError(t, err)
	f.clock.BlockUntil(1)

	_, err = f.svc.SubmitSolution(ctx, testUser, "ch1", "T1", "a")
	require.NoError(t, err)
	_, err = f.svc.SubmitSolution(ctx, testUser, "ch1", "T1", "b")
	require.NoError(t, err)
	_, err = f.svc.SubmitSolution(ctx, user2, "ch1", "T2", "c")
	require.NoError(t, err)

	// A second, unrelated challenge is running with its own scores.
	_, err = f.scores.IncrementTeamScore(ctx, "ch2", "T2", 80)
	require.NoError(t, err)
	require.NoError(t, f.scores.SetDeadline(ctx, "ch2", endTime.Add(time.Hour)))

	f.clock.Advance(31 * time.Minute)

	require.Eventually(t, func() bool {
		return len(f.pub.byType(events.TypeChallengeEnded)) == 1
	}, 2*time.Second, 10*time.Millisecond)

	envs := f.pub.byType(events.TypeChallengeEnded)
	assert.Equal(t, events.ChallengeRoom("ch1"), envs[0].Room)

	var payload events.ChallengeEndedPayload
	require.NoError(t, json.Unmarshal(envs[0].Data, &payload))
	assert.Equal(t, events.UpdateEnded, payload.Type)
	require.Len(t, payload.Rankings, 2)
	assert.Equal(t, events.RankingEntry{TeamID: "T1", Score: 59}, payload.Rankings[0])
	assert.Equal(t, events.RankingEntry{TeamID: "T2", Score: 30}, payload.Rankings[1])

	// ch1 state is gone.
	_, active, err := f.scores.Deadline(ctx, "ch1")
	require.NoError(t, err)
	assert.False(t, active)

	// ch2 is untouched: ending one challenge never wipes another's scores.
	total, err := f.scores.TeamScore(ctx, "ch2", "T2")
	require.NoError(t, err)
	assert.Equal(t, 80, total)
	_, active, err = f.scores.Deadline(ctx, "ch2")
	require.NoError(t, err)
	assert.True(t, active)
}

func TestStartChallenge_RestartReplacesDeadline(t *testing.T) {
	f := setupService(t, &stubScorer{}, newFakeTeamStore(), testChallenges())
	ctx := context.Background()

	_, _, err := f.svc.StartChallenge(ctx, testUser, "ch1")
	require.NoError(t, err)
	f.clock.BlockUntil(1)

	f.clock.Advance(10 * time.Minute)

	_, endTime, err := f.svc.StartChallenge(ctx, testUser, "ch1")
	require.NoError(t, err)
	f.clock.BlockUntil(1)
	assert.WithinDuration(t, f.clock.Now().Add(30*time.Minute), endTime, 50*time.Millisecond)

	// Past the original deadline; the stale timer must not end the restarted
	// challenge early.
	f.clock.Advance(25 * time.Minute)
	time.Sleep(100 * time.Millisecond)
	assert.Empty(t, f.pub.byType(events.TypeChallengeEnded))

	// Past the new deadline: exactly one end.
	f.clock.Advance(6 * time.Minute)
	require.Eventually(t, func() bool {
		return len(f.pub.byType(events.TypeChallengeEnded)) == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestEndChallenge_InactiveIsNoOp(t *testing.T) {
	f := setupService(t, &stubScorer{}, newFakeTeamStore(), testChallenges())

	require.NoError(t, f.svc.EndChallenge(context.Background(), "never-started"))
	assert.Empty(t, f.pub.envs)
}

func TestResumeActive_ReArmsTimers(t *testing.T) {
	f := setupService(t, &stubScorer{}, newFakeTeamStore(), testChallenges())
	ctx := context.Background()

	require.NoError(t, f.scores.SetDeadline(ctx, "ch1", f.clock.Now().Add(5*time.Minute)))
	require.NoError(t, f.svc.ResumeActive(ctx))
	f.clock.BlockUntil(1)

	f.clock.Advance(6 * time.Minute)

	require.Eventually(t, func() bool {
		return len(f.pub.byType(events.TypeChallengeEnded)) == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestResumeActive_ExpiredDeadlineEndsImmediately(t *testing.T) {
	f := setupService(t, &stubScorer{}, newFakeTeamStore(), testChallenges())
	ctx := context.Background()

	require.NoError(t, f.scores.SetDeadline(ctx, "ch1", f.clock.Now().Add(-time.Minute)))
	require.NoError(t, f.svc.ResumeActive(ctx))

	require.Eventually(t, func() bool {
		return len(f.pub.byType(events.TypeChallengeEnded)) == 1
	}, 2*time.Second, 10*time.Millisecond)
}
