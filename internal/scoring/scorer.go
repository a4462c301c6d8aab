package scoring

import (
	"math/rand/v2"
	"strings"

	"github.com/afrintel/lms-realtime/internal/models"
)

// Mode selects how submissions are scored.
type Mode string

const (
	// ModeRubric evaluates the submission text against per-type criteria.
	ModeRubric Mode = "rubric"
	// ModeDemo returns a uniform random score in [0,100) regardless of
	// content, matching the behavior of the original challenge server.
	ModeDemo Mode = "demo"
)

// maxScore is exclusive; scores land in [0,100).
const maxScore = 100

// Scorer maps a submitted solution to a numeric score using a per-type
// strategy. Unknown challenge types score zero.
type Scorer struct {
	mode       Mode
	strategies map[models.ChallengeType]strategyFunc
}

type strategyFunc func(challenge *models.Challenge, solution string) int

// NewScorer creates a scorer for the given mode. Unrecognized modes fall back
// to rubric scoring.
func NewScorer(mode Mode) *Scorer {
	s := &Scorer{mode: mode}
	s.strategies = map[models.ChallengeType]strategyFunc{
		models.ChallengeTypeLLMIntegration:     s.scoreWithTokens(llmTokens),
		models.ChallengeTypeAPIHandling:        s.scoreWithTokens(apiTokens),
		models.ChallengeTypeMaterialProcessing: s.scoreWithTokens(materialTokens),
	}
	return s
}

// Score evaluates a solution for a challenge. Pure with respect to state in
// rubric mode; demo mode draws from the process RNG.
func (s *Scorer) Score(challenge *models.Challenge, solution string) int {
	strategy, ok := s.strategies[challenge.Type]
	if !ok {
		return 0
	}
	if s.mode == ModeDemo {
		return rand.IntN(maxScore)
	}
	return strategy(challenge, solution)
}

// Domain vocabulary each challenge type is expected to touch on. A crude
// signal, but deterministic and explainable, unlike the random placeholder it
// replaces.
var (
	llmTokens      = []string{"prompt", "model", "completion", "token", "temperature", "context"}
	apiTokens      = []string{"endpoint", "status", "timeout", "retry", "header", "request"}
	materialTokens = []string{"parse", "extract", "chunk", "metadata", "format", "document"}
)

// scoreWithTokens builds a rubric strategy:
//   - up to 60 points for covering the challenge's own rubric keywords;
//   - up to 30 points for touching the type's domain vocabulary;
//   - up to 10 points for substance (length tiers).
//
// Empty submissions score zero. The sum is clamped below 100.
func (s *Scorer) scoreWithTokens(tokens []string) strategyFunc {
	return func(challenge *models.Challenge, solution string) int {
		text := strings.ToLower(strings.TrimSpace(solution))
		if text == "" {
			return 0
		}

		total := 0

		if len(challenge.Rubric) > 0 {
			hits := 0
			for _, keyword := range challenge.Rubric {
				if keyword != "" && strings.Contains(text, strings.ToLower(keyword)) {
					hits++
				}
			}
			total += 60 * hits / len(challenge.Rubric)
		}

		domainHits := 0
		for _, token := range tokens {
			if strings.Contains(text, token) {
				domainHits++
			}
		}
		total += 30 * domainHits / len(tokens)

		switch {
		case len(text) >= 400:
			total += 10
		case len(text) >= 100:
			total += 5
		}

		if total >= maxScore {
			total = maxScore - 1
		}
		return total
	}
}
