package models

import "time"

// User is a learner profile stored in the platform database. The coordinator
// only reads users; account lifecycle belongs to the main LMS API.
type User struct {
	ID           string     `bson:"_id" json:"id"`
	Name         string     `bson:"name" json:"name"`
	Email        string     `bson:"email,omitempty" json:"email,omitempty"`
	Subscription string     `bson:"subscription,omitempty" json:"subscription,omitempty"`
	CreatedAt    *time.Time `bson:"created_at,omitempty" json:"createdAt,omitempty"`
}

// Team groups learners for live challenges. Members is treated as a set;
// writes go through $addToSet so re-adding a member is a no-op.
type Team struct {
	ID          string     `bson:"_id" json:"id"`
	Name        string     `bson:"name" json:"name"`
	Members     []string   `bson:"members" json:"members"`
	CreatedAt   *time.Time `bson:"created_at,omitempty" json:"createdAt,omitempty"`
	LastUpdated *time.Time `bson:"last_updated,omitempty" json:"lastUpdated,omitempty"`
}

// ChallengeType selects the scoring strategy for a challenge.
type ChallengeType string

const (
	ChallengeTypeLLMIntegration     ChallengeType = "llm_integration"
	ChallengeTypeAPIHandling        ChallengeType = "api_handling"
	ChallengeTypeMaterialProcessing ChallengeType = "material_processing"
)

// Challenge is a timed team exercise. Read-only here; authoring happens in the
// LMS content tools.
type Challenge struct {
	ID              string        `bson:"_id" json:"id"`
	Title           string        `bson:"title" json:"title"`
	Type            ChallengeType `bson:"type" json:"type"`
	DurationMinutes int           `bson:"duration" json:"duration"`
	// Rubric lists keywords a solution is expected to address. Used by the
	// rubric scorer; empty for challenges authored before scoring existed.
	Rubric    []string   `bson:"rubric,omitempty" json:"rubric,omitempty"`
	CreatedAt *time.Time `bson:"created_at,omitempty" json:"createdAt,omitempty"`
}

// Duration returns the challenge window as a time.Duration.
func (c *Challenge) Duration() time.Duration {
	return time.Duration(c.DurationMinutes) * time.Minute
}
