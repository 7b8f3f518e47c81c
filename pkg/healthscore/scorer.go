package healthscore

import (
	"math"
	"sort"
	"time"

	"github.com/jordanlanch/outreach/pkg/models"
)

// Level is the warmth classification of a relationship.
type Level string

const (
	LevelWarm    Level = "warm"
	LevelCooling Level = "cooling"
	LevelCold    Level = "cold"
)

// Scoring weights and thresholds
const (
	MaxScore = 100

	// Recency decays linearly to zero over this many days.
	DecayWindowDays = 60

	// Recent interactions add a bounded bonus.
	InteractionWindowDays = 30
	InteractionBonus      = 2
	MaxInteractionBonus   = 10

	WarmThreshold    = 70
	CoolingThreshold = 40

	// From this many days since last contact a score is always cold:
	// the recency part is at most 25 and the bonus at most 10.
	ColdAfterDays = 45

	// NeverContactedDays stands in for an absent last-contacted date.
	NeverContactedDays = math.MaxInt32
)

// Result is a contact's computed health.
type Result struct {
	ContactID     string         `json:"contact_id"`
	ContactName   string         `json:"contact_name"`
	Score         int            `json:"score"`
	Level         Level          `json:"level"`
	DaysSince     int            `json:"days_since_contact"`
	NeedsFollowUp bool           `json:"needs_follow_up"`
	Breakdown     map[string]int `json:"breakdown"`
	CalculatedAt  time.Time      `json:"calculated_at"`
}

// DaysSince returns whole days elapsed between last and now, floored.
// A nil or zero timestamp maps to NeverContactedDays; future dates map to 0.
func DaysSince(last *time.Time, now time.Time) int {
	if last == nil || last.IsZero() {
		return NeverContactedDays
	}
	elapsed := now.Sub(*last)
	if elapsed <= 0 {
		return 0
	}
	return int(elapsed / (24 * time.Hour))
}

// recencyScore is non-increasing in days.
func recencyScore(days int) int {
	if days >= DecayWindowDays {
		return 0
	}
	return MaxScore - days*MaxScore/DecayWindowDays
}

// interactionBonus counts interactions inside the window before now.
func interactionBonus(interactions []models.Interaction, now time.Time) int {
	cutoff := now.Add(-InteractionWindowDays * 24 * time.Hour)
	bonus := 0
	for _, in := range interactions {
		if in.OccurredAt.After(cutoff) && !in.OccurredAt.After(now) {
			bonus += InteractionBonus
		}
		if bonus >= MaxInteractionBonus {
			return MaxInteractionBonus
		}
	}
	return bonus
}

// Score computes the bounded health score for a contact as of now.
func Score(c *models.Contact, now time.Time) int {
	return Evaluate(c, now).Score
}

// Evaluate computes the score together with its breakdown.
func Evaluate(c *models.Contact, now time.Time) *Result {
	days := DaysSince(c.LastContacted, now)
	breakdown := make(map[string]int)

	total := 0
	if days != NeverContactedDays {
		recency := recencyScore(days)
		breakdown["recency"] = recency
		total += recency

		if bonus := interactionBonus(c.Interactions, now); bonus > 0 {
			breakdown["recent_interactions"] = bonus
			total += bonus
		}
	}

	if total > MaxScore {
		total = MaxScore
	}

	return &Result{
		ContactID:     c.ID,
		ContactName:   c.Name,
		Score:         total,
		Level:         LevelFor(total),
		DaysSince:     days,
		NeedsFollowUp: NeedsFollowUp(total),
		Breakdown:     breakdown,
		CalculatedAt:  now,
	}
}

// LevelFor classifies a score.
func LevelFor(score int) Level {
	switch {
	case score >= WarmThreshold:
		return LevelWarm
	case score >= CoolingThreshold:
		return LevelCooling
	default:
		return LevelCold
	}
}

// NeedsFollowUp is the dashboard filter: anything below warm.
func NeedsFollowUp(score int) bool {
	return score < WarmThreshold
}

// FollowUpQueue returns contacts needing follow-up, coldest first.
// Equal scores keep input order.
func FollowUpQueue(contacts []*models.Contact, now time.Time) []*Result {
	var queue []*Result
	for _, c := range contacts {
		r := Evaluate(c, now)
		if r.NeedsFollowUp {
			queue = append(queue, r)
		}
	}

	sort.SliceStable(queue, func(i, j int) bool {
		return queue[i].Score < queue[j].Score
	})

	return queue
}

// Distribution counts contacts per level.
func Distribution(contacts []*models.Contact, now time.Time) map[Level]int {
	dist := map[Level]int{
		LevelWarm:    0,
		LevelCooling: 0,
		LevelCold:    0,
	}
	for _, c := range contacts {
		dist[LevelFor(Score(c, now))]++
	}
	return dist
}
