// Package progress accumulates per-user interaction history into progress
// records.
package progress

import (
	"slices"
	"time"

	"github.com/elliotchance/pie/v2"

	"github.com/bdobrica/Sohayok/common/spec/interaction"
)

// MaxFavoriteCards bounds the favorite-card list of a record.
const MaxFavoriteCards = 10

// Record is the persistent progress of one user.
type Record struct {
	UserID            string                 `json:"user_id"`
	TotalInteractions int                    `json:"total_interactions"`
	CategoriesUsed    []interaction.Category `json:"categories_used"`
	FavoriteCards     []string               `json:"favorite_cards"`
	LearningGoals     []string               `json:"learning_goals"`
	LastActive        time.Time              `json:"last_active"`
}

// New returns an empty record for userID. Slices are non-nil so the record
// serializes as empty lists.
func New(userID string, at time.Time) Record {
	return Record{
		UserID:         userID,
		CategoriesUsed: []interaction.Category{},
		FavoriteCards:  []string{},
		LearningGoals:  []string{},
		LastActive:     at.UTC(),
	}
}

// Apply records one user action. Empty category or card values are skipped.
// A card seen for the first time is appended; when the list grows past
// MaxFavoriteCards the oldest entries are dropped. A card already tracked
// keeps its position.
func (r *Record) Apply(cat interaction.Category, cardID string, at time.Time) {
	r.TotalInteractions++
	r.LastActive = at.UTC()

	if cat != "" && !pie.Contains(r.CategoriesUsed, cat) {
		r.CategoriesUsed = append(r.CategoriesUsed, cat)
	}
	if cardID != "" && !pie.Contains(r.FavoriteCards, cardID) {
		r.FavoriteCards = append(r.FavoriteCards, cardID)
		if n := len(r.FavoriteCards); n > MaxFavoriteCards {
			r.FavoriteCards = slices.Clone(r.FavoriteCards[n-MaxFavoriteCards:])
		}
	}
}

// SetLearningGoals replaces the goals and refreshes LastActive.
func (r *Record) SetLearningGoals(goals []string, at time.Time) {
	r.LearningGoals = cloneOrEmpty(goals)
	r.LastActive = at.UTC()
}

// Clone returns a deep copy.
func (r Record) Clone() Record {
	r.CategoriesUsed = cloneOrEmpty(r.CategoriesUsed)
	r.FavoriteCards = cloneOrEmpty(r.FavoriteCards)
	r.LearningGoals = cloneOrEmpty(r.LearningGoals)
	return r
}

func cloneOrEmpty[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return slices.Clone(s)
}
