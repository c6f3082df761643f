// Package analytics derives summaries from a progress record and the
// interaction log.
//
// Counting differs from the progress tracker on purpose: the tracker counts
// user actions only, while CategoryStats and DailyActivity count every event
// of the user, robot replies included.
package analytics

import (
	"sort"
	"time"

	"github.com/elliotchance/pie/v2"

	"github.com/bdobrica/Sohayok/common/spec/interaction"
	"github.com/bdobrica/Sohayok/internal/sohayok/progress"
)

// DateLayout is the key format of DailyActivity buckets (UTC).
const DateLayout = "2006-01-02"

// Summary is derived on demand and never stored.
type Summary struct {
	UserID            string                       `json:"user_id"`
	TotalInteractions int                          `json:"total_interactions"`
	CategoriesUsed    []interaction.Category       `json:"categories_used"`
	FavoriteCards     []string                     `json:"favorite_cards"`
	LearningGoals     []string                     `json:"learning_goals"`
	LastActive        time.Time                    `json:"last_active"`
	CategoryStats     map[interaction.Category]int `json:"category_stats"`
	DailyActivity     map[string]int               `json:"daily_activity"`

	TotalEvents int                  `json:"total_events"`
	UserEvents  int                  `json:"user_events"`
	RobotEvents int                  `json:"robot_events"`
	ActiveDays  int                  `json:"active_days"`
	TopCategory interaction.Category `json:"top_category,omitempty"`
}

// Day is one DailyActivity bucket.
type Day struct {
	Date  string `json:"date"`
	Count int    `json:"count"`
}

// Summarize builds the summary for userID. It returns false when rec is nil:
// a user without a progress record has no analytics. Events of other users
// are ignored.
func Summarize(userID string, rec *progress.Record, events []interaction.Event) (*Summary, bool) {
	if rec == nil {
		return nil, false
	}
	r := rec.Clone()

	s := &Summary{
		UserID:            userID,
		TotalInteractions: r.TotalInteractions,
		CategoriesUsed:    r.CategoriesUsed,
		FavoriteCards:     r.FavoriteCards,
		LearningGoals:     r.LearningGoals,
		LastActive:        r.LastActive,
		CategoryStats:     make(map[interaction.Category]int, len(r.CategoriesUsed)),
		DailyActivity:     make(map[string]int),
	}

	mine := pie.Filter(events, func(e interaction.Event) bool { return e.UserID == userID })
	for _, cat := range r.CategoriesUsed {
		s.CategoryStats[cat] = 0
	}
	for _, e := range mine {
		s.TotalEvents++
		if e.IsUser() {
			s.UserEvents++
		} else {
			s.RobotEvents++
		}
		if _, tracked := s.CategoryStats[e.Category()]; tracked {
			s.CategoryStats[e.Category()]++
		}
		s.DailyActivity[e.TS.UTC().Format(DateLayout)]++
	}
	s.ActiveDays = len(s.DailyActivity)
	s.TopCategory = topCategory(r.CategoriesUsed, s.CategoryStats)
	return s, true
}

// topCategory returns the category with the highest count; ties go to the
// category used first.
func topCategory(order []interaction.Category, stats map[interaction.Category]int) interaction.Category {
	var top interaction.Category
	best := 0
	for _, cat := range order {
		if n := stats[cat]; n > best {
			top, best = cat, n
		}
	}
	return top
}

// RecentDays lists the daily buckets newest first. A positive limit caps
// the number of days returned.
func (s *Summary) RecentDays(limit int) []Day {
	dates := pie.Keys(s.DailyActivity)
	sort.Sort(sort.Reverse(sort.StringSlice(dates)))
	if limit > 0 && len(dates) > limit {
		dates = dates[:limit]
	}
	out := make([]Day, len(dates))
	for i, d := range dates {
		out[i] = Day{Date: d, Count: s.DailyActivity[d]}
	}
	return out
}
