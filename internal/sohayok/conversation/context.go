// Package conversation turns card selections into spoken replies. A Selector
// owns the Context of one session; Sessions keeps one Selector per active
// session and ends sessions that have gone quiet.
package conversation

import (
	"slices"

	"github.com/bdobrica/Sohayok/common/spec/interaction"
)

// Context is the mutable state of one session. It is never persisted.
type Context struct {
	LastCard         string                 `json:"last_card,omitempty"`
	InteractionCount int                    `json:"interaction_count"`
	Interests        []interaction.Category `json:"interests"`
}

// observe applies the unconditional context update that precedes every
// reply.
func (c *Context) observe(cardID string, cat interaction.Category) {
	c.LastCard = cardID
	c.InteractionCount++
	if !slices.Contains(c.Interests, cat) {
		c.Interests = append(c.Interests, cat)
	}
}

func (c Context) clone() Context {
	c.Interests = slices.Clone(c.Interests)
	return c
}

// Response is the robot's answer to one card selection. FollowUp is empty
// when no follow-up question is asked.
type Response struct {
	Text        string   `json:"text"`
	FollowUp    string   `json:"follow_up,omitempty"`
	Suggestions []string `json:"suggestions"`
}

// HasFollowUp reports whether a follow-up question should be spoken after
// the main reply.
func (r Response) HasFollowUp() bool {
	return r.FollowUp != ""
}
