package conversation

import (
	"math/rand/v2"
	"time"

	"github.com/bdobrica/Sohayok/common/spec/interaction"
	"github.com/bdobrica/Sohayok/internal/sohayok/catalog"
)

const (
	// followUpAfter is the interaction count a session must exceed before
	// replies carry a follow-up question.
	followUpAfter = 2

	// maxSuggestions caps the suggestion chips returned with a reply.
	maxSuggestions = 2
)

// Source picks reply indices. *rand.Rand satisfies it; tests inject seeded
// generators or fixed sequences.
type Source interface {
	IntN(n int) int
}

// NewSource returns a Source seeded with seed, or a randomly seeded one when
// seed is zero.
func NewSource(seed uint64) Source {
	if seed == 0 {
		return rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), rand.Uint64()))
	}
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}

// Selector produces replies for one session. It is not safe for concurrent
// use; Sessions serializes access.
type Selector struct {
	catalog *catalog.Catalog
	rng     Source
	ctx     Context
}

// NewSelector creates a Selector with an empty context.
func NewSelector(c *catalog.Catalog, rng Source) *Selector {
	if rng == nil {
		rng = NewSource(0)
	}
	return &Selector{catalog: c, rng: rng}
}

// Respond updates the context for the selection and builds the reply.
// Unknown cards or categories fall back to the encouragement pool, so a
// reply is always produced.
func (s *Selector) Respond(cardID string, cat interaction.Category) Response {
	s.ctx.observe(cardID, cat)

	candidates := s.catalog.Lookup(cat, cardID)
	if len(candidates) == 0 {
		candidates = s.catalog.Encouragements()
	}

	resp := Response{
		Text:        s.pick(candidates),
		Suggestions: s.suggestions(cat),
	}
	if s.ctx.InteractionCount > followUpAfter {
		resp.FollowUp = s.pick(s.catalog.FollowUps())
	}
	return resp
}

// Greeting picks a greeting without touching the context.
func (s *Selector) Greeting() string {
	return s.pick(s.catalog.Greetings())
}

// Context returns a snapshot of the session context.
func (s *Selector) Context() Context {
	return s.ctx.clone()
}

func (s *Selector) suggestions(cat interaction.Category) []string {
	out := s.catalog.Suggestions(cat)
	if len(out) > maxSuggestions {
		out = out[:maxSuggestions]
	}
	if out == nil {
		out = []string{}
	}
	return out
}

func (s *Selector) pick(pool []string) string {
	if len(pool) == 0 {
		return ""
	}
	return pool[s.rng.IntN(len(pool))]
}
