// Package catalog holds the card vocabulary and the reply pools used by the
// response selector.
//
// A Catalog is immutable once built. Lookups are pure: the same
// (category, card) pair always yields the same candidate sequence, and an
// unknown pair yields an empty sequence so callers can fall back to the
// encouragement pool.
package catalog

import (
	"bytes"
	_ "embed"
	"fmt"
	"io"
	"slices"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/samber/oops"
	"gopkg.in/yaml.v3"

	"github.com/bdobrica/Sohayok/common/spec/interaction"
)

//go:embed catalog.yaml
var defaultCatalogYAML []byte

// Card is one selectable communication unit.
type Card struct {
	ID      string   `yaml:"id" json:"id" validate:"required"`
	Icon    string   `yaml:"icon,omitempty" json:"icon,omitempty"`
	Label   string   `yaml:"label,omitempty" json:"label,omitempty"`
	Phrase  string   `yaml:"phrase,omitempty" json:"phrase,omitempty"`
	Replies []string `yaml:"replies" json:"replies" validate:"min=1,dive,required"`
}

// SpokenText returns what is said on the child's behalf when the card is
// tapped: the phrase, else the label, else the ID.
func (c Card) SpokenText() string {
	switch {
	case c.Phrase != "":
		return c.Phrase
	case c.Label != "":
		return c.Label
	}
	return c.ID
}

// CategorySpec describes one category in a catalog document.
type CategorySpec struct {
	ID          interaction.Category `yaml:"id" validate:"required"`
	Title       string               `yaml:"title,omitempty"`
	Suggestions []string             `yaml:"suggestions,omitempty" validate:"dive,required"`
	Cards       []Card               `yaml:"cards,omitempty" validate:"unique=ID,dive"`
}

// Overlay is a catalog document. The built-in vocabulary is a complete
// overlay; operator files may carry only the parts they change.
type Overlay struct {
	Greetings      []string       `yaml:"greetings,omitempty" validate:"dive,required"`
	FollowUps      []string       `yaml:"follow_ups,omitempty" validate:"dive,required"`
	Encouragements []string       `yaml:"encouragements,omitempty" validate:"dive,required"`
	Categories     []CategorySpec `yaml:"categories,omitempty" validate:"unique=ID,dive"`
}

type category struct {
	title       string
	suggestions []string
	cards       []Card
	index       map[string]int
}

// Catalog is the resolved, read-only vocabulary.
type Catalog struct {
	greetings      []string
	followUps      []string
	encouragements []string

	order      []interaction.Category
	categories map[interaction.Category]*category
}

var validate = validator.New(validator.WithRequiredStructEnabled())

var loadDefault = sync.OnceValues(func() (*Catalog, error) {
	return Load(bytes.NewReader(defaultCatalogYAML))
})

// Default returns the built-in vocabulary. It panics if the embedded
// document is invalid, which only a broken build can cause.
func Default() *Catalog {
	c, err := loadDefault()
	if err != nil {
		panic(fmt.Sprintf("catalog: embedded vocabulary: %v", err))
	}
	return c
}

// ParseOverlay decodes and validates a catalog document.
func ParseOverlay(r io.Reader) (*Overlay, error) {
	var o Overlay
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&o); err != nil && err != io.EOF {
		return nil, oops.In("catalog").Code("catalog_parse").Wrapf(err, "decode catalog document")
	}
	if err := validate.Struct(&o); err != nil {
		return nil, oops.In("catalog").Code("catalog_invalid").Wrapf(err, "validate catalog document")
	}
	return &o, nil
}

// Load parses a complete catalog document.
func Load(r io.Reader) (*Catalog, error) {
	o, err := ParseOverlay(r)
	if err != nil {
		return nil, err
	}
	return (&Catalog{categories: map[interaction.Category]*category{}}).Merge(o)
}

// Merge returns a new catalog with the overlay applied: non-empty pools
// replace the current ones, categories are added or updated, and cards are
// added or replaced by ID. The receiver is left untouched.
func (c *Catalog) Merge(o *Overlay) (*Catalog, error) {
	out := c.clone()
	if o == nil {
		return out, out.check()
	}

	if len(o.Greetings) > 0 {
		out.greetings = slices.Clone(o.Greetings)
	}
	if len(o.FollowUps) > 0 {
		out.followUps = slices.Clone(o.FollowUps)
	}
	if len(o.Encouragements) > 0 {
		out.encouragements = slices.Clone(o.Encouragements)
	}

	for _, spec := range o.Categories {
		cat, ok := out.categories[spec.ID]
		if !ok {
			cat = &category{index: map[string]int{}}
			out.categories[spec.ID] = cat
			out.order = append(out.order, spec.ID)
		}
		if spec.Title != "" {
			cat.title = spec.Title
		}
		if len(spec.Suggestions) > 0 {
			cat.suggestions = slices.Clone(spec.Suggestions)
		}
		for _, card := range spec.Cards {
			card.Replies = slices.Clone(card.Replies)
			if i, exists := cat.index[card.ID]; exists {
				cat.cards[i] = card
				continue
			}
			cat.index[card.ID] = len(cat.cards)
			cat.cards = append(cat.cards, card)
		}
	}

	return out, out.check()
}

// check enforces the pools the selector relies on.
func (c *Catalog) check() error {
	switch {
	case len(c.greetings) == 0:
		return oops.In("catalog").Code("catalog_incomplete").Errorf("greeting pool is empty")
	case len(c.followUps) == 0:
		return oops.In("catalog").Code("catalog_incomplete").Errorf("follow-up pool is empty")
	case len(c.encouragements) == 0:
		return oops.In("catalog").Code("catalog_incomplete").Errorf("encouragement pool is empty")
	}
	return nil
}

func (c *Catalog) clone() *Catalog {
	out := &Catalog{
		greetings:      c.greetings,
		followUps:      c.followUps,
		encouragements: c.encouragements,
		order:          slices.Clone(c.order),
		categories:     make(map[interaction.Category]*category, len(c.categories)),
	}
	for id, cat := range c.categories {
		cp := &category{
			title:       cat.title,
			suggestions: cat.suggestions,
			cards:       slices.Clone(cat.cards),
			index:       make(map[string]int, len(cat.index)),
		}
		for k, v := range cat.index {
			cp.index[k] = v
		}
		out.categories[id] = cp
	}
	return out
}

// Lookup returns the candidate replies for a card within a category, or an
// empty slice when the pair is unknown.
func (c *Catalog) Lookup(cat interaction.Category, cardID string) []string {
	card, ok := c.Card(cat, cardID)
	if !ok {
		return nil
	}
	return card.Replies
}

// Card returns a copy of the card definition.
func (c *Catalog) Card(cat interaction.Category, cardID string) (Card, bool) {
	spec, ok := c.categories[cat]
	if !ok {
		return Card{}, false
	}
	i, ok := spec.index[cardID]
	if !ok {
		return Card{}, false
	}
	card := spec.cards[i]
	card.Replies = slices.Clone(card.Replies)
	return card, true
}

// Cards lists the cards of a category in document order.
func (c *Catalog) Cards(cat interaction.Category) []Card {
	spec, ok := c.categories[cat]
	if !ok {
		return nil
	}
	out := make([]Card, len(spec.cards))
	for i, card := range spec.cards {
		card.Replies = slices.Clone(card.Replies)
		out[i] = card
	}
	return out
}

// Categories lists category IDs in the order they were first defined.
func (c *Catalog) Categories() []interaction.Category {
	return slices.Clone(c.order)
}

// Title returns the display title of a category.
func (c *Catalog) Title(cat interaction.Category) string {
	if spec, ok := c.categories[cat]; ok {
		return spec.title
	}
	return ""
}

// Suggestions returns the suggestion chips offered after a reply in the
// given category. Unknown categories have none.
func (c *Catalog) Suggestions(cat interaction.Category) []string {
	if spec, ok := c.categories[cat]; ok {
		return slices.Clone(spec.suggestions)
	}
	return nil
}

// Greetings returns the greeting pool.
func (c *Catalog) Greetings() []string { return slices.Clone(c.greetings) }

// FollowUps returns the follow-up pool.
func (c *Catalog) FollowUps() []string { return slices.Clone(c.followUps) }

// Encouragements returns the fallback pool.
func (c *Catalog) Encouragements() []string { return slices.Clone(c.encouragements) }
