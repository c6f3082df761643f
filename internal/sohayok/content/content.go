// Package content manages therapist-authored stories, cards and activities.
// Items are never removed: deleting one marks it inactive.
package content

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/samber/oops"

	"github.com/bdobrica/Sohayok/common/spec/interaction"
	"github.com/bdobrica/Sohayok/internal/sohayok/catalog"
	"github.com/bdobrica/Sohayok/internal/sohayok/store"
)

// IDPrefix marks identifiers of custom content.
const IDPrefix = "custom-"

// Type is the kind of a content item.
type Type string

const (
	TypeStory    Type = "story"
	TypeCard     Type = "card"
	TypeActivity Type = "activity"
)

// ErrNotFound is returned for unknown or inactive items.
var ErrNotFound = errors.New("content: not found")

// Item is one piece of custom content.
type Item struct {
	ID        string         `json:"id"`
	Type      Type           `json:"type"`
	Title     string         `json:"title"`
	Data      map[string]any `json:"data"`
	CreatedBy string         `json:"created_by"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	Active    bool           `json:"active"`
}

// NewItem is the input of Create.
type NewItem struct {
	Type      Type           `json:"type" validate:"required,oneof=story card activity"`
	Title     string         `json:"title" validate:"required,max=200"`
	Data      map[string]any `json:"data"`
	CreatedBy string         `json:"created_by" validate:"required"`
}

// Update changes an item. Nil fields are left as they are; Data keys are
// merged into the existing payload.
type Update struct {
	Title *string        `json:"title,omitempty" validate:"omitempty,min=1,max=200"`
	Data  map[string]any `json:"data,omitempty"`
}

// Filter narrows List. Empty fields match everything.
type Filter struct {
	Type      Type   `json:"type,omitempty" validate:"omitempty,oneof=story card activity"`
	CreatedBy string `json:"created_by,omitempty"`
}

// CardData is the payload of a card item. Active card items extend the
// catalog.
type CardData struct {
	Category interaction.Category `json:"category" validate:"required"`
	ID       string               `json:"id" validate:"required"`
	Label    string               `json:"label"`
	Icon     string               `json:"icon"`
	Phrase   string               `json:"phrase"`
	Replies  []string             `json:"replies" validate:"min=1,dive,required"`
}

// Repository is the storage the manager relies on; *store.Store satisfies
// it.
type Repository interface {
	CreateContent(ctx context.Context, item *store.ContentItem) error
	UpdateContent(ctx context.Context, item *store.ContentItem) error
	DeactivateContent(ctx context.Context, id string, at time.Time) error
	GetContent(ctx context.Context, id string) (*store.ContentItem, error)
	ListContent(ctx context.Context, f store.ContentFilter) ([]*store.ContentItem, error)
}

// Manager validates and stores custom content.
type Manager struct {
	repo     Repository
	validate *validator.Validate
	now      func() time.Time
	logger   *slog.Logger
}

// NewManager creates a Manager. If logger is nil, the default slog logger
// is used.
func NewManager(repo Repository, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		repo:     repo,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		now:      time.Now,
		logger:   logger,
	}
}

// Create stores a new active item with a fresh custom- identifier.
func (m *Manager) Create(ctx context.Context, in NewItem) (*Item, error) {
	if err := m.validate.Struct(in); err != nil {
		return nil, oops.In("content").Code("content_invalid").Wrapf(err, "create")
	}
	if in.Type == TypeCard {
		if _, err := m.cardData(in.Data); err != nil {
			return nil, err
		}
	}

	now := m.now().UTC()
	item := &Item{
		ID:        IDPrefix + uuid.NewString(),
		Type:      in.Type,
		Title:     in.Title,
		Data:      in.Data,
		CreatedBy: in.CreatedBy,
		CreatedAt: now,
		UpdatedAt: now,
		Active:    true,
	}
	if item.Data == nil {
		item.Data = map[string]any{}
	}

	row, err := toRow(item)
	if err != nil {
		return nil, err
	}
	if err := m.repo.CreateContent(ctx, row); err != nil {
		return nil, fmt.Errorf("content: create: %w", err)
	}
	m.logger.Info("content: created", "id", item.ID, "type", item.Type, "created_by", item.CreatedBy)
	return item, nil
}

// Get returns an active item.
func (m *Manager) Get(ctx context.Context, id string) (*Item, error) {
	row, err := m.repo.GetContent(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("content %q: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("content: get: %w", err)
	}
	if !row.Active {
		return nil, fmt.Errorf("content %q: %w", id, ErrNotFound)
	}
	return fromRow(row)
}

// Update applies a partial update to an active item.
func (m *Manager) Update(ctx context.Context, id string, upd Update) (*Item, error) {
	if err := m.validate.Struct(upd); err != nil {
		return nil, oops.In("content").Code("content_invalid").Wrapf(err, "update")
	}
	item, err := m.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if upd.Title != nil {
		item.Title = *upd.Title
	}
	if len(upd.Data) > 0 {
		merged := maps.Clone(item.Data)
		if merged == nil {
			merged = map[string]any{}
		}
		maps.Copy(merged, upd.Data)
		if item.Type == TypeCard {
			if _, err := m.cardData(merged); err != nil {
				return nil, err
			}
		}
		item.Data = merged
	}
	item.UpdatedAt = m.now().UTC()

	row, err := toRow(item)
	if err != nil {
		return nil, err
	}
	if err := m.repo.UpdateContent(ctx, row); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("content %q: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("content: update: %w", err)
	}
	m.logger.Info("content: updated", "id", id)
	return item, nil
}

// Delete marks an item inactive.
func (m *Manager) Delete(ctx context.Context, id string) error {
	if err := m.repo.DeactivateContent(ctx, id, m.now().UTC()); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("content %q: %w", id, ErrNotFound)
		}
		return fmt.Errorf("content: delete: %w", err)
	}
	m.logger.Info("content: deactivated", "id", id)
	return nil
}

// List returns active items matching f, newest first.
func (m *Manager) List(ctx context.Context, f Filter) ([]*Item, error) {
	if err := m.validate.Struct(f); err != nil {
		return nil, oops.In("content").Code("content_invalid").Wrapf(err, "list")
	}
	rows, err := m.repo.ListContent(ctx, store.ContentFilter{Type: string(f.Type), CreatedBy: f.CreatedBy})
	if err != nil {
		return nil, fmt.Errorf("content: list: %w", err)
	}
	out := make([]*Item, 0, len(rows))
	for _, row := range rows {
		item, err := fromRow(row)
		if err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, nil
}

// CatalogOverlay turns active card items into a catalog overlay. Items whose
// payload no longer validates are skipped with a warning.
func (m *Manager) CatalogOverlay(ctx context.Context) (*catalog.Overlay, error) {
	items, err := m.List(ctx, Filter{Type: TypeCard})
	if err != nil {
		return nil, err
	}

	overlay := &catalog.Overlay{}
	index := map[interaction.Category]int{}
	// Oldest first so later edits of the same card win.
	for i := len(items) - 1; i >= 0; i-- {
		item := items[i]
		data, err := m.cardData(item.Data)
		if err != nil {
			m.logger.Warn("content: skipping invalid card", "id", item.ID, "error", err)
			continue
		}
		pos, ok := index[data.Category]
		if !ok {
			pos = len(overlay.Categories)
			index[data.Category] = pos
			overlay.Categories = append(overlay.Categories, catalog.CategorySpec{ID: data.Category})
		}
		spec := &overlay.Categories[pos]
		card := catalog.Card{
			ID:      data.ID,
			Icon:    data.Icon,
			Label:   data.Label,
			Phrase:  data.Phrase,
			Replies: data.Replies,
		}
		replaced := false
		for j := range spec.Cards {
			if spec.Cards[j].ID == card.ID {
				spec.Cards[j] = card
				replaced = true
			}
		}
		if !replaced {
			spec.Cards = append(spec.Cards, card)
		}
	}
	return overlay, nil
}

func (m *Manager) cardData(data map[string]any) (CardData, error) {
	var cd CardData
	raw, err := json.Marshal(data)
	if err != nil {
		return cd, oops.In("content").Code("content_invalid").Wrapf(err, "encode card data")
	}
	if err := json.Unmarshal(raw, &cd); err != nil {
		return cd, oops.In("content").Code("content_invalid").Wrapf(err, "decode card data")
	}
	if err := m.validate.Struct(cd); err != nil {
		return cd, oops.In("content").Code("content_invalid").Wrapf(err, "card data")
	}
	return cd, nil
}

func toRow(item *Item) (*store.ContentItem, error) {
	data, err := json.Marshal(item.Data)
	if err != nil {
		return nil, fmt.Errorf("content: encode data: %w", err)
	}
	return &store.ContentItem{
		ID:        item.ID,
		Type:      string(item.Type),
		Title:     item.Title,
		Data:      string(data),
		CreatedBy: item.CreatedBy,
		CreatedAt: item.CreatedAt,
		UpdatedAt: item.UpdatedAt,
		Active:    item.Active,
	}, nil
}

func fromRow(row *store.ContentItem) (*Item, error) {
	item := &Item{
		ID:        row.ID,
		Type:      Type(row.Type),
		Title:     row.Title,
		CreatedBy: row.CreatedBy,
		CreatedAt: row.CreatedAt,
		UpdatedAt: row.UpdatedAt,
		Active:    row.Active,
	}
	if err := json.Unmarshal([]byte(row.Data), &item.Data); err != nil {
		return nil, fmt.Errorf("content: decode data of %s: %w", row.ID, err)
	}
	if item.Data == nil {
		item.Data = map[string]any{}
	}
	return item, nil
}
