package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ContentItem is a stored custom content row. Data holds the JSON payload.
type ContentItem struct {
	ID        string
	Type      string
	Title     string
	Data      string
	CreatedBy string
	CreatedAt time.Time
	UpdatedAt time.Time
	Active    bool
}

// ContentFilter narrows ListContent. Empty fields match everything.
type ContentFilter struct {
	Type      string
	CreatedBy string
}

// CreateContent inserts a new item.
func (s *Store) CreateContent(ctx context.Context, item *ContentItem) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO custom_content (id, type, title, data, created_by, created_at, updated_at, active)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, item.ID, item.Type, item.Title, item.Data, item.CreatedBy,
		formatTime(item.CreatedAt), formatTime(item.UpdatedAt), item.Active)
	if err != nil {
		return fmt.Errorf("failed to create content: %w", err)
	}
	return nil
}

// UpdateContent overwrites title, data and updated_at of an active item.
func (s *Store) UpdateContent(ctx context.Context, item *ContentItem) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE custom_content SET title = ?, data = ?, updated_at = ?
		WHERE id = ? AND active = 1
	`, item.Title, item.Data, formatTime(item.UpdatedAt), item.ID)
	if err != nil {
		return fmt.Errorf("failed to update content: %w", err)
	}
	return expectOneRow(res, "content", item.ID)
}

// DeactivateContent soft-deletes an item.
func (s *Store) DeactivateContent(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE custom_content SET active = 0, updated_at = ?
		WHERE id = ? AND active = 1
	`, formatTime(at), id)
	if err != nil {
		return fmt.Errorf("failed to deactivate content: %w", err)
	}
	return expectOneRow(res, "content", id)
}

const contentColumns = `id, type, title, data, created_by, created_at, updated_at, active`

// GetContent retrieves an item by ID, active or not.
func (s *Store) GetContent(ctx context.Context, id string) (*ContentItem, error) {
	item, err := scanContent(s.db.QueryRowContext(ctx, "SELECT "+contentColumns+" FROM custom_content WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("content %q: %w", id, ErrNotFound)
	}
	return item, err
}

// ListContent returns active items, newest first.
func (s *Store) ListContent(ctx context.Context, f ContentFilter) ([]*ContentItem, error) {
	query := "SELECT " + contentColumns + " FROM custom_content WHERE active = 1"
	var args []any
	if f.Type != "" {
		query += " AND type = ?"
		args = append(args, f.Type)
	}
	if f.CreatedBy != "" {
		query += " AND created_by = ?"
		args = append(args, f.CreatedBy)
	}
	query += " ORDER BY created_at DESC, id"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list content: %w", err)
	}
	defer rows.Close()

	var out []*ContentItem
	for rows.Next() {
		item, err := scanContent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate content: %w", err)
	}
	return out, nil
}

func scanContent(row scanner) (*ContentItem, error) {
	var (
		item             ContentItem
		created, updated string
	)
	if err := row.Scan(&item.ID, &item.Type, &item.Title, &item.Data, &item.CreatedBy, &created, &updated, &item.Active); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan content: %w", err)
	}
	var err error
	if item.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}
	if item.UpdatedAt, err = parseTime(updated); err != nil {
		return nil, err
	}
	return &item, nil
}

func expectOneRow(res sql.Result, what, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check affected rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%s %q: %w", what, id, ErrNotFound)
	}
	return nil
}
