package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/bdobrica/Sohayok/common/spec/interaction"
	"github.com/bdobrica/Sohayok/internal/sohayok/progress"
)

// SaveProgress inserts or replaces the progress record of a user.
func (s *Store) SaveProgress(ctx context.Context, rec progress.Record) error {
	return saveProgress(ctx, s.db, rec)
}

func saveProgress(ctx context.Context, db execer, rec progress.Record) error {
	rec = rec.Clone()
	cats, err := json.Marshal(rec.CategoriesUsed)
	if err != nil {
		return fmt.Errorf("failed to encode categories: %w", err)
	}
	cards, err := json.Marshal(rec.FavoriteCards)
	if err != nil {
		return fmt.Errorf("failed to encode favorite cards: %w", err)
	}
	goals, err := json.Marshal(rec.LearningGoals)
	if err != nil {
		return fmt.Errorf("failed to encode learning goals: %w", err)
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO progress
			(user_id, total_interactions, categories_used, favorite_cards, learning_goals, last_active, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			total_interactions = excluded.total_interactions,
			categories_used    = excluded.categories_used,
			favorite_cards     = excluded.favorite_cards,
			learning_goals     = excluded.learning_goals,
			last_active        = excluded.last_active,
			updated_at         = excluded.updated_at
	`, rec.UserID, rec.TotalInteractions, string(cats), string(cards), string(goals),
		formatTime(rec.LastActive), formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("failed to save progress: %w", err)
	}
	return nil
}

const progressColumns = `user_id, total_interactions, categories_used, favorite_cards, learning_goals, last_active`

// GetProgress retrieves the progress record of a user.
func (s *Store) GetProgress(ctx context.Context, userID string) (progress.Record, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+progressColumns+" FROM progress WHERE user_id = ?", userID)
	rec, err := scanProgress(row)
	if errors.Is(err, sql.ErrNoRows) {
		return progress.Record{}, fmt.Errorf("progress %q: %w", userID, ErrNotFound)
	}
	return rec, err
}

// ListProgress returns every stored record ordered by user ID.
func (s *Store) ListProgress(ctx context.Context) ([]progress.Record, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+progressColumns+" FROM progress ORDER BY user_id")
	if err != nil {
		return nil, fmt.Errorf("failed to list progress: %w", err)
	}
	defer rows.Close()

	var out []progress.Record
	for rows.Next() {
		rec, err := scanProgress(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate progress: %w", err)
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanProgress(row scanner) (progress.Record, error) {
	var (
		rec                      progress.Record
		cats, cards, goals, last string
	)
	if err := row.Scan(&rec.UserID, &rec.TotalInteractions, &cats, &cards, &goals, &last); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return rec, err
		}
		return rec, fmt.Errorf("failed to scan progress: %w", err)
	}

	var categories []interaction.Category
	if err := json.Unmarshal([]byte(cats), &categories); err != nil {
		return rec, fmt.Errorf("failed to decode categories of %s: %w", rec.UserID, err)
	}
	rec.CategoriesUsed = categories
	if err := json.Unmarshal([]byte(cards), &rec.FavoriteCards); err != nil {
		return rec, fmt.Errorf("failed to decode favorite cards of %s: %w", rec.UserID, err)
	}
	if err := json.Unmarshal([]byte(goals), &rec.LearningGoals); err != nil {
		return rec, fmt.Errorf("failed to decode learning goals of %s: %w", rec.UserID, err)
	}
	t, err := parseTime(last)
	if err != nil {
		return rec, err
	}
	rec.LastActive = t
	return rec.Clone(), nil
}
