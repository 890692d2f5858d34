package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ramonehamilton/edh-trainer/internal/storage/models"
)

// CardRepository handles card persistence.
type CardRepository interface {
	// GetOrCreate returns the id for the named card, inserting it if it
	// does not exist yet.
	GetOrCreate(ctx context.Context, name string) (int64, error)

	// GetByName returns the card with the given name, or nil if absent.
	GetByName(ctx context.Context, name string) (*models.Card, error)

	// Count returns the number of cards.
	Count(ctx context.Context) (int, error)
}

// cardRepo implements CardRepository.
type cardRepo struct {
	db *sql.DB
}

// NewCardRepository creates a new card repository.
func NewCardRepository(db *sql.DB) CardRepository {
	return &cardRepo{db: db}
}

// GetOrCreate returns the id for the named card, inserting it if needed.
func (r *cardRepo) GetOrCreate(ctx context.Context, name string) (int64, error) {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO cards (name) VALUES (?) ON CONFLICT(name) DO NOTHING`, name)
	if err != nil {
		return 0, fmt.Errorf("failed to insert card %q: %w", name, err)
	}

	var id int64
	err = r.db.QueryRowContext(ctx, `SELECT id FROM cards WHERE name = ?`, name).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to look up card %q: %w", name, err)
	}

	return id, nil
}

// GetByName returns the card with the given name, or nil if absent.
func (r *cardRepo) GetByName(ctx context.Context, name string) (*models.Card, error) {
	var c models.Card
	err := r.db.QueryRowContext(ctx,
		`SELECT id, name FROM cards WHERE name = ?`, name).Scan(&c.ID, &c.Name)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get card %q: %w", name, err)
	}
	return &c, nil
}

// Count returns the number of cards.
func (r *cardRepo) Count(ctx context.Context) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM cards`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count cards: %w", err)
	}
	return count, nil
}
