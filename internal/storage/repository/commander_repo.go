// Package repository provides data access for commanders, cards and decks.
package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ramonehamilton/edh-trainer/internal/storage/models"
)

// CommanderRepository handles commander persistence.
type CommanderRepository interface {
	// GetOrCreate returns the id for the named commander, inserting it if
	// it does not exist yet.
	GetOrCreate(ctx context.Context, name string) (int64, error)

	// GetByName returns the commander with the given name, or nil if absent.
	GetByName(ctx context.Context, name string) (*models.Commander, error)

	// Last returns the commander with the highest id, or nil if the table
	// is empty. Used to resume an interrupted scrape.
	Last(ctx context.Context) (*models.Commander, error)

	// Count returns the number of commanders.
	Count(ctx context.Context) (int, error)
}

// commanderRepo implements CommanderRepository.
type commanderRepo struct {
	db *sql.DB
}

// NewCommanderRepository creates a new commander repository.
func NewCommanderRepository(db *sql.DB) CommanderRepository {
	return &commanderRepo{db: db}
}

// GetOrCreate returns the id for the named commander, inserting it if needed.
func (r *commanderRepo) GetOrCreate(ctx context.Context, name string) (int64, error) {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO commanders (name) VALUES (?) ON CONFLICT(name) DO NOTHING`, name)
	if err != nil {
		return 0, fmt.Errorf("failed to insert commander %q: %w", name, err)
	}

	var id int64
	err = r.db.QueryRowContext(ctx, `SELECT id FROM commanders WHERE name = ?`, name).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to look up commander %q: %w", name, err)
	}

	return id, nil
}

// GetByName returns the commander with the given name, or nil if absent.
func (r *commanderRepo) GetByName(ctx context.Context, name string) (*models.Commander, error) {
	var c models.Commander
	err := r.db.QueryRowContext(ctx,
		`SELECT id, name FROM commanders WHERE name = ?`, name).Scan(&c.ID, &c.Name)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get commander %q: %w", name, err)
	}
	return &c, nil
}

// Last returns the commander with the highest id, or nil if none exist.
func (r *commanderRepo) Last(ctx context.Context) (*models.Commander, error) {
	var c models.Commander
	err := r.db.QueryRowContext(ctx,
		`SELECT id, name FROM commanders ORDER BY id DESC LIMIT 1`).Scan(&c.ID, &c.Name)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get last commander: %w", err)
	}
	return &c, nil
}

// Count returns the number of commanders.
func (r *commanderRepo) Count(ctx context.Context) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM commanders`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count commanders: %w", err)
	}
	return count, nil
}
