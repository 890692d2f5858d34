package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/ramonehamilton/edh-trainer/internal/storage/models"
)

// Integrity violations detected at deck ingestion. Callers should skip the
// offending deck and continue; a single malformed deck never aborts a batch.
var (
	// ErrDeckTooLarge is returned when a deck holds more than
	// models.MaxDeckSize cards.
	ErrDeckTooLarge = errors.New("deck exceeds maximum card count")

	// ErrDuplicateCard is returned when the same card appears more than
	// once in a deck.
	ErrDuplicateCard = errors.New("duplicate card in deck")

	// ErrDeckExists is returned when a deck with the same url hash has
	// already been ingested.
	ErrDeckExists = errors.New("deck already ingested")
)

// DeckRepository handles deck and deck membership persistence.
type DeckRepository interface {
	// Insert stores a deck and its card memberships in one transaction.
	// The deck is validated before anything is written: more than
	// models.MaxDeckSize cards yields ErrDeckTooLarge, a repeated card id
	// yields ErrDuplicateCard, a repeated url hash yields ErrDeckExists.
	Insert(ctx context.Context, commanderID int64, urlHash string, cardIDs []int64) (int64, error)

	// ExistsByURLHash reports whether a deck with the given url hash exists.
	ExistsByURLHash(ctx context.Context, urlHash string) (bool, error)

	// DeleteByCommander removes all decks (and their memberships) owned by
	// a commander. Used to reset partial state when resuming a scrape.
	DeleteByCommander(ctx context.Context, commanderID int64) (int, error)

	// Count returns the total number of decks.
	Count(ctx context.Context) (int, error)

	// CountByCommander returns the number of decks owned by a commander.
	CountByCommander(ctx context.Context, commanderID int64) (int, error)
}

// deckRepo implements DeckRepository.
type deckRepo struct {
	db *sql.DB
}

// NewDeckRepository creates a new deck repository.
func NewDeckRepository(db *sql.DB) DeckRepository {
	return &deckRepo{db: db}
}

// Insert stores a deck and its card memberships in one transaction.
func (r *deckRepo) Insert(ctx context.Context, commanderID int64, urlHash string, cardIDs []int64) (int64, error) {
	if len(cardIDs) > models.MaxDeckSize {
		return 0, fmt.Errorf("deck %s has %d cards: %w", urlHash, len(cardIDs), ErrDeckTooLarge)
	}

	seen := make(map[int64]struct{}, len(cardIDs))
	for _, id := range cardIDs {
		if _, ok := seen[id]; ok {
			return 0, fmt.Errorf("deck %s repeats card %d: %w", urlHash, id, ErrDuplicateCard)
		}
		seen[id] = struct{}{}
	}

	exists, err := r.ExistsByURLHash(ctx, urlHash)
	if err != nil {
		return 0, err
	}
	if exists {
		return 0, fmt.Errorf("deck %s: %w", urlHash, ErrDeckExists)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO decks (commander_id, url_hash) VALUES (?, ?)`, commanderID, urlHash)
	if err != nil {
		return 0, fmt.Errorf("failed to insert deck %s: %w", urlHash, err)
	}

	deckID, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get deck id: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO deck_cards (deck_id, card_id) VALUES (?, ?)`)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare membership statement: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, cardID := range cardIDs {
		if _, err := stmt.ExecContext(ctx, deckID, cardID); err != nil {
			return 0, fmt.Errorf("failed to insert membership (deck %d, card %d): %w", deckID, cardID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit deck %s: %w", urlHash, err)
	}

	return deckID, nil
}

// ExistsByURLHash reports whether a deck with the given url hash exists.
func (r *deckRepo) ExistsByURLHash(ctx context.Context, urlHash string) (bool, error) {
	var one int
	err := r.db.QueryRowContext(ctx,
		`SELECT 1 FROM decks WHERE url_hash = ?`, urlHash).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check deck %s: %w", urlHash, err)
	}
	return true, nil
}

// DeleteByCommander removes all decks owned by a commander.
func (r *deckRepo) DeleteByCommander(ctx context.Context, commanderID int64) (int, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		DELETE FROM deck_cards
		WHERE deck_id IN (SELECT id FROM decks WHERE commander_id = ?)
	`, commanderID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete memberships for commander %d: %w", commanderID, err)
	}

	res, err := tx.ExecContext(ctx, `DELETE FROM decks WHERE commander_id = ?`, commanderID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete decks for commander %d: %w", commanderID, err)
	}

	deleted, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get deleted deck count: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit: %w", err)
	}

	return int(deleted), nil
}

// Count returns the total number of decks.
func (r *deckRepo) Count(ctx context.Context) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM decks`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count decks: %w", err)
	}
	return count, nil
}

// CountByCommander returns the number of decks owned by a commander.
func (r *deckRepo) CountByCommander(ctx context.Context, commanderID int64) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM decks WHERE commander_id = ?`, commanderID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count decks for commander %d: %w", commanderID, err)
	}
	return count, nil
}
