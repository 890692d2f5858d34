package repository

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"testing"

	_ "modernc.org/sqlite"
)

func setupTestDB(t *testing.T) (*sql.DB, func()) {
	t.Helper()

	tmpFile, err := os.CreateTemp("", "edh_trainer_test_*.db")
	if err != nil {
		t.Fatalf("Failed to create temp file: %v", err)
	}
	tmpFile.Close()

	db, err := sql.Open("sqlite", tmpFile.Name())
	if err != nil {
		os.Remove(tmpFile.Name())
		t.Fatalf("Failed to open database: %v", err)
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS commanders (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL UNIQUE
		);
		CREATE TABLE IF NOT EXISTS cards (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL UNIQUE
		);
		CREATE TABLE IF NOT EXISTS decks (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			commander_id INTEGER NOT NULL REFERENCES commanders(id),
			url_hash TEXT NOT NULL UNIQUE
		);
		CREATE TABLE IF NOT EXISTS deck_cards (
			deck_id INTEGER NOT NULL REFERENCES decks(id),
			card_id INTEGER NOT NULL REFERENCES cards(id),
			PRIMARY KEY (deck_id, card_id)
		);
		CREATE INDEX IF NOT EXISTS idx_decks_commander ON decks(commander_id);
		CREATE INDEX IF NOT EXISTS idx_deck_cards_card ON deck_cards(card_id);
	`)
	if err != nil {
		db.Close()
		os.Remove(tmpFile.Name())
		t.Fatalf("Failed to create tables: %v", err)
	}

	cleanup := func() {
		db.Close()
		os.Remove(tmpFile.Name())
	}

	return db, cleanup
}

// mustCards inserts n cards named card-0..card-n-1 and returns their ids.
func mustCards(t *testing.T, db *sql.DB, n int) []int64 {
	t.Helper()

	repo := NewCardRepository(db)
	ctx := context.Background()

	ids := make([]int64, 0, n)
	for i := 0; i < n; i++ {
		id, err := repo.GetOrCreate(ctx, testCardName(i))
		if err != nil {
			t.Fatalf("GetOrCreate card %d failed: %v", i, err)
		}
		ids = append(ids, id)
	}
	return ids
}

func testCardName(i int) string {
	return fmt.Sprintf("card-%03d", i)
}
