package trainingset

import (
	"bytes"
	"context"
	"database/sql"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"testing"

	_ "modernc.org/sqlite"
)

// setupFixtureDB builds the small hand-checkable store:
//
//	commander 1: deck 1 {1,2,3}, deck 2 {1,2}, deck 3 {2,4}
//	commander 2: deck 4 {3,4,5}, deck 5 {4,5}
//
// Five decks, five cards, all cards qualify at threshold 0.
func setupFixtureDB(t *testing.T) (*sql.DB, func()) {
	t.Helper()

	tmpFile, err := os.CreateTemp("", "trainingset_test_*.db")
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
		CREATE TABLE commanders (id INTEGER PRIMARY KEY, name TEXT NOT NULL UNIQUE);
		CREATE TABLE cards (id INTEGER PRIMARY KEY, name TEXT NOT NULL UNIQUE);
		CREATE TABLE decks (
			id INTEGER PRIMARY KEY,
			commander_id INTEGER NOT NULL REFERENCES commanders(id),
			url_hash TEXT NOT NULL UNIQUE
		);
		CREATE TABLE deck_cards (
			deck_id INTEGER NOT NULL REFERENCES decks(id),
			card_id INTEGER NOT NULL REFERENCES cards(id),
			PRIMARY KEY (deck_id, card_id)
		);

		INSERT INTO commanders (id, name) VALUES (1, 'Alpha'), (2, 'Beta');
		INSERT INTO cards (id, name) VALUES
			(1, 'One'), (2, 'Two'), (3, 'Three'), (4, 'Four'), (5, 'Five');
		INSERT INTO decks (id, commander_id, url_hash) VALUES
			(1, 1, 'h1'), (2, 1, 'h2'), (3, 1, 'h3'), (4, 2, 'h4'), (5, 2, 'h5');
		INSERT INTO deck_cards (deck_id, card_id) VALUES
			(1, 1), (1, 2), (1, 3),
			(2, 1), (2, 2),
			(3, 2), (3, 4),
			(4, 3), (4, 4), (4, 5),
			(5, 4), (5, 5);
	`)
	if err != nil {
		db.Close()
		os.Remove(tmpFile.Name())
		t.Fatalf("Failed to build fixture: %v", err)
	}

	cleanup := func() {
		db.Close()
		os.Remove(tmpFile.Name())
	}

	return db, cleanup
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newFixtureCreator(t *testing.T, db *sql.DB, opts Options) *Creator {
	t.Helper()

	c := NewCreator(db, opts)
	c.SetLogger(quietLogger())
	return c
}

func TestCreator_Vocabulary(t *testing.T) {
	db, cleanup := setupFixtureDB(t)
	defer cleanup()

	ctx := context.Background()

	// Threshold 0: every card appears in at least one deck.
	c := newFixtureCreator(t, db, Options{InclusionThreshold: 0, Seed: 42})
	vocab, err := c.Vocabulary(ctx)
	if err != nil {
		t.Fatalf("Vocabulary failed: %v", err)
	}
	if len(vocab) != 5 {
		t.Errorf("vocabulary size = %d, want 5", len(vocab))
	}

	// Threshold 2: only cards in more than 2 decks qualify (cards 2 and 4,
	// with 3 decks each).
	c2 := newFixtureCreator(t, db, Options{InclusionThreshold: 2, Seed: 42})
	vocab2, err := c2.Vocabulary(ctx)
	if err != nil {
		t.Fatalf("Vocabulary failed: %v", err)
	}
	want := []int64{2, 4}
	if len(vocab2) != len(want) {
		t.Fatalf("vocabulary = %v, want %v", vocab2, want)
	}
	for i, id := range want {
		if vocab2[i] != id {
			t.Errorf("vocabulary[%d] = %d, want %d", i, vocab2[i], id)
		}
	}
}

func TestCreator_CachedRatesMatchHandComputed(t *testing.T) {
	db, cleanup := setupFixtureDB(t)
	defer cleanup()

	ctx := context.Background()
	c := newFixtureCreator(t, db, Options{InclusionThreshold: 0, Seed: 42})

	if _, err := c.Create(ctx); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	// Marginal rates over 5 decks.
	inclusionWant := map[int64]float64{
		1: 2.0 / 5.0,
		2: 3.0 / 5.0,
		3: 2.0 / 5.0,
		4: 3.0 / 5.0,
		5: 2.0 / 5.0,
	}
	for cardID, want := range inclusionWant {
		if got := c.InclusionRate(cardID); got != want {
			t.Errorf("InclusionRate(%d) = %v, want %v", cardID, got, want)
		}
	}

	// Conditional rates, checked against hand-derived deck membership.
	conditionalWant := []struct {
		commander, condition, target int64
		rate                         float64
	}{
		{1, 1, 2, 1.0},       // both decks with card 1 have card 2
		{1, 1, 3, 0.5},       // one of two decks with card 1 has card 3
		{1, 2, 1, 2.0 / 3.0}, // two of three decks with card 2 have card 1
		{1, 2, 4, 1.0 / 3.0},
		{1, 3, 1, 1.0},
		{1, 4, 2, 1.0},
		{2, 4, 3, 0.5},
		{2, 5, 4, 1.0},
		{1, 1, 4, 0.0},  // never co-occur under commander 1
		{2, 1, 1, 0.0},  // card 1 never appears under commander 2
		{99, 1, 2, 0.0}, // unknown commander
	}
	for _, tc := range conditionalWant {
		got := c.ConditionalRate(tc.commander, tc.condition, tc.target)
		if math.Abs(got-tc.rate) > 1e-12 {
			t.Errorf("ConditionalRate(%d, %d, %d) = %v, want %v",
				tc.commander, tc.condition, tc.target, got, tc.rate)
		}
	}
}

// naiveConditionalRate recomputes a conditional rate with per-pair queries on
// the raw membership rows, independently of the bulk join.
func naiveConditionalRate(t *testing.T, db *sql.DB, commanderID, conditionID, targetID int64) float64 {
	t.Helper()

	var denominator int
	err := db.QueryRow(`
		SELECT COUNT(DISTINCT d.id)
		FROM decks d
		JOIN deck_cards dc ON dc.deck_id = d.id
		WHERE d.commander_id = ? AND dc.card_id = ?
	`, commanderID, conditionID).Scan(&denominator)
	if err != nil {
		t.Fatalf("naive denominator query failed: %v", err)
	}
	if denominator == 0 {
		return 0.0
	}

	var numerator int
	err = db.QueryRow(`
		SELECT COUNT(DISTINCT d.id)
		FROM decks d
		JOIN deck_cards dc_a ON dc_a.deck_id = d.id
		JOIN deck_cards dc_b ON dc_b.deck_id = d.id
		WHERE d.commander_id = ? AND dc_a.card_id = ? AND dc_b.card_id = ?
	`, commanderID, conditionID, targetID).Scan(&numerator)
	if err != nil {
		t.Fatalf("naive numerator query failed: %v", err)
	}

	return float64(numerator) / float64(denominator)
}

func TestCreator_BulkRatesMatchNaiveQueries(t *testing.T) {
	db, cleanup := setupFixtureDB(t)
	defer cleanup()

	ctx := context.Background()
	c := newFixtureCreator(t, db, Options{InclusionThreshold: 0, Seed: 42})

	if _, err := c.Create(ctx); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	vocab, err := c.Vocabulary(ctx)
	if err != nil {
		t.Fatalf("Vocabulary failed: %v", err)
	}

	for _, commanderID := range []int64{1, 2} {
		for _, conditionID := range vocab {
			for _, targetID := range vocab {
				want := naiveConditionalRate(t, db, commanderID, conditionID, targetID)
				got := c.ConditionalRate(commanderID, conditionID, targetID)
				if math.Abs(got-want) > 1e-12 {
					t.Errorf("ConditionalRate(%d, %d, %d) = %v, naive = %v",
						commanderID, conditionID, targetID, got, want)
				}

				if got < 0 || got > 1 {
					t.Errorf("ConditionalRate(%d, %d, %d) = %v outside [0, 1]",
						commanderID, conditionID, targetID, got)
				}
			}
		}
	}
}

func TestCreator_Create_BalanceAndNoSelfPairs(t *testing.T) {
	db, cleanup := setupFixtureDB(t)
	defer cleanup()

	ctx := context.Background()
	c := newFixtureCreator(t, db, Options{InclusionThreshold: 0, Seed: 42})

	ds, err := c.Create(ctx)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	// Commander 1 is associated with 4 vocabulary cards, commander 2 with
	// 3, so the balanced quota is 3 per anchor.
	const quota = 3

	perAnchor := make(map[Pair]int)
	for i, ex := range ds.Examples {
		commanderID, conditionID, targetID := ex[0], ex[1], ex[2]

		if conditionID == targetID {
			t.Errorf("example %d is a self-pair: %v", i, ex)
		}

		perAnchor[Pair{CommanderID: commanderID, CardID: conditionID}]++
	}

	// 4 + 3 anchors must all appear.
	if len(perAnchor) != 7 {
		t.Errorf("distinct anchors = %d, want 7", len(perAnchor))
	}

	for anchor, n := range perAnchor {
		if n > quota {
			t.Errorf("anchor %+v produced %d examples, quota is %d", anchor, n, quota)
		}
		// A shortfall of at most one example is possible when the
		// condition card itself was drawn.
		if n < quota-1 {
			t.Errorf("anchor %+v produced %d examples, want at least %d", anchor, n, quota-1)
		}
	}

	// Commander 2 anchors sample all three of its cards, so the self-pair
	// is always drawn and each anchor realizes exactly quota-1.
	for anchor, n := range perAnchor {
		if anchor.CommanderID == 2 && n != quota-1 {
			t.Errorf("commander 2 anchor %+v produced %d examples, want %d", anchor, n, quota-1)
		}
	}
}

func TestCreator_Create_ExamplesPerPairOverride(t *testing.T) {
	db, cleanup := setupFixtureDB(t)
	defer cleanup()

	ctx := context.Background()
	c := newFixtureCreator(t, db, Options{InclusionThreshold: 0, ExamplesPerPair: 2, Seed: 42})

	ds, err := c.Create(ctx)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	perAnchor := make(map[Pair]int)
	for _, ex := range ds.Examples {
		perAnchor[Pair{CommanderID: ex[0], CardID: ex[1]}]++
	}
	for anchor, n := range perAnchor {
		if n > 2 {
			t.Errorf("anchor %+v produced %d examples, override quota is 2", anchor, n)
		}
	}
}

func TestCreator_Create_Reproducible(t *testing.T) {
	db, cleanup := setupFixtureDB(t)
	defer cleanup()

	ctx := context.Background()
	dir := t.TempDir()

	paths := [2]string{
		filepath.Join(dir, "run1.bin"),
		filepath.Join(dir, "run2.bin"),
	}

	for i, path := range paths {
		c := newFixtureCreator(t, db, Options{InclusionThreshold: 0, Seed: 42})
		ds, err := c.Create(ctx)
		if err != nil {
			t.Fatalf("Create run %d failed: %v", i+1, err)
		}
		if err := ds.Save(path); err != nil {
			t.Fatalf("Save run %d failed: %v", i+1, err)
		}
	}

	data1, err := os.ReadFile(paths[0])
	if err != nil {
		t.Fatalf("reading run 1 failed: %v", err)
	}
	data2, err := os.ReadFile(paths[1])
	if err != nil {
		t.Fatalf("reading run 2 failed: %v", err)
	}

	if !bytes.Equal(data1, data2) {
		t.Error("two runs with identical data, threshold and seed produced different output")
	}
}

func TestCreator_Create_DifferentSeedsDiffer(t *testing.T) {
	db, cleanup := setupFixtureDB(t)
	defer cleanup()

	ctx := context.Background()

	c1 := newFixtureCreator(t, db, Options{InclusionThreshold: 0, Seed: 42})
	ds1, err := c1.Create(ctx)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	c2 := newFixtureCreator(t, db, Options{InclusionThreshold: 0, Seed: 7})
	ds2, err := c2.Create(ctx)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	same := ds1.Len() == ds2.Len()
	if same {
		for i := range ds1.Examples {
			if ds1.Examples[i] != ds2.Examples[i] {
				same = false
				break
			}
		}
	}
	if same {
		t.Error("different seeds produced identical sampling order")
	}
}

func TestCreator_Create_EmptyVocabularyFailsFast(t *testing.T) {
	db, cleanup := setupFixtureDB(t)
	defer cleanup()

	ctx := context.Background()
	c := newFixtureCreator(t, db, Options{InclusionThreshold: 100, Seed: 42})

	_, err := c.Create(ctx)
	if err == nil {
		t.Fatal("Create with unreachable threshold succeeded, want error")
	}
}

func TestCreator_ZeroDecksYieldsZeroRates(t *testing.T) {
	db, cleanup := setupFixtureDB(t)
	defer cleanup()

	ctx := context.Background()
	c := newFixtureCreator(t, db, Options{InclusionThreshold: 0, Seed: 42})

	// Force the divide-by-zero guard: rates computed against a zero total
	// must come out 0.0, not NaN or +Inf.
	c.numDecks = 0
	if err := c.precomputeInclusionRates(ctx, []int64{1, 2, 3, 4, 5}); err != nil {
		t.Fatalf("precomputeInclusionRates failed: %v", err)
	}

	for cardID := int64(1); cardID <= 5; cardID++ {
		if got := c.InclusionRate(cardID); got != 0.0 {
			t.Errorf("InclusionRate(%d) = %v with zero decks, want 0.0", cardID, got)
		}
	}
}

func TestCreator_InclusionRatesWithinBounds(t *testing.T) {
	db, cleanup := setupFixtureDB(t)
	defer cleanup()

	ctx := context.Background()
	c := newFixtureCreator(t, db, Options{InclusionThreshold: 0, Seed: 42})

	if _, err := c.Create(ctx); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	vocab, err := c.Vocabulary(ctx)
	if err != nil {
		t.Fatalf("Vocabulary failed: %v", err)
	}
	for _, cardID := range vocab {
		rate := c.InclusionRate(cardID)
		if rate < 0 || rate > 1 {
			t.Errorf("InclusionRate(%d) = %v outside [0, 1]", cardID, rate)
		}
	}
}
