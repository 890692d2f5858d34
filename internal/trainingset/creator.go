// Package trainingset builds PMI-labeled training examples from scraped
// EDHREC deck data.
//
// All rates are precomputed in bulk so that example generation never touches
// the database. The conditional-rate cache and the output buffer must both
// fit in memory, which bounds the practical vocabulary size; callers needing
// larger scale must shard by commander or persist caches incrementally.
package trainingset

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"math/rand"
	"sort"
	"strings"
	"time"

	"gonum.org/v1/gonum/stat"
)

// Options configures a training-set run.
type Options struct {
	// InclusionThreshold is the vocabulary cutoff: a card must appear in
	// strictly more than this many distinct decks. 100 and 500 are the two
	// thresholds used operationally.
	InclusionThreshold int

	// ExamplesPerPair is the number of target cards sampled per
	// (commander, condition card) anchor. Zero means the minimum number of
	// vocabulary cards associated with any commander, which balances the
	// dataset across commanders.
	ExamplesPerPair int

	// MinConditionalRate is the scorer floor applied to conditional rates.
	// Zero means DefaultMinConditionalRate.
	MinConditionalRate float64

	// Seed seeds the sampling randomness. Runs with the same seed, data
	// and threshold produce byte-identical output.
	Seed int64

	// ProgressInterval is the number of anchors between progress log
	// lines. Zero disables progress logging.
	ProgressInterval int
}

// DefaultOptions returns the default run configuration.
func DefaultOptions() Options {
	return Options{
		InclusionThreshold: 100,
		ExamplesPerPair:    0,
		MinConditionalRate: DefaultMinConditionalRate,
		Seed:               42,
		ProgressInterval:   1000,
	}
}

// Pair is a (commander, condition card) anchor observed in the filtered data.
type Pair struct {
	CommanderID int64
	CardID      int64
}

// Creator holds the state of a single training-set run: the store handle,
// the configured threshold and the derived caches. Construct one per run;
// creators with different thresholds do not interfere.
type Creator struct {
	db     *sql.DB
	opts   Options
	scorer Scorer
	rng    *rand.Rand
	log    *slog.Logger

	numDecks int

	// vocabularies caches the threshold filter result, keyed by threshold.
	vocabularies map[int]map[int64]struct{}

	// inclusionRates maps card id to its marginal inclusion rate.
	inclusionRates map[int64]float64

	// conditionalRates maps commander -> condition card -> target card ->
	// rate. Missing entries mean rate 0.
	conditionalRates map[int64]map[int64]map[int64]float64
}

// NewCreator creates a training-set creator over an open store connection.
func NewCreator(db *sql.DB, opts Options) *Creator {
	if opts.MinConditionalRate <= 0 {
		opts.MinConditionalRate = DefaultMinConditionalRate
	}

	return &Creator{
		db:           db,
		opts:         opts,
		scorer:       PMIScorer{MinConditionalRate: opts.MinConditionalRate},
		rng:          rand.New(rand.NewSource(opts.Seed)),
		log:          slog.Default(),
		vocabularies: make(map[int]map[int64]struct{}),
	}
}

// SetScorer replaces the default PMI scorer.
func (c *Creator) SetScorer(s Scorer) {
	c.scorer = s
}

// SetRand replaces the sampling randomness source. Tests can substitute a
// deterministic sequence.
func (c *Creator) SetRand(rng *rand.Rand) {
	c.rng = rng
}

// SetLogger replaces the default logger.
func (c *Creator) SetLogger(log *slog.Logger) {
	c.log = log
}

// Vocabulary returns the sorted card ids appearing in strictly more than the
// configured threshold of distinct decks. The result is computed with a
// single aggregate query and cached per threshold.
func (c *Creator) Vocabulary(ctx context.Context) ([]int64, error) {
	vocab, err := c.vocabularyFor(ctx, c.opts.InclusionThreshold)
	if err != nil {
		return nil, err
	}

	ids := make([]int64, 0, len(vocab))
	for id := range vocab {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	return ids, nil
}

// vocabularyFor computes (or returns the cached) vocabulary for a threshold.
func (c *Creator) vocabularyFor(ctx context.Context, threshold int) (map[int64]struct{}, error) {
	if cached, ok := c.vocabularies[threshold]; ok {
		return cached, nil
	}

	rows, err := c.db.QueryContext(ctx, `
		SELECT card_id
		FROM deck_cards
		GROUP BY card_id
		HAVING COUNT(DISTINCT deck_id) > ?
	`, threshold)
	if err != nil {
		return nil, fmt.Errorf("failed to query vocabulary: %w", err)
	}
	defer func() { _ = rows.Close() }()

	vocab := make(map[int64]struct{})
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan vocabulary card: %w", err)
		}
		vocab[id] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating vocabulary: %w", err)
	}

	c.vocabularies[threshold] = vocab
	return vocab, nil
}

// InclusionRate returns the cached marginal inclusion rate for a card.
// Callers must restrict themselves to vocabulary card ids.
func (c *Creator) InclusionRate(cardID int64) float64 {
	return c.inclusionRates[cardID]
}

// ConditionalRate returns the cached conditional rate of target given
// condition and commander. Missing combinations are 0, never an error.
func (c *Creator) ConditionalRate(commanderID, conditionCardID, targetCardID int64) float64 {
	byCondition, ok := c.conditionalRates[commanderID]
	if !ok {
		return 0.0
	}
	byTarget, ok := byCondition[conditionCardID]
	if !ok {
		return 0.0
	}
	return byTarget[targetCardID]
}

// Score returns the score of a target card given a condition card and
// commander, using the cached rates.
func (c *Creator) Score(commanderID, conditionCardID, targetCardID int64) float64 {
	conditional := c.ConditionalRate(commanderID, conditionCardID, targetCardID)
	inclusion := c.InclusionRate(targetCardID)
	return c.scorer.Score(conditional, inclusion)
}

// vocabPlaceholders builds an IN-clause placeholder string and argument list
// for the sorted vocabulary.
func vocabPlaceholders(vocab []int64) (string, []any) {
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(vocab)), ",")
	args := make([]any, len(vocab))
	for i, id := range vocab {
		args[i] = id
	}
	return placeholders, args
}

// precomputeInclusionRates bulk-computes marginal inclusion rates for every
// vocabulary card with one aggregate query.
func (c *Creator) precomputeInclusionRates(ctx context.Context, vocab []int64) error {
	placeholders, args := vocabPlaceholders(vocab)

	rows, err := c.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT card_id, COUNT(DISTINCT deck_id)
		FROM deck_cards
		WHERE card_id IN (%s)
		GROUP BY card_id
	`, placeholders), args...)
	if err != nil {
		return fmt.Errorf("failed to query inclusion rates: %w", err)
	}
	defer func() { _ = rows.Close() }()

	c.inclusionRates = make(map[int64]float64, len(vocab))
	for rows.Next() {
		var cardID int64
		var count int
		if err := rows.Scan(&cardID, &count); err != nil {
			return fmt.Errorf("failed to scan inclusion rate: %w", err)
		}
		if c.numDecks > 0 {
			c.inclusionRates[cardID] = float64(count) / float64(c.numDecks)
		} else {
			c.inclusionRates[cardID] = 0.0
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("error iterating inclusion rates: %w", err)
	}

	c.log.Info("cached inclusion rates", "cards", len(c.inclusionRates))
	return nil
}

// precomputeConditionalRates bulk-computes every conditional rate with a
// single three-way join over the filtered relation, grouped by
// (commander, condition card, target card). The data volume is combinatorial
// (commanders x vocabulary^2), so per-pair querying is ruled out by design.
func (c *Creator) precomputeConditionalRates(ctx context.Context, vocab []int64) error {
	start := time.Now()
	placeholders, args := vocabPlaceholders(vocab)

	query := fmt.Sprintf(`
		SELECT d.commander_id, dc_condition.card_id, dc_target.card_id, COUNT(DISTINCT d.id)
		FROM decks d
		JOIN deck_cards dc_condition ON dc_condition.deck_id = d.id
		JOIN deck_cards dc_target ON dc_target.deck_id = d.id
		WHERE dc_condition.card_id IN (%s)
		  AND dc_target.card_id IN (%s)
		GROUP BY d.commander_id, dc_condition.card_id, dc_target.card_id
	`, placeholders, placeholders)

	allArgs := make([]any, 0, 2*len(args))
	allArgs = append(allArgs, args...)
	allArgs = append(allArgs, args...)

	rows, err := c.db.QueryContext(ctx, query, allArgs...)
	if err != nil {
		return fmt.Errorf("failed to query conditional rates: %w", err)
	}
	defer func() { _ = rows.Close() }()

	// First pass stores raw co-occurring deck counts.
	counts := make(map[int64]map[int64]map[int64]float64)
	total := 0
	for rows.Next() {
		var commanderID, conditionID, targetID int64
		var count int
		if err := rows.Scan(&commanderID, &conditionID, &targetID, &count); err != nil {
			return fmt.Errorf("failed to scan conditional count: %w", err)
		}

		byCondition, ok := counts[commanderID]
		if !ok {
			byCondition = make(map[int64]map[int64]float64)
			counts[commanderID] = byCondition
		}
		byTarget, ok := byCondition[conditionID]
		if !ok {
			byTarget = make(map[int64]float64)
			byCondition[conditionID] = byTarget
		}
		byTarget[targetID] = float64(count)
		total++
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("error iterating conditional counts: %w", err)
	}

	// Second pass divides by the per-(commander, condition) denominator:
	// the (condition, condition) self count is exactly the number of decks
	// under that commander containing the condition card.
	for _, byCondition := range counts {
		for conditionID, byTarget := range byCondition {
			denominator := byTarget[conditionID]
			if denominator <= 0 {
				// No qualifying decks; leave the key absent-equivalent.
				for targetID := range byTarget {
					byTarget[targetID] = 0.0
				}
				continue
			}
			for targetID, count := range byTarget {
				byTarget[targetID] = count / denominator
			}
		}
	}

	c.conditionalRates = counts
	c.log.Info("cached conditional rates",
		"entries", total,
		"elapsed", time.Since(start).Round(time.Millisecond))
	return nil
}

// commanderAssociations runs the single bulk pass that yields both the
// anchor pairs and the per-commander vocabulary card lists. Ordering by
// (commander id, card id) keeps runs deterministic.
func (c *Creator) commanderAssociations(ctx context.Context, vocab []int64) ([]Pair, map[int64][]int64, error) {
	placeholders, args := vocabPlaceholders(vocab)

	rows, err := c.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT DISTINCT d.commander_id, dc.card_id
		FROM decks d
		JOIN deck_cards dc ON dc.deck_id = d.id
		WHERE dc.card_id IN (%s)
		ORDER BY d.commander_id, dc.card_id
	`, placeholders), args...)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to query commander-card pairs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var pairs []Pair
	commanderCards := make(map[int64][]int64)
	for rows.Next() {
		var p Pair
		if err := rows.Scan(&p.CommanderID, &p.CardID); err != nil {
			return nil, nil, fmt.Errorf("failed to scan commander-card pair: %w", err)
		}
		pairs = append(pairs, p)
		commanderCards[p.CommanderID] = append(commanderCards[p.CommanderID], p.CardID)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("error iterating commander-card pairs: %w", err)
	}

	return pairs, commanderCards, nil
}

// examplesPerPair returns the per-anchor sampling quota: the configured
// override, or the minimum vocabulary card count across commanders.
func (c *Creator) examplesPerPair(commanderCards map[int64][]int64) int {
	if c.opts.ExamplesPerPair > 0 {
		return c.opts.ExamplesPerPair
	}

	min := -1
	for _, cards := range commanderCards {
		if min < 0 || len(cards) < min {
			min = len(cards)
		}
	}
	if min < 0 {
		return 0
	}
	return min
}

// Create builds the full training set. It precomputes all rates in bulk,
// then samples a balanced number of target cards for every observed
// (commander, condition card) anchor. Sampling is without replacement; a
// drawn target equal to the condition card is skipped and not replaced, so
// the realized count per anchor may fall slightly short of the quota.
func (c *Creator) Create(ctx context.Context) (*Dataset, error) {
	start := time.Now()

	vocab, err := c.Vocabulary(ctx)
	if err != nil {
		return nil, err
	}
	if len(vocab) == 0 {
		return nil, fmt.Errorf("no cards appear in more than %d decks; lower the inclusion threshold",
			c.opts.InclusionThreshold)
	}
	c.log.Info("filtered vocabulary", "cards", len(vocab), "threshold", c.opts.InclusionThreshold)

	if err := c.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM decks`).Scan(&c.numDecks); err != nil {
		return nil, fmt.Errorf("failed to count decks: %w", err)
	}

	if err := c.precomputeInclusionRates(ctx, vocab); err != nil {
		return nil, err
	}
	if err := c.precomputeConditionalRates(ctx, vocab); err != nil {
		return nil, err
	}

	pairs, commanderCards, err := c.commanderAssociations(ctx, vocab)
	if err != nil {
		return nil, err
	}
	c.log.Info("collected anchors", "pairs", len(pairs), "commanders", len(commanderCards))

	quota := c.examplesPerPair(commanderCards)

	// Upper bound; self-pair skips only shrink it.
	estimated := len(pairs) * quota
	ds := &Dataset{
		Examples: make([][3]int64, estimated),
		Scores:   make([]float32, estimated),
	}

	written := 0
	for i, pair := range pairs {
		cards := commanderCards[pair.CommanderID]

		sample := quota
		if sample > len(cards) {
			sample = len(cards)
		}

		perm := c.rng.Perm(len(cards))
		for _, j := range perm[:sample] {
			targetID := cards[j]
			if targetID == pair.CardID {
				// Self-pairs are invalid and do not count toward
				// the quota.
				continue
			}

			ds.Examples[written] = [3]int64{pair.CommanderID, pair.CardID, targetID}
			ds.Scores[written] = float32(c.Score(pair.CommanderID, pair.CardID, targetID))
			written++
		}

		if c.opts.ProgressInterval > 0 && i%c.opts.ProgressInterval == 0 {
			elapsed := time.Since(start).Seconds()
			rate := 0.0
			if elapsed > 0 {
				rate = float64(written) / elapsed
			}
			c.log.Info("generating examples",
				"pairs", i,
				"total_pairs", len(pairs),
				"examples", written,
				"examples_per_sec", int(rate))
		}
	}

	ds.Examples = ds.Examples[:written]
	ds.Scores = ds.Scores[:written]

	c.logScoreSummary(ds)
	c.log.Info("training set complete",
		"examples", written,
		"examples_per_pair", quota,
		"elapsed", time.Since(start).Round(time.Millisecond))

	return ds, nil
}

// logScoreSummary logs the score distribution of a finished dataset.
func (c *Creator) logScoreSummary(ds *Dataset) {
	if ds.Len() == 0 {
		return
	}

	scores := make([]float64, ds.Len())
	for i, s := range ds.Scores {
		scores[i] = float64(s)
	}

	mean, std := stat.MeanStdDev(scores, nil)
	c.log.Info("score distribution", "mean", mean, "stddev", std)
}
