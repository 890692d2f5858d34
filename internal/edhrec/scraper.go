package edhrec

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ramonehamilton/edh-trainer/internal/storage/models"
	"github.com/ramonehamilton/edh-trainer/internal/storage/repository"
)

// GatherOptions configures a scraping run.
type GatherOptions struct {
	// NumCommanders caps how many commanders to process. 0 means all
	// commanders listed on the commanders page.
	NumCommanders int

	// DecksPerCommander caps how many decks to ingest per commander.
	// 0 means every deck the listing exposes.
	DecksPerCommander int

	// DeckDelay is the pause between deck fetches, on top of the client's
	// own rate limiting.
	DeckDelay time.Duration

	// CommanderDelay is the pause between commanders.
	CommanderDelay time.Duration

	// Resume continues an interrupted run: the most recently inserted
	// commander's decks are dropped and re-scraped, and all commanders
	// before it are skipped.
	Resume bool
}

// DefaultGatherOptions returns default scraping options.
func DefaultGatherOptions() GatherOptions {
	return GatherOptions{
		NumCommanders:     0,
		DecksPerCommander: 0,
		DeckDelay:         500 * time.Millisecond,
		CommanderDelay:    time.Second,
	}
}

// GatherSummary reports the outcome of a scraping run.
type GatherSummary struct {
	CommandersProcessed int
	DecksIngested       int
	DecksSkipped        int
	DecksRejected       int
	FetchFailures       int
}

// Scraper walks the EDHREC commander listing and ingests deck lists.
type Scraper struct {
	client     *Client
	commanders repository.CommanderRepository
	cards      repository.CardRepository
	decks      repository.DeckRepository
	log        *slog.Logger
}

// NewScraper creates a scraper writing to the given database.
func NewScraper(client *Client, db *sql.DB) *Scraper {
	return &Scraper{
		client:     client,
		commanders: repository.NewCommanderRepository(db),
		cards:      repository.NewCardRepository(db),
		decks:      repository.NewDeckRepository(db),
		log:        slog.Default(),
	}
}

// SetLogger replaces the scraper's logger.
func (s *Scraper) SetLogger(log *slog.Logger) {
	s.log = log
}

// ValidateDecklist checks a deck's card names before ingestion. A deck with
// more than models.MaxDeckSize cards yields repository.ErrDeckTooLarge; a
// repeated card name yields repository.ErrDuplicateCard naming the offenders.
func ValidateDecklist(cardNames []string) error {
	if len(cardNames) > models.MaxDeckSize {
		return fmt.Errorf("deck has %d cards (limit %d): %w",
			len(cardNames), models.MaxDeckSize, repository.ErrDeckTooLarge)
	}

	seen := make(map[string]struct{}, len(cardNames))
	var dups []string
	for _, name := range cardNames {
		if _, ok := seen[name]; ok {
			dups = append(dups, name)
			continue
		}
		seen[name] = struct{}{}
	}
	if len(dups) > 0 {
		return fmt.Errorf("deck repeats %s: %w",
			strings.Join(dups, ", "), repository.ErrDuplicateCard)
	}

	return nil
}

// Gather scrapes commanders and their decks into the store. Malformed decks
// are logged and skipped; only infrastructure failures abort the run.
func (s *Scraper) Gather(ctx context.Context, opts GatherOptions) (*GatherSummary, error) {
	names, err := s.client.FetchCommanderNames(ctx)
	if err != nil {
		return nil, err
	}
	if len(names) == 0 {
		return nil, errors.New("commanders page yielded no commander names")
	}
	if opts.NumCommanders > 0 && len(names) > opts.NumCommanders {
		names = names[:opts.NumCommanders]
	}

	start := 0
	if opts.Resume {
		start, err = s.resumePoint(ctx, names)
		if err != nil {
			return nil, err
		}
	}

	summary := &GatherSummary{}
	for i := start; i < len(names); i++ {
		name := names[i]
		s.log.Info("processing commander",
			"commander", name,
			"position", i+1,
			"total", len(names))

		if err := s.gatherCommander(ctx, name, opts, summary); err != nil {
			return summary, err
		}
		summary.CommandersProcessed++

		if opts.CommanderDelay > 0 && i < len(names)-1 {
			time.Sleep(opts.CommanderDelay)
		}
	}

	s.log.Info("scrape complete",
		"commanders", summary.CommandersProcessed,
		"decks_ingested", summary.DecksIngested,
		"decks_skipped", summary.DecksSkipped,
		"decks_rejected", summary.DecksRejected,
		"fetch_failures", summary.FetchFailures)

	return summary, nil
}

// resumePoint drops the last commander's partial decks and returns the index
// in names to restart from. Falls back to 0 when there is nothing to resume.
func (s *Scraper) resumePoint(ctx context.Context, names []string) (int, error) {
	last, err := s.commanders.Last(ctx)
	if err != nil {
		return 0, err
	}
	if last == nil {
		return 0, nil
	}

	// The last commander may have been interrupted mid-scrape, so its decks
	// are re-fetched from scratch.
	deleted, err := s.decks.DeleteByCommander(ctx, last.ID)
	if err != nil {
		return 0, err
	}
	s.log.Info("resuming scrape",
		"commander", last.Name,
		"partial_decks_dropped", deleted)

	for i, name := range names {
		if name == last.Name {
			return i, nil
		}
	}

	s.log.Warn("resume commander not found in current listing, starting over",
		"commander", last.Name)
	return 0, nil
}

// gatherCommander ingests up to opts.DecksPerCommander decks for one commander.
func (s *Scraper) gatherCommander(ctx context.Context, name string, opts GatherOptions, summary *GatherSummary) error {
	commanderID, err := s.commanders.GetOrCreate(ctx, name)
	if err != nil {
		return err
	}

	hashes, err := s.client.FetchDeckHashes(ctx, name)
	if err != nil {
		summary.FetchFailures++
		s.log.Warn("failed to fetch deck listing", "commander", name, "error", err)
		return nil
	}
	if opts.DecksPerCommander > 0 && len(hashes) > opts.DecksPerCommander {
		hashes = hashes[:opts.DecksPerCommander]
	}

	for _, hash := range hashes {
		exists, err := s.decks.ExistsByURLHash(ctx, hash)
		if err != nil {
			return err
		}
		if exists {
			summary.DecksSkipped++
			continue
		}

		if err := s.ingestDeck(ctx, commanderID, hash, summary); err != nil {
			return err
		}

		if opts.DeckDelay > 0 {
			time.Sleep(opts.DeckDelay)
		}
	}

	return nil
}

// ingestDeck fetches one deck, validates it and stores it. Integrity
// rejections are logged and counted, never propagated.
func (s *Scraper) ingestDeck(ctx context.Context, commanderID int64, urlHash string, summary *GatherSummary) error {
	cardNames, err := s.client.FetchDecklist(ctx, urlHash)
	if err != nil {
		summary.FetchFailures++
		s.log.Warn("failed to fetch deck", "url_hash", urlHash, "error", err)
		return nil
	}

	if err := ValidateDecklist(cardNames); err != nil {
		summary.DecksRejected++
		s.log.Warn("rejecting deck", "url_hash", urlHash, "reason", err)
		return nil
	}

	cardIDs := make([]int64, 0, len(cardNames))
	for _, cardName := range cardNames {
		id, err := s.cards.GetOrCreate(ctx, cardName)
		if err != nil {
			return err
		}
		cardIDs = append(cardIDs, id)
	}

	_, err = s.decks.Insert(ctx, commanderID, urlHash, cardIDs)
	switch {
	case errors.Is(err, repository.ErrDeckExists):
		summary.DecksSkipped++
		return nil
	case errors.Is(err, repository.ErrDeckTooLarge), errors.Is(err, repository.ErrDuplicateCard):
		summary.DecksRejected++
		s.log.Warn("rejecting deck", "url_hash", urlHash, "reason", err)
		return nil
	case err != nil:
		return err
	}

	summary.DecksIngested++
	return nil
}
