// Package models defines the entities persisted by the scraper and read by
// the training-set pipeline.
package models

// Commander is the anchor card a deck is built around. Commanders are drawn
// from the card namespace conceptually but stored as a distinct entity.
type Commander struct {
	ID   int64
	Name string
}

// Card is a non-commander card that can appear in decks.
type Card struct {
	ID   int64
	Name string
}

// Deck is a single scraped deck list. URLHash is the EDHREC deck preview
// hash and prevents duplicate ingestion.
type Deck struct {
	ID          int64
	CommanderID int64
	URLHash     string
}

// DeckCard is a deck membership row. The (DeckID, CardID) pair is unique.
type DeckCard struct {
	DeckID int64
	CardID int64
}

// MaxDeckSize is the maximum number of non-commander cards in a legal deck.
// Decks exceeding this are rejected at ingestion.
const MaxDeckSize = 99
