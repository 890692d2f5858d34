// Package edhrec scrapes commander deck lists from EDHREC and ingests them
// into the relational store.
package edhrec

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

const (
	defaultBaseURL        = "https://edhrec.com"
	defaultRequestTimeout = 30 * time.Second
	defaultUserAgent      = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
)

// Default rate limit: 1 request per 500ms, to be respectful of the site.
var defaultRateLimit = rate.Every(500 * time.Millisecond)

var (
	// Commander names on the commanders page render as
	// <span class="Card_name__...">Name</span>.
	commanderNamePattern = regexp.MustCompile(`<span[^>]*class="[^"]*Card_name[^"]*"[^>]*>([^<]+)</span>`)

	// Deck links embed "urlhash":"HASH" in the page JSON.
	deckHashPattern = regexp.MustCompile(`"urlhash"\s*:\s*"([^"]+)"`)

	// The deck preview page embeds the card list as
	// "deck_preview":{..."cards":["Name", ...]...}.
	deckPreviewPattern = regexp.MustCompile(`(?s)"deck_preview":\{.*?"cards":\[(.*?)\].*?\}`)
	cardNamePattern    = regexp.MustCompile(`"([^"]+)"`)

	slugSeparators = regexp.MustCompile(`[,\s]+`)
	slugInvalid    = regexp.MustCompile(`[^\w\-]`)
	slugHyphens    = regexp.MustCompile(`-+`)
)

// ClientConfig configures the EDHREC client.
type ClientConfig struct {
	// BaseURL is the EDHREC base URL.
	BaseURL string

	// RequestTimeout is the HTTP request timeout.
	RequestTimeout time.Duration

	// RateLimit controls request frequency.
	RateLimit rate.Limit

	// UserAgent is sent on every request.
	UserAgent string
}

// DefaultClientConfig returns default client configuration.
func DefaultClientConfig() *ClientConfig {
	return &ClientConfig{
		BaseURL:        defaultBaseURL,
		RequestTimeout: defaultRequestTimeout,
		RateLimit:      defaultRateLimit,
		UserAgent:      defaultUserAgent,
	}
}

// Client fetches commander and deck data from EDHREC with rate limiting.
type Client struct {
	httpClient *http.Client
	limiter    *rate.Limiter
	baseURL    string
	userAgent  string
}

// NewClient creates a new EDHREC client.
func NewClient(config *ClientConfig) *Client {
	if config == nil {
		config = DefaultClientConfig()
	}
	if config.BaseURL == "" {
		config.BaseURL = defaultBaseURL
	}
	if config.RequestTimeout == 0 {
		config.RequestTimeout = defaultRequestTimeout
	}
	if config.RateLimit == 0 {
		config.RateLimit = defaultRateLimit
	}
	if config.UserAgent == "" {
		config.UserAgent = defaultUserAgent
	}

	return &Client{
		httpClient: &http.Client{
			Timeout: config.RequestTimeout,
		},
		limiter:   rate.NewLimiter(config.RateLimit, 1),
		baseURL:   config.BaseURL,
		userAgent: config.UserAgent,
	}
}

// Slug converts a commander name to its EDHREC URL slug.
func Slug(name string) string {
	slug := strings.ToLower(name)
	slug = strings.ReplaceAll(slug, "'", "")
	slug = strings.ReplaceAll(slug, `"`, "")
	slug = slugSeparators.ReplaceAllString(slug, "-")
	slug = slugInvalid.ReplaceAllString(slug, "")
	slug = slugHyphens.ReplaceAllString(strings.Trim(slug, "-"), "-")
	return slug
}

// FetchCommanderNames scrapes commander names from the EDHREC commanders page.
func (c *Client) FetchCommanderNames(ctx context.Context) ([]string, error) {
	body, err := c.get(ctx, fmt.Sprintf("%s/commanders", c.baseURL))
	if err != nil {
		return nil, fmt.Errorf("failed to fetch commanders page: %w", err)
	}

	return parseCommanderNames(body), nil
}

// FetchDeckHashes extracts deck url hashes from a commander's deck listing.
func (c *Client) FetchDeckHashes(ctx context.Context, commanderName string) ([]string, error) {
	url := fmt.Sprintf("%s/decks/%s", c.baseURL, Slug(commanderName))
	body, err := c.get(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch deck listing for %q: %w", commanderName, err)
	}

	return parseDeckHashes(body), nil
}

// FetchDecklist retrieves the card names of a single deck by its url hash.
func (c *Client) FetchDecklist(ctx context.Context, urlHash string) ([]string, error) {
	url := fmt.Sprintf("%s/deckpreview/%s", c.baseURL, urlHash)
	body, err := c.get(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch deck %s: %w", urlHash, err)
	}

	cards := parseDecklist(body)
	if cards == nil {
		return nil, fmt.Errorf("no deck preview found for %s", urlHash)
	}

	return cards, nil
}

// get performs a rate-limited GET and returns the response body.
func (c *Client) get(ctx context.Context, url string) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limiter error: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "text/html")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}

	return string(body), nil
}

// parseCommanderNames extracts commander names from the commanders page HTML.
func parseCommanderNames(html string) []string {
	matches := commanderNamePattern.FindAllStringSubmatch(html, -1)

	names := make([]string, 0, len(matches))
	for _, match := range matches {
		name := strings.TrimSpace(match[1])
		if name != "" {
			names = append(names, name)
		}
	}

	return names
}

// parseDeckHashes extracts deck url hashes from a deck listing page.
func parseDeckHashes(html string) []string {
	matches := deckHashPattern.FindAllStringSubmatch(html, -1)

	hashes := make([]string, 0, len(matches))
	for _, match := range matches {
		hashes = append(hashes, match[1])
	}

	return hashes
}

// parseDecklist extracts card names from a deck preview page. Returns nil
// when no deck preview block is present.
func parseDecklist(html string) []string {
	preview := deckPreviewPattern.FindStringSubmatch(html)
	if preview == nil {
		return nil
	}

	matches := cardNamePattern.FindAllStringSubmatch(preview[1], -1)
	cards := make([]string, 0, len(matches))
	for _, match := range matches {
		cards = append(cards, match[1])
	}

	return cards
}
