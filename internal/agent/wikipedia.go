package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/soyeahso/askbot/internal/config"
	"github.com/soyeahso/askbot/internal/version"
)

// WikipediaTool searches the encyclopedia and returns the top article
// summaries.
type WikipediaTool struct {
	baseURL    string
	maxResults int
	httpClient *http.Client
}

// NewWikipediaTool creates the encyclopedia tool.
func NewWikipediaTool(cfg config.WikipediaConfig) *WikipediaTool {
	base := cfg.BaseURL
	if base == "" {
		base = config.DefaultWikipediaURL
	}
	n := cfg.MaxResults
	if n <= 0 {
		n = config.DefaultWikipediaResults
	}
	return &WikipediaTool{
		baseURL:    strings.TrimSuffix(base, "/"),
		maxResults: n,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
}

func (w *WikipediaTool) Name() string { return "wikipedia" }
func (w *WikipediaTool) Description() string {
	return "Look up general knowledge: people, places, history, science."
}
func (w *WikipediaTool) InputSchema() string {
	return `{"type":"object","properties":{"query":{"type":"string"}},"required":["query"]}`
}

type wikiSearchResponse struct {
	Query struct {
		Search []struct {
			Title string `json:"title"`
		} `json:"search"`
	} `json:"query"`
}

type wikiSummary struct {
	Title   string `json:"title"`
	Extract string `json:"extract"`
}

func (w *WikipediaTool) Execute(ctx context.Context, input string) (string, error) {
	var in struct {
		Query string `json:"query"`
	}
	if err := decodeInput(input, &in); err != nil {
		return "", err
	}
	if strings.TrimSpace(in.Query) == "" {
		return "", fmt.Errorf("query is required")
	}

	q := url.Values{}
	q.Set("action", "query")
	q.Set("list", "search")
	q.Set("srsearch", in.Query)
	q.Set("srlimit", strconv.Itoa(w.maxResults))
	q.Set("format", "json")

	body, err := w.get(ctx, w.baseURL+"/w/api.php?"+q.Encode())
	if err != nil {
		return "", fmt.Errorf("wikipedia search: %w", err)
	}
	var sr wikiSearchResponse
	if err := json.Unmarshal(body, &sr); err != nil {
		return "", fmt.Errorf("wikipedia search: %w", err)
	}
	if len(sr.Query.Search) == 0 {
		return "No good Wikipedia search result was found.", nil
	}

	var b strings.Builder
	for _, hit := range sr.Query.Search {
		body, err := w.get(ctx, w.baseURL+"/api/rest_v1/page/summary/"+url.PathEscape(strings.ReplaceAll(hit.Title, " ", "_")))
		if err != nil {
			continue
		}
		var s wikiSummary
		if err := json.Unmarshal(body, &s); err != nil || s.Extract == "" {
			continue
		}
		fmt.Fprintf(&b, "Page: %s\nSummary: %s\n\n", s.Title, s.Extract)
	}
	if b.Len() == 0 {
		return "No good Wikipedia search result was found.", nil
	}
	return strings.TrimSpace(b.String()), nil
}

func (w *WikipediaTool) get(ctx context.Context, u string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	// Wikimedia asks API clients to identify themselves.
	req.Header.Set("User-Agent", version.UserAgent())
	req.Header.Set("Accept", "application/json")

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(body))
	}
	return body, nil
}
