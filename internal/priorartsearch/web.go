package priorartsearch

import (
	"context"
	"errors"
	"log"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/joelkehle/idea-sonar/internal/cache"
	"github.com/joelkehle/idea-sonar/internal/fetch"
)

const (
	GoogleSearchURL = "https://www.googleapis.com/customsearch/v1"
	WebTimeout      = 20 * time.Second
	webOp           = "web"
)

type WebConfig struct {
	APIKey   string
	EngineID string
	BaseURL  string
	Results  int
	Timeout  time.Duration
}

// WebSearcher issues one Custom Search request per query. It has no
// fallback strategies.
type WebSearcher struct {
	cfg    WebConfig
	client *fetch.Client
	cache  cache.Memoizer
}

func NewWebSearcher(cfg WebConfig, client *fetch.Client, memo cache.Memoizer) (*WebSearcher, error) {
	cfg.APIKey = strings.TrimSpace(cfg.APIKey)
	cfg.EngineID = strings.TrimSpace(cfg.EngineID)
	if cfg.APIKey == "" || cfg.EngineID == "" {
		return nil, errors.New("GOOGLE_SEARCH_API_KEY and SEARCH_ENGINE_ID must both be configured")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = GoogleSearchURL
	}
	if cfg.Results <= 0 {
		cfg.Results = DefaultWebResults
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = WebTimeout
	}
	if client == nil {
		client = fetch.NewClient(fetch.Config{})
	}
	if memo == nil {
		memo = cache.PassThrough()
	}
	return &WebSearcher{cfg: cfg, client: client, cache: memo}, nil
}

type webResponse struct {
	Items []struct {
		Title   string `json:"title"`
		Snippet string `json:"snippet"`
		Link    string `json:"link"`
	} `json:"items"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Search returns web hits for query. A failed call is returned as an error
// and is not cached; callers treat it as an empty result.
func (s *WebSearcher) Search(ctx context.Context, query string) ([]Hit, error) {
	params := []any{query, s.cfg.Results}
	return cache.Do(ctx, s.cache, cache.NamespaceWeb, cache.SearchTTL, params, func(ctx context.Context) ([]Hit, error) {
		return s.search(ctx, query)
	})
}

func (s *WebSearcher) search(ctx context.Context, query string) ([]Hit, error) {
	body, err := s.client.Get(ctx, webOp, s.cfg.BaseURL, url.Values{
		"key": {s.cfg.APIKey},
		"cx":  {s.cfg.EngineID},
		"q":   {query},
		"num": {strconv.Itoa(s.cfg.Results)},
	}, s.cfg.Timeout)
	if err != nil {
		return nil, err
	}
	var resp webResponse
	if err := fetch.DecodeJSON(webOp, body, &resp); err != nil {
		return nil, err
	}
	if resp.Error != nil {
		return nil, &fetch.Error{Kind: fetch.KindAPI, Op: webOp, Status: resp.Error.Code, Err: errors.New(resp.Error.Message)}
	}

	hits := make([]Hit, 0, len(resp.Items))
	dropped := 0
	for _, it := range resp.Items {
		text := joinTitleBody(strings.TrimSpace(it.Title), strings.TrimSpace(it.Snippet))
		if text == "" {
			dropped++
			continue
		}
		hits = append(hits, Hit{Text: text, Link: strings.TrimSpace(it.Link), Source: SourceWeb})
	}
	log.Printf("idea-sonar web_search items=%d kept=%d dropped=%d", len(resp.Items), len(hits), dropped)
	return hits, nil
}
