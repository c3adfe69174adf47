package priorartsearch

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/joelkehle/idea-sonar/internal/cache"
	"github.com/joelkehle/idea-sonar/internal/fetch"
	"github.com/joelkehle/idea-sonar/internal/keywords"
)

const (
	KiprisAdvancedURL = "https://plus.kipris.or.kr/kipo-api/kipi/patUtiModInfoSearchSevice/getAdvancedSearch"
	KiprisWordURL     = "https://plus.kipris.or.kr/kipo-api/kipi/patUtiModInfoSearchSevice/getWordSearch"
	kiprisLinkBase    = "https://kpat.kipris.or.kr/kpat/searchLogina.do?next=MainSearch&target=pat_reg&Method=biblioTM&INPUT_TYPE=applno&query="

	DefaultAdvancedRows = 20
	DefaultWordRows     = 20
	PatentTimeout       = 30 * time.Second

	TierAdvancedKeywords = "advanced_keywords"
	TierWordOriginal     = "word_original"
	TierWordKeywords     = "word_keywords"
	TierNone             = "none"

	kiprisOK         = "00"
	kiprisNoAbstract = "내용 없음."
	patentOp         = "patent"
)

type PatentConfig struct {
	APIKey       string
	AdvancedURL  string
	WordURL      string
	AdvancedRows int
	WordRows     int
	Timeout      time.Duration
}

// PatentSearcher queries KIPRIS through an ordered list of query strategies.
type PatentSearcher struct {
	cfg      PatentConfig
	client   *fetch.Client
	keywords *keywords.Extractor
	cache    cache.Memoizer
}

func NewPatentSearcher(cfg PatentConfig, client *fetch.Client, extractor *keywords.Extractor, memo cache.Memoizer) (*PatentSearcher, error) {
	cfg.APIKey = strings.TrimSpace(cfg.APIKey)
	if cfg.APIKey == "" {
		return nil, errors.New("KIPRIS_API_KEY not configured")
	}
	if cfg.AdvancedURL == "" {
		cfg.AdvancedURL = KiprisAdvancedURL
	}
	if cfg.WordURL == "" {
		cfg.WordURL = KiprisWordURL
	}
	if cfg.AdvancedRows <= 0 {
		cfg.AdvancedRows = DefaultAdvancedRows
	}
	if cfg.WordRows <= 0 {
		cfg.WordRows = DefaultWordRows
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = PatentTimeout
	}
	if client == nil {
		client = fetch.NewClient(fetch.Config{})
	}
	if extractor == nil {
		extractor = keywords.NewExtractor(nil, 0)
	}
	if memo == nil {
		memo = cache.PassThrough()
	}
	return &PatentSearcher{cfg: cfg, client: client, keywords: extractor, cache: memo}, nil
}

type patentSearchResult struct {
	Hits []Hit            `json:"hits"`
	Info PatentSearchInfo `json:"info"`
}

// Search returns patent hits for idea. Well-formed empty results are cached;
// a run in which no tier produced items and at least one tier failed is
// returned as an error and not cached.
func (s *PatentSearcher) Search(ctx context.Context, idea string) ([]Hit, PatentSearchInfo, error) {
	params := []any{idea, s.cfg.AdvancedRows, s.cfg.WordRows, s.keywords.MaxKeywords()}
	res, err := cache.Do(ctx, s.cache, cache.NamespacePatent, cache.SearchTTL, params, func(ctx context.Context) (patentSearchResult, error) {
		return s.search(ctx, idea)
	})
	if err != nil {
		return nil, PatentSearchInfo{Tier: TierNone}, err
	}
	return res.Hits, res.Info, nil
}

type tierOutcome int

const (
	tierItems tierOutcome = iota
	tierEmpty
	tierError
)

func (o tierOutcome) String() string {
	switch o {
	case tierItems:
		return "items"
	case tierEmpty:
		return "empty"
	default:
		return "error"
	}
}

type patentTier struct {
	name     string
	endpoint string
	params   url.Values
}

func (s *PatentSearcher) search(ctx context.Context, idea string) (patentSearchResult, error) {
	kw, degraded := s.keywords.Extract(idea)
	info := PatentSearchInfo{Tier: TierNone, Keywords: kw, KeywordsDegraded: degraded}

	var lastErr error
	for _, tier := range s.tiers(idea, kw) {
		items, outcome, err := s.runTier(ctx, tier)
		log.Printf("idea-sonar patent_tier tier=%s outcome=%s items=%d", tier.name, outcome, len(items))
		switch outcome {
		case tierItems:
			info.Tier = tier.name
			hits, dropped := parseKiprisItems(items)
			if dropped > 0 {
				log.Printf("idea-sonar patent_items_dropped tier=%s dropped=%d", tier.name, dropped)
			}
			return patentSearchResult{Hits: hits, Info: info}, nil
		case tierError:
			lastErr = err
			log.Printf("idea-sonar patent_tier_failed tier=%s kind=%s err=%q", tier.name, fetch.KindOf(err), err.Error())
		}
	}
	if lastErr != nil {
		return patentSearchResult{}, lastErr
	}
	return patentSearchResult{Hits: []Hit{}, Info: info}, nil
}

// tiers lists the strategies in the order they are tried. The keyword word
// search is omitted when it would repeat the original-text query.
func (s *PatentSearcher) tiers(idea, kw string) []patentTier {
	out := []patentTier{
		{name: TierAdvancedKeywords, endpoint: s.cfg.AdvancedURL, params: s.advancedParams(kw)},
		{name: TierWordOriginal, endpoint: s.cfg.WordURL, params: s.wordParams(idea)},
	}
	if kw != strings.TrimSpace(idea) {
		out = append(out, patentTier{name: TierWordKeywords, endpoint: s.cfg.WordURL, params: s.wordParams(kw)})
	} else {
		log.Printf("idea-sonar patent_tier tier=%s skipped=keywords_equal_query", TierWordKeywords)
	}
	return out
}

func (s *PatentSearcher) advancedParams(kw string) url.Values {
	return url.Values{
		"word":           {""},
		"inventionTitle": {kw},
		"astrtCont":      {kw},
		"patent":         {"true"},
		"utility":        {"true"},
		"numOfRows":      {strconv.Itoa(s.cfg.AdvancedRows)},
		"pageNo":         {"1"},
		"sortSpec":       {"OPD"},
		"descSort":       {"true"},
		"ServiceKey":     {s.cfg.APIKey},
	}
}

func (s *PatentSearcher) wordParams(word string) url.Values {
	return url.Values{
		"word":       {word},
		"year":       {"0"},
		"patent":     {"true"},
		"utility":    {"true"},
		"numOfRows":  {strconv.Itoa(s.cfg.WordRows)},
		"pageNo":     {"1"},
		"ServiceKey": {s.cfg.APIKey},
	}
}

func (s *PatentSearcher) runTier(ctx context.Context, tier patentTier) ([]kiprisItem, tierOutcome, error) {
	op := patentOp + "." + tier.name
	body, err := s.client.Get(ctx, op, tier.endpoint, tier.params, s.cfg.Timeout)
	if err != nil {
		return nil, tierError, err
	}
	var resp kiprisResponse
	if err := fetch.DecodeXML(op, body, &resp); err != nil {
		return nil, tierError, err
	}
	code := strings.TrimSpace(resp.ResultCode)
	if code != kiprisOK {
		return nil, tierError, &fetch.Error{Kind: fetch.KindAPI, Op: op, Err: fmt.Errorf("resultCode=%q resultMsg=%q", code, strings.TrimSpace(resp.ResultMsg))}
	}
	if len(resp.Items) == 0 {
		return nil, tierEmpty, nil
	}
	return resp.Items, tierItems, nil
}

type kiprisResponse struct {
	ResultCode string       `xml:"header>resultCode"`
	ResultMsg  string       `xml:"header>resultMsg"`
	Items      []kiprisItem `xml:"body>items>item"`
}

type kiprisItem struct {
	InventionTitle    string `xml:"inventionTitle"`
	AstrtCont         string `xml:"astrtCont"`
	ApplicationNumber string `xml:"applicationNumber"`
}

func parseKiprisItems(items []kiprisItem) ([]Hit, int) {
	hits := make([]Hit, 0, len(items))
	dropped := 0
	seen := map[string]bool{}
	for _, it := range items {
		title := strings.TrimSpace(it.InventionTitle)
		abstract := strings.TrimSpace(it.AstrtCont)
		if abstract == kiprisNoAbstract {
			abstract = ""
		}
		text := joinTitleBody(title, abstract)
		if text == "" {
			dropped++
			continue
		}
		if seen[text] {
			continue
		}
		seen[text] = true
		link := ""
		if appNo := strings.TrimSpace(it.ApplicationNumber); appNo != "" {
			link = kiprisLinkBase + url.QueryEscape(appNo)
		}
		hits = append(hits, Hit{Text: text, Link: link, Source: SourcePatent})
	}
	return hits, dropped
}

func joinTitleBody(title, body string) string {
	switch {
	case title != "" && body != "":
		return title + ": " + body
	case title != "":
		return title
	default:
		return body
	}
}
