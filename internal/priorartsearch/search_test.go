package priorartsearch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/joelkehle/idea-sonar/internal/cache"
	"github.com/joelkehle/idea-sonar/internal/fetch"
	"github.com/joelkehle/idea-sonar/internal/keywords"
)

type mapMemo struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMapMemo() *mapMemo { return &mapMemo{data: map[string][]byte{}} }

func (m *mapMemo) GetOrCompute(ctx context.Context, key string, _ time.Duration, fn cache.ComputeFn) ([]byte, error) {
	m.mu.Lock()
	v, ok := m.data[key]
	m.mu.Unlock()
	if ok {
		return v, nil
	}
	v, err := fn(ctx)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	m.data[key] = v
	m.mu.Unlock()
	return v, nil
}

func (m *mapMemo) Enabled() bool { return true }
func (m *mapMemo) Close() error { return nil }

func (m *mapMemo) size() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.data)
}

type stubTagger struct{ tokens []keywords.Token }

func (s stubTagger) Tag(string) ([]keywords.Token, error) { return s.tokens, nil }

func kiprisXML(code string, items ...string) string {
	return `<?xml version="1.0" encoding="UTF-8"?><response><header><resultCode>` + code +
		`</resultCode><resultMsg>NORMAL SERVICE.</resultMsg></header><body><items>` +
		strings.Join(items, "") + `</items></body></response>`
}

func kiprisItemXML(title, abstract, appNo string) string {
	return `<item><inventionTitle>` + title + `</inventionTitle><astrtCont>` + abstract +
		`</astrtCont><applicationNumber>` + appNo + `</applicationNumber></item>`
}

type kiprisCall struct {
	endpoint string
	word     string
	title    string
}

type fakeKipris struct {
	mu      sync.Mutex
	calls   []kiprisCall
	respond func(call kiprisCall) (int, string)
}

func (f *fakeKipris) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		call := kiprisCall{endpoint: strings.TrimPrefix(r.URL.Path, "/"), word: q.Get("word"), title: q.Get("inventionTitle")}
		f.mu.Lock()
		f.calls = append(f.calls, call)
		f.mu.Unlock()
		status, body := f.respond(call)
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	})
}

func (f *fakeKipris) endpoints() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.calls))
	for _, c := range f.calls {
		out = append(out, c.endpoint+":"+c.word+c.title)
	}
	return out
}

func newTestPatentSearcher(t *testing.T, srv *httptest.Server, tagger keywords.Tagger, memo *mapMemo) *PatentSearcher {
	t.Helper()
	client := fetch.NewClient(fetch.Config{HTTPClient: srv.Client(), InitialInterval: time.Millisecond, MaxInterval: time.Millisecond})
	s, err := NewPatentSearcher(PatentConfig{
		APIKey:      "k",
		AdvancedURL: srv.URL + "/getAdvancedSearch",
		WordURL:     srv.URL + "/getWordSearch",
	}, client, keywords.NewExtractor(tagger, 5), memo)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestPatentSearchTiersRunInOrder(t *testing.T) {
	fk := &fakeKipris{respond: func(c kiprisCall) (int, string) {
		if c.endpoint == "getWordSearch" && c.word == "drone delivery" {
			return http.StatusOK, kiprisXML("00", kiprisItemXML("Drone parcel system", "Delivers parcels by drone", "1020200001234"))
		}
		return http.StatusOK, kiprisXML("00")
	}}
	srv := httptest.NewServer(fk.handler())
	defer srv.Close()

	tagger := stubTagger{tokens: []keywords.Token{{Text: "drone", Tag: "NN"}, {Text: "delivery", Tag: "NN"}}}
	s := newTestPatentSearcher(t, srv, tagger, newMapMemo())

	hits, info, err := s.Search(context.Background(), "autonomous quadcopter conducting doorstep delivery")
	if err != nil {
		t.Fatal(err)
	}
	want := []string{
		"getAdvancedSearch:drone delivery",
		"getWordSearch:autonomous quadcopter conducting doorstep delivery",
		"getWordSearch:drone delivery",
	}
	got := fk.endpoints()
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Fatalf("tier order mismatch:\n got %v\nwant %v", got, want)
	}
	if info.Tier != TierWordKeywords || info.Keywords != "drone delivery" {
		t.Fatalf("unexpected info %+v", info)
	}
	if len(hits) != 1 || hits[0].Text != "Drone parcel system: Delivers parcels by drone" || hits[0].Source != SourcePatent {
		t.Fatalf("unexpected hits %+v", hits)
	}
	if !strings.HasSuffix(hits[0].Link, "query=1020200001234") {
		t.Fatalf("unexpected link %s", hits[0].Link)
	}
}

func TestPatentSearchSkipsKeywordTierWhenKeywordsEqualQuery(t *testing.T) {
	fk := &fakeKipris{respond: func(kiprisCall) (int, string) { return http.StatusOK, kiprisXML("00") }}
	srv := httptest.NewServer(fk.handler())
	defer srv.Close()
	memo := newMapMemo()
	s := newTestPatentSearcher(t, srv, nil, memo)

	hits, info, err := s.Search(context.Background(), "  smart mug  ")
	if err != nil {
		t.Fatal(err)
	}
	if len(fk.endpoints()) != 2 {
		t.Fatalf("expected 2 tiers, got %v", fk.endpoints())
	}
	if len(hits) != 0 || info.Tier != TierNone {
		t.Fatalf("expected empty result, got hits=%v info=%+v", hits, info)
	}
	if memo.size() != 1 {
		t.Fatalf("expected well-formed empty result cached")
	}
}

func TestPatentSearchAPIErrorFallsBack(t *testing.T) {
	fk := &fakeKipris{respond: func(c kiprisCall) (int, string) {
		if c.endpoint == "getAdvancedSearch" {
			return http.StatusOK, kiprisXML("30")
		}
		return http.StatusOK, kiprisXML("00", kiprisItemXML("Smart mug", "내용 없음.", ""))
	}}
	srv := httptest.NewServer(fk.handler())
	defer srv.Close()
	s := newTestPatentSearcher(t, srv, nil, newMapMemo())

	hits, info, err := s.Search(context.Background(), "smart mug")
	if err != nil {
		t.Fatal(err)
	}
	if info.Tier != TierWordOriginal {
		t.Fatalf("expected word_original tier, got %s", info.Tier)
	}
	if len(hits) != 1 || hits[0].Text != "Smart mug" || hits[0].Link != "" {
		t.Fatalf("unexpected hits %+v", hits)
	}
}

func TestPatentSearchFailureIsNotCachedAndStatusNotRetried(t *testing.T) {
	fk := &fakeKipris{respond: func(kiprisCall) (int, string) { return http.StatusInternalServerError, "oops" }}
	srv := httptest.NewServer(fk.handler())
	defer srv.Close()
	memo := newMapMemo()
	s := newTestPatentSearcher(t, srv, nil, memo)

	_, _, err := s.Search(context.Background(), "smart mug")
	if err == nil {
		t.Fatal("expected error")
	}
	if fetch.KindOf(err) != fetch.KindStatus {
		t.Fatalf("expected status kind, got %s", fetch.KindOf(err))
	}
	if n := len(fk.endpoints()); n != 2 {
		t.Fatalf("expected one call per tier without retries, got %d", n)
	}
	if memo.size() != 0 {
		t.Fatalf("failure must not be cached")
	}
}

func TestPatentSearchCachedResultSkipsHTTP(t *testing.T) {
	fk := &fakeKipris{respond: func(kiprisCall) (int, string) {
		return http.StatusOK, kiprisXML("00", kiprisItemXML("Title", "Abstract", "1"))
	}}
	srv := httptest.NewServer(fk.handler())
	defer srv.Close()
	s := newTestPatentSearcher(t, srv, nil, newMapMemo())

	for i := 0; i < 2; i++ {
		hits, _, err := s.Search(context.Background(), "smart mug")
		if err != nil || len(hits) != 1 {
			t.Fatalf("run %d: hits=%v err=%v", i, hits, err)
		}
	}
	if n := len(fk.endpoints()); n != 1 {
		t.Fatalf("expected one upstream call, got %d", n)
	}
}

func TestParseKiprisItemsDropsEmptyAndSentinel(t *testing.T) {
	hits, dropped := parseKiprisItems([]kiprisItem{
		{InventionTitle: " ", AstrtCont: "내용 없음."},
		{AstrtCont: "Only abstract"},
		{InventionTitle: "Only title", AstrtCont: "내용 없음."},
	})
	if dropped != 1 || len(hits) != 2 {
		t.Fatalf("unexpected dropped=%d hits=%v", dropped, hits)
	}
	if hits[0].Text != "Only abstract" || hits[1].Text != "Only title" {
		t.Fatalf("unexpected texts %v", hits)
	}
}

func TestNewPatentSearcherRequiresKey(t *testing.T) {
	if _, err := NewPatentSearcher(PatentConfig{}, nil, nil, nil); err == nil {
		t.Fatal("expected error")
	}
}

func TestWebSearchParsesItems(t *testing.T) {
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		gotQuery = q.Get("key") + "|" + q.Get("cx") + "|" + q.Get("q") + "|" + q.Get("num")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"items":[{"title":"Ember","snippet":"Heated mug","link":"https://ember.example"},{"title":"","snippet":""},{"snippet":"Only snippet"}]}`))
	}))
	defer srv.Close()

	client := fetch.NewClient(fetch.Config{HTTPClient: srv.Client(), InitialInterval: time.Millisecond})
	s, err := NewWebSearcher(WebConfig{APIKey: "k", EngineID: "cx", BaseURL: srv.URL}, client, newMapMemo())
	if err != nil {
		t.Fatal(err)
	}
	hits, err := s.Search(context.Background(), "smart mug")
	if err != nil {
		t.Fatal(err)
	}
	if gotQuery != "k|cx|smart mug|10" {
		t.Fatalf("unexpected query %q", gotQuery)
	}
	if len(hits) != 2 || hits[0].Text != "Ember: Heated mug" || hits[1].Text != "Only snippet" || hits[0].Source != SourceWeb {
		t.Fatalf("unexpected hits %+v", hits)
	}
}

func TestWebSearchFailureNotCached(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()
	memo := newMapMemo()
	client := fetch.NewClient(fetch.Config{HTTPClient: srv.Client(), InitialInterval: time.Millisecond})
	s, err := NewWebSearcher(WebConfig{APIKey: "k", EngineID: "cx", BaseURL: srv.URL}, client, memo)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.Search(context.Background(), "q"); err == nil {
		t.Fatal("expected error")
	}
	if memo.size() != 0 {
		t.Fatal("failure must not be cached")
	}
	if _, err := NewWebSearcher(WebConfig{APIKey: "k"}, nil, nil); err == nil {
		t.Fatal("expected missing engine id error")
	}
}
