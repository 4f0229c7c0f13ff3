// Package websearch implements the web_search tool on public search
// APIs: Brave Search when an API key is configured, DuckDuckGo instant
// answers otherwise. Responses are cached briefly so repeated queries
// inside one conversation do not hammer the backends.
package websearch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"
)

const (
	defaultResultCount = 5
	maxResultCount     = 20
	defaultCacheTTL    = 5 * time.Minute

	// maxCacheEntries bounds cache memory.
	maxCacheEntries = 1000

	duckDuckGoURL = "https://api.duckduckgo.com/"
	braveURL      = "https://api.search.brave.com/res/v1/web/search"
)

// Config holds backend credentials and defaults.
type Config struct {
	// BraveAPIKey enables the Brave Search backend. Empty means
	// DuckDuckGo only.
	BraveAPIKey string

	// ResultCount is the default number of results returned.
	ResultCount int

	// CacheTTL is how long a search response stays cached.
	CacheTTL time.Duration
}

// Result is one search hit.
type Result struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

// response is the tool output serialized back to the model.
type response struct {
	Query   string   `json:"query"`
	Backend string   `json:"backend"`
	Results []Result `json:"results"`
}

type cacheEntry struct {
	body      string
	expiresAt time.Time
}

// Tool answers web_search calls from the agent loop.
type Tool struct {
	cfg        Config
	httpClient *http.Client

	// endpoints are fields so tests can point them at a local server.
	ddgURL   string
	braveURL string

	mu    sync.Mutex
	cache map[string]cacheEntry
}

// New creates the web search tool.
func New(cfg Config) *Tool {
	if cfg.ResultCount <= 0 {
		cfg.ResultCount = defaultResultCount
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = defaultCacheTTL
	}
	return &Tool{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		ddgURL:     duckDuckGoURL,
		braveURL:   braveURL,
		cache:      make(map[string]cacheEntry),
	}
}

func (t *Tool) Name() string { return "web_search" }

func (t *Tool) Description() string {
	return "Busca informações atuais na web. Use para perguntas sobre fatos recentes, notícias ou qualquer coisa fora do seu conhecimento."
}

func (t *Tool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"query": {"type": "string", "description": "Termos de busca"},
			"result_count": {"type": "integer", "minimum": 1, "maximum": 20, "description": "Quantidade de resultados (padrão: 5)"}
		},
		"required": ["query"]
	}`)
}

// Execute runs the search. The Brave backend is preferred when
// configured; a Brave failure falls back to DuckDuckGo so one backend
// outage does not take the capability down.
func (t *Tool) Execute(ctx context.Context, arguments string) (string, error) {
	var params struct {
		Query       string `json:"query"`
		ResultCount int    `json:"result_count"`
	}
	if err := json.Unmarshal([]byte(arguments), &params); err != nil {
		return "", fmt.Errorf("invalid arguments: %w", err)
	}
	if params.Query == "" {
		return "", fmt.Errorf("query is required")
	}
	if params.ResultCount <= 0 {
		params.ResultCount = t.cfg.ResultCount
	}
	if params.ResultCount > maxResultCount {
		params.ResultCount = maxResultCount
	}

	cacheKey := fmt.Sprintf("%d:%s", params.ResultCount, params.Query)
	if body, ok := t.fromCache(cacheKey); ok {
		return body, nil
	}

	var resp *response
	var err error
	if t.cfg.BraveAPIKey != "" {
		resp, err = t.searchBrave(ctx, params.Query, params.ResultCount)
		if err != nil {
			resp, err = t.searchDuckDuckGo(ctx, params.Query, params.ResultCount)
		}
	} else {
		resp, err = t.searchDuckDuckGo(ctx, params.Query, params.ResultCount)
	}
	if err != nil {
		return "", err
	}

	body, err := json.Marshal(resp)
	if err != nil {
		return "", fmt.Errorf("encode results: %w", err)
	}
	t.store(cacheKey, string(body))
	return string(body), nil
}

func (t *Tool) fromCache(key string) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	entry, ok := t.cache[key]
	if !ok || time.Now().After(entry.expiresAt) {
		return "", false
	}
	return entry.body, true
}

func (t *Tool) store(key, body string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now()
	for k, v := range t.cache {
		if now.After(v.expiresAt) {
			delete(t.cache, k)
		}
	}
	for len(t.cache) >= maxCacheEntries {
		var oldestKey string
		var oldestTime time.Time
		for k, v := range t.cache {
			if oldestKey == "" || v.expiresAt.Before(oldestTime) {
				oldestKey = k
				oldestTime = v.expiresAt
			}
		}
		delete(t.cache, oldestKey)
	}
	t.cache[key] = cacheEntry{body: body, expiresAt: now.Add(t.cfg.CacheTTL)}
}

// searchDuckDuckGo queries the DuckDuckGo Instant Answer API. It needs
// no credential; coverage is the abstract plus related topics.
func (t *Tool) searchDuckDuckGo(ctx context.Context, query string, count int) (*response, error) {
	reqURL := fmt.Sprintf("%s?q=%s&format=json&no_html=1", t.ddgURL, url.QueryEscape(query))
	body, err := t.get(ctx, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("duckduckgo: %w", err)
	}

	var ddg struct {
		AbstractText  string `json:"AbstractText"`
		AbstractURL   string `json:"AbstractURL"`
		Heading       string `json:"Heading"`
		RelatedTopics []struct {
			FirstURL string `json:"FirstURL"`
			Text     string `json:"Text"`
		} `json:"RelatedTopics"`
	}
	if err := json.Unmarshal(body, &ddg); err != nil {
		return nil, fmt.Errorf("duckduckgo: parse response: %w", err)
	}

	var results []Result
	if ddg.AbstractText != "" && ddg.AbstractURL != "" {
		results = append(results, Result{Title: ddg.Heading, URL: ddg.AbstractURL, Snippet: ddg.AbstractText})
	}
	for _, topic := range ddg.RelatedTopics {
		if len(results) >= count {
			break
		}
		if topic.FirstURL != "" && topic.Text != "" {
			results = append(results, Result{Title: topic.Text, URL: topic.FirstURL, Snippet: topic.Text})
		}
	}

	return &response{Query: query, Backend: "duckduckgo", Results: results}, nil
}

// searchBrave queries the Brave Search API.
func (t *Tool) searchBrave(ctx context.Context, query string, count int) (*response, error) {
	reqURL := fmt.Sprintf("%s?q=%s&count=%d", t.braveURL, url.QueryEscape(query), count)
	headers := map[string]string{
		"Accept":               "application/json",
		"X-Subscription-Token": t.cfg.BraveAPIKey,
	}
	body, err := t.get(ctx, reqURL, headers)
	if err != nil {
		return nil, fmt.Errorf("brave: %w", err)
	}

	var brave struct {
		Web struct {
			Results []struct {
				Title       string `json:"title"`
				URL         string `json:"url"`
				Description string `json:"description"`
			} `json:"results"`
		} `json:"web"`
	}
	if err := json.Unmarshal(body, &brave); err != nil {
		return nil, fmt.Errorf("brave: parse response: %w", err)
	}

	results := make([]Result, 0, count)
	for _, r := range brave.Web.Results {
		if len(results) >= count {
			break
		}
		results = append(results, Result{Title: r.Title, URL: r.URL, Snippet: r.Description})
	}

	return &response{Query: query, Backend: "brave", Results: results}, nil
}

func (t *Tool) get(ctx context.Context, reqURL string, headers map[string]string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}
