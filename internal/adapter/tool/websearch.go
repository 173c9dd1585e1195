package tool

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"chatstream/internal/domain"
	"chatstream/internal/infra/config"
	"chatstream/internal/infra/tracer"
)

const (
	defaultSearchResults = 5
	maxSearchResults     = 10
	maxSourceContentLen  = 200
)

// WebSearchTool performs web searches via the Tavily API and returns
// results as both model-readable text and structured sources.
type WebSearchTool struct {
	apiKey     string
	baseURL    string
	maxResults int
	client     *http.Client
	logger     *slog.Logger
}

// NewWebSearchTool creates a web search tool from config.
func NewWebSearchTool(cfg config.SearchConfig, logger *slog.Logger) *WebSearchTool {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.tavily.com"
	}
	maxResults := cfg.MaxResults
	if maxResults <= 0 {
		maxResults = defaultSearchResults
	}
	if maxResults > maxSearchResults {
		maxResults = maxSearchResults
	}

	return &WebSearchTool{
		apiKey:     cfg.APIKey,
		baseURL:    baseURL,
		maxResults: maxResults,
		client:     &http.Client{Timeout: 15 * time.Second},
		logger:     logger,
	}
}

func (t *WebSearchTool) Name() string { return "web_search" }

func (t *WebSearchTool) Description() string {
	return "Search the web for current information. Use for questions about recent events or facts you are unsure of."
}

func (t *WebSearchTool) Schema() domain.ToolSchema {
	return domain.ToolSchema{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"query": {"type": "string", "description": "The search query"}
			},
			"required": ["query"]
		}`),
	}
}

type webSearchParams struct {
	Query string `json:"query"`
}

type tavilyRequest struct {
	APIKey     string `json:"api_key"`
	Query      string `json:"query"`
	MaxResults int    `json:"max_results"`
}

type tavilyResponse struct {
	Results []tavilyResult `json:"results"`
}

type tavilyResult struct {
	Title   string  `json:"title"`
	URL     string  `json:"url"`
	Content string  `json:"content"`
	Score   float64 `json:"score"`
}

func (t *WebSearchTool) Execute(ctx context.Context, params json.RawMessage) (*domain.ToolResult, error) {
	ctx, span := tracer.StartSpan(ctx, "tool.web_search")
	defer span.End()

	var p webSearchParams
	if err := json.Unmarshal(params, &p); err != nil {
		return &domain.ToolResult{IsError: true, Content: fmt.Sprintf("invalid params: %v", err)}, nil
	}
	if strings.TrimSpace(p.Query) == "" {
		return &domain.ToolResult{IsError: true, Content: "query must not be empty"}, nil
	}

	span.SetAttributes(tracer.StringAttr("tool.query", p.Query))

	results, err := t.search(ctx, p.Query)
	if err != nil {
		tracer.RecordError(span, err)
		t.logger.Warn("web search failed", "query", p.Query, "error", err)
		return &domain.ToolResult{IsError: true, Content: fmt.Sprintf("search failed: %v", err)}, nil
	}

	span.SetAttributes(tracer.IntAttr("tool.results", len(results)))
	t.logger.Debug("web search completed", "query", p.Query, "results", len(results))
	tracer.SetOK(span)

	return &domain.ToolResult{
		Content: formatResults(results),
		Sources: toSources(results),
	}, nil
}

func (t *WebSearchTool) search(ctx context.Context, query string) ([]tavilyResult, error) {
	body, err := json.Marshal(tavilyRequest{
		APIKey:     t.apiKey,
		Query:      query,
		MaxResults: t.maxResults,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+"/search", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := t.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(httpResp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if httpResp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("search API error %d: %s", httpResp.StatusCode, respBody)
	}

	var resp tavilyResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}

	results := resp.Results
	if len(results) > t.maxResults {
		results = results[:t.maxResults]
	}
	return results, nil
}

// formatResults renders results as numbered text for the model.
func formatResults(results []tavilyResult) string {
	if len(results) == 0 {
		return "No results found."
	}

	var b strings.Builder
	for i, r := range results {
		fmt.Fprintf(&b, "%d. %s\n%s\n%s\n\n", i+1, r.Title, r.URL, r.Content)
	}
	return strings.TrimSpace(b.String())
}

// toSources converts results to the citation form sent to clients.
// Missing titles default to "Unknown" and content is truncated.
func toSources(results []tavilyResult) []domain.SearchSource {
	sources := make([]domain.SearchSource, 0, len(results))
	for _, r := range results {
		title := r.Title
		if title == "" {
			title = "Unknown"
		}
		sources = append(sources, domain.SearchSource{
			Title:   title,
			URL:     r.URL,
			Content: truncateRunes(r.Content, maxSourceContentLen),
		})
	}
	return sources
}

// truncateRunes shortens s to at most n runes.
func truncateRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}

var _ domain.Tool = (*WebSearchTool)(nil)
