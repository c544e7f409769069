package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/agentoven/conductor/internal/webtext"
	"github.com/agentoven/conductor/pkg/models"
	"github.com/tmc/langchaingo/tools/duckduckgo"
	"mvdan.cc/xurls/v2"
)

const (
	SearchToolName = "search"
	FetchToolName  = "fetch_url"
)

// Searcher runs a web search and returns a textual result listing.
type Searcher interface {
	Call(ctx context.Context, query string) (string, error)
}

// NewDuckDuckGo returns a DuckDuckGo-backed Searcher.
func NewDuckDuckGo(maxResults int) (Searcher, error) {
	if maxResults <= 0 {
		maxResults = 3
	}
	return duckduckgo.New(maxResults, "conductor")
}

// NewSearchTool exposes s as the search tool. Result links are listed at the end.
func NewSearchTool(s Searcher) Tool {
	return &Func{
		ToolSpec: models.ToolSpec{
			Name:        SearchToolName,
			Description: "Search the internet. Input: query.",
			Input: models.InputSchema{
				Properties: map[string]models.Property{
					"query": {Type: "string", Description: "search terms"},
				},
				Required: []string{"query"},
			},
		},
		Fn: func(ctx context.Context, input map[string]interface{}) (string, error) {
			res, err := s.Call(ctx, str(input, "query"))
			if err != nil {
				return "", err
			}
			links := extractLinks(res)
			if len(links) == 0 {
				return res, nil
			}
			return fmt.Sprintf("%s\n\nLinks:\n%s", res, strings.Join(links, "\n")), nil
		},
	}
}

// extractLinks pulls result URLs out of search output, unwrapping DuckDuckGo redirects.
func extractLinks(text string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, u := range xurls.Strict().FindAllString(text, -1) {
		u = strings.ReplaceAll(u, "//duckduckgo.com/l/?uddg=", "")
		u = strings.Split(u, "&rut=")[0]
		if !seen[u] {
			seen[u] = true
			out = append(out, u)
		}
	}
	return out
}

// NewFetchTool fetches a URL and returns its text content.
func NewFetchTool() Tool {
	return &Func{
		ToolSpec: models.ToolSpec{
			Name:        FetchToolName,
			Description: "Fetch a web page and return its text. Input: url.",
			Input: models.InputSchema{
				Properties: map[string]models.Property{
					"url": {Type: "string"},
				},
				Required: []string{"url"},
			},
		},
		Fn: func(ctx context.Context, input map[string]interface{}) (string, error) {
			text, err := webtext.Fetch(ctx, str(input, "url"))
			if err != nil {
				return "", err
			}
			const limit = 8000
			if len(text) > limit {
				text = text[:limit] + "\n[truncated]"
			}
			return text, nil
		},
	}
}
