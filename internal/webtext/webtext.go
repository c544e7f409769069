// Package webtext fetches documents over HTTP and reduces HTML to plain text.
package webtext

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"jaytaylor.com/html2text"
)

// MaxBodyBytes caps how much of a response body is read.
const MaxBodyBytes = 4 << 20

var defaultClient = &http.Client{Timeout: 30 * time.Second}

// Fetch GETs url and returns its text. HTML bodies are converted with html2text;
// anything else is returned as-is.
func Fetch(ctx context.Context, url string) (string, error) {
	return FetchWith(ctx, defaultClient, url)
}

// FetchWith is Fetch using the given client.
func FetchWith(ctx context.Context, client *http.Client, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", "conductor/1.0")

	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("fetch %s: status %d", url, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxBodyBytes))
	if err != nil {
		return "", fmt.Errorf("read %s: %w", url, err)
	}

	if strings.Contains(resp.Header.Get("Content-Type"), "html") || looksLikeHTML(body) {
		return ToText(string(body))
	}
	return string(body), nil
}

// ToText renders HTML as readable plain text.
func ToText(html string) (string, error) {
	return html2text.FromString(html, html2text.Options{PrettyTables: true})
}

func looksLikeHTML(b []byte) bool {
	head := strings.ToLower(strings.TrimSpace(string(b[:min(len(b), 512)])))
	return strings.HasPrefix(head, "<!doctype html") || strings.HasPrefix(head, "<html")
}
