// Package runbook fetches runbook text for a URL: domain-allowlisted,
// GitHub-aware (blob URLs are converted to raw content), and TTL-cached.
package runbook

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/tarsyhq/tarsy-pipeline/pkg/config"
)

// maxRunbookBytes bounds a single runbook download.
const maxRunbookBytes = 1 << 20 // 1 MB

// githubBlobTreePattern matches /{owner}/{repo}/(blob|tree)/{ref}/{path}.
var githubBlobTreePattern = regexp.MustCompile(`^/([^/]+)/([^/]+)/(blob|tree)/([^/]+)/(.+)$`)

// Service downloads runbook content. Thread-safe; one instance is shared by
// all concurrent alerts.
type Service struct {
	cfg        *config.RunbookConfig
	token      string // GitHub token, empty = unauthenticated (public repos)
	httpClient *http.Client

	mu    sync.Mutex
	cache map[string]cacheEntry
}

type cacheEntry struct {
	content   string
	expiresAt time.Time
}

// NewService creates the fetcher. token may be empty.
func NewService(cfg *config.RunbookConfig, token string) *Service {
	return &Service{
		cfg:        cfg,
		token:      token,
		httpClient: &http.Client{Timeout: config.DefaultRunbookTimeout},
		cache:      make(map[string]cacheEntry),
	}
}

// OverrideHTTPClientForTest replaces the HTTP client. For testing only.
func (s *Service) OverrideHTTPClientForTest(httpClient *http.Client) {
	s.httpClient = httpClient
}

// Fetch returns the text behind a runbook URL. GitHub blob/tree URLs are
// rewritten to raw content URLs before download; results are cached for the
// configured TTL so retried alerts don't refetch.
func (s *Service) Fetch(ctx context.Context, rawURL string) (string, error) {
	if rawURL == "" {
		return "", fmt.Errorf("runbook URL is empty")
	}
	if err := s.validateURL(rawURL); err != nil {
		return "", err
	}

	fetchURL := ConvertToRawURL(rawURL)

	if content, ok := s.cached(fetchURL); ok {
		return content, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fetchURL, nil)
	if err != nil {
		return "", fmt.Errorf("build runbook request: %w", err)
	}
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}
	req.Header.Set("Accept", "text/plain, text/markdown, */*")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch runbook %s: %w", fetchURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetch runbook %s: unexpected status %d", fetchURL, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxRunbookBytes))
	if err != nil {
		return "", fmt.Errorf("read runbook body: %w", err)
	}

	content := string(body)
	s.store(fetchURL, content)
	return content, nil
}

// validateURL enforces https and the configured domain allowlist.
func (s *Service) validateURL(rawURL string) error {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid runbook URL %q: %w", rawURL, err)
	}
	if parsed.Scheme != "https" {
		return fmt.Errorf("runbook URL %q must use https", rawURL)
	}

	var allowed []string
	if s.cfg != nil {
		allowed = s.cfg.AllowedDomains
	}
	if len(allowed) == 0 {
		return nil
	}
	host := strings.TrimPrefix(parsed.Hostname(), "www.")
	for _, domain := range allowed {
		if host == domain {
			return nil
		}
	}
	return fmt.Errorf("runbook URL domain %q is not in the allowed list (%s)",
		host, strings.Join(allowed, ", "))
}

// ConvertToRawURL rewrites a github.com blob/tree URL into its
// raw.githubusercontent.com equivalent. Any other URL passes through.
func ConvertToRawURL(githubURL string) string {
	parsed, err := url.Parse(githubURL)
	if err != nil {
		return githubURL
	}
	if parsed.Host == "raw.githubusercontent.com" {
		return githubURL
	}
	if parsed.Host != "github.com" && parsed.Host != "www.github.com" {
		return githubURL
	}

	matches := githubBlobTreePattern.FindStringSubmatch(parsed.Path)
	if matches == nil {
		return githubURL
	}
	owner, repo, ref, path := matches[1], matches[2], matches[4], matches[5]
	return fmt.Sprintf("https://raw.githubusercontent.com/%s/%s/refs/heads/%s/%s", owner, repo, ref, path)
}

func (s *Service) cached(key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.cache[key]
	if !ok || time.Now().After(entry.expiresAt) {
		delete(s.cache, key)
		return "", false
	}
	return entry.content, true
}

func (s *Service) store(key, content string) {
	ttl := time.Minute
	if s.cfg != nil && s.cfg.CacheTTL > 0 {
		ttl = s.cfg.CacheTTL
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache[key] = cacheEntry{content: content, expiresAt: time.Now().Add(ttl)}
}
