package runbook

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tarsyhq/tarsy-pipeline/pkg/config"
)

// testService routes all requests to the given test server regardless of
// the URL's host, so allowlisted https URLs resolve locally.
func testService(t *testing.T, cfg *config.RunbookConfig, handler http.Handler) *Service {
	t.Helper()
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)

	svc := NewService(cfg, "test-token")
	svc.OverrideHTTPClientForTest(&http.Client{
		Transport: &rewriteTransport{target: ts.URL},
	})
	return svc
}

type rewriteTransport struct {
	target string
}

func (rt *rewriteTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	targetURL, err := url.Parse(rt.target)
	if err != nil {
		return nil, err
	}
	req.URL.Scheme = targetURL.Scheme
	req.URL.Host = targetURL.Host
	return http.DefaultTransport.RoundTrip(req)
}

func allowGitHub() *config.RunbookConfig {
	return &config.RunbookConfig{
		CacheTTL:       time.Minute,
		AllowedDomains: []string{"github.com", "raw.githubusercontent.com"},
	}
}

func TestFetchReturnsBody(t *testing.T) {
	var sawAuth atomic.Value
	svc := testService(t, allowGitHub(), http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sawAuth.Store(r.Header.Get("Authorization"))
		_, _ = w.Write([]byte("# Runbook\nsteps"))
	}))

	content, err := svc.Fetch(context.Background(), "https://raw.githubusercontent.com/org/repo/main/rb.md")
	require.NoError(t, err)
	assert.Equal(t, "# Runbook\nsteps", content)
	assert.Equal(t, "Bearer test-token", sawAuth.Load())
}

func TestFetchConvertsBlobURLs(t *testing.T) {
	var sawPath atomic.Value
	svc := testService(t, allowGitHub(), http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sawPath.Store(r.URL.Path)
		_, _ = w.Write([]byte("content"))
	}))

	_, err := svc.Fetch(context.Background(), "https://github.com/org/repo/blob/main/docs/rb.md")
	require.NoError(t, err)
	assert.Equal(t, "/org/repo/refs/heads/main/docs/rb.md", sawPath.Load())
}

func TestFetchRejectsDisallowedDomain(t *testing.T) {
	svc := NewService(allowGitHub(), "")
	_, err := svc.Fetch(context.Background(), "https://evil.example.com/rb.md")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not in the allowed list")
}

func TestFetchRejectsNonHTTPS(t *testing.T) {
	svc := NewService(allowGitHub(), "")
	_, err := svc.Fetch(context.Background(), "http://github.com/org/repo/blob/main/rb.md")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must use https")
}

func TestFetchPropagatesHTTPErrors(t *testing.T) {
	svc := testService(t, allowGitHub(), http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))

	_, err := svc.Fetch(context.Background(), "https://raw.githubusercontent.com/org/repo/main/missing.md")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 404")
}

func TestFetchCachesWithinTTL(t *testing.T) {
	var hits atomic.Int64
	svc := testService(t, allowGitHub(), http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		_, _ = w.Write([]byte("cached content"))
	}))

	url := "https://raw.githubusercontent.com/org/repo/main/rb.md"
	for i := 0; i < 3; i++ {
		content, err := svc.Fetch(context.Background(), url)
		require.NoError(t, err)
		assert.Equal(t, "cached content", content)
	}
	assert.Equal(t, int64(1), hits.Load())
}

func TestConvertToRawURL(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{
			"blob URL converted",
			"https://github.com/org/repo/blob/main/rb.md",
			"https://raw.githubusercontent.com/org/repo/refs/heads/main/rb.md",
		},
		{
			"raw URL passes through",
			"https://raw.githubusercontent.com/org/repo/main/rb.md",
			"https://raw.githubusercontent.com/org/repo/main/rb.md",
		},
		{
			"non-github passes through",
			"https://docs.example.com/rb.md",
			"https://docs.example.com/rb.md",
		},
		{
			"github non-blob passes through",
			"https://github.com/org/repo",
			"https://github.com/org/repo",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ConvertToRawURL(tt.input))
		})
	}
}
