package llm

import (
	"context"
	"os"
	"time"
)

const (
	defaultMaxRetries = 3
	defaultRetryDelay = time.Second
)

// baseClient holds the retry configuration shared by all backends.
type baseClient struct {
	provider   string
	model      string
	maxRetries int
	retryDelay time.Duration
}

func newBaseClient(provider, model string) baseClient {
	return baseClient{
		provider:   provider,
		model:      model,
		maxRetries: defaultMaxRetries,
		retryDelay: defaultRetryDelay,
	}
}

// Model returns the configured model name.
func (b *baseClient) Model() string { return b.model }

// retry executes op with linear backoff while isRetryable(err) holds,
// respecting ctx cancellation between attempts.
func (b *baseClient) retry(ctx context.Context, op func() error) error {
	var lastErr error
	for attempt := 1; attempt <= b.maxRetries; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		err := op()
		if err == nil {
			return nil
		}
		lastErr = err
		if !isRetryable(err) || attempt >= b.maxRetries {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(b.retryDelay * time.Duration(attempt)):
		}
	}
	return lastErr
}

// apiKeyFromEnv resolves the provider credential named by the config.
func apiKeyFromEnv(provider, envName string) (string, error) {
	if envName == "" {
		return "", &ProviderError{Provider: provider, Message: "api_key_env not configured"}
	}
	key := os.Getenv(envName)
	if key == "" {
		return "", &ProviderError{Provider: provider, Message: "environment variable " + envName + " is empty"}
	}
	return key, nil
}
