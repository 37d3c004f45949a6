// Package gemini adapts Google's Gemini API to the embedding and generation
// ports. The API key is read from persisted settings on every call so it can
// be rotated without a restart.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"paperqa/internal/settings"
)

// ErrNotConfigured is returned when no Gemini API key has been stored.
var ErrNotConfigured = errors.New("gemini api key not configured")

type SettingsReader interface {
	Get(ctx context.Context) (*settings.Settings, error)
}

// clientPool holds one genai client for the most recently seen key.
type clientPool struct {
	settings   SettingsReader
	clientOpts []option.ClientOption

	mu         sync.RWMutex
	client     *genai.Client
	currentKey string
}

func (p *clientPool) get(ctx context.Context) (*genai.Client, error) {
	s, err := p.settings.Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get settings: %w", err)
	}
	if s.GeminiAPIKey == "" {
		return nil, ErrNotConfigured
	}
	return p.clientFor(ctx, s.GeminiAPIKey)
}

func (p *clientPool) clientFor(ctx context.Context, key string) (*genai.Client, error) {
	p.mu.RLock()
	if p.client != nil && p.currentKey == key {
		defer p.mu.RUnlock()
		return p.client, nil
	}
	p.mu.RUnlock()

	p.mu.Lock()
	defer p.mu.Unlock()

	// Double check
	if p.client != nil && p.currentKey == key {
		return p.client, nil
	}

	if p.client != nil {
		if err := p.client.Close(); err != nil {
			slog.Warn("failed to close previous genai client", "error", err)
		}
	}

	opts := append([]option.ClientOption{}, p.clientOpts...)
	opts = append(opts, option.WithAPIKey(key))
	client, err := genai.NewClient(ctx, opts...)
	if err != nil {
		return nil, err
	}

	p.client = client
	p.currentKey = key
	return client, nil
}

func (p *clientPool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.client == nil {
		return nil
	}
	err := p.client.Close()
	p.client = nil
	p.currentKey = ""
	return err
}
