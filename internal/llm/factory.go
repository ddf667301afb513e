package llm

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/postgen/postgen/internal/config"
	"github.com/postgen/postgen/pkg/contracts"
	"github.com/postgen/postgen/pkg/models"
)

// Factory hands out decorated clients for the configured provider. The
// server-key client is built once and shared; caller-supplied keys get
// their own clients, cached by key hash.
type Factory struct {
	cfg        config.LLMConfig
	httpClient *http.Client

	mu     sync.Mutex
	shared contracts.LLMClient

	keyed *lru.Cache[string, contracts.LLMClient]
}

var _ contracts.LLMClientFactory = (*Factory)(nil)

// NewFactory creates a factory. Outbound provider calls are traced with
// otelhttp.
func NewFactory(cfg config.LLMConfig) *Factory {
	size := cfg.KeyCacheSize
	if size <= 0 {
		size = 64
	}
	keyed, _ := lru.New[string, contracts.LLMClient](size)
	return &Factory{
		cfg:        cfg,
		httpClient: &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)},
		keyed:      keyed,
	}
}

// Configured reports whether the server has its own provider key.
func (f *Factory) Configured() bool { return f.cfg.APIKey != "" }

// Model returns the configured model name.
func (f *Factory) Model() string { return f.cfg.Model }

// Client returns a client for apiKey, or for the server key when apiKey is
// empty. It fails with ErrNoAPIKey when no key is available at all.
func (f *Factory) Client(ctx context.Context, apiKey string) (contracts.LLMClient, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return f.serverClient(ctx)
	}

	sum := sha256.Sum256([]byte(apiKey))
	id := hex.EncodeToString(sum[:])
	if c, ok := f.keyed.Get(id); ok {
		return c, nil
	}
	c, err := f.build(ctx, apiKey)
	if err != nil {
		return nil, err
	}
	f.keyed.Add(id, c)
	return c, nil
}

func (f *Factory) serverClient(ctx context.Context) (contracts.LLMClient, error) {
	if f.cfg.APIKey == "" {
		return nil, ErrNoAPIKey
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.shared != nil {
		return f.shared, nil
	}
	c, err := f.build(ctx, f.cfg.APIKey)
	if err != nil {
		return nil, err
	}
	f.shared = c
	log.Info().Str("provider", f.cfg.Provider).Str("model", f.cfg.Model).Msg("✅ LLM client initialized")
	return c, nil
}

func (f *Factory) build(ctx context.Context, apiKey string) (contracts.LLMClient, error) {
	var (
		c   contracts.LLMClient
		err error
	)
	switch f.cfg.Provider {
	case ProviderGemini, "":
		c, err = NewGeminiClient(ctx, apiKey, f.cfg.Model, f.httpClient)
	case ProviderOpenAI:
		c, err = NewOpenAIClient(apiKey, f.cfg.BaseURL, f.cfg.Model, f.httpClient)
	default:
		return nil, fmt.Errorf("unsupported LLM provider %q", f.cfg.Provider)
	}
	if err != nil {
		return nil, err
	}
	return Traced(WithTimeout(c, f.cfg.Timeout)), nil
}

// ValidateKey makes a minimal call with apiKey. A nil error means the
// provider accepted the key.
func (f *Factory) ValidateKey(ctx context.Context, apiKey string) error {
	c, err := f.Client(ctx, apiKey)
	if err != nil {
		return err
	}
	_, err = c.Generate(ctx, "Reply with the single word OK.", models.GenerateOptions{MaxOutputTokens: 5})
	return err
}
