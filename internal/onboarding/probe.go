package onboarding

import (
	"context"

	"github.com/embedbot/embedbot/internal/embedding"
	"github.com/embedbot/embedbot/internal/vectorstore"
)

// DefaultStoreProber probes the tenant's database directly.
func DefaultStoreProber() StoreProber {
	return vectorstore.ProbeStore
}

// DefaultKeyProber builds a single-attempt client around the candidate
// key. The probe must fail fast, so the retry budget is cut to one.
func DefaultKeyProber(cfg embedding.Config) KeyProber {
	cfg.MaxAttempts = 1
	return func(ctx context.Context, apiKey string) (int, error) {
		client := embedding.NewClient(embedding.NewOpenAIProvider(apiKey, ""), cfg)
		return client.Probe(ctx)
	}
}
