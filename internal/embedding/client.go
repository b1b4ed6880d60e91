package embedding

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"time"
)

// Config carries the pacing policy. Knobs, not mechanism: they come
// from configuration, never hard-coded call sites.
type Config struct {
	Model        string
	Dimensions   int
	BatchSize    int
	MaxAttempts  int
	BaseDelay    time.Duration
	RequestDelay time.Duration
}

func (c Config) withDefaults() Config {
	if c.Model == "" {
		c.Model = "text-embedding-3-small"
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 10
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 6
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = 4 * time.Second
	}
	if c.RequestDelay < 0 {
		c.RequestDelay = 0
	}
	return c
}

// Client batches segments, retries transient provider failures with
// backoff and jitter, and returns vectors in input order.
type Client struct {
	provider Provider
	cfg      Config

	// sleep is swapped in tests to avoid real delays.
	sleep func(ctx context.Context, d time.Duration) error
}

func NewClient(provider Provider, cfg Config) *Client {
	return &Client{
		provider: provider,
		cfg:      cfg.withDefaults(),
		sleep:    sleepCtx,
	}
}

// Embed returns exactly one vector per input text, in input order.
// On failure no partial vectors are returned.
func (c *Client) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	vectors := make([][]float32, 0, len(texts))

	for start := 0; start < len(texts); start += c.cfg.BatchSize {
		// Cancellation point: an aborted job stops before the next
		// batch, never mid-request.
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		end := min(start+c.cfg.BatchSize, len(texts))
		batchIdx := start / c.cfg.BatchSize

		batch, err := c.embedBatch(ctx, batchIdx, texts[start:end])
		if err != nil {
			return nil, err
		}
		vectors = append(vectors, batch...)

		if end < len(texts) && c.cfg.RequestDelay > 0 {
			if err := c.sleep(ctx, c.cfg.RequestDelay+jitter(c.cfg.RequestDelay)); err != nil {
				return nil, err
			}
		}
	}

	return vectors, nil
}

// Probe issues a minimal embedding call and reports the observed
// dimensionality. Used by onboarding to validate a provider key.
func (c *Client) Probe(ctx context.Context) (int, error) {
	vectors, err := c.provider.Embed(ctx, c.cfg.Model, []string{"connectivity-check"})
	if err != nil {
		return 0, err
	}
	if len(vectors) == 0 {
		return 0, fmt.Errorf("provider returned no embedding for probe")
	}
	return len(vectors[0]), nil
}

func (c *Client) embedBatch(ctx context.Context, batchIdx int, inputs []string) ([][]float32, error) {
	var lastErr error

	for attempt := 1; attempt <= c.cfg.MaxAttempts; attempt++ {
		vectors, err := c.provider.Embed(ctx, c.cfg.Model, inputs)
		if err == nil {
			if err := c.checkDimensions(vectors); err != nil {
				return nil, &ProviderError{Batch: batchIdx, Fatal: true, Err: err}
			}
			if attempt > 1 {
				slog.Debug("embedding batch succeeded after retry", "batch", batchIdx, "attempt", attempt)
			}
			return vectors, nil
		}

		if !Transient(err) {
			return nil, &ProviderError{Batch: batchIdx, Fatal: true, Err: err}
		}
		lastErr = err

		slog.Warn("transient embedding failure",
			"batch", batchIdx,
			"attempt", attempt,
			"max_attempts", c.cfg.MaxAttempts,
			"error", err,
		)

		if attempt == c.cfg.MaxAttempts {
			break
		}

		delay := c.cfg.BaseDelay<<(attempt-1) + jitter(c.cfg.BaseDelay)
		if err := c.sleep(ctx, delay); err != nil {
			return nil, err
		}
	}

	return nil, &ProviderError{Batch: batchIdx, Err: lastErr}
}

func (c *Client) checkDimensions(vectors [][]float32) error {
	if c.cfg.Dimensions <= 0 {
		return nil
	}
	for i, v := range vectors {
		if len(v) != c.cfg.Dimensions {
			return fmt.Errorf("%w: vector %d has %d dimensions, want %d",
				ErrDimensionMismatch, i, len(v), c.cfg.Dimensions)
		}
	}
	return nil
}

func jitter(base time.Duration) time.Duration {
	if base <= 0 {
		return 0
	}
	return time.Duration(rand.Int63n(int64(base)))
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
