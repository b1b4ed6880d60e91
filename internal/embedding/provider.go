// Package embedding turns ordered text segments into ordered vectors
// via an external provider, absorbing transient failures locally.
package embedding

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"
)

// Provider is one embedding backend bound to a single credential.
type Provider interface {
	Embed(ctx context.Context, model string, inputs []string) ([][]float32, error)
}

// ProviderError is the terminal failure of an Embed call. No partial
// vectors accompany it; callers must treat the whole job as failed.
type ProviderError struct {
	Batch int
	Fatal bool
	Err   error
}

func (e *ProviderError) Error() string {
	kind := "transient retries exhausted"
	if e.Fatal {
		kind = "fatal provider error"
	}
	return fmt.Sprintf("embedding batch %d: %s: %v", e.Batch, kind, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// ErrDimensionMismatch marks a response whose vector width differs from
// the dimensionality validated at onboarding. Retrying cannot help.
var ErrDimensionMismatch = errors.New("embedding dimension mismatch")

// Transient reports whether err is worth retrying: rate limits,
// timeouts and connection drops. Auth failures and permanent rejections
// are not.
func Transient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, ErrDimensionMismatch) {
		return false
	}

	if status, ok := statusOf(err); ok {
		return status == 429 || status >= 500
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}

	return false
}

// IsAuthError reports a 401/403-class rejection of the provider key.
func IsAuthError(err error) bool {
	status, ok := statusOf(err)
	return ok && (status == 401 || status == 403)
}

// IsRateLimited reports a 429-class response.
func IsRateLimited(err error) bool {
	status, ok := statusOf(err)
	return ok && status == 429
}
