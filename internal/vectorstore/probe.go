package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// ErrMissingCapability means the store is reachable but the vector
// extension is not installed, so vector columns cannot be created.
var ErrMissingCapability = errors.New("vector extension not available")

const probeTimeout = 5 * time.Second

// ProbeStore performs the read-only onboarding connectivity check: a
// short-timeout connect, a trivial query, and a check that the vector
// extension is either installed or installable.
func ProbeStore(ctx context.Context, params ConnParams) error {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	conn, err := pgx.Connect(ctx, params.url())
	if err != nil {
		return fmt.Errorf("connect to vector store: %w", err)
	}
	defer conn.Close(ctx)

	var one int
	if err := conn.QueryRow(ctx, "SELECT 1").Scan(&one); err != nil {
		return fmt.Errorf("probe query: %w", err)
	}

	var available bool
	err = conn.QueryRow(ctx,
		`SELECT EXISTS(
		   SELECT 1 FROM pg_extension WHERE extname = 'vector'
		   UNION ALL
		   SELECT 1 FROM pg_available_extensions WHERE name = 'vector'
		 )`,
	).Scan(&available)
	if err != nil {
		return fmt.Errorf("check vector extension: %w", err)
	}
	if !available {
		return ErrMissingCapability
	}

	return nil
}
