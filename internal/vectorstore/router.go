// Package vectorstore routes reads and writes to each tenant's own
// pgvector-enabled store, provisioning schema on demand.
package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/embedbot/embedbot/internal/models"
	"github.com/embedbot/embedbot/internal/secrets"
)

// ErrSchema marks a missing-relation failure that survived the single
// automatic recovery attempt.
var ErrSchema = errors.New("vector schema error")

// sqlstate for "relation does not exist"
const undefinedTable = "42P01"

type Row struct {
	ID     int64
	Title  string
	Body   string
	Vector []float32
}

// Router owns the per-tenant connection pools. Pools are dialed lazily
// on first use and dropped on Invalidate. It is the only component that
// ever holds a handle to a tenant's store.
type Router struct {
	cipher secrets.Cipher

	mu    sync.Mutex
	pools map[uuid.UUID]*pgxpool.Pool
}

func NewRouter(cipher secrets.Cipher) *Router {
	return &Router{
		cipher: cipher,
		pools:  make(map[uuid.UUID]*pgxpool.Pool),
	}
}

// EnsureSchema provisions the tenant's extension, table and index.
// Safe to call repeatedly: every statement is IF NOT EXISTS.
func (r *Router) EnsureSchema(ctx context.Context, cred *models.Credential) error {
	pool, err := r.pool(ctx, cred)
	if err != nil {
		return err
	}

	if _, err := pool.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		return fmt.Errorf("create vector extension: %w", err)
	}

	table := quoteIdent(cred.TableName)
	ddl := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id bigserial PRIMARY KEY,
			title varchar(255) NOT NULL,
			body text NOT NULL,
			embedding vector(%d) NOT NULL
		)`, table, cred.EmbeddingDimension)
	if _, err := pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("create vector table: %w", err)
	}

	idx := fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (title, id)",
		quoteIdent(cred.TableName+"_title_idx"), table)
	if _, err := pool.Exec(ctx, idx); err != nil {
		return fmt.Errorf("create vector index: %w", err)
	}

	slog.Info("ensured vector schema", "tenant_id", cred.TenantID, "table", cred.TableName)
	return nil
}

// Write replaces every row under the file's title prefix with the given
// rows, in one transaction on the tenant's own connection. A missing
// relation triggers exactly one EnsureSchema and retry.
func (r *Router) Write(ctx context.Context, cred *models.Credential, prefix string, rows []Row) error {
	return r.withRecovery(ctx, cred, func(pool *pgxpool.Pool) error {
		tx, err := pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		table := quoteIdent(cred.TableName)

		_, err = tx.Exec(ctx,
			fmt.Sprintf(`DELETE FROM %s WHERE title LIKE $1 ESCAPE '\'`, table),
			escapeLike(prefix)+"%",
		)
		if err != nil {
			return fmt.Errorf("delete prior rows: %w", err)
		}

		for i, row := range rows {
			_, err = tx.Exec(ctx,
				fmt.Sprintf("INSERT INTO %s (title, body, embedding) VALUES ($1, $2, $3)", table),
				row.Title, row.Body, pgvector.NewVector(row.Vector),
			)
			if err != nil {
				return fmt.Errorf("insert row %d: %w", i, err)
			}
		}

		return tx.Commit(ctx)
	})
}

// Read returns the file's rows in stored order.
func (r *Router) Read(ctx context.Context, cred *models.Credential, prefix string) ([]Row, error) {
	var out []Row
	err := r.withRecovery(ctx, cred, func(pool *pgxpool.Pool) error {
		rows, err := pool.Query(ctx,
			fmt.Sprintf(`SELECT id, title, body, embedding FROM %s WHERE title LIKE $1 ESCAPE '\' ORDER BY id`,
				quoteIdent(cred.TableName)),
			escapeLike(prefix)+"%",
		)
		if err != nil {
			return fmt.Errorf("query rows: %w", err)
		}
		defer rows.Close()

		out = out[:0]
		for rows.Next() {
			var row Row
			var vec pgvector.Vector
			if err := rows.Scan(&row.ID, &row.Title, &row.Body, &vec); err != nil {
				return fmt.Errorf("scan row: %w", err)
			}
			row.Vector = vec.Slice()
			out = append(out, row)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Reset drops and re-provisions the tenant's table. Destructive; only
// the confirmed reset command reaches it.
func (r *Router) Reset(ctx context.Context, cred *models.Credential) error {
	pool, err := r.pool(ctx, cred)
	if err != nil {
		return err
	}
	if _, err := pool.Exec(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %s CASCADE", quoteIdent(cred.TableName))); err != nil {
		return fmt.Errorf("drop vector table: %w", err)
	}
	return r.EnsureSchema(ctx, cred)
}

// Invalidate closes and forgets the tenant's pool. Called on key
// rotation and schema reset so the next use re-dials with fresh
// credentials.
func (r *Router) Invalidate(tenantID uuid.UUID) {
	r.mu.Lock()
	pool, ok := r.pools[tenantID]
	if ok {
		delete(r.pools, tenantID)
	}
	r.mu.Unlock()

	if ok {
		pool.Close()
	}
}

// Close releases every pooled connection.
func (r *Router) Close() {
	r.mu.Lock()
	pools := r.pools
	r.pools = make(map[uuid.UUID]*pgxpool.Pool)
	r.mu.Unlock()

	for _, p := range pools {
		p.Close()
	}
}

func (r *Router) withRecovery(ctx context.Context, cred *models.Credential, op func(*pgxpool.Pool) error) error {
	pool, err := r.pool(ctx, cred)
	if err != nil {
		return err
	}

	return runWithProvision(
		func() error { return op(pool) },
		func() error {
			slog.Warn("vector table missing, re-provisioning once", "tenant_id", cred.TenantID, "table", cred.TableName)
			return r.EnsureSchema(ctx, cred)
		})
}

// runWithProvision runs op, provisioning the schema at most once when
// the relation is missing. Any failure after that single recovery
// surfaces wrapped in ErrSchema.
func runWithProvision(op func() error, provision func() error) error {
	err := op()
	if !isUndefinedTable(err) {
		return err
	}

	if err := provision(); err != nil {
		return fmt.Errorf("%w: recovery provisioning failed: %v", ErrSchema, err)
	}
	if err := op(); err != nil {
		return fmt.Errorf("%w: retry after provisioning failed: %v", ErrSchema, err)
	}
	return nil
}

// pool returns the tenant's connection pool, dialing it on first use.
// The decrypted store password never leaves this call.
func (r *Router) pool(ctx context.Context, cred *models.Credential) (*pgxpool.Pool, error) {
	r.mu.Lock()
	if p, ok := r.pools[cred.TenantID]; ok {
		r.mu.Unlock()
		return p, nil
	}
	r.mu.Unlock()

	password, err := r.cipher.Decrypt(cred.StorePasswordEnc)
	if err != nil {
		return nil, fmt.Errorf("decrypt store password: %w", err)
	}

	pool, err := dial(ctx, ConnParams{
		Host:     cred.StoreHost,
		Port:     cred.StorePort,
		Database: cred.StoreDatabase,
		User:     cred.StoreUser,
		Password: password,
	})
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	if existing, ok := r.pools[cred.TenantID]; ok {
		// Lost the race; keep the first pool.
		r.mu.Unlock()
		pool.Close()
		return existing, nil
	}
	r.pools[cred.TenantID] = pool
	r.mu.Unlock()

	slog.Info("dialed tenant vector store", "tenant_id", cred.TenantID, "host", cred.StoreHost)
	return pool, nil
}

type ConnParams struct {
	Host     string
	Port     int
	Database string
	User     string
	Password string
}

func (p ConnParams) url() string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(p.User, p.Password),
		Host:   p.Host + ":" + strconv.Itoa(p.Port),
		Path:   "/" + p.Database,
	}
	q := u.Query()
	q.Set("sslmode", "require")
	u.RawQuery = q.Encode()
	return u.String()
}

func dial(ctx context.Context, params ConnParams) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(params.url())
	if err != nil {
		return nil, fmt.Errorf("parse tenant store config: %w", err)
	}
	cfg.MaxConns = 4
	cfg.ConnConfig.ConnectTimeout = 10 * time.Second

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("dial tenant store: %w", err)
	}
	return pool, nil
}

func isUndefinedTable(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == undefinedTable
}
