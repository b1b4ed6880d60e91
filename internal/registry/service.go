// Package registry persists tenant profiles, encrypted credential
// bundles and validation events in the control-plane database.
package registry

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/embedbot/embedbot/internal/models"
)

var ErrNotFound = errors.New("not found")

type Service struct {
	db *pgxpool.Pool
}

func NewService(db *pgxpool.Pool) *Service {
	return &Service{db: db}
}

const tenantColumns = "id, chat_session_id, username, display_name, onboarding_state, created_at, updated_at"

func (s *Service) GetBySession(ctx context.Context, chatSessionID int64) (*models.Tenant, error) {
	var t models.Tenant
	err := s.db.QueryRow(ctx,
		"SELECT "+tenantColumns+" FROM tenants WHERE chat_session_id = $1", chatSessionID,
	).Scan(&t.ID, &t.ChatSessionID, &t.Username, &t.DisplayName, &t.OnboardingState, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get tenant by session: %w", err)
	}
	return &t, nil
}

func (s *Service) GetByID(ctx context.Context, id uuid.UUID) (*models.Tenant, error) {
	var t models.Tenant
	err := s.db.QueryRow(ctx,
		"SELECT "+tenantColumns+" FROM tenants WHERE id = $1", id,
	).Scan(&t.ID, &t.ChatSessionID, &t.Username, &t.DisplayName, &t.OnboardingState, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get tenant: %w", err)
	}
	return &t, nil
}

// GetOrCreate returns the tenant bound to the chat session, creating it
// on first contact. Display metadata is refreshed on every call.
func (s *Service) GetOrCreate(ctx context.Context, chatSessionID int64, username, displayName string) (*models.Tenant, error) {
	var t models.Tenant
	err := s.db.QueryRow(ctx,
		`INSERT INTO tenants (chat_session_id, username, display_name)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (chat_session_id) DO UPDATE
		   SET username = EXCLUDED.username, display_name = EXCLUDED.display_name, updated_at = now()
		 RETURNING `+tenantColumns,
		chatSessionID, username, displayName,
	).Scan(&t.ID, &t.ChatSessionID, &t.Username, &t.DisplayName, &t.OnboardingState, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("get or create tenant: %w", err)
	}
	return &t, nil
}

func (s *Service) SetOnboardingState(ctx context.Context, tenantID uuid.UUID, state string) error {
	_, err := s.db.Exec(ctx,
		"UPDATE tenants SET onboarding_state = $1, updated_at = now() WHERE id = $2",
		state, tenantID,
	)
	if err != nil {
		return fmt.Errorf("set onboarding state: %w", err)
	}
	return nil
}

const credentialColumns = `tenant_id, store_host, store_port, store_database, store_user,
	store_password_enc, provider_key_enc, table_name, embedding_dimension, last_validated_at, created_at`

func (s *Service) GetCredential(ctx context.Context, tenantID uuid.UUID) (*models.Credential, error) {
	var c models.Credential
	err := s.db.QueryRow(ctx,
		"SELECT "+credentialColumns+" FROM tenant_credentials WHERE tenant_id = $1", tenantID,
	).Scan(&c.TenantID, &c.StoreHost, &c.StorePort, &c.StoreDatabase, &c.StoreUser,
		&c.StorePasswordEnc, &c.ProviderKeyEnc, &c.TableName, &c.EmbeddingDimension,
		&c.LastValidatedAt, &c.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get credential: %w", err)
	}
	return &c, nil
}

// UpsertCredential writes the tenant's onboarding completion and its
// credential bundle in one transaction. An existing credential row is
// superseded wholesale: the old ciphertext is gone after commit.
func (s *Service) UpsertCredential(ctx context.Context, tenantID uuid.UUID, cred *models.Credential) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		"UPDATE tenants SET onboarding_state = $1, updated_at = now() WHERE id = $2",
		models.OnboardingComplete, tenantID,
	)
	if err != nil {
		return fmt.Errorf("mark tenant onboarded: %w", err)
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO tenant_credentials
		   (tenant_id, store_host, store_port, store_database, store_user,
		    store_password_enc, provider_key_enc, table_name, embedding_dimension, last_validated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, now())
		 ON CONFLICT (tenant_id) DO UPDATE SET
		   store_host = EXCLUDED.store_host,
		   store_port = EXCLUDED.store_port,
		   store_database = EXCLUDED.store_database,
		   store_user = EXCLUDED.store_user,
		   store_password_enc = EXCLUDED.store_password_enc,
		   provider_key_enc = EXCLUDED.provider_key_enc,
		   table_name = EXCLUDED.table_name,
		   embedding_dimension = EXCLUDED.embedding_dimension,
		   last_validated_at = now()`,
		tenantID, cred.StoreHost, cred.StorePort, cred.StoreDatabase, cred.StoreUser,
		cred.StorePasswordEnc, cred.ProviderKeyEnc, cred.TableName, cred.EmbeddingDimension,
	)
	if err != nil {
		return fmt.Errorf("upsert credential: %w", err)
	}

	return tx.Commit(ctx)
}

// RotateKey replaces the provider key ciphertext. The caller must
// invalidate the tenant's pooled connections afterwards.
func (s *Service) RotateKey(ctx context.Context, tenantID uuid.UUID, providerKeyEnc string) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE tenant_credentials
		 SET provider_key_enc = $1, last_validated_at = now()
		 WHERE tenant_id = $2`,
		providerKeyEnc, tenantID,
	)
	if err != nil {
		return fmt.Errorf("rotate key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// RecordValidationEvent appends a check outcome. Secret values must
// never appear in reason.
func (s *Service) RecordValidationEvent(ctx context.Context, tenantID uuid.UUID, field, reason string, success bool) error {
	_, err := s.db.Exec(ctx,
		"INSERT INTO validation_events (tenant_id, field, reason, success) VALUES ($1, $2, $3, $4)",
		tenantID, field, reason, success,
	)
	if err != nil {
		return fmt.Errorf("record validation event: %w", err)
	}
	return nil
}
