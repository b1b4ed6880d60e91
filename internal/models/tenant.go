package models

import (
	"time"

	"github.com/google/uuid"
)

type Tenant struct {
	ID              uuid.UUID `json:"id" db:"id"`
	ChatSessionID   int64     `json:"chat_session_id" db:"chat_session_id"`
	Username        string    `json:"username" db:"username"`
	DisplayName     string    `json:"display_name" db:"display_name"`
	OnboardingState string    `json:"onboarding_state" db:"onboarding_state"`
	CreatedAt       time.Time `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time `json:"updated_at" db:"updated_at"`
}

// Onboarded reports whether the tenant may upload documents.
func (t *Tenant) Onboarded() bool {
	return t.OnboardingState == OnboardingComplete
}

const (
	OnboardingCollectingIdentity    = "collecting_identity"
	OnboardingCollectingStoreParams = "collecting_store_params"
	OnboardingCollectingProviderKey = "collecting_provider_key"
	OnboardingValidating            = "validating"
	OnboardingComplete              = "complete"
	OnboardingAbandoned             = "abandoned"
)

// Credential holds a tenant's vector-store connection parameters and
// embedding-provider key. Password and key are stored as ciphertext and
// decrypted only inside the call that needs the plaintext.
type Credential struct {
	TenantID           uuid.UUID  `json:"tenant_id" db:"tenant_id"`
	StoreHost          string     `json:"store_host" db:"store_host"`
	StorePort          int        `json:"store_port" db:"store_port"`
	StoreDatabase      string     `json:"store_database" db:"store_database"`
	StoreUser          string     `json:"store_user" db:"store_user"`
	StorePasswordEnc   string     `json:"-" db:"store_password_enc"`
	ProviderKeyEnc     string     `json:"-" db:"provider_key_enc"`
	TableName          string     `json:"table_name" db:"table_name"`
	EmbeddingDimension int        `json:"embedding_dimension" db:"embedding_dimension"`
	LastValidatedAt    *time.Time `json:"last_validated_at,omitempty" db:"last_validated_at"`
	CreatedAt          time.Time  `json:"created_at" db:"created_at"`
}

// ValidationEvent is an append-only record of an onboarding check
// outcome. It never carries secret values.
type ValidationEvent struct {
	ID        int64     `json:"id" db:"id"`
	TenantID  uuid.UUID `json:"tenant_id" db:"tenant_id"`
	Field     string    `json:"field" db:"field"`
	Reason    string    `json:"reason" db:"reason"`
	Success   bool      `json:"success" db:"success"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}
