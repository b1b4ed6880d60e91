package workers

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/embedbot/embedbot/internal/models"
	"github.com/embedbot/embedbot/internal/queue"
)

type CredentialSource interface {
	GetCredential(ctx context.Context, tenantID uuid.UUID) (*models.Credential, error)
}

type Resetter interface {
	Reset(ctx context.Context, cred *models.Credential) error
	Invalidate(tenantID uuid.UUID)
}

// ResetWorker drops and re-provisions one tenant's vector table.
type ResetWorker struct {
	creds   CredentialSource
	store   Resetter
	tenants TenantSource
	notify  Notifier
}

func NewResetWorker(creds CredentialSource, store Resetter, tenants TenantSource, notify Notifier) *ResetWorker {
	return &ResetWorker{creds: creds, store: store, tenants: tenants, notify: notify}
}

func (w *ResetWorker) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload queue.SchemaResetPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}

	tenantID, err := uuid.Parse(payload.TenantID)
	if err != nil {
		return fmt.Errorf("parse tenant ID: %w", err)
	}

	slog.Info("resetting tenant schema", "tenant_id", tenantID)

	cred, err := w.creds.GetCredential(ctx, tenantID)
	if err != nil {
		return fmt.Errorf("load credential: %w", err)
	}

	resetErr := w.store.Reset(ctx, cred)
	w.store.Invalidate(tenantID)

	tenant, err := w.tenants.GetByID(ctx, tenantID)
	if err != nil {
		slog.Error("could not load tenant for notification", "tenant_id", tenantID, "error", err)
		return resetErr
	}

	if resetErr != nil {
		if err := w.notify.SendText(ctx, tenant.ChatSessionID, "Schema reset failed. Check your store and try again."); err != nil {
			slog.Error("could not notify tenant", "session_id", tenant.ChatSessionID, "error", err)
		}
		return fmt.Errorf("reset schema: %w", resetErr)
	}

	if err := w.notify.SendText(ctx, tenant.ChatSessionID, "Your storage table was rebuilt. Previously stored segments are gone."); err != nil {
		slog.Error("could not notify tenant", "session_id", tenant.ChatSessionID, "error", err)
	}
	return nil
}
