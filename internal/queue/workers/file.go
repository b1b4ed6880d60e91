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

type Processor interface {
	Process(ctx context.Context, tenantID, fileID uuid.UUID) error
}

type TenantSource interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Tenant, error)
}

type FileSource interface {
	GetFile(ctx context.Context, tenantID, fileID uuid.UUID) (*models.UploadedFile, error)
}

type Notifier interface {
	SendText(ctx context.Context, sessionID int64, text string) error
}

// FileWorker runs the ingestion pipeline for one queued file and tells
// the tenant how it went.
type FileWorker struct {
	proc    Processor
	tenants TenantSource
	files   FileSource
	notify  Notifier
}

func NewFileWorker(proc Processor, tenants TenantSource, files FileSource, notify Notifier) *FileWorker {
	return &FileWorker{proc: proc, tenants: tenants, files: files, notify: notify}
}

func (w *FileWorker) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload queue.FileProcessPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}

	tenantID, err := uuid.Parse(payload.TenantID)
	if err != nil {
		return fmt.Errorf("parse tenant ID: %w", err)
	}
	fileID, err := uuid.Parse(payload.FileID)
	if err != nil {
		return fmt.Errorf("parse file ID: %w", err)
	}

	slog.Info("processing file", "tenant_id", tenantID, "file_id", fileID)

	procErr := w.proc.Process(ctx, tenantID, fileID)

	tenant, err := w.tenants.GetByID(ctx, tenantID)
	if err != nil {
		slog.Error("could not load tenant for notification", "tenant_id", tenantID, "error", err)
		return procErr
	}

	if procErr != nil {
		w.send(ctx, tenant.ChatSessionID, w.failureMessage(ctx, tenantID, fileID))
		return procErr
	}

	file, err := w.files.GetFile(ctx, tenantID, fileID)
	if err != nil {
		slog.Error("could not load file for notification", "file_id", fileID, "error", err)
		return nil
	}
	w.send(ctx, tenant.ChatSessionID, fmt.Sprintf("%s is processed and stored. Use /export to download segments.", file.FileName))
	return nil
}

// failureMessage prefers the recorded status reason over the raw error,
// which may carry internals the tenant should not see.
func (w *FileWorker) failureMessage(ctx context.Context, tenantID, fileID uuid.UUID) string {
	file, err := w.files.GetFile(ctx, tenantID, fileID)
	if err != nil || file.ErrorMessage == "" {
		return "Processing failed. Check the file and try again."
	}
	return "Processing failed: " + file.ErrorMessage
}

func (w *FileWorker) send(ctx context.Context, sessionID int64, text string) {
	if err := w.notify.SendText(ctx, sessionID, text); err != nil {
		slog.Error("could not notify tenant", "session_id", sessionID, "error", err)
	}
}
