package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/embedbot/embedbot/internal/config"
	"github.com/embedbot/embedbot/internal/export"
	"github.com/embedbot/embedbot/internal/ingest"
	"github.com/embedbot/embedbot/internal/models"
	"github.com/embedbot/embedbot/internal/onboarding"
	"github.com/embedbot/embedbot/internal/queue"
	"github.com/embedbot/embedbot/internal/secrets"
	"github.com/embedbot/embedbot/internal/storage"
)

const (
	resetConfirmWord = "RESET"
	resetConfirmTTL  = 60 * time.Second
	rotateTTL        = 10 * time.Minute
	historyLimit     = 10
)

type Tenants interface {
	GetOrCreate(ctx context.Context, chatSessionID int64, username, displayName string) (*models.Tenant, error)
	GetCredential(ctx context.Context, tenantID uuid.UUID) (*models.Credential, error)
	RotateKey(ctx context.Context, tenantID uuid.UUID, providerKeyEnc string) error
	CreateFile(ctx context.Context, f *models.UploadedFile) (*models.UploadedFile, error)
	ListFiles(ctx context.Context, tenantID uuid.UUID, limit int) ([]models.UploadedFile, error)
}

type Onboarder interface {
	Start(ctx context.Context, tenant *models.Tenant) (onboarding.Result, error)
	Input(ctx context.Context, tenant *models.Tenant, text string) (onboarding.Result, error)
	Abandon(ctx context.Context, tenant *models.Tenant) error
	Active(ctx context.Context, tenantID uuid.UUID) bool
}

type Enqueuer interface {
	EnqueueFileProcess(payload queue.FileProcessPayload) error
	EnqueueSchemaReset(payload queue.SchemaResetPayload) error
}

type Exporter interface {
	Build(ctx context.Context, tenant *models.Tenant, fileID uuid.UUID) ([]byte, error)
}

type PoolInvalidator interface {
	Invalidate(tenantID uuid.UUID)
}

// Flags tracks short-lived conversation markers (pending destructive
// confirmation, pending key rotation) with a TTL.
type Flags interface {
	Set(ctx context.Context, key string, ttl time.Duration) error
	Take(ctx context.Context, key string) (bool, error)
}

// Router turns inbound chat events into pipeline actions and replies.
type Router struct {
	tenants   Tenants
	onboarder Onboarder
	blobs     storage.Storage
	tasks     Enqueuer
	exporter  Exporter
	pools     PoolInvalidator
	flags     Flags
	gateway   Gateway
	cipher    secrets.Cipher
	probeKey  onboarding.KeyProber
	upload    config.UploadConfig
}

func NewRouter(
	tenants Tenants,
	onboarder Onboarder,
	blobs storage.Storage,
	tasks Enqueuer,
	exporter Exporter,
	pools PoolInvalidator,
	flags Flags,
	gateway Gateway,
	cipher secrets.Cipher,
	probeKey onboarding.KeyProber,
	upload config.UploadConfig,
) *Router {
	return &Router{
		tenants:   tenants,
		onboarder: onboarder,
		blobs:     blobs,
		tasks:     tasks,
		exporter:  exporter,
		pools:     pools,
		flags:     flags,
		gateway:   gateway,
		cipher:    cipher,
		probeKey:  probeKey,
		upload:    upload,
	}
}

// Handle processes one inbound event end to end and sends the reply.
func (r *Router) Handle(ctx context.Context, ev Event) error {
	tenant, err := r.tenants.GetOrCreate(ctx, ev.SessionID, ev.Username, ev.DisplayName)
	if err != nil {
		return fmt.Errorf("resolve tenant: %w", err)
	}
	log := slog.With("tenant_id", tenant.ID, "session_id", ev.SessionID)

	if ev.File != nil {
		return r.reply(ctx, tenant, r.handleUpload(ctx, log, tenant, ev.File))
	}

	text := strings.TrimSpace(ev.Text)
	if strings.HasPrefix(text, "/") {
		return r.reply(ctx, tenant, r.handleCommand(ctx, log, tenant, text))
	}
	return r.reply(ctx, tenant, r.handleText(ctx, tenant, text))
}

func (r *Router) reply(ctx context.Context, tenant *models.Tenant, text string) error {
	if text == "" {
		return nil
	}
	return r.gateway.SendText(ctx, tenant.ChatSessionID, text)
}

func (r *Router) handleCommand(ctx context.Context, log *slog.Logger, tenant *models.Tenant, text string) string {
	cmd, arg, _ := strings.Cut(text, " ")
	switch cmd {
	case "/start":
		res, err := r.onboarder.Start(ctx, tenant)
		if err != nil {
			log.Error("could not start onboarding", "error", err)
			return "Something went wrong. Try /start again."
		}
		return res.Reply

	case "/upload":
		if !tenant.Onboarded() {
			return "Finish setup first: send /start."
		}
		return fmt.Sprintf("Send a %s file up to %d MB.",
			strings.ToUpper(strings.Join(trimDots(r.upload.AllowedExtensions), ", ")), r.upload.MaxFileSizeMB)

	case "/history":
		return r.handleHistory(ctx, log, tenant)

	case "/retry_setup":
		if err := r.onboarder.Abandon(ctx, tenant); err != nil {
			log.Error("could not abandon onboarding", "error", err)
			return "Something went wrong. Try again."
		}
		res, err := r.onboarder.Start(ctx, &models.Tenant{
			ID:            tenant.ID,
			ChatSessionID: tenant.ChatSessionID,
			DisplayName:   tenant.DisplayName,
		})
		if err != nil {
			log.Error("could not restart onboarding", "error", err)
			return "Something went wrong. Try /start."
		}
		return "Previous answers discarded. " + res.Reply

	case "/rotate_keys":
		if !tenant.Onboarded() {
			return "Finish setup first: send /start."
		}
		if err := r.flags.Set(ctx, rotateFlag(tenant.ID), rotateTTL); err != nil {
			log.Error("could not set rotate flag", "error", err)
			return "Something went wrong. Try again."
		}
		return "Send the new provider API key (sk-...)."

	case "/reset_schema":
		if !tenant.Onboarded() {
			return "Finish setup first: send /start."
		}
		if err := r.flags.Set(ctx, resetFlag(tenant.ID), resetConfirmTTL); err != nil {
			log.Error("could not set reset flag", "error", err)
			return "Something went wrong. Try again."
		}
		return fmt.Sprintf("This drops your storage table and every stored segment. Type %s within %d seconds to confirm.",
			resetConfirmWord, int(resetConfirmTTL.Seconds()))

	case "/export":
		return r.handleExport(ctx, log, tenant, arg)

	default:
		return "Unknown command. Available: /start /upload /history /export /retry_setup /rotate_keys /reset_schema"
	}
}

func (r *Router) handleText(ctx context.Context, tenant *models.Tenant, text string) string {
	log := slog.With("tenant_id", tenant.ID)

	if ok, err := r.flags.Take(ctx, resetFlag(tenant.ID)); err != nil {
		log.Error("could not check reset confirmation flag", "error", err)
	} else if ok {
		return r.handleResetConfirm(log, tenant, text)
	}
	if ok, err := r.flags.Take(ctx, rotateFlag(tenant.ID)); err != nil {
		log.Error("could not check rotation flag", "error", err)
	} else if ok {
		return r.handleRotate(ctx, log, tenant, text)
	}
	if r.onboarder.Active(ctx, tenant.ID) {
		res, err := r.onboarder.Input(ctx, tenant, text)
		if err != nil {
			log.Error("onboarding input failed", "error", err)
			return "Something went wrong. Send /retry_setup to start over."
		}
		return res.Reply
	}
	if !tenant.Onboarded() {
		return "Send /start to set up your storage and API key."
	}
	return "Send /upload to add a document, or /history to see your files."
}

func (r *Router) handleResetConfirm(log *slog.Logger, tenant *models.Tenant, text string) string {
	if text != resetConfirmWord {
		return "Reset not confirmed. Nothing was changed."
	}
	if err := r.tasks.EnqueueSchemaReset(queue.SchemaResetPayload{TenantID: tenant.ID.String()}); err != nil {
		log.Error("could not enqueue schema reset", "error", err)
		return "Could not schedule the reset. Try again."
	}
	return "Reset scheduled. You will get a message when the table is rebuilt."
}

func (r *Router) handleRotate(ctx context.Context, log *slog.Logger, tenant *models.Tenant, text string) string {
	key := strings.TrimSpace(text)
	if !strings.HasPrefix(key, "sk-") {
		return "That does not look like a provider API key. Send /rotate_keys to try again."
	}

	cred, err := r.tenants.GetCredential(ctx, tenant.ID)
	if err != nil {
		log.Error("could not load credential", "error", err)
		return "Something went wrong. Try /rotate_keys again."
	}

	dims, err := r.probeKey(ctx, key)
	if err != nil {
		log.Warn("rotation key probe failed", "error", err)
		return "The provider rejected that key. Send /rotate_keys to try again."
	}
	if dims != cred.EmbeddingDimension {
		return fmt.Sprintf("That key's model returns %d-dimensional vectors but your table stores %d. Rotation canceled.",
			dims, cred.EmbeddingDimension)
	}

	keyEnc, err := r.cipher.Encrypt(key)
	if err != nil {
		log.Error("could not seal key", "error", err)
		return "Something went wrong. Try /rotate_keys again."
	}
	if err := r.tenants.RotateKey(ctx, tenant.ID, keyEnc); err != nil {
		log.Error("could not rotate key", "error", err)
		return "Something went wrong. Try /rotate_keys again."
	}
	r.pools.Invalidate(tenant.ID)
	return "Key rotated and validated."
}

func (r *Router) handleHistory(ctx context.Context, log *slog.Logger, tenant *models.Tenant) string {
	files, err := r.tenants.ListFiles(ctx, tenant.ID, historyLimit)
	if err != nil {
		log.Error("could not list files", "error", err)
		return "Could not load your files. Try again."
	}
	if len(files) == 0 {
		return "No files yet. Send /upload to add one."
	}

	var b strings.Builder
	b.WriteString("Your files:\n")
	for i, f := range files {
		fmt.Fprintf(&b, "%d. %s - %s\n", i+1, f.FileName, f.Status)
	}
	b.WriteString("Send /export <number> to download a processed file's segments.")
	return b.String()
}

func (r *Router) handleExport(ctx context.Context, log *slog.Logger, tenant *models.Tenant, arg string) string {
	n, err := strconv.Atoi(strings.TrimSpace(arg))
	if err != nil || n < 1 {
		return "Usage: /export <number>, the number from /history."
	}

	files, err := r.tenants.ListFiles(ctx, tenant.ID, historyLimit)
	if err != nil {
		log.Error("could not list files", "error", err)
		return "Could not load your files. Try again."
	}
	if n > len(files) {
		return fmt.Sprintf("You only have %d file(s). Check /history.", len(files))
	}
	file := files[n-1]

	archive, err := r.exporter.Build(ctx, tenant, file.ID)
	if errors.Is(err, export.ErrNotFound) {
		return fmt.Sprintf("%s has no stored segments yet (status: %s).", file.FileName, file.Status)
	}
	if err != nil {
		log.Error("could not build export", "file_id", file.ID, "error", err)
		return "Could not build the export. Try again."
	}

	if err := r.gateway.SendDocument(ctx, tenant.ChatSessionID, file.FileName+".zip", archive); err != nil {
		log.Error("could not send export", "file_id", file.ID, "error", err)
		return "Could not deliver the export. Try again."
	}
	return ""
}

func (r *Router) handleUpload(ctx context.Context, log *slog.Logger, tenant *models.Tenant, ref *FileRef) string {
	if !tenant.Onboarded() {
		return "Finish setup first: send /start."
	}

	if err := ingest.ValidateExtension(ref.Name, r.upload.AllowedExtensions); err != nil {
		return fmt.Sprintf("Unsupported file type. Send one of: %s.",
			strings.Join(r.upload.AllowedExtensions, ", "))
	}
	if err := ingest.ValidateSize(ref.Size, r.upload.MaxFileSizeMB); err != nil {
		return fmt.Sprintf("File too large. The limit is %d MB.", r.upload.MaxFileSizeMB)
	}

	blob, err := ref.Open(ctx)
	if err != nil {
		log.Error("could not fetch upload", "error", err)
		return "Could not fetch the file. Try sending it again."
	}
	defer blob.Close()

	path := storage.ObjectPath(tenant.ID, ref.Name)
	if err := r.blobs.Upload(ctx, path, blob, "application/octet-stream"); err != nil {
		log.Error("could not store upload", "error", err)
		return "Could not store the file. Try again."
	}

	file, err := r.tenants.CreateFile(ctx, &models.UploadedFile{
		TenantID:      tenant.ID,
		FileName:      ref.Name,
		FilePath:      path,
		FileSizeBytes: ref.Size,
		Status:        models.FileStatusPending,
	})
	if err != nil {
		log.Error("could not record upload", "error", err)
		return "Could not record the file. Try again."
	}

	if err := r.tasks.EnqueueFileProcess(queue.FileProcessPayload{
		TenantID: tenant.ID.String(),
		FileID:   file.ID.String(),
	}); err != nil {
		log.Error("could not enqueue processing", "file_id", file.ID, "error", err)
		return "The file is saved but processing could not start. Try /history later."
	}

	log.Info("upload accepted", "file_id", file.ID, "file_name", ref.Name, "size", ref.Size)
	return "File received. Processing..."
}

func rotateFlag(tenantID uuid.UUID) string { return "chat:rotate:" + tenantID.String() }
func resetFlag(tenantID uuid.UUID) string  { return "chat:reset:" + tenantID.String() }

func trimDots(exts []string) []string {
	out := make([]string, len(exts))
	for i, e := range exts {
		out[i] = strings.TrimPrefix(e, ".")
	}
	return out
}
