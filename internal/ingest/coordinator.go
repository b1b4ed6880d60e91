// Package ingest drives an uploaded file through parse, segment, embed
// and persist, one file per tenant at a time.
package ingest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/embedbot/embedbot/internal/models"
	"github.com/embedbot/embedbot/internal/registry"
	"github.com/embedbot/embedbot/internal/secrets"
	"github.com/embedbot/embedbot/internal/segmenter"
	"github.com/embedbot/embedbot/internal/vectorstore"
	"github.com/embedbot/embedbot/pkg/textextract"
)

type FileStore interface {
	GetFile(ctx context.Context, tenantID, fileID uuid.UUID) (*models.UploadedFile, error)
	UpdateFileStatus(ctx context.Context, fileID uuid.UUID, status, errorMessage string) error
}

type CredentialSource interface {
	GetCredential(ctx context.Context, tenantID uuid.UUID) (*models.Credential, error)
}

type BlobSource interface {
	Download(ctx context.Context, path string) (io.ReadCloser, error)
}

type VectorWriter interface {
	Write(ctx context.Context, cred *models.Credential, prefix string, rows []vectorstore.Row) error
}

// Embedder is the per-call embedding surface; the factory binds one to
// a tenant's decrypted provider key for the duration of a single job.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

type EmbedderFactory func(apiKey string, dimensions int) Embedder

// ParseFunc is the document-parser collaborator contract.
type ParseFunc func(data []byte, formatHint string) (string, error)

// DefaultParse extracts text with the bundled extractor.
func DefaultParse(data []byte, formatHint string) (string, error) {
	extracted, err := textextract.Extract(bytes.NewReader(data), int64(len(data)), formatHint)
	if err != nil {
		return "", err
	}
	return extracted.Content, nil
}

type Coordinator struct {
	files       FileStore
	creds       CredentialSource
	blobs       BlobSource
	vectors     VectorWriter
	cipher      secrets.Cipher
	newEmbedder EmbedderFactory
	parse       ParseFunc
	segOpts     segmenter.Options

	locks *tenantLocks
}

func NewCoordinator(
	files FileStore,
	creds CredentialSource,
	blobs BlobSource,
	vectors VectorWriter,
	cipher secrets.Cipher,
	newEmbedder EmbedderFactory,
	segOpts segmenter.Options,
) *Coordinator {
	return &Coordinator{
		files:       files,
		creds:       creds,
		blobs:       blobs,
		vectors:     vectors,
		cipher:      cipher,
		newEmbedder: newEmbedder,
		parse:       DefaultParse,
		segOpts:     segOpts,
		locks:       newTenantLocks(),
	}
}

// SetParse swaps the parser collaborator. Used by tests and by callers
// with format support beyond the bundled extractor.
func (c *Coordinator) SetParse(parse ParseFunc) { c.parse = parse }

// Process runs the pipeline for one file. Per-tenant serialization
// guarantees the delete-then-insert persist step never interleaves with
// another write for the same tenant. The pipeline never retries itself;
// re-processing happens only on explicit request.
func (c *Coordinator) Process(ctx context.Context, tenantID, fileID uuid.UUID) error {
	mu := c.locks.get(tenantID)
	mu.Lock()
	defer mu.Unlock()

	log := slog.With("tenant_id", tenantID, "file_id", fileID)

	file, err := c.files.GetFile(ctx, tenantID, fileID)
	if err != nil {
		return fmt.Errorf("load file: %w", err)
	}

	cred, err := c.creds.GetCredential(ctx, tenantID)
	if errors.Is(err, registry.ErrNotFound) {
		return c.fail(ctx, log, fileID, "tenant is not onboarded", err)
	}
	if err != nil {
		return fmt.Errorf("load credential: %w", err)
	}

	// Stage: parsing.
	if err := c.transition(ctx, fileID, models.FileStatusParsing); err != nil {
		return err
	}
	text, err := c.parseBlob(ctx, file)
	if err != nil {
		return c.fail(ctx, log, fileID, "could not read any text from the file", err)
	}

	if err := c.checkCanceled(ctx, log, fileID); err != nil {
		return err
	}

	// Stage: segmenting.
	if err := c.transition(ctx, fileID, models.FileStatusSegmenting); err != nil {
		return err
	}
	result, err := segmenter.Segment(text, c.segOpts)
	if errors.Is(err, segmenter.ErrEmptyInput) {
		return c.fail(ctx, log, fileID, "no informative text found in the file", err)
	}
	if err != nil {
		return c.fail(ctx, log, fileID, "could not split the file into segments", err)
	}
	segments := result.Segments()
	log.Info("segmented file", "segments", len(segments))

	if err := c.checkCanceled(ctx, log, fileID); err != nil {
		return err
	}

	// Stage: embedding. The decrypted provider key lives only inside
	// this block.
	if err := c.transition(ctx, fileID, models.FileStatusEmbedding); err != nil {
		return err
	}
	vectors, err := c.embed(ctx, cred, segments)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return c.fail(ctx, log, fileID, "processing canceled", err)
		}
		return c.fail(ctx, log, fileID, "embedding provider rejected the request", err)
	}
	if len(vectors) != len(segments) {
		return c.fail(ctx, log, fileID, "embedding count does not match segment count",
			fmt.Errorf("got %d vectors for %d segments", len(vectors), len(segments)))
	}

	if err := c.checkCanceled(ctx, log, fileID); err != nil {
		return err
	}

	// Stage: persist. Delete-then-insert inside the router transaction.
	prefix := vectorstore.TitlePrefix(file.FileName, file.ID)
	rows := make([]vectorstore.Row, len(segments))
	for i, body := range segments {
		rows[i] = vectorstore.Row{
			Title:  vectorstore.SegmentTitle(prefix, i+1),
			Body:   body,
			Vector: vectors[i],
		}
	}
	if err := c.vectors.Write(ctx, cred, prefix, rows); err != nil {
		return c.fail(ctx, log, fileID, "could not persist embeddings in the vector store", err)
	}

	if err := c.files.UpdateFileStatus(ctx, fileID, models.FileStatusStored, ""); err != nil {
		return fmt.Errorf("mark file stored: %w", err)
	}

	log.Info("file processed", "segments", len(segments))
	return nil
}

func (c *Coordinator) parseBlob(ctx context.Context, file *models.UploadedFile) (string, error) {
	blob, err := c.blobs.Download(ctx, file.FilePath)
	if err != nil {
		return "", fmt.Errorf("download blob: %w", err)
	}
	defer blob.Close()

	data, err := io.ReadAll(blob)
	if err != nil {
		return "", fmt.Errorf("read blob: %w", err)
	}

	hint := filepath.Ext(file.FileName)
	if hint == "" {
		hint = file.MimeType
	}
	text, err := c.parse(data, hint)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrParse, err)
	}
	return text, nil
}

func (c *Coordinator) embed(ctx context.Context, cred *models.Credential, segments []string) ([][]float32, error) {
	apiKey, err := c.cipher.Decrypt(cred.ProviderKeyEnc)
	if err != nil {
		return nil, fmt.Errorf("decrypt provider key: %w", err)
	}
	return c.newEmbedder(apiKey, cred.EmbeddingDimension).Embed(ctx, segments)
}

func (c *Coordinator) transition(ctx context.Context, fileID uuid.UUID, status string) error {
	if err := c.files.UpdateFileStatus(ctx, fileID, status, ""); err != nil {
		return fmt.Errorf("transition to %s: %w", status, err)
	}
	return nil
}

func (c *Coordinator) checkCanceled(ctx context.Context, log *slog.Logger, fileID uuid.UUID) error {
	if err := ctx.Err(); err != nil {
		return c.fail(ctx, log, fileID, "processing canceled", err)
	}
	return nil
}

func (c *Coordinator) fail(ctx context.Context, log *slog.Logger, fileID uuid.UUID, reason string, cause error) error {
	log.Warn("file processing failed", "reason", reason, "error", cause)
	// The status write must land even when the job context is gone.
	if err := c.files.UpdateFileStatus(context.WithoutCancel(ctx), fileID, models.FileStatusFailed, reason); err != nil {
		log.Error("could not record failure", "error", err)
	}
	return fmt.Errorf("%s: %w", reason, cause)
}
