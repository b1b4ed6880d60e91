// Package export builds downloadable archives of processed files: the
// original blob plus every stored segment with its vector.
package export

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/google/uuid"

	"github.com/embedbot/embedbot/internal/models"
	"github.com/embedbot/embedbot/internal/vectorstore"
)

// ErrNotFound is returned when a file has no stored vectors to export.
var ErrNotFound = errors.New("no stored segments for file")

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

type VectorReader interface {
	Read(ctx context.Context, cred *models.Credential, prefix string) ([]vectorstore.Row, error)
}

// Manifest is the segments.json document inside the archive.
type Manifest struct {
	FileName string    `json:"file_name"`
	ChatID   int64     `json:"chat_id"`
	Status   string    `json:"status"`
	Segments []Segment `json:"segments"`
}

type Segment struct {
	ID     int64     `json:"id"`
	Title  string    `json:"title"`
	Body   string    `json:"body"`
	Vector []float32 `json:"vector"`
}

type Builder struct {
	files   FileStore
	creds   CredentialSource
	blobs   BlobSource
	vectors VectorReader
}

func NewBuilder(files FileStore, creds CredentialSource, blobs BlobSource, vectors VectorReader) *Builder {
	return &Builder{files: files, creds: creds, blobs: blobs, vectors: vectors}
}

// Build assembles the zip archive for one processed file. The manifest
// lists segments in stored order. A file with no stored vectors yields
// ErrNotFound. On success the file is marked exported.
func (b *Builder) Build(ctx context.Context, tenant *models.Tenant, fileID uuid.UUID) ([]byte, error) {
	file, err := b.files.GetFile(ctx, tenant.ID, fileID)
	if err != nil {
		return nil, fmt.Errorf("load file: %w", err)
	}

	cred, err := b.creds.GetCredential(ctx, tenant.ID)
	if err != nil {
		return nil, fmt.Errorf("load credential: %w", err)
	}

	prefix := vectorstore.TitlePrefix(file.FileName, file.ID)
	rows, err := b.vectors.Read(ctx, cred, prefix)
	if err != nil {
		return nil, fmt.Errorf("read segments: %w", err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, file.FileName)
	}

	manifest := Manifest{
		FileName: file.FileName,
		ChatID:   tenant.ChatSessionID,
		Status:   file.Status,
		Segments: make([]Segment, len(rows)),
	}
	for i, row := range rows {
		manifest.Segments[i] = Segment{
			ID:     row.ID,
			Title:  row.Title,
			Body:   row.Body,
			Vector: row.Vector,
		}
	}

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	if err := b.writeOriginal(ctx, zw, file); err != nil {
		return nil, err
	}
	if err := writeManifest(zw, manifest); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("finalize archive: %w", err)
	}

	if err := b.files.UpdateFileStatus(ctx, fileID, models.FileStatusExported, ""); err != nil {
		return nil, fmt.Errorf("mark file exported: %w", err)
	}
	return buf.Bytes(), nil
}

func (b *Builder) writeOriginal(ctx context.Context, zw *zip.Writer, file *models.UploadedFile) error {
	blob, err := b.blobs.Download(ctx, file.FilePath)
	if err != nil {
		return fmt.Errorf("download original: %w", err)
	}
	defer blob.Close()

	w, err := zw.Create("original/" + file.FileName)
	if err != nil {
		return fmt.Errorf("archive original: %w", err)
	}
	if _, err := io.Copy(w, blob); err != nil {
		return fmt.Errorf("archive original: %w", err)
	}
	return nil
}

func writeManifest(zw *zip.Writer, manifest Manifest) error {
	w, err := zw.Create("segments.json")
	if err != nil {
		return fmt.Errorf("archive manifest: %w", err)
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(manifest); err != nil {
		return fmt.Errorf("archive manifest: %w", err)
	}
	return nil
}
