package registry

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/embedbot/embedbot/internal/models"
)

const fileColumns = "id, tenant_id, file_name, file_path, file_size_bytes, mime_type, status, error_message, uploaded_at, processed_at"

func (s *Service) CreateFile(ctx context.Context, f *models.UploadedFile) (*models.UploadedFile, error) {
	var out models.UploadedFile
	err := s.db.QueryRow(ctx,
		`INSERT INTO uploaded_files (tenant_id, file_name, file_path, file_size_bytes, mime_type, status)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING `+fileColumns,
		f.TenantID, f.FileName, f.FilePath, f.FileSizeBytes, f.MimeType, models.FileStatusPending,
	).Scan(&out.ID, &out.TenantID, &out.FileName, &out.FilePath, &out.FileSizeBytes,
		&out.MimeType, &out.Status, &out.ErrorMessage, &out.UploadedAt, &out.ProcessedAt)
	if err != nil {
		return nil, fmt.Errorf("create file: %w", err)
	}
	return &out, nil
}

func (s *Service) GetFile(ctx context.Context, tenantID, fileID uuid.UUID) (*models.UploadedFile, error) {
	var f models.UploadedFile
	err := s.db.QueryRow(ctx,
		"SELECT "+fileColumns+" FROM uploaded_files WHERE id = $1 AND tenant_id = $2",
		fileID, tenantID,
	).Scan(&f.ID, &f.TenantID, &f.FileName, &f.FilePath, &f.FileSizeBytes,
		&f.MimeType, &f.Status, &f.ErrorMessage, &f.UploadedAt, &f.ProcessedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get file: %w", err)
	}
	return &f, nil
}

func (s *Service) ListFiles(ctx context.Context, tenantID uuid.UUID, limit int) ([]models.UploadedFile, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.Query(ctx,
		"SELECT "+fileColumns+" FROM uploaded_files WHERE tenant_id = $1 ORDER BY uploaded_at DESC LIMIT $2",
		tenantID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list files: %w", err)
	}
	defer rows.Close()

	var files []models.UploadedFile
	for rows.Next() {
		var f models.UploadedFile
		if err := rows.Scan(&f.ID, &f.TenantID, &f.FileName, &f.FilePath, &f.FileSizeBytes,
			&f.MimeType, &f.Status, &f.ErrorMessage, &f.UploadedAt, &f.ProcessedAt); err != nil {
			return nil, fmt.Errorf("scan file: %w", err)
		}
		files = append(files, f)
	}
	return files, rows.Err()
}

// UpdateFileStatus records a stage transition. Terminal statuses also
// stamp processed_at.
func (s *Service) UpdateFileStatus(ctx context.Context, fileID uuid.UUID, status, errorMessage string) error {
	var err error
	if models.FileStatusTerminal(status) {
		_, err = s.db.Exec(ctx,
			"UPDATE uploaded_files SET status = $1, error_message = $2, processed_at = now() WHERE id = $3",
			status, errorMessage, fileID,
		)
	} else {
		_, err = s.db.Exec(ctx,
			"UPDATE uploaded_files SET status = $1, error_message = $2 WHERE id = $3",
			status, errorMessage, fileID,
		)
	}
	if err != nil {
		return fmt.Errorf("update file status: %w", err)
	}
	return nil
}
