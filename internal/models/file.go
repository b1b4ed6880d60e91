package models

import (
	"time"

	"github.com/google/uuid"
)

type UploadedFile struct {
	ID            uuid.UUID  `json:"id" db:"id"`
	TenantID      uuid.UUID  `json:"tenant_id" db:"tenant_id"`
	FileName      string     `json:"file_name" db:"file_name"`
	FilePath      string     `json:"file_path,omitempty" db:"file_path"`
	FileSizeBytes int64      `json:"file_size_bytes" db:"file_size_bytes"`
	MimeType      string     `json:"mime_type,omitempty" db:"mime_type"`
	Status        string     `json:"status" db:"status"`
	ErrorMessage  string     `json:"error_message,omitempty" db:"error_message"`
	UploadedAt    time.Time  `json:"uploaded_at" db:"uploaded_at"`
	ProcessedAt   *time.Time `json:"processed_at,omitempty" db:"processed_at"`
}

const (
	FileStatusPending    = "pending"
	FileStatusParsing    = "parsing"
	FileStatusSegmenting = "segmenting"
	FileStatusEmbedding  = "embedding"
	FileStatusStored     = "stored"
	FileStatusFailed     = "failed"
	FileStatusExported   = "exported"
)

// Terminal reports whether no further pipeline stage may run for the file.
func FileStatusTerminal(status string) bool {
	switch status {
	case FileStatusStored, FileStatusFailed, FileStatusExported:
		return true
	}
	return false
}
