package export

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/embedbot/embedbot/internal/models"
	"github.com/embedbot/embedbot/internal/vectorstore"
)

type fakeFiles struct {
	file       *models.UploadedFile
	lastStatus string
}

func (f *fakeFiles) GetFile(_ context.Context, tenantID, fileID uuid.UUID) (*models.UploadedFile, error) {
	copied := *f.file
	return &copied, nil
}

func (f *fakeFiles) UpdateFileStatus(_ context.Context, _ uuid.UUID, status, _ string) error {
	f.lastStatus = status
	return nil
}

type fakeCreds struct{ cred *models.Credential }

func (f *fakeCreds) GetCredential(context.Context, uuid.UUID) (*models.Credential, error) {
	return f.cred, nil
}

type fakeBlobs struct{ content string }

func (f *fakeBlobs) Download(context.Context, string) (io.ReadCloser, error) {
	return io.NopCloser(strings.NewReader(f.content)), nil
}

type fakeVectors struct{ rows []vectorstore.Row }

func (f *fakeVectors) Read(context.Context, *models.Credential, string) ([]vectorstore.Row, error) {
	return f.rows, nil
}

func TestBuildRoundTrip(t *testing.T) {
	tenant := &models.Tenant{ID: uuid.New(), ChatSessionID: 42}
	fileID := uuid.New()
	files := &fakeFiles{file: &models.UploadedFile{
		ID:       fileID,
		TenantID: tenant.ID,
		FileName: "notes.txt",
		FilePath: "uploads/x/notes.txt",
		Status:   models.FileStatusStored,
	}}
	prefix := vectorstore.TitlePrefix("notes.txt", fileID)
	rows := []vectorstore.Row{
		{ID: 1, Title: prefix + "1", Body: "First segment body.", Vector: []float32{0.1, 0.2}},
		{ID: 2, Title: prefix + "2", Body: "Second segment body.", Vector: []float32{0.3, 0.4}},
	}

	builder := NewBuilder(files, &fakeCreds{cred: &models.Credential{TenantID: tenant.ID}},
		&fakeBlobs{content: "raw file bytes"}, &fakeVectors{rows: rows})

	archive, err := builder.Build(context.Background(), tenant, fileID)
	require.NoError(t, err)
	assert.Equal(t, models.FileStatusExported, files.lastStatus)

	zr, err := zip.NewReader(bytes.NewReader(archive), int64(len(archive)))
	require.NoError(t, err)
	require.Len(t, zr.File, 2)

	original := readEntry(t, zr, "original/notes.txt")
	assert.Equal(t, "raw file bytes", string(original))

	var manifest Manifest
	require.NoError(t, json.Unmarshal(readEntry(t, zr, "segments.json"), &manifest))
	assert.Equal(t, "notes.txt", manifest.FileName)
	assert.Equal(t, int64(42), manifest.ChatID)
	assert.Equal(t, models.FileStatusStored, manifest.Status)
	require.Len(t, manifest.Segments, 2)
	// The round trip preserves bodies and vectors exactly, in order.
	for i, row := range rows {
		assert.Equal(t, row.ID, manifest.Segments[i].ID)
		assert.Equal(t, row.Title, manifest.Segments[i].Title)
		assert.Equal(t, row.Body, manifest.Segments[i].Body)
		assert.Equal(t, row.Vector, manifest.Segments[i].Vector)
	}
}

func TestBuildNoStoredSegments(t *testing.T) {
	tenant := &models.Tenant{ID: uuid.New(), ChatSessionID: 7}
	fileID := uuid.New()
	files := &fakeFiles{file: &models.UploadedFile{
		ID: fileID, TenantID: tenant.ID, FileName: "empty.txt", Status: models.FileStatusFailed,
	}}

	builder := NewBuilder(files, &fakeCreds{cred: &models.Credential{}},
		&fakeBlobs{}, &fakeVectors{rows: nil})

	_, err := builder.Build(context.Background(), tenant, fileID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Empty(t, files.lastStatus, "status untouched on failure")
}

func readEntry(t *testing.T, zr *zip.Reader, name string) []byte {
	t.Helper()
	for _, f := range zr.File {
		if f.Name == name {
			rc, err := f.Open()
			require.NoError(t, err)
			defer rc.Close()
			data, err := io.ReadAll(rc)
			require.NoError(t, err)
			return data
		}
	}
	t.Fatalf("entry %s not in archive", name)
	return nil
}
