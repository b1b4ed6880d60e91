package chat

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/embedbot/embedbot/internal/config"
	"github.com/embedbot/embedbot/internal/models"
	"github.com/embedbot/embedbot/internal/onboarding"
	"github.com/embedbot/embedbot/internal/queue"
)

type fakeTenants struct {
	tenant  *models.Tenant
	cred    *models.Credential
	files   []models.UploadedFile
	created []*models.UploadedFile
	rotated string
}

func (f *fakeTenants) GetOrCreate(_ context.Context, _ int64, _, _ string) (*models.Tenant, error) {
	return f.tenant, nil
}

func (f *fakeTenants) GetCredential(context.Context, uuid.UUID) (*models.Credential, error) {
	return f.cred, nil
}

func (f *fakeTenants) RotateKey(_ context.Context, _ uuid.UUID, keyEnc string) error {
	f.rotated = keyEnc
	return nil
}

func (f *fakeTenants) CreateFile(_ context.Context, file *models.UploadedFile) (*models.UploadedFile, error) {
	file.ID = uuid.New()
	f.created = append(f.created, file)
	return file, nil
}

func (f *fakeTenants) ListFiles(context.Context, uuid.UUID, int) ([]models.UploadedFile, error) {
	return f.files, nil
}

type fakeOnboarder struct {
	active    bool
	started   int
	abandoned int
	inputs    []string
}

func (f *fakeOnboarder) Start(context.Context, *models.Tenant) (onboarding.Result, error) {
	f.started++
	f.active = true
	return onboarding.Result{Reply: "What name should I call you?"}, nil
}

func (f *fakeOnboarder) Input(_ context.Context, _ *models.Tenant, text string) (onboarding.Result, error) {
	f.inputs = append(f.inputs, text)
	return onboarding.Result{Reply: "next question"}, nil
}

func (f *fakeOnboarder) Abandon(context.Context, *models.Tenant) error {
	f.abandoned++
	f.active = false
	return nil
}

func (f *fakeOnboarder) Active(context.Context, uuid.UUID) bool { return f.active }

type fakeBlobStore struct {
	paths []string
}

func (f *fakeBlobStore) Upload(_ context.Context, path string, data io.Reader, _ string) error {
	io.Copy(io.Discard, data)
	f.paths = append(f.paths, path)
	return nil
}

func (f *fakeBlobStore) Download(context.Context, string) (io.ReadCloser, error) {
	return io.NopCloser(strings.NewReader("")), nil
}

func (f *fakeBlobStore) Delete(context.Context, string) error { return nil }

type fakeEnqueuer struct {
	fileJobs  []queue.FileProcessPayload
	resetJobs []queue.SchemaResetPayload
}

func (f *fakeEnqueuer) EnqueueFileProcess(p queue.FileProcessPayload) error {
	f.fileJobs = append(f.fileJobs, p)
	return nil
}

func (f *fakeEnqueuer) EnqueueSchemaReset(p queue.SchemaResetPayload) error {
	f.resetJobs = append(f.resetJobs, p)
	return nil
}

type fakeExporter struct {
	archive []byte
	err     error
}

func (f *fakeExporter) Build(context.Context, *models.Tenant, uuid.UUID) ([]byte, error) {
	return f.archive, f.err
}

type fakePools struct {
	invalidated []uuid.UUID
}

func (f *fakePools) Invalidate(id uuid.UUID) { f.invalidated = append(f.invalidated, id) }

type memFlags struct {
	data map[string]time.Time
	err  error
}

func newMemFlags() *memFlags { return &memFlags{data: make(map[string]time.Time)} }

func (m *memFlags) Set(_ context.Context, key string, ttl time.Duration) error {
	m.data[key] = time.Now().Add(ttl)
	return nil
}

func (m *memFlags) Take(_ context.Context, key string) (bool, error) {
	if m.err != nil {
		return false, m.err
	}
	deadline, ok := m.data[key]
	delete(m.data, key)
	return ok && time.Now().Before(deadline), nil
}

type memGateway struct {
	texts []string
	docs  map[string][]byte
}

func newMemGateway() *memGateway { return &memGateway{docs: make(map[string][]byte)} }

func (g *memGateway) SendText(_ context.Context, _ int64, text string) error {
	g.texts = append(g.texts, text)
	return nil
}

func (g *memGateway) SendDocument(_ context.Context, _ int64, name string, data []byte) error {
	g.docs[name] = data
	return nil
}

type identityCipher struct{}

func (identityCipher) Encrypt(p string) (string, error) { return "enc:" + p, nil }
func (identityCipher) Decrypt(c string) (string, error) {
	return strings.TrimPrefix(c, "enc:"), nil
}

type fixture struct {
	router    *Router
	tenants   *fakeTenants
	onboarder *fakeOnboarder
	blobs     *fakeBlobStore
	tasks     *fakeEnqueuer
	exporter  *fakeExporter
	pools     *fakePools
	flags     *memFlags
	gateway   *memGateway

	probeDims int
	probeErr  error
}

func newFixture(t *testing.T, onboarded bool) *fixture {
	t.Helper()
	state := ""
	if onboarded {
		state = models.OnboardingComplete
	}
	fx := &fixture{
		tenants: &fakeTenants{
			tenant: &models.Tenant{
				ID:              uuid.New(),
				ChatSessionID:   55,
				DisplayName:     "Ada",
				OnboardingState: state,
			},
			cred: &models.Credential{EmbeddingDimension: 1536},
		},
		onboarder: &fakeOnboarder{},
		blobs:     &fakeBlobStore{},
		tasks:     &fakeEnqueuer{},
		exporter:  &fakeExporter{archive: []byte("zip-bytes")},
		pools:     &fakePools{},
		flags:     newMemFlags(),
		gateway:   newMemGateway(),
		probeDims: 1536,
	}
	fx.router = NewRouter(
		fx.tenants,
		fx.onboarder,
		fx.blobs,
		fx.tasks,
		fx.exporter,
		fx.pools,
		fx.flags,
		fx.gateway,
		identityCipher{},
		func(context.Context, string) (int, error) { return fx.probeDims, fx.probeErr },
		config.UploadConfig{MaxFileSizeMB: 15, AllowedExtensions: []string{".pdf", ".txt", ".md"}},
	)
	return fx
}

func (fx *fixture) send(t *testing.T, text string) string {
	t.Helper()
	require.NoError(t, fx.router.Handle(context.Background(), Event{SessionID: 55, Text: text}))
	require.NotEmpty(t, fx.gateway.texts)
	return fx.gateway.texts[len(fx.gateway.texts)-1]
}

func TestStartRoutesIntoOnboarding(t *testing.T) {
	fx := newFixture(t, false)

	reply := fx.send(t, "/start")
	assert.Contains(t, reply, "What name")

	reply = fx.send(t, "Grace")
	assert.Equal(t, "next question", reply)
	assert.Equal(t, []string{"Grace"}, fx.onboarder.inputs)
}

func TestRetrySetupDiscardsAndRestarts(t *testing.T) {
	fx := newFixture(t, false)
	fx.send(t, "/start")

	reply := fx.send(t, "/retry_setup")
	assert.Contains(t, reply, "discarded")
	assert.Equal(t, 1, fx.onboarder.abandoned)
	assert.Equal(t, 2, fx.onboarder.started)
}

func TestUploadFlow(t *testing.T) {
	fx := newFixture(t, true)

	err := fx.router.Handle(context.Background(), Event{
		SessionID: 55,
		File: &FileRef{
			Name: "report.pdf",
			Size: 1024,
			Open: func(context.Context) (io.ReadCloser, error) {
				return io.NopCloser(strings.NewReader("pdf bytes")), nil
			},
		},
	})
	require.NoError(t, err)

	require.Len(t, fx.tenants.created, 1)
	created := fx.tenants.created[0]
	assert.Equal(t, "report.pdf", created.FileName)
	assert.Equal(t, models.FileStatusPending, created.Status)

	require.Len(t, fx.tasks.fileJobs, 1)
	assert.Equal(t, created.ID.String(), fx.tasks.fileJobs[0].FileID)
	assert.Equal(t, fx.tenants.tenant.ID.String(), fx.tasks.fileJobs[0].TenantID)
	require.Len(t, fx.blobs.paths, 1)
	assert.Contains(t, fx.gateway.texts[0], "Processing")
}

func TestUploadRejectsWrongExtension(t *testing.T) {
	fx := newFixture(t, true)

	err := fx.router.Handle(context.Background(), Event{
		SessionID: 55,
		File:      &FileRef{Name: "malware.exe", Size: 10},
	})
	require.NoError(t, err)
	assert.Contains(t, fx.gateway.texts[0], "Unsupported file type")
	assert.Empty(t, fx.tenants.created)
	assert.Empty(t, fx.tasks.fileJobs)
}

func TestUploadRejectsOversize(t *testing.T) {
	fx := newFixture(t, true)

	err := fx.router.Handle(context.Background(), Event{
		SessionID: 55,
		File:      &FileRef{Name: "big.pdf", Size: 20 * 1024 * 1024},
	})
	require.NoError(t, err)
	assert.Contains(t, fx.gateway.texts[0], "15 MB")
	assert.Empty(t, fx.tasks.fileJobs)
}

func TestUploadRequiresOnboarding(t *testing.T) {
	fx := newFixture(t, false)

	err := fx.router.Handle(context.Background(), Event{
		SessionID: 55,
		File:      &FileRef{Name: "doc.pdf", Size: 10},
	})
	require.NoError(t, err)
	assert.Contains(t, fx.gateway.texts[0], "/start")
}

func TestResetSchemaNeedsTypedConfirmation(t *testing.T) {
	fx := newFixture(t, true)

	reply := fx.send(t, "/reset_schema")
	assert.Contains(t, reply, "RESET")
	assert.Empty(t, fx.tasks.resetJobs)

	reply = fx.send(t, "RESET")
	assert.Contains(t, reply, "scheduled")
	require.Len(t, fx.tasks.resetJobs, 1)
	assert.Equal(t, fx.tenants.tenant.ID.String(), fx.tasks.resetJobs[0].TenantID)
}

func TestFlagBackendFailureDoesNotTriggerReset(t *testing.T) {
	fx := newFixture(t, true)
	fx.send(t, "/reset_schema")
	fx.flags.err = errors.New("connection refused")

	reply := fx.send(t, "RESET")
	assert.Contains(t, reply, "/upload")
	assert.Empty(t, fx.tasks.resetJobs)
}

func TestResetSchemaWrongWordDoesNothing(t *testing.T) {
	fx := newFixture(t, true)
	fx.send(t, "/reset_schema")

	reply := fx.send(t, "yes please")
	assert.Contains(t, reply, "not confirmed")
	assert.Empty(t, fx.tasks.resetJobs)

	// The confirmation window is gone; plain text is plain text again.
	reply = fx.send(t, "RESET")
	assert.NotContains(t, reply, "scheduled")
	assert.Empty(t, fx.tasks.resetJobs)
}

func TestRotateKeys(t *testing.T) {
	fx := newFixture(t, true)

	reply := fx.send(t, "/rotate_keys")
	assert.Contains(t, reply, "new provider API key")

	reply = fx.send(t, "sk-newkey123456")
	assert.Contains(t, reply, "rotated")
	assert.Equal(t, "enc:sk-newkey123456", fx.tenants.rotated)
	assert.Equal(t, []uuid.UUID{fx.tenants.tenant.ID}, fx.pools.invalidated)
}

func TestRotateKeysDimensionMismatch(t *testing.T) {
	fx := newFixture(t, true)
	fx.probeDims = 768

	fx.send(t, "/rotate_keys")
	reply := fx.send(t, "sk-newkey123456")
	assert.Contains(t, reply, "Rotation canceled")
	assert.Empty(t, fx.tenants.rotated)
	assert.Empty(t, fx.pools.invalidated)
}

func TestHistoryAndExport(t *testing.T) {
	fx := newFixture(t, true)
	fx.tenants.files = []models.UploadedFile{
		{ID: uuid.New(), FileName: "b.txt", Status: models.FileStatusStored},
		{ID: uuid.New(), FileName: "a.txt", Status: models.FileStatusFailed},
	}

	reply := fx.send(t, "/history")
	assert.Contains(t, reply, "1. b.txt - stored")
	assert.Contains(t, reply, "2. a.txt - failed")

	require.NoError(t, fx.router.Handle(context.Background(), Event{SessionID: 55, Text: "/export 1"}))
	assert.Equal(t, []byte("zip-bytes"), fx.gateway.docs["b.txt.zip"])
}

func TestExportBadArgument(t *testing.T) {
	fx := newFixture(t, true)
	fx.tenants.files = []models.UploadedFile{
		{ID: uuid.New(), FileName: "b.txt", Status: models.FileStatusStored},
	}

	reply := fx.send(t, "/export")
	assert.Contains(t, reply, "Usage")

	reply = fx.send(t, "/export 5")
	assert.Contains(t, reply, "only have 1")
}

func TestUnknownCommand(t *testing.T) {
	fx := newFixture(t, true)
	reply := fx.send(t, "/banana")
	assert.Contains(t, reply, "Unknown command")
}
