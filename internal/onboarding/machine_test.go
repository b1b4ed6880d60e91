package onboarding

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"
	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/embedbot/embedbot/internal/models"
	"github.com/embedbot/embedbot/internal/vectorstore"
)

type memSessions struct {
	data map[uuid.UUID]*Session
}

func newMemSessions() *memSessions {
	return &memSessions{data: make(map[uuid.UUID]*Session)}
}

func (m *memSessions) Load(_ context.Context, tenantID uuid.UUID) (*Session, error) {
	sess, ok := m.data[tenantID]
	if !ok {
		return nil, ErrNoSession
	}
	copied := *sess
	return &copied, nil
}

func (m *memSessions) Save(_ context.Context, sess *Session) error {
	copied := *sess
	m.data[sess.TenantID] = &copied
	return nil
}

func (m *memSessions) Delete(_ context.Context, tenantID uuid.UUID) error {
	delete(m.data, tenantID)
	return nil
}

type recordedEvent struct {
	field   string
	reason  string
	success bool
}

type fakeRegistry struct {
	states []string
	events []recordedEvent
	cred   *models.Credential
}

func (f *fakeRegistry) SetOnboardingState(_ context.Context, _ uuid.UUID, state string) error {
	f.states = append(f.states, state)
	return nil
}

func (f *fakeRegistry) UpsertCredential(_ context.Context, _ uuid.UUID, cred *models.Credential) error {
	f.cred = cred
	return nil
}

func (f *fakeRegistry) RecordValidationEvent(_ context.Context, _ uuid.UUID, field, reason string, success bool) error {
	f.events = append(f.events, recordedEvent{field: field, reason: reason, success: success})
	return nil
}

type identityCipher struct{}

func (identityCipher) Encrypt(p string) (string, error) { return "enc:" + p, nil }
func (identityCipher) Decrypt(c string) (string, error) {
	return strings.TrimPrefix(c, "enc:"), nil
}

type fakeProvisioner struct {
	err   error
	calls int
}

func (f *fakeProvisioner) EnsureSchema(context.Context, *models.Credential) error {
	f.calls++
	return f.err
}

type fixture struct {
	machine  *Machine
	sessions *memSessions
	registry *fakeRegistry
	prov     *fakeProvisioner
	tenant   *models.Tenant

	storeErr error
	keyErr   error
	dims     int
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	fx := &fixture{
		sessions: newMemSessions(),
		registry: &fakeRegistry{},
		prov:     &fakeProvisioner{},
		tenant: &models.Tenant{
			ID:              uuid.New(),
			ChatSessionID:   99,
			DisplayName:     "Ada",
			OnboardingState: "",
		},
		dims: 1536,
	}
	fx.machine = NewMachine(
		fx.sessions,
		fx.registry,
		identityCipher{},
		func(context.Context, vectorstore.ConnParams) error { return fx.storeErr },
		func(context.Context, string) (int, error) { return fx.dims, fx.keyErr },
		fx.prov,
	)
	return fx
}

func (fx *fixture) send(t *testing.T, text string) Result {
	t.Helper()
	res, err := fx.machine.Input(context.Background(), fx.tenant, text)
	require.NoError(t, err)
	return res
}

func (fx *fixture) walkToKey(t *testing.T) {
	t.Helper()
	_, err := fx.machine.Start(context.Background(), fx.tenant)
	require.NoError(t, err)
	fx.send(t, "skip")
	fx.send(t, "db.supabase.co")
	fx.send(t, "5432")
	fx.send(t, "postgres")
	fx.send(t, "service_user")
	fx.send(t, "hunter22")
}

func TestOnboardingHappyPath(t *testing.T) {
	fx := newFixture(t)
	fx.walkToKey(t)

	res := fx.send(t, "sk-abcdefgh1234")
	assert.True(t, res.Completed)
	assert.Contains(t, res.Reply, "1536")

	cred := fx.registry.cred
	require.NotNil(t, cred)
	assert.Equal(t, "db.supabase.co", cred.StoreHost)
	assert.Equal(t, 5432, cred.StorePort)
	assert.Equal(t, "enc:hunter22", cred.StorePasswordEnc)
	assert.Equal(t, "enc:sk-abcdefgh1234", cred.ProviderKeyEnc)
	assert.Equal(t, vectorstore.TableName(fx.tenant.ID), cred.TableName)
	assert.Equal(t, 1536, cred.EmbeddingDimension)

	assert.Equal(t, 1, fx.prov.calls, "schema provisioned synchronously")
	assert.False(t, fx.machine.Active(context.Background(), fx.tenant.ID), "session discarded on completion")

	require.NotEmpty(t, fx.registry.events)
	last := fx.registry.events[len(fx.registry.events)-1]
	assert.True(t, last.success)
}

func TestOnboardingInvalidPortReprompts(t *testing.T) {
	fx := newFixture(t)
	_, err := fx.machine.Start(context.Background(), fx.tenant)
	require.NoError(t, err)
	fx.send(t, "Grace")
	fx.send(t, "db.example.com")

	res := fx.send(t, "99999")
	assert.Contains(t, res.Reply, "port between 1 and 65535")

	sess, err := fx.sessions.Load(context.Background(), fx.tenant.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OnboardingCollectingStoreParams, sess.State)
	assert.Zero(t, sess.Port, "rejected answer not kept")

	require.Len(t, fx.registry.events, 1)
	assert.Equal(t, "store_port", fx.registry.events[0].field)
	assert.False(t, fx.registry.events[0].success)

	res = fx.send(t, "5432")
	assert.Contains(t, res.Reply, "Database name")
}

func TestOnboardingUnreachableStore(t *testing.T) {
	fx := newFixture(t)
	fx.storeErr = errors.New("dial tcp: i/o timeout")
	fx.walkToKey(t)

	res := fx.send(t, "sk-abcdefgh1234")
	assert.False(t, res.Completed)
	assert.Contains(t, res.Reply, "could not reach")

	sess, err := fx.sessions.Load(context.Background(), fx.tenant.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OnboardingCollectingStoreParams, sess.State)
	assert.Empty(t, sess.Host, "store answers discarded for re-entry")

	// Exactly one event for the failed probe.
	require.Len(t, fx.registry.events, 1)
	assert.Equal(t, "store", fx.registry.events[0].field)
	assert.Nil(t, fx.registry.cred, "nothing persisted")
}

func TestOnboardingMissingVectorExtension(t *testing.T) {
	fx := newFixture(t)
	fx.storeErr = vectorstore.ErrMissingCapability
	fx.walkToKey(t)

	res := fx.send(t, "sk-abcdefgh1234")
	assert.Contains(t, res.Reply, "'vector' extension")
	assert.Equal(t, "vector extension missing", fx.registry.events[0].reason)
}

func TestOnboardingInvalidKey(t *testing.T) {
	fx := newFixture(t)
	fx.walkToKey(t)

	resReject := fx.send(t, "not-a-key")
	assert.Contains(t, resReject.Reply, "provider API key")

	fx.keyErr = &openai.APIError{HTTPStatusCode: 401}
	res := fx.send(t, "sk-abcdefgh1234")
	assert.Contains(t, res.Reply, "unauthorized")

	sess, err := fx.sessions.Load(context.Background(), fx.tenant.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OnboardingCollectingProviderKey, sess.State)
	assert.Empty(t, sess.ProviderKey)

	// A corrected key completes the flow.
	fx.keyErr = nil
	res = fx.send(t, "sk-abcdefgh5678")
	assert.True(t, res.Completed)
}

func TestOnboardingRateLimitedKeyProbe(t *testing.T) {
	fx := newFixture(t)
	fx.walkToKey(t)

	fx.keyErr = &openai.APIError{HTTPStatusCode: 429}
	res := fx.send(t, "sk-abcdefgh1234")
	assert.False(t, res.Completed)
	assert.Contains(t, res.Reply, "rate limiting")
	assert.Equal(t, "provider rate limited", fx.registry.events[0].reason)
}

func TestOnboardingAbandonDiscardsAnswers(t *testing.T) {
	fx := newFixture(t)
	fx.walkToKey(t)

	require.NoError(t, fx.machine.Abandon(context.Background(), fx.tenant))
	assert.False(t, fx.machine.Active(context.Background(), fx.tenant.ID))
	assert.Equal(t, models.OnboardingAbandoned, fx.registry.states[len(fx.registry.states)-1])

	res := fx.send(t, "anything")
	assert.Contains(t, res.Reply, "/start")
}

func TestOnboardingAlreadyComplete(t *testing.T) {
	fx := newFixture(t)
	fx.tenant.OnboardingState = models.OnboardingComplete

	res, err := fx.machine.Start(context.Background(), fx.tenant)
	require.NoError(t, err)
	assert.Contains(t, res.Reply, "/rotate_keys")
	assert.False(t, fx.machine.Active(context.Background(), fx.tenant.ID))
}
