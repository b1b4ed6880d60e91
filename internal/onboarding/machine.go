// Package onboarding collects, validates and commits a tenant's
// credential bundle through a chat-driven state machine. Invalid input
// re-prompts without advancing; secrets live only in the encrypted
// session cache until the bundle is committed.
package onboarding

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/embedbot/embedbot/internal/embedding"
	"github.com/embedbot/embedbot/internal/models"
	"github.com/embedbot/embedbot/internal/secrets"
	"github.com/embedbot/embedbot/internal/vectorstore"
)

type Registry interface {
	SetOnboardingState(ctx context.Context, tenantID uuid.UUID, state string) error
	UpsertCredential(ctx context.Context, tenantID uuid.UUID, cred *models.Credential) error
	RecordValidationEvent(ctx context.Context, tenantID uuid.UUID, field, reason string, success bool) error
}

// StoreProber checks the tenant's store is reachable and has the
// vector extension available.
type StoreProber func(ctx context.Context, params vectorstore.ConnParams) error

// KeyProber issues a minimal embedding call with the candidate key and
// reports the model's vector dimensionality.
type KeyProber func(ctx context.Context, apiKey string) (int, error)

type Provisioner interface {
	EnsureSchema(ctx context.Context, cred *models.Credential) error
}

// Result is what the chat layer sends back to the tenant.
type Result struct {
	Reply     string
	Completed bool
}

type Machine struct {
	sessions   SessionStore
	registry   Registry
	cipher     secrets.Cipher
	probeStore StoreProber
	probeKey   KeyProber
	provision  Provisioner
}

func NewMachine(sessions SessionStore, reg Registry, cipher secrets.Cipher, probeStore StoreProber, probeKey KeyProber, provision Provisioner) *Machine {
	return &Machine{
		sessions:   sessions,
		registry:   reg,
		cipher:     cipher,
		probeStore: probeStore,
		probeKey:   probeKey,
		provision:  provision,
	}
}

// Start opens (or restarts) an onboarding conversation for the tenant.
func (m *Machine) Start(ctx context.Context, tenant *models.Tenant) (Result, error) {
	if tenant.Onboarded() {
		return Result{Reply: "You are already set up. Use /rotate_keys to replace your API key."}, nil
	}
	sess := &Session{TenantID: tenant.ID, State: models.OnboardingCollectingIdentity}
	if err := m.sessions.Save(ctx, sess); err != nil {
		return Result{}, err
	}
	if err := m.registry.SetOnboardingState(ctx, tenant.ID, sess.State); err != nil {
		return Result{}, err
	}
	return Result{Reply: "Let's get you set up. What name should I call you? (send 'skip' to keep your chat name)"}, nil
}

// Abandon drops the conversation and any cached answers.
func (m *Machine) Abandon(ctx context.Context, tenant *models.Tenant) error {
	if err := m.sessions.Delete(ctx, tenant.ID); err != nil {
		return err
	}
	if tenant.Onboarded() {
		return nil
	}
	return m.registry.SetOnboardingState(ctx, tenant.ID, models.OnboardingAbandoned)
}

// Active reports whether an onboarding conversation is in progress.
func (m *Machine) Active(ctx context.Context, tenantID uuid.UUID) bool {
	_, err := m.sessions.Load(ctx, tenantID)
	return err == nil
}

// Input feeds one tenant answer into the machine and returns the next
// prompt. The machine never advances on invalid input.
func (m *Machine) Input(ctx context.Context, tenant *models.Tenant, text string) (Result, error) {
	sess, err := m.sessions.Load(ctx, tenant.ID)
	if errors.Is(err, ErrNoSession) {
		return Result{Reply: "No setup in progress. Send /start to begin."}, nil
	}
	if err != nil {
		return Result{}, err
	}

	switch sess.State {
	case models.OnboardingCollectingIdentity:
		return m.collectIdentity(ctx, tenant, sess, text)
	case models.OnboardingCollectingStoreParams:
		return m.collectStoreParam(ctx, tenant, sess, text)
	case models.OnboardingCollectingProviderKey:
		return m.collectProviderKey(ctx, tenant, sess, text)
	case models.OnboardingValidating:
		return m.validate(ctx, tenant, sess)
	default:
		return Result{}, fmt.Errorf("unexpected onboarding state %q", sess.State)
	}
}

func (m *Machine) collectIdentity(ctx context.Context, tenant *models.Tenant, sess *Session, text string) (Result, error) {
	if text == "skip" || text == "" {
		sess.DisplayName = tenant.DisplayName
	} else {
		sess.DisplayName = text
	}
	return m.advance(ctx, tenant.ID, sess, models.OnboardingCollectingStoreParams,
		"Now your vector store. "+storePrompts["store_host"])
}

var storeFieldOrder = []string{"store_host", "store_port", "store_database", "store_user", "store_password"}

var storePrompts = map[string]string{
	"store_host":     "What is the database host?",
	"store_port":     "Port? (usually 5432)",
	"store_database": "Database name?",
	"store_user":     "Database user?",
	"store_password": "Database password?",
}

func (s *Session) nextStoreField() string {
	switch {
	case s.Host == "":
		return "store_host"
	case s.Port == 0:
		return "store_port"
	case s.Database == "":
		return "store_database"
	case s.User == "":
		return "store_user"
	default:
		return "store_password"
	}
}

func (m *Machine) collectStoreParam(ctx context.Context, tenant *models.Tenant, sess *Session, text string) (Result, error) {
	field := sess.nextStoreField()

	var err error
	switch field {
	case "store_host":
		sess.Host, err = validateHost(text)
	case "store_port":
		sess.Port, err = validatePort(text)
	case "store_database":
		sess.Database, err = validateDatabase(text)
	case "store_user":
		sess.User, err = validateUser(text)
	case "store_password":
		sess.Password, err = validatePassword(text)
	}
	if err != nil {
		return m.reject(ctx, tenant.ID, err, storePrompts[field])
	}

	if field == "store_password" {
		return m.advance(ctx, tenant.ID, sess, models.OnboardingCollectingProviderKey,
			"Store details noted. Now send your embedding provider API key (sk-...).")
	}
	if err := m.sessions.Save(ctx, sess); err != nil {
		return Result{}, err
	}
	return Result{Reply: storePrompts[sess.nextStoreField()]}, nil
}

func (m *Machine) collectProviderKey(ctx context.Context, tenant *models.Tenant, sess *Session, text string) (Result, error) {
	key, err := validateProviderKey(text)
	if err != nil {
		return m.reject(ctx, tenant.ID, err, "Send your provider API key (sk-...).")
	}
	sess.ProviderKey = key
	sess.State = models.OnboardingValidating
	if err := m.sessions.Save(ctx, sess); err != nil {
		return Result{}, err
	}
	if err := m.registry.SetOnboardingState(ctx, tenant.ID, sess.State); err != nil {
		return Result{}, err
	}
	return m.validate(ctx, tenant, sess)
}

// validate runs the connectivity and key probes, and on success commits
// the bundle and provisions the tenant schema before replying.
func (m *Machine) validate(ctx context.Context, tenant *models.Tenant, sess *Session) (Result, error) {
	log := slog.With("tenant_id", tenant.ID)

	params := vectorstore.ConnParams{
		Host:     sess.Host,
		Port:     sess.Port,
		Database: sess.Database,
		User:     sess.User,
		Password: sess.Password,
	}
	if err := m.probeStore(ctx, params); err != nil {
		reason := "store unreachable"
		reply := "I could not reach that database. Let's re-check the connection details."
		if errors.Is(err, vectorstore.ErrMissingCapability) {
			reason = "vector extension missing"
			reply = "The database is reachable but the 'vector' extension is not available. Enable it, then re-enter the connection details."
		}
		log.Warn("store probe failed", "reason", reason)
		return m.failValidation(ctx, tenant.ID, sess, "store", reason, reply,
			models.OnboardingCollectingStoreParams, func(s *Session) {
				s.Host, s.Port, s.Database, s.User, s.Password = "", 0, "", "", ""
			})
	}

	dims, err := m.probeKey(ctx, sess.ProviderKey)
	if err != nil {
		reason := "provider probe failed"
		reply := "The provider rejected a test request. Please send the key again."
		switch {
		case embedding.IsAuthError(err):
			reason = "invalid provider key"
			reply = "That API key was rejected (unauthorized). Please send a valid key."
		case embedding.IsRateLimited(err):
			reason = "provider rate limited"
			reply = "The provider is rate limiting right now. Wait a moment and send the key again."
		}
		log.Warn("key probe failed", "reason", reason)
		return m.failValidation(ctx, tenant.ID, sess, "provider_key", reason, reply,
			models.OnboardingCollectingProviderKey, func(s *Session) { s.ProviderKey = "" })
	}

	cred, err := m.sealCredential(tenant.ID, sess, dims)
	if err != nil {
		return Result{}, err
	}
	if err := m.registry.UpsertCredential(ctx, tenant.ID, cred); err != nil {
		return Result{}, fmt.Errorf("commit credential: %w", err)
	}
	if err := m.provision.EnsureSchema(ctx, cred); err != nil {
		log.Error("schema provisioning failed", "error", err)
		if rerr := m.registry.RecordValidationEvent(ctx, tenant.ID, "schema", "provisioning failed", false); rerr != nil {
			log.Error("could not record validation event", "error", rerr)
		}
		return Result{Reply: "Your credentials are saved, but I could not prepare the storage table. Send /reset_schema to retry."}, nil
	}
	if err := m.registry.RecordValidationEvent(ctx, tenant.ID, "bundle", "validated", true); err != nil {
		log.Error("could not record validation event", "error", err)
	}
	if err := m.sessions.Delete(ctx, tenant.ID); err != nil {
		log.Error("could not drop session", "error", err)
	}

	log.Info("tenant onboarded", "dimensions", dims)
	return Result{
		Reply:     fmt.Sprintf("All set, %s! Your store is ready (vectors of %d dimensions). Send /upload to add a document.", sess.DisplayName, dims),
		Completed: true,
	}, nil
}

func (m *Machine) sealCredential(tenantID uuid.UUID, sess *Session, dims int) (*models.Credential, error) {
	passwordEnc, err := m.cipher.Encrypt(sess.Password)
	if err != nil {
		return nil, fmt.Errorf("seal password: %w", err)
	}
	keyEnc, err := m.cipher.Encrypt(sess.ProviderKey)
	if err != nil {
		return nil, fmt.Errorf("seal provider key: %w", err)
	}
	return &models.Credential{
		TenantID:           tenantID,
		StoreHost:          sess.Host,
		StorePort:          sess.Port,
		StoreDatabase:      sess.Database,
		StoreUser:          sess.User,
		StorePasswordEnc:   passwordEnc,
		ProviderKeyEnc:     keyEnc,
		TableName:          vectorstore.TableName(tenantID),
		EmbeddingDimension: dims,
	}, nil
}

// failValidation records one event, rolls the session back to the
// owning state and clears the rejected answers.
func (m *Machine) failValidation(ctx context.Context, tenantID uuid.UUID, sess *Session, field, reason, reply, state string, clear func(*Session)) (Result, error) {
	if err := m.registry.RecordValidationEvent(ctx, tenantID, field, reason, false); err != nil {
		return Result{}, err
	}
	clear(sess)
	sess.State = state
	if err := m.sessions.Save(ctx, sess); err != nil {
		return Result{}, err
	}
	if err := m.registry.SetOnboardingState(ctx, tenantID, state); err != nil {
		return Result{}, err
	}
	return Result{Reply: reply}, nil
}

func (m *Machine) advance(ctx context.Context, tenantID uuid.UUID, sess *Session, state, reply string) (Result, error) {
	sess.State = state
	if err := m.sessions.Save(ctx, sess); err != nil {
		return Result{}, err
	}
	if err := m.registry.SetOnboardingState(ctx, tenantID, state); err != nil {
		return Result{}, err
	}
	return Result{Reply: reply}, nil
}

func (m *Machine) reject(ctx context.Context, tenantID uuid.UUID, err error, prompt string) (Result, error) {
	var fe *FieldError
	if !errors.As(err, &fe) {
		return Result{}, err
	}
	if rerr := m.registry.RecordValidationEvent(ctx, tenantID, fe.Field, fe.Reason, false); rerr != nil {
		return Result{}, rerr
	}
	return Result{Reply: fe.Reason + " " + prompt}, nil
}
