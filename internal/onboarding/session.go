package onboarding

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/embedbot/embedbot/internal/secrets"
)

// ErrNoSession means no onboarding conversation is active for the
// tenant.
var ErrNoSession = errors.New("no active onboarding session")

const sessionTTL = 30 * time.Minute

// Session holds the answers collected so far. It is cached encrypted
// because the password and key fields hold plaintext until commit.
type Session struct {
	TenantID    uuid.UUID `json:"tenant_id"`
	State       string    `json:"state"`
	DisplayName string    `json:"display_name"`
	Host        string    `json:"host"`
	Port        int       `json:"port"`
	Database    string    `json:"database"`
	User        string    `json:"user"`
	Password    string    `json:"password"`
	ProviderKey string    `json:"provider_key"`
}

type SessionStore interface {
	Load(ctx context.Context, tenantID uuid.UUID) (*Session, error)
	Save(ctx context.Context, sess *Session) error
	Delete(ctx context.Context, tenantID uuid.UUID) error
}

// RedisSessionStore keeps in-progress sessions in redis with a TTL, so
// an abandoned conversation expires on its own. Payloads are encrypted
// at rest.
type RedisSessionStore struct {
	rdb    *redis.Client
	cipher secrets.Cipher
}

func NewRedisSessionStore(rdb *redis.Client, cipher secrets.Cipher) *RedisSessionStore {
	return &RedisSessionStore{rdb: rdb, cipher: cipher}
}

func sessionKey(tenantID uuid.UUID) string {
	return "onboarding:session:" + tenantID.String()
}

func (s *RedisSessionStore) Load(ctx context.Context, tenantID uuid.UUID) (*Session, error) {
	enc, err := s.rdb.Get(ctx, sessionKey(tenantID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNoSession
	}
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	raw, err := s.cipher.Decrypt(enc)
	if err != nil {
		return nil, fmt.Errorf("decrypt session: %w", err)
	}
	var sess Session
	if err := json.Unmarshal([]byte(raw), &sess); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	return &sess, nil
}

func (s *RedisSessionStore) Save(ctx context.Context, sess *Session) error {
	raw, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	enc, err := s.cipher.Encrypt(string(raw))
	if err != nil {
		return fmt.Errorf("encrypt session: %w", err)
	}
	if err := s.rdb.Set(ctx, sessionKey(sess.TenantID), enc, sessionTTL).Err(); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

func (s *RedisSessionStore) Delete(ctx context.Context, tenantID uuid.UUID) error {
	if err := s.rdb.Del(ctx, sessionKey(tenantID)).Err(); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}
