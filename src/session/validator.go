package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/video2commons/relay/src/types"
)

// ErrInvalidSession covers every auth failure class: missing indirection
// record, missing session, CSRF mismatch, backend rejection. Callers close
// the connection either way, so the classes are not distinguished on the
// wire; the log carries the detail.
var ErrInvalidSession = errors.New("invalid session")

// KV is the read-only session-store surface. ErrNotFound marks a missing
// key; any other error is an infrastructure failure (still fails closed).
type KV interface {
	Get(ctx context.Context, key string) (string, error)
}

// ErrNotFound is returned by KV implementations for absent keys.
var ErrNotFound = errors.New("key not found")

// StatusClient obtains the authoritative status snapshot (including the room
// list) for a resolved session.
type StatusClient interface {
	Status(sessionKey string) (*types.StatusSnapshot, error)
}

// Auth is the outcome of a successful validation.
type Auth struct {
	User       string
	SessionKey string
	Snapshot   *types.StatusSnapshot
}

// Validator authenticates socket connections against the web backend's
// session store. It holds no state of its own and never writes to the store.
type Validator struct {
	kv              KV
	backend         StatusClient
	iosessionPrefix string
	sessionPrefix   string
	logger          zerolog.Logger
}

// NewValidator creates a session validator.
func NewValidator(kv KV, backend StatusClient, iosessionPrefix, sessionPrefix string, logger zerolog.Logger) *Validator {
	return &Validator{
		kv:              kv,
		backend:         backend,
		iosessionPrefix: iosessionPrefix,
		sessionPrefix:   sessionPrefix,
		logger:          logger.With().Str("component", "session").Logger(),
	}
}

// sessionRecord is the subset of the backend's session JSON the relay reads.
type sessionRecord struct {
	CSRFToken string `json:"csrf_token"`
	Username  string `json:"username"`
}

// Validate resolves an iosession handle to a session record, checks the CSRF
// token, and asks the backend which rooms the session's user may join.
// Every failure path returns ErrInvalidSession: the relay fails closed.
func (v *Validator) Validate(ctx context.Context, iosession, csrfToken string) (*Auth, error) {
	if iosession == "" || csrfToken == "" {
		return nil, ErrInvalidSession
	}

	sessionKey, err := v.kv.Get(ctx, v.iosessionPrefix+iosession)
	if err != nil {
		return nil, v.reject("iosession lookup", err)
	}

	raw, err := v.kv.Get(ctx, v.sessionPrefix+sessionKey)
	if err != nil {
		return nil, v.reject("session lookup", err)
	}

	var record sessionRecord
	if err := json.Unmarshal([]byte(raw), &record); err != nil {
		return nil, v.reject("session decode", err)
	}
	if record.CSRFToken == "" || csrfToken != record.CSRFToken {
		return nil, v.reject("csrf check", errors.New("token mismatch"))
	}

	snapshot, err := v.backend.Status(sessionKey)
	if err != nil {
		return nil, v.reject("backend status", err)
	}

	return &Auth{
		User:       record.Username,
		SessionKey: sessionKey,
		Snapshot:   snapshot,
	}, nil
}

func (v *Validator) reject(step string, err error) error {
	if errors.Is(err, ErrNotFound) {
		v.logger.Debug().Str("step", step).Msg("auth rejected")
	} else {
		v.logger.Warn().Err(err).Str("step", step).Msg("auth rejected")
	}
	return ErrInvalidSession
}

// redisKV adapts a go-redis client to the KV interface.
type redisKV struct {
	client *redis.Client
}

// NewRedisKV wraps a go-redis client as a session-store reader.
func NewRedisKV(client *redis.Client) KV {
	return redisKV{client: client}
}

func (r redisKV) Get(ctx context.Context, key string) (string, error) {
	val, err := r.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if err != nil {
		return "", err
	}
	return val, nil
}
