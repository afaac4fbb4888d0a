package access

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"brokergate.org/internal/obs"
)

// DefaultSessionTTL is fixed at creation time; validation never extends it.
const DefaultSessionTTL = 24 * time.Hour

// Clock abstracts time.Now so tests can control expiry.
type Clock func() time.Time

// SessionStore issues, validates, and revokes opaque bearer tokens. All
// state lives in one process-wide map guarded by a single mutex; directory
// lookups happen outside the lock.
type SessionStore struct {
	directory UserDirectory
	devices   DeviceRecorder
	now       Clock
	ttl       time.Duration

	mu       sync.Mutex
	sessions map[string]*Session
}

// SessionOption configures SessionStore behavior.
type SessionOption func(*SessionStore)

// WithSessionClock overrides the time source (useful for tests).
func WithSessionClock(fn Clock) SessionOption {
	return func(s *SessionStore) {
		if fn != nil {
			s.now = fn
		}
	}
}

// WithSessionTTL overrides the fixed session lifetime.
func WithSessionTTL(ttl time.Duration) SessionOption {
	return func(s *SessionStore) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithDeviceRecorder enables device snapshot auditing on session creation.
func WithDeviceRecorder(rec DeviceRecorder) SessionOption {
	return func(s *SessionStore) { s.devices = rec }
}

// NewSessionStore constructs a store bound to the given user directory.
func NewSessionStore(directory UserDirectory, opts ...SessionOption) *SessionStore {
	s := &SessionStore{
		directory: directory,
		now:       time.Now,
		ttl:       DefaultSessionTTL,
		sessions:  make(map[string]*Session),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func newToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate session token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// Create checks the user against the directory and issues a fresh token.
// Returns ErrNotFound for unknown users and ErrUserBanned for banned ones.
func (s *SessionStore) Create(ctx context.Context, userID string, role Role, device DeviceInfo) (string, error) {
	if userID == "" {
		return "", fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}
	if !role.Valid() {
		return "", fmt.Errorf("%w: unknown role %d", ErrInvalidInput, role)
	}

	user, err := s.directory.Find(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if user.Status == UserStatusBanned {
		return "", ErrUserBanned
	}

	token, err := newToken()
	if err != nil {
		return "", err
	}

	now := s.now().UTC()
	sess := &Session{
		Token:        token,
		UserID:       userID,
		Role:         role,
		CreatedAt:    now,
		ExpiresAt:    now.Add(s.ttl),
		LastActivity: now,
		Device:       device,
	}

	s.mu.Lock()
	s.sessions[token] = sess
	active := len(s.sessions)
	s.mu.Unlock()
	obs.SetActiveSessions(active)

	if s.devices != nil {
		// Best-effort audit; a recorder failure must not undo the login.
		if err := s.devices.Record(ctx, userID, device); err != nil {
			obs.Log().Warn().Err(err).Str("user_id", userID).Msg("device record failed")
		}
	}
	return token, nil
}

// Validate resolves a token to its session. Expired entries are evicted
// lazily; the owner's ban status is re-checked against the directory on every
// call so revocation-on-ban needs no background sweeper. The directory lookup
// is one extra read per validated request and runs outside the map lock.
func (s *SessionStore) Validate(ctx context.Context, token string) (*Session, error) {
	if token == "" {
		return nil, ErrTokenNotFound
	}
	now := s.now().UTC()

	s.mu.Lock()
	sess, ok := s.sessions[token]
	if !ok {
		s.mu.Unlock()
		return nil, ErrTokenNotFound
	}
	if sess.Revoked() {
		s.mu.Unlock()
		return nil, ErrTokenRevoked
	}
	if now.After(sess.ExpiresAt) {
		delete(s.sessions, token)
		s.mu.Unlock()
		return nil, ErrTokenExpired
	}
	userID := sess.UserID
	s.mu.Unlock()

	user, err := s.directory.Find(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			s.revokeToken(token)
			return nil, ErrTokenRevoked
		}
		// Fail closed: an unreachable directory never authenticates.
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if user.Status == UserStatusBanned {
		s.revokeToken(token)
		return nil, ErrTokenRevoked
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok = s.sessions[token]
	if !ok {
		return nil, ErrTokenNotFound
	}
	// A revoke that landed while we were talking to the directory must win.
	if sess.Revoked() {
		return nil, ErrTokenRevoked
	}
	sess.LastActivity = now
	out := *sess
	return &out, nil
}

func (s *SessionStore) revokeToken(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[token]; ok && !sess.Revoked() {
		sess.revokedAt = s.now().UTC()
	}
}

// Revoke marks one token revoked. Idempotent; unknown tokens are a no-op.
func (s *SessionStore) Revoke(token string) {
	s.revokeToken(token)
}

// RevokeAll revokes every session held by a user. Called by the admin
// surface on ban, rejection, or credential change. Idempotent.
func (s *SessionStore) RevokeAll(userID string) {
	now := s.now().UTC()
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sess := range s.sessions {
		if sess.UserID == userID && !sess.Revoked() {
			sess.revokedAt = now
		}
	}
}

// ListActive returns a snapshot of live sessions as of the call time.
func (s *SessionStore) ListActive() []Session {
	now := s.now().UTC()
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		if sess.Revoked() || now.After(sess.ExpiresAt) {
			continue
		}
		out = append(out, *sess)
	}
	return out
}

// ListForUser returns the live sessions held by one user.
func (s *SessionStore) ListForUser(userID string) []Session {
	now := s.now().UTC()
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Session
	for _, sess := range s.sessions {
		if sess.UserID != userID || sess.Revoked() || now.After(sess.ExpiresAt) {
			continue
		}
		out = append(out, *sess)
	}
	return out
}

// PurgeExpired drops expired and revoked entries and reports how many were
// removed. Lazy eviction keeps the store correct without it; this exists only
// for memory hygiene and is safe to call from a periodic task.
func (s *SessionStore) PurgeExpired() int {
	now := s.now().UTC()
	s.mu.Lock()
	removed := 0
	for token, sess := range s.sessions {
		if sess.Revoked() || now.After(sess.ExpiresAt) {
			delete(s.sessions, token)
			removed++
		}
	}
	active := len(s.sessions)
	s.mu.Unlock()
	obs.SetActiveSessions(active)
	return removed
}
