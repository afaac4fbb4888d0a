package access

import (
	"crypto/rand"
	"crypto/subtle"
	"fmt"
	"math/big"
	"sync"
	"time"
)

// DefaultOTPTTL is the challenge lifetime from issuance.
const DefaultOTPTTL = 300 * time.Second

const otpDigits = 6

var otpMax = big.NewInt(1_000_000)

// OTPStore issues and verifies single-use numeric codes. At most one active
// challenge exists per user; issuing a new one replaces the previous.
type OTPStore struct {
	now Clock
	ttl time.Duration

	mu     sync.Mutex
	byUser map[string]*OTPChallenge
}

// OTPOption configures OTPStore behavior.
type OTPOption func(*OTPStore)

// WithOTPClock overrides the time source (useful for tests).
func WithOTPClock(fn Clock) OTPOption {
	return func(s *OTPStore) {
		if fn != nil {
			s.now = fn
		}
	}
}

// WithOTPTTL overrides the challenge lifetime.
func WithOTPTTL(ttl time.Duration) OTPOption {
	return func(s *OTPStore) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// NewOTPStore constructs an empty challenge store.
func NewOTPStore(opts ...OTPOption) *OTPStore {
	s := &OTPStore{
		now:    time.Now,
		ttl:    DefaultOTPTTL,
		byUser: make(map[string]*OTPChallenge),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func newOTPCode() (string, error) {
	n, err := rand.Int(rand.Reader, otpMax)
	if err != nil {
		// No fallback code, ever: an issuance the caller cannot trust is
		// worse than a failed one.
		return "", fmt.Errorf("generate otp code: %w", err)
	}
	return fmt.Sprintf("%0*d", otpDigits, n), nil
}

// Issue creates a fresh challenge for the user, invalidating any prior one.
func (s *OTPStore) Issue(userID string) (string, error) {
	if userID == "" {
		return "", fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}
	code, err := newOTPCode()
	if err != nil {
		return "", err
	}
	now := s.now().UTC()
	s.mu.Lock()
	s.byUser[userID] = &OTPChallenge{
		UserID:    userID,
		Code:      code,
		CreatedAt: now,
		ExpiresAt: now.Add(s.ttl),
	}
	s.mu.Unlock()
	return code, nil
}

// Verify reports whether a non-expired challenge with exactly this code
// exists for the user. A successful match consumes the challenge; a mismatch
// leaves it intact so the user may retry until it expires on its own.
func (s *OTPStore) Verify(userID, code string) bool {
	if userID == "" || code == "" {
		return false
	}
	now := s.now().UTC()
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.byUser[userID]
	if !ok {
		return false
	}
	if now.After(ch.ExpiresAt) {
		delete(s.byUser, userID)
		return false
	}
	if subtle.ConstantTimeCompare([]byte(ch.Code), []byte(code)) != 1 {
		return false
	}
	delete(s.byUser, userID)
	return true
}

// GetActive returns the user's live challenge, if any.
func (s *OTPStore) GetActive(userID string) (OTPChallenge, bool) {
	now := s.now().UTC()
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.byUser[userID]
	if !ok {
		return OTPChallenge{}, false
	}
	if now.After(ch.ExpiresAt) {
		delete(s.byUser, userID)
		return OTPChallenge{}, false
	}
	return *ch, true
}

// Invalidate drops the user's challenge regardless of state. Idempotent.
func (s *OTPStore) Invalidate(userID string) {
	s.mu.Lock()
	delete(s.byUser, userID)
	s.mu.Unlock()
}
