package session

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const cookieName = "webmail_session"

// Credential is the provider login held for a browser session. It lives only
// in process memory and must never be logged or returned to the client.
type Credential struct {
	Email    string
	Password string
}

type entry struct {
	cred    Credential
	expires time.Time
}

// Store maps signed session tokens to credentials. Tokens are opaque: the
// cookie carries a random session id plus an HMAC, and the credential itself
// never leaves the server.
type Store struct {
	secret []byte
	maxAge time.Duration

	mu       sync.RWMutex
	sessions map[string]entry
}

func NewStore(secret []byte, maxAge time.Duration) (*Store, error) {
	if len(secret) == 0 {
		generated := make([]byte, 32)
		if _, err := rand.Read(generated); err != nil {
			return nil, fmt.Errorf("generate session secret: %w", err)
		}
		secret = generated
	}
	return &Store{
		secret:   secret,
		maxAge:   maxAge,
		sessions: make(map[string]entry),
	}, nil
}

func (s *Store) CookieName() string {
	return cookieName
}

func (s *Store) MaxAge() time.Duration {
	return s.maxAge
}

// Create registers the credential and returns the signed token for the
// session cookie.
func (s *Store) Create(cred Credential) (string, error) {
	if cred.Email == "" || cred.Password == "" {
		return "", errors.New("credential is incomplete")
	}
	id := uuid.NewString()

	s.mu.Lock()
	s.sessions[id] = entry{cred: cred, expires: time.Now().Add(s.maxAge)}
	s.mu.Unlock()

	token := id + "|" + s.sign(id)
	return base64.RawURLEncoding.EncodeToString([]byte(token)), nil
}

// Lookup resolves a token back to its credential. Expired sessions are
// removed on the way out.
func (s *Store) Lookup(token string) (Credential, bool) {
	id, ok := s.parse(token)
	if !ok {
		return Credential{}, false
	}

	s.mu.RLock()
	e, ok := s.sessions[id]
	s.mu.RUnlock()
	if !ok {
		return Credential{}, false
	}
	if time.Now().After(e.expires) {
		s.mu.Lock()
		delete(s.sessions, id)
		s.mu.Unlock()
		return Credential{}, false
	}
	return e.cred, true
}

// Destroy drops the session. Destroying a missing or malformed token is a
// no-op so logout stays idempotent.
func (s *Store) Destroy(token string) {
	id, ok := s.parse(token)
	if !ok {
		return
	}
	s.mu.Lock()
	delete(s.sessions, id)
	s.mu.Unlock()
}

func (s *Store) parse(token string) (string, bool) {
	if token == "" {
		return "", false
	}
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return "", false
	}
	parts := strings.Split(string(raw), "|")
	if len(parts) != 2 {
		return "", false
	}
	if !s.verify(parts[0], parts[1]) {
		return "", false
	}
	return parts[0], true
}

func (s *Store) sign(payload string) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(payload))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

func (s *Store) verify(payload, signature string) bool {
	expected := s.sign(payload)
	return hmac.Equal([]byte(expected), []byte(signature))
}

// NormalizeEmail lowercases and validates a login address.
func NormalizeEmail(email string) (string, error) {
	trimmed := strings.TrimSpace(strings.ToLower(email))
	if trimmed == "" {
		return "", errors.New("email is required")
	}
	addr, err := mail.ParseAddress(trimmed)
	if err != nil {
		return "", errors.New("email must be a valid address")
	}
	return strings.ToLower(addr.Address), nil
}
