// Package auth implements the admin authentication boundary: email/password
// sign-in, opaque session tokens, current-user resolution and sign-out. The
// customer widget is unauthenticated; only the admin dashboard signs in.
package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/Rnbprasad1/ChatSupport/internal/session"
)

var (
	ErrInvalidCredentials = errors.New("auth: invalid email or password")
	ErrInvalidToken       = errors.New("auth: invalid or expired token")
)

// burnHash is a well-formed bcrypt hash compared against on unknown emails.
// A malformed literal would fail the length check before doing any work.
var burnHash = func() []byte {
	hash, err := bcrypt.GenerateFromPassword([]byte("burn-comparison-input"), bcrypt.DefaultCost)
	if err != nil {
		panic(err)
	}
	return hash
}()

// User is the signed-in identity attached to admin requests.
type User struct {
	Email string `json:"email"`
	Name  string `json:"name"`
}

// SessionStore persists issued tokens; see session.RedisStore.
type SessionStore interface {
	Save(ctx context.Context, token string, record session.Record, ttl time.Duration) error
	Lookup(ctx context.Context, token string) (session.Record, error)
	Revoke(ctx context.Context, token string) error
}

// Credential is one admin account: email plus bcrypt password hash.
type Credential struct {
	Email        string
	Name         string
	PasswordHash string
}

// HashPassword bcrypt-hashes a plaintext password, for seeding credentials.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

// Provider validates credentials and manages session tokens.
type Provider struct {
	credentials map[string]Credential // keyed by lowercased email
	sessions    SessionStore
	ttl         time.Duration
}

// NewProvider creates a provider over a fixed credential set and a session
// store. ttl bounds how long a sign-in stays valid.
func NewProvider(credentials []Credential, sessions SessionStore, ttl time.Duration) *Provider {
	byEmail := make(map[string]Credential, len(credentials))
	for _, cred := range credentials {
		byEmail[strings.ToLower(strings.TrimSpace(cred.Email))] = cred
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Provider{credentials: byEmail, sessions: sessions, ttl: ttl}
}

// SignIn checks the password and issues an opaque session token.
func (p *Provider) SignIn(ctx context.Context, email, password string) (string, User, error) {
	cred, ok := p.credentials[strings.ToLower(strings.TrimSpace(email))]
	if !ok {
		// Burn a full comparison anyway so unknown emails cost the same.
		_ = bcrypt.CompareHashAndPassword(burnHash, []byte(password))
		return "", User{}, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(cred.PasswordHash), []byte(password)); err != nil {
		return "", User{}, ErrInvalidCredentials
	}

	token := newToken()
	record := session.Record{Email: cred.Email, Name: cred.Name}
	if err := p.sessions.Save(ctx, token, record, p.ttl); err != nil {
		return "", User{}, fmt.Errorf("save session: %w", err)
	}
	return token, User{Email: cred.Email, Name: cred.Name}, nil
}

// CurrentUser resolves a token to the signed-in admin, ErrInvalidToken when
// the token is unknown, revoked or expired.
func (p *Provider) CurrentUser(ctx context.Context, token string) (User, error) {
	if token == "" {
		return User{}, ErrInvalidToken
	}
	record, err := p.sessions.Lookup(ctx, token)
	if errors.Is(err, session.ErrNotFound) {
		return User{}, ErrInvalidToken
	}
	if err != nil {
		return User{}, fmt.Errorf("lookup session: %w", err)
	}
	return User{Email: record.Email, Name: record.Name}, nil
}

// SignOut revokes a token. Signing out twice is a no-op.
func (p *Provider) SignOut(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	return p.sessions.Revoke(ctx, token)
}

func newToken() string {
	buf := make([]byte, 32)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}
