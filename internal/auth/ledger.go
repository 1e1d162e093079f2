package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"gwi.com/chat-ledger/internal/apperr"
	"gwi.com/chat-ledger/internal/store"
)

// Security event kinds written to security_logs.
const (
	EventLoginSuccess      = "login_success"
	EventLoginFailed       = "login_failed"
	EventAccountCreated    = "account_created"
	EventLogout            = "logout"
	EventDatabaseConnected = "database_connected"
)

const (
	DefaultSessionTTL = 24 * time.Hour
	tokenBytes        = 32 // hex-encoded to 64 characters
)

type SessionRepository interface {
	CreateSession(ctx context.Context, session *store.Session) error
	GetSession(ctx context.Context, token string) (*store.Session, error)
	InsertSecurityEvent(ctx context.Context, event *store.SecurityEvent) error
}

// ClientMeta describes where a request came from. Both fields are optional.
type ClientMeta struct {
	IP        string
	UserAgent string
}

// Ledger issues session tokens and keeps the security audit log.
type Ledger struct {
	repo SessionRepository
	ttl  time.Duration
	now  func() time.Time
}

func NewLedger(repo SessionRepository, ttl time.Duration) *Ledger {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &Ledger{repo: repo, ttl: ttl, now: time.Now}
}

// Login issues a session for an authenticated user and records login_success.
func (l *Ledger) Login(ctx context.Context, userID int64, meta ClientMeta) (*store.Session, error) {
	session, err := l.IssueSession(ctx, userID, meta)
	if err != nil {
		return nil, err
	}
	l.LogSecurityEvent(ctx, userID, EventLoginSuccess, "User logged in successfully", meta.IP)
	return session, nil
}

// IssueSession creates and persists a new token without writing an audit event.
func (l *Ledger) IssueSession(ctx context.Context, userID int64, meta ClientMeta) (*store.Session, error) {
	token, err := newToken()
	if err != nil {
		return nil, fmt.Errorf("failed to generate session token: %w", err)
	}
	now := l.now().UTC()
	session := &store.Session{
		Token:     token,
		UserID:    userID,
		IPAddress: meta.IP,
		UserAgent: meta.UserAgent,
		CreatedAt: now,
		ExpiresAt: now.Add(l.ttl),
	}
	if err := l.repo.CreateSession(ctx, session); err != nil {
		return nil, err
	}
	return session, nil
}

// Validate resolves a token to its user. Unknown and expired tokens are
// indistinguishable to the caller.
func (l *Ledger) Validate(ctx context.Context, token string) (int64, error) {
	if len(token) != 2*tokenBytes {
		return 0, apperr.ErrInvalidCredentials
	}
	session, err := l.repo.GetSession(ctx, token)
	if err != nil {
		return 0, err
	}
	if session == nil || !l.now().Before(session.ExpiresAt) {
		return 0, apperr.ErrInvalidCredentials
	}
	return session.UserID, nil
}

// LogSecurityEvent appends an audit record. Failures are logged and never
// returned, so the caller's primary action always proceeds.
func (l *Ledger) LogSecurityEvent(ctx context.Context, userID int64, kind, description, ip string) {
	event := &store.SecurityEvent{
		UserID:      userID,
		EventType:   kind,
		Description: description,
		IPAddress:   ip,
		CreatedAt:   l.now().UTC(),
	}
	if err := l.repo.InsertSecurityEvent(ctx, event); err != nil {
		logrus.WithError(err).WithFields(logrus.Fields{
			"user_id":    userID,
			"event_type": kind,
		}).Error("Failed to record security event")
	}
}

func newToken() (string, error) {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
