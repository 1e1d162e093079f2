package auth

import (
	"context"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
	"gwi.com/chat-ledger/internal/apperr"
	"gwi.com/chat-ledger/internal/store"
)

type UserRepository interface {
	CreateUser(ctx context.Context, name, email, passwordHash string) (*store.User, error)
	GetUserByEmail(ctx context.Context, email string) (*store.User, error)
}

// Credentials creates users and checks their passwords.
type Credentials struct {
	users  UserRepository
	ledger *Ledger
}

func NewCredentials(users UserRepository, ledger *Ledger) *Credentials {
	return &Credentials{users: users, ledger: ledger}
}

var (
	dummyHashOnce sync.Once
	dummyHash     string
)

// timingHash is compared against when the email is unknown, so both failure
// paths cost one bcrypt comparison.
func timingHash() string {
	dummyHashOnce.Do(func() {
		dummyHash, _ = HashPassword("chat-ledger-placeholder")
	})
	return dummyHash
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// CreateUser registers a new account and records account_created.
func (c *Credentials) CreateUser(ctx context.Context, name, email, password, ip string) (*store.User, error) {
	name = strings.TrimSpace(name)
	email = normalizeEmail(email)
	if name == "" || email == "" || password == "" {
		return nil, apperr.ErrInvalidInput
	}

	existing, err := c.users.GetUserByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, apperr.ErrDuplicateEmail
	}

	hash, err := HashPassword(password)
	if err != nil {
		return nil, err
	}
	user, err := c.users.CreateUser(ctx, name, email, hash)
	if err != nil {
		return nil, err
	}

	c.ledger.LogSecurityEvent(ctx, user.ID, EventAccountCreated, "New account created", ip)
	return user, nil
}

// Authenticate returns apperr.ErrInvalidCredentials for both an unknown email
// and a wrong password. Failures against a known account are audited.
func (c *Credentials) Authenticate(ctx context.Context, email, password, ip string) (*store.User, error) {
	email = normalizeEmail(email)
	user, err := c.users.GetUserByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if user == nil {
		CheckPasswordHash(password, timingHash())
		logrus.WithField("ip", ip).Info("Login attempt for unknown email")
		return nil, apperr.ErrInvalidCredentials
	}
	if !CheckPasswordHash(password, user.PasswordHash) {
		c.ledger.LogSecurityEvent(ctx, user.ID, EventLoginFailed, "Failed login attempt", ip)
		return nil, apperr.ErrInvalidCredentials
	}
	return user, nil
}
