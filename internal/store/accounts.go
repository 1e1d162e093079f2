package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"gwi.com/chat-ledger/internal/apperr"
)

// CreateUser inserts a user whose password has already been hashed.
func (s *SQLStore) CreateUser(ctx context.Context, name, email, passwordHash string) (*User, error) {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		"INSERT INTO users (name, email, password_hash, created_at) VALUES (?, ?, ?, ?)",
		name, email, passwordHash, now)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, apperr.ErrDuplicateEmail
		}
		return nil, dbFailure("insert user", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, dbFailure("read user id", err)
	}
	return &User{ID: id, Name: name, Email: email, PasswordHash: passwordHash, CreatedAt: now}, nil
}

// GetUserByEmail returns nil, nil when no user has the email.
func (s *SQLStore) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	return s.scanUser(s.db.QueryRowContext(ctx,
		"SELECT id, name, email, password_hash, created_at FROM users WHERE email = ?", email))
}

// GetUserByID returns nil, nil when the user does not exist.
func (s *SQLStore) GetUserByID(ctx context.Context, id int64) (*User, error) {
	return s.scanUser(s.db.QueryRowContext(ctx,
		"SELECT id, name, email, password_hash, created_at FROM users WHERE id = ?", id))
}

func (s *SQLStore) scanUser(row *sql.Row) (*User, error) {
	var user User
	err := row.Scan(&user.ID, &user.Name, &user.Email, &user.PasswordHash, &user.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // User not found
		}
		return nil, dbFailure("query user", err)
	}
	return &user, nil
}

// CreateSession persists an issued session token.
func (s *SQLStore) CreateSession(ctx context.Context, session *Session) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO user_sessions (user_id, session_token, ip_address, user_agent, created_at, expires_at) VALUES (?, ?, ?, ?, ?, ?)",
		session.UserID, session.Token, emptyToNull(session.IPAddress), emptyToNull(session.UserAgent),
		session.CreatedAt, session.ExpiresAt)
	if err != nil {
		return dbFailure("insert session", err)
	}
	return nil
}

// GetSession returns nil, nil for an unknown token. Expiry is checked by the caller.
func (s *SQLStore) GetSession(ctx context.Context, token string) (*Session, error) {
	var session Session
	var ip, agent sql.NullString
	err := s.db.QueryRowContext(ctx,
		"SELECT session_token, user_id, ip_address, user_agent, created_at, expires_at FROM user_sessions WHERE session_token = ?",
		token).Scan(&session.Token, &session.UserID, &ip, &agent, &session.CreatedAt, &session.ExpiresAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, dbFailure("query session", err)
	}
	session.IPAddress = ip.String
	session.UserAgent = agent.String
	return &session, nil
}

// InsertSecurityEvent appends to security_logs. Rows are never updated.
func (s *SQLStore) InsertSecurityEvent(ctx context.Context, event *SecurityEvent) error {
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	res, err := s.db.ExecContext(ctx,
		"INSERT INTO security_logs (user_id, event_type, event_desc, ip_address, created_at) VALUES (?, ?, ?, ?, ?)",
		event.UserID, event.EventType, event.Description, emptyToNull(event.IPAddress), event.CreatedAt)
	if err != nil {
		return dbFailure("insert security event", err)
	}
	event.ID, _ = res.LastInsertId()
	return nil
}

// ListSecurityEvents returns a user's events, oldest first.
func (s *SQLStore) ListSecurityEvents(ctx context.Context, userID int64) ([]SecurityEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, user_id, event_type, event_desc, ip_address, created_at FROM security_logs WHERE user_id = ? ORDER BY id ASC",
		userID)
	if err != nil {
		return nil, dbFailure("query security events", err)
	}
	defer rows.Close()

	var events []SecurityEvent
	for rows.Next() {
		var ev SecurityEvent
		var desc, ip sql.NullString
		if err := rows.Scan(&ev.ID, &ev.UserID, &ev.EventType, &desc, &ip, &ev.CreatedAt); err != nil {
			return nil, dbFailure("scan security event", err)
		}
		ev.Description = desc.String
		ev.IPAddress = ip.String
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, dbFailure("iterate security events", err)
	}
	return events, nil
}

func emptyToNull(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
