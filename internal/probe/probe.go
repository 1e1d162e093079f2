// Package probe checks connectivity to a user's own MySQL database. Connection
// details are never written to the application store.
package probe

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/sirupsen/logrus"
	"gwi.com/chat-ledger/internal/apperr"
)

const DefaultTimeout = 5 * time.Second

// Target is a user-supplied database the generation pipeline can query.
type Target struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"username"`
	Password string `json:"-"`
	Database string `json:"database"`
}

// Validate requires every field, matching the connect form.
func (t Target) Validate() error {
	if strings.TrimSpace(t.Host) == "" || t.User == "" || t.Password == "" || strings.TrimSpace(t.Database) == "" {
		return fmt.Errorf("%w: host, username, password and database are required", apperr.ErrInvalidInput)
	}
	if t.Port <= 0 || t.Port > 65535 {
		return fmt.Errorf("%w: port %d out of range", apperr.ErrInvalidInput, t.Port)
	}
	return nil
}

// DSN renders the go-sql-driver connection string.
func (t Target) DSN(timeout time.Duration) string {
	cfg := mysql.NewConfig()
	cfg.User = t.User
	cfg.Passwd = t.Password
	cfg.Net = "tcp"
	cfg.Addr = net.JoinHostPort(t.Host, strconv.Itoa(t.Port))
	cfg.DBName = t.Database
	cfg.Timeout = timeout
	cfg.ReadTimeout = timeout
	cfg.ParseTime = true
	cfg.Params = map[string]string{"charset": "utf8mb4"}
	return cfg.FormatDSN()
}

// String is safe to log: the password is never included.
func (t Target) String() string {
	return fmt.Sprintf("mysql://%s@%s/%s", t.User, net.JoinHostPort(t.Host, strconv.Itoa(t.Port)), t.Database)
}

type Result struct {
	OK         bool     `json:"ok"`
	TableCount int      `json:"table_count"`
	Tables     []string `json:"tables"`
}

type Prober struct {
	timeout time.Duration
}

func NewProber(timeout time.Duration) *Prober {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Prober{timeout: timeout}
}

// TestConnection opens a connection, lists the tables and closes it again.
func (p *Prober) TestConnection(ctx context.Context, target Target) (*Result, error) {
	if err := target.Validate(); err != nil {
		return nil, err
	}
	tables, err := p.ListTables(ctx, target)
	if err != nil {
		logrus.WithError(err).WithField("target", target.String()).Warn("Database probe failed")
		return nil, err
	}
	logrus.WithFields(logrus.Fields{
		"target":      target.String(),
		"table_count": len(tables),
	}).Info("Database probe succeeded")
	return &Result{OK: true, TableCount: len(tables), Tables: tables}, nil
}

// ListTables returns the table names of the target database.
func (p *Prober) ListTables(ctx context.Context, target Target) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	db, err := sql.Open("mysql", target.DSN(p.timeout))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", apperr.ErrConnectionFailed, err)
	}
	defer db.Close()
	db.SetMaxOpenConns(1)

	rows, err := db.QueryContext(ctx, "SHOW TABLES")
	if err != nil {
		return nil, fmt.Errorf("%w: %w", apperr.ErrConnectionFailed, err)
	}
	defer rows.Close()

	tables := []string{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("%w: %w", apperr.ErrConnectionFailed, err)
		}
		tables = append(tables, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", apperr.ErrConnectionFailed, err)
	}
	return tables, nil
}
