package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/go-sql-driver/mysql"
	"github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"
	"gwi.com/chat-ledger/internal/apperr"
)

const (
	DriverSQLite = "sqlite3"
	DriverMySQL  = "mysql"
)

// SQLStore is the application's own relational store. Every method runs as an
// independently committed statement on the pooled connection.
type SQLStore struct {
	db     *sql.DB
	driver string
}

// Open connects to the application store and creates missing tables.
func Open(driver, dataSourceName string) (*SQLStore, error) {
	dsn, err := dataSourceFor(driver, dataSourceName)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err = db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := &SQLStore{db: db, driver: driver}
	if err = store.initSchema(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	logrus.WithField("driver", driver).Info("Application store ready")
	return store, nil
}

// dataSourceFor validates the driver and, for MySQL, turns on parseTime so
// timestamp columns scan into time.Time.
func dataSourceFor(driver, dataSourceName string) (string, error) {
	switch driver {
	case DriverSQLite:
		return dataSourceName, nil
	case DriverMySQL:
		cfg, err := mysql.ParseDSN(dataSourceName)
		if err != nil {
			return "", fmt.Errorf("invalid mysql dsn: %w", err)
		}
		cfg.ParseTime = true
		return cfg.FormatDSN(), nil
	default:
		return "", fmt.Errorf("unsupported driver %q", driver)
	}
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLStore) initSchema(ctx context.Context) error {
	statements := sqliteSchema
	if s.driver == DriverMySQL {
		statements = mysqlSchema
	}
	// MySQL rejects multi-statement Exec unless the DSN opts in, so run them one by one.
	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// dbFailure tags an unexpected driver error with apperr.ErrDbFailure.
func dbFailure(op string, err error) error {
	return fmt.Errorf("%w: failed to %s: %w", apperr.ErrDbFailure, op, err)
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
	}
	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) {
		return mysqlErr.Number == 1062
	}
	return false
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullInt(i *int) sql.NullInt64 {
	if i == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*i), Valid: true}
}

func fromNullString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

func fromNullInt(ni sql.NullInt64) *int {
	if !ni.Valid {
		return nil
	}
	i := int(ni.Int64)
	return &i
}
