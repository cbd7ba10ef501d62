package db

import (
	"database/sql"
	"errors"
	"strings"

	"github.com/XSAM/otelsql"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
	"go.opentelemetry.io/otel/attribute"
)

// Open opens a traced Postgres connection using the given DSN. Caller must call Close when done.
func Open(dsn string) (*sql.DB, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.New("db: postgres DSN is empty")
	}
	db, err := otelsql.Open("pgx", dsn, otelsql.WithAttributes(attribute.String("db.system", "postgresql")))
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// OpenSQLite opens a traced SQLite database at path. The pool is limited to one connection
// so writes are serialized by the database itself.
func OpenSQLite(path string) (*sql.DB, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("db: sqlite path is empty")
	}
	db, err := otelsql.Open("sqlite3", SQLiteDSN(path), otelsql.WithAttributes(attribute.String("db.system", "sqlite")))
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// SQLiteDSN adds the connection options the repository depends on to a bare file path.
func SQLiteDSN(path string) string {
	if strings.Contains(path, "?") {
		return path
	}
	return "file:" + path + "?_foreign_keys=on&_busy_timeout=5000&_journal_mode=WAL"
}
