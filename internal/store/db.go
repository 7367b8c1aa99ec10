package store

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const migrationsDir = "migrations"

// Dialect identifies the SQL flavour behind a DB.
type Dialect int

const (
	DialectSQLite Dialect = iota
	DialectPostgres
)

func (d Dialect) String() string {
	if d == DialectPostgres {
		return "postgres"
	}
	return "sqlite"
}

func (d Dialect) driver() string {
	if d == DialectPostgres {
		return "pgx"
	}
	return "sqlite"
}

func (d Dialect) gooseDialect() string {
	if d == DialectPostgres {
		return "postgres"
	}
	return "sqlite3"
}

func (d Dialect) like() string {
	if d == DialectPostgres {
		return "ILIKE"
	}
	return "LIKE"
}

// rebind rewrites ? placeholders into the dialect's bind syntax.
func (d Dialect) rebind(query string) string {
	if d != DialectPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

// DialectFor picks the dialect for a DSN. postgres:// and postgresql:// URLs
// use pgx; anything else is treated as a SQLite path.
func DialectFor(dsn string) Dialect {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return DialectPostgres
	}
	return DialectSQLite
}

// DB is an open, migrated database along with its dialect.
type DB struct {
	*sql.DB
	dialect Dialect
}

// Open opens the database at dsn, configures it and runs migrations.
func Open(ctx context.Context, dsn string, logger *slog.Logger) (*DB, error) {
	d := DialectFor(dsn)
	sqlDB, err := sql.Open(d.driver(), dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if d == DialectSQLite {
		// A single connection keeps :memory: databases and per-connection
		// pragmas consistent.
		sqlDB.SetMaxOpenConns(1)
		for _, pragma := range []string{
			"PRAGMA journal_mode=WAL",
			"PRAGMA busy_timeout = 5000",
			"PRAGMA foreign_keys = ON",
		} {
			if _, err := sqlDB.ExecContext(ctx, pragma); err != nil {
				sqlDB.Close()
				return nil, fmt.Errorf("set %q: %w", pragma, err)
			}
		}
	}

	if err := sqlDB.PingContext(ctx); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	db := &DB{DB: sqlDB, dialect: d}
	if err := db.migrate(ctx, logger); err != nil {
		sqlDB.Close()
		return nil, err
	}
	return db, nil
}

// Dialect returns the SQL dialect of the database.
func (db *DB) Dialect() Dialect {
	return db.dialect
}

// Tasks returns a task store bound to the connection pool.
func (db *DB) Tasks() *Tasks {
	return NewTasks(db.DB, db.dialect)
}

// Scripts returns a script store bound to the connection pool.
func (db *DB) Scripts() *Scripts {
	return NewScripts(db.DB, db.dialect)
}

// InTx runs fn inside a transaction on the database.
func (db *DB) InTx(ctx context.Context, fn TxFn) error {
	return RunInTransaction(ctx, db.DB, fn)
}

// goose keeps its configuration in package globals.
var gooseMu sync.Mutex

func (db *DB) migrate(ctx context.Context, logger *slog.Logger) error {
	gooseMu.Lock()
	defer gooseMu.Unlock()

	goose.SetBaseFS(migrationsFS)
	goose.SetLogger(&slogGooseLogger{logger: logger})
	if err := goose.SetDialect(db.dialect.gooseDialect()); err != nil {
		return fmt.Errorf("set migration dialect: %w", err)
	}
	if err := goose.UpContext(ctx, db.DB, migrationsDir); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

// slogGooseLogger forwards goose output to slog.
type slogGooseLogger struct {
	logger *slog.Logger
}

func (l *slogGooseLogger) Printf(format string, v ...any) {
	l.logger.Debug(strings.TrimSpace(fmt.Sprintf(format, v...)), "component", "migrations")
}

func (l *slogGooseLogger) Fatalf(format string, v ...any) {
	l.logger.Error(strings.TrimSpace(fmt.Sprintf(format, v...)), "component", "migrations")
}
