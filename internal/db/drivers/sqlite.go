package drivers

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"

	_ "github.com/tursodatabase/libsql-client-go/libsql"
)

type SQLiteDriver struct {
	db *bun.DB
}

// NewSQLiteDriver opens a local SQLite database through sqliteshim.
func NewSQLiteDriver(ctx context.Context, dsn string) (*SQLiteDriver, error) {
	return openSQLite(ctx, sqliteshim.ShimName, dsn)
}

// NewLibSQLDriver opens a remote libsql (Turso) database.
func NewLibSQLDriver(ctx context.Context, dsn string) (*SQLiteDriver, error) {
	return openSQLite(ctx, "libsql", dsn)
}

func openSQLite(ctx context.Context, name, dsn string) (*SQLiteDriver, error) {
	sqldb, err := sql.Open(name, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", name, err)
	}

	// every connection to ":memory:" is a separate database
	if strings.Contains(dsn, ":memory:") || strings.Contains(dsn, "mode=memory") {
		sqldb.SetMaxOpenConns(1)
		sqldb.SetConnMaxLifetime(0)
	}

	if err := sqldb.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to connect to %s database: %w", name, err)
	}

	return &SQLiteDriver{db: bun.NewDB(sqldb, sqlitedialect.New())}, nil
}

func (d *SQLiteDriver) GetDB() *bun.DB {
	return d.db
}

func (d *SQLiteDriver) Close() error {
	return d.db.Close()
}
