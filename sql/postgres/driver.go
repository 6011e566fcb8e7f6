// Copyright 2021-present The Atlas Authors. All rights reserved.
// This source code is licensed under the Apache 2.0 license found
// in the LICENSE file in the root directory of this source tree.

package postgres

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"net/url"
	"time"

	"github.com/cjwang/nHydrate/sql/internal/sqlx"
	"github.com/cjwang/nHydrate/sql/migrate"
	"github.com/cjwang/nHydrate/sql/schema"
	"github.com/cjwang/nHydrate/sql/sqlclient"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" database/sql driver.
	"github.com/lib/pq"
)

const (
	// DriverName holds the name used for registration.
	DriverName = "postgres"
	// PGXName holds the name of the pgx based driver.
	PGXName = "pgx"
)

func init() {
	sqlclient.Register(
		DriverName,
		sqlclient.DriverOpener(Open, DSN),
		sqlclient.RegisterFlavours("postgresql"),
	)
	sqlclient.Register(PGXName, sqlclient.DriverOpener(Open, DSN, PGXName))
}

// Driver represents a PostgreSQL driver for keeping the version ledger,
// provisioning databases and obtaining advisory locks.
type Driver struct {
	schema.ExecQuerier
}

var (
	_ migrate.Driver    = (*Driver)(nil)
	_ sqlclient.Creator = (*Driver)(nil)
	_ schema.Locker     = (*Driver)(nil)
)

// Open opens a new PostgreSQL driver.
func Open(db schema.ExecQuerier) (migrate.Driver, error) {
	return &Driver{ExecQuerier: db}, nil
}

// DSN returns the data source name of the given URL. Both lib/pq
// and pgx accept the postgres:// URL format.
func DSN(u *url.URL) string {
	c := *u
	c.Scheme = "postgres"
	return c.String()
}

// Ledger returns the version ledger kept in the given table.
func (d *Driver) Ledger(table string) migrate.Ledger {
	return sqlx.NewLedger(table, dialect{})
}

// DatabaseExists implements the sqlclient.Creator interface.
func (d *Driver) DatabaseExists(ctx context.Context, name string) (bool, error) {
	var n int
	if err := d.QueryRowContext(ctx, "SELECT COUNT(*) FROM pg_database WHERE datname = $1", name).Scan(&n); err != nil {
		return false, fmt.Errorf("postgres: check database existence: %w", err)
	}
	return n > 0, nil
}

// CreateDatabase implements the sqlclient.Creator interface.
func (d *Driver) CreateDatabase(ctx context.Context, name string) error {
	_, err := d.ExecContext(ctx, "CREATE DATABASE "+dialect{}.Quote(name))
	return err
}

// DropDatabase implements the sqlclient.Creator interface.
func (d *Driver) DropDatabase(ctx context.Context, name string) error {
	_, err := d.ExecContext(ctx, "DROP DATABASE IF EXISTS "+dialect{}.Quote(name))
	return err
}

// DatabaseURL implements the sqlclient.Creator interface.
func (d *Driver) DatabaseURL(master *url.URL, name string) (*url.URL, error) {
	u := *master
	u.Path, u.RawPath = "/"+name, ""
	return &u, nil
}

// Lock implements the schema.Locker interface.
func (d *Driver) Lock(ctx context.Context, name string, timeout time.Duration) (schema.UnlockFunc, error) {
	conn, err := sqlx.SingleConn(ctx, d.ExecQuerier)
	if err != nil {
		return nil, err
	}
	h := fnv.New32()
	h.Write([]byte(name))
	id := h.Sum32()
	if err := acquire(ctx, conn, id, timeout); err != nil {
		conn.Close()
		return nil, err
	}
	return func() error {
		defer conn.Close()
		rows, err := conn.QueryContext(context.WithoutCancel(ctx), "SELECT pg_advisory_unlock($1)", id)
		if err != nil {
			return err
		}
		switch released, err := sqlx.ScanNullBool(rows); {
		case err != nil:
			return err
		case !released.Valid || !released.Bool:
			return fmt.Errorf("sql/postgres: failed releasing lock %d", id)
		}
		return nil
	}, nil
}

func acquire(ctx context.Context, conn schema.ExecQuerier, id uint32, timeout time.Duration) error {
	switch {
	// With timeout (context-based).
	case timeout > 0:
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
		fallthrough
	// Infinite timeout.
	case timeout < 0:
		rows, err := conn.QueryContext(ctx, "SELECT pg_advisory_lock($1)", id)
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			err = schema.ErrLocked
		}
		if err != nil {
			return err
		}
		return rows.Close()
	// No timeout.
	default:
		rows, err := conn.QueryContext(ctx, "SELECT pg_try_advisory_lock($1)", id)
		if err != nil {
			return err
		}
		acquired, err := sqlx.ScanNullBool(rows)
		if err != nil {
			return err
		}
		if !acquired.Bool {
			return schema.ErrLocked
		}
		return nil
	}
}

type dialect struct{}

func (dialect) Placeholder(i int) string { return fmt.Sprintf("$%d", i) }

func (dialect) Quote(s string) string { return sqlx.QuoteWith(s, `"`, `"`) }

func (d dialect) CreateLedger(table string) string {
	return "CREATE TABLE IF NOT EXISTS " + d.Quote(table) + ` (
  version varchar(255) NOT NULL PRIMARY KEY,
  description text NOT NULL DEFAULT '',
  signature varchar(128) NOT NULL,
  applied_at bigint NOT NULL,
  execution_time bigint NOT NULL DEFAULT 0,
  run_id varchar(64) NOT NULL DEFAULT '',
  operator_version varchar(64) NOT NULL DEFAULT ''
)`
}

func (dialect) LedgerExists(table string) (string, []any) {
	s, t := sqlx.SplitTable(table)
	if s == "" {
		return "SELECT COUNT(*) FROM information_schema.tables WHERE table_schema = current_schema() AND table_name = $1", []any{t}
	}
	return "SELECT COUNT(*) FROM information_schema.tables WHERE table_schema = $1 AND table_name = $2", []any{s, t}
}

// codeUniqueViolation is the SQLSTATE of unique_violation.
const codeUniqueViolation = "23505"

func (dialect) IsUniqueViolation(err error) bool {
	var (
		pqErr  *pq.Error
		pgxErr *pgconn.PgError
	)
	switch {
	case errors.As(err, &pqErr):
		return pqErr.Code == codeUniqueViolation
	case errors.As(err, &pgxErr):
		return pgxErr.Code == codeUniqueViolation
	}
	return false
}
