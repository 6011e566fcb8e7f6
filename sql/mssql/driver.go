// Copyright 2021-present The Atlas Authors. All rights reserved.
// This source code is licensed under the Apache 2.0 license found
// in the LICENSE file in the root directory of this source tree.

package mssql

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/cjwang/nHydrate/sql/internal/sqlx"
	"github.com/cjwang/nHydrate/sql/migrate"
	"github.com/cjwang/nHydrate/sql/schema"
	"github.com/cjwang/nHydrate/sql/sqlclient"

	mssql "github.com/microsoft/go-mssqldb"
)

// DriverName holds the name used for registration.
const DriverName = "sqlserver"

func init() {
	sqlclient.Register(
		DriverName,
		sqlclient.DriverOpener(Open, DSN),
		sqlclient.RegisterFlavours("mssql"),
	)
}

// Driver represents a SQL Server driver for keeping the version ledger,
// provisioning databases and obtaining application locks.
type Driver struct {
	schema.ExecQuerier
}

var (
	_ migrate.Driver    = (*Driver)(nil)
	_ sqlclient.Creator = (*Driver)(nil)
	_ schema.Locker     = (*Driver)(nil)
)

// Open opens a new SQL Server driver.
func Open(db schema.ExecQuerier) (migrate.Driver, error) {
	return &Driver{ExecQuerier: db}, nil
}

// DSN returns the data source name of the given URL.
// The "mssql" flavour is accepted as an alias of "sqlserver".
func DSN(u *url.URL) string {
	c := *u
	c.Scheme = DriverName
	return c.String()
}

// Ledger returns the version ledger kept in the given table.
func (d *Driver) Ledger(table string) migrate.Ledger {
	return sqlx.NewLedger(table, dialect{})
}

// DatabaseExists implements the sqlclient.Creator interface.
func (d *Driver) DatabaseExists(ctx context.Context, name string) (bool, error) {
	var n int
	if err := d.QueryRowContext(ctx, "SELECT COUNT(*) FROM sys.databases WHERE name = @p1", name).Scan(&n); err != nil {
		return false, fmt.Errorf("mssql: check database existence: %w", err)
	}
	return n > 0, nil
}

// CreateDatabase implements the sqlclient.Creator interface.
func (d *Driver) CreateDatabase(ctx context.Context, name string) error {
	_, err := d.ExecContext(ctx, "CREATE DATABASE "+dialect{}.Quote(name))
	return err
}

// DropDatabase implements the sqlclient.Creator interface. Open
// sessions of the database are terminated before it is dropped.
func (d *Driver) DropDatabase(ctx context.Context, name string) error {
	q := dialect{}.Quote(name)
	_, err := d.ExecContext(ctx, fmt.Sprintf(
		"IF DB_ID(%s) IS NOT NULL BEGIN ALTER DATABASE %s SET SINGLE_USER WITH ROLLBACK IMMEDIATE; DROP DATABASE %s; END",
		sqlx.SingleQuote(name), q, q,
	))
	return err
}

// DatabaseURL implements the sqlclient.Creator interface.
func (d *Driver) DatabaseURL(master *url.URL, name string) (*url.URL, error) {
	u := *master
	q := u.Query()
	q.Set("database", name)
	u.RawQuery = q.Encode()
	return &u, nil
}

// Lock implements the schema.Locker interface using session-owned
// application locks.
func (d *Driver) Lock(ctx context.Context, name string, timeout time.Duration) (schema.UnlockFunc, error) {
	conn, err := sqlx.SingleConn(ctx, d.ExecQuerier)
	if err != nil {
		return nil, err
	}
	ms := int64(-1)
	if timeout >= 0 {
		ms = timeout.Milliseconds()
	}
	var r int
	err = conn.QueryRowContext(
		ctx,
		"DECLARE @r int; EXEC @r = sp_getapplock @Resource = @p1, @LockMode = 'Exclusive', @LockOwner = 'Session', @LockTimeout = @p2; SELECT @r",
		name, ms,
	).Scan(&r)
	switch {
	case err != nil:
		conn.Close()
		return nil, err
	// -1 means the request timed out.
	case r == -1:
		conn.Close()
		return nil, schema.ErrLocked
	case r < 0:
		conn.Close()
		return nil, fmt.Errorf("sql/mssql: sp_getapplock returned %d for lock %q", r, name)
	}
	return func() error {
		defer conn.Close()
		var r int
		if err := conn.QueryRowContext(
			context.WithoutCancel(ctx),
			"DECLARE @r int; EXEC @r = sp_releaseapplock @Resource = @p1, @LockOwner = 'Session'; SELECT @r",
			name,
		).Scan(&r); err != nil {
			return err
		}
		if r != 0 {
			return fmt.Errorf("sql/mssql: failed releasing lock %q", name)
		}
		return nil
	}, nil
}

type dialect struct{}

func (dialect) Placeholder(i int) string { return fmt.Sprintf("@p%d", i) }

func (dialect) Quote(s string) string { return sqlx.QuoteWith(s, "[", "]") }

func (d dialect) CreateLedger(table string) string {
	return "IF OBJECT_ID(N" + sqlx.SingleQuote(d.Quote(table)) + ", N'U') IS NULL\nCREATE TABLE " + d.Quote(table) + ` (
  version nvarchar(255) NOT NULL PRIMARY KEY,
  description nvarchar(1024) NOT NULL DEFAULT '',
  signature nvarchar(128) NOT NULL,
  applied_at bigint NOT NULL,
  execution_time bigint NOT NULL DEFAULT 0,
  run_id nvarchar(64) NOT NULL DEFAULT '',
  operator_version nvarchar(64) NOT NULL DEFAULT ''
)`
}

func (dialect) LedgerExists(table string) (string, []any) {
	s, t := sqlx.SplitTable(table)
	if s == "" {
		return "SELECT COUNT(*) FROM INFORMATION_SCHEMA.TABLES WHERE TABLE_SCHEMA = SCHEMA_NAME() AND TABLE_NAME = @p1", []any{t}
	}
	return "SELECT COUNT(*) FROM INFORMATION_SCHEMA.TABLES WHERE TABLE_SCHEMA = @p1 AND TABLE_NAME = @p2", []any{s, t}
}

// Violation of PRIMARY KEY constraint and duplicate key in a unique index.
const (
	errPrimaryKey  = 2627
	errUniqueIndex = 2601
)

func (dialect) IsUniqueViolation(err error) bool {
	var (
		e  mssql.Error
		pe *mssql.Error
		n  int32
	)
	switch {
	case errors.As(err, &e):
		n = e.Number
	case errors.As(err, &pe):
		n = pe.Number
	default:
		return false
	}
	return n == errPrimaryKey || n == errUniqueIndex
}
