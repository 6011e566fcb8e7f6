// Copyright 2021-present The Atlas Authors. All rights reserved.
// This source code is licensed under the Apache 2.0 license found
// in the LICENSE file in the root directory of this source tree.

package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/cjwang/nHydrate/sql/internal/sqlx"
	"github.com/cjwang/nHydrate/sql/migrate"
	"github.com/cjwang/nHydrate/sql/schema"
	"github.com/cjwang/nHydrate/sql/sqlclient"
)

// DriverName holds the name used for registration.
const DriverName = "sqlite"

func init() {
	sqlclient.Register(
		DriverName,
		sqlclient.OpenerFunc(opener),
		sqlclient.RegisterFlavours("sqlite3"),
	)
}

// Driver represents a SQLite driver for keeping the version ledger and
// provisioning database files. A master connection of a SQLite database
// is a directory holding database files.
type Driver struct {
	schema.ExecQuerier
	path string
}

var (
	_ migrate.Driver    = (*Driver)(nil)
	_ sqlclient.Creator = (*Driver)(nil)
)

// Open opens a new SQLite driver.
func Open(db schema.ExecQuerier) (migrate.Driver, error) {
	return &Driver{ExecQuerier: db}, nil
}

func opener(_ context.Context, u *url.URL) (*sqlclient.Client, error) {
	ds := DSN(u)
	db, err := sql.Open(driverName, ds)
	if err != nil {
		return nil, err
	}
	// SQLite allows one writer at a time.
	db.SetMaxOpenConns(1)
	return &sqlclient.Client{
		Name:   DriverName,
		DB:     db,
		URL:    &sqlclient.URL{URL: u, DSN: ds},
		Driver: &Driver{ExecQuerier: db, path: filePath(u)},
	}, nil
}

// Ledger returns the version ledger kept in the given table.
func (d *Driver) Ledger(table string) migrate.Ledger {
	return sqlx.NewLedger(table, dialect{})
}

// DatabaseExists implements the sqlclient.Creator interface.
func (d *Driver) DatabaseExists(_ context.Context, name string) (bool, error) {
	switch _, err := os.Stat(d.file(name)); {
	case err == nil:
		return true, nil
	case errors.Is(err, os.ErrNotExist):
		return false, nil
	default:
		return false, err
	}
}

// CreateDatabase implements the sqlclient.Creator interface.
// It creates an empty database file in the master directory.
func (d *Driver) CreateDatabase(ctx context.Context, name string) error {
	if fi, err := os.Stat(d.path); err != nil || !fi.IsDir() {
		return fmt.Errorf("sqlite: master path %q is not a directory", d.path)
	}
	db, err := sql.Open(driverName, "file:"+d.file(name)+"?"+pragmas.Encode())
	if err != nil {
		return err
	}
	defer db.Close()
	// Opening a connection creates the file.
	return db.PingContext(ctx)
}

// DropDatabase implements the sqlclient.Creator interface.
func (d *Driver) DropDatabase(_ context.Context, name string) error {
	f := d.file(name)
	for _, p := range []string{f, f + "-wal", f + "-shm", f + "-journal"} {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
	}
	return nil
}

// DatabaseURL implements the sqlclient.Creator interface.
func (d *Driver) DatabaseURL(master *url.URL, name string) (*url.URL, error) {
	s := master.Scheme + "://" + filepath.ToSlash(d.file(name))
	if master.RawQuery != "" {
		s += "?" + master.RawQuery
	}
	return url.Parse(s)
}

// file returns the path of the named database file.
func (d *Driver) file(name string) string {
	if filepath.Ext(name) == "" {
		name += ".db"
	}
	return filepath.Join(d.path, name)
}

// DSN returns the data source name of the given sqlite URL.
// For example:
//
//	sqlite://app.db            => file:app.db?<pragmas>
//	sqlite:///var/lib/app.db   => file:/var/lib/app.db?<pragmas>
//	sqlite://file?mode=memory  => file:file?mode=memory&<pragmas>
func DSN(u *url.URL) string {
	q := u.Query()
	for k, v := range pragmas {
		if !q.Has(k) {
			q[k] = v
		}
	}
	return "file:" + filePath(u) + "?" + q.Encode()
}

func filePath(u *url.URL) string {
	if u.Opaque != "" {
		return u.Opaque
	}
	return u.Host + u.Path
}

type dialect struct{}

func (dialect) Placeholder(int) string { return "?" }

func (dialect) Quote(s string) string { return sqlx.QuoteWith(s, `"`, `"`) }

func (d dialect) CreateLedger(table string) string {
	return "CREATE TABLE IF NOT EXISTS " + d.Quote(table) + ` (
  version TEXT NOT NULL PRIMARY KEY,
  description TEXT NOT NULL DEFAULT '',
  signature TEXT NOT NULL,
  applied_at INTEGER NOT NULL,
  execution_time INTEGER NOT NULL DEFAULT 0,
  run_id TEXT NOT NULL DEFAULT '',
  operator_version TEXT NOT NULL DEFAULT ''
)`
}

func (d dialect) LedgerExists(table string) (string, []any) {
	s, t := sqlx.SplitTable(table)
	master := "sqlite_master"
	if s != "" {
		master = d.Quote(s) + ".sqlite_master"
	}
	return "SELECT COUNT(*) FROM " + master + " WHERE type = 'table' AND name = ?", []any{t}
}

func (dialect) IsUniqueViolation(err error) bool {
	return isUniqueViolation(err) || strings.Contains(err.Error(), "UNIQUE constraint failed")
}
