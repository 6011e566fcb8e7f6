// Copyright 2021-present The Atlas Authors. All rights reserved.
// This source code is licensed under the Apache 2.0 license found
// in the LICENSE file in the root directory of this source tree.

package sqlclient

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"github.com/cjwang/nHydrate/sql/internal/sqlx"
)

// Creator is implemented by drivers that can provision new databases
// using an administrative (master) connection.
type Creator interface {
	// DatabaseExists reports if a database with the given name exists.
	DatabaseExists(ctx context.Context, name string) (bool, error)
	// CreateDatabase creates a new empty database.
	CreateDatabase(ctx context.Context, name string) error
	// DropDatabase drops the given database.
	DropDatabase(ctx context.Context, name string) error
	// DatabaseURL returns the URL for connecting to the given
	// database, derived from the master URL.
	DatabaseURL(master *url.URL, name string) (*url.URL, error)
}

// ErrDatabaseExists is wrapped by BootstrapError if the database
// already exists and overwriting was not requested.
var ErrDatabaseExists = errors.New("database already exists")

// BootstrapError is returned when a new database cannot be provisioned.
type BootstrapError struct {
	Name string
	Err  error
}

func (e *BootstrapError) Error() string {
	return fmt.Sprintf("sql/sqlclient: create database %q: %v", e.Name, e.Err)
}

func (e *BootstrapError) Unwrap() error { return e.Err }

// CreateDatabase provisions a new empty database using the master URL and
// returns the URL of the new database. If the database exists, it is dropped
// and recreated only if overwrite is true.
func CreateDatabase(ctx context.Context, master, name string, overwrite bool) (string, error) {
	if err := sqlx.ValidName(name); err != nil {
		return "", &BootstrapError{Name: name, Err: err}
	}
	c, err := Open(ctx, master)
	if err != nil {
		return "", &BootstrapError{Name: name, Err: err}
	}
	defer c.Close()
	cr, ok := c.Driver.(Creator)
	if !ok {
		return "", &BootstrapError{Name: name, Err: fmt.Errorf("driver %q does not support creating databases", c.Name)}
	}
	exists, err := cr.DatabaseExists(ctx, name)
	if err != nil {
		return "", &BootstrapError{Name: name, Err: err}
	}
	if exists {
		if !overwrite {
			return "", &BootstrapError{Name: name, Err: ErrDatabaseExists}
		}
		if err := cr.DropDatabase(ctx, name); err != nil {
			return "", &BootstrapError{Name: name, Err: fmt.Errorf("drop existing database: %w", err)}
		}
	}
	if err := cr.CreateDatabase(ctx, name); err != nil {
		return "", &BootstrapError{Name: name, Err: err}
	}
	u, err := cr.DatabaseURL(c.URL.URL, name)
	if err != nil {
		return "", &BootstrapError{Name: name, Err: err}
	}
	return u.String(), nil
}
