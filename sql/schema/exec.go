// Copyright 2021-present The Atlas Authors. All rights reserved.
// This source code is licensed under the Apache 2.0 license found
// in the LICENSE file in the root directory of this source tree.

// Package schema holds the connection-level contracts shared by the
// migration engine and the database drivers.
package schema

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// ExecQuerier wraps the standard sql.DB methods. It is implemented
// by *sql.DB, *sql.Conn and *sql.Tx.
type ExecQuerier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type (
	// UnlockFunc releases a lock obtained by a Locker.
	UnlockFunc func() error

	// Locker is implemented by drivers that can hold a named lock for the
	// duration of an installer run, e.g. an advisory or application lock.
	Locker interface {
		// Lock acquires the named lock on a dedicated session. A negative timeout
		// waits until the lock is free, and a zero timeout returns at once if the
		// lock is held. ErrLocked is returned if the lock was not obtained.
		Lock(ctx context.Context, name string, timeout time.Duration) (UnlockFunc, error)
	}
)

// ErrLocked is returned if a lock is held by another session.
var ErrLocked = errors.New("sql/schema: lock is held by other session")
