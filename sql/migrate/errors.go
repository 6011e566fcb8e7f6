// Copyright 2021-present The Atlas Authors. All rights reserved.
// This source code is licensed under the Apache 2.0 license found
// in the LICENSE file in the root directory of this source tree.

package migrate

import (
	"errors"
	"fmt"
	"strings"
)

type (
	// RepositoryError is returned when the script catalog cannot be loaded,
	// for example a duplicate version or a script without statements.
	RepositoryError struct {
		File string // optional
		Err  error
	}

	// LedgerError is returned when the version ledger exists
	// but cannot be read or has an unexpected shape.
	LedgerError struct {
		Table string
		Err   error
	}

	// ExecutionError is returned when a statement fails or the run is canceled
	// in the middle of the plan. Committed lists the versions that remain applied.
	ExecutionError struct {
		Version     Version // version of the failed step
		Script      string  // name of the failed script
		Stmt        string  // SQL statement that failed
		StmtIndex   int     // index of Stmt in the script
		LastVersion Version // last version known to be applied
		Committed   []Version
		RolledBack  bool
		Err         error
	}

	// ConcurrentInstallError is returned when recording a version in the ledger
	// conflicts with another installer run that recorded it first.
	ConcurrentInstallError struct {
		Version     Version
		LastVersion Version
		Err         error
	}
)

func (e *RepositoryError) Error() string {
	if e.File != "" {
		return fmt.Sprintf("sql/migrate: script %q: %v", e.File, e.Err)
	}
	return fmt.Sprintf("sql/migrate: read scripts: %v", e.Err)
}

func (e *RepositoryError) Unwrap() error { return e.Err }

func (e *LedgerError) Error() string {
	if e.Table != "" {
		return fmt.Sprintf("sql/migrate: ledger %q: %v", e.Table, e.Err)
	}
	return fmt.Sprintf("sql/migrate: ledger: %v", e.Err)
}

func (e *LedgerError) Unwrap() error { return e.Err }

func (e *ExecutionError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "sql/migrate: execute version %s", e.Version)
	if e.Stmt != "" {
		fmt.Fprintf(&b, ": statement %d %q", e.StmtIndex+1, e.Stmt)
	}
	fmt.Fprintf(&b, ": %v", e.Err)
	return b.String()
}

func (e *ExecutionError) Unwrap() error { return e.Err }

func (e *ConcurrentInstallError) Error() string {
	return fmt.Sprintf("sql/migrate: version %s was recorded by a concurrent run: %v", e.Version, e.Err)
}

func (e *ConcurrentInstallError) Unwrap() error { return e.Err }

// ErrConflict is wrapped by ConcurrentInstallError when the ledger row of a
// changed script was modified after the plan was built.
var ErrConflict = errors.New("ledger entry modified concurrently")

// LastVersion returns the last applied version carried by the given error,
// and false if the error does not carry one.
func LastVersion(err error) (Version, bool) {
	var (
		ee *ExecutionError
		ce *ConcurrentInstallError
	)
	switch {
	case errors.As(err, &ee):
		return ee.LastVersion, true
	case errors.As(err, &ce):
		return ce.LastVersion, true
	}
	return Unversioned, false
}
