// Copyright 2021-present The Atlas Authors. All rights reserved.
// This source code is licensed under the Apache 2.0 license found
// in the LICENSE file in the root directory of this source tree.

package migrate

import (
	"context"
	"database/sql"
	"time"

	"github.com/cjwang/nHydrate/sql/schema"
)

// DefaultLedgerTable is the default name of the ledger table.
const DefaultLedgerTable = "installer_revisions"

type (
	// LedgerEntry records a script version applied to the target database.
	LedgerEntry struct {
		Version         Version
		Description     string
		Signature       string
		AppliedAt       time.Time
		ExecutionTime   time.Duration
		RunID           string
		OperatorVersion string
	}

	// Ledger persists the applied versions in the target database. All methods
	// run on the given connection, so recording a version shares the transaction
	// of the statements it records.
	Ledger interface {
		// CurrentVersion returns the highest recorded version, or Unversioned
		// if the ledger does not exist yet.
		CurrentVersion(context.Context, schema.ExecQuerier) (Version, error)

		// Entries returns all recorded entries in ascending version order.
		// A missing ledger has no entries.
		Entries(context.Context, schema.ExecQuerier) ([]*LedgerEntry, error)

		// EntryFor returns the entry of the given version, or nil if
		// the version was never recorded.
		EntryFor(context.Context, schema.ExecQuerier, Version) (*LedgerEntry, error)

		// Init creates the ledger if it does not exist.
		Init(context.Context, schema.ExecQuerier) error

		// RecordApplied writes the entry of an applied plan step. New scripts
		// are inserted and changed scripts update the entry they were planned
		// against. A ConcurrentInstallError is returned if another run
		// recorded the version first.
		RecordApplied(context.Context, schema.ExecQuerier, *PlanStep, *LedgerEntry) error
	}

	// Driver is implemented by the database drivers.
	Driver interface {
		schema.ExecQuerier
		// Ledger returns the Ledger kept in the given table.
		Ledger(table string) Ledger
	}

	// Conn is the connection capability consumed by the Executor.
	// It is implemented by *sql.DB and *sqlclient.Client.
	Conn interface {
		schema.ExecQuerier
		BeginTx(context.Context, *sql.TxOptions) (*sql.Tx, error)
	}
)

// NopLedger is a Ledger that reports an unversioned database and records nothing.
type NopLedger struct{}

var _ Ledger = NopLedger{}

// CurrentVersion implements Ledger.CurrentVersion.
func (NopLedger) CurrentVersion(context.Context, schema.ExecQuerier) (Version, error) {
	return Unversioned, nil
}

// Entries implements Ledger.Entries.
func (NopLedger) Entries(context.Context, schema.ExecQuerier) ([]*LedgerEntry, error) {
	return nil, nil
}

// EntryFor implements Ledger.EntryFor.
func (NopLedger) EntryFor(context.Context, schema.ExecQuerier, Version) (*LedgerEntry, error) {
	return nil, nil
}

// Init implements Ledger.Init.
func (NopLedger) Init(context.Context, schema.ExecQuerier) error { return nil }

// RecordApplied implements Ledger.RecordApplied.
func (NopLedger) RecordApplied(context.Context, schema.ExecQuerier, *PlanStep, *LedgerEntry) error {
	return nil
}
