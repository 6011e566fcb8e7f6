// Copyright 2021-present The Atlas Authors. All rights reserved.
// This source code is licensed under the Apache 2.0 license found
// in the LICENSE file in the root directory of this source tree.

// Package installer turns an InstallSetup into an installer run: it provisions
// the target database in create mode, locks it, and applies (or exports) the
// change scripts using the sql/migrate Executor.
package installer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cjwang/nHydrate/sql/migrate"
	"github.com/cjwang/nHydrate/sql/schema"
	"github.com/cjwang/nHydrate/sql/sqlclient"

	"github.com/google/uuid"
)

// Mode selects between installing into a new database and upgrading an existing one.
type Mode uint

// Installer modes.
const (
	ModeUpgrade Mode = iota
	ModeCreate
)

// String implements the fmt.Stringer interface.
func (m Mode) String() string {
	if m == ModeCreate {
		return "create"
	}
	return "upgrade"
}

// LockName is the name of the advisory lock held during a run.
const LockName = "installer_run"

// InstallSetup holds the parameters of a single installer run.
type InstallSetup struct {
	Mode Mode

	// MasterConnectionString is the administrative URL used in create mode.
	MasterConnectionString string
	// TargetConnectionString is the URL of the database to upgrade.
	TargetConnectionString string
	// NewDatabaseName is the database created in create mode.
	NewDatabaseName string
	// OverwriteDatabase drops and recreates an existing database in create mode.
	OverwriteDatabase bool

	// ScriptsDir is the directory holding the change scripts.
	ScriptsDir string
	// LedgerTable overrides migrate.DefaultLedgerTable.
	LedgerTable string

	// UseTransaction runs the whole install in one transaction.
	// If false, no transactions are used at all.
	UseTransaction bool
	// TxMode, if set, overrides UseTransaction.
	TxMode *migrate.TxMode
	// Normalize applies the normalization script after the versioned scripts.
	Normalize bool

	AcceptVersionWarningsNewScripts     bool
	AcceptVersionWarningsChangedScripts bool

	// ScriptFilePath, if set, exports the plan to the given file
	// instead of executing it.
	ScriptFilePath   string
	ScriptFileAction migrate.ScriptFileAction

	// ShowSQL logs each statement before it is executed.
	ShowSQL bool

	// LockTimeout is the time to wait for the advisory lock of the target
	// database. Zero fails immediately if the lock is held, and a negative
	// value waits forever.
	LockTimeout time.Duration
}

// Validate reports an error if the setup is incomplete for its mode.
func (s *InstallSetup) Validate() error {
	switch s.Mode {
	case ModeCreate:
		if s.ScriptFilePath != "" {
			// Nothing is provisioned when the install is exported.
			break
		}
		if s.MasterConnectionString == "" {
			return errors.New("installer: create mode requires a master connection string")
		}
		if s.NewDatabaseName == "" {
			return errors.New("installer: create mode requires a new database name")
		}
	case ModeUpgrade:
		if s.TargetConnectionString == "" {
			return errors.New("installer: upgrade mode requires a target connection string")
		}
	default:
		return fmt.Errorf("installer: unknown mode %d", s.Mode)
	}
	if s.ScriptFileAction > migrate.ScriptAppend {
		return fmt.Errorf("installer: unknown script file action %d", s.ScriptFileAction)
	}
	if s.TxMode != nil && *s.TxMode > migrate.TxModeNone {
		return fmt.Errorf("installer: unknown tx mode %d", *s.TxMode)
	}
	return nil
}

// txMode returns the transaction mode of the run.
func (s *InstallSetup) txMode() migrate.TxMode {
	switch {
	case s.TxMode != nil:
		return *s.TxMode
	case s.UseTransaction:
		return migrate.TxModeAll
	default:
		return migrate.TxModeNone
	}
}

func (s *InstallSetup) ledgerTable() string {
	if s.LedgerTable != "" {
		return s.LedgerTable
	}
	return migrate.DefaultLedgerTable
}

type (
	// Option allows configuring a run using functional arguments.
	Option func(*options)

	options struct {
		dir       migrate.Dir
		log       migrate.Logger
		runID     string
		opVersion string
	}
)

// WithDir sets the script directory of the run, overriding InstallSetup.ScriptsDir.
func WithDir(d migrate.Dir) Option {
	return func(o *options) { o.dir = d }
}

// WithLogger sets the logger of the run.
func WithLogger(l migrate.Logger) Option {
	return func(o *options) { o.log = l }
}

// WithRunID sets the run identifier recorded in the ledger. A random
// UUID is used by default.
func WithRunID(id string) Option {
	return func(o *options) { o.runID = id }
}

// WithOperatorVersion sets the installer version recorded in the ledger.
func WithOperatorVersion(v string) Option {
	return func(o *options) { o.opVersion = v }
}

func newOptions(opts []Option) *options {
	o := &options{log: migrate.NopLogger{}}
	for _, opt := range opts {
		opt(o)
	}
	if o.runID == "" {
		o.runID = uuid.NewString()
	}
	return o
}

// Report describes a finished run.
type Report struct {
	*migrate.Result
	// RunID identifies the run in the ledger.
	RunID string
	// Target is the URL of the installed database. It is empty if
	// the install was exported in create mode.
	Target string
	// Created reports if a new database was provisioned.
	Created bool
}

// Run executes the installer using the given setup. A run blocked by the
// warning policy is reported with the migrate.OutcomeBlockedByWarnings
// outcome and a nil error. On failure, the returned Report (if not nil)
// describes what was committed before the error.
func Run(ctx context.Context, s *InstallSetup, opts ...Option) (rep *Report, err error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	o := newOptions(opts)
	repo, err := repository(s, o)
	if err != nil {
		return nil, err
	}
	rep = &Report{RunID: o.runID}
	// An exported install of a new database starts from an empty ledger.
	if s.Mode == ModeCreate && s.ScriptFilePath != "" {
		ex, err := migrate.NewExecutor(nil, repo, migrate.NopLedger{}, executorOptions(s, o)...)
		if err != nil {
			return nil, err
		}
		rep.Result, err = ex.Run(ctx)
		return rep, err
	}
	rep.Target = s.TargetConnectionString
	if s.Mode == ModeCreate {
		if rep.Target, err = sqlclient.CreateDatabase(ctx, s.MasterConnectionString, s.NewDatabaseName, s.OverwriteDatabase); err != nil {
			return nil, err
		}
		rep.Created = true
	}
	c, err := sqlclient.Open(ctx, rep.Target)
	if err != nil {
		return rep, err
	}
	defer c.Close()
	// Exporting the plan does not modify the database.
	if l, ok := c.Driver.(schema.Locker); ok && s.ScriptFilePath == "" {
		unlock, err := l.Lock(ctx, LockName, s.LockTimeout)
		if err != nil {
			return rep, fmt.Errorf("installer: acquiring database lock: %w", err)
		}
		defer func() {
			if uerr := unlock(); uerr != nil && err == nil {
				err = fmt.Errorf("installer: releasing database lock: %w", uerr)
			}
		}()
	}
	ex, err := migrate.NewExecutor(c, repo, c.Ledger(s.ledgerTable()), executorOptions(s, o)...)
	if err != nil {
		return rep, err
	}
	rep.Result, err = ex.Run(ctx)
	return rep, err
}

// Status describes the state of a target database compared to the
// script directory.
type Status struct {
	Current  migrate.Version
	Latest   migrate.Version
	Entries  []*migrate.LedgerEntry
	Plan     *migrate.Plan
	Warnings []string
}

// Pending returns the number of steps left to apply.
func (s *Status) Pending() int {
	return len(s.Plan.Steps)
}

// ReadStatus computes the plan of the target database without executing
// it. The setup must be in upgrade mode.
func ReadStatus(ctx context.Context, s *InstallSetup, opts ...Option) (*Status, error) {
	if s.Mode != ModeUpgrade {
		return nil, errors.New("installer: status requires upgrade mode")
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	o := newOptions(opts)
	repo, err := repository(s, o)
	if err != nil {
		return nil, err
	}
	c, err := sqlclient.Open(ctx, s.TargetConnectionString)
	if err != nil {
		return nil, err
	}
	defer c.Close()
	ledger := c.Ledger(s.ledgerTable())
	entries, err := ledger.Entries(ctx, c)
	if err != nil {
		return nil, err
	}
	current := migrate.Unversioned
	if len(entries) > 0 {
		current = entries[len(entries)-1].Version
	}
	p := migrate.BuildPlan(repo, current, migrate.LookupEntries(entries), s.Normalize)
	return &Status{
		Current:  current,
		Latest:   repo.Latest(),
		Entries:  entries,
		Plan:     p,
		Warnings: migrate.Evaluate(p, policy(s)).Warnings,
	}, nil
}

func repository(s *InstallSetup, o *options) (*migrate.Repository, error) {
	d := o.dir
	if d == nil {
		if s.ScriptsDir == "" {
			return nil, errors.New("installer: no scripts directory given")
		}
		ld, err := migrate.NewLocalDir(s.ScriptsDir)
		if err != nil {
			return nil, err
		}
		d = ld
	}
	return migrate.NewRepository(d)
}

func policy(s *InstallSetup) migrate.Policy {
	return migrate.Policy{
		AcceptNew:     s.AcceptVersionWarningsNewScripts,
		AcceptChanged: s.AcceptVersionWarningsChangedScripts,
	}
}

func executorOptions(s *InstallSetup, o *options) []migrate.ExecutorOption {
	opts := []migrate.ExecutorOption{
		migrate.WithLogger(o.log),
		migrate.WithTxMode(s.txMode()),
		migrate.WithPolicy(policy(s)),
		migrate.WithNormalize(s.Normalize),
		migrate.WithShowSQL(s.ShowSQL),
		migrate.WithRunID(o.runID),
		migrate.WithOperatorVersion(o.opVersion),
	}
	if s.ScriptFilePath != "" {
		opts = append(opts, migrate.WithScriptFile(s.ScriptFilePath, s.ScriptFileAction))
	}
	return opts
}
