// Copyright 2021-present The Atlas Authors. All rights reserved.
// This source code is licensed under the Apache 2.0 license found
// in the LICENSE file in the root directory of this source tree.

package sqlx

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/cjwang/nHydrate/sql/migrate"
	"github.com/cjwang/nHydrate/sql/schema"
)

// ledgerColumns lists the columns of the ledger table in scan order.
var ledgerColumns = []string{
	"version",
	"description",
	"signature",
	"applied_at",
	"execution_time",
	"run_id",
	"operator_version",
}

// Ledger provides implementation for the migrate.Ledger interface
// on top of a SQL table.
type Ledger struct {
	table string
	d     Dialect
}

var _ migrate.Ledger = (*Ledger)(nil)

// NewLedger creates a new Ledger kept in the given table.
func NewLedger(table string, d Dialect) *Ledger {
	return &Ledger{table: table, d: d}
}

// Table returns the name of the ledger table.
func (l *Ledger) Table() string {
	return l.table
}

// CurrentVersion implements migrate.Ledger.CurrentVersion.
func (l *Ledger) CurrentVersion(ctx context.Context, c schema.ExecQuerier) (migrate.Version, error) {
	entries, err := l.Entries(ctx, c)
	if err != nil {
		return migrate.Unversioned, err
	}
	if len(entries) == 0 {
		return migrate.Unversioned, nil
	}
	return entries[len(entries)-1].Version, nil
}

// Entries implements migrate.Ledger.Entries.
func (l *Ledger) Entries(ctx context.Context, c schema.ExecQuerier) ([]*migrate.LedgerEntry, error) {
	exists, err := l.exists(ctx, c)
	if err != nil || !exists {
		return nil, err
	}
	rows, err := c.QueryContext(ctx, l.selectQuery(""))
	if err != nil {
		return nil, l.error("read entries: %w", err)
	}
	defer rows.Close()
	var (
		entries []*migrate.LedgerEntry
		seen    = make(map[migrate.Version]bool)
	)
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, l.error("scan entry: %w", err)
		}
		switch {
		case e.Version.IsZero():
			return nil, l.error("entry with empty version")
		case e.Signature == "":
			return nil, l.error("version %s has no signature", e.Version)
		case seen[e.Version]:
			return nil, l.error("duplicate version %s", e.Version)
		}
		seen[e.Version] = true
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, l.error("read entries: %w", err)
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Version.Less(entries[j].Version)
	})
	return entries, nil
}

// EntryFor implements migrate.Ledger.EntryFor.
func (l *Ledger) EntryFor(ctx context.Context, c schema.ExecQuerier, v migrate.Version) (*migrate.LedgerEntry, error) {
	exists, err := l.exists(ctx, c)
	if err != nil || !exists {
		return nil, err
	}
	e, err := scanEntry(c.QueryRowContext(ctx, l.selectQuery("version = "+l.d.Placeholder(1)), string(v)))
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, nil
	case err != nil:
		return nil, l.error("read version %s: %w", v, err)
	}
	return e, nil
}

// Init implements migrate.Ledger.Init.
func (l *Ledger) Init(ctx context.Context, c schema.ExecQuerier) error {
	if _, err := c.ExecContext(ctx, l.d.CreateLedger(l.table)); err != nil {
		return l.error("create table: %w", err)
	}
	return nil
}

// RecordApplied implements migrate.Ledger.RecordApplied.
func (l *Ledger) RecordApplied(ctx context.Context, c schema.ExecQuerier, s *migrate.PlanStep, e *migrate.LedgerEntry) error {
	args := []any{
		e.Description,
		e.Signature,
		e.AppliedAt.Unix(),
		int64(e.ExecutionTime),
		e.RunID,
		e.OperatorVersion,
	}
	if s.IsChanged && s.Prior != nil {
		set := make([]string, 0, len(ledgerColumns)-1)
		for i, col := range ledgerColumns[1:] {
			set = append(set, fmt.Sprintf("%s = %s", col, l.d.Placeholder(i+1)))
		}
		query := fmt.Sprintf(
			"UPDATE %s SET %s WHERE version = %s AND signature = %s",
			l.d.Quote(l.table), strings.Join(set, ", "), l.d.Placeholder(len(args)+1), l.d.Placeholder(len(args)+2),
		)
		res, err := c.ExecContext(ctx, query, append(args, string(e.Version), s.Prior.Signature)...)
		if err != nil {
			return l.error("update version %s: %w", e.Version, err)
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return &migrate.ConcurrentInstallError{Version: e.Version, Err: migrate.ErrConflict}
		}
		return nil
	}
	ph := make([]string, len(ledgerColumns))
	for i := range ph {
		ph[i] = l.d.Placeholder(i + 1)
	}
	query := fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s)",
		l.d.Quote(l.table), strings.Join(ledgerColumns, ", "), strings.Join(ph, ", "),
	)
	if _, err := c.ExecContext(ctx, query, append([]any{string(e.Version)}, args...)...); err != nil {
		if l.d.IsUniqueViolation(err) {
			return &migrate.ConcurrentInstallError{Version: e.Version, Err: err}
		}
		return l.error("insert version %s: %w", e.Version, err)
	}
	return nil
}

func (l *Ledger) exists(ctx context.Context, c schema.ExecQuerier) (bool, error) {
	var (
		n       int
		q, args = l.d.LedgerExists(l.table)
	)
	if err := c.QueryRowContext(ctx, q, args...).Scan(&n); err != nil {
		return false, l.error("check existence: %w", err)
	}
	return n > 0, nil
}

func (l *Ledger) selectQuery(where string) string {
	q := fmt.Sprintf("SELECT %s FROM %s", strings.Join(ledgerColumns, ", "), l.d.Quote(l.table))
	if where != "" {
		q += " WHERE " + where
	}
	return q
}

func (l *Ledger) error(format string, args ...any) error {
	return &migrate.LedgerError{Table: l.table, Err: fmt.Errorf(format, args...)}
}

func scanEntry(s interface{ Scan(...any) error }) (*migrate.LedgerEntry, error) {
	var (
		e             migrate.LedgerEntry
		version       string
		applied, exec int64
	)
	if err := s.Scan(&version, &e.Description, &e.Signature, &applied, &exec, &e.RunID, &e.OperatorVersion); err != nil {
		return nil, err
	}
	e.Version = migrate.Version(version)
	e.AppliedAt = time.Unix(applied, 0)
	e.ExecutionTime = time.Duration(exec)
	return &e, nil
}
