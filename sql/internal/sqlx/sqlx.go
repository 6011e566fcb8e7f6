// Copyright 2021-present The Atlas Authors. All rights reserved.
// This source code is licensed under the Apache 2.0 license found
// in the LICENSE file in the root directory of this source tree.

// Package sqlx holds the SQL helpers shared by the database drivers.
package sqlx

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/cjwang/nHydrate/sql/schema"
)

// Dialect describes the SQL differences between databases that
// matter for keeping the version ledger.
type Dialect interface {
	// Placeholder returns the bind parameter of the i'th argument, starting at 1.
	Placeholder(i int) string
	// Quote quotes an identifier.
	Quote(ident string) string
	// CreateLedger returns the statement creating the ledger table if it does not exist.
	CreateLedger(table string) string
	// LedgerExists returns a query, along with its arguments, that counts
	// the tables named after the ledger table.
	LedgerExists(table string) (string, []any)
	// IsUniqueViolation reports if the error was caused by a unique constraint violation.
	IsUniqueViolation(err error) bool
}

// QuoteWith quotes each part of a possibly schema-qualified name
// using the given quote characters. The closing quote is escaped
// by doubling it.
func QuoteWith(name, left, right string) string {
	parts := strings.Split(name, ".")
	for i, p := range parts {
		parts[i] = left + strings.ReplaceAll(p, right, right+right) + right
	}
	return strings.Join(parts, ".")
}

// SplitTable splits a possibly schema-qualified table name.
func SplitTable(name string) (schema, table string) {
	if i := strings.LastIndexByte(name, '.'); i != -1 {
		return name[:i], name[i+1:]
	}
	return "", name
}

var reIdent = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_$-]*$`)

// ValidName reports an error if the given database or table name
// cannot be safely used as an identifier.
func ValidName(name string) error {
	if name == "" {
		return errors.New("empty name")
	}
	for _, p := range strings.Split(name, ".") {
		if !reIdent.MatchString(p) {
			return fmt.Errorf("invalid name %q", name)
		}
	}
	return nil
}

// SingleQuote quotes the given string as a SQL string literal.
func SingleQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// ExecQueryCloser is the interface that groups
// Close with the schema.ExecQuerier methods.
type ExecQueryCloser interface {
	schema.ExecQuerier
	Close() error
}

type nopCloser struct {
	schema.ExecQuerier
}

func (nopCloser) Close() error { return nil }

// SingleConn returns a closable single connection from the given ExecQuerier.
// Session-level features, such as advisory locks, must run on a single connection.
func SingleConn(ctx context.Context, conn schema.ExecQuerier) (ExecQueryCloser, error) {
	if opener, ok := conn.(interface {
		Conn(context.Context) (*sql.Conn, error)
	}); ok {
		return opener.Conn(ctx)
	}
	// Tx and Conn are bounded to a single connection.
	// We use sql/driver.Tx to cover also custom Tx structs.
	_, ok1 := conn.(driver.Tx)
	_, ok2 := conn.(*sql.Conn)
	if ok1 || ok2 {
		return nopCloser{ExecQuerier: conn}, nil
	}
	return nil, fmt.Errorf("cannot obtain a single connection from %T", conn)
}

// ScanOne scans one record and closes the rows at the end.
func ScanOne(rows *sql.Rows, dest ...any) error {
	defer rows.Close()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return err
		}
		return sql.ErrNoRows
	}
	if err := rows.Scan(dest...); err != nil {
		return err
	}
	if rows.Next() {
		return errors.New("sql/sqlx: expect exactly one record")
	}
	return rows.Err()
}

// ScanNullBool scans one sql.NullBool record and closes the rows at the end.
func ScanNullBool(rows *sql.Rows) (sql.NullBool, error) {
	var b sql.NullBool
	err := ScanOne(rows, &b)
	return b, err
}
