// Copyright 2021-present The Atlas Authors. All rights reserved.
// This source code is licensed under the Apache 2.0 license found
// in the LICENSE file in the root directory of this source tree.

package sqltest

import (
	"database/sql/driver"
	"regexp"
	"strings"

	"github.com/cjwang/nHydrate/sql/migrate"

	"github.com/DATA-DOG/go-sqlmock"
)

// LedgerColumns are the ledger table columns in the order they are selected.
var LedgerColumns = []string{"version", "description", "signature", "applied_at", "execution_time", "run_id", "operator_version"}

// LedgerRows converts ledger entries to the rows a ledger query returns.
func LedgerRows(entries ...*migrate.LedgerEntry) *sqlmock.Rows {
	rows := sqlmock.NewRows(LedgerColumns)
	for _, e := range entries {
		rows.AddRow([]driver.Value{
			string(e.Version),
			e.Description,
			e.Signature,
			e.AppliedAt.Unix(),
			int64(e.ExecutionTime),
			e.RunID,
			e.OperatorVersion,
		}...)
	}
	return rows
}

// Escape escapes all regular expression metacharacters in the given query.
func Escape(query string) string {
	return quote(query) + "$"
}

// Prefix is like Escape, but matches only the start of the executed query.
func Prefix(query string) string {
	return "^" + quote(query)
}

func quote(query string) string {
	rows := strings.Split(query, "\n")
	for i := range rows {
		rows[i] = strings.TrimPrefix(rows[i], " ")
	}
	query = strings.Join(rows, " ")
	return strings.TrimSpace(regexp.QuoteMeta(query))
}
