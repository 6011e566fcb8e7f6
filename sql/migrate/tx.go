// Copyright 2021-present The Atlas Authors. All rights reserved.
// This source code is licensed under the Apache 2.0 license found
// in the LICENSE file in the root directory of this source tree.

package migrate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/cjwang/nHydrate/sql/schema"
)

// TxMode defines how the Executor wraps the plan steps in transactions.
type TxMode uint

const (
	// TxModeAll runs the entire plan in a single transaction.
	TxModeAll TxMode = iota
	// TxModeFile runs each step in its own transaction.
	TxModeFile
	// TxModeNone runs without transactions. Failed runs are not rolled back.
	TxModeNone
)

// String implements the fmt.Stringer interface.
func (m TxMode) String() string {
	switch m {
	case TxModeAll:
		return "all"
	case TxModeFile:
		return "file"
	case TxModeNone:
		return "none"
	default:
		return fmt.Sprintf("TxMode(%d)", m)
	}
}

// ParseTxMode parses the string representation of a TxMode.
func ParseTxMode(s string) (TxMode, error) {
	switch s {
	case "all":
		return TxModeAll, nil
	case "file":
		return TxModeFile, nil
	case "none":
		return TxModeNone, nil
	default:
		return 0, fmt.Errorf("sql/migrate: unknown tx-mode %q", s)
	}
}

// txScope is the transaction strategy of a run. The step loop of the
// Executor is the same for all modes and only talks to the scope.
type txScope interface {
	// conn returns the connection the next step runs on, and opens
	// a transaction if the mode requires one.
	conn(context.Context) (schema.ExecQuerier, error)
	// stepDone is called after a step and its ledger entry were written.
	stepDone() error
	// rollback aborts the open transaction and reports if there was one.
	rollback() (bool, error)
	// commit commits the open transaction, if any.
	commit() error
}

func newScope(c Conn, m TxMode) txScope {
	switch m {
	case TxModeFile:
		return &fileTx{allTx{c: c}}
	case TxModeNone:
		return noTx{c: c}
	default:
		return &allTx{c: c}
	}
}

// allTx runs all steps in one transaction.
type allTx struct {
	c  Conn
	tx *sql.Tx
}

func (s *allTx) conn(ctx context.Context) (schema.ExecQuerier, error) {
	if s.tx == nil {
		// The transaction outlives a canceled context until the executor rolls it back.
		tx, err := s.c.BeginTx(context.WithoutCancel(ctx), nil)
		if err != nil {
			return nil, fmt.Errorf("sql/migrate: begin transaction: %w", err)
		}
		s.tx = tx
	}
	return s.tx, nil
}

func (*allTx) stepDone() error { return nil }

func (s *allTx) rollback() (bool, error) {
	if s.tx == nil {
		return false, nil
	}
	tx := s.tx
	s.tx = nil
	if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return true, err
	}
	return true, nil
}

func (s *allTx) commit() error {
	if s.tx == nil {
		return nil
	}
	tx := s.tx
	s.tx = nil
	return tx.Commit()
}

// fileTx runs each step in its own transaction.
type fileTx struct {
	allTx
}

func (s *fileTx) stepDone() error { return s.commit() }

// noTx runs directly on the connection.
type noTx struct {
	c Conn
}

func (s noTx) conn(context.Context) (schema.ExecQuerier, error) { return s.c, nil }
func (noTx) stepDone() error                                      { return nil }
func (noTx) rollback() (bool, error)                              { return false, nil }
func (noTx) commit() error                                        { return nil }
