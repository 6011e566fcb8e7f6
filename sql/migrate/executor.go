// Copyright 2021-present The Atlas Authors. All rights reserved.
// This source code is licensed under the Apache 2.0 license found
// in the LICENSE file in the root directory of this source tree.

package migrate

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// State is the lifecycle state of an Executor.
type State uint

// Executor states.
const (
	StateIdle State = iota
	StatePlanning
	StatePolicyCheck
	StateExecuting
	StateWritingScript
	StateCommitted
	StateRolledBack
	StateFaulted
)

var stateNames = [...]string{
	StateIdle:          "Idle",
	StatePlanning:      "Planning",
	StatePolicyCheck:   "PolicyCheck",
	StateExecuting:     "Executing",
	StateWritingScript: "WritingScript",
	StateCommitted:     "Committed",
	StateRolledBack:    "RolledBack",
	StateFaulted:       "Faulted",
}

// String implements the fmt.Stringer interface.
func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", s)
}

// Outcome summarizes the result of a run.
type Outcome uint

// Run outcomes.
const (
	OutcomeSuccess Outcome = iota
	OutcomeBlockedByWarnings
	OutcomeFailed
	OutcomeWrittenToFile
)

// String implements the fmt.Stringer interface.
func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "Success"
	case OutcomeBlockedByWarnings:
		return "BlockedByWarnings"
	case OutcomeFailed:
		return "Failed"
	case OutcomeWrittenToFile:
		return "WrittenToFile"
	default:
		return fmt.Sprintf("Outcome(%d)", o)
	}
}

// Result describes a finished run. A Result is returned also for runs
// that failed, and lists exactly which versions were committed.
type Result struct {
	Plan         *Plan
	FinalVersion Version   // ledger version at the end of the run
	StepsApplied int       // steps committed to the database, including normalization
	StepsWritten int       // steps written to the script file
	Applied      []Version // versions committed in this run
	Warnings     []string
	Outcome      Outcome
	State        State
}

type (
	// Executor plans and applies the change scripts of a Repository
	// on a database, or writes them to a script file.
	Executor struct {
		conn      Conn
		repo      *Repository
		ledger    Ledger
		log       Logger
		mode      TxMode
		policy    Policy
		normalize bool
		showSQL   bool
		script    *scriptFile
		runID     string
		opVersion string
		state     State
		noLedger  bool // Plan found no ledger entries
	}

	// ExecutorOption allows configuring an Executor using functional arguments.
	ExecutorOption func(*Executor) error
)

// NewExecutor creates a new Executor with default values. The connection may be
// nil only if the ledger does not use it, e.g. a NopLedger in script file mode.
func NewExecutor(conn Conn, repo *Repository, ledger Ledger, opts ...ExecutorOption) (*Executor, error) {
	if repo == nil {
		return nil, errors.New("sql/migrate: no repository given")
	}
	if ledger == nil {
		return nil, errors.New("sql/migrate: no ledger given")
	}
	ex := &Executor{conn: conn, repo: repo, ledger: ledger, normalize: true}
	for _, opt := range opts {
		if err := opt(ex); err != nil {
			return nil, err
		}
	}
	if ex.log == nil {
		ex.log = NopLogger{}
	}
	if conn == nil && ex.script == nil {
		return nil, errors.New("sql/migrate: no connection given")
	}
	return ex, nil
}

// WithLogger sets the Logger of an Executor.
func WithLogger(l Logger) ExecutorOption {
	return func(ex *Executor) error {
		ex.log = l
		return nil
	}
}

// WithTxMode sets the transaction mode of an Executor. Defaults to TxModeAll.
func WithTxMode(m TxMode) ExecutorOption {
	return func(ex *Executor) error {
		if m > TxModeNone {
			return fmt.Errorf("sql/migrate: unknown tx mode %d", m)
		}
		ex.mode = m
		return nil
	}
}

// WithPolicy sets the warning acceptance policy of an Executor.
func WithPolicy(p Policy) ExecutorOption {
	return func(ex *Executor) error {
		ex.policy = p
		return nil
	}
}

// WithNormalize configures if the normalization script is applied. Defaults to true.
func WithNormalize(b bool) ExecutorOption {
	return func(ex *Executor) error {
		ex.normalize = b
		return nil
	}
}

// WithShowSQL configures the Executor to log each statement before executing it.
func WithShowSQL(b bool) ExecutorOption {
	return func(ex *Executor) error {
		ex.showSQL = b
		return nil
	}
}

// WithScriptFile configures the Executor to write the plan to the given
// file instead of executing it. The ledger is not modified in this mode.
func WithScriptFile(path string, action ScriptFileAction) ExecutorOption {
	return func(ex *Executor) error {
		if path == "" {
			return errors.New("sql/migrate: empty script file path")
		}
		ex.script = &scriptFile{path: path, action: action}
		return nil
	}
}

// WithRunID sets the identifier recorded with each ledger entry of the run.
func WithRunID(id string) ExecutorOption {
	return func(ex *Executor) error {
		ex.runID = id
		return nil
	}
}

// WithOperatorVersion sets the installer version recorded with each ledger entry.
func WithOperatorVersion(v string) ExecutorOption {
	return func(ex *Executor) error {
		ex.opVersion = v
		return nil
	}
}

// State returns the current state of the Executor.
func (e *Executor) State() State {
	return e.state
}

// Plan reads the ledger and computes the plan for the database.
// It does not evaluate the warning policy.
func (e *Executor) Plan(ctx context.Context) (*Plan, error) {
	current, err := e.ledger.CurrentVersion(ctx, e.conn)
	if err != nil {
		return nil, ledgerErr(err)
	}
	entries, err := e.ledger.Entries(ctx, e.conn)
	if err != nil {
		return nil, ledgerErr(err)
	}
	e.noLedger = len(entries) == 0
	return BuildPlan(e.repo, current, LookupEntries(entries), e.normalize), nil
}

// Run plans, checks and applies (or writes) the change scripts. A run that
// is blocked by the warning policy returns a Result with the
// OutcomeBlockedByWarnings outcome and no error. An Executor runs once.
func (e *Executor) Run(ctx context.Context) (*Result, error) {
	if e.state != StateIdle {
		return nil, fmt.Errorf("sql/migrate: executor is not idle (%s)", e.state)
	}
	res := &Result{}
	e.state = StatePlanning
	p, err := e.Plan(ctx)
	if err != nil {
		e.log.Log(LogError{Error: err})
		res.Outcome = OutcomeFailed
		return e.finish(res, StateFaulted), err
	}
	res.Plan, res.FinalVersion = p, p.From
	e.state = StatePolicyCheck
	if d := Evaluate(p, e.policy); !d.Proceed {
		res.Warnings, res.Outcome = d.Warnings, OutcomeBlockedByWarnings
		e.log.Log(LogBlocked{Warnings: d.Warnings})
		return e.finish(res, StateFaulted), nil
	}
	if e.script != nil {
		return e.writeScript(ctx, res)
	}
	return e.execute(ctx, res)
}

func (e *Executor) writeScript(ctx context.Context, res *Result) (*Result, error) {
	e.state = StateWritingScript
	e.log.Log(LogScript{Path: e.script.path, Append: e.script.action == ScriptAppend})
	e.log.Log(LogExecution{From: res.Plan.From, To: res.Plan.To, Steps: res.Plan.Steps})
	n, err := e.script.write(ctx, res.Plan, e.log)
	res.StepsWritten = n
	if err != nil {
		e.log.Log(LogError{Error: err})
		res.Outcome = OutcomeFailed
		if cerr := ctx.Err(); cerr != nil && errors.Is(err, cerr) {
			s := res.Plan.Steps[n]
			err = &ExecutionError{
				Version:     s.Version(),
				Script:      s.Script.Name(),
				StmtIndex:   -1,
				LastVersion: res.FinalVersion,
				Err:         err,
			}
		}
		return e.finish(res, StateFaulted), err
	}
	res.Outcome = OutcomeWrittenToFile
	e.log.Log(LogDone{})
	return e.finish(res, StateCommitted), nil
}

func (e *Executor) execute(ctx context.Context, res *Result) (*Result, error) {
	e.state = StateExecuting
	p := res.Plan
	if p.Empty() {
		res.Outcome = OutcomeSuccess
		e.log.Log(LogDone{})
		return e.finish(res, StateCommitted), nil
	}
	e.log.Log(LogExecution{From: p.From, To: p.To, Steps: p.Steps})
	var (
		pending []*PlanStep // applied, but not committed yet
		scope   = newScope(e.conn, e.mode)
	)
	// The ledger is created outside the run transaction, as DDL
	// commits an open transaction implicitly on some databases.
	if e.noLedger && len(p.Pending()) > 0 {
		if err := e.ledger.Init(ctx, e.conn); err != nil {
			return e.abort(res, scope, p.Steps[0], "", -1, ledgerErr(err))
		}
	}
	for _, s := range p.Steps {
		if err := ctx.Err(); err != nil {
			return e.abort(res, scope, s, "", -1, err)
		}
		e.log.Log(LogStep{Step: s})
		conn, err := scope.conn(ctx)
		if err != nil {
			return e.abort(res, scope, s, "", -1, err)
		}
		start := time.Now()
		for i, stmt := range s.Script.Stmts() {
			if e.showSQL {
				e.log.Log(LogStmt{SQL: stmt})
			}
			if _, err := conn.ExecContext(ctx, stmt); err != nil {
				e.log.Log(LogError{SQL: stmt, Error: err})
				return e.abort(res, scope, s, stmt, i, err)
			}
		}
		if !s.IsNormalize() {
			entry := &LedgerEntry{
				Version:         s.Version(),
				Description:     s.Script.Desc(),
				Signature:       s.Script.Signature(),
				AppliedAt:       time.Now(),
				ExecutionTime:   time.Since(start),
				RunID:           e.runID,
				OperatorVersion: e.opVersion,
			}
			if err := e.ledger.RecordApplied(ctx, conn, s, entry); err != nil {
				return e.abort(res, scope, s, "", -1, err)
			}
		}
		if err := scope.stepDone(); err != nil {
			return e.abort(res, scope, s, "", -1, fmt.Errorf("sql/migrate: commit transaction: %w", err))
		}
		pending = append(pending, s)
		if e.mode != TxModeAll {
			committed(res, pending...)
			pending = pending[:0]
		}
	}
	if err := scope.commit(); err != nil {
		err = fmt.Errorf("sql/migrate: commit transaction: %w", err)
		e.log.Log(LogError{Error: err})
		res.Outcome = OutcomeFailed
		last := p.Steps[len(p.Steps)-1]
		return e.finish(res, StateFaulted), &ExecutionError{
			Version:     last.Version(),
			Script:      last.Script.Name(),
			StmtIndex:   -1,
			LastVersion: res.FinalVersion,
			Committed:   append([]Version(nil), res.Applied...),
			Err:         err,
		}
	}
	committed(res, pending...)
	res.Outcome = OutcomeSuccess
	e.log.Log(LogDone{})
	return e.finish(res, StateCommitted), nil
}

// abort rolls back the open transaction, if any, and returns
// the partial result along with the error that stopped the run.
func (e *Executor) abort(res *Result, scope txScope, s *PlanStep, stmt string, idx int, err error) (*Result, error) {
	if stmt == "" {
		e.log.Log(LogError{Error: err})
	}
	rolled, rerr := scope.rollback()
	if rerr != nil {
		err = fmt.Errorf("%w: rollback: %v", err, rerr)
	}
	state := StateFaulted
	if rolled && rerr == nil {
		e.log.Log(LogRollback{Version: s.Version()})
		if e.mode == TxModeAll {
			state = StateRolledBack
		}
	}
	res.Outcome = OutcomeFailed
	e.finish(res, state)
	var ce *ConcurrentInstallError
	if errors.As(err, &ce) {
		ce.LastVersion = res.FinalVersion
		return res, err
	}
	return res, &ExecutionError{
		Version:     s.Version(),
		Script:      s.Script.Name(),
		Stmt:        stmt,
		StmtIndex:   idx,
		LastVersion: res.FinalVersion,
		Committed:   append([]Version(nil), res.Applied...),
		RolledBack:  rolled && rerr == nil,
		Err:         err,
	}
}

func (e *Executor) finish(res *Result, s State) *Result {
	e.state, res.State = s, s
	return res
}

// committed marks the given steps as committed in the result.
func committed(res *Result, steps ...*PlanStep) {
	for _, s := range steps {
		res.StepsApplied++
		if s.IsNormalize() {
			continue
		}
		res.Applied = append(res.Applied, s.Version())
		if s.To.Compare(res.FinalVersion) > 0 {
			res.FinalVersion = s.To
		}
	}
}

func ledgerErr(err error) error {
	var le *LedgerError
	if errors.As(err, &le) {
		return err
	}
	return &LedgerError{Err: err}
}
