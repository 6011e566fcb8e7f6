// Copyright 2021-present The Atlas Authors. All rights reserved.
// This source code is licensed under the Apache 2.0 license found
// in the LICENSE file in the root directory of this source tree.

package migrate

type (
	// Logger is used by the Executor to report the progress of a run.
	Logger interface {
		Log(LogEntry)
	}

	// LogEntry marks several types of logs to be passed to a Logger.
	LogEntry interface {
		logEntry()
	}

	// LogExecution is sent once when execution of a plan starts.
	LogExecution struct {
		// From what version.
		From Version
		// To what version.
		To Version
		// Steps to execute.
		Steps []*PlanStep
	}

	// LogStep is sent if a new step is executed or written.
	LogStep struct {
		Step *PlanStep
	}

	// LogStmt is sent before each statement of a step, if statements are shown.
	LogStmt struct {
		SQL string
	}

	// LogBlocked is sent if the warning policy blocked the run.
	LogBlocked struct {
		Warnings []string
	}

	// LogScript is sent when the plan is written to a script file.
	LogScript struct {
		Path   string
		Append bool
	}

	// LogRollback is sent after the run transaction was rolled back.
	LogRollback struct {
		Version Version // version of the step that failed
	}

	// LogDone is sent if the execution is done.
	LogDone struct{}

	// LogError is sent if there is an error while execution.
	LogError struct {
		SQL   string // Set, if Error was caused by a SQL statement.
		Error error
	}

	// NopLogger is a Logger that does nothing.
	// It is useful for one-time runs that do not require logs.
	NopLogger struct{}
)

func (LogExecution) logEntry() {}
func (LogStep) logEntry()      {}
func (LogStmt) logEntry()      {}
func (LogBlocked) logEntry()   {}
func (LogScript) logEntry()    {}
func (LogRollback) logEntry()  {}
func (LogDone) logEntry()      {}
func (LogError) logEntry()     {}

// Log implements the Logger interface.
func (NopLogger) Log(LogEntry) {}

// LogFunc allows using an ordinary function as a Logger.
type LogFunc func(LogEntry)

// Log calls f(e).
func (f LogFunc) Log(e LogEntry) { f(e) }
