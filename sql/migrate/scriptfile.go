// Copyright 2021-present The Atlas Authors. All rights reserved.
// This source code is licensed under the Apache 2.0 license found
// in the LICENSE file in the root directory of this source tree.

package migrate

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
)

// ScriptFileAction defines how an existing script file is treated.
type ScriptFileAction uint

const (
	// ScriptOverwrite replaces the content of an existing script file.
	ScriptOverwrite ScriptFileAction = iota
	// ScriptAppend appends the plan to an existing script file.
	ScriptAppend
)

// String implements the fmt.Stringer interface.
func (a ScriptFileAction) String() string {
	if a == ScriptAppend {
		return "append"
	}
	return "overwrite"
}

// ParseScriptFileAction parses the string representation of a ScriptFileAction.
func ParseScriptFileAction(s string) (ScriptFileAction, error) {
	switch strings.ToLower(s) {
	case "", "overwrite":
		return ScriptOverwrite, nil
	case "append":
		return ScriptAppend, nil
	default:
		return 0, fmt.Errorf("sql/migrate: unknown script file action %q", s)
	}
}

// scriptFile writes plan steps to a SQL script file instead of executing them.
type scriptFile struct {
	path   string
	action ScriptFileAction
}

// open opens the file for writing. In append mode, a newline is added
// first if the existing content does not end with one.
func (f *scriptFile) open() (*os.File, error) {
	flag := os.O_CREATE | os.O_WRONLY | os.O_TRUNC
	if f.action == ScriptAppend {
		flag = os.O_CREATE | os.O_RDWR | os.O_APPEND
	}
	out, err := os.OpenFile(f.path, flag, 0644)
	if err != nil {
		return nil, fmt.Errorf("sql/migrate: open script file: %w", err)
	}
	if f.action != ScriptAppend {
		return out, nil
	}
	fi, err := out.Stat()
	if err != nil {
		out.Close()
		return nil, fmt.Errorf("sql/migrate: stat script file: %w", err)
	}
	if n := fi.Size(); n > 0 {
		last := make([]byte, 1)
		if _, err := out.ReadAt(last, n-1); err != nil {
			out.Close()
			return nil, fmt.Errorf("sql/migrate: read script file: %w", err)
		}
		if last[0] != '\n' {
			if _, err := out.WriteString("\n"); err != nil {
				out.Close()
				return nil, fmt.Errorf("sql/migrate: write script file: %w", err)
			}
		}
	}
	return out, nil
}

// writeStep writes the header and the statements of a step.
func writeStep(w io.Writer, s *PlanStep) error {
	var b strings.Builder
	if s.IsNormalize() {
		fmt.Fprintf(&b, "-- normalize: %s\n", s.Script.Name())
	} else {
		fmt.Fprintf(&b, "-- version %s (%s): %s\n", s.Version(), s.Kind(), s.Script.Name())
	}
	delim := s.Script.Delimiter()
	for _, stmt := range s.Script.Stmts() {
		b.WriteString(stmt)
		switch {
		case delim != defaultDelim:
			b.WriteString(delim)
		case !strings.HasSuffix(stmt, defaultDelim):
			b.WriteString(defaultDelim)
		}
		b.WriteByte('\n')
	}
	b.WriteByte('\n')
	_, err := io.WriteString(w, b.String())
	return err
}

// write writes all steps of the plan and returns the number of steps written.
// The context is checked before each step and a canceled run leaves the steps
// written so far in the file.
func (f *scriptFile) write(ctx context.Context, p *Plan, l Logger) (n int, err error) {
	out, err := f.open()
	if err != nil {
		return 0, err
	}
	w := bufio.NewWriter(out)
	defer func() {
		if ferr := w.Flush(); ferr != nil && err == nil {
			err = fmt.Errorf("sql/migrate: write script file: %w", ferr)
		}
		if cerr := out.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("sql/migrate: close script file: %w", cerr)
		}
	}()
	for _, s := range p.Steps {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		l.Log(LogStep{Step: s})
		if err := writeStep(w, s); err != nil {
			return n, fmt.Errorf("sql/migrate: write script file: %w", err)
		}
		n++
	}
	return n, nil
}
