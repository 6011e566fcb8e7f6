// Copyright 2021-present The Atlas Authors. All rights reserved.
// This source code is licensed under the Apache 2.0 license found
// in the LICENSE file in the root directory of this source tree.

// Package cmdlog holds the loggers and the report templates of the installer CLI.
package cmdlog

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/template"
	"time"

	"github.com/cjwang/nHydrate/sql/migrate"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"gopkg.in/yaml.v3"
)

var (
	// ColorTemplateFuncs are globally available functions to color strings in a report template.
	ColorTemplateFuncs = template.FuncMap{
		"cyan":         color.CyanString,
		"green":        color.HiGreenString,
		"red":          color.HiRedString,
		"redBgWhiteFg": color.New(color.FgHiWhite, color.BgHiRed).SprintFunc(),
		"yellow":       color.YellowString,
	}
)

var (
	cyan         = color.CyanString
	green        = color.HiGreenString
	red          = color.HiRedString
	redBgWhiteFg = color.New(color.FgHiWhite, color.BgHiRed).SprintFunc()
	yellow       = color.YellowString
	dash         = yellow("--")
	arr          = cyan("->")
	indent2      = "  "
	indent4      = indent2 + indent2
)

// LogTTY is a migrate.Logger that pretty prints the progress of a run.
// If the connected out is not a tty, it will fall back to a non-colorful output.
type LogTTY struct {
	out         io.Writer
	start       time.Time
	stepStart   time.Time
	script      bool
	stepCounter int
	stmtCounter int
}

// NewLogTTY returns a LogTTY writing to the given writer.
func NewLogTTY(out io.Writer) *LogTTY {
	return &LogTTY{out: out}
}

// Log implements the migrate.Logger interface.
func (l *LogTTY) Log(e migrate.LogEntry) {
	switch e := e.(type) {
	case migrate.LogScript:
		l.script = true
		action := "Writing"
		if e.Append {
			action = "Appending"
		}
		fmt.Fprintf(l.out, "%s install script to %s\n", action, cyan(e.Path))
	case migrate.LogExecution:
		l.start = time.Now()
		fmt.Fprintf(l.out, "Installing version %v", cyan(e.To.String()))
		if !e.From.IsZero() {
			fmt.Fprintf(l.out, " from %v", cyan(e.From.String()))
		}
		fmt.Fprintf(l.out, " (%d steps in total):\n", len(e.Steps))
	case migrate.LogStep:
		l.stepCounter++
		if !l.stepStart.IsZero() {
			l.reportStepEnd()
		}
		l.stepStart = time.Now()
		verb := "applying"
		if l.script {
			verb = "writing"
		}
		if e.Step.IsNormalize() {
			fmt.Fprintf(l.out, "\n%s%v %s normalization script %v\n", indent2, dash, verb, cyan(e.Step.Script.Name()))
			break
		}
		fmt.Fprintf(l.out, "\n%s%v %s version %v (%s)\n", indent2, dash, verb, cyan(e.Step.Version().String()), e.Step.Kind())
	case migrate.LogStmt:
		l.stmtCounter++
		fmt.Fprintf(l.out, "%s%v %s\n", indent4, arr, e.SQL)
	case migrate.LogBlocked:
		fmt.Fprintf(l.out, "%s\n", red("Install blocked by version warnings:"))
		for _, w := range e.Warnings {
			fmt.Fprintf(l.out, "%s%v %s\n", indent2, dash, yellow(w))
		}
	case migrate.LogRollback:
		fmt.Fprintf(l.out, "%s%v %s\n", indent2, dash, yellow("rolled back all changes of this run"))
	case migrate.LogDone:
		if l.stepCounter == 0 {
			fmt.Fprintln(l.out, "The database is up to date, no scripts to execute")
			return
		}
		l.reportStepEnd()
		fmt.Fprintf(l.out, "\n%s%v\n", indent2, cyan(strings.Repeat("-", 25)))
		fmt.Fprintf(l.out, "%s%v %v\n", indent2, dash, time.Since(l.start))
		fmt.Fprintf(l.out, "%s%v %v steps\n", indent2, dash, l.stepCounter)
		if !l.script {
			fmt.Fprintf(l.out, "%s%v %v sql statements\n", indent2, dash, l.stmtCounter)
		}
	case migrate.LogError:
		fmt.Fprintf(l.out, "%s %s\n", indent4, redBgWhiteFg(e.Error.Error()))
		fmt.Fprintf(l.out, "\n%s%v\n", indent2, cyan(strings.Repeat("-", 25)))
		fmt.Fprintf(l.out, "%s%v %v\n", indent2, dash, time.Since(l.start))
		fmt.Fprintf(l.out, "%s%v %v steps ok (%s)\n", indent2, dash, zero(l.stepCounter-1), red("1 with errors"))
	default:
		fmt.Fprintf(l.out, "%v", e)
	}
}

func (l *LogTTY) reportStepEnd() {
	fmt.Fprintf(l.out, "%s%v ok (%v)\n", indent2, dash, yellow("%s", time.Since(l.stepStart)))
}

func zero(v int) int {
	if v < 0 {
		return 0
	}
	return v
}

type (
	// Env holds the environment information of a report.
	Env struct {
		Driver string `json:"Driver,omitempty" yaml:"driver,omitempty"` // Driver name.
		URL    string `json:"URL,omitempty" yaml:"url,omitempty"`       // Redacted URL of the target database.
		Dir    string `json:"Dir,omitempty" yaml:"dir,omitempty"`       // Path to the script directory.
	}

	// Step describes a plan step in a report.
	Step struct {
		Version string     `json:"Version,omitempty" yaml:"version,omitempty"`
		Name    string     `json:"Name" yaml:"name"`
		Kind    string     `json:"Kind" yaml:"kind"`
		Start   time.Time  `json:"Start,omitempty" yaml:"start,omitempty"`
		End     time.Time  `json:"End,omitempty" yaml:"end,omitempty"`
		Stmts   []string   `json:"Stmts,omitempty" yaml:"stmts,omitempty"`
		Error   *StmtError `json:"Error,omitempty" yaml:"error,omitempty"`
	}

	// StmtError groups a statement with its execution error.
	StmtError struct {
		Stmt string `json:"Stmt,omitempty" yaml:"stmt,omitempty"` // SQL statement that failed.
		Text string `json:"Text,omitempty" yaml:"text,omitempty"` // Error message as returned by the database.
	}
)

// NewStep returns the report Step of the given plan step.
func NewStep(s *migrate.PlanStep) *Step {
	return &Step{
		Version: s.Version().String(),
		Name:    s.Script.Name(),
		Kind:    s.Kind(),
	}
}

var (
	// InstallTemplateFuncs are global functions available in install report templates.
	InstallTemplateFuncs = merge(template.FuncMap{
		"json": jsonEncode,
		"yaml": yamlEncode,
	}, ColorTemplateFuncs)

	// InstallTemplate holds the default template of the 'install' command.
	InstallTemplate = template.Must(template.
			New("install").
			Funcs(InstallTemplateFuncs).
			Parse(`{{- if eq .Outcome "BlockedByWarnings" -}}
Install blocked by version warnings:
{{- range .Warnings }}
  {{ yellow "--" }} {{ . }}
{{- end }}
{{- else if not .Steps -}}
The database is up to date, no scripts to execute
{{- else -}}
Installed {{ len .Steps }} steps{{ with .From }} from {{ cyan . }}{{ end }} to {{ cyan .To }}: {{ .Outcome }}
{{- with .Error }}
  {{ redBgWhiteFg . }}
{{- end }}
{{- end }}
`))
)

// Install contains a summary of an install run. It implements migrate.Logger
// and collects the progress of the run.
type Install struct {
	Env      `json:"Env" yaml:"env"`
	Mode     string    `json:"Mode" yaml:"mode"`
	RunID    string    `json:"RunID,omitempty" yaml:"run_id,omitempty"`
	Script   string    `json:"Script,omitempty" yaml:"script,omitempty"` // Script file, if written.
	From     string    `json:"From,omitempty" yaml:"from,omitempty"`
	To       string    `json:"To,omitempty" yaml:"to,omitempty"`
	Steps    []*Step   `json:"Steps,omitempty" yaml:"steps,omitempty"`
	Warnings []string  `json:"Warnings,omitempty" yaml:"warnings,omitempty"`
	Outcome  string    `json:"Outcome" yaml:"outcome"`
	Start    time.Time `json:"Start" yaml:"start"`
	End      time.Time `json:"End" yaml:"end"`
	// Error is set also if it was not caused by a statement,
	// e.g. when committing or rolling back a transaction.
	Error string `json:"Error,omitempty" yaml:"error,omitempty"`
}

// Log implements migrate.Logger.
func (r *Install) Log(e migrate.LogEntry) {
	switch e := e.(type) {
	case migrate.LogScript:
		r.Script = e.Path
	case migrate.LogExecution:
		r.Start = time.Now()
		r.From, r.To = e.From.String(), e.To.String()
		if e.From.IsZero() {
			r.From = ""
		}
	case migrate.LogStep:
		r.stepEnd()
		s := NewStep(e.Step)
		s.Start = time.Now()
		r.Steps = append(r.Steps, s)
	case migrate.LogStmt:
		if l := len(r.Steps); l > 0 {
			r.Steps[l-1].Stmts = append(r.Steps[l-1].Stmts, e.SQL)
		}
	case migrate.LogBlocked:
		r.Warnings = e.Warnings
	case migrate.LogError:
		r.Error = e.Error.Error()
		if l := len(r.Steps); l > 0 && e.SQL != "" {
			r.Steps[l-1].Error = &StmtError{Stmt: e.SQL, Text: e.Error.Error()}
		}
		r.stepEnd()
		r.End = time.Now()
	case migrate.LogDone:
		r.stepEnd()
		r.End = time.Now()
	}
}

// Done records the final outcome of the run.
func (r *Install) Done(res *migrate.Result, err error) {
	if res != nil {
		r.Outcome = res.Outcome.String()
		r.Warnings = res.Warnings
		if r.To == "" {
			r.To = res.FinalVersion.String()
		}
	}
	if err != nil && r.Error == "" {
		r.Error = err.Error()
	}
	if r.End.IsZero() {
		r.End = time.Now()
	}
}

func (r *Install) stepEnd() {
	if l := len(r.Steps); l > 0 && r.Steps[l-1].End.IsZero() {
		r.Steps[l-1].End = time.Now()
	}
}

var (
	// StatusTemplateFuncs are global functions available in status report templates.
	StatusTemplateFuncs = merge(template.FuncMap{
		"json":  jsonEncode,
		"yaml":  yamlEncode,
		"table": table,
		"default": func(report *Status) (string, error) {
			var buf bytes.Buffer
			t, err := template.New("report").Funcs(ColorTemplateFuncs).Parse(`Install Status:
{{- if eq .Status "OK"      }} {{ green .Status }}{{ end }}
{{- if eq .Status "PENDING" }} {{ yellow .Status }}{{ end }}
{{- if eq .Status "BLOCKED" }} {{ red .Status }}{{ end }}
  {{ yellow "--" }} Current Version: {{ cyan .Current }}
  {{ yellow "--" }} Latest Version:  {{ cyan .Latest }}
  {{ yellow "--" }} Applied Scripts: {{ len .Applied }}
  {{ yellow "--" }} Pending Steps:   {{ len .Pending }}
{{- range .Warnings }}
  {{ red "--" }} {{ . }}
{{- end }}
`)
			if err != nil {
				return "", err
			}
			err = t.Execute(&buf, report)
			return buf.String(), err
		},
	}, ColorTemplateFuncs)

	// StatusTemplate holds the default template of the 'status' command.
	StatusTemplate = template.Must(template.New("status").Funcs(StatusTemplateFuncs).Parse("{{ default . }}"))
)

// Status values.
const (
	StatusOK      = "OK"
	StatusPending = "PENDING"
	StatusBlocked = "BLOCKED"
)

// Status contains a summary of the install status of a database.
type Status struct {
	Env      `json:"Env" yaml:"env"`
	Current  string                 `json:"Current" yaml:"current"`
	Latest   string                 `json:"Latest" yaml:"latest"`
	Applied  []*migrate.LedgerEntry `json:"Applied,omitempty" yaml:"applied,omitempty"`
	Pending  []*Step                `json:"Pending,omitempty" yaml:"pending,omitempty"`
	Warnings []string               `json:"Warnings,omitempty" yaml:"warnings,omitempty"`
	Status   string                 `json:"Status" yaml:"status"`
}

// NewStatus returns the Status report of the given plan.
func NewStatus(env Env, current, latest migrate.Version, applied []*migrate.LedgerEntry, p *migrate.Plan, warnings []string) *Status {
	s := &Status{
		Env:      env,
		Current:  current.String(),
		Latest:   latest.String(),
		Applied:  applied,
		Warnings: warnings,
		Status:   StatusOK,
	}
	for _, st := range p.Steps {
		s.Pending = append(s.Pending, NewStep(st))
	}
	switch {
	case len(warnings) > 0:
		s.Status = StatusBlocked
	case len(s.Pending) > 0:
		s.Status = StatusPending
	}
	return s
}

func table(report *Status) (string, error) {
	var buf strings.Builder
	tbl := tablewriter.NewWriter(&buf)
	tbl.SetRowLine(true)
	tbl.SetHeader([]string{
		"Version",
		"Description",
		"Status",
		"Applied At",
		"Execution Time",
		"Signature",
	})
	for _, e := range report.Applied {
		tbl.Append([]string{
			e.Version.String(),
			e.Description,
			"applied",
			e.AppliedAt.Format("2006-01-02 15:04:05 MST"),
			e.ExecutionTime.String(),
			e.Signature,
		})
	}
	for _, s := range report.Pending {
		tbl.Append([]string{
			s.Version,
			s.Name,
			"pending (" + s.Kind + ")",
			"", "", "",
		})
	}
	tbl.Render()
	return buf.String(), nil
}

func merge(maps ...template.FuncMap) template.FuncMap {
	switch len(maps) {
	case 0:
		return nil
	case 1:
		return maps[0]
	default:
		m := make(template.FuncMap)
		for _, e := range maps {
			for k, v := range e {
				m[k] = v
			}
		}
		return m
	}
}

func jsonEncode(v any, args ...string) (string, error) {
	var (
		b   []byte
		err error
	)
	switch len(args) {
	case 0:
		b, err = json.Marshal(v)
	case 1:
		b, err = json.MarshalIndent(v, "", args[0])
	default:
		b, err = json.MarshalIndent(v, args[0], args[1])
	}
	return string(b), err
}

func yamlEncode(v any) (string, error) {
	b, err := yaml.Marshal(v)
	return string(b), err
}
