// Copyright 2021-present The Atlas Authors. All rights reserved.
// This source code is licensed under the Apache 2.0 license found
// in the LICENSE file in the root directory of this source tree.

package migrate

import (
	"errors"
	"fmt"
	"io"
	"strings"
)

const (
	// defaultDelim terminates statements unless a script overrides it.
	defaultDelim = ";"
	// batchDelim is the delimiter of scripts split by GO lines.
	batchDelim = "\nGO"
	// directiveDelimiter is the first-line directive that sets the delimiter
	// of a script, e.g. "-- installer:delimiter $$" or "-- installer:delimiter \nGO".
	directiveDelimiter = "-- installer:delimiter"
)

// Stmt is a statement scanned from a change script.
type Stmt struct {
	Pos   int    // byte offset of the statement in the script
	Text  string // statement text, without a custom delimiter or batch separator
	Delim string // delimiter that ended the statement, empty at end of input
}

// stmts splits the script content into statements and returns the delimiter
// used by the script. A script without a delimiter directive that has lines
// holding only GO (in any case) is split into batches by these lines, as
// SQL Server tools do. Otherwise, statements end with a semicolon.
func stmts(content string) ([]*Stmt, string, error) {
	delim, base, err := parseDelimiter(content)
	if err != nil {
		return nil, "", err
	}
	if delim != "" {
		s, err := scan(&scanner{src: content[base:], base: base, delim: delim})
		return s, delim, err
	}
	batches, err := scan(&scanner{src: content, batch: true})
	if err != nil {
		return nil, "", err
	}
	for _, b := range batches {
		if b.Delim != "" {
			return batches, batchDelim, nil
		}
	}
	s, err := scan(&scanner{src: content, delim: defaultDelim})
	return s, defaultDelim, err
}

// parseDelimiter reads the delimiter directive from the first line of the
// content, and returns the delimiter and the offset of the line that follows.
func parseDelimiter(content string) (string, int, error) {
	line, _, _ := strings.Cut(content, "\n")
	arg, ok := strings.CutPrefix(strings.TrimSuffix(line, "\r"), directiveDelimiter)
	if !ok || arg != "" && arg[0] != ' ' && arg[0] != '\t' {
		return "", 0, nil
	}
	arg = strings.TrimSpace(arg)
	if arg == "" {
		return "", 0, errors.New("empty delimiter")
	}
	i := strings.IndexByte(content, '\n')
	if i == -1 {
		return "", 0, fmt.Errorf("no input found after delimiter %q", arg)
	}
	return strings.NewReplacer(`\n`, "\n", `\r`, "\r", `\t`, "\t").Replace(arg), i + 1, nil
}

func scan(s *scanner) ([]*Stmt, error) {
	var stmts []*Stmt
	for {
		stmt, err := s.next()
		if err == io.EOF {
			return stmts, nil
		}
		if err != nil {
			return nil, err
		}
		stmts = append(stmts, stmt)
	}
}

// scanner splits SQL text on a delimiter, or on GO lines in batch mode.
// Delimiters inside quotes, comments, dollar-quoted bodies and
// parentheses are ignored. All tokens it looks for are ASCII, so
// the input is scanned bytewise.
type scanner struct {
	src   string
	base  int // offset of src in the script
	pos   int
	delim string
	batch bool
}

func (s *scanner) next() (*Stmt, error) {
	if err := s.skipTrivia(); err != nil {
		return nil, err
	}
	if s.pos == len(s.src) {
		return nil, io.EOF
	}
	start, depth := s.pos, 0
	for s.pos < len(s.src) {
		if depth == 0 {
			if n := s.delimAt(); n > 0 {
				end := s.pos
				if !s.batch && s.delim == defaultDelim {
					end += n
				}
				d := s.src[s.pos : s.pos+n]
				s.pos += n
				return s.emit(start, end, d), nil
			}
		}
		switch c := s.src[s.pos]; {
		case c == '(':
			depth++
			s.pos++
		case c == ')':
			if depth == 0 {
				return nil, fmt.Errorf("unexpected ')' at position %d", s.base+s.pos+1)
			}
			depth--
			s.pos++
		case c == '\'' || c == '"' || c == '`':
			if err := s.quoted(c, c, true); err != nil {
				return nil, err
			}
		case c == '[':
			if err := s.quoted('[', ']', false); err != nil {
				return nil, err
			}
		case c == '$':
			if err := s.dollarQuoted(); err != nil {
				return nil, err
			}
		case strings.HasPrefix(s.src[s.pos:], "--"):
			s.lineComment()
		case strings.HasPrefix(s.src[s.pos:], "/*"):
			if err := s.blockComment(); err != nil {
				return nil, err
			}
		default:
			s.pos++
		}
	}
	if depth > 0 {
		return nil, errors.New("unclosed parentheses")
	}
	return s.emit(start, s.pos, ""), nil
}

// skipTrivia skips the whitespace and comments that precede a statement,
// and empty batches in batch mode. A '#' starts a comment only here, as
// it is an operator inside PostgreSQL statements.
func (s *scanner) skipTrivia() error {
	for s.pos < len(s.src) {
		rest := s.src[s.pos:]
		switch {
		case isSpace(rest[0]):
			s.pos++
		case rest[0] == '#' || strings.HasPrefix(rest, "--"):
			s.lineComment()
		case strings.HasPrefix(rest, "/*"):
			if err := s.blockComment(); err != nil {
				return err
			}
		case s.batch:
			n := s.goLine()
			if n == 0 {
				return nil
			}
			s.pos += n
		default:
			return nil
		}
	}
	return nil
}

// delimAt returns the length of the delimiter at the current position, or 0.
func (s *scanner) delimAt() int {
	if s.batch {
		return s.goLine()
	}
	if strings.HasPrefix(s.src[s.pos:], s.delim) {
		return len(s.delim)
	}
	return 0
}

// goLine returns the length of a GO batch separator line that starts
// at the current position, without its line break, or 0.
func (s *scanner) goLine() int {
	if s.pos > 0 && s.src[s.pos-1] != '\n' {
		return 0
	}
	i := s.pos
	for i < len(s.src) && (s.src[i] == ' ' || s.src[i] == '\t') {
		i++
	}
	if i+2 > len(s.src) || !strings.EqualFold(s.src[i:i+2], "GO") {
		return 0
	}
	i += 2
	for i < len(s.src) && (s.src[i] == ' ' || s.src[i] == '\t' || s.src[i] == '\r') {
		i++
	}
	if i < len(s.src) && s.src[i] != '\n' {
		return 0
	}
	return i - s.pos
}

// quoted skips a quoted string or identifier starting at the current position.
func (s *scanner) quoted(open, closing byte, escapes bool) error {
	for i := s.pos + 1; i < len(s.src); i++ {
		switch s.src[i] {
		case '\\':
			if escapes {
				i++
			}
		case closing:
			s.pos = i + 1
			return nil
		}
	}
	return fmt.Errorf("unclosed quote %q", rune(open))
}

// dollarQuoted skips a PostgreSQL dollar-quoted body, e.g. $$...$$ or
// $fn$...$fn$. A '$' that does not open a tag, e.g. in $1 or a$b, is skipped.
func (s *scanner) dollarQuoted() error {
	if s.pos > 0 && (isLetter(s.src[s.pos-1]) || isDigit(s.src[s.pos-1])) {
		s.pos++
		return nil
	}
	i := s.pos + 1
	for i < len(s.src) && (isLetter(s.src[i]) || i > s.pos+1 && isDigit(s.src[i])) {
		i++
	}
	if i == len(s.src) || s.src[i] != '$' {
		s.pos++
		return nil
	}
	tag := s.src[s.pos : i+1]
	end := strings.Index(s.src[i+1:], tag)
	if end == -1 {
		return fmt.Errorf("unclosed dollar-quoted string %s", tag)
	}
	s.pos = i + 1 + end + len(tag)
	return nil
}

func (s *scanner) lineComment() {
	if i := strings.IndexByte(s.src[s.pos:], '\n'); i != -1 {
		s.pos += i + 1
	} else {
		s.pos = len(s.src)
	}
}

func (s *scanner) blockComment() error {
	i := strings.Index(s.src[s.pos+2:], "*/")
	if i == -1 {
		return errors.New("unclosed comment")
	}
	s.pos += 2 + i + 2
	return nil
}

func (s *scanner) emit(start, end int, delim string) *Stmt {
	text := s.src[start:end]
	trimmed := strings.TrimLeft(text, " \t\r\n")
	return &Stmt{
		Pos:   s.base + start + len(text) - len(trimmed),
		Text:  strings.TrimSpace(trimmed),
		Delim: delim,
	}
}

func isSpace(c byte) bool  { return c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '\f' || c == '\v' }
func isLetter(c byte) bool { return c == '_' || 'a' <= c && c <= 'z' || 'A' <= c && c <= 'Z' }
func isDigit(c byte) bool  { return '0' <= c && c <= '9' }
