// Copyright 2021-present The Atlas Authors. All rights reserved.
// This source code is licensed under the Apache 2.0 license found
// in the LICENSE file in the root directory of this source tree.

package migrate

import (
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"sort"
)

// DefaultNormalizeFile is the name of the normalization script in a Dir.
const DefaultNormalizeFile = "normalize.sql"

// ChangeScript is a versioned unit of SQL. ChangeScripts are
// immutable once loaded into a Repository.
type ChangeScript struct {
	version   Version
	name      string
	desc      string
	stmts     []string
	delim     string
	sum       string
	normalize bool
}

// NewChangeScript parses the given file content into a ChangeScript.
// The version is taken from the file name: <version>[_<description>].sql.
func NewChangeScript(name string, data []byte) (*ChangeScript, error) {
	v, desc := nameParts(name)
	if !ValidVersion(v) {
		return nil, &RepositoryError{File: name, Err: fmt.Errorf("invalid version %q", v)}
	}
	s, err := newScript(name, data)
	if err != nil {
		return nil, err
	}
	s.version, s.desc = Version(v), desc
	return s, nil
}

// NewNormalizationScript parses the given file content into the
// unversioned script that is applied at the end of every run.
func NewNormalizationScript(name string, data []byte) (*ChangeScript, error) {
	s, err := newScript(name, data)
	if err != nil {
		return nil, err
	}
	s.normalize, s.desc = true, "normalize"
	return s, nil
}

func newScript(name string, data []byte) (*ChangeScript, error) {
	decls, delim, err := stmts(string(data))
	if err != nil {
		return nil, &RepositoryError{File: name, Err: err}
	}
	if len(decls) == 0 {
		return nil, &RepositoryError{File: name, Err: errors.New("no statements found")}
	}
	s := &ChangeScript{name: name, delim: delim, stmts: make([]string, len(decls))}
	for i, d := range decls {
		s.stmts[i] = d.Text
	}
	s.sum = Signature(s.stmts)
	return s, nil
}

// Version returns the version of the script. Normalization scripts are Unversioned.
func (s *ChangeScript) Version() Version { return s.version }

// Name returns the file name of the script.
func (s *ChangeScript) Name() string { return s.name }

// Desc returns the description part of the file name.
func (s *ChangeScript) Desc() string { return s.desc }

// Delimiter returns the statement delimiter used by the script.
func (s *ChangeScript) Delimiter() string { return s.delim }

// Signature returns the content signature of the script.
func (s *ChangeScript) Signature() string { return s.sum }

// IsNormalize reports if this is the normalization script.
func (s *ChangeScript) IsNormalize() bool { return s.normalize }

// Stmts returns a copy of the script statements, in order.
func (s *ChangeScript) Stmts() []string {
	return append([]string(nil), s.stmts...)
}

// Signature computes the content signature of the given statements.
// Only the statements text takes part in it, so changes in comments
// or whitespace between statements do not alter the signature.
func Signature(stmts []string) string {
	h := sha256.New()
	for _, s := range stmts {
		h.Write([]byte(s))
		h.Write([]byte{0})
	}
	return "h1:" + base64.StdEncoding.EncodeToString(h.Sum(nil))
}

type (
	// Repository is the catalog of change scripts shipped with an application.
	Repository struct {
		scripts   []*ChangeScript
		versions  map[Version]*ChangeScript
		normalize *ChangeScript
	}

	// RepositoryOption configures a Repository.
	RepositoryOption func(*repoOptions)

	repoOptions struct {
		normalizeFile string
	}
)

// WithNormalizeFile sets the name of the normalization script.
// An empty name disables normalization scripts for the Repository.
func WithNormalizeFile(name string) RepositoryOption {
	return func(o *repoOptions) {
		o.normalizeFile = name
	}
}

// NewRepository loads and validates all scripts stored in the given Dir.
func NewRepository(dir Dir, opts ...RepositoryOption) (*Repository, error) {
	o := &repoOptions{normalizeFile: DefaultNormalizeFile}
	for _, opt := range opts {
		opt(o)
	}
	files, err := dir.Files()
	if err != nil {
		return nil, &RepositoryError{Err: err}
	}
	r := &Repository{versions: make(map[Version]*ChangeScript)}
	for _, f := range files {
		if o.normalizeFile != "" && f.Name() == o.normalizeFile {
			if r.normalize, err = NewNormalizationScript(f.Name(), f.Bytes()); err != nil {
				return nil, err
			}
			continue
		}
		s, err := NewChangeScript(f.Name(), f.Bytes())
		if err != nil {
			return nil, err
		}
		r.scripts = append(r.scripts, s)
	}
	sort.SliceStable(r.scripts, func(i, j int) bool {
		return r.scripts[i].version.Less(r.scripts[j].version)
	})
	for i, s := range r.scripts {
		if i > 0 && r.scripts[i-1].version.Compare(s.version) == 0 {
			return nil, &RepositoryError{
				File: s.name,
				Err:  fmt.Errorf("duplicate version %s (also used by %q)", s.version, r.scripts[i-1].name),
			}
		}
		r.versions[s.version] = s
	}
	return r, nil
}

// AllScripts returns the versioned scripts in ascending version order.
func (r *Repository) AllScripts() []*ChangeScript {
	return append([]*ChangeScript(nil), r.scripts...)
}

// NormalizationScript returns the normalization script, or nil if there is none.
func (r *Repository) NormalizationScript() *ChangeScript {
	return r.normalize
}

// Script returns the script with the given version.
func (r *Repository) Script(v Version) (*ChangeScript, bool) {
	s, ok := r.versions[v]
	return s, ok
}

// Latest returns the highest version in the catalog.
func (r *Repository) Latest() Version {
	if len(r.scripts) == 0 {
		return Unversioned
	}
	return r.scripts[len(r.scripts)-1].version
}
