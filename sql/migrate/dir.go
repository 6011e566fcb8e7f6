// Copyright 2021-present The Atlas Authors. All rights reserved.
// This source code is licensed under the Apache 2.0 license found
// in the LICENSE file in the root directory of this source tree.

package migrate

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

type (
	// Dir wraps the functionality used to read the change scripts
	// of a database catalog.
	Dir interface {
		// Files returns a set of files stored in this directory.
		// Files are ordered by name.
		Files() ([]File, error)
	}

	// File represents a single file in a Dir.
	File interface {
		// Name returns the name of the file.
		Name() string
		// Bytes returns the raw content of the file.
		Bytes() []byte
	}
)

// LocalDir implements Dir for a local directory.
type LocalDir struct {
	path string
}

var _ Dir = (*LocalDir)(nil)

// NewLocalDir returns a new Dir used by the Repository to read scripts from.
func NewLocalDir(path string) (*LocalDir, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("sql/migrate: %w", err)
	}
	if !fi.IsDir() {
		return nil, fmt.Errorf("sql/migrate: %q is not a dir", path)
	}
	return &LocalDir{path: path}, nil
}

// Path returns the local path used for opening this dir.
func (d *LocalDir) Path() string {
	return d.path
}

// Files implements Dir.Files. It looks for all files with .sql suffix.
func (d *LocalDir) Files() ([]File, error) {
	names, err := fs.Glob(os.DirFS(d.path), "*.sql")
	if err != nil {
		return nil, err
	}
	files := make([]File, 0, len(names))
	for _, n := range names {
		b, err := os.ReadFile(filepath.Join(d.path, n))
		if err != nil {
			return nil, fmt.Errorf("sql/migrate: read file %q: %w", n, err)
		}
		files = append(files, NewLocalFile(n, b))
	}
	return files, nil
}

// FSDir implements Dir for an fs.FS, such as an embed.FS.
type FSDir struct {
	fsys fs.FS
	root string
}

// NewFSDir returns a Dir reading the .sql files placed under root in fsys.
func NewFSDir(fsys fs.FS, root string) *FSDir {
	if root == "" {
		root = "."
	}
	return &FSDir{fsys: fsys, root: root}
}

// Files implements Dir.Files.
func (d *FSDir) Files() ([]File, error) {
	names, err := fs.Glob(d.fsys, pathJoin(d.root, "*.sql"))
	if err != nil {
		return nil, err
	}
	files := make([]File, 0, len(names))
	for _, n := range names {
		b, err := fs.ReadFile(d.fsys, n)
		if err != nil {
			return nil, fmt.Errorf("sql/migrate: read file %q: %w", n, err)
		}
		files = append(files, NewLocalFile(filepath.Base(n), b))
	}
	return files, nil
}

func pathJoin(root, name string) string {
	if root == "." {
		return name
	}
	return strings.TrimSuffix(root, "/") + "/" + name
}

// MemDir provides an in-memory Dir implementation.
type MemDir struct {
	mu    sync.Mutex
	files map[string]*LocalFile
}

var _ Dir = (*MemDir)(nil)

// WriteFile adds a new file in-memory.
func (d *MemDir) WriteFile(name string, data []byte) error {
	if strings.ContainsAny(name, `/\`) {
		return errors.New("sql/migrate: nested paths are not supported by MemDir")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.files == nil {
		d.files = make(map[string]*LocalFile)
	}
	d.files[name] = NewLocalFile(name, data)
	return nil
}

// Files returns a list of all files stored in this directory, ordered by name.
func (d *MemDir) Files() ([]File, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	files := make([]File, 0, len(d.files))
	for _, f := range d.files {
		if filepath.Ext(f.n) == ".sql" {
			files = append(files, f)
		}
	}
	sort.Slice(files, func(i, j int) bool {
		return files[i].Name() < files[j].Name()
	})
	return files, nil
}

// LocalFile is used by LocalDir, FSDir and MemDir to implement the File interface.
type LocalFile struct {
	n string
	b []byte
}

var _ File = (*LocalFile)(nil)

// NewLocalFile returns a new local file.
func NewLocalFile(name string, data []byte) *LocalFile {
	return &LocalFile{n: name, b: data}
}

// Name returns the name of the file.
func (f *LocalFile) Name() string {
	return f.n
}

// Bytes returns local file data.
func (f *LocalFile) Bytes() []byte {
	return f.b
}

// StmtDecls returns the all statement declarations exist in the file.
func (f *LocalFile) StmtDecls() ([]*Stmt, error) {
	stmts, _, err := stmts(string(f.b))
	return stmts, err
}

// Stmts returns the SQL statements exists in the file.
func (f *LocalFile) Stmts() ([]string, error) {
	s, err := f.StmtDecls()
	if err != nil {
		return nil, err
	}
	stmts := make([]string, len(s))
	for i := range s {
		stmts[i] = s[i].Text
	}
	return stmts, nil
}

// nameParts splits a script file name of the form <version>[_<description>].sql.
func nameParts(name string) (string, string) {
	base := strings.TrimSuffix(filepath.Base(name), filepath.Ext(name))
	v, desc, _ := strings.Cut(base, "_")
	return v, strings.ReplaceAll(desc, "_", " ")
}
