// Copyright 2021-present The Atlas Authors. All rights reserved.
// This source code is licensed under the Apache 2.0 license found
// in the LICENSE file in the root directory of this source tree.

package migrate_test

import (
	"os"
	"path/filepath"
	"testing"
	"testing/fstest"

	"github.com/cjwang/nHydrate/sql/migrate"

	"github.com/stretchr/testify/require"
)

func TestNewRepository(t *testing.T) {
	var d migrate.MemDir
	require.NoError(t, d.WriteFile("10_add_index.sql", []byte("CREATE INDEX i ON t(c);")))
	require.NoError(t, d.WriteFile("2_add_column.sql", []byte("ALTER TABLE t ADD COLUMN d int;")))
	require.NoError(t, d.WriteFile("1_init.sql", []byte("CREATE TABLE t(c int);\nINSERT INTO t VALUES (1);")))
	require.NoError(t, d.WriteFile("normalize.sql", []byte("UPDATE t SET c = 0 WHERE c IS NULL;")))
	require.NoError(t, d.WriteFile("README.md", []byte("ignored")))
	r, err := migrate.NewRepository(&d)
	require.NoError(t, err)

	scripts := r.AllScripts()
	require.Len(t, scripts, 3)
	require.Equal(t, migrate.Version("1"), scripts[0].Version())
	require.Equal(t, migrate.Version("2"), scripts[1].Version())
	require.Equal(t, migrate.Version("10"), scripts[2].Version())
	require.Equal(t, "init", scripts[0].Desc())
	require.Equal(t, "add column", scripts[1].Desc())
	require.Equal(t, []string{"CREATE TABLE t(c int);", "INSERT INTO t VALUES (1);"}, scripts[0].Stmts())
	require.Equal(t, migrate.Signature(scripts[0].Stmts()), scripts[0].Signature())
	require.Equal(t, migrate.Version("10"), r.Latest())

	n := r.NormalizationScript()
	require.NotNil(t, n)
	require.True(t, n.IsNormalize())
	require.True(t, n.Version().IsZero())

	s, ok := r.Script("2")
	require.True(t, ok)
	require.Equal(t, "2_add_column.sql", s.Name())
	_, ok = r.Script("3")
	require.False(t, ok)

	// Mutating the returned statements does not change the script.
	stmts := scripts[0].Stmts()
	stmts[0] = "DROP TABLE t;"
	require.Equal(t, "CREATE TABLE t(c int);", scripts[0].Stmts()[0])
}

func TestNewRepository_Errors(t *testing.T) {
	var re *migrate.RepositoryError
	_, err := migrate.NewRepository(memDir(t, "1_a.sql", "SELECT 1;", "01_b.sql", "SELECT 2;"))
	require.ErrorAs(t, err, &re)
	require.Contains(t, err.Error(), "duplicate version")

	_, err = migrate.NewRepository(memDir(t, "1_a.sql", "-- nothing here\n"))
	require.ErrorAs(t, err, &re)
	require.Equal(t, "1_a.sql", re.File)
	require.EqualError(t, err, `sql/migrate: script "1_a.sql": no statements found`)

	_, err = migrate.NewRepository(memDir(t, "1_a.sql", "SELECT 'a;"))
	require.ErrorAs(t, err, &re)

	_, err = migrate.NewRepository(memDir(t, "normalize.sql", ""))
	require.ErrorAs(t, err, &re)

	// Normalization files can be renamed.
	d := memDir(t, "1_a.sql", "SELECT 1;", "post.sql", "SELECT 2;")
	_, err = migrate.NewRepository(d)
	require.ErrorAs(t, err, &re)
	r, err := migrate.NewRepository(d, migrate.WithNormalizeFile("post.sql"))
	require.NoError(t, err)
	require.NotNil(t, r.NormalizationScript())
	require.Len(t, r.AllScripts(), 1)
}

func TestNewRepository_DottedVersions(t *testing.T) {
	r, err := migrate.NewRepository(memDir(t,
		"1.10.0_b.sql", "SELECT 2;",
		"1.9.0_a.sql", "SELECT 1;",
		"1.10.0.1_c.sql", "SELECT 3;",
		"v2.0.0_d.sql", "SELECT 4;",
	))
	require.NoError(t, err)
	var got []migrate.Version
	for _, s := range r.AllScripts() {
		got = append(got, s.Version())
	}
	require.Equal(t, []migrate.Version{"1.9.0", "1.10.0", "1.10.0.1", "v2.0.0"}, got)
	require.Equal(t, migrate.Version("v2.0.0"), r.Latest())

	p := migrate.BuildPlan(r, "1.9.0", migrate.LookupEntries([]*migrate.LedgerEntry{
		{Version: "1.9.0", Signature: migrate.Signature([]string{"SELECT 1;"})},
	}), false)
	require.Len(t, p.Steps, 3)
	require.Equal(t, migrate.Version("1.10.0"), p.Steps[0].Version())
	require.Equal(t, migrate.Version("v2.0.0"), p.To)

	var re *migrate.RepositoryError
	_, err = migrate.NewRepository(memDir(t, "1a_bad.sql", "SELECT 1;"))
	require.ErrorAs(t, err, &re)
	require.Contains(t, err.Error(), `invalid version "1a"`)
	_, err = migrate.NewRepository(memDir(t, "1.2_a.sql", "SELECT 1;", "1.02_b.sql", "SELECT 2;"))
	require.ErrorAs(t, err, &re)
	require.Contains(t, err.Error(), "duplicate version")
}

// memDir returns a MemDir holding the given name and content pairs.
func memDir(t *testing.T, files ...string) *migrate.MemDir {
	d := &migrate.MemDir{}
	for i := 0; i < len(files); i += 2 {
		require.NoError(t, d.WriteFile(files[i], []byte(files[i+1])))
	}
	return d
}

func TestLocalDir(t *testing.T) {
	p := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(p, "1_init.sql"), []byte("CREATE TABLE t(c int);"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(p, "2.sql"), []byte("DROP TABLE t;"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(p, "atlas.sum"), []byte("x"), 0644))
	d, err := migrate.NewLocalDir(p)
	require.NoError(t, err)
	files, err := d.Files()
	require.NoError(t, err)
	require.Len(t, files, 2)
	require.Equal(t, "1_init.sql", files[0].Name())

	_, err = migrate.NewLocalDir(filepath.Join(p, "1_init.sql"))
	require.Error(t, err)
	_, err = migrate.NewLocalDir(filepath.Join(p, "missing"))
	require.Error(t, err)
}

func TestFSDir(t *testing.T) {
	fsys := fstest.MapFS{
		"scripts/1_init.sql":    {Data: []byte("CREATE TABLE t(c int);")},
		"scripts/normalize.sql": {Data: []byte("SELECT 1;")},
		"other/2.sql":           {Data: []byte("SELECT 2;")},
	}
	r, err := migrate.NewRepository(migrate.NewFSDir(fsys, "scripts"))
	require.NoError(t, err)
	require.Len(t, r.AllScripts(), 1)
	require.Equal(t, "1_init.sql", r.AllScripts()[0].Name())
	require.NotNil(t, r.NormalizationScript())
}
