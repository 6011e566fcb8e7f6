// Copyright 2021-present The Atlas Authors. All rights reserved.
// This source code is licensed under the Apache 2.0 license found
// in the LICENSE file in the root directory of this source tree.

package cmdapi

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/cjwang/nHydrate/sql/migrate"
	"github.com/cjwang/nHydrate/sql/sqlclient"
	_ "github.com/cjwang/nHydrate/sql/sqlite"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"
)

func init() {
	color.NoColor = true
}

func runCmd(cmd *cobra.Command, args ...string) (string, error) {
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	// Cobra checks for the args to equal nil and if so uses os.Args[1:].
	// In tests, this leads to go tooling arguments being part of the command arguments.
	if args == nil {
		args = []string{}
	}
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

// scripts creates a scripts directory with the given files.
func scripts(t *testing.T, files map[string]string) string {
	dir := filepath.Join(t.TempDir(), "scripts")
	require.NoError(t, os.Mkdir(dir, 0755))
	for n, s := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, n), []byte(s), 0644))
	}
	return dir
}

func sqliteURL(t *testing.T) string {
	return "sqlite://" + filepath.ToSlash(filepath.Join(t.TempDir(), "app.db"))
}

func applied(t *testing.T, u string) []migrate.Version {
	c, err := sqlclient.Open(context.Background(), u)
	require.NoError(t, err)
	defer c.Close()
	entries, err := c.Ledger(migrate.DefaultLedgerTable).Entries(context.Background(), c)
	require.NoError(t, err)
	vs := make([]migrate.Version, len(entries))
	for i, e := range entries {
		vs[i] = e.Version
	}
	return vs
}

func TestInstall_Upgrade(t *testing.T) {
	dir := scripts(t, map[string]string{
		"1_users.sql": "CREATE TABLE users (id int);",
		"2_posts.sql": "CREATE TABLE posts (id int);\nINSERT INTO posts VALUES (1);",
	})
	u := sqliteURL(t)
	out, err := runCmd(NewRoot(), "install", "-u", u, "--dir", dir, "--showsql")
	require.NoError(t, err)
	require.Contains(t, out, "Installing version 2 (2 steps in total):")
	require.Contains(t, out, "-> INSERT INTO posts VALUES (1);")
	require.Contains(t, out, "-- 3 sql statements")
	require.Equal(t, []migrate.Version{"1", "2"}, applied(t, u))

	out, err = runCmd(NewRoot(), "install", "-u", u, "--dir", dir)
	require.NoError(t, err)
	require.Equal(t, "The database is up to date, no scripts to execute\n", out)

	out, err = runCmd(NewRoot(), "install", "-u", u, "--dir", dir, "--format", "{{ .Outcome }}|{{ len .Steps }}")
	require.NoError(t, err)
	require.Equal(t, "Success|0", out)
}

func TestInstall_Summary(t *testing.T) {
	dir := scripts(t, map[string]string{
		"1_users.sql": "CREATE TABLE users (id int);",
	})
	u := sqliteURL(t)
	out, err := runCmd(NewRoot(), "install", "-u", u, "--dir", dir, "--format", "summary")
	require.NoError(t, err)
	require.Equal(t, "Installed 1 steps to 1: Success\n", out)

	_, err = runCmd(NewRoot(), "install", "-u", u, "--dir", dir, "--format", "{{ .Outcome")
	require.ErrorContains(t, err, "parse format")
}

func TestInstall_Blocked(t *testing.T) {
	dir := scripts(t, map[string]string{
		"1_users.sql": "CREATE TABLE users (id int);",
	})
	u := sqliteURL(t)
	_, err := runCmd(NewRoot(), "install", "-u", u, "--dir", dir)
	require.NoError(t, err)

	// Drift of an applied script.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "1_users.sql"), []byte("CREATE TABLE users (id bigint);"), 0644))
	out, err := runCmd(NewRoot(), "install", "-u", u, "--dir", dir)
	require.ErrorIs(t, err, errBlocked)
	require.Contains(t, out, "Install blocked by version warnings:")
	require.Contains(t, out, "version 1: script content changed since last apply")

	// New scripts are blocked only if not accepted.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "1_users.sql"), []byte("CREATE TABLE users (id int);"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "2_posts.sql"), []byte("CREATE TABLE posts (id int);"), 0644))
	out, err = runCmd(NewRoot(), "install", "-u", u, "--dir", dir, "--accept-new=false")
	require.ErrorIs(t, err, errBlocked)
	require.Contains(t, out, "version 2: new script pending acceptance")
	require.Equal(t, []migrate.Version{"1"}, applied(t, u))

	_, err = runCmd(NewRoot(), "install", "-u", u, "--dir", dir, "--accept-new=false", "--acceptwarnings")
	require.NoError(t, err)
	require.Equal(t, []migrate.Version{"1", "2"}, applied(t, u))
}

func TestInstall_Failure(t *testing.T) {
	dir := scripts(t, map[string]string{
		"1_users.sql": "CREATE TABLE users (id int);",
		"2_posts.sql": "CREATE TABLE users (id int);",
	})
	u := sqliteURL(t)
	out, err := runCmd(NewRoot(), "install", "-u", u, "--dir", dir)
	require.Error(t, err)
	var ee *migrate.ExecutionError
	require.ErrorAs(t, err, &ee)
	require.Equal(t, migrate.Version("2"), ee.Version)
	require.Contains(t, out, "rolled back all changes of this run")
	require.Empty(t, applied(t, u))

	_, err = runCmd(NewRoot(), "install", "-u", u, "--dir", dir, "--notran")
	require.Error(t, err)
	require.Equal(t, []migrate.Version{"1"}, applied(t, u))

	_, err = runCmd(NewRoot(), "install", "-u", u, "--dir", dir, "--notran", "--tx-mode", "file")
	require.Error(t, err)
}

func TestInstall_ScriptFile(t *testing.T) {
	dir := scripts(t, map[string]string{
		"1_users.sql": "CREATE TABLE users (id int);",
	})
	out := filepath.Join(t.TempDir(), "install.sql")
	require.NoError(t, os.WriteFile(out, []byte("-- header\n"), 0644))
	// Unknown switches are passed as arguments.
	_, err := runCmd(NewRoot(), LegacyArgs([]string{"/create", "/scriptfile:" + out, "/dir:ignored"})...)
	require.ErrorContains(t, err, `unknown command "/dir:ignored"`)

	_, err = runCmd(NewRoot(), append(LegacyArgs([]string{"/create", "/scriptfile:" + out, "/scriptfileaction:append"}), "--dir", dir)...)
	require.NoError(t, err)
	b, err := os.ReadFile(out)
	require.NoError(t, err)
	require.Equal(t, "-- header\n-- version 1 (new): 1_users.sql\nCREATE TABLE users (id int);\n\n", string(b))
}

func TestInstall_Create(t *testing.T) {
	dir := scripts(t, map[string]string{
		"1_users.sql": "CREATE TABLE users (id int);",
	})
	master := "sqlite://" + filepath.ToSlash(t.TempDir())
	_, err := runCmd(NewRoot(), "install", "--create", "--master", master, "--newdb", "app", "--dir", dir)
	require.NoError(t, err)
	u := master + "/app.db"
	require.Equal(t, []migrate.Version{"1"}, applied(t, u))

	_, err = runCmd(NewRoot(), "install", "--create", "--master", master, "--newdb", "app", "--dir", dir)
	require.ErrorIs(t, err, sqlclient.ErrDatabaseExists)

	_, err = runCmd(NewRoot(), "install", "--create", "--master", master, "--newdb", "app", "--dir", dir, "--overwrite")
	require.NoError(t, err)

	_, err = runCmd(NewRoot(), "install", "--create", "--upgrade", "--master", master, "--newdb", "app", "--dir", dir)
	require.Error(t, err)

	_, err = runCmd(NewRoot(), "install", "--create", "--dir", dir)
	require.EqualError(t, err, "installer: create mode requires a master connection string")
}

func TestStatus(t *testing.T) {
	dir := scripts(t, map[string]string{
		"1_users.sql": "CREATE TABLE users (id int);",
	})
	u := sqliteURL(t)
	out, err := runCmd(NewRoot(), "status", "-u", u, "--dir", dir)
	require.NoError(t, err)
	require.Equal(t, `Install Status: PENDING
  -- Current Version: unversioned
  -- Latest Version:  1
  -- Applied Scripts: 0
  -- Pending Steps:   1
`, out)

	_, err = runCmd(NewRoot(), "install", "-u", u, "--dir", dir)
	require.NoError(t, err)
	out, err = runCmd(NewRoot(), "status", "-u", u, "--dir", dir, "--format", "{{ .Status }} {{ .Current }} {{ .Env.Driver }}")
	require.NoError(t, err)
	require.Equal(t, "OK 1 sqlite", out)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "1_users.sql"), []byte("CREATE TABLE users (id bigint);"), 0644))
	out, err = runCmd(NewRoot(), "status", "-u", u, "--dir", dir, "--format", "{{ .Status }}{{ range .Warnings }}|{{ . }}{{ end }}")
	require.NoError(t, err)
	require.Equal(t, "BLOCKED|version 1: script content changed since last apply", out)

	out, err = runCmd(NewRoot(), "status", "-u", u, "--dir", dir, "--format", "{{ table . }}")
	require.NoError(t, err)
	require.Contains(t, out, "SIGNATURE")
	require.Contains(t, out, "pending (changed)")
}

func TestInstall_LedgerTable(t *testing.T) {
	dir := scripts(t, map[string]string{
		"1_users.sql": "CREATE TABLE users (id int);",
	})
	u := sqliteURL(t)
	_, err := runCmd(NewRoot(), "install", "-u", u, "--dir", dir, "--ledger-table", "versions")
	require.NoError(t, err)
	c, err := sqlclient.Open(context.Background(), u)
	require.NoError(t, err)
	defer c.Close()
	var n int
	require.NoError(t, c.DB.QueryRow("SELECT COUNT(*) FROM versions").Scan(&n))
	require.Equal(t, 1, n)
	require.ErrorContains(t, c.DB.QueryRow("SELECT COUNT(*) FROM "+migrate.DefaultLedgerTable).Scan(&n), "no such table")
}

func TestRoot_NoArgs(t *testing.T) {
	out, err := runCmd(NewRoot())
	require.ErrorIs(t, err, errNoCommand)
	require.Contains(t, out, "Available Commands:")
}

func TestUsage(t *testing.T) {
	out, err := runCmd(NewRoot(), LegacyArgs([]string{"/?"})...)
	require.NoError(t, err)
	require.Equal(t, usageText, out)
}

func TestVersion(t *testing.T) {
	out, err := runCmd(NewRoot(), "version")
	require.NoError(t, err)
	require.Equal(t, "installer version - development\nhttps://github.com/cjwang/nHydrate/releases/latest\n", out)

	v, u := parse("v1.2.0")
	require.Equal(t, "v1.2.0", v)
	require.Equal(t, "https://github.com/cjwang/nHydrate/releases/tag/v1.2.0", u)
	v, u = parse("v1.2.0-canary")
	require.Equal(t, "v1.2.0-canary", v)
	require.Equal(t, "https://github.com/cjwang/nHydrate/releases/latest", u)
}

func TestVars(t *testing.T) {
	var vs Vars
	require.NoError(t, vs.Set("a=b,c=d"))
	require.NoError(t, vs.Set("a=x"))
	require.Equal(t, "b", vs["a"].AsValueSlice()[0].AsString())
	require.Equal(t, "x", vs["a"].AsValueSlice()[1].AsString())
	require.Equal(t, "d", vs["c"].AsString())
	require.Error(t, vs.Set("a"))
}
