// Copyright 2021-present The Atlas Authors. All rights reserved.
// This source code is licensed under the Apache 2.0 license found
// in the LICENSE file in the root directory of this source tree.

package migrate_test

import (
	"testing"

	"github.com/cjwang/nHydrate/sql/migrate"

	"github.com/stretchr/testify/require"
)

func TestBuildPlan(t *testing.T) {
	r, err := migrate.NewRepository(memDir(t,
		"1_init.sql", "CREATE TABLE t(c int);",
		"2_users.sql", "CREATE TABLE users(id int);",
		"3_pets.sql", "CREATE TABLE pets(id int);",
		"normalize.sql", "DELETE FROM t WHERE c IS NULL;",
	))
	require.NoError(t, err)
	s1, _ := r.Script("1")

	// Ledger at version 1 with a matching signature.
	entries := []*migrate.LedgerEntry{{Version: "1", Signature: s1.Signature()}}
	p := migrate.BuildPlan(r, "1", migrate.LookupEntries(entries), false)
	require.Equal(t, migrate.Version("1"), p.From)
	require.Equal(t, migrate.Version("3"), p.To)
	require.Equal(t, []migrate.Version{"2", "3"}, versions(p))
	require.True(t, p.Steps[0].IsNew)
	require.Equal(t, migrate.Version("1"), p.Steps[0].From)
	require.Equal(t, migrate.Version("2"), p.Steps[0].To)
	require.Equal(t, migrate.Version("2"), p.Steps[1].From)
	require.Equal(t, migrate.Version("3"), p.Steps[1].To)

	// Normalization is always the last step.
	p = migrate.BuildPlan(r, "1", migrate.LookupEntries(entries), true)
	require.Len(t, p.Steps, 3)
	require.True(t, p.Steps[2].IsNormalize())
	require.Equal(t, "normalize", p.Steps[2].Kind())
	require.Len(t, p.Pending(), 2)

	// Up to date.
	s2, _ := r.Script("2")
	s3, _ := r.Script("3")
	entries = append(entries,
		&migrate.LedgerEntry{Version: "2", Signature: s2.Signature()},
		&migrate.LedgerEntry{Version: "3", Signature: s3.Signature()},
	)
	p = migrate.BuildPlan(r, "3", migrate.LookupEntries(entries), false)
	require.True(t, p.Empty())
	require.Equal(t, migrate.Version("3"), p.To)
	p = migrate.BuildPlan(r, "3", migrate.LookupEntries(entries), true)
	require.Len(t, p.Steps, 1)
	require.Empty(t, p.Pending())
}

func TestBuildPlan_Changed(t *testing.T) {
	r, err := migrate.NewRepository(memDir(t,
		"1_init.sql", "CREATE TABLE t(c int);",
		"2_users.sql", "CREATE TABLE users(id int);",
		"3_pets.sql", "CREATE TABLE pets(id int);",
		"4_cars.sql", "CREATE TABLE cars(id int);",
	))
	require.NoError(t, err)
	s2, _ := r.Script("2")
	entries := []*migrate.LedgerEntry{
		{Version: "1", Signature: "h1:changed"},
		{Version: "2", Signature: s2.Signature()},
		{Version: "3", Signature: "h1:changed"},
	}
	p := migrate.BuildPlan(r, "3", migrate.LookupEntries(entries), false)
	require.Equal(t, []migrate.Version{"1", "3", "4"}, versions(p))
	require.True(t, p.Steps[0].IsChanged)
	require.False(t, p.Steps[0].IsNew)
	require.Equal(t, entries[0], p.Steps[0].Prior)
	require.Equal(t, "changed", p.Steps[0].Kind())
	require.True(t, p.Steps[1].IsChanged)
	require.True(t, p.Steps[2].IsNew)
	// Changed steps do not move the ledger version.
	require.Equal(t, migrate.Version("3"), p.Steps[0].To)
	require.Equal(t, migrate.Version("3"), p.Steps[2].From)
	require.Equal(t, migrate.Version("4"), p.To)
}

func TestBuildPlan_Gap(t *testing.T) {
	r, err := migrate.NewRepository(memDir(t,
		"1_init.sql", "CREATE TABLE t(c int);",
		"2_users.sql", "CREATE TABLE users(id int);",
		"3_pets.sql", "CREATE TABLE pets(id int);",
	))
	require.NoError(t, err)
	s1, _ := r.Script("1")
	s3, _ := r.Script("3")
	entries := []*migrate.LedgerEntry{
		{Version: "1", Signature: s1.Signature()},
		{Version: "3", Signature: s3.Signature()},
	}
	// Version 2 was added to the catalog after version 3 was applied.
	p := migrate.BuildPlan(r, "3", migrate.LookupEntries(entries), false)
	require.Equal(t, []migrate.Version{"2"}, versions(p))
	require.True(t, p.Steps[0].IsNew)
	require.Equal(t, migrate.Version("3"), p.Steps[0].To)
}

func TestBuildPlan_Deterministic(t *testing.T) {
	r, err := migrate.NewRepository(memDir(t,
		"20230101000000_a.sql", "SELECT 1;",
		"20230102000000_b.sql", "SELECT 2;",
		"20230103000000_c.sql", "SELECT 3;",
		"normalize.sql", "SELECT 4;",
	))
	require.NoError(t, err)
	entries := []*migrate.LedgerEntry{{Version: "20230101000000", Signature: "h1:x"}}
	p1 := migrate.BuildPlan(r, "20230101000000", migrate.LookupEntries(entries), true)
	for i := 0; i < 10; i++ {
		p2 := migrate.BuildPlan(r, "20230101000000", migrate.LookupEntries(entries), true)
		require.Equal(t, p1, p2)
	}
	require.Equal(t, []migrate.Version{"20230101000000", "20230102000000", "20230103000000", ""}, versions(p1))
}

func TestEvaluate(t *testing.T) {
	r, err := migrate.NewRepository(memDir(t,
		"1_init.sql", "CREATE TABLE t(c int);",
		"2_users.sql", "CREATE TABLE users(id int);",
		"normalize.sql", "SELECT 1;",
	))
	require.NoError(t, err)
	entries := []*migrate.LedgerEntry{{Version: "1", Signature: "h1:changed"}}
	p := migrate.BuildPlan(r, "1", migrate.LookupEntries(entries), true)

	d := migrate.Evaluate(p, migrate.Policy{})
	require.False(t, d.Proceed)
	require.Equal(t, []string{
		"version 1: script content changed since last apply",
		"version 2: new script pending acceptance",
	}, d.Warnings)

	d = migrate.Evaluate(p, migrate.Policy{AcceptNew: true})
	require.False(t, d.Proceed)
	require.Equal(t, []string{"version 1: script content changed since last apply"}, d.Warnings)

	d = migrate.Evaluate(p, migrate.Policy{AcceptChanged: true})
	require.False(t, d.Proceed)
	require.Equal(t, []string{"version 2: new script pending acceptance"}, d.Warnings)

	d = migrate.Evaluate(p, migrate.Policy{AcceptNew: true, AcceptChanged: true})
	require.True(t, d.Proceed)
	require.Empty(t, d.Warnings)

	// Normalization alone never warns.
	d = migrate.Evaluate(&migrate.Plan{Steps: p.Steps[2:]}, migrate.Policy{})
	require.True(t, d.Proceed)
}

func versions(p *migrate.Plan) []migrate.Version {
	vs := make([]migrate.Version, len(p.Steps))
	for i, s := range p.Steps {
		vs[i] = s.Version()
	}
	return vs
}
