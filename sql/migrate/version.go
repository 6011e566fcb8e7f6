// Copyright 2021-present The Atlas Authors. All rights reserved.
// This source code is licensed under the Apache 2.0 license found
// in the LICENSE file in the root directory of this source tree.

package migrate

import (
	"cmp"
	"strings"

	"golang.org/x/mod/semver"
)

// Version identifies a change script and the ledger entry recording it.
// Versions are ordered by Compare and not by their string values.
type Version string

// Unversioned is the version of a database that has no ledger.
const Unversioned Version = ""

// IsZero reports if v is Unversioned.
func (v Version) IsZero() bool { return v == Unversioned }

// String implements the fmt.Stringer interface.
func (v Version) String() string {
	if v.IsZero() {
		return "unversioned"
	}
	return string(v)
}

// Compare returns an integer comparing two versions. The result is 0 if v == u,
// -1 if v < u, and +1 if v > u. Numeric versions (e.g. 7, 1.10.0, 1.0.0.0 or
// 20230101120000) are compared component by component, and semantic versions
// (e.g. v1.2.0-rc1) by semver precedence. Unversioned sorts first and numeric
// versions sort before semantic ones.
func (v Version) Compare(u Version) int {
	if v == u {
		return 0
	}
	if k1, k2 := v.kind(), u.kind(); k1 != k2 {
		return cmp.Compare(k1, k2)
	}
	switch v.kind() {
	case kindNumeric:
		return compareTuple(string(v), string(u))
	case kindSemver:
		return semver.Compare(string(v), string(u))
	default:
		return strings.Compare(string(v), string(u))
	}
}

// Less reports if v is ordered before u.
func (v Version) Less(u Version) bool { return v.Compare(u) < 0 }

// ValidVersion reports if s can be used as a script version, that is, a
// dot-separated list of numbers or a semantic version with the "v" prefix.
func ValidVersion(s string) bool {
	k := Version(s).kind()
	return k == kindNumeric || k == kindSemver
}

type versionKind uint8

const (
	kindUnversioned versionKind = iota
	kindNumeric
	kindSemver
	kindInvalid
)

func (v Version) kind() versionKind {
	switch s := string(v); {
	case s == "":
		return kindUnversioned
	case isTuple(s):
		return kindNumeric
	case semver.IsValid(s):
		return kindSemver
	default:
		return kindInvalid
	}
}

// isTuple reports if s is a non-empty list of digit runs separated by dots.
func isTuple(s string) bool {
	for _, p := range strings.Split(s, ".") {
		if !isNumeric(p) {
			return false
		}
	}
	return true
}

func isNumeric(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return s != ""
}

// compareTuple compares two numeric versions component by component.
// A version that is a prefix of the other sorts first (1.2 < 1.2.0).
func compareTuple(a, b string) int {
	for {
		x, ra, moreA := strings.Cut(a, ".")
		y, rb, moreB := strings.Cut(b, ".")
		if c := compareNumeric(x, y); c != 0 {
			return c
		}
		switch {
		case !moreA && !moreB:
			return 0
		case !moreA:
			return -1
		case !moreB:
			return 1
		}
		a, b = ra, rb
	}
}

// compareNumeric compares two digit strings without converting
// them to integers, so long timestamps never overflow.
func compareNumeric(a, b string) int {
	a, b = strings.TrimLeft(a, "0"), strings.TrimLeft(b, "0")
	if len(a) != len(b) {
		return cmp.Compare(len(a), len(b))
	}
	return strings.Compare(a, b)
}
