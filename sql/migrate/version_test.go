// Copyright 2021-present The Atlas Authors. All rights reserved.
// This source code is licensed under the Apache 2.0 license found
// in the LICENSE file in the root directory of this source tree.

package migrate

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestVersion_Compare(t *testing.T) {
	for _, tt := range []struct {
		v, u Version
		want int
	}{
		{"1", "1", 0},
		{"1", "2", -1},
		{"10", "9", 1},
		{"001", "1", 0},
		{"20230101120000", "20221231235959", 1},
		{"99999999999999999999999", "100000000000000000000000", -1},
		{"v1.2.0", "v1.10.0", -1},
		{"v2.0.0", "v2.0.0-rc1", 1},
		{"1.9.0", "1.10.0", -1},
		{"1.0.0.10", "1.0.0.9", 1},
		{"1.2", "1.2.0", -1},
		{"1.02.3", "1.2.3", 0},
		{"2", "10", -1},
		{"10", "v1.0.0", -1},
		{"v1.0.0", "20230101120000", 1},
		{Unversioned, "1", -1},
		{"1", Unversioned, 1},
		{Unversioned, Unversioned, 0},
	} {
		require.Equal(t, tt.want, tt.v.Compare(tt.u), "%s <=> %s", tt.v, tt.u)
	}
}

func TestValidVersion(t *testing.T) {
	require.True(t, ValidVersion("1"))
	require.True(t, ValidVersion("v1.2.0"))
	require.True(t, ValidVersion("20230101120000"))
	require.False(t, ValidVersion(""))
	require.False(t, ValidVersion("1 2"))
	require.False(t, ValidVersion("1/2"))
	require.False(t, ValidVersion("post"))
	require.True(t, ValidVersion("1.10.0"))
	require.True(t, ValidVersion("1.0.0.0"))
	require.False(t, ValidVersion("1a"))
	require.False(t, ValidVersion("1..2"))
	require.False(t, ValidVersion("1.2."))
	require.False(t, ValidVersion("v1.2.3.4"))
	require.Equal(t, "unversioned", Unversioned.String())
}

func TestVersion_CompareTotal(t *testing.T) {
	vs := []Version{Unversioned, "1", "2", "10", "1.9.0", "1.10.0", "1.0.0.0", "20230101120000", "v0.1.0", "v1.0.0-rc1", "v1.0.0"}
	for _, a := range vs {
		for _, b := range vs {
			require.Equal(t, -a.Compare(b), b.Compare(a), "%s <=> %s", a, b)
			for _, c := range vs {
				if a.Less(b) && b.Less(c) {
					require.True(t, a.Less(c), "%s < %s < %s", a, b, c)
				}
			}
		}
	}
}
