// Copyright 2026 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package build

import (
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGetInfo(t *testing.T) {
	defer TestingOverrideTag("v1.2.3")()
	info := GetInfo()
	require.Equal(t, "v1.2.3", info.Tag)
	require.Equal(t, runtime.Version(), info.GoVersion)
	require.True(t, strings.HasPrefix(info.Short(), "viewflow v1.2.3 ("), info.Short())
}
