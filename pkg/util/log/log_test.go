// Copyright 2026 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package log

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/cockroachdb/redact"
	"github.com/stretchr/testify/require"
)

func TestLogTagsAndRedaction(t *testing.T) {
	var buf bytes.Buffer
	defer SetOutput(&buf)()

	ctx := WithTag(context.Background(), "domain", 3)
	ctx = WithTag(ctx, "s", 1)
	Infof(ctx, "filled key %s with %d rows", "secret", 4)
	out := buf.String()
	require.Contains(t, out, "[domain=3,s1] filled key secret with 4 rows")
	require.Equal(t, byte('I'), out[0])

	buf.Reset()
	SetRedactable(true)
	defer SetRedactable(false)
	Warningf(ctx, "key %s safe %s", "secret", redact.Safe("visible"))
	require.Contains(t, buf.String(), "key ‹secret› safe visible")
}

func TestSeverityAndVerbosity(t *testing.T) {
	var buf bytes.Buffer
	defer SetOutput(&buf)()

	VEventf(context.Background(), 2, "hidden")
	require.Empty(t, buf.String())

	SetVerbosity(2)
	defer SetVerbosity(0)
	VEventf(context.Background(), 2, "shown")
	require.Contains(t, buf.String(), "shown")

	buf.Reset()
	SetMinSeverity(ERROR)
	defer SetMinSeverity(INFO)
	Warningf(context.Background(), "dropped")
	Errorf(context.Background(), "kept")
	require.NotContains(t, buf.String(), "dropped")
	require.Contains(t, buf.String(), "kept")
}

func TestFatalUsesExitFunc(t *testing.T) {
	var buf bytes.Buffer
	defer SetOutput(&buf)()

	var code int
	SetExitFunc(true, func(c int) { code = c })
	defer ResetExitFunc()
	Fatalf(context.Background(), "boom")
	require.Equal(t, 2, code)
	require.Contains(t, buf.String(), "boom")
}

func TestEveryN(t *testing.T) {
	e := EveryN{N: time.Minute}
	start := time.Now()
	require.True(t, e.shouldProcess(start))
	require.False(t, e.shouldProcess(start.Add(time.Second)))
	require.True(t, e.shouldProcess(start.Add(2*time.Minute)))
}
