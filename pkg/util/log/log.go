// Copyright 2026 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

// Package log implements leveled, context-tagged logging for the engine.
//
// Every entry carries the logtags attached to its context (for example
// the domain and shard a message originates from) and is rendered through
// redact so that user data (row contents, keys) is wrapped in redaction
// markers. Markers are stripped on output unless SetRedactable(true) has
// been called.
package log

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/logtags"
	"github.com/cockroachdb/redact"
	"github.com/cockroachdb/viewflow/pkg/util/syncutil"
)

// Severity identifies the importance of a log entry.
type Severity int32

// Severity levels, in increasing order.
const (
	INFO Severity = iota
	WARNING
	ERROR
	FATAL
)

var severityChar = [...]byte{'I', 'W', 'E', 'F'}

// String implements fmt.Stringer.
func (s Severity) String() string {
	switch s {
	case INFO:
		return "INFO"
	case WARNING:
		return "WARNING"
	case ERROR:
		return "ERROR"
	case FATAL:
		return "FATAL"
	}
	return fmt.Sprintf("Severity(%d)", int32(s))
}

var logging struct {
	verbosity  atomic.Int32
	minSev     atomic.Int32
	redactable atomic.Bool

	mu struct {
		syncutil.Mutex
		w            io.Writer
		exitOverride struct {
			f         func(int)
			hideStack bool
		}
	}
}

func init() {
	logging.mu.w = os.Stderr
}

// SetOutput redirects log output to w and returns a function restoring the
// previous writer.
func SetOutput(w io.Writer) (restore func()) {
	logging.mu.Lock()
	defer logging.mu.Unlock()
	prev := logging.mu.w
	logging.mu.w = w
	return func() {
		logging.mu.Lock()
		defer logging.mu.Unlock()
		logging.mu.w = prev
	}
}

// SetVerbosity sets the level up to which V returns true.
func SetVerbosity(level int) {
	logging.verbosity.Store(int32(level))
}

// SetMinSeverity suppresses entries below sev.
func SetMinSeverity(sev Severity) {
	logging.minSev.Store(int32(sev))
}

// SetRedactable controls whether redaction markers are kept in the output.
func SetRedactable(keep bool) {
	logging.redactable.Store(keep)
}

// V returns true if the configured verbosity is at least level.
func V(level int32) bool {
	return logging.verbosity.Load() >= level
}

// Infof logs to the INFO severity.
func Infof(ctx context.Context, format string, args ...interface{}) {
	logDepth(ctx, 1, INFO, format, args)
}

// Warningf logs to the WARNING severity.
func Warningf(ctx context.Context, format string, args ...interface{}) {
	logDepth(ctx, 1, WARNING, format, args)
}

// Errorf logs to the ERROR severity.
func Errorf(ctx context.Context, format string, args ...interface{}) {
	logDepth(ctx, 1, ERROR, format, args)
}

// Fatalf logs to the FATAL severity and exits the process, or calls the
// function installed with SetExitFunc.
func Fatalf(ctx context.Context, format string, args ...interface{}) {
	logDepth(ctx, 1, FATAL, format, args)
	exit(2)
}

// VEventf logs to INFO if the verbosity is at least level.
func VEventf(ctx context.Context, level int32, format string, args ...interface{}) {
	if V(level) {
		logDepth(ctx, 1, INFO, format, args)
	}
}

// InfofDepth logs to INFO, attributing the entry to the caller depth frames
// above the caller.
func InfofDepth(ctx context.Context, depth int, format string, args ...interface{}) {
	logDepth(ctx, depth+1, INFO, format, args)
}

func logDepth(ctx context.Context, depth int, sev Severity, format string, args []interface{}) {
	if sev < Severity(logging.minSev.Load()) {
		return
	}
	msg := redact.Sprintf(format, args...)
	if !logging.redactable.Load() {
		msg = redact.RedactableString(msg.StripMarkers())
	}

	var buf strings.Builder
	now := time.Now()
	buf.WriteByte(severityChar[sev])
	buf.WriteString(now.Format("060102 15:04:05.000000"))
	if _, file, line, ok := runtime.Caller(depth + 1); ok {
		fmt.Fprintf(&buf, " %s:%d", filepath.Base(file), line)
	}
	buf.WriteByte(' ')
	formatTags(ctx, &buf)
	buf.WriteString(string(msg))
	if !strings.HasSuffix(string(msg), "\n") {
		buf.WriteByte('\n')
	}

	logging.mu.Lock()
	defer logging.mu.Unlock()
	_, _ = io.WriteString(logging.mu.w, buf.String())
}

// formatTags writes the context tags in brackets, followed by a space.
func formatTags(ctx context.Context, buf *strings.Builder) {
	tags := logtags.FromContext(ctx)
	if tags == nil || len(tags.Get()) == 0 {
		return
	}
	buf.WriteByte('[')
	for i, t := range tags.Get() {
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.WriteString(t.Key())
		if v := t.Value(); v != nil {
			if len(t.Key()) > 1 {
				buf.WriteByte('=')
			}
			fmt.Fprint(buf, v)
		}
	}
	buf.WriteString("] ")
}

// FormatWithContextTags formats the string and prepends the context tags.
// Redaction markers are not inserted.
func FormatWithContextTags(ctx context.Context, format string, args ...interface{}) string {
	var buf strings.Builder
	formatTags(ctx, &buf)
	fmt.Fprintf(&buf, format, args...)
	return buf.String()
}
