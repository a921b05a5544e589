// Copyright 2026 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package log

import (
	"context"

	"github.com/cockroachdb/logtags"
)

// WithTag returns a context carrying the given log tag in addition to the
// ones already present.
func WithTag(ctx context.Context, key string, value interface{}) context.Context {
	return logtags.AddTag(ctx, key, value)
}

// WithLogTagsFromCtx returns a context with the log tags of fromCtx added
// to the ones already present in ctx.
func WithLogTagsFromCtx(ctx, fromCtx context.Context) context.Context {
	if tags := logtags.FromContext(fromCtx); tags != nil {
		return logtags.AddTags(ctx, tags)
	}
	return ctx
}
