// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package selector

import (
	"context"
	"fmt"
	"time"
)

// History is the read-only repository surface the resolver needs.
//
// *gitcli.Repository satisfies this interface.
type History interface {
	Grep(ctx context.Context, text string, paths ...string) ([]string, error)
	LastCommitID(ctx context.Context, skip int) (string, bool, error)
	LastFileCommitID(ctx context.Context, relPath string, skip int) (string, bool, error)
	ResolveRevision(ctx context.Context, rev string) (string, bool, error)
}

// ByTimestamp returns the newest commit whose message contains ts formatted
// with TimestampLayout. A non-empty path only matches commits touching it,
// so a player's timestamp never picks another player's save.
//
// Fails with ErrNoMatchingCommit when nothing matches.
func ByTimestamp(ctx context.Context, ts time.Time, h History, path string) (string, error) {
	stamp := ts.Format(TimestampLayout)
	var paths []string
	if path != "" {
		paths = append(paths, path)
	}
	ids, err := h.Grep(ctx, stamp, paths...)
	if err != nil {
		return "", fmt.Errorf("searching history for %s: %w", stamp, err)
	}
	if len(ids) == 0 {
		return "", fmt.Errorf("%w: %s", ErrNoMatchingCommit, stamp)
	}
	return ids[0], nil
}

// ByGenerationOffset returns the commit n snapshots before the newest.
//
// # Description
//
// When path is non-empty only commits touching path count, which is how a
// single player's history is walked inside the shared player repository.
// ok is false, without an error, when the history is too short; callers
// abort without mutating anything in that case.
func ByGenerationOffset(ctx context.Context, n int, h History, path string) (string, bool, error) {
	if n < 0 {
		return "", false, fmt.Errorf("%w: negative offset %d", ErrInvalidSelector, n)
	}
	if path != "" {
		return h.LastFileCommitID(ctx, path, n)
	}
	return h.LastCommitID(ctx, n)
}

// Resolver resolves any Selector against one repository.
type Resolver struct {
	History History

	// Path scopes offset, latest and timestamp lookups to one file. Empty
	// means the whole tree.
	Path string
}

// Resolve maps sel to a full commit id.
//
// # Outputs
//
//   - string: Commit id, empty when ok is false.
//   - bool: False when the selector names nothing in this history.
//   - error: Lookup failures; ErrNoMatchingCommit is reported as ok=false
//     together with the error so callers can surface the reason.
func (r Resolver) Resolve(ctx context.Context, sel Selector) (string, bool, error) {
	switch sel.Kind {
	case KindLatest:
		return ByGenerationOffset(ctx, 0, r.History, r.Path)
	case KindOffset:
		return ByGenerationOffset(ctx, sel.Offset, r.History, r.Path)
	case KindTimestamp:
		id, err := ByTimestamp(ctx, sel.Timestamp, r.History, r.Path)
		if err != nil {
			return "", false, err
		}
		return id, true, nil
	case KindRevision:
		return r.History.ResolveRevision(ctx, sel.Revision)
	default:
		return "", false, fmt.Errorf("%w: unknown kind %d", ErrInvalidSelector, sel.Kind)
	}
}
