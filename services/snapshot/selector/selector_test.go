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
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedClock() time.Time {
	return time.Date(2024, 1, 2, 3, 4, 5, 600, time.UTC)
}

func TestParse(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  Selector
		err   bool
	}{
		{"last", "last", Latest(), false},
		{"latest mixed case", " Latest ", Latest(), false},
		{"now", "now", Timestamp(time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)), false},
		{"timestamp", "2024-01-01 00:00:00", Timestamp(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)), false},
		{"offset", "3", Offset(3), false},
		{"offset zero", "0", Offset(0), false},
		{"short revision", "ABCDEF1", Revision("abcdef1"), false},
		{"full revision", "0123456789abcdef0123456789abcdef01234567", Revision("0123456789abcdef0123456789abcdef01234567"), false},
		{"seven digit number is a revision", "1234567", Revision("1234567"), false},
		{"six hex chars", "abcdef", Selector{}, true},
		{"too long hex", "0123456789abcdef0123456789abcdef012345678", Selector{}, true},
		{"empty", "  ", Selector{}, true},
		{"garbage", "yesterday", Selector{}, true},
		{"bad timestamp", "2024-13-01 00:00:00", Selector{}, true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Parse(tc.input, fixedClock)
			if tc.err {
				assert.ErrorIs(t, err, ErrInvalidSelector)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want.Kind, got.Kind)
			assert.Equal(t, tc.want.Revision, got.Revision)
			assert.Equal(t, tc.want.Offset, got.Offset)
			assert.True(t, tc.want.Timestamp.Equal(got.Timestamp), "timestamp %v != %v", tc.want.Timestamp, got.Timestamp)
		})
	}
}

func TestSelector_StringRoundTrip(t *testing.T) {
	for _, input := range []string{"last", "2024-01-01 00:00:00", "4", "abcdef1"} {
		sel, err := Parse(input, fixedClock)
		require.NoError(t, err)
		assert.Equal(t, input, sel.String())
	}
}

// fakeHistory implements History with func fields.
type fakeHistory struct {
	grep     func(text string, paths []string) ([]string, error)
	last     func(skip int) (string, bool, error)
	lastFile func(path string, skip int) (string, bool, error)
	resolve  func(rev string) (string, bool, error)
}

func (f *fakeHistory) Grep(_ context.Context, text string, paths ...string) ([]string, error) {
	return f.grep(text, paths)
}

func (f *fakeHistory) LastCommitID(_ context.Context, skip int) (string, bool, error) {
	return f.last(skip)
}

func (f *fakeHistory) LastFileCommitID(_ context.Context, path string, skip int) (string, bool, error) {
	return f.lastFile(path, skip)
}

func (f *fakeHistory) ResolveRevision(_ context.Context, rev string) (string, bool, error) {
	return f.resolve(rev)
}

func TestByTimestamp(t *testing.T) {
	var searched string
	var scoped []string
	h := &fakeHistory{grep: func(text string, paths []string) ([]string, error) {
		searched = text
		scoped = paths
		if text == "2024-01-01 00:00:00" {
			return []string{"newest", "older"}, nil
		}
		return []string{}, nil
	}}
	ctx := context.Background()

	id, err := ByTimestamp(ctx, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), h, "")
	require.NoError(t, err)
	assert.Equal(t, "newest", id)
	assert.Equal(t, "2024-01-01 00:00:00", searched)
	assert.Empty(t, scoped)

	_, err = ByTimestamp(ctx, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), h, "steve.dat")
	require.NoError(t, err)
	assert.Equal(t, []string{"steve.dat"}, scoped)

	_, err = ByTimestamp(ctx, time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC), h, "")
	assert.ErrorIs(t, err, ErrNoMatchingCommit)
}

func TestByGenerationOffset(t *testing.T) {
	history := []string{"c3", "c2", "c1"}
	h := &fakeHistory{
		last: func(skip int) (string, bool, error) {
			if skip >= len(history) {
				return "", false, nil
			}
			return history[skip], true, nil
		},
		lastFile: func(path string, skip int) (string, bool, error) {
			if path == "steve.dat" && skip == 0 {
				return "c2", true, nil
			}
			return "", false, nil
		},
	}
	ctx := context.Background()

	id, ok, err := ByGenerationOffset(ctx, 1, h, "")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "c2", id)

	_, ok, err = ByGenerationOffset(ctx, 3, h, "")
	require.NoError(t, err, "past history is not an error")
	assert.False(t, ok)

	id, ok, err = ByGenerationOffset(ctx, 0, h, "steve.dat")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "c2", id)

	_, _, err = ByGenerationOffset(ctx, -1, h, "")
	assert.ErrorIs(t, err, ErrInvalidSelector)
}

func TestResolver_Resolve(t *testing.T) {
	boom := errors.New("boom")
	h := &fakeHistory{
		grep: func(string, []string) ([]string, error) { return nil, boom },
		last: func(skip int) (string, bool, error) {
			return []string{"c3", "c2"}[skip], true, nil
		},
		resolve: func(rev string) (string, bool, error) {
			if rev == "abcdef1" {
				return "abcdef1000000000000000000000000000000000", true, nil
			}
			return "", false, nil
		},
	}
	r := Resolver{History: h}
	ctx := context.Background()

	id, ok, err := r.Resolve(ctx, Latest())
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "c3", id)

	id, _, err = r.Resolve(ctx, Offset(1))
	require.NoError(t, err)
	assert.Equal(t, "c2", id)

	id, ok, err = r.Resolve(ctx, Revision("abcdef1"))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Len(t, id, 40)

	_, ok, err = r.Resolve(ctx, Revision("1234567"))
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = r.Resolve(ctx, Timestamp(time.Now()))
	assert.ErrorIs(t, err, boom)
	assert.False(t, ok)
}
