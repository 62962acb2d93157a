// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package selector resolves rollback targets to concrete revisions.
//
// A Selector is one of: the most recent snapshot, an explicit revision id,
// a wall-clock timestamp embedded in snapshot commit messages, or a
// generation offset counted back from the newest snapshot.
package selector

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// TimestampLayout is the timestamp format written into snapshot commit
// messages and accepted from operators.
const TimestampLayout = "2006-01-02 15:04:05"

var (
	// ErrNoMatchingCommit indicates no commit message contains the timestamp.
	ErrNoMatchingCommit = errors.New("no commit matches timestamp")

	// ErrInvalidSelector indicates operator input that is not a recognizable
	// selector.
	ErrInvalidSelector = errors.New("invalid selector")
)

// Kind enumerates selector forms.
type Kind int

const (
	// KindLatest selects the most recent snapshot.
	KindLatest Kind = iota

	// KindRevision selects an explicit commit id.
	KindRevision

	// KindTimestamp selects the newest snapshot whose message carries the
	// timestamp.
	KindTimestamp

	// KindOffset selects the snapshot N generations before the newest.
	KindOffset
)

// String returns the lowercase kind name.
func (k Kind) String() string {
	switch k {
	case KindLatest:
		return "latest"
	case KindRevision:
		return "revision"
	case KindTimestamp:
		return "timestamp"
	case KindOffset:
		return "offset"
	default:
		return "unknown"
	}
}

// Selector identifies the historical revision a rollback restores.
type Selector struct {
	Kind      Kind
	Revision  string
	Timestamp time.Time
	Offset    int
}

// Latest selects the newest snapshot.
func Latest() Selector { return Selector{Kind: KindLatest} }

// Revision selects an explicit commit id.
func Revision(id string) Selector { return Selector{Kind: KindRevision, Revision: id} }

// Timestamp selects by snapshot time.
func Timestamp(ts time.Time) Selector { return Selector{Kind: KindTimestamp, Timestamp: ts} }

// Offset selects the snapshot n generations back.
func Offset(n int) Selector { return Selector{Kind: KindOffset, Offset: n} }

// String renders the selector in the form Parse accepts.
func (s Selector) String() string {
	switch s.Kind {
	case KindLatest:
		return "last"
	case KindRevision:
		return s.Revision
	case KindTimestamp:
		return s.Timestamp.Format(TimestampLayout)
	case KindOffset:
		return strconv.Itoa(s.Offset)
	default:
		return ""
	}
}

// Parse interprets operator input.
//
// # Description
//
// Accepted forms:
//
//   - "last" or "latest": the newest snapshot.
//   - "now": the snapshot taken at the current second, as reported by now.
//   - "YYYY-MM-DD HH:MM:SS": a snapshot timestamp, in now's location.
//   - a decimal number shorter than 7 digits: a generation offset.
//   - 7 to 40 hex characters: an explicit revision id.
//
// # Inputs
//
//   - text: Operator input.
//   - now: Clock used for "now" and for the timestamp location. nil means
//     time.Now.
//
// # Outputs
//
//   - Selector: Parsed selector.
//   - error: ErrInvalidSelector with a reason suitable for operators.
func Parse(text string, now func() time.Time) (Selector, error) {
	if now == nil {
		now = time.Now
	}
	s := strings.TrimSpace(text)
	lower := strings.ToLower(s)

	switch lower {
	case "":
		return Selector{}, fmt.Errorf("%w: empty selector", ErrInvalidSelector)
	case "last", "latest":
		return Latest(), nil
	case "now":
		return Timestamp(now().Truncate(time.Second)), nil
	}

	if ts, err := time.ParseInLocation(TimestampLayout, s, now().Location()); err == nil {
		return Timestamp(ts), nil
	}

	if isDigits(s) && len(s) < 7 {
		n, err := strconv.Atoi(s)
		if err != nil {
			return Selector{}, fmt.Errorf("%w: %v", ErrInvalidSelector, err)
		}
		return Offset(n), nil
	}

	if isHex(lower) {
		if len(lower) < 7 || len(lower) > 40 {
			return Selector{}, fmt.Errorf("%w: revision %q must be 7 to 40 hex characters", ErrInvalidSelector, s)
		}
		return Revision(lower), nil
	}

	return Selector{}, fmt.Errorf("%w: %q is not a revision, offset, timestamp or \"last\"", ErrInvalidSelector, s)
}

func isDigits(s string) bool {
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return s != ""
}

func isHex(s string) bool {
	for _, c := range s {
		if !(c >= '0' && c <= '9' || c >= 'a' && c <= 'f') {
			return false
		}
	}
	return s != ""
}
