// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package lock

import (
	"os"
)

// FileLocker abstracts platform file locking.
//
// # Description
//
// Unix uses flock(2), Windows uses LockFileEx. Both are advisory, exclusive
// and non-blocking, and are released by the kernel when the holder exits,
// so a crashed engine never leaves a repository locked.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use on different files.
type FileLocker interface {
	// Lock takes an exclusive lock or returns ErrLocked immediately.
	Lock(f *os.File) error

	// Unlock releases a lock taken by Lock.
	Unlock(f *os.File) error
}

// IsProcessAlive reports whether pid names a running process. Used only to
// annotate holder information; lock ownership is decided by the kernel.
func IsProcessAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	return isProcessAlive(pid)
}
