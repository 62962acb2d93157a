// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package treesync copies directory trees between live data and snapshot
// repositories.
//
// Sync is write/overwrite only: entries present in the destination but not
// in the source are left alone.
package treesync

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
)

// ErrSourceNotFound indicates the sync source does not exist.
var ErrSourceNotFound = errors.New("sync source not found")

// vcsDirs are metadata directories that are never copied.
var vcsDirs = map[string]bool{
	".git": true,
	".hg":  true,
	".svn": true,
	".bzr": true,
}

// Stager stages copied files into a repository.
//
// *gitcli.Repository satisfies this interface.
type Stager interface {
	AddFiles(ctx context.Context, paths ...string) error
}

// Options tunes a Sync call.
type Options struct {
	// Filter, when set, is called with the slash-separated path relative to
	// the source root. Returning false skips the entry (and its subtree for
	// directories).
	Filter func(rel string, d fs.DirEntry) bool

	// PreservePermissions copies the source file mode. Otherwise files are
	// written 0644 and directories 0755.
	PreservePermissions bool

	// Logger receives debug output. Default: slog.Default().
	Logger *slog.Logger
}

// Result summarizes a Sync call.
type Result struct {
	// Files lists destination paths written, in walk order.
	Files []string

	// Dirs counts destination directories created or confirmed.
	Dirs int

	// Bytes counts file bytes copied.
	Bytes int64
}

// Sync mirrors src into dst.
//
// # Description
//
// If src is a directory every entry below it is copied into dst, skipping
// version-control metadata directories. If src is a single file it is copied
// to dst/<base(src)>. When stager is non-nil all copied destination paths are
// staged once the copy finishes, so a commit taken right afterwards records
// exactly the files just written.
//
// # Inputs
//
//   - ctx: Checked between entries.
//   - src: Source file or directory.
//   - dst: Destination directory, created when absent.
//   - stager: Optional repository to stage into.
//   - opts: Filtering and permission options.
//
// # Outputs
//
//   - Result: Files written and byte counts.
//   - error: ErrSourceNotFound, a filesystem error or a staging error.
func Sync(ctx context.Context, src, dst string, stager Stager, opts Options) (Result, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	info, err := os.Stat(src)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Result{}, fmt.Errorf("%w: %s", ErrSourceNotFound, src)
		}
		return Result{}, fmt.Errorf("stat %s: %w", src, err)
	}

	var res Result
	if info.IsDir() {
		err = copyTree(ctx, src, dst, opts, &res)
	} else {
		err = copySingle(src, dst, info, opts, &res)
	}
	if err != nil {
		return res, err
	}

	logger.Debug("synchronized tree",
		"src", src,
		"dst", dst,
		"files", len(res.Files),
		"bytes", res.Bytes)

	if stager != nil && len(res.Files) > 0 {
		if err := stager.AddFiles(ctx, res.Files...); err != nil {
			return res, fmt.Errorf("staging %d files: %w", len(res.Files), err)
		}
	}
	return res, nil
}

func copySingle(src, dst string, info fs.FileInfo, opts Options, res *Result) error {
	if err := os.MkdirAll(dst, dirMode(nil, opts)); err != nil {
		return fmt.Errorf("creating %s: %w", dst, err)
	}
	res.Dirs++
	target := filepath.Join(dst, filepath.Base(src))
	n, err := copyFile(src, target, fileMode(info, opts))
	if err != nil {
		return err
	}
	res.Files = append(res.Files, target)
	res.Bytes += n
	return nil
}

func copyTree(ctx context.Context, src, dst string, opts Options, res *Result) error {
	// WalkDir does not descend into a symlinked root, and live worlds are
	// often symlinks into another volume.
	root, err := filepath.EvalSymlinks(src)
	if err != nil {
		return fmt.Errorf("resolving %s: %w", src, err)
	}
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		slashRel := filepath.ToSlash(rel)

		if d.IsDir() && vcsDirs[d.Name()] && rel != "." {
			return filepath.SkipDir
		}
		if rel != "." && opts.Filter != nil && !opts.Filter(slashRel, d) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		target := filepath.Join(dst, rel)
		switch {
		case d.IsDir():
			info, err := d.Info()
			if err != nil {
				return err
			}
			if err := os.MkdirAll(target, dirMode(info, opts)); err != nil {
				return fmt.Errorf("creating %s: %w", target, err)
			}
			res.Dirs++

		case d.Type()&fs.ModeSymlink != 0:
			if err := copySymlink(path, target); err != nil {
				return err
			}
			res.Files = append(res.Files, target)

		case d.Type().IsRegular():
			info, err := d.Info()
			if err != nil {
				return err
			}
			n, err := copyFile(path, target, fileMode(info, opts))
			if err != nil {
				return err
			}
			res.Files = append(res.Files, target)
			res.Bytes += n
		}
		// Sockets, devices and pipes are skipped.
		return nil
	})
}

// copyFile writes src to a temp file beside dst and renames it into place
// so a crash never leaves a half-written destination.
func copyFile(src, dst string, mode fs.FileMode) (int64, error) {
	in, err := os.Open(src)
	if err != nil {
		return 0, fmt.Errorf("opening %s: %w", src, err)
	}
	defer in.Close()

	tmp, err := os.CreateTemp(filepath.Dir(dst), "."+filepath.Base(dst)+".tmp-*")
	if err != nil {
		return 0, fmt.Errorf("creating temp file for %s: %w", dst, err)
	}
	tmpName := tmp.Name()

	n, err := io.Copy(tmp, in)
	if err == nil {
		err = tmp.Chmod(mode)
	}
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tmpName)
		return 0, fmt.Errorf("copying %s: %w", src, err)
	}

	if err := os.Rename(tmpName, dst); err != nil {
		os.Remove(tmpName)
		return 0, fmt.Errorf("replacing %s: %w", dst, err)
	}
	return n, nil
}

func copySymlink(src, dst string) error {
	link, err := os.Readlink(src)
	if err != nil {
		return fmt.Errorf("reading link %s: %w", src, err)
	}
	if err := os.Remove(dst); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("replacing %s: %w", dst, err)
	}
	if err := os.Symlink(link, dst); err != nil {
		return fmt.Errorf("creating link %s: %w", dst, err)
	}
	return nil
}

func fileMode(info fs.FileInfo, opts Options) fs.FileMode {
	if opts.PreservePermissions && info != nil {
		return info.Mode().Perm()
	}
	return 0o644
}

func dirMode(info fs.FileInfo, opts Options) fs.FileMode {
	if opts.PreservePermissions && info != nil {
		return info.Mode().Perm()
	}
	return 0o755
}
