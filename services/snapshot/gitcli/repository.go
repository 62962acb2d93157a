// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package gitcli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// DefaultPrimaryBranch is the branch snapshot commits are appended to.
const DefaultPrimaryBranch = "master"

// addBatchSize bounds the number of paths per "git add" invocation to stay
// below platform argument length limits.
const addBatchSize = 128

// Repository is a handle bound to one on-disk git repository.
//
// # Description
//
// The handle stores only the canonical root path and the runner; every verb
// passes the root explicitly to the subprocess, so a handle carries no
// working-directory state between calls.
//
// # Thread Safety
//
// Read-only verbs are safe for concurrent use. Mutating verbs on the same
// repository must be serialized by the caller (the scheduler does this per
// repository).
type Repository struct {
	root    string
	primary string
	runner  Runner
	logger  *slog.Logger
}

// Option configures a Repository.
type Option func(*options)

type options struct {
	runner  Runner
	primary string
	logger  *slog.Logger
}

// WithRunner sets the git runner. Default: NewExecRunner(RunnerConfig{}).
func WithRunner(r Runner) Option {
	return func(o *options) { o.runner = r }
}

// WithPrimaryBranch sets the primary branch name. Default: "master".
func WithPrimaryBranch(name string) Option {
	return func(o *options) { o.primary = name }
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

func buildOptions(opts []Option) options {
	o := options{primary: DefaultPrimaryBranch}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if o.runner == nil {
		o.runner = NewExecRunner(RunnerConfig{Logger: o.logger})
	}
	if o.primary == "" {
		o.primary = DefaultPrimaryBranch
	}
	return o
}

// Open binds a handle to an existing directory.
//
// # Description
//
// Resolves root to an absolute path with symlinks evaluated. The directory
// does not have to contain a repository yet; verbs will fail with
// ErrCommandFailed if it does not.
//
// # Inputs
//
//   - root: Repository root directory.
//   - opts: Handle options.
//
// # Outputs
//
//   - *Repository: Bound handle.
//   - error: *PathNotFoundError if root does not exist.
func Open(root string, opts ...Option) (*Repository, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving %s: %w", root, err)
	}
	canonical, err := filepath.EvalSymlinks(abs)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, &PathNotFoundError{Path: abs}
		}
		return nil, fmt.Errorf("resolving %s: %w", abs, err)
	}

	o := buildOptions(opts)
	return &Repository{
		root:    canonical,
		primary: o.primary,
		runner:  o.runner,
		logger:  o.logger.With("component", "gitcli.Repository", "repo", canonical),
	}, nil
}

// Init creates a new repository at root.
//
// # Description
//
// Creates root (and parents) when absent, runs "git init" and points HEAD at
// the primary branch so the first commit lands on it regardless of the
// user's init.defaultBranch setting.
//
// # Inputs
//
//   - ctx: Context for cancellation.
//   - root: Directory for the new repository.
//   - opts: Handle options.
//
// # Outputs
//
//   - *Repository: Handle bound to the new repository.
//   - error: ErrAlreadyExists if root already holds a repository, otherwise
//     an error wrapping ErrInitFailed.
func Init(ctx context.Context, root string, opts ...Option) (*Repository, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("%w: resolving %s: %v", ErrInitFailed, root, err)
	}

	if _, err := os.Stat(filepath.Join(abs, ".git")); err == nil {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyExists, abs)
	}

	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("%w: creating %s: %v", ErrInitFailed, abs, err)
	}

	repo, err := Open(abs, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInitFailed, err)
	}

	if _, err := repo.run(ctx, "init", "--quiet"); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInitFailed, err)
	}
	if _, err := repo.run(ctx, "symbolic-ref", "HEAD", "refs/heads/"+repo.primary); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInitFailed, err)
	}

	repo.logger.Info("initialized repository", "primary_branch", repo.primary)
	return repo, nil
}

// Root returns the canonical repository root.
func (r *Repository) Root() string { return r.root }

// GitDir returns the repository's metadata directory.
func (r *Repository) GitDir() string { return filepath.Join(r.root, ".git") }

// PrimaryBranch returns the name of the primary line.
func (r *Repository) PrimaryBranch() string { return r.primary }

func (r *Repository) run(ctx context.Context, args ...string) ([]string, error) {
	return r.runner.Run(ctx, r.root, args...)
}

// runTolerant treats exit status 1 as an empty result. git uses it for
// "nothing matched" in rev-parse --verify -q and symbolic-ref -q.
func (r *Repository) runTolerant(ctx context.Context, args ...string) ([]string, bool, error) {
	lines, err := r.run(ctx, args...)
	if err != nil {
		if code, ok := ExitCode(err); ok && code == 1 {
			return nil, false, nil
		}
		return nil, false, err
	}
	return lines, true, nil
}

// =============================================================================
// Staging and commits
// =============================================================================

// AddAll stages every change in the working tree, including deletions.
func (r *Repository) AddAll(ctx context.Context) error {
	_, err := r.run(ctx, "add", "--all")
	return err
}

// AddFiles stages the given paths.
//
// # Description
//
// Paths may be absolute or relative to the repository root. Every path is
// checked before anything is staged: staging a nonexistent path is a caller
// bug, so the whole call fails without touching the index.
//
// # Inputs
//
//   - ctx: Context for cancellation.
//   - paths: Files or directories to stage.
//
// # Outputs
//
//   - error: *PathNotFoundError for the first missing path, or a
//     *CommandFailedError from git.
func (r *Repository) AddFiles(ctx context.Context, paths ...string) error {
	rel := make([]string, 0, len(paths))
	for _, p := range paths {
		abs := p
		if !filepath.IsAbs(abs) {
			abs = filepath.Join(r.root, p)
		}
		if _, err := os.Lstat(abs); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return &PathNotFoundError{Path: p}
			}
			return fmt.Errorf("checking %s: %w", p, err)
		}
		if rp, err := filepath.Rel(r.root, abs); err == nil {
			abs = rp
		}
		rel = append(rel, filepath.ToSlash(abs))
	}

	for start := 0; start < len(rel); start += addBatchSize {
		end := start + addBatchSize
		if end > len(rel) {
			end = len(rel)
		}
		args := append([]string{"add", "--"}, rel[start:end]...)
		if _, err := r.run(ctx, args...); err != nil {
			return err
		}
	}
	return nil
}

// Commit records the staged changes.
//
// # Description
//
// Never a silent no-op: with nothing staged git exits non-zero and the error
// is returned wrapping ErrCommitFailed. Callers that only want to commit a
// dirty tree check HasChanges first.
func (r *Repository) Commit(ctx context.Context, message string) error {
	if _, err := r.run(ctx, "commit", "--quiet", "-m", message); err != nil {
		return fmt.Errorf("%w: %w", ErrCommitFailed, err)
	}
	r.logger.Debug("committed", "message", message)
	return nil
}

// HasChanges reports whether the working tree differs from the last commit.
//
// # Description
//
// Refreshes the index stat information first so files rewritten with
// identical content are not reported as modified.
func (r *Repository) HasChanges(ctx context.Context) (bool, error) {
	if _, _, err := r.runTolerant(ctx, "update-index", "-q", "--refresh"); err != nil {
		return false, err
	}
	lines, err := r.run(ctx, "status", "--porcelain")
	if err != nil {
		return false, err
	}
	return len(lines) > 0, nil
}

// =============================================================================
// Branches
// =============================================================================

// CreateBranch creates name at the current HEAD, optionally checking it out.
func (r *Repository) CreateBranch(ctx context.Context, name string, checkout bool) error {
	if err := validateRef(name); err != nil {
		return err
	}
	if _, err := r.run(ctx, "branch", "--", name); err != nil {
		return err
	}
	if checkout {
		return r.Checkout(ctx, name)
	}
	return nil
}

// RemoveBranch deletes a fully merged branch. The primary branch is refused.
func (r *Repository) RemoveBranch(ctx context.Context, name string) error {
	if err := validateRef(name); err != nil {
		return err
	}
	if name == r.primary {
		return fmt.Errorf("%w: cannot delete %s", ErrPrimaryBranch, name)
	}
	_, err := r.run(ctx, "branch", "-d", "--", name)
	return err
}

// RenameBranch renames oldName to newName. The primary branch is refused.
func (r *Repository) RenameBranch(ctx context.Context, oldName, newName string) error {
	if err := validateRef(oldName); err != nil {
		return err
	}
	if err := validateRef(newName); err != nil {
		return err
	}
	if oldName == r.primary {
		return fmt.Errorf("%w: cannot rename %s", ErrPrimaryBranch, oldName)
	}
	_, err := r.run(ctx, "branch", "-m", "--", oldName, newName)
	return err
}

// Branches returns local then remote branch names, each group sorted.
//
// Returns an empty slice when the repository has no branches yet.
func (r *Repository) Branches(ctx context.Context) ([]string, error) {
	return r.listRefs(ctx, "refs/heads", "refs/remotes")
}

// LocalBranches returns the sorted local branch names.
func (r *Repository) LocalBranches(ctx context.Context) ([]string, error) {
	return r.listRefs(ctx, "refs/heads")
}

// RemoteBranches returns the sorted remote-tracking branch names.
func (r *Repository) RemoteBranches(ctx context.Context) ([]string, error) {
	return r.listRefs(ctx, "refs/remotes")
}

func (r *Repository) listRefs(ctx context.Context, patterns ...string) ([]string, error) {
	names := []string{}
	for _, pattern := range patterns {
		lines, err := r.run(ctx, "for-each-ref", "--sort=refname", "--format=%(refname:short)", pattern)
		if err != nil {
			return nil, err
		}
		names = append(names, parseRefNames(lines)...)
	}
	return names, nil
}

// =============================================================================
// Checkout and reset
// =============================================================================

// Checkout moves the working tree and HEAD to a revision or branch.
//
// Fails with ErrInvalidRevision before spawning git when rev is empty.
func (r *Repository) Checkout(ctx context.Context, rev string) error {
	if err := validateRevision(rev); err != nil {
		return err
	}
	_, err := r.run(ctx, "checkout", "--quiet", rev, "--")
	return err
}

// CheckoutFile restores a single path from rev into the working tree and
// index without moving HEAD.
func (r *Repository) CheckoutFile(ctx context.Context, rev, relPath string) error {
	if err := validateRevision(rev); err != nil {
		return err
	}
	clean, err := r.relative(relPath)
	if err != nil {
		return err
	}
	_, err = r.run(ctx, "checkout", rev, "--", clean)
	return err
}

// Reset hard-resets the current branch and working tree to rev.
//
// # Description
//
// Discards every uncommitted change and moves the current branch pointer.
// Callers are expected to have recorded an audit branch at the previous tip.
func (r *Repository) Reset(ctx context.Context, rev string) error {
	if err := validateRevision(rev); err != nil {
		return err
	}
	_, err := r.run(ctx, "reset", "--hard", "--quiet", rev)
	if err == nil {
		r.logger.Info("reset working tree", "revision", rev)
	}
	return err
}

// =============================================================================
// History queries
// =============================================================================

// Head returns the commit id HEAD points at, or ok=false on an unborn branch.
func (r *Repository) Head(ctx context.Context) (string, bool, error) {
	return r.ResolveRevision(ctx, "HEAD")
}

// CurrentBranch returns the checked-out branch, or "" when HEAD is detached.
func (r *Repository) CurrentBranch(ctx context.Context) (string, error) {
	lines, ok, err := r.runTolerant(ctx, "symbolic-ref", "-q", "--short", "HEAD")
	if err != nil || !ok || len(lines) == 0 {
		return "", err
	}
	return strings.TrimSpace(lines[0]), nil
}

// ResolveRevision resolves rev to a full commit id.
//
// Returns ok=false (and no error) when rev does not name a commit.
func (r *Repository) ResolveRevision(ctx context.Context, rev string) (string, bool, error) {
	if err := validateRevision(rev); err != nil {
		return "", false, err
	}
	lines, ok, err := r.runTolerant(ctx, "rev-parse", "-q", "--verify", rev+"^{commit}")
	if err != nil || !ok {
		return "", false, err
	}
	id := firstCommitID(lines)
	return id, id != "", nil
}

// LastCommitID returns the id of the commit skip steps behind HEAD.
//
// # Description
//
// skip=0 is the most recent commit. ok is false when the history holds
// fewer than skip+1 commits or the branch is unborn. Output that is not a
// 40-hex id is treated as not found.
func (r *Repository) LastCommitID(ctx context.Context, skip int) (string, bool, error) {
	return r.lastCommit(ctx, skip, "")
}

// LastFileCommitID is LastCommitID restricted to commits touching relPath.
func (r *Repository) LastFileCommitID(ctx context.Context, relPath string, skip int) (string, bool, error) {
	clean, err := r.relative(relPath)
	if err != nil {
		return "", false, err
	}
	return r.lastCommit(ctx, skip, clean)
}

func (r *Repository) lastCommit(ctx context.Context, skip int, path string) (string, bool, error) {
	if skip < 0 {
		return "", false, fmt.Errorf("%w: negative skip %d", ErrInvalidRevision, skip)
	}
	if _, ok, err := r.Head(ctx); err != nil || !ok {
		return "", false, err
	}

	args := []string{"log", "-1", "--skip=" + strconv.Itoa(skip), "--format=%H"}
	if path != "" {
		args = append(args, "--", path)
	}
	lines, err := r.run(ctx, args...)
	if err != nil {
		return "", false, err
	}
	id := firstCommitID(lines)
	return id, id != "", nil
}

// Grep returns ids of commits whose message contains text, newest first.
//
// # Description
//
// Searches every ref, not only the current branch, so snapshots preserved
// on audit branches remain reachable after a rollback moved the primary
// line backwards. text is matched literally. When paths are given only
// commits touching them match.
func (r *Repository) Grep(ctx context.Context, text string, paths ...string) ([]string, error) {
	if _, ok, err := r.Head(ctx); err != nil || !ok {
		return []string{}, err
	}
	rel, err := r.pathspec(paths)
	if err != nil {
		return nil, err
	}
	args := []string{"log", "--all", "--fixed-strings", "--grep=" + text, "--format=%H"}
	if len(rel) > 0 {
		args = append(append(args, "--"), rel...)
	}
	lines, err := r.run(ctx, args...)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(lines))
	for _, line := range lines {
		if id := strings.TrimSpace(line); IsCommitID(id) {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// Execute runs an arbitrary git command in the repository.
//
// A leading "git" argument is dropped; the runner always prefixes the tool.
func (r *Repository) Execute(ctx context.Context, args ...string) ([]string, error) {
	if len(args) > 0 && args[0] == "git" {
		args = args[1:]
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("%w: no arguments", ErrCommandFailed)
	}
	return r.run(ctx, args...)
}

// CommitMessage returns the subject (oneline) or full message of rev.
func (r *Repository) CommitMessage(ctx context.Context, rev string, oneline bool) (string, error) {
	if err := validateRevision(rev); err != nil {
		return "", err
	}
	format := "--format=%B"
	if oneline {
		format = "--format=%s"
	}
	lines, err := r.run(ctx, "show", "-s", format, rev, "--")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(strings.Join(lines, "\n")), nil
}

// CommitData returns metadata for rev.
//
// # Description
//
// Header lines of "git show --raw --format=fuller" are parsed defensively:
// a missing Author, Commit or date line leaves that field empty instead of
// failing the call.
func (r *Repository) CommitData(ctx context.Context, rev string) (CommitData, error) {
	if err := validateRevision(rev); err != nil {
		return CommitData{}, err
	}
	lines, err := r.run(ctx, "show", "--raw", "--no-color", "--format=fuller", rev, "--")
	if err != nil {
		return CommitData{}, err
	}

	data := parseShowHeader(lines)
	if data.Revision == "" {
		data.Revision = rev
	}
	if subject, err := r.CommitMessage(ctx, rev, true); err == nil {
		data.Subject = subject
	}
	if message, err := r.CommitMessage(ctx, rev, false); err == nil {
		data.Message = message
	}
	return data, nil
}

// Log returns up to limit commits from HEAD, newest first. When paths are
// given only commits touching them are listed.
//
// Returns an empty slice on an unborn branch.
func (r *Repository) Log(ctx context.Context, limit int, paths ...string) ([]CommitData, error) {
	if _, ok, err := r.Head(ctx); err != nil || !ok {
		return []CommitData{}, err
	}
	if limit <= 0 {
		limit = 20
	}
	args := []string{"log", "-n", strconv.Itoa(limit), "--format=" + logFormat}
	rel, err := r.pathspec(paths)
	if err != nil {
		return nil, err
	}
	if len(rel) > 0 {
		args = append(append(args, "--"), rel...)
	}
	lines, err := r.run(ctx, args...)
	if err != nil {
		return nil, err
	}
	return parseLog(lines), nil
}

// Diff returns the unified diff between two revisions, optionally limited
// to paths.
func (r *Repository) Diff(ctx context.Context, from, to string, paths ...string) (string, error) {
	if err := validateRevision(from); err != nil {
		return "", err
	}
	if err := validateRevision(to); err != nil {
		return "", err
	}
	rel, err := r.pathspec(paths)
	if err != nil {
		return "", err
	}
	args := append([]string{"diff", "--no-color", "--no-ext-diff", from, to, "--"}, rel...)
	lines, err := r.run(ctx, args...)
	if err != nil {
		return "", err
	}
	if len(lines) == 0 {
		return "", nil
	}
	return strings.Join(lines, "\n") + "\n", nil
}

// Bundle writes every ref of the repository into a git bundle at dest.
func (r *Repository) Bundle(ctx context.Context, dest string) error {
	abs, err := filepath.Abs(dest)
	if err != nil {
		return fmt.Errorf("resolving %s: %w", dest, err)
	}
	_, err = r.run(ctx, "bundle", "create", abs, "--all")
	return err
}

func (r *Repository) pathspec(paths []string) ([]string, error) {
	rel := make([]string, 0, len(paths))
	for _, p := range paths {
		rp, err := r.relative(p)
		if err != nil {
			return nil, err
		}
		rel = append(rel, rp)
	}
	return rel, nil
}

// relative cleans relPath and rejects paths escaping the repository.
func (r *Repository) relative(relPath string) (string, error) {
	p := relPath
	if filepath.IsAbs(p) {
		rp, err := filepath.Rel(r.root, p)
		if err != nil {
			return "", fmt.Errorf("%w: %s", ErrPathNotFound, relPath)
		}
		p = rp
	}
	p = filepath.Clean(p)
	if p == "." || p == ".." || strings.HasPrefix(p, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s is outside %s", ErrPathNotFound, relPath, r.root)
	}
	return filepath.ToSlash(p), nil
}

// validateRevision rejects selectors git would misread or that resolve to
// nothing.
func validateRevision(rev string) error {
	trimmed := strings.TrimSpace(rev)
	if trimmed == "" {
		return fmt.Errorf("%w: empty revision", ErrInvalidRevision)
	}
	if trimmed != rev || strings.HasPrefix(rev, "-") {
		return fmt.Errorf("%w: %q", ErrInvalidRevision, rev)
	}
	return nil
}

func validateRef(name string) error {
	if err := validateRevision(name); err != nil {
		return err
	}
	if strings.ContainsAny(name, " ~^:?*[\\") || strings.Contains(name, "..") {
		return fmt.Errorf("%w: bad branch name %q", ErrInvalidRevision, name)
	}
	return nil
}
