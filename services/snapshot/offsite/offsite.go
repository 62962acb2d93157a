// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package offsite copies snapshot repositories off the machine.
//
// A repository is packed with "git bundle create --all", which captures
// every branch including audit branches, and handed to an Uploader.
// Restoring is a plain "git clone <bundle>".
package offsite

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"time"
)

// Uploader stores an object under key.
type Uploader interface {
	Upload(ctx context.Context, key string, r io.Reader) (string, error)
}

// Bundler is the repository surface needed to export.
type Bundler interface {
	Bundle(ctx context.Context, dest string) error
}

// Receipt describes a completed export.
type Receipt struct {
	Location string    `json:"location"`
	Key      string    `json:"key"`
	Bytes    int64     `json:"bytes"`
	SHA256   string    `json:"sha256"`
	At       time.Time `json:"at"`
}

// Key builds "<prefix>/<kind>/<name>/<YYYYMMDD-HHMMSS>.bundle".
func Key(prefix, kind, name string, at time.Time) string {
	return path.Join(prefix, kind, name, at.UTC().Format("20060102-150405")+".bundle")
}

// Export bundles repo into a temporary file and uploads it under key.
func Export(ctx context.Context, repo Bundler, up Uploader, key string) (Receipt, error) {
	tmpDir, err := os.MkdirTemp("", "gitrollback-bundle-")
	if err != nil {
		return Receipt{}, fmt.Errorf("creating bundle directory: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	bundlePath := filepath.Join(tmpDir, "repo.bundle")
	if err := repo.Bundle(ctx, bundlePath); err != nil {
		return Receipt{}, fmt.Errorf("bundling repository: %w", err)
	}

	f, err := os.Open(bundlePath)
	if err != nil {
		return Receipt{}, err
	}
	defer f.Close()

	hash := sha256.New()
	counter := &countingReader{r: io.TeeReader(f, hash)}
	location, err := up.Upload(ctx, key, counter)
	if err != nil {
		return Receipt{}, fmt.Errorf("uploading %s: %w", key, err)
	}
	return Receipt{
		Location: location,
		Key:      key,
		Bytes:    counter.n,
		SHA256:   hex.EncodeToString(hash.Sum(nil)),
		At:       time.Now().UTC(),
	}, nil
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

// DirUploader writes objects below a local directory, for mounted backup
// volumes and tests.
type DirUploader struct {
	Root string
}

func (d DirUploader) Upload(ctx context.Context, key string, r io.Reader) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	dest := filepath.Join(d.Root, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return "", err
	}
	tmp, err := os.CreateTemp(filepath.Dir(dest), ".upload-*")
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", err
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		os.Remove(tmp.Name())
		return "", err
	}
	return dest, nil
}
