package proofstore

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const sidecarSuffix = "." + DeleteAfterTag

// Local keeps artefacts in a directory. A pending deletion is a sidecar file next
// to the artefact holding an RFC 3339 instant.
type Local struct {
	dir string
}

func NewLocal(dir string) (*Local, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create proof directory: %w", err)
	}
	return &Local{dir: dir}, nil
}

func (l *Local) Scheme() string { return "local" }

func (l *Local) path(key string) (string, error) {
	if key != filepath.Base(key) || strings.HasPrefix(key, ".") {
		return "", fmt.Errorf("invalid proof key %q", key)
	}
	return filepath.Join(l.dir, key), nil
}

func (l *Local) Put(_ context.Context, key, _ string, body io.Reader, _ int64) error {
	p, err := l.path(key)
	if err != nil {
		return err
	}
	f, err := os.OpenFile(p, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to create proof file: %w", err)
	}
	if _, err := io.Copy(f, body); err != nil {
		f.Close()
		os.Remove(p)
		return fmt.Errorf("failed to write proof file: %w", err)
	}
	return f.Close()
}

func (l *Local) MarkForDeletion(_ context.Context, key string, at time.Time) error {
	p, err := l.path(key)
	if err != nil {
		return err
	}
	if _, err := os.Stat(p); err != nil {
		return fmt.Errorf("failed to find proof file: %w", err)
	}
	return os.WriteFile(p+sidecarSuffix, []byte(at.UTC().Format(time.RFC3339)), 0o644)
}

func (l *Local) Sweep(ctx context.Context, now time.Time) (int, error) {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		return 0, fmt.Errorf("failed to list proof directory: %w", err)
	}
	removed := 0
	for _, e := range entries {
		if ctx.Err() != nil {
			return removed, ctx.Err()
		}
		if e.IsDir() || !strings.HasSuffix(e.Name(), sidecarSuffix) {
			continue
		}
		sidecar := filepath.Join(l.dir, e.Name())
		raw, err := os.ReadFile(sidecar)
		if err != nil {
			continue
		}
		at, err := time.Parse(time.RFC3339, strings.TrimSpace(string(raw)))
		if err != nil || at.After(now) {
			continue
		}
		artefact := strings.TrimSuffix(sidecar, sidecarSuffix)
		if err := os.Remove(artefact); err != nil && !os.IsNotExist(err) {
			return removed, fmt.Errorf("failed to remove proof file: %w", err)
		}
		if err := os.Remove(sidecar); err != nil && !os.IsNotExist(err) {
			return removed, fmt.Errorf("failed to remove proof sidecar: %w", err)
		}
		removed++
	}
	return removed, nil
}
