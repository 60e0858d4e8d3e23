// Package proofstore keeps payment proof artefacts. Writes go to the primary store
// and fall back to local disk when it is unavailable; references carry the scheme of
// the store that holds them.
package proofstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"aside/apps/funding/internal/metrics"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

// DeleteAfterTag is the object tag, or sidecar suffix, carrying the deletion instant.
const DeleteAfterTag = "delete-after"

const maxSaveRetries = 2

// Backend is one place artefacts can live. Keys are backend-local.
type Backend interface {
	Scheme() string
	Put(ctx context.Context, key, contentType string, body io.Reader, size int64) error
	MarkForDeletion(ctx context.Context, key string, at time.Time) error
	// Sweep removes every artefact whose deletion instant is not after now.
	Sweep(ctx context.Context, now time.Time) (int, error)
}

type Store struct {
	primary  Backend
	fallback Backend
	logger   *zap.Logger
	metrics  *metrics.Metrics
	backoff  func() backoff.BackOff
}

// New builds a store. primary may be nil, in which case everything goes to fallback.
func New(primary, fallback Backend, logger *zap.Logger, m *metrics.Metrics) *Store {
	return &Store{
		primary:  primary,
		fallback: fallback,
		logger:   logger,
		metrics:  m,
		backoff: func() backoff.BackOff {
			return backoff.WithMaxRetries(backoff.NewExponentialBackOff(), maxSaveRetries)
		},
	}
}

// Save writes the artefact and returns its reference. It only fails when both
// backends refuse the write.
func (s *Store) Save(ctx context.Context, name, contentType string, body io.Reader, size int64) (string, error) {
	data, err := io.ReadAll(body)
	if err != nil {
		return "", fmt.Errorf("failed to read proof body: %w", err)
	}

	if s.primary != nil {
		op := func() error {
			return s.primary.Put(ctx, name, contentType, bytes.NewReader(data), int64(len(data)))
		}
		err := backoff.Retry(op, backoff.WithContext(s.backoff(), ctx))
		if err == nil {
			return ref(s.primary, name), nil
		}
		s.metrics.ProofStoreFallback()
		s.logger.Warn("Primary proof store unavailable, using fallback",
			zap.String("name", name),
			zap.Error(err))
	}

	if err := s.fallback.Put(ctx, name, contentType, bytes.NewReader(data), int64(len(data))); err != nil {
		return "", fmt.Errorf("failed to store proof: %w", err)
	}
	return ref(s.fallback, name), nil
}

// ScheduleDeletion marks the artefact behind ref for removal at the given instant.
func (s *Store) ScheduleDeletion(ctx context.Context, reference string, at time.Time) error {
	b, key, err := s.resolve(reference)
	if err != nil {
		return err
	}
	if err := b.MarkForDeletion(ctx, key, at); err != nil {
		return fmt.Errorf("failed to schedule proof deletion: %w", err)
	}
	return nil
}

// Cleanup removes expired artefacts from both backends. A failing backend does not
// stop the other one.
func (s *Store) Cleanup(ctx context.Context, now time.Time) (int, error) {
	var errs []error
	total := 0
	for _, b := range []Backend{s.primary, s.fallback} {
		if b == nil {
			continue
		}
		n, err := b.Sweep(ctx, now)
		total += n
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", b.Scheme(), err))
		}
	}
	if total > 0 {
		s.logger.Info("Removed expired payment proofs", zap.Int("count", total))
	}
	return total, errors.Join(errs...)
}

func ref(b Backend, key string) string {
	return b.Scheme() + "://" + key
}

func (s *Store) resolve(reference string) (Backend, string, error) {
	scheme, key, ok := strings.Cut(reference, "://")
	if !ok || key == "" {
		return nil, "", fmt.Errorf("malformed proof reference %q", reference)
	}
	for _, b := range []Backend{s.primary, s.fallback} {
		if b != nil && b.Scheme() == scheme {
			return b, key, nil
		}
	}
	return nil, "", fmt.Errorf("no proof backend for scheme %q", scheme)
}
