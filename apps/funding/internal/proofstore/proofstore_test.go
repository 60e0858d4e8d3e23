package proofstore

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"aside/apps/funding/internal/metrics"

	"github.com/cenkalti/backoff/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var now = time.Date(2026, 3, 2, 14, 0, 0, 0, time.UTC)

type downBackend struct {
	calls int
}

func (d *downBackend) Scheme() string { return "minio" }

func (d *downBackend) Put(context.Context, string, string, io.Reader, int64) error {
	d.calls++
	return errors.New("connection refused")
}

func (d *downBackend) MarkForDeletion(context.Context, string, time.Time) error {
	return errors.New("connection refused")
}

func (d *downBackend) Sweep(context.Context, time.Time) (int, error) {
	return 0, errors.New("connection refused")
}

func newLocal(t *testing.T) (*Local, string) {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "payment_proofs")
	l, err := NewLocal(dir)
	require.NoError(t, err)
	return l, dir
}

func TestLocal_SaveScheduleCleanup(t *testing.T) {
	local, dir := newLocal(t)
	s := New(nil, local, zap.NewNop(), nil)
	ctx := context.Background()

	ref, err := s.Save(ctx, "a.png", "image/png", strings.NewReader("png"), 3)
	require.NoError(t, err)
	assert.Equal(t, "local://a.png", ref)
	kept, err := s.Save(ctx, "b.pdf", "application/pdf", strings.NewReader("pdf"), 3)
	require.NoError(t, err)

	got, err := os.ReadFile(filepath.Join(dir, "a.png"))
	require.NoError(t, err)
	assert.Equal(t, "png", string(got))

	require.NoError(t, s.ScheduleDeletion(ctx, ref, now.Add(24*time.Hour)))
	require.NoError(t, s.ScheduleDeletion(ctx, kept, now.Add(72*time.Hour)))

	n, err := s.Cleanup(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	n, err = s.Cleanup(ctx, now.Add(48*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.NoFileExists(t, filepath.Join(dir, "a.png"))
	assert.NoFileExists(t, filepath.Join(dir, "a.png"+sidecarSuffix))
	assert.FileExists(t, filepath.Join(dir, "b.pdf"))
}

func TestLocal_RejectsTraversal(t *testing.T) {
	local, _ := newLocal(t)
	err := local.Put(context.Background(), "../escape.png", "image/png", strings.NewReader("x"), 1)
	assert.Error(t, err)
}

func TestSave_FallsBackWhenPrimaryDown(t *testing.T) {
	local, dir := newLocal(t)
	primary := &downBackend{}
	m := metrics.New(prometheus.NewRegistry())
	s := New(primary, local, zap.NewNop(), m)
	s.backoff = func() backoff.BackOff { return backoff.WithMaxRetries(&backoff.ZeroBackOff{}, 2) }

	ref, err := s.Save(context.Background(), "c.jpg", "image/jpeg", strings.NewReader("jpg"), 3)
	require.NoError(t, err)
	assert.Equal(t, "local://c.jpg", ref)
	assert.Equal(t, 3, primary.calls)
	assert.FileExists(t, filepath.Join(dir, "c.jpg"))

	n, err := s.Cleanup(context.Background(), now)
	assert.Error(t, err)
	assert.Equal(t, 0, n)
}

func TestScheduleDeletion_UnknownReference(t *testing.T) {
	local, _ := newLocal(t)
	s := New(nil, local, zap.NewNop(), nil)

	assert.Error(t, s.ScheduleDeletion(context.Background(), "minio://x.png", now))
	assert.Error(t, s.ScheduleDeletion(context.Background(), "x.png", now))
}
