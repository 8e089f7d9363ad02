package checkpoint

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type plainBackend struct{}

func (plainBackend) Advance(context.Context, int) error { return nil }
func (plainBackend) State() any                         { return nil }

type hookedBackend struct {
	plainBackend
	writes, reads int
	err           error
}

func (h *hookedBackend) WriteCheckpoint(context.Context) error {
	h.writes++
	return h.err
}

func (h *hookedBackend) ReadCheckpoint(context.Context) error {
	h.reads++
	return h.err
}

func TestStepPath(t *testing.T) {
	assert.Equal(t, "out/run.xyz.chk.step", StepPath("out/run.xyz"))
}

func TestWriteReadRoundTrip(t *testing.T) {
	out := filepath.Join(t.TempDir(), "trajectory.csv")
	m := New(out, nil)
	b := &hookedBackend{}

	require.NoError(t, m.Write(context.Background(), b, 40))
	data, err := os.ReadFile(StepPath(out))
	require.NoError(t, err)
	assert.Equal(t, "40", string(data))
	assert.Equal(t, 1, b.writes)

	step, found, err := m.Read(context.Background(), b)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, 40, step)
	assert.Equal(t, 1, b.reads)
}

func TestMissingHookIsTolerated(t *testing.T) {
	out := filepath.Join(t.TempDir(), "trajectory.csv")
	m := New(out, nil)

	require.NoError(t, m.Write(context.Background(), plainBackend{}, 7))
	step, found, err := m.Read(context.Background(), plainBackend{})
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, 7, step)
}

func TestNoOutputPath(t *testing.T) {
	m := New("", nil)
	b := &hookedBackend{}

	require.NoError(t, m.Write(context.Background(), b, 3))
	assert.Equal(t, 1, b.writes, "backend state is still saved without an output path")
	assert.Empty(t, m.Path())

	_, found, err := m.Read(context.Background(), b)
	require.NoError(t, err)
	assert.False(t, found)
	assert.Zero(t, b.reads)
}

func TestReadMissingMarker(t *testing.T) {
	m := New(filepath.Join(t.TempDir(), "none"), nil)
	b := &hookedBackend{}
	step, found, err := m.Read(context.Background(), b)
	require.NoError(t, err)
	assert.False(t, found)
	assert.Zero(t, step)
	assert.Zero(t, b.reads)
}

func TestReadCorruptMarker(t *testing.T) {
	out := filepath.Join(t.TempDir(), "run")
	require.NoError(t, os.WriteFile(StepPath(out), []byte("abc"), 0o644))

	_, _, err := New(out, nil).Read(context.Background(), plainBackend{})
	assert.ErrorIs(t, err, ErrCorrupt)
}

func TestBackendHookFailure(t *testing.T) {
	out := filepath.Join(t.TempDir(), "run")
	boom := errors.New("disk full")
	err := New(out, nil).Write(context.Background(), &hookedBackend{err: boom}, 1)
	assert.ErrorIs(t, err, boom)
}

func TestOverwriteLeavesNoTempFile(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "run")
	m := New(out, nil)
	require.NoError(t, m.Write(context.Background(), plainBackend{}, 1))
	require.NoError(t, m.Write(context.Background(), plainBackend{}, 2))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "run.chk.step", entries[0].Name())
}
