package session

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInferSessionID(t *testing.T) {
	ctx := context.Background()

	t.Run("Should prefer the ambient environment variable", func(t *testing.T) {
		_, svc := testService(t)
		t.Setenv(EnvSessionID, "sess-env")

		id, err := svc.InferSessionID(ctx, t.TempDir())
		require.NoError(t, err)
		assert.Equal(t, "sess-env", id)
	})

	t.Run("Should read the pinning file in the start directory", func(t *testing.T) {
		_, svc := testService(t)
		dir := t.TempDir()
		require.NoError(t, WritePin(dir, "sess-pinned"))

		id, err := svc.InferSessionID(ctx, dir)
		require.NoError(t, err)
		assert.Equal(t, "sess-pinned", id)
	})

	t.Run("Should walk up to find a pin in a parent directory", func(t *testing.T) {
		_, svc := testService(t)
		dir := t.TempDir()
		require.NoError(t, WritePin(dir, "sess-above"))
		nested := filepath.Join(dir, "src", "internal")
		require.NoError(t, os.MkdirAll(nested, 0o755))

		id, err := svc.InferSessionID(ctx, nested)
		require.NoError(t, err)
		assert.Equal(t, "sess-above", id)
	})

	t.Run("Should fail with remediation when nothing resolves", func(t *testing.T) {
		_, svc := testService(t)

		_, err := svc.InferSessionID(ctx, t.TempDir())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no inferable session")
	})
}

func TestPinRoundTrip(t *testing.T) {
	t.Run("Should round-trip the pinned id with trailing newline trimmed", func(t *testing.T) {
		dir := t.TempDir()
		require.NoError(t, WritePin(dir, "sess-A"))

		data, err := os.ReadFile(filepath.Join(dir, PinFileName))
		require.NoError(t, err)
		assert.Equal(t, "sess-A\n", string(data))
		assert.Equal(t, "sess-A", ReadPin(dir))
	})

	t.Run("Should return empty for a missing pin", func(t *testing.T) {
		assert.Empty(t, ReadPin(t.TempDir()))
	})
}
