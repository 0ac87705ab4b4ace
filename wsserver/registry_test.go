package wsserver

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRegistry(t *testing.T) {
	t.Run("register and lookup", func(t *testing.T) {
		var r registry

		ctx, err := r.register("1", context.Background())
		require.NoError(t, err)
		require.NotNil(t, ctx)
		require.True(t, r.lookup("1"))
		require.False(t, r.lookup("2"))
	})

	t.Run("duplicate id", func(t *testing.T) {
		var r registry

		ctx, err := r.register("1", context.Background())
		require.NoError(t, err)

		_, err = r.register("1", context.Background())
		require.ErrorIs(t, err, ErrDuplicateOperationID)

		// The original registration is untouched.
		require.True(t, r.lookup("1"))
		require.NoError(t, ctx.Err())
	})

	t.Run("remove", func(t *testing.T) {
		var r registry

		ctx, err := r.register("1", context.Background())
		require.NoError(t, err)

		cancel := r.remove("1")
		require.NotNil(t, cancel)
		require.False(t, r.lookup("1"))

		cancel()
		require.ErrorIs(t, ctx.Err(), context.Canceled)

		require.Nil(t, r.remove("1"))
	})

	t.Run("drain", func(t *testing.T) {
		var r registry

		actx, err := r.register("a", context.Background())
		require.NoError(t, err)
		bctx, err := r.register("b", context.Background())
		require.NoError(t, err)

		cancels := r.drain()
		require.Len(t, cancels, 2)
		require.Zero(t, r.len())

		for _, cancel := range cancels {
			cancel()
		}

		require.ErrorIs(t, actx.Err(), context.Canceled)
		require.ErrorIs(t, bctx.Err(), context.Canceled)

		require.Empty(t, r.drain())
	})
}
