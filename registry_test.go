package odbxuv

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRegistry(t *testing.T) {
	t.Run("anchor and resolve", func(t *testing.T) {
		r := NewRegistry()
		a := r.Anchor("a")
		b := r.Anchor("b")
		require.NotEqual(t, NoToken, a)
		require.NotEqual(t, a, b)
		v, ok := r.Resolve(a)
		require.True(t, ok)
		require.Equal(t, "a", v)
		require.Equal(t, 2, r.Len())
	})
	t.Run("release frees the slot for reuse", func(t *testing.T) {
		r := NewRegistry()
		a := r.Anchor(1)
		r.Release(a)
		_, ok := r.Resolve(a)
		require.False(t, ok)
		require.Equal(t, 0, r.Len())
		require.Equal(t, a, r.Anchor(2))
	})
	t.Run("zero token is never valid", func(t *testing.T) {
		r := NewRegistry()
		_, ok := r.Resolve(NoToken)
		require.False(t, ok)
		require.Panics(t, func() { r.Release(NoToken) })
	})
	t.Run("double release panics", func(t *testing.T) {
		r := NewRegistry()
		a := r.Anchor(1)
		r.Release(a)
		require.PanicsWithError(t, "odbxuv: invariant violated: release of unknown registry token 1", func() {
			r.Release(a)
		})
	})
	t.Run("each visits live anchors in order", func(t *testing.T) {
		r := NewRegistry()
		r.Anchor("x")
		mid := r.Anchor("y")
		r.Anchor("z")
		r.Release(mid)
		var seen []any
		r.Each(func(_ Token, v any) { seen = append(seen, v) })
		require.Equal(t, []any{"x", "z"}, seen)
	})
}
