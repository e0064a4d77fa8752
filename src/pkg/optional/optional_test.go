package optional

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestOptional(t *testing.T) {
	some := Some("db")
	require.True(t, some.IsSome())
	require.Equal(t, "db", some.Unwrap())
	v, ok := some.Get()
	require.True(t, ok)
	require.Equal(t, "db", v)

	none := None[string]()
	require.True(t, none.IsNone())
	_, ok = none.Get()
	require.False(t, ok)
	require.Panics(t, func() { none.Unwrap() })
	require.Panics(t, func() { none.Expect("root has no parent") })

	var zero Optional[int]
	require.True(t, zero.IsNone())
}
