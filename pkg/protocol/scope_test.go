package protocol

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestKey(t *testing.T) {
	t.Run("scope order does not matter", func(t *testing.T) {
		require.Equal(t, Key("todo", []string{"b", "a"}), Key("todo", []string{"a", "b"}))
		require.Equal(t, "todo::a,b", Key("todo", []string{"b", "a"}))
	})

	t.Run("absent and empty scopes are the same", func(t *testing.T) {
		require.Equal(t, "todo::", Key("todo", nil))
		require.Equal(t, Key("todo", nil), Key("todo", []string{}))
		require.Nil(t, SortedScope([]string{}))
	})

	t.Run("sorting does not touch the caller slice", func(t *testing.T) {
		scope := []string{"z", "y"}
		require.Equal(t, []string{"y", "z"}, SortedScope(scope))
		require.Equal(t, []string{"z", "y"}, scope)
	})
}
