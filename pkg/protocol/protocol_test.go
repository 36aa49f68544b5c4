package protocol

import (
	"encoding/json"
	"testing"

	"github.com/raskyld/shapesync/pkg/patch"
	"github.com/stretchr/testify/require"
)

func TestEnvelope_JSON(t *testing.T) {
	t.Run("request carries the descriptor and scope", func(t *testing.T) {
		env := NewRequest("c1", ShapeDescriptor{ID: "todo", Schema: json.RawMessage(`{"v":1}`)}, []string{"b", "a"})

		buf, err := json.Marshal(env)
		require.NoError(t, err)
		require.JSONEq(t, `{
			"type":"Request",
			"connectionId":"c1",
			"shapeDescriptor":{"id":"todo","schema":{"v":1}},
			"scope":["b","a"]
		}`, string(buf))
	})

	t.Run("initial response sends sets as arrays", func(t *testing.T) {
		env := NewInitialResponse("c1", patch.Object{"tags": patch.NewSet("b", "a")})

		buf, err := json.Marshal(env)
		require.NoError(t, err)
		require.JSONEq(t, `{"type":"InitialResponse","connectionId":"c1","initialData":{"tags":["a","b"]}}`, string(buf))
	})

	t.Run("updates decode into classified diffs", func(t *testing.T) {
		var env Envelope
		require.NoError(t, json.Unmarshal([]byte(`{
			"type":"BackendUpdate",
			"connectionId":"c1",
			"diff":[{"op":"add","valType":"set","path":"/tags","value":["x"]}]
		}`), &env))

		require.Equal(t, BackendUpdate, env.Type)
		require.Equal(t, patch.Diff{patch.AddPrimitives("/tags", "x")}, env.Diff)
	})

	t.Run("stop only carries the connection id", func(t *testing.T) {
		buf, err := json.Marshal(NewStop("c1"))
		require.NoError(t, err)
		require.JSONEq(t, `{"type":"Stop","connectionId":"c1"}`, string(buf))
	})
}

func TestEnvelope_Clone(t *testing.T) {
	env := NewFrontendUpdate("c1", patch.Diff{
		patch.AddPrimitives("/tags", "a"),
		patch.Assign("/obj", patch.Object{"k": "v"}),
	})
	env.InitialData = map[string]any{"x": map[string]any{"y": 1.0}}
	env.ShapeDescriptor = &ShapeDescriptor{ID: "s", Schema: json.RawMessage(`{}`)}

	c := env.Clone().(Envelope)
	require.Equal(t, env, c)

	c.Diff[0].Value.(patch.Set).Add("b")
	c.Diff[1].Value.(patch.Object)["k"] = "changed"
	c.InitialData["x"].(map[string]any)["y"] = 2.0
	c.ShapeDescriptor.ID = "other"

	require.Equal(t, patch.NewSet("a"), env.Diff[0].Value)
	require.Equal(t, patch.Object{"k": "v"}, env.Diff[1].Value)
	require.Equal(t, 1.0, env.InitialData["x"].(map[string]any)["y"])
	require.Equal(t, "s", env.ShapeDescriptor.ID)
}

func TestMessageType_Valid(t *testing.T) {
	for _, typ := range []MessageType{Request, InitialResponse, FrontendUpdate, BackendUpdate, Stop} {
		require.True(t, typ.Valid(), typ)
	}
	require.False(t, MessageType("Replace").Valid())
}
