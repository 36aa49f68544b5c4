package signal

import (
	"log/slog"
	"os"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/raskyld/shapesync/pkg/patch"
	"github.com/stretchr/testify/require"
)

func testRoot(opts ...Option) *Root {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}).WithAttrs([]slog.Attr{
		{Key: "emitter", Value: slog.StringValue("signal-test")},
	})
	return New(append([]Option{WithLogger(slog.New(handler))}, opts...)...)
}

type recorder struct {
	lk      sync.Mutex
	batches []Batch
}

func (r *recorder) record(b Batch) {
	r.lk.Lock()
	defer r.lk.Unlock()
	r.batches = append(r.batches, b)
}

func (r *recorder) get() []Batch {
	r.lk.Lock()
	defer r.lk.Unlock()
	return append([]Batch(nil), r.batches...)
}

func TestRoot_Writes(t *testing.T) {
	t.Run("set creates intermediates and emits them", func(t *testing.T) {
		root := testRoot()
		rec := &recorder{}
		root.Watch(rec.record)

		diff := root.Set("/profile/name", "Ada")

		require.Equal(t, patch.Diff{
			patch.AddObject("/profile"),
			patch.Assign("/profile/name", "Ada"),
		}, diff)
		require.Equal(t, []Batch{{Origin: OriginLocal, Patches: diff}}, rec.get())

		name, ok := root.Get("/profile/name")
		require.True(t, ok)
		require.Equal(t, "Ada", name)
	})

	t.Run("setting an object replaces the previous one", func(t *testing.T) {
		root := testRoot()
		root.Set("/meta", patch.Object{"a": 1.0, "b": 2.0})
		root.Set("/meta", patch.Object{"c": []any{"x", "y"}})

		require.Equal(t, patch.Object{
			"meta": patch.Object{"c": patch.NewSet("x", "y")},
		}, root.Snapshot())
	})

	t.Run("sets are mutated member-wise", func(t *testing.T) {
		root := testRoot()
		root.AddToSet("/tags", "a", "b")
		root.AddToSet("/tags", "b", "c")
		diff := root.RemoveFromSet("/tags", "a")

		require.Equal(t, patch.Diff{patch.RemovePrimitives("/tags", "a")}, diff)
		tags, _ := root.Get("/tags")
		require.Equal(t, patch.NewSet("b", "c"), tags)
	})

	t.Run("keyed members can be put and removed", func(t *testing.T) {
		root := testRoot()
		root.PutKeyed("/users", "u1", patch.Object{"age": 1.0})
		root.PutKeyed("/users", "u2", nil)
		root.RemoveKeyed("/users", "u1")

		users, _ := root.Get("/users")
		require.Equal(t, patch.Object{"u2": patch.Object{}}, users)
	})

	t.Run("deleting an absent key emits nothing", func(t *testing.T) {
		root := testRoot()
		rec := &recorder{}
		root.Watch(rec.record)

		require.Nil(t, root.Delete("/missing"))
		root.EnsureObject("/obj")
		require.Nil(t, root.EnsureObject("/obj"), "an existing object is kept as is")
		require.Len(t, rec.get(), 1, "only the first ensure-object batch is published")
	})

	t.Run("writes through a scalar are refused", func(t *testing.T) {
		root := testRoot()
		root.Set("/a", "scalar")
		require.Empty(t, root.Set("/a/b", 1.0))
		require.Equal(t, patch.Object{"a": "scalar"}, root.Snapshot())
	})

	t.Run("values read are copies", func(t *testing.T) {
		root := testRoot()
		root.Set("/tags", []string{"a"})

		tags, _ := root.Get("/tags")
		tags.(patch.Set).Add("mutated")
		snapshot := root.Snapshot()
		snapshot["tags"].(patch.Set).Add("mutated")

		tags, _ = root.Get("/tags")
		require.Equal(t, patch.NewSet("a"), tags)
	})
}

func TestRoot_BatchReplay(t *testing.T) {
	root := testRoot()
	root.Set("/seed", patch.Object{"keep": true, "tags": patch.NewSet("x")})
	mirror := root.Snapshot()

	diff := root.Update(func(tx *Tx) {
		tx.Set("/seed/title", "hello")
		tx.AddToSet("/seed/tags", "y")
		tx.RemoveFromSet("/seed/tags", "x")
		tx.Set("/deep/er/still", patch.Object{"n": 3.0, "list": []any{1, 2}})
		tx.PutKeyed("/seed/members", "m1", patch.Object{"roles": patch.NewSet("r")})
		tx.Delete("/seed/keep")

		title, ok := tx.Get("/seed/title")
		require.True(t, ok, "writes are visible inside the transaction")
		require.Equal(t, "hello", title)
	})

	patch.ApplyDiff(mirror, diff, false)
	require.Empty(t, cmp.Diff(root.Snapshot(), mirror), "replaying the batch must reach the same state")
}

func TestRoot_Origins(t *testing.T) {
	root := testRoot()
	rec := &recorder{}
	root.Watch(rec.record)

	root.Assign(patch.Object{"a": 1.0, "b": patch.Object{"c": patch.NewSet("x")}}, OriginHydration)
	root.Apply(patch.Diff{patch.Assign("/a", 2.0)}, OriginRemote)
	root.Set("/a", 3.0)

	batches := rec.get()
	require.Len(t, batches, 3)
	require.Equal(t, OriginHydration, batches[0].Origin)
	require.Equal(t, OriginRemote, batches[1].Origin)
	require.Equal(t, OriginLocal, batches[2].Origin)
	require.Equal(t, "hydration", batches[0].Origin.String())
}

func TestRoot_Assign(t *testing.T) {
	root := testRoot()
	root.Set("/untouched", "yes")
	root.Set("/replaced", patch.Object{"old": true})

	root.Assign(patch.Object{"replaced": patch.Object{"new": true}}, OriginHydration)

	require.Equal(t, patch.Object{
		"untouched": "yes",
		"replaced":  patch.Object{"new": true},
	}, root.Snapshot())
}

func TestRoot_Apply(t *testing.T) {
	t.Run("missing intermediates are skipped by default", func(t *testing.T) {
		root := testRoot()
		require.Empty(t, root.Apply(patch.Diff{patch.Assign("/a/b", 1.0)}, OriginRemote))
		require.Empty(t, root.Snapshot())
	})

	t.Run("missing intermediates are created when asked to", func(t *testing.T) {
		root := testRoot(WithEnsurePathExists(true))
		applied := root.Apply(patch.Diff{patch.Assign("/a/b", 1.0)}, OriginRemote)
		require.Len(t, applied, 1)
		require.Equal(t, patch.Object{"a": patch.Object{"b": 1.0}}, root.Snapshot())
	})
}

func TestRoot_Watch(t *testing.T) {
	root := testRoot()
	rec := &recorder{}
	cancel := root.Watch(rec.record)

	root.Set("/a", 1.0)
	cancel()
	cancel()
	root.Set("/a", 2.0)

	require.Len(t, rec.get(), 1)
}

func TestRoot_ConcurrentWritersKeepOrder(t *testing.T) {
	root := testRoot()
	mirror := patch.Object{}
	var lk sync.Mutex
	root.Watch(func(b Batch) {
		lk.Lock()
		defer lk.Unlock()
		patch.ApplyDiff(mirror, b.Patches, false)
	})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				root.AddToSet("/nums", i*100+j)
				root.Set("/last", float64(i))
			}
		}(i)
	}
	wg.Wait()

	lk.Lock()
	defer lk.Unlock()
	require.Empty(t, cmp.Diff(root.Snapshot(), mirror))
	nums, _ := root.Get("/nums")
	require.Equal(t, 400, nums.(patch.Set).Len())
}
