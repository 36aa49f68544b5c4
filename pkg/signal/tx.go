package signal

import (
	"sort"

	"github.com/raskyld/shapesync/pkg/patch"
)

// Tx accumulates writes into a single batch. It is only valid inside the
// function passed to [Root.Update].
//
// Every write is expressed as patches which are applied immediately, so
// reads through the Tx see earlier writes, and the emitted diff replays to
// the same state on any document that was equal before.
type Tx struct {
	doc     patch.Object
	applier patch.Applier
	applied patch.Diff
}

// Get reads a copy of the value at path, including writes made earlier in
// the same transaction.
func (tx *Tx) Get(path string) (any, bool) {
	segments, err := patch.Segments(path)
	if err != nil {
		return nil, false
	}
	value, ok := lookup(tx.doc, segments)
	if !ok {
		return nil, false
	}
	return patch.Clone(value), true
}

// Apply applies a diff as is. Patches that cannot be applied are skipped.
func (tx *Tx) Apply(diff patch.Diff) {
	tx.applyAll(diff, false)
}

func (tx *Tx) applyAll(diff patch.Diff, ensure bool) {
	applier := tx.applier
	applier.EnsurePathExists = ensure
	tx.applied = append(tx.applied, applier.Apply(tx.doc, diff)...)
}

// Set replaces the value at path. Missing intermediate objects are created.
// Objects and sets replace any previous container wholesale; slices of
// primitives are stored as sets, matching what the wire can express.
func (tx *Tx) Set(path string, value any) {
	segments, err := patch.Segments(path)
	if err != nil {
		tx.warn(path, err)
		return
	}
	if !tx.ensureParents(segments) {
		return
	}
	if _, has := lookup(tx.doc, segments); has {
		if _, isObj := value.(patch.Object); isObj {
			tx.apply(patch.Remove(path))
		} else if _, isSet := asSet(value); isSet {
			tx.apply(patch.Remove(path))
		}
	}
	tx.set(path, value)
}

func (tx *Tx) set(path string, value any) {
	if obj, ok := value.(patch.Object); ok {
		if !tx.apply(patch.AddObject(path)) {
			return
		}
		keys := make([]string, 0, len(obj))
		for key := range obj {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		for _, key := range keys {
			tx.set(path+"/"+key, obj[key])
		}
		return
	}
	if members, ok := asSet(value); ok {
		tx.apply(patch.AddPrimitives(path, members...))
		return
	}
	tx.apply(patch.Assign(path, patch.Clone(value)))
}

// Delete removes the key at path.
func (tx *Tx) Delete(path string) {
	segments, err := patch.Segments(path)
	if err != nil {
		tx.warn(path, err)
		return
	}
	if _, has := lookup(tx.doc, segments); !has {
		return
	}
	tx.apply(patch.Remove(path))
}

// EnsureObject makes path hold an object, creating intermediates.
func (tx *Tx) EnsureObject(path string) {
	segments, err := patch.Segments(path)
	if err != nil {
		tx.warn(path, err)
		return
	}
	if current, has := lookup(tx.doc, segments); has {
		if _, ok := current.(patch.Object); ok {
			return
		}
	}
	if tx.ensureParents(segments) {
		tx.apply(patch.AddObject(path))
	}
}

func (tx *Tx) AddToSet(path string, members ...any) {
	segments, err := patch.Segments(path)
	if err != nil {
		tx.warn(path, err)
		return
	}
	if tx.ensureParents(segments) {
		tx.apply(patch.AddPrimitives(path, members...))
	}
}

func (tx *Tx) RemoveFromSet(path string, members ...any) {
	tx.apply(patch.RemovePrimitives(path, members...))
}

// PutKeyed inserts or overwrites one member of a keyed object-set.
func (tx *Tx) PutKeyed(path string, id string, member patch.Object) {
	segments, err := patch.Segments(path)
	if err != nil {
		tx.warn(path, err)
		return
	}
	if member == nil {
		member = patch.Object{}
	}
	if tx.ensureParents(segments) {
		tx.apply(patch.AddKeyed(path, patch.Object{id: patch.CloneObject(member)}))
	}
}

func (tx *Tx) RemoveKeyed(path string, ids ...string) {
	tx.apply(patch.RemoveKeyed(path, ids...))
}

// ensureParents emits explicit add/object patches for every missing
// intermediate so the remote side can replay them.
func (tx *Tx) ensureParents(segments []string) bool {
	current := tx.doc
	for i, seg := range segments[:len(segments)-1] {
		next, has := current[seg]
		if !has || next == nil {
			if !tx.apply(patch.AddObject(patch.Path(segments[:i+1]...))) {
				return false
			}
			next = current[seg]
		}
		obj, ok := next.(patch.Object)
		if !ok {
			tx.warn(patch.Path(segments...), patch.ErrNotContainer)
			return false
		}
		current = obj
	}
	return true
}

func (tx *Tx) apply(p patch.Patch) bool {
	if err := tx.applier.ApplyPatch(tx.doc, p); err != nil {
		tx.warn(p.Path, err)
		return false
	}
	tx.applied = append(tx.applied, p)
	return true
}

func (tx *Tx) warn(path string, err error) {
	tx.applier.Logger.Warn("skipping write", "path", path, "error", err)
}

func asSet(value any) ([]any, bool) {
	switch x := value.(type) {
	case patch.Set:
		return x.Members(), true
	case []any:
		for _, item := range x {
			if _, ok := patch.Primitive(item); !ok {
				return nil, false
			}
		}
		return x, true
	case []string:
		members := make([]any, len(x))
		for i, s := range x {
			members[i] = s
		}
		return members, true
	}
	return nil, false
}
