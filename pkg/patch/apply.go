package patch

import (
	"fmt"
	"log/slog"
)

// Applier applies diffs onto a document.
//
// It never panics and never stops at the first failure: a patch that
// cannot be applied is logged and skipped, the following patches are still
// tried.
type Applier struct {
	// Logger receives one warning per skipped patch. Defaults to
	// slog.Default().
	Logger *slog.Logger

	// EnsurePathExists creates missing intermediate objects instead of
	// skipping the patch.
	EnsurePathExists bool
}

// ApplyDiff mutates root in place with every applicable patch of diff.
func ApplyDiff(root Object, diff Diff, ensurePathExists bool) {
	Applier{EnsurePathExists: ensurePathExists}.Apply(root, diff)
}

// Apply mutates root and returns the patches that took effect, in order.
func (a Applier) Apply(root Object, diff Diff) Diff {
	applied := make(Diff, 0, len(diff))
	for i, p := range diff {
		if err := a.ApplyPatch(root, p); err != nil {
			a.logger().Warn(
				"skipping patch",
				"index", i,
				"path", p.Path,
				"op", string(p.Op),
				"val_type", string(p.ValType),
				"error", err,
			)
			continue
		}
		applied = append(applied, p)
	}
	return applied
}

// ApplyPatch applies a single patch. On error root is left untouched.
func (a Applier) ApplyPatch(root Object, p Patch) error {
	if root == nil {
		return ErrNilRoot
	}

	segments, err := Segments(p.Path)
	if err != nil {
		return err
	}

	// Validate everything before walking, so that a rejected patch never
	// leaves freshly created intermediates behind.
	var operand SetOperand
	switch p.Op {
	case OpAdd, OpRemove:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownOp, p.Op)
	}
	switch p.ValType {
	case Literal, ValObject:
	case ValSet:
		operand, err = p.SetOperand()
		if err != nil {
			return err
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownValType, p.ValType)
	}

	parent, err := a.walk(root, segments[:len(segments)-1])
	if err != nil {
		return err
	}
	key := segments[len(segments)-1]

	if p.Op == OpRemove {
		remove(parent, key, p.ValType, operand)
		return nil
	}
	add(parent, key, p, operand)
	return nil
}

func (a Applier) walk(root Object, segments []string) (Object, error) {
	current := root
	for _, seg := range segments {
		next, has := current[seg]
		if !has || next == nil {
			if !a.EnsurePathExists {
				return nil, fmt.Errorf("%w: %q", ErrMissingParent, seg)
			}
			created := Object{}
			current[seg] = created
			current = created
			continue
		}
		obj, ok := next.(Object)
		if !ok {
			return nil, fmt.Errorf("%w: %q holds %T", ErrNotContainer, seg, next)
		}
		current = obj
	}
	return current, nil
}

func add(parent Object, key string, p Patch, operand SetOperand) {
	switch p.ValType {
	case ValSet:
		switch operand.Kind {
		case KeyedSet:
			keyed, ok := parent[key].(Object)
			if !ok {
				// a primitive set (or anything else) is discarded, never merged.
				keyed = Object{}
				parent[key] = keyed
			}
			for id, member := range operand.Keyed {
				keyed[id] = FromWire(member)
			}
		default:
			if members, ok := parent[key].(Set); ok {
				for m := range operand.Members {
					members[m] = struct{}{}
				}
				return
			}
			parent[key] = operand.Members.Clone()
		}
	case ValObject:
		if _, ok := parent[key].(Object); !ok {
			parent[key] = Object{}
		}
	default:
		parent[key] = Clone(p.Value)
	}
}

func remove(parent Object, key string, valType ValType, operand SetOperand) {
	if valType != ValSet {
		delete(parent, key)
		return
	}

	switch current := parent[key].(type) {
	case Set:
		if operand.Kind == KeyedSet {
			for id := range operand.Keyed {
				delete(current, id)
			}
			return
		}
		for m := range operand.Members {
			delete(current, m)
		}
	case Object:
		for _, id := range operand.IDs() {
			delete(current, id)
		}
	}
}

func (a Applier) logger() *slog.Logger {
	if a.Logger == nil {
		return slog.Default()
	}
	return a.Logger
}
