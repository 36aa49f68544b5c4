// Package patch implements the structural patch algebra shared by local
// writers and remote diffs.
//
// A document is a tree of [Object] nodes whose leaves are literals, [Set]s of
// primitives, or keyed object-sets (an [Object] whose values are objects).
// A [Diff] is an ordered list of [Patch]es; each patch addresses one key
// through a slash-delimited path.
package patch

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Object is the only container a path can descend through.
type Object = map[string]any

type Op string

const (
	OpAdd    Op = "add"
	OpRemove Op = "remove"
)

// ValType tells how the value of a patch must be interpreted. The zero
// value is a literal.
type ValType string

const (
	Literal   ValType = ""
	ValSet    ValType = "set"
	ValObject ValType = "object"
)

// Patch is one structural mutation.
type Patch struct {
	Path    string  `json:"path"`
	Op      Op      `json:"op"`
	ValType ValType `json:"valType,omitempty"`
	Value   any     `json:"value,omitempty"`
}

// Diff is applied left to right, later patches may rely on earlier ones.
type Diff []Patch

// SetKind discriminates the two set representations.
type SetKind uint8

const (
	PrimitiveSet SetKind = iota
	KeyedSet
)

func (k SetKind) String() string {
	switch k {
	case PrimitiveSet:
		return "primitive"
	case KeyedSet:
		return "keyed"
	default:
		return "unknown"
	}
}

// SetOperand is the explicit variant carried by a set patch.
//
// For a PrimitiveSet, Members holds the primitives to add or remove.
// For a KeyedSet, Keyed holds the id to object mapping to merge, or the ids
// to remove.
type SetOperand struct {
	Kind    SetKind
	Members Set
	Keyed   Object
}

// IDs returns the member identifiers targeted by a removal, as strings.
func (op SetOperand) IDs() []string {
	var ids []string
	switch op.Kind {
	case KeyedSet:
		ids = make([]string, 0, len(op.Keyed))
		for id := range op.Keyed {
			ids = append(ids, id)
		}
		sort.Strings(ids)
	default:
		for _, m := range op.Members.Members() {
			ids = append(ids, idString(m))
		}
	}
	return ids
}

// SetOperand classifies the value of a set patch. Values built through the
// constructors of this package already carry their variant as their Go
// type ([Set] or [Object]). Anything else is classified by shape: an object
// is keyed, a primitive or an array of primitives is a primitive set.
func (p Patch) SetOperand() (SetOperand, error) {
	return classify(p.Value)
}

func classify(v any) (SetOperand, error) {
	switch x := v.(type) {
	case Set:
		return SetOperand{Kind: PrimitiveSet, Members: x}, nil
	case Object:
		for id, member := range x {
			if _, ok := member.(Object); !ok {
				return SetOperand{}, fmt.Errorf("%w: %q", ErrKeyedNotObjects, id)
			}
		}
		return SetOperand{Kind: KeyedSet, Keyed: x}, nil
	}

	if items, ok := asSlice(v); ok {
		members := make(Set, len(items))
		for _, item := range items {
			if ignored := members.Add(item); ignored > 0 {
				return SetOperand{}, ErrNotPrimitive
			}
		}
		return SetOperand{Kind: PrimitiveSet, Members: members}, nil
	}

	if _, ok := Primitive(v); ok {
		if v == nil {
			return SetOperand{Kind: PrimitiveSet, Members: Set{}}, nil
		}
		return SetOperand{Kind: PrimitiveSet, Members: NewSet(v)}, nil
	}
	return SetOperand{}, fmt.Errorf("%w: %T", ErrMalformedValue, v)
}

// UnmarshalJSON decodes a wire patch and, for set patches, turns the value
// into its explicit variant so that appliers never see a raw array.
func (p *Patch) UnmarshalJSON(b []byte) error {
	type wire Patch
	var w wire
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	*p = Patch(w)
	if p.ValType == ValSet {
		if op, err := classify(p.Value); err == nil {
			p.Value = op.value()
		}
	}
	return nil
}

func (op SetOperand) value() any {
	if op.Kind == KeyedSet {
		return op.Keyed
	}
	return op.Members
}

// Path joins segments into a patch path.
func Path(segments ...string) string {
	return "/" + strings.Join(segments, "/")
}

// Segments splits a patch path into its keys.
func Segments(path string) ([]string, error) {
	if !strings.HasPrefix(path, "/") {
		return nil, ErrNoLeadingSlash
	}
	return strings.Split(path[1:], "/"), nil
}

// Assign sets a literal value.
func Assign(path string, value any) Patch {
	return Patch{Path: path, Op: OpAdd, Value: value}
}

// Remove deletes a key.
func Remove(path string) Patch {
	return Patch{Path: path, Op: OpRemove}
}

// AddObject ensures path holds an object.
func AddObject(path string) Patch {
	return Patch{Path: path, Op: OpAdd, ValType: ValObject}
}

func AddPrimitives(path string, members ...any) Patch {
	return Patch{Path: path, Op: OpAdd, ValType: ValSet, Value: NewSet(members...)}
}

func RemovePrimitives(path string, members ...any) Patch {
	return Patch{Path: path, Op: OpRemove, ValType: ValSet, Value: NewSet(members...)}
}

func AddKeyed(path string, members Object) Patch {
	return Patch{Path: path, Op: OpAdd, ValType: ValSet, Value: members}
}

func RemoveKeyed(path string, ids ...string) Patch {
	keyed := make(Object, len(ids))
	for _, id := range ids {
		keyed[id] = Object{}
	}
	return Patch{Path: path, Op: OpRemove, ValType: ValSet, Value: keyed}
}

func idString(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case float64:
		return fmt.Sprintf("%g", x)
	default:
		return fmt.Sprint(x)
	}
}
