package patch

import "reflect"

// Clone deep-copies a document value. Objects, sets and slices are copied,
// everything else is returned as is.
func Clone(v any) any {
	switch x := v.(type) {
	case Object:
		return CloneObject(x)
	case Set:
		return x.Clone()
	case []any:
		c := make([]any, len(x))
		for i, item := range x {
			c[i] = Clone(item)
		}
		return c
	}
	return v
}

func CloneObject(obj Object) Object {
	if obj == nil {
		return nil
	}
	c := make(Object, len(obj))
	for k, v := range obj {
		c[k] = Clone(v)
	}
	return c
}

// FromWire converts a value decoded off the wire into its document form.
// The wire cannot carry sets, so every array of primitives becomes a [Set],
// recursively.
func FromWire(v any) any {
	switch x := v.(type) {
	case Object:
		return FromWireObject(x)
	case Set:
		return x.Clone()
	}

	items, ok := asSlice(v)
	if !ok {
		return v
	}
	members := make(Set, len(items))
	for _, item := range items {
		if ignored := members.Add(item); ignored > 0 {
			// not a set of primitives, keep it as a list.
			c := make([]any, len(items))
			for i, item := range items {
				c[i] = FromWire(item)
			}
			return c
		}
	}
	return members
}

func FromWireObject(obj Object) Object {
	if obj == nil {
		return nil
	}
	c := make(Object, len(obj))
	for k, v := range obj {
		c[k] = FromWire(v)
	}
	return c
}

// ToWire converts a document value into something any JSON-like codec can
// carry: sets become sorted arrays.
func ToWire(v any) any {
	switch x := v.(type) {
	case Object:
		c := make(map[string]any, len(x))
		for k, item := range x {
			c[k] = ToWire(item)
		}
		return c
	case Set:
		return x.Members()
	case []any:
		c := make([]any, len(x))
		for i, item := range x {
			c[i] = ToWire(item)
		}
		return c
	}
	return v
}

func asSlice(v any) ([]any, bool) {
	switch x := v.(type) {
	case []any:
		return x, true
	case nil, string, []byte:
		return nil, false
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}
	items := make([]any, rv.Len())
	for i := range items {
		items[i] = rv.Index(i).Interface()
	}
	return items, true
}
