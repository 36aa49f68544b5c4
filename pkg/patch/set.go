package patch

import (
	"encoding/json"
	"reflect"
	"sort"
)

// Set is a native set of primitive members.
//
// Members are normalized on insertion so that every numeric kind is stored
// as a float64: `1`, `int64(1)` and `1.0` are the same member. This matches
// what a JSON decoder produces for numbers coming off the wire.
type Set map[any]struct{}

// NewSet returns a Set seeded with members. Non-primitive members are
// ignored.
func NewSet(members ...any) Set {
	s := make(Set, len(members))
	s.Add(members...)
	return s
}

// Add inserts members and returns how many of them were not primitives and
// therefore ignored.
func (s Set) Add(members ...any) (ignored int) {
	for _, m := range members {
		norm, ok := Primitive(m)
		if !ok {
			ignored++
			continue
		}
		s[norm] = struct{}{}
	}
	return
}

func (s Set) Delete(members ...any) {
	for _, m := range members {
		if norm, ok := Primitive(m); ok {
			delete(s, norm)
		}
	}
}

func (s Set) Has(member any) bool {
	norm, ok := Primitive(member)
	if !ok {
		return false
	}
	_, has := s[norm]
	return has
}

func (s Set) Len() int {
	return len(s)
}

func (s Set) Clone() Set {
	c := make(Set, len(s))
	for m := range s {
		c[m] = struct{}{}
	}
	return c
}

// Members returns the members in a deterministic order: nil first, then
// booleans, numbers and strings.
func (s Set) Members() []any {
	members := make([]any, 0, len(s))
	for m := range s {
		members = append(members, m)
	}
	sort.Slice(members, func(i, j int) bool {
		return lessPrimitive(members[i], members[j])
	})
	return members
}

// MarshalJSON encodes the set as a sorted array, which is how sets travel
// on the wire.
func (s Set) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Members())
}

func (s *Set) UnmarshalJSON(b []byte) error {
	var members []any
	if err := json.Unmarshal(b, &members); err != nil {
		return err
	}
	*s = NewSet(members...)
	return nil
}

// Primitive normalizes v into one of nil, bool, float64 or string.
// It reports false when v is not a primitive.
func Primitive(v any) (any, bool) {
	if v == nil {
		return nil, true
	}
	switch x := v.(type) {
	case string, bool, float64:
		return x, true
	case json.Number:
		if f, err := x.Float64(); err == nil {
			return f, true
		}
		return x.String(), true
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(rv.Int()), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return float64(rv.Uint()), true
	case reflect.Float32, reflect.Float64:
		return rv.Float(), true
	case reflect.String:
		return rv.String(), true
	case reflect.Bool:
		return rv.Bool(), true
	}
	return nil, false
}

func primitiveRank(v any) int {
	switch v.(type) {
	case nil:
		return 0
	case bool:
		return 1
	case float64:
		return 2
	default:
		return 3
	}
}

func lessPrimitive(a, b any) bool {
	ra, rb := primitiveRank(a), primitiveRank(b)
	if ra != rb {
		return ra < rb
	}
	switch x := a.(type) {
	case bool:
		return !x && b.(bool)
	case float64:
		return x < b.(float64)
	case string:
		return x < b.(string)
	}
	return false
}
