package protocol

import (
	"slices"
	"strings"
)

// KeySeparator sits between the shape id and the scope in a [Key].
const KeySeparator = "::"

// CanonicalScope renders scope independently of its order. An absent and an
// empty scope are the same scope.
func CanonicalScope(scope []string) string {
	return strings.Join(SortedScope(scope), ",")
}

// SortedScope returns a sorted copy of scope, nil when scope is empty.
func SortedScope(scope []string) []string {
	if len(scope) == 0 {
		return nil
	}
	sorted := slices.Clone(scope)
	slices.Sort(sorted)
	return sorted
}

// Key identifies the document of a shape restricted to a scope.
func Key(shapeID string, scope []string) string {
	return shapeID + KeySeparator + CanonicalScope(scope)
}
