// Package enum provides closed, ordered sets of symbolic values.
//
// A Set is declared once, usually at package level, and is then used both as
// a type guard (Parse rejects anything that was not declared) and as the
// source of truth for iteration, wire codes and bus vocabularies.
package enum

import (
	"errors"
	"fmt"
	"iter"
	"strings"
	"unicode"
	"unicode/utf8"
)

// ErrInvalidValue is returned when a value is not a member of a Set.
var ErrInvalidValue = errors.New("invalid enum value")

// Set is a closed, ordered set of values of a string-backed type.
type Set[T ~string] struct {
	name       string
	values     []T
	index      map[T]int
	predicates map[string]T
}

// New declares a Set containing names in declaration order. It panics if
// names is empty or contains duplicates.
func New[T ~string](name string, names ...T) *Set[T] {
	if len(names) == 0 {
		panic(fmt.Sprintf("enum %s: no values declared", name))
	}

	s := &Set[T]{
		name:       name,
		values:     make([]T, len(names)),
		index:      make(map[T]int, len(names)),
		predicates: make(map[string]T, len(names)),
	}

	for i, v := range names {
		if v == "" {
			panic(fmt.Sprintf("enum %s: empty value at position %d", name, i))
		}
		if _, dup := s.index[v]; dup {
			panic(fmt.Sprintf("enum %s: duplicate value %q", name, v))
		}
		s.values[i] = v
		s.index[v] = i
		predicate := predicateName(string(v))
		if other, clash := s.predicates[predicate]; clash {
			panic(fmt.Sprintf("enum %s: values %q and %q share predicate %s", name, other, v, predicate))
		}
		s.predicates[predicate] = v
	}

	return s
}

// Name returns the declared name of the set.
func (s *Set[T]) Name() string {
	return s.name
}

// Parse coerces v into a member of the set. It accepts values of type T,
// strings, byte slices and fmt.Stringers.
func (s *Set[T]) Parse(v any) (T, error) {
	var candidate T

	switch x := v.(type) {
	case T:
		candidate = x
	case string:
		candidate = T(x)
	case []byte:
		candidate = T(x)
	case fmt.Stringer:
		candidate = T(x.String())
	default:
		return candidate, fmt.Errorf("%w: %s does not accept %T", ErrInvalidValue, s.name, v)
	}

	if _, ok := s.index[candidate]; !ok {
		var zero T
		return zero, fmt.Errorf("%w: %q is not a %s", ErrInvalidValue, string(candidate), s.name)
	}

	return candidate, nil
}

// MustParse is like Parse but panics on error.
func (s *Set[T]) MustParse(v any) T {
	t, err := s.Parse(v)
	if err != nil {
		panic(err)
	}
	return t
}

// Contains reports whether v was declared in the set.
func (s *Set[T]) Contains(v T) bool {
	_, ok := s.index[v]
	return ok
}

// Index returns the declaration position of v, or -1.
func (s *Set[T]) Index(v T) int {
	if i, ok := s.index[v]; ok {
		return i
	}
	return -1
}

// At returns the value declared at position i.
func (s *Set[T]) At(i int) (T, error) {
	if i < 0 || i >= len(s.values) {
		var zero T
		return zero, fmt.Errorf("%w: %s has no value at position %d", ErrInvalidValue, s.name, i)
	}
	return s.values[i], nil
}

// Len returns the number of declared values.
func (s *Set[T]) Len() int {
	return len(s.values)
}

// Values returns a copy of the declared values in declaration order.
func (s *Set[T]) Values() []T {
	out := make([]T, len(s.values))
	copy(out, s.values)
	return out
}

// All iterates the declared values in declaration order.
func (s *Set[T]) All() iter.Seq[T] {
	return func(yield func(T) bool) {
		for _, v := range s.values {
			if !yield(v) {
				return
			}
		}
	}
}

// Names returns the declared values as plain strings.
func (s *Set[T]) Names() []string {
	out := make([]string, len(s.values))
	for i, v := range s.values {
		out[i] = string(v)
	}
	return out
}

// PredicateName returns the name of the derived predicate for v,
// e.g. "IsConnected" for "connected".
func (s *Set[T]) PredicateName(v T) string {
	return predicateName(string(v))
}

// Predicate looks up the value tested by a derived predicate name.
func (s *Set[T]) Predicate(name string) (T, bool) {
	v, ok := s.predicates[name]
	return v, ok
}

// predicateName converts "some_state" or "some-state" into "IsSomeState".
func predicateName(v string) string {
	var b strings.Builder
	b.WriteString("Is")

	for _, part := range strings.FieldsFunc(v, func(r rune) bool {
		return r == '_' || r == '-' || r == ' ' || r == '.'
	}) {
		r, size := utf8.DecodeRuneInString(part)
		b.WriteRune(unicode.ToUpper(r))
		b.WriteString(part[size:])
	}

	return b.String()
}
