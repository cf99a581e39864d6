package expr

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned by a Resolver that has no variable with the requested name.
	ErrNotFound = errors.New("no such variable")

	// ErrUnavailable is returned by a Resolver that knows a name, but cannot give its value yet.
	// Sizes that depend on unavailable values are unknown rather than wrong.
	ErrUnavailable = errors.New("variable unavailable")
)

// Resolver gives the current values of variables for one decode or encode call.
// Each nested record gets its own Resolver, whose Outer is the enclosing record's.
type Resolver interface {
	// Get returns the value of name in this scope.
	// It returns an error wrapping ErrNotFound if the scope has no such name.
	Get(name string) (any, error)

	// Outer returns the enclosing scope, or nil at the top level.
	Outer() Resolver
}

// Bind returns a Resolver that adds name to r.
// The new name does not start a new scope; Outer is r's outer scope.
func Bind(r Resolver, name string, value any) Resolver {
	return bound{r: r, name: name, value: value}
}

type bound struct {
	r     Resolver
	name  string
	value any
}

func (b bound) Get(name string) (any, error) {
	if name == b.name {
		return b.value, nil
	}
	if b.r == nil {
		return nil, fmt.Errorf("%w: %v", ErrNotFound, name)
	}
	return b.r.Get(name)
}

func (b bound) Outer() Resolver {
	if b.r == nil {
		return nil
	}
	return b.r.Outer()
}

// Unavailable returns a Resolver that adds name to r, reporting it as ErrUnavailable.
// It is used to test whether an expression depends on a name at all.
func Unavailable(r Resolver, name string) Resolver {
	return unavailable{r: r, name: name}
}

type unavailable struct {
	r    Resolver
	name string
}

func (u unavailable) Get(name string) (any, error) {
	if name == u.name {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, name)
	}
	if u.r == nil {
		return nil, fmt.Errorf("%w: %v", ErrNotFound, name)
	}
	return u.r.Get(name)
}

func (u unavailable) Outer() Resolver {
	if u.r == nil {
		return nil
	}
	return u.r.Outer()
}

// Nested returns a Resolver for a scope one level inside r whose own variables are all unavailable.
// Evaluating an expression written for the inner scope against it succeeds only if the expression
// depends on nothing but the outer scopes.
func Nested(r Resolver) Resolver {
	return nested{outer: r}
}

type nested struct {
	outer Resolver
}

func (n nested) Get(name string) (any, error) {
	return nil, fmt.Errorf("%w: %v", ErrUnavailable, name)
}

func (n nested) Outer() Resolver { return n.outer }

// Map is a Resolver over a map of values.
type Map struct {
	Values map[string]any
	Parent Resolver
}

// Get implements Resolver.
func (m Map) Get(name string) (any, error) {
	v, ok := m.Values[name]
	if !ok {
		return nil, fmt.Errorf("%w: %v", ErrNotFound, name)
	}
	return v, nil
}

// Outer implements Resolver.
func (m Map) Outer() Resolver { return m.Parent }
