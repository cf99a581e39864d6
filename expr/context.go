package expr

import (
	"fmt"

	"github.com/google/cel-go/cel"
)

// Reserved names.
const (
	// Outer is the token that moves one scope out, e.g. outer.size.
	Outer = "outer"
	// Index is the position of the list element being produced.
	Index = "index"
	// Prefix is the value read by a selector prefix.
	Prefix = "prefix"
)

// Type is the static type of a declared name.
type Type uint8

const (
	// Dyn is any value. Records are seen as maps and lists as lists.
	Dyn Type = iota
	// Int is a signed 64 bit integer. All integer fields are seen as Int.
	Int
	// Bool is a boolean.
	Bool
	// String is a string.
	String
	// Float is a 64 bit float.
	Float
)

func (t Type) cel() *cel.Type {
	switch t {
	case Int:
		return cel.IntType
	case Bool:
		return cel.BoolType
	case String:
		return cel.StringType
	case Float:
		return cel.DoubleType
	default:
		return cel.DynType
	}
}

// String implements fmt.Stringer.
func (t Type) String() string {
	switch t {
	case Dyn:
		return "dyn"
	case Int:
		return "int"
	case Bool:
		return "bool"
	case String:
		return "string"
	case Float:
		return "double"
	default:
		return fmt.Sprintf("Type(%d)", uint8(t))
	}
}

// Declaration is a name visible to expressions, with its static type.
type Declaration struct {
	Name string
	Type Type
}

// Context describes which names exist at schema-construction time.
// Expressions are compiled against a Context, and evaluated against a Resolver for the same scope.
type Context interface {
	// Declarations returns the names declared in this scope.
	Declarations() []Declaration

	// Outer returns the enclosing scope, or nil.
	Outer() Context
}

// NewScope returns an empty Scope inside outer.
func NewScope(outer Context) *Scope {
	return &Scope{outer: outer}
}

// Scope is a Context that grows as names are declared.
// Expressions compiled against it only see the names declared before they were compiled.
type Scope struct {
	outer Context
	decls []Declaration
}

// Declare adds name to the scope.
func (s *Scope) Declare(name string, t Type) {
	s.decls = append(s.decls, Declaration{Name: name, Type: t})
}

// Declarations implements Context.
func (s *Scope) Declarations() []Declaration {
	return s.decls[:len(s.decls):len(s.decls)]
}

// Outer implements Context.
func (s *Scope) Outer() Context { return s.outer }

// With returns a Context that adds one name to ctx without starting a new scope.
// It is the static counterpart of Bind.
func With(ctx Context, name string, t Type) Context {
	return with{ctx: ctx, decl: Declaration{Name: name, Type: t}}
}

type with struct {
	ctx  Context
	decl Declaration
}

func (w with) Declarations() []Declaration {
	if w.ctx == nil {
		return []Declaration{w.decl}
	}

	var decls []Declaration
	for _, d := range w.ctx.Declarations() {
		if d.Name != w.decl.Name {
			decls = append(decls, d)
		}
	}
	return append(decls, w.decl)
}

func (w with) Outer() Context {
	if w.ctx == nil {
		return nil
	}
	return w.ctx.Outer()
}

// visible returns every name reachable from ctx, as written in expressions.
func visible(ctx Context) []Declaration {
	var (
		decls  []Declaration
		prefix string
	)
	for ; ctx != nil; ctx = ctx.Outer() {
		for _, d := range ctx.Declarations() {
			decls = append(decls, Declaration{Name: prefix + d.Name, Type: d.Type})
		}
		prefix += Outer + "."
	}
	return decls
}
