// Package expr provides the expressions that let a field's size, repeat count, presence or expected value depend on other fields.
//
// Expressions are written in CEL (https://github.com/google/cel-go) and compiled once against a Context,
// which knows which names exist at schema-construction time. They are then evaluated, any number of times and concurrently,
// against a Resolver holding the values of one decode or encode call.
//
// Fields of the record being decoded are referenced by name. Fields of enclosing records are referenced through outer,
// one scope per occurrence, so outer.outer.size is the size field of the grandparent record.
// Lists add index, the position of the element being produced, and selectors add prefix.
package expr

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/google/cel-go/common/types"

	"github.com/stewi1014/bitcodec/encio"
)

// Integer is an expression evaluating to an integer.
type Integer interface {
	// Int evaluates the expression.
	Int(r Resolver) (int64, error)

	// Parameterized returns true if the value depends on variables.
	Parameterized() bool

	String() string
}

// Boolean is an expression evaluating to a boolean.
type Boolean interface {
	// Bool evaluates the expression.
	Bool(r Resolver) (bool, error)

	// Parameterized returns true if the value depends on variables.
	Parameterized() bool

	String() string
}

// NewInteger compiles text as an integer expression in ctx.
// Names not visible from ctx are a construction error wrapping encio.ErrUndeclared.
func NewInteger(ctx Context, text string) (Integer, error) {
	if n, err := strconv.ParseInt(strings.TrimSpace(text), 0, 64); err == nil {
		return Const(n), nil
	}

	p, err := compile(ctx, text, Int)
	if err != nil {
		return nil, err
	}

	i := &integer{p: p}
	if p.konst != nil {
		v, err := toInt(p.konst.Value(), text)
		if err != nil {
			return nil, err
		}
		return folded{v: v, text: text}, nil
	}
	return i, nil
}

// NewBoolean compiles text as a boolean expression in ctx.
func NewBoolean(ctx Context, text string) (Boolean, error) {
	p, err := compile(ctx, text, Bool)
	if err != nil {
		return nil, err
	}
	return &boolean{p: p}, nil
}

// NewValue compiles text as an expression of any type.
func NewValue(ctx Context, text string) (Value, error) {
	p, err := compile(ctx, text, Dyn)
	if err != nil {
		return nil, err
	}
	return &value{p: p}, nil
}

// Value is an expression of any type.
type Value interface {
	// Value evaluates the expression. Integers are int64, uint64 or float64 as CEL typed them.
	Value(r Resolver) (any, error)

	// Parameterized returns true if the value depends on variables.
	Parameterized() bool

	String() string
}

type value struct {
	p *program
}

func (v *value) Value(r Resolver) (any, error) {
	val, err := v.p.eval(r)
	if err != nil {
		return nil, err
	}
	return val.Value(), nil
}

func (v *value) Parameterized() bool { return v.p.param }
func (v *value) String() string      { return v.p.text }

type integer struct {
	p *program
}

func (i *integer) Int(r Resolver) (int64, error) {
	val, err := i.p.eval(r)
	if err != nil {
		return 0, err
	}
	return toInt(val.Value(), i.p.text)
}

func (i *integer) Parameterized() bool { return i.p.param }
func (i *integer) String() string      { return i.p.text }

func toInt(v any, text string) (int64, error) {
	switch n := v.(type) {
	case int64:
		return n, nil
	case uint64:
		return int64(n), nil
	case types.Int:
		return int64(n), nil
	default:
		return 0, encio.NewError(encio.ErrBadExpression, fmt.Sprintf("%q gave %T, wanted an integer", text, v), "")
	}
}

type boolean struct {
	p *program
}

func (b *boolean) Bool(r Resolver) (bool, error) {
	val, err := b.p.eval(r)
	if err != nil {
		return false, err
	}

	v, ok := val.Value().(bool)
	if !ok {
		return false, encio.NewError(encio.ErrBadExpression, fmt.Sprintf("%q gave %T, wanted a bool", b.p.text, val.Value()), "")
	}
	return v, nil
}

func (b *boolean) Parameterized() bool { return b.p.param }
func (b *boolean) String() string      { return b.p.text }

// Const returns a constant Integer.
func Const(n int64) Integer {
	return folded{v: n}
}

type folded struct {
	v    int64
	text string
}

func (f folded) Int(Resolver) (int64, error) { return f.v, nil }
func (f folded) Parameterized() bool         { return false }

func (f folded) String() string {
	if f.text != "" {
		return f.text
	}
	return strconv.FormatInt(f.v, 10)
}

// True is a constant true Boolean.
var True Boolean = constBool(true)

type constBool bool

func (c constBool) Bool(Resolver) (bool, error) { return bool(c), nil }
func (c constBool) Parameterized() bool         { return false }
func (c constBool) String() string              { return strconv.FormatBool(bool(c)) }

// Constant returns the value of i if it does not depend on any variable.
func Constant(i Integer) (int64, bool) {
	if f, ok := i.(folded); ok {
		return f.v, true
	}
	return 0, false
}

// Sum returns the sum of terms. A constant sum is folded.
// It returns nil if any term is nil; an unknown part makes the whole unknown.
func Sum(terms ...Integer) Integer {
	var (
		konst int64
		rest  []Integer
	)
	for _, t := range terms {
		if t == nil {
			return nil
		}
		if v, ok := Constant(t); ok {
			konst += v
			continue
		}
		rest = append(rest, t)
	}

	if len(rest) == 0 {
		return Const(konst)
	}
	if konst != 0 {
		rest = append(rest, Const(konst))
	}
	if len(rest) == 1 {
		return rest[0]
	}
	return sum(rest)
}

type sum []Integer

func (s sum) Int(r Resolver) (total int64, err error) {
	for _, t := range s {
		v, err := t.Int(r)
		if err != nil {
			return 0, err
		}
		total += v
	}
	return
}

func (s sum) Parameterized() bool { return true }

func (s sum) String() string {
	parts := make([]string, len(s))
	for i, t := range s {
		parts[i] = "(" + t.String() + ")"
	}
	return strings.Join(parts, " + ")
}

// Product returns a * b, folding constants. It returns nil if either is nil.
func Product(a, b Integer) Integer {
	if a == nil || b == nil {
		return nil
	}

	av, aok := Constant(a)
	bv, bok := Constant(b)
	switch {
	case aok && bok:
		return Const(av * bv)
	case aok && av == 0, bok && bv == 0:
		return Const(0)
	case aok && av == 1:
		return b
	case bok && bv == 1:
		return a
	}
	return product{a, b}
}

type product [2]Integer

func (p product) Int(r Resolver) (int64, error) {
	a, err := p[0].Int(r)
	if err != nil {
		return 0, err
	}
	b, err := p[1].Int(r)
	if err != nil {
		return 0, err
	}
	return a * b, nil
}

func (p product) Parameterized() bool { return true }
func (p product) String() string      { return "(" + p[0].String() + ") * (" + p[1].String() + ")" }

// Lift returns an Integer for the scope enclosing the one i was written for.
// Its value is i's value in a nested scope whose own names are unavailable; it fails if i needs them.
// Lift of a constant is the constant.
func Lift(i Integer) Integer {
	if i == nil {
		return nil
	}
	if _, ok := Constant(i); ok {
		return i
	}
	return lifted{i}
}

type lifted struct {
	i Integer
}

func (l lifted) Int(r Resolver) (int64, error) { return l.i.Int(Nested(r)) }
func (l lifted) Parameterized() bool           { return true }
func (l lifted) String() string                { return l.i.String() }
