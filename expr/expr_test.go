package expr_test

import (
	"errors"
	"math"
	"testing"

	"github.com/maxatome/go-testdeep/td"
	"github.com/stewi1014/bitcodec/encio"
	"github.com/stewi1014/bitcodec/expr"
)

// scopes returns three nested scopes, each declaring size and the innermost also declaring n.
func scopes() (outer, middle, inner *expr.Scope) {
	outer = expr.NewScope(nil)
	outer.Declare("size", expr.Int)
	middle = expr.NewScope(outer)
	middle.Declare("size", expr.Int)
	inner = expr.NewScope(middle)
	inner.Declare("size", expr.Int)
	inner.Declare("n", expr.Int)
	return
}

func resolvers() expr.Resolver {
	outer := expr.Map{Values: map[string]any{"size": uint8(3)}}
	middle := expr.Map{Values: map[string]any{"size": int16(20)}, Parent: outer}
	return expr.Map{Values: map[string]any{"size": uint64(100), "n": 7}, Parent: middle}
}

func TestInteger(t *testing.T) {
	_, _, inner := scopes()

	testCases := []struct {
		text  string
		want  int64
		param bool
	}{
		{text: "8", want: 8},
		{text: "0x10", want: 16},
		{text: "2 * 4 + 1", want: 9},
		{text: "size", want: 100, param: true},
		{text: "outer.size", want: 20, param: true},
		{text: "outer.outer.size", want: 3, param: true},
		{text: "n * 8", want: 56, param: true},
		{text: "size - outer.size * outer.outer.size", want: 40, param: true},
		{text: "n > 5 ? 1 : 2", want: 1, param: true},
		{text: "bitAnd(size, 0x0F)", want: 4, param: true},
		{text: "bitOr(n, 8)", want: 15, param: true},
		{text: "bitXor(n, 1)", want: 6, param: true},
		{text: "shiftLeft(n, 2)", want: 28, param: true},
		{text: "shiftRight(size, 2)", want: 25, param: true},
	}
	for _, tC := range testCases {
		t.Run(tC.text, func(t *testing.T) {
			i, err := expr.NewInteger(inner, tC.text)
			if err != nil {
				t.Fatal(err)
			}

			got, err := i.Int(resolvers())
			if err != nil {
				t.Fatal(err)
			}
			td.Cmp(t, got, tC.want)
			td.Cmp(t, i.Parameterized(), tC.param)

			_, konst := expr.Constant(i)
			td.Cmp(t, konst, !tC.param)
		})
	}
}

func TestBoolean(t *testing.T) {
	_, _, inner := scopes()

	testCases := []struct {
		text string
		want bool
	}{
		{text: "true", want: true},
		{text: "size == 100", want: true},
		{text: "outer.size < size && n != 0", want: true},
		{text: "outer.outer.size == 4", want: false},
		{text: "!(n == 7)", want: false},
	}
	for _, tC := range testCases {
		t.Run(tC.text, func(t *testing.T) {
			b, err := expr.NewBoolean(inner, tC.text)
			if err != nil {
				t.Fatal(err)
			}

			got, err := b.Bool(resolvers())
			if err != nil {
				t.Fatal(err)
			}
			td.Cmp(t, got, tC.want)
		})
	}
}

func TestConstructionErrors(t *testing.T) {
	outer, middle, inner := scopes()

	testCases := []struct {
		desc string
		ctx  expr.Context
		text string
		want error
	}{
		{desc: "undeclared", ctx: inner, text: "missing + 1", want: encio.ErrUndeclared},
		{desc: "too many outers", ctx: middle, text: "outer.outer.size", want: encio.ErrUndeclared},
		{desc: "outer has no n", ctx: inner, text: "outer.n", want: encio.ErrUndeclared},
		{desc: "nothing declared", ctx: nil, text: "size", want: encio.ErrUndeclared},
		{desc: "malformed", ctx: outer, text: "size +* 2", want: encio.ErrBadExpression},
		{desc: "wrong type", ctx: outer, text: "size == 2", want: encio.ErrBadExpression},
		{desc: "constant failure", ctx: outer, text: "1 / 0", want: encio.ErrBadExpression},
	}
	for _, tC := range testCases {
		t.Run(tC.desc, func(t *testing.T) {
			_, err := expr.NewInteger(tC.ctx, tC.text)
			if !errors.Is(err, tC.want) {
				t.Fatalf("got %v, wanted %v", err, tC.want)
			}
		})
	}

	_, err := expr.NewBoolean(outer, "size + 1")
	td.CmpTrue(t, errors.Is(err, encio.ErrBadExpression))
}

func TestDeclarationOrder(t *testing.T) {
	s := expr.NewScope(nil)
	s.Declare("a", expr.Int)

	before, err := expr.NewInteger(s, "a")
	td.CmpNoError(t, err)

	_, err = expr.NewInteger(s, "b")
	td.CmpTrue(t, errors.Is(err, encio.ErrUndeclared), "b is not declared yet")

	s.Declare("b", expr.Int)
	_, err = expr.NewInteger(s, "a + b")
	td.CmpNoError(t, err)

	got, err := before.Int(expr.Map{Values: map[string]any{"a": 2}})
	td.CmpNoError(t, err)
	td.Cmp(t, got, int64(2))
}

func TestBind(t *testing.T) {
	s := expr.NewScope(nil)
	s.Declare("base", expr.Int)
	ctx := expr.With(s, expr.Index, expr.Int)

	offset, err := expr.NewInteger(ctx, "base + index * 16")
	td.CmpNoError(t, err)

	r := expr.Map{Values: map[string]any{"base": 8}}
	for i := 0; i < 3; i++ {
		got, err := offset.Int(expr.Bind(r, expr.Index, i))
		td.CmpNoError(t, err)
		td.Cmp(t, got, int64(8+16*i))
	}

	// index does not start a scope, so outer still means the enclosing record.
	inner := expr.NewScope(ctx)
	i, err := expr.NewInteger(inner, "outer.index + outer.base")
	td.CmpNoError(t, err)

	got, err := i.Int(expr.Map{Parent: expr.Bind(r, expr.Index, 2)})
	td.CmpNoError(t, err)
	td.Cmp(t, got, int64(10))

	_, err = expr.NewInteger(expr.With(ctx, expr.Index, expr.Int), "index")
	td.CmpNoError(t, err, "re-binding index shadows")
}

func TestUnavailable(t *testing.T) {
	s := expr.NewScope(nil)
	s.Declare("n", expr.Int)
	ctx := expr.With(s, expr.Index, expr.Int)

	byIndex, err := expr.NewInteger(ctx, "index * 8")
	td.CmpNoError(t, err)
	byN, err := expr.NewInteger(ctx, "n * 8")
	td.CmpNoError(t, err)

	r := expr.Unavailable(expr.Map{Values: map[string]any{"n": 2}}, expr.Index)

	_, err = byIndex.Int(r)
	td.CmpTrue(t, errors.Is(err, expr.ErrUnavailable))

	got, err := byN.Int(r)
	td.CmpNoError(t, err)
	td.Cmp(t, got, int64(16))
}

func TestCombinators(t *testing.T) {
	s := expr.NewScope(nil)
	s.Declare("n", expr.Int)
	n, err := expr.NewInteger(s, "n")
	td.CmpNoError(t, err)

	sum := expr.Sum(expr.Const(8), expr.Const(16))
	v, ok := expr.Constant(sum)
	td.CmpTrue(t, ok)
	td.Cmp(t, v, int64(24))

	td.CmpNil(t, expr.Sum(expr.Const(1), nil))
	td.CmpNil(t, expr.Product(nil, n))

	size := expr.Product(n, expr.Const(8))
	td.CmpTrue(t, size.Parameterized())
	got, err := expr.Sum(size, expr.Const(4)).Int(expr.Map{Values: map[string]any{"n": 3}})
	td.CmpNoError(t, err)
	td.Cmp(t, got, int64(28))

	// A size written inside a record, lifted to be evaluated by the enclosing record.
	inner := expr.NewScope(s)
	inner.Declare("own", expr.Int)
	fromOuter, err := expr.NewInteger(inner, "outer.n * 2")
	td.CmpNoError(t, err)
	fromOwn, err := expr.NewInteger(inner, "own * 2")
	td.CmpNoError(t, err)

	r := expr.Map{Values: map[string]any{"n": 5}}
	got, err = expr.Lift(fromOuter).Int(r)
	td.CmpNoError(t, err)
	td.Cmp(t, got, int64(10))

	_, err = expr.Lift(fromOwn).Int(r)
	td.CmpTrue(t, errors.Is(err, expr.ErrUnavailable))

	td.Cmp(t, expr.Lift(expr.Const(3)), expr.Const(3))
}

func TestValue(t *testing.T) {
	s := expr.NewScope(nil)
	s.Declare("name", expr.String)
	s.Declare("n", expr.Int)

	testCases := []struct {
		text string
		want any
	}{
		{text: "name", want: "ab"},
		{text: "n + 1", want: int64(3)},
		{text: "n == 2", want: true},
		{text: "name + \"c\"", want: "abc"},
		{text: "b\"\\x01\"", want: []byte{1}},
	}
	for _, tC := range testCases {
		t.Run(tC.text, func(t *testing.T) {
			v, err := expr.NewValue(s, tC.text)
			if err != nil {
				t.Fatal(err)
			}
			got, err := v.Value(expr.Map{Values: map[string]any{"name": "ab", "n": uint16(2)}})
			td.CmpNoError(t, err)
			td.Cmp(t, got, tC.want)
		})
	}
}

func TestUnsignedRange(t *testing.T) {
	s := expr.NewScope(nil)
	s.Declare("v", expr.Int)
	positive, err := expr.NewBoolean(s, "v > 0")
	if err != nil {
		t.Fatal(err)
	}

	ok, err := positive.Bool(expr.Map{Values: map[string]any{"v": uint64(math.MaxInt64)}})
	td.CmpNoError(t, err)
	td.CmpTrue(t, ok)

	_, err = positive.Bool(expr.Map{Values: map[string]any{"v": uint64(math.MaxInt64) + 1}})
	td.CmpTrue(t, errors.Is(err, encio.ErrUnsupported), "%v", err)
}
