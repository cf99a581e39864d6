package expr

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
	"github.com/google/cel-go/interpreter"

	"github.com/stewi1014/bitcodec/encio"
)

var (
	baseOnce sync.Once
	baseEnv  *cel.Env
	baseErr  error
)

// base returns the environment every expression starts from; CEL's standard library
// plus integer bit manipulation, which binary formats need and CEL leaves out.
func base() (*cel.Env, error) {
	baseOnce.Do(func() {
		baseEnv, baseErr = cel.NewEnv(
			bitFunction("bitAnd", func(a, b int64) int64 { return a & b }),
			bitFunction("bitOr", func(a, b int64) int64 { return a | b }),
			bitFunction("bitXor", func(a, b int64) int64 { return a ^ b }),
			bitFunction("shiftLeft", func(a, b int64) int64 { return a << uint64(b) }),
			bitFunction("shiftRight", func(a, b int64) int64 { return a >> uint64(b) }),
		)
	})
	return baseEnv, baseErr
}

func bitFunction(name string, op func(a, b int64) int64) cel.EnvOption {
	return cel.Function(name,
		cel.Overload(name+"_int_int", []*cel.Type{cel.IntType, cel.IntType}, cel.IntType,
			cel.BinaryBinding(func(lhs, rhs ref.Val) ref.Val {
				a, ok := lhs.(types.Int)
				if !ok {
					return types.MaybeNoSuchOverloadErr(lhs)
				}
				b, ok := rhs.(types.Int)
				if !ok {
					return types.MaybeNoSuchOverloadErr(rhs)
				}
				if (name == "shiftLeft" || name == "shiftRight") && (b < 0 || b > 63) {
					return types.NewErr("%v: shift count %v out of range", name, int64(b))
				}
				return types.Int(op(int64(a), int64(b)))
			}),
		),
	)
}

// program is a compiled expression.
type program struct {
	text  string
	prg   cel.Program
	param bool
	konst ref.Val // non-nil when the expression touches no variable
}

// compile parses and checks text against the names visible from ctx.
func compile(ctx Context, text string, want Type) (*program, error) {
	env, err := base()
	if err != nil {
		return nil, encio.NewError(encio.ErrBadExpression, err.Error(), "")
	}

	decls := visible(ctx)
	if len(decls) > 0 {
		opts := make([]cel.EnvOption, len(decls))
		for i, d := range decls {
			opts[i] = cel.Variable(d.Name, d.Type.cel())
		}

		env, err = env.Extend(opts...)
		if err != nil {
			return nil, encio.NewError(encio.ErrBadSchema, fmt.Sprintf("declaring variables for %q: %v", text, err), "")
		}
	}

	ast, iss := env.Compile(text)
	if iss != nil && iss.Err() != nil {
		msg := iss.Err().Error()
		if strings.Contains(msg, "undeclared reference") {
			return nil, encio.NewError(encio.ErrUndeclared, fmt.Sprintf("in %q: %v", text, msg), "")
		}
		return nil, encio.NewError(encio.ErrBadExpression, fmt.Sprintf("in %q: %v", text, msg), "")
	}

	out := ast.OutputType().String()
	if want != Dyn && out != want.cel().String() && out != cel.DynType.String() {
		return nil, encio.NewError(encio.ErrBadExpression, fmt.Sprintf("%q is %v, wanted %v", text, out, want), "")
	}

	prg, err := env.Program(ast)
	if err != nil {
		return nil, encio.NewError(encio.ErrBadExpression, fmt.Sprintf("in %q: %v", text, err), "")
	}

	p := &program{
		text: text,
		prg:  prg,
	}

	// Try evaluating with no variables at all; if nothing was looked up, the expression is constant.
	act := &activation{}
	val, _, err := prg.Eval(act)
	p.param = act.touched
	if !act.touched {
		if err != nil {
			return nil, encio.NewError(encio.ErrBadExpression, fmt.Sprintf("evaluating constant %q: %v", text, err), "")
		}
		p.konst = val
	}

	return p, nil
}

func (p *program) eval(r Resolver) (ref.Val, error) {
	if p.konst != nil {
		return p.konst, nil
	}

	act := &activation{r: r}
	val, _, err := p.prg.Eval(act)
	if act.err != nil {
		return nil, act.err
	}
	if err != nil {
		return nil, encio.NewError(encio.ErrBadExpression, fmt.Sprintf("evaluating %q: %v", p.text, err), "")
	}
	return val, nil
}

// activation adapts a Resolver to CEL, walking one scope out per outer token.
type activation struct {
	r       Resolver
	err     error
	touched bool
}

func (a *activation) ResolveName(name string) (any, bool) {
	a.touched = true

	r := a.r
	for strings.HasPrefix(name, Outer+".") {
		if r == nil {
			return nil, false
		}
		name = name[len(Outer)+1:]
		r = r.Outer()
	}
	if r == nil {
		return nil, false
	}

	v, err := r.Get(name)
	if err != nil {
		// CEL asks for qualified names it might not know, e.g. a.b before selecting b from a.
		if !errors.Is(err, ErrNotFound) && a.err == nil {
			a.err = err
		}
		return nil, false
	}
	if err := fits(v); err != nil {
		if a.err == nil {
			a.err = err
		}
		return nil, false
	}
	return Native(v), true
}

// fits reports an error for unsigned values that int64, the type expressions see integers as, cannot hold.
func fits(v any) error {
	var u uint64
	switch n := v.(type) {
	case uint:
		u = uint64(n)
	case uint64:
		u = n
	case uintptr:
		u = uint64(n)
	default:
		return nil
	}
	if u > math.MaxInt64 {
		return encio.NewError(encio.ErrUnsupported, fmt.Sprintf("%v is too large for an expression integer", u), "")
	}
	return nil
}

func (a *activation) Parent() interpreter.Activation { return nil }

// Native converts v to the representation expressions see.
// Integers of every width become int64 and float32 becomes float64. Other values are returned as is.
// Unsigned values above math.MaxInt64 wrap; expressions refuse to read them rather than see the wrapped value.
func Native(v any) any {
	switch n := v.(type) {
	case int:
		return int64(n)
	case int8:
		return int64(n)
	case int16:
		return int64(n)
	case int32:
		return int64(n)
	case uint:
		return int64(n)
	case uint8:
		return int64(n)
	case uint16:
		return int64(n)
	case uint32:
		return int64(n)
	case uint64:
		return int64(n)
	case uintptr:
		return int64(n)
	case float32:
		return float64(n)
	default:
		return v
	}
}
