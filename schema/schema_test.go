package schema_test

import (
	"errors"
	"reflect"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/maxatome/go-testdeep/td"
	"github.com/stewi1014/bitcodec/bitbuf"
	"github.com/stewi1014/bitcodec/encio"
	"github.com/stewi1014/bitcodec/schema"
)

type header struct {
	Version uint8    `bin:"bits=4"`
	Flags   uint8    `bin:"bits=4"`
	Length  uint16   `bin:"order=little"`
	Name    string   `bin:"length=Length"`
	Data    [4]byte  `bin:"align=8"`
	Values  []uint16 `bin:"count=2;order=little"`
	Scale   float64
	Signed  int32   `bin:"bits=12;name=signed"`
	Next    *header `bin:"if=Flags != 0"`
	Ignored int     `bin:"-"`
	skipped int
}

func TestFromStruct(t *testing.T) {
	rec, err := schema.FromStruct[header]()
	if err != nil {
		t.Fatal(err)
	}

	names := make([]string, len(rec.Fields))
	for i, f := range rec.Fields {
		names[i] = f.Name
	}
	td.Cmp(t, names, []string{"Version", "Flags", "Length", "Name", "Data", "Values", "Scale", "signed", "Next"})

	byName := map[string]*schema.Field{}
	for _, f := range rec.Fields {
		byName[f.Name] = f
	}

	td.Cmp(t, byName["Version"].Type, &schema.Type{Kind: schema.Uint, Bits: "4"})
	td.Cmp(t, byName["Length"].Type, &schema.Type{Kind: schema.Uint, Bits: "16", Order: bitbuf.LittleEndian})
	td.Cmp(t, byName["Name"].Type, &schema.Type{Kind: schema.String, Length: "Length"})
	td.Cmp(t, byName["Data"].Type, &schema.Type{Kind: schema.Bytes, Length: "4"})
	td.Cmp(t, byName["Data"].Align, uint(8))
	td.Cmp(t, byName["Values"].Type, &schema.Type{
		Kind:  schema.KindList,
		Count: "2",
		Elem:  &schema.Type{Kind: schema.Uint, Bits: "16", Order: bitbuf.LittleEndian},
	})
	td.Cmp(t, byName["Scale"].Type, &schema.Type{Kind: schema.Float, Bits: "64"})
	td.Cmp(t, byName["signed"].GoName, "Signed")
	td.Cmp(t, byName["Next"].If, "Flags != 0")
	td.CmpTrue(t, byName["Next"].Type.Record == rec, "recursive types share the record")
	td.Cmp(t, rec.GoType, reflect.TypeOf(header{}))
}

func TestFromStructErrors(t *testing.T) {
	type badWidth struct {
		N int
	}
	_, err := schema.FromStruct[badWidth]()
	td.CmpTrue(t, errors.Is(err, encio.ErrBadSchema), "int has no implied width")

	type badOrder struct {
		N uint8 `bin:"order=sideways"`
	}
	_, err = schema.FromStruct[badOrder]()
	td.CmpError(t, err)

	type badMap struct {
		M map[string]int
	}
	_, err = schema.FromStruct[badMap]()
	td.CmpTrue(t, errors.Is(err, encio.ErrBadType))

	_, err = schema.FromStruct[int]()
	td.CmpTrue(t, errors.Is(err, encio.ErrBadType))
}

func TestGoAccessors(t *testing.T) {
	rec, err := schema.FromStruct[header]()
	if err != nil {
		t.Fatal(err)
	}

	v := rec.New()
	h, ok := v.(*header)
	if !ok {
		t.Fatalf("New returned %T", v)
	}
	td.CmpTrue(t, rec.Owns(h))
	td.CmpFalse(t, rec.Owns(schema.NewStruct(rec)))

	testCases := []struct {
		field string
		set   any
		want  any
	}{
		{field: "Version", set: uint64(3), want: uint8(3)},
		{field: "signed", set: int64(-5), want: int32(-5)},
		{field: "Name", set: "abc", want: "abc"},
		{field: "Data", set: []byte{1, 2, 3, 4}, want: [4]byte{1, 2, 3, 4}},
		{field: "Values", set: []any{uint64(1), uint64(2)}, want: []uint16{1, 2}},
		{field: "Scale", set: 1.5, want: 1.5},
	}
	for _, tC := range testCases {
		t.Run(tC.field, func(t *testing.T) {
			a, err := rec.Accessor(tC.field)
			if err != nil {
				t.Fatal(err)
			}
			td.CmpNoError(t, a.Set(h, tC.set))

			got, err := a.Get(h)
			td.CmpNoError(t, err)
			td.Cmp(t, got, tC.want)
		})
	}

	next, err := rec.Accessor("Next")
	td.CmpNoError(t, err)
	got, err := next.Get(h)
	td.CmpNoError(t, err)
	td.CmpNil(t, got)

	td.CmpNoError(t, next.Set(h, &header{Version: 9}))
	td.Cmp(t, h.Next.Version, uint8(9))

	_, err = rec.Accessor("Ignored")
	td.CmpTrue(t, errors.Is(err, encio.ErrBadSchema))

	version, _ := rec.Accessor("Version")
	td.CmpTrue(t, errors.Is(version.Set(h, "three"), encio.ErrBadType))
	td.CmpTrue(t, errors.Is(version.Set(schema.NewStruct(rec), uint64(1)), encio.ErrBadType))
}

func TestNormalize(t *testing.T) {
	rec, err := schema.FromStruct[header]()
	if err != nil {
		t.Fatal(err)
	}
	if _, err := rec.Accessor("Version"); err != nil {
		t.Fatal(err)
	}

	n := schema.Normalize(&header{Version: 2, Values: []uint16{7, 8}, Signed: -1})
	m, ok := n.(map[string]any)
	if !ok {
		t.Fatalf("got %T, wanted a map", n)
	}
	td.Cmp(t, m["Version"], int64(2))
	td.Cmp(t, m["Values"], []any{int64(7), int64(8)})
	td.Cmp(t, m["signed"], int64(-1), "named by the record, not the Go field")
	td.Cmp(t, m["Next"], nil)

	inner := &schema.Record{Name: "inner", Fields: []*schema.Field{{Name: "x", Type: schema.Scalar(schema.Uint, "8")}}}
	s := schema.NewStruct(inner)
	s.Set("x", uint64(4))
	outer := schema.NewStruct(&schema.Record{Name: "outer"})
	outer.Set("in", s)
	outer.Set("list", []any{uint64(1), s})

	td.Cmp(t, schema.Normalize(outer), map[string]any{
		"in":   map[string]any{"x": int64(4)},
		"list": []any{int64(1), map[string]any{"x": int64(4)}},
	})
	td.Cmp(t, outer.Map(), map[string]any{
		"in":   map[string]any{"x": uint64(4)},
		"list": []any{uint64(1), map[string]any{"x": uint64(4)}},
	})
}

func TestDynamicAccessors(t *testing.T) {
	base := &schema.Record{Name: "base", Fields: []*schema.Field{{Name: "a", Type: schema.Scalar(schema.Uint, "8")}}}
	rec := &schema.Record{
		Name:   "derived",
		Base:   base,
		Fields: []*schema.Field{{Name: "b", Type: schema.Scalar(schema.Bool, "")}},
		Inject: []schema.Injection{{Field: "c", Expr: "outer.n"}},
	}

	fields := rec.All()
	td.Cmp(t, len(fields), 2)
	td.Cmp(t, fields[0].Name, "a", "base fields come first")

	v := rec.New().(*schema.Struct)
	for _, name := range []string{"a", "b", "c"} {
		a, err := rec.Accessor(name)
		if err != nil {
			t.Fatal(err)
		}
		td.CmpNoError(t, a.Set(v, name))
	}
	td.Cmp(t, v.Map(), map[string]any{"a": "a", "b": "b", "c": "c"})

	a, _ := rec.Accessor("a")
	_, err := a.Get(&header{})
	td.CmpTrue(t, errors.Is(err, encio.ErrBadType))
}

type lazy []any

func (l lazy) Len() int              { return len(l) }
func (l lazy) At(i int) (any, error) { return l[i], nil }

func TestElements(t *testing.T) {
	testCases := []struct {
		desc string
		in   any
		want []any
	}{
		{desc: "nil", in: nil, want: nil},
		{desc: "any", in: []any{1, "a"}, want: []any{1, "a"}},
		{desc: "list", in: lazy{1, 2}, want: []any{1, 2}},
		{desc: "slice", in: []uint8{1, 2}, want: []any{uint8(1), uint8(2)}},
		{desc: "array", in: [2]bool{true, false}, want: []any{true, false}},
	}
	for _, tC := range testCases {
		t.Run(tC.desc, func(t *testing.T) {
			got, err := schema.Elements(tC.in)
			td.CmpNoError(t, err)
			td.Cmp(t, got, tC.want)
		})
	}

	structs := []header{{Version: 1}}
	got, err := schema.Elements(structs)
	td.CmpNoError(t, err)
	td.CmpTrue(t, got[0].(*header) == &structs[0], "struct elements are addressed in place")

	_, err = schema.Elements(3)
	td.CmpTrue(t, errors.Is(err, encio.ErrBadType))
}

func TestKind(t *testing.T) {
	for k := schema.Uint; k <= schema.Select; k++ {
		text, err := k.MarshalText()
		td.CmpNoError(t, err)

		var got schema.Kind
		td.CmpNoError(t, got.UnmarshalText(text))
		td.Cmp(t, got, k)
	}

	_, err := schema.ParseKind("invalid")
	td.CmpTrue(t, errors.Is(err, encio.ErrBadSchema))

	if diff := cmp.Diff([]bool{true, true, false}, []bool{schema.Uint.Numeric(), schema.Enum.Numeric(), schema.Bool.Numeric()}); diff != "" {
		t.Errorf("Numeric mismatch (-want +got):\n%s", diff)
	}
}
