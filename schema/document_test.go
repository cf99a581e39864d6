package schema_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/maxatome/go-testdeep/td"
	"github.com/stewi1014/bitcodec/bitbuf"
	"github.com/stewi1014/bitcodec/encio"
	"github.com/stewi1014/bitcodec/schema"
)

const packetYAML = `
root: packet
records:
  packet:
    fields:
      - name: n
        type: {kind: uint, bits: 8}
      - name: items
        type:
          kind: list
          count: n
          elem: {kind: uint, bits: 4, order: little}
      - name: body
        type: {kind: union, candidates: [leaf, branch]}
  leaf:
    tag: {value: 1, bits: 8}
    fields:
      - name: x
        type: {kind: uint, bits: "outer.n * 2"}
        match: "x != 0 ? x : 1"
  branch:
    tag: {value: 2, bits: 8}
    inject:
      - {field: depth, expr: "outer.n"}
    fields:
      - name: next
        type: {kind: struct, record: packet}
        if: "true"
        align: 8
`

const packetJSONC = `{
	// The same layout as packetYAML.
	"root": "packet",
	"records": {
		"packet": {
			"fields": [
				{"name": "n", "type": {"kind": "uint", "bits": 8}},
				{"name": "items", "type": {
					"kind": "list",
					"count": "n",
					"elem": {"kind": "uint", "bits": 4, "order": "little"},
				}},
				{"name": "body", "type": {"kind": "union", "candidates": ["leaf", "branch"]}},
			],
		},
		"leaf": {
			"tag": {"value": 1, "bits": 8},
			"fields": [
				{"name": "x", "type": {"kind": "uint", "bits": "outer.n * 2"}, "match": "x != 0 ? x : 1"},
			],
		},
		/* branch points back at packet */
		"branch": {
			"tag": {"value": 2, "bits": 8},
			"inject": [{"field": "depth", "expr": "outer.n"}],
			"fields": [
				{"name": "next", "type": {"kind": "struct", "record": "packet"}, "if": "true", "align": 8},
			],
		},
	},
}`

func wantPacket() *schema.Document {
	return &schema.Document{
		Root: "packet",
		Records: map[string]*schema.RecordDoc{
			"packet": {
				Fields: []schema.FieldDoc{
					{Name: "n", Type: schema.TypeDoc{Kind: schema.Uint, Bits: "8"}},
					{Name: "items", Type: schema.TypeDoc{
						Kind:  schema.KindList,
						Count: "n",
						Elem:  &schema.TypeDoc{Kind: schema.Uint, Bits: "4", Order: bitbuf.LittleEndian},
					}},
					{Name: "body", Type: schema.TypeDoc{Kind: schema.Union, Candidates: []string{"leaf", "branch"}}},
				},
			},
			"leaf": {
				Tag: &schema.Tag{Value: 1, Bits: 8},
				Fields: []schema.FieldDoc{
					{Name: "x", Type: schema.TypeDoc{Kind: schema.Uint, Bits: "outer.n * 2"}, Match: "x != 0 ? x : 1"},
				},
			},
			"branch": {
				Tag:    &schema.Tag{Value: 2, Bits: 8},
				Inject: []schema.Injection{{Field: "depth", Expr: "outer.n"}},
				Fields: []schema.FieldDoc{
					{Name: "next", Type: schema.TypeDoc{Kind: schema.KindStruct, Record: "packet"}, If: "true", Align: 8},
				},
			},
		},
	}
}

func TestParse(t *testing.T) {
	fromYAML, err := schema.ParseYAML([]byte(packetYAML))
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(wantPacket(), fromYAML); diff != "" {
		t.Errorf("yaml mismatch (-want +got):\n%s", diff)
	}

	fromJSON, err := schema.ParseJSONC([]byte(packetJSONC))
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(wantPacket(), fromJSON); diff != "" {
		t.Errorf("jsonc mismatch (-want +got):\n%s", diff)
	}

	data, err := fromYAML.MarshalCBOR()
	if err != nil {
		t.Fatal(err)
	}
	fromCBOR, err := schema.ParseCBOR(data)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(wantPacket(), fromCBOR); diff != "" {
		t.Errorf("cbor mismatch (-want +got):\n%s", diff)
	}
}

func TestFingerprint(t *testing.T) {
	fromYAML, err := schema.ParseYAML([]byte(packetYAML))
	if err != nil {
		t.Fatal(err)
	}
	fromJSON, err := schema.ParseJSONC([]byte(packetJSONC))
	if err != nil {
		t.Fatal(err)
	}

	a, err := fromYAML.Fingerprint()
	td.CmpNoError(t, err)
	b, err := fromJSON.Fingerprint()
	td.CmpNoError(t, err)
	td.Cmp(t, a, b, "same records, same fingerprint")
	td.Cmp(t, len(a.String()), 64)

	fromJSON.Records["leaf"].Tag.Value = 3
	c, err := fromJSON.Fingerprint()
	td.CmpNoError(t, err)
	td.Cmp(t, c, td.Not(a))
}

func TestCompile(t *testing.T) {
	doc, err := schema.ParseYAML([]byte(packetYAML))
	if err != nil {
		t.Fatal(err)
	}

	packet, err := doc.Compile()
	if err != nil {
		t.Fatal(err)
	}
	td.Cmp(t, packet.Name, "packet")
	td.Cmp(t, len(packet.Fields), 3)

	body := packet.Fields[2].Type
	td.Cmp(t, len(body.Candidates), 2)
	leaf, branch := body.Candidates[0], body.Candidates[1]
	td.Cmp(t, leaf.Tag, &schema.Tag{Value: 1, Bits: 8})
	td.CmpTrue(t, branch.Fields[0].Type.Record == packet, "references resolve to the same record")
	td.Cmp(t, branch.Inject, []schema.Injection{{Field: "depth", Expr: "outer.n"}})

	back, err := schema.NewDocument(packet)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(doc, back); diff != "" {
		t.Errorf("NewDocument mismatch (-want +got):\n%s", diff)
	}
	td.Cmp(t, back.Names(), []string{"branch", "leaf", "packet"})
}

func TestCompileErrors(t *testing.T) {
	testCases := []struct {
		desc string
		doc  string
	}{
		{desc: "no root", doc: `records: {a: {fields: []}}`},
		{desc: "missing root", doc: `root: b
records: {a: {fields: []}}`},
		{desc: "missing record", doc: `root: a
records:
  a:
    fields:
      - {name: x, type: {kind: struct, record: nowhere}}`},
		{desc: "missing base", doc: `root: a
records: {a: {base: nowhere, fields: []}}`},
		{desc: "missing default", doc: `root: a
records:
  a:
    fields:
      - name: x
        type: {kind: select, select: {alternatives: [], default: nowhere}}`},
	}
	for _, tC := range testCases {
		t.Run(tC.desc, func(t *testing.T) {
			doc, err := schema.ParseYAML([]byte(tC.doc))
			if err != nil {
				t.Fatal(err)
			}
			_, err = doc.Compile()
			if !errors.Is(err, encio.ErrBadSchema) {
				t.Fatalf("got %v, wanted a schema error", err)
			}
		})
	}
}

func TestUnknownKeys(t *testing.T) {
	doc, err := schema.ParseJSONC([]byte(`{"root": "a", "comment": "ignored", "records": {"a": {"fields": []}}}`))
	td.CmpNoError(t, err, "unknown keys are a warning")
	td.Cmp(t, doc.Root, "a")

	doc, err = schema.ParseYAML([]byte("root: a\nextra: 1\nrecords: {a: {fields: []}}\n"))
	td.CmpNoError(t, err)
	td.Cmp(t, doc.Root, "a")

	_, err = schema.ParseYAML([]byte("root: [unclosed"))
	td.CmpTrue(t, errors.Is(err, encio.ErrBadSchema))

	_, err = schema.ParseJSONC([]byte(`{"root": 1}`))
	td.CmpTrue(t, errors.Is(err, encio.ErrBadSchema))

	_, err = schema.ParseCBOR([]byte{0xff})
	td.CmpTrue(t, errors.Is(err, encio.ErrBadSchema))
}

func TestReadFile(t *testing.T) {
	dir := t.TempDir()

	yamlPath := filepath.Join(dir, "packet.yaml")
	if err := os.WriteFile(yamlPath, []byte(packetYAML), 0o600); err != nil {
		t.Fatal(err)
	}
	jsonPath := filepath.Join(dir, "packet.jsonc")
	if err := os.WriteFile(jsonPath, []byte(packetJSONC), 0o600); err != nil {
		t.Fatal(err)
	}

	for _, path := range []string{yamlPath, jsonPath} {
		doc, err := schema.ReadFile(path)
		if err != nil {
			t.Fatal(err)
		}
		if diff := cmp.Diff(wantPacket(), doc); diff != "" {
			t.Errorf("%v mismatch (-want +got):\n%s", path, diff)
		}
	}

	_, err := schema.ReadFile(filepath.Join(dir, "packet.txt"))
	td.CmpTrue(t, errors.Is(err, encio.ErrBadSchema))

	_, err = schema.ReadFile(filepath.Join(dir, "missing.yaml"))
	var ioErr encio.IOError
	td.CmpTrue(t, errors.As(err, &ioErr))
}
