package schema

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"strconv"
	"strings"

	"github.com/fxamacker/cbor/v2"
	"github.com/tidwall/jsonc"
	"github.com/zeebo/blake3"
	"gopkg.in/yaml.v3"

	"github.com/stewi1014/bitcodec/bitbuf"
	"github.com/stewi1014/bitcodec/encio"
)

// Document is the serialisable form of a set of records.
// Records reference each other by name, so documents can describe recursive layouts.
type Document struct {
	// Root names the record Compile returns.
	Root    string                `yaml:"root" json:"root" cbor:"root"`
	Records map[string]*RecordDoc `yaml:"records" json:"records" cbor:"records"`
}

// RecordDoc describes one Record.
type RecordDoc struct {
	Base   string      `yaml:"base,omitempty" json:"base,omitempty" cbor:"base,omitempty"`
	Tag    *Tag        `yaml:"tag,omitempty" json:"tag,omitempty" cbor:"tag,omitempty"`
	Init   string      `yaml:"init,omitempty" json:"init,omitempty" cbor:"init,omitempty"`
	Inject []Injection `yaml:"inject,omitempty" json:"inject,omitempty" cbor:"inject,omitempty"`
	Fields []FieldDoc  `yaml:"fields" json:"fields" cbor:"fields"`
}

// FieldDoc describes one Field.
type FieldDoc struct {
	Name        string           `yaml:"name" json:"name" cbor:"name"`
	Type        TypeDoc          `yaml:"type" json:"type" cbor:"type"`
	If          Expr             `yaml:"if,omitempty" json:"if,omitempty" cbor:"if,omitempty"`
	Match       Expr             `yaml:"match,omitempty" json:"match,omitempty" cbor:"match,omitempty"`
	Align       uint             `yaml:"align,omitempty" json:"align,omitempty" cbor:"align,omitempty"`
	Slice       Expr             `yaml:"slice,omitempty" json:"slice,omitempty" cbor:"slice,omitempty"`
	PrefixBits  uint             `yaml:"prefix_bits,omitempty" json:"prefix_bits,omitempty" cbor:"prefix_bits,omitempty"`
	PrefixOrder bitbuf.ByteOrder `yaml:"prefix_order,omitempty" json:"prefix_order,omitempty" cbor:"prefix_order,omitempty"`
	Compression Compression      `yaml:"compression,omitempty" json:"compression,omitempty" cbor:"compression,omitempty"`
	Codec       string           `yaml:"codec,omitempty" json:"codec,omitempty" cbor:"codec,omitempty"`
}

// TypeDoc describes one Type. Record references are names in the document.
type TypeDoc struct {
	Kind       Kind             `yaml:"kind" json:"kind" cbor:"kind"`
	Bits       Expr             `yaml:"bits,omitempty" json:"bits,omitempty" cbor:"bits,omitempty"`
	Order      bitbuf.ByteOrder `yaml:"order,omitempty" json:"order,omitempty" cbor:"order,omitempty"`
	Record     string           `yaml:"record,omitempty" json:"record,omitempty" cbor:"record,omitempty"`
	Elem       *TypeDoc         `yaml:"elem,omitempty" json:"elem,omitempty" cbor:"elem,omitempty"`
	Count      Expr             `yaml:"count,omitempty" json:"count,omitempty" cbor:"count,omitempty"`
	Offset     Expr             `yaml:"offset,omitempty" json:"offset,omitempty" cbor:"offset,omitempty"`
	Lazy       bool             `yaml:"lazy,omitempty" json:"lazy,omitempty" cbor:"lazy,omitempty"`
	Candidates []string         `yaml:"candidates,omitempty" json:"candidates,omitempty" cbor:"candidates,omitempty"`
	Select     *SelectorDoc     `yaml:"select,omitempty" json:"select,omitempty" cbor:"select,omitempty"`
	Length     Expr             `yaml:"length,omitempty" json:"length,omitempty" cbor:"length,omitempty"`
	Terminator *byte            `yaml:"terminator,omitempty" json:"terminator,omitempty" cbor:"terminator,omitempty"`
	Encoding   string           `yaml:"encoding,omitempty" json:"encoding,omitempty" cbor:"encoding,omitempty"`
	Enum       map[int64]string `yaml:"enum,omitempty" json:"enum,omitempty" cbor:"enum,omitempty"`
	MatchBytes []byte           `yaml:"match_bytes,omitempty" json:"match_bytes,omitempty" cbor:"match_bytes,omitempty"`
}

// SelectorDoc describes a Selector.
type SelectorDoc struct {
	PrefixBits   uint             `yaml:"prefix_bits,omitempty" json:"prefix_bits,omitempty" cbor:"prefix_bits,omitempty"`
	PrefixOrder  bitbuf.ByteOrder `yaml:"prefix_order,omitempty" json:"prefix_order,omitempty" cbor:"prefix_order,omitempty"`
	Alternatives []AlternativeDoc `yaml:"alternatives" json:"alternatives" cbor:"alternatives"`
	Default      string           `yaml:"default,omitempty" json:"default,omitempty" cbor:"default,omitempty"`
}

// AlternativeDoc describes an Alternative.
type AlternativeDoc struct {
	Condition Expr   `yaml:"if" json:"if" cbor:"if"`
	Record    string `yaml:"record" json:"record" cbor:"record"`
	Prefix    uint64 `yaml:"prefix,omitempty" json:"prefix,omitempty" cbor:"prefix,omitempty"`
}

// Expr is expression text. Documents may write a literal number where an expression is expected.
type Expr string

// UnmarshalJSON implements json.Unmarshaler.
func (e *Expr) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*e = Expr(s)
		return nil
	}

	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("expression must be a string or number, got %s", data)
	}
	*e = Expr(n.String())
	return nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (e *Expr) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %v: expression must be a scalar", value.Line)
	}
	*e = Expr(value.Value)
	return nil
}

// UnmarshalCBOR implements cbor.Unmarshaler.
func (e *Expr) UnmarshalCBOR(data []byte) error {
	var v any
	if err := cbor.Unmarshal(data, &v); err != nil {
		return err
	}

	switch n := v.(type) {
	case string:
		*e = Expr(n)
	case uint64:
		*e = Expr(strconv.FormatUint(n, 10))
	case int64:
		*e = Expr(strconv.FormatInt(n, 10))
	default:
		return fmt.Errorf("expression must be a string or integer, got %T", v)
	}
	return nil
}

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
	strict  cbor.DecMode
)

func init() {
	var err error

	encOptions := cbor.CoreDetEncOptions()
	encOptions.TextMarshaler = cbor.TextMarshalerTextString
	encMode, err = encOptions.EncMode()
	if err != nil {
		panic("schema: CBOR encoder initialization failed: " + err.Error())
	}

	decOptions := cbor.DecOptions{
		DefaultMapType:  reflect.TypeOf(map[string]any(nil)),
		TextUnmarshaler: cbor.TextUnmarshalerTextString,
	}
	decMode, err = decOptions.DecMode()
	if err != nil {
		panic("schema: CBOR decoder initialization failed: " + err.Error())
	}

	decOptions.ExtraReturnErrors = cbor.ExtraDecErrorUnknownField
	strict, err = decOptions.DecMode()
	if err != nil {
		panic("schema: CBOR decoder initialization failed: " + err.Error())
	}
}

// lenient decodes strictly first, so that unknown keys can be reported, then falls back to ignoring them.
func lenient(format string, strictly, loosely func(*Document) error) (*Document, error) {
	var doc Document
	err := strictly(&doc)
	if err == nil {
		return &doc, nil
	}

	doc = Document{}
	if lerr := loosely(&doc); lerr != nil {
		return nil, encio.NewError(encio.ErrBadSchema, fmt.Sprintf("parsing %v document: %v", format, lerr), "")
	}

	encio.Logger.Warn("ignoring unknown keys in schema document", "format", format, "error", err)
	return &doc, nil
}

// ParseYAML parses a YAML document.
func ParseYAML(data []byte) (*Document, error) {
	return lenient("yaml",
		func(doc *Document) error {
			dec := yaml.NewDecoder(bytes.NewReader(data))
			dec.KnownFields(true)
			return dec.Decode(doc)
		},
		func(doc *Document) error {
			return yaml.Unmarshal(data, doc)
		},
	)
}

// ParseJSONC parses a JSON document. Comments and trailing commas are allowed.
func ParseJSONC(data []byte) (*Document, error) {
	stripped := jsonc.ToJSON(data)
	return lenient("json",
		func(doc *Document) error {
			dec := json.NewDecoder(bytes.NewReader(stripped))
			dec.DisallowUnknownFields()
			return dec.Decode(doc)
		},
		func(doc *Document) error {
			return json.Unmarshal(stripped, doc)
		},
	)
}

// ParseCBOR parses a CBOR document.
func ParseCBOR(data []byte) (*Document, error) {
	return lenient("cbor",
		func(doc *Document) error { return strict.Unmarshal(data, doc) },
		func(doc *Document) error { return decMode.Unmarshal(data, doc) },
	)
}

// ReadFile reads a document, choosing the format by file extension.
func ReadFile(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, encio.NewIOError(err, fmt.Sprintf("reading %v", path))
	}

	var doc *Document
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		doc, err = ParseYAML(data)
	case ".json", ".jsonc":
		doc, err = ParseJSONC(data)
	case ".cbor":
		doc, err = ParseCBOR(data)
	default:
		return nil, encio.NewError(encio.ErrBadSchema, fmt.Sprintf("unknown document format %q", filepath.Ext(path)), "")
	}
	if err != nil {
		return nil, fmt.Errorf("%v: %w", path, err)
	}
	return doc, nil
}

// MarshalCBOR returns the deterministic CBOR form of the document.
func (d *Document) MarshalCBOR() ([]byte, error) {
	type plain Document
	return encMode.Marshal((*plain)(d))
}

// Fingerprint identifies a document by content.
type Fingerprint [32]byte

// String implements fmt.Stringer.
func (f Fingerprint) String() string {
	return hex.EncodeToString(f[:])
}

// Fingerprint returns the blake3 digest of the document's deterministic CBOR form.
// Documents describing the same records have the same fingerprint, whatever format they were read from.
func (d *Document) Fingerprint() (Fingerprint, error) {
	data, err := d.MarshalCBOR()
	if err != nil {
		return Fingerprint{}, encio.NewError(encio.ErrBadSchema, fmt.Sprintf("encoding document: %v", err), "")
	}
	return blake3.Sum256(data), nil
}

// Compile returns the root record, resolving references between records.
func (d *Document) Compile() (*Record, error) {
	if d.Root == "" {
		return nil, encio.NewError(encio.ErrBadSchema, "document has no root record", "")
	}

	records := make(map[string]*Record, len(d.Records))
	for name := range d.Records {
		records[name] = &Record{Name: name}
	}

	lookup := func(name string) (*Record, error) {
		r, ok := records[name]
		if !ok {
			return nil, encio.NewError(encio.ErrBadSchema, fmt.Sprintf("no record named %q", name), "")
		}
		return r, nil
	}

	for name, rd := range d.Records {
		r := records[name]
		if rd == nil {
			continue
		}

		if rd.Base != "" {
			base, err := lookup(rd.Base)
			if err != nil {
				return nil, encio.WithField(err, name)
			}
			r.Base = base
		}

		if rd.Tag != nil {
			tag := *rd.Tag
			r.Tag = &tag
		}
		r.Init = rd.Init
		r.Inject = append([]Injection(nil), rd.Inject...)

		for _, fd := range rd.Fields {
			t, err := fd.Type.compile(lookup)
			if err != nil {
				return nil, encio.WithField(encio.WithField(err, fd.Name), name)
			}

			r.Fields = append(r.Fields, &Field{
				Name:        fd.Name,
				Type:        t,
				If:          string(fd.If),
				Match:       string(fd.Match),
				Align:       fd.Align,
				Slice:       string(fd.Slice),
				PrefixBits:  fd.PrefixBits,
				PrefixOrder: fd.PrefixOrder,
				Compression: fd.Compression,
				Codec:       fd.Codec,
			})
		}
	}

	return lookup(d.Root)
}

func (td *TypeDoc) compile(lookup func(string) (*Record, error)) (*Type, error) {
	t := &Type{
		Kind:       td.Kind,
		Bits:       string(td.Bits),
		Order:      td.Order,
		Count:      string(td.Count),
		Offset:     string(td.Offset),
		Lazy:       td.Lazy,
		Length:     string(td.Length),
		Terminator: td.Terminator,
		Encoding:   td.Encoding,
		Enum:       td.Enum,
		MatchBytes: td.MatchBytes,
	}

	var err error
	if td.Record != "" {
		if t.Record, err = lookup(td.Record); err != nil {
			return nil, err
		}
	}

	if td.Elem != nil {
		if t.Elem, err = td.Elem.compile(lookup); err != nil {
			return nil, err
		}
	}

	for _, name := range td.Candidates {
		c, err := lookup(name)
		if err != nil {
			return nil, err
		}
		t.Candidates = append(t.Candidates, c)
	}

	if sd := td.Select; sd != nil {
		t.Select = &Selector{
			PrefixBits:  sd.PrefixBits,
			PrefixOrder: sd.PrefixOrder,
		}
		for _, ad := range sd.Alternatives {
			r, err := lookup(ad.Record)
			if err != nil {
				return nil, err
			}
			t.Select.Alternatives = append(t.Select.Alternatives, Alternative{
				Condition: string(ad.Condition),
				Record:    r,
				Prefix:    ad.Prefix,
			})
		}
		if sd.Default != "" {
			if t.Select.Default, err = lookup(sd.Default); err != nil {
				return nil, err
			}
		}
	}

	return t, nil
}

// NewDocument describes root, and every record reachable from it, as a Document.
// Go types and hooks cannot be described and are left out.
func NewDocument(root *Record) (*Document, error) {
	d := &Document{
		Root:    root.Name,
		Records: make(map[string]*RecordDoc),
	}

	names := make(map[*Record]string)
	var (
		add  func(r *Record) (string, error)
		desc func(t *Type) (TypeDoc, error)
	)

	add = func(r *Record) (string, error) {
		if name, ok := names[r]; ok {
			return name, nil
		}

		name := r.Name
		if name == "" {
			name = "record" + strconv.Itoa(len(names))
		}
		if _, taken := d.Records[name]; taken {
			return "", encio.NewError(encio.ErrBadSchema, fmt.Sprintf("two records named %q", name), "")
		}
		names[r] = name

		rd := &RecordDoc{
			Init:   r.Init,
			Inject: r.Inject,
		}
		d.Records[name] = rd

		if r.Tag != nil {
			tag := *r.Tag
			rd.Tag = &tag
		}
		if r.Base != nil {
			base, err := add(r.Base)
			if err != nil {
				return "", err
			}
			rd.Base = base
		}

		for _, f := range r.Fields {
			td, err := desc(f.Type)
			if err != nil {
				return "", encio.WithField(err, f.Name)
			}
			rd.Fields = append(rd.Fields, FieldDoc{
				Name:        f.Name,
				Type:        td,
				If:          Expr(f.If),
				Match:       Expr(f.Match),
				Align:       f.Align,
				Slice:       Expr(f.Slice),
				PrefixBits:  f.PrefixBits,
				PrefixOrder: f.PrefixOrder,
				Compression: f.Compression,
				Codec:       f.Codec,
			})
		}
		return name, nil
	}

	desc = func(t *Type) (TypeDoc, error) {
		if t == nil {
			return TypeDoc{}, encio.NewError(encio.ErrBadSchema, "nil type", "")
		}

		td := TypeDoc{
			Kind:       t.Kind,
			Bits:       Expr(t.Bits),
			Order:      t.Order,
			Count:      Expr(t.Count),
			Offset:     Expr(t.Offset),
			Lazy:       t.Lazy,
			Length:     Expr(t.Length),
			Terminator: t.Terminator,
			Encoding:   t.Encoding,
			Enum:       t.Enum,
			MatchBytes: t.MatchBytes,
		}

		var err error
		if t.Record != nil {
			if td.Record, err = add(t.Record); err != nil {
				return td, err
			}
		}
		if t.Elem != nil {
			elem, err := desc(t.Elem)
			if err != nil {
				return td, err
			}
			td.Elem = &elem
		}
		for _, c := range t.Candidates {
			name, err := add(c)
			if err != nil {
				return td, err
			}
			td.Candidates = append(td.Candidates, name)
		}
		if s := t.Select; s != nil {
			td.Select = &SelectorDoc{
				PrefixBits:  s.PrefixBits,
				PrefixOrder: s.PrefixOrder,
			}
			for _, a := range s.Alternatives {
				name, err := add(a.Record)
				if err != nil {
					return td, err
				}
				td.Select.Alternatives = append(td.Select.Alternatives, AlternativeDoc{
					Condition: Expr(a.Condition),
					Record:    name,
					Prefix:    a.Prefix,
				})
			}
			if s.Default != nil {
				if td.Select.Default, err = add(s.Default); err != nil {
					return td, err
				}
			}
		}
		return td, nil
	}

	rootName, err := add(root)
	if err != nil {
		return nil, err
	}
	d.Root = rootName
	return d, nil
}

// Names returns the names of the document's records, sorted.
func (d *Document) Names() []string {
	names := make([]string, 0, len(d.Records))
	for name := range d.Records {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
