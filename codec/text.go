package codec

import (
	"bytes"
	"fmt"
	"reflect"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"

	"github.com/stewi1014/bitcodec/bitbuf"
	"github.com/stewi1014/bitcodec/encio"
	"github.com/stewi1014/bitcodec/expr"
	"github.com/stewi1014/bitcodec/schema"
)

// charset is a string encoding. A nil enc is utf-8, which strings already are.
type charset struct {
	name  string
	enc   encoding.Encoding
	ascii bool
	wide  bool // code units are wider than a byte, so a terminator byte cannot end the string
}

func lookupCharset(name string) (charset, error) {
	switch strings.ToLower(strings.ReplaceAll(name, "_", "-")) {
	case "", "utf-8", "utf8":
		return charset{name: "utf-8"}, nil
	case "ascii", "us-ascii":
		return charset{name: "ascii", ascii: true}, nil
	case "iso-8859-1", "latin1":
		return charset{name: "iso-8859-1", enc: charmap.ISO8859_1}, nil
	case "windows-1252", "cp1252":
		return charset{name: "windows-1252", enc: charmap.Windows1252}, nil
	case "utf-16le":
		return charset{name: "utf-16le", enc: unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM), wide: true}, nil
	case "utf-16be":
		return charset{name: "utf-16be", enc: unicode.UTF16(unicode.BigEndian, unicode.IgnoreBOM), wide: true}, nil
	}
	return charset{}, encio.NewError(encio.ErrBadSchema, fmt.Sprintf("unknown string encoding %q", name), "")
}

func (c charset) decode(raw []byte) (string, error) {
	if c.ascii {
		for i, by := range raw {
			if by >= 0x80 {
				return "", encio.NewError(encio.ErrMismatch, fmt.Sprintf("byte %v of an ascii string is %#x", i, by), "")
			}
		}
	}
	if c.enc == nil {
		return string(raw), nil
	}

	out, err := c.enc.NewDecoder().Bytes(raw)
	if err != nil {
		return "", encio.NewError(encio.ErrMismatch, fmt.Sprintf("decoding %v: %v", c.name, err), "")
	}
	return string(out), nil
}

func (c charset) encode(s string) ([]byte, error) {
	if c.ascii {
		for i, r := range s {
			if r >= 0x80 {
				return nil, encio.NewError(encio.ErrMismatch, fmt.Sprintf("%q at %v is not ascii", r, i), "")
			}
		}
	}
	if c.enc == nil {
		return []byte(s), nil
	}

	out, err := c.enc.NewEncoder().Bytes([]byte(s))
	if err != nil {
		return nil, encio.NewError(encio.ErrMismatch, fmt.Sprintf("encoding %v: %v", c.name, err), "")
	}
	return out, nil
}

func stringFactory(_ *schema.Field, t *schema.Type, ctx expr.Context, _ Factory) (Codec, error) {
	if t.Kind != schema.String {
		return nil, nil
	}

	cs, err := lookupCharset(t.Encoding)
	if err != nil {
		return nil, err
	}
	s := &String{t: t, charset: cs, term: t.Terminator}

	if t.Length != "" {
		if s.length, err = expr.NewInteger(ctx, t.Length); err != nil {
			return nil, err
		}
		if cs.wide && s.term != nil {
			return nil, encio.NewError(encio.ErrBadSchema, fmt.Sprintf("%v strings cannot end at a terminator byte", cs.name), "")
		}
		return s, nil
	}

	if cs.wide {
		return nil, encio.NewError(encio.ErrBadSchema, fmt.Sprintf("%v strings need a length", cs.name), "")
	}
	if s.term == nil {
		var nul byte
		s.term = &nul
	}
	return s, nil
}

// String is a codec for text.
// With a length it is that many bytes, ending early at the terminator if there is one.
// Without a length it continues up to and including the terminator, which defaults to a zero byte.
type String struct {
	t       *schema.Type
	charset charset
	length  expr.Integer
	term    *byte
}

// Decode implements Codec.
func (c *String) Decode(buf *bitbuf.Buffer, r expr.Resolver, _ Builder) (any, error) {
	var raw []byte
	if c.length != nil {
		n, err := byteCount(c.length, r)
		if err != nil {
			return nil, err
		}
		if raw, err = buf.ReadBytes(n); err != nil {
			return nil, err
		}
		if c.term != nil {
			if i := bytes.IndexByte(raw, *c.term); i >= 0 {
				raw = raw[:i]
			}
		}
	} else {
		for {
			by, err := buf.ReadBits(8)
			if err != nil {
				return nil, err
			}
			if byte(by) == *c.term {
				break
			}
			raw = append(raw, byte(by))
		}
	}

	return c.charset.decode(raw)
}

// Encode implements Codec.
// A string shorter than its length must have a terminator; it is written after the string and followed by zero bytes.
func (c *String) Encode(v any, ch *bitbuf.Channel, r expr.Resolver) error {
	s, ok := v.(string)
	if !ok {
		return badType(v, "a string")
	}

	raw, err := c.charset.encode(s)
	if err != nil {
		return err
	}
	if c.term != nil && bytes.IndexByte(raw, *c.term) >= 0 {
		return encio.NewError(encio.ErrMismatch, fmt.Sprintf("%q contains its terminator %#x", s, *c.term), "")
	}

	if c.length == nil {
		ch.WriteBytes(raw)
		ch.WriteBytes([]byte{*c.term})
		return nil
	}

	n, err := byteCount(c.length, r)
	if err != nil {
		return err
	}
	switch {
	case len(raw) > n, len(raw) < n && c.term == nil:
		return encio.NewError(encio.ErrMismatch, fmt.Sprintf("%q is %v bytes, wanted %v", s, len(raw), n), "")
	case len(raw) < n:
		raw = append(raw, *c.term)
		raw = append(raw, make([]byte, n-len(raw))...)
	}
	ch.WriteBytes(raw)
	return nil
}

// Size implements Codec.
func (c *String) Size() expr.Integer {
	return expr.Product(c.length, expr.Const(8))
}

// Type implements Codec.
func (c *String) Type() *schema.Type { return c.t }

func byteCount(length expr.Integer, r expr.Resolver) (int, error) {
	n, err := length.Int(r)
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, encio.NewError(encio.ErrMismatch, fmt.Sprintf("%v gave negative length %v", length, n), "")
	}
	if uint64(n) > uint64(encio.TooBig) {
		return 0, encio.NewError(encio.ErrUnderflow, fmt.Sprintf("%v gave length %v, which is too big", length, n), "")
	}
	return int(n), nil
}

func bytesFactory(_ *schema.Field, t *schema.Type, ctx expr.Context, _ Factory) (Codec, error) {
	if t.Kind != schema.Bytes {
		return nil, nil
	}

	c := &Bytes{t: t, match: t.MatchBytes}
	switch {
	case t.Length != "":
		length, err := expr.NewInteger(ctx, t.Length)
		if err != nil {
			return nil, err
		}
		c.length = length
	case t.MatchBytes != nil:
		c.length = expr.Const(int64(len(t.MatchBytes)))
	default:
		return nil, encio.NewError(encio.ErrBadSchema, "bytes need a length", "")
	}

	if n, ok := expr.Constant(c.length); ok && c.match != nil && n != int64(len(c.match)) {
		return nil, encio.NewError(encio.ErrBadSchema, fmt.Sprintf("length %v does not fit %v match bytes", n, len(c.match)), "")
	}
	return c, nil
}

// Bytes is a codec for raw bytes. If it has match bytes, the value must equal them.
type Bytes struct {
	t      *schema.Type
	length expr.Integer
	match  []byte
}

// Decode implements Codec.
// The returned slice does not alias the buffer.
func (c *Bytes) Decode(buf *bitbuf.Buffer, r expr.Resolver, _ Builder) (any, error) {
	n, err := byteCount(c.length, r)
	if err != nil {
		return nil, err
	}

	raw, err := buf.ReadBytes(n)
	if err != nil {
		return nil, err
	}
	if c.match != nil && !bytes.Equal(raw, c.match) {
		return nil, encio.NewError(encio.ErrMismatch, fmt.Sprintf("read % x, wanted % x", raw, c.match), "")
	}
	return append([]byte(nil), raw...), nil
}

// Encode implements Codec.
// A nil value writes the match bytes.
func (c *Bytes) Encode(v any, ch *bitbuf.Channel, r expr.Resolver) error {
	var raw []byte
	switch val := v.(type) {
	case nil:
		raw = c.match
	case []byte:
		raw = val
	case string:
		raw = []byte(val)
	default:
		rv := reflect.ValueOf(v)
		if rv.Kind() != reflect.Array || rv.Type().Elem().Kind() != reflect.Uint8 {
			return badType(v, "bytes")
		}
		raw = make([]byte, rv.Len())
		reflect.Copy(reflect.ValueOf(raw), rv)
	}

	n, err := byteCount(c.length, r)
	if err != nil {
		return err
	}
	if len(raw) != n {
		return encio.NewError(encio.ErrMismatch, fmt.Sprintf("have %v bytes, wanted %v", len(raw), n), "")
	}
	if c.match != nil && !bytes.Equal(raw, c.match) {
		return encio.NewError(encio.ErrMismatch, fmt.Sprintf("have % x, wanted % x", raw, c.match), "")
	}

	ch.WriteBytes(raw)
	return nil
}

// Size implements Codec.
func (c *Bytes) Size() expr.Integer {
	return expr.Product(c.length, expr.Const(8))
}

// Type implements Codec.
func (c *Bytes) Type() *schema.Type { return c.t }
