package bitcodec

import (
	"fmt"
	"reflect"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/stewi1014/bitcodec/schema"
)

// DefaultRegistry is the Registry used by For.
var DefaultRegistry = NewRegistry(nil)

// NewRegistry returns an empty Registry building codecs with config.
func NewRegistry(config *Config) *Registry {
	return &Registry{
		config: config.copyAndFill(),
	}
}

// Registry builds each codec once and shares it. It is safe for concurrent use;
// concurrent requests for a codec that is not built yet wait for a single build.
type Registry struct {
	config *Config
	group  singleflight.Group
	codecs sync.Map // string -> *Codec
}

func (r *Registry) load(key string, build func() (*Codec, error)) (*Codec, error) {
	if c, ok := r.codecs.Load(key); ok {
		return c.(*Codec), nil
	}

	v, err, _ := r.group.Do(key, func() (any, error) {
		if c, ok := r.codecs.Load(key); ok {
			return c, nil
		}

		c, err := build()
		if err != nil {
			return nil, err
		}
		r.codecs.Store(key, c)
		return c, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Codec), nil
}

// Record returns the codec of rec.
func (r *Registry) Record(rec *schema.Record) (*Codec, error) {
	return r.load(fmt.Sprintf("record:%p", rec), func() (*Codec, error) {
		return Build(rec, r.config)
	})
}

// Document returns the codec of doc's root record.
// Documents with the same fingerprint share a codec, even if they were read separately.
func (r *Registry) Document(doc *schema.Document) (*Codec, error) {
	fp, err := doc.Fingerprint()
	if err != nil {
		return nil, err
	}

	return r.load("document:"+fp.String(), func() (*Codec, error) {
		rec, err := doc.Compile()
		if err != nil {
			return nil, err
		}
		return Build(rec, r.config)
	})
}

// Type returns the codec of the record schema.FromStruct derives from T.
func Type[T any](r *Registry) (*Codec, error) {
	rt := reflect.TypeOf((*T)(nil)).Elem()
	return r.load("type:"+rt.PkgPath()+"."+rt.String(), func() (*Codec, error) {
		rec, err := schema.FromStruct[T]()
		if err != nil {
			return nil, err
		}
		return Build(rec, r.config)
	})
}

// For returns the codec of T from DefaultRegistry.
func For[T any]() (*Codec, error) {
	return Type[T](DefaultRegistry)
}
