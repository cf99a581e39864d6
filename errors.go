package bitcodec

import (
	"errors"
	"fmt"

	"github.com/stewi1014/bitcodec/encio"
)

// Phase is the part of a decode an error happened in.
type Phase string

// Phases of a decode.
const (
	// PhaseFields is reading and checking field values.
	PhaseFields Phase = "fields"

	// PhaseHook is running a record's init method or hook after its fields were read.
	PhaseHook Phase = "hook"
)

// DecodeError is returned by a failed Decode.
// Err wraps the error kind, encio.ErrUnderflow, encio.ErrMismatch, encio.ErrNoMatch or encio.ErrHook.
type DecodeError struct {
	Record string
	Phase  Phase

	// Path is the dotted path of the deepest field that failed, e.g. "body.items[2].len".
	Path string

	// Bit is the cursor position when decoding stopped.
	Bit uint64

	Err error
}

func newDecodeError(record string, bit uint64, err error) *DecodeError {
	phase := PhaseFields
	if errors.Is(err, encio.ErrHook) {
		phase = PhaseHook
	}
	return &DecodeError{
		Record: record,
		Phase:  phase,
		Path:   encio.FieldPath(err),
		Bit:    bit,
		Err:    err,
	}
}

// Error implements error
func (e *DecodeError) Error() string {
	return fmt.Sprintf("decoding %v at bit %v: %v", e.Record, e.Bit, e.Err)
}

// Unwrap implements errors's Unwrap()
func (e *DecodeError) Unwrap() error {
	return e.Err
}

// EncodeError is returned by a failed Encode.
// Err wraps the error kind, encio.ErrUnsupported for shapes that cannot be encoded,
// encio.ErrMismatch for values the schema does not allow, or encio.ErrBadType.
type EncodeError struct {
	Record string
	Path   string
	Err    error
}

func newEncodeError(record string, err error) *EncodeError {
	return &EncodeError{
		Record: record,
		Path:   encio.FieldPath(err),
		Err:    err,
	}
}

// Error implements error
func (e *EncodeError) Error() string {
	return fmt.Sprintf("encoding %v: %v", e.Record, e.Err)
}

// Unwrap implements errors's Unwrap()
func (e *EncodeError) Unwrap() error {
	return e.Err
}
