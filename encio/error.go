package encio

import (
	"errors"
	"runtime"
	"strconv"
	"strings"
)

// Error handling in bitcodec separates the two phases a codec lives through.
// Construction errors are returned while a schema is compiled into a codec tree, and mean the schema itself is wrong;
// the codec must not be used. Decode and encode errors are returned per call, and say nothing about the codec; only about the data.
// Panics are only used when there is a clear misuse of the library; programmer error.
//
// All errors wrap one of the kinds below, and can be checked with errors.Is
//
//	if errors.Is(err, encio.ErrUnderflow) {
//		// ran out of data
//	}
//
// Extra information is carried by Error, and by FieldError which names the field being decoded when the error occoured.
var (
	// ErrUnderflow is returned when a read needs more bits than the buffer holds.
	// The dynamic list codec treats it as the end of the list, everywhere else it is fatal.
	ErrUnderflow = errors.New("underflow")

	// ErrMismatch is returned when read data does not match an expected value, e.g. a match expression or match bytes.
	ErrMismatch = errors.New("mismatch")

	// ErrNoMatch is returned when a union codec finds no candidate for the read prefix.
	ErrNoMatch = errors.New("no matching codec")

	// ErrHook is returned when a record's init hook fails.
	ErrHook = errors.New("init hook failed")

	// ErrUnsupported is returned when a codec cannot perform the operation at all, e.g. encoding a dynamic list.
	ErrUnsupported = errors.New("unsupported")

	// ErrBadSchema is returned when a schema contradicts itself, or describes something no codec can handle.
	ErrBadSchema = errors.New("bad schema")

	// ErrUndeclared is returned when an expression references a name that is not visible from where it is used.
	ErrUndeclared = errors.New("undeclared variable")

	// ErrBadExpression is returned when expression text cannot be compiled, or has the wrong result type.
	ErrBadExpression = errors.New("bad expression")

	// ErrBadType is returned when a value has the wrong type for the codec or accessor handling it.
	ErrBadType = errors.New("bad type")

	// ErrNilPointer is returned if a pointer that should not be nil is nil.
	ErrNilPointer = errors.New("nil pointer")
)

// NewIOError returns an IOError wrapping err with the given message.
// err is typically the error returned from the io.Reader/io.Writer.
// message has extra information about the error; if empty, it is filled with the calling fucntions name.
func NewIOError(err error, message string) error {
	if err == nil {
		return NewError(errors.New("unknown error"), "trying to create new IOError", "encio.NewIOError")
	}
	if message == "" {
		message = "in " + GetCaller(1)
	}

	return IOError{
		Err:     err,
		Message: message,
	}
}

// IOError is returned when the byte source or sink fails.
type IOError struct {
	Err     error
	Message string
}

// Error implements error
func (e IOError) Error() string {
	if e.Message != "" {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Err.Error()
}

// Unwrap implements errors's Unwrap()
func (e IOError) Unwrap() error {
	return e.Err
}

// NewError returns an Error wrapping err with message and caller.
// If caller is empty, it is automatically filled with the calling functions name.
func NewError(err error, message string, caller string) error {
	if caller == "" {
		caller = GetCaller(1)
	}

	return Error{
		Err:     err,
		Message: message,
		Caller:  caller,
	}
}

// Error wraps one of the error kinds with a description of what went wrong.
type Error struct {
	Err     error
	Message string
	Caller  string
}

// Error implements error
func (e Error) Error() (str string) {
	str = e.Err.Error()

	if e.Message != "" {
		str += " (" + e.Message + ")"
	}

	return str
}

// Unwrap implements errors's Unwrap()
func (e Error) Unwrap() error {
	return e.Err
}

// FieldError records which field was being processed when Err occoured.
// Path runs from the outermost record to the deepest field.
type FieldError struct {
	Path []string
	Err  error
}

// Error implements error
func (e *FieldError) Error() string {
	return strings.Join(e.Path, ".") + ": " + e.Err.Error()
}

// Unwrap implements errors's Unwrap()
func (e *FieldError) Unwrap() error {
	return e.Err
}

// WithField prefixes the field path of err with name.
// Errors that are not yet a FieldError become one. A nil error stays nil.
func WithField(err error, name string) error {
	if err == nil {
		return nil
	}

	if fe, ok := err.(*FieldError); ok {
		path := make([]string, 0, len(fe.Path)+1)
		if len(fe.Path) > 0 && strings.HasPrefix(fe.Path[0], "[") {
			// Indexes stick to the name of the list.
			path = append(path, name+fe.Path[0])
			return &FieldError{
				Path: append(path, fe.Path[1:]...),
				Err:  fe.Err,
			}
		}

		path = append(path, name)
		return &FieldError{
			Path: append(path, fe.Path...),
			Err:  fe.Err,
		}
	}

	return &FieldError{
		Path: []string{name},
		Err:  err,
	}
}

// WithIndex prefixes the field path of err with a list index.
func WithIndex(err error, index int) error {
	return WithField(err, "["+strconv.Itoa(index)+"]")
}

// FieldPath returns the dotted field path carried by err, or an empty string.
func FieldPath(err error) string {
	var fe *FieldError
	if errors.As(err, &fe) {
		return strings.Join(fe.Path, ".")
	}
	return ""
}

// GetCaller returns the name of the calling function, skipping skip functions.
// i.e. 0 writes the calling function, 1 the function calling that etc...
func GetCaller(skip int) string {
	pcs := make([]uintptr, 1)
	n := runtime.Callers(2+skip, pcs)
	if n != 1 {
		return "Unknown Function"
	}

	frames := runtime.CallersFrames(pcs)
	frame, _ := frames.Next()
	return frame.Function
}
