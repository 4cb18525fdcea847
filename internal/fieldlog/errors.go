package fieldlog

import (
	"errors"
	"fmt"
)

var (
	// ErrMalformedLine is reported when a line inside a data section is not a
	// two-column tab separated numeric pair.
	ErrMalformedLine = errors.New("fieldlog: malformed line")
	// ErrMissingSource is reported when the field log does not exist.
	ErrMissingSource = errors.New("fieldlog: missing source")
)

// LineError describes a malformed data line.
type LineError struct {
	Line int
	Text string
	Err  error
}

func (e *LineError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("line %d %q: %v", e.Line, e.Text, e.Err)
	}
	return fmt.Sprintf("line %d %q: malformed", e.Line, e.Text)
}

func (e *LineError) Unwrap() error {
	return e.Err
}

// Is reports every LineError as ErrMalformedLine.
func (e *LineError) Is(target error) bool {
	return target == ErrMalformedLine
}
