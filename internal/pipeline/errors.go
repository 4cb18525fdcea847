package pipeline

import (
	"errors"
	"strings"

	"respiration-qa/internal/fieldlog"
)

var (
	// ErrMissingSource is returned for absent patient or fraction directories.
	ErrMissingSource = fieldlog.ErrMissingSource
	// ErrInvalidFractionID is returned when a fraction directory name is not
	// an integer.
	ErrInvalidFractionID = errors.New("pipeline: fraction directory name is not an integer")
)

// UnitError names the patient, fraction and field a failure belongs to.
type UnitError struct {
	Patient  string
	Fraction string
	Field    string
	Err      error
}

func (e *UnitError) Error() string {
	var b strings.Builder
	b.WriteString("patient ")
	b.WriteString(e.Patient)
	if e.Fraction != "" {
		b.WriteString(" fraction ")
		b.WriteString(e.Fraction)
	}
	if e.Field != "" {
		b.WriteString(" field ")
		b.WriteString(e.Field)
	}
	b.WriteString(": ")
	b.WriteString(e.Err.Error())
	return b.String()
}

func (e *UnitError) Unwrap() error {
	return e.Err
}
