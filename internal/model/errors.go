package model

import (
	"errors"
	"fmt"
)

var (
	ErrValidation            = errors.New("validation error")
	ErrUnknownCategory       = errors.New("unknown category")
	ErrFeatureSchemaMismatch = errors.New("feature schema mismatch")
	ErrModelUnavailable      = errors.New("model unavailable")
	ErrZoneGeometryInvalid   = errors.New("zone geometry invalid")
)

// Error carries the failing field alongside one of the sentinel kinds.
type Error struct {
	Kind  error
	Field string
	Value any
	Msg   string
}

func (e *Error) Error() string {
	switch {
	case e.Msg != "":
		return e.Msg
	case e.Field != "" && e.Value != nil:
		return fmt.Sprintf("%s: %s=%v", e.Kind, e.Field, e.Value)
	case e.Field != "":
		return fmt.Sprintf("%s: %s", e.Kind, e.Field)
	}
	return e.Kind.Error()
}

func (e *Error) Unwrap() error {
	return e.Kind
}

func MissingField(name string) error {
	return &Error{Kind: ErrValidation, Field: name, Msg: "Missing field: " + name}
}

func InvalidField(name string, value any, reason string) error {
	return &Error{Kind: ErrValidation, Field: name, Value: value, Msg: fmt.Sprintf("invalid %s: %s", name, reason)}
}

func UnknownCategory(field, value string) error {
	return &Error{Kind: ErrUnknownCategory, Field: field, Value: value, Msg: fmt.Sprintf("unknown category %q for %s", value, field)}
}

func SchemaMismatch(format string, args ...any) error {
	return &Error{Kind: ErrFeatureSchemaMismatch, Msg: "feature schema mismatch: " + fmt.Sprintf(format, args...)}
}

func ZoneInvalid(id, reason string) error {
	return &Error{Kind: ErrZoneGeometryInvalid, Field: id, Msg: fmt.Sprintf("zone %q: %s", id, reason)}
}

// FieldOf returns the field name carried by a typed error, if any.
func FieldOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Field
	}
	return ""
}
