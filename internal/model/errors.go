package model

import (
	"errors"
	"fmt"
)

// ValidationError reports a malformed field in caller input.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + " " + e.Message
}

// prefixValidation nests a validation error under a parent field path.
// Non-validation errors are wrapped as validation errors for the parent.
func prefixValidation(parent string, err error) error {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return &ValidationError{Field: parent + "." + ve.Field, Message: ve.Message}
	}
	return &ValidationError{Field: parent, Message: fmt.Sprintf("invalid: %v", err)}
}
