package schema

import (
	"errors"
	"fmt"
	"strings"

	"cuelang.org/go/cue/token"
)

// ValidationError reports a value that cannot be sent to the backend.
type ValidationError struct {
	Field   string
	Message string
	// Missing lists every empty required field when Message is "required".
	Missing []string
}

func (e *ValidationError) Error() string {
	if len(e.Missing) > 1 {
		return fmt.Sprintf("required fields empty: %s", strings.Join(e.Missing, ", "))
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// IsValidationError reports whether err is (or wraps) a ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// CompileError is a schema declaration error with its CUE source position.
type CompileError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *CompileError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}
