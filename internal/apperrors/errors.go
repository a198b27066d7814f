// Package apperrors holds the error markers shared by the remix pipelines.
//
// Every pipeline failure is tagged with one of the sentinel markers below so
// callers can classify it with errors.Is regardless of how many times it was
// wrapped on the way up.
package apperrors

import (
	"fmt"
	"strings"

	"github.com/cockroachdb/errors"
)

var (
	ErrInputNotFound           = errors.New("input not found")
	ErrProbeFailed             = errors.New("duration probe failed")
	ErrNoInputs                = errors.New("no stem files found")
	ErrExternalProcessFailed   = errors.New("external process failed")
	ErrSeparationOutputMissing = errors.New("separation output missing")
	ErrModelLoad               = errors.New("generation model failed to load")
	ErrTaskNotFound            = errors.New("task not found")
)

// ExternalProcessError carries the filtered diagnostic tail of a failed
// engine invocation. Diagnostic is what users get to see.
type ExternalProcessError struct {
	Command    string
	ExitCode   int
	Diagnostic string
	cause      error
}

func (e *ExternalProcessError) Error() string {
	if e.Diagnostic == "" {
		return fmt.Sprintf("%s exited with code %d", e.Command, e.ExitCode)
	}
	return fmt.Sprintf("%s exited with code %d: %s", e.Command, e.ExitCode, e.Diagnostic)
}

func (e *ExternalProcessError) Unwrap() error {
	return e.cause
}

// NewExternalProcessError builds an ExternalProcessError marked with
// ErrExternalProcessFailed.
func NewExternalProcessError(command string, exitCode int, diagnostic string, cause error) error {
	err := &ExternalProcessError{
		Command:    command,
		ExitCode:   exitCode,
		Diagnostic: strings.TrimSpace(diagnostic),
		cause:      cause,
	}
	return errors.Mark(err, ErrExternalProcessFailed)
}

// Diagnostic returns the user-facing text for err. Engine failures yield their
// diagnostic tail; anything else yields the outermost message.
func Diagnostic(err error) string {
	if err == nil {
		return ""
	}
	var procErr *ExternalProcessError
	if errors.As(err, &procErr) && procErr.Diagnostic != "" {
		return procErr.Diagnostic
	}
	return err.Error()
}
