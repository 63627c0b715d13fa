package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"maps"

	"github.com/fjod/go_cart/storefront/internal/apperr"
	"github.com/fjod/go_cart/storefront/internal/checkout"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0
	ExitFailure      = 1 // the backend or validation refused the operation
	ExitCommandError = 2 // bad flags, unreadable config or store
)

// ExitError carries the exit code a command should terminate with.
type ExitError struct {
	Code    int
	Message string
	Err     error
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode extracts the exit code from err. Classified storefront
// errors exit with ExitFailure, everything else with ExitCommandError.
func GetExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		return ExitFailure
	}
	return ExitCommandError
}

type OutputFormatter struct {
	Format string
	Writer io.Writer
}

// CLIResponse is the JSON envelope of every command.
type CLIResponse struct {
	Status string    `json:"status"`
	Data   any       `json:"data,omitempty"`
	Error  *CLIError `json:"error,omitempty"`
}

type CLIError struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Details map[string]string `json:"details,omitempty"`
}

// Success writes data as JSON, or calls text for the human format.
func (f *OutputFormatter) Success(data any, text func(w io.Writer)) error {
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(CLIResponse{Status: "ok", Data: data})
	}
	if text != nil {
		text(f.Writer)
		return nil
	}
	_, err := fmt.Fprintln(f.Writer, data)
	return err
}

// Fail writes err in the configured format.
func (f *OutputFormatter) Fail(err error) error {
	cliErr := describe(err)
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(CLIResponse{Status: "error", Error: cliErr})
	}
	fmt.Fprintf(f.Writer, "Error [%s]: %s\n", cliErr.Code, cliErr.Message)
	for field, msg := range cliErr.Details {
		fmt.Fprintf(f.Writer, "  %s: %s\n", field, msg)
	}
	return nil
}

func describe(err error) *CLIError {
	var appErr *apperr.Error
	if !errors.As(err, &appErr) {
		return &CLIError{Code: "command_error", Message: err.Error()}
	}
	out := &CLIError{Code: string(appErr.Kind), Message: apperr.Message(err)}
	if appErr.Kind == apperr.KindUnauthenticated {
		out.Code = "login_required"
	}
	if len(appErr.Fields) > 0 {
		out.Details = maps.Clone(appErr.Fields)
	}
	if reason, ok := checkout.ReasonOf(err); ok {
		if out.Details == nil {
			out.Details = make(map[string]string, 1)
		}
		out.Details["reason"] = string(reason)
	}
	return out
}
