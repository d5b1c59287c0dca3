package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/roach88/xcore/internal/xerr"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0 // Successful execution
	ExitFailure      = 1 // The operation ran and failed (rejected edit, inconsistent document)
	ExitCommandError = 2 // Command error (bad config, database not found, bad query)
)

// Error code constants, unified across all CLI commands.
const (
	ErrCodeGeneric     = "E001" // Generic/unknown error
	ErrCodeConfig      = "E002" // Configuration could not be loaded
	ErrCodeOpenFailed  = "E003" // Database could not be opened
	ErrCodeNotFound    = "E004" // Input file not found
	ErrCodeLoadFailed  = "E005" // XML could not be imported
	ErrCodeInvalidFlag = "E006" // Flag value rejected
	ErrCodeTestFailed  = "E007" // One or more scenarios failed

	ErrCodeAccessDenied   = "E101"
	ErrCodeLockFailure    = "E102"
	ErrCodeTypeMismatch   = "E103"
	ErrCodeEvaluation     = "E104"
	ErrCodeTriggerFailure = "E105"
	ErrCodeInternalStore  = "E106"
)

// ErrorCode maps a core error to its CLI code.
func ErrorCode(err error) string {
	switch xerr.KindOf(err) {
	case xerr.KindAccessDenied:
		return ErrCodeAccessDenied
	case xerr.KindLockFailure:
		return ErrCodeLockFailure
	case xerr.KindTypeMismatch:
		return ErrCodeTypeMismatch
	case xerr.KindEvaluation:
		return ErrCodeEvaluation
	case xerr.KindTriggerFailure:
		return ErrCodeTriggerFailure
	case xerr.KindInternalStore:
		return ErrCodeInternalStore
	default:
		return ErrCodeGeneric
	}
}

// ExitError represents an error with a specific exit code.
// Use this to return errors with meaningful exit codes from CLI commands.
type ExitError struct {
	Code    int    // Exit code (use ExitFailure or ExitCommandError)
	Message string // Error message
	Err     error  // Underlying error (optional)
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

// NewExitError creates a new ExitError with the given code and message.
func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

// WrapExitError wraps an existing error with an exit code.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode extracts the exit code from an error.
// Returns ExitFailure (1) if the error is not an ExitError.
func GetExitCode(err error) int {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// OutputFormatter handles JSON vs text output for CLI commands.
type OutputFormatter struct {
	Format    string
	Writer    io.Writer
	ErrWriter io.Writer // Separate writer for verbose/diagnostic output (defaults to Writer)
	Verbose   bool
}

// CLIResponse is the standard JSON response format for CLI output.
type CLIResponse struct {
	Status string    `json:"status"`          // "ok" or "error"
	Data   any       `json:"data,omitempty"`  // success payload
	Error  *CLIError `json:"error,omitempty"` // error details
	Txn    string    `json:"txn,omitempty"`   // trigger transaction, for update
}

// CLIError is the error structure for CLI responses.
type CLIError struct {
	Code    string `json:"code"`              // "E001", "E101", etc.
	Message string `json:"message"`           // human-readable message
	Changed *bool  `json:"changed,omitempty"` // set for update failures
	Details any    `json:"details,omitempty"` // additional context
}

// Success outputs a successful result in the configured format. Text
// output prints data with fmt; commands with structured results write
// their own text and call Success only for JSON.
func (f *OutputFormatter) Success(data any) error {
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(CLIResponse{
			Status: "ok",
			Data:   data,
		})
	}

	fmt.Fprintln(f.Writer, data)
	return nil
}

// Error outputs an error in the configured format.
func (f *OutputFormatter) Error(code, message string, details any) error {
	return f.write(&CLIError{Code: code, Message: message, Details: details})
}

func (f *OutputFormatter) write(e *CLIError) error {
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(CLIResponse{
			Status: "error",
			Error:  e,
		})
	}

	fmt.Fprintf(f.Writer, "Error [%s]: %s\n", e.Code, e.Message)
	if e.Changed != nil && *e.Changed {
		fmt.Fprintln(f.Writer, "Some nodes were already modified.")
	}
	if f.Verbose && e.Details != nil {
		fmt.Fprintf(f.Writer, "Details: %v\n", e.Details)
	}
	return nil
}

// Fail reports err with code and returns the ExitError the command should
// return. A core error also reports whether anything was changed.
func (f *OutputFormatter) Fail(exitCode int, code string, err error) error {
	e := &CLIError{Code: code, Message: err.Error()}
	var xe *xerr.Error
	if errors.As(err, &xe) {
		changed := xerr.PartiallyChanged(err)
		e.Changed = &changed
		if xe.DocID != 0 {
			e.Details = map[string]any{"doc": xe.DocID, "node": xe.NodeID}
		}
	}
	_ = f.write(e)
	return WrapExitError(exitCode, code, err)
}

// VerboseLog outputs a message only if verbose mode is enabled.
// Uses ErrWriter if set, otherwise falls back to Writer.
// When format is JSON, verbose logs go to ErrWriter to avoid corrupting JSON output.
func (f *OutputFormatter) VerboseLog(format string, args ...any) {
	if !f.Verbose {
		return
	}
	fmt.Fprintf(f.GetErrWriter(), format+"\n", args...)
}

// GetErrWriter returns the appropriate writer for diagnostic output.
// Returns ErrWriter if set, otherwise Writer.
func (f *OutputFormatter) GetErrWriter() io.Writer {
	if f.ErrWriter != nil {
		return f.ErrWriter
	}
	return f.Writer
}
