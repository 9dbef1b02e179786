// internal/errors/errors.go - Import pipeline error taxonomy
package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
	"time"
)

// Kind classifies pipeline errors. The string value is persisted on failed jobs.
type Kind string

const (
	KindConfigValidation     Kind = "config_validation"
	KindNetwork              Kind = "network"
	KindTimeout              Kind = "timeout"
	KindHTTPStatus           Kind = "http_status"
	KindRequiredFieldMissing Kind = "required_field_missing"
	KindTransformStep        Kind = "transform_step"
	KindImageUpload          Kind = "image_upload"
	KindDuplicateContent     Kind = "duplicate_content"
	KindSlugConflict         Kind = "slug_conflict"
	KindCatalogWrite         Kind = "catalog_write"
	KindInvalidState         Kind = "invalid_state"
	KindNotFound             Kind = "not_found"
	KindCanceled             Kind = "canceled"
	KindInternal             Kind = "internal"
)

// Error is the structured error used across the pipeline.
type Error struct {
	Kind      Kind                   `json:"kind"`
	Message   string                 `json:"message"`
	Context   map[string]interface{} `json:"context,omitempty"`
	Cause     error                  `json:"-"`
	Retryable bool                   `json:"retryable"`
	Timestamp time.Time              `json:"timestamp"`
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the underlying cause for error unwrapping
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches another *Error of the same kind, so sentinel comparisons work
// with errors.Is.
func (e *Error) Is(target error) bool {
	var t *Error
	if stderrors.As(target, &t) {
		return t.Message == "" && e.Kind == t.Kind
	}
	return false
}

// WithContext adds contextual information to the error
func (e *Error) WithContext(key string, value interface{}) *Error {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// New creates an error of the given kind.
func New(kind Kind, format string, args ...interface{}) *Error {
	return &Error{
		Kind:      kind,
		Message:   fmt.Sprintf(format, args...),
		Timestamp: time.Now(),
	}
}

// Wrap creates an error of the given kind around cause.
func Wrap(kind Kind, cause error, format string, args ...interface{}) *Error {
	e := New(kind, format, args...)
	e.Cause = cause
	e.Retryable = kind == KindNetwork || kind == KindTimeout
	return e
}

// Sentinels usable with errors.Is. They carry no message so they match every
// error of their kind.
var (
	ErrConfigValidation     = &Error{Kind: KindConfigValidation}
	ErrNetwork              = &Error{Kind: KindNetwork}
	ErrTimeout              = &Error{Kind: KindTimeout}
	ErrHTTPStatus           = &Error{Kind: KindHTTPStatus}
	ErrRequiredFieldMissing = &Error{Kind: KindRequiredFieldMissing}
	ErrTransformStep        = &Error{Kind: KindTransformStep}
	ErrImageUpload          = &Error{Kind: KindImageUpload}
	ErrDuplicateContent     = &Error{Kind: KindDuplicateContent}
	ErrSlugConflict         = &Error{Kind: KindSlugConflict}
	ErrCatalogWrite         = &Error{Kind: KindCatalogWrite}
	ErrInvalidState         = &Error{Kind: KindInvalidState}
	ErrNotFound             = &Error{Kind: KindNotFound}
	ErrCanceled             = &Error{Kind: KindCanceled}
)

// KindOf returns the kind of err, or KindInternal when err is not structured.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if stderrors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Is and As re-export the standard library helpers so callers need one import.
func Is(err, target error) bool { return stderrors.Is(err, target) }

func As(err error, target interface{}) bool { return stderrors.As(err, target) }

// UserFriendly converts an error to a title, message and suggestions for operators.
func UserFriendly(err error) (title, message string, suggestions []string) {
	if err == nil {
		return "", "", nil
	}

	switch KindOf(err) {
	case KindConfigValidation:
		return "Configuration Error",
			"The source configuration is invalid; nothing was fetched.",
			[]string{
				"Check that the required selectors for the content kind are set",
				"Numbered pagination needs a URL pattern containing {n}",
				"Run 'importexter validate' on the source file",
			}
	case KindTimeout:
		return "Connection Timeout",
			"The request timed out while fetching the page.",
			[]string{
				"Increase timeout_ms in the source request policy",
				"The website might be slow or experiencing issues",
			}
	case KindNetwork:
		return "Network Error",
			"Could not connect to the website.",
			[]string{
				"Check if the URL is spelled correctly",
				"Verify the website is reachable from this host",
			}
	case KindHTTPStatus:
		return "HTTP Error",
			"The website answered with an error status.",
			[]string{
				"Open the URL in a browser to confirm it exists",
				"Add request headers if the site blocks unknown clients",
			}
	case KindRequiredFieldMissing:
		return "Element Not Found",
			"A required field could not be extracted from the page.",
			[]string{
				"Check if the CSS selector is correct",
				"Use the selector tester against the live URL",
				"The website structure might have changed",
			}
	case KindDuplicateContent, KindSlugConflict:
		return "Already Imported",
			"The content already exists in the catalog.",
			nil
	case KindCatalogWrite:
		return "Catalog Write Failed",
			"The catalog rejected the imported item.",
			[]string{"Check database connectivity and category IDs"}
	}

	return "Unexpected Error",
		"An unexpected error occurred during the operation.",
		[]string{"Try running the command again"}
}

// ExitCode returns the CLI exit code for err.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	switch KindOf(err) {
	case KindConfigValidation:
		return 2
	case KindNetwork, KindTimeout, KindHTTPStatus:
		return 3
	case KindRequiredFieldMissing:
		return 4
	case KindCatalogWrite:
		return 5
	case KindNotFound:
		return 6
	default:
		return 1
	}
}

// FormatForCLI formats err for command-line display.
func FormatForCLI(err error, verbose bool) string {
	title, message, suggestions := UserFriendly(err)

	var b strings.Builder
	fmt.Fprintf(&b, "Error: %s\n%s\n", title, message)
	if verbose {
		fmt.Fprintf(&b, "\nTechnical details: %s\n", err.Error())
	}
	if len(suggestions) > 0 {
		b.WriteString("\nSuggestions:\n")
		for _, s := range suggestions {
			fmt.Fprintf(&b, "  - %s\n", s)
		}
	}
	return b.String()
}
