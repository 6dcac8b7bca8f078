// Package errors wraps the standard library errors package and adds a
// builder for errors that carry a component, a category and context values.
//
//	return errors.Newf("manifest entry returned status %d", status).
//		Component("cachestorage").
//		Category(errors.CategoryNetwork).
//		Context("url", url).
//		Build()
//
// Errors built this way still unwrap normally, so errors.Is and errors.As
// keep working on the wrapped cause.
package errors

import (
	stderrors "errors"
	"fmt"
	"maps"
	"strings"
)

// ErrorCategory classifies an error for logging and telemetry.
type ErrorCategory string

const (
	CategoryGeneric       ErrorCategory = "generic"
	CategoryValidation    ErrorCategory = "validation"
	CategoryNetwork       ErrorCategory = "network"
	CategoryDatabase      ErrorCategory = "database"
	CategoryConfiguration ErrorCategory = "configuration"
	CategoryNotFound      ErrorCategory = "not-found"
	CategoryCache         ErrorCategory = "cache"
	CategoryNotification  ErrorCategory = "notification"
	CategorySync          ErrorCategory = "sync"
	CategoryLifecycle     ErrorCategory = "lifecycle"
	CategorySystem        ErrorCategory = "system"
)

// EnhancedError is an error annotated with a component, category and context.
type EnhancedError struct {
	Err       error
	component string
	category  ErrorCategory
	context   map[string]any
}

func (e *EnhancedError) Error() string {
	return e.Err.Error()
}

func (e *EnhancedError) Unwrap() error {
	return e.Err
}

// GetComponent returns the component that produced the error.
func (e *EnhancedError) GetComponent() string {
	return e.component
}

// GetCategory returns the error category.
func (e *EnhancedError) GetCategory() ErrorCategory {
	return e.category
}

// GetContext returns a copy of the context values.
func (e *EnhancedError) GetContext() map[string]any {
	return maps.Clone(e.context)
}

// ErrorBuilder assembles an EnhancedError.
type ErrorBuilder struct {
	err       error
	component string
	category  ErrorCategory
	context   map[string]any
}

// New starts a builder wrapping an existing error.
func New(err error) *ErrorBuilder {
	if err == nil {
		err = stderrors.New("unknown error")
	}
	return &ErrorBuilder{err: err, category: CategoryGeneric}
}

// Newf starts a builder from a format string. %w verbs wrap as in fmt.Errorf.
func Newf(format string, args ...any) *ErrorBuilder {
	return &ErrorBuilder{err: fmt.Errorf(format, args...), category: CategoryGeneric}
}

// Component sets the originating component.
func (b *ErrorBuilder) Component(name string) *ErrorBuilder {
	b.component = name
	return b
}

// Category sets the error category.
func (b *ErrorBuilder) Category(c ErrorCategory) *ErrorBuilder {
	b.category = c
	return b
}

// Context attaches a key/value pair.
func (b *ErrorBuilder) Context(key string, value any) *ErrorBuilder {
	if b.context == nil {
		b.context = make(map[string]any)
	}
	b.context[key] = value
	return b
}

// Build returns the assembled error.
func (b *ErrorBuilder) Build() error {
	return &EnhancedError{
		Err:       b.err,
		component: b.component,
		category:  b.category,
		context:   b.context,
	}
}

// CategoryOf returns the category of the outermost EnhancedError in err's
// chain, or CategoryGeneric.
func CategoryOf(err error) ErrorCategory {
	var ee *EnhancedError
	if As(err, &ee) {
		return ee.category
	}
	return CategoryGeneric
}

// ComponentOf returns the component of the outermost EnhancedError in err's
// chain, or "".
func ComponentOf(err error) string {
	var ee *EnhancedError
	if As(err, &ee) {
		return ee.component
	}
	return ""
}

// Describe renders err with its component and context for log lines.
func Describe(err error) string {
	var ee *EnhancedError
	if !As(err, &ee) {
		return err.Error()
	}
	var sb strings.Builder
	if ee.component != "" {
		sb.WriteString(ee.component)
		sb.WriteString(": ")
	}
	sb.WriteString(ee.Error())
	for k, v := range ee.context {
		fmt.Fprintf(&sb, " %s=%v", k, v)
	}
	return sb.String()
}

// NewStd creates a plain error, for sentinel values.
func NewStd(text string) error {
	return stderrors.New(text)
}

// Is reports whether any error in err's tree matches target.
func Is(err, target error) bool {
	return stderrors.Is(err, target)
}

// As finds the first error in err's tree that matches target.
func As(err error, target any) bool {
	return stderrors.As(err, target)
}

// Join returns an error that wraps the given errors.
func Join(errs ...error) error {
	return stderrors.Join(errs...)
}

// Unwrap returns the result of calling the Unwrap method on err.
func Unwrap(err error) error {
	return stderrors.Unwrap(err)
}
