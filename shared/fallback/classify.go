// Package fallback implements the model/style fallback policy shared by the text
// and image generation paths: error classification, bounded retry with exponential
// backoff for transient failures, and the two-axis (model x style) resolver.
package fallback

import (
	"errors"
	"fmt"
)

// Class is the error taxonomy driving the fallback search. Providers classify
// their SDK errors at the edge (via Mark*), so the resolver never inspects
// provider-specific error shapes.
type Class int

const (
	// ClassInfrastructure - quota, auth, network, malformed response. Not retried
	// in place; the resolver abandons the remaining styles and switches model.
	ClassInfrastructure Class = iota
	// ClassTransient - rate limit or empty-payload glitch. Retried in place by the
	// Executor, invisible to the resolver.
	ClassTransient
	// ClassContentPolicy - a safety filter rejected this specific prompt/style.
	// The resolver advances to the next style description under the same model.
	ClassContentPolicy
)

func (c Class) String() string {
	switch c {
	case ClassTransient:
		return "transient"
	case ClassContentPolicy:
		return "content_policy"
	default:
		return "infrastructure"
	}
}

type classifiedError struct {
	class Class
	err   error
}

func (e *classifiedError) Error() string {
	return fmt.Sprintf("%s: %v", e.class, e.err)
}

func (e *classifiedError) Unwrap() error { return e.err }

// ErrEmptyModelResponse marks the "upstream returned no payload" condition, which
// is treated as transient.
var ErrEmptyModelResponse = Mark(errors.New("model returned an empty response"), ClassTransient)

// Mark wraps err with an explicit class. Returns nil for a nil err.
func Mark(err error, class Class) error {
	if err == nil {
		return nil
	}
	return &classifiedError{class: class, err: err}
}

// MarkTransient wraps err as retriable in place.
func MarkTransient(err error) error { return Mark(err, ClassTransient) }

// MarkContentPolicy wraps err as a safety-filter rejection.
func MarkContentPolicy(err error) error { return Mark(err, ClassContentPolicy) }

// Classify returns the class of an error. Unmarked errors default to
// ClassInfrastructure: switching model is the only sensible recourse when we do
// not know better.
func Classify(err error) Class {
	var ce *classifiedError
	if errors.As(err, &ce) {
		return ce.class
	}
	return ClassInfrastructure
}

// IsContentPolicy reports whether err is classified as a safety-filter rejection.
func IsContentPolicy(err error) bool {
	return err != nil && Classify(err) == ClassContentPolicy
}

// UserMessage maps an error class onto an actionable, user-facing failure text
// (content rejections are fixable by rephrasing, transient failures by waiting).
func UserMessage(err error) string {
	var ex *ExhaustedError
	if errors.As(err, &ex) && len(ex.Attempts) > 0 {
		// Report the class of the last attempt - it is what the user saw last.
		return classMessage(ex.Attempts[len(ex.Attempts)-1].Class)
	}
	return classMessage(Classify(err))
}

func classMessage(class Class) string {
	switch class {
	case ClassContentPolicy:
		return "The story request conflicts with content guidelines. Please rephrase the theme or character descriptions and try again."
	case ClassTransient:
		return "The generation service is temporarily overloaded. Please try again in a few minutes."
	default:
		return "Story generation is currently unavailable due to a service problem. Please try again later."
	}
}
