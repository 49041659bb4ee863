package services

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrTransient marks network and timeout failures that are worth retrying.
	ErrTransient = errors.New("transient failure")
	// ErrConflict marks an authority copy that diverged from the client's base view.
	ErrConflict = errors.New("conflict")
	// ErrValidation marks payloads the authority rejected.
	ErrValidation = errors.New("validation error")
	// ErrPermission marks authority requests rejected for lack of access.
	ErrPermission = errors.New("permission denied")
	// ErrNotFound marks missing local or remote records.
	ErrNotFound = errors.New("not found")
	// ErrCapacity marks admissions refused because a bounded queue cannot hold the item.
	ErrCapacity = errors.New("capacity exceeded")
	// ErrFatal marks local store failures; these are surfaced and never retried.
	ErrFatal = errors.New("fatal local store error")
	// ErrConfiguration marks unusable configuration.
	ErrConfiguration = errors.New("configuration error")
)

// ErrorClassifier allows errors to declare their classification without
// wrapping one of the sentinel markers.
type ErrorClassifier interface {
	ErrorKind() string
}

// Wrap builds an error message that includes component context while tagging it
// with the provided marker for later classification. The marker should be one
// of the exported sentinel errors above.
func Wrap(marker error, component, operation, message string, err error) error {
	detail := buildDetail(component, operation, message)
	if marker == nil {
		marker = ErrTransient
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// Kind returns the taxonomy label for err.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrFatal):
		return "fatal"
	case errors.Is(err, ErrCapacity):
		return "capacity"
	case errors.Is(err, ErrConflict):
		return "conflict"
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrPermission):
		return "permission"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrConfiguration):
		return "configuration"
	}
	var classifier ErrorClassifier
	if errors.As(err, &classifier) {
		if kind := strings.TrimSpace(classifier.ErrorKind()); kind != "" {
			return kind
		}
	}
	return "transient"
}

// IsFatal reports whether err came from the local store and must not be retried.
func IsFatal(err error) bool {
	return errors.Is(err, ErrFatal)
}

func buildDetail(component, operation, message string) string {
	parts := make([]string, 0, 3)
	if component = strings.TrimSpace(component); component != "" {
		parts = append(parts, component)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
