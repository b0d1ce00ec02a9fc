package knowledge

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrValidation marks a request rejected before reaching the store.
	ErrValidation = errors.New("validation failed")
	// ErrDatasetNotFound is returned when a dataset id is unknown.
	ErrDatasetNotFound = errors.New("dataset not found")
	// ErrDatasetConflict marks a create rejected because the name is taken.
	ErrDatasetConflict = errors.New("dataset name already exists")
	// ErrParseTrigger marks a failure to start parsing.
	ErrParseTrigger = errors.New("failed to trigger parsing")
)

// ExternalServiceError is a failure reported by, or while talking to, the store.
type ExternalServiceError struct {
	Op         string
	StatusCode int
	Code       int
	Message    string
	Err        error
}

func (e *ExternalServiceError) Error() string {
	var b strings.Builder
	b.WriteString(e.Op)
	b.WriteString(": ")
	switch {
	case e.StatusCode != 0 && e.StatusCode != 200:
		fmt.Fprintf(&b, "HTTP %d", e.StatusCode)
	case e.Code != 0:
		fmt.Fprintf(&b, "code %d", e.Code)
	default:
		b.WriteString("request failed")
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *ExternalServiceError) Unwrap() error { return e.Err }

// conflictMarkers are the phrases the store uses for duplicate names.
var conflictMarkers = []string{"already exists", "已存在", "duplicate"}

// IsNameConflict reports whether err describes a dataset name collision.
func IsNameConflict(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrDatasetConflict) {
		return true
	}
	var ext *ExternalServiceError
	if errors.As(err, &ext) {
		return isConflictMessage(ext.Message)
	}
	return isConflictMessage(err.Error())
}

func isConflictMessage(msg string) bool {
	lower := strings.ToLower(msg)
	for _, m := range conflictMarkers {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}
