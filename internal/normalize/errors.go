package normalize

import (
	"errors"
	"fmt"
)

// ErrMalformedRecord matches every *ValidationError.
var ErrMalformedRecord = errors.New("malformed raw record")

// Reject reasons recorded by callers.
const (
	RejectUnresolvedProject = "unresolved_project"
	RejectMalformed         = "malformed"
)

// ValidationError reports a raw record that cannot be classified at all.
type ValidationError struct {
	RawID  string
	Kind   Kind
	Reason string
}

func (e *ValidationError) Error() string {
	if e.RawID == "" {
		return fmt.Sprintf("%s (kind=%s): %s", ErrMalformedRecord, e.Kind, e.Reason)
	}
	return fmt.Sprintf("%s %s (kind=%s): %s", ErrMalformedRecord, e.RawID, e.Kind, e.Reason)
}

// Is lets errors.Is(err, ErrMalformedRecord) match.
func (e *ValidationError) Is(target error) bool {
	return target == ErrMalformedRecord
}
