package crawler

import (
	"context"
	"errors"
	"fmt"
)

// Kind classifies a pipeline failure.
type Kind string

// Error kinds reported by the pipeline.
const (
	KindInvalidInput          Kind = "invalid_input"
	KindTimeout               Kind = "timeout"
	KindTransientConnectivity Kind = "transient_connectivity"
	KindConfigMissing         Kind = "config_missing"
	KindParseFailure          Kind = "parse_failure"
	KindIntegrityViolation    Kind = "integrity_violation"
	KindNotFound              Kind = "not_found"
	KindUnknown               Kind = "unknown"
)

// Error tags an underlying error with a Kind and the operation that failed.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

// E wraps err as an *Error. A nil err yields nil.
func E(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

func (e *Error) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the outermost Kind in err's chain. Context deadline errors
// without a tag are reported as timeouts.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var tagged *Error
	if errors.As(err, &tagged) {
		return tagged.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	return KindUnknown
}

// IsKind reports whether err carries kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}
