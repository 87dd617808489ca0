package continuum

import (
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/zero-day-ai/continuum/index"
	"github.com/zero-day-ai/continuum/level"
)

// Sentinel errors returned by System operations.
var (
	// ErrUnknownLevel indicates the named level is not configured.
	ErrUnknownLevel = errors.New("unknown memory level")

	// ErrInvalidWeights indicates a fusion weight is negative or NaN.
	ErrInvalidWeights = errors.New("invalid fusion weights")

	// ErrInvalidConfig indicates a level or system configuration is invalid.
	ErrInvalidConfig = level.ErrInvalidConfig

	// ErrDimensionMismatch indicates an embedding of the wrong size.
	ErrDimensionMismatch = index.ErrDimensionMismatch

	// ErrNonFiniteEmbedding indicates an embedding holding NaN or Inf.
	ErrNonFiniteEmbedding = index.ErrNonFiniteEmbedding
)

// Error kinds categorize errors by their type.
const (
	// KindNotFound represents errors where a level was not found.
	KindNotFound = "not_found"

	// KindValidation represents errors related to input validation.
	KindValidation = "validation"

	// KindConfiguration represents errors related to configuration.
	KindConfiguration = "configuration"

	// KindInternal represents internal errors.
	KindInternal = "internal"
)

// Error is the structured error returned at the package boundary. It wraps
// the underlying cause with the failing operation and an error kind, and
// supports errors.Is and errors.As.
//
// Example:
//
//	_, err := sys.Retrieve(ctx, q, "nope", 3)
//	if errors.Is(err, continuum.ErrUnknownLevel) {
//		// ...
//	}
type Error struct {
	// Op is the operation that failed (e.g., "System.Store").
	Op string

	// Kind categorizes the error (e.g., KindNotFound).
	Kind string

	// Err is the underlying error.
	Err error

	// Context carries debugging details such as the level name.
	Context map[string]any
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("continuum: %s: %s", e.Op, e.Kind)
	}
	if len(e.Context) > 0 {
		return fmt.Sprintf("continuum: %s (%s): %v [context: %+v]", e.Op, e.Kind, e.Err, e.Context)
	}
	return fmt.Sprintf("continuum: %s (%s): %v", e.Op, e.Kind, e.Err)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error by Kind (and Op when set), then falls back to
// the wrapped error.
func (e *Error) Is(target error) bool {
	if target == nil {
		return false
	}
	if t, ok := target.(*Error); ok && t.Kind != "" && e.Kind == t.Kind {
		if t.Op == "" || e.Op == t.Op {
			return true
		}
	}
	return errors.Is(e.Err, target)
}

// WithContext returns a copy of the error with ctx merged into Context.
func (e *Error) WithContext(ctx map[string]any) *Error {
	newErr := *e
	newErr.Context = make(map[string]any, len(e.Context)+len(ctx))
	for k, v := range e.Context {
		newErr.Context[k] = v
	}
	for k, v := range ctx {
		newErr.Context[k] = v
	}
	return &newErr
}

func newError(op, kind string, err error) *Error {
	return &Error{Op: op, Kind: kind, Err: err}
}

// classify picks the error kind for a failure bubbling up from a level.
func classify(op string, err error) *Error {
	switch {
	case errors.Is(err, ErrDimensionMismatch), errors.Is(err, ErrNonFiniteEmbedding),
		errors.Is(err, level.ErrInvalidKey), errors.Is(err, ErrInvalidWeights):
		return newError(op, KindValidation, err)
	case errors.Is(err, ErrInvalidConfig):
		return newError(op, KindConfiguration, err)
	case errors.Is(err, ErrUnknownLevel):
		return newError(op, KindNotFound, err)
	default:
		return newError(op, KindInternal, err)
	}
}

func unknownLevel(op, name string) *Error {
	return newError(op, KindNotFound, ErrUnknownLevel).WithContext(map[string]any{"level": name})
}

// closeWithLog closes the resource and logs any error at warning level.
func closeWithLog(closer io.Closer, logger *slog.Logger, name string) {
	if closer == nil {
		return
	}
	if logger == nil {
		logger = slog.Default()
	}
	if err := closer.Close(); err != nil {
		logger.Warn("failed to close resource",
			"resource", name,
			"error", err)
	}
}
