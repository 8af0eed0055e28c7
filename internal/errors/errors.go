package errors

import (
	"errors"
	"fmt"
)

// Sentinel errors for expected failure modes
var (
	ErrInputFormat     = errors.New("malformed MIDI input")
	ErrNormalization   = errors.New("normalization dropped events")
	ErrMetadataMiss    = errors.New("metadata resolver yielded nothing")
	ErrStore           = errors.New("store operation failed")
	ErrExternalService = errors.New("external metadata service failed")
	ErrInvariant       = errors.New("internal invariant violated")
)

// AnalysisError represents a failure inside the analysis pipeline
type AnalysisError struct {
	Kind  error  // one of the sentinels above
	Stage string // "normalize", "metadata", "patterns", ...
	Path  string // source file, when known
	Cause error
}

func (e *AnalysisError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s failed at %s (%s): %v", e.Kind, e.Stage, e.Path, e.Cause)
	}
	return fmt.Sprintf("%s failed at %s: %v", e.Kind, e.Stage, e.Cause)
}

func (e *AnalysisError) Unwrap() error {
	return e.Cause
}

// Is lets errors.Is match against the sentinel kind as well as the cause.
func (e *AnalysisError) Is(target error) bool {
	return errors.Is(e.Kind, target)
}

// IsFatal returns true if the error must abort the whole batch rather
// than just the current song.
func (e *AnalysisError) IsFatal() bool {
	return errors.Is(e.Kind, ErrInvariant)
}

// New creates an AnalysisError
func New(kind error, stage, path string, cause error) *AnalysisError {
	return &AnalysisError{Kind: kind, Stage: stage, Path: path, Cause: cause}
}

// Invariantf reports an internal bug with a formatted diagnostic.
func Invariantf(stage, format string, args ...any) *AnalysisError {
	return &AnalysisError{Kind: ErrInvariant, Stage: stage, Cause: fmt.Errorf(format, args...)}
}
