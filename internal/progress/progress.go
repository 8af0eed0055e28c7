package progress

import (
	"fmt"
	"io"
	"time"
)

// Stage represents a processing stage
type Stage struct {
	Number      int
	Total       int
	Name        string
	Description string
}

// Predefined stages of the per-song analysis pipeline
var (
	StageNormalize = Stage{1, 8, "normalize", "Normalizing MIDI events..."}
	StageMetadata  = Stage{2, 8, "metadata", "Resolving artist and title..."}
	StageFeatures  = Stage{3, 8, "features", "Extracting track features and roles..."}
	StagePatterns  = Stage{4, 8, "patterns", "Chunking and fingerprinting patterns..."}
	StageKey       = Stage{5, 8, "key", "Detecting key..."}
	StageChords    = Stage{6, 8, "chords", "Inferring chord progression..."}
	StageArps      = Stage{7, 8, "arps", "Analyzing arpeggios and sections..."}
	StagePersist   = Stage{8, 8, "persist", "Writing results to store..."}
)

// Reporter handles CLI progress output
type Reporter struct {
	out       io.Writer
	startTime time.Time
	verbose   bool
}

// NewReporter creates a new progress reporter
func NewReporter(out io.Writer, verbose bool) *Reporter {
	return &Reporter{
		out:       out,
		startTime: time.Now(),
		verbose:   verbose,
	}
}

// StartStage announces the beginning of a processing stage
func (r *Reporter) StartStage(stage Stage) {
	if r.verbose {
		fmt.Fprintf(r.out, "[%d/%d] %s\n", stage.Number, stage.Total, stage.Description)
	}
}

// Update shows a sub-progress message within a stage
func (r *Reporter) Update(format string, args ...any) {
	if r.verbose {
		fmt.Fprintf(r.out, "       %s\n", fmt.Sprintf(format, args...))
	}
}

// SongDone reports one finished song in batch mode
func (r *Reporter) SongDone(index, total int, path, status string) {
	fmt.Fprintf(r.out, "[%d/%d] %s (%s)\n", index, total, path, status)
}

// Done announces successful completion of a batch
func (r *Reporter) Done(processed, failed int) {
	elapsed := time.Since(r.startTime)
	fmt.Fprintf(r.out, "Done: %d songs analyzed, %d failed\n", processed, failed)
	fmt.Fprintf(r.out, "Completed in %.1f seconds\n", elapsed.Seconds())
}

// Error announces an error
func (r *Reporter) Error(err error) {
	fmt.Fprintf(r.out, "Error: %s\n", err)
}

// Warning announces a non-fatal warning
func (r *Reporter) Warning(format string, args ...any) {
	fmt.Fprintf(r.out, "Warning: %s\n", fmt.Sprintf(format, args...))
}
