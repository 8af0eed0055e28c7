// Package pipeline coordinates the per-song analysis stages and the
// batch driver that fans songs out across workers.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"

	"github.com/gramster/midi-analyzer/internal/analysis"
	"github.com/gramster/midi-analyzer/internal/arps"
	apperrors "github.com/gramster/midi-analyzer/internal/errors"
	"github.com/gramster/midi-analyzer/internal/harmony"
	"github.com/gramster/midi-analyzer/internal/metadata"
	"github.com/gramster/midi-analyzer/internal/model"
	"github.com/gramster/midi-analyzer/internal/normalize"
	"github.com/gramster/midi-analyzer/internal/patterns"
	"github.com/gramster/midi-analyzer/internal/progress"
	"github.com/gramster/midi-analyzer/internal/sections"
	"github.com/gramster/midi-analyzer/internal/smf"
	"github.com/gramster/midi-analyzer/internal/store"
)

// Config holds pipeline configuration
type Config struct {
	GridStepsPerBar int
	ChordWindowBars float64 // analysis window as a fraction of a bar
	RoleThreshold   float64 // probability gate for role-specific stages
	WeightedRhythm  bool    // velocity-weighted rhythm fingerprints
	Workers         int     // batch parallelism, one song per worker
	MetadataSource  string  // rate-limit bucket for the enrichment sink
}

// DefaultConfig returns default pipeline configuration
func DefaultConfig() Config {
	return Config{
		GridStepsPerBar: 16,
		ChordWindowBars: 0.5,
		RoleThreshold:   0.5,
		WeightedRhythm:  false,
		Workers:         4,
		MetadataSource:  "musicbrainz",
	}
}

// Result contains all per-song pipeline outputs
type Result struct {
	Song     *model.Song
	Key      model.KeyEstimate
	Chords   []model.ChordEvent
	Sections []model.Section
	Arps     []*model.ArpSummary
	Mined    []*patterns.Mined
	Status   model.AnalysisStatus
}

// Orchestrator coordinates the full analysis pipeline
type Orchestrator struct {
	config     Config
	store      *store.Store
	normalizer *normalize.Normalizer
	resolver   *metadata.Resolver
	enricher   *metadata.Enricher
	extractor  *analysis.Extractor
	classifier *analysis.Classifier
	miner      *patterns.Miner
	keys       *harmony.KeyDetector
	chords     *harmony.ChordInferer
	arps       *arps.Analyzer
	sections   *sections.Segmenter
	progress   *progress.Reporter
	logger     *slog.Logger
}

// NewOrchestrator creates a new pipeline orchestrator. The sink is
// optional; without it no external enrichment happens.
func NewOrchestrator(cfg Config, st *store.Store, sink metadata.Sink, out io.Writer, verbose bool) *Orchestrator {
	logger := slog.Default()
	chunker := patterns.NewChunker(cfg.GridStepsPerBar)
	fingerprinter := patterns.NewFingerprinter(patterns.FingerprintConfig{WeightedRhythm: cfg.WeightedRhythm})

	var enricher *metadata.Enricher
	if sink != nil && st != nil {
		enricher = metadata.NewEnricher(sink, st, cfg.MetadataSource, logger)
	}

	return &Orchestrator{
		config:     cfg,
		store:      st,
		normalizer: normalize.New(cfg.GridStepsPerBar),
		resolver:   metadata.NewResolver(),
		enricher:   enricher,
		extractor:  analysis.NewExtractor(cfg.GridStepsPerBar),
		classifier: analysis.NewClassifier(),
		miner:      patterns.NewMiner(chunker, fingerprinter),
		keys:       harmony.NewKeyDetector(),
		chords:     harmony.NewChordInferer(harmony.ChordConfig{WindowBars: cfg.ChordWindowBars}),
		arps:       arps.NewAnalyzer(cfg.RoleThreshold),
		sections:   sections.NewSegmenter(),
		progress:   progress.NewReporter(out, verbose),
		logger:     logger,
	}
}

// AnalyzeFile runs every stage on one file. Within a song everything
// is synchronous CPU; cancellation is observed between stages so no
// structure is left half-built.
func (o *Orchestrator) AnalyzeFile(ctx context.Context, path string) (*Result, error) {
	// Stage 1: normalize
	o.progress.StartStage(progress.StageNormalize)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, apperrors.New(apperrors.ErrInputFormat, "normalize", path, err)
	}
	file, err := smf.Parse(data)
	if err != nil {
		return nil, apperrors.New(apperrors.ErrInputFormat, "normalize", path, err)
	}
	song := o.normalizer.Normalize(file, path, normalize.SongID(data))
	if song.Warnings.Any() {
		o.progress.Warning("%d events dropped during normalization (%s)",
			song.Warnings.UnmatchedNoteOns+song.Warnings.ZeroDuration+song.Warnings.VelocityZero, path)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	result := &Result{Song: song, Status: model.StatusOK}
	if song.Warnings.Any() {
		result.Status = model.StatusPartial
	}

	// Stage 2: metadata
	o.progress.StartStage(progress.StageMetadata)
	song.Metadata = o.resolver.Resolve(path, file)
	if song.Metadata.Artist == "" && song.Metadata.Title == "" {
		result.Status = model.StatusPartial
	} else if o.enricher != nil {
		o.enrich(ctx, song, result)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// Stage 3: features and roles
	o.progress.StartStage(progress.StageFeatures)
	for _, track := range song.Tracks {
		track.Features = o.extractor.Extract(song, track)
		track.RoleProbs = o.classifier.Classify(track.Features, track.Channel)
		if err := checkRoleProbs(track); err != nil {
			return nil, err
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// Stage 4: patterns (intra-song mining)
	o.progress.StartStage(progress.StagePatterns)
	result.Mined = o.miner.MineSong(song)
	o.progress.Update("%d canonical patterns", len(result.Mined))
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// Stage 5: key
	o.progress.StartStage(progress.StageKey)
	result.Key = o.keys.DetectSong(song)
	o.progress.Update("key %s (%.0f%%)", result.Key.Name(), result.Key.Confidence*100)

	// Stage 6: chords
	o.progress.StartStage(progress.StageChords)
	result.Chords = o.chords.InferSong(song, result.Key)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// Stage 7: arps and sections
	o.progress.StartStage(progress.StageArps)
	for _, track := range song.Tracks {
		if summary := o.arps.AnalyzeTrack(song, track, result.Chords); summary != nil {
			result.Arps = append(result.Arps, summary)
		}
	}
	result.Sections = o.sections.Segment(song, result.Chords)

	return result, nil
}

// enrich consults the external sink for genres and tags. Failures are
// non-fatal: misses leave the song with resolver metadata only, and
// service errors surface as warnings.
func (o *Orchestrator) enrich(ctx context.Context, song *model.Song, result *Result) {
	lookup, err := o.enricher.Lookup(ctx, song.Metadata.Artist, song.Metadata.Title)
	switch {
	case err == nil:
		genres, tags := metadata.MergeTags(lookup)
		song.Metadata.Genres = genres
		song.Metadata.Tags = tags
		song.Metadata.RecordingID = lookup.RecordingID
	case errors.Is(err, metadata.ErrMiss):
		result.Status = model.StatusPartial
	case errors.Is(err, apperrors.ErrExternalService):
		o.progress.Warning("metadata enrichment failed: %v", err)
		result.Status = model.StatusPartial
	}
}

// Persist writes a song's results. Patterns are not written here; the
// batch driver clusters them corpus-wide first.
func (o *Orchestrator) Persist(result *Result) error {
	if o.store == nil {
		return nil
	}
	song := result.Song
	if err := o.store.UpsertSong(song, result.Key, result.Status); err != nil {
		return err
	}
	if err := o.store.UpsertChords(song.SongID, result.Chords); err != nil {
		return err
	}
	if err := o.store.UpsertSections(song.SongID, result.Sections); err != nil {
		return err
	}
	return o.store.MarkStage(song.SongID, "persist")
}

// checkRoleProbs enforces the distribution invariant; a violation is
// a bug, not bad input.
func checkRoleProbs(track *model.Track) error {
	sum := 0.0
	for _, p := range track.RoleProbs {
		sum += p
	}
	if math.Abs(sum-1.0) > 1e-6 {
		return apperrors.Invariantf("features", "role probabilities sum to %g on track %d", sum, track.TrackID)
	}
	return nil
}

// Describe renders a one-line summary for logs.
func Describe(result *Result) string {
	return fmt.Sprintf("%s: %d tracks, %d patterns, key %s, %d chords, %d sections [%s]",
		result.Song.SongID, len(result.Song.Tracks), len(result.Mined),
		result.Key.Name(), len(result.Chords), len(result.Sections), result.Status)
}
