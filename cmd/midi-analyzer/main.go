package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	apperrors "github.com/gramster/midi-analyzer/internal/errors"
	"github.com/gramster/midi-analyzer/internal/patterns"
	"github.com/gramster/midi-analyzer/internal/pipeline"
	"github.com/gramster/midi-analyzer/internal/server"
	"github.com/gramster/midi-analyzer/internal/store"
)

var (
	version = "0.1.0"
)

// Exit codes: 0 success, 2 usage, 3 input error, 4 internal invariant
// violation.
const (
	exitUsage     = 2
	exitInput     = 3
	exitInvariant = 4
)

var (
	flagDB       string
	flagGrid     int
	flagWorkers  int
	flagWeighted bool
	flagVerbose  bool
	flagPort     int

	flagRole   string
	flagGenre  string
	flagArtist string
	flagMeter  string
	flagMinLen int
	flagMaxLen int
	flagLimit  int
	flagOffset int
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(exitCode(err))
	}
}

// usageError marks flag and argument mistakes so they map to exit
// code 2.
type usageError struct{ err error }

func (u usageError) Error() string { return u.err.Error() }
func (u usageError) Unwrap() error { return u.err }

func exitCode(err error) int {
	var usage usageError
	if errors.As(err, &usage) {
		return exitUsage
	}
	var analysisErr *apperrors.AnalysisError
	if errors.As(err, &analysisErr) {
		if analysisErr.IsFatal() {
			return exitInvariant
		}
		if errors.Is(analysisErr.Kind, apperrors.ErrInputFormat) {
			return exitInput
		}
	}
	return 1
}

var rootCmd = &cobra.Command{
	Use:   "midi-analyzer",
	Short: "Build a searchable corpus of reusable patterns from MIDI files",
	Long: `midi-analyzer ingests standard MIDI files and produces a searchable
corpus of reusable musical patterns: rhythms, melodies, chord
progressions, and arpeggios.

Pipeline: MIDI file → normalization → features/roles → fingerprinting
→ pattern mining → key/chords/arps/sections → store`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: false,
}

var analyzeCmd = &cobra.Command{
	Use:   "analyze <file>",
	Short: "Analyze a single MIDI file and print the result as JSON",
	Long: `Run the full analysis pipeline on one MIDI file and print a JSON
summary to stdout. Nothing is persisted unless --db is given.

Examples:
  midi-analyzer analyze song.mid
  midi-analyzer analyze song.mid --db corpus.db --grid 32`,
	Args: cobra.ExactArgs(1),
	RunE: runAnalyze,
}

var scanCmd = &cobra.Command{
	Use:   "scan <dir>",
	Short: "Analyze every MIDI file under a directory into the store",
	Long: `Walk a directory tree, analyze each .mid/.midi file, and persist
songs, patterns, and instances. Songs already in the store are
skipped via the checkpoint journal, so an interrupted scan resumes
where it stopped.

Examples:
  midi-analyzer scan ./midi --db corpus.db
  midi-analyzer scan ./midi --db corpus.db --workers 8`,
	Args: cobra.ExactArgs(1),
	RunE: runScan,
}

var queryCmd = &cobra.Command{
	Use:   "query",
	Short: "Query the pattern corpus",
	Long: `Search stored patterns by role, meter, length, genre, or artist.
Results are ordered by popularity, then pattern id.

Examples:
  midi-analyzer query --db corpus.db --role bass --min-length 2
  midi-analyzer query --db corpus.db --meter 4/4 --limit 10`,
	RunE: runQuery,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the corpus over a JSON HTTP API",
	Long: `Start the query API.

Example:
  midi-analyzer serve --db corpus.db --port 8080`,
	RunE: runServe,
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print corpus statistics",
	RunE:  runStats,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagDB, "db", "", "path to the corpus database")
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "verbose output")

	analyzeCmd.Flags().IntVar(&flagGrid, "grid", 16, "grid steps per bar")
	analyzeCmd.Flags().BoolVar(&flagWeighted, "weighted-rhythm", false, "velocity-weighted rhythm fingerprints")

	scanCmd.Flags().IntVar(&flagGrid, "grid", 16, "grid steps per bar")
	scanCmd.Flags().IntVar(&flagWorkers, "workers", 4, "parallel workers, one song each")
	scanCmd.Flags().BoolVar(&flagWeighted, "weighted-rhythm", false, "velocity-weighted rhythm fingerprints")

	queryCmd.Flags().StringVar(&flagRole, "role", "", "filter by role")
	queryCmd.Flags().StringVar(&flagGenre, "genre", "", "filter by genre")
	queryCmd.Flags().StringVar(&flagArtist, "artist", "", "filter by artist")
	queryCmd.Flags().StringVar(&flagMeter, "meter", "", "filter by meter, e.g. 4/4")
	queryCmd.Flags().IntVar(&flagMinLen, "min-length", 0, "minimum pattern length in bars")
	queryCmd.Flags().IntVar(&flagMaxLen, "max-length", 0, "maximum pattern length in bars")
	queryCmd.Flags().IntVar(&flagLimit, "limit", 20, "maximum results")
	queryCmd.Flags().IntVar(&flagOffset, "offset", 0, "result offset")

	serveCmd.Flags().IntVar(&flagPort, "port", 8080, "listen port")

	rootCmd.AddCommand(analyzeCmd, scanCmd, queryCmd, serveCmd, statsCmd)

	rootCmd.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return usageError{err}
	})
}

func openStore(required bool) (*store.Store, error) {
	if flagDB == "" {
		if required {
			return nil, usageError{fmt.Errorf("--db is required")}
		}
		return nil, nil
	}
	return store.Open(flagDB)
}

func pipelineConfig() pipeline.Config {
	cfg := pipeline.DefaultConfig()
	cfg.GridStepsPerBar = flagGrid
	cfg.WeightedRhythm = flagWeighted
	if flagWorkers > 0 {
		cfg.Workers = flagWorkers
	}
	return cfg
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	st, err := openStore(false)
	if err != nil {
		return err
	}

	orch := pipeline.NewOrchestrator(pipelineConfig(), st, nil, os.Stderr, flagVerbose)
	result, err := orch.AnalyzeFile(ctx, args[0])
	if err != nil {
		return err
	}

	if st != nil {
		if err := orch.Persist(result); err != nil {
			return err
		}
		clustered := patterns.Cluster(minedByID(result.Mined))
		if err := st.UpsertPatterns(clustered); err != nil {
			return err
		}
	}

	return json.NewEncoder(os.Stdout).Encode(summarize(result))
}

func minedByID(mined []*patterns.Mined) map[string]*patterns.Mined {
	corpus := make(map[string]*patterns.Mined, len(mined))
	patterns.Merge(corpus, mined)
	return corpus
}

func runScan(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	st, err := openStore(true)
	if err != nil {
		return err
	}

	orch := pipeline.NewOrchestrator(pipelineConfig(), st, nil, os.Stderr, flagVerbose)
	summary, err := orch.RunBatch(ctx, args[0])
	if err != nil {
		return err
	}

	fmt.Printf("scanned %d files: %d ok, %d partial, %d failed, %d skipped\n",
		summary.Total, summary.Succeeded, summary.Partial, summary.Failed, summary.Skipped)
	return nil
}

func runQuery(cmd *cobra.Command, args []string) error {
	st, err := openStore(true)
	if err != nil {
		return err
	}

	rows, err := st.QueryPatterns(store.ClipQuery{
		Role:          flagRole,
		Genre:         flagGenre,
		Artist:        flagArtist,
		Meter:         flagMeter,
		MinLengthBars: flagMinLen,
		MaxLengthBars: flagMaxLen,
		Limit:         flagLimit,
		Offset:        flagOffset,
	})
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(rows)
}

func runServe(cmd *cobra.Command, args []string) error {
	st, err := openStore(true)
	if err != nil {
		return err
	}
	return server.New(server.Config{Port: flagPort}, st).Run()
}

func runStats(cmd *cobra.Command, args []string) error {
	st, err := openStore(true)
	if err != nil {
		return err
	}
	stats, err := st.CorpusStats()
	if err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(stats)
}

// summary is the JSON the analyze command prints.
type summary struct {
	SongID   string         `json:"song_id"`
	Source   string         `json:"source_path"`
	Status   string         `json:"status"`
	Artist   string         `json:"artist,omitempty"`
	Title    string         `json:"title,omitempty"`
	Key      string         `json:"key"`
	KeyConf  float64        `json:"key_confidence"`
	Tracks   int            `json:"tracks"`
	Bars     int            `json:"bars"`
	Patterns int            `json:"patterns"`
	Chords   []string       `json:"chords"`
	Form     []string       `json:"form"`
	Roles    map[int]string `json:"roles"`
}

func summarize(result *pipeline.Result) summary {
	s := summary{
		SongID:   result.Song.SongID,
		Source:   result.Song.SourcePath,
		Status:   string(result.Status),
		Artist:   result.Song.Metadata.Artist,
		Title:    result.Song.Metadata.Title,
		Key:      result.Key.Name(),
		KeyConf:  result.Key.Confidence,
		Tracks:   len(result.Song.Tracks),
		Bars:     result.Song.TotalBars,
		Patterns: len(result.Mined),
		Roles:    make(map[int]string),
	}
	for _, chord := range result.Chords {
		s.Chords = append(s.Chords, chord.Roman)
	}
	for _, section := range result.Sections {
		s.Form = append(s.Form, section.FormLabel)
	}
	for _, track := range result.Song.Tracks {
		s.Roles[track.TrackID] = string(track.RoleProbs.Primary())
	}
	return s
}
