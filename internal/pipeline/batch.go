package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	apperrors "github.com/gramster/midi-analyzer/internal/errors"
	"github.com/gramster/midi-analyzer/internal/model"
	"github.com/gramster/midi-analyzer/internal/normalize"
	"github.com/gramster/midi-analyzer/internal/patterns"
)

// BatchSummary reports what a batch run did.
type BatchSummary struct {
	Total     int
	Succeeded int
	Partial   int
	Failed    int
	Skipped   int
}

// RunBatch analyzes every MIDI file under dir with Workers parallel
// workers, one song per worker. Songs already checkpointed as
// persisted are skipped. After all songs finish, patterns are
// clustered corpus-wide and written once.
func (o *Orchestrator) RunBatch(ctx context.Context, dir string) (BatchSummary, error) {
	files, err := collectFiles(dir)
	if err != nil {
		return BatchSummary{}, apperrors.New(apperrors.ErrInputFormat, "scan", dir, err)
	}

	summary := BatchSummary{Total: len(files)}
	corpus := make(map[string]*patterns.Mined)

	var (
		mu       sync.Mutex
		wg       sync.WaitGroup
		fatalErr error
	)
	workers := o.config.Workers
	if workers < 1 {
		workers = 1
	}
	sem := make(chan struct{}, workers)

	for i, path := range files {
		// Cooperative cancellation between songs; in-flight songs stop
		// at their next stage boundary and are not persisted, so no
		// partial structures are written.
		if ctx.Err() != nil {
			break
		}
		mu.Lock()
		stop := fatalErr != nil
		mu.Unlock()
		if stop {
			break
		}

		if o.store != nil {
			if songID, err := contentID(path); err == nil && o.store.StageDone(songID, "persist") {
				mu.Lock()
				summary.Skipped++
				mu.Unlock()
				o.progress.SongDone(i+1, len(files), path, "skipped")
				continue
			}
		}

		wg.Add(1)
		sem <- struct{}{}
		go func(index int, path string) {
			defer wg.Done()
			defer func() { <-sem }()

			result, err := o.AnalyzeFile(ctx, path)
			if err != nil {
				var analysisErr *apperrors.AnalysisError
				if errors.As(err, &analysisErr) && analysisErr.IsFatal() {
					mu.Lock()
					if fatalErr == nil {
						fatalErr = err
					}
					mu.Unlock()
					return
				}
				mu.Lock()
				summary.Failed++
				mu.Unlock()
				o.progress.SongDone(index+1, len(files), path, "failed")
				o.logger.Error("song failed", "path", path, "error", err)
				return
			}

			if err := o.Persist(result); err != nil {
				// The checkpoint stays unadvanced; the song is retried
				// on the next run.
				mu.Lock()
				summary.Failed++
				mu.Unlock()
				o.progress.SongDone(index+1, len(files), path, "failed")
				o.logger.Error("persist failed", "path", path, "error", err)
				return
			}

			mu.Lock()
			patterns.Merge(corpus, result.Mined)
			switch result.Status {
			case model.StatusPartial:
				summary.Partial++
			default:
				summary.Succeeded++
			}
			mu.Unlock()
			o.progress.SongDone(index+1, len(files), path, string(result.Status))
		}(i, path)
	}

	wg.Wait()

	if fatalErr != nil {
		return summary, fatalErr
	}
	if err := ctx.Err(); err != nil {
		return summary, err
	}

	clustered := patterns.Cluster(corpus)
	if err := verifyInstances(clustered); err != nil {
		return summary, err
	}
	if o.store != nil {
		if err := o.store.UpsertPatterns(clustered); err != nil {
			return summary, err
		}
	}

	o.progress.Done(summary.Succeeded+summary.Partial, summary.Failed)
	return summary, nil
}

// verifyInstances checks that every instance references an emitted
// pattern; a dangling reference is a mining bug.
func verifyInstances(mined []*patterns.Mined) error {
	ids := make(map[string]bool, len(mined))
	for _, p := range mined {
		ids[p.Pattern.PatternID] = true
	}
	for _, p := range mined {
		for _, inst := range p.Instances {
			if !ids[inst.PatternID] {
				return apperrors.Invariantf("mine", "instance references unknown pattern %s", inst.PatternID)
			}
		}
	}
	return nil
}

func collectFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		switch strings.ToLower(filepath.Ext(path)) {
		case ".mid", ".midi":
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	// Deterministic work order regardless of filesystem enumeration.
	sort.Strings(files)
	return files, nil
}

func contentID(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return normalize.SongID(data), nil
}
