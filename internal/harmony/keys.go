// Package harmony infers song-level key and chord progressions from
// normalized note events.
package harmony

import (
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/gramster/midi-analyzer/internal/model"
)

// Krumhansl-Schmuckler tonal hierarchy profiles from empirical studies
// of Western tonal music.
var (
	majorProfile = []float64{6.35, 2.23, 3.48, 2.33, 4.38, 4.09, 2.52, 5.19, 2.39, 3.66, 2.29, 2.88}
	minorProfile = []float64{6.33, 2.68, 3.52, 5.38, 2.60, 3.53, 2.54, 4.75, 3.98, 2.69, 3.34, 3.17}
)

// drumExclusionThreshold keeps percussive tracks out of the pitch
// histogram.
const drumExclusionThreshold = 0.5

// KeyDetector estimates a song's key from a duration-weighted
// pitch-class histogram correlated against all 24 K-S profiles.
type KeyDetector struct{}

// NewKeyDetector creates a key detector.
func NewKeyDetector() *KeyDetector { return &KeyDetector{} }

// DetectSong estimates the global key. Tracks with drum likeness above
// 0.5 are excluded. Stability is measured by re-running the detection
// on quartile-sized windows and counting agreement with the global
// choice.
func (d *KeyDetector) DetectSong(song *model.Song) model.KeyEstimate {
	notes := melodicNotes(song)
	if len(notes) == 0 {
		return model.KeyEstimate{Mode: "major"}
	}

	estimate := detect(notes)

	// Stability over four windows of equal beat length.
	if song.TotalBeats > 0 {
		agreeing := 0
		windows := 0
		quarter := song.TotalBeats / 4
		for w := 0; w < 4; w++ {
			start := float64(w) * quarter
			end := start + quarter
			var windowNotes []model.NoteEvent
			for _, n := range notes {
				if n.StartBeat >= start && n.StartBeat < end {
					windowNotes = append(windowNotes, n)
				}
			}
			if len(windowNotes) == 0 {
				continue
			}
			windows++
			local := detect(windowNotes)
			if local.Tonic == estimate.Tonic && local.Mode == estimate.Mode {
				agreeing++
			}
		}
		if windows > 0 {
			estimate.StabilitySamples = float64(agreeing) / float64(windows)
		}
	}

	return estimate
}

// Detect estimates the key of a bare note sequence.
func (d *KeyDetector) Detect(notes []model.NoteEvent) model.KeyEstimate {
	return detect(notes)
}

func detect(notes []model.NoteEvent) model.KeyEstimate {
	histogram := pitchClassHistogram(notes)

	best, second := math.Inf(-1), math.Inf(-1)
	bestTonic, bestMode := 0, "major"

	for tonic := 0; tonic < 12; tonic++ {
		for _, mode := range []string{"major", "minor"} {
			profile := majorProfile
			if mode == "minor" {
				profile = minorProfile
			}
			r := stat.Correlation(histogram, rotate(profile, tonic), nil)
			if math.IsNaN(r) {
				r = 0
			}
			if r > best {
				second = best
				best, bestTonic, bestMode = r, tonic, mode
			} else if r > second {
				second = r
			}
		}
	}

	confidence := 0.0
	if best > 0 {
		confidence = clamp01((best - second) / best)
	}

	return model.KeyEstimate{
		Tonic:      bestTonic,
		Mode:       bestMode,
		Confidence: confidence,
	}
}

// pitchClassHistogram weights each pitch class by note duration and
// normalizes to sum 1.
func pitchClassHistogram(notes []model.NoteEvent) []float64 {
	histogram := make([]float64, 12)
	total := 0.0
	for _, n := range notes {
		histogram[n.Pitch%12] += n.DurationBeats
		total += n.DurationBeats
	}
	if total > 0 {
		for i := range histogram {
			histogram[i] /= total
		}
	}
	return histogram
}

// rotate shifts a profile so index 0 lines up with the candidate
// tonic.
func rotate(profile []float64, tonic int) []float64 {
	rotated := make([]float64, 12)
	for i := 0; i < 12; i++ {
		rotated[(i+tonic)%12] = profile[i]
	}
	return rotated
}

func melodicNotes(song *model.Song) []model.NoteEvent {
	var notes []model.NoteEvent
	for _, track := range song.Tracks {
		if track.Features != nil && track.Features.DrumLikeness > drumExclusionThreshold {
			continue
		}
		if track.Channel == 9 {
			continue
		}
		notes = append(notes, track.Notes...)
	}
	model.SortNotes(notes)
	return notes
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
