package harmony

import (
	"math"
	"sort"

	"github.com/gramster/midi-analyzer/internal/model"
)

// Chord qualities scored by the inferer, in fixed order. The order is
// part of the (root, quality) id space used by the median filter.
var qualities = []string{"maj", "min", "dim", "aug", "maj7", "min7", "7", "sus4"}

// chordTemplates maps quality to pitch-class intervals from the root.
var chordTemplates = map[string][]int{
	"maj":  {0, 4, 7},
	"min":  {0, 3, 7},
	"dim":  {0, 3, 6},
	"aug":  {0, 4, 8},
	"maj7": {0, 4, 7, 11},
	"min7": {0, 3, 7, 10},
	"7":    {0, 4, 7, 10},
	"sus4": {0, 5, 7},
}

// Diatonic triad families per scale degree: which (semitone offset
// from tonic, family) pairs belong to the key. Families collapse
// sevenths onto their triads.
var (
	diatonicMajor = map[int]string{0: "maj", 2: "min", 4: "min", 5: "maj", 7: "maj", 9: "min", 11: "dim"}
	diatonicMinor = map[int]string{0: "min", 2: "dim", 3: "maj", 5: "min", 7: "min", 8: "maj", 10: "maj"}
)

// Degree numerals by semitone offset from the tonic. The minor table
// follows the natural minor scale.
var (
	romanMajor = []string{"I", "bII", "II", "bIII", "III", "IV", "#IV", "V", "bVI", "VI", "bVII", "VII"}
	romanMinor = []string{"I", "bII", "II", "III", "#III", "IV", "#IV", "V", "VI", "#VI", "VII", "#VII"}
)

const (
	diatonicPenalty     = 0.25
	nonChordTonePenalty = 0.5
	mergeConfidence     = 0.2
)

// ChordConfig tunes the inference windows.
type ChordConfig struct {
	// WindowBars is the analysis window as a fraction of a bar.
	// Default 0.5 (half-bar windows).
	WindowBars float64
	// MinPitchClasses gates windows too thin to name a chord.
	MinPitchClasses int
}

// DefaultChordConfig returns the default half-bar windows.
func DefaultChordConfig() ChordConfig {
	return ChordConfig{WindowBars: 0.5, MinPitchClasses: 2}
}

// ChordInferer scores chord candidates per window and smooths the
// resulting timeline.
type ChordInferer struct {
	config ChordConfig
}

// NewChordInferer creates a chord inferer.
func NewChordInferer(config ChordConfig) *ChordInferer {
	if config.WindowBars <= 0 {
		config.WindowBars = 0.5
	}
	if config.MinPitchClasses <= 0 {
		config.MinPitchClasses = 2
	}
	return &ChordInferer{config: config}
}

// InferSong infers the chord timeline from all non-drum tracks.
func (ci *ChordInferer) InferSong(song *model.Song, key model.KeyEstimate) []model.ChordEvent {
	notes := melodicNotes(song)
	if len(notes) == 0 {
		return nil
	}
	return ci.Infer(song, notes, key)
}

// Infer runs windowed scoring plus temporal smoothing over the given
// notes. Windows walk the song in WindowBars fractions of the active
// bar length, so meter changes keep windows bar-aligned.
func (ci *ChordInferer) Infer(song *model.Song, notes []model.NoteEvent, key model.KeyEstimate) []model.ChordEvent {
	var raw []model.ChordEvent

	for bar := 0; bar < song.TotalBars; bar++ {
		barStart := song.BarStartBeat(bar)
		beatsPerBar := song.TimeSigAt(bar).BeatsPerBar()
		windowLen := beatsPerBar * ci.config.WindowBars
		if windowLen <= 0 {
			continue
		}
		for start := barStart; start < barStart+beatsPerBar-1e-9; start += windowLen {
			end := start + windowLen
			weights := pitchClassWeights(notes, start, end)
			if len(weights) < ci.config.MinPitchClasses {
				continue
			}
			root, quality, confidence := scoreWindow(weights, key)
			raw = append(raw, model.ChordEvent{
				StartBeat:  start,
				EndBeat:    end,
				Root:       root,
				Quality:    quality,
				Confidence: confidence,
			})
		}
	}

	smoothed := medianFilter(raw)
	merged := mergeTimeline(smoothed)
	for i := range merged {
		merged[i].Roman = RomanNumeral(merged[i].Root, merged[i].Quality, key)
	}
	return merged
}

// pitchClassWeights sums the overlap duration of each sounding pitch
// class with the window.
func pitchClassWeights(notes []model.NoteEvent, start, end float64) map[int]float64 {
	weights := make(map[int]float64)
	for _, n := range notes {
		if n.StartBeat >= end || n.EndBeat() <= start {
			continue
		}
		overlap := math.Min(n.EndBeat(), end) - math.Max(n.StartBeat, start)
		if overlap > 0 {
			weights[n.Pitch%12] += overlap
		}
	}
	return weights
}

// scoreWindow picks the best (root, quality) candidate for a window.
func scoreWindow(weights map[int]float64, key model.KeyEstimate) (root int, quality string, confidence float64) {
	best, second := math.Inf(-1), math.Inf(-1)
	bestRoot, bestQuality := 0, "maj"

	for candidateRoot := 0; candidateRoot < 12; candidateRoot++ {
		for _, candidateQuality := range qualities {
			score := scoreCandidate(weights, candidateRoot, candidateQuality, key)
			if score > best {
				second = best
				best, bestRoot, bestQuality = score, candidateRoot, candidateQuality
			} else if score > second {
				second = score
			}
		}
	}

	if best > 0 {
		confidence = clamp01((best - second) / best)
	}
	return bestRoot, bestQuality, confidence
}

func scoreCandidate(weights map[int]float64, root int, quality string, key model.KeyEstimate) float64 {
	template := chordTemplates[quality]
	inTemplate := make(map[int]bool, len(template))
	for _, interval := range template {
		inTemplate[(root+interval)%12] = true
	}

	score := 0.0
	for pc, weight := range weights {
		if inTemplate[pc] {
			score += weight
		} else {
			score -= nonChordTonePenalty * weight
		}
	}
	if !isDiatonic(root, quality, key) {
		score -= diatonicPenalty
	}
	// Normalized per template tone, so a seventh chord only beats its
	// embedded triad when the seventh actually sounds.
	return score / float64(len(template))
}

func isDiatonic(root int, quality string, key model.KeyEstimate) bool {
	degree := ((root-key.Tonic)%12 + 12) % 12
	diatonic := diatonicMajor
	if key.Mode == "minor" {
		diatonic = diatonicMinor
	}
	family, ok := diatonic[degree]
	if !ok {
		return false
	}
	switch quality {
	case "maj", "maj7", "sus4":
		return family == "maj"
	case "7":
		// Dominant sevenths are diatonic on the major-family degrees,
		// most importantly V.
		return family == "maj"
	case "min", "min7":
		return family == "min"
	case "dim":
		return family == "dim"
	default:
		return false
	}
}

// chordID folds (root, quality) into one comparable id for the median
// filter.
func chordID(root int, quality string) int {
	for i, q := range qualities {
		if q == quality {
			return root*len(qualities) + i
		}
	}
	return root * len(qualities)
}

func chordFromID(id int) (root int, quality string) {
	return id / len(qualities), qualities[id%len(qualities)]
}

// medianFilter runs a 3-window median over (root, quality) ids,
// suppressing one-window blips.
func medianFilter(events []model.ChordEvent) []model.ChordEvent {
	if len(events) < 3 {
		return events
	}
	filtered := make([]model.ChordEvent, len(events))
	copy(filtered, events)
	for i := 1; i < len(events)-1; i++ {
		ids := []int{
			chordID(events[i-1].Root, events[i-1].Quality),
			chordID(events[i].Root, events[i].Quality),
			chordID(events[i+1].Root, events[i+1].Quality),
		}
		sort.Ints(ids)
		root, quality := chordFromID(ids[1])
		filtered[i].Root = root
		filtered[i].Quality = quality
	}
	return filtered
}

// mergeTimeline merges adjacent identical chords and folds
// low-confidence events into their strongest neighbor.
func mergeTimeline(events []model.ChordEvent) []model.ChordEvent {
	if len(events) == 0 {
		return events
	}

	// First pass: merge identical neighbors.
	var merged []model.ChordEvent
	for _, ev := range events {
		if len(merged) > 0 {
			last := &merged[len(merged)-1]
			if last.Root == ev.Root && last.Quality == ev.Quality && math.Abs(last.EndBeat-ev.StartBeat) < 1e-9 {
				last.EndBeat = ev.EndBeat
				if ev.Confidence > last.Confidence {
					last.Confidence = ev.Confidence
				}
				continue
			}
		}
		merged = append(merged, ev)
	}

	// Second pass: absorb weak events into the higher-confidence
	// neighbor.
	var out []model.ChordEvent
	for i := 0; i < len(merged); i++ {
		ev := merged[i]
		if ev.Confidence >= mergeConfidence || len(merged) == 1 {
			out = append(out, ev)
			continue
		}
		prevConf := math.Inf(-1)
		if len(out) > 0 {
			prevConf = out[len(out)-1].Confidence
		}
		nextConf := math.Inf(-1)
		if i+1 < len(merged) {
			nextConf = merged[i+1].Confidence
		}
		if prevConf >= nextConf && len(out) > 0 {
			out[len(out)-1].EndBeat = ev.EndBeat
		} else if i+1 < len(merged) {
			merged[i+1].StartBeat = ev.StartBeat
		} else {
			out = append(out, ev)
		}
	}
	return out
}

// RomanNumeral labels a chord relative to the key. Minor and
// diminished qualities lowercase the numeral; sevenths and altered
// triads carry suffixes.
func RomanNumeral(root int, quality string, key model.KeyEstimate) string {
	degree := ((root-key.Tonic)%12 + 12) % 12
	table := romanMajor
	if key.Mode == "minor" {
		table = romanMinor
	}
	numeral := table[degree]

	switch quality {
	case "min", "min7", "dim":
		numeral = toLower(numeral)
	}
	switch quality {
	case "dim":
		numeral += "°"
	case "aug":
		numeral += "+"
	case "maj7":
		numeral += "maj7"
	case "min7", "7":
		numeral += "7"
	case "sus4":
		numeral += "sus4"
	}
	return numeral
}

func toLower(numeral string) string {
	out := make([]rune, 0, len(numeral))
	for _, r := range numeral {
		if r >= 'A' && r <= 'Z' {
			r += 'a' - 'A'
		}
		out = append(out, r)
	}
	return string(out)
}
