// Package analysis computes per-track feature vectors and maps them to
// role probability distributions.
package analysis

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/gramster/midi-analyzer/internal/model"
)

// DrumChannel is MIDI channel 10 (0-indexed 9), reserved for
// percussion in General MIDI.
const DrumChannel = 9

// Extractor computes track features against a song's timing maps.
type Extractor struct {
	gridStepsPerBar int
}

// NewExtractor creates an extractor using the song grid resolution.
func NewExtractor(gridStepsPerBar int) *Extractor {
	if gridStepsPerBar <= 0 {
		gridStepsPerBar = 16
	}
	return &Extractor{gridStepsPerBar: gridStepsPerBar}
}

// Extract computes the feature vector for one track. An empty track
// yields the zero vector; every value is finite.
func (e *Extractor) Extract(song *model.Song, track *model.Track) *model.Features {
	notes := track.Notes
	f := &model.Features{}
	if len(notes) == 0 {
		return f
	}

	f.OnsetCount = len(notes)
	totalBars := song.TotalBars
	if totalBars < 1 {
		totalBars = 1
	}
	f.Density = float64(len(notes)) / float64(totalBars)

	pitches := make([]float64, len(notes))
	durations := make([]float64, len(notes))
	minPitch, maxPitch := 127, 0
	for i, n := range notes {
		pitches[i] = float64(n.Pitch)
		durations[i] = n.DurationBeats
		if n.Pitch < minPitch {
			minPitch = n.Pitch
		}
		if n.Pitch > maxPitch {
			maxPitch = n.Pitch
		}
	}
	f.PitchRange = maxPitch - minPitch
	f.MedianPitch = median(pitches)
	f.MedianDuration = median(durations)
	f.MeanDuration = stat.Mean(durations, nil)

	f.PolyphonyRatio = polyphonyRatio(notes)
	f.Syncopation, f.DownbeatRatio = metricWeights(song, notes)
	f.Repetition = repetition(song, notes, e.gridStepsPerBar)
	f.PitchClassEntropy = pitchClassEntropy(notes)
	f.DrumLikeness = drumLikeness(track.Channel, f.MedianDuration, f.PitchClassEntropy)
	f.OnsetIQR = onsetIQR(notes)
	f.BrokenChordRatio = brokenChordRatio(notes)

	return f
}

// polyphonyRatio is the time-weighted mean of max(0, sounding-1),
// normalized by the maximum observed polyphony.
func polyphonyRatio(notes []model.NoteEvent) float64 {
	type boundary struct {
		beat  float64
		delta int
	}
	boundaries := make([]boundary, 0, len(notes)*2)
	for _, n := range notes {
		boundaries = append(boundaries, boundary{n.StartBeat, +1}, boundary{n.EndBeat(), -1})
	}
	sort.Slice(boundaries, func(i, j int) bool {
		if boundaries[i].beat != boundaries[j].beat {
			return boundaries[i].beat < boundaries[j].beat
		}
		// Offs before ons at the same instant: touching notes do not
		// count as overlapping.
		return boundaries[i].delta < boundaries[j].delta
	})

	sounding := 0
	maxSounding := 0
	weighted := 0.0
	total := 0.0
	prev := boundaries[0].beat

	for _, b := range boundaries {
		span := b.beat - prev
		if span > 0 && sounding > 0 {
			weighted += span * float64(max(0, sounding-1))
			total += span
		}
		prev = b.beat
		sounding += b.delta
		if sounding > maxSounding {
			maxSounding = sounding
		}
	}

	if total == 0 || maxSounding <= 1 {
		return 0
	}
	return weighted / total / float64(maxSounding-1)
}

// metricWeight grades a beat position within its bar: downbeat 1.0,
// half-bar 0.7, beat 0.5, half-beat 0.3, anything else 0.1.
func metricWeight(beatInBar, beatsPerBar float64) float64 {
	const eps = 1e-3
	onGrid := func(v float64) bool {
		return math.Abs(v-math.Round(v)) < eps
	}
	switch {
	case beatInBar < eps:
		return 1.0
	case math.Abs(beatInBar-beatsPerBar/2) < eps:
		return 0.7
	case onGrid(beatInBar):
		return 0.5
	case onGrid(beatInBar * 2):
		return 0.3
	default:
		return 0.1
	}
}

// metricWeights returns the syncopation score (mean 1-w over onsets)
// and the fraction of onsets landing on downbeats.
func metricWeights(song *model.Song, notes []model.NoteEvent) (syncopation, downbeatRatio float64) {
	downbeats := 0
	for _, n := range notes {
		bar, beatInBar := song.BarIndex(n.StartBeat)
		w := metricWeight(beatInBar, song.TimeSigAt(bar).BeatsPerBar())
		syncopation += 1 - w
		if w == 1.0 {
			downbeats++
		}
	}
	count := float64(len(notes))
	return syncopation / count, float64(downbeats) / count
}

// repetition is the Jaccard similarity of onset-step sets between
// adjacent bars, averaged over all adjacent pairs.
func repetition(song *model.Song, notes []model.NoteEvent, stepsPerBar int) float64 {
	barSteps := make(map[int]map[int]bool)
	minBar, maxBar := math.MaxInt32, -1
	for _, n := range notes {
		bar, step := song.StepIndex(n.StartBeat, stepsPerBar)
		if barSteps[bar] == nil {
			barSteps[bar] = make(map[int]bool)
		}
		barSteps[bar][step] = true
		if bar < minBar {
			minBar = bar
		}
		if bar > maxBar {
			maxBar = bar
		}
	}

	if maxBar <= minBar {
		return 0
	}

	sum := 0.0
	pairs := 0
	for bar := minBar; bar < maxBar; bar++ {
		sum += jaccard(barSteps[bar], barSteps[bar+1])
		pairs++
	}
	return sum / float64(pairs)
}

func jaccard(a, b map[int]bool) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1
	}
	inter := 0
	for k := range a {
		if b[k] {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

func pitchClassEntropy(notes []model.NoteEvent) float64 {
	var counts [12]float64
	for _, n := range notes {
		counts[n.Pitch%12]++
	}
	total := float64(len(notes))
	entropy := 0.0
	for _, c := range counts {
		if c > 0 {
			p := c / total
			entropy -= p * math.Log2(p)
		}
	}
	return entropy
}

func drumLikeness(channel int, medianDuration, entropy float64) float64 {
	score := 0.0
	if channel == DrumChannel {
		score += 0.5
	}
	if medianDuration < 0.25 {
		score += 0.25
	}
	score += 0.25 * (1 - entropy/math.Log2(12))
	return clamp01(score)
}

// onsetIQR is the interquartile range of inter-onset intervals, an
// expressive-timing cue.
func onsetIQR(notes []model.NoteEvent) float64 {
	if len(notes) < 3 {
		return 0
	}
	iois := make([]float64, 0, len(notes)-1)
	for i := 1; i < len(notes); i++ {
		ioi := notes[i].StartBeat - notes[i-1].StartBeat
		if ioi > 0 {
			iois = append(iois, ioi)
		}
	}
	if len(iois) < 2 {
		return 0
	}
	sort.Float64s(iois)
	q1 := stat.Quantile(0.25, stat.Empirical, iois, nil)
	q3 := stat.Quantile(0.75, stat.Empirical, iois, nil)
	return q3 - q1
}

// brokenChordRatio is the fraction of consecutive melodic intervals
// that look like chord-tone traversal (thirds through octaves), the
// signature of an arpeggiated line.
func brokenChordRatio(notes []model.NoteEvent) float64 {
	if len(notes) < 2 {
		return 0
	}
	chordLike := 0
	total := 0
	for i := 1; i < len(notes); i++ {
		interval := abs(notes[i].Pitch - notes[i-1].Pitch)
		if interval == 0 {
			continue
		}
		total++
		switch interval {
		case 3, 4, 5, 7, 8, 9, 12:
			chordLike++
		}
	}
	if total == 0 {
		return 0
	}
	return float64(chordLike) / float64(total)
}

func median(values []float64) float64 {
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	n := len(sorted)
	if n == 0 {
		return 0
	}
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
