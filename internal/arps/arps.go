// Package arps extracts arpeggiator descriptors from tracks whose
// role distribution marks them as arps: a rate, an interval traversal,
// octave jumps, and a gate feel, per chord window.
package arps

import (
	"fmt"
	"math"
	"sort"

	"github.com/gramster/midi-analyzer/internal/model"
)

// RateUnknown is emitted when the inter-onset intervals are too
// irregular to name a division.
const RateUnknown = "unknown"

// division is a named note rate and its length in beats.
type division struct {
	name  string
	beats float64
}

// namedDivisions in descending beat length. Triplet divisions are
// included; snapping to them is heuristic and guarded by the
// agreement threshold below.
var namedDivisions = []division{
	{"1/4", 1.0},
	{"1/8", 0.5},
	{"1/8T", 1.0 / 3},
	{"1/16", 0.25},
	{"1/16T", 1.0 / 6},
	{"1/32", 0.125},
}

// agreementMin is the fraction of IOIs that must agree with the
// snapped division for the rate to be named.
const agreementMin = 0.6

// SnapRate snaps the median inter-onset interval to the nearest named
// division. When fewer than 60% of the IOIs land within 10% of that
// division the rate is reported unknown.
func SnapRate(iois []float64) (name string, beats float64) {
	if len(iois) == 0 {
		return RateUnknown, 0
	}

	sorted := append([]float64(nil), iois...)
	sort.Float64s(sorted)
	med := sorted[len(sorted)/2]
	if len(sorted)%2 == 0 {
		med = (sorted[len(sorted)/2-1] + sorted[len(sorted)/2]) / 2
	}

	best := namedDivisions[0]
	bestDiff := math.Abs(med - best.beats)
	for _, d := range namedDivisions[1:] {
		if diff := math.Abs(med - d.beats); diff < bestDiff {
			best, bestDiff = d, diff
		}
	}

	agreeing := 0
	for _, ioi := range iois {
		if math.Abs(ioi-best.beats) <= 0.1*best.beats {
			agreeing++
		}
	}
	if float64(agreeing)/float64(len(iois)) < agreementMin {
		return RateUnknown, med
	}
	return best.name, best.beats
}

// Analyzer segments arp tracks into chord windows and extracts the
// traversal descriptors.
type Analyzer struct {
	roleThreshold float64
}

// NewAnalyzer creates an arp analyzer. Tracks are analyzed when their
// arp probability meets threshold (0.5 by default).
func NewAnalyzer(threshold float64) *Analyzer {
	if threshold <= 0 {
		threshold = 0.5
	}
	return &Analyzer{roleThreshold: threshold}
}

// AnalyzeTrack extracts arp windows for one track. Windows follow the
// chord timeline when chords are available, otherwise fixed one-bar
// windows. Returns nil for tracks below the arp threshold.
func (a *Analyzer) AnalyzeTrack(song *model.Song, track *model.Track, chords []model.ChordEvent) *model.ArpSummary {
	if !track.HasRole(model.RoleArp, a.roleThreshold) || len(track.Notes) == 0 {
		return nil
	}

	windows := chordWindows(chords)
	if len(windows) == 0 {
		windows = barWindows(song)
	}

	summary := &model.ArpSummary{TrackID: track.TrackID}
	for _, w := range windows {
		if arp, ok := analyzeWindow(track.Notes, w); ok {
			summary.Windows = append(summary.Windows, arp)
		}
	}
	if len(summary.Windows) == 0 {
		return summary
	}

	summary.DominantRate = dominantRate(summary.Windows)
	summary.MeanGate = meanGate(summary.Windows)
	summary.CommonIntervals = commonIntervals(summary.Windows)
	return summary
}

// window is a half-open beat span with an optional known root.
type window struct {
	start, end float64
	root       int
	hasRoot    bool
}

func chordWindows(chords []model.ChordEvent) []window {
	windows := make([]window, 0, len(chords))
	for _, c := range chords {
		windows = append(windows, window{start: c.StartBeat, end: c.EndBeat, root: c.Root, hasRoot: true})
	}
	return windows
}

func barWindows(song *model.Song) []window {
	windows := make([]window, 0, song.TotalBars)
	for bar := 0; bar < song.TotalBars; bar++ {
		start := song.BarStartBeat(bar)
		windows = append(windows, window{
			start: start,
			end:   start + song.TimeSigAt(bar).BeatsPerBar(),
		})
	}
	return windows
}

// analyzeWindow extracts one arp descriptor. The onset sequence is
// reduced to near-monophonic form by keeping the lowest note of any
// simultaneous onsets.
func analyzeWindow(notes []model.NoteEvent, w window) (model.ArpWindow, bool) {
	var inside []model.NoteEvent
	for _, n := range notes {
		if n.StartBeat >= w.start && n.StartBeat < w.end {
			inside = append(inside, n)
		}
	}
	if len(inside) < 3 {
		return model.ArpWindow{}, false
	}

	// Notes are sorted by (start, pitch); keep the first note at each
	// distinct onset time.
	mono := inside[:0]
	const eps = 1e-6
	for _, n := range inside {
		if len(mono) > 0 && math.Abs(n.StartBeat-mono[len(mono)-1].StartBeat) < eps {
			continue
		}
		mono = append(mono, n)
	}
	if len(mono) < 3 {
		return model.ArpWindow{}, false
	}

	root := w.root
	if !w.hasRoot {
		lowest := mono[0].Pitch
		for _, n := range mono {
			if n.Pitch < lowest {
				lowest = n.Pitch
			}
		}
		root = lowest % 12
	}

	iois := make([]float64, 0, len(mono)-1)
	for i := 1; i < len(mono); i++ {
		iois = append(iois, mono[i].StartBeat-mono[i-1].StartBeat)
	}
	rateName, rateBeats := SnapRate(iois)

	arp := model.ArpWindow{
		StartBeat: w.start,
		EndBeat:   w.end,
		Root:      root,
		Rate:      rateName,
	}

	firstOctave := mono[0].Pitch / 12
	gateSum := 0.0
	for _, n := range mono {
		arp.IntervalSequence = append(arp.IntervalSequence, ((n.Pitch-root)%12+12)%12)
		arp.OctaveJumps = append(arp.OctaveJumps, n.Pitch/12-firstOctave)
		if rateBeats > 0 {
			gateSum += n.DurationBeats / rateBeats
		}
	}
	gate := 0.5
	if rateBeats > 0 {
		gate = gateSum / float64(len(mono))
	}
	arp.Gate = math.Max(0.05, math.Min(1.0, gate))

	return arp, true
}

func dominantRate(windows []model.ArpWindow) string {
	counts := make(map[string]int)
	for _, w := range windows {
		if w.Rate == RateUnknown {
			continue
		}
		counts[w.Rate]++
	}
	names := make([]string, 0, len(counts))
	for name := range counts {
		names = append(names, name)
	}
	sort.Strings(names)
	best, bestCount := RateUnknown, 0
	for _, name := range names {
		if counts[name] > bestCount {
			best, bestCount = name, counts[name]
		}
	}
	return best
}

func meanGate(windows []model.ArpWindow) float64 {
	sum := 0.0
	for _, w := range windows {
		sum += w.Gate
	}
	return sum / float64(len(windows))
}

func commonIntervals(windows []model.ArpWindow) []int {
	counts := make(map[string]int)
	sequences := make(map[string][]int)
	for _, w := range windows {
		key := fmt.Sprint(w.IntervalSequence)
		counts[key]++
		sequences[key] = w.IntervalSequence
	}
	keys := make([]string, 0, len(counts))
	for key := range counts {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	var best string
	bestCount := 0
	for _, key := range keys {
		if counts[key] > bestCount {
			best, bestCount = key, counts[key]
		}
	}
	return sequences[best]
}
