package model

import (
	"math"
	"sort"
	"strconv"
)

// Role is a musical role a track can play in an arrangement.
type Role string

const (
	RoleDrums  Role = "drums"
	RoleBass   Role = "bass"
	RoleChords Role = "chords"
	RolePad    Role = "pad"
	RoleLead   Role = "lead"
	RoleArp    Role = "arp"
	RoleOther  Role = "other"
)

// Roles lists all roles in their fixed canonical order. Every consumer
// that iterates role probabilities uses this order so results are
// deterministic.
var Roles = []Role{RoleDrums, RoleBass, RoleChords, RolePad, RoleLead, RoleArp, RoleOther}

// RoleProbs is a probability distribution over track roles.
// The values sum to 1.0 within 1e-6.
type RoleProbs map[Role]float64

// Primary returns the role with the highest probability. Ties break on
// canonical role order.
func (rp RoleProbs) Primary() Role {
	best := RoleOther
	bestProb := math.Inf(-1)
	for _, role := range Roles {
		if p := rp[role]; p > bestProb {
			bestProb = p
			best = role
		}
	}
	return best
}

// NoteEvent is a single note with beat-domain timing.
type NoteEvent struct {
	StartBeat     float64
	DurationBeats float64
	Pitch         int // 0..127
	Velocity      int // 1..127; velocity-0 note-ons are dropped during normalization
	Channel       int // 0..15
}

// EndBeat returns the beat at which the note stops sounding.
func (n NoteEvent) EndBeat() float64 {
	return n.StartBeat + n.DurationBeats
}

// TempoSegment is one entry of the tempo map. Segments are sorted by
// StartBeat and non-overlapping; each is in effect until the next.
type TempoSegment struct {
	StartBeat              float64
	MicrosecondsPerQuarter int
}

// BPM returns the segment tempo in beats per minute.
func (t TempoSegment) BPM() float64 {
	if t.MicrosecondsPerQuarter <= 0 {
		return 120
	}
	return 60e6 / float64(t.MicrosecondsPerQuarter)
}

// TimeSigSegment is one entry of the time-signature map. Segments are
// sorted by StartBar and in effect until the next.
type TimeSigSegment struct {
	StartBar    int
	StartBeat   float64
	Numerator   int
	Denominator int
}

// BeatsPerBar returns the bar length in quarter-note beats.
func (ts TimeSigSegment) BeatsPerBar() float64 {
	if ts.Denominator == 0 {
		return 4
	}
	return float64(ts.Numerator) * 4 / float64(ts.Denominator)
}

// Meter returns the "num/denom" form used to bucket patterns.
func (ts TimeSigSegment) Meter() string {
	return strconv.Itoa(ts.Numerator) + "/" + strconv.Itoa(ts.Denominator)
}

// Features are the per-track scalar descriptors fed to the role
// classifier. All values are finite; non-negative where the quantity
// is a count or ratio.
type Features struct {
	OnsetCount        int
	Density           float64 // onsets per bar
	PolyphonyRatio    float64
	PitchRange        int
	MedianPitch       float64
	Syncopation       float64
	Repetition        float64
	DrumLikeness      float64
	OnsetIQR          float64
	MeanDuration      float64
	MedianDuration    float64
	DownbeatRatio     float64
	BrokenChordRatio  float64
	PitchClassEntropy float64
}

// Track is one normalized MIDI track.
type Track struct {
	TrackID   int
	SongID    string
	Name      string
	Channel   int
	Notes     []NoteEvent
	Features  *Features
	RoleProbs RoleProbs
}

// HasRole reports whether the track's probability for role meets the
// threshold downstream stages branch on.
func (t *Track) HasRole(role Role, threshold float64) bool {
	if t.RoleProbs == nil {
		return false
	}
	return t.RoleProbs[role] >= threshold
}

// Metadata carries resolved artist/title plus enrichment tags.
type Metadata struct {
	Artist      string
	Title       string
	Source      string
	Confidence  float64
	Genres      []string
	Tags        []string
	RecordingID string
}

// Song is the immutable per-file analysis unit. TempoMap and
// TimeSigMap cover [0, TotalBeats] with no gaps; both begin at 0.
type Song struct {
	SongID          string
	SourcePath      string
	TicksPerQuarter int
	TempoMap        []TempoSegment
	TimeSigMap      []TimeSigSegment
	Tracks          []*Track
	TotalBeats      float64
	TotalBars       int
	Metadata        Metadata
	Warnings        WarningCounts
}

// WarningCounts tallies events dropped or repaired during
// normalization. Non-zero counts downgrade analysis_status to partial.
type WarningCounts struct {
	UnmatchedNoteOns int
	ZeroDuration     int
	VelocityZero     int
}

// Any reports whether normalization produced any warnings.
func (w WarningCounts) Any() bool {
	return w.UnmatchedNoteOns > 0 || w.ZeroDuration > 0 || w.VelocityZero > 0
}

// TimeSigAt returns the time-signature segment in effect at bar.
func (s *Song) TimeSigAt(bar int) TimeSigSegment {
	if len(s.TimeSigMap) == 0 {
		return TimeSigSegment{Numerator: 4, Denominator: 4}
	}
	active := s.TimeSigMap[0]
	for _, ts := range s.TimeSigMap {
		if ts.StartBar <= bar {
			active = ts
		} else {
			break
		}
	}
	return active
}

// TempoAt returns the tempo segment in effect at beat.
func (s *Song) TempoAt(beat float64) TempoSegment {
	if len(s.TempoMap) == 0 {
		return TempoSegment{MicrosecondsPerQuarter: 500000}
	}
	active := s.TempoMap[0]
	for _, t := range s.TempoMap {
		if t.StartBeat <= beat {
			active = t
		} else {
			break
		}
	}
	return active
}

// BarStartBeat returns the beat position at which bar begins, walking
// the time-signature map across meter changes.
func (s *Song) BarStartBeat(bar int) float64 {
	if len(s.TimeSigMap) == 0 {
		return float64(bar) * 4
	}
	active := s.TimeSigMap[0]
	for _, ts := range s.TimeSigMap {
		if ts.StartBar <= bar {
			active = ts
		} else {
			break
		}
	}
	return active.StartBeat + float64(bar-active.StartBar)*active.BeatsPerBar()
}

// BarIndex returns the bar containing beat and the beat offset within
// that bar.
func (s *Song) BarIndex(beat float64) (bar int, beatInBar float64) {
	if len(s.TimeSigMap) == 0 {
		bar = int(beat / 4)
		return bar, beat - float64(bar)*4
	}
	active := s.TimeSigMap[0]
	for _, ts := range s.TimeSigMap {
		if ts.StartBeat <= beat {
			active = ts
		} else {
			break
		}
	}
	since := beat - active.StartBeat
	bpb := active.BeatsPerBar()
	barsSince := int(since / bpb)
	return active.StartBar + barsSince, since - float64(barsSince)*bpb
}

// StepIndex quantizes an onset at beat to a grid step within its bar.
// Raw timing is retained on the NoteEvent; this is the grid view.
func (s *Song) StepIndex(beat float64, stepsPerBar int) (bar int, step int) {
	bar, beatInBar := s.BarIndex(beat)
	bpb := s.TimeSigAt(bar).BeatsPerBar()
	beatsPerStep := bpb / float64(stepsPerBar)
	step = int(math.Round(beatInBar / beatsPerStep))
	if step >= stepsPerBar {
		step = stepsPerBar - 1
	}
	if step < 0 {
		step = 0
	}
	return bar, step
}

// KeyEstimate is the detected global key.
type KeyEstimate struct {
	Tonic            int    // 0..11, 0 = C
	Mode             string // "major" or "minor"
	Confidence       float64
	StabilitySamples float64
}

// PitchClassNames maps pitch classes 0..11 to note names.
var PitchClassNames = [12]string{"C", "C#", "D", "D#", "E", "F", "F#", "G", "G#", "A", "A#", "B"}

// Name returns e.g. "C major".
func (k KeyEstimate) Name() string {
	return PitchClassNames[k.Tonic%12] + " " + k.Mode
}

// ChordEvent is one chord on the smoothed timeline. Events are
// non-overlapping and gap-free over the covered span.
type ChordEvent struct {
	StartBeat  float64
	EndBeat    float64
	Root       int // 0..11
	Quality    string
	Roman      string
	Confidence float64
}

// Section is one contiguous span of bars with a form label.
type Section struct {
	StartBar       int
	EndBar         int    // exclusive
	FormLabel      string // A, B, C...
	TypeHint       string // intro, verse, chorus, bridge, outro, unknown
	TypeConfidence float64
}

// AnalysisStatus is the user-visible per-song outcome.
type AnalysisStatus string

const (
	StatusOK      AnalysisStatus = "ok"
	StatusPartial AnalysisStatus = "partial"
	StatusFailed  AnalysisStatus = "failed"
)

// SortNotes orders notes by start beat, then pitch, then channel.
// Stable orderings keep every downstream hash deterministic.
func SortNotes(notes []NoteEvent) {
	sort.SliceStable(notes, func(i, j int) bool {
		if notes[i].StartBeat != notes[j].StartBeat {
			return notes[i].StartBeat < notes[j].StartBeat
		}
		if notes[i].Pitch != notes[j].Pitch {
			return notes[i].Pitch < notes[j].Pitch
		}
		return notes[i].Channel < notes[j].Channel
	})
}
