package model

import (
	"bytes"
	"encoding/json"
)

// Chunk is a bar-aligned window of a track, the unit of fingerprinting.
// LengthBars is 1, 2, or 4; Notes carry timing local to the chunk
// start (beat 0 = first beat of StartBar).
type Chunk struct {
	TrackID         int
	SongID          string
	StartBar        int
	LengthBars      int
	GridStepsPerBar int
	BeatsPerBar     float64
	Meter           string
	Notes           []NoteEvent
}

// Fingerprint holds the three canonical content hashes of a chunk plus
// the raw material they were derived from. The raw bitset and interval
// sequence are kept for similarity computation during mining; only the
// hashes are identity-bearing.
type Fingerprint struct {
	RhythmFP []byte // SHA-256
	PitchFP  []byte // SHA-256
	ComboFP  []byte // SHA-256(RhythmFP || PitchFP)

	RhythmBits []byte // packed onset bitset, LengthBars*GridStepsPerBar bits
	TotalBits  int
	Intervals  []int8 // semitone deltas from first onset, clamped [-64,63]
}

// Shape holds the stored-but-not-hashed chunk descriptors.
type Shape struct {
	Density       float64
	AccentProfile []float64 // per-step mean velocity, 0..1
	Contour       []int     // -1 down, 0 same, 1 up
	OnsetCount    int
}

// Pattern is a canonical, deduplicated musical pattern. PatternID is
// the first 12 hex chars of the combined fingerprint.
type Pattern struct {
	PatternID      string
	Role           Role
	LengthBars     int
	Meter          string
	GridResolution int
	RhythmFP       []byte
	PitchFP        []byte
	ComboFP        []byte
	Representation json.RawMessage
	Stats          PatternStats
	Tags           []string
}

// PatternStats accumulates corpus-wide statistics for a pattern.
type PatternStats struct {
	InstanceCount int     `json:"instance_count"`
	SongCount     int     `json:"song_count"`
	Density       float64 `json:"density"`
	OnsetCount    int     `json:"onset_count"`
}

// Transform maps a canonical pattern onto one of its instances.
type Transform struct {
	PitchOffset int     `json:"pitch_offset"`
	TimeScale   float64 `json:"time_scale"`
}

// PatternInstance records one occurrence of a pattern in a track.
type PatternInstance struct {
	PatternID  string
	SongID     string
	TrackID    int
	StartBar   int
	Confidence float64
	Transform  Transform
}

// DrumHit is a single hit of a drum representation.
type DrumHit struct {
	Step  int `json:"step"`
	Pitch int `json:"pitch"`
	Vel   int `json:"vel"`
}

// DrumRepresentation is the canonical JSON form of a drum pattern.
type DrumRepresentation struct {
	StepsPerBar int       `json:"stepsPerBar"`
	Hits        []DrumHit `json:"hits"`
}

// MelodicEvent is one step of a melodic representation. Interval is
// relative to the pattern's first note, keeping the form
// transposition-independent.
type MelodicEvent struct {
	Step     int `json:"step"`
	Interval int `json:"interval"`
	Dur      int `json:"dur"` // duration in steps
}

// MelodicRepresentation is the canonical JSON form of a melodic pattern.
type MelodicRepresentation struct {
	Events []MelodicEvent `json:"events"`
}

// ArpRepresentation is the canonical JSON form of an arp pattern.
type ArpRepresentation struct {
	Rate             string  `json:"rate"`
	IntervalSequence []int   `json:"interval_sequence"`
	OctaveJumps      []int   `json:"octave_jumps"`
	Gate             float64 `json:"gate"`
}

// ArpWindow is one chord-window's worth of arp analysis.
type ArpWindow struct {
	StartBeat        float64
	EndBeat          float64
	Root             int
	Rate             string // named division, or "unknown"
	IntervalSequence []int
	OctaveJumps      []int
	Gate             float64
}

// ArpSummary aggregates a track's arp windows.
type ArpSummary struct {
	TrackID         int
	Windows         []ArpWindow
	DominantRate    string
	MeanGate        float64
	CommonIntervals []int
}

// MarshalRepresentation encodes any of the representation structs into
// the canonical JSON bytes stored on a Pattern. Object keys are written
// in sorted order at every level.
func MarshalRepresentation(rep any) (json.RawMessage, error) {
	b, err := json.Marshal(rep)
	if err != nil {
		return nil, err
	}
	// Re-encoding through a generic value makes encoding/json emit map
	// keys sorted; UseNumber keeps numbers byte-exact.
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var generic any
	if err := dec.Decode(&generic); err != nil {
		return nil, err
	}
	sorted, err := json.Marshal(generic)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(sorted), nil
}
