package patterns

import (
	"crypto/sha256"
	"encoding/hex"
	"math"

	"github.com/gramster/midi-analyzer/internal/model"
)

// rhythmModeWeighted leads the hashed payload of velocity-weighted
// rhythm fingerprints so they can never collide with binary ones.
const rhythmModeWeighted = 0x01

// FingerprintConfig selects the rhythm encoding. Binary is the
// default and the identity-bearing mode for this library; the
// weighted variant keeps velocity buckets (soft < 64, med < 96, loud)
// at 2 bits per step and produces deliberately distinct hashes.
type FingerprintConfig struct {
	WeightedRhythm bool
}

// Fingerprinter derives the canonical content hashes of chunks.
type Fingerprinter struct {
	config FingerprintConfig
}

// NewFingerprinter creates a fingerprinter.
func NewFingerprinter(config FingerprintConfig) *Fingerprinter {
	return &Fingerprinter{config: config}
}

// Fingerprint computes rhythm, pitch, and combined hashes for a chunk.
// Identical normalized chunks always produce byte-identical hashes.
func (f *Fingerprinter) Fingerprint(chunk *model.Chunk) *model.Fingerprint {
	fp := &model.Fingerprint{}

	totalSteps := chunk.LengthBars * chunk.GridStepsPerBar
	fp.TotalBits = totalSteps
	fp.RhythmBits = f.onsetBitset(chunk, totalSteps)

	// The hashed payload is the bitset preceded by (length_bars,
	// grid_steps_per_bar); the weighted mode prepends a mode byte so
	// its hashes live in a separate domain from binary ones.
	header := []byte{byte(chunk.LengthBars), byte(chunk.GridStepsPerBar)}
	payload := append(header, fp.RhythmBits...)
	if f.config.WeightedRhythm {
		packed := f.weightedBitset(chunk, totalSteps)
		payload = append([]byte{rhythmModeWeighted}, append(header, packed...)...)
	}
	rhythmSum := sha256.Sum256(payload)
	fp.RhythmFP = rhythmSum[:]

	fp.Intervals = intervalSequence(chunk.Notes)
	pitchBytes := make([]byte, len(fp.Intervals))
	for i, iv := range fp.Intervals {
		pitchBytes[i] = byte(iv)
	}
	pitchSum := sha256.Sum256(pitchBytes)
	fp.PitchFP = pitchSum[:]

	comboSum := sha256.Sum256(append(append([]byte{}, fp.RhythmFP...), fp.PitchFP...))
	fp.ComboFP = comboSum[:]

	return fp
}

// PatternID is the first 12 hex chars of the combined fingerprint.
func PatternID(fp *model.Fingerprint) string {
	return hex.EncodeToString(fp.ComboFP)[:12]
}

// onsetBitset marks each grid step holding at least one onset.
func (f *Fingerprinter) onsetBitset(chunk *model.Chunk, totalSteps int) []byte {
	bits := make([]byte, (totalSteps+7)/8)
	for _, n := range chunk.Notes {
		step := quantizeStep(n.StartBeat, chunk.BeatsPerBar, chunk.GridStepsPerBar, totalSteps)
		bits[step/8] |= 1 << (step % 8)
	}
	return bits
}

// weightedBitset encodes velocity buckets at 2 bits per step, keeping
// the loudest bucket when several onsets share a step.
func (f *Fingerprinter) weightedBitset(chunk *model.Chunk, totalSteps int) []byte {
	buckets := make([]byte, totalSteps)
	for _, n := range chunk.Notes {
		step := quantizeStep(n.StartBeat, chunk.BeatsPerBar, chunk.GridStepsPerBar, totalSteps)
		var bucket byte
		switch {
		case n.Velocity < 64:
			bucket = 1
		case n.Velocity < 96:
			bucket = 2
		default:
			bucket = 3
		}
		if bucket > buckets[step] {
			buckets[step] = bucket
		}
	}

	packed := make([]byte, (totalSteps*2+7)/8)
	for step, bucket := range buckets {
		packed[step/4] |= bucket << ((step % 4) * 2)
	}
	return packed
}

func quantizeStep(localBeat, beatsPerBar float64, stepsPerBar, totalSteps int) int {
	beatsPerStep := beatsPerBar / float64(stepsPerBar)
	step := int(math.Round(localBeat / beatsPerStep))
	if step < 0 {
		step = 0
	}
	if step >= totalSteps {
		step = totalSteps - 1
	}
	return step
}

// intervalSequence encodes each onset's offset from the first onset,
// clamped to the signed-byte range. Rests are not encoded, making the
// sequence a transposition-invariant melodic shape.
func intervalSequence(notes []model.NoteEvent) []int8 {
	if len(notes) == 0 {
		return nil
	}
	first := notes[0].Pitch
	intervals := make([]int8, len(notes))
	for i, n := range notes {
		iv := n.Pitch - first
		if iv < -64 {
			iv = -64
		}
		if iv > 63 {
			iv = 63
		}
		intervals[i] = int8(iv)
	}
	return intervals
}

// ShapeOf computes the stored-but-not-hashed chunk descriptors.
func ShapeOf(chunk *model.Chunk) model.Shape {
	totalSteps := chunk.LengthBars * chunk.GridStepsPerBar
	shape := model.Shape{
		OnsetCount: len(chunk.Notes),
		Density:    float64(len(chunk.Notes)) / float64(totalSteps),
	}

	velocitySum := make([]float64, totalSteps)
	velocityCount := make([]int, totalSteps)
	for _, n := range chunk.Notes {
		step := quantizeStep(n.StartBeat, chunk.BeatsPerBar, chunk.GridStepsPerBar, totalSteps)
		velocitySum[step] += float64(n.Velocity) / 127
		velocityCount[step]++
	}
	shape.AccentProfile = make([]float64, totalSteps)
	for i := range velocitySum {
		if velocityCount[i] > 0 {
			shape.AccentProfile[i] = velocitySum[i] / float64(velocityCount[i])
		}
	}

	for i := 1; i < len(chunk.Notes); i++ {
		delta := chunk.Notes[i].Pitch - chunk.Notes[i-1].Pitch
		switch {
		case delta > 0:
			shape.Contour = append(shape.Contour, 1)
		case delta < 0:
			shape.Contour = append(shape.Contour, -1)
		default:
			shape.Contour = append(shape.Contour, 0)
		}
	}
	return shape
}
