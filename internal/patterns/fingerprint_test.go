package patterns

import (
	"bytes"
	"math/bits"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gramster/midi-analyzer/internal/model"
)

func chunkOf(lengthBars int, notes ...model.NoteEvent) *model.Chunk {
	return &model.Chunk{
		TrackID:         0,
		SongID:          "song",
		StartBar:        0,
		LengthBars:      lengthBars,
		GridStepsPerBar: 16,
		BeatsPerBar:     4,
		Meter:           "4/4",
		Notes:           notes,
	}
}

func note(startBeat float64, pitch int) model.NoteEvent {
	return model.NoteEvent{StartBeat: startBeat, DurationBeats: 0.25, Pitch: pitch, Velocity: 100}
}

func popcount(data []byte) int {
	total := 0
	for _, b := range data {
		total += bits.OnesCount8(b)
	}
	return total
}

func TestFingerprintDeterministic(t *testing.T) {
	f := NewFingerprinter(FingerprintConfig{})
	chunk := chunkOf(1, note(0, 60), note(1, 64), note(2, 67))

	fp1 := f.Fingerprint(chunk)
	fp2 := f.Fingerprint(chunk)

	assert.True(t, bytes.Equal(fp1.RhythmFP, fp2.RhythmFP))
	assert.True(t, bytes.Equal(fp1.PitchFP, fp2.PitchFP))
	assert.True(t, bytes.Equal(fp1.ComboFP, fp2.ComboFP))
	assert.Equal(t, PatternID(fp1), PatternID(fp2))
	assert.Len(t, PatternID(fp1), 12)
}

func TestRhythmBitLength(t *testing.T) {
	f := NewFingerprinter(FingerprintConfig{})
	for _, lengthBars := range []int{1, 2, 4} {
		fp := f.Fingerprint(chunkOf(lengthBars, note(0, 60)))
		assert.Equal(t, lengthBars*16, fp.TotalBits)
		assert.Len(t, fp.RhythmBits, lengthBars*16/8)
	}
}

func TestSingleNoteFingerprint(t *testing.T) {
	f := NewFingerprinter(FingerprintConfig{})
	fp := f.Fingerprint(chunkOf(1, note(0, 60)))

	assert.Equal(t, 1, popcount(fp.RhythmBits))
	assert.Equal(t, []int8{0}, fp.Intervals)
}

func TestTranspositionInvariantPitchFP(t *testing.T) {
	f := NewFingerprinter(FingerprintConfig{})

	// C major arpeggio: C4 E4 G4 C5 G4 E4 at sixteenth rate.
	cMajor := chunkOf(1,
		note(0, 60), note(0.25, 64), note(0.5, 67),
		note(0.75, 72), note(1.0, 67), note(1.25, 64))
	// The same shape in D.
	dMajor := chunkOf(1,
		note(0, 62), note(0.25, 66), note(0.5, 69),
		note(0.75, 74), note(1.0, 69), note(1.25, 66))

	fpC := f.Fingerprint(cMajor)
	fpD := f.Fingerprint(dMajor)

	assert.Equal(t, []int8{0, 4, 7, 12, 7, 4}, fpC.Intervals)
	assert.True(t, bytes.Equal(fpC.PitchFP, fpD.PitchFP))
	// Same rhythm too, so the combined id matches.
	assert.Equal(t, PatternID(fpC), PatternID(fpD))
}

func TestFourOnFloorRhythmBits(t *testing.T) {
	f := NewFingerprinter(FingerprintConfig{})
	chunk := chunkOf(1, note(0, 36), note(1, 36), note(2, 36), note(3, 36))

	fp := f.Fingerprint(chunk)
	for _, step := range []int{0, 4, 8, 12} {
		assert.NotZero(t, fp.RhythmBits[step/8]&(1<<(step%8)), "step %d should be set", step)
	}
	assert.Equal(t, 4, popcount(fp.RhythmBits))
}

func TestQuantizeOnGridIsNoOp(t *testing.T) {
	// Onsets already on the grid land exactly on their step.
	for step := 0; step < 16; step++ {
		got := quantizeStep(float64(step)*0.25, 4, 16, 16)
		assert.Equal(t, step, got)
	}
}

func TestWeightedVariantDiffersFromBinary(t *testing.T) {
	chunk := chunkOf(1, note(0, 60), note(1, 64))

	binary := NewFingerprinter(FingerprintConfig{}).Fingerprint(chunk)
	weighted := NewFingerprinter(FingerprintConfig{WeightedRhythm: true}).Fingerprint(chunk)

	assert.False(t, bytes.Equal(binary.RhythmFP, weighted.RhythmFP))
	assert.True(t, bytes.Equal(binary.PitchFP, weighted.PitchFP))
}

func TestIntervalClamping(t *testing.T) {
	f := NewFingerprinter(FingerprintConfig{})
	fp := f.Fingerprint(chunkOf(1, note(0, 0), note(0.25, 127)))

	require.Len(t, fp.Intervals, 2)
	assert.Equal(t, int8(63), fp.Intervals[1])
}

func TestShapeDescriptors(t *testing.T) {
	chunk := chunkOf(1, note(0, 60), note(0.25, 64), note(0.5, 62))
	shape := ShapeOf(chunk)

	assert.Equal(t, 3, shape.OnsetCount)
	assert.InDelta(t, 3.0/16, shape.Density, 1e-9)
	assert.Equal(t, []int{1, -1}, shape.Contour)
	assert.InDelta(t, 100.0/127, shape.AccentProfile[0], 1e-9)
}
