package harmony

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gramster/midi-analyzer/internal/model"
)

// scaleNotes lays out one octave of a scale as quarter notes.
func scaleNotes(root int, intervals []int, repeats int) []model.NoteEvent {
	var notes []model.NoteEvent
	beat := 0.0
	for r := 0; r < repeats; r++ {
		for _, interval := range intervals {
			notes = append(notes, model.NoteEvent{
				StartBeat:     beat,
				DurationBeats: 1,
				Pitch:         root + interval,
				Velocity:      100,
			})
			beat++
		}
	}
	return notes
}

var (
	majorScale = []int{0, 2, 4, 5, 7, 9, 11, 12}
	minorScale = []int{0, 2, 3, 5, 7, 8, 10, 12}
)

func TestDetectCMajor(t *testing.T) {
	notes := scaleNotes(60, majorScale, 4)
	// Emphasize the tonic.
	notes = append(notes, model.NoteEvent{StartBeat: 32, DurationBeats: 4, Pitch: 60, Velocity: 100})

	key := NewKeyDetector().Detect(notes)
	assert.Equal(t, 0, key.Tonic)
	assert.Equal(t, "major", key.Mode)
	assert.Greater(t, key.Confidence, 0.0)
	assert.Equal(t, "C major", key.Name())
}

func TestDetectAMinor(t *testing.T) {
	notes := scaleNotes(57, minorScale, 4)
	notes = append(notes, model.NoteEvent{StartBeat: 32, DurationBeats: 4, Pitch: 57, Velocity: 100})

	key := NewKeyDetector().Detect(notes)
	assert.Equal(t, 9, key.Tonic)
	assert.Equal(t, "minor", key.Mode)
}

func TestDetectTransposedScalesAgreeOnShape(t *testing.T) {
	for root := 0; root < 12; root++ {
		notes := scaleNotes(48+root, majorScale, 4)
		notes = append(notes, model.NoteEvent{StartBeat: 32, DurationBeats: 4, Pitch: 48 + root, Velocity: 100})
		key := NewKeyDetector().Detect(notes)
		assert.Equal(t, root, key.Tonic, "root %d", root)
		assert.Equal(t, "major", key.Mode, "root %d", root)
	}
}

func TestDetectSongExcludesDrums(t *testing.T) {
	melodic := &model.Track{
		TrackID: 0,
		Notes:   scaleNotes(60, majorScale, 4),
	}
	drums := &model.Track{
		TrackID:  1,
		Channel:  9,
		Features: &model.Features{DrumLikeness: 0.9, OnsetCount: 64},
	}
	// Heavy chromatic noise on the drum track would skew the
	// histogram if included.
	for i := 0; i < 64; i++ {
		drums.Notes = append(drums.Notes, model.NoteEvent{
			StartBeat: float64(i) * 0.5, DurationBeats: 4, Pitch: 36 + i%12, Velocity: 120, Channel: 9,
		})
	}

	song := &model.Song{
		SongID:     "song",
		TimeSigMap: []model.TimeSigSegment{{Numerator: 4, Denominator: 4}},
		Tracks:     []*model.Track{melodic, drums},
		TotalBars:  8,
		TotalBeats: 32,
	}

	key := NewKeyDetector().DetectSong(song)
	assert.Equal(t, 0, key.Tonic)
	assert.Equal(t, "major", key.Mode)
}

func TestStabilitySamplesOnUniformSong(t *testing.T) {
	track := &model.Track{TrackID: 0, Notes: scaleNotes(60, majorScale, 8)}
	song := &model.Song{
		SongID:     "song",
		TimeSigMap: []model.TimeSigSegment{{Numerator: 4, Denominator: 4}},
		Tracks:     []*model.Track{track},
		TotalBars:  16,
		TotalBeats: 64,
	}

	key := NewKeyDetector().DetectSong(song)
	require.Equal(t, 0, key.Tonic)
	// Every quartile of a uniform song agrees with the global key.
	assert.InDelta(t, 1.0, key.StabilitySamples, 1e-9)
}

func TestDetectEmpty(t *testing.T) {
	key := NewKeyDetector().Detect(nil)
	assert.Equal(t, 0.0, key.Confidence)
}
