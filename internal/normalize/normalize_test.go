package normalize

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gramster/midi-analyzer/internal/smf"
)

func events(evs ...smf.Event) smf.TrackChunk {
	return smf.TrackChunk{Events: evs}
}

func noteOn(tick, pitch, velocity int) smf.Event {
	return smf.Event{Type: smf.EventNoteOn, Tick: tick, Pitch: pitch, Velocity: velocity}
}

func noteOff(tick, pitch int) smf.Event {
	return smf.Event{Type: smf.EventNoteOff, Tick: tick, Pitch: pitch}
}

func TestNormalizePairsNotes(t *testing.T) {
	file := &smf.File{
		Format:          0,
		TicksPerQuarter: 480,
		Tracks: []smf.TrackChunk{events(
			noteOn(0, 60, 100),
			noteOff(480, 60),
			noteOn(480, 64, 90),
			noteOff(960, 64),
		)},
	}

	song := New(16).Normalize(file, "test.mid", "abc123")
	require.Len(t, song.Tracks, 1)
	notes := song.Tracks[0].Notes
	require.Len(t, notes, 2)

	assert.Equal(t, 0.0, notes[0].StartBeat)
	assert.Equal(t, 1.0, notes[0].DurationBeats)
	assert.Equal(t, 60, notes[0].Pitch)
	assert.Equal(t, 1.0, notes[1].StartBeat)
	assert.Equal(t, 2.0, song.TotalBeats)
	assert.False(t, song.Warnings.Any())
}

func TestNormalizeVelocityZeroIsNoteOff(t *testing.T) {
	file := &smf.File{
		TicksPerQuarter: 480,
		Tracks: []smf.TrackChunk{events(
			noteOn(0, 60, 100),
			noteOn(240, 60, 0), // note-off by convention
		)},
	}

	song := New(16).Normalize(file, "test.mid", "abc123")
	require.Len(t, song.Tracks, 1)
	require.Len(t, song.Tracks[0].Notes, 1)
	assert.Equal(t, 0.5, song.Tracks[0].Notes[0].DurationBeats)
}

func TestNormalizeDropsUnmatchedAndZeroDuration(t *testing.T) {
	file := &smf.File{
		TicksPerQuarter: 480,
		Tracks: []smf.TrackChunk{events(
			noteOn(0, 60, 100), // never released
			noteOn(0, 62, 100),
			noteOff(0, 62), // zero duration
			noteOn(0, 64, 100),
			noteOff(480, 64),
		)},
	}

	song := New(16).Normalize(file, "test.mid", "abc123")
	require.Len(t, song.Tracks, 1)
	assert.Len(t, song.Tracks[0].Notes, 1)
	assert.Equal(t, 1, song.Warnings.UnmatchedNoteOns)
	assert.Equal(t, 1, song.Warnings.ZeroDuration)
	assert.True(t, song.Warnings.Any())
}

func TestNormalizeDefaultMaps(t *testing.T) {
	file := &smf.File{
		TicksPerQuarter: 480,
		Tracks: []smf.TrackChunk{events(
			noteOn(0, 60, 100),
			noteOff(480*8, 60),
		)},
	}

	song := New(16).Normalize(file, "test.mid", "abc123")
	require.Len(t, song.TempoMap, 1)
	assert.Equal(t, DefaultTempo, song.TempoMap[0].MicrosecondsPerQuarter)
	require.Len(t, song.TimeSigMap, 1)
	assert.Equal(t, 4, song.TimeSigMap[0].Numerator)
	assert.Equal(t, 4, song.TimeSigMap[0].Denominator)
	assert.Equal(t, 2, song.TotalBars)
}

func TestNormalizeNonFourFourBars(t *testing.T) {
	file := &smf.File{
		TicksPerQuarter: 480,
		Tracks: []smf.TrackChunk{events(
			smf.Event{Type: smf.EventTimeSignature, Tick: 0, Numerator: 3, Denominator: 4},
			noteOn(0, 60, 100),
			noteOff(480*6, 60), // six beats = two 3/4 bars
		)},
	}

	song := New(16).Normalize(file, "test.mid", "abc123")
	assert.Equal(t, 2, song.TotalBars)

	bar, beatInBar := song.BarIndex(4.0)
	assert.Equal(t, 1, bar)
	assert.InDelta(t, 1.0, beatInBar, 1e-9)

	// Grid steps honor the 3-beat bar.
	bar, step := song.StepIndex(3.0, 16)
	assert.Equal(t, 1, bar)
	assert.Equal(t, 0, step)
}

func TestNormalizeTempoMapSorted(t *testing.T) {
	file := &smf.File{
		TicksPerQuarter: 480,
		Tracks: []smf.TrackChunk{events(
			smf.Event{Type: smf.EventTempo, Tick: 960, Tempo: 400000},
			smf.Event{Type: smf.EventTempo, Tick: 0, Tempo: 500000},
			noteOn(0, 60, 100),
			noteOff(480, 60),
		)},
	}

	song := New(16).Normalize(file, "test.mid", "abc123")
	require.Len(t, song.TempoMap, 2)
	assert.Equal(t, 0.0, song.TempoMap[0].StartBeat)
	assert.Equal(t, 500000, song.TempoMap[0].MicrosecondsPerQuarter)
	assert.Equal(t, 2.0, song.TempoMap[1].StartBeat)
	assert.InDelta(t, 150.0, song.TempoMap[1].BPM(), 1e-9)
}

func TestSongIDStable(t *testing.T) {
	data := []byte("the same bytes")
	assert.Equal(t, SongID(data), SongID(data))
	assert.Len(t, SongID(data), 16)
	assert.NotEqual(t, SongID(data), SongID([]byte("different bytes")))
}

func TestNormalizeEmptyTracksSkipped(t *testing.T) {
	file := &smf.File{
		TicksPerQuarter: 480,
		Tracks: []smf.TrackChunk{
			events(smf.Event{Type: smf.EventTrackName, Text: "conductor"}),
			events(noteOn(0, 36, 100), noteOff(120, 36)),
		},
	}

	song := New(16).Normalize(file, "test.mid", "abc123")
	require.Len(t, song.Tracks, 1)
	assert.Equal(t, 1, song.Tracks[0].TrackID)
}
