package analysis

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gramster/midi-analyzer/internal/model"
)

// testSong wraps tracks in a 4/4 song covering bars bars.
func testSong(bars int, tracks ...*model.Track) *model.Song {
	return &model.Song{
		SongID:     "song",
		TimeSigMap: []model.TimeSigSegment{{Numerator: 4, Denominator: 4}},
		TempoMap:   []model.TempoSegment{{MicrosecondsPerQuarter: 500000}},
		Tracks:     tracks,
		TotalBars:  bars,
		TotalBeats: float64(bars) * 4,
	}
}

// fourOnFloor builds the classic drum bar: kicks on every beat, snares
// on 2 and 4, hats on eighths.
func fourOnFloor(bars int) *model.Track {
	track := &model.Track{TrackID: 0, Channel: 9}
	for bar := 0; bar < bars; bar++ {
		base := float64(bar) * 4
		for beat := 0; beat < 4; beat++ {
			track.Notes = append(track.Notes, model.NoteEvent{
				StartBeat: base + float64(beat), DurationBeats: 0.1, Pitch: 36, Velocity: 110, Channel: 9,
			})
		}
		for _, beat := range []float64{1, 3} {
			track.Notes = append(track.Notes, model.NoteEvent{
				StartBeat: base + beat, DurationBeats: 0.1, Pitch: 38, Velocity: 100, Channel: 9,
			})
		}
		for eighth := 0; eighth < 8; eighth++ {
			track.Notes = append(track.Notes, model.NoteEvent{
				StartBeat: base + float64(eighth)*0.5, DurationBeats: 0.1, Pitch: 42, Velocity: 70, Channel: 9,
			})
		}
	}
	model.SortNotes(track.Notes)
	return track
}

// arpTrack repeats a four-note broken chord at sixteenth rate.
func arpTrack(bars int) *model.Track {
	cycle := []int{60, 64, 67, 72}
	track := &model.Track{TrackID: 1, Channel: 0}
	for bar := 0; bar < bars; bar++ {
		for step := 0; step < 16; step++ {
			track.Notes = append(track.Notes, model.NoteEvent{
				StartBeat:     float64(bar)*4 + float64(step)*0.25,
				DurationBeats: 0.2,
				Pitch:         cycle[step%4],
				Velocity:      90,
			})
		}
	}
	return track
}

func TestExtractEmptyTrack(t *testing.T) {
	track := &model.Track{TrackID: 0}
	features := NewExtractor(16).Extract(testSong(0), track)
	assert.Equal(t, 0, features.OnsetCount)
	assert.Equal(t, 0.0, features.Density)
}

func TestExtractDrumFeatures(t *testing.T) {
	track := fourOnFloor(4)
	song := testSong(4, track)
	features := NewExtractor(16).Extract(song, track)

	assert.Equal(t, 56, features.OnsetCount)
	assert.InDelta(t, 14.0, features.Density, 1e-9)
	assert.Greater(t, features.DrumLikeness, 0.8)
	// Identical bars repeat perfectly.
	assert.InDelta(t, 1.0, features.Repetition, 1e-9)
	// All values finite.
	assert.False(t, math.IsNaN(features.Syncopation))
	assert.False(t, math.IsInf(features.OnsetIQR, 0))
}

func TestExtractArpFeatures(t *testing.T) {
	track := arpTrack(4)
	song := testSong(4, track)
	features := NewExtractor(16).Extract(song, track)

	assert.InDelta(t, 16.0, features.Density, 1e-9)
	assert.InDelta(t, 1.0, features.Repetition, 1e-9)
	assert.InDelta(t, 1.0, features.BrokenChordRatio, 1e-9)
	assert.Equal(t, 12, features.PitchRange)
	assert.Less(t, features.PolyphonyRatio, 0.01)
}

func TestMetricWeight(t *testing.T) {
	cases := []struct {
		beatInBar float64
		want      float64
	}{
		{0.0, 1.0},
		{2.0, 0.7},
		{1.0, 0.5},
		{3.0, 0.5},
		{0.5, 0.3},
		{2.5, 0.3},
		{0.25, 0.1},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, metricWeight(tc.beatInBar, 4.0), "beat %v", tc.beatInBar)
	}
}

func TestPolyphonyRatio(t *testing.T) {
	t.Run("Monophonic", func(t *testing.T) {
		notes := []model.NoteEvent{
			{StartBeat: 0, DurationBeats: 1, Pitch: 60},
			{StartBeat: 1, DurationBeats: 1, Pitch: 62},
		}
		assert.Equal(t, 0.0, polyphonyRatio(notes))
	})

	t.Run("SustainedTriad", func(t *testing.T) {
		notes := []model.NoteEvent{
			{StartBeat: 0, DurationBeats: 4, Pitch: 60},
			{StartBeat: 0, DurationBeats: 4, Pitch: 64},
			{StartBeat: 0, DurationBeats: 4, Pitch: 67},
		}
		assert.InDelta(t, 1.0, polyphonyRatio(notes), 1e-9)
	})
}

func TestOnsetIQRUniformTiming(t *testing.T) {
	var notes []model.NoteEvent
	for i := 0; i < 16; i++ {
		notes = append(notes, model.NoteEvent{StartBeat: float64(i) * 0.25, DurationBeats: 0.2, Pitch: 60})
	}
	assert.InDelta(t, 0.0, onsetIQR(notes), 1e-9)
}

func TestFeaturesAllFinite(t *testing.T) {
	track := arpTrack(2)
	song := testSong(2, track)
	f := NewExtractor(16).Extract(song, track)

	for name, v := range map[string]float64{
		"density":     f.Density,
		"polyphony":   f.PolyphonyRatio,
		"median":      f.MedianPitch,
		"syncopation": f.Syncopation,
		"repetition":  f.Repetition,
		"drums":       f.DrumLikeness,
		"iqr":         f.OnsetIQR,
		"meandur":     f.MeanDuration,
		"downbeat":    f.DownbeatRatio,
		"broken":      f.BrokenChordRatio,
	} {
		require.False(t, math.IsNaN(v) || math.IsInf(v, 0), "%s not finite", name)
	}
}
