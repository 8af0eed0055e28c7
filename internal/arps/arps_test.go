package arps

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gramster/midi-analyzer/internal/model"
)

func arpSong(bars int, cycle []int, stepBeats, gateBeats float64) *model.Song {
	track := &model.Track{
		TrackID:   0,
		RoleProbs: model.RoleProbs{model.RoleArp: 0.8},
	}
	stepsPerBar := int(4 / stepBeats)
	for bar := 0; bar < bars; bar++ {
		for step := 0; step < stepsPerBar; step++ {
			track.Notes = append(track.Notes, model.NoteEvent{
				StartBeat:     float64(bar)*4 + float64(step)*stepBeats,
				DurationBeats: gateBeats,
				Pitch:         cycle[step%len(cycle)],
				Velocity:      90,
			})
		}
	}
	return &model.Song{
		SongID:     "song",
		TimeSigMap: []model.TimeSigSegment{{Numerator: 4, Denominator: 4}},
		Tracks:     []*model.Track{track},
		TotalBars:  bars,
		TotalBeats: float64(bars) * 4,
	}
}

func TestSnapRate(t *testing.T) {
	t.Run("Sixteenths", func(t *testing.T) {
		iois := []float64{0.25, 0.25, 0.25, 0.25, 0.25}
		name, beats := SnapRate(iois)
		assert.Equal(t, "1/16", name)
		assert.Equal(t, 0.25, beats)
	})

	t.Run("EighthTriplets", func(t *testing.T) {
		third := 1.0 / 3
		iois := []float64{third, third, third, third}
		name, _ := SnapRate(iois)
		assert.Equal(t, "1/8T", name)
	})

	t.Run("IrregularIsUnknown", func(t *testing.T) {
		iois := []float64{0.25, 0.4, 0.31, 0.18, 0.5}
		name, _ := SnapRate(iois)
		assert.Equal(t, RateUnknown, name)
	})

	t.Run("Empty", func(t *testing.T) {
		name, _ := SnapRate(nil)
		assert.Equal(t, RateUnknown, name)
	})
}

func TestAnalyzeCMajorArp(t *testing.T) {
	// C4 E4 G4 C5 G4 E4 ... at sixteenth rate, over chord windows that
	// say C major.
	song := arpSong(2, []int{60, 64, 67, 72, 67, 64, 60, 64}, 0.25, 0.2)
	chords := []model.ChordEvent{
		{StartBeat: 0, EndBeat: 4, Root: 0, Quality: "maj"},
		{StartBeat: 4, EndBeat: 8, Root: 0, Quality: "maj"},
	}

	summary := NewAnalyzer(0.5).AnalyzeTrack(song, song.Tracks[0], chords)
	require.NotNil(t, summary)
	require.Len(t, summary.Windows, 2)

	w := summary.Windows[0]
	assert.Equal(t, "1/16", w.Rate)
	assert.Equal(t, 0, w.Root)
	assert.Equal(t, []int{0, 4, 7, 0, 7, 4, 0, 4}, w.IntervalSequence[:8])
	assert.Equal(t, []int{0, 0, 0, 1, 0, 0, 0, 0}, w.OctaveJumps[:8])
	assert.InDelta(t, 0.8, w.Gate, 1e-9)

	assert.Equal(t, "1/16", summary.DominantRate)
	assert.InDelta(t, 0.8, summary.MeanGate, 1e-9)
}

func TestAnalyzeFallsBackToBarWindows(t *testing.T) {
	song := arpSong(4, []int{60, 64, 67, 72}, 0.25, 0.2)
	summary := NewAnalyzer(0.5).AnalyzeTrack(song, song.Tracks[0], nil)

	require.NotNil(t, summary)
	assert.Len(t, summary.Windows, 4)
	// Without a chord, the window root falls back to the lowest pitch.
	assert.Equal(t, 0, summary.Windows[0].Root)
}

func TestAnalyzeSkipsNonArpTracks(t *testing.T) {
	song := arpSong(2, []int{60, 64, 67, 72}, 0.25, 0.2)
	song.Tracks[0].RoleProbs = model.RoleProbs{model.RoleLead: 0.9, model.RoleArp: 0.1}

	assert.Nil(t, NewAnalyzer(0.5).AnalyzeTrack(song, song.Tracks[0], nil))
}

func TestGateClipping(t *testing.T) {
	// Legato playing longer than the step clips to 1.0.
	song := arpSong(2, []int{60, 64, 67, 72}, 0.25, 0.6)
	summary := NewAnalyzer(0.5).AnalyzeTrack(song, song.Tracks[0], nil)
	require.NotNil(t, summary)
	for _, w := range summary.Windows {
		assert.LessOrEqual(t, w.Gate, 1.0)
		assert.GreaterOrEqual(t, w.Gate, 0.05)
	}
	assert.Equal(t, 1.0, summary.MeanGate)
}
