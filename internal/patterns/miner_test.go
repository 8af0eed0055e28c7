package patterns

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gramster/midi-analyzer/internal/model"
)

func newTestMiner() *Miner {
	return NewMiner(NewChunker(16), NewFingerprinter(FingerprintConfig{}))
}

// bassSong builds a song whose single track repeats the same 2-bar
// bass line `repeats` times, optionally transposed.
func bassSong(songID string, repeats, transpose int) *model.Song {
	track := &model.Track{
		TrackID:   0,
		SongID:    songID,
		Channel:   1,
		RoleProbs: model.RoleProbs{model.RoleBass: 1},
	}
	line := []struct {
		beat  float64
		pitch int
	}{
		{0, 36}, {1, 36}, {2, 39}, {3, 41},
		{4, 36}, {5, 36}, {6, 43}, {7, 41},
	}
	for r := 0; r < repeats; r++ {
		for _, n := range line {
			track.Notes = append(track.Notes, model.NoteEvent{
				StartBeat:     float64(r)*8 + n.beat,
				DurationBeats: 0.5,
				Pitch:         n.pitch + transpose,
				Velocity:      100,
				Channel:       1,
			})
		}
	}
	bars := repeats * 2
	return &model.Song{
		SongID:     songID,
		TimeSigMap: []model.TimeSigSegment{{Numerator: 4, Denominator: 4}},
		TempoMap:   []model.TempoSegment{{MicrosecondsPerQuarter: 500000}},
		Tracks:     []*model.Track{track},
		TotalBars:  bars,
		TotalBeats: float64(bars) * 4,
	}
}

func TestMineSongCollapsesRepeats(t *testing.T) {
	miner := newTestMiner()
	mined := miner.MineSong(bassSong("song-a", 4, 0))

	// The repeated 2-bar line collapses to one 2-bar pattern with four
	// instances.
	var twoBar []*Mined
	for _, p := range mined {
		if p.Pattern.LengthBars == 2 {
			twoBar = append(twoBar, p)
		}
	}
	require.Len(t, twoBar, 1)
	assert.Len(t, twoBar[0].Instances, 4)
	for _, inst := range twoBar[0].Instances {
		assert.Equal(t, 1.0, inst.Confidence)
		assert.Equal(t, twoBar[0].Pattern.PatternID, inst.PatternID)
	}
	assert.Equal(t, []int{0, 2, 4, 6}, startBars(twoBar[0].Instances))
}

func TestMineSongDeterministic(t *testing.T) {
	miner := newTestMiner()
	first := miner.MineSong(bassSong("song-a", 4, 0))
	second := miner.MineSong(bassSong("song-a", 4, 0))

	require.Equal(t, len(first), len(second))
	for i := range first {
		assert.Equal(t, first[i].Pattern.PatternID, second[i].Pattern.PatternID)
		assert.Equal(t, len(first[i].Instances), len(second[i].Instances))
	}
}

func TestCrossCorpusDuplicate(t *testing.T) {
	// The same 2-bar bass line appears in two songs: exactly one
	// canonical pattern, with instances from both songs.
	miner := newTestMiner()
	corpus := make(map[string]*Mined)
	Merge(corpus, miner.MineSong(bassSong("song-a", 1, 0)))
	Merge(corpus, miner.MineSong(bassSong("song-b", 1, 0)))

	clustered := Cluster(corpus)

	var twoBar []*Mined
	for _, p := range clustered {
		if p.Pattern.LengthBars == 2 {
			twoBar = append(twoBar, p)
		}
	}
	require.Len(t, twoBar, 1)
	require.Len(t, twoBar[0].Instances, 2)

	songs := map[string]bool{}
	for _, inst := range twoBar[0].Instances {
		songs[inst.SongID] = true
		assert.Equal(t, twoBar[0].Pattern.PatternID, inst.PatternID)
	}
	assert.Len(t, songs, 2)
	assert.Equal(t, 2, twoBar[0].Pattern.Stats.SongCount)
}

func TestClusterTransposedLine(t *testing.T) {
	// A transposed copy has the identical rhythm and interval shape,
	// so it shares a fingerprint; clustering keeps one canonical
	// pattern and records the instances.
	miner := newTestMiner()
	corpus := make(map[string]*Mined)
	Merge(corpus, miner.MineSong(bassSong("song-a", 2, 0)))
	Merge(corpus, miner.MineSong(bassSong("song-b", 2, 5)))

	clustered := Cluster(corpus)
	for _, p := range clustered {
		if p.Pattern.LengthBars == 2 {
			assert.Len(t, p.Instances, 4)
		}
	}
}

func TestClusterRunsAreIdempotent(t *testing.T) {
	miner := newTestMiner()

	build := func() []*Mined {
		corpus := make(map[string]*Mined)
		Merge(corpus, miner.MineSong(bassSong("song-a", 2, 0)))
		Merge(corpus, miner.MineSong(bassSong("song-b", 3, 0)))
		return Cluster(corpus)
	}

	first := build()
	second := build()
	require.Equal(t, len(first), len(second))
	for i := range first {
		assert.Equal(t, first[i].Pattern.PatternID, second[i].Pattern.PatternID)
		assert.Equal(t, startBars(first[i].Instances), startBars(second[i].Instances))
	}
}

func TestNormalizedEditDistance(t *testing.T) {
	assert.Equal(t, 0.0, normalizedEditDistance(nil, nil))
	assert.Equal(t, 0.0, normalizedEditDistance([]int8{0, 4, 7}, []int8{0, 4, 7}))
	assert.Equal(t, 1.0, normalizedEditDistance([]int8{0, 4, 7}, nil))
	assert.InDelta(t, 1.0/3, normalizedEditDistance([]int8{0, 4, 7}, []int8{0, 4, 9}), 1e-9)
}

func TestSimilarityHammingPrefilter(t *testing.T) {
	f := NewFingerprinter(FingerprintConfig{})

	sparse := chunkOf(1, note(0, 60))
	dense := chunkOf(1,
		note(0, 60), note(0.5, 60), note(1, 60), note(1.5, 60),
		note(2, 60), note(2.5, 60), note(3, 60), note(3.5, 60))

	a := &Mined{Fingerprint: f.Fingerprint(sparse)}
	b := &Mined{Fingerprint: f.Fingerprint(dense)}

	// 7 of 16 bits differ, well past the 15% gate.
	assert.Equal(t, 0.0, similarity(a, b))
}

func startBars(instances []model.PatternInstance) []int {
	bars := make([]int, len(instances))
	for i, inst := range instances {
		bars[i] = inst.StartBar
	}
	return bars
}
