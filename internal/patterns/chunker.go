// Package patterns segments tracks into bar windows, fingerprints
// them, and mines canonical patterns across a corpus.
package patterns

import (
	"github.com/gramster/midi-analyzer/internal/model"
)

// ChunkLengths are the window sizes emitted per track, in bars.
var ChunkLengths = []int{1, 2, 4}

// Chunker cuts tracks into non-overlapping, bar-aligned windows.
type Chunker struct {
	gridStepsPerBar int
}

// NewChunker creates a chunker with the given grid resolution.
func NewChunker(gridStepsPerBar int) *Chunker {
	if gridStepsPerBar <= 0 {
		gridStepsPerBar = 16
	}
	return &Chunker{gridStepsPerBar: gridStepsPerBar}
}

// ChunkTrack emits chunks for every length in ChunkLengths. Chunks
// start on bar boundaries, never overlap within one length, and only
// windows containing at least one onset are kept. Note timing inside a
// chunk is local to the chunk start.
func (c *Chunker) ChunkTrack(song *model.Song, track *model.Track) []model.Chunk {
	var chunks []model.Chunk
	for _, length := range ChunkLengths {
		chunks = append(chunks, c.chunkLength(song, track, length)...)
	}
	return chunks
}

func (c *Chunker) chunkLength(song *model.Song, track *model.Track, lengthBars int) []model.Chunk {
	var chunks []model.Chunk

	// Only full-length windows are emitted; a trailing partial window
	// would masquerade as a shorter pattern.
	for startBar := 0; startBar+lengthBars <= song.TotalBars; startBar += lengthBars {
		ts := song.TimeSigAt(startBar)
		startBeat := song.BarStartBeat(startBar)
		endBeat := startBeat + float64(lengthBars)*ts.BeatsPerBar()
		if endBar := startBar + lengthBars; endBar < song.TotalBars {
			endBeat = song.BarStartBeat(endBar)
		}

		var local []model.NoteEvent
		for _, n := range track.Notes {
			if n.StartBeat >= startBeat && n.StartBeat < endBeat {
				shifted := n
				shifted.StartBeat = n.StartBeat - startBeat
				local = append(local, shifted)
			}
		}
		if len(local) == 0 {
			continue
		}

		chunks = append(chunks, model.Chunk{
			TrackID:         track.TrackID,
			SongID:          song.SongID,
			StartBar:        startBar,
			LengthBars:      lengthBars,
			GridStepsPerBar: c.gridStepsPerBar,
			BeatsPerBar:     ts.BeatsPerBar(),
			Meter:           ts.Meter(),
			Notes:           local,
		})
	}
	return chunks
}
