// Package normalize converts raw SMF event streams into beat-domain
// Songs with tempo and time-signature maps.
package normalize

import (
	"crypto/sha256"
	"encoding/hex"
	"math"
	"os"
	"sort"

	apperrors "github.com/gramster/midi-analyzer/internal/errors"
	"github.com/gramster/midi-analyzer/internal/model"
	"github.com/gramster/midi-analyzer/internal/smf"
)

// DefaultTempo is the MIDI default of 120 BPM in microseconds per
// quarter note, used when a file carries no set-tempo event.
const DefaultTempo = 500000

// Normalizer builds Songs from parsed SMF files.
type Normalizer struct {
	gridStepsPerBar int
}

// New creates a normalizer. gridStepsPerBar controls the quantized
// grid view (16 by default).
func New(gridStepsPerBar int) *Normalizer {
	if gridStepsPerBar <= 0 {
		gridStepsPerBar = 16
	}
	return &Normalizer{gridStepsPerBar: gridStepsPerBar}
}

// GridStepsPerBar returns the configured grid resolution.
func (n *Normalizer) GridStepsPerBar() int { return n.gridStepsPerBar }

// NormalizeFile reads and normalizes a MIDI file. The song id is the
// first 16 hex chars of the SHA-256 of the file contents, so the same
// bytes always map to the same song.
func (n *Normalizer) NormalizeFile(path string) (*model.Song, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, apperrors.New(apperrors.ErrInputFormat, "normalize", path, err)
	}
	file, err := smf.Parse(data)
	if err != nil {
		return nil, apperrors.New(apperrors.ErrInputFormat, "normalize", path, err)
	}
	song := n.Normalize(file, path, SongID(data))
	return song, nil
}

// SongID derives the stable content hash used as a song's identity.
func SongID(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])[:16]
}

// Normalize converts a parsed file into a Song. Unmatched note-ons and
// zero-duration notes are dropped and surface as warning counts.
func (n *Normalizer) Normalize(file *smf.File, path, songID string) *model.Song {
	tpq := file.TicksPerQuarter

	song := &model.Song{
		SongID:          songID,
		SourcePath:      path,
		TicksPerQuarter: tpq,
	}

	song.TempoMap = buildTempoMap(file, tpq)
	song.TimeSigMap = buildTimeSigMap(file, tpq)

	maxBeat := 0.0
	for trackIdx, chunk := range file.Tracks {
		track, warnings := n.extractTrack(chunk, trackIdx, tpq, songID)
		song.Warnings.UnmatchedNoteOns += warnings.UnmatchedNoteOns
		song.Warnings.ZeroDuration += warnings.ZeroDuration
		song.Warnings.VelocityZero += warnings.VelocityZero

		if len(track.Notes) == 0 {
			continue
		}
		song.Tracks = append(song.Tracks, track)
		for _, note := range track.Notes {
			if end := note.EndBeat(); end > maxBeat {
				maxBeat = end
			}
		}
	}

	song.TotalBeats = maxBeat
	song.TotalBars = totalBars(song)
	return song
}

// extractTrack pairs note-ons with their note-offs on the same
// (channel, pitch). A note-on with velocity 0 closes the open note.
func (n *Normalizer) extractTrack(chunk smf.TrackChunk, trackIdx, tpq int, songID string) (*model.Track, model.WarningCounts) {
	type key struct{ channel, pitch int }
	type open struct {
		tick     int
		velocity int
	}

	var warnings model.WarningCounts
	active := make(map[key]open)
	track := &model.Track{
		TrackID: trackIdx,
		SongID:  songID,
	}

	channelCounts := make(map[int]int)

	for _, ev := range chunk.Events {
		switch ev.Type {
		case smf.EventTrackName:
			if track.Name == "" {
				track.Name = ev.Text
			}

		case smf.EventNoteOn:
			k := key{ev.Channel, ev.Pitch}
			if ev.Velocity == 0 {
				// Velocity-0 note-on is a note-off by convention.
				if o, ok := active[k]; ok {
					n.closeNote(track, o.tick, ev.Tick, ev.Pitch, o.velocity, ev.Channel, tpq, &warnings)
					delete(active, k)
				} else {
					warnings.VelocityZero++
				}
				continue
			}
			if _, ok := active[k]; ok {
				// Overlapping note-on on the same key: the earlier one
				// never gets its off, drop it.
				warnings.UnmatchedNoteOns++
			}
			active[k] = open{tick: ev.Tick, velocity: ev.Velocity}
			channelCounts[ev.Channel]++

		case smf.EventNoteOff:
			k := key{ev.Channel, ev.Pitch}
			if o, ok := active[k]; ok {
				n.closeNote(track, o.tick, ev.Tick, ev.Pitch, o.velocity, ev.Channel, tpq, &warnings)
				delete(active, k)
			}
		}
	}

	warnings.UnmatchedNoteOns += len(active)

	model.SortNotes(track.Notes)
	track.Channel = primaryChannel(channelCounts)
	return track, warnings
}

func (n *Normalizer) closeNote(track *model.Track, onTick, offTick, pitch, velocity, channel, tpq int, warnings *model.WarningCounts) {
	durationTicks := offTick - onTick
	if durationTicks <= 0 {
		warnings.ZeroDuration++
		return
	}
	track.Notes = append(track.Notes, model.NoteEvent{
		StartBeat:     float64(onTick) / float64(tpq),
		DurationBeats: float64(durationTicks) / float64(tpq),
		Pitch:         pitch,
		Velocity:      velocity,
		Channel:       channel,
	})
}

func primaryChannel(counts map[int]int) int {
	best, bestCount := 0, -1
	for ch := 0; ch < 16; ch++ {
		if c := counts[ch]; c > bestCount {
			best, bestCount = ch, c
		}
	}
	return best
}

// buildTempoMap collects set-tempo metas (from the conductor track only
// in format 1, from every track otherwise) into sorted, non-overlapping
// segments starting at beat 0.
func buildTempoMap(file *smf.File, tpq int) []model.TempoSegment {
	var segments []model.TempoSegment
	for _, track := range file.Tracks {
		for _, ev := range track.Events {
			if ev.Type == smf.EventTempo && ev.Tempo > 0 {
				segments = append(segments, model.TempoSegment{
					StartBeat:              float64(ev.Tick) / float64(tpq),
					MicrosecondsPerQuarter: ev.Tempo,
				})
			}
		}
		if file.Format == 1 {
			break
		}
	}

	sort.SliceStable(segments, func(i, j int) bool {
		return segments[i].StartBeat < segments[j].StartBeat
	})
	segments = dedupeTempo(segments)

	if len(segments) == 0 || segments[0].StartBeat > 0 {
		head := model.TempoSegment{StartBeat: 0, MicrosecondsPerQuarter: DefaultTempo}
		segments = append([]model.TempoSegment{head}, segments...)
	}
	return segments
}

func dedupeTempo(segments []model.TempoSegment) []model.TempoSegment {
	out := segments[:0]
	for _, seg := range segments {
		if len(out) > 0 && out[len(out)-1].StartBeat == seg.StartBeat {
			out[len(out)-1] = seg
			continue
		}
		out = append(out, seg)
	}
	return out
}

// buildTimeSigMap collects time-signature metas into segments with
// both beat and bar positions resolved.
func buildTimeSigMap(file *smf.File, tpq int) []model.TimeSigSegment {
	type rawSig struct {
		beat        float64
		numerator   int
		denominator int
	}
	var raw []rawSig
	for _, track := range file.Tracks {
		for _, ev := range track.Events {
			if ev.Type == smf.EventTimeSignature && ev.Numerator >= 1 && validDenominator(ev.Denominator) {
				raw = append(raw, rawSig{
					beat:        float64(ev.Tick) / float64(tpq),
					numerator:   ev.Numerator,
					denominator: ev.Denominator,
				})
			}
		}
		if file.Format == 1 {
			break
		}
	}

	sort.SliceStable(raw, func(i, j int) bool { return raw[i].beat < raw[j].beat })

	if len(raw) == 0 || raw[0].beat > 0 {
		raw = append([]rawSig{{beat: 0, numerator: 4, denominator: 4}}, raw...)
	}

	// Walk forward assigning bar numbers; a signature change lands on
	// the bar boundary its beat position implies.
	segments := make([]model.TimeSigSegment, 0, len(raw))
	for _, sig := range raw {
		seg := model.TimeSigSegment{
			StartBeat:   sig.beat,
			Numerator:   sig.numerator,
			Denominator: sig.denominator,
		}
		if len(segments) > 0 {
			prev := segments[len(segments)-1]
			if seg.StartBeat == prev.StartBeat {
				segments[len(segments)-1] = seg
				segments[len(segments)-1].StartBar = prev.StartBar
				continue
			}
			barsSince := (seg.StartBeat - prev.StartBeat) / prev.BeatsPerBar()
			seg.StartBar = prev.StartBar + int(math.Ceil(barsSince-1e-9))
		}
		segments = append(segments, seg)
	}
	return segments
}

func validDenominator(d int) bool {
	switch d {
	case 1, 2, 4, 8, 16, 32:
		return true
	}
	return false
}

func totalBars(song *model.Song) int {
	if song.TotalBeats <= 0 {
		return 0
	}
	last := song.TimeSigMap[len(song.TimeSigMap)-1]
	beatsAfter := song.TotalBeats - last.StartBeat
	return last.StartBar + int(math.Ceil(beatsAfter/last.BeatsPerBar()-1e-9))
}
