// Package smf reads Standard MIDI Files (format 0 and 1) into raw
// event streams. It understands exactly the events the analysis
// pipeline consumes: note on/off, set-tempo, time-signature,
// key-signature, track-name, text, and copyright metas. Everything
// else is skipped at the byte level.
package smf

import (
	"encoding/binary"
	"fmt"
	"os"

	apperrors "github.com/gramster/midi-analyzer/internal/errors"
)

// EventType identifies the raw events the reader yields.
type EventType int

const (
	EventNoteOn EventType = iota
	EventNoteOff
	EventTempo
	EventTimeSignature
	EventKeySignature
	EventTrackName
	EventText
	EventCopyright
)

// Event is a single raw MIDI event with absolute tick timing.
type Event struct {
	Type     EventType
	Tick     int
	Channel  int
	Pitch    int
	Velocity int

	// Meta payloads
	Tempo       int    // microseconds per quarter note (EventTempo)
	Numerator   int    // EventTimeSignature
	Denominator int    // EventTimeSignature, already expanded from the power-of-two form
	Text        string // EventTrackName, EventText, EventCopyright
}

// TrackChunk is one MTrk chunk's events in file order.
type TrackChunk struct {
	Events []Event
}

// File is a parsed SMF with its timing resolution.
type File struct {
	Format          int
	TicksPerQuarter int
	Tracks          []TrackChunk
}

// ReadFile parses path and returns the raw event stream.
func ReadFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, apperrors.New(apperrors.ErrInputFormat, "read", path, err)
	}
	f, err := Parse(data)
	if err != nil {
		return nil, apperrors.New(apperrors.ErrInputFormat, "parse", path, err)
	}
	return f, nil
}

// Parse decodes SMF bytes.
func Parse(data []byte) (*File, error) {
	if len(data) < 14 || string(data[0:4]) != "MThd" {
		return nil, fmt.Errorf("missing MThd header")
	}
	headerLen := int(binary.BigEndian.Uint32(data[4:8]))
	if headerLen < 6 || 8+headerLen > len(data) {
		return nil, fmt.Errorf("bad MThd length %d", headerLen)
	}

	format := int(binary.BigEndian.Uint16(data[8:10]))
	numTracks := int(binary.BigEndian.Uint16(data[10:12]))
	division := binary.BigEndian.Uint16(data[12:14])

	if format != 0 && format != 1 {
		return nil, fmt.Errorf("unsupported SMF format %d", format)
	}
	if division&0x8000 != 0 {
		return nil, fmt.Errorf("SMPTE time division not supported")
	}
	if division == 0 {
		return nil, fmt.Errorf("zero ticks per quarter")
	}

	f := &File{
		Format:          format,
		TicksPerQuarter: int(division),
	}

	pos := 8 + headerLen
	for t := 0; t < numTracks && pos < len(data); t++ {
		track, next, err := parseTrack(data, pos)
		if err != nil {
			return nil, fmt.Errorf("track %d: %w", t, err)
		}
		f.Tracks = append(f.Tracks, track)
		pos = next
	}

	if len(f.Tracks) == 0 {
		return nil, fmt.Errorf("no tracks")
	}
	return f, nil
}

func parseTrack(data []byte, pos int) (TrackChunk, int, error) {
	if pos+8 > len(data) {
		return TrackChunk{}, 0, fmt.Errorf("truncated track header")
	}
	if string(data[pos:pos+4]) != "MTrk" {
		return TrackChunk{}, 0, fmt.Errorf("missing MTrk signature")
	}
	length := int(binary.BigEndian.Uint32(data[pos+4 : pos+8]))
	start := pos + 8
	end := start + length
	if end > len(data) {
		return TrackChunk{}, 0, fmt.Errorf("track length %d past end of file", length)
	}

	var track TrackChunk
	tick := 0
	p := start
	var runningStatus byte

	for p < end {
		delta, n, err := readVarLen(data[p:end])
		if err != nil {
			return TrackChunk{}, 0, err
		}
		p += n
		tick += delta
		if p >= end {
			break
		}

		status := data[p]
		if status >= 0x80 {
			p++
			if status < 0xF0 {
				runningStatus = status
			}
		} else {
			// Running status: re-use the previous channel status byte.
			if runningStatus == 0 {
				return TrackChunk{}, 0, fmt.Errorf("data byte 0x%02x with no running status", status)
			}
			status = runningStatus
		}

		switch {
		case status >= 0x80 && status <= 0x8F: // note off
			if p+2 > end {
				return TrackChunk{}, 0, fmt.Errorf("truncated note-off")
			}
			track.Events = append(track.Events, Event{
				Type:    EventNoteOff,
				Tick:    tick,
				Channel: int(status & 0x0F),
				Pitch:   int(data[p] & 0x7F),
			})
			p += 2

		case status >= 0x90 && status <= 0x9F: // note on
			if p+2 > end {
				return TrackChunk{}, 0, fmt.Errorf("truncated note-on")
			}
			track.Events = append(track.Events, Event{
				Type:     EventNoteOn,
				Tick:     tick,
				Channel:  int(status & 0x0F),
				Pitch:    int(data[p] & 0x7F),
				Velocity: int(data[p+1] & 0x7F),
			})
			p += 2

		case status >= 0xA0 && status <= 0xBF, status >= 0xE0 && status <= 0xEF:
			// Aftertouch, controller, pitch bend: two data bytes, skipped.
			p += 2

		case status >= 0xC0 && status <= 0xDF:
			// Program change, channel pressure: one data byte, skipped.
			p++

		case status == 0xFF: // meta
			if p >= end {
				return TrackChunk{}, 0, fmt.Errorf("truncated meta event")
			}
			metaType := data[p]
			p++
			length, n, err := readVarLen(data[p:end])
			if err != nil {
				return TrackChunk{}, 0, err
			}
			p += n
			if p+length > end {
				return TrackChunk{}, 0, fmt.Errorf("meta event past track end")
			}
			payload := data[p : p+length]
			p += length

			switch metaType {
			case 0x01:
				track.Events = append(track.Events, Event{Type: EventText, Tick: tick, Text: string(payload)})
			case 0x02:
				track.Events = append(track.Events, Event{Type: EventCopyright, Tick: tick, Text: string(payload)})
			case 0x03:
				track.Events = append(track.Events, Event{Type: EventTrackName, Tick: tick, Text: string(payload)})
			case 0x51:
				if length == 3 {
					tempo := int(payload[0])<<16 | int(payload[1])<<8 | int(payload[2])
					track.Events = append(track.Events, Event{Type: EventTempo, Tick: tick, Tempo: tempo})
				}
			case 0x58:
				if length >= 2 {
					track.Events = append(track.Events, Event{
						Type:        EventTimeSignature,
						Tick:        tick,
						Numerator:   int(payload[0]),
						Denominator: 1 << payload[1],
					})
				}
			case 0x59:
				track.Events = append(track.Events, Event{Type: EventKeySignature, Tick: tick})
			}

		case status == 0xF0 || status == 0xF7: // sysex
			length, n, err := readVarLen(data[p:end])
			if err != nil {
				return TrackChunk{}, 0, err
			}
			p += n + length

		default:
			return TrackChunk{}, 0, fmt.Errorf("unexpected status byte 0x%02x", status)
		}
	}

	return track, end, nil
}

// readVarLen decodes a MIDI variable-length quantity.
func readVarLen(data []byte) (value, n int, err error) {
	for i := 0; i < 4 && i < len(data); i++ {
		b := data[i]
		value = value<<7 | int(b&0x7F)
		if b&0x80 == 0 {
			return value, i + 1, nil
		}
	}
	return 0, 0, fmt.Errorf("unterminated variable-length quantity")
}
