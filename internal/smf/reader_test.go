package smf

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// trackBuilder assembles MTrk payloads event by event.
type trackBuilder struct {
	data []byte
}

func (b *trackBuilder) delta(ticks int) *trackBuilder {
	b.data = append(b.data, varLen(ticks)...)
	return b
}

func (b *trackBuilder) noteOn(channel, pitch, velocity int) *trackBuilder {
	b.data = append(b.data, byte(0x90|channel), byte(pitch), byte(velocity))
	return b
}

func (b *trackBuilder) noteOff(channel, pitch int) *trackBuilder {
	b.data = append(b.data, byte(0x80|channel), byte(pitch), 0)
	return b
}

func (b *trackBuilder) tempo(usPerQuarter int) *trackBuilder {
	b.data = append(b.data, 0xFF, 0x51, 3,
		byte(usPerQuarter>>16), byte(usPerQuarter>>8), byte(usPerQuarter))
	return b
}

func (b *trackBuilder) timeSig(numerator int, denomPow byte) *trackBuilder {
	b.data = append(b.data, 0xFF, 0x58, 4, byte(numerator), denomPow, 24, 8)
	return b
}

func (b *trackBuilder) trackName(name string) *trackBuilder {
	b.data = append(b.data, 0xFF, 0x03)
	b.data = append(b.data, varLen(len(name))...)
	b.data = append(b.data, name...)
	return b
}

func (b *trackBuilder) endOfTrack() []byte {
	payload := append(b.data, 0x00, 0xFF, 0x2F, 0x00)
	chunk := []byte("MTrk")
	var length [4]byte
	binary.BigEndian.PutUint32(length[:], uint32(len(payload)))
	chunk = append(chunk, length[:]...)
	return append(chunk, payload...)
}

func varLen(v int) []byte {
	if v < 0x80 {
		return []byte{byte(v)}
	}
	return []byte{byte(0x80 | (v >> 7)), byte(v & 0x7F)}
}

func smfBytes(format, division int, tracks ...[]byte) []byte {
	data := []byte("MThd")
	data = append(data, 0, 0, 0, 6)
	var buf [2]byte
	binary.BigEndian.PutUint16(buf[:], uint16(format))
	data = append(data, buf[:]...)
	binary.BigEndian.PutUint16(buf[:], uint16(len(tracks)))
	data = append(data, buf[:]...)
	binary.BigEndian.PutUint16(buf[:], uint16(division))
	data = append(data, buf[:]...)
	for _, t := range tracks {
		data = append(data, t...)
	}
	return data
}

func TestParseNotePair(t *testing.T) {
	track := (&trackBuilder{}).
		delta(0).tempo(500000).
		delta(0).noteOn(0, 60, 100).
		delta(480).noteOff(0, 60).
		endOfTrack()

	file, err := Parse(smfBytes(0, 480, track))
	require.NoError(t, err)
	assert.Equal(t, 480, file.TicksPerQuarter)
	require.Len(t, file.Tracks, 1)

	var ons, offs int
	for _, ev := range file.Tracks[0].Events {
		switch ev.Type {
		case EventNoteOn:
			ons++
			assert.Equal(t, 60, ev.Pitch)
			assert.Equal(t, 100, ev.Velocity)
			assert.Equal(t, 0, ev.Tick)
		case EventNoteOff:
			offs++
			assert.Equal(t, 480, ev.Tick)
		}
	}
	assert.Equal(t, 1, ons)
	assert.Equal(t, 1, offs)
}

func TestParseRunningStatus(t *testing.T) {
	// Second note-on omits the status byte.
	b := &trackBuilder{}
	b.delta(0).noteOn(0, 60, 100)
	b.data = append(b.data, varLen(240)...)
	b.data = append(b.data, 64, 100) // running status note-on
	b.delta(240).noteOff(0, 60)
	track := b.endOfTrack()

	file, err := Parse(smfBytes(0, 480, track))
	require.NoError(t, err)

	var pitches []int
	for _, ev := range file.Tracks[0].Events {
		if ev.Type == EventNoteOn {
			pitches = append(pitches, ev.Pitch)
		}
	}
	assert.Equal(t, []int{60, 64}, pitches)
}

func TestParseMetaEvents(t *testing.T) {
	track := (&trackBuilder{}).
		delta(0).trackName("Lead Synth").
		delta(0).tempo(400000).
		delta(0).timeSig(3, 2). // 3/4: denominator 2^2
		endOfTrack()

	file, err := Parse(smfBytes(1, 96, track))
	require.NoError(t, err)

	var name string
	var tempo, num, denom int
	for _, ev := range file.Tracks[0].Events {
		switch ev.Type {
		case EventTrackName:
			name = ev.Text
		case EventTempo:
			tempo = ev.Tempo
		case EventTimeSignature:
			num, denom = ev.Numerator, ev.Denominator
		}
	}
	assert.Equal(t, "Lead Synth", name)
	assert.Equal(t, 400000, tempo)
	assert.Equal(t, 3, num)
	assert.Equal(t, 4, denom)
}

func TestParseRejectsGarbage(t *testing.T) {
	cases := map[string][]byte{
		"empty":       {},
		"no header":   []byte("RIFFxxxxxxxxxxxx"),
		"smpte":       smfBytes(0, 0xE250, (&trackBuilder{}).endOfTrack()),
		"zero ticks":  smfBytes(0, 0, (&trackBuilder{}).endOfTrack()),
		"format 2":    smfBytes(2, 480, (&trackBuilder{}).endOfTrack()),
		"no tracks":   smfBytes(0, 480),
		"short track": smfBytes(0, 480, []byte("MTrk\x00\x00\x00\xFF")),
	}
	for name, data := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse(data)
			assert.Error(t, err)
		})
	}
}
