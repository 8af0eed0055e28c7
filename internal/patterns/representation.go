package patterns

import (
	"encoding/json"
	"math"
	"sort"

	"github.com/gramster/midi-analyzer/internal/arps"
	"github.com/gramster/midi-analyzer/internal/model"
)

// buildRepresentation encodes a chunk as the role-appropriate
// canonical JSON form: drum grids for drums, arp descriptors for arps,
// melodic event lists for everything else.
func buildRepresentation(chunk *model.Chunk, role model.Role) (json.RawMessage, error) {
	switch role {
	case model.RoleDrums:
		return model.MarshalRepresentation(drumRepresentation(chunk))
	case model.RoleArp:
		return model.MarshalRepresentation(arpRepresentation(chunk))
	default:
		return model.MarshalRepresentation(melodicRepresentation(chunk))
	}
}

func drumRepresentation(chunk *model.Chunk) model.DrumRepresentation {
	rep := model.DrumRepresentation{StepsPerBar: chunk.GridStepsPerBar}
	totalSteps := chunk.LengthBars * chunk.GridStepsPerBar

	seen := make(map[[2]int]bool)
	for _, n := range chunk.Notes {
		step := quantizeStep(n.StartBeat, chunk.BeatsPerBar, chunk.GridStepsPerBar, totalSteps)
		key := [2]int{step, n.Pitch}
		if seen[key] {
			continue
		}
		seen[key] = true
		rep.Hits = append(rep.Hits, model.DrumHit{Step: step, Pitch: n.Pitch, Vel: n.Velocity})
	}

	sort.Slice(rep.Hits, func(i, j int) bool {
		if rep.Hits[i].Step != rep.Hits[j].Step {
			return rep.Hits[i].Step < rep.Hits[j].Step
		}
		return rep.Hits[i].Pitch < rep.Hits[j].Pitch
	})
	return rep
}

func melodicRepresentation(chunk *model.Chunk) model.MelodicRepresentation {
	rep := model.MelodicRepresentation{}
	if len(chunk.Notes) == 0 {
		return rep
	}
	totalSteps := chunk.LengthBars * chunk.GridStepsPerBar
	beatsPerStep := chunk.BeatsPerBar / float64(chunk.GridStepsPerBar)
	first := chunk.Notes[0].Pitch

	for _, n := range chunk.Notes {
		step := quantizeStep(n.StartBeat, chunk.BeatsPerBar, chunk.GridStepsPerBar, totalSteps)
		dur := int(math.Round(n.DurationBeats / beatsPerStep))
		if dur < 1 {
			dur = 1
		}
		rep.Events = append(rep.Events, model.MelodicEvent{
			Step:     step,
			Interval: n.Pitch - first,
			Dur:      dur,
		})
	}
	return rep
}

func arpRepresentation(chunk *model.Chunk) model.ArpRepresentation {
	rep := model.ArpRepresentation{Gate: 0.5}
	if len(chunk.Notes) == 0 {
		rep.Rate = arps.RateUnknown
		return rep
	}

	root := chunk.Notes[0].Pitch
	for _, n := range chunk.Notes {
		if n.Pitch < root {
			root = n.Pitch
		}
	}

	iois := make([]float64, 0, len(chunk.Notes)-1)
	for i := 1; i < len(chunk.Notes); i++ {
		if ioi := chunk.Notes[i].StartBeat - chunk.Notes[i-1].StartBeat; ioi > 0 {
			iois = append(iois, ioi)
		}
	}
	rateName, rateBeats := arps.SnapRate(iois)
	rep.Rate = rateName

	firstOctave := chunk.Notes[0].Pitch / 12
	gateSum := 0.0
	for _, n := range chunk.Notes {
		rep.IntervalSequence = append(rep.IntervalSequence, ((n.Pitch-root)%12+12)%12)
		rep.OctaveJumps = append(rep.OctaveJumps, n.Pitch/12-firstOctave)
		if rateBeats > 0 {
			gateSum += n.DurationBeats / rateBeats
		}
	}
	if rateBeats > 0 {
		rep.Gate = math.Max(0.05, math.Min(1.0, gateSum/float64(len(chunk.Notes))))
	}
	return rep
}
