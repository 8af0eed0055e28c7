package analysis

import (
	"math"

	"github.com/gramster/midi-analyzer/internal/model"
)

// Classifier maps feature vectors to role probability distributions.
// The weights are fixed, tunable constants, not learned. The arp stage
// thresholds on probability; pattern mining and section vectors use the
// primary (highest-probability) role only.
type Classifier struct{}

// NewClassifier creates a role classifier.
func NewClassifier() *Classifier { return &Classifier{} }

// pitchRangeNorm scales a semitone range to [0,1] against four
// octaves, the span a mobile lead line typically covers.
func pitchRangeNorm(pitchRange int) float64 {
	return clamp01(float64(pitchRange) / 48)
}

// Classify scores each role linearly from the features and softmaxes
// the scores into probabilities summing to 1. Tracks on the General
// MIDI percussion channel are percussion by definition, so the
// melodic role scores are zeroed there.
func (c *Classifier) Classify(features *model.Features, channel int) model.RoleProbs {
	if features == nil || features.OnsetCount == 0 {
		return model.RoleProbs{model.RoleOther: 1}
	}

	indicator := func(cond bool) float64 {
		if cond {
			return 1
		}
		return 0
	}

	scores := map[model.Role]float64{
		model.RoleDrums: 4.0*features.DrumLikeness +
			1.0*indicator(features.Density > 8),

		model.RoleBass: 2.0*indicator(features.MedianPitch < 48) +
			1.0*(1-features.PolyphonyRatio) +
			1.0*features.DownbeatRatio,

		model.RoleChords: 2.0*features.PolyphonyRatio +
			1.0*indicator(features.MeanDuration > 1.0),

		model.RolePad: 2.0*features.PolyphonyRatio +
			1.0*indicator(features.MeanDuration > 1.0) +
			1.0*indicator(features.Density < 1),

		model.RoleLead: 1.5*(1-features.PolyphonyRatio) +
			1.0*pitchRangeNorm(features.PitchRange) +
			0.5*indicator(features.MedianPitch >= 48 && features.MedianPitch <= 84),

		model.RoleArp: 2.0*indicator(features.Density > 6) +
			1.5*features.Repetition +
			1.0*features.BrokenChordRatio,

		model.RoleOther: 0.1,
	}

	if channel == DrumChannel {
		for _, role := range model.Roles {
			if role != model.RoleDrums && role != model.RoleOther {
				scores[role] = 0
			}
		}
	}

	return softmax(scores)
}

// softmax converts role scores into a probability distribution. The
// max-score shift keeps the exponentials in range.
func softmax(scores map[model.Role]float64) model.RoleProbs {
	maxScore := math.Inf(-1)
	for _, role := range model.Roles {
		if s := scores[role]; s > maxScore {
			maxScore = s
		}
	}

	probs := make(model.RoleProbs, len(model.Roles))
	sum := 0.0
	for _, role := range model.Roles {
		e := math.Exp(scores[role] - maxScore)
		probs[role] = e
		sum += e
	}
	for _, role := range model.Roles {
		probs[role] /= sum
	}
	return probs
}
