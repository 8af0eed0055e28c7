// Package sections segments songs into contiguous bar spans and
// clusters them into form labels (A, B, C...).
package sections

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/gramster/midi-analyzer/internal/model"
)

// Section type hints.
const (
	TypeIntro   = "intro"
	TypeVerse   = "verse"
	TypeChorus  = "chorus"
	TypeBridge  = "bridge"
	TypeOutro   = "outro"
	TypeUnknown = "unknown"
)

const (
	// noveltyWindow is the half-width W of the novelty comparison.
	noveltyWindow = 4
	// minBoundaryGap is the minimum bars between section boundaries.
	minBoundaryGap = 4
	// clusterThreshold stops the agglomeration: clusters merge only
	// while their complete-linkage distance stays at or below it.
	clusterThreshold = 0.4
)

// Segmenter derives section structure from per-bar feature vectors.
type Segmenter struct{}

// NewSegmenter creates a section segmenter.
func NewSegmenter() *Segmenter { return &Segmenter{} }

// Segment analyzes a song. The chord timeline feeds the
// harmonic-rhythm dimension and may be nil. Sections are
// non-overlapping and cover bars [0, TotalBars).
func (s *Segmenter) Segment(song *model.Song, chords []model.ChordEvent) []model.Section {
	if song.TotalBars == 0 {
		return nil
	}

	vectors := barVectors(song, chords)
	normalizeVariance(vectors)

	boundaries := detectBoundaries(vectors)
	sections := buildSections(boundaries, len(vectors))
	assignForms(sections, vectors)
	applyTypeHints(sections, vectors)
	return sections
}

// vectorDims is 1 (active tracks) + 7 (per-role density) + 1
// (harmonic rhythm).
const vectorDims = 9

// barVectors computes the per-bar feature vector v_b.
func barVectors(song *model.Song, chords []model.ChordEvent) [][]float64 {
	vectors := make([][]float64, song.TotalBars)
	for bar := range vectors {
		vectors[bar] = make([]float64, vectorDims)
	}

	roleIndex := make(map[model.Role]int, len(model.Roles))
	for i, role := range model.Roles {
		roleIndex[role] = i
	}

	for _, track := range song.Tracks {
		role := model.RoleOther
		if track.RoleProbs != nil {
			role = track.RoleProbs.Primary()
		}
		perBar := make(map[int]int)
		for _, n := range track.Notes {
			bar, _ := song.BarIndex(n.StartBeat)
			if bar >= 0 && bar < song.TotalBars {
				perBar[bar]++
			}
		}
		for bar, count := range perBar {
			vectors[bar][0]++
			vectors[bar][1+roleIndex[role]] += float64(count)
		}
	}

	// Harmonic rhythm: chord changes per bar.
	for i := 1; i < len(chords); i++ {
		if chords[i].Root == chords[i-1].Root && chords[i].Quality == chords[i-1].Quality {
			continue
		}
		bar, _ := song.BarIndex(chords[i].StartBeat)
		if bar >= 0 && bar < song.TotalBars {
			vectors[bar][vectorDims-1]++
		}
	}

	return vectors
}

// normalizeVariance scales each dimension to unit variance across the
// song so no single dimension dominates the novelty curve.
func normalizeVariance(vectors [][]float64) {
	if len(vectors) == 0 {
		return
	}
	column := make([]float64, len(vectors))
	for dim := 0; dim < vectorDims; dim++ {
		for i, v := range vectors {
			column[i] = v[dim]
		}
		sigma := stat.StdDev(column, nil)
		if sigma > 0 {
			for i := range vectors {
				vectors[i][dim] /= sigma
			}
		}
	}
}

// detectBoundaries finds novelty peaks. N(b) compares the mean vector
// of the W bars before b against the W bars from b on; peaks above
// mean + 1 std with minimum separation become boundaries. Bar 0 is
// always a boundary.
func detectBoundaries(vectors [][]float64) []int {
	numBars := len(vectors)
	novelty := make([]float64, numBars)
	for b := noveltyWindow; b <= numBars-noveltyWindow; b++ {
		if b >= numBars {
			break
		}
		before := meanVector(vectors[b-noveltyWindow : b])
		after := meanVector(vectors[b:minInt(b+noveltyWindow, numBars)])
		novelty[b] = cosineDistance(before, after)
	}

	mean := stat.Mean(novelty, nil)
	std := stat.StdDev(novelty, nil)
	threshold := mean + std

	boundaries := []int{0}
	for b := 1; b < numBars-1; b++ {
		if novelty[b] <= threshold {
			continue
		}
		if novelty[b] < novelty[b-1] || (b+1 < numBars && novelty[b] < novelty[b+1]) {
			continue
		}
		if b-boundaries[len(boundaries)-1] < minBoundaryGap {
			continue
		}
		boundaries = append(boundaries, b)
	}
	return boundaries
}

func meanVector(vectors [][]float64) []float64 {
	mean := make([]float64, vectorDims)
	if len(vectors) == 0 {
		return mean
	}
	for _, v := range vectors {
		floats.Add(mean, v)
	}
	floats.Scale(1/float64(len(vectors)), mean)
	return mean
}

func cosineDistance(a, b []float64) float64 {
	na := floats.Norm(a, 2)
	nb := floats.Norm(b, 2)
	if na == 0 || nb == 0 {
		if na == nb {
			return 0
		}
		return 1
	}
	return 1 - floats.Dot(a, b)/(na*nb)
}

func buildSections(boundaries []int, numBars int) []model.Section {
	sections := make([]model.Section, 0, len(boundaries))
	for i, start := range boundaries {
		end := numBars
		if i+1 < len(boundaries) {
			end = boundaries[i+1]
		}
		if end > start {
			sections = append(sections, model.Section{StartBar: start, EndBar: end})
		}
	}
	return sections
}

// assignForms clusters section mean vectors by complete linkage and
// labels clusters A, B, C... in order of first appearance.
func assignForms(sections []model.Section, vectors [][]float64) {
	if len(sections) == 0 {
		return
	}

	means := make([][]float64, len(sections))
	for i, sec := range sections {
		means[i] = meanVector(vectors[sec.StartBar:sec.EndBar])
	}

	clusters := make([][]int, 0, len(sections))
	for i := range sections {
		clusters = append(clusters, []int{i})
	}

	// Complete-linkage agglomeration: repeatedly merge the closest
	// pair of clusters until the closest distance exceeds the
	// threshold. Ties break on lowest member index.
	for len(clusters) > 1 {
		bestI, bestJ := -1, -1
		bestDist := math.Inf(1)
		for i := 0; i < len(clusters); i++ {
			for j := i + 1; j < len(clusters); j++ {
				dist := completeLinkage(clusters[i], clusters[j], means)
				if dist < bestDist {
					bestDist, bestI, bestJ = dist, i, j
				}
			}
		}
		if bestDist > clusterThreshold {
			break
		}
		clusters[bestI] = append(clusters[bestI], clusters[bestJ]...)
		sort.Ints(clusters[bestI])
		clusters = append(clusters[:bestJ], clusters[bestJ+1:]...)
	}

	// Order clusters by their earliest section for deterministic
	// labeling.
	sort.Slice(clusters, func(i, j int) bool {
		return clusters[i][0] < clusters[j][0]
	})
	for c, members := range clusters {
		label := string(rune('A' + minInt(c, 25)))
		for _, idx := range members {
			sections[idx].FormLabel = label
		}
	}
}

func completeLinkage(a, b []int, means [][]float64) float64 {
	maxDist := 0.0
	for _, i := range a {
		for _, j := range b {
			if d := cosineDistance(means[i], means[j]); d > maxDist {
				maxDist = d
			}
		}
	}
	return maxDist
}

// applyTypeHints attaches optional heuristic labels with confidences.
func applyTypeHints(sections []model.Section, vectors [][]float64) {
	if len(sections) == 0 {
		return
	}
	for i := range sections {
		sections[i].TypeHint = TypeUnknown
	}

	density := func(sec model.Section) float64 {
		total := 0.0
		for bar := sec.StartBar; bar < sec.EndBar; bar++ {
			for _, v := range vectors[bar][1 : vectorDims-1] {
				total += v
			}
		}
		return total / float64(sec.EndBar-sec.StartBar)
	}

	densities := make([]float64, len(sections))
	for i, sec := range sections {
		densities[i] = density(sec)
	}
	meanDensity := stat.Mean(densities, nil)

	// Quiet opening section reads as an intro.
	if densities[0] < meanDensity*0.7 {
		sections[0].TypeHint = TypeIntro
		sections[0].TypeConfidence = 0.6
	}
	// Fading final section reads as an outro.
	if len(sections) >= 2 && densities[len(sections)-1] < densities[len(sections)-2]*0.7 {
		sections[len(sections)-1].TypeHint = TypeOutro
		sections[len(sections)-1].TypeConfidence = 0.5
	}

	// Most common form is the verse, second most common the chorus,
	// rare forms read as bridges.
	counts := make(map[string]int)
	for _, sec := range sections {
		counts[sec.FormLabel]++
	}
	labels := make([]string, 0, len(counts))
	for label := range counts {
		labels = append(labels, label)
	}
	sort.Slice(labels, func(i, j int) bool {
		if counts[labels[i]] != counts[labels[j]] {
			return counts[labels[i]] > counts[labels[j]]
		}
		return labels[i] < labels[j]
	})

	verseForm := labels[0]
	chorusForm := ""
	if len(labels) > 1 {
		chorusForm = labels[1]
	}
	for i := range sections {
		if sections[i].TypeHint != TypeUnknown {
			continue
		}
		switch sections[i].FormLabel {
		case verseForm:
			if counts[verseForm] > 1 {
				sections[i].TypeHint = TypeVerse
				sections[i].TypeConfidence = 0.4
			}
		case chorusForm:
			sections[i].TypeHint = TypeChorus
			sections[i].TypeConfidence = 0.4
		default:
			sections[i].TypeHint = TypeBridge
			sections[i].TypeConfidence = 0.3
		}
	}
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
