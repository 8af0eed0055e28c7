package patterns

import (
	"math"
	"math/bits"
	"sort"

	"github.com/gramster/midi-analyzer/internal/model"
)

// Mining thresholds. Candidate pairs must be within HammingMax on the
// rhythm bitset; clusters form by single linkage at SimilarityMin.
const (
	HammingMax    = 0.15
	SimilarityMin = 0.85
	rhythmWeight  = 0.6
	pitchWeight   = 0.4
)

// Mined is a canonical pattern plus everything the miner needs to
// cluster it: the raw fingerprint material and its instances.
type Mined struct {
	Pattern     model.Pattern
	Fingerprint *model.Fingerprint
	Shape       model.Shape
	Instances   []model.PatternInstance
	MedianPitch float64
	songs       map[string]bool
}

// Miner performs intra-song deduplication and cross-corpus clustering.
type Miner struct {
	chunker       *Chunker
	fingerprinter *Fingerprinter
}

// NewMiner creates a miner.
func NewMiner(chunker *Chunker, fingerprinter *Fingerprinter) *Miner {
	return &Miner{
		chunker:       chunker,
		fingerprinter: fingerprinter,
	}
}

// MineSong chunks and fingerprints every track of a song, collapsing
// chunks with identical combined fingerprints into single patterns
// with instance confidence 1.0. Output is sorted by pattern id.
func (m *Miner) MineSong(song *model.Song) []*Mined {
	byID := make(map[string]*Mined)

	for _, track := range song.Tracks {
		role := model.RoleOther
		if track.RoleProbs != nil {
			role = track.RoleProbs.Primary()
		}

		for _, chunk := range m.chunker.ChunkTrack(song, track) {
			chunk := chunk
			fp := m.fingerprinter.Fingerprint(&chunk)
			id := PatternID(fp)

			mined, ok := byID[id]
			if !ok {
				rep, err := buildRepresentation(&chunk, role)
				if err != nil {
					rep = nil
				}
				mined = &Mined{
					Pattern: model.Pattern{
						PatternID:      id,
						Role:           role,
						LengthBars:     chunk.LengthBars,
						Meter:          chunk.Meter,
						GridResolution: chunk.GridStepsPerBar,
						RhythmFP:       fp.RhythmFP,
						PitchFP:        fp.PitchFP,
						ComboFP:        fp.ComboFP,
						Representation: rep,
					},
					Fingerprint: fp,
					Shape:       ShapeOf(&chunk),
					MedianPitch: medianPitch(chunk.Notes),
					songs:       map[string]bool{song.SongID: true},
				}
				byID[id] = mined
			}

			mined.Instances = append(mined.Instances, model.PatternInstance{
				PatternID:  id,
				SongID:     song.SongID,
				TrackID:    track.TrackID,
				StartBar:   chunk.StartBar,
				Confidence: 1.0,
				Transform:  model.Transform{PitchOffset: 0, TimeScale: 1.0},
			})
		}
	}

	mined := make([]*Mined, 0, len(byID))
	for _, p := range byID {
		p.refreshStats()
		mined = append(mined, p)
	}
	sort.Slice(mined, func(i, j int) bool {
		return mined[i].Pattern.PatternID < mined[j].Pattern.PatternID
	})
	return mined
}

// Merge folds per-song results into the corpus accumulator, joining
// entries that share a pattern id.
func Merge(corpus map[string]*Mined, mined []*Mined) {
	for _, p := range mined {
		existing, ok := corpus[p.Pattern.PatternID]
		if !ok {
			corpus[p.Pattern.PatternID] = p
			continue
		}
		existing.Instances = append(existing.Instances, p.Instances...)
		for songID := range p.songs {
			existing.songs[songID] = true
		}
		existing.refreshStats()
	}
}

// Cluster groups near-duplicate patterns across the corpus. Within
// buckets keyed by (role, length_bars, meter), pairs within the
// Hamming prefilter are scored and single-linkage clustered. Each
// cluster keeps its canonical representative; the other members'
// instances are reparented onto it with a transform and a confidence
// equal to their similarity to the canonical.
func Cluster(corpus map[string]*Mined) []*Mined {
	type bucketKey struct {
		role   model.Role
		length int
		meter  string
	}

	buckets := make(map[bucketKey][]*Mined)
	for _, p := range corpus {
		key := bucketKey{p.Pattern.Role, p.Pattern.LengthBars, p.Pattern.Meter}
		buckets[key] = append(buckets[key], p)
	}

	var result []*Mined
	for _, members := range buckets {
		sort.Slice(members, func(i, j int) bool {
			return members[i].Pattern.PatternID < members[j].Pattern.PatternID
		})
		result = append(result, clusterBucket(members)...)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].Pattern.PatternID < result[j].Pattern.PatternID
	})
	return result
}

func clusterBucket(members []*Mined) []*Mined {
	n := len(members)
	if n == 1 {
		return members
	}

	parent := make([]int, n)
	for i := range parent {
		parent[i] = i
	}
	var find func(int) int
	find = func(i int) int {
		for parent[i] != i {
			parent[i] = parent[parent[i]]
			i = parent[i]
		}
		return i
	}
	union := func(a, b int) {
		ra, rb := find(a), find(b)
		if ra != rb {
			parent[rb] = ra
		}
	}

	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			if similarity(members[i], members[j]) >= SimilarityMin {
				union(i, j)
			}
		}
	}

	groups := make(map[int][]*Mined)
	for i, p := range members {
		root := find(i)
		groups[root] = append(groups[root], p)
	}

	roots := make([]int, 0, len(groups))
	for root := range groups {
		roots = append(roots, root)
	}
	sort.Ints(roots)

	var result []*Mined
	for _, root := range roots {
		result = append(result, collapse(groups[root]))
	}
	return result
}

// collapse merges one cluster onto its canonical representative: the
// member with the most instances, ties broken by lowest pattern id.
func collapse(group []*Mined) *Mined {
	canonical := group[0]
	for _, p := range group[1:] {
		if len(p.Instances) > len(canonical.Instances) ||
			(len(p.Instances) == len(canonical.Instances) && p.Pattern.PatternID < canonical.Pattern.PatternID) {
			canonical = p
		}
	}

	for _, p := range group {
		if p == canonical {
			continue
		}
		s := similarity(canonical, p)
		offset := int(math.Round(p.MedianPitch - canonical.MedianPitch))
		for _, inst := range p.Instances {
			inst.PatternID = canonical.Pattern.PatternID
			inst.Confidence = s
			inst.Transform = model.Transform{PitchOffset: offset, TimeScale: 1.0}
			canonical.Instances = append(canonical.Instances, inst)
		}
		for songID := range p.songs {
			canonical.songs[songID] = true
		}
	}

	canonical.refreshStats()
	return canonical
}

// similarity combines rhythm and pitch similarity; pairs outside the
// Hamming prefilter score zero.
func similarity(a, b *Mined) float64 {
	if a.Fingerprint.TotalBits != b.Fingerprint.TotalBits || a.Fingerprint.TotalBits == 0 {
		return 0
	}
	distance := hamming(a.Fingerprint.RhythmBits, b.Fingerprint.RhythmBits)
	frac := float64(distance) / float64(a.Fingerprint.TotalBits)
	if frac > HammingMax {
		return 0
	}
	rhythmSim := 1 - frac
	pitchSim := 1 - normalizedEditDistance(a.Fingerprint.Intervals, b.Fingerprint.Intervals)
	return rhythmWeight*rhythmSim + pitchWeight*pitchSim
}

func hamming(a, b []byte) int {
	count := 0
	for i := range a {
		count += bits.OnesCount8(a[i] ^ b[i])
	}
	return count
}

// normalizedEditDistance is Levenshtein over interval sequences,
// scaled by the longer length.
func normalizedEditDistance(a, b []int8) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	longer := len(a)
	if len(b) > longer {
		longer = len(b)
	}

	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(a); i++ {
		curr[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			curr[j] = minInt(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return float64(prev[len(b)]) / float64(longer)
}

func minInt(values ...int) int {
	m := values[0]
	for _, v := range values[1:] {
		if v < m {
			m = v
		}
	}
	return m
}

func medianPitch(notes []model.NoteEvent) float64 {
	if len(notes) == 0 {
		return 0
	}
	pitches := make([]int, len(notes))
	for i, n := range notes {
		pitches[i] = n.Pitch
	}
	sort.Ints(pitches)
	n := len(pitches)
	if n%2 == 1 {
		return float64(pitches[n/2])
	}
	return float64(pitches[n/2-1]+pitches[n/2]) / 2
}

func (m *Mined) refreshStats() {
	m.Pattern.Stats = model.PatternStats{
		InstanceCount: len(m.Instances),
		SongCount:     len(m.songs),
		Density:       m.Shape.Density,
		OnsetCount:    m.Shape.OnsetCount,
	}
}
