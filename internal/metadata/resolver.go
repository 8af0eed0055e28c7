// Package metadata derives (artist, title) from MIDI meta events,
// folder structure, and filename heuristics, and defines the contract
// for external genre/tag enrichment.
package metadata

import (
	"path/filepath"
	"regexp"
	"strings"
	"unicode"

	"github.com/gramster/midi-analyzer/internal/model"
	"github.com/gramster/midi-analyzer/internal/smf"
)

// Result is one strategy's answer.
type Result struct {
	Artist     string
	Title      string
	Source     string
	Confidence float64
}

// Domain suffixes that MIDI sharing sites append to filenames.
var domainSuffixes = []string{
	"nonstop2k.com",
	"midi-karaoke.info",
	"freemidi.org",
	"midiworld.com",
}

var timestampPattern = regexp.MustCompile(`\d{8,}`)

// Resolver runs the strategies in priority order. The first non-empty
// result with confidence above 0.5 wins; otherwise the best
// low-confidence result is kept so the song can still be persisted for
// later review.
type Resolver struct{}

// NewResolver creates a resolver.
func NewResolver() *Resolver { return &Resolver{} }

// Resolve derives metadata for a song from its source file.
func (r *Resolver) Resolve(path string, file *smf.File) model.Metadata {
	results := []Result{
		r.fromMIDIMeta(file),
		r.fromFolderStructure(path),
		r.fromFilename(path),
	}

	for _, res := range results {
		if (res.Artist != "" || res.Title != "") && res.Confidence > 0.5 {
			return model.Metadata{
				Artist:     res.Artist,
				Title:      res.Title,
				Source:     res.Source,
				Confidence: res.Confidence,
			}
		}
	}

	// No confident answer: keep the best of the low-confidence results.
	best := Result{Source: "none"}
	for _, res := range results {
		if (res.Artist != "" || res.Title != "") && res.Confidence > best.Confidence {
			best = res
		}
	}
	return model.Metadata{
		Artist:     best.Artist,
		Title:      best.Title,
		Source:     best.Source,
		Confidence: best.Confidence,
	}
}

// fromMIDIMeta reads track-name (track 0), text, and copyright metas.
func (r *Resolver) fromMIDIMeta(file *smf.File) Result {
	if file == nil || len(file.Tracks) == 0 {
		return Result{}
	}

	var candidates []string
	for _, ev := range file.Tracks[0].Events {
		if ev.Type == smf.EventTrackName && strings.TrimSpace(ev.Text) != "" {
			candidates = append(candidates, ev.Text)
		}
	}
	for _, track := range file.Tracks {
		for _, ev := range track.Events {
			if (ev.Type == smf.EventText || ev.Type == smf.EventCopyright) && strings.TrimSpace(ev.Text) != "" {
				candidates = append(candidates, ev.Text)
			}
		}
	}

	for _, text := range candidates {
		if artist, title, ok := splitArtistTitle(text); ok {
			return Result{Artist: artist, Title: title, Source: "midi_meta", Confidence: 0.7}
		}
	}
	if len(candidates) > 0 {
		title := strings.TrimSpace(candidates[0])
		return Result{Title: title, Source: "midi_meta", Confidence: 0.4}
	}
	return Result{}
}

// splitArtistTitle recognizes "Artist - Title" and "Title / Artist".
func splitArtistTitle(text string) (artist, title string, ok bool) {
	text = strings.TrimSpace(text)
	if parts := strings.SplitN(text, " - ", 2); len(parts) == 2 {
		artist = strings.TrimSpace(parts[0])
		title = strings.TrimSpace(parts[1])
		return artist, title, artist != "" && title != ""
	}
	if parts := strings.SplitN(text, " / ", 2); len(parts) == 2 {
		title = strings.TrimSpace(parts[0])
		artist = strings.TrimSpace(parts[1])
		return artist, title, artist != "" && title != ""
	}
	return "", "", false
}

// fromFolderStructure matches <letter>/<artist>/<title>.mid layouts.
func (r *Resolver) fromFolderStructure(path string) Result {
	dir, file := filepath.Split(filepath.Clean(path))
	dir = filepath.Clean(dir)
	parent := filepath.Base(dir)
	grandparent := filepath.Base(filepath.Dir(dir))

	if len([]rune(grandparent)) == 1 && unicode.IsLetter([]rune(grandparent)[0]) && parent != "." && parent != "/" {
		title := cleanTitle(strings.TrimSuffix(file, filepath.Ext(file)))
		if title != "" {
			return Result{Artist: parent, Title: title, Source: "folder", Confidence: 0.9}
		}
	}
	return Result{}
}

// fromFilename strips noise and splits the remaining stem.
func (r *Resolver) fromFilename(path string) Result {
	stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))

	for _, domain := range domainSuffixes {
		stem = strings.ReplaceAll(stem, domain, "")
	}
	stem = timestampPattern.ReplaceAllString(stem, "")
	stem = strings.Trim(stem, "-_ ")

	if stem == "" {
		return Result{}
	}

	if parts := strings.SplitN(stem, " - ", 2); len(parts) == 2 {
		// The side with more capitalized words, as written in the
		// filename, is taken as the title.
		if capitalizedWords(parts[1]) >= capitalizedWords(parts[0]) {
			return Result{Artist: cleanTitle(parts[0]), Title: cleanTitle(parts[1]), Source: "filename", Confidence: 0.55}
		}
		return Result{Artist: cleanTitle(parts[1]), Title: cleanTitle(parts[0]), Source: "filename", Confidence: 0.55}
	}

	return Result{Title: cleanTitle(stem), Source: "filename", Confidence: 0.4}
}

// cleanTitle turns a file stem into a display string. Artist-composite
// separators (ft, feat, &) pass through untouched.
func cleanTitle(s string) string {
	s = strings.ReplaceAll(s, "_", " ")
	s = strings.ReplaceAll(s, "-", " ")
	s = strings.Join(strings.Fields(s), " ")
	return titleCase(s)
}

var literalWords = map[string]bool{
	"ft": true, "feat": true, "ft.": true, "feat.": true, "&": true,
}

func titleCase(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		if literalWords[strings.ToLower(w)] {
			continue
		}
		runes := []rune(strings.ToLower(w))
		if len(runes) > 0 {
			runes[0] = unicode.ToUpper(runes[0])
		}
		words[i] = string(runes)
	}
	return strings.Join(words, " ")
}

func capitalizedWords(s string) int {
	count := 0
	for _, w := range strings.Fields(s) {
		runes := []rune(w)
		if len(runes) > 0 && unicode.IsUpper(runes[0]) {
			count++
		}
	}
	return count
}

// NormalizeKey lowercases and collapses whitespace in (artist, title)
// for cache keying.
func NormalizeKey(artist, title string) string {
	norm := func(s string) string {
		return strings.Join(strings.Fields(strings.ToLower(s)), " ")
	}
	return norm(artist) + "|" + norm(title)
}
