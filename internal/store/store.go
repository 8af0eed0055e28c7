// Package store persists analyzed songs, patterns, and the metadata
// cache behind a relational schema, and answers clip queries.
package store

import (
	"encoding/json"
	"sync"
	"time"

	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	apperrors "github.com/gramster/midi-analyzer/internal/errors"
	"github.com/gramster/midi-analyzer/internal/model"
	"github.com/gramster/midi-analyzer/internal/patterns"
)

// SongRow is one analyzed MIDI file.
type SongRow struct {
	SongID         string `gorm:"primaryKey"`
	SourcePath     string `gorm:"index"`
	TempoMap       datatypes.JSON
	TimeSigMap     datatypes.JSON
	DetectedTonic  int
	DetectedMode   string
	KeyConfidence  float64
	KeyStability   float64
	Artist         string `gorm:"index:idx_songs_artist_title"`
	Title          string `gorm:"index:idx_songs_artist_title"`
	MetaSource     string
	MetaConfidence float64
	Genres         datatypes.JSON `gorm:"index"`
	Tags           datatypes.JSON
	TotalBars      int
	TotalBeats     float64
	Status         string
	Warnings       int
	UpdatedAt      time.Time
}

// TableName keeps the conceptual schema's table names.
func (SongRow) TableName() string { return "songs" }

// TrackRow is one track of a song.
type TrackRow struct {
	SongID    string `gorm:"primaryKey;index"`
	TrackID   int    `gorm:"primaryKey"`
	Name      string
	Channel   int
	RoleProbs datatypes.JSON
	Features  datatypes.JSON
	NoteCount int
}

func (TrackRow) TableName() string { return "tracks" }

// PatternRow is one canonical pattern.
type PatternRow struct {
	PatternID      string `gorm:"primaryKey"`
	Role           string `gorm:"index:idx_patterns_bucket"`
	LengthBars     int    `gorm:"index:idx_patterns_bucket"`
	Meter          string `gorm:"index:idx_patterns_bucket"`
	GridResolution int
	RhythmFP       []byte
	PitchFP        []byte
	ComboFP        []byte
	Representation datatypes.JSON
	Stats          datatypes.JSON
	Tags           datatypes.JSON
	Popularity     int `gorm:"index"`
}

func (PatternRow) TableName() string { return "patterns" }

// InstanceRow is one occurrence of a pattern in a track.
type InstanceRow struct {
	PatternID  string `gorm:"primaryKey"`
	SongID     string `gorm:"primaryKey;index"`
	TrackID    int    `gorm:"primaryKey"`
	StartBar   int    `gorm:"primaryKey"`
	Confidence float64
	Transform  datatypes.JSON
}

func (InstanceRow) TableName() string { return "pattern_instances" }

// ChordRow is one chord event of a song's smoothed timeline.
type ChordRow struct {
	SongID     string  `gorm:"primaryKey;index"`
	StartBeat  float64 `gorm:"primaryKey"`
	EndBeat    float64
	Root       int
	Quality    string
	Roman      string
	Confidence float64
}

func (ChordRow) TableName() string { return "chords" }

// SectionRow is one section of a song.
type SectionRow struct {
	SongID         string `gorm:"primaryKey;index"`
	StartBar       int    `gorm:"primaryKey"`
	EndBar         int
	FormLabel      string
	TypeHint       string
	TypeConfidence float64
}

func (SectionRow) TableName() string { return "sections" }

// MetadataCacheRow caches external lookup payloads with TTL.
type MetadataCacheRow struct {
	Key       string `gorm:"primaryKey"`
	Source    string
	Payload   []byte
	Negative  bool
	FetchedAt time.Time
	ExpiresAt time.Time `gorm:"index"`
}

func (MetadataCacheRow) TableName() string { return "metadata_cache" }

// CheckpointRow journals completed stages per song so a restarted
// batch skips finished work.
type CheckpointRow struct {
	SongID string `gorm:"primaryKey"`
	Stage  string `gorm:"primaryKey"`
	DoneAt time.Time
}

func (CheckpointRow) TableName() string { return "checkpoints" }

// Store wraps the database. Writes are serialized behind a mutex;
// sqlite provides snapshot-isolated reads.
type Store struct {
	db *gorm.DB
	mu sync.Mutex
}

// Open opens (and migrates) the database at path. Use ":memory:" for
// an in-memory store.
func Open(path string) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, apperrors.New(apperrors.ErrStore, "open", path, err)
	}
	if err := db.AutoMigrate(
		&SongRow{}, &TrackRow{}, &PatternRow{}, &InstanceRow{},
		&ChordRow{}, &SectionRow{}, &MetadataCacheRow{}, &CheckpointRow{},
	); err != nil {
		return nil, apperrors.New(apperrors.ErrStore, "migrate", path, err)
	}
	return &Store{db: db}, nil
}

// DB exposes the underlying handle for read-only queries.
func (s *Store) DB() *gorm.DB { return s.db }

// UpsertSong writes the song row and its tracks idempotently.
func (s *Store) UpsertSong(song *model.Song, key model.KeyEstimate, status model.AnalysisStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	row := SongRow{
		SongID:         song.SongID,
		SourcePath:     song.SourcePath,
		TempoMap:       mustJSON(song.TempoMap),
		TimeSigMap:     mustJSON(song.TimeSigMap),
		DetectedTonic:  key.Tonic,
		DetectedMode:   key.Mode,
		KeyConfidence:  key.Confidence,
		KeyStability:   key.StabilitySamples,
		Artist:         song.Metadata.Artist,
		Title:          song.Metadata.Title,
		MetaSource:     song.Metadata.Source,
		MetaConfidence: song.Metadata.Confidence,
		Genres:         mustJSON(song.Metadata.Genres),
		Tags:           mustJSON(song.Metadata.Tags),
		TotalBars:      song.TotalBars,
		TotalBeats:     song.TotalBeats,
		Status:         string(status),
		Warnings:       song.Warnings.UnmatchedNoteOns + song.Warnings.ZeroDuration + song.Warnings.VelocityZero,
		UpdatedAt:      time.Now().UTC(),
	}

	return s.wrap("upsert song", s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&row).Error; err != nil {
			return err
		}
		for _, track := range song.Tracks {
			trackRow := TrackRow{
				SongID:    song.SongID,
				TrackID:   track.TrackID,
				Name:      track.Name,
				Channel:   track.Channel,
				RoleProbs: mustJSON(track.RoleProbs),
				Features:  mustJSON(track.Features),
				NoteCount: len(track.Notes),
			}
			if err := tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&trackRow).Error; err != nil {
				return err
			}
		}
		return nil
	}))
}

// UpsertPatterns writes canonical patterns and their instances. The
// upserts are keyed by stable ids, so a retried song converges to the
// same final state.
func (s *Store) UpsertPatterns(mined []*patterns.Mined) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.wrap("upsert patterns", s.db.Transaction(func(tx *gorm.DB) error {
		for _, p := range mined {
			row := PatternRow{
				PatternID:      p.Pattern.PatternID,
				Role:           string(p.Pattern.Role),
				LengthBars:     p.Pattern.LengthBars,
				Meter:          p.Pattern.Meter,
				GridResolution: p.Pattern.GridResolution,
				RhythmFP:       p.Pattern.RhythmFP,
				PitchFP:        p.Pattern.PitchFP,
				ComboFP:        p.Pattern.ComboFP,
				Representation: datatypes.JSON(p.Pattern.Representation),
				Stats:          mustJSON(p.Pattern.Stats),
				Tags:           mustJSON(p.Pattern.Tags),
				Popularity:     p.Pattern.Stats.InstanceCount,
			}
			if err := tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&row).Error; err != nil {
				return err
			}
			for _, inst := range p.Instances {
				instRow := InstanceRow{
					PatternID:  inst.PatternID,
					SongID:     inst.SongID,
					TrackID:    inst.TrackID,
					StartBar:   inst.StartBar,
					Confidence: inst.Confidence,
					Transform:  mustJSON(inst.Transform),
				}
				if err := tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&instRow).Error; err != nil {
					return err
				}
			}
		}
		return nil
	}))
}

// UpsertChords replaces a song's chord timeline.
func (s *Store) UpsertChords(songID string, chords []model.ChordEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.wrap("upsert chords", s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("song_id = ?", songID).Delete(&ChordRow{}).Error; err != nil {
			return err
		}
		for _, c := range chords {
			row := ChordRow{
				SongID:     songID,
				StartBeat:  c.StartBeat,
				EndBeat:    c.EndBeat,
				Root:       c.Root,
				Quality:    c.Quality,
				Roman:      c.Roman,
				Confidence: c.Confidence,
			}
			if err := tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&row).Error; err != nil {
				return err
			}
		}
		return nil
	}))
}

// UpsertSections replaces a song's section structure.
func (s *Store) UpsertSections(songID string, sections []model.Section) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.wrap("upsert sections", s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("song_id = ?", songID).Delete(&SectionRow{}).Error; err != nil {
			return err
		}
		for _, sec := range sections {
			row := SectionRow{
				SongID:         songID,
				StartBar:       sec.StartBar,
				EndBar:         sec.EndBar,
				FormLabel:      sec.FormLabel,
				TypeHint:       sec.TypeHint,
				TypeConfidence: sec.TypeConfidence,
			}
			if err := tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&row).Error; err != nil {
				return err
			}
		}
		return nil
	}))
}

// DeleteSong removes a song and everything hanging off it.
func (s *Store) DeleteSong(songID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.wrap("delete song", s.db.Transaction(func(tx *gorm.DB) error {
		for _, m := range []any{&InstanceRow{}, &ChordRow{}, &SectionRow{}, &TrackRow{}, &CheckpointRow{}} {
			if err := tx.Where("song_id = ?", songID).Delete(m).Error; err != nil {
				return err
			}
		}
		return tx.Where("song_id = ?", songID).Delete(&SongRow{}).Error
	}))
}

// GetMetadataCache implements metadata.CacheStore. Expired entries
// read as misses.
func (s *Store) GetMetadataCache(key string) (payload []byte, negative bool, ok bool, err error) {
	var row MetadataCacheRow
	result := s.db.First(&row, "key = ?", key)
	if result.Error != nil {
		if result.Error == gorm.ErrRecordNotFound {
			return nil, false, false, nil
		}
		return nil, false, false, apperrors.New(apperrors.ErrStore, "metadata cache", "", result.Error)
	}
	if time.Now().After(row.ExpiresAt) {
		return nil, false, false, nil
	}
	return row.Payload, row.Negative, true, nil
}

// PutMetadataCache implements metadata.CacheStore.
func (s *Store) PutMetadataCache(key, source string, payload []byte, ttl time.Duration, negative bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	row := MetadataCacheRow{
		Key:       key,
		Source:    source,
		Payload:   payload,
		Negative:  negative,
		FetchedAt: now,
		ExpiresAt: now.Add(ttl),
	}
	return s.wrap("metadata cache", s.db.Clauses(clause.OnConflict{UpdateAll: true}).Create(&row).Error)
}

// StageDone reports whether a (song, stage) checkpoint exists.
func (s *Store) StageDone(songID, stage string) bool {
	var count int64
	s.db.Model(&CheckpointRow{}).Where("song_id = ? AND stage = ?", songID, stage).Count(&count)
	return count > 0
}

// MarkStage journals a completed stage.
func (s *Store) MarkStage(songID, stage string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	row := CheckpointRow{SongID: songID, Stage: stage, DoneAt: time.Now().UTC()}
	return s.wrap("checkpoint", s.db.Clauses(clause.OnConflict{DoNothing: true}).Create(&row).Error)
}

func (s *Store) wrap(stage string, err error) error {
	if err == nil {
		return nil
	}
	return apperrors.New(apperrors.ErrStore, stage, "", err)
}

func mustJSON(v any) datatypes.JSON {
	if v == nil {
		return datatypes.JSON("null")
	}
	b, err := json.Marshal(v)
	if err != nil {
		return datatypes.JSON("null")
	}
	return datatypes.JSON(b)
}
