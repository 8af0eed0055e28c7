package store

import (
	apperrors "github.com/gramster/midi-analyzer/internal/errors"
)

// ClipQuery filters the pattern corpus. Zero values mean "any".
type ClipQuery struct {
	Role          string
	Genre         string
	Artist        string
	Meter         string
	MinLengthBars int
	MaxLengthBars int
	Limit         int
	Offset        int
}

// DefaultLimit bounds unpaged queries.
const DefaultLimit = 50

// QueryPatterns returns patterns matching the query, ordered by
// (popularity desc, pattern_id asc) so paging is stable across runs.
func (s *Store) QueryPatterns(q ClipQuery) ([]PatternRow, error) {
	tx := s.db.Model(&PatternRow{})

	if q.Role != "" {
		tx = tx.Where("role = ?", q.Role)
	}
	if q.Meter != "" {
		tx = tx.Where("meter = ?", q.Meter)
	}
	if q.MinLengthBars > 0 {
		tx = tx.Where("length_bars >= ?", q.MinLengthBars)
	}
	if q.MaxLengthBars > 0 {
		tx = tx.Where("length_bars <= ?", q.MaxLengthBars)
	}
	if q.Genre != "" || q.Artist != "" {
		sub := s.db.Model(&SongRow{}).Select("song_id")
		if q.Genre != "" {
			sub = sub.Where("genres LIKE ?", "%\""+q.Genre+"\"%")
		}
		if q.Artist != "" {
			sub = sub.Where("artist = ?", q.Artist)
		}
		instances := s.db.Model(&InstanceRow{}).Select("pattern_id").Where("song_id IN (?)", sub)
		tx = tx.Where("pattern_id IN (?)", instances)
	}

	limit := q.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}
	tx = tx.Order("popularity DESC, pattern_id ASC").Limit(limit).Offset(q.Offset)

	var rows []PatternRow
	if err := tx.Find(&rows).Error; err != nil {
		return nil, apperrors.New(apperrors.ErrStore, "query patterns", "", err)
	}
	return rows, nil
}

// GetPattern fetches one pattern by id.
func (s *Store) GetPattern(patternID string) (*PatternRow, error) {
	var row PatternRow
	if err := s.db.First(&row, "pattern_id = ?", patternID).Error; err != nil {
		return nil, apperrors.New(apperrors.ErrStore, "get pattern", "", err)
	}
	return &row, nil
}

// GetInstances fetches a pattern's instances ordered by (song_id,
// track_id, start_bar).
func (s *Store) GetInstances(patternID string) ([]InstanceRow, error) {
	var rows []InstanceRow
	err := s.db.Where("pattern_id = ?", patternID).
		Order("song_id ASC, track_id ASC, start_bar ASC").
		Find(&rows).Error
	if err != nil {
		return nil, apperrors.New(apperrors.ErrStore, "get instances", "", err)
	}
	return rows, nil
}

// GetSong fetches one song row.
func (s *Store) GetSong(songID string) (*SongRow, error) {
	var row SongRow
	if err := s.db.First(&row, "song_id = ?", songID).Error; err != nil {
		return nil, apperrors.New(apperrors.ErrStore, "get song", "", err)
	}
	return &row, nil
}

// ListSongs returns songs ordered by id.
func (s *Store) ListSongs(limit, offset int) ([]SongRow, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	var rows []SongRow
	err := s.db.Order("song_id ASC").Limit(limit).Offset(offset).Find(&rows).Error
	if err != nil {
		return nil, apperrors.New(apperrors.ErrStore, "list songs", "", err)
	}
	return rows, nil
}

// Stats summarizes the corpus.
type Stats struct {
	Songs     int64 `json:"songs"`
	Tracks    int64 `json:"tracks"`
	Patterns  int64 `json:"patterns"`
	Instances int64 `json:"instances"`
}

// CorpusStats counts the main tables.
func (s *Store) CorpusStats() (Stats, error) {
	var stats Stats
	for _, c := range []struct {
		mdl   any
		count *int64
	}{
		{&SongRow{}, &stats.Songs},
		{&TrackRow{}, &stats.Tracks},
		{&PatternRow{}, &stats.Patterns},
		{&InstanceRow{}, &stats.Instances},
	} {
		if err := s.db.Model(c.mdl).Count(c.count).Error; err != nil {
			return stats, apperrors.New(apperrors.ErrStore, "stats", "", err)
		}
	}
	return stats, nil
}
