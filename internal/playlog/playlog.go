// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package playlog records which tracks were started by whom. Recording is
// best effort: failures are logged and never reach the listener.
package playlog

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	xglog "github.com/ManuGH/tune2hls/internal/log"
	"github.com/ManuGH/tune2hls/internal/persistence/sqlite"
)

// Event is one play start.
type Event struct {
	User       string
	PlaylistID string
	TrackID    string
	At         time.Time
}

// Sink receives play events.
type Sink interface {
	Record(ctx context.Context, ev Event)
}

// Nop discards events.
type Nop struct{}

// Record implements Sink.
func (Nop) Record(context.Context, Event) {}

const schema = `
CREATE TABLE IF NOT EXISTS play_events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id TEXT NOT NULL,
	playlist_id TEXT NOT NULL,
	track_id TEXT NOT NULL,
	played_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_play_events_track ON play_events(track_id, played_at);
`

// SQLiteSink appends events to a SQLite table.
type SQLiteSink struct {
	db     *sql.DB
	logger zerolog.Logger
}

// OpenSQLite opens (or creates) the event database at path.
func OpenSQLite(ctx context.Context, path string, logger zerolog.Logger) (*SQLiteSink, error) {
	db, err := sqlite.Open(path, sqlite.DefaultConfig())
	if err != nil {
		return nil, err
	}
	if issues, err := sqlite.CheckIntegrity(ctx, db, false); err != nil {
		_ = db.Close()
		return nil, err
	} else if issues != nil {
		logger.Warn().Strs("issues", issues).Str(xglog.FieldPath, path).Msg("playlog database failed quick_check")
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("playlog: migrate: %w", err)
	}
	return &SQLiteSink{db: db, logger: logger}, nil
}

// Record implements Sink.
func (s *SQLiteSink) Record(ctx context.Context, ev Event) {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO play_events (user_id, playlist_id, track_id, played_at) VALUES (?, ?, ?, ?)`,
		ev.User, ev.PlaylistID, ev.TrackID, ev.At.UnixMilli())
	if err != nil {
		s.logger.Warn().Err(err).
			Str(xglog.FieldTrackID, ev.TrackID).
			Str(xglog.FieldPlaylistID, ev.PlaylistID).
			Msg("failed to record play event")
	}
}

// Count returns the number of recorded plays of a track.
func (s *SQLiteSink) Count(ctx context.Context, trackID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM play_events WHERE track_id = ?`, trackID).Scan(&n)
	return n, err
}

// Close closes the database.
func (s *SQLiteSink) Close() error {
	return s.db.Close()
}
