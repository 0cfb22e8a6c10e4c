package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// ErrSchemaMismatch is returned when an existing events table does not have
// the expected columns. The store never migrates or coerces it.
var ErrSchemaMismatch = errors.New("events table has an unexpected schema")

// ErrNotFound is returned by Get for an unknown id.
var ErrNotFound = errors.New("event not found")

const createEventsTable = `CREATE TABLE IF NOT EXISTS events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	timestamp TEXT NOT NULL,
	camera_id TEXT NOT NULL,
	event_type TEXT NOT NULL,
	clip_path TEXT,
	snapshot_path TEXT,
	face_detected INTEGER DEFAULT 0,
	duration INTEGER
)`

var eventColumns = []string{
	"camera_id",
	"clip_path",
	"duration",
	"event_type",
	"face_detected",
	"id",
	"snapshot_path",
	"timestamp",
}

// TimeFormat is how event timestamps are stored.
const TimeFormat = time.RFC3339Nano

// Event is one persisted event record.
type Event struct {
	ID           int64     `json:"id"`
	Timestamp    time.Time `json:"timestamp"`
	CameraID     string    `json:"camera_id"`
	EventType    string    `json:"event_type"`
	ClipPath     *string   `json:"clip_path"`
	SnapshotPath *string   `json:"snapshot_path"`
	FaceDetected bool      `json:"face_detected"`
	Duration     int       `json:"duration"`
}

// Opener returns a database handle for path.
type Opener func(path string) (*sql.DB, error)

// OpenSQLite opens a SQLite file with the pure-Go driver.
func OpenSQLite(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	// Concurrent pipeline runs each open their own handle; let writers wait
	// for each other instead of failing with SQLITE_BUSY.
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	return db, nil
}

// Store is an append-only event log. It holds no connection: every call
// opens the database, does its work and closes it again.
type Store struct {
	path string
	open Opener
	now  func() time.Time
}

// New creates a store for the SQLite file at path.
func New(path string) *Store {
	return NewWithOpener(path, OpenSQLite)
}

// NewWithOpener creates a store using a custom opener.
func NewWithOpener(path string, open Opener) *Store {
	return &Store{path: path, open: open, now: time.Now}
}

// Path returns the database location.
func (s *Store) Path() string {
	return s.path
}

// RecordEvent appends ev and returns the id the database assigned to it.
// A zero Timestamp is replaced with the current time.
func (s *Store) RecordEvent(ctx context.Context, ev Event) (int64, error) {
	if ev.CameraID == "" || ev.EventType == "" {
		return 0, fmt.Errorf("camera_id and event_type are required")
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = s.now()
	}

	db, err := s.open(s.path)
	if err != nil {
		return 0, err
	}
	defer db.Close()

	if err := ensureSchema(ctx, db); err != nil {
		return 0, err
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO events (timestamp, camera_id, event_type, clip_path, snapshot_path, face_detected, duration)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		ev.Timestamp.UTC().Format(TimeFormat),
		ev.CameraID,
		ev.EventType,
		nullString(ev.ClipPath),
		nullString(ev.SnapshotPath),
		boolToInt(ev.FaceDetected),
		ev.Duration,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert event: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read event id: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit event: %w", err)
	}

	return id, nil
}

// Get returns one event by id.
func (s *Store) Get(ctx context.Context, id int64) (*Event, error) {
	db, err := s.open(s.path)
	if err != nil {
		return nil, err
	}
	defer db.Close()

	if err := ensureSchema(ctx, db); err != nil {
		return nil, err
	}

	var (
		ev       Event
		ts       string
		clip     sql.NullString
		snapshot sql.NullString
		face     int
		duration sql.NullInt64
	)
	err = db.QueryRowContext(ctx,
		`SELECT id, timestamp, camera_id, event_type, clip_path, snapshot_path, face_detected, duration
		FROM events WHERE id = ?`, id,
	).Scan(&ev.ID, &ts, &ev.CameraID, &ev.EventType, &clip, &snapshot, &face, &duration)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get event: %w", err)
	}

	ev.Timestamp, err = time.Parse(TimeFormat, ts)
	if err != nil {
		return nil, fmt.Errorf("failed to parse event timestamp %q: %w", ts, err)
	}
	if clip.Valid {
		ev.ClipPath = &clip.String
	}
	if snapshot.Valid {
		ev.SnapshotPath = &snapshot.String
	}
	ev.FaceDetected = face != 0
	ev.Duration = int(duration.Int64)

	return &ev, nil
}

// ensureSchema creates the events table if absent and checks the columns of
// an existing one.
func ensureSchema(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, createEventsTable); err != nil {
		return fmt.Errorf("failed to create events table: %w", err)
	}

	rows, err := db.QueryContext(ctx, "PRAGMA table_info(events)")
	if err != nil {
		return fmt.Errorf("failed to inspect events table: %w", err)
	}
	defer rows.Close()

	var columns []string
	for rows.Next() {
		var (
			cid     int
			name    string
			ctype   string
			notNull int
			dflt    sql.NullString
			pk      int
		)
		if err := rows.Scan(&cid, &name, &ctype, &notNull, &dflt, &pk); err != nil {
			return fmt.Errorf("failed to scan column info: %w", err)
		}
		columns = append(columns, strings.ToLower(name))
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to read column info: %w", err)
	}

	sort.Strings(columns)
	if strings.Join(columns, ",") != strings.Join(eventColumns, ",") {
		return fmt.Errorf("%w: have [%s], want [%s]", ErrSchemaMismatch,
			strings.Join(columns, ", "), strings.Join(eventColumns, ", "))
	}
	return nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
