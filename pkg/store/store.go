// Package store keeps compiled images and port event traces in SQLite.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"sync"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"wirebus/pkg/codec"
	"wirebus/pkg/isa"
	"wirebus/pkg/peripherals"
)

// validName restricts image names to something safe in a URL path.
var validName = regexp.MustCompile(`^[a-zA-Z0-9_][a-zA-Z0-9_.-]{0,63}$`)

var (
	ErrImageNotFound = errors.New("image not found")
	ErrInvalidName   = errors.New("invalid image name")
)

const schema = `
CREATE TABLE IF NOT EXISTS images (
	name     TEXT PRIMARY KEY,
	width    INTEGER NOT NULL,
	data     BLOB NOT NULL,
	created  INTEGER NOT NULL,
	modified INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS port_events (
	id        INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id    TEXT NOT NULL,
	port      INTEGER NOT NULL,
	direction TEXT NOT NULL,
	value     INTEGER NOT NULL,
	at        INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS port_events_run ON port_events (run_id, id);
`

// Image is a stored bytecode image.
type Image struct {
	Name     string    `json:"name"`
	Width    isa.Width `json:"width"`
	Words    []uint64  `json:"words"`
	Created  time.Time `json:"created"`
	Modified time.Time `json:"modified"`
}

// Store is safe for concurrent use.
type Store struct {
	db     *sql.DB
	mu     sync.Mutex
	logger *zap.Logger
	now    func() time.Time
}

type Option func(*Store)

func WithLogger(l *zap.Logger) Option {
	return func(s *Store) {
		s.logger = l
	}
}

// Open opens or creates the database at path. ":memory:" gives a private
// in-memory database.
func Open(path string, opts ...Option) (*Store, error) {
	s := &Store{
		logger: zap.L(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.Named("store")

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// A second connection to ":memory:" would see a different database.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating tables: %w", err)
	}

	s.db = db
	s.logger.Info("open store", zap.String("path", path))
	return s, nil
}

func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// PutImage stores words under name, replacing any previous image but keeping
// its creation time.
func (s *Store) PutImage(name string, words []uint64, w isa.Width) error {
	if !validName.MatchString(name) {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	data, err := codec.Encode(words, w)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UnixNano()
	_, err = s.db.Exec(`INSERT INTO images (name, width, data, created, modified)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET width = excluded.width, data = excluded.data, modified = excluded.modified`,
		name, int(w), data, now, now)
	if err != nil {
		return fmt.Errorf("saving image: %w", err)
	}
	s.logger.Debug("put image", zap.String("name", name), zap.Int("words", len(words)))
	return nil
}

func (s *Store) GetImage(name string) (*Image, error) {
	if !validName.MatchString(name) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidName, name)
	}

	var (
		width             int
		data              []byte
		created, modified int64
	)
	err := s.db.QueryRow("SELECT width, data, created, modified FROM images WHERE name = ?", name).
		Scan(&width, &data, &created, &modified)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %q", ErrImageNotFound, name)
		}
		return nil, fmt.Errorf("querying image: %w", err)
	}

	w := isa.Width(width)
	words, err := codec.Decode(data, w)
	if err != nil {
		return nil, fmt.Errorf("image %q: %w", name, err)
	}
	return &Image{
		Name:     name,
		Width:    w,
		Words:    words,
		Created:  time.Unix(0, created).UTC(),
		Modified: time.Unix(0, modified).UTC(),
	}, nil
}

// ListImages returns every stored image sorted by name. Words are not loaded.
func (s *Store) ListImages() ([]Image, error) {
	rows, err := s.db.Query("SELECT name, width, created, modified FROM images ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("listing images: %w", err)
	}
	defer rows.Close()

	var out []Image
	for rows.Next() {
		var (
			img               Image
			width             int
			created, modified int64
		)
		if err := rows.Scan(&img.Name, &width, &created, &modified); err != nil {
			return nil, fmt.Errorf("scanning image: %w", err)
		}
		img.Width = isa.Width(width)
		img.Created = time.Unix(0, created).UTC()
		img.Modified = time.Unix(0, modified).UTC()
		out = append(out, img)
	}
	return out, rows.Err()
}

func (s *Store) DeleteImage(name string) error {
	if !validName.MatchString(name) {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec("DELETE FROM images WHERE name = ?", name)
	if err != nil {
		return fmt.Errorf("deleting image: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("deleting image: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %q", ErrImageNotFound, name)
	}
	return nil
}

// RecordEvent appends a port access to the trace. It implements
// peripherals.EventSink.
func (s *Store) RecordEvent(e peripherals.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	at := e.At
	if at.IsZero() {
		at = s.now()
	}
	_, err := s.db.Exec("INSERT INTO port_events (run_id, port, direction, value, at) VALUES (?, ?, ?, ?, ?)",
		e.RunID, int64(e.Port), string(e.Direction), int64(e.Value), at.UnixNano())
	if err != nil {
		return fmt.Errorf("recording event: %w", err)
	}
	return nil
}

// Events returns the trace of one run in the order it was recorded.
func (s *Store) Events(runID string) ([]peripherals.Event, error) {
	rows, err := s.db.Query("SELECT port, direction, value, at FROM port_events WHERE run_id = ? ORDER BY id", runID)
	if err != nil {
		return nil, fmt.Errorf("querying events: %w", err)
	}
	defer rows.Close()

	var out []peripherals.Event
	for rows.Next() {
		var (
			port, value, at int64
			dir             string
		)
		if err := rows.Scan(&port, &dir, &value, &at); err != nil {
			return nil, fmt.Errorf("scanning event: %w", err)
		}
		out = append(out, peripherals.Event{
			RunID:     runID,
			Port:      uint64(port),
			Direction: peripherals.Direction(dir),
			Value:     uint64(value),
			At:        time.Unix(0, at).UTC(),
		})
	}
	return out, rows.Err()
}
