package prefs

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog/log"
)

//go:embed schema.sql
var schemaSQL string

// Keys of the device-local preferences. None of them is ever replicated.
const (
	KeyTheme        = "lightning-ladder-theme"
	KeyNotesMode    = "lightning-ladder-notes-mode"
	KeyNotesURL     = "lightning-ladder-notes-url"
	KeySessionToken = "lightning-ladder-session-token"
)

// Theme is the display theme of this device.
type Theme string

const (
	ThemeDark  Theme = "dark"
	ThemeLight Theme = "light"
)

// Toggle returns the other theme.
func (t Theme) Toggle() Theme {
	if t == ThemeDark {
		return ThemeLight
	}
	return ThemeDark
}

// NotesMode selects between the built-in document and an external notes surface.
type NotesMode string

const (
	NotesBuiltin  NotesMode = "builtin"
	NotesExternal NotesMode = "external"
)

var (
	// ErrInvalidTheme is returned by SetTheme for anything but dark or light.
	ErrInvalidTheme = errors.New("theme must be dark or light")
	// ErrInvalidNotesMode is returned by SetNotesMode for an unknown mode.
	ErrInvalidNotesMode = errors.New("notes mode must be builtin or external")
)

// Store is a SQLite key-value store for preferences scoped to this device.
type Store struct {
	db *sql.DB
}

// Open creates or opens the preference database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite has a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	log.Debug().Str("path", path).Msg("opened preference store")
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Get returns the value stored under key.
func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM preferences WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get %s: %w", key, err)
	}
	return value, true, nil
}

// Set stores value under key.
func (s *Store) Set(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO preferences (key, value) VALUES (?, ?)
ON CONFLICT (key) DO UPDATE
SET value = excluded.value,
    updated_at = strftime('%Y-%m-%dT%H:%M:%fZ', 'now')`, key, value)
	if err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

// Delete removes key.
func (s *Store) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM preferences WHERE key = ?`, key); err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

// Theme returns the stored theme, or fallback when none was chosen on this
// device.
func (s *Store) Theme(ctx context.Context, fallback Theme) (Theme, error) {
	v, ok, err := s.Get(ctx, KeyTheme)
	if err != nil || !ok {
		return fallback, err
	}
	switch t := Theme(v); t {
	case ThemeDark, ThemeLight:
		return t, nil
	default:
		log.Warn().Str("theme", v).Msg("ignoring unknown stored theme")
		return fallback, nil
	}
}

// SetTheme stores t.
func (s *Store) SetTheme(ctx context.Context, t Theme) error {
	if t != ThemeDark && t != ThemeLight {
		return ErrInvalidTheme
	}
	return s.Set(ctx, KeyTheme, string(t))
}

// ToggleTheme flips the stored theme and returns the new one.
func (s *Store) ToggleTheme(ctx context.Context, fallback Theme) (Theme, error) {
	current, err := s.Theme(ctx, fallback)
	if err != nil {
		return "", err
	}
	next := current.Toggle()
	if err := s.SetTheme(ctx, next); err != nil {
		return "", err
	}
	return next, nil
}

// NotesMode returns the stored notes mode, builtin by default.
func (s *Store) NotesMode(ctx context.Context) (NotesMode, error) {
	v, ok, err := s.Get(ctx, KeyNotesMode)
	if err != nil {
		return NotesBuiltin, err
	}
	if !ok || NotesMode(v) != NotesExternal {
		return NotesBuiltin, nil
	}
	return NotesExternal, nil
}

// SetNotesMode stores m.
func (s *Store) SetNotesMode(ctx context.Context, m NotesMode) error {
	if m != NotesBuiltin && m != NotesExternal {
		return ErrInvalidNotesMode
	}
	return s.Set(ctx, KeyNotesMode, string(m))
}

// ExternalNotes returns the external notes endpoint and its session token.
func (s *Store) ExternalNotes(ctx context.Context) (url, token string, err error) {
	if url, _, err = s.Get(ctx, KeyNotesURL); err != nil {
		return "", "", err
	}
	if token, _, err = s.Get(ctx, KeySessionToken); err != nil {
		return "", "", err
	}
	return url, token, nil
}

// SetExternalNotes stores the endpoint and token; empty values are removed.
func (s *Store) SetExternalNotes(ctx context.Context, url, token string) error {
	for key, value := range map[string]string{KeyNotesURL: url, KeySessionToken: token} {
		var err error
		if value == "" {
			err = s.Delete(ctx, key)
		} else {
			err = s.Set(ctx, key, value)
		}
		if err != nil {
			return err
		}
	}
	return nil
}
