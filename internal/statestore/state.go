// Package statestore keeps the player's durable client state in SQLite:
// the resume snapshot, the last finished program, UI preferences, locally
// edited programs and the cached login.
package statestore

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/claude/njktraining/internal/models"
	"github.com/claude/njktraining/internal/session"
	"go.uber.org/multierr"
	_ "modernc.org/sqlite"
)

// Keys of the state table.
const (
	KeyResume          = "training.resume"
	KeyDone            = "training.done"
	KeyTextMode        = "training.textMode"
	KeySelectedLevel   = "training.selectedLvl"
	KeyEditedExercises = "training.editedExercises"
	KeyToken           = "training.token"
	KeyUserName        = "training.user_name"
	KeyUserEmail       = "training.user_email"
	KeyMentorCode      = "training.mentor_code"
)

// Store is a key/value table in dir/state.db.
type Store struct {
	db *sql.DB
}

var _ session.Store = (*Store)(nil)

// Open opens (or creates) the state database at dir/state.db.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating state dir %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", filepath.Join(dir, "state.db"))
	if err != nil {
		return nil, fmt.Errorf("opening state db: %w", err)
	}
	// Single writer.
	db.SetMaxOpenConns(1)

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS state (
		key        TEXT PRIMARY KEY,
		value      TEXT NOT NULL,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating state table: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the state database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Get returns the value for key; ok is false when it is unset.
func (s *Store) Get(key string) (value string, ok bool, err error) {
	err = s.db.QueryRow(`SELECT value FROM state WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("reading %s: %w", key, err)
	}
	return value, true, nil
}

// Set stores value under key.
func (s *Store) Set(key, value string) error {
	_, err := s.db.Exec(
		`INSERT OR REPLACE INTO state (key, value, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)`,
		key, value,
	)
	if err != nil {
		return fmt.Errorf("writing %s: %w", key, err)
	}
	return nil
}

// Delete removes key. Deleting a missing key is not an error.
func (s *Store) Delete(key string) error {
	if _, err := s.db.Exec(`DELETE FROM state WHERE key = ?`, key); err != nil {
		return fmt.Errorf("deleting %s: %w", key, err)
	}
	return nil
}

// SaveSnapshot implements session.Store.
func (s *Store) SaveSnapshot(snap session.Snapshot) error {
	return s.Set(KeyResume, snap.Encode())
}

// ClearSnapshot implements session.Store.
func (s *Store) ClearSnapshot() error {
	return s.Delete(KeyResume)
}

// MarkDone implements session.Store.
func (s *Store) MarkDone(program string) error {
	return s.Set(KeyDone, program)
}

// Snapshot returns the saved resume record, or nil. A record that no longer
// parses is discarded.
func (s *Store) Snapshot() (*session.Snapshot, error) {
	raw, ok, err := s.Get(KeyResume)
	if err != nil || !ok {
		return nil, err
	}
	snap, err := session.DecodeSnapshot(raw)
	if err != nil {
		return nil, multierr.Append(fmt.Errorf("discarding resume record: %w", err), s.ClearSnapshot())
	}
	return &snap, nil
}

// Done returns the name of the last finished program, or "".
func (s *Store) Done() (string, error) {
	v, _, err := s.Get(KeyDone)
	return v, err
}

// Mode returns the last selected mode ("free" or "prime"), or "".
func (s *Store) Mode() (string, error) {
	v, _, err := s.Get(KeyTextMode)
	return v, err
}

// SetMode records the selected mode.
func (s *Store) SetMode(mode string) error {
	return s.Set(KeyTextMode, mode)
}

// SelectedLevel returns the last selected level, or "".
func (s *Store) SelectedLevel() (string, error) {
	v, _, err := s.Get(KeySelectedLevel)
	return v, err
}

// SetSelectedLevel records the selected level.
func (s *Store) SetSelectedLevel(level string) error {
	return s.Set(KeySelectedLevel, level)
}

// EditedExercises returns the locally edited program, or nil.
func (s *Store) EditedExercises() (*models.Catalog, error) {
	raw, ok, err := s.Get(KeyEditedExercises)
	if err != nil || !ok {
		return nil, err
	}
	c, err := models.ParseCatalog([]byte(raw))
	if err != nil {
		return nil, fmt.Errorf("decoding edited exercises: %w", err)
	}
	return c, nil
}

// SetEditedExercises stores a locally edited program.
func (s *Store) SetEditedExercises(c *models.Catalog) error {
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("encoding edited exercises: %w", err)
	}
	return s.Set(KeyEditedExercises, string(data))
}

// ClearEditedExercises drops local edits.
func (s *Store) ClearEditedExercises() error {
	return s.Delete(KeyEditedExercises)
}

// Identity is the cached login.
type Identity struct {
	Token      string
	UserName   string
	UserEmail  string
	MentorCode string
}

// LoggedIn reports whether a token is cached.
func (i Identity) LoggedIn() bool { return i.Token != "" }

var identityKeys = []string{KeyToken, KeyUserName, KeyUserEmail, KeyMentorCode}

func (i *Identity) fields() []*string {
	return []*string{&i.Token, &i.UserName, &i.UserEmail, &i.MentorCode}
}

// Identity returns the cached login; fields are empty when not logged in.
func (s *Store) Identity() (Identity, error) {
	var id Identity
	for n, f := range id.fields() {
		v, _, err := s.Get(identityKeys[n])
		if err != nil {
			return Identity{}, err
		}
		*f = v
	}
	return id, nil
}

// SetIdentity caches a login. Empty fields are removed.
func (s *Store) SetIdentity(id Identity) error {
	for n, f := range id.fields() {
		var err error
		if *f == "" {
			err = s.Delete(identityKeys[n])
		} else {
			err = s.Set(identityKeys[n], *f)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// ClearIdentity logs out.
func (s *Store) ClearIdentity() error {
	return s.SetIdentity(Identity{})
}
