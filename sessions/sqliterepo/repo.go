// Package sqliterepo persists the session key/value pairs in a SQLite file so
// a session survives process restarts.
package sqliterepo

import (
	"crypto/rand"
	"database/sql"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/jrsteele09/go-auth-client/sessions"
	"github.com/pkg/errors"
	"golang.org/x/crypto/nacl/secretbox"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS session_kv (
	key        TEXT PRIMARY KEY,
	value      BLOB NOT NULL,
	updated_at INTEGER NOT NULL
);
`

const nonceSize = 24

var (
	_ sessions.Repo = (*Repo)(nil)

	ErrSealedValue = errors.New("stored value cannot be opened with the configured key")
)

// Repo is a sessions.Repo over SQLite. Values are optionally sealed with
// NaCl secretbox.
type Repo struct {
	db      *sql.DB
	sealKey *[32]byte
	nowTime func() time.Time
}

// Option configures a Repo.
type Option func(*Repo)

// WithSealKey seals every stored value with key.
func WithSealKey(key *[32]byte) Option {
	return func(r *Repo) {
		r.sealKey = key
	}
}

// Open opens (creating when needed) the store at path.
func Open(path string, options ...Option) (*Repo, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("[sqliterepo.Open] path is required")
	}
	dsn := filepath.Clean(path) + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(FULL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "[sqliterepo.Open] sql.Open")
	}
	// One connection keeps every write serialized.
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "[sqliterepo.Open] ping")
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "[sqliterepo.Open] schema")
	}

	r := &Repo{db: db, nowTime: time.Now}
	for _, opt := range options {
		opt(r)
	}
	return r, nil
}

// Close releases the database.
func (r *Repo) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}

func (r *Repo) Get(key string) (string, error) {
	var stored []byte
	err := r.db.QueryRow(`SELECT value FROM session_kv WHERE key = ?`, key).Scan(&stored)
	if errors.Is(err, sql.ErrNoRows) {
		return "", sessions.ErrNotFound
	}
	if err != nil {
		return "", errors.Wrapf(err, "[sqliterepo.Get] %s", key)
	}
	plain, err := r.open(stored)
	if err != nil {
		return "", errors.Wrapf(err, "[sqliterepo.Get] %s", key)
	}
	return string(plain), nil
}

func (r *Repo) Write(set map[string]string, remove []string) (err error) {
	tx, err := r.db.Begin()
	if err != nil {
		return errors.Wrap(err, "[sqliterepo.Write] begin")
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	for _, key := range remove {
		if _, err = tx.Exec(`DELETE FROM session_kv WHERE key = ?`, key); err != nil {
			return errors.Wrapf(err, "[sqliterepo.Write] delete %s", key)
		}
	}
	now := r.nowTime().UnixMilli()
	for key, value := range set {
		var sealed []byte
		if sealed, err = r.seal([]byte(value)); err != nil {
			return errors.Wrapf(err, "[sqliterepo.Write] seal %s", key)
		}
		if _, err = tx.Exec(
			`INSERT INTO session_kv (key, value, updated_at) VALUES (?, ?, ?)
			 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
			key, sealed, now,
		); err != nil {
			return errors.Wrapf(err, "[sqliterepo.Write] upsert %s", key)
		}
	}
	if err = tx.Commit(); err != nil {
		return errors.Wrap(err, "[sqliterepo.Write] commit")
	}
	return nil
}

func (r *Repo) seal(plain []byte) ([]byte, error) {
	if r.sealKey == nil {
		return plain, nil
	}
	var nonce [nonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, err
	}
	return secretbox.Seal(nonce[:], plain, &nonce, r.sealKey), nil
}

func (r *Repo) open(stored []byte) ([]byte, error) {
	if r.sealKey == nil {
		return stored, nil
	}
	if len(stored) < nonceSize+secretbox.Overhead {
		return nil, ErrSealedValue
	}
	var nonce [nonceSize]byte
	copy(nonce[:], stored[:nonceSize])
	plain, ok := secretbox.Open(nil, stored[nonceSize:], &nonce, r.sealKey)
	if !ok {
		return nil, ErrSealedValue
	}
	return plain, nil
}
