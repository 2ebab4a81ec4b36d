// Package storage is the collection-keyed KV store every match
// persists through. It is the one component shared across matches, so
// it must be safe for concurrent use; database/sql plus SQLite in WAL
// mode provides that.
package storage

import (
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pierrec/lz4/v4"
	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"
)

// ErrNotFound reports a missing key.
var ErrNotFound = errors.New("storage: key not found")

// Well-known collections.
const (
	CollectionMatchSaves    = "match_saves"
	CollectionData          = "lmp_data"
	CollectionCrafts        = "crafts"
	CollectionScreenshots   = "screenshots"
	CollectionFlags         = "flags"
	CollectionBans          = "bans"
	CollectionAdmins        = "admins"
	CollectionConfiguration = "configuration"
)

// Values below this size are stored raw; compression overhead is not
// worth it.
const compressMin = 256

// Value encoding: one header byte (0 = raw, 1 = lz4 block) then, for
// lz4, the uncompressed length as a uint32.
const (
	encRaw  = 0
	encLZ4  = 1
	lz4Head = 5
)

// Entry describes one stored key without its value.
type Entry struct {
	Key   string
	Size  int64 // uncompressed payload size
	MTime time.Time
}

// Store is a SQLite-backed KV store keyed by (collection, key).
type Store struct {
	db  *sql.DB
	log zerolog.Logger
}

// Open creates or opens the store at path.
func Open(path string, log zerolog.Logger) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("storage: create dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("storage: open: %w", err)
	}
	schema := `
	CREATE TABLE IF NOT EXISTS kv (
		collection TEXT NOT NULL,
		key        TEXT NOT NULL,
		value      BLOB NOT NULL,
		size       INTEGER NOT NULL,
		mtime      INTEGER NOT NULL,
		PRIMARY KEY (collection, key)
	);
	CREATE INDEX IF NOT EXISTS kv_mtime ON kv (collection, mtime);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage: schema: %w", err)
	}
	log.Info().Str("path", path).Msg("storage opened")
	return &Store{db: db, log: log}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Write upserts a value. The stored mtime is the write time.
func (s *Store) Write(collection, key string, value []byte) error {
	enc := encode(value)
	_, err := s.db.Exec(
		`INSERT INTO kv (collection, key, value, size, mtime) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (collection, key) DO UPDATE SET value=excluded.value, size=excluded.size, mtime=excluded.mtime`,
		collection, key, enc, len(value), time.Now().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("storage: write %s:%s: %w", collection, key, err)
	}
	return nil
}

// Read fetches a value or ErrNotFound.
func (s *Store) Read(collection, key string) ([]byte, error) {
	var enc []byte
	err := s.db.QueryRow(
		`SELECT value FROM kv WHERE collection = ? AND key = ?`, collection, key,
	).Scan(&enc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("storage: read %s:%s: %w", collection, key, err)
	}
	val, err := decode(enc)
	if err != nil {
		return nil, fmt.Errorf("storage: decode %s:%s: %w", collection, key, err)
	}
	return val, nil
}

// Exists reports whether a key is present.
func (s *Store) Exists(collection, key string) (bool, error) {
	var one int
	err := s.db.QueryRow(
		`SELECT 1 FROM kv WHERE collection = ? AND key = ?`, collection, key,
	).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("storage: exists %s:%s: %w", collection, key, err)
	}
	return true, nil
}

// Delete removes a key. Deleting a missing key is not an error.
func (s *Store) Delete(collection, key string) error {
	if _, err := s.db.Exec(`DELETE FROM kv WHERE collection = ? AND key = ?`, collection, key); err != nil {
		return fmt.Errorf("storage: delete %s:%s: %w", collection, key, err)
	}
	return nil
}

// likeEscaper quotes LIKE wildcards so a prefix only matches literally.
// Prefixes come from player-chosen folder names, where underscores are
// ordinary characters.
var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// List returns entries in a collection whose keys start with prefix
// (empty prefix lists the whole collection), oldest first.
func (s *Store) List(collection, prefix string) ([]Entry, error) {
	rows, err := s.db.Query(
		`SELECT key, size, mtime FROM kv WHERE collection = ? AND key LIKE ? || '%' ESCAPE '\' ORDER BY mtime, key`,
		collection, likeEscaper.Replace(prefix),
	)
	if err != nil {
		return nil, fmt.Errorf("storage: list %s: %w", collection, err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var mtime int64
		if err := rows.Scan(&e.Key, &e.Size, &mtime); err != nil {
			return nil, fmt.Errorf("storage: list %s: %w", collection, err)
		}
		e.MTime = time.UnixMilli(mtime)
		out = append(out, e)
	}
	return out, rows.Err()
}

func encode(value []byte) []byte {
	if len(value) < compressMin {
		return append([]byte{encRaw}, value...)
	}
	buf := make([]byte, lz4Head+lz4.CompressBlockBound(len(value)))
	buf[0] = encLZ4
	binary.BigEndian.PutUint32(buf[1:lz4Head], uint32(len(value)))
	var c lz4.Compressor
	n, err := c.CompressBlock(value, buf[lz4Head:])
	if err != nil || n == 0 || n >= len(value) {
		// Incompressible: store raw.
		return append([]byte{encRaw}, value...)
	}
	return buf[:lz4Head+n]
}

func decode(enc []byte) ([]byte, error) {
	if len(enc) == 0 {
		return nil, errors.New("empty value")
	}
	switch enc[0] {
	case encRaw:
		return enc[1:], nil
	case encLZ4:
		if len(enc) < lz4Head {
			return nil, errors.New("truncated lz4 header")
		}
		size := binary.BigEndian.Uint32(enc[1:lz4Head])
		out := make([]byte, size)
		n, err := lz4.UncompressBlock(enc[lz4Head:], out)
		if err != nil {
			return nil, err
		}
		return out[:n], nil
	default:
		return nil, fmt.Errorf("unknown value encoding %d", enc[0])
	}
}
