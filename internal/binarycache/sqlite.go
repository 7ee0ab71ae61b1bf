package binarycache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteCache keeps artifact payloads as files in a directory, indexed by a
// SQLite database in the same directory.
type SQLiteCache struct {
	db  *sql.DB
	dir string
}

// NewSQLiteCache creates or opens the cache rooted at dir.
func NewSQLiteCache(dir string) (*SQLiteCache, error) {
	if err := os.MkdirAll(filepath.Join(dir, "blobs"), 0o755); err != nil {
		return nil, fmt.Errorf("binarycache: %w", err)
	}
	db, err := sql.Open("sqlite3", filepath.Join(dir, "index.db"))
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}

	c := &SQLiteCache{db: db, dir: dir}
	if err := c.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to init schema: %w", err)
	}
	return c, nil
}

func (c *SQLiteCache) Close() error {
	return c.db.Close()
}

func (c *SQLiteCache) initSchema() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS artifacts (
			key TEXT PRIMARY KEY,
			ref TEXT,
			package_id TEXT,
			digest TEXT,
			size INTEGER,
			stored_at INTEGER
		);`,
		`CREATE INDEX IF NOT EXISTS idx_artifacts_ref ON artifacts(ref);`,
	}
	for _, q := range queries {
		if _, err := c.db.Exec(q); err != nil {
			return err
		}
	}
	return nil
}

func (c *SQLiteCache) blobPath(digest string) string {
	return filepath.Join(c.dir, "blobs", digest)
}

func (c *SQLiteCache) Has(ctx context.Context, key Key) (bool, error) {
	var n int
	err := c.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM artifacts WHERE key = ?`, key.String()).Scan(&n)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (c *SQLiteCache) Fetch(ctx context.Context, key Key) (Artifact, error) {
	var digest string
	err := c.db.QueryRowContext(ctx, `SELECT digest FROM artifacts WHERE key = ?`, key.String()).Scan(&digest)
	if errors.Is(err, sql.ErrNoRows) {
		return Artifact{}, fmt.Errorf("%s: %w", key, ErrNotFound)
	}
	if err != nil {
		return Artifact{}, err
	}

	data, err := os.ReadFile(c.blobPath(digest))
	if errors.Is(err, os.ErrNotExist) {
		return Artifact{}, fmt.Errorf("%s: payload missing: %w", key, ErrNotFound)
	}
	if err != nil {
		return Artifact{}, err
	}
	if got := Digest(data); got != digest {
		return Artifact{}, fmt.Errorf("%s: digest mismatch: index %s, payload %s", key, digest, got)
	}
	return Artifact{Key: key, Digest: digest, Data: data}, nil
}

// Store writes the payload before the index row so a reader never sees a row
// without its file.
func (c *SQLiteCache) Store(ctx context.Context, a Artifact) error {
	if a.Digest == "" {
		a.Digest = Digest(a.Data)
	}
	path := c.blobPath(a.Digest)
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+a.Digest+"-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(a.Data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return err
	}

	_, err = c.db.ExecContext(ctx, `
		INSERT INTO artifacts (key, ref, package_id, digest, size, stored_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			ref=excluded.ref,
			package_id=excluded.package_id,
			digest=excluded.digest,
			size=excluded.size,
			stored_at=excluded.stored_at
	`, a.Key.String(), a.Key.Ref.WithoutRevision().String(), string(a.Key.PackageID), a.Digest, len(a.Data), time.Now().Unix())
	return err
}

// Keys lists the stored keys for a reference, sorted.
func (c *SQLiteCache) Keys(ctx context.Context, r string) ([]string, error) {
	rows, err := c.db.QueryContext(ctx, `SELECT key FROM artifacts WHERE ref = ? ORDER BY key`, r)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		out = append(out, k)
	}
	return out, rows.Err()
}
