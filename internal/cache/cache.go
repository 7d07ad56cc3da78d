// Package cache is a filesystem-backed key/value store with one file per
// entry. Timed entries carry their expiry inside the token itself, a ULID
// whose timestamp is the expiration instant, so no side index is needed.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/reader-dict/website/internal/platform/atomicfile"
)

var (
	ErrMiss    = errors.New("cache miss")
	ErrExpired = errors.New("cache entry expired")
)

type Option func(*Cache)

// WithClock overrides the wall clock used for expiry decisions.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

type Cache struct {
	dir string
	now func() time.Time
}

func New(dir string, opts ...Option) *Cache {
	c := &Cache{dir: dir, now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Put stores value under a fresh token that expires ttl from now.
func (c *Cache) Put(value string, ttl time.Duration) (string, error) {
	id, err := ulid.New(ulid.Timestamp(c.now().Add(ttl)), ulid.DefaultEntropy())
	if err != nil {
		return "", fmt.Errorf("generating token: %w", err)
	}
	token := id.String()
	if err := c.PutKey(token, value); err != nil {
		return "", err
	}
	return token, nil
}

// Get returns the value stored under token. An expired entry is removed
// and reported as ErrExpired; unknown or malformed tokens are ErrMiss.
func (c *Cache) Get(token string) (string, error) {
	id, err := ulid.ParseStrict(token)
	if err != nil {
		return "", ErrMiss
	}

	value, err := c.GetKey(token)
	if err != nil {
		return "", err
	}

	if !ulid.Time(id.Time()).After(c.now()) {
		if err := c.Delete(token); err != nil {
			return "", err
		}
		return "", ErrExpired
	}
	return value, nil
}

// PutKey stores an entry that never expires on its own.
func (c *Cache) PutKey(key, value string) error {
	if err := atomicfile.Write(c.path(key), []byte(value)); err != nil {
		return fmt.Errorf("committing cache entry: %w", err)
	}
	return nil
}

func (c *Cache) GetKey(key string) (string, error) {
	raw, err := os.ReadFile(c.path(key))
	if errors.Is(err, fs.ErrNotExist) {
		return "", ErrMiss
	}
	if err != nil {
		return "", fmt.Errorf("reading cache entry: %w", err)
	}
	return string(raw), nil
}

// Delete removes key. Deleting a missing key is not an error.
func (c *Cache) Delete(key string) error {
	err := os.Remove(c.path(key))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("deleting cache entry: %w", err)
	}
	return nil
}

// Purge removes entries last written before olderThan ago and returns
// how many were removed. Files that are not cache entries are left alone.
func (c *Cache) Purge(olderThan time.Duration) (int, error) {
	entries, err := os.ReadDir(c.dir)
	if errors.Is(err, fs.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("listing cache dir: %w", err)
	}

	cutoff := c.now().Add(-olderThan)
	removed := 0
	for _, e := range entries {
		if !e.Type().IsRegular() || !isEntryName(e.Name()) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			if err := os.Remove(filepath.Join(c.dir, e.Name())); err != nil && !errors.Is(err, fs.ErrNotExist) {
				return removed, fmt.Errorf("purging cache entry: %w", err)
			}
			removed++
		}
	}
	return removed, nil
}

func isEntryName(name string) bool {
	if len(name) != hex.EncodedLen(sha256.Size) {
		return false
	}
	_, err := hex.DecodeString(name)
	return err == nil
}

func (c *Cache) path(key string) string {
	sum := sha256.Sum256([]byte(key))
	return filepath.Join(c.dir, hex.EncodeToString(sum[:]))
}
