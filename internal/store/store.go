// Package store is the key-value collaborator a chat session uses to
// remember the last endpoint it connected to.  Backends: in-memory,
// a JSON file, SQLite and Redis.
package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Keys under which the last-used endpoint is remembered.
const (
	KeyAddress = "address"
	KeyPort    = "port"
)

// Store is a string key-value store.  Get reports ok=false for a key
// that was never set.
type Store interface {
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	Set(ctx context.Context, key, value string) error
	Close() error
}

// Backend names accepted by [Open].
const (
	BackendMemory = "memory"
	BackendFile   = "file"
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
)

// Options selects and configures a backend.
type Options struct {
	Backend string
	// Path is the file for the file and sqlite backends.  Empty means
	// a default under the user config directory.
	Path string

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisPrefix   string
}

// Open builds the configured backend.
func Open(ctx context.Context, opts Options) (Store, error) {
	switch strings.ToLower(opts.Backend) {
	case "", BackendFile:
		path, err := pathOrDefault(opts.Path, "last.json")
		if err != nil {
			return nil, err
		}
		return NewFile(path), nil
	case BackendMemory:
		return NewMemory(), nil
	case BackendSQLite:
		path, err := pathOrDefault(opts.Path, "tcpchat.db")
		if err != nil {
			return nil, err
		}
		db, err := NewSQLite(path)
		if err != nil {
			return nil, err
		}
		return db, nil
	case BackendRedis:
		r, err := NewRedis(ctx, opts.RedisAddr, opts.RedisPassword, opts.RedisDB, opts.RedisPrefix)
		if err != nil {
			return nil, err
		}
		return r, nil
	default:
		return nil, fmt.Errorf("unknown store backend %q (want memory, file, sqlite or redis)", opts.Backend)
	}
}

// DefaultDir is where file-backed stores live when no path is given.
func DefaultDir() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("locating config directory: %w", err)
	}
	return filepath.Join(dir, "tcpchat"), nil
}

func pathOrDefault(path, name string) (string, error) {
	if path != "" {
		return path, nil
	}
	dir, err := DefaultDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, name), nil
}

// LastEndpoint returns the remembered host and port text, empty when
// nothing was stored yet.
func LastEndpoint(ctx context.Context, s Store) (host, port string, err error) {
	if s == nil {
		return "", "", nil
	}
	host, _, err = s.Get(ctx, KeyAddress)
	if err != nil {
		return "", "", fmt.Errorf("store get %s: %w", KeyAddress, err)
	}
	port, _, err = s.Get(ctx, KeyPort)
	if err != nil {
		return "", "", fmt.Errorf("store get %s: %w", KeyPort, err)
	}
	return host, port, nil
}

// SaveEndpoint remembers host and port.
func SaveEndpoint(ctx context.Context, s Store, host, port string) error {
	if s == nil {
		return nil
	}
	if err := s.Set(ctx, KeyAddress, host); err != nil {
		return fmt.Errorf("store set %s: %w", KeyAddress, err)
	}
	if err := s.Set(ctx, KeyPort, port); err != nil {
		return fmt.Errorf("store set %s: %w", KeyPort, err)
	}
	return nil
}
