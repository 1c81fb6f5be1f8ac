package database

import (
	"errors"
	"fmt"
	"os"

	"github.com/dgraph-io/badger/v4"
	"go.uber.org/zap"
)

// BadgerConfig selects where the embedded store keeps its files.
type BadgerConfig struct {
	Path       string
	InMemory   bool
	SyncWrites bool
	Logger     *zap.SugaredLogger
}

// badgerLogger adapts zap to badger's Logger interface.
type badgerLogger struct {
	log *zap.SugaredLogger
}

func (l *badgerLogger) Errorf(format string, args ...interface{})   { l.log.Errorf(format, args...) }
func (l *badgerLogger) Warningf(format string, args ...interface{}) { l.log.Warnf(format, args...) }
func (l *badgerLogger) Infof(format string, args ...interface{})    { l.log.Infof(format, args...) }
func (l *badgerLogger) Debugf(format string, args ...interface{})   { l.log.Debugf(format, args...) }

// OpenBadger opens the embedded store. The returned DB is safe for concurrent use
// and must be closed by the caller.
func OpenBadger(cfg BadgerConfig) (*badger.DB, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("database.OpenBadger: path is required for a persistent store")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
			return nil, fmt.Errorf("database.OpenBadger: create directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)

	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{log: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("database.OpenBadger: %w", err)
	}
	return db, nil
}

// OpenBadgerInMemory is the test helper used by the store packages.
func OpenBadgerInMemory() (*badger.DB, error) {
	return OpenBadger(BadgerConfig{InMemory: true})
}
