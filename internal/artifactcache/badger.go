package artifactcache

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/dgraph-io/badger/v4"
)

const keyPrefix = "artifact/"

// BadgerConfig configures a BadgerCache.
type BadgerConfig struct {
	// Dir is the database directory; required unless InMemory is set.
	Dir        string
	InMemory   bool
	SyncWrites bool
	// Logger receives badger's internal logs; nil silences them.
	Logger *slog.Logger
}

// badgerLogger adapts slog to badger's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// BadgerCache implements Cache on top of BadgerDB. Entries are stored as JSON
// under "artifact/<fingerprint>".
type BadgerCache struct {
	db *badger.DB
}

func OpenBadger(cfg BadgerConfig) (*BadgerCache, error) {
	if !cfg.InMemory && cfg.Dir == "" {
		return nil, errors.New("cache directory is required for persistent cache")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Dir, 0750); err != nil {
			return nil, fmt.Errorf("creating cache directory %s: %w", cfg.Dir, err)
		}
		opts = badger.DefaultOptions(cfg.Dir)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("opening artifact cache: %w", err)
	}
	return &BadgerCache{db: db}, nil
}

func (c *BadgerCache) Has(fingerprint string) (bool, error) {
	err := c.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get([]byte(keyPrefix + fingerprint))
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("checking cache entry: %w", err)
	}
	return true, nil
}

func (c *BadgerCache) Get(fingerprint string) (*Entry, error) {
	var data []byte
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(keyPrefix + fingerprint))
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading cache entry: %w", err)
	}

	var e Entry
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("parsing cache entry: %w", err)
	}
	return &e, nil
}

func (c *BadgerCache) Put(entry *Entry) error {
	if entry == nil {
		return ErrNilEntry
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshaling cache entry: %w", err)
	}
	err = c.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(keyPrefix+entry.Fingerprint), data)
	})
	if err != nil {
		return fmt.Errorf("writing cache entry: %w", err)
	}
	return nil
}

func (c *BadgerCache) Close() error {
	return c.db.Close()
}
