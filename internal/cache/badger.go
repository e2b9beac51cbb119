// Package cache persists risk assessments in BadgerDB so warm results
// survive restarts.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/dgraph-io/badger/v4"
	"go.uber.org/zap"

	"github.com/rawblock/bridgetrace/internal/risk"
)

const assessmentPrefix = "assessment/"

// Config controls where and how the cache is opened.
type Config struct {
	Path       string
	InMemory   bool
	SyncWrites bool
	// GCInterval is how often value log GC runs. 0 disables it.
	GCInterval     time.Duration
	GCDiscardRatio float64
}

// InMemoryConfig is for tests.
func InMemoryConfig() Config {
	return Config{InMemory: true}
}

// Badger is a risk.Cache backed by BadgerDB. Like the in-memory cache it
// never evicts.
type Badger struct {
	db  *badger.DB
	cfg Config
	log *zap.Logger
}

var _ risk.Cache = (*Badger)(nil)

// Open opens (creating if needed) the cache database.
func Open(cfg Config, log *zap.Logger) (*Badger, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("cache: path is required for persistent cache")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
			return nil, fmt.Errorf("create cache directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).
		WithNumVersionsToKeep(1).
		WithLogger(&badgerLogger{log: log.Named("badger").Sugar()})

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger cache: %w", err)
	}
	return &Badger{db: db, cfg: cfg, log: log}, nil
}

func (b *Badger) Get(_ context.Context, key risk.CacheKey) (*risk.Assessment, bool, error) {
	var a risk.Assessment
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(assessmentPrefix + key.String()))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &a)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("cache get %s: %w", key, err)
	}
	return &a, true, nil
}

func (b *Badger) Put(_ context.Context, key risk.CacheKey, a *risk.Assessment) error {
	val, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("encode assessment: %w", err)
	}
	err = b.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(assessmentPrefix+key.String()), val)
	})
	if err != nil {
		return fmt.Errorf("cache put %s: %w", key, err)
	}
	return nil
}

// Len counts cached assessments.
func (b *Badger) Len() (int, error) {
	n := 0
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(assessmentPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			n++
		}
		return nil
	})
	return n, err
}

// RunGC runs value log GC every GCInterval until ctx is done.
func (b *Badger) RunGC(ctx context.Context) error {
	if b.cfg.InMemory || b.cfg.GCInterval <= 0 {
		<-ctx.Done()
		return nil
	}
	ratio := b.cfg.GCDiscardRatio
	if ratio <= 0 || ratio >= 1 {
		ratio = 0.5
	}
	ticker := time.NewTicker(b.cfg.GCInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := b.db.RunValueLogGC(ratio); err != nil && !errors.Is(err, badger.ErrNoRewrite) {
				b.log.Warn("badger value log gc failed", zap.Error(err))
			}
		}
	}
}

func (b *Badger) Close() error {
	return b.db.Close()
}

// badgerLogger routes badger's internal logging through zap.
type badgerLogger struct {
	log *zap.SugaredLogger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) { l.log.Errorf(format, args...) }
func (l *badgerLogger) Warningf(format string, args ...interface{}) { l.log.Warnf(format, args...) }
func (l *badgerLogger) Infof(format string, args ...interface{}) { l.log.Debugf(format, args...) }
func (l *badgerLogger) Debugf(format string, args ...interface{}) { l.log.Debugf(format, args...) }
