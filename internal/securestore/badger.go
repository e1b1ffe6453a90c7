package securestore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v3"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/relaymesh/fabric/pkg/crypto/adaptive"
)

// BadgerConfig tunes the embedded Badger engine backing a BadgerStore.
type BadgerConfig struct {
	// Dir is the on-disk data directory.
	Dir string

	// FlushInterval is how often buffered writes are forced to disk via
	// an explicit Sync, independent of Badger's own internal value-log
	// flushing. Default 60s per the coalesced-flush requirement.
	FlushInterval time.Duration

	// Cipher encrypts namespace/name values before they reach Badger.
	// Nil disables encryption (values are stored as given).
	Cipher adaptive.Cipher

	Logger *slog.Logger
}

// BadgerStore implements Store on top of Badger v3.
//
// Writes are serialized under a single-writer lock; reads are
// unsynchronized against Badger's own MVCC snapshot. Persistence is
// asynchronous (SyncWrites disabled) with a coalesced periodic Sync and
// a mandatory Sync on Close.
type BadgerStore struct {
	db     *badger.DB
	cipher adaptive.Cipher
	logger *slog.Logger

	writeMu sync.Mutex

	flushInterval time.Duration
	stopCh        chan struct{}
	doneCh        chan struct{}

	metricWrites  prometheus.Counter
	metricFlushes prometheus.Counter
	metricErrors  *prometheus.CounterVec
}

// NewBadgerStore opens (or creates) a Badger-backed SecureStore at cfg.Dir.
func NewBadgerStore(cfg BadgerConfig) (*BadgerStore, error) {
	if cfg.Dir == "" {
		return nil, fmt.Errorf("securestore: dir is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 60 * time.Second
	}

	opts := badger.DefaultOptions(cfg.Dir)
	opts.Logger = &badgerLogger{logger: cfg.Logger}
	opts.SyncWrites = false // durability is via the coalesced flush below

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("securestore: open badger: %w", err)
	}

	s := &BadgerStore{
		db:            db,
		cipher:        cfg.Cipher,
		logger:        cfg.Logger,
		flushInterval: cfg.FlushInterval,
		stopCh:        make(chan struct{}),
		doneCh:        make(chan struct{}),
	}

	go s.flushLoop()

	return s, nil
}

// NewBadgerStoreFromKeyMaterial derives cfg.Cipher from km via
// DeriveCipher before opening the store, returning the salt the caller
// must persist (under NamespaceConfig, say) to unlock the same store on
// a later restart. Prefer this over NewBadgerStore whenever the caller
// has passphrase- or raw-key-based key material rather than an
// already-constructed adaptive.Cipher.
func NewBadgerStoreFromKeyMaterial(cfg BadgerConfig, km KeyMaterial) (*BadgerStore, []byte, error) {
	cipher, salt, err := DeriveCipher(km)
	if err != nil {
		return nil, nil, fmt.Errorf("securestore: derive cipher: %w", err)
	}
	cfg.Cipher = cipher

	store, err := NewBadgerStore(cfg)
	if err != nil {
		return nil, nil, err
	}
	return store, salt, nil
}

// RegisterMetrics wires write/flush/error counters into reg. Optional.
func (s *BadgerStore) RegisterMetrics(reg prometheus.Registerer) {
	s.metricWrites = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "relaymesh", Subsystem: "securestore", Name: "writes_total",
		Help: "Total Write calls accepted by the store.",
	})
	s.metricFlushes = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "relaymesh", Subsystem: "securestore", Name: "flushes_total",
		Help: "Total coalesced or explicit flushes performed.",
	})
	s.metricErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "relaymesh", Subsystem: "securestore", Name: "errors_total",
		Help: "Total store operation errors by op.",
	}, []string{"op"})
	reg.MustRegister(s.metricWrites, s.metricFlushes, s.metricErrors)
}

func key(namespace, name string) []byte {
	return []byte(namespace + "\x00" + name)
}

// Read implements Store.
func (s *BadgerStore) Read(ctx context.Context, namespace, name string) ([]byte, error) {
	var value []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key(namespace, name))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return ErrNotFound
			}
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			s.countError("read")
		}
		return nil, err
	}

	if s.cipher == nil {
		return value, nil
	}
	plain, err := s.cipher.Decrypt(value, key(namespace, name))
	if err != nil {
		s.countError("decrypt")
		return nil, fmt.Errorf("securestore: decrypt %s/%s: %w", namespace, name, err)
	}
	return plain, nil
}

// Write implements Store.
func (s *BadgerStore) Write(ctx context.Context, namespace, name string, value []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	stored := value
	if s.cipher != nil {
		ct, err := s.cipher.Encrypt(value, key(namespace, name))
		if err != nil {
			s.countError("encrypt")
			return fmt.Errorf("securestore: encrypt %s/%s: %w", namespace, name, err)
		}
		stored = ct
	}

	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key(namespace, name), stored)
	})
	if err != nil {
		s.countError("write")
		return err
	}
	if s.metricWrites != nil {
		s.metricWrites.Inc()
	}
	return nil
}

// Delete implements Store.
func (s *BadgerStore) Delete(ctx context.Context, namespace, name string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	err := s.db.Update(func(txn *badger.Txn) error {
		err := txn.Delete(key(namespace, name))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		return err
	})
	if err != nil {
		s.countError("delete")
	}
	return err
}

// Flush implements Store.
func (s *BadgerStore) Flush(ctx context.Context) error {
	if err := s.db.Sync(); err != nil {
		s.countError("flush")
		return fmt.Errorf("securestore: sync: %w", err)
	}
	if s.metricFlushes != nil {
		s.metricFlushes.Inc()
	}
	return nil
}

// Close implements Store. Performs a final mandatory flush.
func (s *BadgerStore) Close() error {
	close(s.stopCh)
	<-s.doneCh

	if err := s.db.Sync(); err != nil {
		s.logger.Error("securestore: final sync failed", "error", err)
	}
	return s.db.Close()
}

func (s *BadgerStore) flushLoop() {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := s.db.Sync(); err != nil {
				s.logger.Error("securestore: periodic sync failed", "error", err)
				s.countError("flush")
				continue
			}
			if s.metricFlushes != nil {
				s.metricFlushes.Inc()
			}
		case <-s.stopCh:
			return
		}
	}
}

func (s *BadgerStore) countError(op string) {
	if s.metricErrors != nil {
		s.metricErrors.WithLabelValues(op).Inc()
	}
}

// badgerLogger adapts slog.Logger to Badger's Logger interface.
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
