package storage

import (
	"fmt"
	"log/slog"
	"time"

	badger "github.com/dgraph-io/badger/v3"
	json "github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/weft-io/weft/internal/domain"
)

const (
	prefixGraph    = "graph:"
	prefixExec     = "exec:"
	prefixSchedule = "sched:"
	prefixAudit    = "audit:"
)

// Store persists graphs, execution results, schedules and audit entries in
// a badger key-value database, one JSON document per key.
type Store struct {
	db     *badger.DB
	logger *slog.Logger
}

// New opens or creates a store at the given path.
func New(path string, logger *slog.Logger) (*Store, error) {
	opts := badger.DefaultOptions(path).
		WithLogger(nil).
		WithCompactL0OnClose(true)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open storage at %s: %w", path, err)
	}

	return &Store{
		db:     db,
		logger: logger.With("component", "storage"),
	}, nil
}

// NewInMemory opens an ephemeral store. Used by tests and dry environments.
func NewInMemory(logger *slog.Logger) (*Store, error) {
	opts := badger.DefaultOptions("").
		WithInMemory(true).
		WithLogger(nil)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open in-memory storage: %w", err)
	}

	return &Store{
		db:     db,
		logger: logger.With("component", "storage"),
	}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) put(key string, value interface{}) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", key, err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), data)
	})
}

func (s *Store) get(key string, target interface{}) error {
	return s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, target)
		})
	})
}

func (s *Store) delete(key string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(key))
	})
}

func (s *Store) exists(key string) (bool, error) {
	err := s.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get([]byte(key))
		return err
	})
	if err == badger.ErrKeyNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// scanPrefix streams every value under a prefix into handle.
func (s *Store) scanPrefix(prefix string, handle func(val []byte) error) error {
	return s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(prefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if err := it.Item().Value(handle); err != nil {
				return err
			}
		}
		return nil
	})
}

func notFound(resource, id string, err error) error {
	if err == badger.ErrKeyNotFound {
		return domain.NewNotFoundError(resource, id)
	}
	return err
}

func auditKey(at time.Time) string {
	return fmt.Sprintf("%s%020d:%s", prefixAudit, at.UnixNano(), uuid.New().String())
}
