package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dgraph-io/badger/v4"
	"github.com/klauspost/compress/zstd"

	"github.com/cwbudde/photofingerprint/internal/metrics"
)

const recordPrefix = "fp/"

// BadgerStore keeps records in an embedded Badger database as
// zstd-compressed JSON under "fp/<id>".
type BadgerStore struct {
	db  *badger.DB
	enc *zstd.Encoder
	dec *zstd.Decoder
}

// NewBadgerStore opens (or creates) a Badger database in dir. An empty dir
// opens an in-memory database.
func NewBadgerStore(dir string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(dir)
	if dir == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	opts = opts.
		WithLogger(nil).
		WithMemTableSize(16 << 20).
		WithValueLogFileSize(64 << 20).
		WithNumMemtables(2)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open BadgerDB: %w", err)
	}

	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		enc.Close()
		db.Close()
		return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
	}

	return &BadgerStore{db: db, enc: enc, dec: dec}, nil
}

func recordKey(id string) []byte {
	return []byte(recordPrefix + id)
}

func (s *BadgerStore) encode(rec *Record) ([]byte, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize record: %w", err)
	}
	return s.enc.EncodeAll(data, make([]byte, 0, len(data)/2)), nil
}

func (s *BadgerStore) decode(value []byte) (*Record, error) {
	data, err := s.dec.DecodeAll(value, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress record: %w", err)
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to deserialize record: %w", err)
	}
	return &rec, nil
}

// Save validates and writes rec in one transaction.
func (s *BadgerStore) Save(rec *Record) (err error) {
	defer func() { metrics.StoreOp(KindBadger, "save", err) }()

	if rec == nil {
		return fmt.Errorf("record cannot be nil")
	}
	if err := rec.Validate(); err != nil {
		return err
	}

	value, err := s.encode(rec)
	if err != nil {
		return err
	}

	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(recordKey(rec.ID), value)
	})
}

// Load retrieves the record with the given ID.
func (s *BadgerStore) Load(id string) (rec *Record, err error) {
	defer func() { metrics.StoreOp(KindBadger, "load", err) }()

	if err := validateID(id); err != nil {
		return nil, err
	}

	err = s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(recordKey(id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return &NotFoundError{ID: id}
		} else if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			rec, err = s.decode(val)
			return err
		})
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// List returns metadata for all records, oldest first.
func (s *BadgerStore) List() ([]RecordInfo, error) {
	infos := []RecordInfo{}
	err := s.Walk(func(rec *Record) error {
		infos = append(infos, rec.ToInfo())
		return nil
	})
	if err != nil {
		return nil, err
	}
	sortInfos(infos)
	return infos, nil
}

// Walk visits every record in key order. Undecodable values are skipped
// with a warning.
func (s *BadgerStore) Walk(fn func(*Record) error) error {
	return s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = true
		opts.PrefetchSize = 64
		opts.Prefix = []byte(recordPrefix)

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			var rec *Record
			err := item.Value(func(val []byte) error {
				var derr error
				rec, derr = s.decode(val)
				return derr
			})
			if err != nil {
				slog.Warn("Failed to decode record", "key", string(item.Key()), "error", err)
				continue
			}
			if err := fn(rec); err != nil {
				return err
			}
		}
		return nil
	})
}

// Delete removes the record with the given ID.
func (s *BadgerStore) Delete(id string) (err error) {
	defer func() { metrics.StoreOp(KindBadger, "delete", err) }()

	if err := validateID(id); err != nil {
		return err
	}

	return s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(recordKey(id)); errors.Is(err, badger.ErrKeyNotFound) {
			return &NotFoundError{ID: id}
		} else if err != nil {
			return err
		}
		return txn.Delete(recordKey(id))
	})
}

// Close flushes and closes the database.
func (s *BadgerStore) Close() error {
	s.enc.Close()
	s.dec.Close()
	return s.db.Close()
}
