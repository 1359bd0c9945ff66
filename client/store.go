package main

import (
	"encoding/binary"
	"encoding/json"
	"time"

	"github.com/dgraph-io/badger/v3"
	"github.com/pkg/errors"
)

var (
	historyPrefix = []byte("dl/")
	servePrefix   = []byte("serve/")
)

// HistoryEntry is one finished download.
type HistoryEntry struct {
	Filename   string `json:"filename"`
	Bytes      int64  `json:"bytes"`
	Pieces     int    `json:"pieces"`
	Duration   string `json:"duration"`
	FinishedAt string `json:"finished_at"`
}

// Store is the daemon's persistent state: download history and
// per-file serve counters. Badger is single-process, so only the
// daemon opens it; CLI invocations go through the admin surface.
type Store struct {
	db *badger.DB
}

func OpenStore(dir string) (*Store, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, errors.Wrapf(err, "open store at %s", dir)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// RecordDownload appends one history entry, keyed by completion time
// so iteration returns chronological order.
func (s *Store) RecordDownload(entry HistoryEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	key := append(append([]byte{}, historyPrefix...),
		[]byte(time.Now().UTC().Format("2006-01-02T15:04:05.000000000Z07:00")+"/"+entry.Filename)...)
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, data)
	})
}

// History returns every recorded download, oldest first.
func (s *Store) History() ([]HistoryEntry, error) {
	var entries []HistoryEntry
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = historyPrefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				var entry HistoryEntry
				if err := json.Unmarshal(val, &entry); err != nil {
					return err
				}
				entries = append(entries, entry)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	return entries, err
}

// IncrServeCount bumps the number of pieces served for a file.
func (s *Store) IncrServeCount(filename string) error {
	key := append(append([]byte{}, servePrefix...), filename...)
	return s.db.Update(func(txn *badger.Txn) error {
		var count uint64
		item, err := txn.Get(key)
		if err == nil {
			err = item.Value(func(val []byte) error {
				if len(val) == 8 {
					count = binary.BigEndian.Uint64(val)
				}
				return nil
			})
			if err != nil {
				return err
			}
		} else if err != badger.ErrKeyNotFound {
			return err
		}

		buf := make([]byte, 8)
		binary.BigEndian.PutUint64(buf, count+1)
		return txn.Set(key, buf)
	})
}

// ServeCount reads the number of pieces served for a file.
func (s *Store) ServeCount(filename string) (uint64, error) {
	var count uint64
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(append(append([]byte{}, servePrefix...), filename...))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			if len(val) == 8 {
				count = binary.BigEndian.Uint64(val)
			}
			return nil
		})
	})
	return count, err
}
