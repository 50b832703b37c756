package transfer

import (
	"errors"
	"os"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"
)

var archivesBucket = []byte("archives")

// Ledger persists the deletion deadlines of served archives,
// so archives left behind by a previous process are removed on the next start.
type Ledger struct {
	db *bbolt.DB
}

// OpenLedger opens or creates the database at filename.
func OpenLedger(filename string) (*Ledger, error) {
	err := os.MkdirAll(filepath.Dir(filename), 0o750)
	if err != nil {
		return nil, err
	}
	db, err := bbolt.Open(filename, 0o640, &bbolt.Options{Timeout: time.Second})
	if errors.Is(err, bbolt.ErrTimeout) {
		return nil, errors.New("archive database is locked by another process")
	} else if err != nil {
		return nil, err
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err2 := tx.CreateBucketIfNotExists(archivesBucket)
		return err2
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &Ledger{db: db}, nil
}

// Put records that the archive at path must be deleted at deadline.
func (l *Ledger) Put(path string, deadline time.Time) error {
	return l.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(archivesBucket)
		return b.Put([]byte(path), []byte(deadline.UTC().Format(time.RFC3339)))
	})
}

// Delete forgets the archive at path.
func (l *Ledger) Delete(path string) error {
	return l.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(archivesBucket).Delete([]byte(path))
	})
}

// Entries returns every recorded archive with its deadline.
// Entries with unreadable deadlines are returned as already expired.
func (l *Ledger) Entries() (map[string]time.Time, error) {
	entries := make(map[string]time.Time)
	err := l.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(archivesBucket).ForEach(func(k, v []byte) error {
			t, err := time.ParseInLocation(time.RFC3339, string(v), time.UTC)
			if err != nil {
				t = time.Time{}
			}
			entries[string(k)] = t
			return nil
		})
	})
	return entries, err
}

// Close the database.
func (l *Ledger) Close() error {
	return l.db.Close()
}
