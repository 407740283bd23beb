package persist

import (
	"errors"
	"time"

	bolt "github.com/rivine/bbolt"
)

// Metadata identifies the schema a database file was created with, so an
// incompatible file is rejected on open rather than silently misread.
type Metadata struct {
	Header  string
	Version string
}

var (
	// ErrBadHeader is returned when a database's header does not match the
	// expected value.
	ErrBadHeader = errors.New("persist: database header mismatch")
	// ErrBadVersion is returned when a database's version does not match the
	// expected value.
	ErrBadVersion = errors.New("persist: database version mismatch")
)

// BoltDatabase is a persist-level wrapper around the embedded bolt database,
// carrying a metadata header/version alongside the raw handle.
type BoltDatabase struct {
	Metadata
	*bolt.DB
}

// OpenDatabase opens (creating if necessary) a database at filename and
// validates its metadata, failing closed on any mismatch so an operator
// never points the agent at the wrong data directory by accident.
func OpenDatabase(md Metadata, filename string) (*BoltDatabase, error) {
	db, err := bolt.Open(filename, 0600, &bolt.Options{Timeout: 3 * time.Second})
	if err != nil {
		return nil, err
	}

	boltDB := &BoltDatabase{Metadata: md, DB: db}
	if err := boltDB.checkMetadata(md); err != nil {
		db.Close()
		return nil, err
	}
	return boltDB, nil
}

func (db *BoltDatabase) checkMetadata(md Metadata) error {
	return db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte("Metadata"))
		if bucket == nil {
			return db.writeMetadata(tx)
		}
		if header := bucket.Get([]byte("Header")); string(header) != md.Header {
			return ErrBadHeader
		}
		if version := bucket.Get([]byte("Version")); string(version) != md.Version {
			return ErrBadVersion
		}
		return nil
	})
}

func (db *BoltDatabase) writeMetadata(tx *bolt.Tx) error {
	bucket, err := tx.CreateBucketIfNotExists([]byte("Metadata"))
	if err != nil {
		return err
	}
	if err := bucket.Put([]byte("Header"), []byte(db.Header)); err != nil {
		return err
	}
	return bucket.Put([]byte("Version"), []byte(db.Version))
}

// Close closes the underlying database.
func (db *BoltDatabase) Close() error {
	return db.DB.Close()
}
