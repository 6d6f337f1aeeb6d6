package record

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.etcd.io/bbolt"
)

const (
	recordBucketName = "records"
	serialBucketName = "serials"
)

var (
	// ErrNotFound is returned when no record matches
	ErrNotFound = errors.New("record not found")

	// ErrDuplicateSerial is returned when another record already has the serial number
	ErrDuplicateSerial = errors.New("duplicate serial number")
)

// DB defines the interface for record persistence
type DB interface {
	// InsertRecord adds a new record. It fails with ErrDuplicateSerial when
	// another record holds the same non-empty serial number.
	InsertRecord(record *Record) error

	// SaveRecord overwrites an existing record
	SaveRecord(record *Record) error

	// GetRecord retrieves a record by ID
	GetRecord(id string) (*Record, error)

	// FindBySerial retrieves the record holding a serial number
	FindBySerial(serial string) (*Record, error)

	// ListRecords returns all records, newest first
	ListRecords() ([]*Record, error)

	// DeleteRecord removes a record
	DeleteRecord(id string) error

	// Close closes the database connection
	Close() error
}

// BoltDB implements the DB interface using BoltDB.
// The serials bucket maps serial number to record ID.
type BoltDB struct {
	db *bbolt.DB
}

// NewBoltDB creates a new BoltDB instance
func NewBoltDB(path string) (*BoltDB, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening boltdb: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(recordBucketName)); err != nil {
			return err
		}
		if _, err := tx.CreateBucketIfNotExists([]byte(serialBucketName)); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating buckets: %w", err)
	}

	return &BoltDB{db: db}, nil
}

// InsertRecord adds a record and its serial index entry in one transaction
func (b *BoltDB) InsertRecord(record *Record) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		records := tx.Bucket([]byte(recordBucketName))
		serials := tx.Bucket([]byte(serialBucketName))

		if records.Get([]byte(record.ID)) != nil {
			return fmt.Errorf("record %s already exists", record.ID)
		}
		if record.SerialNumber != "" {
			if serials.Get([]byte(record.SerialNumber)) != nil {
				return fmt.Errorf("%w: %s", ErrDuplicateSerial, record.SerialNumber)
			}
			if err := serials.Put([]byte(record.SerialNumber), []byte(record.ID)); err != nil {
				return fmt.Errorf("indexing serial: %w", err)
			}
		}
		return putRecord(records, record)
	})
}

// SaveRecord updates a record, moving its serial index entry if the serial changed
func (b *BoltDB) SaveRecord(record *Record) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		records := tx.Bucket([]byte(recordBucketName))
		serials := tx.Bucket([]byte(serialBucketName))

		existing, err := getRecord(records, record.ID)
		if err != nil {
			return err
		}
		if existing.SerialNumber != record.SerialNumber {
			if record.SerialNumber != "" {
				if owner := serials.Get([]byte(record.SerialNumber)); owner != nil && string(owner) != record.ID {
					return fmt.Errorf("%w: %s", ErrDuplicateSerial, record.SerialNumber)
				}
				if err := serials.Put([]byte(record.SerialNumber), []byte(record.ID)); err != nil {
					return fmt.Errorf("indexing serial: %w", err)
				}
			}
			if existing.SerialNumber != "" {
				if err := serials.Delete([]byte(existing.SerialNumber)); err != nil {
					return fmt.Errorf("removing serial index: %w", err)
				}
			}
		}
		return putRecord(records, record)
	})
}

// GetRecord retrieves a record by ID
func (b *BoltDB) GetRecord(id string) (*Record, error) {
	var record *Record
	err := b.db.View(func(tx *bbolt.Tx) error {
		var err error
		record, err = getRecord(tx.Bucket([]byte(recordBucketName)), id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return record, nil
}

// FindBySerial retrieves a record through the serial index
func (b *BoltDB) FindBySerial(serial string) (*Record, error) {
	var record *Record
	err := b.db.View(func(tx *bbolt.Tx) error {
		id := tx.Bucket([]byte(serialBucketName)).Get([]byte(serial))
		if id == nil {
			return fmt.Errorf("%w: serial %s", ErrNotFound, serial)
		}
		var err error
		record, err = getRecord(tx.Bucket([]byte(recordBucketName)), string(id))
		return err
	})
	if err != nil {
		return nil, err
	}
	return record, nil
}

// ListRecords returns all records, newest first
func (b *BoltDB) ListRecords() ([]*Record, error) {
	records := make([]*Record, 0)
	err := b.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(recordBucketName))
		return bucket.ForEach(func(k, v []byte) error {
			var record Record
			if err := json.Unmarshal(v, &record); err != nil {
				return fmt.Errorf("unmarshaling record: %w", err)
			}
			records = append(records, &record)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].CreatedAt.After(records[j].CreatedAt)
	})
	return records, nil
}

// DeleteRecord removes a record and its serial index entry
func (b *BoltDB) DeleteRecord(id string) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		records := tx.Bucket([]byte(recordBucketName))
		existing, err := getRecord(records, id)
		if err != nil {
			return err
		}
		if existing.SerialNumber != "" {
			if err := tx.Bucket([]byte(serialBucketName)).Delete([]byte(existing.SerialNumber)); err != nil {
				return fmt.Errorf("removing serial index: %w", err)
			}
		}
		return records.Delete([]byte(id))
	})
}

// Close closes the database connection
func (b *BoltDB) Close() error {
	return b.db.Close()
}

func getRecord(bucket *bbolt.Bucket, id string) (*Record, error) {
	data := bucket.Get([]byte(id))
	if data == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	var record Record
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("unmarshaling record: %w", err)
	}
	return &record, nil
}

func putRecord(bucket *bbolt.Bucket, record *Record) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshaling record: %w", err)
	}
	return bucket.Put([]byte(record.ID), data)
}
