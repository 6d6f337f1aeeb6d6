package record

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/mattn/go-sqlite3"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS sirim_records (
	id            TEXT PRIMARY KEY,
	serial_number TEXT NOT NULL DEFAULT '',
	batch_number  TEXT NOT NULL DEFAULT '',
	brand         TEXT NOT NULL DEFAULT '',
	model         TEXT NOT NULL DEFAULT '',
	type          TEXT NOT NULL DEFAULT '',
	rating        TEXT NOT NULL DEFAULT '',
	size          TEXT NOT NULL DEFAULT '',
	image_path    TEXT NOT NULL DEFAULT '',
	is_verified   INTEGER NOT NULL DEFAULT 0,
	created_at    TIMESTAMP NOT NULL,
	updated_at    TIMESTAMP NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_sirim_records_serial
	ON sirim_records (serial_number) WHERE serial_number <> '';
CREATE INDEX IF NOT EXISTS idx_sirim_records_created ON sirim_records (created_at);
`

const recordColumns = `id, serial_number, batch_number, brand, model, type, rating, size,
	image_path, is_verified, created_at, updated_at`

// SQLiteDB implements the DB interface on SQLite.
// A partial unique index enforces one record per non-empty serial number.
type SQLiteDB struct {
	db *sqlx.DB
}

// NewSQLiteDB opens (and migrates) a SQLite database file
func NewSQLiteDB(path string) (*SQLiteDB, error) {
	db, err := sqlx.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("opening sqlite: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	return &SQLiteDB{db: db}, nil
}

// InsertRecord adds a new record
func (s *SQLiteDB) InsertRecord(record *Record) error {
	const q = `INSERT INTO sirim_records (` + recordColumns + `)
		VALUES (:id, :serial_number, :batch_number, :brand, :model, :type, :rating, :size,
			:image_path, :is_verified, :created_at, :updated_at)`
	if _, err := s.db.NamedExec(q, record); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s", ErrDuplicateSerial, record.SerialNumber)
		}
		return fmt.Errorf("inserting record: %w", err)
	}
	return nil
}

// SaveRecord overwrites an existing record
func (s *SQLiteDB) SaveRecord(record *Record) error {
	const q = `UPDATE sirim_records SET
		serial_number = :serial_number, batch_number = :batch_number, brand = :brand,
		model = :model, type = :type, rating = :rating, size = :size,
		image_path = :image_path, is_verified = :is_verified, updated_at = :updated_at
		WHERE id = :id`
	res, err := s.db.NamedExec(q, record)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s", ErrDuplicateSerial, record.SerialNumber)
		}
		return fmt.Errorf("updating record: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("updating record: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, record.ID)
	}
	return nil
}

// GetRecord retrieves a record by ID
func (s *SQLiteDB) GetRecord(id string) (*Record, error) {
	var record Record
	err := s.db.Get(&record, `SELECT `+recordColumns+` FROM sirim_records WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("getting record: %w", err)
	}
	return &record, nil
}

// FindBySerial retrieves the record holding a serial number
func (s *SQLiteDB) FindBySerial(serial string) (*Record, error) {
	var record Record
	err := s.db.Get(&record, `SELECT `+recordColumns+` FROM sirim_records WHERE serial_number = ? AND serial_number <> '' LIMIT 1`, serial)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: serial %s", ErrNotFound, serial)
	}
	if err != nil {
		return nil, fmt.Errorf("finding record by serial: %w", err)
	}
	return &record, nil
}

// ListRecords returns all records, newest first
func (s *SQLiteDB) ListRecords() ([]*Record, error) {
	records := make([]*Record, 0)
	if err := s.db.Select(&records, `SELECT `+recordColumns+` FROM sirim_records ORDER BY created_at DESC`); err != nil {
		return nil, fmt.Errorf("listing records: %w", err)
	}
	return records, nil
}

// DeleteRecord removes a record
func (s *SQLiteDB) DeleteRecord(id string) error {
	res, err := s.db.Exec(`DELETE FROM sirim_records WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting record: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("deleting record: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

// Close closes the database connection
func (s *SQLiteDB) Close() error {
	return s.db.Close()
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
	}
	return false
}
