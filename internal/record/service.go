package record

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/zombor/sirim-scanner/internal/scanning"
)

// ErrInvalidRecord is returned when a manually entered record fails validation
var ErrInvalidRecord = errors.New("invalid record")

// IDGenerator generates unique IDs for records and images
type IDGenerator interface {
	Generate() string
}

// TimeSource provides the current time
type TimeSource interface {
	Now() time.Time
}

type uuidGenerator struct{}

func (g *uuidGenerator) Generate() string {
	return uuid.NewString()
}

type defaultTimeSource struct{}

func (t *defaultTimeSource) Now() time.Time {
	return time.Now().UTC()
}

// Input is the record form submitted by a user
type Input struct {
	SerialNumber string `json:"serial_number" validate:"required,alphanum,min=4,max=12"`
	BatchNumber  string `json:"batch_number" validate:"max=40"`
	Brand        string `json:"brand" validate:"max=80"`
	Model        string `json:"model" validate:"max=60"`
	Type         string `json:"type" validate:"max=60"`
	Rating       string `json:"rating" validate:"max=30"`
	Size         string `json:"size" validate:"max=30"`
	IsVerified   bool   `json:"is_verified"`
}

func (in *Input) normalize() {
	in.SerialNumber = strings.ToUpper(strings.TrimSpace(in.SerialNumber))
	for _, p := range []*string{&in.BatchNumber, &in.Brand, &in.Model, &in.Type, &in.Rating, &in.Size} {
		*p = strings.Join(strings.Fields(*p), " ")
	}
}

// Service handles record operations
type Service struct {
	db          DB
	storage     Storage
	idGenerator IDGenerator
	timeSource  TimeSource
	validate    *validator.Validate
}

// NewService creates a new Service with UUID IDs and the wall clock
func NewService(db DB, storage Storage) *Service {
	return NewServiceWithDeps(db, storage, &uuidGenerator{}, &defaultTimeSource{})
}

// NewServiceWithDeps creates a new Service with custom dependencies for testing
func NewServiceWithDeps(db DB, storage Storage, idGen IDGenerator, timeSrc TimeSource) *Service {
	return &Service{
		db:          db,
		storage:     storage,
		idGenerator: idGen,
		timeSource:  timeSrc,
		validate:    validator.New(),
	}
}

// FindBySerial returns the record holding serial, or nil when there is none
func (s *Service) FindBySerial(_ context.Context, serial string) (*Record, error) {
	record, err := s.db.FindBySerial(serial)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("finding record by serial: %w", err)
	}
	return record, nil
}

// Insert stores a new record and returns its ID
func (s *Service) Insert(ctx context.Context, record *Record) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("saving record: %w", err)
	}
	now := s.timeSource.Now()
	record.ID = s.idGenerator.Generate()
	record.CreatedAt = now
	record.UpdatedAt = now

	if err := s.db.InsertRecord(record); err != nil {
		return "", fmt.Errorf("saving record to database: %w", err)
	}
	slog.Info("Record saved", "id", record.ID, "serial", record.SerialNumber)
	return record.ID, nil
}

// PersistImage stores a captured frame as JPEG and returns its storage path
func (s *Service) PersistImage(ctx context.Context, data []byte, contentType string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("saving image: %w", err)
	}
	jpeg, err := scanning.ToJPEG(data, contentType)
	if err != nil {
		return "", fmt.Errorf("converting image: %w", err)
	}
	path, err := s.storage.Save(ctx, fmt.Sprintf("sirim_%s.jpg", s.idGenerator.Generate()), jpeg)
	if err != nil {
		return "", fmt.Errorf("saving image: %w", err)
	}
	return path, nil
}

// DeleteImage removes a stored image
func (s *Service) DeleteImage(ctx context.Context, path string) error {
	if err := s.storage.Delete(ctx, path); err != nil {
		return fmt.Errorf("deleting image: %w", err)
	}
	return nil
}

// CreateRecord validates a manually entered record and stores it
func (s *Service) CreateRecord(ctx context.Context, in Input) (*Record, error) {
	in.normalize()
	if err := s.validate.Struct(in); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRecord, err)
	}

	existing, err := s.FindBySerial(ctx, in.SerialNumber)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateSerial, in.SerialNumber)
	}

	record := &Record{}
	applyInput(record, in)
	if _, err := s.Insert(ctx, record); err != nil {
		return nil, err
	}
	return record, nil
}

// UpdateRecord validates and applies a form edit to an existing record
func (s *Service) UpdateRecord(ctx context.Context, id string, in Input) (*Record, error) {
	in.normalize()
	if err := s.validate.Struct(in); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRecord, err)
	}

	record, err := s.db.GetRecord(id)
	if err != nil {
		return nil, fmt.Errorf("getting record: %w", err)
	}

	existing, err := s.FindBySerial(ctx, in.SerialNumber)
	if err != nil {
		return nil, err
	}
	if existing != nil && existing.ID != id {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateSerial, in.SerialNumber)
	}

	applyInput(record, in)
	record.UpdatedAt = s.timeSource.Now()
	if err := s.db.SaveRecord(record); err != nil {
		return nil, fmt.Errorf("updating record: %w", err)
	}
	return record, nil
}

func applyInput(record *Record, in Input) {
	record.SerialNumber = in.SerialNumber
	record.BatchNumber = in.BatchNumber
	record.Brand = in.Brand
	record.Model = in.Model
	record.Type = in.Type
	record.Rating = in.Rating
	record.Size = in.Size
	record.IsVerified = in.IsVerified
}

// GetRecord retrieves a record by ID
func (s *Service) GetRecord(id string) (*Record, error) {
	record, err := s.db.GetRecord(id)
	if err != nil {
		return nil, fmt.Errorf("getting record: %w", err)
	}
	return record, nil
}

// ListRecords returns all records, newest first
func (s *Service) ListRecords() ([]*Record, error) {
	records, err := s.db.ListRecords()
	if err != nil {
		return nil, fmt.Errorf("listing records: %w", err)
	}
	return records, nil
}

// SearchRecords returns the records with any field containing query
func (s *Service) SearchRecords(query string) ([]*Record, error) {
	records, err := s.ListRecords()
	if err != nil {
		return nil, err
	}
	matches := make([]*Record, 0, len(records))
	for _, r := range records {
		if r.Matches(query) {
			matches = append(matches, r)
		}
	}
	return matches, nil
}

// RecentRecords returns at most n of the newest records
func (s *Service) RecentRecords(n int) ([]*Record, error) {
	records, err := s.ListRecords()
	if err != nil {
		return nil, err
	}
	if len(records) > n {
		records = records[:n]
	}
	return records, nil
}

// DeleteRecord removes a record and its image
func (s *Service) DeleteRecord(ctx context.Context, id string) error {
	record, err := s.db.GetRecord(id)
	if err != nil {
		return fmt.Errorf("getting record for deletion: %w", err)
	}

	if record.ImagePath != "" {
		if err := s.storage.Delete(ctx, record.ImagePath); err != nil {
			// Log error but continue with database deletion
			slog.Warn("Failed to delete image", "path", record.ImagePath, "error", err)
		}
	}

	if err := s.db.DeleteRecord(id); err != nil {
		return fmt.Errorf("deleting record from database: %w", err)
	}
	return nil
}

// GetRecordImage retrieves the stored image for a record
func (s *Service) GetRecordImage(ctx context.Context, id string) ([]byte, error) {
	record, err := s.db.GetRecord(id)
	if err != nil {
		return nil, fmt.Errorf("getting record: %w", err)
	}
	if record.ImagePath == "" {
		return nil, fmt.Errorf("%w: record %s has no image", ErrNotFound, id)
	}
	data, err := s.storage.Get(ctx, record.ImagePath)
	if err != nil {
		return nil, fmt.Errorf("getting record image: %w", err)
	}
	return data, nil
}
