package record

import (
	"strings"
	"time"

	"github.com/zombor/sirim-scanner/internal/label"
)

// Record is a captured SIRIM label
type Record struct {
	ID           string    `json:"id" db:"id"`
	SerialNumber string    `json:"serial_number" db:"serial_number"`
	BatchNumber  string    `json:"batch_number" db:"batch_number"`
	Brand        string    `json:"brand" db:"brand"`
	Model        string    `json:"model" db:"model"`
	Type         string    `json:"type" db:"type"`
	Rating       string    `json:"rating" db:"rating"`
	Size         string    `json:"size" db:"size"`
	ImagePath    string    `json:"image_path,omitempty" db:"image_path"` // Empty when no image was stored
	IsVerified   bool      `json:"is_verified" db:"is_verified"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time `json:"updated_at" db:"updated_at"`
}

// FromFields builds an unsaved record from label field values
func FromFields(fields map[label.FieldKey]string) *Record {
	r := &Record{}
	for key, value := range fields {
		r.SetField(key, value)
	}
	return r
}

// Field returns the value stored for key
func (r *Record) Field(key label.FieldKey) string {
	if p := r.fieldPtr(key); p != nil {
		return *p
	}
	return ""
}

// SetField stores value under key. Unknown keys are ignored.
func (r *Record) SetField(key label.FieldKey, value string) {
	if p := r.fieldPtr(key); p != nil {
		*p = value
	}
}

func (r *Record) fieldPtr(key label.FieldKey) *string {
	switch key {
	case label.SerialNumber:
		return &r.SerialNumber
	case label.BatchNumber:
		return &r.BatchNumber
	case label.Brand:
		return &r.Brand
	case label.Model:
		return &r.Model
	case label.Type:
		return &r.Type
	case label.Rating:
		return &r.Rating
	case label.Size:
		return &r.Size
	}
	return nil
}

// Values returns the field values in export column order
func (r *Record) Values() []string {
	out := make([]string, len(label.Keys))
	for i, k := range label.Keys {
		out[i] = r.Field(k)
	}
	return out
}

// Matches reports whether any field contains query, ignoring case
func (r *Record) Matches(query string) bool {
	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" {
		return true
	}
	for _, v := range r.Values() {
		if strings.Contains(strings.ToLower(v), query) {
			return true
		}
	}
	return false
}
