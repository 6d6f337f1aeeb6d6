package label

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// Status is the outcome of validating one field
type Status int

const (
	Valid Status = iota
	Warning
	Error
)

func (s Status) String() string {
	switch s {
	case Valid:
		return "valid"
	case Warning:
		return "warning"
	case Error:
		return "error"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// MarshalText renders the status as its name in JSON
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a status name
func (s *Status) UnmarshalText(b []byte) error {
	switch string(b) {
	case "valid":
		*s = Valid
	case "warning":
		*s = Warning
	case "error":
		*s = Error
	default:
		return fmt.Errorf("unknown status %q", string(b))
	}
	return nil
}

// SanitizedField is a cleaned field value with its validation status
type SanitizedField struct {
	Key     FieldKey `json:"key"`
	Value   string   `json:"value"`
	Status  Status   `json:"status"`
	Message string   `json:"message,omitempty"`
}

// Result holds the validator output. Sanitized only contains fields with a
// usable value; missing optional fields show up in Warnings only.
type Result struct {
	Sanitized map[FieldKey]SanitizedField
	Warnings  map[FieldKey]string
	Errors    map[FieldKey]string
}

// HasErrors reports whether any blocking error was found
func (r Result) HasErrors() bool {
	return len(r.Errors) > 0
}

// Validator sanitises extracted fields and checks them against the rule table
type Validator struct {
	rules *RuleSet
}

// NewValidator creates a Validator for the given rule set
func NewValidator(rules *RuleSet) *Validator {
	return &Validator{rules: rules}
}

// Validate is pure: the same input always yields the same Result.
// Keys without a rule are ignored.
func (v *Validator) Validate(fields map[FieldKey]string) Result {
	res := Result{
		Sanitized: make(map[FieldKey]SanitizedField),
		Warnings:  make(map[FieldKey]string),
		Errors:    make(map[FieldKey]string),
	}

	for _, r := range v.rules.rules {
		key := r.Key
		name := key.DisplayName()
		raw := strings.TrimSpace(fields[key])

		value, stripped, truncated := r.sanitize(raw)
		if value == "" {
			switch {
			case r.Required && raw != "":
				res.Errors[key] = r.formatMessage()
			case r.Required:
				res.Errors[key] = fmt.Sprintf("%s is required", name)
			default:
				res.Warnings[key] = fmt.Sprintf("%s not detected", name)
			}
			continue
		}

		var problem string
		switch {
		case r.format != nil && !r.format.MatchString(value):
			problem = r.formatMessage()
		case r.Required && (stripped || truncated):
			problem = r.formatMessage()
		case truncated:
			problem = fmt.Sprintf("%s was truncated to %d characters", name, r.MaxLength)
		case stripped:
			problem = fmt.Sprintf("%s contained unsupported characters", name)
		}

		if problem == "" {
			res.Sanitized[key] = SanitizedField{Key: key, Value: value, Status: Valid}
			continue
		}
		if r.Required {
			res.Errors[key] = problem
			continue
		}
		res.Warnings[key] = problem
		res.Sanitized[key] = SanitizedField{Key: key, Value: value, Status: Warning, Message: problem}
	}
	return res
}

func (r *compiledRule) sanitize(raw string) (value string, stripped, truncated bool) {
	v := collapseSpaces(raw)
	if r.Uppercase {
		v = strings.ToUpper(v)
	}
	clean := r.strip.ReplaceAllString(v, "")
	stripped = clean != v
	clean = collapseSpaces(clean)
	if utf8.RuneCountInString(clean) > r.MaxLength {
		clean = strings.TrimSpace(string([]rune(clean)[:r.MaxLength]))
		truncated = true
	}
	return clean, stripped, truncated
}

func (r *compiledRule) formatMessage() string {
	if r.Message != "" {
		return r.Message
	}
	return fmt.Sprintf("%s has an unexpected format", r.Key.DisplayName())
}
