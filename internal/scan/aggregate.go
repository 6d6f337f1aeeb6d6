package scan

import (
	"fmt"

	"github.com/zombor/sirim-scanner/internal/label"
)

// State summarises how much of a label has been captured
type State int

const (
	StateEmpty State = iota
	StatePartial
	StateReady
)

func (s State) String() string {
	switch s {
	case StateEmpty:
		return "empty"
	case StatePartial:
		return "partial"
	case StateReady:
		return "ready"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// MarshalText renders the state as its name in JSON
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

const (
	coverageWeight  = 0.7
	stabilityWeight = 0.3
)

// Aggregate merges validated fields across the frames of one scan session.
// It is not safe for concurrent use; Session serialises access.
type Aggregate struct {
	keys     []label.FieldKey
	required []label.FieldKey

	fields     map[label.FieldKey]label.SanitizedField
	frames     int
	streak     int
	confidence float64
	state      State
}

// Snapshot is a copy of the aggregate at one point in time
type Snapshot struct {
	State      State
	Fields     []label.SanitizedField // In field key order
	Values     map[label.FieldKey]string
	Confidence float64
	Frames     int
}

// NewAggregate creates an empty aggregate for the given field keys
func NewAggregate(keys, required []label.FieldKey) *Aggregate {
	a := &Aggregate{keys: keys, required: required}
	a.Reset()
	return a
}

// Reset discards everything captured so far
func (a *Aggregate) Reset() {
	a.fields = make(map[label.FieldKey]label.SanitizedField)
	a.frames = 0
	a.streak = 0
	a.confidence = 0
	a.state = StateEmpty
}

// CountFrame records that a frame was analysed, whatever its outcome
func (a *Aggregate) CountFrame() {
	a.frames++
}

// Fold merges one frame's validation result. A stored field is only
// replaced by a strictly better status, so later frames fill gaps but never
// overwrite or erase what was captured.
func (a *Aggregate) Fold(res label.Result) {
	for key, field := range res.Sanitized {
		if field.Status == label.Error || field.Value == "" {
			continue
		}
		current, ok := a.fields[key]
		if !ok || field.Status < current.Status {
			a.fields[key] = field
		}
	}

	a.updateStreak(res)
	a.state = a.evaluate()
	a.confidence = a.score()
}

// updateStreak counts consecutive frames that read the merged serial number
func (a *Aggregate) updateStreak(res label.Result) {
	merged, ok := a.fields[label.SerialNumber]
	if !ok {
		return
	}
	seen, ok := res.Sanitized[label.SerialNumber]
	if !ok || seen.Value == "" {
		return
	}
	if seen.Value == merged.Value {
		a.streak++
		return
	}
	a.streak = 0
}

func (a *Aggregate) evaluate() State {
	if len(a.fields) == 0 {
		return StateEmpty
	}
	for _, key := range a.required {
		field, ok := a.fields[key]
		if !ok || field.Status != label.Valid {
			return StatePartial
		}
	}
	return StateReady
}

func (a *Aggregate) score() float64 {
	if len(a.keys) == 0 {
		return 0
	}
	var covered float64
	for _, field := range a.fields {
		switch field.Status {
		case label.Valid:
			covered++
		case label.Warning:
			covered += 0.5
		}
	}
	coverage := covered / float64(len(a.keys))
	stability := 1 - 1/float64(1+a.streak)
	return coverageWeight*coverage + stabilityWeight*stability
}

// State returns the current aggregate state
func (a *Aggregate) State() State {
	return a.state
}

// Snapshot copies the merged fields and metrics
func (a *Aggregate) Snapshot() Snapshot {
	snap := Snapshot{
		State:      a.state,
		Fields:     make([]label.SanitizedField, 0, len(a.fields)),
		Values:     make(map[label.FieldKey]string, len(a.fields)),
		Confidence: a.confidence,
		Frames:     a.frames,
	}
	for _, key := range a.keys {
		if field, ok := a.fields[key]; ok {
			snap.Fields = append(snap.Fields, field)
			snap.Values[key] = field.Value
		}
	}
	return snap
}
