package scan

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/zombor/sirim-scanner/internal/label"
	"github.com/zombor/sirim-scanner/internal/record"
)

var (
	// ErrFrameDropped is returned when a frame arrives while another is being analysed
	ErrFrameDropped = errors.New("frame dropped: session busy")

	// ErrSessionBusy is returned when a retry is requested while a frame is being analysed
	ErrSessionBusy = errors.New("scan session busy")

	// ErrSessionClosed is returned for any work submitted after Close
	ErrSessionClosed = errors.New("scan session closed")

	// ErrSessionFinished is returned for frames submitted after the label was saved or found to be a duplicate
	ErrSessionFinished = errors.New("scan session finished")

	// ErrNothingToRetry is returned by Retry when no failed save is pending
	ErrNothingToRetry = errors.New("nothing to retry")
)

// Phase is the position of a session in the scan workflow
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseScanning
	PhasePartial
	PhaseReady
	PhasePersisted
	PhaseDuplicate
	PhaseError
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseScanning:
		return "scanning"
	case PhasePartial:
		return "partial"
	case PhaseReady:
		return "ready"
	case PhasePersisted:
		return "persisted"
	case PhaseDuplicate:
		return "duplicate"
	case PhaseError:
		return "error"
	default:
		return fmt.Sprintf("Phase(%d)", int(p))
	}
}

// MarshalText renders the phase as its name in JSON
func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// Finished reports whether the session has reached a terminal outcome
func (p Phase) Finished() bool {
	return p == PhasePersisted || p == PhaseDuplicate
}

const (
	msgAlign      = "Align the label within the guide"
	msgSearching  = "Still searching for readable text"
	msgReview     = "Review highlighted fields"
	msgHoldSteady = "Hold steady for clearer capture"
	msgCaptured   = "Data captured"
	msgSaved      = "Record saved"
)

// Status is what a client sees after each frame
type Status struct {
	Phase      Phase                     `json:"phase"`
	State      State                     `json:"state"`
	Message    string                    `json:"message"`
	Confidence float64                   `json:"confidence"`
	Frames     int                       `json:"frames"`
	Fields     []label.SanitizedField    `json:"fields"`             // Merged across frames
	Warnings   map[label.FieldKey]string `json:"warnings,omitempty"` // Latest frame only
	Errors     map[label.FieldKey]string `json:"errors,omitempty"`   // Latest frame only
	RecordID   string                    `json:"record_id,omitempty"`
}

// Frame is one captured image. Text and Barcode may be filled in by a
// client that already ran recognition; set Recognized to skip the
// recognizers. Release, if set, is called once the session is done with
// the frame, including when it is dropped.
type Frame struct {
	Image       []byte
	ContentType string
	Text        string
	Barcode     string
	Recognized  bool
	Release     func()
}

func (f Frame) release() {
	if f.Release != nil {
		f.Release()
	}
}

// Config wires a session to its collaborators. Text, Barcode and Store are
// optional; a session without a Store never saves.
type Config struct {
	Rules   *label.RuleSet
	Text    TextRecognizer
	Barcode BarcodeDecoder
	Store   Store
}

type pendingSave struct {
	values      map[label.FieldKey]string
	image       []byte
	contentType string
}

// Session turns a stream of frames from one label into at most one saved record
type Session struct {
	id        string
	extractor *label.Extractor
	validator *label.Validator
	text      TextRecognizer
	barcode   BarcodeDecoder
	store     Store

	ctx    context.Context
	cancel context.CancelFunc
	busy   atomic.Bool

	mu        sync.Mutex
	agg       *Aggregate
	status    Status
	gen       int // Bumped by Reset and Close so in-flight results are discarded
	attempted bool
	failure   string
	pending   *pendingSave
	closed    bool
}

// NewSession creates an idle session
func NewSession(id string, cfg Config) *Session {
	rules := cfg.Rules
	if rules == nil {
		rules = label.DefaultRules()
	}
	ctx, cancel := context.WithCancel(context.Background())

	return &Session{
		id:        id,
		extractor: label.NewExtractor(rules),
		validator: label.NewValidator(rules),
		text:      cfg.Text,
		barcode:   cfg.Barcode,
		store:     cfg.Store,
		ctx:       ctx,
		cancel:    cancel,
		agg:       NewAggregate(rules.Keys(), rules.Required()),
		status:    Status{Phase: PhaseIdle, Message: msgAlign},
	}
}

// ID returns the session ID
func (s *Session) ID() string {
	return s.id
}

// Status returns the current status
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Session) snapshotLocked() Status {
	st := s.status
	snap := s.agg.Snapshot()
	st.State = snap.State
	st.Confidence = snap.Confidence
	st.Frames = snap.Frames
	st.Fields = snap.Fields
	st.Warnings = maps.Clone(s.status.Warnings)
	st.Errors = maps.Clone(s.status.Errors)
	return st
}

// Submit analyses one frame. Only one frame is analysed at a time; a frame
// that arrives meanwhile is dropped with ErrFrameDropped.
func (s *Session) Submit(ctx context.Context, frame Frame) (Status, error) {
	defer frame.release()

	if !s.busy.CompareAndSwap(false, true) {
		if s.isClosed() {
			return Status{}, ErrSessionClosed
		}
		slog.Debug("Frame dropped", "session", s.id)
		return s.Status(), ErrFrameDropped
	}
	defer s.busy.Store(false)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return Status{}, ErrSessionClosed
	}
	if s.status.Phase.Finished() {
		st := s.snapshotLocked()
		s.mu.Unlock()
		return st, ErrSessionFinished
	}
	gen := s.gen
	index := s.agg.Snapshot().Frames + 1
	s.mu.Unlock()

	ctx, stop := s.bind(ctx)
	defer stop()

	return s.guard(gen, func() (Status, error) {
		return s.process(ctx, gen, index, frame)
	})
}

// Retry re-attempts a failed save with the fields captured so far
func (s *Session) Retry(ctx context.Context) (Status, error) {
	if !s.busy.CompareAndSwap(false, true) {
		return s.Status(), ErrSessionBusy
	}
	defer s.busy.Store(false)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return Status{}, ErrSessionClosed
	}
	if s.status.Phase != PhaseError || s.pending == nil {
		st := s.snapshotLocked()
		s.mu.Unlock()
		return st, ErrNothingToRetry
	}
	gen, job := s.gen, s.pending
	s.mu.Unlock()

	ctx, stop := s.bind(ctx)
	defer stop()

	slog.Info("Retrying save", "session", s.id, "serial", job.values[label.SerialNumber])
	return s.guard(gen, func() (Status, error) {
		return s.persist(ctx, gen, job)
	})
}

// Reset discards everything captured and returns the session to idle
func (s *Session) Reset() (Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return Status{}, ErrSessionClosed
	}
	s.gen++
	s.agg.Reset()
	s.status = Status{Phase: PhaseIdle, Message: msgAlign}
	s.attempted = false
	s.failure = ""
	s.pending = nil
	return s.snapshotLocked(), nil
}

// Close cancels the frame in flight and discards the aggregate
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.gen++
	s.agg.Reset()
	s.pending = nil
	s.mu.Unlock()

	s.cancel()
	slog.Debug("Scan session closed", "session", s.id)
}

// Busy reports whether a frame or retry is being processed. A frame
// submitted while busy will be dropped.
func (s *Session) Busy() bool {
	return s.busy.Load()
}

func (s *Session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// bind derives a context that also ends when the session is closed
func (s *Session) bind(ctx context.Context) (context.Context, func()) {
	ctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(s.ctx, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}

// guard turns a panic anywhere in fn into the error phase
func (s *Session) guard(gen int, fn func() (Status, error)) (st Status, err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Scan pipeline panicked", "session", s.id, "panic", r)
			st, err = s.fail(gen, fmt.Sprintf("Scan failed: %v", r))
		}
	}()
	return fn()
}

func (s *Session) fail(gen int, message string) (Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return Status{}, ErrSessionClosed
	}
	if gen == s.gen {
		s.status.Phase = PhaseError
		s.status.Message = message
		if s.attempted {
			s.failure = message
		}
	}
	return s.snapshotLocked(), nil
}

func (s *Session) process(ctx context.Context, gen, index int, frame Frame) (Status, error) {
	raw, err := s.recognize(ctx, index, frame)
	if err != nil {
		slog.Error("Recognition panicked", "session", s.id, "frame", index, "error", err)
		return s.fail(gen, fmt.Sprintf("Scan failed: %v", err))
	}
	if err := ctx.Err(); err != nil {
		return s.abandon(gen, err)
	}

	rec := classify(s.extractor, raw)
	var result label.Result
	if ex, ok := rec.(Extracted); ok {
		result = s.validator.Validate(ex.Fields)
	}

	job, st, err := s.apply(gen, rec, result, frame)
	if err != nil || job == nil {
		return st, err
	}
	return s.persist(ctx, gen, job)
}

// abandon ends a frame whose context was cancelled after it was analysed.
// The frame still counts unless the session was closed or reset meanwhile.
func (s *Session) abandon(gen int, cause error) (Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return Status{}, ErrSessionClosed
	}
	if gen == s.gen {
		s.agg.CountFrame()
	}
	return s.snapshotLocked(), cause
}

// recognize runs text recognition and barcode decoding side by side. A
// failing recognizer is logged and counts as reading nothing; only a panic
// is returned as an error.
func (s *Session) recognize(ctx context.Context, index int, frame Frame) (RawRecognition, error) {
	if frame.Recognized || len(frame.Image) == 0 {
		return RawRecognition{
			Text:       frame.Text,
			Barcode:    frame.Barcode,
			HasBarcode: frame.Barcode != "",
			FrameIndex: index,
		}, nil
	}

	var (
		g          errgroup.Group
		text       string
		payload    string
		hasBarcode bool
	)

	if s.text != nil {
		g.Go(func() (err error) {
			defer recoverInto(&err, "text recognizer")
			t, recErr := s.text.RecognizeText(ctx, frame.Image, frame.ContentType)
			if recErr != nil {
				slog.Warn("Text recognition failed", "session", s.id, "frame", index, "error", recErr)
				return nil
			}
			text = t
			return nil
		})
	}

	if s.barcode != nil {
		g.Go(func() (err error) {
			defer recoverInto(&err, "barcode decoder")
			p, ok, decErr := s.barcode.DecodeBarcode(ctx, frame.Image, frame.ContentType)
			if decErr != nil {
				slog.Warn("Barcode decoding failed", "session", s.id, "frame", index, "error", decErr)
				return nil
			}
			payload, hasBarcode = p, ok
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return RawRecognition{}, err
	}

	slog.Debug("Frame recognized", "session", s.id, "frame", index, "text_length", len(text), "barcode", hasBarcode)
	return RawRecognition{Text: text, Barcode: payload, HasBarcode: hasBarcode, FrameIndex: index}, nil
}

func recoverInto(err *error, what string) {
	if r := recover(); r != nil {
		*err = fmt.Errorf("%s panicked: %v", what, r)
	}
}

// apply folds one classified frame into the session. It returns a save job
// when the label just became complete for the first time.
func (s *Session) apply(gen int, rec Recognition, result label.Result, frame Frame) (*pendingSave, Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, Status{}, ErrSessionClosed
	}
	if gen != s.gen {
		// Reset while the frame was in flight
		return nil, s.snapshotLocked(), nil
	}

	s.agg.CountFrame()

	var (
		phase    Phase
		message  string
		warnings map[label.FieldKey]string
		errs     map[label.FieldKey]string
	)

	switch r := rec.(type) {
	case Empty:
		phase, message = PhaseScanning, msgAlign
	case Unreadable:
		phase, message = PhaseScanning, msgSearching
		slog.Debug("No label fields in frame", "session", s.id, "frame", r.Raw.FrameIndex)
	case Extracted:
		s.agg.Fold(result)
		warnings, errs = result.Warnings, result.Errors
		phase, message = PhasePartial, msgHoldSteady
		if s.agg.State() == StateReady {
			phase, message = PhaseReady, msgCaptured
		}
		if result.HasErrors() {
			message = msgReview
		}
	default:
		panic(fmt.Sprintf("unhandled recognition %T", rec))
	}

	if s.attempted {
		// A failed save holds the session in the error phase until Retry or Reset
		phase, message = PhaseError, s.failure
	}

	s.status.Phase = phase
	s.status.Message = message
	s.status.Warnings = warnings
	s.status.Errors = errs

	_, extracted := rec.(Extracted)
	if !extracted || s.store == nil || s.attempted || s.agg.State() != StateReady || result.HasErrors() {
		return nil, s.snapshotLocked(), nil
	}

	s.attempted = true
	job := &pendingSave{
		values:      s.agg.Snapshot().Values,
		image:       bytes.Clone(frame.Image),
		contentType: frame.ContentType,
	}
	s.pending = job
	return job, s.snapshotLocked(), nil
}

func (s *Session) persist(ctx context.Context, gen int, job *pendingSave) (Status, error) {
	phase, message, id, err := s.save(ctx, gen, job)
	if err != nil {
		if errors.Is(err, ErrSessionClosed) {
			return Status{}, err
		}
		// Reset while saving; the fresh session state wins
		return s.Status(), nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return Status{}, ErrSessionClosed
	}
	if gen != s.gen {
		return s.snapshotLocked(), nil
	}

	s.status.Phase = phase
	s.status.Message = message
	s.status.RecordID = id
	if phase == PhaseError {
		s.failure = message
	} else {
		s.pending = nil
	}
	return s.snapshotLocked(), nil
}

// errSuperseded is returned by checkpoint when the session was reset
var errSuperseded = errors.New("scan superseded by reset")

// checkpoint reports whether a save for gen may still write. It returns
// ErrSessionClosed or errSuperseded once Close or Reset has run.
func (s *Session) checkpoint(gen int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	if gen != s.gen {
		return errSuperseded
	}
	return nil
}

// save checks for a duplicate serial, stores the image and inserts the
// record. A failed insert removes the image again. Nothing is inserted once
// the session is closed or reset, even if the store ignores cancellation.
func (s *Session) save(ctx context.Context, gen int, job *pendingSave) (Phase, string, string, error) {
	serial := job.values[label.SerialNumber]

	existing, err := s.store.FindBySerial(ctx, serial)
	if cpErr := s.checkpoint(gen); cpErr != nil {
		slog.Info("Save abandoned", "session", s.id, "serial", serial, "reason", cpErr)
		return 0, "", "", cpErr
	}
	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		slog.Error("Failed to check for duplicate serial", "session", s.id, "serial", serial, "error", err)
		return PhaseError, fmt.Sprintf("Could not check for duplicates: %v", err), "", nil
	}
	if existing != nil {
		slog.Info("Duplicate serial detected", "session", s.id, "serial", serial, "existing_id", existing.ID)
		return PhaseDuplicate, duplicateMessage(serial), "", nil
	}

	var imagePath string
	if len(job.image) > 0 {
		imagePath, err = s.store.PersistImage(ctx, job.image, job.contentType)
		if err == nil {
			if cpErr := s.checkpoint(gen); cpErr != nil {
				s.removeImage(ctx, imagePath)
				slog.Info("Save abandoned", "session", s.id, "serial", serial, "reason", cpErr)
				return 0, "", "", cpErr
			}
			if err = ctx.Err(); err != nil {
				s.removeImage(ctx, imagePath)
			}
		}
		if err != nil {
			slog.Error("Failed to save label image", "session", s.id, "serial", serial, "error", err)
			return PhaseError, fmt.Sprintf("Could not save label image: %v", err), "", nil
		}
	}

	rec := record.FromFields(job.values)
	rec.ImagePath = imagePath

	id, err := s.insert(ctx, gen, rec)
	if errors.Is(err, ErrSessionClosed) || errors.Is(err, errSuperseded) {
		s.removeImage(ctx, imagePath)
		slog.Info("Save abandoned", "session", s.id, "serial", serial, "reason", err)
		return 0, "", "", err
	}
	if err != nil {
		s.removeImage(ctx, imagePath)
		if errors.Is(err, record.ErrDuplicateSerial) {
			slog.Info("Duplicate serial detected on insert", "session", s.id, "serial", serial)
			return PhaseDuplicate, duplicateMessage(serial), "", nil
		}
		slog.Error("Failed to save record", "session", s.id, "serial", serial, "error", err)
		return PhaseError, fmt.Sprintf("Could not save record: %v", err), "", nil
	}

	slog.Info("Label saved", "session", s.id, "serial", serial, "id", id)
	return PhasePersisted, msgSaved, id, nil
}

// insert writes the record while holding the session lock, so Close and
// Reset either happen before it (and nothing is written) or wait for it
func (s *Session) insert(ctx context.Context, gen int, rec *record.Record) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return "", ErrSessionClosed
	}
	if gen != s.gen {
		return "", errSuperseded
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return s.store.Insert(ctx, rec)
}

// removeImage deletes an image whose record was never inserted
func (s *Session) removeImage(ctx context.Context, path string) {
	if path == "" {
		return
	}
	if err := s.store.DeleteImage(context.WithoutCancel(ctx), path); err != nil {
		slog.Warn("Failed to remove orphaned image", "session", s.id, "path", path, "error", err)
	}
}

func duplicateMessage(serial string) string {
	return fmt.Sprintf("Duplicate serial detected: %s", serial)
}
