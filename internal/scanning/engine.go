package scanning

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

var (
	// ErrEngineNotInitialized is returned when recognition is requested before Init
	ErrEngineNotInitialized = errors.New("recognition engine not initialized")

	// ErrEngineUnavailable is returned when the engine failed to start or was closed
	ErrEngineUnavailable = errors.New("recognition engine unavailable")
)

// EngineStatus reports whether the recognition engine can serve requests
type EngineStatus int

const (
	EngineUninitialized EngineStatus = iota
	EngineReady
	EngineUnavailable
)

func (s EngineStatus) String() string {
	switch s {
	case EngineReady:
		return "ready"
	case EngineUnavailable:
		return "unavailable"
	default:
		return "uninitialized"
	}
}

// MarshalText renders the status as its name
func (s EngineStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// RecognizerFactory builds the backend recognizer during Init
type RecognizerFactory func(ctx context.Context) (Recognizer, error)

// Engine owns a single recognizer and hands it out one caller at a time.
// Callers block in RecognizeText until the recognizer is free or their
// context ends.
type Engine struct {
	factory RecognizerFactory

	mu      sync.Mutex
	status  EngineStatus
	initErr error
	slot    chan Recognizer
}

// NewEngine creates an uninitialized engine
func NewEngine(factory RecognizerFactory) *Engine {
	return &Engine{
		factory: factory,
		slot:    make(chan Recognizer, 1),
	}
}

// NewReadyEngine wraps an already constructed recognizer
func NewReadyEngine(r Recognizer) *Engine {
	e := NewEngine(func(context.Context) (Recognizer, error) { return r, nil })
	_, _ = e.Init(context.Background())
	return e
}

// Init builds the recognizer. It is safe to call more than once; only the
// first call does any work.
func (e *Engine) Init(ctx context.Context) (EngineStatus, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch e.status {
	case EngineReady:
		return e.status, nil
	case EngineUnavailable:
		return e.status, e.initErr
	}

	r, err := e.factory(ctx)
	if err != nil {
		e.status = EngineUnavailable
		e.initErr = fmt.Errorf("%w: %v", ErrEngineUnavailable, err)
		slog.Error("Recognition engine failed to start", "error", err)
		return e.status, e.initErr
	}

	e.slot <- r
	e.status = EngineReady
	slog.Info("Recognition engine ready")
	return e.status, nil
}

// Status returns the current engine status
func (e *Engine) Status() EngineStatus {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status
}

func (e *Engine) check() error {
	switch e.Status() {
	case EngineReady:
		return nil
	case EngineUnavailable:
		return ErrEngineUnavailable
	default:
		return ErrEngineNotInitialized
	}
}

// RecognizeText checks out the recognizer, transcribes the image and returns it
func (e *Engine) RecognizeText(ctx context.Context, imageData []byte, contentType string) (string, error) {
	if err := e.check(); err != nil {
		return "", err
	}

	var r Recognizer
	select {
	case r = <-e.slot:
	case <-ctx.Done():
		return "", ctx.Err()
	}
	defer func() { e.slot <- r }()

	return r.RecognizeText(ctx, imageData, contentType)
}

// Close waits for the in-flight recognition, then closes the recognizer.
// The engine is unavailable afterwards.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.status != EngineReady {
		e.status = EngineUnavailable
		e.initErr = ErrEngineUnavailable
		e.mu.Unlock()
		return nil
	}
	e.status = EngineUnavailable
	e.initErr = ErrEngineUnavailable
	e.mu.Unlock()

	r := <-e.slot
	return r.Close()
}
