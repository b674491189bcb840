package livedetect

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/visionarypath/sight/logging"
	"github.com/visionarypath/sight/ml"
	"github.com/visionarypath/sight/rimage"
	"github.com/visionarypath/sight/services/mlmodel"
)

// Preprocessor turns the captured canvas into a session's input tensors.
type Preprocessor func(ctx context.Context, canvas *rimage.Canvas) (ml.Tensors, error)

// Postprocessor draws a session's outputs onto the canvas. It gets the inference time of the
// same cycle.
type Postprocessor func(ctx context.Context, out ml.Tensors, inference time.Duration, canvas *rimage.Canvas) error

// Stages are the collaborator stages run around inference for one session.
type Stages struct {
	Preprocess  Preprocessor
	Postprocess Postprocessor
}

// StageBuilder builds the stages for a newly installed session, usually from its metadata.
type StageBuilder func(ctx context.Context, session mlmodel.Session) (Stages, error)

// SessionHolder owns the current model session and its stages. The scheduler takes them once
// per cycle, so swapping them while idle is safe.
type SessionHolder struct {
	build  StageBuilder
	logger logging.Logger

	mu      sync.RWMutex
	name    string
	id      string
	session mlmodel.Session
	stages  Stages
}

// NewSessionHolder returns an empty holder building stages with build.
func NewSessionHolder(build StageBuilder, logger logging.Logger) *SessionHolder {
	return &SessionHolder{build: build, logger: logger}
}

// Install builds the stages for session and makes it current, closing the session it replaces.
// If the stages cannot be built the current session stays.
func (h *SessionHolder) Install(ctx context.Context, name string, session mlmodel.Session) error {
	if session == nil {
		return ErrNoSession
	}
	stages, err := h.build(ctx, session)
	if err != nil {
		return errors.Wrapf(err, "cannot build pipeline for model %q", name)
	}
	if stages.Preprocess == nil || stages.Postprocess == nil {
		return errors.Errorf("pipeline for model %q is missing a stage", name)
	}

	h.mu.Lock()
	old, oldName := h.session, h.name
	h.name, h.id, h.session, h.stages = name, uuid.NewString(), session, stages
	id := h.id
	h.mu.Unlock()

	h.logger.CInfow(ctx, "model session installed", "model", name, "session_id", id)
	if old == nil || old == session {
		return nil
	}
	if err := old.Close(ctx); err != nil {
		return errors.Wrapf(err, "failed to close replaced model %q", oldName)
	}
	return nil
}

// Current returns the session and stages for one cycle, or ErrNoSession.
func (h *SessionHolder) Current() (mlmodel.Session, Stages, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.session == nil {
		return nil, Stages{}, ErrNoSession
	}
	return h.session, h.stages, nil
}

// Name returns the current model name, or "".
func (h *SessionHolder) Name() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.name
}

// ID returns a unique id of the current installation, or "".
func (h *SessionHolder) ID() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.id
}

// Close closes and drops the current session.
func (h *SessionHolder) Close(ctx context.Context) error {
	h.mu.Lock()
	session := h.session
	h.name, h.id, h.session, h.stages = "", "", nil, Stages{}
	h.mu.Unlock()
	if session == nil {
		return nil
	}
	return session.Close(ctx)
}
