// Package stageexec runs one pipeline request against a persisted session:
// lock, load, execute, persist, notify.
package stageexec

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"ledgermark/internal/logging"
	"ledgermark/internal/notifications"
	"ledgermark/internal/pipeline"
	"ledgermark/internal/services"
	"ledgermark/internal/sessions"
)

const notifyTimeout = 15 * time.Second

// Options carries the dependencies shared by every request.
type Options struct {
	Logger   *slog.Logger
	Store    *sessions.Store
	Notifier notifications.Service
	Stages   pipeline.Stages
}

func (o Options) validate() error {
	if o.Store == nil {
		return errors.New("session store is required")
	}
	return nil
}

func (o Options) logger() *slog.Logger {
	if o.Logger == nil {
		return logging.NewNop()
	}
	return o.Logger
}

// Create selects content into a new session.
func Create(ctx context.Context, opts Options, content pipeline.ContentItem) (*sessions.Session, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	ctrl := pipeline.New(opts.Stages, pipeline.WithLogger(opts.logger()))
	if err := ctrl.Select(content); err != nil {
		return nil, err
	}
	sess, err := opts.Store.Create(ctx, ctrl.Snapshot())
	if err != nil {
		return nil, fmt.Errorf("persist new session: %w", err)
	}
	logging.WithContext(services.WithSessionID(ctx, sess.ID), opts.logger()).Info("session created",
		logging.String(logging.FieldEventType, "session_created"),
		logging.String("filename", sess.Filename),
		logging.String("fingerprint", sess.Fingerprint),
	)
	return sess, nil
}

// Reselect replaces the content of an existing session and resets it to
// Selected.
func Reselect(ctx context.Context, opts Options, sessionID string, content pipeline.ContentItem) (*sessions.Session, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	lock, err := opts.Store.Lock(sessionID)
	if err != nil {
		return nil, err
	}
	defer unlock(opts.logger(), lock)

	sess, err := opts.Store.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	ctrl := pipeline.Restore(sess.Snapshot, opts.Stages, pipeline.WithLogger(opts.logger()))
	if err := ctrl.Select(content); err != nil {
		return nil, err
	}
	if err := opts.Store.Save(ctx, sessionID, ctrl.Snapshot()); err != nil {
		return nil, fmt.Errorf("persist reselection: %w", err)
	}
	return opts.Store.Get(ctx, sessionID)
}

// Advance performs one stage for the session. step may be empty to run the
// next stage. When the stage itself fails, the updated session is returned
// together with the stage error; the failure is already recorded in it. A
// request rejected before any stage ran returns a nil session.
func Advance(ctx context.Context, opts Options, sessionID string, step pipeline.Step) (*sessions.Session, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	lock, err := opts.Store.Lock(sessionID)
	if err != nil {
		return nil, err
	}
	defer unlock(opts.logger(), lock)

	sess, err := opts.Store.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	ctx = services.WithSessionID(ctx, sessionID)
	logger := logging.WithContext(ctx, opts.logger())

	ctrl := pipeline.Restore(sess.Snapshot, opts.Stages, pipeline.WithLogger(logger))
	before := sess.Snapshot.Attempts()
	var state pipeline.State
	var stageErr error
	if step == "" {
		state, stageErr = ctrl.Advance(ctx)
	} else {
		state, stageErr = ctrl.Run(ctx, step)
	}
	snap := ctrl.Snapshot()
	if snap.Attempts() == before {
		// rejected before any stage ran; nothing changed
		return nil, stageErr
	}

	// Persist even when the caller has gone away: the snapshot reflects what
	// the external services already did.
	persistCtx := context.WithoutCancel(ctx)
	if err := opts.Store.Save(persistCtx, sessionID, snap); err != nil {
		logger.Error("failed to persist session",
			logging.String(logging.FieldEventType, "session_persist_failed"),
			logging.Error(err),
		)
		return nil, fmt.Errorf("persist session: %w", err)
	}
	if ctx.Err() != nil {
		logging.WarnWithContext(logger, "session saved after caller cancellation", "session_cancelled",
			logging.String(logging.FieldErrorHint, "run session status to review the outcome"),
			logging.String(logging.FieldImpact, "the caller did not observe the result"),
		)
	}

	notify(persistCtx, logger, opts.Notifier, sess.Filename, state, snap, stageErr)

	updated, err := opts.Store.Get(persistCtx, sessionID)
	if err != nil {
		return nil, err
	}
	return updated, stageErr
}

// Remove deletes a session that no other process is advancing.
func Remove(ctx context.Context, opts Options, sessionID string) error {
	if err := opts.validate(); err != nil {
		return err
	}
	lock, err := opts.Store.Lock(sessionID)
	if err != nil {
		return err
	}
	defer unlock(opts.logger(), lock)

	if err := opts.Store.Delete(ctx, sessionID); err != nil {
		return err
	}
	logging.WithContext(services.WithSessionID(ctx, sessionID), opts.logger()).Info("session removed",
		logging.String(logging.FieldEventType, "session_removed"),
	)
	return nil
}

func notify(ctx context.Context, logger *slog.Logger, notifier notifications.Service, filename string, state pipeline.State, snap pipeline.Snapshot, stageErr error) {
	if notifier == nil {
		return
	}
	var (
		event   notifications.Event
		payload notifications.Payload
	)
	switch {
	case stageErr != nil:
		label := ""
		if snap.LastError != nil {
			label = snap.LastError.Step.Label()
		}
		event = notifications.EventStageFailed
		payload = notifications.Payload{"stage": label, "filename": filename, "error": services.Details(stageErr).Message}
	default:
		switch v := state.(type) {
		case pipeline.Registered:
			event = notifications.EventRegistered
			payload = notifications.Payload{"filename": filename, "cid": v.Record.CID, "txHash": v.Record.TxHash}
		case pipeline.AlreadyRegistered:
			event = notifications.EventAlreadyRegistered
			payload = notifications.Payload{"filename": filename, "owner": v.Existing.Owner}
		default:
			return
		}
	}
	notifyCtx, cancel := context.WithTimeout(ctx, notifyTimeout)
	defer cancel()
	if err := notifier.Publish(notifyCtx, event, payload); err != nil {
		logger.Debug("notification failed", logging.String("event", string(event)), logging.Error(err))
	}
}

func unlock(logger *slog.Logger, lock *sessions.Lock) {
	if err := lock.Unlock(); err != nil {
		logger.Warn("failed to release session lock", logging.Error(err))
	}
}
