package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/zoobzio/capitan"

	"github.com/zoobzio/surge"
)

// fields collects slog attributes from a capitan event.
type fields struct {
	e     *capitan.Event
	attrs []slog.Attr
}

func (f *fields) str(name string, key interface {
	From(*capitan.Event) (string, bool)
}) *fields {
	if v, ok := key.From(f.e); ok {
		f.attrs = append(f.attrs, slog.String(name, v))
	}
	return f
}

func (f *fields) num(name string, key interface {
	From(*capitan.Event) (int, bool)
}) *fields {
	if v, ok := key.From(f.e); ok {
		f.attrs = append(f.attrs, slog.Int(name, v))
	}
	return f
}

func (f *fields) dur(name string, key interface {
	From(*capitan.Event) (time.Duration, bool)
}) *fields {
	if v, ok := key.From(f.e); ok {
		f.attrs = append(f.attrs, slog.Duration(name, v))
	}
	return f
}

func document(e *capitan.Event) *fields {
	return (&fields{e: e}).str("run_id", surge.KeyRunID).str("document", surge.KeyDocument)
}

// observe logs surge lifecycle signals to logger.
func observe(logger *slog.Logger) {
	capitan.Hook(surge.RunStarted, func(ctx context.Context, e *capitan.Event) {
		f := (&fields{e: e}).str("run_id", surge.KeyRunID).
			num("concurrency", surge.KeyConcurrency).
			dur("flush_interval", surge.KeyFlushInterval).
			dur("deadline", surge.KeyDeadline)
		logger.LogAttrs(ctx, slog.LevelInfo, "run started", f.attrs...)
	})
	capitan.Hook(surge.RunCompleted, func(ctx context.Context, e *capitan.Event) {
		f := (&fields{e: e}).str("run_id", surge.KeyRunID).
			num("succeeded", surge.KeySucceeded).
			num("failed", surge.KeyFailed).
			num("cancelled", surge.KeyCancelled).
			dur("duration", surge.KeyDuration)
		logger.LogAttrs(ctx, slog.LevelInfo, "run completed", f.attrs...)
	})
	capitan.Hook(surge.RunDeadlineExceeded, func(ctx context.Context, e *capitan.Event) {
		f := (&fields{e: e}).str("run_id", surge.KeyRunID).dur("deadline", surge.KeyDeadline)
		logger.LogAttrs(ctx, slog.LevelWarn, "deadline exceeded", f.attrs...)
	})
	capitan.Hook(surge.RunAborted, func(ctx context.Context, e *capitan.Event) {
		f := (&fields{e: e}).str("run_id", surge.KeyRunID).str("error", surge.KeyError)
		logger.LogAttrs(ctx, slog.LevelWarn, "run aborted", f.attrs...)
	})
	capitan.Hook(surge.RunSourceFailed, func(ctx context.Context, e *capitan.Event) {
		f := (&fields{e: e}).str("run_id", surge.KeyRunID).str("error", surge.KeyError)
		logger.LogAttrs(ctx, slog.LevelError, "source failed", f.attrs...)
	})

	capitan.Hook(surge.DocumentAdmitted, func(ctx context.Context, e *capitan.Event) {
		logger.LogAttrs(ctx, slog.LevelDebug, "document admitted", document(e).attrs...)
	})
	capitan.Hook(surge.DocumentSkipped, func(ctx context.Context, e *capitan.Event) {
		logger.LogAttrs(ctx, slog.LevelWarn, "duplicate document skipped", document(e).attrs...)
	})
	capitan.Hook(surge.DocumentSucceeded, func(ctx context.Context, e *capitan.Event) {
		f := document(e).num("writes", surge.KeyWrites).dur("duration", surge.KeyDuration)
		logger.LogAttrs(ctx, slog.LevelInfo, "document succeeded", f.attrs...)
	})
	capitan.Hook(surge.DocumentFailed, func(ctx context.Context, e *capitan.Event) {
		f := document(e).num("writes", surge.KeyWrites).str("error", surge.KeyError)
		logger.LogAttrs(ctx, slog.LevelError, "document failed", f.attrs...)
	})
	capitan.Hook(surge.DocumentCancelled, func(ctx context.Context, e *capitan.Event) {
		f := document(e).num("writes", surge.KeyWrites).str("error", surge.KeyError)
		logger.LogAttrs(ctx, slog.LevelWarn, "document cancelled", f.attrs...)
	})

	capitan.Hook(surge.FlushSucceeded, func(ctx context.Context, e *capitan.Event) {
		f := document(e).num("batch_size", surge.KeyBatchSize).dur("duration", surge.KeyDuration)
		logger.LogAttrs(ctx, slog.LevelDebug, "flush succeeded", f.attrs...)
	})
	capitan.Hook(surge.FlushFailed, func(ctx context.Context, e *capitan.Event) {
		f := document(e).num("batch_size", surge.KeyBatchSize).str("error", surge.KeyError)
		logger.LogAttrs(ctx, slog.LevelError, "flush failed", f.attrs...)
	})
	capitan.Hook(surge.FlushStateChanged, func(ctx context.Context, e *capitan.Event) {
		f := document(e).str("old_state", surge.KeyOldState).str("new_state", surge.KeyNewState)
		logger.LogAttrs(ctx, slog.LevelDebug, "flush state changed", f.attrs...)
	})
}
