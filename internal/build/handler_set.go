package build

import (
	"context"
	"log/slog"

	"github.com/btcsuite/btclog"
	btclogv2 "github.com/btcsuite/btclog/v2"
)

// HandlerSet is a btclog.Handler that writes every record to several
// handlers, so that the console and the rotating log file see the same
// stream.
type HandlerSet struct {
	level btclog.Level
	set   []btclogv2.Handler
}

// NewHandlerSet returns a HandlerSet over the given handlers, all set to
// the Info level.
func NewHandlerSet(handlers ...btclogv2.Handler) *HandlerSet {
	h := &HandlerSet{set: handlers}
	h.SetLevel(btclog.LevelInfo)

	return h
}

// derive builds a new HandlerSet by applying fn to every member.
func (h *HandlerSet) derive(
	fn func(btclogv2.Handler) btclogv2.Handler,
) *HandlerSet {

	out := &HandlerSet{
		level: h.level,
		set:   make([]btclogv2.Handler, len(h.set)),
	}
	for i, handler := range h.set {
		out.set[i] = fn(handler)
	}

	return out
}

// Enabled reports whether every member handles records at level.
//
// NOTE: this is part of the slog.Handler interface.
func (h *HandlerSet) Enabled(ctx context.Context, level slog.Level) bool {
	return enabledAll(ctx, level, asSlog(h.set))
}

// Handle passes the record to every member, stopping at the first error.
//
// NOTE: this is part of the slog.Handler interface.
func (h *HandlerSet) Handle(ctx context.Context, record slog.Record) error {
	return handleAll(ctx, record, asSlog(h.set))
}

// WithAttrs returns a handler that adds attrs to every record.
//
// NOTE: this is part of the slog.Handler interface.
func (h *HandlerSet) WithAttrs(attrs []slog.Attr) slog.Handler {
	return slogSet(asSlog(h.set)).WithAttrs(attrs)
}

// WithGroup returns a handler that nests attributes under name.
//
// NOTE: this is part of the slog.Handler interface.
func (h *HandlerSet) WithGroup(name string) slog.Handler {
	return slogSet(asSlog(h.set)).WithGroup(name)
}

// SubSystem returns a HandlerSet whose records carry the given tag.
//
// NOTE: this is part of the btclog.Handler interface.
func (h *HandlerSet) SubSystem(tag string) btclogv2.Handler {
	return h.derive(func(handler btclogv2.Handler) btclogv2.Handler {
		return handler.SubSystem(tag)
	})
}

// WithPrefix returns a HandlerSet that prefixes every message.
//
// NOTE: this is part of the btclog.Handler interface.
func (h *HandlerSet) WithPrefix(prefix string) btclogv2.Handler {
	return h.derive(func(handler btclogv2.Handler) btclogv2.Handler {
		return handler.WithPrefix(prefix)
	})
}

// SetLevel changes the level of every member.
//
// NOTE: this is part of the btclog.Handler interface.
func (h *HandlerSet) SetLevel(level btclog.Level) {
	for _, handler := range h.set {
		handler.SetLevel(level)
	}
	h.level = level
}

// Level returns the current level.
//
// NOTE: this is part of the btclog.Handler interface.
func (h *HandlerSet) Level() btclog.Level {
	return h.level
}

var _ btclogv2.Handler = (*HandlerSet)(nil)

// slogSet is the plain slog.Handler fan-out produced once attributes or
// groups have been attached, since those return slog handlers rather than
// btclog ones.
type slogSet []slog.Handler

// Enabled is part of the slog.Handler interface.
func (s slogSet) Enabled(ctx context.Context, level slog.Level) bool {
	return enabledAll(ctx, level, s)
}

// Handle is part of the slog.Handler interface.
func (s slogSet) Handle(ctx context.Context, record slog.Record) error {
	return handleAll(ctx, record, s)
}

// WithAttrs is part of the slog.Handler interface.
func (s slogSet) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := make(slogSet, len(s))
	for i, handler := range s {
		out[i] = handler.WithAttrs(attrs)
	}

	return out
}

// WithGroup is part of the slog.Handler interface.
func (s slogSet) WithGroup(name string) slog.Handler {
	out := make(slogSet, len(s))
	for i, handler := range s {
		out[i] = handler.WithGroup(name)
	}

	return out
}

var _ slog.Handler = (slogSet)(nil)

func asSlog(set []btclogv2.Handler) []slog.Handler {
	out := make([]slog.Handler, len(set))
	for i, handler := range set {
		out[i] = handler
	}

	return out
}

func enabledAll(
	ctx context.Context, level slog.Level, set []slog.Handler,
) bool {

	for _, handler := range set {
		if !handler.Enabled(ctx, level) {
			return false
		}
	}

	return true
}

func handleAll(
	ctx context.Context, record slog.Record, set []slog.Handler,
) error {

	for _, handler := range set {
		if err := handler.Handle(ctx, record); err != nil {
			return err
		}
	}

	return nil
}
