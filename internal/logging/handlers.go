package logging

import (
	"context"
	"errors"
	"log/slog"
)

// FanoutHandler delivers each record to every enabled child handler.
type FanoutHandler struct {
	handlers []slog.Handler
}

// NewFanoutHandler ignores nil handlers.
func NewFanoutHandler(handlers ...slog.Handler) *FanoutHandler {
	h := &FanoutHandler{}
	for _, child := range handlers {
		if child != nil {
			h.handlers = append(h.handlers, child)
		}
	}
	return h
}

func (f *FanoutHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range f.handlers {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

// Handle reports every child failure but never stops at the first one.
func (f *FanoutHandler) Handle(ctx context.Context, r slog.Record) error {
	var errs []error
	for _, h := range f.handlers {
		if !h.Enabled(ctx, r.Level) {
			continue
		}
		if err := h.Handle(ctx, r.Clone()); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (f *FanoutHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return f.each(func(h slog.Handler) slog.Handler { return h.WithAttrs(attrs) })
}

func (f *FanoutHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return f
	}
	return f.each(func(h slog.Handler) slog.Handler { return h.WithGroup(name) })
}

func (f *FanoutHandler) each(fn func(slog.Handler) slog.Handler) *FanoutHandler {
	out := &FanoutHandler{handlers: make([]slog.Handler, len(f.handlers))}
	for i, h := range f.handlers {
		out.handlers[i] = fn(h)
	}
	return out
}

// ContextProvider returns attributes evaluated at log time, such as the id
// of the currently connected session.
type ContextProvider func() []slog.Attr

// ContextHandler appends the provider's attributes to every record.
type ContextHandler struct {
	inner    slog.Handler
	provider ContextProvider
}

// NewContextHandler wraps inner. A nil provider adds nothing.
func NewContextHandler(inner slog.Handler, provider ContextProvider) *ContextHandler {
	return &ContextHandler{inner: inner, provider: provider}
}

func (h *ContextHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *ContextHandler) Handle(ctx context.Context, r slog.Record) error {
	if h.provider != nil {
		r.AddAttrs(h.provider()...)
	}
	return h.inner.Handle(ctx, r)
}

func (h *ContextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return NewContextHandler(h.inner.WithAttrs(attrs), h.provider)
}

func (h *ContextHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	return NewContextHandler(h.inner.WithGroup(name), h.provider)
}
