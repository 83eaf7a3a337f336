// Package corelog wraps log/slog the way the teacher's util/logger package
// does: a single slog.Handler that timestamps and tags with level, writing
// to one writer, grounded directly on rcornwell-S370's util/logger.LogHandler.
package corelog

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
)

// Handler formats records as "<time> <LEVEL>: <message> <attrs...>" to a
// single writer; Debug-level records are written only when debug is
// enabled. Nothing is duplicated to stderr.
type Handler struct {
	out   io.Writer
	mu    *sync.Mutex
	debug bool
	attrs []slog.Attr
	group string
}

func NewHandler(out io.Writer, debug bool) *Handler {
	return &Handler{out: out, mu: &sync.Mutex{}, debug: debug}
}

func (h *Handler) Enabled(_ context.Context, level slog.Level) bool {
	if h.debug {
		return true
	}
	return level >= slog.LevelInfo
}

func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := append(append([]slog.Attr(nil), h.attrs...), attrs...)
	return &Handler{out: h.out, mu: h.mu, debug: h.debug, attrs: out, group: h.group}
}

func (h *Handler) WithGroup(name string) slog.Handler {
	return &Handler{out: h.out, mu: h.mu, debug: h.debug, attrs: h.attrs, group: name}
}

func (h *Handler) Handle(_ context.Context, r slog.Record) error {
	parts := []string{r.Time.Format("2006/01/02 15:04:05"), r.Level.String() + ":", r.Message}
	for _, a := range h.attrs {
		parts = append(parts, a.String())
	}
	r.Attrs(func(a slog.Attr) bool {
		parts = append(parts, a.String())
		return true
	})
	line := strings.Join(parts, " ") + "\n"

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := h.out.Write([]byte(line))
	return err
}

// New builds a ready-to-use *slog.Logger with Handler installed.
func New(out io.Writer, debug bool) *slog.Logger {
	return slog.New(NewHandler(out, debug))
}
