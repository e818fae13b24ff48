// Copyright (c) 2024 The Falcon Contributors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

// Package diagnostics wraps log/slog with the project's fixed line
// format, so phase timings and compile summaries look the same
// whether they land in a terminal or a log file.
package diagnostics

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// Handler formats each record as a single line: timestamp, level,
// message, then any attributes in call order. A mutex serializes
// writes so concurrent compiles sharing one Logger don't interleave
// partial lines.
type Handler struct {
	out   io.Writer
	inner slog.Handler
	mu    *sync.Mutex
}

func (h *Handler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &Handler{out: h.out, inner: h.inner.WithAttrs(attrs), mu: h.mu}
}

func (h *Handler) WithGroup(name string) slog.Handler {
	return &Handler{out: h.out, inner: h.inner.WithGroup(name), mu: h.mu}
}

func (h *Handler) Handle(ctx context.Context, r slog.Record) error {
	parts := []string{r.Time.Format("2006/01/02 15:04:05"), r.Level.String() + ":", r.Message}
	r.Attrs(func(a slog.Attr) bool {
		parts = append(parts, a.Key+"="+a.Value.String())
		return true
	})
	line := strings.Join(parts, " ") + "\n"

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := h.out.Write([]byte(line))
	return err
}

// New builds a *slog.Logger writing to out at the given level.
func New(out io.Writer, level slog.Level) *slog.Logger {
	return slog.New(&Handler{
		out:   out,
		inner: slog.NewTextHandler(out, &slog.HandlerOptions{Level: level}),
		mu:    &sync.Mutex{},
	})
}

// ParseLevel maps a config/flag string to a slog.Level, defaulting to
// Info for anything unrecognized rather than rejecting the value.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// PhaseTimer logs how long a named compile phase took when Stop is
// called, at debug level so a default run stays quiet.
type PhaseTimer struct {
	log   *slog.Logger
	phase string
	start time.Time
}

func StartPhase(log *slog.Logger, phase string) *PhaseTimer {
	return &PhaseTimer{log: log, phase: phase, start: time.Now()}
}

func (t *PhaseTimer) Stop() {
	t.log.Debug("phase complete", "phase", t.phase, "elapsed", time.Since(t.start))
}
