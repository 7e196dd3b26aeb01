package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/fatih/color"
)

// ConsoleHandler writes one terse line per record for a terminal:
//
//	[warn] enforcement: probe failed pair="guest <-> iot" error=timeout
//
// The component attribute is promoted into the line header. Groups are
// flattened with dotted keys.
type ConsoleHandler struct {
	out        io.Writer
	level      slog.Leveler
	color      bool
	timestamps bool

	mu     *sync.Mutex
	attrs  []slog.Attr
	prefix string // open group path, "a.b."
}

var levelColors = map[slog.Level]*color.Color{
	LevelDebug: color.New(color.FgHiBlack),
	LevelInfo:  color.New(color.FgBlue),
	LevelWarn:  color.New(color.FgYellow),
	LevelError: color.New(color.FgRed, color.Bold),
}

// NewConsoleHandler returns a handler writing to out. useColor tints the
// level tag; timestamps prefixes each line with the wall-clock time.
func NewConsoleHandler(out io.Writer, level slog.Leveler, useColor, timestamps bool) *ConsoleHandler {
	if level == nil {
		level = LevelInfo
	}
	return &ConsoleHandler{
		out:        out,
		level:      level,
		color:      useColor,
		timestamps: timestamps,
		mu:         &sync.Mutex{},
	}
}

func (h *ConsoleHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *ConsoleHandler) Handle(_ context.Context, r slog.Record) error {
	var b strings.Builder

	if h.timestamps && !r.Time.IsZero() {
		b.WriteString(r.Time.Format("15:04:05 "))
	}

	tag := "[" + strings.ToLower(r.Level.String()) + "]"
	if c, ok := levelColors[r.Level]; ok && h.color {
		tag = c.Sprint(tag)
	}
	b.WriteString(tag)
	b.WriteByte(' ')

	attrs := slices.Clone(h.attrs)
	r.Attrs(func(a slog.Attr) bool {
		if h.prefix != "" {
			a.Key = h.prefix + a.Key
		}
		attrs = append(attrs, a)
		return true
	})

	component := ""
	attrs = slices.DeleteFunc(attrs, func(a slog.Attr) bool {
		if a.Key != "component" {
			return false
		}
		component = strings.ToLower(a.Value.String())
		return true
	})
	if component != "" {
		b.WriteString(component)
		b.WriteString(": ")
	}
	b.WriteString(r.Message)

	for _, a := range attrs {
		writeAttr(&b, "", a)
	}
	b.WriteByte('\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := io.WriteString(h.out, b.String())
	return err
}

func writeAttr(b *strings.Builder, prefix string, a slog.Attr) {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return
	}
	if a.Value.Kind() == slog.KindGroup {
		p := prefix
		if a.Key != "" {
			p += a.Key + "."
		}
		for _, ga := range a.Value.Group() {
			writeAttr(b, p, ga)
		}
		return
	}

	b.WriteByte(' ')
	b.WriteString(prefix)
	b.WriteString(a.Key)
	b.WriteByte('=')
	val := a.Value.String()
	if val == "" || strings.ContainsAny(val, " \t\n\"=") {
		val = fmt.Sprintf("%q", val)
	}
	b.WriteString(val)
}

func (h *ConsoleHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	h2 := *h
	h2.attrs = slices.Clip(h.attrs)
	for _, a := range attrs {
		if h.prefix != "" && a.Key != "component" {
			a.Key = h.prefix + a.Key
		}
		h2.attrs = append(h2.attrs, a)
	}
	return &h2
}

func (h *ConsoleHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	h2 := *h
	h2.prefix = h.prefix + name + "."
	return &h2
}
