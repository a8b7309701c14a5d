package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/fatih/color"
	"golang.org/x/term"
)

// newHandler selects a slog.Handler for the requested format. The color
// format degrades to plain text when the output is not a terminal, so piping
// logs to a file never embeds escape codes.
func newHandler(format string, level slog.Level, output io.Writer) slog.Handler {
	opts := &slog.HandlerOptions{Level: level}

	switch format {
	case "json":
		return slog.NewJSONHandler(output, opts)
	case "text":
		return slog.NewTextHandler(output, opts)
	default: // "color" and anything unrecognized
		if isTerminal(output) {
			return newColorHandler(output, opts)
		}
		return slog.NewTextHandler(output, opts)
	}
}

func isTerminal(w io.Writer) bool {
	if f, ok := w.(*os.File); ok {
		return term.IsTerminal(int(f.Fd()))
	}
	return false
}

// colorHandler renders records as single text lines with an ANSI-colored
// level token. Attribute handling is delegated to an embedded text handler
// so WithAttrs/WithGroup semantics stay correct.
type colorHandler struct {
	text   slog.Handler
	output io.Writer
	attrs  []slog.Attr
}

func newColorHandler(output io.Writer, opts *slog.HandlerOptions) *colorHandler {
	if opts == nil {
		opts = &slog.HandlerOptions{}
	}
	return &colorHandler{
		text:   slog.NewTextHandler(output, opts),
		output: output,
	}
}

func (h *colorHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.text.Enabled(ctx, level)
}

func (h *colorHandler) Handle(ctx context.Context, r slog.Record) error {
	line := fmt.Sprintf("time=%s level=%s msg=%q",
		r.Time.Format("15:04:05.000"),
		colorizeLevel(r.Level),
		r.Message)

	for _, a := range h.attrs {
		line += fmt.Sprintf(" %s=%v", a.Key, a.Value)
	}
	r.Attrs(func(a slog.Attr) bool {
		line += fmt.Sprintf(" %s=%v", a.Key, a.Value)
		return true
	})

	_, err := fmt.Fprintln(h.output, line)
	return err
}

func (h *colorHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	merged := make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	merged = append(merged, h.attrs...)
	merged = append(merged, attrs...)
	return &colorHandler{
		text:   h.text.WithAttrs(attrs),
		output: h.output,
		attrs:  merged,
	}
}

func (h *colorHandler) WithGroup(name string) slog.Handler {
	return &colorHandler{
		text:   h.text.WithGroup(name),
		output: h.output,
		attrs:  h.attrs,
	}
}

func colorizeLevel(level slog.Level) string {
	switch level {
	case slog.LevelDebug:
		return color.CyanString("DEBUG")
	case slog.LevelInfo:
		return color.GreenString("INFO")
	case slog.LevelWarn:
		return color.YellowString("WARN")
	case slog.LevelError:
		return color.RedString("ERROR")
	default:
		return level.String()
	}
}
