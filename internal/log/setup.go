package log

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/chainguard-dev/clog"
	"github.com/charmbracelet/lipgloss"
	charmlog "github.com/charmbracelet/log"
	slogmulti "github.com/samber/slog-multi"
)

// Options configures Setup.
type Options struct {
	// Writer receives console output. Defaults to os.Stdout.
	Writer io.Writer
	// LogFile, when set, additionally appends every line to this file.
	LogFile string
	// Debug enables debug-level lines.
	Debug bool
}

// Setup installs the console logger (and the optional file tee) into ctx and
// as the slog default. The returned func closes the log file.
func Setup(ctx context.Context, opts Options) (context.Context, func(), error) {
	w := opts.Writer
	if w == nil {
		w = os.Stdout
	}

	level := slog.LevelInfo
	if opts.Debug {
		level = slog.LevelDebug
	}

	console := charmlog.NewWithOptions(w, charmlog.Options{
		ReportTimestamp: true,
		TimeFormat:      time.TimeOnly,
		Level:           charmlog.Level(level),
	})
	console.SetStyles(levelStyles())

	var handler slog.Handler = console
	closer := func() {}

	if opts.LogFile != "" {
		f, err := os.OpenFile(opts.LogFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return ctx, closer, fmt.Errorf("failed to open log file: %w", err)
		}
		handler = slogmulti.Fanout(console, &fileHandler{w: f, level: level, mu: &sync.Mutex{}})
		closer = func() {
			if err := f.Close(); err != nil {
				fmt.Fprintf(os.Stderr, "failed to close log file %s: %v\n", opts.LogFile, err)
			}
		}
	}

	logger := clog.New(handler)
	ctx = clog.WithLogger(ctx, logger)
	slog.SetDefault(&logger.Logger)

	return ctx, closer, nil
}

// levelStyles renders level labels as bracketed tags, colored like the
// status styles in internal/ui.
func levelStyles() *charmlog.Styles {
	styles := charmlog.DefaultStyles()
	tag := func(level slog.Level, color string) lipgloss.Style {
		return lipgloss.NewStyle().SetString(Tag(level)).Bold(true).Foreground(lipgloss.Color(color))
	}
	styles.Levels = map[charmlog.Level]lipgloss.Style{
		charmlog.DebugLevel:          tag(slog.LevelDebug, "245"),
		charmlog.InfoLevel:           tag(slog.LevelInfo, "81"),
		charmlog.Level(LevelSuccess): tag(LevelSuccess, "82"),
		charmlog.WarnLevel:           tag(slog.LevelWarn, "214"),
		charmlog.ErrorLevel:          tag(slog.LevelError, "203"),
	}
	return styles
}

// fileHandler writes plain "<timestamp> [LEVEL] message key=value" lines.
type fileHandler struct {
	w     io.Writer
	level slog.Level
	attrs []slog.Attr
	mu    *sync.Mutex
}

func (h *fileHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *fileHandler) Handle(_ context.Context, record slog.Record) error {
	var sb strings.Builder
	sb.WriteString(record.Time.Format("2006-01-02 15:04:05"))
	sb.WriteString(" ")
	sb.WriteString(Tag(record.Level))
	sb.WriteString(" ")
	sb.WriteString(record.Message)

	writeAttr := func(a slog.Attr) bool {
		fmt.Fprintf(&sb, " %s=%v", a.Key, a.Value.Resolve().Any())
		return true
	}
	for _, a := range h.attrs {
		writeAttr(a)
	}
	record.Attrs(writeAttr)
	sb.WriteString("\n")

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := io.WriteString(h.w, sb.String())
	return err
}

func (h *fileHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := *h
	next.attrs = append(append([]slog.Attr{}, h.attrs...), attrs...)
	return &next
}

func (h *fileHandler) WithGroup(_ string) slog.Handler {
	// Groups are flattened; nothing in this tool logs grouped attributes.
	return h
}
