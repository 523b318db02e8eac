package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// Config controls the slog handler behind the tagged helpers.
type Config struct {
	Level  string // debug | info | warn | error
	Format string // text | json
}

// LogLevel converts the configured level to a slog.Level.
func (c Config) LogLevel() slog.Level {
	switch strings.ToLower(c.Level) {
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

var (
	mu   sync.RWMutex
	base = newLogger(os.Stdout, Config{})
)

func newLogger(w io.Writer, cfg Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.LogLevel()}
	var h slog.Handler
	if strings.EqualFold(cfg.Format, "json") {
		h = slog.NewJSONHandler(w, opts)
	} else {
		h = slog.NewTextHandler(w, opts)
	}
	return slog.New(h)
}

// Init replaces the process logger. Safe to call more than once.
func Init(cfg Config) {
	InitWriter(os.Stdout, cfg)
}

// InitWriter is Init with an explicit destination.
func InitWriter(w io.Writer, cfg Config) {
	l := newLogger(w, cfg)
	mu.Lock()
	base = l
	mu.Unlock()
	slog.SetDefault(l)
}

// L returns the current process logger.
func L() *slog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return base
}

// Debug logs msg at debug level under tag.
func Debug(tag, msg string) { L().Debug(msg, "tag", tag) }

// Info logs msg at info level under tag.
func Info(tag, msg string) { L().Info(msg, "tag", tag) }

// Success logs a completed step at info level, marked ok.
func Success(tag, msg string) { L().Info(msg, "tag", tag, "ok", true) }

// Warn logs msg at warn level under tag.
func Warn(tag, msg string) { L().Warn(msg, "tag", tag) }

// Error logs msg at error level under tag.
func Error(tag, msg string) { L().Error(msg, "tag", tag) }

// Banner prints the startup banner.
func Banner(version string) {
	if version == "" {
		version = "dev"
	}
	fmt.Fprintln(os.Stdout, "  __  __ _                            _")
	fmt.Fprintln(os.Stdout, " |  \\/  (_)_ __  _ __ ___   __ _| |_ __ _ _ __")
	fmt.Fprintln(os.Stdout, " | |\\/| | | '_ \\| '_ ` _ \\ / _` | __/ _` | '__|")
	fmt.Fprintln(os.Stdout, " | |  | | | | | | | | | | | (_| | || (_| | |")
	fmt.Fprintln(os.Stdout, " |_|  |_|_|_| |_|_| |_| |_|\\__,_|\\__\\__,_|_|")
	fmt.Fprintf(os.Stdout, " Minmatar Fleet industry %s\n\n", version)
}

// Section prints a section header for grouped stats.
func Section(title string) {
	fmt.Fprintf(os.Stdout, "\n== %s ==\n", title)
}

// Stats prints one aligned key/value line.
func Stats(key string, value interface{}) {
	fmt.Fprintf(os.Stdout, "  %-20s %v\n", key+":", value)
}

// Server announces the listen address.
func Server(addr string) {
	Success("Server", fmt.Sprintf("Listening on http://%s", addr))
}

type ctxKey string

const requestIDKey ctxKey = "requestID"

// GenerateRequestID creates a new UUID for tracing requests.
func GenerateRequestID() string {
	return uuid.NewString()
}

// WithRequestID returns a new context containing the request ID.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestIDFromContext extracts the request ID from the context, if present.
func RequestIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(requestIDKey).(string)
	return id, ok && id != ""
}

// FromContext returns the process logger with request_id attached when present.
func FromContext(ctx context.Context) *slog.Logger {
	if id, ok := RequestIDFromContext(ctx); ok {
		return L().With("request_id", id)
	}
	return L()
}
