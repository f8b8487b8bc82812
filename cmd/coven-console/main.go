// ABOUTME: Entry point for coven-console, a terminal console for agent conversation threads.
// ABOUTME: Loads config and .env, sets up colored slog output, and dispatches cobra subcommands.

package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/fatih/color"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/2389/coven-console/internal/api"
	"github.com/2389/coven-console/internal/config"
)

var (
	configPath string
	baseURL    string
	logLevel   string

	cfg    *config.Config
	logger *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:           "coven-console",
	Short:         "Browse and chat in agent conversation threads",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		_ = godotenv.Load(".env")

		loaded, err := config.LoadOptional(configPath)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		if baseURL != "" {
			loaded.Server.BaseURL = baseURL
		}
		if logLevel != "" {
			loaded.Logging.Level = logLevel
		}
		if err := loaded.Validate(); err != nil {
			return fmt.Errorf("invalid config: %w", err)
		}
		cfg = loaded
		logger = setupLogger(cfg.Logging)
		slog.SetDefault(logger)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", config.DefaultPath(), "config file path (.yaml or .toml)")
	rootCmd.PersistentFlags().StringVar(&baseURL, "base-url", "", "override server.base_url")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override logging.level (debug, info, warn, error)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// newAPIClient builds a platform client from the loaded config.
func newAPIClient() (*api.Client, error) {
	return api.NewClient(cfg.Server.BaseURL, cfg.Auth.Token, api.WithLogger(logger))
}

// getContext returns the command context, falling back to Background.
func getContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	return newLogger(os.Stderr, cfg)
}

// newLogger builds the console logger. Output goes to out because stdout
// belongs to the conversation view.
func newLogger(out io.Writer, cfg config.LoggingConfig) *slog.Logger {
	level := slog.LevelInfo
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}

	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(&lockedWriter{w: out}, &slog.HandlerOptions{Level: level}))
	}
	return slog.New(&consoleHandler{out: &lockedWriter{w: out}, level: level})
}

// lockedWriter serializes writes from every handler derived from one logger.
type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}

// consoleHandler prints one short colored line per record, so log output
// stays readable between transcript lines.
type consoleHandler struct {
	out    *lockedWriter
	level  slog.Level
	prefix string // joined group names, with a trailing dot
	attrs  string // preformatted attrs from WithAttrs
}

func levelTag(level slog.Level) string {
	switch level {
	case slog.LevelDebug:
		return color.MagentaString("DBG")
	case slog.LevelInfo:
		return color.CyanString("INF")
	case slog.LevelWarn:
		return color.YellowString("WRN")
	case slog.LevelError:
		return color.New(color.FgRed, color.Bold).Sprint("ERR")
	default:
		return level.String()
	}
}

func (h *consoleHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *consoleHandler) Handle(_ context.Context, r slog.Record) error {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s %s%s", color.HiBlackString(r.Time.Format("15:04:05")), levelTag(r.Level), r.Message, h.attrs)
	r.Attrs(func(a slog.Attr) bool {
		b.WriteString(formatAttr(h.prefix, a))
		return true
	})
	b.WriteByte('\n')

	_, err := io.WriteString(h.out, b.String())
	return err
}

func (h *consoleHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := *h
	for _, a := range attrs {
		next.attrs += formatAttr(h.prefix, a)
	}
	return &next
}

func (h *consoleHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	next := *h
	next.prefix += name + "."
	return &next
}

func formatAttr(prefix string, a slog.Attr) string {
	if a.Equal(slog.Attr{}) {
		return ""
	}
	return color.HiBlackString(" "+prefix+a.Key+"=") + a.Value.Resolve().String()
}
