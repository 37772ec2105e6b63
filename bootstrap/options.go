package bootstrap

import (
	"io"
	"os"
	"syscall"
	"time"

	"github.com/kbukum/regd/logger"
)

// Option overrides one of the App's process-level settings.
type Option func(*settings)

type settings struct {
	logger          *logger.Logger // nil builds one from the Logging config
	gracefulTimeout time.Duration
	summaryOut      io.Writer
	signals         []os.Signal
}

func newSettings(opts []Option) settings {
	s := settings{
		gracefulTimeout: 15 * time.Second,
		summaryOut:      os.Stdout,
		signals:         []os.Signal{syscall.SIGINT, syscall.SIGTERM},
	}
	for _, opt := range opts {
		opt(&s)
	}
	return s
}

// WithLogger replaces the logger built from the config's logging block.
// The global logger is left untouched.
func WithLogger(l *logger.Logger) Option {
	return func(s *settings) { s.logger = l }
}

// WithGracefulTimeout bounds how long shutdown may take. Components still
// stopping when it expires see their context canceled.
func WithGracefulTimeout(d time.Duration) Option {
	return func(s *settings) {
		if d > 0 {
			s.gracefulTimeout = d
		}
	}
}

// WithSummaryOutput redirects the startup summary; io.Discard silences it.
func WithSummaryOutput(w io.Writer) Option {
	return func(s *settings) {
		if w != nil {
			s.summaryOut = w
		}
	}
}

// WithSignals sets the signals that trigger shutdown, SIGINT and SIGTERM
// by default.
func WithSignals(sig ...os.Signal) Option {
	return func(s *settings) { s.signals = sig }
}
