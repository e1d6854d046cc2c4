package harness

import (
	"github.com/sirupsen/logrus"

	"github.com/papapumpkin/sirocco/internal/telemetry"
	"github.com/papapumpkin/sirocco/internal/ui"
)

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithMaxWorkers sets the maximum number of concurrent phase workers.
func WithMaxWorkers(n int) Option {
	return func(s *Scheduler) { s.MaxWorkers = n }
}

// WithPrinter sets the progress printer.
func WithPrinter(p *ui.Printer) Option {
	return func(s *Scheduler) { s.printer = p }
}

// WithEvents enables the JSONL event stream. A nil emitter disables it.
func WithEvents(em *telemetry.Emitter) Option {
	return func(s *Scheduler) { s.events = em }
}

// WithLogger sets the structured logger.
func WithLogger(logger *logrus.Entry) Option {
	return func(s *Scheduler) { s.logger = logger }
}
