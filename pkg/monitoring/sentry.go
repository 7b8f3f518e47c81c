// Package monitoring forwards unexpected engine errors to Sentry.
package monitoring

import (
	"log"
	"time"

	"github.com/getsentry/sentry-go"
)

// Config holds Sentry settings. An empty DSN disables reporting.
type Config struct {
	DSN         string
	Environment string
	Release     string
}

// Init configures the global Sentry client. It returns false when Sentry is
// disabled or could not be initialized; the service keeps running either way.
func Init(cfg Config) bool {
	if cfg.DSN == "" {
		log.Printf("ℹ️  Sentry disabled (no DSN configured)")
		return false
	}

	err := sentry.Init(sentry.ClientOptions{
		Dsn:              cfg.DSN,
		Environment:      cfg.Environment,
		Release:          cfg.Release,
		TracesSampleRate: 0.2,
		AttachStacktrace: true,
	})
	if err != nil {
		log.Printf("⚠️  Failed to initialize Sentry: %v", err)
		return false
	}

	log.Printf("✅ Sentry initialized (environment: %s)", cfg.Environment)
	return true
}

// Flush waits for buffered events to be sent.
func Flush(timeout time.Duration) {
	sentry.Flush(timeout)
}

// SentryReporter captures errors on a Sentry hub with per-error tags.
type SentryReporter struct {
	hub *sentry.Hub
}

// NewSentryReporter creates a reporter on hub, or on the current hub when
// hub is nil.
func NewSentryReporter(hub *sentry.Hub) *SentryReporter {
	if hub == nil {
		hub = sentry.CurrentHub()
	}
	return &SentryReporter{hub: hub}
}

// Report captures err tagged with tags, e.g. the enrollment and step that
// produced it.
func (r *SentryReporter) Report(err error, tags map[string]string) {
	if err == nil {
		return
	}
	r.hub.WithScope(func(scope *sentry.Scope) {
		scope.SetLevel(sentry.LevelError)
		scope.SetTags(tags)
		r.hub.CaptureException(err)
	})
}
