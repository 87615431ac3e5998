package notify

import (
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/getsentry/sentry-go"
)

// ErrorSink captures component errors to an optional Sentry-compatible
// DSN, in addition to the structured log line every caller already
// writes. A zero-value ErrorSink (no DSN configured) is a no-op.
type ErrorSink struct {
	enabled bool
}

// NewErrorSink initializes the global Sentry client for dsn. An empty
// dsn disables the sink (the collaborator is optional per spec.md §6).
func NewErrorSink(dsn, environment string) (*ErrorSink, error) {
	if dsn == "" {
		return &ErrorSink{enabled: false}, nil
	}
	if err := sentry.Init(sentry.ClientOptions{
		Dsn:         dsn,
		Environment: environment,
	}); err != nil {
		return nil, err
	}
	return &ErrorSink{enabled: true}, nil
}

// Capture reports err, tagged with the originating component name, to
// the configured sink and to the structured logger.
func (s *ErrorSink) Capture(component string, err error) {
	log.Error("component error", "component", component, "err", err)
	if s == nil || !s.enabled {
		return
	}
	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("component", component)
		sentry.CaptureException(err)
	})
}

// Flush blocks for up to 2 seconds waiting for buffered events to send,
// intended for use right before process exit.
func (s *ErrorSink) Flush() {
	if s != nil && s.enabled {
		sentry.Flush(2 * time.Second)
	}
}
