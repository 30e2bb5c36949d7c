// Package obs provides the process-wide structured logger. No example
// repo in this corpus wires a third-party logging library, so this one
// ambient concern is built on log/slog rather than guessing at an unseen
// dependency.
package obs

import (
	"log/slog"
	"os"
)

// New builds a JSON logger at level writing to w, suitable for
// cmd/dnsresolved's startup.
func New(level slog.Level, w *os.File) *slog.Logger {
	if w == nil {
		w = os.Stderr
	}
	h := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
	return slog.New(h)
}

// Query returns a logger scoped to one resolution, the fields every
// query-path log line carries.
func Query(l *slog.Logger, fqdn string, qtype string) *slog.Logger {
	return l.With(slog.String("qname", fqdn), slog.String("qtype", qtype))
}
