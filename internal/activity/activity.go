// Package activity records the append-only audit trail shown to resource
// owners. Writes never fail the caller.
package activity

import (
	"context"
	"net"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/leozw/monitrix/internal/core"
)

type Sink interface {
	InsertActivityLog(ctx context.Context, entry *core.ActivityLogEntry) error
}

type Logger struct {
	sink   Sink
	logger *zap.Logger
	now    func() time.Time
}

func NewLogger(sink Sink, logger *zap.Logger) *Logger {
	return &Logger{sink: sink, logger: logger, now: time.Now}
}

// Append stores the entry and returns "" on success. A failure is logged and
// returned as a message instead of an error.
func (l *Logger) Append(ctx context.Context, entry core.ActivityLogEntry) string {
	if entry.Time.IsZero() {
		entry.Time = l.now()
	}
	if err := l.sink.InsertActivityLog(ctx, &entry); err != nil {
		l.logger.Error("Failed to append activity log",
			zap.Int64("user_id", entry.UserID),
			zap.String("tag", entry.MessageDetails.Services.Tag),
			zap.Error(err))
		return err.Error()
	}
	return ""
}

// Entry builds a user-initiated entry from the originating request.
func Entry(r *http.Request, userID int64, status, message string, res *core.Resource) core.ActivityLogEntry {
	e := core.ActivityLogEntry{
		UserID: userID,
		MessageDetails: core.MessageDetails{
			Status:  status,
			Message: message,
		},
	}
	if r != nil {
		e.IPAddress = clientIP(r)
		e.Browser = r.UserAgent()
	}
	if res != nil {
		e.MessageDetails.Services = core.ServiceLogEntry{
			Tag:      core.ServiceTag(res.Kind),
			Value:    res.URL,
			Identity: res.ID,
		}
	}
	return e
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		return strings.TrimSpace(first)
	}
	if ip := r.Header.Get("X-Real-IP"); ip != "" {
		return ip
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
