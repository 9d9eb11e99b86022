// Package audit persists security-relevant events. Writes are dispatched on
// detached goroutines: they never block a request and their failures never
// alter the primary response. Ordering between entries is not guaranteed.
package audit

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/tenantstack/tenantstack/internal/model"
)

// writeTimeout bounds each detached audit write. A request abort does not
// cancel an already-dispatched write; it completes or silently fails.
const writeTimeout = 5 * time.Second

// Writer is the persistence capability the recorder needs.
type Writer interface {
	CreateAuditEntry(ctx context.Context, e *model.AuditEntry) error
}

// Recorder is the best-effort audit sink.
type Recorder struct {
	w      Writer
	logger *slog.Logger
	wg     sync.WaitGroup
}

// NewRecorder creates a Recorder writing through w.
func NewRecorder(w Writer, logger *slog.Logger) *Recorder {
	return &Recorder{w: w, logger: logger}
}

// Record dispatches one audit entry asynchronously and returns immediately.
func (r *Recorder) Record(e *model.AuditEntry) {
	if e.ActorID == "" {
		e.ActorID = "anonymous"
	}
	if e.ActorType == "" {
		e.ActorType = model.ActorUser
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		defer cancel()
		if err := r.w.CreateAuditEntry(ctx, e); err != nil {
			r.logger.Warn("audit write failed", "action", e.Action, "error", err)
		}
	}()
}

// Drain blocks until all in-flight writes finish. Used at shutdown and in
// tests.
func (r *Recorder) Drain() {
	r.wg.Wait()
}

// ClientIP extracts the originating client address from a request, honoring
// the first X-Forwarded-For hop.
func ClientIP(req *http.Request) string {
	if xfwd := req.Header.Get("X-Forwarded-For"); xfwd != "" {
		if first, _, ok := strings.Cut(xfwd, ","); ok {
			return strings.TrimSpace(first)
		}
		return strings.TrimSpace(xfwd)
	}
	host, _, err := net.SplitHostPort(req.RemoteAddr)
	if err != nil {
		return req.RemoteAddr
	}
	return host
}
