// CLAUDE:SUMMARY Last-sync status behind an RWMutex (written by the cycle, read by HTTP) and a reporter that publishes it through a narrow Publisher.
package status

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"
)

// Status is the outcome of the last completed cycle.
type Status struct {
	Cycle        int       `json:"cycle"`
	LastSyncTime time.Time `json:"last_sync_time"`
	LastSuccess  bool      `json:"last_success"`
	LastError    string    `json:"last_error,omitempty"`
	Source       string    `json:"source,omitempty"` // image | html
	ContentID    string    `json:"content_id,omitempty"`
	ArtifactHash string    `json:"artifact_hash,omitempty"`
	Duration     string    `json:"duration,omitempty"`
}

// Outcome carries the details of a finished cycle.
type Outcome struct {
	Source       string
	ContentID    string
	ArtifactHash string
	Duration     time.Duration
}

// Tracker holds the current Status. The cycle writes; any goroutine reads.
type Tracker struct {
	mu        sync.RWMutex
	cur       Status
	cycle     int
	available bool
	now       func() time.Time
}

// NewTracker creates an empty Tracker.
func NewTracker() *Tracker {
	return &Tracker{now: time.Now}
}

// Begin marks the start of a cycle.
func (t *Tracker) Begin(cycle int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cycle = cycle
}

// Succeed records a successful cycle.
func (t *Tracker) Succeed(o Outcome) Status {
	return t.finish(o, nil)
}

// Fail records a failed cycle.
func (t *Tracker) Fail(err error, o Outcome) Status {
	return t.finish(o, err)
}

func (t *Tracker) finish(o Outcome, err error) Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cur = Status{
		Cycle:        t.cycle,
		LastSyncTime: t.now().UTC(),
		LastSuccess:  err == nil,
		Source:       o.Source,
		ContentID:    o.ContentID,
		ArtifactHash: o.ArtifactHash,
	}
	if o.Duration > 0 {
		t.cur.Duration = o.Duration.Round(time.Millisecond).String()
	}
	if err != nil {
		t.cur.LastError = err.Error()
	}
	t.available = true
	return t.cur
}

// Snapshot returns the last status, and false before any cycle finished.
func (t *Tracker) Snapshot() (Status, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.cur, t.available
}

// Publisher sends a payload to a topic.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte, retained bool) error
}

// Reporter forwards statuses to a Publisher as retained JSON on
// <prefix>/status. Failures are logged and dropped.
type Reporter struct {
	pub    Publisher
	topic  string
	logger *slog.Logger
}

// NewReporter creates a Reporter. A nil pub makes Report a no-op.
func NewReporter(pub Publisher, prefix string, logger *slog.Logger) *Reporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reporter{pub: pub, topic: Topic(prefix), logger: logger}
}

// Topic returns the status topic for a prefix.
func Topic(prefix string) string {
	if prefix == "" {
		prefix = "framesync"
	}
	return prefix + "/status"
}

// Report publishes st.
func (r *Reporter) Report(ctx context.Context, st Status) {
	if r.pub == nil {
		return
	}
	payload, err := json.Marshal(st)
	if err != nil {
		r.logger.Error("status: marshal", "error", err)
		return
	}
	if err := r.pub.Publish(ctx, r.topic, payload, true); err != nil {
		r.logger.Warn("status: publish failed", "topic", r.topic, "error", err)
	}
}
