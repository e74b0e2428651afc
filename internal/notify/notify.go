// Package notify delivers transient operator notifications.
package notify

import (
	"context"
	"sync"
	"time"

	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Level is the severity of a notice.
type Level string

const (
	LevelSuccess Level = "success"
	LevelInfo    Level = "info"
	LevelError   Level = "error"
)

// Notice is a transient notification shown to the operator. Owner is the
// payer subject the notice concerns; an empty Owner is visible to staff only.
type Notice struct {
	ID        string
	Seq       uint64
	Level     Level
	Message   string
	Subject   string
	Owner     string
	CreatedAt time.Time
}

// OwnedBy matches notices whose Owner is subject.
func OwnedBy(subject string) func(Notice) bool {
	return func(n Notice) bool { return subject != "" && n.Owner == subject }
}

// Notifier delivers notices.
type Notifier interface {
	Notify(ctx context.Context, n Notice)
}

// DefaultCapacity is the number of notices a Feed keeps.
const DefaultCapacity = 256

// Feed is a bounded in-memory ring of notices that clients poll.
type Feed struct {
	mu    sync.Mutex
	buf   []Notice
	next  int
	full  bool
	seq   uint64
	now   func() time.Time
	newID func() string
}

// NewFeed creates a feed keeping the last capacity notices.
func NewFeed(capacity int) *Feed {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Feed{
		buf:   make([]Notice, capacity),
		now:   time.Now,
		newID: uuid.NewString,
	}
}

var _ Notifier = (*Feed)(nil)

// Notify appends n to the feed and logs it.
func (f *Feed) Notify(ctx context.Context, n Notice) {
	f.mu.Lock()
	f.seq++
	n.Seq = f.seq
	if n.ID == "" {
		n.ID = f.newID()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = f.now()
	}
	f.buf[f.next] = n
	f.next = (f.next + 1) % len(f.buf)
	if f.next == 0 {
		f.full = true
	}
	f.mu.Unlock()

	zctx.From(ctx).Info("Notice",
		zap.String("level", string(n.Level)),
		zap.String("subject", n.Subject),
		zap.String("message", n.Message),
		zap.Uint64("seq", n.Seq),
	)
}

// Since returns the retained notices with a sequence number above after,
// oldest first. A nil visible returns every notice.
func (f *Feed) Since(after uint64, visible func(Notice) bool) []Notice {
	f.mu.Lock()
	defer f.mu.Unlock()

	var ordered []Notice
	if f.full {
		ordered = append(ordered, f.buf[f.next:]...)
	}
	ordered = append(ordered, f.buf[:f.next]...)

	out := make([]Notice, 0, len(ordered))
	for _, n := range ordered {
		if n.Seq > after && (visible == nil || visible(n)) {
			out = append(out, n)
		}
	}
	return out
}
