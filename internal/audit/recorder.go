package audit

import (
	"context"
	"log/slog"
	"time"
)

// DefaultQueueSize is the Recorder buffer used when none is given.
const DefaultQueueSize = 256

// writeTimeout bounds a single audit insert.
const writeTimeout = 5 * time.Second

// Recorder writes audit entries asynchronously through a bounded queue so
// request handlers never wait on the audit table. Entries that do not fit
// are dropped with a warning.
type Recorder struct {
	repo   Repository
	queue  chan *Entry
	logger *slog.Logger
}

// NewRecorder creates a Recorder. Call Run to start writing.
func NewRecorder(repo Repository, queueSize int, logger *slog.Logger) *Recorder {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Recorder{
		repo:   repo,
		queue:  make(chan *Entry, queueSize),
		logger: logger,
	}
}

// Record enqueues an entry without blocking. A nil Recorder discards it.
func (r *Recorder) Record(action, entityType, entityID, actorID string, details map[string]any) {
	if r == nil {
		return
	}
	e := &Entry{
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		ActorID:    actorID,
		Details:    details,
		CreatedAt:  time.Now().UTC(),
	}
	select {
	case r.queue <- e:
	default:
		r.logger.Warn("audit queue full, dropping entry", "action", action, "entity_type", entityType)
	}
}

// Run writes queued entries serially until ctx is cancelled, then drains
// whatever is left before returning.
func (r *Recorder) Run(ctx context.Context) {
	for {
		select {
		case e := <-r.queue:
			r.write(e)
		case <-ctx.Done():
			for {
				select {
				case e := <-r.queue:
					r.write(e)
				default:
					return
				}
			}
		}
	}
}

func (r *Recorder) write(e *Entry) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := r.repo.Create(ctx, e); err != nil {
		r.logger.Error("audit write failed", "action", e.Action, "entity_type", e.EntityType, "error", err)
	}
}
