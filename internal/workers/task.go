package workers

import (
	"time"

	"github.com/anstrom/farmscan/internal/probe"
)

// task is one scan request. Every candidate address is in exactly one of
// queued, inProgress or finished.
type task struct {
	id          string
	queued      []string
	inProgress  map[string]struct{}
	recognized  []probe.Device
	total       int
	createdAt   time.Time
	completedAt time.Time
}

func newTask(id string, addresses []string, now time.Time) *task {
	seen := make(map[string]struct{}, len(addresses))
	queued := make([]string, 0, len(addresses))
	for _, a := range addresses {
		if _, dup := seen[a]; dup {
			continue
		}
		seen[a] = struct{}{}
		queued = append(queued, a)
	}

	t := &task{
		id:         id,
		queued:     queued,
		inProgress: make(map[string]struct{}),
		total:      len(queued),
		createdAt:  now,
	}
	if t.done() {
		t.completedAt = now
	}
	return t
}

func (t *task) done() bool {
	return len(t.queued) == 0 && len(t.inProgress) == 0
}

func (t *task) summary() TaskSummary {
	return TaskSummary{
		ID:              t.id,
		QueuedCount:     len(t.queued),
		ProcessingCount: len(t.inProgress),
		RecognizedCount: len(t.recognized),
		TotalCount:      t.total,
	}
}

func (t *task) snapshot() TaskSnapshot {
	recognized := make([]probe.Device, len(t.recognized))
	copy(recognized, t.recognized)

	s := TaskSnapshot{
		TaskSummary: t.summary(),
		Recognized:  recognized,
		ProbedCount: t.total - len(t.queued) - len(t.inProgress),
		Done:        t.done(),
		CreatedAt:   t.createdAt,
	}
	if !t.completedAt.IsZero() {
		completed := t.completedAt
		s.CompletedAt = &completed
	}
	return s
}

// TaskSummary is the per-task line of the engine stats.
type TaskSummary struct {
	ID              string `json:"id"`
	QueuedCount     int    `json:"queuedCount"`
	ProcessingCount int    `json:"processingCount"`
	RecognizedCount int    `json:"recognizedCount"`
	TotalCount      int    `json:"totalCount"`
}

// TaskSnapshot is a point-in-time copy of one task.
type TaskSnapshot struct {
	TaskSummary
	Recognized  []probe.Device `json:"recognized"`
	ProbedCount int            `json:"probedCount"`
	Done        bool           `json:"done"`
	CreatedAt   time.Time      `json:"createdAt"`
	CompletedAt *time.Time     `json:"completedAt,omitempty"`
}

// WorkerStats counts workers by state.
type WorkerStats struct {
	Waiting int `json:"waiting"`
	Running int `json:"running"`
}

// Stats is a snapshot of the whole engine.
type Stats struct {
	Concurrency int           `json:"concurrency"`
	TimeoutMS   int64         `json:"timeout"`
	Workers     WorkerStats   `json:"workers"`
	Tasks       []TaskSummary `json:"tasks"`
}
