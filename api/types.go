package api

import (
	"context"
	"time"

	"tasktracker/domain"
)

// TaskService is the domain surface the handlers drive.
type TaskService interface {
	Create(ctx context.Context, in domain.NewTask) (domain.Task, error)
	List(ctx context.Context, search string, page int) (domain.Page, error)
	UpdateStatus(ctx context.Context, id int64, status string) (domain.Task, error)
	RecentUpdates(ctx context.Context, since time.Time) []domain.Notification
}

// References lists the reference data shown on the task page.
type References interface {
	Categories(ctx context.Context) ([]domain.Category, error)
	Priorities(ctx context.Context) ([]domain.Priority, error)
}

// Deduper prevents a create request from being processed twice.
type Deduper interface {
	// Add records the idempotency key and returns true if it was newly added.
	Add(ctx context.Context, key string) (bool, error)
	// Remove deletes a previously added key, used when creation fails.
	Remove(ctx context.Context, key string) error
}

// Streamer hands out SSE frame channels. A closed channel ends the stream.
type Streamer interface {
	Subscribe() chan []byte
	Unsubscribe(ch chan []byte)
}

// Pinger reports backing store health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Options carries the optional collaborators of Register.
type Options struct {
	Deduper         Deduper
	Stream          Streamer
	Health          Pinger
	BroadcastDriver string
	Heartbeat       time.Duration
}
