package domain

import "time"

const (
	// TasksChannel is the broadcast topic for task events.
	TasksChannel = "tasks"
	// TaskStatusUpdated is emitted when a task's status changes.
	TaskStatusUpdated = "task.status.updated"
)

// TimestampLayout is the ISO-8601 form used for event timestamps.
const TimestampLayout = time.RFC3339

// StatusUpdatedEvent is the payload pushed on the tasks channel.
type StatusUpdatedEvent struct {
	Task      Task   `json:"task"`
	Timestamp string `json:"timestamp"`
}

// NewStatusUpdatedEvent stamps the payload with the emission time in UTC.
func NewStatusUpdatedEvent(task Task, emittedAt time.Time) StatusUpdatedEvent {
	return StatusUpdatedEvent{Task: task, Timestamp: emittedAt.UTC().Format(TimestampLayout)}
}

// Notification is one record returned to polling clients. Its payload has the
// same shape as a pushed StatusUpdatedEvent.
type Notification struct {
	Channel   string             `json:"channel"`
	Event     string             `json:"event"`
	Payload   StatusUpdatedEvent `json:"payload"`
	Timestamp string             `json:"timestamp"`
}

// NotificationFor builds the synthetic polling record for a task, stamped with
// its last update time.
func NotificationFor(task Task) Notification {
	ts := task.UpdatedAt.UTC().Format(TimestampLayout)
	return Notification{
		Channel:   TasksChannel,
		Event:     TaskStatusUpdated,
		Payload:   StatusUpdatedEvent{Task: task, Timestamp: ts},
		Timestamp: ts,
	}
}
