package domain

import (
	"context"
	"fmt"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
)

// TaskStorage defines the persistence TaskService relies on.
type TaskStorage interface {
	CreateTask(ctx context.Context, t Task) (Task, error)
	// GetTask returns nil without error when the task does not exist.
	GetTask(ctx context.Context, id int64) (*Task, error)
	ListTasks(ctx context.Context, q ListQuery) ([]Task, int, error)
	UpdateTaskStatus(ctx context.Context, id int64, status Status, updatedAt time.Time) error
	TasksUpdatedSince(ctx context.Context, since time.Time) ([]Task, error)
}

// ReferenceData resolves the category and priority a task points at. Both
// lookups return nil without error for unknown ids.
type ReferenceData interface {
	GetCategory(ctx context.Context, id int64) (*Category, error)
	GetPriority(ctx context.Context, id int64) (*Priority, error)
}

// Notifier is told about every effective status change. Delivery is best
// effort and never reported back to the caller.
type Notifier interface {
	Notify(ctx context.Context, task Task)
}

// TaskService orchestrates task creation, listing and status transitions.
type TaskService struct {
	st       TaskStorage
	refs     ReferenceData
	notifier Notifier
	now      func() time.Time
}

func NewTaskService(st TaskStorage, refs ReferenceData, notifier Notifier) *TaskService {
	return &TaskService{st: st, refs: refs, notifier: notifier, now: time.Now}
}

// Create validates and stores a new pending task.
func (s *TaskService) Create(ctx context.Context, in NewTask) (Task, error) {
	now := s.now().UTC()
	task, verr := ValidateNewTask(in, now)

	if in.CategoryID > 0 {
		cat, err := s.refs.GetCategory(ctx, in.CategoryID)
		if err != nil {
			return Task{}, fmt.Errorf("resolve category: %w", err)
		}
		if cat == nil {
			verr.Add("category_id", msgCategoryExists)
		}
		task.Category = cat
	}
	if in.PriorityID > 0 {
		pri, err := s.refs.GetPriority(ctx, in.PriorityID)
		if err != nil {
			return Task{}, fmt.Errorf("resolve priority: %w", err)
		}
		if pri == nil {
			verr.Add("priority_id", msgPriorityExists)
		}
		task.Priority = pri
	}
	if err := verr.Err(); err != nil {
		return Task{}, err
	}

	task.Status = StatusPending
	task.CreatedAt = now
	task.UpdatedAt = now
	created, err := s.st.CreateTask(ctx, task)
	if err != nil {
		return Task{}, err
	}
	log.WithFields(log.Fields{"task": created.ID, "category": created.CategoryID, "priority": created.PriorityID}).Info("task created")
	return created, nil
}

// List returns one page of tasks, newest first, optionally filtered by a
// case-insensitive substring of title or description.
func (s *TaskService) List(ctx context.Context, search string, page int) (Page, error) {
	if page < 1 {
		page = 1
	}
	q := ListQuery{Search: strings.TrimSpace(search), Page: page, PerPage: DefaultPerPage}
	tasks, total, err := s.st.ListTasks(ctx, q)
	if err != nil {
		return Page{}, err
	}
	return NewPage(tasks, q.Page, q.PerPage, total), nil
}

// UpdateStatus moves a task to a new status. The notifier fires only when the
// stored status actually changed; the task is returned either way.
func (s *TaskService) UpdateStatus(ctx context.Context, id int64, rawStatus string) (Task, error) {
	task, err := s.st.GetTask(ctx, id)
	if err != nil {
		return Task{}, err
	}
	if task == nil {
		return Task{}, fmt.Errorf("task %d: %w", id, ErrNotFound)
	}
	status, err := ValidateStatus(rawStatus)
	if err != nil {
		return Task{}, err
	}

	old := task.Status
	if old == status {
		return *task, nil
	}

	if err := s.st.UpdateTaskStatus(ctx, id, status, s.now().UTC()); err != nil {
		return Task{}, err
	}
	updated, err := s.st.GetTask(ctx, id)
	if err != nil {
		return Task{}, err
	}
	if updated == nil {
		return Task{}, fmt.Errorf("task %d: %w", id, ErrNotFound)
	}

	log.WithFields(log.Fields{"task": id, "from": old, "to": status}).Info("task status changed")
	if s.notifier != nil {
		s.notifier.Notify(ctx, *updated)
	}
	return *updated, nil
}

// RecentUpdates returns one polling record per task updated strictly after
// since. Query failures are logged and yield an empty list so the polling
// endpoint stays available.
func (s *TaskService) RecentUpdates(ctx context.Context, since time.Time) []Notification {
	tasks, err := s.st.TasksUpdatedSince(ctx, since)
	if err != nil {
		log.WithError(err).WithField("since", since.UTC().Format(TimestampLayout)).Error("recent updates query failed")
		return []Notification{}
	}
	updates := make([]Notification, 0, len(tasks))
	for _, t := range tasks {
		if !t.UpdatedAt.After(since) {
			continue
		}
		updates = append(updates, NotificationFor(t))
	}
	log.WithFields(log.Fields{"count": len(updates), "since": since.UTC().Format(TimestampLayout)}).Debug("polling updates")
	return updates
}
