package client

import (
	"context"
	"errors"
	"strings"

	log "github.com/sirupsen/logrus"

	"tasktracker/domain"
)

// API is the subset of the HTTP client the tracker drives.
type API interface {
	ListTasks(ctx context.Context, search string, page int) (domain.Page, error)
	CreateTask(ctx context.Context, in domain.NewTask) (domain.Task, error)
	UpdateStatus(ctx context.Context, id int64, status domain.Status) (domain.Task, error)
}

// Realtime reports which update channel is live.
type Realtime interface {
	PushActive() bool
	PollingActive() bool
}

// TaskForm is the create form as entered by the user.
type TaskForm struct {
	Title       string
	Description string
	DueDate     string
	CategoryID  int64
	PriorityID  int64
}

// FormErrors holds per-field messages, either from the local required-field
// check or from a 422 response.
type FormErrors map[string][]string

func (e FormErrors) Error() string {
	return "form has errors"
}

// ValidateForm checks that every field is filled in before submitting.
func ValidateForm(f TaskForm) FormErrors {
	errs := FormErrors{}
	if strings.TrimSpace(f.Title) == "" {
		errs["title"] = []string{"Title is required"}
	}
	if strings.TrimSpace(f.Description) == "" {
		errs["description"] = []string{"Description is required"}
	}
	if strings.TrimSpace(f.DueDate) == "" {
		errs["due_date"] = []string{"Due date is required"}
	}
	if f.CategoryID == 0 {
		errs["category_id"] = []string{"Category is required"}
	}
	if f.PriorityID == 0 {
		errs["priority_id"] = []string{"Priority is required"}
	}
	if len(errs) == 0 {
		return nil
	}
	return errs
}

// Tracker exposes the user-facing task actions over a TaskList.
type Tracker struct {
	api      API
	list     *TaskList
	realtime Realtime
	log      *log.Logger
}

// NewTracker wires the actions. realtime may be nil when no session runs, in
// which case status changes are always applied locally.
func NewTracker(api API, list *TaskList, realtime Realtime, logger *log.Logger) *Tracker {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Tracker{api: api, list: list, realtime: realtime, log: logger}
}

func (t *Tracker) List() *TaskList {
	return t.list
}

// FetchTasks loads a page. A response overtaken by a newer fetch is dropped.
func (t *Tracker) FetchTasks(ctx context.Context, page int, search string) error {
	seq := t.list.Begin()
	p, err := t.api.ListTasks(ctx, search, page)
	if err != nil {
		t.log.WithError(err).WithField("page", page).Error("fetch tasks")
		return err
	}
	if !t.list.Apply(seq, search, p) {
		t.log.WithField("page", page).Debug("discarding stale page")
	}
	return nil
}

// ChangePage moves to page when it is within range and reports whether a
// fetch was made.
func (t *Tracker) ChangePage(ctx context.Context, page int) (bool, error) {
	if page < 1 || page > t.list.TotalPages() {
		return false, nil
	}
	return true, t.FetchTasks(ctx, page, t.list.Search())
}

func (t *Tracker) SearchTasks(ctx context.Context, term string) error {
	return t.FetchTasks(ctx, 1, term)
}

func (t *Tracker) ClearSearch(ctx context.Context) error {
	return t.FetchTasks(ctx, 1, "")
}

// CreateTask validates and submits the form. On success the task is put at
// the top of the list and page 1 is reloaded with the current search.
func (t *Tracker) CreateTask(ctx context.Context, f TaskForm) (domain.Task, error) {
	if errs := ValidateForm(f); errs != nil {
		return domain.Task{}, errs
	}
	task, err := t.api.CreateTask(ctx, domain.NewTask{
		Title:       f.Title,
		Description: f.Description,
		DueDate:     f.DueDate,
		CategoryID:  f.CategoryID,
		PriorityID:  f.PriorityID,
	})
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.Validation() && len(apiErr.Fields) > 0 {
			return domain.Task{}, FormErrors(apiErr.Fields)
		}
		t.log.WithError(err).Error("create task")
		return domain.Task{}, err
	}
	t.list.Add(task)
	// a failed refresh keeps the inserted row; FetchTasks already logged it
	_ = t.FetchTasks(ctx, 1, t.list.Search())
	return task, nil
}

// UpdateStatus changes a task's status. The returned task is merged locally
// only when neither push nor polling will deliver it.
func (t *Tracker) UpdateStatus(ctx context.Context, id int64, status domain.Status) (domain.Task, error) {
	t.list.SetUpdating(id, true)
	defer t.list.SetUpdating(id, false)

	task, err := t.api.UpdateStatus(ctx, id, status)
	if err != nil {
		t.log.WithError(err).WithField("task", id).Error("update task status")
		return domain.Task{}, err
	}
	if t.realtime == nil || (!t.realtime.PushActive() && !t.realtime.PollingActive()) {
		t.list.Merge(task)
	}
	return task, nil
}

// RemoveTask drops a task from the visible page.
func (t *Tracker) RemoveTask(id int64) bool {
	return t.list.Remove(id)
}
