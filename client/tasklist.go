package client

import (
	"sync"

	"tasktracker/domain"
)

// Cursor mirrors the pagination fields of the last applied page.
type Cursor struct {
	CurrentPage int
	LastPage    int
	PerPage     int
	Total       int
	From        int
	To          int
}

// TaskList is the client's view of the current page. Fetch results and
// merges may arrive from different goroutines.
type TaskList struct {
	mu       sync.RWMutex
	tasks    []domain.Task
	cursor   Cursor
	search   string
	seq      uint64
	updating map[int64]struct{}
}

// NewTaskList returns an empty list positioned on page 1.
func NewTaskList() *TaskList {
	return &TaskList{
		tasks:    []domain.Task{},
		cursor:   Cursor{CurrentPage: 1, LastPage: 1, PerPage: domain.DefaultPerPage},
		updating: make(map[int64]struct{}),
	}
}

// Begin issues the sequence number for a new fetch. Only the newest issued
// fetch may be applied.
func (l *TaskList) Begin() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.seq++
	return l.seq
}

// Apply replaces the page with a fetch result. It reports false and leaves the
// list untouched when a newer fetch has been issued since seq.
func (l *TaskList) Apply(seq uint64, search string, p domain.Page) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if seq != l.seq {
		return false
	}
	l.tasks = make([]domain.Task, len(p.Data))
	copy(l.tasks, p.Data)
	l.search = search
	l.cursor = Cursor{
		CurrentPage: p.CurrentPage,
		LastPage:    p.LastPage,
		PerPage:     p.PerPage,
		Total:       p.Total,
	}
	if p.From != nil {
		l.cursor.From = *p.From
	}
	if p.To != nil {
		l.cursor.To = *p.To
	}
	return true
}

// Merge replaces the task with the same id. Tasks not on the current page
// are dropped; the list never grows or reorders here.
func (l *TaskList) Merge(t domain.Task) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := range l.tasks {
		if l.tasks[i].ID == t.ID {
			l.tasks[i] = t
			return true
		}
	}
	return false
}

// Add puts a newly created task at the top of the page.
func (l *TaskList) Add(t domain.Task) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.tasks = append([]domain.Task{t}, l.tasks...)
	l.cursor.Total++
}

// Remove drops the task from the page.
func (l *TaskList) Remove(id int64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := range l.tasks {
		if l.tasks[i].ID == id {
			l.tasks = append(l.tasks[:i:i], l.tasks[i+1:]...)
			if l.cursor.Total > 0 {
				l.cursor.Total--
			}
			return true
		}
	}
	return false
}

// Tasks returns a copy of the current page.
func (l *TaskList) Tasks() []domain.Task {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]domain.Task, len(l.tasks))
	copy(out, l.tasks)
	return out
}

// Get returns the task with id if it is on the current page.
func (l *TaskList) Get(id int64) (domain.Task, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for _, t := range l.tasks {
		if t.ID == id {
			return t, true
		}
	}
	return domain.Task{}, false
}

func (l *TaskList) Cursor() Cursor {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.cursor
}

// Search is the term the current page was fetched with.
func (l *TaskList) Search() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.search
}

func (l *TaskList) HasNextPage() bool {
	c := l.Cursor()
	return c.CurrentPage < c.LastPage
}

func (l *TaskList) HasPreviousPage() bool {
	return l.Cursor().CurrentPage > 1
}

func (l *TaskList) TotalPages() int {
	return l.Cursor().LastPage
}

// SetUpdating marks or clears a task as having a status change in flight.
func (l *TaskList) SetUpdating(id int64, on bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if on {
		l.updating[id] = struct{}{}
		return
	}
	delete(l.updating, id)
}

func (l *TaskList) IsUpdating(id int64) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.updating[id]
	return ok
}
