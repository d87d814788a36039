package domain

import (
	"context"
	"sort"
	"strings"
	"time"
)

type fakeStore struct {
	tasks      map[int64]Task
	nextID     int64
	categories map[int64]Category
	priorities map[int64]Priority

	updateCalls int
	sinceErr    error
	lastQuery   ListQuery
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		tasks:      map[int64]Task{},
		categories: map[int64]Category{1: {ID: 1, Name: "Development"}, 2: {ID: 2, Name: "Design"}},
		priorities: map[int64]Priority{1: {ID: 1, Level: PriorityLow}, 3: {ID: 3, Level: PriorityHigh}},
	}
}

func (f *fakeStore) CreateTask(ctx context.Context, t Task) (Task, error) {
	f.nextID++
	t.ID = f.nextID
	if c, ok := f.categories[t.CategoryID]; ok {
		t.Category = &c
	}
	if p, ok := f.priorities[t.PriorityID]; ok {
		t.Priority = &p
	}
	f.tasks[t.ID] = t
	return t, nil
}

func (f *fakeStore) GetTask(ctx context.Context, id int64) (*Task, error) {
	t, ok := f.tasks[id]
	if !ok {
		return nil, nil
	}
	return &t, nil
}

func (f *fakeStore) ListTasks(ctx context.Context, q ListQuery) ([]Task, int, error) {
	f.lastQuery = q
	var matched []Task
	needle := strings.ToLower(q.Search)
	for _, t := range f.tasks {
		if needle != "" && !strings.Contains(strings.ToLower(t.Title), needle) && !strings.Contains(strings.ToLower(t.Description), needle) {
			continue
		}
		matched = append(matched, t)
	}
	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].ID > matched[j].ID
		}
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})
	total := len(matched)
	start := q.Offset()
	if start >= total {
		return []Task{}, total, nil
	}
	end := start + q.PerPage
	if end > total {
		end = total
	}
	return matched[start:end], total, nil
}

func (f *fakeStore) UpdateTaskStatus(ctx context.Context, id int64, status Status, updatedAt time.Time) error {
	f.updateCalls++
	t := f.tasks[id]
	t.Status = status
	t.UpdatedAt = updatedAt
	f.tasks[id] = t
	return nil
}

func (f *fakeStore) TasksUpdatedSince(ctx context.Context, since time.Time) ([]Task, error) {
	if f.sinceErr != nil {
		return nil, f.sinceErr
	}
	var out []Task
	for _, t := range f.tasks {
		if t.UpdatedAt.After(since) {
			out = append(out, t)
		}
	}
	return out, nil
}

func (f *fakeStore) GetCategory(ctx context.Context, id int64) (*Category, error) {
	c, ok := f.categories[id]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

func (f *fakeStore) GetPriority(ctx context.Context, id int64) (*Priority, error) {
	p, ok := f.priorities[id]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

type recordingNotifier struct {
	tasks []Task
}

func (r *recordingNotifier) Notify(ctx context.Context, task Task) {
	r.tasks = append(r.tasks, task)
}
