package domain

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

var testNow = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

func newTestService() (*TaskService, *fakeStore, *recordingNotifier) {
	fs := newFakeStore()
	n := &recordingNotifier{}
	svc := NewTaskService(fs, fs, n)
	svc.now = func() time.Time { return testNow }
	return svc, fs, n
}

func validInput() NewTask {
	return NewTask{
		Title:       "Write spec",
		Description: "Describe the sync engine",
		DueDate:     testNow.AddDate(0, 0, 1).Format("2006-01-02"),
		CategoryID:  1,
		PriorityID:  3,
	}
}

func TestCreateForcesPendingAndResolvesReferences(t *testing.T) {
	svc, fs, n := newTestService()
	task, err := svc.Create(context.Background(), validInput())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if task.Status != StatusPending {
		t.Fatalf("expected pending, got %s", task.Status)
	}
	if task.Category == nil || task.Category.Name != "Development" {
		t.Fatalf("category not resolved: %#v", task.Category)
	}
	if task.Priority == nil || task.Priority.Level != PriorityHigh {
		t.Fatalf("priority not resolved: %#v", task.Priority)
	}
	if !task.CreatedAt.Equal(testNow) || !task.UpdatedAt.Equal(testNow) {
		t.Fatalf("unexpected timestamps: %v %v", task.CreatedAt, task.UpdatedAt)
	}
	if len(fs.tasks) != 1 {
		t.Fatalf("expected one stored task, got %d", len(fs.tasks))
	}
	if len(n.tasks) != 0 {
		t.Fatalf("create must not notify, got %d notifications", len(n.tasks))
	}
}

func TestCreateRejectsInvalidFields(t *testing.T) {
	long := make([]rune, MaxTitleLength+1)
	for i := range long {
		long[i] = 'a'
	}
	tests := []struct {
		name  string
		in    NewTask
		field string
		msg   string
	}{
		{name: "blankTitle", in: NewTask{Title: "   "}, field: "title", msg: msgTitleRequired},
		{name: "longTitle", in: NewTask{Title: string(long)}, field: "title", msg: msgTitleMax},
		{name: "missingDescription", in: NewTask{}, field: "description", msg: msgDescriptionRequired},
		{name: "dueToday", in: NewTask{DueDate: testNow.Format("2006-01-02")}, field: "due_date", msg: msgDueDateAfter},
		{name: "duePast", in: NewTask{DueDate: "2020-01-01"}, field: "due_date", msg: msgDueDateAfter},
		{name: "dueGarbage", in: NewTask{DueDate: "soon"}, field: "due_date", msg: msgDueDateInvalid},
		{name: "missingCategory", in: NewTask{}, field: "category_id", msg: msgCategoryRequired},
		{name: "unknownCategory", in: NewTask{CategoryID: 99}, field: "category_id", msg: msgCategoryExists},
		{name: "unknownPriority", in: NewTask{PriorityID: 2}, field: "priority_id", msg: msgPriorityExists},
		{name: "negativeCategory", in: NewTask{CategoryID: -1}, field: "category_id", msg: msgCategoryExists},
		{name: "negativePriority", in: NewTask{PriorityID: -3}, field: "priority_id", msg: msgPriorityExists},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, fs, _ := newTestService()
			_, err := svc.Create(context.Background(), tt.in)
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("expected validation error, got %v", err)
			}
			msgs := verr.Fields[tt.field]
			if len(msgs) == 0 || msgs[0] != tt.msg {
				t.Fatalf("expected %q on %s, got %#v", tt.msg, tt.field, verr.Fields)
			}
			if len(fs.tasks) != 0 {
				t.Fatalf("invalid task was stored")
			}
		})
	}
}

func TestListPagesNewestFirstWithSearch(t *testing.T) {
	svc, fs, _ := newTestService()
	for i := 0; i < 12; i++ {
		title := fmt.Sprintf("task %d", i)
		desc := "routine"
		if i == 4 {
			desc = "Contains the MAGIC word"
		}
		fs.CreateTask(context.Background(), Task{Title: title, Description: desc, CreatedAt: testNow.Add(time.Duration(i) * time.Minute)})
	}

	page, err := svc.List(context.Background(), "", 1)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(page.Data) != DefaultPerPage || page.Total != 12 || page.LastPage != 2 {
		t.Fatalf("unexpected page: len=%d total=%d last=%d", len(page.Data), page.Total, page.LastPage)
	}
	if page.Data[0].Title != "task 11" {
		t.Fatalf("expected newest first, got %s", page.Data[0].Title)
	}

	page, err = svc.List(context.Background(), "magic", 1)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(page.Data) != 1 || page.Data[0].Title != "task 4" {
		t.Fatalf("expected description match, got %#v", page.Data)
	}

	page, err = svc.List(context.Background(), "", 5)
	if err != nil {
		t.Fatalf("list past end: %v", err)
	}
	if len(page.Data) != 0 || page.From != nil || page.To != nil {
		t.Fatalf("expected empty page past the end, got %#v", page)
	}
	if page.CurrentPage != 5 {
		t.Fatalf("expected current page 5, got %d", page.CurrentPage)
	}

	if _, err := svc.List(context.Background(), "  x ", 0); err != nil {
		t.Fatalf("list: %v", err)
	}
	if fs.lastQuery.Page != 1 || fs.lastQuery.Search != "x" || fs.lastQuery.PerPage != DefaultPerPage {
		t.Fatalf("unexpected normalized query: %#v", fs.lastQuery)
	}
}

func TestUpdateStatusNotifiesOnlyOnChange(t *testing.T) {
	svc, fs, n := newTestService()
	created, _ := svc.Create(context.Background(), validInput())

	later := testNow.Add(time.Minute)
	svc.now = func() time.Time { return later }

	task, err := svc.UpdateStatus(context.Background(), created.ID, "in_progress")
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if task.Status != StatusInProgress || !task.UpdatedAt.Equal(later) {
		t.Fatalf("unexpected task after update: %#v", task)
	}
	if len(n.tasks) != 1 || n.tasks[0].Status != StatusInProgress {
		t.Fatalf("expected one notification, got %#v", n.tasks)
	}

	task, err = svc.UpdateStatus(context.Background(), created.ID, "in_progress")
	if err != nil {
		t.Fatalf("repeat update: %v", err)
	}
	if task.Status != StatusInProgress {
		t.Fatalf("unexpected status %s", task.Status)
	}
	if len(n.tasks) != 1 {
		t.Fatalf("unchanged status must not notify, got %d", len(n.tasks))
	}
	if fs.updateCalls != 1 {
		t.Fatalf("expected a single store write, got %d", fs.updateCalls)
	}
}

func TestUpdateStatusRejectsUnknownStatus(t *testing.T) {
	svc, fs, n := newTestService()
	created, _ := svc.Create(context.Background(), validInput())

	for _, raw := range []string{"", "done", "PENDING", "archived"} {
		_, err := svc.UpdateStatus(context.Background(), created.ID, raw)
		var verr *ValidationError
		if !errors.As(err, &verr) {
			t.Fatalf("status %q: expected validation error, got %v", raw, err)
		}
		if got := fs.tasks[created.ID].Status; got != StatusPending {
			t.Fatalf("status %q: stored status changed to %s", raw, got)
		}
	}
	if len(n.tasks) != 0 {
		t.Fatalf("rejected updates must not notify")
	}
}

func TestUpdateStatusUnknownTask(t *testing.T) {
	svc, _, _ := newTestService()
	_, err := svc.UpdateStatus(context.Background(), 404, "completed")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRecentUpdatesStrictlyAfterSince(t *testing.T) {
	svc, fs, _ := newTestService()
	since := testNow
	fs.tasks[1] = Task{ID: 1, Title: "old", UpdatedAt: since}
	fs.tasks[2] = Task{ID: 2, Title: "new", UpdatedAt: since.Add(time.Second)}

	updates := svc.RecentUpdates(context.Background(), since)
	if len(updates) != 1 {
		t.Fatalf("expected one update, got %d", len(updates))
	}
	u := updates[0]
	if u.Channel != TasksChannel || u.Event != TaskStatusUpdated {
		t.Fatalf("unexpected record envelope: %#v", u)
	}
	if u.Payload.Task.ID != 2 || !u.Payload.Task.UpdatedAt.After(since) {
		t.Fatalf("unexpected task: %#v", u.Payload.Task)
	}
	if u.Timestamp != u.Payload.Timestamp {
		t.Fatalf("record and payload timestamps differ: %s vs %s", u.Timestamp, u.Payload.Timestamp)
	}
}

func TestRecentUpdatesSwallowsStoreErrors(t *testing.T) {
	svc, fs, _ := newTestService()
	fs.sinceErr = errors.New("database is locked")

	updates := svc.RecentUpdates(context.Background(), testNow)
	if updates == nil || len(updates) != 0 {
		t.Fatalf("expected empty non-nil updates, got %#v", updates)
	}
}
