package domain

import (
	"strings"
	"testing"
	"time"

	"github.com/bytedance/sonic"
)

func TestTaskMarshalShape(t *testing.T) {
	task := Task{
		ID:          7,
		Title:       "Title",
		Description: "Desc",
		DueDate:     NewDate(time.Date(2025, 4, 1, 15, 0, 0, 0, time.UTC)),
		Status:      StatusInProgress,
		CategoryID:  1,
		PriorityID:  2,
		Category:    &Category{ID: 1, Name: "Development"},
		Priority:    &Priority{ID: 2, Level: PriorityMedium},
	}

	payload, err := sonic.Marshal(task)
	if err != nil {
		t.Fatalf("marshal task: %v", err)
	}
	for _, want := range []string{`"due_date":"2025-04-01"`, `"status":"in_progress"`, `"category":{"id":1,"name":"Development"}`, `"priority":{"id":2,"level":"medium"}`} {
		if !strings.Contains(string(payload), want) {
			t.Fatalf("expected %s in %s", want, payload)
		}
	}

	var back Task
	if err := sonic.Unmarshal(payload, &back); err != nil {
		t.Fatalf("unmarshal task: %v", err)
	}
	if !back.DueDate.Equal(task.DueDate.Time) {
		t.Fatalf("due date lost: %v", back.DueDate)
	}
}

func TestParseDateAcceptsTimestamp(t *testing.T) {
	d, err := ParseDate("2025-04-01T23:30:00Z")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if d.String() != "2025-04-01" {
		t.Fatalf("unexpected date %s", d)
	}
}

func TestNewPageCursor(t *testing.T) {
	data := make([]Task, 3)
	p := NewPage(data, 2, 10, 13)
	if p.LastPage != 2 || p.From == nil || *p.From != 11 || p.To == nil || *p.To != 13 {
		t.Fatalf("unexpected cursor: %#v", p)
	}

	empty := NewPage(nil, 1, 10, 0)
	if empty.LastPage != 1 || empty.From != nil || empty.Data == nil {
		t.Fatalf("unexpected empty cursor: %#v", empty)
	}
}

func TestValidationErrorMessage(t *testing.T) {
	verr := &ValidationError{}
	verr.Add("title", "first")
	if verr.Error() != "first" {
		t.Fatalf("unexpected message %q", verr.Error())
	}
	verr.Add("title", "second")
	verr.Add("status", "third")
	if got := verr.Error(); got != "third (and 2 more errors)" {
		t.Fatalf("unexpected message %q", got)
	}
	var none *ValidationError
	if none.Err() != nil {
		t.Fatalf("nil validation error should not be an error")
	}
}
