package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/charmbracelet/lipgloss"

	"tasktracker/client"
	"tasktracker/domain"
)

func TestBadgeColors(t *testing.T) {
	priorities := map[string]lipgloss.Color{
		domain.PriorityLow:    green,
		domain.PriorityMedium: yellow,
		domain.PriorityHigh:   red,
		domain.PriorityUrgent: purple,
		"someday":             gray,
	}
	for level, want := range priorities {
		if got := priorityColor(level); got != want {
			t.Fatalf("priority %s: expected %v, got %v", level, want, got)
		}
	}
	statuses := map[domain.Status]lipgloss.Color{
		domain.StatusPending:    yellow,
		domain.StatusInProgress: blue,
		domain.StatusCompleted:  green,
		domain.StatusCancelled:  red,
		"archived":              gray,
	}
	for s, want := range statuses {
		if got := statusColor(s); got != want {
			t.Fatalf("status %s: expected %v, got %v", s, want, got)
		}
	}
}

func TestRenderTasks(t *testing.T) {
	from, to := 1, 2
	l := client.NewTaskList()
	l.Apply(l.Begin(), "spec", domain.Page{
		Data: []domain.Task{
			{ID: 2, Title: "Write spec", Status: domain.StatusInProgress, Priority: &domain.Priority{ID: 3, Level: "high"}, Category: &domain.Category{ID: 1, Name: "Development"}},
			{ID: 1, Title: "Review spec", Status: domain.StatusPending},
		},
		CurrentPage: 1, LastPage: 2, PerPage: 10, Total: 12, From: &from, To: &to,
	})
	l.SetUpdating(1, true)

	var buf bytes.Buffer
	renderTasks(&buf, l, "push_active")
	out := buf.String()
	for _, want := range []string{"page 1 of 2", "(12 total)", `search "spec"`, "push_active", "Write spec", "in_progress", "high", "Development", "*    1", "none", "more: next"} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in output:\n%s", want, out)
		}
	}
}

func TestRenderEmptyAndErrors(t *testing.T) {
	var buf bytes.Buffer
	renderTasks(&buf, client.NewTaskList(), "")
	if !strings.Contains(buf.String(), "no tasks") {
		t.Fatalf("expected empty marker, got %q", buf.String())
	}

	buf.Reset()
	renderFormErrors(&buf, client.FormErrors{"title": {"Title is required"}, "due_date": {"Due date is required"}})
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 || !strings.Contains(lines[0], "due_date") || !strings.Contains(lines[1], "title") {
		t.Fatalf("expected sorted field errors, got %q", lines)
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("short", 10); got != "short" {
		t.Fatalf("unexpected %q", got)
	}
	if got := truncate("exactly ten chars long", 10); len([]rune(got)) != 10 {
		t.Fatalf("expected 10 runes, got %q", got)
	}
}
