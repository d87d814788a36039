package main

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"tasktracker/client"
	"tasktracker/domain"
)

func renderTasks(w io.Writer, l *client.TaskList, mode string) {
	c := l.Cursor()
	header := fmt.Sprintf("Tasks  page %d of %d  (%d total)", c.CurrentPage, c.LastPage, c.Total)
	if s := l.Search(); s != "" {
		header += fmt.Sprintf("  search %q", s)
	}
	if mode != "" {
		header += "  " + mutedStyle.Render("["+mode+"]")
	}
	fmt.Fprintln(w, headerStyle.Render(header))

	tasks := l.Tasks()
	if len(tasks) == 0 {
		fmt.Fprintln(w, mutedStyle.Render("  no tasks"))
		return
	}
	for _, t := range tasks {
		category := ""
		if t.Category != nil {
			category = t.Category.Name
		}
		marker := " "
		if l.IsUpdating(t.ID) {
			marker = "*"
		}
		fmt.Fprintf(w, "%s%5d  %-40s %s %s  %s  due %s\n",
			marker, t.ID, truncate(t.Title, 40), statusBadge(t.Status), priorityBadge(t.Priority),
			mutedStyle.Render(category), t.DueDate)
	}
	var nav []string
	if l.HasPreviousPage() {
		nav = append(nav, "prev")
	}
	if l.HasNextPage() {
		nav = append(nav, "next")
	}
	if len(nav) > 0 {
		fmt.Fprintln(w, mutedStyle.Render("  more: "+strings.Join(nav, ", ")))
	}
}

func renderTask(w io.Writer, t domain.Task) {
	fmt.Fprintf(w, "%d  %s %s %s\n", t.ID, t.Title, statusBadge(t.Status), priorityBadge(t.Priority))
}

func renderFormErrors(w io.Writer, errs client.FormErrors) {
	fields := make([]string, 0, len(errs))
	for f := range errs {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	for _, f := range fields {
		for _, msg := range errs[f] {
			fmt.Fprintln(w, errorStyle.Render(f+": "+msg))
		}
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
