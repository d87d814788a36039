package domain

import (
	"strings"
	"time"
	"unicode/utf8"
)

const (
	MaxTitleLength       = 255
	MaxDescriptionLength = 1000
)

const (
	msgTitleRequired       = "Task title is required and cannot be empty."
	msgTitleMax            = "Task title must not exceed 255 characters."
	msgDescriptionRequired = "Task description is required."
	msgDescriptionMax      = "Task description must not exceed 1000 characters."
	msgDueDateRequired     = "Due date is required."
	msgDueDateInvalid      = "Due date is not a valid date."
	msgDueDateAfter        = "Due date must be in the future."
	msgCategoryRequired    = "Please select a category."
	msgCategoryExists      = "Selected category does not exist."
	msgPriorityRequired    = "Please select a priority level."
	msgPriorityExists      = "Selected priority does not exist."
	msgStatusRequired      = "Task status is required."
	msgStatusInvalid       = "Invalid task status. Valid statuses are: pending, in_progress, completed, cancelled."
)

// ValidateNewTask checks the field rules for creation that need no lookups.
// The returned task has title and description trimmed and the due date
// parsed. Reference existence is checked by the service.
func ValidateNewTask(in NewTask, now time.Time) (Task, *ValidationError) {
	verr := &ValidationError{}
	task := Task{
		Title:       strings.TrimSpace(in.Title),
		Description: strings.TrimSpace(in.Description),
		CategoryID:  in.CategoryID,
		PriorityID:  in.PriorityID,
		Status:      StatusPending,
	}

	switch {
	case task.Title == "":
		verr.Add("title", msgTitleRequired)
	case utf8.RuneCountInString(task.Title) > MaxTitleLength:
		verr.Add("title", msgTitleMax)
	}

	switch {
	case task.Description == "":
		verr.Add("description", msgDescriptionRequired)
	case utf8.RuneCountInString(task.Description) > MaxDescriptionLength:
		verr.Add("description", msgDescriptionMax)
	}

	if strings.TrimSpace(in.DueDate) == "" {
		verr.Add("due_date", msgDueDateRequired)
	} else if due, err := ParseDate(in.DueDate); err != nil {
		verr.Add("due_date", msgDueDateInvalid)
	} else if !due.After(NewDate(now).Time) {
		verr.Add("due_date", msgDueDateAfter)
	} else {
		task.DueDate = due
	}

	// zero is absent; a negative id was sent but cannot exist
	switch {
	case in.CategoryID == 0:
		verr.Add("category_id", msgCategoryRequired)
	case in.CategoryID < 0:
		verr.Add("category_id", msgCategoryExists)
	}
	switch {
	case in.PriorityID == 0:
		verr.Add("priority_id", msgPriorityRequired)
	case in.PriorityID < 0:
		verr.Add("priority_id", msgPriorityExists)
	}
	return task, verr
}

// ValidateStatus parses a requested status.
func ValidateStatus(raw string) (Status, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		verr := &ValidationError{}
		verr.Add("status", msgStatusRequired)
		return "", verr
	}
	s := Status(raw)
	if !s.Valid() {
		verr := &ValidationError{}
		verr.Add("status", msgStatusInvalid)
		return "", verr
	}
	return s, nil
}
