package store

import (
	"context"
	"errors"
	"strings"
	"time"
)

var (
	// ErrTaskNotFound is returned when no list holds the task id
	ErrTaskNotFound = errors.New("task not found")
	// ErrListNotFound is returned when the named list does not exist
	ErrListNotFound = errors.New("task list not found")
)

// Task is one to-do item
type Task struct {
	ID          string     `json:"id"`
	Text        string     `json:"text"`
	Completed   bool       `json:"completed"`
	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// TaskList is a named, ordered group of tasks
type TaskList struct {
	Name  string `json:"name"`
	Tasks []Task `json:"tasks"`
}

// CalendarEvent is a scheduled event
type CalendarEvent struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Start     time.Time `json:"start"`
	End       time.Time `json:"end"`
	CreatedAt time.Time `json:"created_at"`
}

// TaskStore reads every list and appends or updates tasks by list
type TaskStore interface {
	// Lists returns all lists in creation order
	Lists(ctx context.Context) ([]TaskList, error)
	// EnsureList creates the list when it does not exist
	EnsureList(ctx context.Context, name string) error
	// AppendTasks adds tasks to the end of a list, creating it if needed
	AppendTasks(ctx context.Context, list string, texts []string) ([]Task, error)
	// CompleteTask marks a task in list as completed
	CompleteTask(ctx context.Context, list, taskID string) (Task, error)
}

// CalendarStore creates calendar events
type CalendarStore interface {
	CreateEvent(ctx context.Context, ev CalendarEvent) (CalendarEvent, error)
	Events(ctx context.Context) ([]CalendarEvent, error)
}

// FindList returns the list whose name matches case-insensitively
func FindList(lists []TaskList, name string) (TaskList, bool) {
	name = strings.TrimSpace(name)
	for _, l := range lists {
		if strings.EqualFold(l.Name, name) {
			return l, true
		}
	}
	return TaskList{}, false
}

// ListNames returns the names of lists in order
func ListNames(lists []TaskList) []string {
	names := make([]string, 0, len(lists))
	for _, l := range lists {
		names = append(names, l.Name)
	}
	return names
}

// Seed creates each named list that does not exist yet
func Seed(ctx context.Context, s TaskStore, names ...string) error {
	for _, n := range names {
		if strings.TrimSpace(n) == "" {
			continue
		}
		if err := s.EnsureList(ctx, n); err != nil {
			return err
		}
	}
	return nil
}
