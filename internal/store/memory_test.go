package store

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestMemory_ListsKeepCreationOrder(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	if err := Seed(ctx, m, "Today", "Work", "", "Today"); err != nil {
		t.Fatalf("Seed() error = %v", err)
	}
	if _, err := m.AppendTasks(ctx, "Groceries", []string{"eggs"}); err != nil {
		t.Fatalf("AppendTasks() error = %v", err)
	}

	lists, err := m.Lists(ctx)
	if err != nil {
		t.Fatalf("Lists() error = %v", err)
	}
	names := ListNames(lists)
	want := []string{"Today", "Work", "Groceries"}
	if len(names) != len(want) {
		t.Fatalf("names = %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("names = %v, want %v", names, want)
		}
	}

	l, ok := FindList(lists, " groceries ")
	if !ok || l.Name != "Groceries" || len(l.Tasks) != 1 {
		t.Fatalf("FindList() = %+v, %v", l, ok)
	}
}

func TestMemory_CompleteTask(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	added, _ := m.AppendTasks(ctx, "Today", []string{"walk dog"})
	task, err := m.CompleteTask(ctx, "Today", added[0].ID)
	if err != nil {
		t.Fatalf("CompleteTask() error = %v", err)
	}
	if !task.Completed || task.CompletedAt == nil {
		t.Fatalf("task = %+v, want completed", task)
	}

	lists, _ := m.Lists(ctx)
	if !lists[0].Tasks[0].Completed {
		t.Fatalf("stored task not completed")
	}

	if _, err := m.CompleteTask(ctx, "Today", "missing"); !errors.Is(err, ErrTaskNotFound) {
		t.Fatalf("CompleteTask(missing) error = %v, want ErrTaskNotFound", err)
	}
	if _, err := m.CompleteTask(ctx, "Nope", added[0].ID); !errors.Is(err, ErrListNotFound) {
		t.Fatalf("CompleteTask(bad list) error = %v, want ErrListNotFound", err)
	}
}

func TestMemory_EventsSortedByStart(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	late, _ := m.CreateEvent(ctx, CalendarEvent{Title: "late", Start: base.Add(2 * time.Hour), End: base.Add(3 * time.Hour)})
	early, _ := m.CreateEvent(ctx, CalendarEvent{Title: "early", Start: base, End: base.Add(time.Hour)})
	if late.ID == "" || early.ID == "" || late.ID == early.ID {
		t.Fatalf("event ids not assigned: %q %q", late.ID, early.ID)
	}

	evs, _ := m.Events(ctx)
	if len(evs) != 2 || evs[0].Title != "early" {
		t.Fatalf("events = %+v", evs)
	}
}
