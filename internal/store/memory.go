package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Memory is an in-process TaskStore and CalendarStore
type Memory struct {
	mu     sync.RWMutex
	order  []string
	lists  map[string][]Task
	events []CalendarEvent
	now    func() time.Time
}

// NewMemory creates an empty store
func NewMemory() *Memory {
	return &Memory{
		lists: make(map[string][]Task),
		now:   time.Now,
	}
}

func (m *Memory) Lists(ctx context.Context) ([]TaskList, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]TaskList, 0, len(m.order))
	for _, name := range m.order {
		tasks := make([]Task, len(m.lists[name]))
		copy(tasks, m.lists[name])
		out = append(out, TaskList{Name: name, Tasks: tasks})
	}
	return out, nil
}

func (m *Memory) EnsureList(ctx context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ensureLocked(name)
	return nil
}

func (m *Memory) ensureLocked(name string) {
	if _, ok := m.lists[name]; !ok {
		m.lists[name] = []Task{}
		m.order = append(m.order, name)
	}
}

func (m *Memory) AppendTasks(ctx context.Context, list string, texts []string) ([]Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.ensureLocked(list)
	added := make([]Task, 0, len(texts))
	for _, text := range texts {
		t := Task{ID: uuid.NewString(), Text: text, CreatedAt: m.now().UTC()}
		m.lists[list] = append(m.lists[list], t)
		added = append(added, t)
	}
	return added, nil
}

func (m *Memory) CompleteTask(ctx context.Context, list, taskID string) (Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	tasks, ok := m.lists[list]
	if !ok {
		return Task{}, fmt.Errorf("%w: %s", ErrListNotFound, list)
	}
	for i := range tasks {
		if tasks[i].ID == taskID {
			now := m.now().UTC()
			tasks[i].Completed = true
			tasks[i].CompletedAt = &now
			return tasks[i], nil
		}
	}
	return Task{}, fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
}

func (m *Memory) CreateEvent(ctx context.Context, ev CalendarEvent) (CalendarEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = m.now().UTC()
	}
	m.events = append(m.events, ev)
	return ev, nil
}

func (m *Memory) Events(ctx context.Context) ([]CalendarEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]CalendarEvent, len(m.events))
	copy(out, m.events)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out, nil
}
