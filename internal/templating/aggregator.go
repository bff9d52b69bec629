package templating

import (
	"context"
	"fmt"
	"time"

	"github.com/yegors/voxdesk/internal/store"
)

// DataAggregator collects the task state instructions can refer to
type DataAggregator struct {
	tasks       store.TaskStore
	currentList func() string
	now         func() time.Time
}

// NewDataAggregator creates an aggregator. currentList may be nil.
func NewDataAggregator(tasks store.TaskStore, currentList func() string) *DataAggregator {
	return &DataAggregator{
		tasks:       tasks,
		currentList: currentList,
		now:         time.Now,
	}
}

// GetTemplateContext reads the task lists
func (a *DataAggregator) GetTemplateContext(ctx context.Context) (*Context, error) {
	tc := &Context{Timestamp: a.now()}
	if a.currentList != nil {
		tc.CurrentList = a.currentList()
	}
	if a.tasks == nil {
		return tc, nil
	}

	lists, err := a.tasks.Lists(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load task lists: %w", err)
	}
	for _, l := range lists {
		s := ListSummary{Name: l.Name}
		for _, t := range l.Tasks {
			if t.Completed {
				s.Completed++
			} else {
				s.Open++
			}
		}
		tc.Lists = append(tc.Lists, s)
	}
	return tc, nil
}
