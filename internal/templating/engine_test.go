package templating

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/yegors/voxdesk/internal/store"
	"github.com/yegors/voxdesk/pkg/logger"
)

func newTestEngine(t *testing.T) (*Engine, *store.Memory) {
	t.Helper()
	ctx := context.Background()
	mem := store.NewMemory()
	store.Seed(ctx, mem, "Today", "Work")
	added, _ := mem.AppendTasks(ctx, "Today", []string{"call mom", "buy milk"})
	mem.CompleteTask(ctx, "Today", added[0].ID)

	agg := NewDataAggregator(mem, func() string { return "Today" })
	agg.now = func() time.Time { return time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC) }
	return NewEngine(agg, logger.NewNop()), mem
}

func TestEngine_RenderUsesTaskState(t *testing.T) {
	e, _ := newTestEngine(t)

	src := `Today is {{.Weekday}} {{.Date}} {{.Time}}. Lists: {{join .ListNames ", "}}. Current: {{.CurrentList}}
{{.Lists}}`
	if err := e.Parse("instructions", src); err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	got, err := e.Render(context.Background(), "instructions")
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	want := "Today is Monday 2026-03-02 09:30. Lists: Today, Work. Current: Today\n" +
		"- Today: 1 open, 1 completed (current)\n" +
		"- Work: 0 open, 0 completed"
	if got != want {
		t.Fatalf("Render() =\n%s\nwant\n%s", got, want)
	}
}

func TestEngine_ParseErrors(t *testing.T) {
	e, _ := newTestEngine(t)

	if err := e.Parse("bad", "{{.Date"); err == nil {
		t.Fatalf("Parse() of unterminated action succeeded")
	}
	if _, err := e.Render(context.Background(), "missing"); err == nil {
		t.Fatalf("Render() of unknown template succeeded")
	}
}

func TestEngine_ParseFileAndClearCache(t *testing.T) {
	e, _ := newTestEngine(t)
	path := filepath.Join(t.TempDir(), "instructions.tmpl")
	if err := os.WriteFile(path, []byte("\n  Use {{upper .CurrentList}}  \n"), 0644); err != nil {
		t.Fatalf("write template: %v", err)
	}

	if err := e.ParseFile("instructions", path); err != nil {
		t.Fatalf("ParseFile() error = %v", err)
	}
	got, err := e.Render(context.Background(), "instructions")
	if err != nil || got != "Use TODAY" {
		t.Fatalf("Render() = %q, %v", got, err)
	}
	if src, ok := e.Source("instructions"); !ok || src != "Use {{upper .CurrentList}}" {
		t.Fatalf("Source() = %q, %v", src, ok)
	}

	e.ClearCache()
	if _, err := e.Render(context.Background(), "instructions"); err == nil {
		t.Fatalf("Render() after ClearCache succeeded")
	}
	if _, ok := e.Source("instructions"); ok {
		t.Fatalf("Source() after ClearCache found the template")
	}
	if err := e.ParseFile("missing", filepath.Join(t.TempDir(), "nope.tmpl")); err == nil {
		t.Fatalf("ParseFile() of a missing file succeeded")
	}
}

func TestFormatLists_Empty(t *testing.T) {
	if got := FormatLists(nil, ""); !strings.Contains(got, "No task lists") {
		t.Fatalf("FormatLists(nil) = %q", got)
	}
}
