package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/yegors/voxdesk/internal/realtime/events"
	"github.com/yegors/voxdesk/internal/realtime/protocol"
	"github.com/yegors/voxdesk/internal/store"
	"github.com/yegors/voxdesk/pkg/logger"
)

// Result is the JSON object returned to the backend for one call
type Result map[string]any

// Success reports the result's success flag
func (r Result) Success() bool {
	ok, _ := r["success"].(bool)
	return ok
}

// Sender transmits outbound protocol events
type Sender interface {
	Send(msg any) error
}

// Config configures a Bridge
type Config struct {
	DefaultList       string
	RespondAfterCalls bool
	CallTimeout       time.Duration
}

// Bridge executes function calls against the task and calendar stores and
// answers every call id exactly once
type Bridge struct {
	tasks    store.TaskStore
	calendar store.CalendarStore
	sender   Sender
	bus      *events.Bus
	logger   *logger.Logger
	cfg      Config
	location *time.Location

	mu          sync.Mutex
	currentList string

	queue  chan events.FunctionCall
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a bridge. Calls are queued from the bus and run in order by Start.
func New(tasks store.TaskStore, calendar store.CalendarStore, sender Sender, bus *events.Bus, cfg Config, log *logger.Logger) *Bridge {
	if cfg.DefaultList == "" {
		cfg.DefaultList = "Today"
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 10 * time.Second
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &Bridge{
		tasks:       tasks,
		calendar:    calendar,
		sender:      sender,
		bus:         bus,
		logger:      log.Named("bridge"),
		cfg:         cfg,
		location:    time.Local,
		currentList: cfg.DefaultList,
		queue:       make(chan events.FunctionCall, 64),
	}
}

// Start subscribes to function calls and runs them on a worker goroutine
// until Stop
func (b *Bridge) Start(ctx context.Context) {
	ctx, b.cancel = context.WithCancel(ctx)
	unsubscribe := b.bus.Subscribe(events.KindFunctionCall, func(e events.Event) {
		call := e.(events.FunctionCall)
		select {
		case b.queue <- call:
		case <-ctx.Done():
		}
	})

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		defer unsubscribe()
		for {
			select {
			case <-ctx.Done():
				return
			case call := <-b.queue:
				b.Handle(ctx, call)
			}
		}
	}()
}

// Stop stops the worker. Queued calls that have not started are dropped.
func (b *Bridge) Stop() {
	if b.cancel != nil {
		b.cancel()
	}
	b.wg.Wait()
}

// CurrentList returns the list new tasks are added to
func (b *Bridge) CurrentList() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.currentList
}

// Handle executes one call, sends its output keyed by call id and, when
// configured, requests a follow-up response in the caller's modality
func (b *Bridge) Handle(ctx context.Context, call events.FunctionCall) {
	var result Result
	if call.DecodeErr != nil {
		result = failure(&FunctionExecutionError{Function: call.Name, Err: call.DecodeErr})
	} else {
		callCtx, cancel := context.WithTimeout(ctx, b.cfg.CallTimeout)
		result = b.Execute(callCtx, call.Name, call.Arguments)
		cancel()
	}

	b.logger.Info("Function call executed",
		logger.String("name", call.Name),
		logger.String("call_id", call.CallID),
		logger.Bool("success", result.Success()))

	output, err := json.Marshal(result)
	if err != nil {
		output, _ = json.Marshal(failure(fmt.Errorf("failed to encode result: %w", err)))
	}
	if err := b.sender.Send(protocol.NewFunctionCallOutput(call.CallID, string(output))); err != nil {
		b.logger.Error("Failed to send function call output",
			logger.String("call_id", call.CallID),
			logger.Error(err))
		b.bus.Publish(events.Error{Err: err})
		return
	}

	b.bus.Publish(events.FunctionResult{
		CallID:  call.CallID,
		Name:    call.Name,
		Result:  result,
		Success: result.Success(),
	})

	if !b.cfg.RespondAfterCalls {
		return
	}
	if err := b.sender.Send(protocol.NewResponseCreate(Modalities(call.InputMethod)...)); err != nil {
		b.logger.Warn("Failed to request follow-up response", logger.Error(err))
	}
}

// Modalities returns the response modalities for an input method
func Modalities(input events.InputMethod) []string {
	if input == events.InputVoice {
		return []string{protocol.ModalityText, protocol.ModalityAudio}
	}
	return []string{protocol.ModalityText}
}

// Execute runs a named function. It never returns an error: every failure
// becomes a {success:false, error} result.
func (b *Bridge) Execute(ctx context.Context, name string, args map[string]any) (result Result) {
	fn := ParseFunction(name)
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("Function call panicked",
				logger.String("name", name),
				logger.Any("panic", r))
			result = failure(&FunctionExecutionError{Function: name, Err: fmt.Errorf("internal error: %v", r)})
		}
	}()

	var err error
	switch fn {
	case FuncAddTasks:
		result, err = b.addTasks(ctx, args)
	case FuncGetTasksFromList:
		result, err = b.getTasksFromList(ctx, args)
	case FuncAddCalendarEvent:
		result, err = b.addCalendarEvent(ctx, args)
	case FuncSearchTasks:
		result, err = b.searchTasks(ctx, args)
	case FuncCompleteTask:
		result, err = b.completeTask(ctx, args)
	case FuncListAllTasks:
		result, err = b.listAllTasks(ctx)
	case FuncSwitchTaskList:
		result, err = b.switchTaskList(ctx, args)
	default:
		return Result{"success": false, "error": fmt.Sprintf("Unknown function: %s", name)}
	}

	if err != nil {
		b.logger.Warn("Function call failed",
			logger.String("name", name),
			logger.Error(err))
		fe := &FunctionExecutionError{Function: name, Err: err}
		if result == nil {
			return failure(fe)
		}
		result["success"] = false
		result["error"] = fe.Err.Error()
		return result
	}
	return result
}

func failure(err error) Result {
	var fe *FunctionExecutionError
	if errors.As(err, &fe) {
		err = fe.Err
	}
	return Result{"success": false, "error": err.Error()}
}

// taskView is a task as reported back to the backend
type taskView struct {
	ID        string `json:"id"`
	Text      string `json:"text"`
	Completed bool   `json:"completed"`
	ListName  string `json:"list_name"`
}

func view(list string, t store.Task) taskView {
	return taskView{ID: t.ID, Text: t.Text, Completed: t.Completed, ListName: list}
}

func (b *Bridge) addTasks(ctx context.Context, args map[string]any) (Result, error) {
	raw, ok := args["tasks"].([]any)
	if !ok {
		return nil, errors.New("tasks must be an array of strings")
	}
	texts := make([]string, 0, len(raw))
	for _, v := range raw {
		s, ok := v.(string)
		if !ok {
			return nil, errors.New("tasks must be an array of strings")
		}
		if s = strings.TrimSpace(s); s != "" {
			texts = append(texts, s)
		}
	}
	if len(texts) == 0 {
		return nil, errors.New("no tasks provided")
	}

	list := b.CurrentList()
	added, err := b.tasks.AppendTasks(ctx, list, texts)
	if err != nil {
		return nil, fmt.Errorf("failed to add tasks: %w", err)
	}

	return Result{
		"success":   true,
		"message":   fmt.Sprintf("Added %d task(s) to %s", len(added), list),
		"added":     len(added),
		"list_name": list,
	}, nil
}

func (b *Bridge) getTasksFromList(ctx context.Context, args map[string]any) (Result, error) {
	name, err := stringArg(args, "list_name")
	if err != nil {
		return nil, err
	}
	lists, err := b.tasks.Lists(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read task lists: %w", err)
	}

	list, ok := store.FindList(lists, name)
	if !ok {
		return Result{"available_lists": store.ListNames(lists)}, fmt.Errorf("list %q not found", name)
	}

	tasks := make([]taskView, 0, len(list.Tasks))
	for _, t := range list.Tasks {
		tasks = append(tasks, view(list.Name, t))
	}
	return Result{
		"success":   true,
		"list_name": list.Name,
		"tasks":     tasks,
		"count":     len(tasks),
		"message":   fmt.Sprintf("Found %d task(s) in %s", len(tasks), list.Name),
	}, nil
}

var timeLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04",
}

func (b *Bridge) parseTime(s string) (time.Time, error) {
	for _, layout := range timeLayouts {
		if t, err := time.ParseInLocation(layout, s, b.location); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid time %q, expected ISO 8601", s)
}

func (b *Bridge) addCalendarEvent(ctx context.Context, args map[string]any) (Result, error) {
	title, err := stringArg(args, "title")
	if err != nil {
		return nil, err
	}
	startRaw, err := stringArg(args, "start_time")
	if err != nil {
		return nil, err
	}
	endRaw, err := stringArg(args, "end_time")
	if err != nil {
		return nil, err
	}
	start, err := b.parseTime(startRaw)
	if err != nil {
		return nil, err
	}
	end, err := b.parseTime(endRaw)
	if err != nil {
		return nil, err
	}
	if !end.After(start) {
		return nil, errors.New("end_time must be after start_time")
	}

	ev, err := b.calendar.CreateEvent(ctx, store.CalendarEvent{Title: title, Start: start, End: end})
	if err != nil {
		return nil, fmt.Errorf("failed to create event: %w", err)
	}
	return Result{
		"success": true,
		"message": fmt.Sprintf("Added %q to the calendar on %s", title, start.Format("Mon Jan 2 15:04")),
		"eventId": ev.ID,
	}, nil
}

func (b *Bridge) searchTasks(ctx context.Context, args map[string]any) (Result, error) {
	query, err := stringArg(args, "query")
	if err != nil {
		return nil, err
	}
	lists, err := b.tasks.Lists(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read task lists: %w", err)
	}

	needle := strings.ToLower(query)
	results := []taskView{}
	for _, l := range lists {
		for _, t := range l.Tasks {
			if strings.Contains(strings.ToLower(t.Text), needle) {
				results = append(results, view(l.Name, t))
			}
		}
	}
	return Result{
		"success": true,
		"results": results,
		"count":   len(results),
		"query":   query,
	}, nil
}

func (b *Bridge) completeTask(ctx context.Context, args map[string]any) (Result, error) {
	id, err := stringArg(args, "task_id")
	if err != nil {
		return nil, err
	}
	lists, err := b.tasks.Lists(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read task lists: %w", err)
	}

	for _, l := range lists {
		for _, t := range l.Tasks {
			if t.ID != id {
				continue
			}
			done, err := b.tasks.CompleteTask(ctx, l.Name, id)
			if err != nil {
				return nil, fmt.Errorf("failed to complete task: %w", err)
			}
			return Result{
				"success": true,
				"message": fmt.Sprintf("Completed %q", done.Text),
				"task":    view(l.Name, done),
			}, nil
		}
	}
	return nil, fmt.Errorf("task %q not found", id)
}

func (b *Bridge) listAllTasks(ctx context.Context) (Result, error) {
	lists, err := b.tasks.Lists(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read task lists: %w", err)
	}

	tasks := []taskView{}
	for _, l := range lists {
		for _, t := range l.Tasks {
			tasks = append(tasks, view(l.Name, t))
		}
	}
	return Result{
		"success": true,
		"tasks":   tasks,
		"count":   len(tasks),
		"lists":   store.ListNames(lists),
	}, nil
}

func (b *Bridge) switchTaskList(ctx context.Context, args map[string]any) (Result, error) {
	name, err := stringArg(args, "list_name")
	if err != nil {
		return nil, err
	}
	lists, err := b.tasks.Lists(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read task lists: %w", err)
	}

	list, ok := store.FindList(lists, name)
	if !ok {
		return Result{"available_lists": store.ListNames(lists)}, fmt.Errorf("list %q not found", name)
	}

	b.mu.Lock()
	b.currentList = list.Name
	b.mu.Unlock()

	return Result{
		"success":        true,
		"message":        fmt.Sprintf("Switched to %s", list.Name),
		"current_list":   list.Name,
		"requested_list": name,
	}, nil
}

func stringArg(args map[string]any, key string) (string, error) {
	v, ok := args[key]
	if !ok {
		return "", fmt.Errorf("missing required argument %s", key)
	}
	s, ok := v.(string)
	if !ok || strings.TrimSpace(s) == "" {
		return "", fmt.Errorf("argument %s must be a non-empty string", key)
	}
	return strings.TrimSpace(s), nil
}
