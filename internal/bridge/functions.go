package bridge

import (
	"fmt"

	"github.com/yegors/voxdesk/internal/realtime/protocol"
)

// Function is the closed set of callable functions
type Function int

const (
	FuncUnknown Function = iota
	FuncAddTasks
	FuncGetTasksFromList
	FuncAddCalendarEvent
	FuncSearchTasks
	FuncCompleteTask
	FuncListAllTasks
	FuncSwitchTaskList
)

var functionNames = map[Function]string{
	FuncAddTasks:         "add_tasks",
	FuncGetTasksFromList: "get_tasks_from_list",
	FuncAddCalendarEvent: "add_calendar_event",
	FuncSearchTasks:      "search_tasks",
	FuncCompleteTask:     "complete_task",
	FuncListAllTasks:     "list_all_tasks",
	FuncSwitchTaskList:   "switch_task_list",
}

var functionsByName = func() map[string]Function {
	m := make(map[string]Function, len(functionNames))
	for f, n := range functionNames {
		m[n] = f
	}
	return m
}()

// ParseFunction maps a wire name to a Function, FuncUnknown when unrecognized
func ParseFunction(name string) Function {
	return functionsByName[name]
}

func (f Function) String() string {
	if n, ok := functionNames[f]; ok {
		return n
	}
	return fmt.Sprintf("function(%d)", int(f))
}

// FunctionExecutionError is a failed function call. It is always turned
// into a {success:false} result, never returned to the router.
type FunctionExecutionError struct {
	Function string
	Err      error
}

func (e *FunctionExecutionError) Error() string {
	return fmt.Sprintf("function %s failed: %v", e.Function, e.Err)
}

func (e *FunctionExecutionError) Unwrap() error {
	return e.Err
}

func object(props map[string]any, required ...string) map[string]any {
	schema := map[string]any{
		"type":       "object",
		"properties": props,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

func str(desc string) map[string]any {
	return map[string]any{"type": "string", "description": desc}
}

// Tools returns the tool definitions advertised in the session configuration
func Tools() []protocol.ToolDefinition {
	tool := func(f Function, desc string, params map[string]any) protocol.ToolDefinition {
		return protocol.ToolDefinition{Type: "function", Name: f.String(), Description: desc, Parameters: params}
	}

	return []protocol.ToolDefinition{
		tool(FuncAddTasks, "Add one or more tasks to the current task list.", object(map[string]any{
			"tasks": map[string]any{
				"type":        "array",
				"items":       map[string]any{"type": "string"},
				"description": "Task descriptions to add",
			},
		}, "tasks")),
		tool(FuncGetTasksFromList, "Get the tasks in a named task list.", object(map[string]any{
			"list_name": str("Name of the task list"),
		}, "list_name")),
		tool(FuncAddCalendarEvent, "Create a calendar event.", object(map[string]any{
			"title":      str("Event title"),
			"start_time": str("Start time in ISO 8601 format"),
			"end_time":   str("End time in ISO 8601 format"),
		}, "title", "start_time", "end_time")),
		tool(FuncSearchTasks, "Search every task list for tasks containing the query.", object(map[string]any{
			"query": str("Text to search for"),
		}, "query")),
		tool(FuncCompleteTask, "Mark a task as completed.", object(map[string]any{
			"task_id": str("ID of the task to complete"),
		}, "task_id")),
		tool(FuncListAllTasks, "List every task across all task lists.", object(map[string]any{})),
		tool(FuncSwitchTaskList, "Switch the current task list that new tasks are added to.", object(map[string]any{
			"list_name": str("Name of the task list to switch to"),
		}, "list_name")),
	}
}
