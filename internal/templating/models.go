package templating

import "time"

// Context is the raw data gathered before instructions are rendered
type Context struct {
	Timestamp   time.Time
	CurrentList string
	Lists       []ListSummary
}

// ListSummary counts the tasks of one list
type ListSummary struct {
	Name      string
	Open      int
	Completed int
}

// TemplateData is what instruction templates are executed with
type TemplateData struct {
	Timestamp   time.Time
	Date        string
	Weekday     string
	Time        string
	CurrentList string
	ListNames   []string
	Lists       string // formatted summary of every list
}
