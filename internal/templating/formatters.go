package templating

import (
	"fmt"
	"strings"
)

// FormatLists renders list summaries as one line per list
func FormatLists(lists []ListSummary, current string) string {
	if len(lists) == 0 {
		return "No task lists yet."
	}
	var b strings.Builder
	for i, l := range lists {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "- %s: %d open, %d completed", l.Name, l.Open, l.Completed)
		if strings.EqualFold(l.Name, current) {
			b.WriteString(" (current)")
		}
	}
	return b.String()
}

func listNames(lists []ListSummary) []string {
	names := make([]string, 0, len(lists))
	for _, l := range lists {
		names = append(names, l.Name)
	}
	return names
}
