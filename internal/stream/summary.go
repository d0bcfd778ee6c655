package stream

import (
	"encoding/json"
	"fmt"
	"strings"

	"fieldstack/assist/internal/tools"
)

// SummarizeToolResults builds a human-readable recap of a turn that
// produced tool results but no assistant text. The caller emits it as
// token events before done.
func SummarizeToolResults(results []tools.Result) string {
	if len(results) == 0 {
		return ""
	}
	lines := make([]string, 0, len(results))
	for _, r := range results {
		lines = append(lines, summarizeOne(r))
	}
	return strings.Join(lines, "\n")
}

func summarizeOne(r tools.Result) string {
	if r.Failed {
		return fmt.Sprintf("%s: %s", r.Name, strings.TrimPrefix(r.Content, "error: "))
	}

	switch r.Name {
	case "create_task":
		if title := jsonField(r.Content, "title"); title != "" {
			return fmt.Sprintf("Created task %q.", title)
		}
		return "Created the task."
	case "update_task":
		if title := jsonField(r.Content, "title"); title != "" {
			return fmt.Sprintf("Updated task %q.", title)
		}
		return "Updated the task."
	case "workload_summary":
		return "Workload summary: " + r.Content
	default:
		if n := jsonArrayLen(r.Content); n >= 0 {
			return fmt.Sprintf("%s returned %d results.", r.Name, n)
		}
		return fmt.Sprintf("%s completed.", r.Name)
	}
}

func jsonField(content, key string) string {
	var m map[string]any
	if err := json.Unmarshal([]byte(content), &m); err != nil {
		return ""
	}
	s, _ := m[key].(string)
	return s
}

func jsonArrayLen(content string) int {
	var items []any
	if err := json.Unmarshal([]byte(content), &items); err != nil {
		return -1
	}
	return len(items)
}
