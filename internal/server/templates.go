package server

import (
	"fmt"
	"strings"
)

// boardTemplates maps a template name to its fixed column layout.
var boardTemplates = map[string][]string{
	"start-stop-continue":  {"Start", "Stop", "Continue"},
	"mad-sad-glad":         {"Mad", "Sad", "Glad"},
	"went-well-to-improve": {"Went Well", "To Improve"},
	"4ls":                  {"Liked", "Learned", "Lacked", "Longed For"},
}

const defaultTemplate = "start-stop-continue"

// resolveColumns turns a template choice into the session's column
// list. The "custom" template takes the client-supplied columns, which
// must be non-empty and free of duplicates; columns are immutable after
// creation.
func resolveColumns(template string, custom []string) ([]string, error) {
	name := strings.ToLower(strings.TrimSpace(template))
	if name == "" {
		name = defaultTemplate
	}

	if name == "custom" {
		if len(custom) == 0 {
			return nil, fmt.Errorf("custom template requires at least one column")
		}
		columns := make([]string, 0, len(custom))
		seen := make(map[string]bool)
		for _, raw := range custom {
			column := strings.TrimSpace(raw)
			if column == "" {
				return nil, fmt.Errorf("column names must not be empty")
			}
			if seen[column] {
				return nil, fmt.Errorf("duplicate column %q", column)
			}
			seen[column] = true
			columns = append(columns, column)
		}
		return columns, nil
	}

	columns, ok := boardTemplates[name]
	if !ok {
		return nil, fmt.Errorf("unknown template %q", template)
	}
	// Copy so sessions never share the backing array.
	return append([]string(nil), columns...), nil
}
