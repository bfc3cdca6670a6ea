package utils

import (
	"strings"

	"github.com/PolarWolf314/aclsync/internal/ui"
)

// FormatList formats ids or paths as an indented bullet list.
func FormatList(items []string) string {
	var b strings.Builder
	b.WriteString("\n")
	for _, item := range items {
		b.WriteString("    - ")
		b.WriteString(ui.Highlight.Sprint(item))
		b.WriteString("\n")
	}
	return b.String()
}

// ShortID truncates a UUID to its first group for compact tables.
func ShortID(id string) string {
	if i := strings.IndexByte(id, '-'); i > 0 {
		return id[:i]
	}
	return id
}
