package ui

import (
	"fmt"
	"os"

	"github.com/fatih/color"
)

// Formatter renders one kind of output text. With colour disabled it falls
// back to plain decorations so the meaning survives in logs and pipes.
type Formatter struct {
	color  *color.Color
	prefix string
	suffix string
}

func (f Formatter) render(text string) string {
	if noColor() {
		return f.prefix + text + f.suffix
	}
	return f.color.Sprint(text)
}

func (f Formatter) Sprint(a ...any) string {
	return f.render(fmt.Sprint(a...))
}

func (f Formatter) Sprintf(format string, a ...any) string {
	return f.render(fmt.Sprintf(format, a...))
}

// EnsureNewline appends a newline unless s already ends with one.
func EnsureNewline(s string) string {
	if n := len(s); n > 0 && s[n-1] == '\n' {
		return s
	}
	return s + "\n"
}

// noColor honours NO_COLOR (https://no-color.org/) and fatih/color's own
// terminal detection.
func noColor() bool {
	if _, set := os.LookupEnv("NO_COLOR"); set {
		return true
	}
	return color.NoColor
}

var (
	// Code is a runnable command: yellow, or `backticks` without colour.
	Code = Formatter{color.New(color.FgYellow), "`", "`"}

	Path = Formatter{color: color.New(color.FgYellow)}
	Flag = Formatter{color: color.New(color.FgYellow)}

	Success = Formatter{color: color.New(color.FgGreen)}
	Error   = Formatter{color: color.New(color.FgRed)}

	// Warning marks warnings and [dry-run] output.
	Warning = Formatter{color: color.New(color.FgYellow)}
	Info    = Formatter{color: color.New(color.FgCyan)}

	// Highlight is a resource, user, group or folder id: cyan, or 'quoted'
	// without colour.
	Highlight = Formatter{color.New(color.FgCyan, color.Bold), "'", "'"}

	// Muted is secondary text: grey, or (parenthesised) without colour.
	Muted = Formatter{color.New(color.FgHiBlack), "(", ")"}
)
