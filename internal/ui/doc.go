// Package ui provides semantic text formatting for CLI output.
//
// Formatters render with color when the terminal supports it and fall back
// to text decorations when NO_COLOR is set or the terminal is dumb:
//
//	ui.Code.Sprint("aclsync share --dry-run")    // Commands and code
//	ui.Path.Sprint(".aclsync/config.toml")       // File paths
//	ui.Highlight.Sprint(resourceID)              // Ids and user values
//	ui.Muted.Sprint("no change")                 // De-emphasized text
//
// State and AccessStatus colour pipeline states and reader statuses
// consistently across commands.
package ui
