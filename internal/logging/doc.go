// Package logger provides leveled terminal logging for aclsync.
//
// The logger supports multiple verbosity levels controlled by command-line
// flags. Output is prefixed with a colored level tag.
//
// # Verbosity Levels
//
//   - --verbose: Shows info messages
//   - --debug: Shows all messages including debug details and pipeline stage transitions
//
// Warnings and errors are always shown.
//
// # Usage
//
//	log := Logger{Verbose: verbose, Debug: debug}
//	log.Infof("Planning share for %d resources", count)
//
// Commands create a logger in the root PersistentPreRun and pass it down
// through workflow options into the engine packages. The zero Logger is
// valid and only prints warnings and errors.
package logger
