// Package utils provides shared helpers for the aclsync CLI.
//
// # Filesystem Utilities
//
//   - FindProjectRoot: walks up directories to find the .aclsync state directory
//   - FormatList: formats ids or paths for human-readable output
//
// # System Utilities
//
//   - GetUsername, Operator: identify who ran a command in audit entries
//
// # I/O Utilities
//
//   - ReadStdin: reads a piped secret, public key or change list
//
// # Terminal Utilities
//
//   - ReadPassphrase, ReadPassphraseFromTTY: prompt without echo
//   - IsTerminal: decides whether stdin can be prompted
package utils
