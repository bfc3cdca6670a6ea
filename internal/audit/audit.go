package audit

import (
	"bytes"
	"encoding/json"
	"os"
	"sync"
	"time"

	"github.com/PolarWolf314/aclsync/internal/configs"
	"github.com/PolarWolf314/aclsync/internal/utils"
)

// TimestampFormat is RFC3339 in UTC with microseconds.
const TimestampFormat = "2006-01-02T15:04:05.000000Z"

// Entry represents a single audit log entry.
type Entry struct {
	Timestamp string `json:"ts"`
	ActorID   string `json:"actor"`
	Operator  string `json:"operator,omitempty"` // user@host running the command.
	Operation string `json:"op"`

	BatchID     string     `json:"batch_id,omitempty"`
	DryRun      bool       `json:"dry_run,omitempty"`
	Resources   []string   `json:"resources,omitempty"`
	TargetUsers []string   `json:"target_users,omitempty"` // For rotate.
	Folder      string     `json:"folder,omitempty"`       // For move.
	Validated   int        `json:"validated,omitempty"`
	Failed      int        `json:"failed,omitempty"`
	Cancelled   int        `json:"cancelled,omitempty"`
	Created     int        `json:"secrets_created,omitempty"`
	Deleted     int        `json:"secrets_deleted,omitempty"`
	Checked     int        `json:"checked,omitempty"` // For validate/sweep.
	Mismatches  []Mismatch `json:"mismatches,omitempty"`
	Error       string     `json:"error,omitempty"`
}

// Mismatch is a reader/secret integrity alarm for one resource.
type Mismatch struct {
	ResourceID string   `json:"resource"`
	Missing    []string `json:"missing,omitempty"`
	Extra      []string `json:"extra,omitempty"`
}

var (
	mu       sync.Mutex
	disabled bool
)

// SetEnabled turns audit logging on or off for the process.
func SetEnabled(enabled bool) {
	mu.Lock()
	defer mu.Unlock()
	disabled = !enabled
}

// Log appends an entry to the project audit log.
// Failures are swallowed: operations must not fail because auditing did.
func Log(entry Entry) {
	mu.Lock()
	off := disabled
	mu.Unlock()
	if off {
		return
	}

	path := LogPath()
	if path == "" {
		return
	}
	_ = LogTo(path, entry)
}

// LogTo appends an entry to the log at path, returning any write error.
func LogTo(path string, entry Entry) error {
	if entry.Timestamp == "" {
		entry.Timestamp = time.Now().UTC().Format(TimestampFormat)
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}

	mu.Lock()
	defer mu.Unlock()

	// #nosec G306 -- audit log should be readable by team members.
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = f.Write(append(data, '\n'))
	return err
}

// LogWithActor returns an entry with the actor and operator filled in.
func LogWithActor(op, actorID string) Entry {
	return Entry{Operation: op, ActorID: actorID, Operator: utils.Operator()}
}

// LogPath returns the path to the audit log file.
// Returns empty string if project is not initialized.
func LogPath() string {
	if configs.ProjectAclsyncSettings == nil {
		return ""
	}
	return configs.ProjectAclsyncSettings.AuditLogPath
}

// ReadEntries reads all entries from the audit log.
// Returns an empty slice if the log doesn't exist.
func ReadEntries() ([]Entry, error) {
	path := LogPath()
	if path == "" {
		return nil, nil
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return ParseEntries(data)
}

// ParseEntries parses JSON Lines data into audit entries.
// Malformed lines are silently skipped.
func ParseEntries(data []byte) ([]Entry, error) {
	var entries []Entry
	for _, line := range bytes.Split(data, []byte{'\n'}) {
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		var entry Entry
		if err := json.Unmarshal(line, &entry); err != nil {
			continue
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// Filter selects entries matching op (when non-empty) that are no older
// than since (when non-zero). Entries with unparsable timestamps are kept
// only when since is zero.
func Filter(entries []Entry, op string, since time.Time) []Entry {
	var out []Entry
	for _, e := range entries {
		if op != "" && e.Operation != op {
			continue
		}
		if !since.IsZero() {
			ts, err := time.Parse(TimestampFormat, e.Timestamp)
			if err != nil || ts.Before(since) {
				continue
			}
		}
		out = append(out, e)
	}
	return out
}
