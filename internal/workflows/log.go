package workflows

import (
	"context"
	"fmt"
	"time"

	"github.com/PolarWolf314/aclsync/internal/audit"
	kerrors "github.com/PolarWolf314/aclsync/internal/errors"
)

// LogOptions configures the log workflow.
type LogOptions struct {
	// ProjectPath is the project root. Empty means search upwards from the
	// working directory.
	ProjectPath string

	// Operation filters entries by operation type.
	Operation string

	// Since filters entries older than a date (YYYY-MM-DD) or a duration ago (e.g. 24h).
	Since string

	// Limit is the maximum number of entries to return. 0 means no limit.
	Limit int

	// Reverse orders entries from most recent to oldest when true.
	Reverse bool
}

// Log reads and filters the audit log.
//
// Returns ErrProjectNotInitialized if the project has no .aclsync directory.
// Returns ErrInvalidDateFormat if Since cannot be parsed.
func Log(_ context.Context, opts LogOptions) ([]audit.Entry, error) {
	if _, err := projectSettings(opts.ProjectPath); err != nil {
		return nil, err
	}
	since, err := parseSince(opts.Since, time.Now())
	if err != nil {
		return nil, err
	}

	entries, err := audit.ReadEntries()
	if err != nil {
		return nil, fmt.Errorf("reading audit log: %w", err)
	}
	entries = audit.Filter(entries, opts.Operation, since)

	if opts.Reverse {
		for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
			entries[i], entries[j] = entries[j], entries[i]
		}
	}
	if opts.Limit > 0 && len(entries) > opts.Limit {
		if opts.Reverse {
			entries = entries[:opts.Limit]
		} else {
			entries = entries[len(entries)-opts.Limit:]
		}
	}
	return entries, nil
}

func parseSince(s string, now time.Time) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t, nil
	}
	if d, err := time.ParseDuration(s); err == nil && d > 0 {
		return now.Add(-d), nil
	}
	return time.Time{}, fmt.Errorf("%w: %q, expected YYYY-MM-DD or a duration such as 24h", kerrors.ErrInvalidDateFormat, s)
}
