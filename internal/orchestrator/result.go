package orchestrator

import (
	"github.com/hashicorp/go-multierror"

	"github.com/PolarWolf314/aclsync/internal/changeset"
)

// ItemResult is the outcome for one resource.
type ItemResult struct {
	ResourceID string
	State      State
	Err        error
	ChangeSet  *changeset.ResourceChangeSet

	Created int
	Deleted int
}

type BatchResult struct {
	BatchID string
	Items   []ItemResult
}

// Failed returns the ids of FAILED resources, ready to be re-submitted.
func (r *BatchResult) Failed() []string {
	return r.ids(StateFailed)
}

// Cancelled returns the ids of resources that were never processed.
func (r *BatchResult) Cancelled() []string {
	return r.ids(StateCancelled)
}

func (r *BatchResult) Counts() map[State]int {
	counts := make(map[State]int)
	for _, item := range r.Items {
		counts[item.State]++
	}
	return counts
}

// Totals sums the secret operations of every resource.
func (r *BatchResult) Totals() (created, deleted int) {
	for _, item := range r.Items {
		created += item.Created
		deleted += item.Deleted
	}
	return created, deleted
}

// Err aggregates the error of every resource that did not validate.
func (r *BatchResult) Err() error {
	var result *multierror.Error
	for _, item := range r.Items {
		if item.Err != nil {
			result = multierror.Append(result, item.Err)
		}
	}
	return result.ErrorOrNil()
}

func (r *BatchResult) ids(state State) []string {
	var out []string
	for _, item := range r.Items {
		if item.State == state {
			out = append(out, item.ResourceID)
		}
	}
	return out
}
