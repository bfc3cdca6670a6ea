package changeset

import (
	"fmt"
	"sort"

	"github.com/PolarWolf314/aclsync/internal/acl"
)

// MemberLookup resolves a group to its users. *groups.Snapshot implements it.
type MemberLookup interface {
	Members(groupID string) ([]string, error)
}

// ReaderSet is a set of user ids.
type ReaderSet map[string]struct{}

func NewReaderSet(ids ...string) ReaderSet {
	s := make(ReaderSet, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}

func (s ReaderSet) Has(id string) bool {
	_, ok := s[id]
	return ok
}

// Sorted returns the ids in ascending order.
func (s ReaderSet) Sorted() []string {
	out := make([]string, 0, len(s))
	for id := range s {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Minus returns the ids of s that are not in other, sorted.
func (s ReaderSet) Minus(other ReaderSet) []string {
	var out []string
	for id := range s {
		if !other.Has(id) {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

func (s ReaderSet) Equal(other ReaderSet) bool {
	if len(s) != len(other) {
		return false
	}
	for id := range s {
		if !other.Has(id) {
			return false
		}
	}
	return true
}

// EffectiveReaders returns every user with a direct permission plus every
// member of a group with a direct permission. Every level grants read.
func EffectiveReaders(c acl.Collection, members MemberLookup) (ReaderSet, error) {
	readers := make(ReaderSet)
	for _, p := range c.Permissions() {
		s := p.Subject()
		switch s.Aro {
		case acl.AroUser:
			readers[s.ID] = struct{}{}
		case acl.AroGroup:
			if members == nil {
				return nil, fmt.Errorf("no membership data for group %s", s.ID)
			}
			users, err := members.Members(s.ID)
			if err != nil {
				return nil, err
			}
			for _, u := range users {
				readers[u] = struct{}{}
			}
		}
	}
	return readers, nil
}
