package acl

import (
	"fmt"
	"sort"

	kerrors "github.com/PolarWolf314/aclsync/internal/errors"
)

// Collection is an immutable set of permissions keyed by subject.
type Collection struct {
	entries map[Subject]Permission
}

// NewCollection builds a collection. All permissions must target the same
// object and name distinct subjects.
func NewCollection(perms ...Permission) (Collection, error) {
	entries := make(map[Subject]Permission, len(perms))
	var aco Aco
	var acoID string
	for i, p := range perms {
		if p.IsZero() {
			return Collection{}, &kerrors.MalformedPermissionError{Field: "permission", Value: fmt.Sprintf("#%d", i)}
		}
		if i == 0 {
			aco, acoID = p.aco, p.acoID
		} else if p.aco != aco || p.acoID != acoID {
			return Collection{}, &kerrors.MalformedPermissionError{Field: "aco_foreign_key", Value: p.acoID}
		}
		if _, dup := entries[p.subject]; dup {
			return Collection{}, fmt.Errorf("%w: %s on %s", kerrors.ErrDuplicateSubject, p.subject, p.acoID)
		}
		entries[p.subject] = p
	}
	return Collection{entries: entries}, nil
}

// MustCollection is NewCollection for fixtures; it panics on invalid input.
func MustCollection(perms ...Permission) Collection {
	c, err := NewCollection(perms...)
	if err != nil {
		panic(err)
	}
	return c
}

func (c Collection) Len() int { return len(c.entries) }

func (c Collection) Get(s Subject) (Permission, bool) {
	p, ok := c.entries[s]
	return p, ok
}

// BySubject looks up the permission granted to a subject.
func BySubject(c Collection, aro Aro, aroID string) (Permission, bool) {
	return c.Get(Subject{Aro: aro, ID: aroID})
}

// Permissions returns the entries ordered by subject type then id.
func (c Collection) Permissions() []Permission {
	out := make([]Permission, 0, len(c.entries))
	for _, p := range c.entries {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		return subjectLess(out[i].subject, out[j].subject)
	})
	return out
}

// Subjects returns the subjects ordered by type then id.
func (c Collection) Subjects() []Subject {
	perms := c.Permissions()
	out := make([]Subject, len(perms))
	for i, p := range perms {
		out[i] = p.subject
	}
	return out
}

// Owners returns the subjects holding OWNER.
func (c Collection) Owners() []Subject {
	var out []Subject
	for _, p := range c.Permissions() {
		if p.level == LevelOwner {
			out = append(out, p.subject)
		}
	}
	return out
}

// GroupIDs returns the ids of every group subject.
func (c Collection) GroupIDs() []string {
	var out []string
	for _, s := range c.Subjects() {
		if s.Aro == AroGroup {
			out = append(out, s.ID)
		}
	}
	return out
}

// With returns a copy of c where p replaces any entry for the same subject.
func (c Collection) With(p Permission) Collection {
	out := c.clone(len(c.entries) + 1)
	out.entries[p.subject] = p
	return out
}

// Without returns a copy of c without the subject.
func (c Collection) Without(s Subject) Collection {
	out := c.clone(len(c.entries))
	delete(out.entries, s)
	return out
}

// Equal reports whether both collections grant the same levels to the same subjects.
func (c Collection) Equal(other Collection) bool {
	if len(c.entries) != len(other.entries) {
		return false
	}
	for s, p := range c.entries {
		q, ok := other.entries[s]
		if !ok || q.level != p.level {
			return false
		}
	}
	return true
}

func (c Collection) clone(capacity int) Collection {
	entries := make(map[Subject]Permission, capacity)
	for s, p := range c.entries {
		entries[s] = p
	}
	return Collection{entries: entries}
}

// Union returns every subject of a and b. A subject present in both keeps the higher level,
// and the entry from a when levels are equal.
func Union(a, b Collection) Collection {
	out := a.clone(len(a.entries) + len(b.entries))
	for s, p := range b.entries {
		if q, ok := out.entries[s]; !ok || p.level > q.level {
			out.entries[s] = p
		}
	}
	return out
}

// Difference returns the entries of a whose subject is absent from b. Levels are ignored.
func Difference(a, b Collection) Collection {
	out := Collection{entries: make(map[Subject]Permission)}
	for s, p := range a.entries {
		if _, ok := b.entries[s]; !ok {
			out.entries[s] = p
		}
	}
	return out
}

// ChangedLevel returns the subjects present in both collections with different levels.
func ChangedLevel(a, b Collection) []LevelChange {
	var out []LevelChange
	for s, p := range a.entries {
		if q, ok := b.entries[s]; ok && q.level != p.level {
			out = append(out, LevelChange{Subject: s, From: p.level, To: q.level})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return subjectLess(out[i].Subject, out[j].Subject)
	})
	return out
}

func subjectLess(a, b Subject) bool {
	if a.Aro != b.Aro {
		return a.Aro < b.Aro
	}
	return a.ID < b.ID
}
