package acl

import (
	"fmt"

	"github.com/google/uuid"

	kerrors "github.com/PolarWolf314/aclsync/internal/errors"
)

// Subject identifies who a permission is granted to.
type Subject struct {
	Aro Aro
	ID  string
}

func (s Subject) String() string {
	return s.Aro.String() + ":" + s.ID
}

// User returns the subject for a user id.
func User(id string) Subject { return Subject{Aro: AroUser, ID: id} }

// Group returns the subject for a group id.
func Group(id string) Subject { return Subject{Aro: AroGroup, ID: id} }

// Permission is a validated ACL entry. The zero value is not valid; use NewPermission.
type Permission struct {
	aco     Aco
	acoID   string
	subject Subject
	level   Level
}

// NewPermission validates and builds a Permission.
func NewPermission(aco Aco, acoID string, aro Aro, aroID string, level Level) (Permission, error) {
	if !aco.Valid() {
		return Permission{}, &kerrors.MalformedPermissionError{Field: "aco", Value: aco.String()}
	}
	if !aro.Valid() {
		return Permission{}, &kerrors.MalformedPermissionError{Field: "aro", Value: aro.String()}
	}
	if err := ValidateID("aco_foreign_key", acoID); err != nil {
		return Permission{}, err
	}
	if err := ValidateID("aro_foreign_key", aroID); err != nil {
		return Permission{}, err
	}
	if !level.Valid() {
		return Permission{}, &kerrors.MalformedPermissionError{Field: "type", Value: fmt.Sprint(int(level))}
	}
	return Permission{aco: aco, acoID: acoID, subject: Subject{Aro: aro, ID: aroID}, level: level}, nil
}

// MustPermission is NewPermission for fixtures; it panics on invalid input.
func MustPermission(aco Aco, acoID string, aro Aro, aroID string, level Level) Permission {
	p, err := NewPermission(aco, acoID, aro, aroID, level)
	if err != nil {
		panic(err)
	}
	return p
}

// ValidateID checks that an identifier is a UUID.
func ValidateID(field, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return &kerrors.MalformedPermissionError{Field: field, Value: id}
	}
	return nil
}

func (p Permission) Aco() Aco { return p.aco }
func (p Permission) AcoID() string { return p.acoID }
func (p Permission) Subject() Subject { return p.subject }
func (p Permission) Level() Level { return p.level }
func (p Permission) IsZero() bool { return p == Permission{} }
func (p Permission) Allows(l Level) bool { return p.level.Allows(l) }

// WithLevel returns a copy of p with a different level.
func (p Permission) WithLevel(l Level) Permission {
	p.level = l
	return p
}

// ForObject returns a copy of p granted on another object, used when folder
// permissions are inherited by the resources inside the folder.
func (p Permission) ForObject(aco Aco, id string) Permission {
	p.aco = aco
	p.acoID = id
	return p
}

func (p Permission) String() string {
	return fmt.Sprintf("%s:%s %s %s", p.aco, p.acoID, p.subject, p.level)
}

// LevelChange describes a subject whose level differs between two collections.
type LevelChange struct {
	Subject Subject
	From    Level
	To      Level
}

// Demotes reports whether the change takes away owner rights.
func (c LevelChange) Demotes() bool {
	return c.From == LevelOwner && c.To != LevelOwner
}
