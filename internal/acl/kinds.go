package acl

import (
	"fmt"

	kerrors "github.com/PolarWolf314/aclsync/internal/errors"
)

// Aco is the type of an access-controlled object.
type Aco int

const (
	AcoResource Aco = iota + 1
	AcoFolder
)

// String returns the wire tag.
func (a Aco) String() string {
	switch a {
	case AcoResource:
		return "Resource"
	case AcoFolder:
		return "Folder"
	default:
		return fmt.Sprintf("Aco(%d)", int(a))
	}
}

// Valid reports whether a is one of the known object types.
func (a Aco) Valid() bool {
	return a == AcoResource || a == AcoFolder
}

// ParseAco parses the wire tag of an access-controlled object.
func ParseAco(s string) (Aco, error) {
	switch s {
	case "Resource":
		return AcoResource, nil
	case "Folder":
		return AcoFolder, nil
	default:
		return 0, &kerrors.MalformedPermissionError{Field: "aco", Value: s}
	}
}

// MarshalText encodes a as its wire tag and rejects unknown values.
func (a Aco) MarshalText() ([]byte, error) {
	if !a.Valid() {
		return nil, &kerrors.MalformedPermissionError{Field: "aco", Value: a.String()}
	}
	return []byte(a.String()), nil
}

// UnmarshalText decodes a wire tag with ParseAco.
func (a *Aco) UnmarshalText(text []byte) error {
	parsed, err := ParseAco(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// Aro is the type of an access-requesting object.
type Aro int

const (
	AroUser Aro = iota + 1
	AroGroup
)

// String returns the wire tag.
func (a Aro) String() string {
	switch a {
	case AroUser:
		return "User"
	case AroGroup:
		return "Group"
	default:
		return fmt.Sprintf("Aro(%d)", int(a))
	}
}

// Valid reports whether a is one of the known requester types.
func (a Aro) Valid() bool {
	return a == AroUser || a == AroGroup
}

// ParseAro parses the wire tag of an access-requesting object.
func ParseAro(s string) (Aro, error) {
	switch s {
	case "User":
		return AroUser, nil
	case "Group":
		return AroGroup, nil
	default:
		return 0, &kerrors.MalformedPermissionError{Field: "aro", Value: s}
	}
}

// MarshalText encodes a as its wire tag and rejects unknown values.
func (a Aro) MarshalText() ([]byte, error) {
	if !a.Valid() {
		return nil, &kerrors.MalformedPermissionError{Field: "aro", Value: a.String()}
	}
	return []byte(a.String()), nil
}

// UnmarshalText decodes a wire tag with ParseAro.
func (a *Aro) UnmarshalText(text []byte) error {
	parsed, err := ParseAro(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// Level is a numeric access level.
type Level int

const (
	LevelRead   Level = 1
	LevelUpdate Level = 7
	LevelOwner  Level = 15
)

// Valid reports whether l is one of the defined access levels.
func (l Level) Valid() bool {
	return l == LevelRead || l == LevelUpdate || l == LevelOwner
}

// Allows reports whether l grants every capability of required.
func (l Level) Allows(required Level) bool {
	return l.Valid() && required.Valid() && l&required == required
}

// String returns the command-line name of the level.
func (l Level) String() string {
	switch l {
	case LevelRead:
		return "read"
	case LevelUpdate:
		return "update"
	case LevelOwner:
		return "owner"
	default:
		return fmt.Sprintf("Level(%d)", int(l))
	}
}

// ParseLevel validates a numeric wire level.
func ParseLevel(n int) (Level, error) {
	l := Level(n)
	if !l.Valid() {
		return 0, &kerrors.MalformedPermissionError{Field: "type", Value: fmt.Sprint(n)}
	}
	return l, nil
}

// ParseLevelName parses the names used on the command line.
func ParseLevelName(s string) (Level, error) {
	switch s {
	case "read", "1":
		return LevelRead, nil
	case "update", "7":
		return LevelUpdate, nil
	case "owner", "15":
		return LevelOwner, nil
	default:
		return 0, &kerrors.MalformedPermissionError{Field: "type", Value: s}
	}
}
