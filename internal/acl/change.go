package acl

import (
	"encoding/json"
	"fmt"
	"io"

	kerrors "github.com/PolarWolf314/aclsync/internal/errors"
)

// ChangeKind classifies a Change.
type ChangeKind int

const (
	ChangeCreate ChangeKind = iota + 1
	ChangeUpdate
	ChangeDelete
)

func (k ChangeKind) String() string {
	switch k {
	case ChangeCreate:
		return "create"
	case ChangeUpdate:
		return "update"
	case ChangeDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// Change is one entry of a share request:
//
//	{"aco": "Resource", "aco_foreign_key": "...", "aro": "User",
//	 "aro_foreign_key": "...", "is_new": true, "type": 1}
//
// A change with "delete": true, or with type 0 and is_new false, removes the
// subject. Any other change sets the subject to Level.
type Change struct {
	Aco    Aco
	AcoID  string
	Aro    Aro
	AroID  string
	Level  Level
	IsNew  bool
	Delete bool
}

type wireChange struct {
	Aco    string `json:"aco"`
	AcoID  string `json:"aco_foreign_key"`
	Aro    string `json:"aro"`
	AroID  string `json:"aro_foreign_key"`
	IsNew  bool   `json:"is_new"`
	Type   int    `json:"type"`
	Delete bool   `json:"delete,omitempty"`
}

func (c Change) Subject() Subject {
	return Subject{Aro: c.Aro, ID: c.AroID}
}

func (c Change) Kind() ChangeKind {
	switch {
	case c.Delete:
		return ChangeDelete
	case c.IsNew:
		return ChangeCreate
	default:
		return ChangeUpdate
	}
}

// Validate checks tags, identifiers and, for non-delete changes, the level.
func (c Change) Validate() error {
	if !c.Aco.Valid() {
		return &kerrors.MalformedPermissionError{Field: "aco", Value: c.Aco.String()}
	}
	if !c.Aro.Valid() {
		return &kerrors.MalformedPermissionError{Field: "aro", Value: c.Aro.String()}
	}
	if err := ValidateID("aco_foreign_key", c.AcoID); err != nil {
		return err
	}
	if err := ValidateID("aro_foreign_key", c.AroID); err != nil {
		return err
	}
	if c.Delete {
		if c.IsNew {
			return fmt.Errorf("%w: %s is both new and deleted", kerrors.ErrMalformedChange, c.Subject())
		}
		return nil
	}
	if !c.Level.Valid() {
		return &kerrors.MalformedPermissionError{Field: "type", Value: fmt.Sprint(int(c.Level))}
	}
	return nil
}

// Permission converts a non-delete change into the permission it grants.
func (c Change) Permission() (Permission, error) {
	if c.Delete {
		return Permission{}, fmt.Errorf("%w: delete change has no permission", kerrors.ErrMalformedChange)
	}
	return NewPermission(c.Aco, c.AcoID, c.Aro, c.AroID, c.Level)
}

func (c Change) MarshalJSON() ([]byte, error) {
	w := wireChange{
		Aco:    c.Aco.String(),
		AcoID:  c.AcoID,
		Aro:    c.Aro.String(),
		AroID:  c.AroID,
		IsNew:  c.IsNew,
		Type:   int(c.Level),
		Delete: c.Delete,
	}
	if c.Delete {
		w.Type = 0
	}
	return json.Marshal(w)
}

func (c *Change) UnmarshalJSON(data []byte) error {
	var w wireChange
	if err := json.Unmarshal(data, &w); err != nil {
		return fmt.Errorf("%w: %v", kerrors.ErrMalformedChange, err)
	}
	aco, err := ParseAco(w.Aco)
	if err != nil {
		return err
	}
	aro, err := ParseAro(w.Aro)
	if err != nil {
		return err
	}
	out := Change{
		Aco:    aco,
		AcoID:  w.AcoID,
		Aro:    aro,
		AroID:  w.AroID,
		IsNew:  w.IsNew,
		Delete: w.Delete || (w.Type == 0 && !w.IsNew),
	}
	if !out.Delete {
		if out.Level, err = ParseLevel(w.Type); err != nil {
			return err
		}
	}
	if err := out.Validate(); err != nil {
		return err
	}
	*c = out
	return nil
}

// ParseChanges decodes a JSON array of changes.
func ParseChanges(r io.Reader) ([]Change, error) {
	var changes []Change
	dec := json.NewDecoder(r)
	if err := dec.Decode(&changes); err != nil {
		return nil, fmt.Errorf("failed to parse permission changes: %w", err)
	}
	return changes, nil
}

// Resource is a secret-bearing object that can be shared.
type Resource struct {
	ID       string `toml:"id"`
	FolderID string `toml:"folder_id,omitempty"`
	Name     string `toml:"name"`
	URI      string `toml:"uri,omitempty"`
}
