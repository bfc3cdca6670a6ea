package filestore

import (
	"fmt"

	"github.com/PolarWolf314/aclsync/internal/acl"
)

type permissionRecord struct {
	Aro   acl.Aro `toml:"aro"`
	AroID string  `toml:"aro_id"`
	Level int     `toml:"level"`
}

type permissionsFile struct {
	Permissions []permissionRecord `toml:"permission"`
}

type folderFile struct {
	ID          string             `toml:"id"`
	Name        string             `toml:"name"`
	Permissions []permissionRecord `toml:"permission"`
}

type groupRecord struct {
	Name    string   `toml:"name"`
	Members []string `toml:"members"`
}

type groupsFile struct {
	Groups map[string]groupRecord `toml:"groups"`
}

func toRecords(c acl.Collection) []permissionRecord {
	perms := c.Permissions()
	out := make([]permissionRecord, 0, len(perms))
	for _, p := range perms {
		out = append(out, permissionRecord{Aro: p.Subject().Aro, AroID: p.Subject().ID, Level: int(p.Level())})
	}
	return out
}

func fromRecords(aco acl.Aco, acoID string, records []permissionRecord) (acl.Collection, error) {
	perms := make([]acl.Permission, 0, len(records))
	for i, r := range records {
		level, err := acl.ParseLevel(r.Level)
		if err != nil {
			return acl.Collection{}, fmt.Errorf("permission %d of %s %s: %w", i, aco, acoID, err)
		}
		p, err := acl.NewPermission(aco, acoID, r.Aro, r.AroID, level)
		if err != nil {
			return acl.Collection{}, fmt.Errorf("permission %d of %s %s: %w", i, aco, acoID, err)
		}
		perms = append(perms, p)
	}
	return acl.NewCollection(perms...)
}
