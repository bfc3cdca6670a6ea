// Package acl is the permission model of aclsync.
//
// A Permission grants a subject (a User or a Group, the ARO) an access level
// on an access-controlled object (a Resource or a Folder, the ACO). Both tags
// are closed enums; unknown tags, non-UUID identifiers and levels outside
// {READ=1, UPDATE=7, OWNER=15} are rejected at construction with
// errors.ErrMalformedPermission.
//
// Levels are bit supersets of each other (15 ⊇ 7 ⊇ 1), so Level.Allows is a
// mask test and capability is monotonic.
//
// A Collection holds at most one Permission per subject. Collections are
// immutable: Union, Difference and the With/Without helpers return new
// collections and never modify their inputs.
package acl
