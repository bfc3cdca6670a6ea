// Package filestore keeps resources, permissions, folders, groups, public keys
// and per-user secrets under a project's .aclsync directory:
//
//	.aclsync/
//	├── resources/<resource-id>/resource.toml
//	├── resources/<resource-id>/permissions.toml
//	├── resources/<resource-id>/secrets/<user-id>.secret
//	├── folders/<folder-id>/folder.toml
//	├── groups.toml
//	└── public_keys/<user-id>.pub (+ <user-id>.toml metadata)
//
// Every file is replaced atomically. Secret operations for one user are a
// single rename, so a rekey (delete then create) never leaves the user
// without a copy.
package filestore
