// Package audit records aclsync operations in a project-level log.
//
// Entries are JSON Lines appended to .aclsync/audit.jsonl. Each entry carries
// the acting user id, the operation name, the batch id and per-operation
// counts. Reader/secret mismatches found by validate or sweep are always
// recorded here with the missing and extra user ids.
//
//	entry := audit.LogWithActor("share", actorID)
//	entry.BatchID = result.BatchID
//	entry.Resources = ids
//	audit.Log(entry)
//
// Logging is best-effort: a failed write never fails the operation. Malformed
// lines are skipped when reading so partial writes do not hide the rest of
// the log.
package audit
