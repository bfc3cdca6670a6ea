// Package orchestrator runs sharing operations over many resources.
//
// Each resource in a batch goes through its own pipeline:
//
//	PENDING -> DIFFING -> ENCRYPTING -> PERSISTING -> VALIDATED | FAILED
//
// DIFFING re-reads the resource under a per-resource lock and computes its
// change-set. ENCRYPTING produces the secret operations. PERSISTING writes the
// permission changes and then the secret operations. A final validation
// compares secret holders with effective readers.
//
// Resources are independent: one failure never blocks or unwinds another, and
// the batch result lists failed resources so they can be re-submitted. Group
// membership is read once per batch and shared by all pipelines.
//
// Cancellation is checked before each resource starts and between DIFFING and
// ENCRYPTING. A resource that has started encrypting runs to completion.
// Resources that never got that far end CANCELLED.
package orchestrator
