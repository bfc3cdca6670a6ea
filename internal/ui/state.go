package ui

import "strings"

// State colours a pipeline state name: VALIDATED green, FAILED red,
// CANCELLED yellow, anything still in flight muted.
func State(name string) string {
	switch strings.ToUpper(name) {
	case "VALIDATED":
		return Success.Sprint(name)
	case "FAILED":
		return Error.Sprint(name)
	case "CANCELLED":
		return Warning.Sprint(name)
	default:
		return Muted.Sprint(name)
	}
}

// AccessStatus colours a reader status from the access report.
func AccessStatus(status string) string {
	switch status {
	case "active":
		return Success.Sprint(status)
	case "missing":
		return Error.Sprint(status)
	case "orphan":
		return Warning.Sprint(status)
	default:
		return status
	}
}

// Mark returns the check or cross used at the start of result lines.
func Mark(ok bool) string {
	if ok {
		return Success.Sprint("✓")
	}
	return Error.Sprint("✗")
}
