// Package resolve classifies merge conflicts and auto-resolves the safe
// ones. Resolution is a pure function of (base, source, target): no clock,
// no randomness, no store access, so the same divergence always resolves
// the same way on every node.
package resolve

import (
	"fmt"

	"github.com/trellis-data/trellis/diff"
)

// Severity grades a conflict. Info and Warning records never stop a merge;
// unresolved Error and Blocking records fail it outright.
type Severity int

const (
	Info Severity = iota
	Warning
	Error
	Blocking
)

// String returns the string representation of the severity.
func (s Severity) String() string {
	switch s {
	case Info:
		return "info"
	case Warning:
		return "warning"
	case Error:
		return "error"
	case Blocking:
		return "blocking"
	default:
		return "unknown"
	}
}

// ParseSeverity converts a string to a Severity.
func ParseSeverity(s string) (Severity, error) {
	switch s {
	case "info":
		return Info, nil
	case "warning":
		return Warning, nil
	case "error":
		return Error, nil
	case "blocking":
		return Blocking, nil
	default:
		return 0, fmt.Errorf("unknown severity: %s", s)
	}
}

// Candidate is one contested field: both sides changed it relative to the
// common base and landed on different values. Field is empty when the
// contest is at the entity level (removed on one side, touched on the
// other). Kinds record what each side did; they differ for mixed cases
// such as remove-versus-modify.
type Candidate struct {
	Entity     diff.EntityRef
	Field      string
	Base       any
	Source     any
	Target     any
	SourceKind diff.ChangeKind
	TargetKind diff.ChangeKind
}

// Record is the resolver's verdict on one candidate. Resolved records carry
// the strategy that produced Value; unresolved cosmetic records carry the
// target-side value in Value so the merge can proceed keeping it.
type Record struct {
	Entity   diff.EntityRef
	Field    string
	Base     any
	Source   any
	Target   any
	Severity Severity
	Resolved bool
	Strategy string
	Value    any
}

// Blocks reports whether this record alone prevents a merge.
func (r Record) Blocks() bool {
	return !r.Resolved && r.Severity >= Error
}

// String returns a short human-readable form for logs and error text.
func (r Record) String() string {
	state := "unresolved"
	if r.Resolved {
		state = "resolved by " + r.Strategy
	}
	if r.Field == "" {
		return fmt.Sprintf("%s %s: %s", r.Severity, r.Entity, state)
	}
	return fmt.Sprintf("%s %s.%s: %s", r.Severity, r.Entity, r.Field, state)
}
