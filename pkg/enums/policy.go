package enums

import (
	"fmt"
	"strings"
)

// UnresolvedPolicy decides what happens to an event whose dependency could
// not be confirmed before the wait deadline.
type UnresolvedPolicy string

const (
	UnresolvedProceed    UnresolvedPolicy = "proceed"
	UnresolvedDeadLetter UnresolvedPolicy = "deadletter"
	UnresolvedFail       UnresolvedPolicy = "fail"
)

var validUnresolvedPolicies = []UnresolvedPolicy{
	UnresolvedProceed,
	UnresolvedDeadLetter,
	UnresolvedFail,
}

func (p UnresolvedPolicy) IsValid() bool {
	for _, candidate := range validUnresolvedPolicies {
		if candidate == p {
			return true
		}
	}
	return false
}

func ParseUnresolvedPolicy(value string) (UnresolvedPolicy, error) {
	normalized := UnresolvedPolicy(strings.ToLower(strings.TrimSpace(value)))
	if normalized.IsValid() {
		return normalized, nil
	}
	return "", fmt.Errorf("invalid unresolved policy %q", value)
}

// CyclePolicy decides what happens when the sorter cannot order a batch.
type CyclePolicy string

const (
	CycleFail       CyclePolicy = "fail"
	CycleAppend     CyclePolicy = "append"
	CycleDeadLetter CyclePolicy = "deadletter"
)

func (p CyclePolicy) IsValid() bool {
	return p == CycleFail || p == CycleAppend || p == CycleDeadLetter
}

func ParseCyclePolicy(value string) (CyclePolicy, error) {
	normalized := CyclePolicy(strings.ToLower(strings.TrimSpace(value)))
	if normalized.IsValid() {
		return normalized, nil
	}
	return "", fmt.Errorf("invalid cycle policy %q", value)
}

// DeadLetterReason classifies why an event was quarantined.
type DeadLetterReason string

const (
	DeadLetterUnresolvedDependency DeadLetterReason = "unresolved_dependency"
	DeadLetterMalformedEnvelope    DeadLetterReason = "malformed_envelope"
	DeadLetterDependencyCycle      DeadLetterReason = "dependency_cycle"
)

var validDeadLetterReasons = []DeadLetterReason{
	DeadLetterUnresolvedDependency,
	DeadLetterMalformedEnvelope,
	DeadLetterDependencyCycle,
}

func (r DeadLetterReason) IsValid() bool {
	for _, candidate := range validDeadLetterReasons {
		if candidate == r {
			return true
		}
	}
	return false
}
