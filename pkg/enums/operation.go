package enums

import (
	"fmt"
	"strings"
)

// Operation is the change kind carried by a CDC envelope.
type Operation string

const (
	OperationCreated Operation = "CREATED"
	OperationUpdated Operation = "UPDATED"
	OperationDeleted Operation = "DELETED"
)

var operationCodes = map[Operation]string{
	OperationCreated: "c",
	OperationUpdated: "u",
	OperationDeleted: "d",
}

func (o Operation) String() string {
	return string(o)
}

func (o Operation) IsValid() bool {
	_, ok := operationCodes[o]
	return ok
}

// Code returns the single-letter Debezium form (c/u/d).
func (o Operation) Code() string {
	return operationCodes[o]
}

// ParseOperation maps CREATED/UPDATED/DELETED and c/u/d (plus the snapshot
// read "r") onto Operation. Matching is case-insensitive.
func ParseOperation(value string) (Operation, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "created", "c", "r":
		return OperationCreated, nil
	case "updated", "u":
		return OperationUpdated, nil
	case "deleted", "d":
		return OperationDeleted, nil
	}
	return "", fmt.Errorf("invalid operation %q", value)
}
