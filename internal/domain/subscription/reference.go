package subscription

import (
	"strings"
)

type ReferenceKind string

const (
	ReferencePendingOperator ReferenceKind = "pending-operator"
	ReferenceManager         ReferenceKind = "manager"
)

const referenceVersion = "v1"

// Reference is the parsed form of a gateway externalReference.
type Reference struct {
	Kind ReferenceKind
	ID   string
}

func (r Reference) String() string {
	return string(r.Kind) + ":" + referenceVersion + ":" + r.ID
}

// PendingOperatorReference tags a checkout payment with its staging row.
func PendingOperatorReference(pendingOperatorID string) string {
	return Reference{Kind: ReferencePendingOperator, ID: pendingOperatorID}.String()
}

// ManagerReference tags a manager subscription with its profile.
func ManagerReference(profileID string) string {
	return Reference{Kind: ReferenceManager, ID: profileID}.String()
}

// ParseReference accepts "<kind>:v1:<id>" and the legacy "pending-operator-<id>".
func ParseReference(raw string) (Reference, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Reference{}, false
	}

	parts := strings.SplitN(raw, ":", 3)
	if len(parts) == 3 {
		kind := ReferenceKind(parts[0])
		if parts[1] != referenceVersion || parts[2] == "" {
			return Reference{}, false
		}
		switch kind {
		case ReferencePendingOperator, ReferenceManager:
			return Reference{Kind: kind, ID: parts[2]}, true
		}
		return Reference{}, false
	}

	const legacyPrefix = "pending-operator-"
	if id, ok := strings.CutPrefix(raw, legacyPrefix); ok && id != "" {
		return Reference{Kind: ReferencePendingOperator, ID: id}, true
	}
	return Reference{}, false
}
