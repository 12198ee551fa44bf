// Package enforcement resolves how strictly ref updates are checked against
// the shared ref store.
//
// Two resolvers share one contract: Default treats every project and ref as
// Required except the refs matched by IsIgnoredByDefault, and Custom is built
// from declarative "project[:ref]" rules grouped by policy.
package enforcement

import (
	"fmt"
	"strings"
)

// Policy is the enforcement level applied to a project or a ref.
type Policy int

const (
	// Ignored skips shared-store validation entirely.
	Ignored Policy = iota
	// Desired validates and records failures but never fails the caller.
	Desired
	// Required validates and fails the caller on any disagreement.
	Required
)

// Policies lists every policy in rule precedence order: later entries win
// when the same project/ref pair is configured more than once.
var Policies = []Policy{Ignored, Desired, Required}

func (p Policy) String() string {
	switch p {
	case Ignored:
		return "IGNORED"
	case Desired:
		return "DESIRED"
	case Required:
		return "REQUIRED"
	default:
		return fmt.Sprintf("Policy(%d)", int(p))
	}
}

// Fatal reports whether a validation failure under p is returned to the caller.
func (p Policy) Fatal() bool {
	return p == Required
}

// ParsePolicy parses a policy name, case-insensitively.
func ParsePolicy(s string) (Policy, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "IGNORED":
		return Ignored, nil
	case "DESIRED":
		return Desired, nil
	case "REQUIRED":
		return Required, nil
	default:
		return 0, fmt.Errorf("enforcement: unknown policy %q", s)
	}
}

// Resolver decides the enforcement policy for a project and for a single ref
// within it. Implementations must be safe for concurrent use.
type Resolver interface {
	ProjectPolicy(project string) Policy
	RefPolicy(project, ref string) Policy
}

// IsIgnoredByDefault reports whether ref is never tracked in the shared store:
// draft comments, immutable change refs other than their meta ref, and
// automerge cache refs.
func IsIgnoredByDefault(ref string) bool {
	return ref == "" ||
		strings.HasPrefix(ref, "refs/draft-comments") ||
		(strings.HasPrefix(ref, "refs/changes") && !strings.HasSuffix(ref, "/meta")) ||
		strings.HasPrefix(ref, "refs/cache-automerge")
}

// Default requires validation for every project and every ref not matched by
// IsIgnoredByDefault.
type Default struct{}

func (Default) ProjectPolicy(string) Policy {
	return Required
}

func (Default) RefPolicy(_, ref string) Policy {
	if IsIgnoredByDefault(ref) {
		return Ignored
	}
	return Required
}
