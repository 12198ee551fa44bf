package enforcement

import "strings"

// Wildcard matches any project or ref in a Custom rule.
const Wildcard = ".*"

// Custom resolves policies from a fixed rule table.
//
// Each rule has the form "project[:ref]". An empty or missing segment is the
// wildcard. Lookups fall back from the exact project to the wildcard project,
// and within a project from the exact ref to the wildcard ref. Anything left
// unmatched is Required.
type Custom struct {
	rules map[string]map[string]Policy
}

// NewCustom builds a resolver from rules grouped by policy.
func NewCustom(rules map[Policy][]string) *Custom {
	c := &Custom{rules: make(map[string]map[string]Policy)}
	for _, policy := range Policies {
		for _, rule := range rules[policy] {
			c.add(policy, rule)
		}
	}
	return c
}

func (c *Custom) add(policy Policy, rule string) {
	project, ref, hasRef := strings.Cut(rule, ":")
	project = emptyToWildcard(project)
	if !hasRef {
		ref = Wildcard
	}
	ref = emptyToWildcard(ref)

	refs, ok := c.rules[project]
	if !ok {
		refs = make(map[string]Policy)
		c.rules[project] = refs
	}
	refs[ref] = policy
}

func emptyToWildcard(s string) string {
	if strings.TrimSpace(s) == "" {
		return Wildcard
	}
	return s
}

func (c *Custom) projectRules(project string) map[string]Policy {
	if refs, ok := c.rules[project]; ok {
		return refs
	}
	return c.rules[Wildcard]
}

func (c *Custom) ProjectPolicy(project string) Policy {
	if p, ok := c.projectRules(project)[Wildcard]; ok {
		return p
	}
	return Required
}

func (c *Custom) RefPolicy(project, ref string) Policy {
	if IsIgnoredByDefault(ref) {
		return Ignored
	}
	refs := c.projectRules(project)
	if p, ok := refs[ref]; ok {
		return p
	}
	if p, ok := refs[Wildcard]; ok {
		return p
	}
	return Required
}
