// Package policy decides whether a controller program may be reclaimed
// against. Verdicts are values, never errors: a blocked controller is an
// expected outcome, not a fault.
package policy

import "fmt"

// Verdict is the result of one policy check.
type Verdict struct {
	Allowed bool
	Reason  string
}

// Guard applies an allow-list/block-list policy to controller programs.
// With an allow-list configured, the controller must be in it and not in
// the block-list; without one, it must simply not be in the block-list.
type Guard struct {
	allow map[string]struct{}
	block map[string]struct{}
}

// NewGuard creates a guard. An empty allow slice means "allow anything not
// blocked".
func NewGuard(allow, block []string) *Guard {
	g := &Guard{
		allow: make(map[string]struct{}, len(allow)),
		block: make(map[string]struct{}, len(block)),
	}
	for _, controller := range allow {
		g.allow[controller] = struct{}{}
	}
	for _, controller := range block {
		g.block[controller] = struct{}{}
	}
	return g
}

// Check evaluates one controller against the policy.
func (g *Guard) Check(controller string) Verdict {
	if _, blocked := g.block[controller]; blocked {
		return Verdict{Reason: fmt.Sprintf("controller %s is block-listed", controller)}
	}
	if len(g.allow) > 0 {
		if _, ok := g.allow[controller]; !ok {
			return Verdict{Reason: fmt.Sprintf("controller %s is not allow-listed", controller)}
		}
	}
	return Verdict{Allowed: true, Reason: "controller permitted"}
}
