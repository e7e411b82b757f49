package permission

import "context"

// RoleOracle evaluates capabilities against the roles carried on the actor
// itself. It is the bundled policy evaluator used by the CLI and tests;
// deployments with a central policy service supply their own Oracle.
type RoleOracle struct{}

// Allowed implements Oracle. A role grants a capability either globally
// (no resource scope) or for resources whose id or owner appears in the
// role's scope. An unscoped check passes when any role grants the
// capability at all; the stores follow it with per-record checks when
// listing broadly, so a scoped grant never widens what a caller can see.
func (RoleOracle) Allowed(ctx context.Context, actor *Actor, capability Capability, resource *Resource) (bool, error) {
	if actor == nil {
		return true, nil
	}
	for _, role := range actor.Roles {
		if !grants(role, capability) {
			continue
		}
		if len(role.Resources) == 0 || resource == nil {
			return true, nil
		}
		for _, id := range role.Resources {
			if id == resource.ID || (resource.Owner != "" && id == resource.Owner) {
				return true, nil
			}
		}
	}
	return false, nil
}

func grants(role Role, capability Capability) bool {
	for _, c := range role.Capabilities {
		if c == capability {
			return true
		}
	}
	return false
}
