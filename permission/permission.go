// Package permission provides the capability model and the permission gate
// that fronts the external policy oracle. Every store operation resolves
// its ownership context first and then asks the gate to authorize before
// touching storage.
package permission

import (
	"context"

	"github.com/digitalbazaar/bedrock-ldn-inbox/lderr"
)

// Capability is a named authorization right checked against an actor and a
// resource's owner.
type Capability string

// Module capabilities. The EDIT capabilities are declared for completeness
// but unused: updating inboxes and messages is deliberately unimplemented.
const (
	InboxAccess   Capability = "LDN_INBOX_ACCESS"
	InboxInsert   Capability = "LDN_INBOX_INSERT"
	InboxEdit     Capability = "LDN_INBOX_EDIT"
	InboxRemove   Capability = "LDN_INBOX_REMOVE"
	MessageAccess Capability = "LDN_MESSAGE_ACCESS"
	MessageInsert Capability = "LDN_MESSAGE_INSERT"
	MessageEdit   Capability = "LDN_MESSAGE_EDIT"
	MessageRemove Capability = "LDN_MESSAGE_REMOVE"
)

// Descriptions maps each capability to a human-readable label.
var Descriptions = map[Capability]string{
	InboxAccess:   "Access an LDN inbox",
	InboxInsert:   "Insert an LDN inbox",
	InboxEdit:     "Edit an LDN inbox",
	InboxRemove:   "Remove an LDN inbox",
	MessageAccess: "Access an LDN message",
	MessageInsert: "Insert an LDN message",
	MessageEdit:   "Edit an LDN message",
	MessageRemove: "Remove an LDN message",
}

// Actor is the identity on whose behalf an operation runs. A nil *Actor is
// the internal system caller and bypasses all checks; it is used only for
// internal fetches and bootstrap seeding.
type Actor struct {
	ID    string
	Roles []Role
}

// Role grants a set of capabilities, optionally scoped to resource
// identifiers. An empty Resources list is a global grant.
type Role struct {
	Name         string
	Capabilities []Capability
	Resources    []string
}

// Resource describes the target of a scoped permission check: the resource
// identifier plus its resolved owner identity. A nil *Resource denotes an
// unscoped check evaluated against the actor's roles alone.
type Resource struct {
	ID    string
	Owner string
}

// Oracle is the external policy evaluator. Allowed reports whether the
// actor holds the capability for the resource; an error means evaluation
// itself failed, not a denial.
type Oracle interface {
	Allowed(ctx context.Context, actor *Actor, capability Capability, resource *Resource) (bool, error)
}

// Gate wraps the policy oracle and turns denials into structured errors
// carrying the capability that failed.
type Gate struct {
	oracle Oracle
}

// NewGate creates a Gate over the given oracle.
func NewGate(oracle Oracle) *Gate {
	return &Gate{oracle: oracle}
}

// Authorize checks the capability for the actor. A nil actor is the system
// caller and is always allowed.
func (g *Gate) Authorize(ctx context.Context, actor *Actor, capability Capability, resource *Resource) error {
	if actor == nil {
		return nil
	}
	ok, err := g.oracle.Allowed(ctx, actor, capability, resource)
	if err != nil {
		return err
	}
	if !ok {
		return lderr.PermissionDenied(string(capability))
	}
	return nil
}
