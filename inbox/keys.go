package inbox

// Attribute names for inbox items, beyond the shared storage attributes.
const (
	AttrOwner   = "owner"
	AttrOwnerID = "ownerId"
)

// OwnerIndex is the secondary index keyed on (hashed owner, hashed id).
const OwnerIndex = "owner-index"
