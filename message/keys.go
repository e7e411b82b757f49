package message

// Attribute names for message items, beyond the shared storage attributes.
const (
	AttrInbox   = "inbox"
	AttrInboxID = "inboxId"
	AttrExtra   = "extra"
)

// InboxIndex is the secondary index keyed on (hashed inbox, hashed id).
const InboxIndex = "inbox-index"
