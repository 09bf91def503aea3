package directorydb

// AuditStatus is the closed vocabulary of PaymentHistory outcomes.
type AuditStatus string

const (
	StatusCompleted          AuditStatus = "completed"
	StatusFailed             AuditStatus = "failed"
	StatusCredentialStored   AuditStatus = "nwc_store"
	StatusCredentialAccessed AuditStatus = "nwc_access"
	StatusCredentialRemoved  AuditStatus = "nwc_remove"
)

const (
	SubscriptionStatusActive    = "active"
	SubscriptionStatusCancelled = "cancelled"
	SubscriptionStatusInactive  = "inactive"
)

const (
	PaymentMethodNWC = "nwc"

	UsedNonceTreeName = "used_nonces"
)
