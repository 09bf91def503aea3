package directorydb

import (
	"time"

	"gorm.io/gorm"
)

// Shop represents a Bitcoin-accepting shop listed in the directory
type Shop struct {
	gorm.Model
	OwnerID uint   `gorm:"index"`
	Name    string `gorm:"index"`
	Website string
}

// Server represents a payment-infrastructure provider a shop can subscribe to
type Server struct {
	gorm.Model
	Name             string `gorm:"index"`
	Website          string
	LightningAddress string // user@domain, the recipient of recurring payments
}

// Subscription binds a shop to a server with a recurring billing agreement
type Subscription struct {
	gorm.Model
	ShopID     uint   `gorm:"index"`
	ServerID   uint   `gorm:"index"`
	AmountSats int64
	Interval   string // monthly, yearly
	Status     string `gorm:"index"` // active, cancelled, inactive

	// Encrypted NWC credential. Payload is the hex ciphertext, Meta is a
	// JSON document holding {iv, authTag, salt} as hex. The four parts are
	// written and cleared together, never individually.
	NwcCredential        string
	NwcCredentialMeta    string
	CredentialCreatedAt  *time.Time
	CredentialLastUsedAt *time.Time
}

// PaymentHistory is an append-only record of payment attempts and credential
// lifecycle events. Rows are never updated after creation.
type PaymentHistory struct {
	gorm.Model
	SubscriptionID uint      `gorm:"index"`
	AmountSats     int64     // 0 for non-monetary audit events
	Status         string    `gorm:"index"` // see AuditStatus constants
	Method         string    // "nwc"
	Preimage       string    // proof of payment, hex
	Recipient      string    // lightning address paid, if any
	Detail         string    // failure reason or empty
	PaidAt         time.Time `gorm:"index"`
}
