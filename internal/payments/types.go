package payments

import "errors"

var (
	ErrSubscriptionNotFound    = errors.New("subscription not found")
	ErrSubscriptionNotActive   = errors.New("subscription is not active")
	ErrRecipientAddressMissing = errors.New("server has no lightning address")
	ErrInvoiceGenerationFailed = errors.New("failed to generate invoice")
	ErrInvalidConnectionString = errors.New("stored connection string is invalid")
	ErrPaymentRelayFailed      = errors.New("payment relay failed")
	ErrPaymentRateLimited      = errors.New("payment rate limit exceeded")
)

// PaymentResult is the terminal outcome of one payment attempt. Failures
// are carried in Error rather than thrown, so a batch caller can keep
// going.
type PaymentResult struct {
	SubscriptionID uint   `json:"subscription_id"`
	Success        bool   `json:"success"`
	Preimage       string `json:"preimage,omitempty"`
	AmountSats     int64  `json:"amount_sats,omitempty"`
	Error          string `json:"error,omitempty"`
}
