package payments

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/btcsuite/btcd/btcutil"

	directorydb "github.com/btcpaydir/nwc-billing/internal/database"
	"github.com/btcpaydir/nwc-billing/internal/guard"
	"github.com/btcpaydir/nwc-billing/internal/logger"
)

// DispatcherStore is the slice of persistence the dispatcher needs
type DispatcherStore interface {
	FindSubscriptionByID(subscriptionID uint) (*directorydb.Subscription, error)
	FindShopByID(shopID uint) (*directorydb.Shop, error)
	FindServerByID(serverID uint) (*directorydb.Server, error)
	AppendAuditRecord(rec *directorydb.PaymentHistory) error
}

// CredentialFetcher hands back the decrypted wallet connection string for
// a subscription, enforcing ownership
type CredentialFetcher interface {
	Fetch(subscriptionID, requesterID uint) (string, error)
}

// InvoiceResolver resolves a lightning address into a payment request
type InvoiceResolver interface {
	ResolveInvoice(ctx context.Context, lightningAddress string, amountSats int64) (string, error)
}

// PaymentGate rate limits payment attempts per principal. The access guard
// satisfies it.
type PaymentGate interface {
	Check(principalKey string, op guard.Operation, clientIP string) guard.Decision
}

// Dispatcher executes one recurring payment end to end: load the
// subscription, resolve the recipient invoice, relay the payment over the
// stored wallet connection, and record the outcome. Failures never escape
// its boundary; they land in the returned PaymentResult.
type Dispatcher struct {
	db          DispatcherStore
	credentials CredentialFetcher
	resolver    InvoiceResolver
	relay       RelayClient
	gate        PaymentGate
}

func NewDispatcher(db DispatcherStore, credentials CredentialFetcher, resolver InvoiceResolver, relay RelayClient) *Dispatcher {
	return &Dispatcher{
		db:          db,
		credentials: credentials,
		resolver:    resolver,
		relay:       relay,
	}
}

// SetPaymentGate installs the rate limiter consulted before every relay
// attempt. Without one, payments are not rate limited.
func (d *Dispatcher) SetPaymentGate(gate PaymentGate) {
	d.gate = gate
}

// ProcessRecurringPayment runs a single payment attempt for a subscription.
// There are no partial retries inside an attempt; the first failed step
// terminates it and the next scheduler run retries the whole attempt.
func (d *Dispatcher) ProcessRecurringPayment(ctx context.Context, subscriptionID uint) (result PaymentResult) {
	result = PaymentResult{SubscriptionID: subscriptionID}

	defer func() {
		if r := recover(); r != nil {
			logger.Error("payment attempt panicked", "subscription", subscriptionID, "panic", r)
			result.Success = false
			result.Error = fmt.Sprintf("internal error: %v", r)
			d.record(subscriptionID, &result, "", "")
		}
	}()

	sub, err := d.db.FindSubscriptionByID(subscriptionID)
	if err != nil {
		if errors.Is(err, directorydb.ErrRecordNotFound) {
			return d.fail(subscriptionID, &result, ErrSubscriptionNotFound, "", "")
		}
		return d.fail(subscriptionID, &result, fmt.Errorf("persistence: %w", err), "", "")
	}
	if sub.Status != directorydb.SubscriptionStatusActive {
		return d.fail(subscriptionID, &result, ErrSubscriptionNotActive, "", "")
	}
	result.AmountSats = sub.AmountSats

	server, err := d.db.FindServerByID(sub.ServerID)
	if err != nil {
		return d.fail(subscriptionID, &result, fmt.Errorf("persistence: %w", err), "", "")
	}
	if server.LightningAddress == "" {
		return d.fail(subscriptionID, &result, ErrRecipientAddressMissing, "", "")
	}
	recipient := server.LightningAddress

	shop, err := d.db.FindShopByID(sub.ShopID)
	if err != nil {
		return d.fail(subscriptionID, &result, fmt.Errorf("persistence: %w", err), recipient, "")
	}

	// The shop owner is the principal for both rate limiting and the
	// system-driven credential access
	ownerKey := strconv.FormatUint(uint64(shop.OwnerID), 10)
	if d.gate != nil {
		decision := d.gate.Check(ownerKey, guard.OpPayment, "system")
		if !decision.Allowed {
			return d.fail(subscriptionID, &result, fmt.Errorf("%w: %s", ErrPaymentRateLimited, decision.Reason), recipient, "")
		}
	}

	connString, err := d.credentials.Fetch(subscriptionID, shop.OwnerID)
	if err != nil {
		return d.fail(subscriptionID, &result, err, recipient, "")
	}

	invoice, err := d.resolver.ResolveInvoice(ctx, recipient, sub.AmountSats)
	if err != nil {
		return d.fail(subscriptionID, &result, err, recipient, "")
	}

	conn, err := ParseConnectionString(connString)
	if err != nil {
		return d.fail(subscriptionID, &result, err, recipient, "")
	}

	preimage, err := d.relay.PayInvoice(ctx, conn, invoice)
	if err != nil {
		return d.fail(subscriptionID, &result, fmt.Errorf("%w: %v", ErrPaymentRelayFailed, err), recipient, "")
	}

	result.Success = true
	result.Preimage = preimage
	d.record(subscriptionID, &result, recipient, preimage)

	logger.Info("recurring payment completed",
		"subscription", subscriptionID,
		"amount", btcutil.Amount(sub.AmountSats).String(),
		"recipient", recipient,
		"connection", guard.SanitizeForLog(connString),
	)

	return result
}

func (d *Dispatcher) fail(subscriptionID uint, result *PaymentResult, err error, recipient, preimage string) PaymentResult {
	result.Success = false
	result.Error = err.Error()
	d.record(subscriptionID, result, recipient, preimage)

	logger.Error("recurring payment failed",
		"subscription", subscriptionID,
		"reason", result.Error,
	)

	return *result
}

// record appends the attempt's PaymentHistory row. Best effort for the
// same reason as the credential audit path.
func (d *Dispatcher) record(subscriptionID uint, result *PaymentResult, recipient, preimage string) {
	status := directorydb.StatusCompleted
	if !result.Success {
		status = directorydb.StatusFailed
	}

	rec := &directorydb.PaymentHistory{
		SubscriptionID: subscriptionID,
		AmountSats:     result.AmountSats,
		Status:         string(status),
		Method:         directorydb.PaymentMethodNWC,
		Preimage:       preimage,
		Recipient:      recipient,
		Detail:         result.Error,
		PaidAt:         time.Now(),
	}
	if err := d.db.AppendAuditRecord(rec); err != nil {
		logger.Error("failed to append payment record", "subscription", subscriptionID, "error", err)
	}
}
