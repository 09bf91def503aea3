package payments

import (
	"context"
	"fmt"

	directorydb "github.com/btcpaydir/nwc-billing/internal/database"
	"github.com/btcpaydir/nwc-billing/internal/logger"
)

// SchedulerStore selects the subscriptions due for payment
type SchedulerStore interface {
	FindDueSubscriptions() ([]directorydb.Subscription, error)
}

// PaymentProcessor runs one payment attempt
type PaymentProcessor interface {
	ProcessRecurringPayment(ctx context.Context, subscriptionID uint) PaymentResult
}

// Scheduler feeds due subscriptions to the dispatcher, one result per
// subscription. It is invoked by an external periodic trigger; the cadence
// is a deployment decision.
type Scheduler struct {
	db         SchedulerStore
	dispatcher PaymentProcessor
}

func NewScheduler(db SchedulerStore, dispatcher PaymentProcessor) *Scheduler {
	return &Scheduler{db: db, dispatcher: dispatcher}
}

// ProcessAllDuePayments runs one batch. One bad subscription never aborts
// the batch; its failure is captured in its own result and the loop moves
// on. A failed attempt simply stays eligible for the next run.
func (s *Scheduler) ProcessAllDuePayments(ctx context.Context) ([]PaymentResult, error) {
	due, err := s.db.FindDueSubscriptions()
	if err != nil {
		return nil, fmt.Errorf("failed to query due subscriptions: %w", err)
	}

	logger.Info("processing due subscriptions", "count", len(due))

	results := make([]PaymentResult, 0, len(due))
	for _, sub := range due {
		results = append(results, s.processOne(ctx, sub.ID))
	}

	return results, nil
}

func (s *Scheduler) processOne(ctx context.Context, subscriptionID uint) (result PaymentResult) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("dispatcher panicked", "subscription", subscriptionID, "panic", r)
			result = PaymentResult{
				SubscriptionID: subscriptionID,
				Success:        false,
				Error:          fmt.Sprintf("internal error: %v", r),
			}
		}
	}()

	return s.dispatcher.ProcessRecurringPayment(ctx, subscriptionID)
}
