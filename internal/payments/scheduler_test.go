package payments

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	directorydb "github.com/btcpaydir/nwc-billing/internal/database"
)

type fakeSchedulerStore struct {
	due []directorydb.Subscription
	err error
}

func (f *fakeSchedulerStore) FindDueSubscriptions() ([]directorydb.Subscription, error) {
	return f.due, f.err
}

type scriptedProcessor struct {
	panicOn uint
	failOn  uint
}

func (p *scriptedProcessor) ProcessRecurringPayment(_ context.Context, subscriptionID uint) PaymentResult {
	if subscriptionID == p.panicOn {
		panic("boom")
	}
	if subscriptionID == p.failOn {
		return PaymentResult{SubscriptionID: subscriptionID, Success: false, Error: "relay unreachable"}
	}
	return PaymentResult{SubscriptionID: subscriptionID, Success: true, Preimage: "deadbeef"}
}

func dueSubscriptions(ids ...uint) []directorydb.Subscription {
	subs := make([]directorydb.Subscription, 0, len(ids))
	for _, id := range ids {
		sub := directorydb.Subscription{Status: directorydb.SubscriptionStatusActive}
		sub.ID = id
		subs = append(subs, sub)
	}
	return subs
}

func TestProcessAllDuePayments(t *testing.T) {
	s := NewScheduler(
		&fakeSchedulerStore{due: dueSubscriptions(1, 2, 3)},
		&scriptedProcessor{failOn: 2},
	)

	results, err := s.ProcessAllDuePayments(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 3)

	assert.True(t, results[0].Success)
	assert.False(t, results[1].Success)
	assert.True(t, results[2].Success)
	assert.Equal(t, uint(2), results[1].SubscriptionID)
}

func TestBatchSurvivesPanickingDispatcher(t *testing.T) {
	s := NewScheduler(
		&fakeSchedulerStore{due: dueSubscriptions(1, 2, 3)},
		&scriptedProcessor{panicOn: 2},
	)

	results, err := s.ProcessAllDuePayments(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 3, "one bad subscription must not abort the batch")

	assert.True(t, results[0].Success)
	assert.False(t, results[1].Success)
	assert.Contains(t, results[1].Error, "internal error")
	assert.True(t, results[2].Success)
}

func TestBatchPropagatesQueryFailure(t *testing.T) {
	s := NewScheduler(
		&fakeSchedulerStore{err: errors.New("database locked")},
		&scriptedProcessor{},
	)

	_, err := s.ProcessAllDuePayments(context.Background())
	assert.Error(t, err)
}

func TestEmptyBatch(t *testing.T) {
	s := NewScheduler(&fakeSchedulerStore{}, &scriptedProcessor{})

	results, err := s.ProcessAllDuePayments(context.Background())
	require.NoError(t, err)
	assert.Empty(t, results)
}
