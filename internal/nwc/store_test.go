package nwc

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	directorydb "github.com/btcpaydir/nwc-billing/internal/database"
)

type fakeSubscriptionStore struct {
	subs      map[uint]*directorydb.Subscription
	owners    map[uint]uint
	audits    []directorydb.PaymentHistory
	updateErr error
}

func newFakeSubscriptionStore() *fakeSubscriptionStore {
	return &fakeSubscriptionStore{
		subs:   make(map[uint]*directorydb.Subscription),
		owners: make(map[uint]uint),
	}
}

func (f *fakeSubscriptionStore) addSubscription(id, ownerID uint) {
	sub := &directorydb.Subscription{Status: directorydb.SubscriptionStatusActive}
	sub.ID = id
	f.subs[id] = sub
	f.owners[id] = ownerID
}

func (f *fakeSubscriptionStore) FindSubscriptionByIDAndOwner(subscriptionID, ownerID uint) (*directorydb.Subscription, error) {
	sub, ok := f.subs[subscriptionID]
	if !ok || f.owners[subscriptionID] != ownerID {
		return nil, directorydb.ErrRecordNotFound
	}
	return sub, nil
}

func (f *fakeSubscriptionStore) UpdateSubscriptionCredential(subscriptionID uint, payload, meta string, createdAt time.Time) error {
	if f.updateErr != nil {
		return f.updateErr
	}
	sub, ok := f.subs[subscriptionID]
	if !ok {
		return directorydb.ErrRecordNotFound
	}
	sub.NwcCredential = payload
	sub.NwcCredentialMeta = meta
	sub.CredentialCreatedAt = &createdAt
	return nil
}

func (f *fakeSubscriptionStore) TouchCredentialLastUsed(subscriptionID uint, usedAt time.Time) error {
	if sub, ok := f.subs[subscriptionID]; ok {
		sub.CredentialLastUsedAt = &usedAt
	}
	return nil
}

func (f *fakeSubscriptionStore) ClearSubscriptionCredential(subscriptionID uint) error {
	if sub, ok := f.subs[subscriptionID]; ok {
		sub.NwcCredential = ""
		sub.NwcCredentialMeta = ""
		sub.CredentialCreatedAt = nil
		sub.CredentialLastUsedAt = nil
	}
	return nil
}

func (f *fakeSubscriptionStore) AppendAuditRecord(rec *directorydb.PaymentHistory) error {
	f.audits = append(f.audits, *rec)
	return nil
}

func newTestCredentialStore(t *testing.T, db SubscriptionStore) *CredentialStore {
	t.Helper()
	return NewCredentialStore(db, newTestCipher(t))
}

func TestCredentialLifecycle(t *testing.T) {
	db := newFakeSubscriptionStore()
	db.addSubscription(42, 7)
	store := newTestCredentialStore(t, db)

	meta, err := store.Store(42, "nostr+walletconnect://QUJD", 7)
	require.NoError(t, err)
	assert.Equal(t, uint(42), meta.SubscriptionID)
	assert.False(t, meta.CreatedAt.IsZero())

	has, err := store.HasCredential(42, 7)
	require.NoError(t, err)
	assert.True(t, has)

	plaintext, err := store.Fetch(42, 7)
	require.NoError(t, err)
	assert.Equal(t, "nostr+walletconnect://QUJD", plaintext)

	_, err = store.Fetch(42, 99)
	assert.ErrorIs(t, err, ErrNotFoundOrDenied)

	require.NoError(t, store.Remove(42, 7))

	has, err = store.HasCredential(42, 7)
	require.NoError(t, err)
	assert.False(t, has)

	// Every lifecycle operation left exactly one audit record
	statuses := make([]string, 0, len(db.audits))
	for _, rec := range db.audits {
		statuses = append(statuses, rec.Status)
		assert.Zero(t, rec.AmountSats)
	}
	assert.Equal(t, []string{
		string(directorydb.StatusCredentialStored),
		string(directorydb.StatusCredentialAccessed),
		string(directorydb.StatusCredentialRemoved),
	}, statuses)
}

func TestOwnershipIsUniformlyDenied(t *testing.T) {
	db := newFakeSubscriptionStore()
	db.addSubscription(42, 7)
	store := newTestCredentialStore(t, db)

	// A foreign subscription and a missing one are indistinguishable
	_, errForeign := store.Fetch(42, 99)
	_, errMissing := store.Fetch(4242, 99)
	assert.ErrorIs(t, errForeign, ErrNotFoundOrDenied)
	assert.ErrorIs(t, errMissing, ErrNotFoundOrDenied)
	assert.Equal(t, errForeign.Error(), errMissing.Error())

	_, err := store.Store(42, "nostr+walletconnect://QUJD", 99)
	assert.ErrorIs(t, err, ErrNotFoundOrDenied)

	err = store.Remove(42, 99)
	assert.ErrorIs(t, err, ErrNotFoundOrDenied)

	_, err = store.HasCredential(42, 99)
	assert.ErrorIs(t, err, ErrNotFoundOrDenied)
}

func TestFetchWithoutCredential(t *testing.T) {
	db := newFakeSubscriptionStore()
	db.addSubscription(1, 2)
	store := newTestCredentialStore(t, db)

	_, err := store.Fetch(1, 2)
	assert.ErrorIs(t, err, ErrNoCredentialStored)
}

func TestRemoveIsIdempotent(t *testing.T) {
	db := newFakeSubscriptionStore()
	db.addSubscription(1, 2)
	store := newTestCredentialStore(t, db)

	_, err := store.Store(1, "nostr+walletconnect://QUJD", 2)
	require.NoError(t, err)

	require.NoError(t, store.Remove(1, 2))
	require.NoError(t, store.Remove(1, 2))
}

func TestStoreOverwritesPriorBundle(t *testing.T) {
	db := newFakeSubscriptionStore()
	db.addSubscription(1, 2)
	store := newTestCredentialStore(t, db)

	_, err := store.Store(1, "nostr+walletconnect://QUJD", 2)
	require.NoError(t, err)
	_, err = store.Store(1, "nostr+walletconnect://REVG", 2)
	require.NoError(t, err)

	plaintext, err := store.Fetch(1, 2)
	require.NoError(t, err)
	assert.Equal(t, "nostr+walletconnect://REVG", plaintext)
}

func TestStorePropagatesPersistenceError(t *testing.T) {
	db := newFakeSubscriptionStore()
	db.addSubscription(1, 2)
	db.updateErr = errors.New("disk full")
	store := newTestCredentialStore(t, db)

	_, err := store.Store(1, "nostr+walletconnect://QUJD", 2)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "persistence")
	assert.NotErrorIs(t, err, ErrNotFoundOrDenied)
}

func TestStoreRejectsInvalidFormat(t *testing.T) {
	db := newFakeSubscriptionStore()
	db.addSubscription(1, 2)
	store := newTestCredentialStore(t, db)

	_, err := store.Store(1, "not-a-valid-scheme", 2)
	assert.ErrorIs(t, err, ErrInvalidFormat)

	// Nothing was persisted and no audit record was written
	assert.Empty(t, db.subs[1].NwcCredential)
	assert.Empty(t, db.audits)
}
