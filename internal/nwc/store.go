package nwc

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	directorydb "github.com/btcpaydir/nwc-billing/internal/database"
	"github.com/btcpaydir/nwc-billing/internal/logger"
)

// SubscriptionStore is the slice of the persistence layer the credential
// gateway needs
type SubscriptionStore interface {
	FindSubscriptionByIDAndOwner(subscriptionID, ownerID uint) (*directorydb.Subscription, error)
	UpdateSubscriptionCredential(subscriptionID uint, payload, meta string, createdAt time.Time) error
	TouchCredentialLastUsed(subscriptionID uint, usedAt time.Time) error
	ClearSubscriptionCredential(subscriptionID uint) error
	AppendAuditRecord(rec *directorydb.PaymentHistory) error
}

// CredentialMetadata describes a stored bundle without exposing any of it
type CredentialMetadata struct {
	SubscriptionID uint      `json:"subscription_id"`
	CreatedAt      time.Time `json:"created_at"`
}

// bundleMeta is the JSON companion column holding everything but the
// ciphertext, all hex encoded
type bundleMeta struct {
	IV      string `json:"iv"`
	AuthTag string `json:"authTag"`
	Salt    string `json:"salt"`
}

// CredentialStore bridges the cipher and subscription storage, enforcing
// single-ownership access on every operation.
type CredentialStore struct {
	db     SubscriptionStore
	cipher *Cipher
	now    func() time.Time
}

func NewCredentialStore(db SubscriptionStore, cipher *Cipher) *CredentialStore {
	return &CredentialStore{
		db:     db,
		cipher: cipher,
		now:    time.Now,
	}
}

// Store encrypts plaintext and persists the bundle on the subscription,
// overwriting any prior bundle. Only the shop owner may store.
func (s *CredentialStore) Store(subscriptionID uint, plaintext string, requesterID uint) (*CredentialMetadata, error) {
	if _, err := s.authorize(subscriptionID, requesterID); err != nil {
		return nil, err
	}

	bundle, err := s.cipher.Encrypt(plaintext)
	if err != nil {
		return nil, err
	}

	payload, meta, err := encodeBundle(bundle)
	if err != nil {
		return nil, err
	}

	createdAt := s.now()
	if err := s.db.UpdateSubscriptionCredential(subscriptionID, payload, meta, createdAt); err != nil {
		return nil, fmt.Errorf("persistence: %w", err)
	}

	s.appendAudit(subscriptionID, directorydb.StatusCredentialStored)

	return &CredentialMetadata{SubscriptionID: subscriptionID, CreatedAt: createdAt}, nil
}

// Fetch decrypts and returns the raw connection string. This is the only
// path that returns the plaintext secret and must only be reached from
// trusted backend contexts, never echoed to an external caller.
func (s *CredentialStore) Fetch(subscriptionID, requesterID uint) (string, error) {
	sub, err := s.authorize(subscriptionID, requesterID)
	if err != nil {
		return "", err
	}

	if sub.NwcCredential == "" || sub.NwcCredentialMeta == "" {
		return "", ErrNoCredentialStored
	}

	bundle, err := decodeBundle(sub.NwcCredential, sub.NwcCredentialMeta)
	if err != nil {
		return "", err
	}

	plaintext, err := s.cipher.Decrypt(bundle)
	if err != nil {
		return "", err
	}

	if err := s.db.TouchCredentialLastUsed(subscriptionID, s.now()); err != nil {
		logger.Error("failed to update credential last-used timestamp", "subscription", subscriptionID, "error", err)
	}
	s.appendAudit(subscriptionID, directorydb.StatusCredentialAccessed)

	return plaintext, nil
}

// HasCredential reports whether a bundle is stored, without touching it
func (s *CredentialStore) HasCredential(subscriptionID, requesterID uint) (bool, error) {
	sub, err := s.authorize(subscriptionID, requesterID)
	if err != nil {
		return false, err
	}
	return sub.NwcCredential != "" && sub.NwcCredentialMeta != "", nil
}

// Remove deletes the stored bundle. Removing an absent credential is not
// an error.
func (s *CredentialStore) Remove(subscriptionID, requesterID uint) error {
	if _, err := s.authorize(subscriptionID, requesterID); err != nil {
		return err
	}

	if err := s.db.ClearSubscriptionCredential(subscriptionID); err != nil {
		return fmt.Errorf("persistence: %w", err)
	}

	s.appendAudit(subscriptionID, directorydb.StatusCredentialRemoved)

	return nil
}

// authorize resolves the subscription while hiding whether a denied id
// exists at all
func (s *CredentialStore) authorize(subscriptionID, requesterID uint) (*directorydb.Subscription, error) {
	sub, err := s.db.FindSubscriptionByIDAndOwner(subscriptionID, requesterID)
	if err != nil {
		if errors.Is(err, directorydb.ErrRecordNotFound) {
			return nil, ErrNotFoundOrDenied
		}
		return nil, fmt.Errorf("persistence: %w", err)
	}
	return sub, nil
}

// appendAudit writes a lifecycle record. Best effort: a failed audit write
// is logged but never fails the operation it accompanies.
func (s *CredentialStore) appendAudit(subscriptionID uint, status directorydb.AuditStatus) {
	rec := &directorydb.PaymentHistory{
		SubscriptionID: subscriptionID,
		AmountSats:     0,
		Status:         string(status),
		Method:         directorydb.PaymentMethodNWC,
		PaidAt:         s.now(),
	}
	if err := s.db.AppendAuditRecord(rec); err != nil {
		logger.Error("failed to append audit record", "subscription", subscriptionID, "status", status, "error", err)
	}
}

func encodeBundle(bundle *EncryptedBundle) (payload, meta string, err error) {
	metaBytes, err := json.Marshal(bundleMeta{
		IV:      hex.EncodeToString(bundle.IV),
		AuthTag: hex.EncodeToString(bundle.Tag),
		Salt:    hex.EncodeToString(bundle.Salt),
	})
	if err != nil {
		return "", "", fmt.Errorf("failed to encode bundle meta: %w", err)
	}
	return hex.EncodeToString(bundle.Ciphertext), string(metaBytes), nil
}

// decodeBundle reassembles an EncryptedBundle from its two columns. Any
// missing or malformed part fails closed as a decryption failure.
func decodeBundle(payload, meta string) (*EncryptedBundle, error) {
	var m bundleMeta
	if err := json.Unmarshal([]byte(meta), &m); err != nil {
		return nil, ErrDecryptionFailed
	}

	ciphertext, err := hex.DecodeString(payload)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	iv, err := hex.DecodeString(m.IV)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	tag, err := hex.DecodeString(m.AuthTag)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	salt, err := hex.DecodeString(m.Salt)
	if err != nil {
		return nil, ErrDecryptionFailed
	}

	return &EncryptedBundle{Ciphertext: ciphertext, IV: iv, Tag: tag, Salt: salt}, nil
}
