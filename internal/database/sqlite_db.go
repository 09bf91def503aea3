package directorydb

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// ErrRecordNotFound is returned when a lookup matches no row. Callers that
// enforce ownership must collapse this with permission failures before it
// reaches an external caller.
var ErrRecordNotFound = errors.New("record not found")

// Store wraps the SQLite database. It is constructed once at startup and
// injected into the components that need persistence.
type Store struct {
	db *gorm.DB
}

// NewStore opens (or creates) the SQLite database and migrates the schema
func NewStore(dbPath string) (*Store, error) {
	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %v", err)
		}
	}

	// Configure GORM to be less verbose
	config := &gorm.Config{
		Logger: logger.Default.LogMode(logger.Error),
	}

	db, err := gorm.Open(sqlite.Open(dbPath), config)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %v", err)
	}

	err = db.AutoMigrate(
		&Shop{},
		&Server{},
		&Subscription{},
		&PaymentHistory{},
	)
	if err != nil {
		return nil, fmt.Errorf("failed to migrate database: %v", err)
	}

	return &Store{db: db}, nil
}

// FindSubscriptionByIDAndOwner loads a subscription only when the owner of
// its shop matches ownerID. A missing subscription and a foreign one are
// both reported as ErrRecordNotFound.
func (s *Store) FindSubscriptionByIDAndOwner(subscriptionID, ownerID uint) (*Subscription, error) {
	var sub Subscription

	result := s.db.Joins("JOIN shops ON shops.id = subscriptions.shop_id").
		Where("subscriptions.id = ? AND shops.owner_id = ?", subscriptionID, ownerID).
		First(&sub)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrRecordNotFound
		}
		return nil, result.Error
	}

	return &sub, nil
}

// FindSubscriptionByID loads a subscription regardless of ownership
func (s *Store) FindSubscriptionByID(subscriptionID uint) (*Subscription, error) {
	var sub Subscription

	result := s.db.First(&sub, subscriptionID)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrRecordNotFound
		}
		return nil, result.Error
	}

	return &sub, nil
}

// FindShopByID loads a shop record
func (s *Store) FindShopByID(shopID uint) (*Shop, error) {
	var shop Shop

	result := s.db.First(&shop, shopID)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrRecordNotFound
		}
		return nil, result.Error
	}

	return &shop, nil
}

// FindServerByID loads a server record
func (s *Store) FindServerByID(serverID uint) (*Server, error) {
	var server Server

	result := s.db.First(&server, serverID)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrRecordNotFound
		}
		return nil, result.Error
	}

	return &server, nil
}

// UpdateSubscriptionCredential overwrites the credential columns in one
// write. A prior credential is replaced, never appended to.
func (s *Store) UpdateSubscriptionCredential(subscriptionID uint, payload, meta string, createdAt time.Time) error {
	result := s.db.Model(&Subscription{}).
		Where("id = ?", subscriptionID).
		Updates(map[string]interface{}{
			"nwc_credential":        payload,
			"nwc_credential_meta":   meta,
			"credential_created_at": createdAt,
		})

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrRecordNotFound
	}

	return nil
}

// TouchCredentialLastUsed records when the credential was last decrypted
func (s *Store) TouchCredentialLastUsed(subscriptionID uint, usedAt time.Time) error {
	return s.db.Model(&Subscription{}).
		Where("id = ?", subscriptionID).
		Update("credential_last_used_at", usedAt).Error
}

// ClearSubscriptionCredential removes all credential columns in one write.
// Clearing an absent credential is not an error.
func (s *Store) ClearSubscriptionCredential(subscriptionID uint) error {
	return s.db.Model(&Subscription{}).
		Where("id = ?", subscriptionID).
		Updates(map[string]interface{}{
			"nwc_credential":          "",
			"nwc_credential_meta":     "",
			"credential_created_at":   nil,
			"credential_last_used_at": nil,
		}).Error
}

// AppendAuditRecord writes one immutable PaymentHistory row
func (s *Store) AppendAuditRecord(rec *PaymentHistory) error {
	if rec.PaidAt.IsZero() {
		rec.PaidAt = time.Now()
	}
	return s.db.Create(rec).Error
}

// FindDueSubscriptions returns active subscriptions with a stored credential
// and no completed payment within the last hour. Interval bookkeeping beyond
// that is handled by the caller that schedules batches.
func (s *Store) FindDueSubscriptions() ([]Subscription, error) {
	var subs []Subscription

	cutoff := time.Now().Add(-1 * time.Hour)
	result := s.db.
		Where("status = ? AND nwc_credential <> ''", SubscriptionStatusActive).
		Where("id NOT IN (?)", s.db.Model(&PaymentHistory{}).
			Select("subscription_id").
			Where("status = ? AND paid_at > ?", string(StatusCompleted), cutoff)).
		Find(&subs)
	if result.Error != nil {
		return nil, result.Error
	}

	return subs, nil
}

// CreateShop inserts a shop record
func (s *Store) CreateShop(shop *Shop) error {
	return s.db.Create(shop).Error
}

// CreateServer inserts a server record
func (s *Store) CreateServer(server *Server) error {
	return s.db.Create(server).Error
}

// CreateSubscription inserts a subscription record
func (s *Store) CreateSubscription(sub *Subscription) error {
	return s.db.Create(sub).Error
}

// PaymentHistoryForSubscription returns the audit trail for one subscription,
// newest first
func (s *Store) PaymentHistoryForSubscription(subscriptionID uint, limit int) ([]PaymentHistory, error) {
	var records []PaymentHistory

	result := s.db.Where("subscription_id = ?", subscriptionID).
		Order("paid_at DESC").
		Limit(limit).
		Find(&records)
	if result.Error != nil {
		return nil, result.Error
	}

	return records, nil
}
