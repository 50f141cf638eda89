package sponsorship

import (
	"errors"
	"time"

	"github.com/nsmarket/sponsorhub/app/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Repository provides the DB operations used by the sponsorship service.
// All slot mutations are single-row conditional updates keyed by the
// provider's correlation ids, so concurrent webhook deliveries for the same
// slot can only race into harmless no-ops.
type Repository interface {
	CreateSlot(slot *models.SponsorSlot) error
	GetSlotBySessionID(sessionID string) (*models.SponsorSlot, error)
	HasSlotWithCustomerID(customerID string) (bool, error)
	ActivateSlotBySessionID(sessionID, customerID string) (int64, error)
	CancelSlotsByCustomerID(customerID string) (int64, error)
	ExtendSlotExpiry(customerID string, newExpiry time.Time) (int64, error)
	ListDisplayableSlots(now time.Time, limit int) ([]models.SponsorSlot, error)
	ExpireLapsedSlots(now time.Time) (int64, error)
	CreateWebhookEventIfNotExists(event *models.SponsorWebhookEvent) (bool, *models.SponsorWebhookEvent, error)
	MarkWebhookProcessed(id uint, processingError string) error
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository creates a sponsorship repository backed by GORM.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) CreateSlot(slot *models.SponsorSlot) error {
	return r.db.Create(slot).Error
}

func (r *gormRepository) GetSlotBySessionID(sessionID string) (*models.SponsorSlot, error) {
	var slot models.SponsorSlot
	err := r.db.Where("payment_session_id = ?", sessionID).First(&slot).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrSlotNotFound
	}
	if err != nil {
		return nil, err
	}
	return &slot, nil
}

func (r *gormRepository) HasSlotWithCustomerID(customerID string) (bool, error) {
	var count int64
	err := r.db.Model(&models.SponsorSlot{}).Where("customer_id = ?", customerID).Count(&count).Error
	return count > 0, err
}

// ActivateSlotBySessionID flips a pending slot to active and records the
// subscription customer. Re-applying to an already-active row is harmless;
// cancelled and expired rows are never resurrected.
func (r *gormRepository) ActivateSlotBySessionID(sessionID, customerID string) (int64, error) {
	tx := r.db.Model(&models.SponsorSlot{}).
		Where("payment_session_id = ? AND status IN ?", sessionID, []string{models.SlotStatusPending, models.SlotStatusActive}).
		Updates(map[string]interface{}{
			"status":      models.SlotStatusActive,
			"customer_id": customerID,
		})
	return tx.RowsAffected, tx.Error
}

func (r *gormRepository) CancelSlotsByCustomerID(customerID string) (int64, error) {
	tx := r.db.Model(&models.SponsorSlot{}).
		Where("customer_id = ? AND status <> ?", customerID, models.SlotStatusCancelled).
		Update("status", models.SlotStatusCancelled)
	return tx.RowsAffected, tx.Error
}

// ExtendSlotExpiry advances the paid-through date. The expires_at predicate
// is the non-regression guard: a stale or duplicate delivery whose computed
// expiry is not later than the stored one matches zero rows.
func (r *gormRepository) ExtendSlotExpiry(customerID string, newExpiry time.Time) (int64, error) {
	tx := r.db.Model(&models.SponsorSlot{}).
		Where("customer_id = ? AND status = ? AND expires_at < ?", customerID, models.SlotStatusActive, newExpiry).
		Update("expires_at", newExpiry)
	return tx.RowsAffected, tx.Error
}

func (r *gormRepository) ListDisplayableSlots(now time.Time, limit int) ([]models.SponsorSlot, error) {
	var slots []models.SponsorSlot
	err := r.db.
		Where("status = ? AND expires_at > ?", models.SlotStatusActive, now).
		Order("pixels_width * pixels_height DESC").
		Limit(limit).
		Find(&slots).Error
	return slots, err
}

func (r *gormRepository) ExpireLapsedSlots(now time.Time) (int64, error) {
	tx := r.db.Model(&models.SponsorSlot{}).
		Where("status = ? AND expires_at < ?", models.SlotStatusActive, now).
		Update("status", models.SlotStatusExpired)
	return tx.RowsAffected, tx.Error
}

func (r *gormRepository) CreateWebhookEventIfNotExists(event *models.SponsorWebhookEvent) (bool, *models.SponsorWebhookEvent, error) {
	tx := r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "provider"},
			{Name: "provider_event_id"},
		},
		DoNothing: true,
	}).Create(event)
	if tx.Error != nil {
		return false, nil, tx.Error
	}

	created := tx.RowsAffected > 0
	var stored models.SponsorWebhookEvent
	if err := r.db.Where("provider = ? AND provider_event_id = ?", event.Provider, event.ProviderEventID).
		First(&stored).Error; err != nil {
		return false, nil, err
	}
	return created, &stored, nil
}

func (r *gormRepository) MarkWebhookProcessed(id uint, processingError string) error {
	now := time.Now()
	updates := map[string]interface{}{
		"processed_at":     &now,
		"processing_error": processingError,
	}
	return r.db.Model(&models.SponsorWebhookEvent{}).Where("id = ?", id).Updates(updates).Error
}
