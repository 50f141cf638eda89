package models

import "time"

// Sponsor slot lifecycle states. A slot is created as pending when checkout
// starts, activated by the payment provider's confirmation webhook, cancelled
// when the subscription ends and expired by the background sweep once the
// paid-through date has passed without a renewal.
const (
	SlotStatusPending   = "pending"
	SlotStatusActive    = "active"
	SlotStatusCancelled = "cancelled"
	SlotStatusExpired   = "expired"
)

// SponsorSlot is a purchased advertising placement. Tier dimensions and price
// are snapshotted at creation so later changes to the tier catalog never
// affect historical records.
type SponsorSlot struct {
	ID               uint      `gorm:"primaryKey" json:"-"`
	PublicID         string    `gorm:"type:varchar(36);not null;uniqueIndex" json:"id"`
	CompanyName      string    `gorm:"type:varchar(150);not null" json:"company_name"`
	WebsiteURL       string    `gorm:"type:varchar(255);not null" json:"website_url"`
	ContactEmail     string    `gorm:"type:varchar(200);not null" json:"-"`
	LogoURL          string    `gorm:"type:varchar(255);not null" json:"logo_url"`
	SlotSize         string    `gorm:"type:varchar(16);not null" json:"slot_size"`
	PixelsWidth      int       `gorm:"not null" json:"pixels_width"`
	PixelsHeight     int       `gorm:"not null" json:"pixels_height"`
	AmountPaidCents  int64     `gorm:"not null" json:"-"`
	PaymentSessionID string    `gorm:"type:varchar(191);not null;uniqueIndex" json:"-"`
	CustomerID       *string   `gorm:"type:varchar(191);default:null;index" json:"-"`
	Status           string    `gorm:"type:varchar(16);not null;default:'pending';index:idx_sponsor_slots_status_expires,priority:1" json:"-"`
	StartsAt         time.Time `gorm:"type:timestamp;not null" json:"-"`
	ExpiresAt        time.Time `gorm:"type:timestamp;not null;index:idx_sponsor_slots_status_expires,priority:2" json:"-"`
	Impressions      int64     `gorm:"not null;default:0" json:"impressions"`
	Clicks           int64     `gorm:"not null;default:0" json:"clicks"`
	CreatedAt        time.Time `gorm:"autoCreateTime" json:"-"`
	UpdatedAt        time.Time `gorm:"autoUpdateTime" json:"-"`
}

// PixelArea is the display footprint used to rank slots (price scales with
// area, so bigger buyers are shown first).
func (s *SponsorSlot) PixelArea() int {
	return s.PixelsWidth * s.PixelsHeight
}

// IsDisplayable reports whether the slot may appear in the public sponsor
// feed at the given time.
func (s *SponsorSlot) IsDisplayable(now time.Time) bool {
	return s.Status == SlotStatusActive && s.ExpiresAt.After(now)
}
