package sponsorship

// Slot tier identifiers. The set is fixed; pricing is quadratic-ish in pixel
// area so larger slots get disproportionately more expensive.
const (
	TierSmall  = "small"
	TierMedium = "medium"
	TierLarge  = "large"
	TierXLarge = "xlarge"
)

// SlotTier describes one purchasable slot size. Tiers are compiled-in
// configuration, not persisted; slots snapshot these values at creation.
type SlotTier struct {
	ID                string
	Label             string
	PixelsWidth       int
	PixelsHeight      int
	MonthlyPriceCents int64
}

var slotTiers = []SlotTier{
	{ID: TierSmall, Label: "Small", PixelsWidth: 120, PixelsHeight: 60, MonthlyPriceCents: 10000},
	{ID: TierMedium, Label: "Medium", PixelsWidth: 180, PixelsHeight: 90, MonthlyPriceCents: 22500},
	{ID: TierLarge, Label: "Large", PixelsWidth: 240, PixelsHeight: 120, MonthlyPriceCents: 40000},
	{ID: TierXLarge, Label: "X-Large", PixelsWidth: 300, PixelsHeight: 150, MonthlyPriceCents: 62500},
}

// PixelArea returns the tier's display footprint in pixels.
func (t SlotTier) PixelArea() int {
	return t.PixelsWidth * t.PixelsHeight
}

// TierByID resolves a tier identifier to its catalog entry.
func TierByID(id string) (SlotTier, error) {
	for _, t := range slotTiers {
		if t.ID == id {
			return t, nil
		}
	}
	return SlotTier{}, ErrUnknownTier
}

// Tiers returns all purchasable tiers in ascending size order.
func Tiers() []SlotTier {
	out := make([]SlotTier, len(slotTiers))
	copy(out, slotTiers)
	return out
}
