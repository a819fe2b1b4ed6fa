package domain

import "time"

// Service types a caller can request. Stored lowercase like the menu keys
// map them (1=shelter, 2=food, 3=transport).
const (
	ServiceShelter   = "shelter"
	ServiceFood      = "food"
	ServiceTransport = "transport"
)

// ValidServiceType reports whether t is one of the known service types.
func ValidServiceType(t string) bool {
	switch t {
	case ServiceShelter, ServiceFood, ServiceTransport:
		return true
	}
	return false
}

// Resource 救援资源领域模型（对应 resources 表）
// Capacity is the single source of truth for allocation: available_capacity
// is only ever decremented through the atomic reserve and incremented
// through an explicit release.
type Resource struct {
	// 主键
	ResourceID string `db:"resource_id"` // UUID, PRIMARY KEY

	ProviderID string `db:"provider_id"` // UUID
	Name       string `db:"name"`        // VARCHAR(200)
	Type       string `db:"resource_type"`

	// Location is the provider's free-text place token; Region is a wider
	// provider-tagged area used as a match fallback.
	Location string `db:"location"` // VARCHAR(200)
	Region   string `db:"region"`   // VARCHAR(200), nullable

	TotalCapacity     int `db:"total_capacity"`
	AvailableCapacity int `db:"available_capacity"` // 0 <= available <= total

	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}
