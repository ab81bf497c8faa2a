package journal

import (
	"time"

	"gorm.io/datatypes"
)

// PositionRecord is one published device position.
type PositionRecord struct {
	ID         uint      `gorm:"primarykey"`
	DeviceID   string    `gorm:"index"`
	Latitude   float64   `json:"latitude"`
	Longitude  float64   `json:"longitude"`
	AccuracyM  float32   `json:"accuracyM"`
	AltitudeM  *float64  `json:"altitudeM"`
	SpeedMS    *float32  `json:"speedMs"`
	Motion     string    `json:"motion"`
	CapturedAt time.Time `json:"capturedAt" gorm:"index"`
	CreatedAt  time.Time
}

// MarkerEvent is one change to the peer marker layer.
type MarkerEvent struct {
	ID          uint   `gorm:"primarykey"`
	PeerID      string `gorm:"index"`
	DisplayName string
	Kind        string `gorm:"index"` // upsert or remove
	Latitude    float64
	Longitude   float64
	Attrs       datatypes.JSON
	CreatedAt   time.Time `gorm:"index"`
}

// PolicyChange is one committed sampling policy transition.
type PolicyChange struct {
	ID         uint `gorm:"primarykey"`
	Priority   string
	IntervalMs int64
	Motion     string
	BatteryPct int
	Charging   bool
	CreatedAt  time.Time `gorm:"index"`
}

// SharingTransition is one sharing state machine transition.
type SharingTransition struct {
	ID        uint `gorm:"primarykey"`
	Status    string
	Detail    string
	CreatedAt time.Time `gorm:"index"`
}

// DatabaseModels lists every journaled table for migration.
var DatabaseModels = []any{
	&PositionRecord{},
	&MarkerEvent{},
	&PolicyChange{},
	&SharingTransition{},
}
