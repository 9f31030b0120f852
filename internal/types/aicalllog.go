package types

import (
	"time"

	"github.com/google/uuid"
)

// AICallLog records one outbound chat-completion round trip.
type AICallLog struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	Operation string    `gorm:"column:operation;not null;index" json:"operation"` // diagnose|prescribe|question|knowledge
	Model     string    `gorm:"column:model;not null" json:"model"`
	Status    string    `gorm:"column:status;not null;index" json:"status"` // ok or an apierr code
	LatencyMS int64     `gorm:"column:latency_ms;not null" json:"latency_ms"`
	CreatedAt time.Time `gorm:"not null;index" json:"created_at"`
}

func (AICallLog) TableName() string { return "ai_call_log" }
