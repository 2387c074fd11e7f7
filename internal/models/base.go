package models

import "time"

// BaseModel is embedded by every mutable entity. Ids are numeric so they
// can appear directly in route paths.
type BaseModel struct {
	ID        uint      `json:"id" gorm:"primaryKey;autoIncrement"`
	CreatedAt time.Time `json:"createdAt" gorm:"not null;index"`
	UpdatedAt time.Time `json:"updatedAt"`
}
