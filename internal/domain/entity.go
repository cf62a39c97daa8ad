package domain

import (
	"time"
)

// KVEntry is a row of the durable key/value table
type KVEntry struct {
	Key       string    `gorm:"primaryKey" json:"key"`
	Value     string    `json:"value"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName pins the gorm table name
func (KVEntry) TableName() string {
	return "kv_entries"
}
