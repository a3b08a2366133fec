package users

import (
	"strings"
	"time"
)

// User is a participant known to this deployment: the opaque
// provider-issued identifier, a display name for invite lists, and the
// online flag the sync gateway's presence channel maintains.
type User struct {
	UserID      string    `gorm:"column:user_id;primaryKey;size:190;not null"`
	DisplayName string    `gorm:"column:display_name;size:320"`
	Online      bool      `gorm:"column:online;not null;default:false"`
	LastSeenAt  time.Time `gorm:"column:last_seen_at;autoUpdateTime"`
	CreatedAt   time.Time `gorm:"column:created_at;autoCreateTime"`
}

// TableName exposes the table backing user records.
func (User) TableName() string {
	return "users"
}

func normalize(value string) string {
	return strings.TrimSpace(value)
}
