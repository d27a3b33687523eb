package types

import (
	"time"
)

// UserPresence is the relay's view of a user: who they are, whether a
// live connection is currently bound to them, and when they were last
// seen. Entries are retained after disconnect for last-seen lookups.
type UserPresence struct {
	UserId   string    `json:"userId"`
	UserName string    `json:"userName"`
	Online   bool      `json:"online"`
	LastSeen time.Time `json:"lastSeen"`
}
