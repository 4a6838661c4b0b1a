// Package models provides data model definitions for Sokoni Core.
package models

import (
	"database/sql/driver"
	"time"
)

// UUID is a wrapper around string for UUID v4 type safety.
type UUID string

// Value implements driver.Valuer for UUID.
func (u UUID) Value() (driver.Value, error) {
	return string(u), nil
}

// Scan implements sql.Scanner for UUID.
func (u *UUID) Scan(value interface{}) error {
	if value == nil {
		*u = ""
		return nil
	}
	switch v := value.(type) {
	case []byte:
		*u = UUID(v)
	case string:
		*u = UUID(v)
	}
	return nil
}

// String returns the string representation of the UUID.
func (u UUID) String() string {
	return string(u)
}

// Now returns the current time as nanoseconds since the Unix epoch.
// All persisted timestamps in Sokoni Core use this resolution so that
// queue ordering stays stable even for back-to-back enqueues.
func Now() int64 {
	return time.Now().UnixNano()
}
