package golem

import (
	"time"

	"github.com/google/uuid"
)

// NewID generates a globally unique, time-sortable UUIDv7 (RFC 9562).
func NewID() string {
	return uuid.Must(uuid.NewV7()).String()
}

// NowUnix returns current time as Unix seconds.
func NowUnix() int64 {
	return time.Now().Unix()
}

// NowMillis returns current time as Unix milliseconds, the unit stored
// variables and expression timestamps use.
func NowMillis() int64 {
	return time.Now().UnixMilli()
}
