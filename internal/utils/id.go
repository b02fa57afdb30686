package utils

import (
	"crypto/rand"
	"encoding/hex"
	"strconv"
	"time"
)

// NewConnectionID returns a best-effort unique transport handle. Call
// and event IDs use UUIDs; connection IDs only need to be unique within
// one process lifetime, so a short random hex string is enough.
func NewConnectionID() string {
	const size = 12

	buf := make([]byte, size)
	if _, err := rand.Read(buf); err == nil {
		return hex.EncodeToString(buf)
	}

	// Fallback to timestamp if crypto/rand is unavailable.
	return strconv.FormatInt(time.Now().UnixNano(), 10)
}
