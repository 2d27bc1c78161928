package bunx

import "github.com/google/uuid"

// NewUUIDv7 generates a time-ordered UUIDv7 string. It is used for session
// credential IDs and request correlation, where sortable IDs help when
// reading logs.
//
// Panics only if the system entropy source fails.
func NewUUIDv7() string {
	return uuid.Must(uuid.NewV7()).String()
}
