package utils

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

var (
	bidEntropyMu sync.Mutex
	bidEntropy   = ulid.Monotonic(rand.Reader, 0)
)

// GenerateID returns a new unique identifier string
func GenerateID() string {
	return uuid.New().String()
}

// GenerateBidID returns a ULID whose lexical order follows creation time
func GenerateBidID(t time.Time) string {
	bidEntropyMu.Lock()
	defer bidEntropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(t), bidEntropy).String()
}
