package chat

import (
	"crypto/rand"
	"time"

	"github.com/oklog/ulid/v2"
)

// NewID returns a new ULID string (26 chars) for chats and messages.
// ULIDs are lexicographically sortable, which makes the id tie-break of the
// display ordering key agree with insertion time at equal timestamps.
func NewID(now time.Time) (string, error) {
	if now.IsZero() {
		now = time.Now().UTC()
	}

	id, err := ulid.New(ulid.Timestamp(now), rand.Reader)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}
