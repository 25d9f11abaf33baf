package postgresadapter

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// SystemClock reads the wall clock; ballot deadlines are stored as UTC instants.
type SystemClock struct{}

func (SystemClock) Now() time.Time {
	return time.Now().UTC()
}

// UUIDGenerator issues time-ordered UUIDv7 ids for ballots, vote records and
// audit rows.
type UUIDGenerator struct{}

func (UUIDGenerator) NewID(_ context.Context) (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}
