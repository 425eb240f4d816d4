package session

import (
	"time"

	"github.com/google/uuid"

	"github.com/seroze/fixengine/pkg/fixtag"
)

// Clock abstracts wall-clock reads so tests can pin SendingTime values
// instead of racing real time.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock is the production Clock, backed by time.Now.
var SystemClock Clock = systemClock{}

// FormatSendingTime renders t as the wire format tag 52 requires.
func FormatSendingTime(t time.Time) string {
	return t.UTC().Format(fixtag.SendingTimeLayout)
}

// NewTestReqID returns a unique value for TestReqID(112). TestRequest is
// sent rarely enough that a UUID's cost is irrelevant and its uniqueness is
// the simplest correct way to pair a request with its answering Heartbeat.
func NewTestReqID() string {
	return uuid.NewString()
}
