package client

import "time"

// Clock abstracts wall-clock reads so session staleness and event timestamps
// are testable without sleeping.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }
