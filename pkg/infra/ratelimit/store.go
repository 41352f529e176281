package ratelimit

import (
	"context"
	"fmt"
	"time"
)

const keyPattern = "ratelimit:%s:%s:%d"

// Key identifies one counter: a client on a route within a fixed window.
type Key struct {
	Client string
	Route  string
	Window time.Duration
}

func (k Key) String() string {
	return fmt.Sprintf(keyPattern, k.Client, k.Route, k.Window.Milliseconds())
}

// Counter is the value after an increment. TTL is the time left in the window.
type Counter struct {
	Count int64
	TTL   time.Duration
}

//go:generate mockery --name=CounterStore --dir=. --output=../../../mocks --filename=counter_store_mock.go --case=underscore --with-expecter
type CounterStore interface {
	Increment(ctx context.Context, key Key) (Counter, error)
}
