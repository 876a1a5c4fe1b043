// Package clock provides the tick source the countdown runs on. Production
// code uses Real; tests drive a Fake by hand.
package clock

import (
	"sync"
	"time"
)

// CancelFunc stops a recurring callback. It must be safe to call from inside
// the callback itself and more than once.
type CancelFunc func()

// Scheduler fires callbacks at a fixed cadence and reports the current time.
type Scheduler interface {
	Now() time.Time
	Every(interval time.Duration, fn func()) CancelFunc
}

// Real is a Scheduler backed by time.Ticker.
type Real struct{}

// NewReal returns the wall-clock scheduler.
func NewReal() Real { return Real{} }

func (Real) Now() time.Time { return time.Now() }

// Every runs fn on its own goroutine once per interval until cancelled.
func (Real) Every(interval time.Duration, fn func()) CancelFunc {
	stop := make(chan struct{})
	var once sync.Once

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				select {
				case <-stop:
					return
				default:
				}
				fn()
			case <-stop:
				return
			}
		}
	}()

	return func() { once.Do(func() { close(stop) }) }
}
