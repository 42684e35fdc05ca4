package service

import (
	"sync"
	"time"
)

// Scheduler runs callbacks on a fixed interval. The session registers the
// countdown tick and the price poll separately so the two can run at
// different rates.
type Scheduler interface {
	// ScheduleRepeating calls fn every interval until cancel is called. After
	// cancel returns no new invocation starts; one already running may finish.
	ScheduleRepeating(interval time.Duration, fn func()) (cancel func())
}

// TickerScheduler implements Scheduler with one time.Ticker goroutine per
// registration.
type TickerScheduler struct{}

// ScheduleRepeating starts a ticker goroutine for fn.
func (TickerScheduler) ScheduleRepeating(interval time.Duration, fn func()) func() {
	ticker := time.NewTicker(interval)
	done := make(chan struct{})
	var once sync.Once

	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				select {
				case <-done:
					return
				default:
				}
				fn()
			}
		}
	}()

	return func() { once.Do(func() { close(done) }) }
}

var _ Scheduler = TickerScheduler{}
