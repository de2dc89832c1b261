/*
 * @Author: Marlon.M
 * @Email: maiguangyang@163.com
 * @Date: 2026-01-15
 *
 * Duration Timer
 * 1 秒 tick 只用于刷新界面；时长始终按 now - connectedAt 计算，
 * 丢失的 tick 不会导致少计
 */
package call

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// DurationTimer measures a connected call
type DurationTimer struct {
	clock    clock.Clock
	interval time.Duration

	mu          sync.Mutex
	connectedAt time.Time
	ticker      *clock.Ticker
	stop        chan struct{}
}

// NewDurationTimer creates a stopped timer
func NewDurationTimer(clk clock.Clock, interval time.Duration) *DurationTimer {
	if clk == nil {
		clk = clock.New()
	}
	if interval <= 0 {
		interval = time.Second
	}
	return &DurationTimer{clock: clk, interval: interval}
}

// Start records connectedAt and calls onTick every interval until Stop.
// Starting a running timer restarts it.
func (d *DurationTimer) Start(onTick func()) time.Time {
	d.Stop()

	d.mu.Lock()
	defer d.mu.Unlock()

	d.connectedAt = d.clock.Now()
	d.ticker = d.clock.Ticker(d.interval)
	d.stop = make(chan struct{})

	go func(c <-chan time.Time, stop <-chan struct{}) {
		for {
			select {
			case <-stop:
				return
			case <-c:
				if onTick != nil {
					onTick()
				}
			}
		}
	}(d.ticker.C, d.stop)

	return d.connectedAt
}

// Running reports whether the timer has been started and not stopped
func (d *DurationTimer) Running() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.ticker != nil
}

// Elapsed returns whole seconds since Start, 0 when stopped
func (d *DurationTimer) Elapsed() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.ticker == nil {
		return 0
	}
	return seconds(d.clock.Now().Sub(d.connectedAt))
}

// Stop halts the ticks and returns the authoritative elapsed seconds.
// Stopping a stopped timer returns 0.
func (d *DurationTimer) Stop() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.ticker == nil {
		return 0
	}

	elapsed := seconds(d.clock.Now().Sub(d.connectedAt))
	d.ticker.Stop()
	close(d.stop)
	d.ticker = nil
	d.stop = nil
	return elapsed
}

func seconds(d time.Duration) int {
	if d < 0 {
		return 0
	}
	return int(d / time.Second)
}
