// Package timer provides restartable periodic tick producers. Each firing
// runs a short callback on the timer goroutine, which stands in for a
// hardware timer interrupt.
package timer

import (
	"errors"
	"sync"
	"time"
)

// ErrInvalidPeriod is returned by Start for a non-positive period.
var ErrInvalidPeriod = errors.New("timer: period must be positive")

// Periodic calls fn every period between Start and Stop.
type Periodic struct {
	period time.Duration
	fn     func()
	reset  func()

	mu   sync.Mutex
	stop chan struct{}
	done chan struct{}
}

// NewPeriodic creates a stopped timer.
func NewPeriodic(period time.Duration, fn func()) *Periodic {
	return &Periodic{period: period, fn: fn}
}

// OnStart sets a callback run by every Start that launches the timer,
// before the first firing. It clears state the callbacks accumulate.
func (p *Periodic) OnStart(reset func()) *Periodic {
	p.reset = reset
	return p
}

// Start begins firing. Starting a running timer is a no-op.
func (p *Periodic) Start() error {
	if p.period <= 0 {
		return ErrInvalidPeriod
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stop != nil {
		return nil
	}
	if p.reset != nil {
		p.reset()
	}
	p.stop = make(chan struct{})
	p.done = make(chan struct{})
	go p.run(p.stop, p.done)
	return nil
}

func (p *Periodic) run(stop, done chan struct{}) {
	defer close(done)
	t := time.NewTicker(p.period)
	defer t.Stop()
	for {
		select {
		case <-stop:
			return
		case <-t.C:
			p.fn()
		}
	}
}

// Stop halts firing and waits for the timer goroutine to exit, so no
// callback runs after Stop returns. Stopping a stopped timer is a no-op.
func (p *Periodic) Stop() error {
	p.mu.Lock()
	stop, done := p.stop, p.done
	p.stop, p.done = nil, nil
	p.mu.Unlock()
	if stop == nil {
		return nil
	}
	close(stop)
	<-done
	return nil
}

// Running reports whether the timer is started.
func (p *Periodic) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stop != nil
}
