// Package counterdumper contains a counter that periodically reports its value.
package counterdumper

import (
	"sync/atomic"
	"time"
)

// CounterDumper accumulates a value and periodically invokes OnReport
// with the amount accumulated since the previous report.
// Zero values are never reported.
type CounterDumper struct {
	// Report period. When zero, the value is reported only by Stop.
	Period   time.Duration
	OnReport func(v uint64)

	counter atomic.Uint64

	terminate chan struct{}
	done      chan struct{}
}

// Start starts the counter.
func (c *CounterDumper) Start() {
	c.terminate = make(chan struct{})
	c.done = make(chan struct{})

	go c.run()
}

// Stop stops the counter and reports what is left.
func (c *CounterDumper) Stop() {
	close(c.terminate)
	<-c.done
	c.report()
}

// Add adds value to the counter.
func (c *CounterDumper) Add(v uint64) {
	c.counter.Add(v)
}

func (c *CounterDumper) report() {
	v := c.counter.Swap(0)
	if v != 0 {
		c.OnReport(v)
	}
}

func (c *CounterDumper) run() {
	defer close(c.done)

	if c.Period <= 0 {
		<-c.terminate
		return
	}

	t := time.NewTicker(c.Period)
	defer t.Stop()

	for {
		select {
		case <-c.terminate:
			return

		case <-t.C:
			c.report()
		}
	}
}
