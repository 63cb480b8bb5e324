package heartbeat

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fakeClock only moves when Advance is called.
type fakeClock struct {
	mu       sync.Mutex
	now      time.Time
	sleepers []*sleeper
	slept    []time.Duration
}

type sleeper struct {
	until time.Time
	wake  chan struct{}
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(d time.Duration) {
	c.mu.Lock()
	s := &sleeper{until: c.now.Add(d), wake: make(chan struct{})}
	c.sleepers = append(c.sleepers, s)
	c.slept = append(c.slept, d)
	c.mu.Unlock()

	<-s.wake
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.now = c.now.Add(d)
	pending := c.sleepers[:0]
	for _, s := range c.sleepers {
		if c.now.Before(s.until) {
			pending = append(pending, s)
			continue
		}
		close(s.wake)
	}
	c.sleepers = pending
}

func (c *fakeClock) Sleepers() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sleepers)
}

func (c *fakeClock) Slept() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]time.Duration, len(c.slept))
	copy(out, c.slept)
	return out
}

// waitSleeping blocks until n goroutines are parked in Sleep.
func waitSleeping(t *testing.T, c *fakeClock, n int) {
	t.Helper()
	require.Eventually(t, func() bool {
		return c.Sleepers() == n
	}, 2*time.Second, time.Millisecond)
}

// advanceSeconds moves the clock one second at a time, letting the loop
// settle back into Sleep before every step.
func advanceSeconds(t *testing.T, c *fakeClock, seconds int) {
	t.Helper()
	for i := 0; i < seconds; i++ {
		waitSleeping(t, c, 1)
		c.Advance(time.Second)
	}
	waitSleeping(t, c, 1)
}

// stubOperation returns tx1, tx2, ... and can fail or block on chosen calls.
type stubOperation struct {
	mu        sync.Mutex
	calls     int
	failOn    map[int]error
	panicOn   int
	delay     time.Duration
	started   chan int
	release   chan struct{}
	endpoints []string
}

func (o *stubOperation) Execute(ctx context.Context, endpoint string) (string, error) {
	o.mu.Lock()
	o.calls++
	n := o.calls
	o.endpoints = append(o.endpoints, endpoint)
	err := o.failOn[n]
	panicNow := o.panicOn == n
	o.mu.Unlock()

	if o.started != nil {
		o.started <- n
	}
	if o.release != nil {
		<-o.release
	}
	if o.delay > 0 {
		time.Sleep(o.delay)
	}
	if panicNow {
		panic("operation exploded")
	}
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("tx%d", n), nil
}

func (o *stubOperation) Calls() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.calls
}

type memoryRecorder struct {
	mu       sync.Mutex
	attempts []Attempt
	err      error
}

func (r *memoryRecorder) Record(ctx context.Context, a Attempt) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.attempts = append(r.attempts, a)
	return r.err
}

func (r *memoryRecorder) Attempts() []Attempt {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Attempt, len(r.attempts))
	copy(out, r.attempts)
	return out
}
