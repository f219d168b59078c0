package services

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// Failure classes coordinators distinguish. Integration clients wrap these
// so the cause survives (errors.Wrap).
var (
	ErrAuthFailed    = errors.New("authentication failed")
	ErrCannotConnect = errors.New("cannot connect")
)

// UpdateFunc fetches fresh data for a Coordinator.
type UpdateFunc func(ctx context.Context) (interface{}, error)

// Coordinator centralizes polling for the entities of a config entry. One
// fetch feeds any number of listeners, and listeners are only notified when
// the fetched data or health actually changes.
type Coordinator struct {
	name     string
	interval time.Duration
	update   UpdateFunc

	refreshMu sync.Mutex // serializes Refresh and listener callbacks

	mu          sync.Mutex
	data        interface{}
	healthy     bool
	lastSuccess time.Time
	lastHash    uint32
	failures    int
	listeners   []func()
	authFailed  func()
}

func NewCoordinator(name string, interval time.Duration, update UpdateFunc) *Coordinator {
	return &Coordinator{name: name, interval: interval, update: update}
}

// AddListener registers fn, called after a refresh changes data or health.
func (c *Coordinator) AddListener(fn func()) {
	c.mu.Lock()
	c.listeners = append(c.listeners, fn)
	c.mu.Unlock()
}

// OnAuthFailure registers fn, called when a refresh fails authentication.
func (c *Coordinator) OnAuthFailure(fn func()) {
	c.mu.Lock()
	c.authFailed = fn
	c.mu.Unlock()
}

func (c *Coordinator) Data() interface{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.data
}

func (c *Coordinator) Healthy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.healthy
}

func (c *Coordinator) LastSuccess() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastSuccess
}

// Refresh performs a single fetch and classifies any failure.
func (c *Coordinator) Refresh(ctx context.Context) error {
	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()

	data, err := c.update(ctx)

	c.mu.Lock()
	changed := false
	var notifyAuth func()
	if err != nil {
		c.failures++
		if c.healthy {
			c.healthy = false
			changed = true
		}
		switch errors.Cause(err) {
		case ErrAuthFailed:
			log.Printf("%s: authentication failed: %s", c.name, err)
			notifyAuth = c.authFailed
		case ErrCannotConnect:
			log.Printf("%s: connection failed: %s", c.name, err)
		default:
			log.Printf("%s: update failed: %s", c.name, err)
		}
	} else {
		c.failures = 0
		sum, sumOk := hashData(data)
		if !c.healthy || !sumOk || sum != c.lastHash {
			changed = true
		}
		c.healthy = true
		c.lastHash = sum
		c.data = data
		c.lastSuccess = time.Now()
	}
	listeners := c.listeners
	c.mu.Unlock()

	if notifyAuth != nil {
		notifyAuth()
	}
	if changed {
		for _, fn := range listeners {
			fn()
		}
	}
	return err
}

// FirstRefresh is the setup time fetch: a failure here fails the config
// entry setup.
func (c *Coordinator) FirstRefresh(ctx context.Context) error {
	return c.Refresh(ctx)
}

// Run polls until ctx is cancelled. Consecutive failures back the interval
// off (doubling, capped at 10x).
func (c *Coordinator) Run(ctx context.Context) {
	if c.LastSuccess().IsZero() {
		c.Refresh(ctx)
	}
	for {
		select {
		case <-time.After(c.nextInterval()):
			c.Refresh(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (c *Coordinator) nextInterval() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	interval := c.interval
	for i := 0; i < c.failures && interval < 10*c.interval; i++ {
		interval *= 2
	}
	if interval > 10*c.interval {
		interval = 10 * c.interval
	}
	return interval
}

func hashData(data interface{}) (uint32, bool) {
	value, err := json.Marshal(data)
	if err != nil {
		return 0, false
	}
	return hash(value), true
}
